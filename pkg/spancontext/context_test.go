package spancontext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestZeroSentinel(t *testing.T) {
	var sc SpanContext
	assert.True(t, sc.IsZero())
	assert.False(t, sc.IsSampled())

	sc = NewRoot()
	assert.False(t, sc.IsZero())
}

func TestNewRoot_FreshIdentifiers(t *testing.T) {
	a := NewRoot()
	b := NewRoot()

	assert.False(t, a.TraceID.IsZero())
	assert.False(t, a.SpanID.IsZero())
	assert.NotEqual(t, a.TraceID, b.TraceID)
	assert.NotEqual(t, a.SpanID, b.SpanID)
	assert.Zero(t, a.TraceFlags)
}

func TestNewChild_InheritsTraceIdentity(t *testing.T) {
	parent := NewRoot().WithSampled(true)
	child := NewChild(parent)

	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.NotEqual(t, parent.SpanID, child.SpanID)
	assert.Equal(t, parent.TraceFlags, child.TraceFlags)
}

func TestWithSampled(t *testing.T) {
	sc := NewRoot()
	sc.TraceFlags = 0xf0

	sampled := sc.WithSampled(true)
	assert.True(t, sampled.IsSampled())
	assert.Equal(t, byte(0xf1), sampled.TraceFlags)

	cleared := sampled.WithSampled(false)
	assert.False(t, cleared.IsSampled())
	assert.Equal(t, byte(0xf0), cleared.TraceFlags)
}

func TestOTelConversion_RoundTrip(t *testing.T) {
	sc := NewRoot().WithSampled(true)

	o := sc.OTel()
	require.True(t, o.IsValid())
	assert.Equal(t, trace.TraceID(sc.TraceID), o.TraceID())
	assert.Equal(t, trace.SpanID(sc.SpanID), o.SpanID())
	assert.True(t, o.IsSampled())

	assert.Equal(t, sc, FromOTel(o))
}
