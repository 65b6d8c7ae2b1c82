// Package spancontext defines the span context value type shared by the
// correlation, sampling and propagation layers, together with its wire
// encoding and identifier generation.
package spancontext

import (
	"go.opentelemetry.io/otel/trace"
)

const (
	// TraceIDSize is the size of a trace identifier in bytes.
	TraceIDSize = 16
	// SpanIDSize is the size of a span identifier in bytes.
	SpanIDSize = 8

	// FlagSampled is the sampled bit of the trace flags.
	FlagSampled byte = 0x01
)

// TraceID identifies a whole trace. It is constant across every span of the
// trace.
type TraceID [TraceIDSize]byte

// SpanID identifies a single span within a trace.
type SpanID [SpanIDSize]byte

// IsZero reports whether the trace id is the all-zero sentinel.
func (t TraceID) IsZero() bool {
	return t == TraceID{}
}

// IsZero reports whether the span id is the all-zero sentinel.
func (s SpanID) IsZero() bool {
	return s == SpanID{}
}

// SpanContext carries the identity and sampling state of a span. It is a
// plain value: immutable once created and copied by value everywhere.
//
// The zero value is a reserved sentinel meaning "no context". Generated
// contexts are random-filled, so an all-zero id is a theoretical collision
// that is tolerated, not guarded against.
type SpanContext struct {
	TraceID    TraceID
	SpanID     SpanID
	TraceFlags byte
}

// IsZero reports whether sc is the "no context" sentinel.
func (sc SpanContext) IsZero() bool {
	return sc == SpanContext{}
}

// IsSampled reports whether the sampled bit is set.
func (sc SpanContext) IsSampled() bool {
	return sc.TraceFlags&FlagSampled == FlagSampled
}

// WithSampled returns a copy of sc with the sampled bit set or cleared,
// leaving the remaining flag bits untouched.
func (sc SpanContext) WithSampled(sampled bool) SpanContext {
	if sampled {
		sc.TraceFlags |= FlagSampled
	} else {
		sc.TraceFlags &^= FlagSampled
	}
	return sc
}

// OTel converts sc to an OpenTelemetry span context.
func (sc SpanContext) OTel() trace.SpanContext {
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID(sc.TraceID),
		SpanID:     trace.SpanID(sc.SpanID),
		TraceFlags: trace.TraceFlags(sc.TraceFlags),
	})
}

// FromOTel converts an OpenTelemetry span context to a SpanContext.
// The remote bit is not representable here; provenance is tracked by the
// lifecycle layer instead.
func FromOTel(o trace.SpanContext) SpanContext {
	return SpanContext{
		TraceID:    TraceID(o.TraceID()),
		SpanID:     SpanID(o.SpanID()),
		TraceFlags: byte(o.TraceFlags()),
	}
}

// NewRoot returns a fresh root span context with random identifiers.
// The sampled bit is left clear; the sampling engine sets it.
func NewRoot() SpanContext {
	return SpanContext{
		TraceID: NewTraceID(),
		SpanID:  NewSpanID(),
	}
}

// NewChild returns a child context of parent: same trace id, fresh span id,
// and the parent's trace flags carried forward as the baseline.
func NewChild(parent SpanContext) SpanContext {
	return SpanContext{
		TraceID:    parent.TraceID,
		SpanID:     NewSpanID(),
		TraceFlags: parent.TraceFlags,
	}
}
