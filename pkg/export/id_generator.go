package export

import (
	"context"
	"math/rand/v2"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/o11ykit/autotrace/pkg/lifecycle"
)

type recordKey struct{}

// contextWithRecord stores rec so the id generator can recover the
// engine-assigned identifiers when the SDK starts the exported span.
func contextWithRecord(parent context.Context, rec lifecycle.Record) context.Context {
	return context.WithValue(parent, recordKey{}, rec)
}

// recordFromContext returns the record stored in ctx, if any.
func recordFromContext(ctx context.Context) (lifecycle.Record, bool) {
	rec, ok := ctx.Value(recordKey{}).(lifecycle.Record)
	return rec, ok
}

// recordIDGenerator makes the SDK reuse the identifiers the correlation
// engine already generated, so the exported span matches what was propagated
// on the wire. Spans started outside a record context fall back to random
// ids.
type recordIDGenerator struct{}

var _ sdktrace.IDGenerator = recordIDGenerator{}

// NewRecordIDGenerator returns the id generator to install on any
// TracerProvider that exports engine records.
func NewRecordIDGenerator() sdktrace.IDGenerator {
	return recordIDGenerator{}
}

func (recordIDGenerator) NewIDs(ctx context.Context) (trace.TraceID, trace.SpanID) {
	if rec, ok := recordFromContext(ctx); ok && !rec.SpanContext.IsZero() {
		return trace.TraceID(rec.SpanContext.TraceID), trace.SpanID(rec.SpanContext.SpanID)
	}
	return randomTraceID(), randomSpanID()
}

func (recordIDGenerator) NewSpanID(ctx context.Context, _ trace.TraceID) trace.SpanID {
	if rec, ok := recordFromContext(ctx); ok && !rec.SpanContext.SpanID.IsZero() {
		return trace.SpanID(rec.SpanContext.SpanID)
	}
	return randomSpanID()
}

func randomTraceID() trace.TraceID {
	var id trace.TraceID
	for i := range id {
		id[i] = byte(rand.Uint32())
	}
	return id
}

func randomSpanID() trace.SpanID {
	var id trace.SpanID
	for i := range id {
		id[i] = byte(rand.Uint32())
	}
	return id
}
