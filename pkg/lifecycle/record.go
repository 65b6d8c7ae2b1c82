// Package lifecycle orchestrates the life of a span between its entry and
// exit interception events: parent resolution, identifier generation,
// sampling, tracking, and hand-off of the finished record to a sink.
package lifecycle

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/o11ykit/autotrace/pkg/spancontext"
)

// Status is the outcome recorded on a finished span.
type Status struct {
	Code        codes.Code
	Description string
}

// Record is one finished (or in-flight) span as handed to the sink.
// SpanContext is always populated; Parent is the zero sentinel for roots.
type Record struct {
	// Scope names the adapter that produced the record, used as the
	// instrumentation scope on export.
	Scope string

	Name string
	Kind trace.SpanKind

	StartTime time.Time
	EndTime   time.Time

	SpanContext spancontext.SpanContext
	Parent      spancontext.SpanContext
	// ParentRemote reports whether Parent was extracted from an inbound
	// carrier rather than found locally.
	ParentRemote bool

	Attributes []attribute.KeyValue
	Status     Status
}
