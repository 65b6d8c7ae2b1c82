package lifecycle

import (
	"context"
)

// Sink consumes finished span records. Implementations must tolerate
// concurrent calls; the engine never retries a failed hand-off.
type Sink interface {
	Handle(ctx context.Context, rec Record) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, rec Record) error

// Handle calls f.
func (f SinkFunc) Handle(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}

// noopSink discards every record. Default when no sink is configured.
type noopSink struct{}

func (noopSink) Handle(context.Context, Record) error {
	return nil
}

// NewNoopSink returns a sink that discards everything.
func NewNoopSink() Sink {
	return noopSink{}
}

// ChannelSink buffers records on a channel, dropping when the buffer is
// full. Intended for tests and for decoupled consumers.
type ChannelSink struct {
	ch chan Record
}

// NewChannelSink returns a sink buffering up to size records.
func NewChannelSink(size int) *ChannelSink {
	return &ChannelSink{ch: make(chan Record, size)}
}

// Handle enqueues rec, dropping it when the buffer is full.
func (s *ChannelSink) Handle(_ context.Context, rec Record) error {
	select {
	case s.ch <- rec:
	default:
	}
	return nil
}

// Records exposes the buffered records.
func (s *ChannelSink) Records() <-chan Record {
	return s.ch
}
