package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/o11ykit/autotrace/pkg/correlation"
	"github.com/o11ykit/autotrace/pkg/sampling"
	"github.com/o11ykit/autotrace/pkg/spancontext"
)

// DefaultMaxPending bounds the pending-span table.
const DefaultMaxPending = 1000

// ParentResolver resolves a parent span context from somewhere other than
// the local tracking table, typically an inbound request carrier. When a
// resolver is supplied to StartSpan it takes precedence over the tracking
// table, and a parent it finds counts as remote.
type ParentResolver interface {
	ResolveParent() (spancontext.SpanContext, bool)
}

// ParentResolverFunc adapts a function to the ParentResolver interface.
type ParentResolverFunc func() (spancontext.SpanContext, bool)

// ResolveParent calls f.
func (f ParentResolverFunc) ResolveParent() (spancontext.SpanContext, bool) {
	return f()
}

// StartSpanParams carries everything an entry interception event supplies.
type StartSpanParams struct {
	// Scope names the adapter issuing the event.
	Scope string
	// Name is the span name.
	Name string
	// Kind is the OpenTelemetry span kind.
	Kind trace.SpanKind

	// Key is the correlation key derived from the captured frame.
	Key correlation.Key
	// Handle is the execution-context handle used for the parent-chain walk.
	// Usually the same value as Key; kept separate because some call sites
	// derive the key from a different slot than the context handle.
	Handle uint64

	// Resolver optionally supplies a remote parent. Tried first.
	Resolver ParentResolver

	// StartTime defaults to now.
	StartTime time.Time

	Attributes []attribute.KeyValue
}

// Engine owns the whole correlation state of one observed process: the
// tracking table, the sampler, the pending-span table and the sink. It is
// constructed once at startup and replaces what would otherwise be global
// mutable maps.
//
// Entry and exit events for different correlation keys may be delivered
// concurrently; every engine operation is a fast bounded step with no
// suspension points.
type Engine struct {
	tracker   *correlation.Tracker
	evaluator *sampling.Evaluator
	sink      Sink
	logger    *slog.Logger
	metrics   *metrics

	mu         sync.Mutex
	pending    map[correlation.Key]*Record
	maxPending int
}

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	tracker        *correlation.Tracker
	trackerOptions []correlation.TrackerOption
	samplerConfig  *sampling.Config
	sink           Sink
	logger         *slog.Logger
	registerer     prometheus.Registerer
	maxPending     int
}

// WithTracker supplies a pre-built tracking table.
func WithTracker(t *correlation.Tracker) Option {
	return func(c *engineConfig) {
		c.tracker = t
	}
}

// WithTrackerOptions configures the tracker the engine builds when none is
// supplied.
func WithTrackerOptions(opts ...correlation.TrackerOption) Option {
	return func(c *engineConfig) {
		c.trackerOptions = append(c.trackerOptions, opts...)
	}
}

// WithSamplerConfig selects the sampling policy. Defaults to the
// parent-based always-on policy.
func WithSamplerConfig(cfg *sampling.Config) Option {
	return func(c *engineConfig) {
		c.samplerConfig = cfg
	}
}

// WithSink sets the consumer of finished records. Defaults to a no-op sink.
func WithSink(s Sink) Option {
	return func(c *engineConfig) {
		c.sink = s
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) {
		c.logger = logger
	}
}

// WithRegisterer sets the prometheus registerer for the engine counters.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *engineConfig) {
		c.registerer = reg
	}
}

// WithMaxPending bounds the pending-span table.
func WithMaxPending(n int) Option {
	return func(c *engineConfig) {
		c.maxPending = n
	}
}

// New constructs an Engine.
func New(opts ...Option) (*Engine, error) {
	cfg := &engineConfig{
		logger:     slog.Default(),
		registerer: prometheus.NewRegistry(),
		maxPending: DefaultMaxPending,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	evaluator, err := sampling.NewEvaluator(cfg.samplerConfig, sampling.WithLogger(cfg.logger))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		evaluator:  evaluator,
		sink:       cfg.sink,
		logger:     cfg.logger,
		metrics:    newMetrics(cfg.registerer),
		pending:    make(map[correlation.Key]*Record),
		maxPending: cfg.maxPending,
	}
	if e.sink == nil {
		e.sink = NewNoopSink()
	}

	e.tracker = cfg.tracker
	if e.tracker == nil {
		trackerOpts := append([]correlation.TrackerOption{
			correlation.WithTrackerLogger(cfg.logger),
			correlation.WithDropHook(e.metrics.trackingDrops.Inc),
		}, cfg.trackerOptions...)
		e.tracker = correlation.NewTracker(trackerOpts...)
	}
	return e, nil
}

// Tracker exposes the tracking table, mainly for adapters that need direct
// parent lookups.
func (e *Engine) Tracker() *correlation.Tracker {
	return e.tracker
}

// StartSpan performs the entry half of the lifecycle protocol:
//
//  1. Resolve a parent: the custom resolver first, else the tracking table
//     via the parent-chain walk. No parent means root.
//  2. Child spans inherit the parent's trace id and flags with a fresh span
//     id; roots get fresh ids and zero baseline flags.
//  3. Re-evaluate sampling for root and child alike (the parent-based
//     sampler is what makes "inherit" the common outcome) and set or clear
//     the sampled bit.
//  4. Record the new association in the tracking table.
//
// Both the new context and the parent (zero for roots) are returned; the
// caller needs both to populate the emitted record.
func (e *Engine) StartSpan(p StartSpanParams) (sc, psc spancontext.SpanContext, parentRemote bool) {
	var foundParent bool
	if p.Resolver != nil {
		psc, foundParent = p.Resolver.ResolveParent()
		parentRemote = foundParent
	}
	if !foundParent {
		handle := p.Handle
		if handle == 0 {
			handle = uint64(p.Key)
		}
		psc, foundParent = e.tracker.GetParent(handle)
	}

	params := sampling.Parameters{Remote: parentRemote}
	if foundParent {
		sc = spancontext.NewChild(psc)
		params.Parent = &psc
	} else {
		sc = spancontext.NewRoot()
		psc = spancontext.SpanContext{}
	}
	params.TraceID = sc.TraceID
	sc = sc.WithSampled(e.evaluator.ShouldSample(params))

	if err := e.tracker.StartTracking(p.Key, sc); err != nil {
		if !errors.Is(err, correlation.ErrTableFull) {
			e.logger.Warn("start tracking failed", slog.String("error", err.Error()))
		}
	}
	e.metrics.spansStarted.Inc()
	return sc, psc, parentRemote
}

// EndSpan performs the exit half: stamp the end time, unwind the tracking
// state, and hand the record to the sink. Unsampled records are suppressed
// locally and never reach the sink; this policy is uniform across all call
// sites, with a counter recording each suppression.
func (e *Engine) EndSpan(ctx context.Context, rec Record) {
	if rec.EndTime.IsZero() {
		rec.EndTime = time.Now()
	}

	e.tracker.StopTracking(rec.SpanContext, rec.Parent)
	e.metrics.spansEnded.Inc()

	if !rec.SpanContext.IsSampled() {
		e.metrics.unsampledDropped.Inc()
		return
	}
	if err := e.sink.Handle(ctx, rec); err != nil {
		e.logger.Warn("sink rejected span record",
			slog.String("span", rec.Name), slog.String("error", err.Error()))
	}
}

// OnEntry is the high-level entry event: it starts the span and parks the
// record in the pending table keyed by the correlation key, so the exit
// event can finish it without any invocation-local storage in between.
func (e *Engine) OnEntry(p StartSpanParams) (spancontext.SpanContext, spancontext.SpanContext) {
	sc, psc, remote := e.StartSpan(p)

	start := p.StartTime
	if start.IsZero() {
		start = time.Now()
	}
	rec := &Record{
		Scope:        p.Scope,
		Name:         p.Name,
		Kind:         p.Kind,
		StartTime:    start,
		SpanContext:  sc,
		Parent:       psc,
		ParentRemote: remote,
		Attributes:   p.Attributes,
	}

	e.mu.Lock()
	if _, ok := e.pending[p.Key]; !ok && len(e.pending) >= e.maxPending {
		e.mu.Unlock()
		e.metrics.pendingDrops.Inc()
		e.logger.Warn("pending-span table full, dropping entry event", slog.String("span", p.Name))
		return sc, psc
	}
	e.pending[p.Key] = rec
	e.mu.Unlock()
	return sc, psc
}

// AddAttributes appends attributes captured mid-invocation (for example a
// status code read by a later probe) to the pending record for key.
func (e *Engine) AddAttributes(key correlation.Key, attrs ...attribute.KeyValue) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec, ok := e.pending[key]; ok {
		rec.Attributes = append(rec.Attributes, attrs...)
	}
}

// SetStatus records the outcome on the pending record for key.
func (e *Engine) SetStatus(key correlation.Key, code codes.Code, description string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec, ok := e.pending[key]; ok {
		rec.Status = Status{Code: code, Description: description}
	}
}

// OnExit is the high-level exit event: it claims the pending record for key
// and finishes it. An exit with no pending record is a legitimate no-op
// (entry dropped at capacity, or span started before attachment).
func (e *Engine) OnExit(ctx context.Context, key correlation.Key, endTime time.Time) {
	e.mu.Lock()
	rec, ok := e.pending[key]
	if ok {
		delete(e.pending, key)
	}
	e.mu.Unlock()

	if !ok {
		e.metrics.orphanedExitEvents.Inc()
		e.logger.Debug("exit event with no pending span", slog.Uint64("key", uint64(key)))
		return
	}
	rec.EndTime = endTime
	e.EndSpan(ctx, *rec)
}

// Shutdown clears all correlation state. Pending spans that never saw their
// exit event are discarded, not emitted.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	clear(e.pending)
	e.mu.Unlock()
	e.tracker.Clear()
	return ctx.Err()
}
