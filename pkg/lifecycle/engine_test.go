package lifecycle

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/o11ykit/autotrace/pkg/correlation"
	"github.com/o11ykit/autotrace/pkg/propagation"
	"github.com/o11ykit/autotrace/pkg/sampling"
	"github.com/o11ykit/autotrace/pkg/spancontext"
)

// collectSink records every handled span.
type collectSink struct {
	mu      sync.Mutex
	records []Record
}

func (s *collectSink) Handle(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *collectSink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

type EngineSuite struct {
	suite.Suite

	ctx    context.Context
	sink   *collectSink
	engine *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.sink = &collectSink{}

	engine, err := New(
		WithSink(s.sink),
		WithSamplerConfig(sampling.AlwaysOnConfig()),
	)
	s.Require().NoError(err)
	s.engine = engine
}

func (s *EngineSuite) TestRootSpanLifecycle() {
	const k1 = correlation.Key(0x1000)

	sc, psc, remote := s.engine.StartSpan(StartSpanParams{
		Scope: "nethttp", Name: "GET /orders", Key: k1,
	})

	s.False(sc.IsZero())
	s.True(sc.IsSampled())
	s.True(psc.IsZero())
	s.False(remote)

	tracked, ok := s.engine.Tracker().Lookup(k1)
	s.Require().True(ok)
	s.Equal(sc, tracked)

	s.engine.EndSpan(s.ctx, Record{
		Scope: "nethttp", Name: "GET /orders",
		StartTime: time.Now(), SpanContext: sc, Parent: psc,
	})

	_, ok = s.engine.Tracker().Lookup(k1)
	s.False(ok)
	s.Zero(s.engine.Tracker().Len())

	records := s.sink.Records()
	s.Require().Len(records, 1)
	s.Equal(sc, records[0].SpanContext)
	s.True(records[0].Parent.IsZero())
	s.False(records[0].EndTime.IsZero())
}

func (s *EngineSuite) TestChildInheritsTraceID() {
	parentSC, _, _ := s.engine.StartSpan(StartSpanParams{Name: "parent", Key: 0x1000})

	childSC, childPSC, remote := s.engine.StartSpan(StartSpanParams{Name: "child", Key: 0x1000})

	s.Equal(parentSC.TraceID, childSC.TraceID)
	s.NotEqual(parentSC.SpanID, childSC.SpanID)
	s.Equal(parentSC, childPSC)
	s.False(remote)
	s.True(childSC.IsSampled())
}

func (s *EngineSuite) TestRemoteParentFromCarrier() {
	inbound := propagation.MapCarrier{
		"traceparent": "00-" + strings.Repeat("a", 32) + "-" + strings.Repeat("b", 16) + "-01",
	}

	sc, psc, remote := s.engine.StartSpan(StartSpanParams{
		Name: "consume",
		Key:  0x2000,
		Resolver: ParentResolverFunc(func() (spancontext.SpanContext, bool) {
			return propagation.Extract(inbound)
		}),
	})

	s.True(remote)
	for _, b := range psc.TraceID {
		s.Equal(byte(0xaa), b)
	}
	s.Equal(byte(1), psc.TraceFlags)
	s.Equal(psc.TraceID, sc.TraceID)
	s.NotEqual(psc.SpanID, sc.SpanID)
	s.True(sc.IsSampled())
}

func (s *EngineSuite) TestResolverTakesPrecedenceOverTracker() {
	local, _, _ := s.engine.StartSpan(StartSpanParams{Name: "local", Key: 0x3000})

	remoteParent := spancontext.NewRoot().WithSampled(true)
	sc, psc, remote := s.engine.StartSpan(StartSpanParams{
		Name: "child",
		Key:  0x3000,
		Resolver: ParentResolverFunc(func() (spancontext.SpanContext, bool) {
			return remoteParent, true
		}),
	})

	s.True(remote)
	s.Equal(remoteParent, psc)
	s.Equal(remoteParent.TraceID, sc.TraceID)
	s.NotEqual(local.TraceID, sc.TraceID)
}

func (s *EngineSuite) TestResolverMissFallsBackToTracker() {
	local, _, _ := s.engine.StartSpan(StartSpanParams{Name: "local", Key: 0x4000})

	sc, psc, remote := s.engine.StartSpan(StartSpanParams{
		Name: "child",
		Key:  0x4000,
		Resolver: ParentResolverFunc(func() (spancontext.SpanContext, bool) {
			return spancontext.SpanContext{}, false
		}),
	})

	s.False(remote)
	s.Equal(local, psc)
	s.Equal(local.TraceID, sc.TraceID)
}

func (s *EngineSuite) TestNestedLifecycleRestoresParent() {
	const k = correlation.Key(0x5000)

	parentSC, parentPSC, _ := s.engine.StartSpan(StartSpanParams{Name: "outer", Key: k})
	childSC, childPSC, _ := s.engine.StartSpan(StartSpanParams{Name: "inner", Key: k})
	s.Equal(parentSC, childPSC)

	s.engine.EndSpan(s.ctx, Record{Name: "inner", SpanContext: childSC, Parent: childPSC})

	tracked, ok := s.engine.Tracker().Lookup(k)
	s.Require().True(ok)
	s.Equal(parentSC, tracked)

	s.engine.EndSpan(s.ctx, Record{Name: "outer", SpanContext: parentSC, Parent: parentPSC})
	s.Zero(s.engine.Tracker().Len())
}

func (s *EngineSuite) TestOnEntryOnExit() {
	const k = correlation.Key(0x6000)
	start := time.Now().Add(-time.Second)

	sc, _ := s.engine.OnEntry(StartSpanParams{
		Scope:      "grpc",
		Name:       "/orders.Orders/Create",
		Kind:       trace.SpanKindServer,
		Key:        k,
		StartTime:  start,
		Attributes: []attribute.KeyValue{attribute.String("rpc.system", "grpc")},
	})

	s.engine.AddAttributes(k, attribute.Int("rpc.grpc.status_code", 0))
	s.engine.SetStatus(k, codes.Ok, "")

	end := time.Now()
	s.engine.OnExit(s.ctx, k, end)

	records := s.sink.Records()
	s.Require().Len(records, 1)
	rec := records[0]
	s.Equal(sc, rec.SpanContext)
	s.Equal("/orders.Orders/Create", rec.Name)
	s.Equal(trace.SpanKindServer, rec.Kind)
	s.Equal(start, rec.StartTime)
	s.Equal(end, rec.EndTime)
	s.Len(rec.Attributes, 2)
	s.Equal(codes.Ok, rec.Status.Code)

	// The pending entry is consumed; a second exit is an orphan no-op.
	s.engine.OnExit(s.ctx, k, time.Now())
	s.Len(s.sink.Records(), 1)
}

func (s *EngineSuite) TestOrphanedExitIsNoOp() {
	s.engine.OnExit(s.ctx, correlation.Key(0xdead), time.Now())
	s.Empty(s.sink.Records())
}

func (s *EngineSuite) TestShutdownClearsState() {
	s.engine.OnEntry(StartSpanParams{Name: "left open", Key: 0x7000})
	s.Require().NotZero(s.engine.Tracker().Len())

	s.Require().NoError(s.engine.Shutdown(s.ctx))
	s.Zero(s.engine.Tracker().Len())

	// The pending record is gone too.
	s.engine.OnExit(s.ctx, 0x7000, time.Now())
	s.Empty(s.sink.Records())
}

func TestEndSpan_SuppressesUnsampled(t *testing.T) {
	sink := &collectSink{}
	engine, err := New(WithSink(sink), WithSamplerConfig(sampling.AlwaysOffConfig()))
	require.NoError(t, err)

	sc, psc, _ := engine.StartSpan(StartSpanParams{Name: "dropped", Key: 0x100})
	require.False(t, sc.IsSampled())

	engine.EndSpan(context.Background(), Record{Name: "dropped", SpanContext: sc, Parent: psc})

	require.Empty(t, sink.Records())
	// Tracking state is unwound even for suppressed spans.
	require.Zero(t, engine.Tracker().Len())
}

func TestOnEntry_PendingCapacity(t *testing.T) {
	sink := &collectSink{}
	engine, err := New(
		WithSink(sink),
		WithSamplerConfig(sampling.AlwaysOnConfig()),
		WithMaxPending(1),
	)
	require.NoError(t, err)
	ctx := context.Background()

	first, _ := engine.OnEntry(StartSpanParams{Name: "first", Key: 0x1})
	engine.OnEntry(StartSpanParams{Name: "second", Key: 0x2})

	// The second entry was dropped from the pending table; only the first
	// exit produces a record.
	engine.OnExit(ctx, 0x2, time.Now())
	engine.OnExit(ctx, 0x1, time.Now())

	records := sink.Records()
	require.Len(t, records, 1)
	require.Equal(t, first, records[0].SpanContext)
}

func TestEngine_ConcurrentDistinctKeys(t *testing.T) {
	sink := &collectSink{}
	engine, err := New(
		WithSink(sink),
		WithSamplerConfig(sampling.AlwaysOnConfig()),
		WithMaxPending(4096),
		WithTrackerOptions(correlation.WithCapacity(4096)),
	)
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	const goroutines, iterations = 8, 50
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				key := correlation.Key(0x10000*uint64(g+1) + uint64(i))
				engine.OnEntry(StartSpanParams{Name: "work", Key: key})
				engine.OnExit(ctx, key, time.Now())
			}
		}(g)
	}
	wg.Wait()

	require.Len(t, sink.Records(), goroutines*iterations)
	require.Zero(t, engine.Tracker().Len())
}
