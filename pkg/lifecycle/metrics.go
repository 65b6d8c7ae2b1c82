package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are the engine's self-telemetry counters.
type metrics struct {
	spansStarted       prometheus.Counter
	spansEnded         prometheus.Counter
	unsampledDropped   prometheus.Counter
	trackingDrops      prometheus.Counter
	pendingDrops       prometheus.Counter
	orphanedExitEvents prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		spansStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "autotrace_spans_started_total",
			Help: "Spans started by the lifecycle engine.",
		}),
		spansEnded: factory.NewCounter(prometheus.CounterOpts{
			Name: "autotrace_spans_ended_total",
			Help: "Spans ended and handed to the sink.",
		}),
		unsampledDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "autotrace_spans_unsampled_dropped_total",
			Help: "Finished spans suppressed locally because they were not sampled.",
		}),
		trackingDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "autotrace_tracking_table_drops_total",
			Help: "Span associations dropped because the tracking table was full.",
		}),
		pendingDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "autotrace_pending_spans_dropped_total",
			Help: "Entry events dropped because the pending-span table was full.",
		}),
		orphanedExitEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "autotrace_orphaned_exit_events_total",
			Help: "Exit events with no matching pending span.",
		}),
	}
}
