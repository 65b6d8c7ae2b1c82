package sampling

import (
	"encoding/binary"
	"log/slog"

	"github.com/o11ykit/autotrace/pkg/spancontext"
)

// Parameters are the inputs of one sampling decision.
type Parameters struct {
	// Parent is the parent span context, or nil for a root span.
	Parent *spancontext.SpanContext
	// Remote reports whether Parent was extracted from an inbound carrier
	// rather than found in the local tracking table. Ignored when Parent is
	// nil.
	Remote bool
	// TraceID is the trace id of the span being started.
	TraceID spancontext.TraceID
}

// Evaluator applies the active sampler of a Config. ShouldSample is a pure
// function of (config, parent, trace id): identical inputs always yield the
// identical decision.
//
// Every misconfiguration (missing sampler, nested parent-based reference) is
// non-fatal: the decision degrades to "not sampled" and is reported through
// the logger.
type Evaluator struct {
	cfg    *Config
	logger *slog.Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// NewEvaluator validates cfg and returns an evaluator for it.
func NewEvaluator(cfg *Config, opts ...EvaluatorOption) (*Evaluator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Evaluator{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ShouldSample evaluates the active sampler for one span.
func (e *Evaluator) ShouldSample(p Parameters) bool {
	return e.evaluate(e.cfg.Active, p, true)
}

// evaluate dispatches on sampler kind. allowParentBased is cleared when
// recursing out of a parent-based sampler so composition stays one level.
func (e *Evaluator) evaluate(id SamplerID, p Parameters, allowParentBased bool) bool {
	sc, ok := e.cfg.Samplers[id]
	if !ok {
		e.logger.Warn("sampler id not configured, not sampling", slog.Uint64("sampler_id", uint64(id)))
		return false
	}

	switch sc.Type {
	case SamplerAlwaysOn:
		return true
	case SamplerAlwaysOff:
		return false
	case SamplerTraceIDRatio:
		rc, ok := sc.Config.(TraceIDRatioConfig)
		if !ok {
			e.logger.Warn("trace-id-ratio sampler has no ratio config, not sampling", slog.Uint64("sampler_id", uint64(id)))
			return false
		}
		return sampleTraceIDRatio(rc.numerator, p.TraceID)
	case SamplerParentBased:
		if !allowParentBased {
			e.logger.Warn("parent-based sampler referenced by a parent-based sampler, not sampling", slog.Uint64("sampler_id", uint64(id)))
			return false
		}
		pb, ok := sc.Config.(ParentBasedConfig)
		if !ok {
			e.logger.Warn("parent-based sampler has no parent config, not sampling", slog.Uint64("sampler_id", uint64(id)))
			return false
		}
		return e.evaluate(pb.delegate(p), p, false)
	default:
		e.logger.Warn("unknown sampler type, not sampling",
			slog.Uint64("sampler_id", uint64(id)), slog.Uint64("sampler_type", uint64(sc.Type)))
		return false
	}
}

// delegate picks the base sampler id for the parent situation.
func (pb ParentBasedConfig) delegate(p Parameters) SamplerID {
	switch {
	case p.Parent == nil:
		return pb.Root
	case p.Remote && p.Parent.IsSampled():
		return pb.RemoteSampled
	case p.Remote:
		return pb.RemoteNotSampled
	case p.Parent.IsSampled():
		return pb.LocalSampled
	default:
		return pb.LocalNotSampled
	}
}

// sampleTraceIDRatio keys the decision off the second 8 bytes of the trace
// id, interpreted big-endian and shifted right one bit to stay below 2^63.
// The bound arithmetic mirrors what the cross-process peer computes, so the
// same trace id yields the same decision on both ends.
func sampleTraceIDRatio(numerator uint64, traceID spancontext.TraceID) bool {
	if numerator == 0 {
		return false
	}
	if numerator >= RateDenominator {
		return true
	}
	upper := ((uint64(1) << 63) / RateDenominator) * numerator
	hi := binary.BigEndian.Uint64(traceID[8:])
	return hi>>1 < upper
}
