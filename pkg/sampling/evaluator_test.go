package sampling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/o11ykit/autotrace/pkg/spancontext"
)

func mustEvaluator(t *testing.T, cfg *Config) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(cfg)
	require.NoError(t, err)
	return e
}

func TestAlwaysOnOff(t *testing.T) {
	on := mustEvaluator(t, AlwaysOnConfig())
	off := mustEvaluator(t, AlwaysOffConfig())

	p := Parameters{TraceID: spancontext.NewTraceID()}
	assert.True(t, on.ShouldSample(p))
	assert.False(t, off.ShouldSample(p))
}

func TestShouldSample_Deterministic(t *testing.T) {
	cfg, err := TraceIDRatioConfigTable(0.25)
	require.NoError(t, err)
	e := mustEvaluator(t, cfg)

	for i := 0; i < 100; i++ {
		p := Parameters{TraceID: spancontext.NewTraceID()}
		first := e.ShouldSample(p)
		for j := 0; j < 5; j++ {
			assert.Equal(t, first, e.ShouldSample(p))
		}
	}
}

func TestTraceIDRatio_Bounds(t *testing.T) {
	zero, err := TraceIDRatioConfigTable(0)
	require.NoError(t, err)
	one, err := TraceIDRatioConfigTable(1)
	require.NoError(t, err)

	never := mustEvaluator(t, zero)
	always := mustEvaluator(t, one)

	for i := 0; i < 1000; i++ {
		p := Parameters{TraceID: spancontext.NewTraceID()}
		assert.False(t, never.ShouldSample(p))
		assert.True(t, always.ShouldSample(p))
	}
}

func TestTraceIDRatio_HalfIsApproximatelyHalf(t *testing.T) {
	cfg, err := TraceIDRatioConfigTable(0.5)
	require.NoError(t, err)
	e := mustEvaluator(t, cfg)

	const trials = 100000
	sampled := 0
	for i := 0; i < trials; i++ {
		if e.ShouldSample(Parameters{TraceID: spancontext.NewTraceID()}) {
			sampled++
		}
	}

	ratio := float64(sampled) / trials
	assert.InDelta(t, 0.5, ratio, 0.05)
}

func TestNewTraceIDRatioConfig_Invalid(t *testing.T) {
	_, err := NewTraceIDRatioConfig(-0.1)
	assert.ErrorIs(t, err, errInvalidFraction)

	_, err = NewTraceIDRatioConfig(1.1)
	assert.ErrorIs(t, err, errInvalidFraction)
}

func TestParentBased_Dispatch(t *testing.T) {
	cfg := DefaultConfig()
	e := mustEvaluator(t, cfg)

	sampledParent := spancontext.NewRoot().WithSampled(true)
	unsampledParent := spancontext.NewRoot()

	scenarios := []struct {
		name     string
		params   Parameters
		expected bool
	}{
		{
			name:     "no parent uses root sampler",
			params:   Parameters{TraceID: spancontext.NewTraceID()},
			expected: true,
		},
		{
			name:     "remote sampled parent",
			params:   Parameters{Parent: &sampledParent, Remote: true, TraceID: sampledParent.TraceID},
			expected: true,
		},
		{
			name:     "remote not-sampled parent",
			params:   Parameters{Parent: &unsampledParent, Remote: true, TraceID: unsampledParent.TraceID},
			expected: false,
		},
		{
			name:     "local sampled parent",
			params:   Parameters{Parent: &sampledParent, TraceID: sampledParent.TraceID},
			expected: true,
		},
		{
			name:     "local not-sampled parent",
			params:   Parameters{Parent: &unsampledParent, TraceID: unsampledParent.TraceID},
			expected: false,
		},
	}

	for _, s := range scenarios {
		t.Run(s.name, func(t *testing.T) {
			assert.Equal(t, s.expected, e.ShouldSample(s.params))
		})
	}
}

func TestValidate_NestedParentBasedRejected(t *testing.T) {
	cfg := &Config{
		Samplers: map[SamplerID]SamplerConfig{
			AlwaysOnID:  {Type: SamplerAlwaysOn},
			AlwaysOffID: {Type: SamplerAlwaysOff},
			ParentBasedID: {
				Type: SamplerParentBased,
				Config: ParentBasedConfig{
					Root:             ParentBasedID,
					RemoteSampled:    AlwaysOnID,
					RemoteNotSampled: AlwaysOffID,
					LocalSampled:     AlwaysOnID,
					LocalNotSampled:  AlwaysOffID,
				},
			},
		},
		Active: ParentBasedID,
	}

	_, err := NewEvaluator(cfg)
	assert.ErrorIs(t, err, ErrNestedParentBased)
}

func TestValidate_MissingReference(t *testing.T) {
	cfg := &Config{
		Samplers: map[SamplerID]SamplerConfig{AlwaysOnID: {Type: SamplerAlwaysOn}},
		Active:   SamplerID(42),
	}
	assert.ErrorIs(t, cfg.Validate(), ErrUnknownSampler)
}

func TestMisconfiguredSampler_FailsSoftToNotSampled(t *testing.T) {
	// Ratio sampler with no payload passes structural validation but cannot
	// be evaluated; the decision degrades to "not sampled" without error.
	cfg := &Config{
		Samplers: map[SamplerID]SamplerConfig{
			TraceIDRatioID: {Type: SamplerTraceIDRatio},
		},
		Active: TraceIDRatioID,
	}
	e := mustEvaluator(t, cfg)
	assert.False(t, e.ShouldSample(Parameters{TraceID: spancontext.NewTraceID()}))
}
