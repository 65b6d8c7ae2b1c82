// Package sampling implements the process-wide sampling policy: a table of
// samplers addressed by small integer ids, one of which is active, and a
// single decision function evaluated once per span.
package sampling

import (
	"errors"
	"fmt"
	"math"
)

// SamplerType enumerates the supported sampler kinds.
type SamplerType uint64

const (
	// SamplerAlwaysOn samples every trace.
	SamplerAlwaysOn SamplerType = iota
	// SamplerAlwaysOff samples no trace.
	SamplerAlwaysOff
	// SamplerTraceIDRatio samples a fixed fraction of traces keyed off the
	// trace id.
	SamplerTraceIDRatio
	// SamplerParentBased delegates to one of five base samplers depending on
	// the parent span context.
	SamplerParentBased
)

// SamplerID addresses a sampler in the config table. Samplers reference each
// other by id, so the id space is shared across the whole table.
type SamplerID uint32

// The well-known samplers have constant ids and are always available.
const (
	AlwaysOnID     SamplerID = 0
	AlwaysOffID    SamplerID = 1
	TraceIDRatioID SamplerID = 2
	ParentBasedID  SamplerID = 3
)

// RateDenominator is the fixed denominator of the trace-id-ratio fraction.
// It is a cross-process protocol constant: any peer that reproduces the
// sampling decision from the trace id must assume the same value.
const RateDenominator = math.MaxUint32

var (
	// ErrUnknownSampler is reported when the active sampler id, or an id
	// referenced by a parent-based sampler, is not present in the table.
	ErrUnknownSampler = errors.New("sampling: unknown sampler id")

	// ErrNestedParentBased is reported when a parent-based sampler references
	// another parent-based sampler. Composition is one level only.
	ErrNestedParentBased = errors.New("sampling: parent-based sampler cannot reference a parent-based sampler")

	errInvalidFraction = errors.New("sampling: fraction must be in the range [0, 1]")
	errPrecisionLoss   = errors.New("sampling: fraction is too small to represent with the fixed denominator")
)

// TraceIDRatioConfig holds the numerator of the sampling fraction over
// RateDenominator.
type TraceIDRatioConfig struct {
	numerator uint64
}

// NewTraceIDRatioConfig converts a fraction in [0, 1] to a numerator over
// RateDenominator.
func NewTraceIDRatioConfig(fraction float64) (TraceIDRatioConfig, error) {
	n, err := floatToNumerator(fraction, RateDenominator)
	if err != nil {
		return TraceIDRatioConfig{}, err
	}
	return TraceIDRatioConfig{numerator: n}, nil
}

// Numerator returns the configured numerator.
func (c TraceIDRatioConfig) Numerator() uint64 {
	return c.numerator
}

// ParentBasedConfig selects a base sampler id for each parent situation.
type ParentBasedConfig struct {
	Root             SamplerID
	RemoteSampled    SamplerID
	RemoteNotSampled SamplerID
	LocalSampled     SamplerID
	LocalNotSampled  SamplerID
}

// DefaultParentBased respects a sampled parent and always samples roots.
func DefaultParentBased() ParentBasedConfig {
	return ParentBasedConfig{
		Root:             AlwaysOnID,
		RemoteSampled:    AlwaysOnID,
		RemoteNotSampled: AlwaysOffID,
		LocalSampled:     AlwaysOnID,
		LocalNotSampled:  AlwaysOffID,
	}
}

// SamplerConfig describes one sampler in the table. Config carries the
// kind-specific payload: TraceIDRatioConfig or ParentBasedConfig.
type SamplerConfig struct {
	Type   SamplerType
	Config any
}

// Config is the process-wide sampler table plus the active selection. It is
// set at configuration time and not mutated during steady-state operation.
type Config struct {
	Samplers map[SamplerID]SamplerConfig
	Active   SamplerID
}

// DefaultConfig returns the default parent-based policy: inherit the
// parent's decision, sample all roots.
func DefaultConfig() *Config {
	return &Config{
		Samplers: map[SamplerID]SamplerConfig{
			AlwaysOnID:  {Type: SamplerAlwaysOn},
			AlwaysOffID: {Type: SamplerAlwaysOff},
			ParentBasedID: {
				Type:   SamplerParentBased,
				Config: DefaultParentBased(),
			},
		},
		Active: ParentBasedID,
	}
}

// AlwaysOnConfig returns a table whose active sampler samples everything.
func AlwaysOnConfig() *Config {
	return &Config{
		Samplers: map[SamplerID]SamplerConfig{AlwaysOnID: {Type: SamplerAlwaysOn}},
		Active:   AlwaysOnID,
	}
}

// AlwaysOffConfig returns a table whose active sampler samples nothing.
func AlwaysOffConfig() *Config {
	return &Config{
		Samplers: map[SamplerID]SamplerConfig{AlwaysOffID: {Type: SamplerAlwaysOff}},
		Active:   AlwaysOffID,
	}
}

// TraceIDRatioConfigTable returns a table whose active sampler samples the
// given fraction of traces.
func TraceIDRatioConfigTable(fraction float64) (*Config, error) {
	rc, err := NewTraceIDRatioConfig(fraction)
	if err != nil {
		return nil, err
	}
	return &Config{
		Samplers: map[SamplerID]SamplerConfig{
			TraceIDRatioID: {Type: SamplerTraceIDRatio, Config: rc},
		},
		Active: TraceIDRatioID,
	}, nil
}

// Validate checks the configuration contract: the active id resolves, every
// id a parent-based sampler references resolves, and no parent-based sampler
// references another parent-based sampler.
func (c *Config) Validate() error {
	if _, ok := c.Samplers[c.Active]; !ok {
		return fmt.Errorf("%w: active sampler %d", ErrUnknownSampler, c.Active)
	}
	for id, sc := range c.Samplers {
		if sc.Type != SamplerParentBased {
			continue
		}
		pb, ok := sc.Config.(ParentBasedConfig)
		if !ok {
			return fmt.Errorf("sampling: sampler %d: parent-based sampler requires a ParentBasedConfig payload", id)
		}
		for _, ref := range []SamplerID{pb.Root, pb.RemoteSampled, pb.RemoteNotSampled, pb.LocalSampled, pb.LocalNotSampled} {
			base, ok := c.Samplers[ref]
			if !ok {
				return fmt.Errorf("%w: sampler %d references %d", ErrUnknownSampler, id, ref)
			}
			if base.Type == SamplerParentBased {
				return fmt.Errorf("%w: sampler %d references %d", ErrNestedParentBased, id, ref)
			}
		}
	}
	return nil
}

// floatToNumerator converts a fraction to a numerator over maxDenominator.
func floatToNumerator(f float64, maxDenominator uint64) (uint64, error) {
	if f < 0 || f > 1 {
		return 0, errInvalidFraction
	}
	if f == 0 {
		return 0, nil
	}
	if f == 1 {
		return maxDenominator, nil
	}
	x := uint64(f * float64(maxDenominator))
	if x == 0 {
		return 0, errPrecisionLoss
	}
	return x, nil
}
