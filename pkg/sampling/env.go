package sampling

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// OpenTelemetry spec-defined sampler names and environment variables.
const (
	tracesSamplerKey    = "OTEL_TRACES_SAMPLER"
	tracesSamplerArgKey = "OTEL_TRACES_SAMPLER_ARG"

	samplerNameAlwaysOn                = "always_on"
	samplerNameAlwaysOff               = "always_off"
	samplerNameTraceIDRatio            = "traceidratio"
	samplerNameParentBasedAlwaysOn     = "parentbased_always_on"
	samplerNameParentBasedAlwaysOff    = "parentbased_always_off"
	samplerNameParentBasedTraceIDRatio = "parentbased_traceidratio"
)

// ErrUnknownSamplerName is returned for an unrecognized OTEL_TRACES_SAMPLER
// value.
var ErrUnknownSamplerName = errors.New("sampling: unknown sampler name")

// FromEnv builds a Config from OTEL_TRACES_SAMPLER and
// OTEL_TRACES_SAMPLER_ARG. It returns (nil, nil) when the variable is unset,
// leaving the choice of default to the caller.
func FromEnv() (*Config, error) {
	return fromEnv(os.LookupEnv)
}

func fromEnv(lookupEnv func(string) (string, bool)) (*Config, error) {
	name, ok := lookupEnv(tracesSamplerKey)
	if !ok {
		return nil, nil
	}
	name = strings.ToLower(strings.TrimSpace(name))

	arg, hasArg := lookupEnv(tracesSamplerArgKey)
	arg = strings.TrimSpace(arg)

	ratioArg := func() (float64, error) {
		if !hasArg {
			return 1, nil
		}
		return strconv.ParseFloat(arg, 64)
	}

	switch name {
	case samplerNameAlwaysOn:
		return AlwaysOnConfig(), nil
	case samplerNameAlwaysOff:
		return AlwaysOffConfig(), nil
	case samplerNameTraceIDRatio:
		ratio, err := ratioArg()
		if err != nil {
			return nil, err
		}
		return TraceIDRatioConfigTable(ratio)
	case samplerNameParentBasedAlwaysOn:
		return parentBasedConfig(AlwaysOnID, SamplerConfig{Type: SamplerAlwaysOn}), nil
	case samplerNameParentBasedAlwaysOff:
		return parentBasedConfig(AlwaysOffID, SamplerConfig{Type: SamplerAlwaysOff}), nil
	case samplerNameParentBasedTraceIDRatio:
		ratio, err := ratioArg()
		if err != nil {
			return nil, err
		}
		rc, err := NewTraceIDRatioConfig(ratio)
		if err != nil {
			return nil, err
		}
		return parentBasedConfig(TraceIDRatioID, SamplerConfig{Type: SamplerTraceIDRatio, Config: rc}), nil
	default:
		return nil, ErrUnknownSamplerName
	}
}

// parentBasedConfig returns the default parent-based table with the root
// decision replaced.
func parentBasedConfig(rootID SamplerID, root SamplerConfig) *Config {
	pb := DefaultParentBased()
	pb.Root = rootID
	return &Config{
		Samplers: map[SamplerID]SamplerConfig{
			AlwaysOnID:    {Type: SamplerAlwaysOn},
			AlwaysOffID:   {Type: SamplerAlwaysOff},
			rootID:        root,
			ParentBasedID: {Type: SamplerParentBased, Config: pb},
		},
		Active: ParentBasedID,
	}
}
