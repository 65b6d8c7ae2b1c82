// Package export turns finished span records into OpenTelemetry spans and
// ships them over OTLP.
package export

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"

	"github.com/o11ykit/autotrace/pkg/lifecycle"
)

// Protocol selects the OTLP transport.
type Protocol int

const (
	// ProtocolGRPC exports over OTLP/gRPC.
	ProtocolGRPC Protocol = iota
	// ProtocolHTTP exports over OTLP/HTTP.
	ProtocolHTTP
)

const (
	defaultBatchTimeout    = 5 * time.Second
	defaultMaxExportBatch  = 512
	defaultShutdownTimeout = 10 * time.Second

	scopePrefix = "github.com/o11ykit/autotrace/"
)

// Config holds the sink configuration.
type Config struct {
	endpoint       string
	protocol       Protocol
	serviceName    string
	serviceVersion string
	insecure       bool
	tlsConfig      *tls.Config
	batchTimeout   time.Duration
	maxExportBatch int
	logger         *slog.Logger
}

// SinkOption configures a Sink.
type SinkOption func(*Config)

// WithEndpoint sets the OTLP endpoint.
func WithEndpoint(endpoint string) SinkOption {
	return func(c *Config) {
		c.endpoint = endpoint
	}
}

// WithProtocol selects gRPC or HTTP transport.
func WithProtocol(p Protocol) SinkOption {
	return func(c *Config) {
		c.protocol = p
	}
}

// WithServiceName sets the exported service name.
func WithServiceName(name string) SinkOption {
	return func(c *Config) {
		c.serviceName = name
	}
}

// WithServiceVersion sets the exported service version.
func WithServiceVersion(version string) SinkOption {
	return func(c *Config) {
		c.serviceVersion = version
	}
}

// WithInsecure disables transport security. Not recommended outside
// development.
func WithInsecure() SinkOption {
	return func(c *Config) {
		c.insecure = true
	}
}

// WithTLS sets a custom TLS configuration.
func WithTLS(cfg *tls.Config) SinkOption {
	return func(c *Config) {
		c.tlsConfig = cfg
	}
}

// WithBatchTimeout sets the export batch timeout.
func WithBatchTimeout(d time.Duration) SinkOption {
	return func(c *Config) {
		c.batchTimeout = d
	}
}

// WithMaxExportBatch sets the maximum export batch size.
func WithMaxExportBatch(n int) SinkOption {
	return func(c *Config) {
		c.maxExportBatch = n
	}
}

// WithSinkLogger sets the diagnostic logger.
func WithSinkLogger(logger *slog.Logger) SinkOption {
	return func(c *Config) {
		c.logger = logger
	}
}

// Sink converts finished records to OTel spans through a TracerProvider, so
// batching, retry and OTLP encoding stay the SDK's business. Each record's
// engine-assigned identifiers and timestamps are preserved on the exported
// span.
type Sink struct {
	provider trace.TracerProvider
	sdk      *sdktrace.TracerProvider
	logger   *slog.Logger

	mu      sync.Mutex
	tracers map[string]trace.Tracer
}

var _ lifecycle.Sink = (*Sink)(nil)

// New builds an OTLP-backed sink.
func New(ctx context.Context, opts ...SinkOption) (*Sink, error) {
	cfg := &Config{
		protocol:       ProtocolGRPC,
		serviceName:    "autotrace",
		batchTimeout:   defaultBatchTimeout,
		maxExportBatch: defaultMaxExportBatch,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.endpoint == "" {
		return nil, errors.New("export: endpoint cannot be empty")
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("export: failed to initialize trace exporter: %w", err)
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("export: failed to build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithIDGenerator(NewRecordIDGenerator()),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(cfg.batchTimeout),
			sdktrace.WithMaxExportBatchSize(cfg.maxExportBatch),
		),
	)

	return &Sink{
		provider: provider,
		sdk:      provider,
		logger:   cfg.logger,
		tracers:  make(map[string]trace.Tracer),
	}, nil
}

// NewFromTracerProvider builds a sink on an existing provider. The provider
// must have been constructed with NewRecordIDGenerator, otherwise exported
// spans get fresh identifiers that no longer match the propagated ones.
func NewFromTracerProvider(tp trace.TracerProvider, opts ...SinkOption) *Sink {
	cfg := &Config{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}
	s := &Sink{
		provider: tp,
		logger:   cfg.logger,
		tracers:  make(map[string]trace.Tracer),
	}
	if sdk, ok := tp.(*sdktrace.TracerProvider); ok {
		s.sdk = sdk
	}
	return s
}

func newExporter(ctx context.Context, cfg *Config) (sdktrace.SpanExporter, error) {
	switch cfg.protocol {
	case ProtocolHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.endpoint)}
		switch {
		case cfg.insecure:
			opts = append(opts, otlptracehttp.WithInsecure())
		case cfg.tlsConfig != nil:
			opts = append(opts, otlptracehttp.WithTLSClientConfig(cfg.tlsConfig))
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.endpoint)}
		switch {
		case cfg.insecure:
			opts = append(opts, otlptracegrpc.WithInsecure())
		case cfg.tlsConfig != nil:
			opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(cfg.tlsConfig)))
		}
		return otlptracegrpc.New(ctx, opts...)
	}
}

func newResource(cfg *Config) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.serviceName),
			semconv.ServiceVersion(cfg.serviceVersion),
			semconv.ServiceInstanceID(uuid.NewString()),
		),
	)
}

// Handle exports one finished record as an OTel span with the record's
// identifiers, timestamps, attributes and status.
func (s *Sink) Handle(ctx context.Context, rec lifecycle.Record) error {
	if rec.SpanContext.IsZero() {
		s.logger.Debug("record without span context, dropping", slog.String("span", rec.Name))
		return nil
	}

	if !rec.Parent.IsZero() {
		psc := rec.Parent.OTel()
		if rec.ParentRemote {
			psc = psc.WithRemote(true)
		}
		ctx = trace.ContextWithSpanContext(ctx, psc)
	}
	ctx = contextWithRecord(ctx, rec)

	_, span := s.tracer(rec.Scope).Start(ctx, rec.Name,
		trace.WithSpanKind(rec.Kind),
		trace.WithTimestamp(rec.StartTime),
		trace.WithAttributes(rec.Attributes...),
	)
	span.SetStatus(rec.Status.Code, rec.Status.Description)
	span.End(trace.WithTimestamp(rec.EndTime))
	return nil
}

// tracer returns the cached tracer for one instrumentation scope.
func (s *Sink) tracer(scope string) trace.Tracer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tracers[scope]; ok {
		return t
	}
	t := s.provider.Tracer(scopePrefix + scope)
	s.tracers[scope] = t
	return t
}

// Shutdown flushes and stops the provider. The flush is retried with
// exponential backoff until it succeeds or ctx expires.
func (s *Sink) Shutdown(ctx context.Context) error {
	if s.sdk == nil {
		return nil
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultShutdownTimeout)
		defer cancel()
	}

	flush := func() error {
		return s.sdk.ForceFlush(ctx)
	}
	if err := backoff.Retry(flush, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		s.logger.Warn("flush failed during shutdown", slog.String("error", err.Error()))
	}

	if err := s.sdk.Shutdown(ctx); err != nil {
		return fmt.Errorf("export: shutdown failed: %w", err)
	}
	return nil
}
