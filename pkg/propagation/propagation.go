// Package propagation injects and extracts the traceparent wire value over
// abstract header carriers so a span context can cross process boundaries.
package propagation

import (
	"errors"
	"log/slog"

	"github.com/o11ykit/autotrace/pkg/spancontext"
)

const (
	// HeaderKey is the lowercase traceparent header name.
	HeaderKey = "traceparent"
	// HeaderKeyCapitalized is the Title-case-first-letter variant some peers
	// emit. Exactly these two casings are accepted on read; there is no
	// general case-insensitive match.
	HeaderKeyCapitalized = "Traceparent"
)

// ErrCarrierFull is returned when a carrier refuses an inject because its
// structural capacity is exhausted.
var ErrCarrierFull = errors.New("propagation: header carrier full")

// Carrier is a string-keyed header collection. Set may refuse with
// ErrCarrierFull when the underlying structure has a hard capacity; Inject
// respects the refusal instead of forcing the write.
type Carrier interface {
	// Get returns the first value stored under exactly key.
	Get(key string) (string, bool)
	// Set adds a key/value entry.
	Set(key, value string) error
}

// Injector writes traceparent values into carriers.
type Injector struct {
	key    string
	logger *slog.Logger
}

// InjectorOption configures an Injector.
type InjectorOption func(*Injector)

// WithCapitalizedKey emits the header as "Traceparent" instead of
// "traceparent".
func WithCapitalizedKey() InjectorOption {
	return func(i *Injector) {
		i.key = HeaderKeyCapitalized
	}
}

// WithInjectorLogger sets the diagnostic logger.
func WithInjectorLogger(logger *slog.Logger) InjectorOption {
	return func(i *Injector) {
		i.logger = logger
	}
}

// NewInjector returns an injector writing the lowercase header key unless
// configured otherwise.
func NewInjector(opts ...InjectorOption) *Injector {
	i := &Injector{key: HeaderKey, logger: slog.Default()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Inject adds the encoded span context to the carrier. A full carrier is a
// reported no-op, never a corruption: the refusal is logged and returned.
func (i *Injector) Inject(sc spancontext.SpanContext, c Carrier) error {
	if err := c.Set(i.key, spancontext.EncodeW3C(sc)); err != nil {
		i.logger.Warn("traceparent not injected", slog.String("reason", err.Error()))
		return err
	}
	return nil
}

// Inject writes sc into c under the lowercase header key.
func Inject(sc spancontext.SpanContext, c Carrier) error {
	return NewInjector().Inject(sc, c)
}

// Extract scans c for a traceparent value under the two accepted casings.
// A value of any length other than the exact encoded length is skipped, not
// an error. Extraction failure simply means "no parent".
func Extract(c Carrier) (spancontext.SpanContext, bool) {
	for _, key := range [...]string{HeaderKey, HeaderKeyCapitalized} {
		v, ok := c.Get(key)
		if !ok || len(v) != spancontext.EncodedLength {
			continue
		}
		return spancontext.DecodeW3C(v), true
	}
	return spancontext.SpanContext{}, false
}
