package correlation

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/o11ykit/autotrace/pkg/spancontext"
)

const (
	// DefaultCapacity bounds each tracking map. Spans whose exit event never
	// fires leak an entry; the bound keeps that leak finite.
	DefaultCapacity = 1000

	// DefaultMaxWalk bounds the parent-chain walk in GetParent.
	DefaultMaxWalk = 100
)

// ErrTableFull is returned when an insert would exceed the table capacity.
// The insert is dropped; existing entries are never evicted.
var ErrTableFull = errors.New("correlation: tracking table full")

// Tracker is the bidirectional association between correlation keys and
// active span contexts:
//
//	byKey:  key -> the innermost active span context for that key
//	bySpan: span context -> the key it was started under
//
// A key tracks one span at a time: starting a nested span under the same key
// overwrites the association, and the teardown protocol in StopTracking
// decides whether the parent association is restored or the entry removed.
//
// Operations take a single lock, so each insert/lookup/delete is atomic per
// key. There are no multi-key transactions; correctness for same-key
// reentrancy comes from the overwrite-then-compare protocol, not from
// locking.
type Tracker struct {
	mu     sync.Mutex
	byKey  map[Key]spancontext.SpanContext
	bySpan map[spancontext.SpanContext]Key

	capacity int
	maxWalk  int
	mem      Memory
	parents  ParentLookup
	logger   *slog.Logger
	onDrop   func()
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithCapacity bounds both tracking maps.
func WithCapacity(n int) TrackerOption {
	return func(t *Tracker) {
		t.capacity = n
	}
}

// WithMaxWalk bounds the parent-chain walk.
func WithMaxWalk(n int) TrackerOption {
	return func(t *Tracker) {
		t.maxWalk = n
	}
}

// WithMemory sets the reader used for the backing-value comparison in
// StopTracking.
func WithMemory(mem Memory) TrackerOption {
	return func(t *Tracker) {
		t.mem = mem
	}
}

// WithParentLookup sets the parent-chain strategy used by GetParent.
func WithParentLookup(pl ParentLookup) TrackerOption {
	return func(t *Tracker) {
		t.parents = pl
	}
}

// WithTrackerLogger sets the diagnostic logger.
func WithTrackerLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithDropHook registers a callback invoked on every capacity drop.
func WithDropHook(fn func()) TrackerOption {
	return func(t *Tracker) {
		t.onDrop = fn
	}
}

// NewTracker returns an empty tracker. Without options it compares backing
// values through IdentityMemory and walks parents at DefaultParentOffset.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		byKey:    make(map[Key]spancontext.SpanContext),
		bySpan:   make(map[spancontext.SpanContext]Key),
		capacity: DefaultCapacity,
		maxWalk:  DefaultMaxWalk,
		mem:      IdentityMemory{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.parents == nil {
		t.parents = NewOffsetParentLookup(t.mem, DefaultParentOffset)
	}
	return t
}

// StartTracking records sc as the active span for key, overwriting any prior
// association. Overwrite is deliberate: with nested calls reusing one key,
// only the innermost active span is tracked, and StopTracking later decides
// whether the outer association comes back.
//
// A full table drops the insert and returns ErrTableFull without touching
// unrelated entries.
func (t *Tracker) StartTracking(key Key, sc spancontext.SpanContext) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, keyKnown := t.byKey[key]
	_, spanKnown := t.bySpan[sc]
	if (!keyKnown && len(t.byKey) >= t.capacity) || (!spanKnown && len(t.bySpan) >= t.capacity) {
		if t.onDrop != nil {
			t.onDrop()
		}
		t.logger.Warn("tracking table full, dropping span association",
			slog.Uint64("key", uint64(key)))
		return ErrTableFull
	}

	t.byKey[key] = sc
	t.bySpan[sc] = key
	return nil
}

// Lookup returns the active span context for key.
func (t *Tracker) Lookup(key Key) (spancontext.SpanContext, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sc, ok := t.byKey[key]
	return sc, ok
}

// GetParent finds the active span context governing handle: it walks the
// execution-context parent chain, testing each visited handle for a tracked
// entry, stopping at the first hit or after maxWalk steps. Exhaustion is
// "not found", not an error.
func (t *Tracker) GetParent(handle uint64) (spancontext.SpanContext, bool) {
	data := handle
	for i := 0; i < t.maxWalk; i++ {
		if data == 0 {
			break
		}
		if sc, ok := t.Lookup(Key(data)); ok {
			return sc, true
		}
		next, ok := t.parents.ParentOf(data)
		if !ok {
			break
		}
		data = next
	}
	return spancontext.SpanContext{}, false
}

// StopTracking tears down the association for the closing span sc,
// restoring the parent association when execution demonstrably unwinds back
// into the parent's dynamic scope.
//
// The restore test compares the values the two keys point at (read through
// Memory), not the keys themselves: if the closing span's key still backs
// the same execution context as the parent's key, the key reverts to psc;
// any other situation (no parent, untracked parent, different backing value,
// unreadable memory) removes the entry outright. This distinguishes "this
// association is still the child being closed" from "a sibling or nested
// call already overwrote it".
//
// A span with no tracked key is a legitimate no-op (for example a
// pure-egress span that never had a local child). The reverse entry for sc
// is always removed, so teardown is idempotent.
func (t *Tracker) StopTracking(sc, psc spancontext.SpanContext) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key, ok := t.bySpan[sc]
	if !ok {
		t.logger.Debug("stop tracking: span not tracked")
		return
	}

	restore := false
	if !psc.IsZero() {
		if parentKey, ok := t.bySpan[psc]; ok {
			keyVal, errK := t.mem.ReadPointer(uint64(key))
			parentVal, errP := t.mem.ReadPointer(uint64(parentKey))
			restore = errK == nil && errP == nil && keyVal == parentVal
		}
	}

	if restore {
		t.byKey[key] = psc
	} else {
		delete(t.byKey, key)
	}
	delete(t.bySpan, sc)
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byKey)
}

// Clear removes every association. Used by engine shutdown.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.byKey)
	clear(t.bySpan)
}
