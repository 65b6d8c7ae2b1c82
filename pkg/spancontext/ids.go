package spancontext

import (
	"encoding/binary"
	"math/rand/v2"
)

// Identifier generation uses a non-cryptographic PRNG: uniform fill, each
// call independent, no global counters. Collisions are tolerated as in any
// standard trace-id scheme.

// NewTraceID returns a random 16-byte trace identifier.
func NewTraceID() TraceID {
	var id TraceID
	binary.BigEndian.PutUint64(id[:8], rand.Uint64())
	binary.BigEndian.PutUint64(id[8:], rand.Uint64())
	return id
}

// NewSpanID returns a random 8-byte span identifier.
func NewSpanID() SpanID {
	var id SpanID
	binary.BigEndian.PutUint64(id[:], rand.Uint64())
	return id
}
