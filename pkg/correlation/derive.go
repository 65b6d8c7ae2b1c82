// Package correlation associates interception events with logical execution
// units of the observed process: it derives stable correlation keys from
// captured entry frames and tracks which span context is active for each key.
package correlation

// Key identifies one logical execution unit in the observed process. It is a
// borrowed pointer-sized value supplied by the interception layer; this
// package only ever uses it as a map key or as an address handed to a Memory
// reader, never as something it owns.
//
// The zero key is the "no key" sentinel.
type Key uint64

// Convention selects where the execution-context handle lives in a captured
// entry frame. It comes from configuration; it is never auto-detected.
type Convention int

const (
	// RegisterBased reads the handle from a designated register.
	RegisterBased Convention = iota
	// StackBased reads the handle from a designated stack slot.
	StackBased
)

// Frame is a snapshot of the observed function's entry state, captured by
// the interception layer. Registers and stack slots are raw pointer-sized
// values; this package never interprets them beyond picking one out.
type Frame struct {
	Regs  []uint64
	Stack []uint64
}

// DeriveKey picks the correlation key out of a captured frame. It is pure:
// the interception layer calls it at both the entry and the exit event of an
// invocation, with no shared state between the two, and relies on both calls
// producing the same key.
//
// An out-of-range position yields the zero key.
func DeriveKey(f Frame, conv Convention, pos int) Key {
	if pos < 0 {
		return 0
	}
	switch conv {
	case RegisterBased:
		if pos >= len(f.Regs) {
			return 0
		}
		return Key(f.Regs[pos])
	case StackBased:
		if pos >= len(f.Stack) {
			return 0
		}
		return Key(f.Stack[pos])
	default:
		return 0
	}
}
