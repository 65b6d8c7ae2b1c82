package correlation

// Memory reads pointer-sized words from the observed process's address
// space. The interception layer supplies the real implementation; tests use
// in-memory fakes.
type Memory interface {
	// ReadPointer reads the pointer-sized value stored at addr.
	ReadPointer(addr uint64) (uint64, error)
}

// MemoryFunc adapts a function to the Memory interface.
type MemoryFunc func(addr uint64) (uint64, error)

// ReadPointer calls f.
func (f MemoryFunc) ReadPointer(addr uint64) (uint64, error) {
	return f(addr)
}

// IdentityMemory treats every address as its own backing value. It is the
// default when the engine runs without a foreign process to read from: the
// backing-value comparison in StopTracking then degenerates to comparing the
// keys themselves, which is exact for same-key nesting.
type IdentityMemory struct{}

// ReadPointer returns addr itself.
func (IdentityMemory) ReadPointer(addr uint64) (uint64, error) {
	return addr, nil
}

// ParentLookup walks one step up the execution-context parent chain of the
// observed process. Implementations encode the runtime's parent-pointer
// convention; the tracker only iterates them under a fixed bound.
type ParentLookup interface {
	// ParentOf returns the parent handle of handle, or false when the chain
	// ends or the handle cannot be read.
	ParentOf(handle uint64) (uint64, bool)
}

// ParentLookupFunc adapts a function to the ParentLookup interface.
type ParentLookupFunc func(handle uint64) (uint64, bool)

// ParentOf calls f.
func (f ParentLookupFunc) ParentOf(handle uint64) (uint64, bool) {
	return f(handle)
}

// DefaultParentOffset is the byte offset of the parent pointer inside an
// execution-context handle under the interface-value layout convention: the
// parent reference's data word sits one pointer past the handle.
const DefaultParentOffset = 8

// NewOffsetParentLookup reads the parent handle at a fixed byte offset from
// the current handle through mem.
func NewOffsetParentLookup(mem Memory, offset uint64) ParentLookup {
	return ParentLookupFunc(func(handle uint64) (uint64, bool) {
		if handle == 0 {
			return 0, false
		}
		parent, err := mem.ReadPointer(handle + offset)
		if err != nil || parent == 0 {
			return 0, false
		}
		return parent, true
	})
}
