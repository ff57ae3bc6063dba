package mem

// RAM is the simulated byte-addressable backing store for all physical
// memory. On real hardware, physical addresses are accessed directly or
// through the teacher's direct map (mem.Physmem_t.Dmap,
// biscuit/src/mem/dmap.go: "returns a page-aligned virtual address for
// the given physical address using the direct mapping"). Since this
// kernel has no MMU to program, RAM plays the role Dmap plays there: the
// single place physical addresses turn into readable/writable bytes.
type RAM struct {
	bytes []byte
}

// NewRAM allocates size bytes of simulated physical memory, zeroed.
func NewRAM(size int) *RAM {
	return &RAM{bytes: make([]byte, size)}
}

// Size returns the total number of bytes of physical memory.
func (r *RAM) Size() int { return len(r.bytes) }

// Page returns a live slice of PageSize bytes mapped at the page
// containing phys — the direct-map analogue of mem.Physmem_t.Dmap.
func (r *RAM) Page(phys uintptr) []byte {
	base := int(phys) &^ PageMask
	return r.bytes[base : base+PageSize]
}

// At returns a live slice of n bytes starting at the exact byte offset
// phys (may span a page boundary), the analogue of Dmap8.
func (r *RAM) At(phys uintptr, n int) []byte {
	return r.bytes[int(phys) : int(phys)+n]
}

// Zero clears n bytes starting at phys.
func (r *RAM) Zero(phys uintptr, n int) {
	clear(r.At(phys, n))
}
