package vm

import (
	"sync"

	"minios/errs"
	"minios/mem"
)

// SlabAllocator implements sys_malloc/sys_free (spec.md §4.2): small
// kernel allocations are rounded up to a power-of-two size class and
// served from a per-class free list, amortizing the cost of carving a
// whole page per allocation — the same size-class idea the cloudfly-
// readgo runtime allocator uses for its small-object path
// (other_examples/fc6e0fe0_cloudfly-readgo__runtime-malloc.go.go), scaled
// down to one kernel heap instead of a per-P cache hierarchy.
//
// Allocations at or above a full page bypass the size classes entirely
// and go straight to AllocPages, mirroring that allocator's "large
// object" path.
type SlabAllocator struct {
	mu      sync.Mutex
	as      *AddressSpace
	pool    *mem.FramePool
	classes []sizeClass
}

type sizeClass struct {
	size int
	free []uintptr // addresses of free objects of this size
}

// minClass is the smallest size class; below this, tiny allocations
// would waste more on bookkeeping than they save.
const minClass = 16

// NewSlabAllocator builds a kernel heap allocator backed by pool and
// mapped into as. Size classes are powers of two from minClass up to
// (not including) one page.
func NewSlabAllocator(as *AddressSpace, pool *mem.FramePool) *SlabAllocator {
	s := &SlabAllocator{as: as, pool: pool}
	for sz := minClass; sz < mem.PageSize; sz *= 2 {
		s.classes = append(s.classes, sizeClass{size: sz})
	}
	return s
}

func classIndex(classes []sizeClass, n int) int {
	for i, c := range classes {
		if c.size >= n {
			return i
		}
	}
	return -1
}

// Malloc returns the address of a block of at least n bytes; a reused
// block's previous contents are not cleared.
// Requests at or above a page are satisfied directly from the address
// space's page allocator (spec.md §4.2 names this the "large object"
// case, same as AllocPages).
func (s *SlabAllocator) Malloc(n int) (uintptr, errs.Errno) {
	if n <= 0 {
		return 0, errs.EINVAL
	}
	if n >= mem.PageSize {
		pages := (n + mem.PageSize - 1) / mem.PageSize
		return s.as.AllocPages(s.pool, pages, false, true)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ci := classIndex(s.classes, n)
	if ci < 0 {
		return 0, errs.EINVAL
	}
	c := &s.classes[ci]
	if len(c.free) == 0 {
		if err := s.refill(c); err != 0 {
			return 0, err
		}
	}
	addr := c.free[len(c.free)-1]
	c.free = c.free[:len(c.free)-1]
	return addr, 0
}

// refill carves a freshly allocated page into objects of c's size and
// pushes them all onto its free list.
func (s *SlabAllocator) refill(c *sizeClass) errs.Errno {
	page, err := s.as.AllocPages(s.pool, 1, false, true)
	if err != 0 {
		return err
	}
	for off := 0; off+c.size <= mem.PageSize; off += c.size {
		c.free = append(c.free, page+uintptr(off))
	}
	return 0
}

// Free returns a block of size n, previously returned by Malloc, to its
// size class's free list. Objects are never coalesced back into pages:
// once a page is carved for a class it stays that class's, matching the
// teacher's observation that kernel heaps rarely shrink in practice.
func (s *SlabAllocator) Free(addr uintptr, n int) {
	if n >= mem.PageSize {
		pages := (n + mem.PageSize - 1) / mem.PageSize
		s.as.FreePages(s.pool, addr, pages)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ci := classIndex(s.classes, n)
	if ci < 0 {
		return
	}
	s.classes[ci].free = append(s.classes[ci].free, addr)
}
