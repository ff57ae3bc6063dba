// Package mem implements the physical frame pools and virtual address
// pools of spec.md §4.2 (C3, C4): two physical pools (kernel, user) each
// backed by a bitmap over a physical range, and a virtual pool tracking
// page-granular assignment of a virtual address range.
//
// Grounded on the teacher's mem.Physmem_t (biscuit/src/mem/mem.go), which
// is a single refcounted allocator over all of physical memory with a
// free-list embedded in Physpg_t. This spec's pools are simpler: two
// disjoint bitmap pools, no refcounting, because this spec's fork (§4.5)
// performs full physical copies rather than the teacher's copy-on-write
// sharing — a page here has exactly one owner at a time, so "allocated"
// is a bit, not a count. That's a deliberate simplification, not a
// missed feature; see DESIGN.md.
package mem

import (
	"sync"

	"minios/bitmap"
	"minios/errs"
)

// PageShift/PageSize/PageMask are the 32-bit x86 paging constants of
// spec.md §3 (4KiB pages).
const (
	PageShift = 12
	PageSize  = 1 << PageShift
	PageMask  = PageSize - 1
)

// FramePool is a fixed physical range managed as a page bitmap
// ("set bit ⇔ frame allocated", spec.md §3).
type FramePool struct {
	PhysBase uintptr
	NFrames  int
	mu       sync.Mutex
	bm       bitmap.Bitmap
}

// NewFramePool creates a pool covering [physBase, physBase+nframes*PageSize).
func NewFramePool(physBase uintptr, nframes int) *FramePool {
	return &FramePool{
		PhysBase: physBase,
		NFrames:  nframes,
		bm:       bitmap.New(nframes),
	}
}

// Alloc implements palloc: scans for one free bit, sets it, returns the
// physical address. Returns errs.ENOMEM only on exhaustion.
func (p *FramePool) Alloc() (uintptr, errs.Errno) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.bm.Scan(1)
	if idx < 0 {
		return 0, errs.ENOMEM
	}
	p.bm.Set(idx, true)
	return p.PhysBase + uintptr(idx)*PageSize, 0
}

// AllocRun allocates n contiguous frames in one pool, used by
// malloc_page for multi-page allocations.
func (p *FramePool) AllocRun(n int) (uintptr, errs.Errno) {
	if n <= 0 {
		return 0, errs.EINVAL
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.bm.Scan(n)
	if idx < 0 {
		return 0, errs.ENOMEM
	}
	for i := 0; i < n; i++ {
		p.bm.Set(idx+i, true)
	}
	return p.PhysBase + uintptr(idx)*PageSize, 0
}

// Free clears the bit for the frame at phys. Freeing an already-free
// frame is idempotent only when the caller holds exclusive ownership of
// that frame (spec.md §4.2's mfree_page contract); we don't attempt to
// detect double-frees here for the same reason the teacher doesn't:
// tracking would require the refcounting this pool deliberately omits.
func (p *FramePool) Free(phys uintptr) {
	idx := int((phys - p.PhysBase) / PageSize)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bm.Set(idx, false)
}

// FreeRun clears n contiguous frames starting at phys.
func (p *FramePool) FreeRun(phys uintptr, n int) {
	idx := int((phys - p.PhysBase) / PageSize)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < n; i++ {
		p.bm.Set(idx+i, false)
	}
}

// Contains reports whether phys falls within this pool's range.
func (p *FramePool) Contains(phys uintptr) bool {
	return phys >= p.PhysBase && phys < p.PhysBase+uintptr(p.NFrames)*PageSize
}

// FreeCount and AllocCount report pool occupancy; FreeCount+AllocCount
// == NFrames always (TESTABLE PROPERTY 2, frame conservation).
func (p *FramePool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.NFrames - p.bm.Popcount()
}

func (p *FramePool) AllocCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bm.Popcount()
}

// VirtPool tracks page-granular assignment of a virtual address range
// (spec.md §3). The kernel pool is process-wide (one mutex shared by
// every address space); a per-process pool covers the user-accessible
// range and is guarded by that process's own mutex — callers pass
// whichever *sync.Mutex applies, mirroring "lock?" in spec.md §3's data
// model.
type VirtPool struct {
	Base   uintptr
	NPages int
	mu     *sync.Mutex
	bm     bitmap.Bitmap
}

// NewVirtPool creates a pool over [base, base+npages*PageSize). If mu is
// nil, the pool allocates its own (per-process pools do this; the kernel
// pool is constructed once and shared).
func NewVirtPool(base uintptr, npages int, mu *sync.Mutex) *VirtPool {
	if mu == nil {
		mu = &sync.Mutex{}
	}
	return &VirtPool{Base: base, NPages: npages, mu: mu, bm: bitmap.New(npages)}
}

// Alloc implements vaddr_alloc: scans for n contiguous clear bits, sets
// them, returns the starting virtual address.
func (v *VirtPool) Alloc(n int) (uintptr, errs.Errno) {
	if n <= 0 {
		return 0, errs.EINVAL
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	idx := v.bm.Scan(n)
	if idx < 0 {
		return 0, errs.ENOMEM
	}
	for i := 0; i < n; i++ {
		v.bm.Set(idx+i, true)
	}
	return v.Base + uintptr(idx)*PageSize, 0
}

// Free clears n pages' worth of bits starting at vaddr.
func (v *VirtPool) Free(vaddr uintptr, n int) {
	idx := int((vaddr - v.Base) / PageSize)
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := 0; i < n; i++ {
		v.bm.Set(idx+i, false)
	}
}

// MarkAllocated force-sets n pages as allocated without scanning, used
// when installing a mapping at a caller-chosen address (get_a_page).
func (v *VirtPool) MarkAllocated(vaddr uintptr, n int) errs.Errno {
	idx := int((vaddr - v.Base) / PageSize)
	if idx < 0 || idx+n > v.NPages {
		return errs.EINVAL
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := 0; i < n; i++ {
		if v.bm.Test(idx + i) {
			return errs.EINVAL
		}
	}
	for i := 0; i < n; i++ {
		v.bm.Set(idx+i, true)
	}
	return 0
}

// Clone deep-copies the pool's bitmap, used by fork to duplicate a
// child's per-process virtual pool (spec.md §4.5).
func (v *VirtPool) Clone() *VirtPool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return &VirtPool{Base: v.Base, NPages: v.NPages, mu: &sync.Mutex{}, bm: v.bm.Clone()}
}
