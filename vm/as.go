package vm

import (
	"sync"

	"minios/errs"
	"minios/mem"
)

// AddressSpace bundles a page directory, the owning process's virtual
// pool, and the lock protecting both — grounded on the teacher's Vm_t
// (biscuit/src/vm/as.go), which bundles Pmap, Vmregion_t, and a mutex for
// exactly the same reason: page-table edits and virtual-range bookkeeping
// must move together.
type AddressSpace struct {
	mu    sync.Mutex
	Dir   *PageDir
	Virt  *mem.VirtPool
	RAM   *mem.RAM
	Phys  *mem.FramePool // per-page user frames
	Kpool *mem.FramePool // page-table frames always come from here

	// InvalidateHook stands in for a TLB shootdown; there is no MMU to
	// invalidate, but the hook exists so tests can assert it fired,
	// preserving the contract shape of spec.md §4.2's mfree_page.
	InvalidateHook func(vaddr uintptr)
}

// NewAddressSpace builds an address space whose kernel half mirrors
// kernelDir (spec.md §3).
func NewAddressSpace(kernelDir *PageDir, virt *mem.VirtPool, ram *mem.RAM, userPool, kernelPool *mem.FramePool) *AddressSpace {
	dir := NewPageDir()
	dir.MirrorKernel(kernelDir)
	return &AddressSpace{Dir: dir, Virt: virt, RAM: ram, Phys: userPool, Kpool: kernelPool}
}

// MapPage installs a PTE mapping vaddr to phys with the given
// user/writable flags, allocating the page table frame if necessary
// (spec.md §4.2's page_table_add).
func (as *AddressSpace) MapPage(vaddr, phys uintptr, user, writable bool) errs.Errno {
	as.mu.Lock()
	defer as.mu.Unlock()
	pte, err := as.Dir.Walk(as.Kpool, vaddr, true)
	if err != nil {
		return errs.ENOMEM
	}
	if pte.Present {
		return errs.EINVAL
	}
	*pte = Entry{Phys: phys, Present: true, Writable: writable, User: user}
	return 0
}

// UnmapPage clears the PTE for vaddr. It is an error to unmap an address
// that is not mapped.
func (as *AddressSpace) UnmapPage(vaddr uintptr) errs.Errno {
	as.mu.Lock()
	defer as.mu.Unlock()
	pte, err := as.Dir.Walk(as.Kpool, vaddr, false)
	if err != nil || !pte.Present {
		return errs.EINVAL
	}
	*pte = Entry{}
	if as.InvalidateHook != nil {
		as.InvalidateHook(vaddr)
	}
	return 0
}

// Translate returns the physical address backing vaddr, or an error if
// unmapped.
func (as *AddressSpace) Translate(vaddr uintptr) (uintptr, errs.Errno) {
	as.mu.Lock()
	defer as.mu.Unlock()
	pte, err := as.Dir.Walk(as.Kpool, vaddr, false)
	if err != nil || !pte.Present {
		return 0, errs.EFAULT
	}
	return pte.Phys + uintptr(pageOffset(vaddr)), 0
}

// AllocPages implements malloc_page: allocate n contiguous virtual
// pages, a physical frame per page, and install the mappings. On
// partial failure, previously allocated frames for this call are
// released (spec.md §4.2).
func (as *AddressSpace) AllocPages(pool *mem.FramePool, n int, user, writable bool) (uintptr, errs.Errno) {
	vaddr, err := as.Virt.Alloc(n)
	if err != 0 {
		return 0, err
	}
	allocated := make([]uintptr, 0, n)
	for i := 0; i < n; i++ {
		phys, perr := pool.Alloc()
		if perr != 0 {
			for _, p := range allocated {
				pool.Free(p)
			}
			for j := 0; j < i; j++ {
				as.UnmapPage(vaddr + uintptr(j)*mem.PageSize)
			}
			as.Virt.Free(vaddr, n)
			return 0, errs.ENOMEM
		}
		allocated = append(allocated, phys)
		if merr := as.MapPage(vaddr+uintptr(i)*mem.PageSize, phys, user, writable); merr != 0 {
			pool.Free(phys)
			for _, p := range allocated[:len(allocated)-1] {
				pool.Free(p)
			}
			for j := 0; j < i; j++ {
				as.UnmapPage(vaddr + uintptr(j)*mem.PageSize)
			}
			as.Virt.Free(vaddr, n)
			return 0, merr
		}
	}
	return vaddr, 0
}

// GetAPage allocates a single physical frame and maps it at exactly
// vaddr, used for on-demand user-stack growth (spec.md §4.2).
func (as *AddressSpace) GetAPage(pool *mem.FramePool, vaddr uintptr) errs.Errno {
	if err := as.Virt.MarkAllocated(vaddr, 1); err != 0 {
		return err
	}
	phys, err := pool.Alloc()
	if err != 0 {
		as.Virt.Free(vaddr, 1)
		return err
	}
	if merr := as.MapPage(vaddr, phys, true, true); merr != 0 {
		pool.Free(phys)
		as.Virt.Free(vaddr, 1)
		return merr
	}
	return 0
}

// FreePages unmaps n pages starting at vaddr, invalidates them, and
// clears their bits in both the physical and virtual pools
// (spec.md §4.2's mfree_page).
func (as *AddressSpace) FreePages(pool *mem.FramePool, vaddr uintptr, n int) {
	for i := 0; i < n; i++ {
		va := vaddr + uintptr(i)*mem.PageSize
		phys, err := as.Translate(va)
		if err != 0 {
			continue
		}
		as.UnmapPage(va)
		pool.Free(phys)
	}
	as.Virt.Free(vaddr, n)
}

// CopyIn reads n bytes from user vaddr into a fresh kernel-owned slice —
// the kernel-side temporary mapping spec.md §4.5 describes for fork's
// parent-to-child page copy and for reading data out of a user buffer.
func (as *AddressSpace) CopyIn(vaddr uintptr, n int) ([]byte, errs.Errno) {
	out := make([]byte, n)
	off := 0
	for off < n {
		va := vaddr + uintptr(off)
		phys, err := as.Translate(va)
		if err != 0 {
			return nil, errs.EFAULT
		}
		pageOff := pageOffset(va)
		chunk := mem.PageSize - pageOff
		if chunk > n-off {
			chunk = n - off
		}
		copy(out[off:off+chunk], as.RAM.At(phys, chunk))
		off += chunk
	}
	return out, 0
}

// CopyOut writes data into the user address space starting at vaddr.
func (as *AddressSpace) CopyOut(vaddr uintptr, data []byte) errs.Errno {
	off := 0
	for off < len(data) {
		va := vaddr + uintptr(off)
		phys, err := as.Translate(va)
		if err != 0 {
			return errs.EFAULT
		}
		pageOff := pageOffset(va)
		chunk := mem.PageSize - pageOff
		if chunk > len(data)-off {
			chunk = len(data) - off
		}
		copy(as.RAM.At(phys, chunk), data[off:off+chunk])
		off += chunk
	}
	return 0
}

// ForEachUserPTE walks every present PDE/PTE of the user half (PDEs
// below KernelPDEStart), calling cb with the mapped virtual and physical
// addresses. Used by fork (to copy pages) and exit (to free them). The
// entries are collected under the lock and cb runs after it is released,
// so cb may call other AddressSpace methods.
func (as *AddressSpace) ForEachUserPTE(cb func(vaddr, phys uintptr, writable bool)) {
	type userPTE struct {
		vaddr, phys uintptr
		writable    bool
	}
	var ptes []userPTE
	as.mu.Lock()
	for pdi := 0; pdi < KernelPDEStart; pdi++ {
		pt := as.Dir.Entries[pdi]
		if pt == nil {
			continue
		}
		for pti := 0; pti < 1024; pti++ {
			e := pt.Entries[pti]
			if !e.Present {
				continue
			}
			vaddr := uintptr(pdi)<<22 | uintptr(pti)<<12
			ptes = append(ptes, userPTE{vaddr, e.Phys, e.Writable})
		}
	}
	as.mu.Unlock()
	for _, p := range ptes {
		cb(p.vaddr, p.phys, p.writable)
	}
}
