// Package proc implements fork/exec/wait/exit (spec.md §4.5, C8): the
// process abstraction layered on top of a thread.PCB plus its address
// space, and the four lifecycle operations that create, replace, and
// tear one down.
//
// Grounded on the teacher's Proc_t (process = a set of PCBs sharing one
// Vm_t), simplified to this spec's one-thread-per-process model: here
// Process wraps exactly one PCB, so fork/wait/exit reduce to PCB-level
// operations without a thread-group layer.
package proc

import (
	"encoding/binary"
	"sync"

	"minios/errs"
	"minios/fdtable"
	"minios/mem"
	"minios/thread"
	"minios/vm"
)

// Process is the unit fork/exec/wait/exit operate on: a PCB together
// with the address space it owns (nil only for the very first kernel
// threads that never call fork/exec).
type Process struct {
	*thread.PCB

	// Argv is the argument vector installed by the most recent Exec;
	// there is no user stack to copy it onto, so it is kept here for
	// whatever reads argv[0] for a process name or a ps listing.
	Argv []string

	heapMu    sync.Mutex
	heap      *vm.SlabAllocator
	heapSizes map[uintptr]int
}

// NewProcess wraps an existing PCB (typically one thread.Scheduler.Spawn
// already created for init or another bootstrap thread).
func NewProcess(pcb *thread.PCB) *Process {
	return &Process{PCB: pcb}
}

// Runtime bundles the collaborators fork/exec/exit need beyond the PCB
// itself: the scheduler, the physical pools, the shared kernel page
// directory every address space mirrors, and the mounted file system.
// Passed explicitly rather than hidden behind package globals, the same
// explicit-context call spec.md §9 makes for in-memory inodes.
type Runtime struct {
	Sched      *thread.Scheduler
	RAM        *mem.RAM
	UserPool   *mem.FramePool
	KernelPool *mem.FramePool
	KernelDir  *vm.PageDir
	FS         *fdtable.FileSystem
}

// NewRuntime wires a Runtime to its collaborators.
func NewRuntime(sched *thread.Scheduler, ram *mem.RAM, userPool, kernelPool *mem.FramePool, kernelDir *vm.PageDir, fs *fdtable.FileSystem) *Runtime {
	return &Runtime{Sched: sched, RAM: ram, UserPool: userPool, KernelPool: kernelPool, KernelDir: kernelDir, FS: fs}
}

// freeUserPages releases every physical frame currently mapped in as's
// user half back to pool, used by both Exec (discarding the old image)
// and Exit (tearing the process down).
func freeUserPages(as *vm.AddressSpace, pool *mem.FramePool) {
	if as == nil {
		return
	}
	as.ForEachUserPTE(func(_, phys uintptr, _ bool) {
		pool.Free(phys)
	})
}

// Fork implements spec.md §4.5's fork: a new PCB and address space, a
// full physical-page copy of every present user PTE (no copy-on-write —
// TESTABLE PROPERTY 11 requires that a write by the child, or by the
// parent, after fork never becomes visible to the other, which only a
// full copy makes trivially true without a real page-fault trap to
// implement COW on), the virtual-pool bitmap duplicated, and the FD
// table duplicated with each referenced global slot's refcount bumped
// rather than the inode reopened, so parent and child share one byte
// position per inherited descriptor exactly as POSIX fork does.
//
// childEntry is the function the child's goroutine runs once scheduled;
// there is no saved register file to "return into" on this model, so
// the caller supplies what the child does next (typically loading a
// program via Exec immediately).
func (rt *Runtime) Fork(parent *Process, childEntry func(*Process)) (*Process, errs.Errno) {
	if parent.AS == nil {
		return nil, errs.EINVAL
	}

	childVirt := parent.AS.Virt.Clone()
	childAS := vm.NewAddressSpace(rt.KernelDir, childVirt, rt.RAM, rt.UserPool, rt.KernelPool)

	var copyErr errs.Errno
	parent.AS.ForEachUserPTE(func(vaddr, _ uintptr, writable bool) {
		if copyErr != 0 {
			return
		}
		data, err := parent.AS.CopyIn(vaddr, mem.PageSize)
		if err != 0 {
			copyErr = err
			return
		}
		phys, aerr := rt.UserPool.Alloc()
		if aerr != 0 {
			copyErr = aerr
			return
		}
		if merr := childAS.MapPage(vaddr, phys, true, writable); merr != 0 {
			rt.UserPool.Free(phys)
			copyErr = merr
			return
		}
		if cerr := childAS.CopyOut(vaddr, data); cerr != 0 {
			copyErr = cerr
			return
		}
	})
	if copyErr != 0 {
		freeUserPages(childAS, rt.UserPool)
		return nil, copyErr
	}

	pcb, serr := rt.Sched.Spawn(parent.Name, parent.Priority, func(pcb *thread.PCB) {
		childEntry(&Process{PCB: pcb})
	})
	if serr != nil {
		freeUserPages(childAS, rt.UserPool)
		return nil, errs.ENOMEM
	}
	// Spawn assigns ParentPID 1 (0 for PID 1 itself), the right default for the
	// initial kernel-bootstrap threads it was built for (spec.md §4.3)
	// but not for fork, whose child belongs to the forking process.
	pcb.ParentPID = parent.PID
	pcb.AS = childAS
	pcb.CwdInodeNo = parent.CwdInodeNo

	for fd := 0; fd < thread.MaxFDs; fd++ {
		slot := parent.FDTable[fd]
		if slot == thread.FreeFD {
			continue
		}
		if err := rt.FS.Global.IncRef(slot); err != 0 {
			continue
		}
		pcb.FDTable[fd] = slot
	}

	return &Process{PCB: pcb, Argv: append([]string(nil), parent.Argv...)}, 0
}

// Wait implements spec.md §4.5's wait: reap the first HANGING child
// found (TESTABLE PROPERTY 12), else block WAITING until one becomes
// HANGING, else fail ECHILD if there are no children at all. Mirrors
// ioq.Queue's "recheck the condition after every wakeup" loop shape,
// since a wakeup here only means "a child changed state", not
// necessarily "the child I'm looking for is ready".
func (rt *Runtime) Wait(parent *Process) (childPID int, status int, err errs.Errno) {
	for {
		hasChildren := false
		var hanging *thread.PCB
		rt.Sched.ForEachChild(parent.PID, func(c *thread.PCB) bool {
			hasChildren = true
			if c.Status == thread.HANGING {
				hanging = c
				return true
			}
			return false
		})
		if hanging != nil {
			pid := hanging.PID
			st := hanging.ExitStatus
			rt.Sched.ThreadExit(hanging, false)
			return pid, st, 0
		}
		if !hasChildren {
			return -1, 0, errs.ECHILD
		}
		rt.Sched.Block(parent.PCB, thread.WAITING)
	}
}

// Exit implements spec.md §4.5's exit: free every physical user page,
// close every still-open FD, reparent surviving children to init (PID
// 1), wake the parent if it is already blocked in Wait, and finally
// block HANGING forever so a future Wait can reap this PCB's PID and
// exit status (TESTABLE PROPERTY 12).
func (rt *Runtime) Exit(proc *Process, status int) {
	freeUserPages(proc.AS, rt.UserPool)

	for fd := 0; fd < thread.MaxFDs; fd++ {
		if proc.FDTable[fd] != thread.FreeFD {
			rt.FS.Close(proc.PCB, fd)
		}
	}

	rt.Sched.ForEachChild(proc.PID, func(c *thread.PCB) bool {
		c.ParentPID = 1
		return false
	})

	proc.ExitStatus = status
	if parentPCB, ok := rt.Sched.Lookup(proc.ParentPID); ok && parentPCB.Status == thread.WAITING {
		rt.Sched.Unblock(parentPCB)
	}

	rt.Sched.Block(proc.PCB, thread.HANGING)
}

// --- ELF loading (spec.md §4.5/§6) ---

const (
	elfClass32  = 1
	elfData2LSB = 1
	etExec      = 2
	emI386      = 3
	evCurrent   = 1
	ptLoad      = 1
	pfWrite     = 0x2
	ehdrSize    = 52
	phdrSize    = 32
)

type programHeader struct {
	Type, Offset, Vaddr, Filesz, Memsz, Flags uint32
}

// parseELF validates the 32-bit little-endian ELF header spec.md §6
// names and returns its PT_LOAD program headers. Grounded on
// kernel/chentry.go's header-validation style (check magic, type,
// machine, version before trusting anything else), generalized from
// "patch one field" to "return every loadable segment".
func parseELF(data []byte) ([]programHeader, errs.Errno) {
	if len(data) < ehdrSize {
		return nil, errs.EINVAL
	}
	if data[0] != 0x7f || data[1] != 'E' || data[2] != 'L' || data[3] != 'F' {
		return nil, errs.EINVAL
	}
	if data[4] != elfClass32 || data[5] != elfData2LSB {
		return nil, errs.EINVAL
	}
	le := binary.LittleEndian
	if le.Uint16(data[16:18]) != etExec || le.Uint16(data[18:20]) != emI386 || le.Uint32(data[20:24]) != evCurrent {
		return nil, errs.EINVAL
	}

	phoff := le.Uint32(data[28:32])
	phentsize := le.Uint16(data[42:44])
	phnum := le.Uint16(data[44:46])
	if phentsize != phdrSize || phnum > 1024 {
		return nil, errs.EINVAL
	}

	phdrs := make([]programHeader, 0, phnum)
	for i := 0; i < int(phnum); i++ {
		off := int(phoff) + i*int(phentsize)
		if off < 0 || off+phdrSize > len(data) {
			return nil, errs.EFAULT
		}
		phdrs = append(phdrs, programHeader{
			Type:   le.Uint32(data[off : off+4]),
			Offset: le.Uint32(data[off+4 : off+8]),
			Vaddr:  le.Uint32(data[off+8 : off+12]),
			Filesz: le.Uint32(data[off+16 : off+20]),
			Memsz:  le.Uint32(data[off+20 : off+24]),
			Flags:  le.Uint32(data[off+24 : off+28]),
		})
	}
	return phdrs, 0
}

func pageAlignDown(v uint32) uint32 { return v &^ (mem.PageSize - 1) }
func pageAlignUp(v uint32) uint32   { return pageAlignDown(v + mem.PageSize - 1) }

// Exec implements spec.md §4.5's exec: validate the ELF image, discard
// the process's current user mappings, map every PT_LOAD segment
// page-aligned (other segment types are read but not mapped, matching
// §6), copy in p_filesz bytes of file content per segment and zero-fill
// the rest up to p_memsz (the .bss tail), and install the new address
// space and argv on success. On any failure the process keeps its old
// image untouched until the new one is fully built.
func (rt *Runtime) Exec(p *Process, path string, argv []string) errs.Errno {
	fd, err := rt.FS.Open(p.PCB, path, fdtable.ORDONLY)
	if err != 0 {
		return err
	}
	st, serr := rt.FS.Stat(p.PCB, path)
	if serr != 0 {
		rt.FS.Close(p.PCB, fd)
		return serr
	}
	data, rerr := rt.FS.Read(p.PCB, fd, int(st.Size))
	rt.FS.Close(p.PCB, fd)
	if rerr != 0 {
		return rerr
	}

	phdrs, perr := parseELF(data)
	if perr != 0 {
		return perr
	}

	base := p.AS.Virt.Base
	npages := p.AS.Virt.NPages
	newVirt := mem.NewVirtPool(base, npages, nil)
	newAS := vm.NewAddressSpace(rt.KernelDir, newVirt, rt.RAM, rt.UserPool, rt.KernelPool)

	for _, ph := range phdrs {
		if ph.Type != ptLoad {
			continue
		}
		if int(ph.Offset)+int(ph.Filesz) > len(data) {
			freeUserPages(newAS, rt.UserPool)
			return errs.EFAULT
		}

		start := pageAlignDown(ph.Vaddr)
		end := pageAlignUp(ph.Vaddr + ph.Memsz)
		writable := ph.Flags&pfWrite != 0

		for va := start; va < end; va += mem.PageSize {
			if merr := newVirt.MarkAllocated(uintptr(va), 1); merr != 0 {
				freeUserPages(newAS, rt.UserPool)
				return merr
			}
			phys, aerr := rt.UserPool.Alloc()
			if aerr != 0 {
				freeUserPages(newAS, rt.UserPool)
				return aerr
			}
			rt.RAM.Zero(phys, mem.PageSize)
			if merr := newAS.MapPage(uintptr(va), phys, true, writable); merr != 0 {
				rt.UserPool.Free(phys)
				freeUserPages(newAS, rt.UserPool)
				return merr
			}
		}

		if ph.Filesz > 0 {
			if cerr := newAS.CopyOut(uintptr(ph.Vaddr), data[ph.Offset:ph.Offset+ph.Filesz]); cerr != 0 {
				freeUserPages(newAS, rt.UserPool)
				return cerr
			}
		}
	}

	freeUserPages(p.AS, rt.UserPool)
	p.AS = newAS
	p.Argv = argv
	// The old image's heap, if any, pointed into pages that were just
	// freed; a fresh image starts with a fresh heap (spec.md §4.2's
	// sys_malloc has no cross-exec persistence requirement).
	p.heapMu.Lock()
	p.heap = nil
	p.heapSizes = nil
	p.heapMu.Unlock()
	return 0
}

// Malloc implements sys_malloc for a user process: a per-process
// vm.SlabAllocator (spec.md §4.2) backed by this process's own address
// space and the runtime's user frame pool, created lazily on first use.
// The allocation's size is remembered so Free does not need it repeated
// (real free(void*) does not take a size either).
func (rt *Runtime) Malloc(p *Process, n int) (uintptr, errs.Errno) {
	p.heapMu.Lock()
	defer p.heapMu.Unlock()
	if p.heap == nil {
		p.heap = vm.NewSlabAllocator(p.AS, rt.UserPool)
		p.heapSizes = make(map[uintptr]int)
	}
	addr, err := p.heap.Malloc(n)
	if err != 0 {
		return 0, err
	}
	p.heapSizes[addr] = n
	return addr, 0
}

// Free implements sys_free: looks up the size recorded by the matching
// Malloc and returns the block to its size class. Freeing an address
// Malloc never returned is a no-op, matching a real free(garbage)'s
// undefined-but-harmless-here behavior as closely as a bitmap-free
// simulation can.
func (rt *Runtime) Free(p *Process, addr uintptr) {
	p.heapMu.Lock()
	defer p.heapMu.Unlock()
	if p.heap == nil {
		return
	}
	n, ok := p.heapSizes[addr]
	if !ok {
		return
	}
	delete(p.heapSizes, addr)
	p.heap.Free(addr, n)
}
