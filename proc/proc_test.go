package proc

import (
	"testing"

	"minios/blockdev"
	"minios/errs"
	"minios/fdtable"
	"minios/fs"
	"minios/mem"
	"minios/thread"
	"minios/vm"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	ram := mem.NewRAM(12 * mem.PageSize)
	kernelPool := mem.NewFramePool(0, 4)
	userPool := mem.NewFramePool(uintptr(4*mem.PageSize), 8)
	kernelDir := vm.NewPageDir()

	dev := blockdev.NewMemDisk(4096)
	part, ferr := fs.Mkfs(dev, 0, 4096, 256)
	if ferr != 0 {
		t.Fatalf("Mkfs: %v", ferr)
	}
	sched := thread.NewScheduler(thread.NewPIDPool(8))
	fsys := fdtable.NewFileSystem(part, nil, nil, sched)

	return NewRuntime(sched, ram, userPool, kernelPool, kernelDir, fsys)
}

func newTestAS(rt *Runtime) *vm.AddressSpace {
	virt := mem.NewVirtPool(0x1000000, 8, nil)
	return vm.NewAddressSpace(rt.KernelDir, virt, rt.RAM, rt.UserPool, rt.KernelPool)
}

// TestForkCopyIsIndependent is TESTABLE PROPERTY 11: a write by the
// child after fork must never become visible to the parent, and vice
// versa, which this spec's full-copy (not copy-on-write) fork makes
// true without any page-fault trap.
func TestForkCopyIsIndependent(t *testing.T) {
	rt := newTestRuntime(t)

	parentPCB := thread.NewPCB(1, 0, "parent", 4)
	parentPCB.AS = newTestAS(rt)
	parent := NewProcess(parentPCB)

	vaddr, aerr := parent.AS.AllocPages(rt.UserPool, 1, true, true)
	if aerr != 0 {
		t.Fatalf("AllocPages: %v", aerr)
	}
	if err := parent.AS.CopyOut(vaddr, []byte{0xAA}); err != 0 {
		t.Fatalf("CopyOut: %v", err)
	}

	child, ferr := rt.Fork(parent, func(c *Process) {})
	if ferr != 0 {
		t.Fatalf("Fork: %v", ferr)
	}

	if err := child.AS.CopyOut(vaddr, []byte{0xBB}); err != 0 {
		t.Fatalf("child CopyOut: %v", err)
	}

	pdata, perr := parent.AS.CopyIn(vaddr, 1)
	if perr != 0 || pdata[0] != 0xAA {
		t.Fatalf("parent page = %v, err=%v; want untouched 0xAA", pdata, perr)
	}
	cdata, cerr := child.AS.CopyIn(vaddr, 1)
	if cerr != 0 || cdata[0] != 0xBB {
		t.Fatalf("child page = %v, err=%v; want 0xBB", cdata, cerr)
	}
}

// TestForkDuplicatesFDTableSharingOneOpenFile checks that fork installs
// the same global slot (shared byte position) in the child's FD table,
// bumping its refcount rather than reopening the inode.
func TestForkDuplicatesFDTableSharingOneOpenFile(t *testing.T) {
	rt := newTestRuntime(t)

	parentPCB := thread.NewPCB(1, 0, "parent", 4)
	parentPCB.AS = newTestAS(rt)
	parent := NewProcess(parentPCB)

	fd, oerr := rt.FS.Open(parent.PCB, "/a", fdtable.OCREAT|fdtable.ORDWR)
	if oerr != 0 {
		t.Fatalf("Open: %v", oerr)
	}
	if _, werr := rt.FS.Write(parent.PCB, fd, []byte("hi")); werr != 0 {
		t.Fatalf("Write: %v", werr)
	}

	child, ferr := rt.Fork(parent, func(c *Process) {})
	if ferr != 0 {
		t.Fatalf("Fork: %v", ferr)
	}
	if child.FDTable[fd] != parent.FDTable[fd] {
		t.Fatalf("child fd %d = slot %d, want shared slot %d", fd, child.FDTable[fd], parent.FDTable[fd])
	}

	// Parent's Lseek moves the shared position back to 0, so the child's
	// read through the same slot sees "hi" (shared open-file description).
	if _, lerr := rt.FS.Lseek(parent.PCB, fd, 0, fdtable.SeekSet); lerr != 0 {
		t.Fatalf("Lseek: %v", lerr)
	}
	buf, rerr := rt.FS.Read(child.PCB, fd, 2)
	if rerr != 0 || string(buf) != "hi" {
		t.Fatalf("child Read via shared fd = %q, err=%v", buf, rerr)
	}
}

// TestForkWaitReapsExitStatus drives fork/exit/wait through the real
// scheduler: a parent blocks in Wait, a forked child exits with a
// status, and the parent is woken to reap exactly that status
// (TESTABLE PROPERTY 12).
func TestForkWaitReapsExitStatus(t *testing.T) {
	rt := newTestRuntime(t)
	done := make(chan struct{})

	var gotPID, gotStatus int
	var gotErr errs.Errno

	_, err := rt.Sched.Spawn("parent", 2, func(pcb *thread.PCB) {
		parent := NewProcess(pcb)
		parent.AS = newTestAS(rt)

		if _, ferr := rt.Fork(parent, func(c *Process) {
			rt.Exit(c, 7)
		}); ferr != 0 {
			gotErr = ferr
			close(done)
			return
		}

		gotPID, gotStatus, gotErr = rt.Wait(parent)
		close(done)
	})
	if err != nil {
		t.Fatalf("Spawn parent: %v", err)
	}

	rt.Sched.Start()
	<-done

	if gotErr != 0 {
		t.Fatalf("Wait: %v", gotErr)
	}
	if gotStatus != 7 {
		t.Fatalf("status = %d, want 7", gotStatus)
	}
	if gotPID <= 0 {
		t.Fatalf("childPID = %d, want a positive PID", gotPID)
	}
}

// TestWaitFailsWithNoChildren is the ECHILD edge case of spec.md §4.5.
func TestWaitFailsWithNoChildren(t *testing.T) {
	rt := newTestRuntime(t)
	parentPCB := thread.NewPCB(1, 0, "solo", 4)
	parent := NewProcess(parentPCB)

	if _, _, err := rt.Wait(parent); err != errs.ECHILD {
		t.Fatalf("Wait with no children = %v, want ECHILD", err)
	}
}

// elf32 builds a minimal valid 32-bit little-endian ELF executable with
// one PT_LOAD segment, for Exec tests.
func elf32(vaddr uint32, data []byte) []byte {
	const ehdrSize, phdrSize = 52, 32
	buf := make([]byte, ehdrSize+phdrSize+len(data))

	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = 1 // ELFCLASS32
	buf[5] = 1 // ELFDATA2LSB
	le := func(off int, v uint32) { putLE32(buf[off:], v) }
	leHalf := func(off int, v uint16) { buf[off], buf[off+1] = byte(v), byte(v>>8) }

	leHalf(16, 2) // e_type = ET_EXEC
	leHalf(18, 3) // e_machine = EM_386
	le(20, 1)     // e_version
	le(28, ehdrSize) // e_phoff
	leHalf(42, phdrSize)
	leHalf(44, 1) // e_phnum = 1

	phOff := ehdrSize
	le(phOff+0, 1)              // p_type = PT_LOAD
	le(phOff+4, ehdrSize+phdrSize) // p_offset
	le(phOff+8, vaddr)          // p_vaddr
	le(phOff+16, uint32(len(data)))     // p_filesz
	le(phOff+20, uint32(len(data))+4096) // p_memsz: extra bss page
	le(phOff+24, 0x2)           // p_flags = PF_W

	copy(buf[ehdrSize+phdrSize:], data)
	return buf
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// TestExecLoadsSegmentAndZeroesBss exercises the ELF loader: the
// PT_LOAD segment's file bytes land at p_vaddr, and the memsz tail past
// filesz (the .bss region) reads back zero.
func TestExecLoadsSegmentAndZeroesBss(t *testing.T) {
	rt := newTestRuntime(t)

	parentPCB := thread.NewPCB(1, 0, "proc", 4)
	parentPCB.AS = newTestAS(rt)
	p := NewProcess(parentPCB)

	const vaddr = 0x1000000
	payload := []byte("hello-world")
	image := elf32(vaddr, payload)

	fd, oerr := rt.FS.Open(p.PCB, "/prog", fdtable.OCREAT|fdtable.ORDWR)
	if oerr != 0 {
		t.Fatalf("Open: %v", oerr)
	}
	if _, werr := rt.FS.Write(p.PCB, fd, image); werr != 0 {
		t.Fatalf("Write: %v", werr)
	}
	if cerr := rt.FS.Close(p.PCB, fd); cerr != 0 {
		t.Fatalf("Close: %v", cerr)
	}

	if eerr := rt.Exec(p, "/prog", []string{"prog"}); eerr != 0 {
		t.Fatalf("Exec: %v", eerr)
	}

	got, rerr := p.AS.CopyIn(vaddr, len(payload))
	if rerr != 0 || string(got) != string(payload) {
		t.Fatalf("loaded segment = %q, err=%v; want %q", got, rerr, payload)
	}
	bss, berr := p.AS.CopyIn(vaddr+uintptr(len(payload)), 4)
	if berr != 0 {
		t.Fatalf("CopyIn bss: %v", berr)
	}
	for _, b := range bss {
		if b != 0 {
			t.Fatalf("bss tail not zeroed: %v", bss)
		}
	}
	if len(p.Argv) != 1 || p.Argv[0] != "prog" {
		t.Fatalf("Argv = %v, want [prog]", p.Argv)
	}
}

// TestExecRejectsBadMagic is the validation half of the ELF loader.
func TestExecRejectsBadMagic(t *testing.T) {
	rt := newTestRuntime(t)
	parentPCB := thread.NewPCB(1, 0, "proc", 4)
	parentPCB.AS = newTestAS(rt)
	p := NewProcess(parentPCB)

	fd, oerr := rt.FS.Open(p.PCB, "/bad", fdtable.OCREAT|fdtable.ORDWR)
	if oerr != 0 {
		t.Fatalf("Open: %v", oerr)
	}
	rt.FS.Write(p.PCB, fd, []byte("not an elf file"))
	rt.FS.Close(p.PCB, fd)

	if err := rt.Exec(p, "/bad", nil); err == 0 {
		t.Fatalf("Exec of a non-ELF file should fail")
	}
}
