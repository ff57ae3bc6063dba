package ksyscall

import (
	"testing"

	"minios/blockdev"
	"minios/errs"
	"minios/fdtable"
	"minios/fs"
	"minios/mem"
	"minios/proc"
	"minios/thread"
	"minios/vm"
)

type fakeConsole struct{ out []byte }

func (c *fakeConsole) Write(b []byte) (int, error) {
	c.out = append(c.out, b...)
	return len(b), nil
}

func newTestSyscalls(t *testing.T) (*proc.Runtime, *proc.Process, *fakeConsole) {
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
	console := &fakeConsole{}
	fsys := fdtable.NewFileSystem(part, console, nil, sched)
	rt := proc.NewRuntime(sched, ram, userPool, kernelPool, kernelDir, fsys)

	pcb := thread.NewPCB(1, 0, "proc", 4)
	virt := mem.NewVirtPool(0x1000000, 8, nil)
	pcb.AS = vm.NewAddressSpace(kernelDir, virt, ram, userPool, kernelPool)
	p := proc.NewProcess(pcb)
	return rt, p, console
}

func TestSysGetpid(t *testing.T) {
	rt, p, _ := newTestSyscalls(t)
	tbl := NewTable()
	got, err := tbl.Dispatch(rt, p, SysGetpid, [4]uintptr{})
	if err != 0 || got != uintptr(p.PID) {
		t.Fatalf("getpid = %d, %v; want %d", got, err, p.PID)
	}
}

func TestSysOpenWriteReadClose(t *testing.T) {
	rt, p, _ := newTestSyscalls(t)
	tbl := NewTable()

	pathBuf, aerr := p.AS.AllocPages(rt.UserPool, 1, true, true)
	if aerr != 0 {
		t.Fatalf("AllocPages path buf: %v", aerr)
	}
	if cerr := p.AS.CopyOut(pathBuf, append([]byte("/a"), 0)); cerr != 0 {
		t.Fatalf("CopyOut path: %v", cerr)
	}

	fd, err := tbl.Dispatch(rt, p, SysOpen, [4]uintptr{pathBuf, fdtable.OCREAT | fdtable.ORDWR})
	if err != 0 {
		t.Fatalf("open: %v", err)
	}

	dataBuf, aerr := p.AS.AllocPages(rt.UserPool, 1, true, true)
	if aerr != 0 {
		t.Fatalf("AllocPages data buf: %v", aerr)
	}
	if cerr := p.AS.CopyOut(dataBuf, []byte("hello")); cerr != 0 {
		t.Fatalf("CopyOut data: %v", cerr)
	}

	n, err := tbl.Dispatch(rt, p, SysWrite, [4]uintptr{fd, dataBuf, 5})
	if err != 0 || n != 5 {
		t.Fatalf("write = %d, %v; want 5", n, err)
	}

	if _, err := tbl.Dispatch(rt, p, SysLseek, [4]uintptr{fd, 0, fdtable.SeekSet}); err != 0 {
		t.Fatalf("lseek: %v", err)
	}

	readBuf, aerr := p.AS.AllocPages(rt.UserPool, 1, true, true)
	if aerr != 0 {
		t.Fatalf("AllocPages read buf: %v", aerr)
	}
	rn, err := tbl.Dispatch(rt, p, SysRead, [4]uintptr{fd, readBuf, 5})
	if err != 0 || rn != 5 {
		t.Fatalf("read = %d, %v; want 5", rn, err)
	}
	got, cerr := p.AS.CopyIn(readBuf, 5)
	if cerr != 0 || string(got) != "hello" {
		t.Fatalf("read contents = %q, %v; want hello", got, cerr)
	}

	if _, err := tbl.Dispatch(rt, p, SysClose, [4]uintptr{fd}); err != 0 {
		t.Fatalf("close: %v", err)
	}
}

func TestSysMkdirChdirGetcwd(t *testing.T) {
	rt, p, _ := newTestSyscalls(t)
	tbl := NewTable()

	buf, aerr := p.AS.AllocPages(rt.UserPool, 1, true, true)
	if aerr != 0 {
		t.Fatalf("AllocPages: %v", aerr)
	}
	if cerr := p.AS.CopyOut(buf, append([]byte("/sub"), 0)); cerr != 0 {
		t.Fatalf("CopyOut: %v", cerr)
	}

	if _, err := tbl.Dispatch(rt, p, SysMkdir, [4]uintptr{buf}); err != 0 {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := tbl.Dispatch(rt, p, SysChdir, [4]uintptr{buf}); err != 0 {
		t.Fatalf("chdir: %v", err)
	}

	cwdBuf, aerr := p.AS.AllocPages(rt.UserPool, 1, true, true)
	if aerr != 0 {
		t.Fatalf("AllocPages cwd buf: %v", aerr)
	}
	n, err := tbl.Dispatch(rt, p, SysGetcwd, [4]uintptr{cwdBuf, mem.PageSize})
	if err != 0 {
		t.Fatalf("getcwd: %v", err)
	}
	got, cerr := p.AS.CopyIn(cwdBuf, int(n))
	if cerr != 0 || string(got) != "/sub" {
		t.Fatalf("getcwd contents = %q, %v; want /sub", got, cerr)
	}
}

func TestSysPutcharAndPsWriteToConsole(t *testing.T) {
	rt, p, console := newTestSyscalls(t)
	tbl := NewTable()

	if _, err := tbl.Dispatch(rt, p, SysPutchar, [4]uintptr{uintptr('x')}); err != 0 {
		t.Fatalf("putchar: %v", err)
	}
	if len(console.out) == 0 || console.out[len(console.out)-1] != 'x' {
		t.Fatalf("console.out = %q, want trailing 'x'", console.out)
	}

	if _, err := tbl.Dispatch(rt, p, SysPs, [4]uintptr{}); err != 0 {
		t.Fatalf("ps: %v", err)
	}
}

func TestSysMallocFreeRoundTrip(t *testing.T) {
	rt, p, _ := newTestSyscalls(t)
	tbl := NewTable()

	addr, err := tbl.Dispatch(rt, p, SysMalloc, [4]uintptr{32})
	if err != 0 || addr == 0 {
		t.Fatalf("malloc = %d, %v", addr, err)
	}
	if _, err := tbl.Dispatch(rt, p, SysFree, [4]uintptr{addr}); err != 0 {
		t.Fatalf("free: %v", err)
	}
}

func TestDispatchUnknownSyscallIsENOSYS(t *testing.T) {
	rt, p, _ := newTestSyscalls(t)
	tbl := NewTable()
	if _, err := tbl.Dispatch(rt, p, NSyscalls+1, [4]uintptr{}); err != errs.ENOSYS {
		t.Fatalf("Dispatch out-of-range = %v, want ENOSYS", err)
	}
}
