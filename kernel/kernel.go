// Package kernel wires the independently-testable pieces (mem, vm,
// thread, fdtable, proc, ksyscall, ...) into one booted system and
// holds the resulting context explicitly, per spec.md §9's note that
// the original's scattered globals should become one threaded-through
// struct instead. Grounded in boot-sequence shape on the teacher's
// mem.Phys_init -> mem.Dmap_init chain (biscuit/src/mem/mem.go), just
// reordered for this spec's simpler two-level paging and bitmap pools.
package kernel

import (
	"fmt"

	"minios/blockdev"
	"minios/fdtable"
	"minios/fs"
	"minios/ioq"
	"minios/ksyscall"
	"minios/mem"
	"minios/proc"
	"minios/thread"
	"minios/vm"
)

// Config is the boot-time configuration a real kernel would otherwise
// take from a linker-fixed constant or a boot-sector parameter block.
// No flag/env parsing library is used: the teacher is configured by
// boot-time constants, not runtime config files, and this struct plays
// the same role for a value the host test harness can vary.
type Config struct {
	// RAMBytes is the size of the simulated physical address space.
	// Must be large enough for KernelFrames+UserFrames pages.
	RAMBytes int

	// KernelFrames/UserFrames split RAM into the kernel's own frame
	// pool and the pool user address spaces draw from (spec.md §3).
	KernelFrames int
	UserFrames   int

	// MaxPID bounds the PID namespace (spec.md §4.6).
	MaxPID int

	// KernelVirtBase/KernelVirtPages size the kernel's own virtual
	// address pool, used for mapping device buffers and the like.
	KernelVirtBase  uintptr
	KernelVirtPages int

	// DiskSectors/InodeCount size a freshly formatted root file
	// system when no existing one is supplied via RootDevice.
	DiskSectors int
	InodeCount  int

	// RootDevice, when non-nil, is mounted as-is (already formatted)
	// instead of formatting a fresh in-memory disk.
	RootDevice blockdev.Device

	// Console receives kernel and syscall diagnostic output. A nil
	// Console defaults to a discard sink that still satisfies
	// fdtable.Console, since a kernel with nowhere to print is still
	// a valid boot for tests that only care about scheduling.
	Console fdtable.Console

	// KeyboardBufSize sizes the keyboard input ring buffer
	// (spec.md §4.4); 0 disables keyboard input entirely.
	KeyboardBufSize int
}

// defaultConfig fills in the zero-value gaps of a caller-supplied
// Config with small but workable sizes, the same role the teacher's
// boot-time constants (PGSIZE-aligned memory regions, fixed PID
// ceilings) play in biscuit/src/mem/mem.go.
func defaultConfig(cfg Config) Config {
	if cfg.KernelFrames == 0 {
		cfg.KernelFrames = 64
	}
	if cfg.UserFrames == 0 {
		cfg.UserFrames = 256
	}
	if cfg.RAMBytes == 0 {
		cfg.RAMBytes = (cfg.KernelFrames + cfg.UserFrames) * mem.PageSize
	}
	if cfg.MaxPID == 0 {
		cfg.MaxPID = 256
	}
	if cfg.KernelVirtBase == 0 {
		cfg.KernelVirtBase = 0xC0000000
	}
	if cfg.KernelVirtPages == 0 {
		cfg.KernelVirtPages = 256
	}
	if cfg.DiskSectors == 0 {
		cfg.DiskSectors = 8192
	}
	if cfg.InodeCount == 0 {
		cfg.InodeCount = 512
	}
	if cfg.Console == nil {
		cfg.Console = discardConsole{}
	}
	return cfg
}

type discardConsole struct{}

func (discardConsole) Write(b []byte) (int, error) { return len(b), nil }

// Kernel is the booted system's context: every collaborator the
// syscall dispatch table and the three bootstrap threads need, held
// as fields rather than package-level globals (spec.md §9).
type Kernel struct {
	Cfg Config

	RAM        *mem.RAM
	KernelPool *mem.FramePool
	UserPool   *mem.FramePool
	KernelDir  *vm.PageDir
	KernelVirt *mem.VirtPool

	Scheduler *thread.Scheduler
	PIDs      *thread.PIDPool

	Disk       blockdev.Device
	Partitions *blockdev.Registry
	Root       *fs.Partition

	Console  fdtable.Console
	Keyboard *ioq.Queue

	FS       *fdtable.FileSystem
	Runtime  *proc.Runtime
	Syscalls ksyscall.Table
}

// Boot builds a complete kernel context from cfg: frame and virtual
// pools, a mounted (or freshly formatted) root file system, the
// syscall dispatch table, and the scheduler running with main and init
// spawned (idle comes with the scheduler itself). This satisfies
// spec.md §8 scenario (E): a ps listing taken from any of the three
// threads names at least main, idle, and init, each with a pid, parent
// pid, status, and tick count.
//
// Boot returns once main and init have each started running; from then
// on the scheduler's threads run concurrently with the caller.
func Boot(cfg Config) (*Kernel, error) {
	cfg = defaultConfig(cfg)

	k := &Kernel{Cfg: cfg}

	k.RAM = mem.NewRAM(cfg.RAMBytes)
	k.KernelPool = mem.NewFramePool(0, cfg.KernelFrames)
	k.UserPool = mem.NewFramePool(uintptr(cfg.KernelFrames*mem.PageSize), cfg.UserFrames)
	k.KernelDir = vm.NewPageDir()
	k.KernelVirt = mem.NewVirtPool(cfg.KernelVirtBase, cfg.KernelVirtPages, nil)

	k.PIDs = thread.NewPIDPool(cfg.MaxPID)
	k.Scheduler = thread.NewScheduler(k.PIDs)

	k.Partitions = blockdev.NewRegistry()
	if cfg.RootDevice != nil {
		k.Disk = cfg.RootDevice
		part := blockdev.NewPartition(k.Disk, 0, cfg.DiskSectors)
		root, err := fs.Mount(part)
		if err != 0 {
			return nil, fmt.Errorf("mount root: %v", err)
		}
		k.Root = root
	} else {
		k.Disk = blockdev.NewMemDisk(cfg.DiskSectors)
		root, err := fs.Mkfs(k.Disk, 0, cfg.DiskSectors, cfg.InodeCount)
		if err != 0 {
			return nil, fmt.Errorf("mkfs root: %v", err)
		}
		k.Root = root
	}
	k.Partitions.Add(k.Root.Dev)

	k.Console = cfg.Console
	if cfg.KeyboardBufSize > 0 {
		k.Keyboard = ioq.NewQueue(k.Scheduler, cfg.KeyboardBufSize)
	}

	k.FS = fdtable.NewFileSystem(k.Root, k.Console, k.Keyboard, k.Scheduler)
	k.Runtime = proc.NewRuntime(k.Scheduler, k.RAM, k.UserPool, k.KernelPool, k.KernelDir, k.FS)
	k.Syscalls = ksyscall.NewTable()

	if err := k.spawnBootThreads(); err != nil {
		return nil, err
	}
	return k, nil
}

// spawnBootThreads spawns the main and init kernel threads (idle
// already exists as part of NewScheduler) and starts the scheduler,
// matching the teacher's own boot sequence of spawning a handful of
// fixed kernel threads before handing control to the scheduler loop.
//
// Neither thread executes user-space code directly — there is no
// CPU-emulation layer in this simulation (see ksyscall's package
// doc) — so main and init stand in as placeholders a test or future
// front end can extend: main is where a real boot would mount
// additional devices and start the shell, init is the PID 1 process a
// real ps listing expects to see parenting every orphaned thread.
// Both simply block forever once spawned, which is sufficient for
// spec.md §8 scenario (E)'s "ps lists main, idle, init" check.
func (k *Kernel) spawnBootThreads() error {
	// init spawns first so it lands on PID 1, the reaper §4.5's orphan
	// reparenting (proc.Exit setting ParentPID = 1) expects.
	initDone := make(chan struct{})
	_, err := k.Scheduler.Spawn("init", 2, func(pcb *thread.PCB) {
		close(initDone)
		k.Scheduler.Block(pcb, thread.BLOCKED)
	})
	if err != nil {
		return fmt.Errorf("spawn init: %v", err)
	}

	mainDone := make(chan struct{})
	_, err = k.Scheduler.Spawn("main", 4, func(pcb *thread.PCB) {
		close(mainDone)
		k.Scheduler.Block(pcb, thread.BLOCKED)
	})
	if err != nil {
		return fmt.Errorf("spawn main: %v", err)
	}

	k.Scheduler.Start()
	<-initDone
	<-mainDone
	return nil
}

// PS is a thin convenience wrapper around Scheduler.PS for callers
// that only have a *Kernel in hand (the ksyscall.SysPs handler itself
// goes through rt.Sched.PS directly, since it only has a *proc.Runtime).
func (k *Kernel) PS() []thread.Summary {
	return k.Scheduler.PS()
}

// Shutdown releases the resources Boot acquired that outlive the
// scheduler itself. The scheduler's own goroutines are not joined:
// spec.md names no clean-shutdown operation, and the teacher kernel
// has no equivalent either (a real machine just loses power).
func (k *Kernel) Shutdown() {
	if fd, ok := k.Disk.(*blockdev.FileDisk); ok {
		fd.Close()
	}
}
