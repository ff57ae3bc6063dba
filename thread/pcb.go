// Package thread implements the task control block and scheduler of
// spec.md §4.3 (C6): one PCB per kernel thread or user process, a
// preemptive priority round-robin scheduler, and PID allocation.
//
// There is no real CPU to context-switch on, so a PCB's "kernel stack"
// is a goroutine rather than a page of saved registers: each thread's
// entry function runs on its own goroutine, and the scheduler hands a
// single token between them over per-PCB channels so that, as on the
// single CPU spec.md describes, only one thread's code is ever running
// at a time. Swapping register files for channel handoff is the one
// place this package departs from the teacher's literal
// proc/runtime.Switch_t approach (biscuit/src/... has no surviving
// context-switch file in this retrieval; the shape below follows
// spec.md §4.3 directly). See DESIGN.md.
package thread

import (
	"minios/vm"
)

// Status is one of the PCB states spec.md §3 names.
type Status int

const (
	RUNNING Status = iota
	READY
	BLOCKED
	WAITING
	HANGING
	DIED
)

func (s Status) String() string {
	switch s {
	case RUNNING:
		return "RUNNING"
	case READY:
		return "READY"
	case BLOCKED:
		return "BLOCKED"
	case WAITING:
		return "WAITING"
	case HANGING:
		return "HANGING"
	case DIED:
		return "DIED"
	default:
		return "UNKNOWN"
	}
}

// StackMagic is the sentinel written at the top of every PCB page;
// every context switch must find it undisturbed (spec.md §8, "Stack
// overflow detection").
const StackMagic = 0x19870916

// MaxFDs bounds the local FD table; 0, 1, and 2 are reserved for
// stdin/stdout/stderr.
const MaxFDs = 32

// FreeFD marks a local FD table slot as unused.
const FreeFD = -1

// PCB is one task control block: a pure kernel thread has AS == nil;
// a user process additionally owns an address space and a per-process
// virtual pool.
type PCB struct {
	PID            int
	ParentPID      int
	Name           string
	Priority       int
	TicksRemaining int
	ElapsedTicks   int
	Status         Status

	AS *vm.AddressSpace // nil for pure kernel threads

	FDTable    [MaxFDs]int // local fd -> global open-file slot, FreeFD if unused
	CwdInodeNo uint32

	ExitStatus int
	StackMagic uint32

	Accounting Accounting

	resume chan struct{}
}

// NewPCB allocates a PCB with priority-sized time slice and an unarmed
// FD table (every slot FreeFD).
func NewPCB(pid, parentPID int, name string, priority int) *PCB {
	p := &PCB{
		PID:            pid,
		ParentPID:      parentPID,
		Name:           name,
		Priority:       priority,
		TicksRemaining: priority,
		Status:         READY,
		StackMagic:     StackMagic,
		resume:         make(chan struct{}, 1),
	}
	for i := range p.FDTable {
		p.FDTable[i] = FreeFD
	}
	return p
}

// CheckStack panics if the stack-overflow sentinel has been corrupted,
// the check every context switch performs (spec.md §8).
func (p *PCB) CheckStack() {
	if p.StackMagic != StackMagic {
		panic("kernel panic: stack overflow detected in thread " + p.Name)
	}
}
