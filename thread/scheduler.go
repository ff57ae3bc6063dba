package thread

import (
	"sync"

	"minios/klist"
)

// Scheduler is the preemptive priority round-robin scheduler of
// spec.md §4.3: `priority` is both weight and time-slice size, the
// ready list is FIFO within a priority, and a just-unblocked thread is
// boosted to the head of the ready list.
//
// Exactly one PCB's goroutine is ever off its resume channel at a
// time; schedule hands the token to the next runnable PCB and parks
// the caller on its own channel, which is how this single-CPU, one-
// thread-at-a-time invariant is enforced without real hardware.
type Scheduler struct {
	mu      sync.Mutex
	ready   klist.List[int]
	all     klist.List[int]
	pcbs    map[int]*PCB
	pids    *PIDPool
	idle    *PCB
	current *PCB
}

// NewScheduler creates a scheduler with its own idle thread (priority
// 1, forever blocked whenever any other thread is ready — spec.md
// §4.3's "HLT loop"). Idle is PID 0, never enters the ready or
// all-tasks lists, and is never returned by Lookup.
func NewScheduler(pids *PIDPool) *Scheduler {
	s := &Scheduler{pcbs: make(map[int]*PCB), pids: pids}
	s.idle = NewPCB(0, 0, "idle", 1)
	go func() {
		<-s.idle.resume
		for {
			// A real HLT would sleep the CPU until the next interrupt;
			// here, blocking and immediately being re-selected (self ==
			// next in schedule) spins in its place whenever nothing else
			// is runnable.
			s.Block(s.idle, BLOCKED)
		}
	}()
	return s
}

// Spawn allocates a PID, builds a PCB, links it into the all-tasks and
// ready lists, and starts its goroutine parked on its resume channel.
// entry runs once the scheduler dispatches this thread for the first
// time; when entry returns, the thread exits (spec.md §4.3, "thread
// bootstrap... calls entry(arg)").
func (s *Scheduler) Spawn(name string, priority int, entry func(*PCB)) (*PCB, error) {
	pid, err := s.pids.Allocate()
	if err != 0 {
		return nil, err
	}
	parent := 1
	if pid == 1 {
		parent = 0
	}
	pcb := NewPCB(pid, parent, name, priority)

	s.mu.Lock()
	s.pcbs[pid] = pcb
	s.all.PushBack(pid)
	s.ready.PushBack(pid)
	s.mu.Unlock()

	go func() {
		<-pcb.resume
		entry(pcb)
		s.ThreadExit(pcb, true)
	}()
	return pcb, nil
}

// Start dispatches the first thread (or idle, if none were spawned
// ready) without parking any caller; it is meant to be invoked once
// from the boot goroutine, which is not itself a scheduled thread.
func (s *Scheduler) Start() {
	s.mu.Lock()
	next := s.popNextLocked()
	next.Status = RUNNING
	s.current = next
	s.mu.Unlock()
	next.resume <- struct{}{}
}

// popNextLocked pops the ready-list head, or returns idle if the ready
// list is empty. Caller must hold s.mu.
func (s *Scheduler) popNextLocked() *PCB {
	pid, ok := s.ready.PopFront()
	if !ok {
		return s.idle
	}
	return s.pcbs[pid]
}

// schedule hands the CPU token to the next runnable thread and, unless
// self was re-selected, parks self's goroutine until it is dispatched
// again.
func (s *Scheduler) schedule(self *PCB) {
	self.CheckStack()
	s.mu.Lock()
	next := s.popNextLocked()
	next.Status = RUNNING
	s.current = next
	s.mu.Unlock()

	if next == self {
		return
	}
	next.resume <- struct{}{}
	<-self.resume
}

// Tick implements the timer-IRQ preemption point: decrement the
// running thread's slice, and if it has run out, requeue to the tail
// of the ready list and reschedule (spec.md §4.3).
func (s *Scheduler) Tick(self *PCB) {
	s.mu.Lock()
	self.TicksRemaining--
	self.ElapsedTicks++
	if self.TicksRemaining > 0 {
		s.mu.Unlock()
		return
	}
	self.TicksRemaining = self.Priority
	self.Status = READY
	s.ready.PushBack(self.PID)
	s.mu.Unlock()
	s.schedule(self)
}

// Yield voluntarily requeues self to the tail of the ready list and
// reschedules.
func (s *Scheduler) Yield(self *PCB) {
	s.mu.Lock()
	self.Status = READY
	self.TicksRemaining = self.Priority
	s.ready.PushBack(self.PID)
	s.mu.Unlock()
	s.schedule(self)
}

// Block sets self's status (one of BLOCKED, WAITING, HANGING) and
// reschedules without requeuing self anywhere (spec.md §4.3's
// thread_block).
func (s *Scheduler) Block(self *PCB, status Status) {
	s.mu.Lock()
	self.Status = status
	s.mu.Unlock()
	s.schedule(self)
}

// Unblock requeues t to the HEAD of the ready list (a priority boost
// for just-woken threads) and marks it READY. It does not reschedule;
// the caller keeps running until its own next preemption point.
func (s *Scheduler) Unblock(t *PCB) {
	s.mu.Lock()
	t.Status = READY
	s.ready.PushFront(t.PID)
	s.mu.Unlock()
}

// ThreadExit implements spec.md §4.3's thread_exit: mark DIED, drop
// from the ready list if present, drop from all-tasks, release the
// PID, and optionally reschedule. It never returns when reschedule is
// true and self is the caller's own thread, matching the teacher's
// "never returns" contract.
func (s *Scheduler) ThreadExit(self *PCB, reschedule bool) {
	s.mu.Lock()
	self.Status = DIED
	s.ready.Remove(self.PID)
	s.all.Remove(self.PID)
	delete(s.pcbs, self.PID)
	s.mu.Unlock()
	s.pids.Release(self.PID)
	if reschedule {
		s.schedule(self)
	}
}

// Current returns the thread the scheduler most recently dispatched.
func (s *Scheduler) Current() *PCB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Lookup returns the PCB for pid, if it is still alive.
func (s *Scheduler) Lookup(pid int) (*PCB, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pcbs[pid]
	return p, ok
}

// ForEachChild calls cb for every live thread whose ParentPID is
// parentPID, stopping early if cb returns true — used by wait()'s
// HANGING scan and by exit()'s reparenting sweep (spec.md §4.5).
func (s *Scheduler) ForEachChild(parentPID int, cb func(*PCB) bool) {
	s.mu.Lock()
	var children []*PCB
	s.all.Traverse(func(pid int) bool {
		if p := s.pcbs[pid]; p != nil && p.ParentPID == parentPID {
			children = append(children, p)
		}
		return false
	})
	s.mu.Unlock()
	for _, c := range children {
		if cb(c) {
			return
		}
	}
}

// ReadyLen reports the number of runnable (non-idle) threads, mostly
// useful for tests asserting on scheduler state.
func (s *Scheduler) ReadyLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready.Len()
}

// Summary is one row of the ps listing (spec.md §6): name, pid, ppid,
// status, and ticks, lifted straight off a PCB without exposing the
// PCB itself.
type Summary struct {
	PID, ParentPID int
	Name           string
	Status         Status
	ElapsedTicks   int
}

// PS returns a Summary per live thread: idle first, then the all-tasks
// list in spawn order. Grounded on original_source/shell/buildin_cmd.c's ps
// built-in, which walks the same all-tasks list printing
// name/pid/ppid/status/ticks.
func (s *Scheduler) PS() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Summary{{
		PID:          s.idle.PID,
		ParentPID:    s.idle.ParentPID,
		Name:         s.idle.Name,
		Status:       s.idle.Status,
		ElapsedTicks: s.idle.ElapsedTicks,
	}}
	s.all.Traverse(func(pid int) bool {
		if p := s.pcbs[pid]; p != nil {
			out = append(out, Summary{
				PID:          p.PID,
				ParentPID:    p.ParentPID,
				Name:         p.Name,
				Status:       p.Status,
				ElapsedTicks: p.ElapsedTicks,
			})
		}
		return false
	})
	return out
}
