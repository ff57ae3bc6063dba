// Package ksync implements the kernel's sleeping synchronization
// primitives (spec.md §4.4, C7): a FIFO counting semaphore and a
// recursive mutex built on top of it. Both block the caller in the
// scheduler rather than spinning, the way the teacher's own sleeping
// locks do (biscuit's kernel locks sit on top of thread parking rather
// than a spinlock, the same shape as sync.Cond waiting on a condition
// under a mutex — the closest stdlib analogue, though this package
// dispatches through thread.Scheduler instead of goroutine park/wake
// so that blocked kernel threads show up in the scheduler's own
// accounting).
package ksync

import (
	"sync"

	"minios/klist"
	"minios/thread"
)

// Sema is the FIFO counting semaphore of spec.md §4.4: value never
// goes negative; a thread becomes a waiter exactly when it observes
// value == 0 at decrement time; wakeups are FIFO.
type Sema struct {
	mu      sync.Mutex
	value   int
	waiters klist.List[int] // PIDs, in wake order
	parked  map[int]*thread.PCB
	sched   *thread.Scheduler
}

// NewSema creates a semaphore with the given initial value.
func NewSema(sched *thread.Scheduler, value int) *Sema {
	return &Sema{value: value, sched: sched, parked: make(map[int]*thread.PCB)}
}

// Down decrements the semaphore, blocking the caller if it is zero.
// Interrupts-off atomicity on real hardware is replaced here by s.mu;
// a waiter retries after waking rather than having the permit handed
// to it directly, exactly as spec.md §4.4 describes: "up... unblocks
// the head, then increments" — the wakeup and the increment are
// independent, so the newly runnable waiter re-decrements on its own.
func (s *Sema) Down(self *thread.PCB) {
	for {
		s.mu.Lock()
		if s.value > 0 {
			s.value--
			s.mu.Unlock()
			return
		}
		s.waiters.PushBack(self.PID)
		s.parked[self.PID] = self
		s.mu.Unlock()

		s.sched.Block(self, thread.BLOCKED)
	}
}

// Up wakes the longest-waiting thread (if any) and increments the
// semaphore, FIFO per spec.md §4.4.
func (s *Sema) Up() {
	s.mu.Lock()
	pid, ok := s.waiters.PopFront()
	var woken *thread.PCB
	if ok {
		woken = s.parked[pid]
		delete(s.parked, pid)
	}
	s.value++
	s.mu.Unlock()
	if woken != nil {
		s.sched.Unblock(woken)
	}
}

// Mutex wraps a binary Sema with holder tracking, recursive for a
// single owner (spec.md §4.4, §3's "holder_repeat_count").
type Mutex struct {
	mu     sync.Mutex
	sem    *Sema
	holder *thread.PCB
	repeat uint32
}

// NewMutex creates an unheld recursive mutex.
func NewMutex(sched *thread.Scheduler) *Mutex {
	return &Mutex{sem: NewSema(sched, 1)}
}

// Acquire locks m for self, recursively if self already holds it.
func (m *Mutex) Acquire(self *thread.PCB) {
	m.mu.Lock()
	if m.holder == self {
		m.repeat++
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.sem.Down(self)

	m.mu.Lock()
	m.holder = self
	m.repeat = 1
	m.mu.Unlock()
}

// Release decrements the recursion count, releasing the underlying
// semaphore only when it reaches zero.
func (m *Mutex) Release(self *thread.PCB) {
	m.mu.Lock()
	if m.holder != self {
		m.mu.Unlock()
		panic("kernel panic: mutex released by non-holder")
	}
	m.repeat--
	if m.repeat > 0 {
		m.mu.Unlock()
		return
	}
	m.holder = nil
	m.mu.Unlock()
	m.sem.Up()
}

// Holder reports the current owner, or nil if unheld.
func (m *Mutex) Holder() *thread.PCB {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder
}
