package ksync

import (
	"testing"

	"minios/thread"
)

func TestSemaDownSucceedsWithoutBlocking(t *testing.T) {
	sched := thread.NewScheduler(thread.NewPIDPool(4))
	sem := NewSema(sched, 2)
	pcb := thread.NewPCB(1, 0, "solo", 2)

	sem.Down(pcb) // value 2 -> 1, no block
	sem.Down(pcb) // value 1 -> 0, no block

	if sem.value != 0 {
		t.Fatalf("value = %d, want 0", sem.value)
	}
}

func TestSemaUpWithNoWaitersJustIncrements(t *testing.T) {
	sched := thread.NewScheduler(thread.NewPIDPool(4))
	sem := NewSema(sched, 0)
	pcb := thread.NewPCB(1, 0, "solo", 2)

	sem.Up()
	sem.Down(pcb) // should not block now

	if sem.value != 0 {
		t.Fatalf("value = %d, want 0", sem.value)
	}
}

// TestSemaFIFOWaitersAndPriorityBoostedWakeup drives two waiters and a
// waker entirely through the scheduler, so the interleaving is
// deterministic (only one goroutine is ever off its resume channel).
// It also exercises spec.md §4.3's unblock-to-head boost: two
// consecutive Up calls from the same thread push their waiters onto
// the ready list back to back, so the second one woken (b) runs before
// the first (a) — intentional, not a bug; see scheduler_test.go's
// TestUnblockBoostsToHead for the same property in isolation.
func TestSemaFIFOWaitersAndPriorityBoostedWakeup(t *testing.T) {
	sched := thread.NewScheduler(thread.NewPIDPool(8))
	sem := NewSema(sched, 0)

	var log []string
	doneA := make(chan struct{})
	doneB := make(chan struct{})
	doneC := make(chan struct{})

	if _, err := sched.Spawn("a", 1, func(pcb *thread.PCB) {
		log = append(log, "a-down")
		sem.Down(pcb)
		log = append(log, "a-woke")
		close(doneA)
	}); err != nil {
		t.Fatalf("Spawn a: %v", err)
	}
	if _, err := sched.Spawn("b", 1, func(pcb *thread.PCB) {
		log = append(log, "b-down")
		sem.Down(pcb)
		log = append(log, "b-woke")
		close(doneB)
	}); err != nil {
		t.Fatalf("Spawn b: %v", err)
	}
	if _, err := sched.Spawn("c", 1, func(pcb *thread.PCB) {
		log = append(log, "c-up1")
		sem.Up()
		log = append(log, "c-up2")
		sem.Up()
		log = append(log, "c-done")
		close(doneC)
	}); err != nil {
		t.Fatalf("Spawn c: %v", err)
	}

	sched.Start()
	<-doneA
	<-doneB
	<-doneC

	want := []string{"a-down", "b-down", "c-up1", "c-up2", "c-done", "b-woke", "a-woke"}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log = %v, want %v", log, want)
		}
	}
}

func TestMutexRecursiveAcquire(t *testing.T) {
	sched := thread.NewScheduler(thread.NewPIDPool(4))
	m := NewMutex(sched)
	pcb := thread.NewPCB(1, 0, "solo", 2)

	m.Acquire(pcb)
	m.Acquire(pcb) // recursive, same holder

	if m.Holder() != pcb {
		t.Fatalf("Holder() = %v, want pcb", m.Holder())
	}
	m.Release(pcb)
	if m.Holder() != pcb {
		t.Fatalf("Release should not drop ownership until repeat count reaches 0")
	}
	m.Release(pcb)
	if m.Holder() != nil {
		t.Fatalf("Holder() = %v, want nil after fully released", m.Holder())
	}
}

func TestMutexReleaseByNonHolderPanics(t *testing.T) {
	sched := thread.NewScheduler(thread.NewPIDPool(4))
	m := NewMutex(sched)
	owner := thread.NewPCB(1, 0, "owner", 2)
	other := thread.NewPCB(2, 0, "other", 2)
	m.Acquire(owner)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic releasing a mutex held by another thread")
		}
	}()
	m.Release(other)
}
