package ioq

import (
	"testing"

	"minios/thread"
)

// TestProducerConsumerAlternation drives a capacity-1 ring buffer (n=2,
// so full⇔one byte queued) through the scheduler with one producer and
// one consumer. Because each side can hold only one byte ahead of the
// other, Put and Get strictly alternate — a deterministic trace since
// only one goroutine is ever off its resume channel at a time.
func TestProducerConsumerAlternation(t *testing.T) {
	sched := thread.NewScheduler(thread.NewPIDPool(8))
	q := NewQueue(sched, 2)

	var log []string
	var got []byte
	doneP := make(chan struct{})
	doneC := make(chan struct{})

	if _, err := sched.Spawn("producer", 1, func(pcb *thread.PCB) {
		for _, b := range []byte("ABC") {
			q.Put(pcb, b)
			log = append(log, "put "+string(b))
		}
		close(doneP)
	}); err != nil {
		t.Fatalf("Spawn producer: %v", err)
	}
	if _, err := sched.Spawn("consumer", 1, func(pcb *thread.PCB) {
		for i := 0; i < 3; i++ {
			b := q.Get(pcb)
			got = append(got, b)
			log = append(log, "got "+string(b))
		}
		close(doneC)
	}); err != nil {
		t.Fatalf("Spawn consumer: %v", err)
	}

	sched.Start()
	<-doneP
	<-doneC

	want := []string{"put A", "got A", "put B", "got B", "put C", "got C"}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log = %v, want %v", log, want)
		}
	}
	if string(got) != "ABC" {
		t.Fatalf("got = %q, want ABC", got)
	}
}

func TestQueueEmptyFullInvariants(t *testing.T) {
	sched := thread.NewScheduler(thread.NewPIDPool(4))
	q := NewQueue(sched, 4)
	pcb := thread.NewPCB(1, 0, "solo", 2)

	if !q.empty() {
		t.Fatalf("new queue should be empty")
	}
	q.Put(pcb, 'x')
	q.Put(pcb, 'y')
	q.Put(pcb, 'z')
	if !q.full() {
		t.Fatalf("queue of capacity 4 should be full after 3 puts")
	}
	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}
}
