// Package ioq implements the byte ring buffer of spec.md §4.4 (C7),
// used for keyboard input and for pipes: a fixed-size circular buffer
// with at most one sleeping producer and one sleeping consumer, the
// mutex serializing callers so there is never more than one waiter per
// side. Grounded in shape on the teacher's Circbuf_t
// (biscuit/src/circbuf/circbuf.go) and in wakeup protocol on
// original_source/device/ioqueue.h's ioqueue (single producer/consumer
// slot, lock-protected).
package ioq

import (
	"minios/ksync"
	"minios/thread"
)

// Queue is a fixed-capacity byte ring buffer. empty ⇔ head==tail;
// full ⇔ (head+1)%N==tail, so capacity n holds at most n-1 bytes —
// the classic ring-buffer invariant spec.md §3 names.
type Queue struct {
	sched *thread.Scheduler
	mu    *ksync.Mutex
	buf   []byte
	n     int
	head  int
	tail  int

	producerWaiter *thread.PCB
	consumerWaiter *thread.PCB
}

// NewQueue creates a ring buffer with room for n-1 bytes.
func NewQueue(sched *thread.Scheduler, n int) *Queue {
	return &Queue{sched: sched, mu: ksync.NewMutex(sched), buf: make([]byte, n), n: n}
}

func (q *Queue) full() bool  { return (q.head+1)%q.n == q.tail }
func (q *Queue) empty() bool { return q.head == q.tail }

// Len returns the number of unread bytes currently queued.
func (q *Queue) Len() int { return (q.head - q.tail + q.n) % q.n }

// Put enqueues one byte, blocking self while the buffer is full. The
// mutex is released for the duration of the block so a concurrent Get
// can drain the buffer and wake this producer (spec.md §4.4's "while
// full, set self as producer_waiter and block").
func (q *Queue) Put(self *thread.PCB, b byte) {
	q.mu.Acquire(self)
	for q.full() {
		q.producerWaiter = self
		q.mu.Release(self)
		q.sched.Block(self, thread.BLOCKED)
		q.mu.Acquire(self)
	}
	q.buf[q.head] = b
	q.head = (q.head + 1) % q.n
	if q.consumerWaiter != nil {
		w := q.consumerWaiter
		q.consumerWaiter = nil
		q.sched.Unblock(w)
	}
	q.mu.Release(self)
}

// Get dequeues one byte, blocking self while the buffer is empty.
func (q *Queue) Get(self *thread.PCB) byte {
	q.mu.Acquire(self)
	for q.empty() {
		q.consumerWaiter = self
		q.mu.Release(self)
		q.sched.Block(self, thread.BLOCKED)
		q.mu.Acquire(self)
	}
	b := q.buf[q.tail]
	q.tail = (q.tail + 1) % q.n
	if q.producerWaiter != nil {
		w := q.producerWaiter
		q.producerWaiter = nil
		q.sched.Unblock(w)
	}
	q.mu.Release(self)
	return b
}
