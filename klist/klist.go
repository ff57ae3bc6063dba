// Package klist reimplements the teacher kernel's intrusive doubly-linked
// list (spec.md §4.1, §9's "intrusive lists" design note) as an ID-linked
// list. The original embeds prev/next pointers in the owning struct and
// recovers the container via an offset-of trick; in a memory-safe language
// that trick doesn't exist, so nodes are referenced by a small comparable
// ID (an int PID, as in thread.Scheduler and ksync.Sema) and the links live in this package's own
// arena, not in the caller's struct. This is exactly the substitution §9
// prescribes: "use an arena with stable indices and keep the lists as
// double-linked lists of IDs."
//
// Callers serialize access themselves (the scheduler's ready list under
// its own mutex, a semaphore's waiter list under the semaphore's mutex)
// the way the original disables interrupts around link updates.
package klist

type node[T comparable] struct {
	val        T
	prev, next T
	has        bool
}

// List is an ID-keyed doubly-linked list. The zero value is an empty,
// usable list.
type List[T comparable] struct {
	nodes      map[T]*node[T]
	head, tail T
	len        int
}

func (l *List[T]) init() {
	if l.nodes == nil {
		l.nodes = make(map[T]*node[T])
	}
}

// Len returns the number of elements currently linked.
func (l *List[T]) Len() int { return l.len }

// Contains reports whether id is currently linked.
func (l *List[T]) Contains(id T) bool {
	_, ok := l.nodes[id]
	return ok
}

// PushFront links id at the head of the list.
func (l *List[T]) PushFront(id T) {
	l.init()
	if _, ok := l.nodes[id]; ok {
		panic("klist: id already linked")
	}
	n := &node[T]{val: id, has: true}
	if l.len == 0 {
		l.head, l.tail = id, id
	} else {
		n.next = l.head
		l.nodes[l.head].prev = id
		l.head = id
	}
	l.nodes[id] = n
	l.len++
}

// PushBack (the spec's "append") links id at the tail of the list.
func (l *List[T]) PushBack(id T) {
	l.init()
	if _, ok := l.nodes[id]; ok {
		panic("klist: id already linked")
	}
	n := &node[T]{val: id, has: true}
	if l.len == 0 {
		l.head, l.tail = id, id
	} else {
		n.prev = l.tail
		l.nodes[l.tail].next = id
		l.tail = id
	}
	l.nodes[id] = n
	l.len++
}

// Remove unlinks id in O(1). It is a no-op if id is not linked.
func (l *List[T]) Remove(id T) {
	n, ok := l.nodes[id]
	if !ok {
		return
	}
	if l.head == id {
		l.head = n.next
	} else {
		l.nodes[n.prev].next = n.next
	}
	if l.tail == id {
		l.tail = n.prev
	} else {
		l.nodes[n.next].prev = n.prev
	}
	delete(l.nodes, id)
	l.len--
}

// PopFront removes and returns the head element. ok is false if the list
// is empty.
func (l *List[T]) PopFront() (id T, ok bool) {
	if l.len == 0 {
		return id, false
	}
	id = l.head
	l.Remove(id)
	return id, true
}

// Front returns the head element without removing it.
func (l *List[T]) Front() (id T, ok bool) {
	if l.len == 0 {
		return id, false
	}
	return l.head, true
}

// Traverse calls cb for each element front-to-back, stopping at the
// first call that returns true (matching spec.md §4.1's traverse
// contract).
func (l *List[T]) Traverse(cb func(T) bool) {
	if l.len == 0 {
		return
	}
	cur := l.head
	for i := 0; i < l.len; i++ {
		n := l.nodes[cur]
		next := n.next
		if cb(cur) {
			return
		}
		cur = next
	}
}

// ToSlice materializes the list front-to-back, mainly for tests and `ps`.
func (l *List[T]) ToSlice() []T {
	out := make([]T, 0, l.len)
	l.Traverse(func(id T) bool {
		out = append(out, id)
		return false
	})
	return out
}
