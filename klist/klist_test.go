package klist

import "testing"

func TestPushPopOrder(t *testing.T) {
	var l List[int]
	l.PushBack(1)
	l.PushBack(2)
	l.PushBack(3)
	if got := l.ToSlice(); !equal(got, []int{1, 2, 3}) {
		t.Fatalf("ToSlice() = %v", got)
	}
	id, ok := l.PopFront()
	if !ok || id != 1 {
		t.Fatalf("PopFront() = %v, %v", id, ok)
	}
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}
}

func TestPushFrontPriorityBoost(t *testing.T) {
	var l List[int]
	l.PushBack(1)
	l.PushBack(2)
	l.PushFront(9)
	if got := l.ToSlice(); !equal(got, []int{9, 1, 2}) {
		t.Fatalf("ToSlice() = %v", got)
	}
}

func TestRemoveMiddle(t *testing.T) {
	var l List[int]
	for i := 1; i <= 5; i++ {
		l.PushBack(i)
	}
	l.Remove(3)
	if got := l.ToSlice(); !equal(got, []int{1, 2, 4, 5}) {
		t.Fatalf("ToSlice() = %v", got)
	}
	if l.Contains(3) {
		t.Fatal("Contains(3) true after Remove")
	}
}

func TestTraverseStopsOnTrue(t *testing.T) {
	var l List[int]
	for i := 1; i <= 5; i++ {
		l.PushBack(i)
	}
	var seen []int
	l.Traverse(func(id int) bool {
		seen = append(seen, id)
		return id == 3
	})
	if !equal(seen, []int{1, 2, 3}) {
		t.Fatalf("seen = %v", seen)
	}
}

func equal(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
