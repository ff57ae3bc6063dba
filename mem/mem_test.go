package mem

import (
	"testing"

	"minios/errs"
)

func TestFramePoolConservation(t *testing.T) {
	p := NewFramePool(0, 16)
	var allocated []uintptr
	for i := 0; i < 10; i++ {
		a, err := p.Alloc()
		if err != 0 {
			t.Fatalf("Alloc() failed at %d: %v", i, err)
		}
		allocated = append(allocated, a)
	}
	if p.AllocCount()+p.FreeCount() != p.NFrames {
		t.Fatalf("conservation violated: alloc=%d free=%d total=%d",
			p.AllocCount(), p.FreeCount(), p.NFrames)
	}
	for _, a := range allocated {
		p.Free(a)
	}
	if p.AllocCount() != 0 {
		t.Fatalf("AllocCount() = %d after freeing all", p.AllocCount())
	}
}

func TestFramePoolExhaustion(t *testing.T) {
	p := NewFramePool(0, 2)
	if _, err := p.Alloc(); err != 0 {
		t.Fatal("first alloc should succeed")
	}
	if _, err := p.Alloc(); err != 0 {
		t.Fatal("second alloc should succeed")
	}
	if _, err := p.Alloc(); err != errs.ENOMEM {
		t.Fatalf("third alloc should fail with ENOMEM, got %v", err)
	}
}

func TestVirtPoolAllocRun(t *testing.T) {
	v := NewVirtPool(0x1000, 8, nil)
	a, err := v.Alloc(3)
	if err != 0 {
		t.Fatalf("Alloc(3) failed: %v", err)
	}
	if a != 0x1000 {
		t.Fatalf("Alloc(3) = %#x, want %#x", a, uintptr(0x1000))
	}
	b, err := v.Alloc(2)
	if err != 0 || b != 0x1000+3*PageSize {
		t.Fatalf("Alloc(2) = %#x, %v", b, err)
	}
}

func TestVirtPoolClone(t *testing.T) {
	v := NewVirtPool(0, 4, nil)
	v.Alloc(2)
	c := v.Clone()
	v.Alloc(1)
	a, err := c.Alloc(1)
	if err != 0 || a != 2*PageSize {
		t.Fatalf("clone should not see parent's post-clone allocation: a=%#x err=%v, want %#x", a, err, 2*PageSize)
	}
}
