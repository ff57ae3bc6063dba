package bitmap

import "testing"

func TestSetTestRoundTrip(t *testing.T) {
	b := New(128)
	before := b.Clone()
	for i := 0; i < 128; i += 7 {
		b.Set(i, true)
		b.Set(i, false)
		if !b.Equal(&before) {
			t.Fatalf("bit %d: set/clear round trip changed bitmap", i)
		}
	}
}

func TestScanFindsAlignedRun(t *testing.T) {
	b := New(16)
	b.Set(0, true)
	b.Set(1, true)
	idx := b.Scan(3)
	if idx != 2 {
		t.Fatalf("Scan(3) = %d, want 2", idx)
	}
}

func TestScanExhausted(t *testing.T) {
	b := New(4)
	for i := 0; i < 4; i++ {
		b.Set(i, true)
	}
	if idx := b.Scan(1); idx != -1 {
		t.Fatalf("Scan(1) = %d, want -1", idx)
	}
}

func TestPopcount(t *testing.T) {
	b := New(70)
	b.Set(0, true)
	b.Set(63, true)
	b.Set(64, true)
	b.Set(69, true)
	if c := b.Popcount(); c != 4 {
		t.Fatalf("Popcount() = %d, want 4", c)
	}
}
