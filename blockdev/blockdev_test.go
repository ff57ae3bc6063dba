package blockdev

import "testing"

func TestMemDiskRoundTrip(t *testing.T) {
	d := NewMemDisk(4)
	want := make([]byte, SectorSize)
	for i := range want {
		want[i] = byte(i)
	}
	if err := d.WriteSector(2, want); err != 0 {
		t.Fatalf("WriteSector: %v", err)
	}
	got := make([]byte, SectorSize)
	if err := d.ReadSector(2, got); err != 0 {
		t.Fatalf("ReadSector: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPartitionOffsetsIntoDisk(t *testing.T) {
	d := NewMemDisk(8)
	p := NewPartition(d, 4, 4)
	buf := make([]byte, SectorSize)
	buf[0] = 0xAB
	if err := p.Write(0, 1, buf); err != 0 {
		t.Fatalf("Write: %v", err)
	}
	direct := make([]byte, SectorSize)
	if err := d.ReadSector(4, direct); err != 0 {
		t.Fatalf("ReadSector: %v", err)
	}
	if direct[0] != 0xAB {
		t.Fatalf("partition write at lba 0 did not land at disk lba 4")
	}
}

func TestRegistryAddAll(t *testing.T) {
	r := NewRegistry()
	d := NewMemDisk(8)
	p := NewPartition(d, 0, 8)
	r.Add(p)
	all := r.All()
	if len(all) != 1 || all[0] != p {
		t.Fatalf("All() = %v, want [%v]", all, p)
	}
}
