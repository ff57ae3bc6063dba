package kernel

import "testing"

// TestBootListsMainIdleInit is spec.md §8 scenario (E): a ps listing
// taken right after Boot names at least main, idle, and init, each
// with a pid, parent pid, status, and tick count.
func TestBootListsMainIdleInit(t *testing.T) {
	k, err := Boot(Config{})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}

	rows := k.PS()
	names := map[string]bool{}
	for _, r := range rows {
		names[r.Name] = true
		if r.PID < 0 {
			t.Fatalf("row %+v has negative pid", r)
		}
	}
	for _, want := range []string{"main", "idle", "init"} {
		if !names[want] {
			t.Fatalf("PS() = %+v, missing %q", rows, want)
		}
	}
}

func TestBootFormatsRootFileSystem(t *testing.T) {
	k, err := Boot(Config{})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if k.Root == nil {
		t.Fatal("Boot did not mount a root partition")
	}
	if got := len(k.Partitions.All()); got != 1 {
		t.Fatalf("Partitions.All() has %d entries, want 1", got)
	}
}

func TestBootSyscallTableServesGetpid(t *testing.T) {
	k, err := Boot(Config{})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if k.Syscalls[0] == nil {
		t.Fatal("Syscalls table has no handler installed for syscall 0")
	}
}
