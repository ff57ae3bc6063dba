package fdtable

import (
	"testing"

	"minios/blockdev"
	"minios/fs"
	"minios/thread"
)

type fakeConsole struct{ out []byte }

func (c *fakeConsole) Write(b []byte) (int, error) {
	c.out = append(c.out, b...)
	return len(b), nil
}

func newTestFS(t *testing.T) (*FileSystem, *thread.PCB) {
	t.Helper()
	dev := blockdev.NewMemDisk(4096)
	part, err := fs.Mkfs(dev, 0, 4096, 256)
	if err != 0 {
		t.Fatalf("Mkfs: %v", err)
	}
	sched := thread.NewScheduler(thread.NewPIDPool(8))
	fsys := NewFileSystem(part, &fakeConsole{}, nil, sched)
	pcb := thread.NewPCB(1, 0, "test", 4)
	pcb.CwdInodeNo = 0
	return fsys, pcb
}

// TestOpenCreateWriteReadCloseRoundTrip exercises end-to-end scenario
// (A) from spec.md §8: create, write, seek to start, read back, stat.
func TestOpenCreateWriteReadCloseRoundTrip(t *testing.T) {
	fsys, pcb := newTestFS(t)

	fd, err := fsys.Open(pcb, "/a", OCREAT|ORDWR)
	if err != 0 || fd < 3 {
		t.Fatalf("Open(O_CREAT): fd=%d err=%v", fd, err)
	}

	n, err := fsys.Write(pcb, fd, []byte("hello"))
	if err != 0 || n != 5 {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}

	pos, err := fsys.Lseek(pcb, fd, 0, SeekSet)
	if err != 0 || pos != 0 {
		t.Fatalf("Lseek: pos=%d err=%v", pos, err)
	}

	buf, err := fsys.Read(pcb, fd, 5)
	if err != 0 || string(buf) != "hello" {
		t.Fatalf("Read: buf=%q err=%v", buf, err)
	}

	if err := fsys.Close(pcb, fd); err != 0 {
		t.Fatalf("Close: %v", err)
	}

	st, err := fsys.Stat(pcb, "/a")
	if err != 0 || st.Size != 5 || st.IsDir {
		t.Fatalf("Stat: %+v err=%v", st, err)
	}
}

func TestOpenCreateTwiceFails(t *testing.T) {
	fsys, pcb := newTestFS(t)
	if _, err := fsys.Open(pcb, "/a", OCREAT|ORDWR); err != 0 {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := fsys.Open(pcb, "/a", OCREAT|ORDWR); err == 0 {
		t.Fatalf("second O_CREAT open of the same path should fail with EEXIST")
	}
}

func TestOpenMissingWithoutCreatFails(t *testing.T) {
	fsys, pcb := newTestFS(t)
	if _, err := fsys.Open(pcb, "/nope", ORDONLY); err == 0 {
		t.Fatalf("Open of missing file without O_CREAT should fail")
	}
}

func TestWriteDenyRejectsSecondWriter(t *testing.T) {
	fsys, pcb := newTestFS(t)
	fd0, err := fsys.Open(pcb, "/a", OCREAT|ORDWR)
	if err != 0 {
		t.Fatalf("create: %v", err)
	}
	fsys.Close(pcb, fd0)
	fd1, err := fsys.Open(pcb, "/a", ORDWR)
	if err != 0 {
		t.Fatalf("Open: %v", err)
	}
	if _, err := fsys.Open(pcb, "/a", ORDWR); err == 0 {
		t.Fatalf("second writer open should be denied while first is open")
	}
	if err := fsys.Close(pcb, fd1); err != 0 {
		t.Fatalf("Close: %v", err)
	}
	fd2, err := fsys.Open(pcb, "/a", ORDWR)
	if err != 0 {
		t.Fatalf("reopen after close should succeed: %v", err)
	}
	fsys.Close(pcb, fd2)
}

func TestMkdirChdirGetcwd(t *testing.T) {
	fsys, pcb := newTestFS(t)
	if err := fsys.Mkdir(pcb, "/sub"); err != 0 {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := fsys.Chdir(pcb, "/sub"); err != 0 {
		t.Fatalf("Chdir: %v", err)
	}
	cwd, err := fsys.Getcwd(pcb)
	if err != 0 || cwd != "/sub" {
		t.Fatalf("Getcwd = %q, %v, want /sub", cwd, err)
	}
}

func TestRmdirRequiresEmpty(t *testing.T) {
	fsys, pcb := newTestFS(t)
	if err := fsys.Mkdir(pcb, "/sub"); err != 0 {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := fsys.Chdir(pcb, "/sub"); err != 0 {
		t.Fatalf("Chdir: %v", err)
	}
	fd, err := fsys.Open(pcb, "/sub/f", OCREAT|ORDWR)
	if err != 0 {
		t.Fatalf("Open under /sub: %v", err)
	}
	fsys.Close(pcb, fd)
	if err := fsys.Chdir(pcb, "/"); err != 0 {
		t.Fatalf("Chdir back to root: %v", err)
	}
	if err := fsys.Rmdir(pcb, "/sub"); err == 0 {
		t.Fatalf("Rmdir of non-empty dir should fail")
	}
	if err := fsys.Unlink(pcb, "/sub/f"); err != 0 {
		t.Fatalf("Unlink: %v", err)
	}
	if err := fsys.Rmdir(pcb, "/sub"); err != 0 {
		t.Fatalf("Rmdir of now-empty dir: %v", err)
	}
}

func TestUnlinkRefusesWhileOpen(t *testing.T) {
	fsys, pcb := newTestFS(t)
	fd, err := fsys.Open(pcb, "/a", OCREAT|ORDWR)
	if err != 0 {
		t.Fatalf("Open: %v", err)
	}
	if err := fsys.Unlink(pcb, "/a"); err == 0 {
		t.Fatalf("Unlink of an open file should fail")
	}
	fsys.Close(pcb, fd)
	if err := fsys.Unlink(pcb, "/a"); err != 0 {
		t.Fatalf("Unlink after close: %v", err)
	}
}

func TestReaddirListsEntries(t *testing.T) {
	fsys, pcb := newTestFS(t)
	fd1, _ := fsys.Open(pcb, "/a", OCREAT|ORDWR)
	fsys.Close(pcb, fd1)
	fd2, _ := fsys.Open(pcb, "/b", OCREAT|ORDWR)
	fsys.Close(pcb, fd2)

	dfd, err := fsys.Opendir(pcb, "/")
	if err != 0 {
		t.Fatalf("Opendir: %v", err)
	}
	seen := map[string]bool{}
	for {
		e, found, err := fsys.Readdir(pcb, dfd)
		if err != 0 {
			t.Fatalf("Readdir: %v", err)
		}
		if !found {
			break
		}
		seen[e.Filename] = true
	}
	if err := fsys.Closedir(pcb, dfd); err != 0 {
		t.Fatalf("Closedir: %v", err)
	}
	for _, want := range []string{".", "..", "a", "b"} {
		if !seen[want] {
			t.Fatalf("Readdir missing %q, saw %v", want, seen)
		}
	}
}

func TestLseekRejectsPositionEqualToSize(t *testing.T) {
	fsys, pcb := newTestFS(t)
	fd, err := fsys.Open(pcb, "/a", OCREAT|ORDWR)
	if err != 0 {
		t.Fatalf("Open: %v", err)
	}
	fsys.Write(pcb, fd, []byte("hi"))
	// Preserves the flagged original bug (spec.md §9.iii): seeking to
	// exactly i_size is rejected, not just beyond it.
	if _, err := fsys.Lseek(pcb, fd, 2, SeekSet); err == 0 {
		t.Fatalf("Lseek to position == i_size should fail, matching the preserved bug")
	}
	if pos, err := fsys.Lseek(pcb, fd, 1, SeekSet); err != 0 || pos != 1 {
		t.Fatalf("Lseek to position < i_size: pos=%d err=%v", pos, err)
	}
}

func TestPipeProducerConsumer(t *testing.T) {
	fsys, pcb := newTestFS(t)
	rfd, wfd, err := fsys.Pipe(pcb)
	if err != 0 {
		t.Fatalf("Pipe: %v", err)
	}

	// "hi" comfortably fits the 512-byte pipe buffer, so Write never
	// blocks and this can run synchronously on the test goroutine
	// rather than through the scheduler.
	n, err := fsys.Write(pcb, wfd, []byte("hi"))
	if err != 0 || n != 2 {
		t.Fatalf("Write to pipe: n=%d err=%v", n, err)
	}
	buf, err := fsys.Read(pcb, rfd, 2)
	if err != 0 || string(buf) != "hi" {
		t.Fatalf("Read from pipe: buf=%q err=%v", buf, err)
	}
}
