package fdtable

import (
	"strings"

	"minios/errs"
	"minios/fs"
	"minios/ioq"
	"minios/thread"
)

// Stat is sys_stat's result (spec.md §4.9).
type Stat struct {
	INo   uint32
	Size  uint32
	IsDir bool
}

// Stat implements sys_stat.
func (fsys *FileSystem) Stat(pcb *thread.PCB, path string) (Stat, errs.Errno) {
	cwd, err := fsys.cwdInode(pcb)
	if err != 0 {
		return Stat{}, err
	}
	rec, err := fsys.SearchFile(cwd, path)
	fsys.Part.Close(cwd)
	if err != 0 {
		return Stat{}, err
	}
	if !rec.Found {
		fsys.Part.Close(rec.ParentDir)
		return Stat{}, errs.ENOENT
	}
	in, oerr := fsys.Part.Open(rec.Ino)
	fsys.Part.Close(rec.ParentDir)
	if oerr != 0 {
		return Stat{}, oerr
	}
	st := Stat{INo: rec.Ino, Size: in.ISize, IsDir: rec.IsDir}
	fsys.Part.Close(in)
	return st, 0
}

// Mkdir implements sys_mkdir: allocates an inode and its first data
// block, initializes "." and ".." (".." points at the parent), links
// the new name into the parent, and syncs — rolling back the inode
// bitmap bit on any failure (spec.md §4.9).
func (fsys *FileSystem) Mkdir(pcb *thread.PCB, path string) errs.Errno {
	cwd, err := fsys.cwdInode(pcb)
	if err != 0 {
		return err
	}
	rec, err := fsys.SearchFile(cwd, path)
	fsys.Part.Close(cwd)
	if err != 0 {
		return err
	}
	if rec.Found {
		fsys.Part.Close(rec.ParentDir)
		return errs.EEXIST
	}
	parent := rec.ParentDir

	var rb rollback
	ino, aerr := fsys.Part.AllocInode()
	if aerr != 0 {
		fsys.Part.Close(parent)
		return aerr
	}
	rb.add(func() { fsys.Part.FreeInode(ino) })

	if werr := fsys.Part.WriteOnDiskZero(ino); werr != 0 {
		rb.unwind()
		fsys.Part.Close(parent)
		return werr
	}
	child, oerr := fsys.Part.Open(ino)
	if oerr != 0 {
		rb.unwind()
		fsys.Part.Close(parent)
		return oerr
	}
	rb.add(func() { fsys.Part.Close(child) })

	// Rollback from here on only releases the inode number and closes
	// the handle; a data block child already allocated for "."/".." is
	// not reclaimed on a later failure, a known gap on this rare
	// disk-full path.
	if derr := fsys.Part.SyncDirEntry(child, fs.DirEntry{Filename: ".", INo: ino, FType: fs.Directory}); derr != 0 {
		rb.unwind()
		fsys.Part.Close(parent)
		return derr
	}
	if derr := fsys.Part.SyncDirEntry(child, fs.DirEntry{Filename: "..", INo: parent.INo, FType: fs.Directory}); derr != 0 {
		rb.unwind()
		fsys.Part.Close(parent)
		return derr
	}
	if derr := fsys.Part.SyncDirEntry(parent, fs.DirEntry{Filename: rec.LeafName, INo: ino, FType: fs.Directory}); derr != 0 {
		rb.unwind()
		fsys.Part.Close(parent)
		return derr
	}

	fsys.Part.Close(child)
	fsys.Part.Close(parent)
	rb.commit()
	return 0
}

// dirIsEmpty reports whether dir has no entries besides "." and "..".
func (fsys *FileSystem) dirIsEmpty(dir *fs.Inode) bool {
	idx := 0
	for {
		e, next, found, err := fsys.Part.ReaddirAt(dir, idx)
		if err != 0 || !found {
			return true
		}
		if e.Filename != "." && e.Filename != ".." {
			return false
		}
		idx = next
	}
}

// Rmdir implements sys_rmdir: requires the directory empty save for
// "." and ".." (spec.md §4.9).
func (fsys *FileSystem) Rmdir(pcb *thread.PCB, path string) errs.Errno {
	cwd, err := fsys.cwdInode(pcb)
	if err != 0 {
		return err
	}
	rec, err := fsys.SearchFile(cwd, path)
	fsys.Part.Close(cwd)
	if err != 0 {
		return err
	}
	if !rec.Found {
		fsys.Part.Close(rec.ParentDir)
		return errs.ENOENT
	}
	if !rec.IsDir {
		fsys.Part.Close(rec.ParentDir)
		return errs.ENOTDIR
	}
	// rec.ParentDir is already the target directory itself (SearchFile
	// promotes cur to the last-component directory before returning).
	dir := rec.ParentDir
	if !fsys.dirIsEmpty(dir) {
		fsys.Part.Close(dir)
		return errs.ENOTEMPTY
	}

	// Recover the parent inode via "..", since dir's own INo is what we
	// need to unlink from it, not dir's handle.
	parentEntry, perr := fsys.Part.SearchDirEntry(dir, "..")
	if perr != 0 {
		fsys.Part.Close(dir)
		return perr
	}
	parent, oerr := fsys.Part.Open(parentEntry.INo)
	if oerr != 0 {
		fsys.Part.Close(dir)
		return oerr
	}

	if derr := fsys.Part.DeleteDirEntry(parent, rec.Ino); derr != 0 {
		fsys.Part.Close(parent)
		fsys.Part.Close(dir)
		return derr
	}
	fsys.Part.Close(parent)

	if rerr := fsys.Part.Release(dir); rerr != 0 {
		fsys.Part.Close(dir)
		return rerr
	}
	fsys.Part.Close(dir)
	return 0
}

// Unlink implements sys_unlink: refuses while the inode is open
// anywhere in the global table (spec.md §4.9).
func (fsys *FileSystem) Unlink(pcb *thread.PCB, path string) errs.Errno {
	cwd, err := fsys.cwdInode(pcb)
	if err != 0 {
		return err
	}
	rec, err := fsys.SearchFile(cwd, path)
	fsys.Part.Close(cwd)
	if err != 0 {
		return err
	}
	if !rec.Found {
		fsys.Part.Close(rec.ParentDir)
		return errs.ENOENT
	}
	if rec.IsDir {
		fsys.Part.Close(rec.ParentDir)
		return errs.EISDIR
	}
	if fsys.Global.Contains(rec.Ino) {
		fsys.Part.Close(rec.ParentDir)
		return errs.EBUSY
	}

	if derr := fsys.Part.DeleteDirEntry(rec.ParentDir, rec.Ino); derr != 0 {
		fsys.Part.Close(rec.ParentDir)
		return derr
	}

	in, oerr := fsys.Part.Open(rec.Ino)
	fsys.Part.Close(rec.ParentDir)
	if oerr != 0 {
		return oerr
	}
	if rerr := fsys.Part.Release(in); rerr != 0 {
		fsys.Part.Close(in)
		return rerr
	}
	fsys.Part.Close(in)
	return 0
}

// Chdir implements sys_chdir.
func (fsys *FileSystem) Chdir(pcb *thread.PCB, path string) errs.Errno {
	cwd, err := fsys.cwdInode(pcb)
	if err != 0 {
		return err
	}
	rec, err := fsys.SearchFile(cwd, path)
	fsys.Part.Close(cwd)
	if err != 0 {
		return err
	}
	if !rec.Found {
		fsys.Part.Close(rec.ParentDir)
		return errs.ENOENT
	}
	if !rec.IsDir {
		fsys.Part.Close(rec.ParentDir)
		return errs.ENOTDIR
	}
	fsys.Part.Close(rec.ParentDir)
	pcb.CwdInodeNo = rec.Ino
	return 0
}

// Getcwd implements sys_getcwd: walks upward via each directory's
// ".." entry to its parent inode number, scans that parent for the
// child's own name, and reverses the collected segments into an
// absolute path (spec.md §4.9).
func (fsys *FileSystem) Getcwd(pcb *thread.PCB) (string, errs.Errno) {
	cur := uint32(pcb.CwdInodeNo)
	var segments []string

	for cur != 0 {
		dir, err := fsys.Part.Open(cur)
		if err != 0 {
			return "", err
		}
		dotdot, err := fsys.Part.SearchDirEntry(dir, "..")
		if err != 0 {
			fsys.Part.Close(dir)
			return "", err
		}
		parentIno := dotdot.INo

		parent, oerr := fsys.Part.Open(parentIno)
		fsys.Part.Close(dir)
		if oerr != 0 {
			return "", oerr
		}
		name, nerr := fsys.Part.NameOfChild(parent, cur)
		fsys.Part.Close(parent)
		if nerr != 0 {
			return "", nerr
		}
		segments = append(segments, name)
		if parentIno == cur {
			break
		}
		cur = parentIno
	}

	if len(segments) == 0 {
		return "/", 0
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return "/" + strings.Join(segments, "/"), 0
}

// Opendir implements sys_opendir, installing a local FD whose global
// slot's Pos tracks the next ReaddirAt scan index.
func (fsys *FileSystem) Opendir(pcb *thread.PCB, path string) (int, errs.Errno) {
	cwd, err := fsys.cwdInode(pcb)
	if err != 0 {
		return -1, err
	}
	rec, err := fsys.SearchFile(cwd, path)
	fsys.Part.Close(cwd)
	if err != 0 {
		return -1, err
	}
	if !rec.Found {
		fsys.Part.Close(rec.ParentDir)
		return -1, errs.ENOENT
	}
	if !rec.IsDir {
		fsys.Part.Close(rec.ParentDir)
		return -1, errs.ENOTDIR
	}
	fsys.Part.Close(rec.ParentDir)

	in, oerr := fsys.Part.Open(rec.Ino)
	if oerr != 0 {
		return -1, oerr
	}
	of := &OpenFile{RefCount: 1, Inode: in}
	slot := fsys.Global.alloc(of)
	fd, ferr := allocLocalFD(pcb)
	if ferr != 0 {
		fsys.Global.free(slot)
		fsys.closeOpenFile(of)
		return -1, ferr
	}
	pcb.FDTable[fd] = slot
	return fd, 0
}

// Closedir implements sys_closedir.
func (fsys *FileSystem) Closedir(pcb *thread.PCB, fd int) errs.Errno {
	return fsys.Close(pcb, fd)
}

// Readdir implements sys_readdir, returning (entry, true) for each
// occupied slot in turn and (zero, false) once the directory is
// exhausted.
func (fsys *FileSystem) Readdir(pcb *thread.PCB, fd int) (fs.DirEntry, bool, errs.Errno) {
	slot := pcb.FDTable[fd]
	if slot == thread.FreeFD {
		return fs.DirEntry{}, false, errs.EINVAL
	}
	of := fsys.Global.get(slot)
	if of == nil || of.Inode == nil {
		return fs.DirEntry{}, false, errs.EINVAL
	}
	of.mu.Lock()
	defer of.mu.Unlock()
	e, next, found, err := fsys.Part.ReaddirAt(of.Inode, of.Pos)
	if err != 0 {
		return fs.DirEntry{}, false, err
	}
	of.Pos = next
	return e, found, 0
}

// Rewinddir implements sys_rewinddir.
func (fsys *FileSystem) Rewinddir(pcb *thread.PCB, fd int) errs.Errno {
	slot := pcb.FDTable[fd]
	if slot == thread.FreeFD {
		return errs.EINVAL
	}
	of := fsys.Global.get(slot)
	if of == nil {
		return errs.EINVAL
	}
	of.mu.Lock()
	of.Pos = 0
	of.mu.Unlock()
	return 0
}

// Pipe implements pipe(fd[2]) (spec.md §6): two ring-buffer-backed
// ends installed as fresh local FDs (not necessarily 0/1/2 — a shell
// wires redirection by reassigning those separately). Supplemented
// from original_source/ (LiteOS's device/ioqueue.h ring buffer reused
// for pipes, fs/file.c).
func (fsys *FileSystem) Pipe(pcb *thread.PCB) (readFD, writeFD int, _ errs.Errno) {
	q := ioq.NewQueue(fsys.Sched, PipeBufSize)
	ofR := &OpenFile{RefCount: 1, Queue: q}
	ofW := &OpenFile{RefCount: 1, Queue: q}
	slotR := fsys.Global.alloc(ofR)
	slotW := fsys.Global.alloc(ofW)

	fdR, err := allocLocalFD(pcb)
	if err != 0 {
		fsys.Global.free(slotR)
		fsys.Global.free(slotW)
		return -1, -1, err
	}
	pcb.FDTable[fdR] = slotR

	fdW, err := allocLocalFD(pcb)
	if err != 0 {
		pcb.FDTable[fdR] = thread.FreeFD
		fsys.Global.free(slotR)
		fsys.Global.free(slotW)
		return -1, -1, err
	}
	pcb.FDTable[fdW] = slotW

	return fdR, fdW, 0
}
