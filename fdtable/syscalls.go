package fdtable

import (
	"minios/errs"
	"minios/fs"
	"minios/thread"
)

// allocLocalFD finds the lowest free FD at or above 3 in pcb's table
// (0, 1, 2 stay reserved for stdin/stdout/stderr, spec.md §4.9).
func allocLocalFD(pcb *thread.PCB) (int, errs.Errno) {
	for i := 3; i < thread.MaxFDs; i++ {
		if pcb.FDTable[i] == thread.FreeFD {
			return i, 0
		}
	}
	return 0, errs.EMFILE
}

// cwdInode opens pcb's current-working-directory inode; caller closes.
func (fsys *FileSystem) cwdInode(pcb *thread.PCB) (*fs.Inode, errs.Errno) {
	return fsys.Part.Open(pcb.CwdInodeNo)
}

// Open implements sys_open (spec.md §4.9): O_CREAT branches to
// file_create, otherwise file_open; either way installs a local FD
// (skipping 0, 1, 2) in pcb's table.
func (fsys *FileSystem) Open(pcb *thread.PCB, path string, flags int) (int, errs.Errno) {
	if len(path) > 0 && path[len(path)-1] == '/' && WashPath(path) != "/" {
		return -1, errs.EISDIR
	}

	cwd, err := fsys.cwdInode(pcb)
	if err != 0 {
		return -1, err
	}
	rec, err := fsys.SearchFile(cwd, path)
	fsys.Part.Close(cwd)
	if err != 0 {
		return -1, err
	}

	var rb rollback
	var in *fs.Inode
	var ftype fs.FileType

	if rec.Found {
		if flags&OCREAT != 0 {
			fsys.Part.Close(rec.ParentDir)
			return -1, errs.EEXIST
		}
		if rec.IsDir {
			fsys.Part.Close(rec.ParentDir) // ParentDir here is rec's own inode (len(comps)==0 / dir leaf)
			in, err = fsys.Part.Open(rec.Ino)
			if err != 0 {
				return -1, err
			}
			ftype = fs.Directory
		} else {
			fsys.Part.Close(rec.ParentDir)
			in, err = fsys.Part.Open(rec.Ino)
			if err != 0 {
				return -1, err
			}
			ftype = fs.Regular
		}
	} else {
		if flags&OCREAT == 0 {
			fsys.Part.Close(rec.ParentDir)
			return -1, errs.ENOENT
		}
		parent := rec.ParentDir
		ino, aerr := fsys.Part.AllocInode()
		if aerr != 0 {
			fsys.Part.Close(parent)
			return -1, aerr
		}
		rb.add(func() { fsys.Part.FreeInode(ino) })

		if werr := fsys.Part.WriteOnDiskZero(ino); werr != 0 {
			rb.unwind()
			fsys.Part.Close(parent)
			return -1, werr
		}
		created, oerr := fsys.Part.Open(ino)
		if oerr != 0 {
			rb.unwind()
			fsys.Part.Close(parent)
			return -1, oerr
		}
		rb.add(func() { fsys.Part.Close(created) })

		if derr := fsys.Part.SyncDirEntry(parent, fs.DirEntry{Filename: rec.LeafName, INo: ino, FType: fs.Regular}); derr != 0 {
			rb.unwind()
			fsys.Part.Close(parent)
			return -1, derr
		}
		fsys.Part.Close(parent)
		rb.commit()
		in = created
		ftype = fs.Regular
	}

	deniedWrite := false
	if (flags == OWRONLY || flags == ORDWR) && ftype == fs.Regular {
		in.Lock()
		if in.WriteDeny {
			in.Unlock()
			fsys.Part.Close(in)
			return -1, errs.EBUSY
		}
		in.WriteDeny = true
		in.Unlock()
		deniedWrite = true
	}

	of := &OpenFile{RefCount: 1, Inode: in, Flags: flags, writeDeny: deniedWrite}
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

// closeOpenFile releases an OpenFile's inode (and write-deny flag),
// used both by Close and by Open's own rollback-on-FD-exhaustion path.
func (fsys *FileSystem) closeOpenFile(of *OpenFile) {
	if of.Inode == nil {
		return
	}
	of.mu.Lock()
	if of.writeDeny {
		of.Inode.Lock()
		of.Inode.WriteDeny = false
		of.Inode.Unlock()
	}
	of.mu.Unlock()
	fsys.Part.Close(of.Inode)
}

// Close implements sys_close: decrements the global slot's refcount,
// releasing the inode once it drops to zero.
func (fsys *FileSystem) Close(pcb *thread.PCB, fd int) errs.Errno {
	if fd < 0 || fd >= thread.MaxFDs {
		return errs.EINVAL
	}
	slot := pcb.FDTable[fd]
	if slot == thread.FreeFD {
		return errs.EINVAL
	}
	pcb.FDTable[fd] = thread.FreeFD
	if fd == FDStdin || fd == FDStdout || fd == FDStderr {
		// Reserved descriptors only ever hold a pipe end installed by
		// Pipe(); falls through to the same refcounted release.
	}
	of := fsys.Global.get(slot)
	if of == nil {
		return errs.EINVAL
	}
	of.mu.Lock()
	of.RefCount--
	dead := of.RefCount <= 0
	of.mu.Unlock()
	if !dead {
		return 0
	}
	fsys.Global.free(slot)
	fsys.closeOpenFile(of)
	return 0
}

// Read implements sys_read, dispatching on fd per spec.md §4.9: FD 0
// reads from its pipe if one is installed, else from the keyboard;
// any other fd reads its global slot.
func (fsys *FileSystem) Read(pcb *thread.PCB, fd int, n int) ([]byte, errs.Errno) {
	if fd == FDStdin {
		if slot := pcb.FDTable[FDStdin]; slot != thread.FreeFD {
			if of := fsys.Global.get(slot); of != nil && of.Queue != nil {
				return fsys.pipeRead(pcb, of, n)
			}
		}
		buf := make([]byte, 0, n)
		for i := 0; i < n; i++ {
			buf = append(buf, fsys.Keyboard.Get(pcb))
		}
		return buf, 0
	}

	slot := pcb.FDTable[fd]
	if slot == thread.FreeFD {
		return nil, errs.EINVAL
	}
	of := fsys.Global.get(slot)
	if of == nil {
		return nil, errs.EINVAL
	}
	if of.Queue != nil {
		return fsys.pipeRead(pcb, of, n)
	}
	return fsys.fileRead(of, n)
}

func (fsys *FileSystem) pipeRead(pcb *thread.PCB, of *OpenFile, n int) ([]byte, errs.Errno) {
	buf := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		buf = append(buf, of.Queue.Get(pcb))
	}
	return buf, 0
}

// fileRead implements file_read: bounded by i_size-fd_pos, block by
// block (spec.md §4.9).
func (fsys *FileSystem) fileRead(of *OpenFile, n int) ([]byte, errs.Errno) {
	of.mu.Lock()
	defer of.mu.Unlock()

	in := of.Inode
	in.Lock()
	remaining := int(in.ISize) - of.Pos
	in.Unlock()
	if remaining < 0 {
		remaining = 0
	}
	if n > remaining {
		n = remaining
	}
	out := make([]byte, 0, n)
	for len(out) < n {
		bi := of.Pos / fs.BlockSize
		blockOff := of.Pos % fs.BlockSize
		lba, err := fsys.Part.BlockLBA(in, bi)
		if err != 0 {
			return out, err
		}
		buf := make([]byte, fs.BlockSize)
		if rerr := fsys.Part.Dev.Read(int(lba), 1, buf); rerr != 0 {
			return out, rerr
		}
		take := fs.BlockSize - blockOff
		if take > n-len(out) {
			take = n - len(out)
		}
		out = append(out, buf[blockOff:blockOff+take]...)
		of.Pos += take
	}
	return out, 0
}

// Write implements sys_write, dispatching on fd exactly as Read does
// (spec.md §4.9).
func (fsys *FileSystem) Write(pcb *thread.PCB, fd int, data []byte) (int, errs.Errno) {
	if fd == FDStdout || fd == FDStderr {
		if slot := pcb.FDTable[fd]; slot != thread.FreeFD {
			if of := fsys.Global.get(slot); of != nil && of.Queue != nil {
				return fsys.pipeWrite(pcb, of, data)
			}
		}
		n, err := fsys.Console.Write(data)
		if err != nil {
			return n, errs.EFAULT
		}
		return n, 0
	}

	slot := pcb.FDTable[fd]
	if slot == thread.FreeFD {
		return 0, errs.EINVAL
	}
	of := fsys.Global.get(slot)
	if of == nil {
		return 0, errs.EINVAL
	}
	if of.Queue != nil {
		return fsys.pipeWrite(pcb, of, data)
	}
	return fsys.fileWrite(of, data)
}

func (fsys *FileSystem) pipeWrite(pcb *thread.PCB, of *OpenFile, data []byte) (int, errs.Errno) {
	for _, b := range data {
		of.Queue.Put(pcb, b)
	}
	return len(data), 0
}

// fileWrite implements file_write: grows the inode (allocating direct
// then indirect blocks as needed, bounded by fs.MaxFileSize),
// read-modify-writing the first partial block, then updates i_size
// and fd_pos (spec.md §4.9).
func (fsys *FileSystem) fileWrite(of *OpenFile, data []byte) (int, errs.Errno) {
	of.mu.Lock()
	defer of.mu.Unlock()

	in := of.Inode
	if of.Pos+len(data) > fs.MaxFileSize {
		return 0, errs.EFBIG
	}
	in.Lock()
	origSize := in.ISize
	in.Unlock()

	written := 0
	for written < len(data) {
		bi := (of.Pos + written) / fs.BlockSize
		blockOff := (of.Pos + written) % fs.BlockSize

		lba, err := fsys.Part.BlockLBA(in, bi)
		if err != 0 || lba == 0 {
			if bi >= fs.NumDataBlocks(in) {
				_, newLBA, gerr := fsys.Part.GrowBlock(in)
				if gerr != 0 {
					return written, gerr
				}
				lba = newLBA
			} else if err != 0 {
				return written, err
			}
		}

		take := fs.BlockSize - blockOff
		if take > len(data)-written {
			take = len(data) - written
		}

		buf := make([]byte, fs.BlockSize)
		if blockOff != 0 || take < fs.BlockSize {
			if rerr := fsys.Part.Dev.Read(int(lba), 1, buf); rerr != 0 {
				return written, rerr
			}
		}
		copy(buf[blockOff:blockOff+take], data[written:written+take])
		if werr := fsys.Part.Dev.Write(int(lba), 1, buf); werr != 0 {
			return written, werr
		}
		written += take
	}

	of.Pos += written
	in.Lock()
	// GrowBlock adds a whole block to ISize; a file's size is its byte
	// length, so it is recomputed from the size before this write.
	in.ISize = origSize
	if uint32(of.Pos) > in.ISize {
		in.ISize = uint32(of.Pos)
	}
	in.Unlock()
	if serr := fsys.Part.Sync(in); serr != 0 {
		return written, serr
	}
	return written, 0
}

// Lseek implements sys_lseek (spec.md §4.9). Preserves the flagged
// original-kernel bug verbatim (§9.iii, documented in DESIGN.md): a
// resulting position exactly equal to i_size is rejected, which means
// append-by-lseek-then-write never works here. Do not "fix" this
// without updating the decision in DESIGN.md.
func (fsys *FileSystem) Lseek(pcb *thread.PCB, fd int, offset int, whence int) (int, errs.Errno) {
	slot := pcb.FDTable[fd]
	if slot == thread.FreeFD {
		return -1, errs.EINVAL
	}
	of := fsys.Global.get(slot)
	if of == nil || of.Inode == nil {
		return -1, errs.EINVAL
	}

	of.mu.Lock()
	defer of.mu.Unlock()
	of.Inode.Lock()
	size := int(of.Inode.ISize)
	of.Inode.Unlock()

	var newPos int
	switch whence {
	case SeekSet:
		newPos = offset
	case SeekCur:
		newPos = of.Pos + offset
	case SeekEnd:
		newPos = size + offset
	default:
		return -1, errs.EINVAL
	}

	if newPos < 0 || newPos >= size {
		return -1, errs.EINVAL
	}
	of.Pos = newPos
	return newPos, 0
}
