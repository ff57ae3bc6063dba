package fs

import (
	"encoding/binary"

	"minios/errs"
)

// FileType tags what a directory entry points at (spec.md §3's
// "type lives only in the parent directory entry, never in the
// inode").
type FileType uint8

const (
	Unknown FileType = iota
	Regular
	Directory
)

// filenameLen is the fixed on-disk filename field width.
const filenameLen = 16

// DirEntrySize is the packed on-disk byte size of one directory entry:
// 16-byte name + 4-byte inode number + 1-byte type = 21. 512/21 = 24
// entries per sector with 8 bytes left over — deliberately not padded
// to a power of two, so entries are packed tightly and never split
// across a sector boundary (spec.md §4.8), rather than trivially
// aligned.
const DirEntrySize = filenameLen + 4 + 1

// entriesPerSector is how many DirEntry slots fit in one sector
// without crossing its boundary.
const entriesPerSector = SectorSize / DirEntrySize

// DirEntry is one in-directory record: a name, the inode it names, and
// that inode's type.
type DirEntry struct {
	Filename string
	INo      uint32
	FType    FileType
}

// Encode serializes e into a fresh DirEntrySize-byte record. A
// filename longer than filenameLen bytes is silently truncated to
// filenameLen; a name of exactly filenameLen bytes is stored with no
// terminating NUL. Component length is not checked before this point.
func (e DirEntry) Encode() []byte {
	buf := make([]byte, DirEntrySize)
	copy(buf[0:filenameLen], e.Filename)
	binary.LittleEndian.PutUint32(buf[filenameLen:], e.INo)
	buf[filenameLen+4] = byte(e.FType)
	return buf
}

// DecodeDirEntry parses a DirEntrySize-byte record.
func DecodeDirEntry(buf []byte) DirEntry {
	end := 0
	for end < filenameLen && buf[end] != 0 {
		end++
	}
	name := string(buf[0:end])
	ino := binary.LittleEndian.Uint32(buf[filenameLen:])
	ft := FileType(buf[filenameLen+4])
	return DirEntry{Filename: name, INo: ino, FType: ft}
}

// numDataBlocks reports how many of dir's data blocks are in use,
// derived from ISize rounded up to whole blocks (directories grow one
// whole block at a time; a file's last block may be partly used).
func numDataBlocks(dir *Inode) int {
	dir.mu.Lock()
	defer dir.mu.Unlock()
	return (int(dir.ISize) + BlockSize - 1) / BlockSize
}

// BlockLBA returns the absolute LBA of in's data block bi (works for
// any inode, file or directory — bi must be < NumDataBlocks(in)).
func (p *Partition) BlockLBA(in *Inode, bi int) (uint32, errs.Errno) {
	return p.readBlockLBA(in, bi)
}

// NumDataBlocks reports how many data blocks in currently has
// allocated, derived from its size (spec.md §4.7's "12 direct + 128
// indirect" layout, generalized to files as well as directories).
func NumDataBlocks(in *Inode) int { return numDataBlocks(in) }

// GrowBlock allocates and links one more data block onto in (promoting
// to the indirect block at the 12th-block boundary), returning the new
// block's index and LBA. Used by file writes past the current size as
// well as by directory growth.
func (p *Partition) GrowBlock(in *Inode) (int, uint32, errs.Errno) {
	return p.growDir(in)
}

// readBlockLBA returns the absolute LBA of dir's data block bi,
// allocating nothing; bi must be < numDataBlocks(dir).
func (p *Partition) readBlockLBA(dir *Inode, bi int) (uint32, errs.Errno) {
	dir.mu.Lock()
	defer dir.mu.Unlock()
	if bi < DirectBlocks {
		return dir.Sectors[bi], 0
	}
	if dir.Sectors[IndirectSlot] == 0 {
		return 0, errs.EINVAL
	}
	ibuf := make([]byte, BlockSize)
	if err := p.Dev.Read(int(dir.Sectors[IndirectSlot]), 1, ibuf); err != 0 {
		return 0, err
	}
	return binary.LittleEndian.Uint32(ibuf[(bi-DirectBlocks)*4:]), 0
}

// growDir allocates one more data block for dir (promoting to the
// indirect block at the 12th-direct-block boundary per spec.md §4.7),
// appends it, and bumps ISize by one block. Returns the new block's
// index and LBA.
func (p *Partition) growDir(dir *Inode) (int, uint32, errs.Errno) {
	bi := numDataBlocks(dir)
	if bi >= MaxBlocks {
		return 0, 0, errs.EFBIG
	}
	lba, err := p.AllocBlock()
	if err != 0 {
		return 0, 0, err
	}

	dir.mu.Lock()
	if bi < DirectBlocks {
		dir.Sectors[bi] = lba
	} else {
		if dir.Sectors[IndirectSlot] == 0 {
			indLBA, err := p.AllocBlock()
			if err != 0 {
				dir.mu.Unlock()
				return 0, 0, err
			}
			dir.Sectors[IndirectSlot] = indLBA
		}
		indLBA := dir.Sectors[IndirectSlot]
		dir.mu.Unlock()
		ibuf := make([]byte, BlockSize)
		if err := p.Dev.Read(int(indLBA), 1, ibuf); err != 0 {
			return 0, 0, err
		}
		binary.LittleEndian.PutUint32(ibuf[(bi-DirectBlocks)*4:], lba)
		if err := p.Dev.Write(int(indLBA), 1, ibuf); err != 0 {
			return 0, 0, err
		}
		dir.mu.Lock()
	}
	dir.ISize += BlockSize
	dir.mu.Unlock()

	if err := p.Sync(dir); err != 0 {
		return 0, 0, err
	}
	return bi, lba, 0
}

// forEachSlot walks every existing directory-entry slot of dir in
// order, calling cb(entry, blockLBA, byteOffsetWithinBlock) until cb
// returns false or all slots are visited.
func (p *Partition) forEachSlot(dir *Inode, cb func(e DirEntry, blockIndex int, blockLBA uint32, off int) bool) errs.Errno {
	nblocks := numDataBlocks(dir)
	for bi := 0; bi < nblocks; bi++ {
		lba, err := p.readBlockLBA(dir, bi)
		if err != 0 {
			return err
		}
		buf := make([]byte, BlockSize)
		if err := p.Dev.Read(int(lba), 1, buf); err != 0 {
			return err
		}
		for s := 0; s < entriesPerSector; s++ {
			off := s * DirEntrySize
			e := DecodeDirEntry(buf[off : off+DirEntrySize])
			if !cb(e, bi, lba, off) {
				return 0
			}
		}
	}
	return 0
}

// SearchDirEntry linearly scans dir's directory entries for name
// (spec.md §4.8).
func (p *Partition) SearchDirEntry(dir *Inode, name string) (DirEntry, errs.Errno) {
	var found DirEntry
	ok := false
	p.forEachSlot(dir, func(e DirEntry, _ int, _ uint32, _ int) bool {
		if e.FType != Unknown && e.Filename == name {
			found = e
			ok = true
			return false
		}
		return true
	})
	if !ok {
		return DirEntry{}, errs.ENOENT
	}
	return found, 0
}

// SyncDirEntry writes entry into dir, reusing the first UNKNOWN slot if
// one exists, else growing dir by one block and using its first slot
// (spec.md §4.8).
func (p *Partition) SyncDirEntry(dir *Inode, entry DirEntry) errs.Errno {
	var targetLBA uint32
	targetOff := -1
	p.forEachSlot(dir, func(e DirEntry, _ int, lba uint32, off int) bool {
		if e.FType == Unknown {
			targetLBA = lba
			targetOff = off
			return false
		}
		return true
	})

	if targetOff < 0 {
		_, lba, err := p.growDir(dir)
		if err != 0 {
			return err
		}
		targetLBA = lba
		targetOff = 0
	}

	buf := make([]byte, BlockSize)
	if err := p.Dev.Read(int(targetLBA), 1, buf); err != 0 {
		return err
	}
	copy(buf[targetOff:targetOff+DirEntrySize], entry.Encode())
	return p.Dev.Write(int(targetLBA), 1, buf)
}

// NameOfChild scans dir for the entry naming childIno, returning its
// filename — the "scan the parent directory to recover the child's
// name" step of sys_getcwd (spec.md §4.9).
func (p *Partition) NameOfChild(dir *Inode, childIno uint32) (string, errs.Errno) {
	name := ""
	found := false
	p.forEachSlot(dir, func(e DirEntry, _ int, _ uint32, _ int) bool {
		if e.FType != Unknown && e.INo == childIno && e.Filename != "." && e.Filename != ".." {
			name = e.Filename
			found = true
			return false
		}
		return true
	})
	if !found {
		return "", errs.ENOENT
	}
	return name, 0
}

// ReaddirAt scans dir's entry slots starting at global slot index
// start (block*entriesPerSector + slotInBlock), skipping UNKNOWN
// slots, and returns the first occupied entry found at or after start
// plus the index to resume from on the next call. found is false once
// every slot has been scanned. Backs sys_readdir/sys_rewinddir
// (spec.md §4.9).
func (p *Partition) ReaddirAt(dir *Inode, start int) (entry DirEntry, next int, found bool, err errs.Errno) {
	nblocks := numDataBlocks(dir)
	total := nblocks * entriesPerSector
	for idx := start; idx < total; idx++ {
		bi := idx / entriesPerSector
		s := idx % entriesPerSector
		lba, lerr := p.readBlockLBA(dir, bi)
		if lerr != 0 {
			return DirEntry{}, idx, false, lerr
		}
		buf := make([]byte, BlockSize)
		if rerr := p.Dev.Read(int(lba), 1, buf); rerr != 0 {
			return DirEntry{}, idx, false, rerr
		}
		off := s * DirEntrySize
		e := DecodeDirEntry(buf[off : off+DirEntrySize])
		if e.FType != Unknown {
			return e, idx + 1, true, 0
		}
	}
	return DirEntry{}, total, false, 0
}

// DeleteDirEntry clears the slot naming ino within dir. If that leaves
// dir's trailing (highest-index) data block entirely UNKNOWN, the block
// is freed and ISize shrinks by one block. An emptied block that is not
// the trailing one stays allocated, block 0 (which holds "." and "..")
// is never freed, and the indirect block itself is not freed when its
// last entry is cleared.
func (p *Partition) DeleteDirEntry(dir *Inode, ino uint32) errs.Errno {
	var targetLBA uint32
	targetOff := -1
	targetBlock := -1
	p.forEachSlot(dir, func(e DirEntry, blockIndex int, lba uint32, off int) bool {
		if e.FType != Unknown && e.INo == ino {
			targetLBA = lba
			targetOff = off
			targetBlock = blockIndex
			return false
		}
		return true
	})
	if targetOff < 0 {
		return errs.ENOENT
	}

	buf := make([]byte, BlockSize)
	if err := p.Dev.Read(int(targetLBA), 1, buf); err != 0 {
		return err
	}
	copy(buf[targetOff:targetOff+DirEntrySize], DirEntry{}.Encode())
	if err := p.Dev.Write(int(targetLBA), 1, buf); err != 0 {
		return err
	}

	if targetBlock == 0 {
		return 0
	}
	empty := true
	for s := 0; s < entriesPerSector; s++ {
		off := s * DirEntrySize
		if DecodeDirEntry(buf[off : off+DirEntrySize]).FType != Unknown {
			empty = false
			break
		}
	}
	if !empty || targetBlock != numDataBlocks(dir)-1 {
		// Either still occupied, or empty but not the trailing block —
		// leave it allocated so SyncDirEntry can reuse its freed slots;
		// only the trailing block actually shrinks the file.
		return 0
	}
	return p.reclaimBlock(dir, targetBlock, targetLBA)
}

// reclaimBlock frees data block bi (absolute LBA lba) from dir, the
// last-entry-removal shrink path of spec.md §4.8. Only ever called for
// the trailing (highest-index) data block, and never for block 0.
func (p *Partition) reclaimBlock(dir *Inode, bi int, lba uint32) errs.Errno {
	p.mu.Lock()
	p.BlockBitmap.Set(int(lba)-int(p.SB.DataStartLBA), false)
	p.mu.Unlock()
	if err := p.SyncBitmaps(); err != 0 {
		return err
	}

	dir.mu.Lock()
	indLBA := dir.Sectors[IndirectSlot]
	if bi < DirectBlocks {
		dir.Sectors[bi] = 0
	}
	dir.ISize -= BlockSize
	dir.mu.Unlock()

	if bi >= DirectBlocks && indLBA != 0 {
		ibuf := make([]byte, BlockSize)
		if err := p.Dev.Read(int(indLBA), 1, ibuf); err != 0 {
			return err
		}
		binary.LittleEndian.PutUint32(ibuf[(bi-DirectBlocks)*4:], 0)
		if err := p.Dev.Write(int(indLBA), 1, ibuf); err != 0 {
			return err
		}
	}
	return p.Sync(dir)
}
