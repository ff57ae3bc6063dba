package fs

import (
	"encoding/binary"
	"sync"

	"minios/bitmap"
	"minios/blockdev"
	"minios/errs"
)

// DirectBlocks is the number of direct block pointers an inode holds;
// Sectors[IndirectSlot] is the LBA of a single indirect block holding
// IndirectPerBlock more block LBAs (spec.md §3).
const (
	DirectBlocks    = 12
	IndirectSlot    = DirectBlocks
	IndirectPerBlock = BlockSize / 4
	MaxBlocks       = DirectBlocks + IndirectPerBlock // 140
	MaxFileSize     = MaxBlocks * BlockSize            // 71680
)

// OnDiskInode is the fixed-layout on-disk inode record (spec.md §3):
// i_no(4) + i_size(4) + 13 block pointers(4 each) = 60 bytes. 60 does
// not evenly divide 512, so inodes routinely span two sectors — see
// locate.
type OnDiskInode struct {
	INo     uint32
	ISize   uint32
	Sectors [DirectBlocks + 1]uint32
}

// InodeSize is the on-disk byte size of OnDiskInode.
const InodeSize = 4 + 4 + (DirectBlocks+1)*4

// Encode serializes the inode into a fresh InodeSize-byte record.
func (in *OnDiskInode) Encode() []byte {
	buf := make([]byte, InodeSize)
	binary.LittleEndian.PutUint32(buf[0:], in.INo)
	binary.LittleEndian.PutUint32(buf[4:], in.ISize)
	for i, s := range in.Sectors {
		binary.LittleEndian.PutUint32(buf[8+i*4:], s)
	}
	return buf
}

// DecodeOnDiskInode parses an InodeSize-byte record.
func DecodeOnDiskInode(buf []byte) OnDiskInode {
	var in OnDiskInode
	in.INo = binary.LittleEndian.Uint32(buf[0:])
	in.ISize = binary.LittleEndian.Uint32(buf[4:])
	for i := range in.Sectors {
		in.Sectors[i] = binary.LittleEndian.Uint32(buf[8+i*4:])
	}
	return in
}

// Inode is the in-memory inode (spec.md §3): the on-disk record plus
// OpenCount/WriteDeny/partition back-reference. For a given (partition,
// i_no), at most one Inode exists at a time, reachable from the
// partition's open-inode table (TESTABLE PROPERTY 4).
//
// The teacher's Open (biscuit/src/fs §4.7) allocates the in-memory
// inode from the kernel frame pool specifically so it outlives and is
// reachable independent of any one process's page directory. A Go
// struct referenced from Partition.open needs no such trick — it is
// already reachable by any goroutine regardless of which process's
// address space is "current" — so there is no thread-local pgdir
// suppression hazard to reproduce here; see DESIGN.md.
type Inode struct {
	mu        sync.Mutex
	OnDiskInode
	OpenCount int
	WriteDeny bool
	part      *Partition
}

// Lock and Unlock take in's own mutex, for callers outside this package.
func (in *Inode) Lock()   { in.mu.Lock() }
func (in *Inode) Unlock() { in.mu.Unlock() }

// Partition is the in-memory mount state for one on-disk file system
// (spec.md §4.6): the loaded super block, the block and inode bitmaps,
// the open-inode table, and the lock serializing all of it.
type Partition struct {
	mu          sync.Mutex
	Dev         *blockdev.Partition
	SB          Superblock
	BlockBitmap bitmap.Bitmap
	InodeBitmap bitmap.Bitmap
	open        map[uint32]*Inode
}

// boot-sector and super-block relative LBAs, spec.md §6.
const (
	bootSectorLBA  = 0
	superblockLBA  = 1
)

// Mount reads the super block and bitmaps off dev and returns a ready
// Partition.
func Mount(dev *blockdev.Partition) (*Partition, errs.Errno) {
	buf := make([]byte, SectorSize)
	if err := dev.Read(superblockLBA, 1, buf); err != 0 {
		return nil, err
	}
	sb, err := DecodeSuperblock(buf)
	if err != 0 {
		return nil, err
	}

	p := &Partition{Dev: dev, SB: sb, open: make(map[uint32]*Inode)}

	blkbm := make([]byte, int(sb.BlockBitmapSectors)*SectorSize)
	if err := dev.Read(int(sb.BlockBitmapLBA), int(sb.BlockBitmapSectors), blkbm); err != 0 {
		return nil, err
	}
	p.BlockBitmap = bitmap.FromBytes(blkbm)

	inobm := make([]byte, int(sb.InodeBitmapSectors)*SectorSize)
	if err := dev.Read(int(sb.InodeBitmapLBA), int(sb.InodeBitmapSectors), inobm); err != 0 {
		return nil, err
	}
	p.InodeBitmap = bitmap.FromBytes(inobm)

	return p, 0
}

// SyncBitmaps flushes the in-memory block/inode bitmaps back to disk,
// the spec.md §4.7/§4.8 "clear the bit and sync the affected bitmap
// sector" contract, done here for the whole bitmap rather than a
// single sector for simplicity (tracking a dirty sector range buys
// little at this scale).
func (p *Partition) SyncBitmaps() errs.Errno {
	p.mu.Lock()
	defer p.mu.Unlock()
	blk := make([]byte, int(p.SB.BlockBitmapSectors)*SectorSize)
	copy(blk, p.BlockBitmap.Bytes())
	if err := p.Dev.Write(int(p.SB.BlockBitmapLBA), int(p.SB.BlockBitmapSectors), blk); err != 0 {
		return err
	}
	ino := make([]byte, int(p.SB.InodeBitmapSectors)*SectorSize)
	copy(ino, p.InodeBitmap.Bytes())
	return p.Dev.Write(int(p.SB.InodeBitmapLBA), int(p.SB.InodeBitmapSectors), ino)
}

// locate computes the sector(s) and byte offset holding inode k, per
// spec.md §4.7: sec_lba = inode_table_lba + (k*sizeof)/512, off =
// (k*sizeof)%512; if the record doesn't fit in the remainder of that
// sector it spans into the next one too.
func (p *Partition) locate(k uint32) (secLBA int, off int, spans bool) {
	byteOff := int(k) * InodeSize
	secLBA = int(p.SB.InodeTableLBA) + byteOff/SectorSize
	off = byteOff % SectorSize
	spans = SectorSize-off < InodeSize
	return
}

// readOnDisk reads inode k's record directly off disk, bypassing the
// open-inode table.
func (p *Partition) readOnDisk(k uint32) (OnDiskInode, errs.Errno) {
	secLBA, off, spans := p.locate(k)
	n := 1
	if spans {
		n = 2
	}
	buf := make([]byte, n*SectorSize)
	if err := p.Dev.Read(secLBA, n, buf); err != 0 {
		return OnDiskInode{}, err
	}
	return DecodeOnDiskInode(buf[off : off+InodeSize]), 0
}

// WriteOnDiskZero writes a fresh all-zero inode record for k, the
// first step of file_create (spec.md §4.9) before the in-memory inode
// is opened.
func (p *Partition) WriteOnDiskZero(k uint32) errs.Errno {
	return p.writeOnDisk(k, OnDiskInode{INo: k})
}

// writeOnDisk is the read-modify-write counterpart of readOnDisk.
func (p *Partition) writeOnDisk(k uint32, in OnDiskInode) errs.Errno {
	secLBA, off, spans := p.locate(k)
	n := 1
	if spans {
		n = 2
	}
	buf := make([]byte, n*SectorSize)
	if err := p.Dev.Read(secLBA, n, buf); err != 0 {
		return err
	}
	copy(buf[off:off+InodeSize], in.Encode())
	return p.Dev.Write(secLBA, n, buf)
}

// Open returns the in-memory inode for (p, k), reading it from disk on
// first open and incrementing OpenCount on every open (spec.md §4.7).
func (p *Partition) Open(k uint32) (*Inode, errs.Errno) {
	p.mu.Lock()
	if in, ok := p.open[k]; ok {
		in.mu.Lock()
		in.OpenCount++
		in.mu.Unlock()
		p.mu.Unlock()
		return in, 0
	}
	p.mu.Unlock()

	disk, err := p.readOnDisk(k)
	if err != 0 {
		return nil, err
	}
	in := &Inode{OnDiskInode: disk, OpenCount: 1, part: p}

	p.mu.Lock()
	if existing, ok := p.open[k]; ok {
		// Lost the race with a concurrent Open; use the winner.
		existing.mu.Lock()
		existing.OpenCount++
		existing.mu.Unlock()
		p.mu.Unlock()
		return existing, 0
	}
	p.open[k] = in
	p.mu.Unlock()
	return in, 0
}

// Close decrements OpenCount, removing and freeing the in-memory inode
// on zero (spec.md §4.7).
func (p *Partition) Close(in *Inode) errs.Errno {
	in.mu.Lock()
	in.OpenCount--
	count := in.OpenCount
	in.mu.Unlock()
	if count > 0 {
		return 0
	}
	p.mu.Lock()
	delete(p.open, in.INo)
	p.mu.Unlock()
	return 0
}

// Sync writes the in-memory inode's on-disk fields back to disk,
// clearing the in-memory-only fields in the serialized copy (spec.md
// §4.7: "copy into a scratch buffer clearing in-memory-only fields").
func (p *Partition) Sync(in *Inode) errs.Errno {
	in.mu.Lock()
	scratch := in.OnDiskInode
	in.mu.Unlock()
	return p.writeOnDisk(scratch.INo, scratch)
}

// blocksOf returns every allocated block LBA for in, direct first then
// indirect (spec.md §4.7's "collect 12 direct + (if set) 128 indirect
// block LBAs").
func (p *Partition) blocksOf(in *Inode) ([]uint32, errs.Errno) {
	in.mu.Lock()
	direct := in.Sectors
	in.mu.Unlock()

	var out []uint32
	for i := 0; i < DirectBlocks; i++ {
		if direct[i] != 0 {
			out = append(out, direct[i])
		}
	}
	if direct[IndirectSlot] != 0 {
		buf := make([]byte, BlockSize)
		if err := p.Dev.Read(int(direct[IndirectSlot]), 1, buf); err != 0 {
			return nil, err
		}
		for i := 0; i < IndirectPerBlock; i++ {
			lba := binary.LittleEndian.Uint32(buf[i*4:])
			if lba != 0 {
				out = append(out, lba)
			}
		}
	}
	return out, 0
}

// Release frees all of in's data blocks, its indirect block, and its
// inode-bitmap bit, then zeroes the on-disk inode record (spec.md
// §4.7).
func (p *Partition) Release(in *Inode) errs.Errno {
	blocks, err := p.blocksOf(in)
	if err != 0 {
		return err
	}
	p.mu.Lock()
	for _, lba := range blocks {
		p.BlockBitmap.Set(int(lba)-int(p.SB.DataStartLBA), false)
	}
	in.mu.Lock()
	if in.Sectors[IndirectSlot] != 0 {
		p.BlockBitmap.Set(int(in.Sectors[IndirectSlot])-int(p.SB.DataStartLBA), false)
	}
	in.mu.Unlock()
	p.InodeBitmap.Set(int(in.INo), false)
	p.mu.Unlock()

	if err := p.SyncBitmaps(); err != 0 {
		return err
	}
	return p.writeOnDisk(in.INo, OnDiskInode{INo: in.INo})
}

// FreeInode clears inode number k's bitmap bit and syncs the bitmap,
// the rollback counterpart of AllocInode used when a create fails
// partway through (spec.md §9's scoped-release pattern).
func (p *Partition) FreeInode(k uint32) errs.Errno {
	p.mu.Lock()
	p.InodeBitmap.Set(int(k), false)
	p.mu.Unlock()
	return p.SyncBitmaps()
}

// AllocInode picks a free inode number, marks it used, and returns the
// number; the on-disk record is left for the caller to write (see
// WriteOnDiskZero).
func (p *Partition) AllocInode() (uint32, errs.Errno) {
	p.mu.Lock()
	idx := p.InodeBitmap.Scan(1)
	if idx < 0 {
		p.mu.Unlock()
		return 0, errs.ENOSPC
	}
	p.InodeBitmap.Set(idx, true)
	p.mu.Unlock()
	if err := p.SyncBitmaps(); err != 0 {
		return 0, err
	}
	return uint32(idx), 0
}

// AllocBlock picks a free data block, marks it used, and returns its
// absolute LBA.
func (p *Partition) AllocBlock() (uint32, errs.Errno) {
	p.mu.Lock()
	idx := p.BlockBitmap.Scan(1)
	if idx < 0 {
		p.mu.Unlock()
		return 0, errs.ENOSPC
	}
	p.BlockBitmap.Set(idx, true)
	p.mu.Unlock()
	if err := p.SyncBitmaps(); err != 0 {
		return 0, err
	}
	lba := p.SB.DataStartLBA + uint32(idx)
	zero := make([]byte, BlockSize)
	if err := p.Dev.Write(int(lba), 1, zero); err != 0 {
		return 0, err
	}
	return lba, 0
}
