// Package fs implements the on-disk indexed file system of spec.md
// §3, §4.7–§4.9 (C10, C11): a super block, bitmap-backed inode and
// block allocation, inodes with a single indirect block, and packed
// directory entries.
//
// Grounded in on-disk layout on spec.md §6 directly and in code shape
// on the teacher's fs package (biscuit/src/fs/super.go's field-at-
// fixed-offset accessors, biscuit/src/mkfs/mkfs.go's image layout).
// Where the teacher reads/writes fields via unsafe.Pointer casts over
// a raw byte page (see util.Readn/Writen), this package uses
// encoding/binary, the idiomatic Go way to do fixed little-endian
// on-disk layouts; see DESIGN.md.
package fs

import (
	"encoding/binary"

	"minios/blockdev"
	"minios/errs"
)

// SectorSize/BlockSize: spec.md §6 fixes both at 512 bytes.
const (
	SectorSize = blockdev.SectorSize
	BlockSize  = SectorSize
)

// SuperblockMagic identifies a formatted partition (spec.md §3).
const SuperblockMagic = 0x19590318

// Superblock is the on-disk super block, one sector, spec.md §3's
// field list in on-disk order.
type Superblock struct {
	Magic              uint32
	PartBaseLBA        uint32
	TotalSectors       uint32
	InodeCount         uint32
	BlockBitmapLBA     uint32
	BlockBitmapSectors uint32
	InodeBitmapLBA     uint32
	InodeBitmapSectors uint32
	InodeTableLBA      uint32
	InodeTableSectors  uint32
	DataStartLBA       uint32
	RootInode          uint32
	DirEntrySize       uint32
}

// superblockFieldCount*4 bytes are used; the rest of the sector is
// zero padding.
const superblockFieldCount = 13

// Encode serializes sb into a SectorSize-byte sector.
func (sb *Superblock) Encode() []byte {
	buf := make([]byte, SectorSize)
	fields := []uint32{
		sb.Magic, sb.PartBaseLBA, sb.TotalSectors, sb.InodeCount,
		sb.BlockBitmapLBA, sb.BlockBitmapSectors,
		sb.InodeBitmapLBA, sb.InodeBitmapSectors,
		sb.InodeTableLBA, sb.InodeTableSectors,
		sb.DataStartLBA, sb.RootInode, sb.DirEntrySize,
	}
	for i, v := range fields {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}

// DecodeSuperblock parses a SectorSize-byte sector into a Superblock.
// Returns errs.EINVAL if the magic does not match.
func DecodeSuperblock(buf []byte) (Superblock, errs.Errno) {
	var sb Superblock
	if len(buf) < superblockFieldCount*4 {
		return sb, errs.EINVAL
	}
	read := func(i int) uint32 { return binary.LittleEndian.Uint32(buf[i*4:]) }
	sb.Magic = read(0)
	if sb.Magic != SuperblockMagic {
		return sb, errs.EINVAL
	}
	sb.PartBaseLBA = read(1)
	sb.TotalSectors = read(2)
	sb.InodeCount = read(3)
	sb.BlockBitmapLBA = read(4)
	sb.BlockBitmapSectors = read(5)
	sb.InodeBitmapLBA = read(6)
	sb.InodeBitmapSectors = read(7)
	sb.InodeTableLBA = read(8)
	sb.InodeTableSectors = read(9)
	sb.DataStartLBA = read(10)
	sb.RootInode = read(11)
	sb.DirEntrySize = read(12)
	return sb, 0
}
