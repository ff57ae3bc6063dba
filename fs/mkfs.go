package fs

import (
	"minios/bitmap"
	"minios/blockdev"
	"minios/errs"
)

// Mkfs formats dev's [startLBA, startLBA+totalSectors) extent as a
// fresh file system with room for inodeCount inodes, writing the boot
// sector, super block, bitmaps, inode table, and a root directory
// containing "." and ".." (spec.md §4, §6).
//
// Grounded in shape on the teacher's mkfs (biscuit/src/mkfs/mkfs.go,
// ufs.MkDisk): fixed regions sized up front and laid out back to back.
// Unlike the teacher's mkfs — a host-side CLI that also copies a
// skeleton file tree onto the image — this is the in-kernel/library
// formatting routine spec.md §4 names; it only ever produces an empty
// root directory, since copying a tree in is a file-system-client
// concern (fdtable), not a format-time one.
func Mkfs(dev blockdev.Device, startLBA, totalSectors int, inodeCount int) (*Partition, errs.Errno) {
	if inodeCount <= 0 || totalSectors <= 0 {
		return nil, errs.EINVAL
	}

	blockBitmapSectors := (totalSectors + 8*SectorSize - 1) / (8 * SectorSize)
	inodeBitmapSectors := (inodeCount + 8*SectorSize - 1) / (8 * SectorSize)
	inodeTableSectors := (inodeCount*InodeSize + SectorSize - 1) / SectorSize

	blockBitmapLBA := uint32(bootSectorLBA + 2) // boot sector + super block
	inodeBitmapLBA := blockBitmapLBA + uint32(blockBitmapSectors)
	inodeTableLBA := inodeBitmapLBA + uint32(inodeBitmapSectors)
	dataStartLBA := inodeTableLBA + uint32(inodeTableSectors)

	if int(dataStartLBA) >= totalSectors {
		return nil, errs.ENOSPC
	}

	sb := Superblock{
		Magic:              SuperblockMagic,
		PartBaseLBA:        uint32(startLBA),
		TotalSectors:       uint32(totalSectors),
		InodeCount:         uint32(inodeCount),
		BlockBitmapLBA:     blockBitmapLBA,
		BlockBitmapSectors: uint32(blockBitmapSectors),
		InodeBitmapLBA:     inodeBitmapLBA,
		InodeBitmapSectors: uint32(inodeBitmapSectors),
		InodeTableLBA:      inodeTableLBA,
		InodeTableSectors:  uint32(inodeTableSectors),
		DataStartLBA:       dataStartLBA,
		RootInode:          0,
		DirEntrySize:       DirEntrySize,
	}

	bdevPart := blockdev.NewPartition(dev, startLBA, totalSectors)

	zero := make([]byte, SectorSize)
	if err := bdevPart.Write(bootSectorLBA, 1, zero); err != 0 {
		return nil, err
	}
	if err := bdevPart.Write(superblockLBA, 1, sb.Encode()); err != 0 {
		return nil, err
	}

	p := &Partition{
		Dev:         bdevPart,
		SB:          sb,
		BlockBitmap: bitmap.New(totalSectors - int(dataStartLBA)),
		InodeBitmap: bitmap.New(inodeCount),
		open:        make(map[uint32]*Inode),
	}

	// inode 0 is the root directory.
	p.InodeBitmap.Set(0, true)
	if err := p.SyncBitmaps(); err != 0 {
		return nil, err
	}

	rootBlock, err := p.AllocBlock()
	if err != 0 {
		return nil, err
	}
	root := OnDiskInode{INo: 0, ISize: BlockSize}
	root.Sectors[0] = rootBlock
	if err := p.writeOnDisk(0, root); err != 0 {
		return nil, err
	}

	rootIn := &Inode{OnDiskInode: root, OpenCount: 1, part: p}
	if err := p.SyncDirEntry(rootIn, DirEntry{Filename: ".", INo: 0, FType: Directory}); err != 0 {
		return nil, err
	}
	if err := p.SyncDirEntry(rootIn, DirEntry{Filename: "..", INo: 0, FType: Directory}); err != 0 {
		return nil, err
	}
	p.open[0] = rootIn

	return p, 0
}
