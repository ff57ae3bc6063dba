// Package blockdev implements the block-device interface of spec.md
// §4.6 (C9): sector-granular read/write consumed by the file system,
// and the partition table discovered at boot.
//
// Grounded on the teacher's ahci_disk_t (biscuit/src/ufs/driver.go), a
// disk backed by an *os.File with a mutex serializing seek+read/write
// as one atomic step; the request/ack channel protocol the teacher
// wraps around that (fs.Bdev_req_t, Start returning through a
// callback) is not carried over — spec.md §4.6 describes a synchronous
// read/write contract, so FileDisk exposes exactly that, directly.
package blockdev

import (
	"os"
	"sync"

	"minios/errs"
)

// SectorSize is the fixed on-disk sector size (spec.md §6).
const SectorSize = 512

// Device is a sector-addressable block device.
type Device interface {
	ReadSector(lba int, buf []byte) errs.Errno
	WriteSector(lba int, buf []byte) errs.Errno
	NumSectors() int
}

// FileDisk simulates a disk backed by a host file, the same technique
// the teacher's tests use for ahci_disk_t.
type FileDisk struct {
	mu    sync.Mutex
	f     *os.File
	nsecs int
}

// NewFileDisk opens or creates path, truncated/extended to nsectors.
func NewFileDisk(path string, nsectors int) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(nsectors) * SectorSize); err != nil {
		f.Close()
		return nil, err
	}
	return &FileDisk{f: f, nsecs: nsectors}, nil
}

// NumSectors reports the disk's capacity.
func (d *FileDisk) NumSectors() int { return d.nsecs }

// ReadSector reads exactly SectorSize bytes from lba into buf.
func (d *FileDisk) ReadSector(lba int, buf []byte) errs.Errno {
	if lba < 0 || lba >= d.nsecs || len(buf) < SectorSize {
		return errs.EINVAL
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.f.Seek(int64(lba)*SectorSize, 0); err != nil {
		return errs.EFAULT
	}
	if _, err := d.f.Read(buf[:SectorSize]); err != nil {
		return errs.EFAULT
	}
	return 0
}

// WriteSector writes SectorSize bytes from buf to lba.
func (d *FileDisk) WriteSector(lba int, buf []byte) errs.Errno {
	if lba < 0 || lba >= d.nsecs || len(buf) < SectorSize {
		return errs.EINVAL
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.f.Seek(int64(lba)*SectorSize, 0); err != nil {
		return errs.EFAULT
	}
	if _, err := d.f.Write(buf[:SectorSize]); err != nil {
		return errs.EFAULT
	}
	return 0
}

// Sync flushes the backing file to stable storage.
func (d *FileDisk) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Sync()
}

// Close releases the backing file.
func (d *FileDisk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}

// MemDisk is an in-memory Device, used by tests and by mkfs when no
// host file is needed.
type MemDisk struct {
	mu    sync.Mutex
	bytes []byte
}

// NewMemDisk allocates nsectors worth of zeroed storage.
func NewMemDisk(nsectors int) *MemDisk {
	return &MemDisk{bytes: make([]byte, nsectors*SectorSize)}
}

func (d *MemDisk) NumSectors() int { return len(d.bytes) / SectorSize }

func (d *MemDisk) ReadSector(lba int, buf []byte) errs.Errno {
	if lba < 0 || (lba+1)*SectorSize > len(d.bytes) || len(buf) < SectorSize {
		return errs.EINVAL
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(buf[:SectorSize], d.bytes[lba*SectorSize:(lba+1)*SectorSize])
	return 0
}

func (d *MemDisk) WriteSector(lba int, buf []byte) errs.Errno {
	if lba < 0 || (lba+1)*SectorSize > len(d.bytes) || len(buf) < SectorSize {
		return errs.EINVAL
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.bytes[lba*SectorSize:(lba+1)*SectorSize], buf[:SectorSize])
	return 0
}

// Partition describes one discovered partition (spec.md §4.6): its
// extent on the owning disk, plus the mutex serializing all I/O
// against it.
type Partition struct {
	mu       sync.Mutex
	Disk     Device
	StartLBA int
	NSectors int
}

// NewPartition wraps disk's [startLBA, startLBA+nsectors) extent.
func NewPartition(disk Device, startLBA, nsectors int) *Partition {
	return &Partition{Disk: disk, StartLBA: startLBA, NSectors: nsectors}
}

// Read reads n sectors starting at the partition-relative lba into
// buf (which must hold n*SectorSize bytes).
func (p *Partition) Read(lba, n int, buf []byte) errs.Errno {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < n; i++ {
		if err := p.Disk.ReadSector(p.StartLBA+lba+i, buf[i*SectorSize:(i+1)*SectorSize]); err != 0 {
			return err
		}
	}
	return 0
}

// Write writes n sectors starting at the partition-relative lba.
func (p *Partition) Write(lba, n int, buf []byte) errs.Errno {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < n; i++ {
		if err := p.Disk.WriteSector(p.StartLBA+lba+i, buf[i*SectorSize:(i+1)*SectorSize]); err != 0 {
			return err
		}
	}
	return 0
}

// Registry is the global list of discovered partitions (spec.md §4.6).
type Registry struct {
	mu    sync.Mutex
	parts []*Partition
}

// NewRegistry creates an empty partition registry.
func NewRegistry() *Registry { return &Registry{} }

// Add links a newly discovered partition into the registry.
func (r *Registry) Add(p *Partition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parts = append(r.parts, p)
}

// All returns a snapshot of the registered partitions.
func (r *Registry) All() []*Partition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Partition, len(r.parts))
	copy(out, r.parts)
	return out
}
