package thread

import (
	"sync"

	"minios/bitmap"
	"minios/errs"
)

// PIDPool is a bit-pool over the fixed PID range [1, N], guarded by a
// mutex (spec.md §4.3: "A bit-pool over a fixed PID range... guarded
// by a mutex"). PID 0 is reserved and never allocated.
type PIDPool struct {
	mu sync.Mutex
	bm bitmap.Bitmap
	n  int
}

// NewPIDPool creates a pool covering PIDs [1, n].
func NewPIDPool(n int) *PIDPool {
	return &PIDPool{bm: bitmap.New(n), n: n}
}

// Allocate returns base+first_clear_bit, i.e. the lowest free PID >= 1.
func (p *PIDPool) Allocate() (int, errs.Errno) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.bm.Scan(1)
	if idx < 0 {
		return 0, errs.ENOMEM
	}
	p.bm.Set(idx, true)
	return idx + 1, 0
}

// Release clears the bit for pid, making it available for reuse.
func (p *PIDPool) Release(pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bm.Set(pid-1, false)
}
