package thread

import (
	"sync"
	"sync/atomic"
	"time"
)

// Accounting accumulates per-thread CPU usage, grounded on the
// teacher's Accnt_t (biscuit/src/accnt/accnt.go): nanosecond counters
// updated atomically, a mutex only for the consistent-snapshot path.
type Accounting struct {
	Userns int64
	Sysns  int64
	mu     sync.Mutex
}

// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accounting) Utadd(delta int64) {
	atomic.AddInt64(&a.Userns, delta)
}

// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accounting) Systadd(delta int64) {
	atomic.AddInt64(&a.Sysns, delta)
}

// Now returns the current time in nanoseconds.
func (a *Accounting) Now() int64 {
	return time.Now().UnixNano()
}

// Finish adds the time elapsed since start to the system-time counter.
func (a *Accounting) Finish(start int64) {
	a.Systadd(a.Now() - start)
}

// Add merges n's counters into a under lock, used when a parent
// accumulates a reaped child's usage.
func (a *Accounting) Add(n *Accounting) {
	a.mu.Lock()
	a.Userns += atomic.LoadInt64(&n.Userns)
	a.Sysns += atomic.LoadInt64(&n.Sysns)
	a.mu.Unlock()
}

// Snapshot returns a consistent copy of the counters.
func (a *Accounting) Snapshot() (userns, sysns int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Userns, a.Sysns
}
