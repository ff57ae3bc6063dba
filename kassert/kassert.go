// Package kassert implements the kernel's assertion and panic tiers.
//
// spec.md §7 distinguishes recoverable-in-call failures (reported via
// errs.Errno), assertions (invariant violations that halt), and panics
// (corrupted state). This package covers the latter two; the teacher
// kernel expresses both with a bare `panic("...")` throughout mem/mem.go
// and vm/as.go — kassert keeps that idiom but names the two tiers so
// call sites read as intentional rather than ad-hoc.
package kassert

import (
	"fmt"
	"runtime"
)

// Assert halts the simulated CPU if cond is false, printing a message in
// the "file/line/condition" shape spec.md §7 asks for. runtime.Caller
// gives us the file/line that the original, running on bare metal,
// would have obtained from the preprocessor's __FILE__/__LINE__.
func Assert(cond bool, format string, args ...any) {
	if cond {
		return
	}
	_, file, line, _ := runtime.Caller(1)
	Panic(fmt.Sprintf("assertion failed at %s:%d: %s", file, line, fmt.Sprintf(format, args...)))
}

// Panic reports an unrecoverable kernel error. On real hardware this
// disables interrupts and spins; here it is a Go panic, since there is no
// lower layer left to hand control to.
func Panic(msg string) {
	panic("kernel panic: " + msg)
}
