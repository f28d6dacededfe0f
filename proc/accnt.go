package proc

import "sync/atomic"

// Accnt_t accumulates per-process accounting. Userticks counts ticks
// the process was current; Systicks counts its system calls. The exit
// path reads both for the log line.
type Accnt_t struct {
	Userticks int64
	Systicks  int64
}

// Utadd charges delta ticks of run time.
func (a *Accnt_t) Utadd(delta int) {
	atomic.AddInt64(&a.Userticks, int64(delta))
}

// Stadd charges delta system calls.
func (a *Accnt_t) Stadd(delta int) {
	atomic.AddInt64(&a.Systicks, int64(delta))
}
