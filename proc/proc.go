// Package proc holds the process table and the time-slice scheduler.
package proc

import "sync"
import "unsafe"

import "burrow/defs"
import "burrow/fd"
import "burrow/fdops"
import "burrow/vm"

// NPROC is the process table capacity. Ids are dense indices into the
// table.
const NPROC = 64

// Context_t is the register frame the interrupt entry stub pushes.
// The field order is a contract with the stub: fifteen general
// registers in push order, then the CPU-pushed interrupt frame.
type Context_t struct {
	Rax    uint64
	Rbx    uint64
	Rcx    uint64
	Rdx    uint64
	Rsi    uint64
	Rbp    uint64
	Rdi    uint64
	R8     uint64
	R9     uint64
	R10    uint64
	R11    uint64
	R12    uint64
	R13    uint64
	R14    uint64
	R15    uint64
	Rip    uint64
	Cs     uint64
	Rflags uint64
	Rsp    uint64
	Ss     uint64
}

// The stub's push order pins these offsets; a mismatch is a build
// error.
var _ = [1]struct{}{}[unsafe.Offsetof(Context_t{}.Rip)-15*8]
var _ = [1]struct{}{}[unsafe.Offsetof(Context_t{}.Rsp)-18*8]
var _ = [1]struct{}{}[unsafe.Sizeof(Context_t{})-20*8]

// Fxbuf_t is the fxsave area holding FPU and SSE state.
type Fxbuf_t [512]uint8

// Proc_t is one process table slot.
type Proc_t struct {
	Id     int
	As     *vm.Vm_t
	Ctx    Context_t
	Fx     Fxbuf_t
	Fsbase uint64
	// ticks left in the current quantum
	Tm uint
	// pid this process blocks on; -1 when runnable
	Waiting int
	Brk     uint64
	Fds     [fd.NFD]*fd.Fd_t
	Accnt   Accnt_t
}

// Fdalloc places ops in the lowest free descriptor slot.
func (p *Proc_t) Fdalloc(ops fdops.Fdops_i, perms int) (int, defs.Err_t) {
	for i := range p.Fds {
		if p.Fds[i] == nil {
			p.Fds[i] = fd.Mkfd(ops, perms)
			return i, 0
		}
	}
	return 0, -defs.ENOMEM
}

// Fdget returns the descriptor in slot n, or nil.
func (p *Proc_t) Fdget(n int) *fd.Fd_t {
	if n < 0 || n >= fd.NFD {
		return nil
	}
	return p.Fds[n]
}

// Fdclear empties slot n.
func (p *Proc_t) Fdclear(n int) {
	p.Fds[n] = nil
}

// Ptable_t is the fixed array of process slots. One lock covers slot
// membership and the scheduler state that walks it.
type Ptable_t struct {
	sync.Mutex
	slots [NPROC]*Proc_t
}

// Mkptable returns an empty table.
func Mkptable() *Ptable_t {
	return &Ptable_t{}
}

// Alloc creates a process in the first empty slot. The new process
// owns as and is not runnable until it gets a quantum.
func (pt *Ptable_t) Alloc(as *vm.Vm_t) (*Proc_t, defs.Err_t) {
	pt.Lock()
	defer pt.Unlock()
	for i := range pt.slots {
		if pt.slots[i] == nil {
			p := &Proc_t{Id: i, As: as, Waiting: -1}
			pt.slots[i] = p
			return p, 0
		}
	}
	return nil, -defs.ENOMEM
}

// Get returns the process with the given id, or nil.
func (pt *Ptable_t) Get(id int) *Proc_t {
	if id < 0 || id >= NPROC {
		return nil
	}
	pt.Lock()
	defer pt.Unlock()
	return pt.slots[id]
}

// Clear empties a slot.
func (pt *Ptable_t) Clear(id int) {
	pt.Lock()
	pt.slots[id] = nil
	pt.Unlock()
}

// Count returns the number of live processes.
func (pt *Ptable_t) Count() int {
	pt.Lock()
	defer pt.Unlock()
	n := 0
	for _, p := range pt.slots {
		if p != nil {
			n++
		}
	}
	return n
}
