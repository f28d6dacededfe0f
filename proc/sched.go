package proc

import "sync/atomic"

import "burrow/mem"

// QUANTUM is the number of timer ticks a process may stay current
// before the scheduler considers another.
const QUANTUM uint = 10

// Hardware touches of the context switch. The boot glue installs the
// real stubs; the defaults are no-ops so the scheduler can run as a
// library.
var (
	Setcr3   func(mem.Pa_t) = func(mem.Pa_t) {}
	Rdfsbase func() uint64  = func() uint64 { return 0 }
	Wrfsbase func(uint64)   = func(uint64) {}
	Fxsave   func(*Fxbuf_t) = func(*Fxbuf_t) {}
	Fxrstor  func(*Fxbuf_t) = func(*Fxbuf_t) {}
	Eoi      func()         = func() {}
)

// Sched_t picks the next process on every tick and every voluntary
// block. It shares the process table's lock; there is no scheduler
// state outside the table walk, the current index, and the tick
// count.
type Sched_t struct {
	pt    *Ptable_t
	cur   int
	ticks uint64
}

// Mksched schedules over pt, starting with slot 0 current.
func Mksched(pt *Ptable_t) *Sched_t {
	return &Sched_t{pt: pt}
}

// Current returns the process occupying the current slot.
func (sd *Sched_t) Current() *Proc_t {
	sd.pt.Lock()
	defer sd.pt.Unlock()
	return sd.pt.slots[sd.cur]
}

// Ticks returns the monotonic tick count.
func (sd *Sched_t) Ticks() uint64 {
	return atomic.LoadUint64(&sd.ticks)
}

// Tick is the timer interrupt entry point.
func (sd *Sched_t) Tick(ctx *Context_t) {
	sd.Schedule(ctx, false)
	atomic.AddUint64(&sd.ticks, 1)
	Eoi()
}

// Schedule saves the caller's state into the outgoing slot (unless
// the caller already tore it down), picks the next runnable process,
// and loads its state. Selection: wake any waiter whose target slot
// is empty, then take the non-current runnable slot with the most
// quantum left, ties to the lowest id. When nothing qualifies, every
// slot is refilled and the lowest runnable id runs.
func (sd *Sched_t) Schedule(ctx *Context_t, exited bool) {
	pt := sd.pt
	pt.Lock()

	for _, p := range pt.slots {
		if p != nil && p.Waiting >= 0 && pt.slots[p.Waiting] == nil {
			p.Waiting = -1
		}
	}

	next := -1
	var maxtm uint
	for id, p := range pt.slots {
		if p == nil || id == sd.cur || p.Waiting >= 0 {
			continue
		}
		if p.Tm > maxtm {
			maxtm = p.Tm
			next = id
		}
	}
	if next == -1 {
		for _, p := range pt.slots {
			if p != nil {
				p.Tm = QUANTUM
			}
		}
		for id, p := range pt.slots {
			if p != nil && p.Waiting < 0 {
				next = id
				break
			}
		}
		if next == -1 {
			panic("every process is blocked")
		}
	}
	nx := pt.slots[next]
	nx.Tm--
	nx.Accnt.Utadd(1)

	if !exited {
		if cur := pt.slots[sd.cur]; cur != nil {
			cur.Ctx = *ctx
			Fxsave(&cur.Fx)
			cur.Fsbase = Rdfsbase()
		}
	}
	sd.cur = next
	// the page-table base must become visible atomically with the
	// current index
	Setcr3(nx.As.P_pmap)
	pt.Unlock()

	// the table lock is dropped before the incoming register state is
	// restored
	*ctx = nx.Ctx
	Fxrstor(&nx.Fx)
	Wrfsbase(nx.Fsbase)
}
