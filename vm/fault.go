package vm

import "burrow/defs"
import "burrow/mem"

// CPU page-fault error code bits.
const (
	ECODE_P uintptr = 1 << 0
	ECODE_W uintptr = 1 << 1
	ECODE_U uintptr = 1 << 2
)

// Pgfault resolves a ring-3 fault at va. A write protection violation
// on a shared page is resolved by copy-on-write duplication; a missing
// page inside the stack window is demand-allocated. Anything else is
// the process's problem: the caller terminates it with the returned
// error as the recorded cause.
func (as *Vm_t) Pgfault(va uintptr, ecode uintptr) defs.Err_t {
	as.Lock()
	defer as.Unlock()

	if ecode&ECODE_P != 0 && ecode&ECODE_W != 0 {
		return as.wrfault(va)
	}
	if ecode&ECODE_P == 0 && va >= STACKWIN_LO && va < USERSTACK_TOP {
		_, err := as.map_user(va & ^(uintptr(mem.PGSIZE) - 1))
		return err
	}
	return -defs.EFAULT
}

// wrfault handles a write to a present read-only user page. With more
// than one holder the page is duplicated into a private writable copy;
// the last holder just gets its write bit back.
func (as *Vm_t) wrfault(va uintptr) defs.Err_t {
	pte, err := as.walk(va, false)
	if err != 0 || *pte&mem.PTE_P == 0 {
		return -defs.EFAULT
	}
	if *pte&mem.PTE_W != 0 {
		// raced with an earlier resolution
		return 0
	}
	old := *pte & mem.PTE_ADDR
	if as.phys.Refcnt(old) > 1 {
		np, ok := as.phys.Alloc()
		if !ok {
			return -defs.ENOMEM
		}
		*as.phys.Dmap(np) = *as.phys.Dmap(old)
		as.phys.Refdown(old)
		*pte = np | (*pte & mem.PTE_FLAGS) | mem.PTE_W
		as.phys.Refup(np)
	} else {
		*pte |= mem.PTE_W
	}
	Tlbflush(va)
	return 0
}
