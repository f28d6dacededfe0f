package vm

import "burrow/defs"
import "burrow/mem"
import "burrow/util"

// K2user copies src into user memory at uva. Pages that are missing
// (inside the stack window) or write-protected are run through the
// fault resolver first, so a kernel write behaves exactly like a user
// write would.
func (as *Vm_t) K2user(src []uint8, uva uintptr) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	for len(src) > 0 {
		pa, err := as.wrprep(uva)
		if err != 0 {
			return err
		}
		dst := as.phys.Dmap8(pa)
		did := copy(dst, src)
		src = src[did:]
		uva += uintptr(did)
	}
	return 0
}

// Uzero clears l bytes of user memory starting at uva.
func (as *Vm_t) Uzero(uva uintptr, l int) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	for l > 0 {
		pa, err := as.wrprep(uva)
		if err != 0 {
			return err
		}
		dst := as.phys.Dmap8(pa)
		n := util.Min(l, len(dst))
		clear(dst[:n])
		l -= n
		uva += uintptr(n)
	}
	return 0
}

// wrprep makes the page at uva writable, resolving CoW and stack
// growth, and returns the physical address of uva.
func (as *Vm_t) wrprep(uva uintptr) (mem.Pa_t, defs.Err_t) {
	pte, err := as.walk(uva, false)
	present := err == 0 && *pte&mem.PTE_P != 0
	if !present {
		if uva >= STACKWIN_LO && uva < USERSTACK_TOP {
			if _, err := as.map_user(uva & ^(uintptr(mem.PGSIZE) - 1)); err != 0 {
				return 0, err
			}
		} else {
			return 0, -defs.EFAULT
		}
	} else if *pte&mem.PTE_W == 0 {
		if err := as.wrfault(uva); err != 0 {
			return 0, err
		}
	}
	pa, ok := as.translate(uva)
	if !ok {
		panic("page vanished")
	}
	return pa, 0
}

// User2k copies len(dst) bytes of user memory at uva into dst.
func (as *Vm_t) User2k(dst []uint8, uva uintptr) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	for len(dst) > 0 {
		pa, ok := as.translate(uva)
		if !ok {
			return -defs.EFAULT
		}
		src := as.phys.Dmap8(pa)
		did := copy(dst, src)
		dst = dst[did:]
		uva += uintptr(did)
	}
	return 0
}
