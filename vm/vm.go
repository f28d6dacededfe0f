// Package vm manages per-process address spaces: a four-level page
// tree whose upper half is shared with the kernel and whose lower half
// holds user mappings. It supports deep-copy clone with copy-on-write
// and recursive teardown.
package vm

import "fmt"
import "sync"

import "burrow/defs"
import "burrow/mem"

// The user half ends at USERSTACK_TOP; the stack window immediately
// below it is demand-grown by the fault resolver.
const (
	USERSTACK_TOP uintptr = 0x80000000
	STACKWIN_LO   uintptr = 0x7fe00000
	// room left above the initial stack pointer for a future argv block
	USTACK_SLOP uintptr = 64
)

// Root table slots 0..255 translate the lower (user) half.
const nuserslots = 256

// Interior page tables whose physical address lies at or above 4 GiB
// belong to the loader's MMIO identity map and are not traversed.
const interiorlimit mem.Pa_t = 1 << 32

// Tlbflush invalidates the translation for one page on the executing
// CPU; Tlbflush_all reloads the whole TLB after a fork rewrites the
// parent's write bits. The boot glue installs the real stubs; the
// defaults are no-ops so library users can run without them.
var (
	Tlbflush     func(va uintptr) = func(uintptr) {}
	Tlbflush_all func()           = func() {}
)

// Vm_t is one process's address space. The mutex protects the page
// tree; the frame allocator has its own lock.
type Vm_t struct {
	sync.Mutex
	phys *mem.Physmem_t
	// root page table page
	Pmap   *mem.Pmap_t
	P_pmap mem.Pa_t
}

func lvlidx(va uintptr, lvl int) int {
	return int(va>>(12+9*uint(lvl))) & 0x1ff
}

// newpt allocates a zeroed page-table page. Table pages are
// kernel-internal: tracked by the bitmap, refcount left at zero.
func (as *Vm_t) newpt() (*mem.Pmap_t, mem.Pa_t, bool) {
	p, ok := as.phys.Alloc()
	if !ok {
		return nil, 0, false
	}
	as.phys.Zero(p)
	return as.phys.Dmappmap(p), p, true
}

// walk returns the leaf entry for va, allocating interior tables when
// create is set. Interior entries are installed present, writable, and
// user-accessible; the leaf entry decides the effective permissions.
func (as *Vm_t) walk(va uintptr, create bool) (*mem.Pa_t, defs.Err_t) {
	pt := as.Pmap
	for lvl := 3; lvl > 0; lvl-- {
		pte := &pt[lvlidx(va, lvl)]
		if *pte&mem.PTE_P == 0 {
			if !create {
				return nil, -defs.EFAULT
			}
			npt, np, ok := as.newpt()
			if !ok {
				return nil, -defs.ENOMEM
			}
			*pte = np | mem.PTE_P | mem.PTE_W | mem.PTE_U
			pt = npt
			continue
		}
		if *pte&mem.PTE_PS != 0 {
			return pte, 0
		}
		pt = as.phys.Dmappmap(*pte & mem.PTE_ADDR)
	}
	return &pt[lvlidx(va, 0)], 0
}

// Mkvm_empty allocates an address space with an empty root table.
func Mkvm_empty(phys *mem.Physmem_t) (*Vm_t, defs.Err_t) {
	as := &Vm_t{phys: phys}
	pt, p, ok := as.newpt()
	if !ok {
		return nil, -defs.ENOMEM
	}
	as.Pmap, as.P_pmap = pt, p
	return as, 0
}

// Mkvm_kernel builds process 0's address space by cloning the boot
// page tree: leaf and huge entries are copied verbatim, interior
// tables are duplicated, and every copied entry is forced
// user-accessible so ring-3 page walks can reach the syscall gate.
// This pass clones page-table pages, not data pages, so reference
// counts are untouched. The resulting upper half becomes the kernel
// half shared by every later process.
func Mkvm_kernel(phys *mem.Physmem_t, bootpmap *mem.Pmap_t) (*Vm_t, defs.Err_t) {
	as := &Vm_t{phys: phys}
	pt, p, ok := as.newpt()
	if !ok {
		return nil, -defs.ENOMEM
	}
	as.Pmap, as.P_pmap = pt, p
	if err := as.clonetree(bootpmap, pt, 3); err != 0 {
		return nil, err
	}
	return as, 0
}

func (as *Vm_t) clonetree(src, dst *mem.Pmap_t, lvl int) defs.Err_t {
	for i, ent := range src {
		if ent&mem.PTE_P == 0 {
			continue
		}
		if lvl == 0 || ent&mem.PTE_PS != 0 {
			dst[i] = ent | mem.PTE_U
			continue
		}
		next := ent & mem.PTE_ADDR
		if next >= interiorlimit {
			fmt.Printf("[warn] vm: ignoring level %v table at %#x\n", lvl, next)
			continue
		}
		npt, np, ok := as.newpt()
		if !ok {
			return -defs.ENOMEM
		}
		dst[i] = np | (ent & mem.PTE_FLAGS) | mem.PTE_U
		if err := as.clonetree(as.phys.Dmappmap(next), npt, lvl-1); err != 0 {
			return err
		}
	}
	return 0
}

// Fork deep-copies this address space for a child. The upper half is
// shared by reference; every present lower-half leaf (huge pages
// included) is marked read-only in both trees and its frame gains one
// reference. The write-fault path later resolves the sharing.
func (as *Vm_t) Fork() (*Vm_t, defs.Err_t) {
	as.Lock()
	defer as.Unlock()
	child := &Vm_t{phys: as.phys}
	pt, p, ok := child.newpt()
	if !ok {
		return nil, -defs.ENOMEM
	}
	child.Pmap, child.P_pmap = pt, p
	for i := nuserslots; i < 512; i++ {
		pt[i] = as.Pmap[i]
	}
	for i := 0; i < nuserslots; i++ {
		ent := as.Pmap[i]
		if ent&mem.PTE_P == 0 {
			continue
		}
		if err := child.clonecow(as.phys, &as.Pmap[i], &pt[i], 3); err != 0 {
			child.freeuser()
			as.phys.Free(child.P_pmap)
			return nil, err
		}
	}
	Tlbflush_all()
	return child, 0
}

// clonecow duplicates one lower-half subtree. srcent is the parent's
// entry so leaf write bits can be dropped in place.
func (as *Vm_t) clonecow(phys *mem.Physmem_t, srcent, dstent *mem.Pa_t, lvl int) defs.Err_t {
	ent := *srcent
	if lvl == 0 || ent&mem.PTE_PS != 0 {
		ent &^= mem.PTE_W
		*srcent = ent
		*dstent = ent
		phys.Refup(ent & mem.PTE_ADDR)
		return 0
	}
	npt, np, ok := as.newpt()
	if !ok {
		return -defs.ENOMEM
	}
	*dstent = np | (ent & mem.PTE_FLAGS)
	src := phys.Dmappmap(ent & mem.PTE_ADDR)
	for i := range src {
		if src[i]&mem.PTE_P == 0 {
			continue
		}
		if err := as.clonecow(phys, &src[i], &npt[i], lvl-1); err != 0 {
			return err
		}
	}
	return 0
}

// Map_user allocates a frame and installs it at va with
// present|writable|user. The frame's reference count becomes one.
func (as *Vm_t) Map_user(va uintptr) (mem.Pa_t, defs.Err_t) {
	if va >= USERSTACK_TOP {
		return 0, -defs.EFAULT
	}
	as.Lock()
	defer as.Unlock()
	return as.map_user(va)
}

func (as *Vm_t) map_user(va uintptr) (mem.Pa_t, defs.Err_t) {
	p, ok := as.phys.Alloc()
	if !ok {
		return 0, -defs.ENOMEM
	}
	as.phys.Zero(p)
	pte, err := as.walk(va, true)
	if err != 0 {
		as.phys.Free(p)
		return 0, err
	}
	if *pte&mem.PTE_P != 0 {
		panic("mapping already present")
	}
	*pte = p | mem.PTE_P | mem.PTE_W | mem.PTE_U
	as.phys.Refup(p)
	return p, 0
}

// Unmap_user removes the leaf entry at va and releases its frame,
// freeing it when the last holder is gone.
func (as *Vm_t) Unmap_user(va uintptr) bool {
	as.Lock()
	defer as.Unlock()
	pte, err := as.walk(va, false)
	if err != 0 || *pte&mem.PTE_P == 0 {
		return false
	}
	as.phys.Refdown(*pte & mem.PTE_ADDR)
	*pte = 0
	Tlbflush(va)
	return true
}

// Translate walks the tables and returns the physical address backing
// va, honoring huge mappings.
func (as *Vm_t) Translate(va uintptr) (mem.Pa_t, bool) {
	as.Lock()
	defer as.Unlock()
	return as.translate(va)
}

func (as *Vm_t) translate(va uintptr) (mem.Pa_t, bool) {
	pt := as.Pmap
	for lvl := 3; lvl > 0; lvl-- {
		ent := pt[lvlidx(va, lvl)]
		if ent&mem.PTE_P == 0 {
			return 0, false
		}
		if ent&mem.PTE_PS != 0 {
			sz := uintptr(1) << (12 + 9*uint(lvl))
			return (ent & mem.PTE_ADDR) + mem.Pa_t(va&(sz-1)), true
		}
		pt = as.phys.Dmappmap(ent & mem.PTE_ADDR)
	}
	ent := pt[lvlidx(va, 0)]
	if ent&mem.PTE_P == 0 {
		return 0, false
	}
	return (ent & mem.PTE_ADDR) + mem.Pa_t(va)&mem.PGOFFSET, true
}

// Uvmfree tears down the lower half only: every mapped user frame is
// released, the lower-half interior tables are freed, and the root and
// kernel half survive. exec uses this before loading a new image.
func (as *Vm_t) Uvmfree() {
	as.Lock()
	as.freeuser()
	as.Unlock()
}

func (as *Vm_t) freeuser() {
	for i := 0; i < nuserslots; i++ {
		if as.Pmap[i]&mem.PTE_P != 0 {
			as.freetree(as.Pmap[i], 3)
			as.Pmap[i] = 0
		}
	}
}

func (as *Vm_t) freetree(ent mem.Pa_t, lvl int) {
	pa := ent & mem.PTE_ADDR
	pt := as.phys.Dmappmap(pa)
	for _, e := range pt {
		if e&mem.PTE_P == 0 {
			continue
		}
		if lvl == 1 || e&mem.PTE_PS != 0 {
			as.phys.Refdown(e & mem.PTE_ADDR)
			continue
		}
		as.freetree(e, lvl-1)
	}
	as.phys.Free(pa)
}

// Freeall is the exit-time teardown: the lower half goes the way of
// Uvmfree, then the root table is freed. The kernel half's interior
// tables are shared among all processes and are never freed.
func (as *Vm_t) Freeall() {
	as.Lock()
	as.freeuser()
	as.phys.Free(as.P_pmap)
	as.Pmap = nil
	as.Unlock()
}
