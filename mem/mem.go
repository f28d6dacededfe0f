// Package mem owns physical memory: a page-granular presence bitmap
// plus a per-frame reference count vector, and the HHDM accessors used
// to reach any frame from kernel code.
package mem

import "fmt"
import "sync"
import "math/bits"
import "unsafe"

import "burrow/boot"
import "burrow/util"

// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT uint = 12

// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^PGOFFSET

// Page table entry bits.
const (
	PTE_P   Pa_t = 1 << 0
	PTE_W   Pa_t = 1 << 1
	PTE_U   Pa_t = 1 << 2
	PTE_PCD Pa_t = 1 << 4
	PTE_PS  Pa_t = 1 << 7
	PTE_G   Pa_t = 1 << 8
)

// PTE_ADDR extracts the address bits of a PTE.
const PTE_ADDR Pa_t = 0x000ffffffffff000

// PTE_FLAGS extracts the flag bits of a PTE.
const PTE_FLAGS Pa_t = ^PTE_ADDR

// Pa_t is a physical address.
type Pa_t uintptr

// Bytepg_t is a byte addressed page.
type Bytepg_t [PGSIZE]uint8

// Pmap_t is a page table page: 512 eight-byte entries.
type Pmap_t [512]Pa_t

// REFSAT is the cap of the 8-bit frame reference counter. A counter
// that reaches the cap sticks there and its frame is never reclaimed;
// sharing is bounded by the process table so this does not happen in
// practice.
const REFSAT uint8 = 0xff

// Physmem_t manages all physical memory. A set bit in the bitmap means
// the frame is managed and free; a managed frame with a clear bit is
// allocated. Frames handed to user mappings additionally carry a
// reference count; kernel-internal frames are tracked by the bitmap
// alone with the count left at zero.
type Physmem_t struct {
	sync.Mutex
	hhdm    uintptr
	nframes int
	bitmap  []uint64
	refcnt  []uint8
	nfree   int
}

// Mkphysmem sizes and places the allocator state inside the first
// usable region of the boot memory map that can hold it, then marks
// every frame of every usable region free. The kernel image, loader
// memory, ACPI ranges, and MMIO are left unmanaged.
func Mkphysmem(bi *boot.Bootinfo_t) *Physmem_t {
	var maxaddr uintptr
	for _, m := range bi.Memmap {
		if m.Type != boot.MEM_USABLE {
			continue
		}
		if end := m.Base + m.Len; end > maxaddr {
			maxaddr = end
		}
	}
	if maxaddr == 0 {
		panic("no usable memory")
	}
	nframes := int(maxaddr) / PGSIZE
	words := util.Divroundup(nframes, 64)
	need := uintptr(words*8 + nframes)

	var mbase uintptr
	found := false
	for _, m := range bi.Memmap {
		if m.Type == boot.MEM_USABLE && m.Len >= need {
			mbase = m.Base
			found = true
			break
		}
	}
	if !found {
		panic("no region can hold the frame bitmap")
	}

	phys := &Physmem_t{hhdm: bi.Hhdm, nframes: nframes}
	phys.bitmap = unsafe.Slice((*uint64)(unsafe.Pointer(bi.Hhdm+mbase)), words)
	phys.refcnt = unsafe.Slice((*uint8)(unsafe.Pointer(bi.Hhdm+mbase+uintptr(words*8))), nframes)
	for i := range phys.bitmap {
		phys.bitmap[i] = 0
	}
	for i := range phys.refcnt {
		phys.refcnt[i] = 0
	}

	for _, m := range bi.Memmap {
		if m.Type != boot.MEM_USABLE {
			continue
		}
		start := util.Divroundup(int(m.Base), PGSIZE)
		end := int(m.Base+m.Len) / PGSIZE
		for i := start; i < end; i++ {
			phys.setfree(i)
			phys.nfree++
		}
	}
	mstart := int(mbase) / PGSIZE
	mend := util.Divroundup(int(mbase+need), PGSIZE)
	for i := mstart; i < mend; i++ {
		phys.setalloc(i)
		phys.nfree--
	}
	fmt.Printf("mem: managing %v frames, %v free, bitmap at %#x\n",
		nframes, phys.nfree, mbase)
	return phys
}

func (phys *Physmem_t) setfree(n int) {
	phys.bitmap[n/64] |= 1 << uint(n%64)
}

func (phys *Physmem_t) setalloc(n int) {
	phys.bitmap[n/64] &^= 1 << uint(n%64)
}

func (phys *Physmem_t) isfree(n int) bool {
	return phys.bitmap[n/64]&(1<<uint(n%64)) != 0
}

func pgn(p Pa_t) int {
	return int(p >> PGSHIFT)
}

// Alloc returns the lowest-indexed free frame, marking it allocated.
// The reference count is not touched.
func (phys *Physmem_t) Alloc() (Pa_t, bool) {
	phys.Lock()
	defer phys.Unlock()
	for w, v := range phys.bitmap {
		if v == 0 {
			continue
		}
		b := bits.TrailingZeros64(v)
		n := w*64 + b
		phys.setalloc(n)
		phys.nfree--
		return Pa_t(n) << PGSHIFT, true
	}
	return 0, false
}

// Alloc_contiguous finds the first run of n free frames and marks them
// all allocated, returning the address of the first.
func (phys *Physmem_t) Alloc_contiguous(n int) (Pa_t, bool) {
	if n <= 0 {
		panic("bad contiguous count")
	}
	phys.Lock()
	defer phys.Unlock()
	run := 0
	for i := 0; i < phys.nframes; i++ {
		if !phys.isfree(i) {
			run = 0
			continue
		}
		run++
		if run == n {
			first := i - n + 1
			for j := first; j <= i; j++ {
				phys.setalloc(j)
			}
			phys.nfree -= n
			return Pa_t(first) << PGSHIFT, true
		}
	}
	return 0, false
}

// Free returns a frame to the free pool. Freeing a frame that is
// already free is reported on the kernel log; the bit is set free
// either way.
func (phys *Physmem_t) Free(p Pa_t) {
	phys.Lock()
	phys._free(pgn(p & PGMASK))
	phys.Unlock()
}

func (phys *Physmem_t) _free(n int) {
	if n >= phys.nframes {
		panic("free of unmanaged frame")
	}
	if phys.isfree(n) {
		fmt.Printf("[warn] mem: double free of frame %#x, kernel bug?\n", n<<PGSHIFT)
	} else {
		phys.nfree++
	}
	phys.setfree(n)
}

// Refup increments the reference count of a frame. The count sticks at
// the saturation cap.
func (phys *Physmem_t) Refup(p Pa_t) {
	phys.Lock()
	n := pgn(p & PGMASK)
	if phys.refcnt[n] != REFSAT {
		phys.refcnt[n]++
	}
	phys.Unlock()
}

// Refdown decrements the reference count of a frame and frees the
// frame when the count reaches zero. It reports whether the frame was
// freed. A saturated count is never decremented.
func (phys *Physmem_t) Refdown(p Pa_t) bool {
	phys.Lock()
	defer phys.Unlock()
	n := pgn(p & PGMASK)
	c := phys.refcnt[n]
	if c == 0 {
		panic("refdown of unreferenced frame")
	}
	if c == REFSAT {
		return false
	}
	c--
	phys.refcnt[n] = c
	if c == 0 {
		phys._free(n)
		return true
	}
	return false
}

// Refcnt returns the current reference count of a frame.
func (phys *Physmem_t) Refcnt(p Pa_t) uint8 {
	phys.Lock()
	defer phys.Unlock()
	return phys.refcnt[pgn(p&PGMASK)]
}

// Allocated reports whether the frame holding p is marked allocated.
func (phys *Physmem_t) Allocated(p Pa_t) bool {
	phys.Lock()
	defer phys.Unlock()
	return !phys.isfree(pgn(p & PGMASK))
}

// Nfree returns the number of free managed frames.
func (phys *Physmem_t) Nfree() int {
	phys.Lock()
	defer phys.Unlock()
	return phys.nfree
}

// Nframes returns the number of managed frames.
func (phys *Physmem_t) Nframes() int {
	return phys.nframes
}

// Dmap returns the page holding p through the direct map.
func (phys *Physmem_t) Dmap(p Pa_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(phys.hhdm + uintptr(p&PGMASK)))
}

// Dmappmap returns the page holding p viewed as a page table page.
func (phys *Physmem_t) Dmappmap(p Pa_t) *Pmap_t {
	return (*Pmap_t)(unsafe.Pointer(phys.hhdm + uintptr(p&PGMASK)))
}

// Dmap8 returns the bytes from p to the end of its page.
func (phys *Physmem_t) Dmap8(p Pa_t) []uint8 {
	pg := phys.Dmap(p)
	return pg[p&PGOFFSET:]
}

// Dmaplen returns l bytes starting at physical address p. The HHDM is
// linear, so the slice may span pages.
func (phys *Physmem_t) Dmaplen(p Pa_t, l int) []uint8 {
	return unsafe.Slice((*uint8)(unsafe.Pointer(phys.hhdm+uintptr(p))), l)
}

// Zero clears the page holding p.
func (phys *Physmem_t) Zero(p Pa_t) {
	*phys.Dmap(p) = Bytepg_t{}
}
