// Package umem provides a user-space rendition of the boot memory
// handoff: a Go-allocated arena addressed through a synthetic HHDM
// offset. It is used as a library by tools and tests so that the
// allocator, page-table, and loader code can run against real memory
// without a boot loader.
package umem

import "unsafe"

import "burrow/boot"
import "burrow/mem"

// Arena_t pins the backing storage of a synthetic physical address
// space. Physical addresses start at one page so that address zero is
// never handed out.
type Arena_t struct {
	Bi   *boot.Bootinfo_t
	buf  []uint8
	mods [][]uint8
}

// Mkarena builds an arena whose memory map advertises npages usable
// frames starting at physical address PGSIZE. The HHDM offset is
// chosen so that physical address p lands inside the arena.
func Mkarena(npages int) *Arena_t {
	if npages <= 0 {
		panic("bad arena size")
	}
	sz := (npages + 1) * mem.PGSIZE
	buf := make([]uint8, sz+mem.PGSIZE)
	base := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (base + uintptr(mem.PGSIZE) - 1) &^ (uintptr(mem.PGSIZE) - 1)
	// phys PGSIZE maps to the first aligned arena byte
	hhdm := aligned - uintptr(mem.PGSIZE)
	bi := &boot.Bootinfo_t{
		Hhdm: hhdm,
		Memmap: []boot.Ment_t{
			{Base: 0, Len: uintptr(mem.PGSIZE), Type: boot.MEM_KERNEL},
			{Base: uintptr(mem.PGSIZE), Len: uintptr(npages * mem.PGSIZE),
				Type: boot.MEM_USABLE},
		},
	}
	return &Arena_t{Bi: bi, buf: buf}
}

// Pin places b inside a fresh loader-module region of the arena's
// address space and returns its descriptor. The bytes are copied so
// the module survives the caller's buffer.
func (a *Arena_t) Pin(path string, b []uint8) boot.Mod_t {
	cp := make([]uint8, len(b))
	copy(cp, b)
	a.mods = append(a.mods, cp)
	m := boot.Mod_t{
		Base: uintptr(unsafe.Pointer(&cp[0])) - a.Bi.Hhdm,
		Len:  len(cp),
		Path: path,
	}
	a.Bi.Mods = append(a.Bi.Mods, m)
	return m
}
