// Package elf loads ELF-64 executables into a user address space.
// Only statically linked ET_EXEC images for x86-64 are accepted.
package elf

import "fmt"

import "burrow/defs"
import "burrow/mem"
import "burrow/util"
import "burrow/vm"

const (
	elfmagic  = 0x464c457f
	class64   = 2
	data2lsb  = 1
	etexec    = 2
	emx86_64  = 0x3e
	ptload    = 1
	ehdrsz    = 64
	phentsz56 = 56
)

// Elf_t is a parsed image over the raw file bytes.
type Elf_t struct {
	img   []uint8
	entry uintptr
	phoff int
	phnum int
	phsz  int
}

// Mkelf validates the file header the way the build tooling does:
// magic, 64-bit little-endian, executable, x86-64.
func Mkelf(img []uint8) (*Elf_t, defs.Err_t) {
	if len(img) < ehdrsz {
		return nil, -defs.ENOEXEC
	}
	if util.Readn(img, 4, 0) != elfmagic {
		return nil, -defs.ENOEXEC
	}
	if util.Readn(img, 1, 4) != class64 || util.Readn(img, 1, 5) != data2lsb {
		return nil, -defs.ENOEXEC
	}
	if util.Readn(img, 2, 16) != etexec || util.Readn(img, 2, 18) != emx86_64 {
		return nil, -defs.ENOEXEC
	}
	e := &Elf_t{
		img:   img,
		entry: uintptr(util.Readn(img, 8, 24)),
		phoff: util.Readn(img, 8, 32),
		phsz:  util.Readn(img, 2, 54),
		phnum: util.Readn(img, 2, 56),
	}
	if e.phsz < phentsz56 || e.phoff+e.phnum*e.phsz > len(img) {
		return nil, -defs.ENOEXEC
	}
	return e, 0
}

// Entry is the image's entry point.
func (e *Elf_t) Entry() uintptr {
	return e.entry
}

type phdr_t struct {
	ptype  int
	offset int
	vaddr  uintptr
	filesz int
	memsz  int
}

func (e *Elf_t) phdr(i int) phdr_t {
	off := e.phoff + i*e.phsz
	return phdr_t{
		ptype:  util.Readn(e.img, 4, off),
		offset: util.Readn(e.img, 8, off+8),
		vaddr:  uintptr(util.Readn(e.img, 8, off+16)),
		filesz: util.Readn(e.img, 8, off+32),
		memsz:  util.Readn(e.img, 8, off+40),
	}
}

// Load maps every PT_LOAD segment into as: frames are allocated and
// installed user-writable with one reference each, the full memory
// region is zeroed so the BSS tail is clean, and the file bytes are
// copied in. The returned break is the highest segment end.
func (e *Elf_t) Load(as *vm.Vm_t) (uintptr, defs.Err_t) {
	var brk uintptr
	for i := 0; i < e.phnum; i++ {
		ph := e.phdr(i)
		if ph.ptype != ptload || ph.memsz == 0 {
			continue
		}
		if ph.filesz > ph.memsz || ph.offset+ph.filesz > len(e.img) {
			return 0, -defs.ENOEXEC
		}
		first := ph.vaddr & ^(uintptr(mem.PGSIZE) - 1)
		last := (ph.vaddr + uintptr(ph.memsz) - 1) & ^(uintptr(mem.PGSIZE) - 1)
		for va := first; va <= last; va += uintptr(mem.PGSIZE) {
			if _, ok := as.Translate(va); ok {
				// segments may share a page boundary
				continue
			}
			if _, err := as.Map_user(va); err != 0 {
				return 0, err
			}
		}
		if err := as.Uzero(ph.vaddr, ph.memsz); err != 0 {
			return 0, err
		}
		if err := as.K2user(e.img[ph.offset:ph.offset+ph.filesz], ph.vaddr); err != 0 {
			return 0, err
		}
		brk = util.Max(brk, ph.vaddr+uintptr(ph.memsz))
	}
	if brk == 0 {
		fmt.Printf("[warn] elf: image has no loadable segments\n")
		return 0, -defs.ENOEXEC
	}
	return brk, 0
}
