package fs

import "sync"

import "burrow/defs"
import "burrow/mem"
import "burrow/util"

// block granularity of the device contract
const BLKSIZE = 512

// Ramdisk_t serves a physical memory region through the file
// contract, a block at a time. The initrd module is reached this way.
type Ramdisk_t struct {
	sync.Mutex
	phys *mem.Physmem_t
	base mem.Pa_t
	size int
	pos  int
}

// Mkramdisk wraps the region at base.
func Mkramdisk(phys *mem.Physmem_t, base mem.Pa_t, size int) *Ramdisk_t {
	return &Ramdisk_t{phys: phys, base: base, size: size}
}

// Size returns the region length in bytes.
func (rd *Ramdisk_t) Size() int {
	return rd.size
}

// Read copies at most one block at the current position.
func (rd *Ramdisk_t) Read(dst []uint8) (int, defs.Err_t) {
	rd.Lock()
	defer rd.Unlock()
	n := util.Min(len(dst), BLKSIZE)
	n = util.Min(n, rd.size-rd.pos)
	if n <= 0 {
		return 0, 0
	}
	src := rd.phys.Dmaplen(rd.base+mem.Pa_t(rd.pos), n)
	copy(dst, src)
	rd.pos += n
	return n, 0
}

// Write stores at most one block at the current position. The backing
// is writable memory, so writes stick.
func (rd *Ramdisk_t) Write(src []uint8) (int, defs.Err_t) {
	rd.Lock()
	defer rd.Unlock()
	n := util.Min(len(src), BLKSIZE)
	n = util.Min(n, rd.size-rd.pos)
	if n <= 0 {
		return 0, -defs.ENOENT
	}
	dst := rd.phys.Dmaplen(rd.base+mem.Pa_t(rd.pos), n)
	copy(dst, src[:n])
	rd.pos += n
	return n, 0
}

// Seek moves the device position. A target outside the region is
// rejected with -defs.EINVAL and the position is left unchanged.
func (rd *Ramdisk_t) Seek(whence int, off int) (int, defs.Err_t) {
	rd.Lock()
	defer rd.Unlock()
	var np int
	switch whence {
	case defs.SEEK_CUR:
		np = rd.pos + off
	case defs.SEEK_END:
		np = rd.size + off
	case defs.SEEK_SET:
		np = off
	default:
		return 0, -defs.EINVAL
	}
	if np < 0 || np > rd.size {
		return 0, -defs.EINVAL
	}
	rd.pos = np
	return np, 0
}

// Reopen and Close are free: the region lives for the kernel's
// lifetime.
func (rd *Ramdisk_t) Reopen() defs.Err_t {
	return 0
}

func (rd *Ramdisk_t) Close() defs.Err_t {
	return 0
}
