package fs

import "strings"
import "sync"

import "burrow/defs"
import "burrow/fdops"
import "burrow/util"

// Volume_i is the contract of the file system library serving the
// root mount: flat root-directory open, create, and remove. The FAT
// implementation lives outside the core; the kernel sees only this.
type Volume_i interface {
	Openroot(name string) (File_i, defs.Err_t)
	Createroot(name string) (File_i, defs.Err_t)
	Removeroot(name string) defs.Err_t
}

// File_i is a positionless file: reads and writes name their offset.
type File_i interface {
	Size() int
	Pread(dst []uint8, off int) (int, defs.Err_t)
	Pwrite(src []uint8, off int) (int, defs.Err_t)
}

// Fhandle_t is the shared, reference-counted handle behind open
// descriptors. The seek position is private to the handle, guarded by
// the handle's own mutex.
type Fhandle_t struct {
	sync.Mutex
	f    File_i
	pos  int
	refs int
}

// Mkfhandle wraps f with one holder.
func Mkfhandle(f File_i) *Fhandle_t {
	return &Fhandle_t{f: f, refs: 1}
}

// Size returns the current file size.
func (fh *Fhandle_t) Size() int {
	fh.Lock()
	defer fh.Unlock()
	return fh.f.Size()
}

// Read fills dst from the handle position and advances it. Short
// reads happen at end of file.
func (fh *Fhandle_t) Read(dst []uint8) (int, defs.Err_t) {
	fh.Lock()
	defer fh.Unlock()
	n, err := fh.f.Pread(dst, fh.pos)
	fh.pos += n
	return n, err
}

// Write stores src at the handle position and advances it.
func (fh *Fhandle_t) Write(src []uint8) (int, defs.Err_t) {
	fh.Lock()
	defer fh.Unlock()
	n, err := fh.f.Pwrite(src, fh.pos)
	fh.pos += n
	return n, err
}

// Seek moves the handle position and returns the new one.
func (fh *Fhandle_t) Seek(whence int, off int) (int, defs.Err_t) {
	fh.Lock()
	defer fh.Unlock()
	var np int
	switch whence {
	case defs.SEEK_CUR:
		np = fh.pos + off
	case defs.SEEK_END:
		np = fh.f.Size() + off
	case defs.SEEK_SET:
		np = off
	default:
		return 0, -defs.EINVAL
	}
	if np < 0 {
		return 0, -defs.EINVAL
	}
	fh.pos = np
	return np, 0
}

// Reopen adds a holder.
func (fh *Fhandle_t) Reopen() defs.Err_t {
	fh.Lock()
	fh.refs++
	fh.Unlock()
	return 0
}

// Close drops a holder.
func (fh *Fhandle_t) Close() defs.Err_t {
	fh.Lock()
	defer fh.Unlock()
	fh.refs--
	if fh.refs < 0 {
		panic("handle over-closed")
	}
	return 0
}

// Volprov_t serves a mount from a Volume_i.
type Volprov_t struct {
	vol Volume_i
}

// Mkvolprov mounts vol.
func Mkvolprov(vol Volume_i) *Volprov_t {
	return &Volprov_t{vol: vol}
}

func rootname(path string) string {
	return strings.TrimPrefix(path, "/")
}

// Open_existing opens a root-directory file.
func (p *Volprov_t) Open_existing(path string) (fdops.Fdops_i, defs.Err_t) {
	f, err := p.vol.Openroot(rootname(path))
	if err != 0 {
		return nil, err
	}
	return Mkfhandle(f), 0
}

// Create_or_open creates the file when missing.
func (p *Volprov_t) Create_or_open(path string) (fdops.Fdops_i, defs.Err_t) {
	f, err := p.vol.Createroot(rootname(path))
	if err != 0 {
		return nil, err
	}
	return Mkfhandle(f), 0
}

// Remove deletes a root-directory file.
func (p *Volprov_t) Remove(path string) defs.Err_t {
	return p.vol.Removeroot(rootname(path))
}

// Ramvol_t is a memory-backed Volume_i: the root volume used when the
// initrd is unpacked to memory, and the harness volume for tests.
type Ramvol_t struct {
	sync.Mutex
	files map[string]*ramfile_t
}

type ramfile_t struct {
	sync.Mutex
	data []uint8
}

// Mkramvol returns an empty volume.
func Mkramvol() *Ramvol_t {
	return &Ramvol_t{files: make(map[string]*ramfile_t)}
}

// Preload installs a file with the given contents, replacing any
// previous one. The boot path uses it to populate the root volume
// from the initrd.
func (rv *Ramvol_t) Preload(name string, data []uint8) {
	cp := make([]uint8, len(data))
	copy(cp, data)
	rv.Lock()
	rv.files[name] = &ramfile_t{data: cp}
	rv.Unlock()
}

// Openroot opens an existing file.
func (rv *Ramvol_t) Openroot(name string) (File_i, defs.Err_t) {
	rv.Lock()
	defer rv.Unlock()
	f, ok := rv.files[name]
	if !ok {
		return nil, -defs.ENOENT
	}
	return f, 0
}

// Createroot opens a file, creating it empty when missing.
func (rv *Ramvol_t) Createroot(name string) (File_i, defs.Err_t) {
	rv.Lock()
	defer rv.Unlock()
	f, ok := rv.files[name]
	if !ok {
		f = &ramfile_t{}
		rv.files[name] = f
	}
	return f, 0
}

// Removeroot deletes a file.
func (rv *Ramvol_t) Removeroot(name string) defs.Err_t {
	rv.Lock()
	defer rv.Unlock()
	if _, ok := rv.files[name]; !ok {
		return -defs.ENOENT
	}
	delete(rv.files, name)
	return 0
}

func (f *ramfile_t) Size() int {
	f.Lock()
	defer f.Unlock()
	return len(f.data)
}

func (f *ramfile_t) Pread(dst []uint8, off int) (int, defs.Err_t) {
	f.Lock()
	defer f.Unlock()
	if off >= len(f.data) {
		return 0, 0
	}
	return copy(dst, f.data[off:]), 0
}

func (f *ramfile_t) Pwrite(src []uint8, off int) (int, defs.Err_t) {
	f.Lock()
	defer f.Unlock()
	end := off + len(src)
	if end > len(f.data) {
		nd := make([]uint8, end)
		copy(nd, f.data)
		f.data = nd
	}
	n := copy(f.data[off:util.Min(end, len(f.data))], src)
	return n, 0
}
