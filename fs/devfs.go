package fs

import "strconv"
import "strings"

import "burrow/console"
import "burrow/defs"
import "burrow/fdops"

// ANSI sequences wrapping the error sink's output in red.
var (
	redon  = []uint8("\x1b[31m")
	redoff = []uint8("\x1b[0m")
)

// Devfs_t is the synthetic device directory. Its name space is fixed
// at boot: /disk<N> for the AHCI devices, /nvme<D>-<N> for NVMe
// namespaces, /initrd for the RAM disk, and the two terminal sinks.
type Devfs_t struct {
	term   *console.Term_t
	disks  []fdops.Fdops_i
	nvme   [][]fdops.Fdops_i
	initrd fdops.Fdops_i
}

// Mkdevfs builds the device directory over the discovered devices.
func Mkdevfs(term *console.Term_t, disks []fdops.Fdops_i,
	nvme [][]fdops.Fdops_i, initrd fdops.Fdops_i) *Devfs_t {
	return &Devfs_t{term: term, disks: disks, nvme: nvme, initrd: initrd}
}

// Open_existing resolves one of the recognised device paths.
func (d *Devfs_t) Open_existing(path string) (fdops.Fdops_i, defs.Err_t) {
	switch {
	case strings.HasPrefix(path, "/disk"):
		n, err := strconv.Atoi(path[len("/disk"):])
		if err != nil || n < 0 || n >= len(d.disks) {
			return nil, -defs.ENOENT
		}
		return d.disks[n], 0
	case strings.HasPrefix(path, "/nvme"):
		rest := path[len("/nvme"):]
		dash := strings.IndexByte(rest, '-')
		if dash == -1 {
			return nil, -defs.ENOENT
		}
		dev, err1 := strconv.Atoi(rest[:dash])
		ns, err2 := strconv.Atoi(rest[dash+1:])
		if err1 != nil || err2 != nil || dev < 0 || dev >= len(d.nvme) {
			return nil, -defs.ENOENT
		}
		if ns < 0 || ns >= len(d.nvme[dev]) {
			return nil, -defs.ENOENT
		}
		return d.nvme[dev][ns], 0
	case path == "/initrd":
		if d.initrd == nil {
			return nil, -defs.ENOENT
		}
		return d.initrd, 0
	case path == "/stdout":
		return d.Stdout(), 0
	case path == "/stderr":
		return d.Stderr(), 0
	}
	return nil, -defs.ENOENT
}

// Create_or_open cannot create device nodes; it behaves like
// Open_existing.
func (d *Devfs_t) Create_or_open(path string) (fdops.Fdops_i, defs.Err_t) {
	return d.Open_existing(path)
}

// Remove always fails; the device name space is fixed.
func (d *Devfs_t) Remove(path string) defs.Err_t {
	return -defs.ENOENT
}

// Stdout returns the plain write-only terminal sink.
func (d *Devfs_t) Stdout() fdops.Fdops_i {
	return &termnode_t{term: d.term}
}

// Stderr returns the terminal sink that wraps output in red.
func (d *Devfs_t) Stderr() fdops.Fdops_i {
	return &termnode_t{term: d.term, red: true}
}

// termnode_t adapts the terminal to the file contract. The nodes are
// stateless, so open and close are free.
type termnode_t struct {
	term *console.Term_t
	red  bool
}

func (tn *termnode_t) Size() int {
	return 0
}

func (tn *termnode_t) Read(dst []uint8) (int, defs.Err_t) {
	return 0, 0
}

func (tn *termnode_t) Write(src []uint8) (int, defs.Err_t) {
	if tn.red {
		tn.term.Process(redon)
	}
	tn.term.Process(src)
	if tn.red {
		tn.term.Process(redoff)
	}
	return len(src), 0
}

func (tn *termnode_t) Seek(whence int, off int) (int, defs.Err_t) {
	return 0, 0
}

func (tn *termnode_t) Reopen() defs.Err_t {
	return 0
}

func (tn *termnode_t) Close() defs.Err_t {
	return 0
}
