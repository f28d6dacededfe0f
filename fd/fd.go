// Package fd holds the descriptor values stored in each process's
// descriptor table.
package fd

import "burrow/defs"
import "burrow/fdops"

// NFD is the size of a process's descriptor table. Slots 0 and 1 are
// wired to the terminal error and output sinks at process creation.
const NFD = 16

// Permission bits.
const (
	FD_READ  = 0x1
	FD_WRITE = 0x2
)

// Fd_t represents an open file descriptor.
type Fd_t struct {
	// fops is an interface implemented via a "pointer receiver", thus
	// fops is a reference, not a value
	Fops  fdops.Fdops_i
	Perms int
}

// Mkfd wraps ops in a descriptor.
func Mkfd(ops fdops.Fdops_i, perms int) *Fd_t {
	return &Fd_t{Fops: ops, Perms: perms}
}

// Copyfd duplicates an open file descriptor by reopening it, so the
// copy holds its own reference to the shared handle.
func Copyfd(f *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *f
	if err := nfd.Fops.Reopen(); err != 0 {
		return nil, err
	}
	return nfd, 0
}

// Close_panic closes the descriptor and panics on failure.
func Close_panic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("must succeed")
	}
}
