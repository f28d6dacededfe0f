// Package fdops declares the contract every open file, device node,
// and block device presents to the descriptor layer.
package fdops

import "burrow/defs"

// Fdops_i is implemented via pointer receivers, so a value of this
// type is a reference to shared handle state. Read, Write, and Seek
// operate on the handle's private position; Reopen and Close adjust
// the holder count so a handle survives fork and dies with its last
// descriptor.
type Fdops_i interface {
	Size() int
	Read(dst []uint8) (int, defs.Err_t)
	Write(src []uint8) (int, defs.Err_t)
	// whence is defs.SEEK_CUR, SEEK_END, or SEEK_SET
	Seek(whence int, off int) (int, defs.Err_t)
	Reopen() defs.Err_t
	Close() defs.Err_t
}
