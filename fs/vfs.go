// Package fs contains the mount table that routes paths to file
// system providers, the reference-counted handles the descriptor
// layer holds, and the built-in providers: a root volume served
// through the FAT-library contract and the synthetic device
// directory.
package fs

import "fmt"
import "strings"

import "burrow/defs"
import "burrow/fdops"

// Prov_i is one mounted file system. Providers fail only with
// -defs.ENOENT; richer causes do not cross this boundary.
type Prov_i interface {
	Open_existing(path string) (fdops.Fdops_i, defs.Err_t)
	Create_or_open(path string) (fdops.Fdops_i, defs.Err_t)
	Remove(path string) defs.Err_t
}

type mount_t struct {
	prefix string
	prov   Prov_i
}

// Vfs_t maps path prefixes to providers. Mounts are tried in
// insertion order and the first whose prefix matches wins; install
// more specific prefixes first. The table is built once at boot and
// read-only afterwards, so lookups take no lock.
type Vfs_t struct {
	mounts []mount_t
}

// Mkvfs returns an empty mount table.
func Mkvfs() *Vfs_t {
	return &Vfs_t{}
}

// Mount appends a provider under prefix.
func (vfs *Vfs_t) Mount(prefix string, prov Prov_i) {
	vfs.mounts = append(vfs.mounts, mount_t{prefix: prefix, prov: prov})
	fmt.Printf("vfs: mounted %v\n", prefix)
}

// resolve returns the first matching provider and the path as the
// provider sees it: the prefix stripped, the leading slash restored.
func (vfs *Vfs_t) resolve(path string) (Prov_i, string, defs.Err_t) {
	for _, m := range vfs.mounts {
		if strings.HasPrefix(path, m.prefix) {
			return m.prov, "/" + path[len(m.prefix):], 0
		}
	}
	return nil, "", -defs.ENOENT
}

// Open resolves path and opens it, creating when asked.
func (vfs *Vfs_t) Open(path string, create bool) (fdops.Fdops_i, defs.Err_t) {
	prov, rest, err := vfs.resolve(path)
	if err != 0 {
		return nil, err
	}
	if create {
		return prov.Create_or_open(rest)
	}
	return prov.Open_existing(rest)
}

// Remove resolves path and removes it.
func (vfs *Vfs_t) Remove(path string) defs.Err_t {
	prov, rest, err := vfs.resolve(path)
	if err != 0 {
		return err
	}
	return prov.Remove(rest)
}
