// Package kernel ties the subsystems together: it owns the boot
// context every constructor hangs off, the trap entry points, and the
// system call dispatcher. Nothing here initializes lazily; the boot
// sequence builds each singleton exactly once and threads it into the
// consumers.
package kernel

import "fmt"

import "burrow/boot"
import "burrow/console"
import "burrow/defs"
import "burrow/fd"
import "burrow/fdops"
import "burrow/fs"
import "burrow/heap"
import "burrow/mem"
import "burrow/proc"
import "burrow/vm"

// KHEAPPAGES is the size of the kernel heap window in frames,
// reserved once at boot.
const KHEAPPAGES = 32

// character cell shape of the terminal font
const fontw, fonth = 8, 16

// Kernel_t is the explicit boot context.
type Kernel_t struct {
	Phys *mem.Physmem_t
	// the page tree the exit path switches to before freeing the
	// caller's
	Bootas *vm.Vm_t
	Pt     *proc.Ptable_t
	Sd     *proc.Sched_t
	Vfs    *fs.Vfs_t
	Term   *console.Term_t
	Heap   *heap.Heap_t
	Fb     boot.Fb_t
	acpi   boot.Acpi_i
	devfs  *fs.Devfs_t
}

// Mkkernel boots the core over the given collaborators: the boot
// handoff, the ACPI parser, the terminal renderer, the root volume,
// and the discovered block devices. It returns with process 0 built
// and current.
func Mkkernel(bi *boot.Bootinfo_t, acpi boot.Acpi_i, rend console.Render_i,
	rootvol fs.Volume_i, disks []fdops.Fdops_i,
	nvme [][]fdops.Fdops_i) (*Kernel_t, defs.Err_t) {
	k := &Kernel_t{Fb: bi.Fb, acpi: acpi}
	k.Phys = mem.Mkphysmem(bi)

	h, err := heap.Mkheap(k.Phys, KHEAPPAGES)
	if err != 0 {
		return nil, err
	}
	k.Heap = h

	rows, cols := 25, 80
	if bi.Fb.Width != 0 {
		rows, cols = bi.Fb.Height/fonth, bi.Fb.Width/fontw
	}
	k.Term = console.Mkterm(rend, rows, cols)

	var initrd fdops.Fdops_i
	if len(bi.Mods) != 0 {
		m := bi.Initrd()
		initrd = fs.Mkramdisk(k.Phys, mem.Pa_t(m.Base), m.Len)
	}
	k.devfs = fs.Mkdevfs(k.Term, disks, nvme, initrd)
	k.Vfs = fs.Mkvfs()
	// the device prefix must be tried before the catch-all root
	k.Vfs.Mount("/dev/", k.devfs)
	k.Vfs.Mount("/", fs.Mkvolprov(rootvol))

	k.Bootas, err = vm.Mkvm_empty(k.Phys)
	if err != 0 {
		return nil, err
	}
	k.Pt = proc.Mkptable()
	k.Sd = proc.Mksched(k.Pt)

	as0, err := vm.Mkvm_kernel(k.Phys, k.Bootas.Pmap)
	if err != 0 {
		return nil, err
	}
	p0, err := k.Pt.Alloc(as0)
	if err != 0 {
		return nil, err
	}
	k.setstdfds(p0)
	if acpi != nil {
		fmt.Printf("kernel: ioapic at %#x, %v ecam regions\n",
			acpi.Ioapic_base(), len(acpi.Ecams()))
	}
	fmt.Printf("kernel: all things ok, let's start!\n")
	return k, 0
}

// setstdfds wires descriptor 0 to the red error sink and descriptor 1
// to the plain output sink.
func (k *Kernel_t) setstdfds(p *proc.Proc_t) {
	p.Fds[0] = fd.Mkfd(k.devfs.Stderr(), fd.FD_WRITE)
	p.Fds[1] = fd.Mkfd(k.devfs.Stdout(), fd.FD_WRITE)
}

// Tick is the timer interrupt entry point.
func (k *Kernel_t) Tick(ctx *proc.Context_t) {
	k.Sd.Tick(ctx)
}

// Kbd is the keyboard interrupt entry point; b is the decoded byte.
func (k *Kernel_t) Kbd(b uint8) {
	k.Term.Kbd(b)
}

// Pgfault is the CPU fault entry for ring-3 faults. A fault the
// resolver cannot handle terminates the offending process with the
// cause on the log.
func (k *Kernel_t) Pgfault(ctx *proc.Context_t, va uintptr, ecode uintptr) {
	p := k.Sd.Current()
	if err := p.As.Pgfault(va, ecode); err != 0 {
		fmt.Printf("[warn] kernel: pid %v faulted at %#x (ec %#x, err %v), killed\n",
			p.Id, va, ecode, err)
		k.terminate(p, ctx)
	}
}

// terminate tears the current process down and schedules its
// successor. The boot page tree is made current first so the victim's
// tree can be freed safely.
func (k *Kernel_t) terminate(p *proc.Proc_t, ctx *proc.Context_t) {
	proc.Setcr3(k.Bootas.P_pmap)
	for i, f := range p.Fds {
		if f != nil {
			fd.Close_panic(f)
			p.Fdclear(i)
		}
	}
	p.As.Freeall()
	k.Pt.Clear(p.Id)
	k.Sd.Schedule(ctx, true)
}
