package kernel

import "fmt"

import "burrow/defs"
import "burrow/elf"
import "burrow/fd"
import "burrow/proc"
import "burrow/util"
import "burrow/vm"

// longest path a system call accepts
const maxpath = 256

// largest chunk staged through the kernel heap per copy step
const iochunk = 4096

type syshandler_t func(*Kernel_t, *proc.Proc_t, *proc.Context_t)

// systable is the fixed-index jump table. The call number rides in
// rax; arguments in rdi, rcx, r10.
var systable = [defs.NSYSCALLS]syshandler_t{
	defs.SYS_TEST:     (*Kernel_t).sys_test,
	defs.SYS_WRITE:    (*Kernel_t).sys_write,
	defs.SYS_FORK:     (*Kernel_t).sys_fork,
	defs.SYS_EXEC:     (*Kernel_t).sys_exec,
	defs.SYS_EXIT:     (*Kernel_t).sys_exit,
	defs.SYS_READCONS: (*Kernel_t).sys_readcons,
	defs.SYS_SETFSBAS: (*Kernel_t).sys_setfsbase,
	defs.SYS_BRK:      (*Kernel_t).sys_brk,
	defs.SYS_WAITPID:  (*Kernel_t).sys_waitpid,
	defs.SYS_GETPID:   (*Kernel_t).sys_getpid,
	defs.SYS_GETTICKS: (*Kernel_t).sys_getticks,
	defs.SYS_INFO:     (*Kernel_t).sys_info,
	defs.SYS_OPEN:     (*Kernel_t).sys_open,
	defs.SYS_READFD:   (*Kernel_t).sys_readfd,
	defs.SYS_SEEK:     (*Kernel_t).sys_seek,
	defs.SYS_CLOSE:    (*Kernel_t).sys_close,
	defs.SYS_REMOVE:   (*Kernel_t).sys_remove,
}

// Syscall is the software interrupt entry point. The stub passes the
// register frame it pushed; values the handlers write back take
// effect when the frame is popped.
func (k *Kernel_t) Syscall(ctx *proc.Context_t) {
	p := k.Sd.Current()
	p.Accnt.Stadd(1)
	n := int(ctx.Rax)
	if n < 0 || n >= defs.NSYSCALLS {
		fmt.Printf("[warn] kernel: syscall %v not present\n", n)
		return
	}
	if n == defs.SYS_EXIT {
		// the handler frees the page tree it would otherwise be
		// running on
		proc.Setcr3(k.Bootas.P_pmap)
	}
	systable[n](k, p, ctx)
}

func (k *Kernel_t) sys_test(p *proc.Proc_t, ctx *proc.Context_t) {
	fmt.Printf("test system call from pid %v\n", p.Id)
}

func (k *Kernel_t) sys_write(p *proc.Proc_t, ctx *proc.Context_t) {
	f := p.Fdget(int(ctx.Rdi))
	if f == nil {
		ctx.Rcx = defs.MAXRET
		return
	}
	uva := uintptr(ctx.Rcx)
	left := int(ctx.R10)
	buf, ok := k.Heap.Kmalloc(iochunk)
	if !ok {
		ctx.Rcx = defs.MAXRET
		return
	}
	defer k.Heap.Kfree(buf)
	for left > 0 {
		c := util.Min(left, iochunk)
		if err := p.As.User2k(buf[:c], uva); err != 0 {
			ctx.Rcx = defs.MAXRET
			return
		}
		if _, err := f.Fops.Write(buf[:c]); err != 0 {
			ctx.Rcx = defs.MAXRET
			return
		}
		left -= c
		uva += uintptr(c)
	}
}

func (k *Kernel_t) sys_fork(p *proc.Proc_t, ctx *proc.Context_t) {
	cas, err := p.As.Fork()
	if err != 0 {
		ctx.Rcx = defs.MAXRET
		return
	}
	child, err := k.Pt.Alloc(cas)
	if err != 0 {
		cas.Freeall()
		ctx.Rcx = defs.MAXRET
		return
	}
	child.Ctx = *ctx
	child.Ctx.Rcx = 0
	child.Fx = p.Fx
	child.Fsbase = p.Fsbase
	child.Brk = p.Brk
	for i, f := range p.Fds {
		if f == nil {
			continue
		}
		nf, err := fd.Copyfd(f)
		if err != 0 {
			continue
		}
		child.Fds[i] = nf
	}
	ctx.Rcx = uint64(child.Id)
}

// userpath copies a path argument out of user memory.
func (k *Kernel_t) userpath(p *proc.Proc_t, ptr uintptr, l int) (string, defs.Err_t) {
	if l <= 0 || l > maxpath {
		return "", -defs.ENAMETOOLONG
	}
	b := make([]uint8, l)
	if err := p.As.User2k(b, ptr); err != 0 {
		return "", err
	}
	return string(b), 0
}

func (k *Kernel_t) sys_exec(p *proc.Proc_t, ctx *proc.Context_t) {
	path, err := k.userpath(p, uintptr(ctx.Rdi), int(ctx.Rcx))
	if err != 0 {
		ctx.Rcx = defs.MAXRET
		return
	}
	img, err := k.readall(path)
	if err != 0 {
		ctx.Rcx = defs.MAXRET
		return
	}
	defer k.Heap.Kfree(img)
	e, err := elf.Mkelf(img)
	if err != 0 {
		// the old image is still intact; the caller just gets an
		// error
		ctx.Rcx = defs.MAXRET
		return
	}
	// the point of no return: drop the old user half, then build the
	// new image in its place
	p.As.Uvmfree()
	brk, err := e.Load(p.As)
	if err != 0 {
		fmt.Printf("[warn] kernel: exec of %v left pid %v without an image (err %v), killed\n",
			path, p.Id, err)
		k.terminate(p, ctx)
		return
	}
	p.Brk = uint64(brk)
	ctx.Rip = uint64(e.Entry())
	ctx.Rsp = uint64(vm.USERSTACK_TOP - vm.USTACK_SLOP)
}

// readall pulls the whole file at path into a heap buffer.
func (k *Kernel_t) readall(path string) ([]uint8, defs.Err_t) {
	f, err := k.Vfs.Open(path, false)
	if err != 0 {
		return nil, err
	}
	defer f.Close()
	sz := f.Size()
	if sz == 0 {
		return nil, -defs.ENOEXEC
	}
	buf, ok := k.Heap.Kmalloc(sz)
	if !ok {
		return nil, -defs.ENOMEM
	}
	done := 0
	for done < sz {
		n, err := f.Read(buf[done:])
		if err != 0 || n == 0 {
			k.Heap.Kfree(buf)
			return nil, -defs.ENOENT
		}
		done += n
	}
	return buf, 0
}

func (k *Kernel_t) sys_exit(p *proc.Proc_t, ctx *proc.Context_t) {
	// the dispatcher already switched to the boot page tree
	fmt.Printf("kernel: pid %v exit after %v ticks, %v syscalls\n",
		p.Id, p.Accnt.Userticks, p.Accnt.Systicks)
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

func (k *Kernel_t) sys_readcons(p *proc.Proc_t, ctx *proc.Context_t) {
	c, _ := k.Term.Pop()
	ctx.Rcx = uint64(c)
}

func (k *Kernel_t) sys_setfsbase(p *proc.Proc_t, ctx *proc.Context_t) {
	p.Fsbase = ctx.Rdi
	proc.Wrfsbase(ctx.Rdi)
}

func (k *Kernel_t) sys_brk(p *proc.Proc_t, ctx *proc.Context_t) {
	ctx.Rsi = p.Brk
	if ctx.Rdi != 0 {
		p.Brk = ctx.Rdi
	}
}

func (k *Kernel_t) sys_waitpid(p *proc.Proc_t, ctx *proc.Context_t) {
	target := int(ctx.Rdi)
	if target < 0 || target >= proc.NPROC || target == p.Id {
		ctx.Rcx = defs.MAXRET
		return
	}
	p.Waiting = target
	k.Sd.Schedule(ctx, false)
}

func (k *Kernel_t) sys_getpid(p *proc.Proc_t, ctx *proc.Context_t) {
	ctx.Rcx = uint64(p.Id)
}

func (k *Kernel_t) sys_getticks(p *proc.Proc_t, ctx *proc.Context_t) {
	ctx.Rcx = k.Sd.Ticks()
}

func (k *Kernel_t) sys_info(p *proc.Proc_t, ctx *proc.Context_t) {
	switch int(ctx.Rdi) {
	case defs.INFO_ROWS:
		ctx.Rcx = uint64(k.Term.Rows())
	case defs.INFO_COLS:
		ctx.Rcx = uint64(k.Term.Cols())
	case defs.INFO_FBWIDTH:
		ctx.Rcx = uint64(k.Fb.Width)
	case defs.INFO_FBHEIGHT:
		ctx.Rcx = uint64(k.Fb.Height)
	case defs.INFO_FBPITCH:
		ctx.Rcx = uint64(k.Fb.Pitch)
	case defs.INFO_ECHO:
		if k.Term.Echotoggle() {
			ctx.Rcx = 1
		} else {
			ctx.Rcx = 0
		}
	default:
		ctx.Rcx = defs.MAXRET
	}
}

func (k *Kernel_t) sys_open(p *proc.Proc_t, ctx *proc.Context_t) {
	path, err := k.userpath(p, uintptr(ctx.Rdi), int(ctx.Rcx))
	if err != 0 {
		ctx.Rsi = defs.MAXRET
		return
	}
	ops, err := k.Vfs.Open(path, ctx.R10 != 0)
	if err != 0 {
		ctx.Rsi = defs.MAXRET
		return
	}
	fdn, err := p.Fdalloc(ops, fd.FD_READ|fd.FD_WRITE)
	if err != 0 {
		ops.Close()
		ctx.Rsi = defs.MAXRET
		return
	}
	ctx.Rsi = uint64(fdn)
}

func (k *Kernel_t) sys_readfd(p *proc.Proc_t, ctx *proc.Context_t) {
	f := p.Fdget(int(ctx.Rdi))
	if f == nil {
		ctx.Rcx = defs.MAXRET
		return
	}
	uva := uintptr(ctx.Rcx)
	left := int(ctx.R10)
	buf, ok := k.Heap.Kmalloc(iochunk)
	if !ok {
		ctx.Rcx = defs.MAXRET
		return
	}
	defer k.Heap.Kfree(buf)
	for left > 0 {
		c := util.Min(left, iochunk)
		n, err := f.Fops.Read(buf[:c])
		if err != 0 {
			ctx.Rcx = defs.MAXRET
			return
		}
		if n == 0 {
			// short reads are the caller's problem
			return
		}
		if err := p.As.K2user(buf[:n], uva); err != 0 {
			ctx.Rcx = defs.MAXRET
			return
		}
		left -= n
		uva += uintptr(n)
	}
}

func (k *Kernel_t) sys_seek(p *proc.Proc_t, ctx *proc.Context_t) {
	f := p.Fdget(int(ctx.Rdi))
	if f == nil {
		ctx.R10 = defs.MAXRET
		return
	}
	np, err := f.Fops.Seek(int(ctx.Rcx), int(int64(ctx.R10)))
	if err != 0 {
		ctx.R10 = defs.MAXRET
		return
	}
	ctx.R10 = uint64(np)
}

func (k *Kernel_t) sys_close(p *proc.Proc_t, ctx *proc.Context_t) {
	f := p.Fdget(int(ctx.Rdi))
	if f == nil {
		ctx.Rcx = defs.MAXRET
		return
	}
	f.Fops.Close()
	p.Fdclear(int(ctx.Rdi))
}

func (k *Kernel_t) sys_remove(p *proc.Proc_t, ctx *proc.Context_t) {
	path, err := k.userpath(p, uintptr(ctx.Rdi), int(ctx.Rcx))
	if err != 0 {
		return
	}
	// failure is silent
	k.Vfs.Remove(path)
}
