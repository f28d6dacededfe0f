package fs_test

import "testing"

import "burrow/console"
import "burrow/defs"
import "burrow/fdops"
import "burrow/fs"
import "burrow/mem"
import "burrow/umem"

type sink_t struct {
	got []uint8
}

func (s *sink_t) Process(p []uint8) {
	s.got = append(s.got, p...)
}

func mkvfs(t *testing.T) (*fs.Vfs_t, *sink_t) {
	t.Helper()
	s := &sink_t{}
	term := console.Mkterm(s, 25, 80)
	vfs := fs.Mkvfs()
	vfs.Mount("/dev/", fs.Mkdevfs(term, nil, nil, nil))
	vfs.Mount("/", fs.Mkvolprov(fs.Mkramvol()))
	return vfs, s
}

func TestMountOrderFirstMatchWins(t *testing.T) {
	vfs, s := mkvfs(t)
	f, err := vfs.Open("/dev/stdout", false)
	if err != 0 {
		t.Fatalf("open /dev/stdout: err %v", err)
	}
	if _, err := f.Write([]uint8("ok")); err != 0 {
		t.Fatalf("write err %v", err)
	}
	if string(s.got) != "ok" {
		t.Fatalf("device path was not routed to devfs: %q", s.got)
	}
	if _, err := vfs.Open("/nosuch", false); err != -defs.ENOENT {
		t.Fatalf("missing file: err %v", err)
	}
}

func TestStderrWrapsRed(t *testing.T) {
	vfs, s := mkvfs(t)
	f, err := vfs.Open("/dev/stderr", false)
	if err != 0 {
		t.Fatalf("open err %v", err)
	}
	f.Write([]uint8("bad"))
	if string(s.got) != "\x1b[31mbad\x1b[0m" {
		t.Fatalf("stderr wrote %q", s.got)
	}
}

func TestFileRoundtrip(t *testing.T) {
	vfs, _ := mkvfs(t)
	f, err := vfs.Open("/test.txt", true)
	if err != 0 {
		t.Fatalf("create err %v", err)
	}
	if n, err := f.Write([]uint8("abc")); n != 3 || err != 0 {
		t.Fatalf("write %v, err %v", n, err)
	}
	if err := f.Close(); err != 0 {
		t.Fatalf("close err %v", err)
	}

	g, err := vfs.Open("/test.txt", false)
	if err != 0 {
		t.Fatalf("reopen err %v", err)
	}
	if pos, err := g.Seek(defs.SEEK_END, 0); pos != 3 || err != 0 {
		t.Fatalf("seek end gave %v, err %v", pos, err)
	}
	if pos, err := g.Seek(defs.SEEK_SET, 0); pos != 0 || err != 0 {
		t.Fatalf("seek start gave %v, err %v", pos, err)
	}
	buf := make([]uint8, 3)
	if n, err := g.Read(buf); n != 3 || err != 0 {
		t.Fatalf("read %v, err %v", n, err)
	}
	if string(buf) != "abc" {
		t.Fatalf("read back %q", buf)
	}
}

func TestHandlePositionsAreIndependent(t *testing.T) {
	vfs, _ := mkvfs(t)
	f, _ := vfs.Open("/f", true)
	f.Write([]uint8("0123456789"))
	a, err := vfs.Open("/f", false)
	if err != 0 {
		t.Fatalf("open err %v", err)
	}
	b, _ := vfs.Open("/f", false)
	one := make([]uint8, 4)
	a.Read(one)
	two := make([]uint8, 4)
	b.Read(two)
	if string(one) != "0123" || string(two) != "0123" {
		t.Fatalf("handles shared a position: %q %q", one, two)
	}
}

func TestRemove(t *testing.T) {
	vfs, _ := mkvfs(t)
	f, _ := vfs.Open("/gone", true)
	f.Close()
	if err := vfs.Remove("/gone"); err != 0 {
		t.Fatalf("remove err %v", err)
	}
	if _, err := vfs.Open("/gone", false); err != -defs.ENOENT {
		t.Fatalf("open removed file: err %v", err)
	}
	if err := vfs.Remove("/gone"); err != -defs.ENOENT {
		t.Fatalf("second remove: err %v", err)
	}
	if err := vfs.Remove("/dev/stdout"); err != -defs.ENOENT {
		t.Fatalf("device remove must fail, got %v", err)
	}
}

func TestDevfsNames(t *testing.T) {
	s := &sink_t{}
	term := console.Mkterm(s, 25, 80)
	a := umem.Mkarena(16)
	phys := mem.Mkphysmem(a.Bi)
	disk := fs.Mkramdisk(phys, mem.Pa_t(mem.PGSIZE), 2*mem.PGSIZE)
	ns := fs.Mkramdisk(phys, mem.Pa_t(mem.PGSIZE), mem.PGSIZE)
	d := fs.Mkdevfs(term, []fdops.Fdops_i{disk}, [][]fdops.Fdops_i{{ns}}, disk)

	cases := []struct {
		path string
		ok   bool
	}{
		{"/disk0", true},
		{"/disk1", false},
		{"/diskx", false},
		{"/nvme0-0", true},
		{"/nvme0-1", false},
		{"/nvme1-0", false},
		{"/nvme0", false},
		{"/initrd", true},
		{"/stdout", true},
		{"/stderr", true},
		{"/mouse", false},
	}
	for _, c := range cases {
		_, err := d.Open_existing(c.path)
		if c.ok && err != 0 {
			t.Errorf("%v: err %v", c.path, err)
		}
		if !c.ok && err == 0 {
			t.Errorf("%v: unexpectedly resolved", c.path)
		}
	}
}

func TestRamdiskBlocks(t *testing.T) {
	a := umem.Mkarena(16)
	phys := mem.Mkphysmem(a.Bi)
	p, ok := phys.Alloc_contiguous(2)
	if !ok {
		t.Fatal("alloc")
	}
	img := phys.Dmaplen(p, 2*mem.PGSIZE)
	for i := range img {
		img[i] = uint8(i)
	}
	rd := fs.Mkramdisk(phys, p, 2*mem.PGSIZE)
	if rd.Size() != 2*mem.PGSIZE {
		t.Fatalf("size %v", rd.Size())
	}
	big := make([]uint8, 4096)
	n, err := rd.Read(big)
	if n != 512 || err != 0 {
		t.Fatalf("read returned %v, err %v; want one block", n, err)
	}
	if big[0] != 0 || big[511] != uint8(511%256) {
		t.Fatal("block bytes wrong")
	}
	if pos, err := rd.Seek(defs.SEEK_END, -4); pos != 2*mem.PGSIZE-4 || err != 0 {
		t.Fatalf("seek end gave %v, err %v", pos, err)
	}
	n, _ = rd.Read(big)
	if n != 4 {
		t.Fatalf("tail read %v bytes", n)
	}
	if _, err := rd.Seek(defs.SEEK_SET, -1); err == 0 {
		t.Fatal("negative seek allowed")
	}
	if pos, err := rd.Seek(defs.SEEK_SET, 512); pos != 512 || err != 0 {
		t.Fatalf("seek 512 gave %v, err %v", pos, err)
	}
	rd.Write([]uint8("WXYZ"))
	chk := make([]uint8, 4)
	rd.Seek(defs.SEEK_SET, 512)
	rd.Read(chk)
	if string(chk) != "WXYZ" {
		t.Fatalf("write did not stick: %q", chk)
	}
}
