package console_test

import "testing"

import "burrow/console"
import "burrow/defs"

type sink_t struct {
	got []uint8
}

func (s *sink_t) Process(p []uint8) {
	s.got = append(s.got, p...)
}

func TestProcessForwards(t *testing.T) {
	s := &sink_t{}
	term := console.Mkterm(s, 25, 80)
	term.Process([]uint8("hello\n"))
	if string(s.got) != "hello\n" {
		t.Fatalf("renderer saw %q", s.got)
	}
	if term.Rows() != 25 || term.Cols() != 80 {
		t.Fatalf("shape %vx%v", term.Rows(), term.Cols())
	}
}

func TestInputRing(t *testing.T) {
	s := &sink_t{}
	term := console.Mkterm(s, 25, 80)
	if c, ok := term.Pop(); ok || c != defs.CONS_EMPTY {
		t.Fatalf("empty pop returned %#x, %v", c, ok)
	}
	term.Kbd('a')
	term.Kbd('b')
	if c, ok := term.Pop(); !ok || c != 'a' {
		t.Fatalf("pop %#x, %v", c, ok)
	}
	if c, ok := term.Pop(); !ok || c != 'b' {
		t.Fatalf("pop %#x, %v", c, ok)
	}
	if _, ok := term.Pop(); ok {
		t.Fatal("drained ring still pops")
	}
}

func TestInputRingOverflowDrops(t *testing.T) {
	s := &sink_t{}
	term := console.Mkterm(s, 25, 80)
	for i := 0; i < 200; i++ {
		term.Kbd(uint8(i))
	}
	n := 0
	for {
		if _, ok := term.Pop(); !ok {
			break
		}
		n++
	}
	if n != 128 {
		t.Fatalf("ring held %v bytes", n)
	}
}

func TestEcho(t *testing.T) {
	s := &sink_t{}
	term := console.Mkterm(s, 25, 80)
	term.Kbd('x')
	if string(s.got) != "x" {
		t.Fatalf("echo wrote %q", s.got)
	}
	if on := term.Echotoggle(); on {
		t.Fatal("toggle did not disable echo")
	}
	term.Kbd('y')
	if string(s.got) != "x" {
		t.Fatalf("disabled echo still wrote: %q", s.got)
	}
	if on := term.Echotoggle(); !on {
		t.Fatal("toggle did not re-enable echo")
	}
}
