package console

import (
	"testing"

	"github.com/emberworks/emberos/internal/abi"
	"github.com/emberworks/emberos/internal/memory"
	"github.com/emberworks/emberos/internal/process"
)

type fakeScope struct {
	pid    process.ID
	buf    []byte
	grant  []byte
	posted [][3]uint32
}

func (s *fakeScope) Pid() process.ID { return s.pid }
func (s *fakeScope) Name() string    { return "app" }
func (s *fakeScope) Now() uint64     { return 7 }
func (s *fakeScope) AllowedRO(uint32) ([]byte, bool) {
	if s.buf == nil {
		return nil, false
	}
	return s.buf, true
}
func (s *fakeScope) AllowedRW(uint32) ([]byte, bool)           { return nil, false }
func (s *fakeScope) Grant(uint32, uint32) (memory.Addr, error) { return 0, nil }
func (s *fakeScope) GrantBytes(size, _ uint32) ([]byte, error) {
	if s.grant == nil {
		s.grant = make([]byte, size)
	}
	return s.grant, nil
}
func (s *fakeScope) Post(_ uint32, args [3]uint32) bool {
	s.posted = append(s.posted, args)
	return true
}

type captured struct {
	name string
	line string
}

func collect(out *[]captured) Sink {
	return func(_ uint64, _ process.ID, name string, line []byte) {
		*out = append(*out, captured{name, string(line)})
	}
}

func TestExists(t *testing.T) {
	ret := New(nil).Command(&fakeScope{}, cmdExists, 0, 0)
	if !ret.Ok() {
		t.Errorf("exists = %v", ret)
	}
}

func TestWriteEmitsCompleteLines(t *testing.T) {
	var got []captured
	c := New(collect(&got))
	s := &fakeScope{buf: []byte("one\ntwo\n")}

	ret := c.Command(s, cmdWrite, uint32(len(s.buf)), 0)
	if !ret.Ok() || ret.V0 != uint32(len(s.buf)) {
		t.Fatalf("write = %v", ret)
	}
	if len(got) != 2 || got[0].line != "one" || got[1].line != "two" {
		t.Errorf("lines = %v", got)
	}
	if got[0].name != "app" {
		t.Errorf("name = %q", got[0].name)
	}
	if len(s.posted) != 1 || s.posted[0][0] != uint32(len(s.buf)) {
		t.Errorf("posted = %v", s.posted)
	}
}

func TestWriteHoldsPartialTail(t *testing.T) {
	var got []captured
	c := New(collect(&got))
	pid := process.ID{Slot: 1, Gen: 1}

	s := &fakeScope{pid: pid, buf: []byte("hel")}
	c.Command(s, cmdWrite, 3, 0)
	if len(got) != 0 {
		t.Fatalf("partial write flushed early: %v", got)
	}
	// The held-back tail is staged in the process grant, not host state.
	if string(s.grant[:3]) != "hel" {
		t.Fatalf("grant staging = %q", s.grant[:3])
	}

	s.buf = []byte("lo\n")
	c.Command(s, cmdWrite, 3, 0)
	if len(got) != 1 || got[0].line != "hello" {
		t.Errorf("lines = %v", got)
	}
}

func TestWriteClampsToSharedBuffer(t *testing.T) {
	var got []captured
	c := New(collect(&got))
	s := &fakeScope{buf: []byte("hi\n")}

	ret := c.Command(s, cmdWrite, 100, 0)
	if !ret.Ok() || ret.V0 != 3 {
		t.Errorf("write = %v", ret)
	}
	if len(got) != 1 || got[0].line != "hi" {
		t.Errorf("lines = %v", got)
	}
}

func TestWriteNeedsSharedBuffer(t *testing.T) {
	ret := New(nil).Command(&fakeScope{}, cmdWrite, 4, 0)
	if ret.Ok() || ret.Code() != abi.CodeNoMemory {
		t.Errorf("write without buffer = %v", ret)
	}
}

func TestOversizedTailFlushes(t *testing.T) {
	var got []captured
	c := New(collect(&got))

	long := make([]byte, lineBufSize+10)
	for i := range long {
		long[i] = 'x'
	}
	s := &fakeScope{buf: long}
	c.Command(s, cmdWrite, uint32(len(long)), 0)

	if len(got) != 1 || len(got[0].line) != len(long) {
		t.Fatalf("oversized tail not flushed: %d lines", len(got))
	}
	// The staged tail is gone; the next newline closes an empty line.
	s.buf = []byte("\n")
	c.Command(s, cmdWrite, 1, 0)
	if len(got) != 2 || got[1].line != "" {
		t.Errorf("lines after flush = %v", got)
	}
}

func TestUnknownCommand(t *testing.T) {
	ret := New(nil).Command(&fakeScope{}, 99, 0, 0)
	if ret.Ok() || ret.Code() != abi.CodeNoSupport {
		t.Errorf("unknown = %v", ret)
	}
}
