package rng

import (
	"bytes"
	"testing"

	"github.com/emberworks/emberos/internal/abi"
	"github.com/emberworks/emberos/internal/memory"
	"github.com/emberworks/emberos/internal/process"
)

type fakeScope struct {
	pid    process.ID
	buf    []byte
	posted [][3]uint32
}

func (s *fakeScope) Pid() process.ID { return s.pid }
func (s *fakeScope) Name() string    { return "app" }
func (s *fakeScope) Now() uint64     { return 0 }
func (s *fakeScope) AllowedRO(uint32) ([]byte, bool) {
	return nil, false
}
func (s *fakeScope) AllowedRW(uint32) ([]byte, bool) {
	if s.buf == nil {
		return nil, false
	}
	return s.buf, true
}
func (s *fakeScope) Grant(uint32, uint32) (memory.Addr, error) { return 0, nil }
func (s *fakeScope) GrantBytes(size, _ uint32) ([]byte, error) {
	return make([]byte, size), nil
}
func (s *fakeScope) Post(_ uint32, args [3]uint32) bool {
	s.posted = append(s.posted, args)
	return true
}

func TestExists(t *testing.T) {
	ret := New(1).Command(&fakeScope{}, cmdExists, 0, 0)
	if !ret.Ok() {
		t.Errorf("exists = %v", ret)
	}
}

func TestFetchFillsBufferAndPosts(t *testing.T) {
	s := &fakeScope{buf: make([]byte, 16)}
	ret := New(42).Command(s, cmdFetch, 16, 0)
	if !ret.Ok() || ret.V0 != 16 {
		t.Fatalf("fetch = %v", ret)
	}
	if bytes.Equal(s.buf, make([]byte, 16)) {
		t.Error("buffer left zeroed")
	}
	if len(s.posted) != 1 || s.posted[0][0] != 16 {
		t.Errorf("posted = %v", s.posted)
	}
}

func TestFetchClampsToBuffer(t *testing.T) {
	s := &fakeScope{buf: make([]byte, 4)}
	ret := New(42).Command(s, cmdFetch, 100, 0)
	if !ret.Ok() || ret.V0 != 4 {
		t.Errorf("fetch = %v", ret)
	}
}

func TestFetchNeedsSharedBuffer(t *testing.T) {
	ret := New(42).Command(&fakeScope{}, cmdFetch, 8, 0)
	if ret.Ok() || ret.Code() != abi.CodeNoMemory {
		t.Errorf("fetch without buffer = %v", ret)
	}
}

func TestStreamIsDeterministicPerSeed(t *testing.T) {
	a := &fakeScope{buf: make([]byte, 32)}
	b := &fakeScope{buf: make([]byte, 32)}
	New(7).Command(a, cmdFetch, 32, 0)
	New(7).Command(b, cmdFetch, 32, 0)
	if !bytes.Equal(a.buf, b.buf) {
		t.Error("same seed, different stream")
	}

	c := &fakeScope{buf: make([]byte, 32)}
	New(8).Command(c, cmdFetch, 32, 0)
	if bytes.Equal(a.buf, c.buf) {
		t.Error("different seeds, same stream")
	}
}

func TestUnknownCommand(t *testing.T) {
	ret := New(1).Command(&fakeScope{}, 99, 0, 0)
	if ret.Ok() || ret.Code() != abi.CodeNoSupport {
		t.Errorf("unknown command = %v", ret)
	}
}
