package process

import (
	"testing"

	"github.com/emberworks/emberos/internal/memory"
)

func TestStateMoves(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateUnstarted, StateRunning, true},
		{StateRunning, StateWaiting, true},
		{StateRunning, StateFaulted, true},
		{StateRunning, StateStopped, true},
		{StateWaiting, StateYielded, true},
		{StateYielded, StateRunning, true},
		{StateFaulted, StateStopped, true},
		{StateRunning, StateYielded, false},
		{StateFaulted, StateRunning, false},
		{StateStopped, StateRunning, false},
		{StateStopped, StateYielded, false},
		{StateUnstarted, StateYielded, false},
		{StateWaiting, StateRunning, false},
	}
	for _, tc := range cases {
		p := &Process{state: tc.from}
		err := p.Transition(tc.to)
		if tc.ok && err != nil {
			t.Errorf("%s -> %s: %v", tc.from, tc.to, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s -> %s allowed", tc.from, tc.to)
		}
	}
}

func TestSchedulable(t *testing.T) {
	want := map[State]bool{
		StateUnstarted: true,
		StateRunning:   true,
		StateYielded:   true,
		StateWaiting:   false,
		StateFaulted:   false,
		StateStopped:   false,
	}
	for s, ok := range want {
		p := &Process{state: s}
		if p.Schedulable() != ok {
			t.Errorf("%s schedulable = %v", s, p.Schedulable())
		}
	}
}

func TestSubscribeSwapReturnsPrevious(t *testing.T) {
	p := &Process{subs: make(map[SubKey]Subscription)}
	k := SubKey{Driver: 2, Sub: 1}

	prev := p.Subscribe(k, Subscription{PC: 0x1000, UserData: 5})
	if prev.PC != 0 {
		t.Errorf("first subscribe displaced %#x", prev.PC)
	}
	prev = p.Subscribe(k, Subscription{PC: 0x2000, UserData: 9})
	if prev.PC != 0x1000 || prev.UserData != 5 {
		t.Errorf("swap returned %+v", prev)
	}
	// A zero handler address unsubscribes.
	prev = p.Subscribe(k, Subscription{})
	if prev.PC != 0x2000 {
		t.Errorf("unsubscribe returned %+v", prev)
	}
	if _, ok := p.Subscription(k); ok {
		t.Error("subscription survives a null swap")
	}
}

func TestAllowedReplaceReturnsPrevious(t *testing.T) {
	p := &Process{allows: make(map[AllowKey]Buffer)}
	k := AllowKey{Driver: 1, Buf: 0}

	first := Buffer{Addr: 0x2000_0100, Size: 32, Writable: true}
	if prev := p.SetAllowed(k, first); !prev.Empty() {
		t.Errorf("first allow displaced %+v", prev)
	}
	second := Buffer{Addr: 0x2000_0200, Size: 16, Writable: true}
	if prev := p.SetAllowed(k, second); prev != first {
		t.Errorf("swap returned %+v", prev)
	}
	// Sharing the empty buffer revokes the slot.
	if prev := p.SetAllowed(k, Buffer{}); prev != second {
		t.Errorf("revoke returned %+v", prev)
	}
	if _, ok := p.Allowed(k); ok {
		t.Error("buffer survives an empty swap")
	}
}

func TestBufferEmpty(t *testing.T) {
	if !(Buffer{}).Empty() {
		t.Error("zero buffer should be empty")
	}
	if !(Buffer{Addr: 0, Size: 64}).Empty() {
		t.Error("null address should be empty regardless of length")
	}
	if !(Buffer{Addr: 0x2000_0000, Size: 0}).Empty() {
		t.Error("zero length should be empty")
	}
	if (Buffer{Addr: memory.Addr(0x2000_0000), Size: 1}).Empty() {
		t.Error("real buffer reported empty")
	}
}

func TestWaitBookkeeping(t *testing.T) {
	p := &Process{}
	if _, timed := p.WaitDeadline(); timed {
		t.Error("fresh process claims a timed wait")
	}

	p.SetWait(true, 500)
	d, timed := p.WaitDeadline()
	if !timed || d != 500 {
		t.Errorf("deadline = %d, timed = %v", d, timed)
	}

	p.ClearWait()
	if _, timed := p.WaitDeadline(); timed {
		t.Error("deadline survives clear")
	}

	p.SetWait(false, 0)
	if _, timed := p.WaitDeadline(); timed {
		t.Error("untimed wait reports a deadline")
	}
}

func TestCompletion(t *testing.T) {
	p := &Process{}
	if _, ok := p.Completion(); ok {
		t.Error("fresh process has a completion code")
	}
	p.SetCompletion(42)
	code, ok := p.Completion()
	if !ok || code != 42 {
		t.Errorf("completion = %d, %v", code, ok)
	}
}

func TestIDString(t *testing.T) {
	id := ID{Slot: 3, Gen: 7}
	if id.String() != "3.7" {
		t.Errorf("id string = %q", id.String())
	}
}
