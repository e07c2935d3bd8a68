// Package alarm is the virtual timer capsule: processes arm one-shot
// alarms against the kernel tick and get an upcall when they fire.
package alarm

import (
	"container/heap"

	"github.com/emberworks/emberos/internal/abi"
	"github.com/emberworks/emberos/internal/process"
	"github.com/emberworks/emberos/internal/syscall"
)

// DriverID is the alarm capsule's ABI driver id.
const DriverID = 0

// SubFired is the subscription slot the expiry upcall arrives on, with
// the current tick and the armed tick (low words) as arguments.
const SubFired = 0

const (
	cmdExists = iota
	cmdTime
	cmdArmRelative
	cmdArmAbsolute
	cmdCancel
)

type entry struct {
	pid process.ID
	at  uint64
	seq uint64
}

// Alarm keeps one armed alarm per process. Re-arming replaces the old
// deadline; the superseded heap entry stays behind and is discarded
// when it surfaces. Kernel context only.
type Alarm struct {
	pending entryHeap
	armed   map[process.ID]*entry
	seq     uint64
}

func New() *Alarm {
	return &Alarm{armed: make(map[process.ID]*entry)}
}

func (a *Alarm) ID() uint32   { return DriverID }
func (a *Alarm) Name() string { return "alarm" }

func (a *Alarm) Command(s syscall.Scope, num, arg0, arg1 uint32) abi.Return {
	switch num {
	case cmdExists:
		return abi.Success()
	case cmdTime:
		now := s.Now()
		return abi.SuccessValue2(uint32(now), uint32(now>>32))
	case cmdArmRelative:
		return a.arm(s.Pid(), s.Now()+uint64(arg0))
	case cmdArmAbsolute:
		at := uint64(arg1)<<32 | uint64(arg0)
		if at < s.Now() {
			at = s.Now()
		}
		return a.arm(s.Pid(), at)
	case cmdCancel:
		delete(a.armed, s.Pid())
		return abi.Success()
	default:
		return abi.Failure(abi.CodeNoSupport)
	}
}

func (a *Alarm) arm(pid process.ID, at uint64) abi.Return {
	a.seq++
	e := &entry{pid: pid, at: at, seq: a.seq}
	a.armed[pid] = e
	heap.Push(&a.pending, e)
	return abi.SuccessValue2(uint32(at), uint32(at>>32))
}

// Advance posts every due alarm in deadline order. A process whose
// queue refuses the upcall loses that expiry.
func (a *Alarm) Advance(now uint64, post syscall.Poster) {
	for len(a.pending) > 0 {
		e := a.pending[0]
		if a.armed[e.pid] != e {
			heap.Pop(&a.pending)
			continue
		}
		if e.at > now {
			return
		}
		heap.Pop(&a.pending)
		delete(a.armed, e.pid)
		post.Post(e.pid, DriverID, SubFired, [3]uint32{uint32(now), uint32(e.at), 0})
	}
}

// NextDeadline reports the earliest live alarm.
func (a *Alarm) NextDeadline() (uint64, bool) {
	for len(a.pending) > 0 {
		e := a.pending[0]
		if a.armed[e.pid] != e {
			heap.Pop(&a.pending)
			continue
		}
		return e.at, true
	}
	return 0, false
}

// entryHeap orders by fire tick, then arm order.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x interface{}) {
	*h = append(*h, x.(*entry))
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
