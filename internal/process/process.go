package process

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/emberworks/emberos/internal/exec"
	"github.com/emberworks/emberos/internal/fault"
	"github.com/emberworks/emberos/internal/grant"
	"github.com/emberworks/emberos/internal/loader"
	"github.com/emberworks/emberos/internal/memory"
	"github.com/emberworks/emberos/internal/upcall"
)

// ID names a process occupancy: a slot plus the generation of its
// occupant. Generations start at one, so the zero ID matches nothing.
type ID struct {
	Slot int    `json:"slot"`
	Gen  uint32 `json:"gen"`
}

func (id ID) String() string {
	return fmt.Sprintf("%d.%d", id.Slot, id.Gen)
}

// ParseID parses the "slot.gen" form produced by String.
func ParseID(s string) (ID, error) {
	slotStr, genStr, ok := strings.Cut(s, ".")
	if !ok {
		return ID{}, fmt.Errorf("bad process id %q", s)
	}
	slot, err := strconv.Atoi(slotStr)
	if err != nil || slot < 0 {
		return ID{}, fmt.Errorf("bad process id %q", s)
	}
	gen, err := strconv.ParseUint(genStr, 10, 32)
	if err != nil || gen == 0 {
		return ID{}, fmt.Errorf("bad process id %q", s)
	}
	return ID{Slot: slot, Gen: uint32(gen)}, nil
}

// SubKey names one subscription slot of one driver.
type SubKey struct {
	Driver uint32
	Sub    uint32
}

// Subscription is a registered upcall target. The zero PC means
// unsubscribed.
type Subscription struct {
	PC       uint32
	UserData uint32
}

// AllowKey names one buffer slot of one driver.
type AllowKey struct {
	Driver uint32
	Buf    uint32
}

// Buffer is a process memory range shared with a driver. The zero
// Buffer is the empty share.
type Buffer struct {
	Addr     memory.Addr
	Size     uint32
	Writable bool
}

// Empty reports whether the share carries no memory.
func (b Buffer) Empty() bool {
	return b.Addr == 0 || b.Size == 0
}

// Counters accumulates per-process kernel activity.
type Counters struct {
	Syscalls    uint64 `json:"syscalls"`
	Expirations uint64 `json:"timeslice_expirations"`
	Faults      uint64 `json:"faults"`
	Restarts    uint64 `json:"restarts"`
}

// Process is one process control block. It is created and owned by the
// Table; the scheduler moves its state, the dispatcher applies syscall
// effects, the fault handler resolves faults.
type Process struct {
	id       ID
	name     string
	header   *loader.Header
	state    State
	regs     exec.Registers
	layout   *memory.Layout
	grants   *grant.Allocator
	upcalls  *upcall.Queue
	subs     map[SubKey]Subscription
	allows   map[AllowKey]Buffer
	policy   fault.Policy
	priority int

	waitTimed    bool
	waitDeadline uint64

	exited     bool
	completion uint32

	counters Counters
}

// ID returns the process identity.
func (p *Process) ID() ID { return p.id }

// Name returns the image name.
func (p *Process) Name() string { return p.name }

// Header returns the loaded image header.
func (p *Process) Header() *loader.Header { return p.header }

// State returns the current scheduling state.
func (p *Process) State() State { return p.state }

// Transition moves the state machine, rejecting undefined edges.
func (p *Process) Transition(to State) error {
	if !p.state.canMove(to) {
		return fmt.Errorf("process %s: illegal transition %s -> %s", p.id, p.state, to)
	}
	p.state = to
	return nil
}

// Schedulable reports whether a policy may select the process now.
func (p *Process) Schedulable() bool {
	return p.state.Schedulable()
}

// Regs exposes the saved register context for the executor.
func (p *Process) Regs() *exec.Registers { return &p.regs }

// Layout returns the process memory layout.
func (p *Process) Layout() *memory.Layout { return p.layout }

// Grants returns the process grant allocator.
func (p *Process) Grants() *grant.Allocator { return p.grants }

// Upcalls returns the process upcall queue.
func (p *Process) Upcalls() *upcall.Queue { return p.upcalls }

// Policy returns the fault policy fixed at load time.
func (p *Process) Policy() fault.Policy { return p.policy }

// Priority returns the scheduling priority fixed at load time.
func (p *Process) Priority() int { return p.priority }

// Subscribe swaps in a new upcall target for the key and returns the
// one it replaced.
func (p *Process) Subscribe(k SubKey, s Subscription) Subscription {
	prev := p.subs[k]
	if s.PC == 0 {
		delete(p.subs, k)
	} else {
		p.subs[k] = s
	}
	return prev
}

// Subscription returns the registered target for the key.
func (p *Process) Subscription(k SubKey) (Subscription, bool) {
	s, ok := p.subs[k]
	return s, ok
}

// SetAllowed swaps in a shared buffer for the key and returns the one
// it replaced.
func (p *Process) SetAllowed(k AllowKey, b Buffer) Buffer {
	prev := p.allows[k]
	if b.Empty() {
		delete(p.allows, k)
	} else {
		p.allows[k] = b
	}
	return prev
}

// Allowed returns the shared buffer for the key.
func (p *Process) Allowed(k AllowKey) (Buffer, bool) {
	b, ok := p.allows[k]
	return b, ok
}

// SetWait arms the wait-mode yield bookkeeping. A timed wait wakes at
// the deadline tick even with no upcall.
func (p *Process) SetWait(timed bool, deadline uint64) {
	p.waitTimed = timed
	p.waitDeadline = deadline
}

// WaitDeadline returns the armed deadline, if the wait is timed.
func (p *Process) WaitDeadline() (uint64, bool) {
	return p.waitDeadline, p.waitTimed
}

// ClearWait disarms wait bookkeeping.
func (p *Process) ClearWait() {
	p.waitTimed = false
	p.waitDeadline = 0
}

// SetCompletion records the exit completion code.
func (p *Process) SetCompletion(code uint32) {
	p.completion = code
	p.exited = true
}

// Completion returns the exit code, if the process exited.
func (p *Process) Completion() (uint32, bool) {
	return p.completion, p.exited
}

// Counters returns a copy of the activity counters.
func (p *Process) Counters() Counters { return p.counters }

// CountSyscall, CountExpiration, and CountFault bump the respective
// counters from the kernel loop.
func (p *Process) CountSyscall()    { p.counters.Syscalls++ }
func (p *Process) CountExpiration() { p.counters.Expirations++ }
func (p *Process) CountFault()      { p.counters.Faults++ }
