package process

import (
	"errors"
	"fmt"

	"github.com/emberworks/emberos/internal/exec"
	"github.com/emberworks/emberos/internal/fault"
	"github.com/emberworks/emberos/internal/grant"
	"github.com/emberworks/emberos/internal/loader"
	"github.com/emberworks/emberos/internal/memory"
	"github.com/emberworks/emberos/internal/upcall"
)

var (
	ErrBadHeader      = errors.New("load: bad header")
	ErrRegionTooSmall = errors.New("load: region too small")
	ErrNoFreeSlot     = errors.New("load: no free slot")
	ErrNotFound       = errors.New("no such process")
)

// LoadSpec carries everything Load needs. The image bytes must already
// sit in the flash region; Load reads the data section from there.
type LoadSpec struct {
	Header   *loader.Header
	Flash    memory.Region
	RAM      memory.Region
	Policy   fault.Policy
	Priority int
	// QueueCap bounds pending upcalls; zero takes the default.
	QueueCap int
	// StackMargin is the grant allocator's safety gap; zero takes the
	// default.
	StackMargin uint32
}

// Table is the fixed-capacity PCB store. Slot generations survive
// occupants: a handle to a removed process never matches whatever is
// loaded into the slot later.
type Table struct {
	phys  *memory.Physical
	slots []*Process
	gens  []uint32

	loads        uint64
	loadFailures uint64
}

// NewTable builds an empty table with the given number of slots.
func NewTable(capacity int, phys *memory.Physical) *Table {
	if capacity <= 0 {
		capacity = 4
	}
	return &Table{
		phys:  phys,
		slots: make([]*Process, capacity),
		gens:  make([]uint32, capacity),
	}
}

// Load validates the image against its assigned regions, prepares the
// process memory, and claims a free slot. Every check runs before any
// table state changes; a failed load leaves no partial state.
func (t *Table) Load(spec LoadSpec) (*Process, error) {
	p, err := t.load(spec)
	if err != nil {
		t.loadFailures++
		return nil, err
	}
	t.loads++
	return p, nil
}

func (t *Table) load(spec LoadSpec) (*Process, error) {
	h := spec.Header
	if h == nil {
		return nil, fmt.Errorf("%w: no header", ErrBadHeader)
	}
	if h.TotalLen > spec.Flash.Size {
		return nil, fmt.Errorf("%w: image %d bytes, flash region %d",
			ErrRegionTooSmall, h.TotalLen, spec.Flash.Size)
	}
	if h.MinRAM > spec.RAM.Size {
		return nil, fmt.Errorf("%w: image wants %d bytes of ram, region has %d",
			ErrRegionTooSmall, h.MinRAM, spec.RAM.Size)
	}

	slot := -1
	for i, occupant := range t.slots {
		if occupant == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, fmt.Errorf("%w: %d slots occupied", ErrNoFreeSlot, len(t.slots))
	}

	layout, err := memory.NewLayout(spec.Flash, spec.RAM)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", h.Name, err)
	}

	p := &Process{
		id:       ID{Slot: slot, Gen: t.gens[slot] + 1},
		name:     h.Name,
		header:   h,
		state:    StateUnstarted,
		layout:   layout,
		grants:   grant.NewAllocator(layout, spec.StackMargin),
		upcalls:  upcall.NewQueue(spec.QueueCap),
		subs:     make(map[SubKey]Subscription),
		allows:   make(map[AllowKey]Buffer),
		policy:   spec.Policy,
		priority: spec.Priority,
	}
	if err := t.initMemory(p); err != nil {
		return nil, fmt.Errorf("load %q: %w", h.Name, err)
	}

	t.gens[slot] = p.id.Gen
	t.slots[slot] = p
	return p, nil
}

// initMemory zeroes the RAM region, copies the image's data section to
// the bottom of RAM, and resets the register context to the image
// entry point.
func (t *Table) initMemory(p *Process) error {
	if err := t.phys.Zero(p.layout.RAM); err != nil {
		return err
	}
	h := p.header
	if h.DataLen > 0 {
		data, err := t.phys.ReadBytes(p.layout.Flash.Start+memory.Addr(h.DataOff), h.DataLen)
		if err != nil {
			return fmt.Errorf("data section: %w", err)
		}
		if err := t.phys.WriteBytes(p.layout.RAM.Start, data); err != nil {
			return fmt.Errorf("data segment: %w", err)
		}
	}
	p.regs = exec.Registers{
		PC: uint32(p.layout.Flash.Start) + h.Entry,
		SP: uint32(memory.AlignUp(p.layout.RAM.Start+memory.Addr(h.DataLen), 8)),
	}
	return nil
}

// Lookup resolves a handle, rejecting stale generations.
func (t *Table) Lookup(id ID) (*Process, bool) {
	if id.Slot < 0 || id.Slot >= len(t.slots) {
		return nil, false
	}
	p := t.slots[id.Slot]
	if p == nil || p.id.Gen != id.Gen {
		return nil, false
	}
	return p, true
}

// BySlot returns the slot's current occupant.
func (t *Table) BySlot(slot int) (*Process, bool) {
	if slot < 0 || slot >= len(t.slots) {
		return nil, false
	}
	p := t.slots[slot]
	return p, p != nil
}

// FreeSlot returns the lowest vacant slot, if any.
func (t *Table) FreeSlot() (int, bool) {
	for i, p := range t.slots {
		if p == nil {
			return i, true
		}
	}
	return 0, false
}

// Restart reloads the slot's occupant from its image: RAM is zeroed,
// grants, subscriptions, shared buffers, and queued upcalls are
// discarded, and the generation rises so handles from before the
// restart are rejected.
func (t *Table) Restart(slot int) (*Process, error) {
	p, ok := t.BySlot(slot)
	if !ok {
		return nil, fmt.Errorf("%w: slot %d", ErrNotFound, slot)
	}
	p.grants.Reset()
	p.upcalls.Clear()
	p.subs = make(map[SubKey]Subscription)
	p.allows = make(map[AllowKey]Buffer)
	p.ClearWait()
	p.exited = false
	p.completion = 0
	if err := t.initMemory(p); err != nil {
		return nil, fmt.Errorf("restart %q: %w", p.name, err)
	}
	p.state = StateUnstarted
	p.id.Gen = t.gens[slot] + 1
	t.gens[slot] = p.id.Gen
	p.counters.Restarts++
	return p, nil
}

// Stop moves the occupant to the terminal stopped state.
func (t *Table) Stop(slot int) error {
	p, ok := t.BySlot(slot)
	if !ok {
		return fmt.Errorf("%w: slot %d", ErrNotFound, slot)
	}
	if p.state == StateStopped {
		return nil
	}
	return p.Transition(StateStopped)
}

// Remove frees the slot entirely; its regions may be reused by a
// future load. The slot's generation history is kept.
func (t *Table) Remove(slot int) error {
	if _, ok := t.BySlot(slot); !ok {
		return fmt.Errorf("%w: slot %d", ErrNotFound, slot)
	}
	t.slots[slot] = nil
	return nil
}

// Processes returns the occupied slots in slot order.
func (t *Table) Processes() []*Process {
	out := make([]*Process, 0, len(t.slots))
	for _, p := range t.slots {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of occupied slots.
func (t *Table) Len() int {
	n := 0
	for _, p := range t.slots {
		if p != nil {
			n++
		}
	}
	return n
}

// Cap returns the fixed slot count.
func (t *Table) Cap() int { return len(t.slots) }

// Loads returns how many loads have succeeded.
func (t *Table) Loads() uint64 { return t.loads }

// LoadFailures returns how many loads have failed.
func (t *Table) LoadFailures() uint64 { return t.loadFailures }
