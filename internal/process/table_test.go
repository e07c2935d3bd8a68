package process

import (
	"bytes"
	"errors"
	"testing"

	"github.com/emberworks/emberos/internal/loader"
	"github.com/emberworks/emberos/internal/memory"
	"github.com/emberworks/emberos/internal/upcall"
)

const (
	testFlashBase = memory.Addr(0x0010_0000)
	testRAMBase   = memory.Addr(0x2000_0000)
)

func testTable(t *testing.T, slots int) (*Table, LoadSpec) {
	t.Helper()
	flash, err := memory.NewBank("flash", testFlashBase, 0x8000)
	if err != nil {
		t.Fatal(err)
	}
	sram, err := memory.NewBank("sram", testRAMBase, 0x8000)
	if err != nil {
		t.Fatal(err)
	}
	phys, err := memory.NewPhysical(flash, sram)
	if err != nil {
		t.Fatal(err)
	}

	img, err := loader.BuildImage(loader.ImageSpec{
		Name: "blink",
		Text: bytes.Repeat([]byte{0x90}, 32),
		Data: []byte{0xaa, 0xbb, 0xcc, 0xdd},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := phys.WriteBytes(testFlashBase, img); err != nil {
		t.Fatal(err)
	}
	h, err := loader.ParseImage(img)
	if err != nil {
		t.Fatal(err)
	}

	return NewTable(slots, phys), LoadSpec{
		Header: h,
		Flash:  memory.Region{Start: testFlashBase, Size: 0x2000},
		RAM:    memory.Region{Start: testRAMBase, Size: 0x2000},
	}
}

func TestLoadSeedsProcess(t *testing.T) {
	tbl, spec := testTable(t, 4)

	p, err := tbl.Load(spec)
	if err != nil {
		t.Fatal(err)
	}
	if got := p.ID(); got.Slot != 0 || got.Gen != 1 {
		t.Errorf("first load got id %s", got)
	}
	if p.Name() != "blink" {
		t.Errorf("name = %q", p.Name())
	}
	if p.State() != StateUnstarted {
		t.Errorf("state = %s", p.State())
	}

	wantPC := uint32(testFlashBase) + spec.Header.Entry
	if p.Regs().PC != wantPC {
		t.Errorf("pc = %#x, want %#x", p.Regs().PC, wantPC)
	}
	if sp := p.Regs().SP; sp != uint32(testRAMBase)+8 {
		t.Errorf("sp = %#x", sp)
	}

	data, err := tbl.phys.ReadBytes(testRAMBase, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte{0xaa, 0xbb, 0xcc, 0xdd}) {
		t.Errorf("data segment = %x", data)
	}

	got, ok := tbl.Lookup(p.ID())
	if !ok || got != p {
		t.Fatal("lookup by fresh handle failed")
	}
	if _, ok := tbl.Lookup(ID{Slot: 0, Gen: 99}); ok {
		t.Error("lookup accepted a wrong generation")
	}
	if tbl.Len() != 1 || tbl.Loads() != 1 {
		t.Errorf("len = %d, loads = %d", tbl.Len(), tbl.Loads())
	}
}

func TestLoadRegionTooSmall(t *testing.T) {
	tbl, spec := testTable(t, 4)

	small := spec
	small.RAM.Size = 64
	if _, err := tbl.Load(small); !errors.Is(err, ErrRegionTooSmall) {
		t.Errorf("tiny ram: %v", err)
	}

	small = spec
	small.Flash.Size = 16
	if _, err := tbl.Load(small); !errors.Is(err, ErrRegionTooSmall) {
		t.Errorf("tiny flash: %v", err)
	}

	if tbl.Len() != 0 {
		t.Error("failed loads must not occupy slots")
	}
	if tbl.LoadFailures() != 2 {
		t.Errorf("load failures = %d", tbl.LoadFailures())
	}

	// The table is untouched, so a correct spec still lands in slot 0.
	p, err := tbl.Load(spec)
	if err != nil {
		t.Fatal(err)
	}
	if p.ID().Slot != 0 || p.ID().Gen != 1 {
		t.Errorf("post-failure load got id %s", p.ID())
	}
}

func TestLoadNoFreeSlot(t *testing.T) {
	tbl, spec := testTable(t, 1)
	if _, err := tbl.Load(spec); err != nil {
		t.Fatal(err)
	}

	second := spec
	second.RAM.Start = testRAMBase + 0x2000
	if _, err := tbl.Load(second); !errors.Is(err, ErrNoFreeSlot) {
		t.Errorf("full table: %v", err)
	}
}

func TestRestartResetsEverything(t *testing.T) {
	tbl, spec := testTable(t, 2)
	p, err := tbl.Load(spec)
	if err != nil {
		t.Fatal(err)
	}
	oldID := p.ID()

	if err := p.Transition(StateRunning); err != nil {
		t.Fatal(err)
	}
	if err := tbl.phys.WriteWord(testRAMBase+0x100, 0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Grants().Allocate(3, 64, 8, memory.Addr(p.Regs().SP)); err != nil {
		t.Fatal(err)
	}
	p.Subscribe(SubKey{Driver: 0, Sub: 0}, Subscription{PC: 0x100040, UserData: 7})
	p.SetAllowed(AllowKey{Driver: 1, Buf: 0}, Buffer{Addr: testRAMBase + 0x40, Size: 16})
	p.Upcalls().Enqueue(upcall.Upcall{Driver: 0, PC: 0x100040})
	p.Regs().R[0] = 0xffff

	got, err := tbl.Restart(oldID.Slot)
	if err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Fatal("restart replaced the process value")
	}
	if p.ID().Gen != oldID.Gen+1 {
		t.Errorf("gen = %d, want %d", p.ID().Gen, oldID.Gen+1)
	}
	if _, ok := tbl.Lookup(oldID); ok {
		t.Error("pre-restart handle still resolves")
	}
	if p.State() != StateUnstarted {
		t.Errorf("state after restart = %s", p.State())
	}

	w, err := tbl.phys.ReadWord(testRAMBase + 0x100)
	if err != nil {
		t.Fatal(err)
	}
	if w != 0 {
		t.Errorf("ram survived restart: %#x", w)
	}
	data, err := tbl.phys.ReadBytes(testRAMBase, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte{0xaa, 0xbb, 0xcc, 0xdd}) {
		t.Errorf("data segment after restart = %x", data)
	}

	if p.Grants().Count() != 0 {
		t.Error("grants survived restart")
	}
	if !p.Upcalls().Empty() {
		t.Error("queued upcalls survived restart")
	}
	if _, ok := p.Subscription(SubKey{Driver: 0, Sub: 0}); ok {
		t.Error("subscription survived restart")
	}
	if _, ok := p.Allowed(AllowKey{Driver: 1, Buf: 0}); ok {
		t.Error("allowed buffer survived restart")
	}
	if p.Regs().R[0] != 0 {
		t.Errorf("r0 after restart = %#x", p.Regs().R[0])
	}
	if c := p.Counters(); c.Restarts != 1 {
		t.Errorf("restart counter = %d", c.Restarts)
	}
}

func TestStopIsTerminal(t *testing.T) {
	tbl, spec := testTable(t, 2)
	p, err := tbl.Load(spec)
	if err != nil {
		t.Fatal(err)
	}

	if err := tbl.Stop(p.ID().Slot); err != nil {
		t.Fatal(err)
	}
	if p.State() != StateStopped {
		t.Errorf("state = %s", p.State())
	}
	// Stopping an already stopped process is a no-op.
	if err := tbl.Stop(p.ID().Slot); err != nil {
		t.Errorf("second stop: %v", err)
	}
	if err := p.Transition(StateRunning); err == nil {
		t.Error("stopped process must not run again")
	}
}

func TestRemoveKeepsGenerationHistory(t *testing.T) {
	tbl, spec := testTable(t, 1)
	p, err := tbl.Load(spec)
	if err != nil {
		t.Fatal(err)
	}
	first := p.ID()

	if _, err := tbl.Restart(first.Slot); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Remove(first.Slot); err != nil {
		t.Fatal(err)
	}
	if tbl.Len() != 0 {
		t.Errorf("len after remove = %d", tbl.Len())
	}
	if err := tbl.Remove(first.Slot); !errors.Is(err, ErrNotFound) {
		t.Errorf("double remove: %v", err)
	}

	again, err := tbl.Load(spec)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID().Gen != 3 {
		t.Errorf("reused slot gen = %d, want 3", again.ID().Gen)
	}
	if _, ok := tbl.Lookup(first); ok {
		t.Error("handle from the first occupant resolves against the new one")
	}
}
