package memory

import (
	"bytes"
	"testing"
)

func testPhysical(t *testing.T) *Physical {
	t.Helper()
	flash, err := NewBank("flash", 0x0010_0000, 0x4000)
	if err != nil {
		t.Fatal(err)
	}
	ram, err := NewBank("ram", 0x2000_0000, 0x8000)
	if err != nil {
		t.Fatal(err)
	}
	phys, err := NewPhysical(flash, ram)
	if err != nil {
		t.Fatal(err)
	}
	return phys
}

func TestPhysicalWordRoundTrip(t *testing.T) {
	phys := testPhysical(t)
	if err := phys.WriteWord(0x2000_0010, 0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	v, err := phys.ReadWord(0x2000_0010)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xdeadbeef {
		t.Errorf("read %#x", v)
	}
}

func TestPhysicalUnmappedAccess(t *testing.T) {
	phys := testPhysical(t)
	if _, err := phys.ReadWord(0x3000_0000); err == nil {
		t.Error("read of unmapped address should fail")
	}
	if err := phys.WriteWord(0x2000_7ffe, 1); err == nil {
		t.Error("word write straddling the bank end should fail")
	}
}

func TestPhysicalSliceAliases(t *testing.T) {
	phys := testPhysical(t)
	view, err := phys.Slice(0x2000_0100, 8)
	if err != nil {
		t.Fatal(err)
	}
	copy(view, []byte("embercpu"))

	got, err := phys.ReadBytes(0x2000_0100, 8)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("embercpu")) {
		t.Errorf("slice write not visible: %q", got)
	}
}

func TestPhysicalZero(t *testing.T) {
	phys := testPhysical(t)
	if err := phys.WriteBytes(0x2000_0000, bytes.Repeat([]byte{0xff}, 64)); err != nil {
		t.Fatal(err)
	}
	if err := phys.Zero(Region{Start: 0x2000_0000, Size: 64}); err != nil {
		t.Fatal(err)
	}
	got, _ := phys.ReadBytes(0x2000_0000, 64)
	if !bytes.Equal(got, make([]byte, 64)) {
		t.Error("region not zeroed")
	}
}

func TestNewPhysicalRejectsOverlap(t *testing.T) {
	a, _ := NewBank("a", 0x1000, 0x1000)
	b, _ := NewBank("b", 0x1800, 0x1000)
	if _, err := NewPhysical(a, b); err == nil {
		t.Error("overlapping banks should be rejected")
	}
}
