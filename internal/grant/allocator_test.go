package grant

import (
	"errors"
	"testing"

	"github.com/emberworks/emberos/internal/memory"
)

func testAllocator(t *testing.T) *Allocator {
	t.Helper()
	l, err := memory.NewLayout(
		memory.Region{Start: 0x0010_0000, Size: 0x1000},
		memory.Region{Start: 0x2000_0000, Size: 0x1000},
	)
	if err != nil {
		t.Fatal(err)
	}
	return NewAllocator(l, 64)
}

func TestAllocateIdempotent(t *testing.T) {
	a := testAllocator(t)
	sp := memory.Addr(0x2000_0200)

	first, err := a.Allocate(7, 32, 8, sp)
	if err != nil {
		t.Fatal(err)
	}
	second, err := a.Allocate(7, 32, 8, sp)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("replayed allocate moved: %s then %s", first, second)
	}
	if a.Count() != 1 {
		t.Errorf("count = %d", a.Count())
	}
}

func TestAllocateDescends(t *testing.T) {
	a := testAllocator(t)
	sp := memory.Addr(0x2000_0100)

	g1, err := a.Allocate(1, 64, 8, sp)
	if err != nil {
		t.Fatal(err)
	}
	g2, err := a.Allocate(2, 64, 8, sp)
	if err != nil {
		t.Fatal(err)
	}
	if g2 >= g1 {
		t.Errorf("second grant %s should sit below first %s", g2, g1)
	}
	if g1 != 0x2000_1000-64 {
		t.Errorf("first grant at %s", g1)
	}
	if uint32(g2)%8 != 0 {
		t.Errorf("grant %s not aligned", g2)
	}
}

func TestAllocateStackCollision(t *testing.T) {
	a := testAllocator(t)
	// Stack pointer near the top of RAM leaves no room under the margin.
	sp := memory.Addr(0x2000_0fc0)

	if _, err := a.Allocate(1, 32, 4, sp); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("expected out-of-memory, got %v", err)
	}
	if a.Count() != 0 {
		t.Error("failed allocate must not record a grant")
	}
}

func TestAllocateExhaustion(t *testing.T) {
	a := testAllocator(t)
	sp := memory.Addr(0x2000_0040)

	if _, err := a.Allocate(1, 0x2000, 4, sp); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("oversized grant: %v", err)
	}
}

func TestAllocateBadRequest(t *testing.T) {
	a := testAllocator(t)
	if _, err := a.Allocate(1, 0, 4, 0x2000_0100); !errors.Is(err, ErrBadRequest) {
		t.Errorf("zero size: %v", err)
	}
	if _, err := a.Allocate(1, 16, 3, 0x2000_0100); !errors.Is(err, ErrBadRequest) {
		t.Errorf("non-power-of-two align: %v", err)
	}
	if _, err := a.Allocate(1, 16, 0, 0x2000_0100); !errors.Is(err, ErrBadRequest) {
		t.Errorf("zero align: %v", err)
	}
}

func TestResetDiscardsGrants(t *testing.T) {
	a := testAllocator(t)
	sp := memory.Addr(0x2000_0100)

	first, err := a.Allocate(3, 128, 8, sp)
	if err != nil {
		t.Fatal(err)
	}
	a.Reset()
	if a.Count() != 0 {
		t.Fatal("grants survive reset")
	}
	again, err := a.Allocate(3, 128, 8, sp)
	if err != nil {
		t.Fatalf("fresh allocate after reset: %v", err)
	}
	if again != first {
		t.Errorf("fresh allocation landed at %s, first was %s", again, first)
	}
}
