package memory

import "testing"

func testLayout(t *testing.T) *Layout {
	t.Helper()
	l, err := NewLayout(
		Region{Start: 0x0010_0000, Size: 0x1000},
		Region{Start: 0x2000_0000, Size: 0x2000},
	)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestLayoutGrantBreak(t *testing.T) {
	l := testLayout(t)
	if l.GrantBreak() != 0x2000_2000 {
		t.Fatalf("initial break = %s", l.GrantBreak())
	}

	if err := l.SetGrantBreak(0x2000_1f00); err != nil {
		t.Fatal(err)
	}
	if err := l.SetGrantBreak(0x2000_1f80); err == nil {
		t.Error("break must not rise")
	}
	if err := l.SetGrantBreak(0x1fff_0000); err == nil {
		t.Error("break must stay inside ram")
	}

	acc := l.Accessible()
	if acc.End() != 0x2000_1f00 {
		t.Errorf("accessible end = %s", acc.End())
	}
	if g := l.GrantRegion(); g.Start != 0x2000_1f00 || g.Size != 0x100 {
		t.Errorf("grant region = %v", g)
	}

	l.ResetGrants()
	if l.GrantBreak() != 0x2000_2000 {
		t.Errorf("break after reset = %s", l.GrantBreak())
	}
}

func TestLayoutRegionsExcludeGrants(t *testing.T) {
	l := testLayout(t)
	if err := l.SetGrantBreak(0x2000_1800); err != nil {
		t.Fatal(err)
	}
	for _, r := range l.Regions() {
		if r.Contains(0x2000_1900, 4) {
			t.Errorf("grant memory reachable through %v", r)
		}
	}
}

func TestValidateAccess(t *testing.T) {
	l := testLayout(t)
	if err := l.SetGrantBreak(0x2000_1000); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		ptr  Addr
		size uint32
		want Perm
		ok   bool
	}{
		{"ram read-write", 0x2000_0100, 64, PermRW, true},
		{"ram at accessible end", 0x2000_0fc0, 64, PermRW, true},
		{"ram past accessible end", 0x2000_0fc0, 65, PermRW, false},
		{"grant memory", 0x2000_1800, 4, PermRead, false},
		{"flash read", 0x0010_0200, 16, PermRead, true},
		{"flash write", 0x0010_0200, 16, PermWrite, false},
		{"foreign address", 0x4000_0000, 4, PermRead, false},
		{"zero length anywhere", 0xdead_0000, 0, PermRW, true},
		{"null pointer", 0, 128, PermRW, true},
		{"length overflow", 0xffff_fff0, 0x100, PermRead, false},
		{"end wraps to zero", 0xffff_ffff, 1, PermRead, false},
	}
	for _, tc := range cases {
		if got := l.ValidateAccess(tc.ptr, tc.size, tc.want); got != tc.ok {
			t.Errorf("%s: ValidateAccess(%s, %d, %s) = %v, want %v",
				tc.name, tc.ptr, tc.size, tc.want, got, tc.ok)
		}
	}
}
