package exec

import (
	"testing"

	"github.com/emberworks/emberos/internal/abi"
	"github.com/emberworks/emberos/internal/fault"
	"github.com/emberworks/emberos/internal/memory"
)

const (
	flashBase = 0x0010_0000
	ramBase   = 0x2000_0000
)

type rig struct {
	m      *Machine
	phys   *memory.Physical
	unit   *memory.Unit
	layout *memory.Layout
	regs   Registers
}

func newRig(t *testing.T, prog Program) *rig {
	t.Helper()
	flash, err := memory.NewBank("flash", flashBase, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	ram, err := memory.NewBank("ram", ramBase, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	phys, err := memory.NewPhysical(flash, ram)
	if err != nil {
		t.Fatal(err)
	}
	layout, err := memory.NewLayout(
		memory.Region{Start: flashBase, Size: 0x1000},
		memory.Region{Start: ramBase, Size: 0x1000},
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := phys.WriteBytes(flashBase, prog.Bytes()); err != nil {
		t.Fatal(err)
	}
	unit := memory.NewUnit(memory.DefaultUnitSlots)
	if err := unit.Activate("test", layout.Regions()); err != nil {
		t.Fatal(err)
	}
	return &rig{
		m:      NewMachine(phys, unit),
		phys:   phys,
		unit:   unit,
		layout: layout,
		regs:   Registers{PC: flashBase, SP: ramBase + 0x100},
	}
}

func TestRunArithmeticAndSyscall(t *testing.T) {
	r := newRig(t, Program{
		Movi(0, 5),
		Movi(1, 7),
		Add(2, 0, 1),
		Addi(2, 2, 100),
		Ecall(abi.ClassCommand),
	})
	stop := r.m.Run(&r.regs, r.layout, 100)
	if stop.Kind != StopSyscall || stop.Class != abi.ClassCommand {
		t.Fatalf("stop = %+v", stop)
	}
	if r.regs.R[2] != 112 {
		t.Errorf("r2 = %d", r.regs.R[2])
	}
	if stop.Ticks != 5 {
		t.Errorf("ticks = %d", stop.Ticks)
	}
	if r.regs.PC != flashBase+5*InstrSize {
		t.Errorf("pc = %#x, should point past the ecall", r.regs.PC)
	}
}

func TestRunLoadStore(t *testing.T) {
	r := newRig(t, Program{
		Movi(1, ramBase+0x40),
		Movi(0, 0xabcd),
		Store(0, 1, 4),
		Load(2, 1, 4),
		Ecall(abi.ClassYield),
	})
	stop := r.m.Run(&r.regs, r.layout, 100)
	if stop.Kind != StopSyscall {
		t.Fatalf("stop = %+v", stop)
	}
	if r.regs.R[2] != 0xabcd {
		t.Errorf("r2 = %#x", r.regs.R[2])
	}
	v, _ := r.phys.ReadWord(ramBase + 0x44)
	if v != 0xabcd {
		t.Errorf("memory = %#x", v)
	}
}

func TestRunForeignStoreFaults(t *testing.T) {
	r := newRig(t, Program{
		Movi(1, 0x3000_0000),
		Store(0, 1, 0),
	})
	stop := r.m.Run(&r.regs, r.layout, 100)
	if stop.Kind != StopFault || stop.Fault.Class != fault.ProtectionViolation {
		t.Fatalf("stop = %+v", stop)
	}
	if stop.Fault.Addr != 0x3000_0000 {
		t.Errorf("fault addr = %s", stop.Fault.Addr)
	}
	if stop.Fault.PC != flashBase+InstrSize {
		t.Errorf("fault pc = %#x", stop.Fault.PC)
	}
}

func TestRunFetchFromRAMFaults(t *testing.T) {
	r := newRig(t, Program{Jmp(ramBase)})
	stop := r.m.Run(&r.regs, r.layout, 100)
	if stop.Kind != StopFault || stop.Fault.Class != fault.ProtectionViolation {
		t.Fatalf("stop = %+v", stop)
	}
}

func TestRunInvalidOpcode(t *testing.T) {
	r := newRig(t, nil)
	if err := r.phys.WriteBytes(flashBase, []byte{0xff, 0, 0, 0, 0, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	stop := r.m.Run(&r.regs, r.layout, 100)
	if stop.Kind != StopFault || stop.Fault.Class != fault.InvalidInstruction {
		t.Fatalf("stop = %+v", stop)
	}
}

func TestRunBadRegisterIndex(t *testing.T) {
	r := newRig(t, Program{{Op: OpMov, A: 12, B: 0}})
	stop := r.m.Run(&r.regs, r.layout, 100)
	if stop.Kind != StopFault || stop.Fault.Class != fault.InvalidInstruction {
		t.Fatalf("stop = %+v", stop)
	}
}

func TestRunStackOverflow(t *testing.T) {
	r := newRig(t, Program{
		Push(0),
		Jmp(flashBase),
	})
	if err := r.layout.SetGrantBreak(ramBase + 0x140); err != nil {
		t.Fatal(err)
	}
	r.unit.Activate("test", r.layout.Regions())

	stop := r.m.Run(&r.regs, r.layout, 1000)
	if stop.Kind != StopFault || stop.Fault.Class != fault.StackOverflow {
		t.Fatalf("stop = %+v", stop)
	}
	// SP started at +0x100 and the break sits at +0x140: exactly 16
	// pushes fit.
	if r.regs.SP != ramBase+0x140 {
		t.Errorf("sp = %#x", r.regs.SP)
	}
}

func TestRunTimesliceExpiry(t *testing.T) {
	r := newRig(t, Program{Jmp(flashBase)})
	stop := r.m.Run(&r.regs, r.layout, 10)
	if stop.Kind != StopExpired || stop.Ticks != 10 {
		t.Fatalf("stop = %+v", stop)
	}
}

func TestRunCallRet(t *testing.T) {
	// 0: call sub
	// 1: ecall yield      <- returns here
	// 2: (sub) movi r5, 9
	// 3: ret
	r := newRig(t, Program{
		Call(flashBase + 2*InstrSize),
		Ecall(abi.ClassYield),
		Movi(5, 9),
		Ret(),
	})
	stop := r.m.Run(&r.regs, r.layout, 100)
	if stop.Kind != StopSyscall {
		t.Fatalf("stop = %+v", stop)
	}
	if r.regs.R[5] != 9 {
		t.Errorf("r5 = %d", r.regs.R[5])
	}
	if r.regs.SP != ramBase+0x100 {
		t.Errorf("sp = %#x, frame not popped", r.regs.SP)
	}
}

func TestRunBrk(t *testing.T) {
	r := newRig(t, Program{Brk()})
	stop := r.m.Run(&r.regs, r.layout, 100)
	if stop.Kind != StopFault || stop.Fault.Class != fault.ExplicitAbort {
		t.Fatalf("stop = %+v", stop)
	}
}

func TestPushFrameAndRetu(t *testing.T) {
	// 0: movi r0, 1
	// 1: ecall yield
	// 2: ecall exit        <- resume point after upcall
	// 3: (handler) movi r6, 42
	// 4: retu
	r := newRig(t, Program{
		Movi(0, 1),
		Ecall(abi.ClassYield),
		Ecall(abi.ClassExit),
		Movi(6, 42),
		Retu(),
	})
	stop := r.m.Run(&r.regs, r.layout, 100)
	if stop.Kind != StopSyscall || stop.Class != abi.ClassYield {
		t.Fatalf("first stop = %+v", stop)
	}

	// Kernel: write the yield result, then stage the upcall.
	r.regs.SetReturn(abi.SuccessValue(1))
	handler := uint32(flashBase + 3*InstrSize)
	if f := r.m.PushFrame(&r.regs, r.layout, handler, [3]uint32{7, 8, 9}, 0xdead); f != nil {
		t.Fatalf("push frame: %v", f)
	}
	if r.regs.PC != handler || r.regs.R[0] != 7 || r.regs.R[3] != 0xdead {
		t.Fatalf("frame staging wrong: %+v", r.regs)
	}

	stop = r.m.Run(&r.regs, r.layout, 100)
	if stop.Kind != StopSyscall || stop.Class != abi.ClassExit {
		t.Fatalf("second stop = %+v", stop)
	}
	if r.regs.R[6] != 42 {
		t.Errorf("handler did not run: r6 = %d", r.regs.R[6])
	}
	// The interrupted frame is restored: yield's result back in R0.
	ret := abi.DecodeReturn(r.regs.Args())
	if ret.Variant != abi.VariantSuccessWithValue || ret.V0 != 1 {
		t.Errorf("restored return = %v", ret)
	}
	if r.regs.SP != ramBase+0x100 {
		t.Errorf("sp = %#x, frame not unwound", r.regs.SP)
	}
}

func TestInstrEncodeDecode(t *testing.T) {
	prog := Program{Movi(3, 0xdeadbeef), Store(1, 2, 16), Ecall(abi.ClassCommand)}
	raw := prog.Bytes()
	for i, want := range prog {
		got, err := DecodeInstr(raw[i*InstrSize:])
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("instr %d: got %v want %v", i, got, want)
		}
	}
	if _, err := DecodeInstr(raw[:3]); err == nil {
		t.Error("truncated instruction should fail to decode")
	}
}
