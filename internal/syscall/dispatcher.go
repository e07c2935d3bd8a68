package syscall

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/emberworks/emberos/internal/abi"
	"github.com/emberworks/emberos/internal/exec"
	"github.com/emberworks/emberos/internal/fault"
	"github.com/emberworks/emberos/internal/logging"
	"github.com/emberworks/emberos/internal/memory"
	"github.com/emberworks/emberos/internal/process"
	"github.com/emberworks/emberos/internal/upcall"
)

// Disposition tells the kernel loop what to do with the caller after a
// system call.
type Disposition uint8

const (
	// Resume: the result registers are staged; the process keeps the
	// rest of its timeslice.
	Resume Disposition = iota
	// Park: a wait-mode yield found nothing to deliver; the process
	// leaves the core until an upcall or its deadline.
	Park
	// Exit: the process asked to leave; Result.ExitKind says how.
	Exit
)

func (d Disposition) String() string {
	switch d {
	case Resume:
		return "resume"
	case Park:
		return "park"
	case Exit:
		return "exit"
	}
	return fmt.Sprintf("disposition(%d)", uint8(d))
}

// Result is the dispatcher's verdict on one system call.
type Result struct {
	Disposition Disposition
	ExitKind    abi.ExitKind
	// Fault is set when staging an upcall frame broke the caller's own
	// stack; the kernel routes it like an execution fault.
	Fault *fault.Fault
}

// Dispatcher owns the driver table and the kernel-side halves of the
// six call classes. It runs strictly in kernel context.
type Dispatcher struct {
	table   *process.Table
	phys    *memory.Physical
	machine *exec.Machine
	now     func() uint64
	log     *logging.Logger

	drivers map[uint32]Driver
	calls   map[abi.Class]uint64
	drops   uint64
}

func NewDispatcher(table *process.Table, phys *memory.Physical, machine *exec.Machine, now func() uint64, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.Nop()
	}
	return &Dispatcher{
		table:   table,
		phys:    phys,
		machine: machine,
		now:     now,
		log:     log.Component("syscall"),
		drivers: make(map[uint32]Driver),
		calls:   make(map[abi.Class]uint64),
	}
}

// Register adds a driver to the table. Driver ids are fixed ABI; a
// duplicate registration is a board assembly bug.
func (d *Dispatcher) Register(drv Driver) error {
	id := drv.ID()
	if _, ok := d.drivers[id]; ok {
		return fmt.Errorf("driver %d (%s) already registered", id, drv.Name())
	}
	d.drivers[id] = drv
	d.log.Debug("driver registered", zap.Uint32("driver", id), zap.String("name", drv.Name()))
	return nil
}

// Driver returns the registered driver for id.
func (d *Dispatcher) Driver(id uint32) (Driver, bool) {
	drv, ok := d.drivers[id]
	return drv, ok
}

// Drivers returns the registered drivers in id order.
func (d *Dispatcher) Drivers() []Driver {
	out := make([]Driver, 0, len(d.drivers))
	for _, drv := range d.drivers {
		out = append(out, drv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// AdvanceDrivers gives every clock-driven driver a look at the current
// tick.
func (d *Dispatcher) AdvanceDrivers(now uint64) {
	for _, drv := range d.drivers {
		if t, ok := drv.(Ticker); ok {
			t.Advance(now, d)
		}
	}
}

// NextDriverDeadline returns the earliest tick any driver is waiting
// on, if one is.
func (d *Dispatcher) NextDriverDeadline() (uint64, bool) {
	var (
		min   uint64
		found bool
	)
	for _, drv := range d.drivers {
		dl, ok := drv.(Deadliner)
		if !ok {
			continue
		}
		at, pending := dl.NextDeadline()
		if !pending {
			continue
		}
		if !found || at < min {
			min, found = at, true
		}
	}
	return min, found
}

// CallCounts returns per-class dispatch totals.
func (d *Dispatcher) CallCounts() map[abi.Class]uint64 {
	out := make(map[abi.Class]uint64, len(d.calls))
	for c, n := range d.calls {
		out[c] = n
	}
	return out
}

// DroppedUpcalls returns how many posts have been lost to full queues.
func (d *Dispatcher) DroppedUpcalls() uint64 { return d.drops }

// Post resolves the (driver, sub) subscription of the target process,
// queues an upcall carrying the subscribed handler, and wakes the
// process if it is parked. It reports false when the handle is stale,
// nothing is subscribed, or the queue is full.
func (d *Dispatcher) Post(id process.ID, driver, sub uint32, args [3]uint32) bool {
	p, ok := d.table.Lookup(id)
	if !ok {
		return false
	}
	s, ok := p.Subscription(process.SubKey{Driver: driver, Sub: sub})
	if !ok {
		return false
	}
	u := upcall.Upcall{Driver: driver, Sub: sub, PC: s.PC, UserData: s.UserData, Args: args}
	if !p.Upcalls().Enqueue(u) {
		d.drops++
		d.log.Warn("upcall dropped",
			zap.String("pid", id.String()),
			zap.Uint32("driver", driver),
			zap.Uint32("sub", sub))
		return false
	}
	if p.State() == process.StateWaiting {
		if err := p.Transition(process.StateYielded); err != nil {
			d.log.Error("wake failed", zap.String("pid", id.String()), zap.Error(err))
			return false
		}
	}
	return true
}

// Dispatch handles the system call the process trapped with. Arguments
// are read from r0..r3; results are staged back into the registers
// before the process next runs.
func (d *Dispatcher) Dispatch(p *process.Process, class abi.Class) Result {
	if !class.Valid() {
		p.Regs().SetReturn(abi.Failure(abi.CodeNoSupport))
		return Result{Disposition: Resume}
	}
	d.calls[class]++
	args := p.Regs().Args()

	switch class {
	case abi.ClassCommand:
		return d.command(p, args[0], args[1], args[2], args[3])
	case abi.ClassSubscribe:
		return d.subscribe(p, args[0], args[1], args[2], args[3])
	case abi.ClassAllowReadOnly:
		return d.allow(p, args[0], args[1], args[2], args[3], false)
	case abi.ClassAllowReadWrite:
		return d.allow(p, args[0], args[1], args[2], args[3], true)
	case abi.ClassYield:
		return d.yield(p, abi.YieldMode(args[0]), uint64(args[1]))
	default:
		return d.exit(p, abi.ExitKind(args[0]), args[1])
	}
}

func (d *Dispatcher) command(p *process.Process, driver, num, arg0, arg1 uint32) Result {
	drv, ok := d.drivers[driver]
	if !ok {
		p.Regs().SetReturn(abi.Failure(abi.CodeNoDevice))
		return Result{Disposition: Resume}
	}
	scope := &callScope{d: d, p: p, drv: driver}
	p.Regs().SetReturn(drv.Command(scope, num, arg0, arg1))
	return Result{Disposition: Resume}
}

func (d *Dispatcher) subscribe(p *process.Process, driver, sub, pc, userdata uint32) Result {
	if _, ok := d.drivers[driver]; !ok {
		p.Regs().SetReturn(abi.Failure(abi.CodeNoDevice))
		return Result{Disposition: Resume}
	}
	if pc != 0 && !p.Layout().ValidateAccess(memory.Addr(pc), exec.InstrSize, memory.PermExec) {
		p.Regs().SetReturn(abi.Failure(abi.CodeInvalid))
		return Result{Disposition: Resume}
	}

	key := process.SubKey{Driver: driver, Sub: sub}
	prev := p.Subscribe(key, process.Subscription{PC: pc, UserData: userdata})
	// Queued deliveries belong to the registration that was live when
	// they were posted; a swap revokes them.
	p.Upcalls().RemoveMatching(func(u upcall.Upcall) bool {
		return u.Driver == driver && u.Sub == sub
	})
	p.Regs().SetReturn(abi.SuccessValue2(prev.PC, prev.UserData))
	return Result{Disposition: Resume}
}

func (d *Dispatcher) allow(p *process.Process, driver, buf, ptr, length uint32, writable bool) Result {
	if _, ok := d.drivers[driver]; !ok {
		p.Regs().SetReturn(abi.Failure(abi.CodeNoDevice))
		return Result{Disposition: Resume}
	}
	want := memory.PermRead
	if writable {
		want |= memory.PermWrite
	}
	if !p.Layout().ValidateAccess(memory.Addr(ptr), length, want) {
		p.Regs().SetReturn(abi.Failure(abi.CodeInvalid))
		return Result{Disposition: Resume}
	}

	key := process.AllowKey{Driver: driver, Buf: buf}
	prev := p.SetAllowed(key, process.Buffer{Addr: memory.Addr(ptr), Size: length, Writable: writable})
	p.Regs().SetReturn(abi.SuccessValue2(uint32(prev.Addr), prev.Size))
	return Result{Disposition: Resume}
}

// yield reports through r0 whether an upcall was delivered. The result
// is staged before the frame push so the handler's return restores it
// for the interrupted code. The deadline of a timed wait rides in a
// single register, so it tops out at 2^32 ticks.
func (d *Dispatcher) yield(p *process.Process, mode abi.YieldMode, deadline uint64) Result {
	if u, ok := p.Upcalls().Dequeue(); ok {
		p.Regs().R[0] = 1
		if f := d.machine.PushFrame(p.Regs(), p.Layout(), u.PC, u.Args, u.UserData); f != nil {
			return Result{Disposition: Resume, Fault: f}
		}
		return Result{Disposition: Resume}
	}

	switch mode {
	case abi.YieldWait:
		p.SetWait(false, 0)
		return Result{Disposition: Park}
	case abi.YieldWaitTimeout:
		if d.now() >= deadline {
			p.Regs().R[0] = 0
			return Result{Disposition: Resume}
		}
		p.SetWait(true, deadline)
		return Result{Disposition: Park}
	default:
		// No-wait, and any unknown mode, returns empty-handed.
		p.Regs().R[0] = 0
		return Result{Disposition: Resume}
	}
}

func (d *Dispatcher) exit(p *process.Process, kind abi.ExitKind, completion uint32) Result {
	p.SetCompletion(completion)
	if kind != abi.ExitRestart {
		kind = abi.ExitTerminate
	}
	return Result{Disposition: Exit, ExitKind: kind}
}

// callScope implements Scope for one command invocation.
type callScope struct {
	d   *Dispatcher
	p   *process.Process
	drv uint32
}

func (s *callScope) Pid() process.ID { return s.p.ID() }

func (s *callScope) Name() string { return s.p.Name() }

func (s *callScope) Now() uint64 { return s.d.now() }

func (s *callScope) AllowedRO(buf uint32) ([]byte, bool) {
	return s.allowed(buf, false)
}

func (s *callScope) AllowedRW(buf uint32) ([]byte, bool) {
	return s.allowed(buf, true)
}

func (s *callScope) allowed(buf uint32, writable bool) ([]byte, bool) {
	b, ok := s.p.Allowed(process.AllowKey{Driver: s.drv, Buf: buf})
	if !ok || b.Empty() {
		return nil, false
	}
	if writable && !b.Writable {
		return nil, false
	}
	want := memory.PermRead
	if writable {
		want |= memory.PermWrite
	}
	// A share is only as good as the memory behind it: a grant taken
	// since the allow may have moved the break below the buffer.
	if !s.p.Layout().ValidateAccess(b.Addr, b.Size, want) {
		return nil, false
	}
	sl, err := s.d.phys.Slice(b.Addr, b.Size)
	if err != nil {
		return nil, false
	}
	return sl, true
}

func (s *callScope) Grant(size, align uint32) (memory.Addr, error) {
	return s.p.Grants().Allocate(s.drv, size, align, memory.Addr(s.p.Regs().SP))
}

func (s *callScope) GrantBytes(size, align uint32) ([]byte, error) {
	addr, err := s.Grant(size, align)
	if err != nil {
		return nil, err
	}
	g, _ := s.p.Grants().Lookup(s.drv)
	return s.d.phys.Slice(addr, g.Size)
}

func (s *callScope) Post(sub uint32, args [3]uint32) bool {
	return s.d.Post(s.p.ID(), s.drv, sub, args)
}
