package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/emberworks/emberos/internal/abi"
	"github.com/emberworks/emberos/internal/exec"
	"github.com/emberworks/emberos/internal/fault"
	"github.com/emberworks/emberos/internal/infrastructure/monitoring"
	"github.com/emberworks/emberos/internal/infrastructure/tracing"
	"github.com/emberworks/emberos/internal/introspect"
	"github.com/emberworks/emberos/internal/logging"
	"github.com/emberworks/emberos/internal/memory"
	"github.com/emberworks/emberos/internal/process"
	"github.com/emberworks/emberos/internal/sched"
	"github.com/emberworks/emberos/internal/syscall"
)

var (
	// ErrStopped is returned by Do and the control operations once the
	// loop has exited (or before it has started).
	ErrStopped = errors.New("kernel not running")
	// ErrHalted is returned by Run after a panic-policy fault.
	ErrHalted = errors.New("board halted by fault policy")
)

// utilWindow bounds the slice-utilization history kept for snapshots.
const utilWindow = 256

// SlotRegions is the flash and RAM window one process slot owns.
type SlotRegions struct {
	Flash memory.Region
	RAM   memory.Region
}

// Options assembles a kernel. Phys and Plan are required; everything
// else has a default.
type Options struct {
	Phys      *memory.Physical
	Unit      *memory.Unit
	Plan      []SlotRegions
	Policy    sched.Policy
	Timeslice uint64
	Breaker   fault.BreakerConfig
	Metrics   *monitoring.Metrics
	Trace     *tracing.Hub
	Log       *logging.Logger
}

// InstallOptions carries the per-process settings an image is loaded
// with.
type InstallOptions struct {
	Policy      fault.Policy
	Priority    int
	QueueCap    int
	StackMargin uint32
}

type request struct {
	fn   func()
	done chan struct{}
}

// Kernel is the board's single kernel context. Run owns all fields
// below the channel block; nothing else may touch them while the loop
// is live.
type Kernel struct {
	log     *logging.Logger
	metrics *monitoring.Metrics
	trace   *tracing.Hub

	events   chan request
	quit     chan struct{}
	running  atomic.Bool
	snapshot atomic.Value

	timeslice uint64
	plan      []SlotRegions

	phys    *memory.Physical
	unit    *memory.Unit
	table   *process.Table
	machine *exec.Machine
	disp    *syscall.Dispatcher
	policy  sched.Policy
	faults  *fault.Handler

	clock     uint64
	util      utilRing
	dropsSeen uint64
	halted    bool
}

// New wires a kernel over the board's memory. Images are installed
// afterwards, drivers registered, then Run started.
func New(opts Options) (*Kernel, error) {
	if opts.Phys == nil {
		return nil, errors.New("kernel needs physical memory")
	}
	if len(opts.Plan) == 0 {
		return nil, errors.New("kernel needs at least one process slot")
	}

	log := opts.Log
	if log == nil {
		log = logging.Nop()
	}
	log = log.Component("kernel")

	unit := opts.Unit
	if unit == nil {
		unit = memory.NewUnit(memory.DefaultUnitSlots)
	}
	timeslice := opts.Timeslice
	if timeslice == 0 {
		timeslice = sched.DefaultSlice
	}
	policy := opts.Policy
	if policy == nil {
		policy = sched.NewRoundRobin(timeslice)
	}
	trace := opts.Trace
	if trace == nil {
		trace = tracing.NewHub(log.Logger)
	}

	k := &Kernel{
		log:       log,
		metrics:   opts.Metrics,
		trace:     trace,
		events:    make(chan request, 16),
		quit:      make(chan struct{}),
		timeslice: timeslice,
		plan:      opts.Plan,
		phys:      opts.Phys,
		unit:      unit,
		policy:    policy,
		util:      utilRing{buf: make([]float64, 0, utilWindow)},
	}
	k.table = process.NewTable(len(opts.Plan), opts.Phys)
	k.machine = exec.NewMachine(opts.Phys, unit)
	k.disp = syscall.NewDispatcher(k.table, opts.Phys, k.machine, k.now, log)
	k.faults = fault.NewHandler(lifecycle{k}, opts.Breaker, log)
	k.publish()
	return k, nil
}

func (k *Kernel) now() uint64 { return k.clock }

// Trace returns the kernel event hub.
func (k *Kernel) Trace() *tracing.Hub { return k.trace }

// Done is closed when the loop has exited.
func (k *Kernel) Done() <-chan struct{} { return k.quit }

// Snapshot returns the last published kernel view.
func (k *Kernel) Snapshot() introspect.Snapshot {
	if v := k.snapshot.Load(); v != nil {
		return v.(introspect.Snapshot)
	}
	return introspect.Snapshot{}
}

// RegisterDriver adds a driver before the loop starts.
func (k *Kernel) RegisterDriver(drv syscall.Driver) error {
	if k.running.Load() {
		return errors.New("drivers must be registered before the kernel runs")
	}
	if err := k.disp.Register(drv); err != nil {
		return err
	}
	k.publish()
	return nil
}

// Do runs fn in kernel context between timeslices and waits for it.
func (k *Kernel) Do(fn func()) error {
	if !k.running.Load() {
		return ErrStopped
	}
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case k.events <- req:
	case <-k.quit:
		return ErrStopped
	}
	select {
	case <-req.done:
		return nil
	case <-k.quit:
		// An enqueue can race the shutdown drain; a request that slipped
		// in behind it never runs.
		select {
		case <-req.done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Run drives scheduling until the context is canceled or a
// panic-policy fault halts the board.
func (k *Kernel) Run(ctx context.Context) error {
	if !k.running.CompareAndSwap(false, true) {
		return errors.New("kernel already started")
	}
	defer func() {
		close(k.quit)
		k.drainPending()
	}()

	k.log.Info("kernel running",
		zap.String("policy", k.policy.Name()),
		zap.Uint64("timeslice", k.timeslice),
		zap.Int("slots", k.table.Cap()))
	k.publish()

	for {
		if ctx.Err() != nil {
			k.log.Info("kernel stopping", zap.Uint64("clock", k.clock))
			return nil
		}
		if k.halted {
			k.publish()
			k.log.Error("board halted", zap.Uint64("clock", k.clock))
			return ErrHalted
		}

		k.drainPending()
		k.disp.AdvanceDrivers(k.clock)
		k.wakeExpired()

		cands := k.candidates()
		if len(cands) == 0 {
			k.idle(ctx)
			continue
		}
		dec, ok := k.policy.Pick(cands)
		if !ok {
			k.idle(ctx)
			continue
		}
		k.runSlice(dec)
		k.publish()
	}
}

// drainPending serves queued control requests without blocking. The
// snapshot is republished before the caller unblocks so it can read
// its own change.
func (k *Kernel) drainPending() {
	for {
		select {
		case req := <-k.events:
			req.fn()
			k.publish()
			close(req.done)
		default:
			return
		}
	}
}

// idle handles a pass with nothing schedulable: jump the clock to the
// next deadline, or if none is armed, sleep until a control request
// or shutdown.
func (k *Kernel) idle(ctx context.Context) {
	if at, ok := k.nextDeadline(); ok {
		if at > k.clock {
			k.clock = at
		} else {
			k.clock++
		}
		return
	}
	select {
	case req := <-k.events:
		req.fn()
		k.publish()
		close(req.done)
	case <-ctx.Done():
	}
}

// nextDeadline finds the earliest tick anything is waiting for.
func (k *Kernel) nextDeadline() (uint64, bool) {
	var (
		min   uint64
		found bool
	)
	for _, p := range k.table.Processes() {
		if p.State() != process.StateWaiting {
			continue
		}
		at, timed := p.WaitDeadline()
		if !timed {
			continue
		}
		if !found || at < min {
			min, found = at, true
		}
	}
	if at, ok := k.disp.NextDriverDeadline(); ok && (!found || at < min) {
		min, found = at, true
	}
	return min, found
}

// wakeExpired moves timed waiters whose deadline passed back into the
// schedulable set. Whether they get an upcall or an empty-handed
// return is decided when they are next picked.
func (k *Kernel) wakeExpired() {
	for _, p := range k.table.Processes() {
		if p.State() != process.StateWaiting {
			continue
		}
		at, timed := p.WaitDeadline()
		if !timed || at > k.clock {
			continue
		}
		if err := p.Transition(process.StateYielded); err != nil {
			k.log.Error("deadline wake failed", zap.String("pid", p.ID().String()), zap.Error(err))
		}
	}
}

func (k *Kernel) candidates() []sched.Candidate {
	var cands []sched.Candidate
	for _, p := range k.table.Processes() {
		if !p.Schedulable() {
			continue
		}
		cands = append(cands, sched.Candidate{
			Slot:     p.ID().Slot,
			Priority: p.Priority(),
			Pending:  !p.Upcalls().Empty(),
		})
	}
	return cands
}

// runSlice gives one process the core for at most dec.Slice ticks.
func (k *Kernel) runSlice(dec sched.Decision) {
	p, ok := k.table.BySlot(dec.Slot)
	if !ok || !p.Schedulable() {
		k.policy.Forget(dec.Slot)
		return
	}
	if err := k.activate(p); err != nil {
		k.log.Error("protection unit rejected process regions",
			zap.String("pid", p.ID().String()), zap.Error(err))
		k.policy.Forget(dec.Slot)
		_ = k.table.Stop(dec.Slot)
		return
	}
	defer k.unit.Deactivate()

	k.metrics.RecordContextSwitch()
	k.traceEvent(tracing.KindSwitch, p, "")

	var used uint64
	defer func() {
		frac := float64(used) / float64(dec.Slice)
		k.util.add(frac)
		k.metrics.RecordSliceUtilization(frac)
	}()

	if !k.enter(p) {
		return
	}

	remaining := dec.Slice
	for remaining > 0 {
		stop := k.machine.Run(p.Regs(), p.Layout(), remaining)
		k.clock += stop.Ticks
		used += stop.Ticks
		remaining -= stop.Ticks

		switch stop.Kind {
		case exec.StopExpired:
			p.CountExpiration()
			return

		case exec.StopFault:
			p.CountFault()
			k.handleFault(p, stop.Fault)
			return

		case exec.StopSyscall:
			p.CountSyscall()
			k.metrics.RecordSyscall(stop.Class.String())
			k.traceEvent(tracing.KindSyscall, p, stop.Class.String())

			brk := p.Layout().GrantBreak()
			res := k.disp.Dispatch(p, stop.Class)
			if res.Fault != nil {
				p.CountFault()
				k.handleFault(p, *res.Fault)
				return
			}
			switch res.Disposition {
			case syscall.Park:
				if err := p.Transition(process.StateWaiting); err != nil {
					k.log.Error("park failed", zap.String("pid", p.ID().String()), zap.Error(err))
				}
				return
			case syscall.Exit:
				k.finishExit(p, res.ExitKind)
				return
			}
			// A granted allocation moves the break; the active window
			// must shrink with it before the process touches memory.
			if p.Layout().GrantBreak() != brk {
				if err := k.activate(p); err != nil {
					k.log.Error("protection unit rejected shrunk regions",
						zap.String("pid", p.ID().String()), zap.Error(err))
					_ = k.table.Stop(dec.Slot)
					k.policy.Forget(dec.Slot)
					return
				}
			}
		}
	}
	// The slice ran out exactly on a syscall boundary.
	p.CountExpiration()
}

// enter moves the picked process into Running and, for a woken
// process, settles its yield: deliver the head upcall or report none.
func (k *Kernel) enter(p *process.Process) bool {
	switch p.State() {
	case process.StateRunning:
		return true

	case process.StateUnstarted:
		if err := p.Transition(process.StateRunning); err != nil {
			k.log.Error("start failed", zap.String("pid", p.ID().String()), zap.Error(err))
			return false
		}
		return true

	case process.StateYielded:
		if err := p.Transition(process.StateRunning); err != nil {
			k.log.Error("wake failed", zap.String("pid", p.ID().String()), zap.Error(err))
			return false
		}
		p.ClearWait()
		if u, ok := p.Upcalls().Dequeue(); ok {
			// r0 first: the frame saves it, so the handler's return
			// restores the delivered verdict to the interrupted yield.
			p.Regs().R[0] = 1
			if f := k.machine.PushFrame(p.Regs(), p.Layout(), u.PC, u.Args, u.UserData); f != nil {
				p.CountFault()
				k.handleFault(p, *f)
				return false
			}
		} else {
			p.Regs().R[0] = 0
		}
		return true
	}
	return false
}

func (k *Kernel) handleFault(p *process.Process, f fault.Fault) {
	k.metrics.RecordFault(f.Class.String())
	k.traceEvent(tracing.KindFault, p, f.String())
	if err := p.Transition(process.StateFaulted); err != nil {
		k.log.Error("fault transition failed", zap.String("pid", p.ID().String()), zap.Error(err))
	}
	out, err := k.faults.Handle(p.ID().Slot, p.Name(), p.Policy(), f)
	if err != nil {
		k.log.Error("fault handling incomplete", zap.String("pid", p.ID().String()), zap.Error(err))
	}
	if out == fault.OutcomePanic {
		k.halted = true
	}
}

func (k *Kernel) finishExit(p *process.Process, kind abi.ExitKind) {
	slot := p.ID().Slot
	code, _ := p.Completion()
	k.traceEvent(tracing.KindExit, p, fmt.Sprintf("kind=%s completion=%d", kind, code))

	if kind == abi.ExitRestart {
		if _, err := k.table.Restart(slot); err != nil {
			k.log.Error("exit restart failed", zap.Int("slot", slot), zap.Error(err))
			_ = k.table.Stop(slot)
		} else {
			k.metrics.RecordRestart()
		}
		k.policy.Forget(slot)
		return
	}
	_ = k.table.Stop(slot)
	k.policy.Forget(slot)
}

func (k *Kernel) activate(p *process.Process) error {
	return k.unit.Activate(p.Name(), p.Layout().Regions())
}

func (k *Kernel) traceEvent(kind tracing.Kind, p *process.Process, detail string) {
	ev := tracing.Event{Tick: k.clock, Kind: kind, Detail: detail}
	if p != nil {
		ev.Pid = p.ID().String()
		ev.Name = p.Name()
	}
	k.trace.Publish(ev)
}

// publish rebuilds the shared snapshot from live state.
func (k *Kernel) publish() {
	snap := introspect.Build(introspect.Input{
		Clock:        k.clock,
		PolicyName:   k.policy.Name(),
		Timeslice:    k.timeslice,
		Table:        k.table,
		Unit:         k.unit,
		CallCounts:   k.disp.CallCounts(),
		Drivers:      k.disp.Drivers(),
		UtilSamples:  k.util.samples(),
		TraceDropped: k.trace.Dropped(),
	})
	k.snapshot.Store(snap)
	k.metrics.SetProcessCounts(snap.Kernel.Loaded, snap.Kernel.Active)
	for d := k.disp.DroppedUpcalls(); k.dropsSeen < d; k.dropsSeen++ {
		k.metrics.RecordUpcallDrop()
	}
}

// lifecycle adapts the kernel for the fault handler. Kernel context
// only.
type lifecycle struct{ k *Kernel }

func (l lifecycle) RestartSlot(slot int) error {
	p, err := l.k.table.Restart(slot)
	if err != nil {
		return err
	}
	l.k.policy.Forget(slot)
	l.k.metrics.RecordRestart()
	l.k.traceEvent(tracing.KindRestart, p, "fault policy")
	return nil
}

func (l lifecycle) StopSlot(slot int) error {
	p, _ := l.k.table.BySlot(slot)
	if err := l.k.table.Stop(slot); err != nil {
		return err
	}
	l.k.policy.Forget(slot)
	l.k.traceEvent(tracing.KindStop, p, "fault policy")
	return nil
}

// utilRing keeps the last utilWindow utilization samples. Order does
// not matter to the stats, so a full ring overwrites in place.
type utilRing struct {
	buf  []float64
	next int
}

func (r *utilRing) add(v float64) {
	if len(r.buf) < utilWindow {
		r.buf = append(r.buf, v)
		return
	}
	r.buf[r.next] = v
	r.next = (r.next + 1) % utilWindow
}

func (r *utilRing) samples() []float64 {
	out := make([]float64, len(r.buf))
	copy(out, r.buf)
	return out
}
