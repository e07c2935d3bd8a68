package kernel

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/emberworks/emberos/internal/infrastructure/tracing"
	"github.com/emberworks/emberos/internal/loader"
	"github.com/emberworks/emberos/internal/process"
)

// control runs op in kernel context: directly during board assembly,
// through Do once the loop is live.
func (k *Kernel) control(op func()) error {
	if k.running.Load() {
		return k.Do(op)
	}
	op()
	k.publish()
	return nil
}

// Install writes an image into the lowest free slot's flash window and
// loads it.
func (k *Kernel) Install(img []byte, opts InstallOptions) (process.ID, error) {
	var (
		id  process.ID
		err error
	)
	if cerr := k.control(func() { id, err = k.install(img, opts) }); cerr != nil {
		return process.ID{}, cerr
	}
	return id, err
}

func (k *Kernel) install(img []byte, opts InstallOptions) (process.ID, error) {
	h, err := loader.ParseImage(img)
	if err != nil {
		return process.ID{}, err
	}
	slot, ok := k.table.FreeSlot()
	if !ok {
		return process.ID{}, process.ErrNoFreeSlot
	}
	regions := k.plan[slot]
	if uint64(len(img)) > uint64(regions.Flash.Size) {
		return process.ID{}, fmt.Errorf("image is %d bytes, slot %d flash window holds %d: %w",
			len(img), slot, regions.Flash.Size, process.ErrRegionTooSmall)
	}
	if err := k.phys.WriteBytes(regions.Flash.Start, img); err != nil {
		return process.ID{}, fmt.Errorf("write image: %w", err)
	}

	p, err := k.table.Load(process.LoadSpec{
		Header:      h,
		Flash:       regions.Flash,
		RAM:         regions.RAM,
		Policy:      opts.Policy,
		Priority:    opts.Priority,
		QueueCap:    opts.QueueCap,
		StackMargin: opts.StackMargin,
	})
	if err != nil {
		return process.ID{}, err
	}
	k.policy.Forget(slot)
	k.faults.Reset(slot)
	k.traceEvent(tracing.KindInstall, p, fmt.Sprintf("%d bytes", len(img)))
	k.log.Info("process installed",
		zap.String("pid", p.ID().String()),
		zap.String("name", p.Name()),
		zap.Int("slot", slot),
		zap.String("policy", p.Policy().String()))
	return p.ID(), nil
}

// StartProcess makes a stopped process runnable again under a fresh
// generation. An unstarted process is already pending its first slice,
// so starting it changes nothing.
func (k *Kernel) StartProcess(id process.ID) (process.ID, error) {
	var (
		out process.ID
		err error
	)
	if cerr := k.control(func() { out, err = k.startProcess(id) }); cerr != nil {
		return process.ID{}, cerr
	}
	return out, err
}

func (k *Kernel) startProcess(id process.ID) (process.ID, error) {
	p, ok := k.table.Lookup(id)
	if !ok {
		return process.ID{}, process.ErrNotFound
	}
	switch p.State() {
	case process.StateUnstarted:
		return p.ID(), nil
	case process.StateStopped:
		return k.revive(id.Slot, "operator start")
	default:
		return p.ID(), fmt.Errorf("process %s is %s", id, p.State())
	}
}

// StopProcess takes the process off the schedulable set until an
// operator start. Stopping a stopped process is a no-op.
func (k *Kernel) StopProcess(id process.ID) error {
	var err error
	if cerr := k.control(func() { err = k.stopProcess(id) }); cerr != nil {
		return cerr
	}
	return err
}

func (k *Kernel) stopProcess(id process.ID) error {
	p, ok := k.table.Lookup(id)
	if !ok {
		return process.ErrNotFound
	}
	if p.State() == process.StateStopped {
		return nil
	}
	if err := k.table.Stop(id.Slot); err != nil {
		return err
	}
	k.policy.Forget(id.Slot)
	k.traceEvent(tracing.KindStop, p, "operator stop")
	k.log.Info("process stopped", zap.String("pid", id.String()), zap.String("name", p.Name()))
	return nil
}

// RestartProcess reloads the process from its image regardless of
// state. The old handle goes stale; the new one is returned.
func (k *Kernel) RestartProcess(id process.ID) (process.ID, error) {
	var (
		out process.ID
		err error
	)
	if cerr := k.control(func() { out, err = k.restartProcess(id) }); cerr != nil {
		return process.ID{}, cerr
	}
	return out, err
}

func (k *Kernel) restartProcess(id process.ID) (process.ID, error) {
	if _, ok := k.table.Lookup(id); !ok {
		return process.ID{}, process.ErrNotFound
	}
	return k.revive(id.Slot, "operator restart")
}

// revive reloads a slot and clears its scheduling and fault history.
// Operator intervention resets the restart breaker; fault-driven
// restarts do not come through here.
func (k *Kernel) revive(slot int, reason string) (process.ID, error) {
	p, err := k.table.Restart(slot)
	if err != nil {
		return process.ID{}, err
	}
	k.policy.Forget(slot)
	k.faults.Reset(slot)
	k.metrics.RecordRestart()
	k.traceEvent(tracing.KindRestart, p, reason)
	k.log.Info("process restarted",
		zap.String("pid", p.ID().String()),
		zap.String("name", p.Name()),
		zap.String("reason", reason))
	return p.ID(), nil
}

// UninstallProcess vacates the slot entirely. The slot's generation
// history survives, so handles from the removed occupant stay dead.
func (k *Kernel) UninstallProcess(id process.ID) error {
	var err error
	if cerr := k.control(func() { err = k.uninstallProcess(id) }); cerr != nil {
		return cerr
	}
	return err
}

func (k *Kernel) uninstallProcess(id process.ID) error {
	p, ok := k.table.Lookup(id)
	if !ok {
		return process.ErrNotFound
	}
	if err := k.table.Remove(id.Slot); err != nil {
		return err
	}
	k.policy.Forget(id.Slot)
	k.faults.Reset(id.Slot)
	k.traceEvent(tracing.KindUninstall, p, "")
	k.log.Info("process uninstalled", zap.String("pid", id.String()), zap.String("name", p.Name()))
	return nil
}
