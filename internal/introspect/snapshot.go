package introspect

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/emberworks/emberos/internal/abi"
	"github.com/emberworks/emberos/internal/grant"
	"github.com/emberworks/emberos/internal/memory"
	"github.com/emberworks/emberos/internal/process"
	"github.com/emberworks/emberos/internal/syscall"
	"github.com/emberworks/emberos/internal/upcall"
)

// Input is everything the kernel hands over for one snapshot. All of
// it must be read in kernel context; the resulting Snapshot may leave.
type Input struct {
	Clock        uint64
	PolicyName   string
	Timeslice    uint64
	Table        *process.Table
	Unit         *memory.Unit
	CallCounts   map[abi.Class]uint64
	Drivers      []syscall.Driver
	UtilSamples  []float64
	TraceDropped uint64
}

// Snapshot is a point-in-time view of the whole kernel.
type Snapshot struct {
	Kernel    KernelInfo    `json:"kernel"`
	Processes []ProcessInfo `json:"processes"`
	Drivers   []DriverInfo  `json:"drivers"`
}

// KernelInfo covers board-wide counters and scheduler settings.
type KernelInfo struct {
	Clock        uint64            `json:"clock"`
	Policy       string            `json:"policy"`
	Timeslice    uint64            `json:"timeslice"`
	Slots        int               `json:"slots"`
	Loaded       int               `json:"loaded"`
	Active       int               `json:"active"`
	Loads        uint64            `json:"loads"`
	LoadFailures uint64            `json:"load_failures"`
	MPUSwitches  uint64            `json:"mpu_switches"`
	MPURefusals  uint64            `json:"mpu_refusals"`
	TraceDropped uint64            `json:"trace_dropped"`
	CallCounts   map[string]uint64 `json:"syscalls"`
	Util         UtilStats         `json:"slice_utilization"`
}

// UtilStats summarizes how much of each timeslice processes consumed.
type UtilStats struct {
	Samples int     `json:"samples"`
	Mean    float64 `json:"mean"`
	Stddev  float64 `json:"stddev"`
	P50     float64 `json:"p50"`
	P90     float64 `json:"p90"`
	P99     float64 `json:"p99"`
}

// RegionInfo describes one memory range in printable form.
type RegionInfo struct {
	Start string `json:"start"`
	Size  uint32 `json:"size"`
}

// QueueInfo describes one process upcall queue.
type QueueInfo struct {
	Len   int          `json:"len"`
	Cap   int          `json:"cap"`
	Stats upcall.Stats `json:"stats"`
}

// ProcessInfo is the per-process view.
type ProcessInfo struct {
	Pid         string           `json:"pid"`
	Slot        int              `json:"slot"`
	Name        string           `json:"name"`
	State       string           `json:"state"`
	Priority    int              `json:"priority"`
	FaultPolicy string           `json:"fault_policy"`
	Completion  *uint32          `json:"completion,omitempty"`
	Counters    process.Counters `json:"counters"`
	Queue       QueueInfo        `json:"upcall_queue"`
	Grants      []grant.Grant    `json:"grants"`
	Flash       RegionInfo       `json:"flash"`
	RAM         RegionInfo       `json:"ram"`
	GrantBreak  string           `json:"grant_break"`
}

// DriverInfo names one registered driver.
type DriverInfo struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"`
}

// Build copies kernel state into a Snapshot. Call from kernel context.
func Build(in Input) Snapshot {
	procs := in.Table.Processes()

	snap := Snapshot{
		Kernel: KernelInfo{
			Clock:        in.Clock,
			Policy:       in.PolicyName,
			Timeslice:    in.Timeslice,
			Slots:        in.Table.Cap(),
			Loaded:       len(procs),
			Loads:        in.Table.Loads(),
			LoadFailures: in.Table.LoadFailures(),
			MPUSwitches:  in.Unit.Switches(),
			MPURefusals:  in.Unit.Refusals(),
			TraceDropped: in.TraceDropped,
			CallCounts:   make(map[string]uint64, len(in.CallCounts)),
			Util:         utilStats(in.UtilSamples),
		},
		Processes: make([]ProcessInfo, 0, len(procs)),
		Drivers:   make([]DriverInfo, 0, len(in.Drivers)),
	}

	for class, n := range in.CallCounts {
		snap.Kernel.CallCounts[class.String()] = n
	}

	for _, p := range procs {
		if p.Schedulable() {
			snap.Kernel.Active++
		}
		snap.Processes = append(snap.Processes, processInfo(p))
	}

	for _, d := range in.Drivers {
		snap.Drivers = append(snap.Drivers, DriverInfo{ID: d.ID(), Name: d.Name()})
	}

	return snap
}

func processInfo(p *process.Process) ProcessInfo {
	layout := p.Layout()
	q := p.Upcalls()

	pi := ProcessInfo{
		Pid:         p.ID().String(),
		Slot:        p.ID().Slot,
		Name:        p.Name(),
		State:       p.State().String(),
		Priority:    p.Priority(),
		FaultPolicy: p.Policy().String(),
		Counters:    p.Counters(),
		Queue:       QueueInfo{Len: q.Len(), Cap: q.Cap(), Stats: q.Stats()},
		Grants:      p.Grants().Grants(),
		Flash:       regionInfo(layout.Flash),
		RAM:         regionInfo(layout.RAM),
		GrantBreak:  layout.GrantBreak().String(),
	}
	if code, ok := p.Completion(); ok {
		pi.Completion = &code
	}
	return pi
}

func regionInfo(r memory.Region) RegionInfo {
	return RegionInfo{Start: r.Start.String(), Size: r.Size}
}

// utilStats works on a private sorted copy. Stddev needs two samples;
// a NaN here would poison JSON encoding downstream.
func utilStats(samples []float64) UtilStats {
	us := UtilStats{Samples: len(samples)}
	if len(samples) == 0 {
		return us
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	us.Mean = stat.Mean(sorted, nil)
	if len(sorted) > 1 {
		us.Stddev = stat.StdDev(sorted, nil)
	}
	us.P50 = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	us.P90 = stat.Quantile(0.9, stat.Empirical, sorted, nil)
	us.P99 = stat.Quantile(0.99, stat.Empirical, sorted, nil)
	return us
}
