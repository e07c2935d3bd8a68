package board

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/emberworks/emberos/internal/capsules/alarm"
	"github.com/emberworks/emberos/internal/capsules/console"
	"github.com/emberworks/emberos/internal/capsules/rng"
	"github.com/emberworks/emberos/internal/fault"
	"github.com/emberworks/emberos/internal/infrastructure/monitoring"
	"github.com/emberworks/emberos/internal/infrastructure/tracing"
	"github.com/emberworks/emberos/internal/kernel"
	"github.com/emberworks/emberos/internal/loader"
	"github.com/emberworks/emberos/internal/logging"
	"github.com/emberworks/emberos/internal/memory"
	"github.com/emberworks/emberos/internal/process"
	"github.com/emberworks/emberos/internal/sched"
)

// Physical bank bases. Flash and RAM sizes come from the board file.
const (
	FlashBase = memory.Addr(0x0010_0000)
	RAMBase   = memory.Addr(0x2000_0000)
)

// Deps are the services the assembler wires into the kernel. Every
// field is optional.
type Deps struct {
	Log     *logging.Logger
	Metrics *monitoring.Metrics
	Trace   *tracing.Hub
	// Sink receives application console output.
	Sink console.Sink
	// ImageDirs are searched for bare image names.
	ImageDirs []string
	Fetcher   *loader.Fetcher
}

// Board is an assembled system, ready for Kernel.Run.
type Board struct {
	Config    *Config
	Kernel    *kernel.Kernel
	Installed []process.ID
}

// Assemble builds the memory banks, slot plan, scheduler, and capsule
// set for cfg and installs its applications. A nil cfg assembles the
// built-in demo board.
func Assemble(ctx context.Context, cfg *Config, deps Deps) (*Board, error) {
	if cfg == nil {
		cfg = Demo()
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	flashBank, err := memory.NewBank("flash", FlashBase, cfg.Memory.FlashKiB*1024)
	if err != nil {
		return nil, err
	}
	ramBank, err := memory.NewBank("sram", RAMBase, cfg.Memory.RAMKiB*1024)
	if err != nil {
		return nil, err
	}
	phys, err := memory.NewPhysical(flashBank, ramBank)
	if err != nil {
		return nil, err
	}

	plan := slotPlan(cfg)

	var policy sched.Policy
	switch cfg.Kernel.Policy {
	case PolicyPriority:
		policy = sched.NewPriorityTimeslice(cfg.Kernel.Timeslice, cfg.Kernel.MaxSkips)
	default:
		policy = sched.NewRoundRobin(cfg.Kernel.Timeslice)
	}

	k, err := kernel.New(kernel.Options{
		Phys:      phys,
		Plan:      plan,
		Policy:    policy,
		Timeslice: cfg.Kernel.Timeslice,
		Metrics:   deps.Metrics,
		Trace:     deps.Trace,
		Log:       deps.Log,
	})
	if err != nil {
		return nil, err
	}

	if err := k.RegisterDriver(alarm.New()); err != nil {
		return nil, err
	}
	if err := k.RegisterDriver(console.New(deps.Sink)); err != nil {
		return nil, err
	}
	if err := k.RegisterDriver(rng.New(cfg.Kernel.Seed)); err != nil {
		return nil, err
	}

	b := &Board{Config: cfg, Kernel: k}
	for i, app := range cfg.Apps {
		// Installation order matches slot order on an empty table, so
		// app i lands in slot i and builtin images can be assembled
		// against that slot's windows.
		img, manifest, err := resolveImage(ctx, app, plan[i], deps)
		if err != nil {
			return nil, fmt.Errorf("app %q: %w", app.Image, err)
		}
		opts, err := installOptions(cfg, app, manifest)
		if err != nil {
			return nil, fmt.Errorf("app %q: %w", app.Image, err)
		}
		id, err := k.Install(img, opts)
		if err != nil {
			return nil, fmt.Errorf("app %q: %w", app.Image, err)
		}
		b.Installed = append(b.Installed, id)
	}
	return b, nil
}

// slotPlan divides the banks into equal per-slot windows. Flash
// windows keep 64-byte alignment for the image header, RAM windows
// word alignment.
func slotPlan(cfg *Config) []kernel.SlotRegions {
	slots := cfg.Kernel.Slots
	slotFlash := (cfg.Memory.FlashKiB * 1024 / uint32(slots)) &^ 0x3f
	slotRAM := (cfg.Memory.RAMKiB * 1024 / uint32(slots)) &^ 0x7

	plan := make([]kernel.SlotRegions, slots)
	for i := range plan {
		plan[i] = kernel.SlotRegions{
			Flash: memory.Region{Start: FlashBase + memory.Addr(uint32(i)*slotFlash), Size: slotFlash},
			RAM:   memory.Region{Start: RAMBase + memory.Addr(uint32(i)*slotRAM), Size: slotRAM},
		}
	}
	return plan
}

// resolveImage turns an app's image reference into bytes plus whatever
// manifest traveled with them.
func resolveImage(ctx context.Context, app AppConfig, regions kernel.SlotRegions, deps Deps) ([]byte, loader.Manifest, error) {
	ref := app.Image
	switch {
	case strings.HasPrefix(ref, builtinPrefix):
		img, err := demoImage(strings.TrimPrefix(ref, builtinPrefix), regions)
		return img, loader.Manifest{}, err

	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		fetcher := deps.Fetcher
		if fetcher == nil {
			fetcher = loader.NewFetcher(deps.Log)
		}
		raw, err := fetcher.Fetch(ctx, ref)
		if err != nil {
			return nil, loader.Manifest{}, err
		}
		return openImage(raw)

	default:
		path, err := loader.Resolve(ref, deps.ImageDirs)
		if err != nil {
			return nil, loader.Manifest{}, err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, loader.Manifest{}, err
		}
		return openImage(raw)
	}
}

func openImage(raw []byte) ([]byte, loader.Manifest, error) {
	bundle, err := loader.Open(raw)
	if err != nil {
		return nil, loader.Manifest{}, err
	}
	return bundle.Image, bundle.Manifest, nil
}

// installOptions merges per-app board settings over the bundle
// manifest. The fault policy defaults to stop; panic must be asked for
// explicitly.
func installOptions(cfg *Config, app AppConfig, manifest loader.Manifest) (kernel.InstallOptions, error) {
	policyName := app.Policy
	if policyName == "" {
		policyName = manifest.Policy
	}
	policy := fault.PolicyStop
	if policyName != "" {
		var err error
		if policy, err = fault.ParsePolicy(policyName); err != nil {
			return kernel.InstallOptions{}, err
		}
	}
	priority := app.Priority
	if priority == 0 {
		priority = manifest.Priority
	}
	return kernel.InstallOptions{
		Policy:      policy,
		Priority:    priority,
		QueueCap:    cfg.Kernel.QueueCap,
		StackMargin: cfg.Kernel.StackMargin,
	}, nil
}
