package board

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/emberworks/emberos/internal/fault"
)

// Config is one board description.
type Config struct {
	Name   string       `toml:"name" yaml:"name"`
	Memory MemoryConfig `toml:"memory" yaml:"memory"`
	Kernel KernelConfig `toml:"kernel" yaml:"kernel"`
	Apps   []AppConfig  `toml:"apps" yaml:"apps"`
}

// MemoryConfig sizes the two physical banks.
type MemoryConfig struct {
	FlashKiB uint32 `toml:"flash_kib" yaml:"flash_kib"`
	RAMKiB   uint32 `toml:"ram_kib" yaml:"ram_kib"`
}

// KernelConfig sets scheduling and bookkeeping parameters.
type KernelConfig struct {
	Slots     int    `toml:"slots" yaml:"slots"`
	Timeslice uint64 `toml:"timeslice" yaml:"timeslice"`
	// Policy is round_robin or priority.
	Policy   string `toml:"policy" yaml:"policy"`
	MaxSkips int    `toml:"max_skips" yaml:"max_skips"`
	// QueueCap bounds each process upcall queue; zero takes the
	// default.
	QueueCap    int    `toml:"queue_cap" yaml:"queue_cap"`
	StackMargin uint32 `toml:"stack_margin" yaml:"stack_margin"`
	// Seed drives the rng capsule, so a board replays exactly.
	Seed uint64 `toml:"seed" yaml:"seed"`
}

// AppConfig describes one application to install at boot.
type AppConfig struct {
	// Image is a file path, a bare name looked up in the image
	// directories, an https:// URL, or a builtin: demo name.
	Image    string `toml:"image" yaml:"image"`
	Priority int    `toml:"priority" yaml:"priority"`
	// Policy is the fault policy: stop, restart, or panic. Empty takes
	// the bundle manifest's policy, then stop.
	Policy string `toml:"policy" yaml:"policy"`
}

const (
	PolicyRoundRobin = "round_robin"
	PolicyPriority   = "priority"
)

// LoadConfig reads a board file, picking the codec by extension.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("board file: %w", err)
	}
	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("board file %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("board file %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("board file %s: unknown extension %q", path, ext)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("board file %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "ember"
	}
	if c.Memory.FlashKiB == 0 {
		c.Memory.FlashKiB = 256
	}
	if c.Memory.RAMKiB == 0 {
		c.Memory.RAMKiB = 64
	}
	if c.Kernel.Slots == 0 {
		c.Kernel.Slots = 4
	}
	if c.Kernel.Timeslice == 0 {
		c.Kernel.Timeslice = 500
	}
	if c.Kernel.Policy == "" {
		c.Kernel.Policy = PolicyRoundRobin
	}
	if c.Kernel.Seed == 0 {
		c.Kernel.Seed = 1
	}
}

// Validate rejects descriptions the assembler cannot honor.
func (c *Config) Validate() error {
	if c.Kernel.Slots < 1 {
		return fmt.Errorf("kernel.slots = %d", c.Kernel.Slots)
	}
	if c.Kernel.Policy != PolicyRoundRobin && c.Kernel.Policy != PolicyPriority {
		return fmt.Errorf("kernel.policy = %q", c.Kernel.Policy)
	}
	if len(c.Apps) > c.Kernel.Slots {
		return fmt.Errorf("%d apps for %d slots", len(c.Apps), c.Kernel.Slots)
	}
	flash := c.Memory.FlashKiB * 1024
	ram := c.Memory.RAMKiB * 1024
	if flash/uint32(c.Kernel.Slots) < 1024 {
		return fmt.Errorf("flash %d KiB too small for %d slots", c.Memory.FlashKiB, c.Kernel.Slots)
	}
	if ram/uint32(c.Kernel.Slots) < 1024 {
		return fmt.Errorf("ram %d KiB too small for %d slots", c.Memory.RAMKiB, c.Kernel.Slots)
	}
	for i, app := range c.Apps {
		if app.Image == "" {
			return fmt.Errorf("apps[%d]: no image", i)
		}
		if app.Policy != "" {
			if _, err := fault.ParsePolicy(app.Policy); err != nil {
				return fmt.Errorf("apps[%d]: %w", i, err)
			}
		}
	}
	return nil
}
