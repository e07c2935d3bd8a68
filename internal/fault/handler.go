package fault

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/emberworks/emberos/internal/logging"
)

// Lifecycle is what the handler needs from the process table: whole-
// process recovery by slot, nothing finer.
type Lifecycle interface {
	RestartSlot(slot int) error
	StopSlot(slot int) error
}

// Outcome reports what the handler did with the faulting process.
type Outcome uint8

const (
	OutcomeStopped Outcome = iota
	OutcomeRestarted
	OutcomePanic
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStopped:
		return "stopped"
	case OutcomeRestarted:
		return "restarted"
	case OutcomePanic:
		return "panic"
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

// BreakerConfig bounds restart storms per slot.
type BreakerConfig struct {
	// MaxRestarts within Interval before the breaker opens.
	MaxRestarts uint32
	Interval    time.Duration
	Cooldown    time.Duration
}

// DefaultBreakerConfig allows a handful of restarts before degrading.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxRestarts: 5, Interval: 10 * time.Second, Cooldown: 30 * time.Second}
}

// restartCounted is how a completed restart is reported to the breaker:
// counting restarts as failures makes the trip threshold a restart-rate
// bound rather than an error-rate bound.
var restartCounted = errors.New("restart counted")

// Handler applies fault policies. One breaker per slot; a slot whose
// breaker is open has its Restart policy degraded to Stop until the
// cooldown passes.
type Handler struct {
	lc       Lifecycle
	log      *logging.Logger
	cfg      BreakerConfig
	breakers map[int]*gobreaker.CircuitBreaker
}

// NewHandler builds a handler over the process lifecycle.
func NewHandler(lc Lifecycle, cfg BreakerConfig, log *logging.Logger) *Handler {
	if cfg.MaxRestarts == 0 {
		cfg = DefaultBreakerConfig()
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Handler{
		lc:       lc,
		log:      log,
		cfg:      cfg,
		breakers: make(map[int]*gobreaker.CircuitBreaker),
	}
}

func (h *Handler) breaker(slot int) *gobreaker.CircuitBreaker {
	if cb, ok := h.breakers[slot]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     fmt.Sprintf("restart-slot-%d", slot),
		Interval: h.cfg.Interval,
		Timeout:  h.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= h.cfg.MaxRestarts
		},
	})
	h.breakers[slot] = cb
	return cb
}

// Handle applies the process's policy to the fault. It returns what
// happened; OutcomePanic means the board must halt and the lifecycle
// was not touched.
func (h *Handler) Handle(slot int, name string, pol Policy, f Fault) (Outcome, error) {
	log := h.log.WithFields(
		zap.Int("slot", slot),
		zap.String("process", name),
		zap.String("fault", f.String()),
	)

	switch pol {
	case PolicyPanic:
		log.Error("fault in kernel-critical process, halting board")
		return OutcomePanic, nil

	case PolicyRestart:
		_, err := h.breaker(slot).Execute(func() (interface{}, error) {
			if rerr := h.lc.RestartSlot(slot); rerr != nil {
				return nil, rerr
			}
			return nil, restartCounted
		})
		switch {
		case errors.Is(err, restartCounted):
			log.Warn("process faulted, restarted")
			return OutcomeRestarted, nil
		case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
			log.Error("restart storm, degrading policy to stop")
			if serr := h.lc.StopSlot(slot); serr != nil {
				return OutcomeStopped, fmt.Errorf("stop after storm: %w", serr)
			}
			return OutcomeStopped, nil
		default:
			log.Error("restart failed, stopping process", zap.Error(err))
			if serr := h.lc.StopSlot(slot); serr != nil {
				return OutcomeStopped, fmt.Errorf("stop after failed restart: %w", serr)
			}
			return OutcomeStopped, fmt.Errorf("restart slot %d: %w", slot, err)
		}

	default: // PolicyStop
		log.Warn("process faulted, stopping")
		if err := h.lc.StopSlot(slot); err != nil {
			return OutcomeStopped, fmt.Errorf("stop slot %d: %w", slot, err)
		}
		return OutcomeStopped, nil
	}
}

// Reset clears the slot's breaker. Called when a process is replaced
// by a fresh image so the new occupant starts with a clean record.
func (h *Handler) Reset(slot int) {
	delete(h.breakers, slot)
}
