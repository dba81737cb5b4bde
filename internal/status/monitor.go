package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is how often the monitor probes dependencies.
const DefaultInterval = 15 * time.Second

// Check probes one dependency.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Monitor periodically runs checks and moves the machine between READY and
// DEGRADED.
type Monitor struct {
	machine  *Machine
	checks   []Check
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewMonitor creates a monitor. interval <= 0 selects DefaultInterval.
func NewMonitor(m *Machine, interval time.Duration, logger *zap.Logger, checks ...Check) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		machine:  m,
		checks:   checks,
		interval: interval,
		timeout:  3 * time.Second,
		logger:   logger,
	}
}

// Start runs one probe round synchronously, so the machine leaves BOOTING
// before Start returns, then keeps probing in the background.
func (mon *Monitor) Start(ctx context.Context) {
	mon.Probe(ctx)
	ctx, mon.cancel = context.WithCancel(ctx)
	mon.done = make(chan struct{})
	go mon.loop(ctx)
}

// Stop stops the probe loop and waits for it to exit.
func (mon *Monitor) Stop() {
	if mon.cancel != nil {
		mon.cancel()
		<-mon.done
	}
}

func (mon *Monitor) loop(ctx context.Context) {
	defer close(mon.done)
	ticker := time.NewTicker(mon.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mon.Probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Probe runs every check once and applies the result.
func (mon *Monitor) Probe(ctx context.Context) {
	var errs []error
	for _, c := range mon.checks {
		cctx, cancel := context.WithTimeout(ctx, mon.timeout)
		err := c.Probe(cctx)
		cancel()
		if err != nil {
			mon.logger.Warn("health check failed", zap.String("check", c.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
		}
	}

	current := mon.machine.Current()
	if current == Stopping {
		return
	}
	if err := errors.Join(errs...); err != nil {
		if current != Degraded {
			_ = mon.machine.Transition(Degraded, err.Error())
		}
		return
	}
	if current != Ready {
		_ = mon.machine.Transition(Ready, "all checks passed")
	}
}
