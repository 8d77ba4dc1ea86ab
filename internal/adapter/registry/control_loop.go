package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/qapish/labman/internal/core/domain"
	"github.com/qapish/labman/internal/logger"
)

const DefaultControlLoopInterval = 30 * time.Second

// ControlLoop periodically drives the registry's health probe and model
// discovery. It is the sole writer of health and model state; index rebuilds
// happen inside DiscoverModels.
type ControlLoop struct {
	registry *EndpointRegistry
	logger   *slog.Logger
	interval time.Duration
}

func NewControlLoop(reg *EndpointRegistry, interval time.Duration, log *slog.Logger) *ControlLoop {
	if interval <= 0 {
		interval = DefaultControlLoopInterval
	}
	return &ControlLoop{
		registry: reg,
		logger:   log.With(logger.ComponentKey, "control_loop"),
		interval: interval,
	}
}

// RunOnce performs a single synchronous health plus discovery pass. Called
// at startup before the proxy accepts traffic so the first requests see a
// populated index.
func (c *ControlLoop) RunOnce(ctx context.Context) {
	healthy := c.registry.HealthCheckAll(ctx)
	c.registry.DiscoverModels(ctx)
	caps := c.registry.ToNodeCapabilities()
	c.logger.Info("endpoint pass complete",
		"healthy", healthy,
		"total", c.registry.Len(),
		"models", caps.ModelCount())
}

// Run ticks until ctx is cancelled. Errors inside a pass are absorbed and
// logged so the loop never stops on its own; a panic terminates the loop
// and is returned so the caller can trigger a coordinated shutdown.
func (c *ControlLoop) Run(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("control loop panicked", "panic", fmt.Sprintf("%v", rec))
			err = domain.NewErrorf(domain.ErrKindInternal, "control loop panicked: %v", rec)
		}
	}()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("control loop started", "interval", c.interval.String())

	for {
		select {
		case <-ticker.C:
			c.tick(ctx)
		case <-ctx.Done():
			c.logger.Info("control loop stopped")
			return nil
		}
	}
}

func (c *ControlLoop) tick(ctx context.Context) {
	c.registry.HealthCheckAll(ctx)
	c.registry.DiscoverModels(ctx)
}
