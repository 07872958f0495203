package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"qrbatch/internal/logging"
)

type shutdownPhase struct {
	name    string
	timeout time.Duration
	stop    func(context.Context) error
}

// shutdownCoordinator runs teardown phases in order, once. Each phase
// gets its own deadline so a slow phase cannot starve the next one.
type shutdownCoordinator struct {
	logger *logging.Logger
	once   sync.Once
	phases []shutdownPhase
}

func newShutdownCoordinator(logger *logging.Logger) *shutdownCoordinator {
	return &shutdownCoordinator{logger: logger}
}

func (c *shutdownCoordinator) Add(name string, timeout time.Duration, stop func(context.Context) error) {
	if c == nil || stop == nil {
		return
	}
	c.phases = append(c.phases, shutdownPhase{name: name, timeout: timeout, stop: stop})
}

func (c *shutdownCoordinator) Run(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var runErr error
	c.once.Do(func() {
		for _, phase := range c.phases {
			c.logger.Info("shutdown phase starting", map[string]string{"phase": phase.name})
			if err := runPhase(ctx, phase); err != nil {
				runErr = errors.Join(runErr, err)
				c.logger.Warn("shutdown phase failed", map[string]string{
					"phase": phase.name,
					"error": err.Error(),
				})
			}
		}
	})
	return runErr
}

func runPhase(ctx context.Context, phase shutdownPhase) error {
	if phase.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, phase.timeout)
		defer cancel()
	}
	return phase.stop(ctx)
}
