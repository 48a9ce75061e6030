// Package process ends the running application on behalf of the lockdown.
package process

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"go.olrik.dev/invigilator/internal/integrity"
)

// ExitCodeLockdown is the exit status of a session ended by lockdown
const ExitCodeLockdown = 3

// Controller implements integrity.ProcessController. It asks the process to
// shut down with SIGTERM so that deferred cleanup runs, and exits forcibly
// if shutdown takes longer than the grace period.
type Controller struct {
	grace  time.Duration
	logger *slog.Logger

	signal func() error
	exit   func(code int)

	once       sync.Once
	terminated chan struct{}
}

var _ integrity.ProcessController = (*Controller)(nil)

// New creates a controller with the given grace period
func New(grace time.Duration, logger *slog.Logger) *Controller {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		grace:      grace,
		logger:     logger,
		signal:     signalSelf,
		exit:       os.Exit,
		terminated: make(chan struct{}),
	}
}

// TerminateProcess requests shutdown. Only the first call has any effect.
func (c *Controller) TerminateProcess() {
	c.once.Do(func() {
		close(c.terminated)

		if err := c.signal(); err != nil {
			c.logger.Warn("Failed to signal self, exiting immediately", "error", err)
			c.exit(ExitCodeLockdown)
			return
		}

		c.logger.Info("Termination requested", "grace", c.grace)
		time.AfterFunc(c.grace, func() {
			c.logger.Error("Shutdown took too long, forcing exit")
			c.exit(ExitCodeLockdown)
		})
	})
}

// Terminated is closed once termination has been requested
func (c *Controller) Terminated() <-chan struct{} {
	return c.terminated
}
