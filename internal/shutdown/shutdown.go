// Package shutdown implements the Shutdown Controller (SPEC_FULL.md §4.9):
// the RUNNING -> STOP_REQUESTED -> STOPPING -> STOPPED sequence driven by OS
// signals, an external Stop() call, or the scheduler's own exhaustion of
// work, plus the 5s forced-cancellation timer that wins over whatever the
// scheduler is waiting on.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lamweiwei/bardrifter/internal/domain"
	"github.com/sirupsen/logrus"
)

// ForceTimeout is the wall-clock budget given to a graceful shutdown before
// the Controller cancels the root context outright (SPEC_FULL.md §4.9 and
// DESIGN.md's resolution of the open question against the 60s per-date
// timeout: the forced-stop timer is armed independently and wins). A var,
// not a const, so tests can shrink it rather than sleep for the real value.
var ForceTimeout = 5 * time.Second

// Controller owns the shutdown state machine, the forced-cancellation
// timer, and the OS signal subscription.
type Controller struct {
	machine *domain.ShutdownStateMachine
	logger  *logrus.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	forceCh  chan struct{}
	timer    *time.Timer
	exitCode int
}

// New returns a Controller bound to ctx, together with a child of ctx
// that is cancelled either gracefully (after the scheduler drains) or
// forcibly (ForceTimeout after a stop request).
func New(ctx context.Context, logger *logrus.Logger) (*Controller, context.Context) {
	child, cancel := context.WithCancel(ctx)
	c := &Controller{
		machine: domain.NewShutdownStateMachine(),
		logger:  logger,
		cancel:  cancel,
		forceCh: make(chan struct{}),
	}
	return c, child
}

// ListenForSignals spawns a goroutine that triggers Stop on SIGINT/SIGTERM,
// matching the teacher's cmd/bot/main.go signal-handling goroutine. The
// returned stop func releases the signal subscription.
func (c *Controller) ListenForSignals() (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			if c.logger != nil {
				c.logger.WithField("signal", sig.String()).Info("shutdown: signal received")
			}
			c.Stop("signal: " + sig.String())
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// Stop requests a graceful shutdown, arming the forced-cancellation timer.
// Safe to call more than once or from more than one goroutine; only the
// first call has effect.
func (c *Controller) Stop(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.machine.State() != domain.ShutdownRunning {
		return // a stop was already requested; its timer is already armed
	}
	if err := c.machine.Transition(domain.ShutdownStopRequested); err != nil {
		return // already past STOP_REQUESTED; nothing new to arm
	}
	if c.logger != nil {
		c.logger.WithField("reason", reason).Info("shutdown: stop requested")
	}
	c.timer = time.AfterFunc(ForceTimeout, func() {
		if c.logger != nil {
			c.logger.Warn("shutdown: forced-cancellation timer fired, cancelling in-flight work")
		}
		c.mu.Lock()
		c.exitCode = 1
		c.mu.Unlock()
		c.cancel()
		close(c.forceCh)
	})
}

// Stopping reports whether a stop has been requested: the scheduler checks
// this between dates to begin its own graceful wind-down.
func (c *Controller) Stopping() bool {
	return c.machine.State() != domain.ShutdownRunning
}

// Done reports whether the forced-cancellation timer has fired.
func (c *Controller) Done() <-chan struct{} {
	return c.forceCh
}

// FinishGraceful transitions STOPPING -> STOPPED once the scheduler has
// drained its work cleanly, stopping the forced timer so Done never fires
// and canceling the context so no other goroutine is left waiting.
func (c *Controller) FinishGraceful() {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.machine.Transition(domain.ShutdownStopping)
	_ = c.machine.Transition(domain.ShutdownStopped)
	if c.timer != nil {
		c.timer.Stop()
	}
	c.cancel()
}

// ExitCode returns 0 for a normal or graceful shutdown, 1 if the forced
// timer fired (SPEC_FULL.md §7 exit-code semantics).
func (c *Controller) ExitCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode
}

// State exposes the current lifecycle state for the dashboard/exit summary.
func (c *Controller) State() domain.ShutdownState {
	return c.machine.State()
}
