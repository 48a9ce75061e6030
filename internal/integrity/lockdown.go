package integrity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// LockState is the lockdown state of the session.
type LockState int

const (
	StateMonitoring LockState = iota
	StateWarned
	StateLocked
	StateTerminating
)

func (s LockState) String() string {
	switch s {
	case StateMonitoring:
		return "monitoring"
	case StateWarned:
		return "warned"
	case StateLocked:
		return "locked"
	case StateTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// LockdownStatus is an immutable copy of the coordinator state.
type LockdownStatus struct {
	State LockState

	// FocusLosses counts focus-loss events up to and including the one that
	// locked the session
	FocusLosses int

	// Remaining is how many more focus losses are tolerated before locking
	Remaining int
}

func (s LockdownStatus) String() string {
	if s.State == StateWarned {
		return fmt.Sprintf("%s(%d)", s.State, s.FocusLosses)
	}
	return s.State.String()
}

// LockdownTransition describes a single change of lockdown state.
type LockdownTransition struct {
	Timestamp time.Time
	From      LockdownStatus
	To        LockdownStatus
}

// CoordinatorConfig holds the escalation policy
type CoordinatorConfig struct {
	// MaxBlurCount is how many focus losses are tolerated with a warning.
	// The next one locks the session.
	MaxBlurCount int

	// TerminateDelay is how long the locked surface stays up before the
	// process is terminated
	TerminateDelay time.Duration

	// Logger for the coordinator
	Logger *slog.Logger
}

// Coordinator owns the lockdown state machine. Focus losses are counted and
// warned about until the allowance is exhausted; the next one locks the
// surface and schedules termination. Nothing unlocks a locked session.
type Coordinator struct {
	maxBlurCount   int
	terminateDelay time.Duration
	logger         *slog.Logger

	surface Surface
	sink    Sink
	process ProcessController
	loop    *Loop

	// Current state, mutated on the loop only and read through Status()
	mu     sync.RWMutex
	status LockdownStatus

	terminateOnce sync.Once
	timerMu       sync.Mutex
	terminateAt   *time.Timer

	subscribersMu sync.RWMutex
	subscribers   []func(LockdownTransition)
}

// NewCoordinator creates the coordinator and subscribes it to the surface's
// focus-loss events.
func NewCoordinator(config CoordinatorConfig, surface Surface, sink Sink, process ProcessController, loop *Loop) (*Coordinator, error) {
	if config.MaxBlurCount < 0 {
		return nil, fmt.Errorf("max blur count %d: %w", config.MaxBlurCount, ErrInvalidThreshold)
	}
	if config.TerminateDelay <= 0 {
		return nil, fmt.Errorf("terminate delay %v: %w", config.TerminateDelay, ErrInvalidThreshold)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	c := &Coordinator{
		maxBlurCount:   config.MaxBlurCount,
		terminateDelay: config.TerminateDelay,
		logger:         config.Logger,
		surface:        surface,
		sink:           sink,
		process:        process,
		loop:           loop,
		status: LockdownStatus{
			State:     StateMonitoring,
			Remaining: config.MaxBlurCount,
		},
	}

	surface.OnFocusLost(func() {
		loop.Post(c.HandleFocusLoss)
	})

	return c, nil
}

func (c *Coordinator) Kind() SignalKind { return SignalFocusLoss }

// Start is a no-op: the coordinator is driven entirely by focus-loss events
func (c *Coordinator) Start(ctx context.Context) {
	c.logger.Info("Focus-loss tracking started", "max_blur_count", c.maxBlurCount)
}

// Stop is a no-op. An armed termination timer keeps running: lockdown
// ends only with the process.
func (c *Coordinator) Stop() {}

// Status returns a copy of the current state (thread-safe)
func (c *Coordinator) Status() LockdownStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Subscribe adds a callback invoked on every state change
func (c *Coordinator) Subscribe(fn func(LockdownTransition)) {
	c.subscribersMu.Lock()
	defer c.subscribersMu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// HandleFocusLoss applies one focus-loss event. It must run on the loop.
func (c *Coordinator) HandleFocusLoss() {
	c.mu.Lock()
	from := c.status
	if from.State == StateLocked || from.State == StateTerminating {
		c.mu.Unlock()
		c.logger.Debug("Ignoring focus loss, session already locked", "state", from.State)
		return
	}

	to := LockdownStatus{
		FocusLosses: from.FocusLosses + 1,
	}
	if to.FocusLosses > c.maxBlurCount {
		to.State = StateLocked
	} else {
		to.State = StateWarned
		to.Remaining = c.maxBlurCount - to.FocusLosses
	}
	c.status = to
	c.mu.Unlock()

	c.notifySubscribers(from, to)

	if to.State == StateWarned {
		c.logger.Warn("Focus lost", "count", to.FocusLosses, "remaining", to.Remaining)
		c.sink.Display(warningMessage(to.Remaining), SeverityWarning)
		return
	}

	c.lock()
}

// lock applies the lock side effects: input suppression, final notice and
// the termination timer.
func (c *Coordinator) lock() {
	c.logger.Warn("Suspicious activity detected, locking application",
		"focus_losses", c.Status().FocusLosses,
		"terminate_in", c.terminateDelay)

	if err := c.surface.SuppressAllInput(); err != nil {
		c.logger.Error("Failed to suppress input on locked surface", "error", err)
	}

	c.sink.Display(lockMessage(c.terminateDelay), SeverityError)

	c.timerMu.Lock()
	c.terminateAt = time.AfterFunc(c.terminateDelay, func() {
		// Terminate even if the loop has already been shut down
		if !c.loop.Post(c.terminate) {
			c.terminate()
		}
	})
	c.timerMu.Unlock()
}

// terminate moves to Terminating and asks the process to exit, exactly once
func (c *Coordinator) terminate() {
	c.terminateOnce.Do(func() {
		c.mu.Lock()
		from := c.status
		to := from
		to.State = StateTerminating
		c.status = to
		c.mu.Unlock()

		c.notifySubscribers(from, to)

		c.logger.Warn("Application quitting due to suspicious activity")
		c.process.TerminateProcess()
	})
}

// notifySubscribers calls all registered callbacks with the transition
func (c *Coordinator) notifySubscribers(from, to LockdownStatus) {
	c.subscribersMu.RLock()
	subscribers := make([]func(LockdownTransition), len(c.subscribers))
	copy(subscribers, c.subscribers)
	c.subscribersMu.RUnlock()

	t := LockdownTransition{Timestamp: time.Now(), From: from, To: to}
	for _, sub := range subscribers {
		sub(t)
	}
}

func warningMessage(remaining int) string {
	return fmt.Sprintf("You moved out of the application. You can do this %d more time(s) before the app locks.", remaining)
}

func lockMessage(delay time.Duration) string {
	return fmt.Sprintf("⚠️ Suspicious Activity Detected! The application is locked and will close automatically in %s.", formatDelay(delay))
}

// formatDelay renders whole-second delays as "10 seconds" and anything else
// with time.Duration formatting
func formatDelay(d time.Duration) string {
	if d%time.Second != 0 {
		return d.String()
	}
	secs := int(d / time.Second)
	if secs == 1 {
		return "1 second"
	}
	return fmt.Sprintf("%d seconds", secs)
}
