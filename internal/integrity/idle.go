package integrity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const idleMessage = "⏳ You have been idle for too long!"

// IdleDetector counts seconds without user input and warns once the
// threshold is reached, then starts counting again from zero.
type IdleDetector struct {
	threshold int64 // seconds
	interval  time.Duration
	sink      Sink
	loop      *Loop
	logger    *slog.Logger

	idleSeconds atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewIdleDetector creates an idle detector. Thresholds below one second are
// rejected with ErrInvalidThreshold.
func NewIdleDetector(threshold time.Duration, sink Sink, loop *Loop, logger *slog.Logger) (*IdleDetector, error) {
	seconds := int64(threshold / time.Second)
	if seconds <= 0 {
		return nil, fmt.Errorf("idle threshold %v: %w", threshold, ErrInvalidThreshold)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IdleDetector{
		threshold: seconds,
		interval:  time.Second,
		sink:      sink,
		loop:      loop,
		logger:    logger,
	}, nil
}

func (d *IdleDetector) Kind() SignalKind { return SignalIdle }

// Start begins the once-per-second tick. Calling Start on a running
// detector does nothing.
func (d *IdleDetector) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go func() {
		// A slow receiver makes the ticker drop ticks rather than queue them,
		// so a stalled loop never produces a burst of increments.
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !d.loop.Post(d.tick) {
					return
				}
			}
		}
	}()

	d.logger.Info("Idle tracking started", "threshold", time.Duration(d.threshold)*time.Second)
}

// Stop cancels the tick. It is safe to call more than once.
func (d *IdleDetector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel == nil {
		return
	}
	d.cancel()
	d.cancel = nil
	d.logger.Debug("Idle tracking stopped")
}

// ResetIdleTime zeroes the idle counter. Safe to call from any goroutine.
func (d *IdleDetector) ResetIdleTime() {
	d.idleSeconds.Store(0)
}

// IdleSeconds returns the current idle counter
func (d *IdleDetector) IdleSeconds() int64 {
	return d.idleSeconds.Load()
}

// tick advances the counter by one second. Runs on the loop.
func (d *IdleDetector) tick() {
	idle := d.idleSeconds.Add(1)
	if idle < d.threshold {
		return
	}

	d.logger.Debug("Idle threshold reached", "idle_seconds", idle)
	d.sink.Display(idleMessage, SeverityWarning)
	d.idleSeconds.Store(0)
}
