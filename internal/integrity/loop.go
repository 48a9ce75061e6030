package integrity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Loop runs callbacks one at a time on a single goroutine. OS events, timer
// expiries and completions of asynchronous checks are posted here so that
// every state change happens sequentially and runs to completion before the
// next one starts.
type Loop struct {
	logger *slog.Logger

	// Input channel - every callback comes through here
	events chan func()

	// Lifecycle
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewLoop creates a loop with the given event buffer size.
func NewLoop(bufferSize int, logger *slog.Logger) *Loop {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Loop{
		logger: logger,
		events: make(chan func(), bufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing posted callbacks
func (l *Loop) Start() {
	l.startOnce.Do(func() {
		l.wg.Add(1)
		go l.run()
		l.logger.Debug("Event loop started")
	})
}

// Stop discards pending callbacks and waits for the running one to finish
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.cancel()
		l.wg.Wait()
		l.logger.Debug("Event loop stopped")
	})
}

// Done is closed once the loop has been stopped
func (l *Loop) Done() <-chan struct{} {
	return l.ctx.Done()
}

// Post queues fn for execution on the loop goroutine. It blocks while the
// buffer is full and returns false if the loop has been stopped.
func (l *Loop) Post(fn func()) bool {
	if l.ctx.Err() != nil {
		return false
	}
	select {
	case l.events <- fn:
		return true
	case <-l.ctx.Done():
		return false
	}
}

// Do runs fn on the loop and waits for it to complete. Because callbacks
// run in order, Do also waits for everything posted before it.
// Must not be called from the loop goroutine itself.
func (l *Loop) Do(fn func()) bool {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-l.ctx.Done():
		return false
	}
}

// AfterFunc posts fn to the loop once d has elapsed. The returned timer can
// be stopped like any time.Timer.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() {
		l.Post(fn)
	})
}

// run is the main processing loop
func (l *Loop) run() {
	defer l.wg.Done()

	for {
		select {
		case <-l.ctx.Done():
			return
		case fn := <-l.events:
			fn()
		}
	}
}
