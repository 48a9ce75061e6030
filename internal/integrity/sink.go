package integrity

import (
	"log/slog"
	"sync"
	"time"
)

// Sink surfaces a message to the candidate. Implementations must be safe to
// call after the surface is gone.
type Sink interface {
	Display(message string, severity Severity)
}

// SurfaceSink is the one Sink bound to a running surface. Each Display
// replaces whatever banner was shown before; there is no queue.
type SurfaceSink struct {
	renderer Renderer
	logger   *slog.Logger

	mu        sync.RWMutex
	closed    bool
	observers []func(Notification)
}

// NewSink binds a sink to the given surface renderer.
func NewSink(renderer Renderer, logger *slog.Logger) *SurfaceSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SurfaceSink{
		renderer: renderer,
		logger:   logger,
	}
}

// Display renders message on the surface. It is a no-op once the sink has
// been closed or the surface destroyed.
func (s *SurfaceSink) Display(message string, severity Severity) {
	s.display(Notification{
		Timestamp: time.Now(),
		Severity:  severity,
		Message:   message,
	})
}

// For returns a Sink that tags every notification with the given source.
func (s *SurfaceSink) For(kind SignalKind) Sink {
	return sourceSink{sink: s, kind: kind}
}

// Observe registers a callback invoked for every notification that reached
// the surface.
func (s *SurfaceSink) Observe(fn func(Notification)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Close detaches the sink from its surface
func (s *SurfaceSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *SurfaceSink) display(n Notification) {
	s.mu.RLock()
	closed := s.closed
	observers := make([]func(Notification), len(s.observers))
	copy(observers, s.observers)
	s.mu.RUnlock()

	if closed || s.renderer == nil || s.renderer.IsDestroyed() {
		s.logger.Debug("Dropping notification, surface is gone",
			"source", n.Source,
			"message", n.Message)
		return
	}

	if err := s.renderer.RenderBanner(n.Message, n.Severity); err != nil {
		s.logger.Warn("Failed to render notification",
			"source", n.Source,
			"error", err)
		return
	}

	s.logger.Info("Notification shown",
		"source", n.Source,
		"severity", n.Severity,
		"message", n.Message)

	for _, fn := range observers {
		fn(n)
	}
}

type sourceSink struct {
	sink *SurfaceSink
	kind SignalKind
}

func (s sourceSink) Display(message string, severity Severity) {
	s.sink.display(Notification{
		Timestamp: time.Now(),
		Source:    s.kind,
		Severity:  severity,
		Message:   message,
	})
}
