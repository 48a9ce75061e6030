// Package integrity watches the host for exam-integrity signals and turns
// focus-loss violations into an irreversible lockdown of the exam surface.
//
// Every detector callback, timer expiry and asynchronous completion is
// funnelled through a single Loop goroutine, so detector state is only ever
// touched by one goroutine at a time.
package integrity

import (
	"errors"
	"time"
)

var (
	// ErrInvalidThreshold is returned when a detector is configured with a
	// threshold or delay that would make it fire always or never.
	ErrInvalidThreshold = errors.New("integrity: threshold must be positive")

	// ErrUnsupportedPlatform is returned by platform queries that have no
	// implementation for the running operating system.
	ErrUnsupportedPlatform = errors.New("integrity: unsupported platform")
)

// Severity classifies a notification shown to the candidate
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is a single message delivered to the Sink.
type Notification struct {
	Timestamp time.Time
	Source    SignalKind
	Severity  Severity
	Message   string
}

// Surface is the monitored exam window. It is owned by the bootstrap code;
// the integrity core only registers handlers and calls its capabilities.
type Surface interface {
	Renderer
	RendererChannel

	// OnFocusLost registers a handler called every time the surface loses focus
	OnFocusLost(handler func())

	// OnRawInput registers a handler called for any keyboard, pointer,
	// wheel or touch activity inside the surface
	OnRawInput(handler func())

	// SuppressAllInput makes the surface reject all user input
	SuppressAllInput() error
}

// Renderer paints notification banners on the surface.
type Renderer interface {
	// RenderBanner replaces any banner currently shown with the given message
	RenderBanner(message string, severity Severity) error

	// IsDestroyed reports whether the surface has been closed
	IsDestroyed() bool
}

// RendererChannel carries structured messages to the presentation layer.
type RendererChannel interface {
	SendToRenderer(channel string, payload any) error
}

// ProcessController ends the whole application.
type ProcessController interface {
	TerminateProcess()
}
