// Package daemon runs one exam session: it opens the exam window, connects
// the platform adapters and keeps the integrity monitor running until the
// session ends.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.olrik.dev/invigilator/internal/core"
	"go.olrik.dev/invigilator/internal/db"
	"go.olrik.dev/invigilator/internal/integrity"
	"go.olrik.dev/invigilator/internal/platform/bluetooth"
	"go.olrik.dev/invigilator/internal/platform/browser"
	"go.olrik.dev/invigilator/internal/platform/process"
	"go.olrik.dev/invigilator/internal/platform/usb"
	"go.olrik.dev/invigilator/internal/platform/x11"
)

// hotplugDebounce merges the burst of node events one plug produces
const hotplugDebounce = 250 * time.Millisecond

// Daemon is a single exam session
type Daemon struct {
	config *core.Configuration
	logger *slog.Logger

	// TimelineOut, when set, receives a line per session event
	TimelineOut io.Writer
	NoColor     bool
}

// New creates a session for config. A nil logger means slog.Default().
func New(config *core.Configuration, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{config: config, logger: logger}
}

// Run blocks until ctx is cancelled, the exam window is closed or the
// lockdown terminates the session. It returns the process exit code.
func (d *Daemon) Run(ctx context.Context) (int, error) {
	cfg := d.config
	if err := cfg.Validate(); err != nil {
		return 1, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.ExamURL == "" {
		return 1, errors.New("no exam_url configured")
	}

	logHostInfo(d.logger)

	journal, err := db.Open()
	if err != nil {
		d.logger.Warn("Session journal unavailable", "error", err)
	} else {
		defer journal.Close()
	}

	surface, err := browser.Launch(ctx, browser.Options{
		URL:      cfg.ExamURL,
		Width:    cfg.Window.Width,
		Height:   cfg.Window.Height,
		Headless: cfg.Window.Headless,
		ExecPath: cfg.Window.ChromePath,
		Logger:   d.logger.With("component", "browser"),
	})
	if err != nil {
		return 1, fmt.Errorf("failed to open exam window: %w", err)
	}
	defer surface.Close()

	displays, err := x11.Connect(d.logger.With("component", "x11"))
	if err != nil {
		return 1, fmt.Errorf("failed to connect to display server: %w", err)
	}
	defer displays.Close()

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()

	platform := integrity.Platform{
		Surface:  surface,
		Displays: displays,
		Devices:  usb.NewSysfs(cfg.Peripherals.SysfsRoot),
		Wireless: bluetooth.NewDefault(d.logger.With("component", "bluetooth")),
	}

	hotplug := usb.NewHotplug(cfg.Peripherals.DevDir, hotplugDebounce, d.logger.With("component", "usb"))
	if err := hotplug.Watch(watchCtx); err != nil {
		d.logger.Warn("USB hotplug unavailable, keyboards are only checked at startup", "error", err)
	} else {
		platform.Hotplug = hotplug
	}

	controller := process.New(cfg.Lockdown.ShutdownGrace, d.logger.With("component", "process"))
	platform.Process = controller

	monitor, err := integrity.NewMonitor(cfg.MonitorConfig(d.logger), platform)
	if err != nil {
		return 1, err
	}

	var journalDone <-chan struct{}
	if journal != nil {
		journalDone = recordJournal(journal, monitor.Timeline(), d.logger)
	}
	var timelineDone <-chan struct{}
	if d.TimelineOut != nil {
		timelineDone = printTimeline(integrity.NewTimelineWriter(d.TimelineOut, d.NoColor), monitor.Timeline())
	}

	monitor.Start(ctx)

	select {
	case <-ctx.Done():
		d.logger.Info("Shutting down", "reason", context.Cause(ctx))
	case <-surface.Done():
		d.logger.Info("Exam window closed")
	case <-controller.Terminated():
	}

	exitCode := 0
	select {
	case <-controller.Terminated():
		d.logger.Warn("Session terminated by lockdown")
		exitCode = process.ExitCodeLockdown
	default:
	}

	monitor.Stop()

	if timelineDone != nil {
		<-timelineDone
	}
	if journal != nil {
		<-journalDone
		logSummary(journal, d.logger)
	}

	return exitCode, nil
}
