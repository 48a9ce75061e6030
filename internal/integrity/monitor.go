package integrity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrMissingCapability is returned when a required platform capability is nil
var ErrMissingCapability = errors.New("missing platform capability")

// MonitorConfig holds the settings for every detector
type MonitorConfig struct {
	IdleThreshold  time.Duration
	MaxBlurCount   int
	TerminateDelay time.Duration
	Peripheral     PeripheralConfig

	// HistorySize is the number of timeline events kept for replay
	HistorySize int

	Logger *slog.Logger
}

// Platform bundles the OS and surface capabilities the detectors consume.
// Devices, Hotplug and Wireless are optional.
type Platform struct {
	Surface  Surface
	Displays DisplayProvider
	Devices  DeviceEnumerator
	Hotplug  HotplugSource
	Wireless WirelessQuery
	Process  ProcessController
}

// Monitor owns the sink, the event loop and all detectors for one surface.
type Monitor struct {
	logger *slog.Logger

	loop     *Loop
	sink     *SurfaceSink
	timeline *Timeline

	idle        *IdleDetector
	coordinator *Coordinator
	display     *DisplayDetector
	peripheral  *PeripheralDetector

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewMonitor constructs every detector against the given platform. No
// timers run and no checks happen until Start.
func NewMonitor(config MonitorConfig, p Platform) (*Monitor, error) {
	if p.Surface == nil {
		return nil, fmt.Errorf("%w: surface", ErrMissingCapability)
	}
	if p.Displays == nil {
		return nil, fmt.Errorf("%w: display provider", ErrMissingCapability)
	}
	if p.Process == nil {
		return nil, fmt.Errorf("%w: process controller", ErrMissingCapability)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Monitor{
		logger:   logger,
		loop:     NewLoop(0, logger.With("component", "loop")),
		sink:     NewSink(p.Surface, logger.With("component", "sink")),
		timeline: NewTimeline(config.HistorySize),
	}
	m.sink.Observe(m.timeline.RecordNotification)

	var err error
	m.idle, err = NewIdleDetector(config.IdleThreshold, m.sink.For(SignalIdle), m.loop,
		logger.With("component", "idle"))
	if err != nil {
		return nil, err
	}

	m.coordinator, err = NewCoordinator(CoordinatorConfig{
		MaxBlurCount:   config.MaxBlurCount,
		TerminateDelay: config.TerminateDelay,
		Logger:         logger.With("component", "lockdown"),
	}, p.Surface, m.sink.For(SignalFocusLoss), p.Process, m.loop)
	if err != nil {
		return nil, err
	}
	m.coordinator.Subscribe(m.timeline.RecordTransition)

	m.display = NewDisplayDetector(p.Displays, m.sink.For(SignalDisplayTopology), m.loop,
		logger.With("component", "display"))

	pc := config.Peripheral
	pc.Logger = logger.With("component", "peripheral")
	m.peripheral = NewPeripheralDetector(pc, p.Devices, p.Wireless, p.Hotplug, p.Surface, m.loop)
	m.peripheral.Subscribe(m.timeline.RecordVerdict)

	p.Surface.OnRawInput(m.idle.ResetIdleTime)

	return m, nil
}

// Sources returns the detectors in start order
func (m *Monitor) Sources() []SignalSource {
	return []SignalSource{m.idle, m.coordinator, m.display, m.peripheral}
}

// Start starts the loop and then every detector in order
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped {
		return
	}
	m.started = true

	m.loop.Start()
	for _, s := range m.Sources() {
		s.Start(ctx)
	}
	m.logger.Info("Integrity monitor started")
}

// Stop stops every detector in reverse order, then the loop. Notifications
// arriving afterwards are dropped. An armed lockdown timer still fires.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true

	sources := m.Sources()
	for i := len(sources) - 1; i >= 0; i-- {
		sources[i].Stop()
	}
	m.loop.Stop()
	m.sink.Close()
	m.timeline.Close()
	m.logger.Info("Integrity monitor stopped")
}

// Loop returns the event loop shared by the detectors
func (m *Monitor) Loop() *Loop { return m.loop }

// Sink returns the notification sink bound to the surface
func (m *Monitor) Sink() *SurfaceSink { return m.sink }

// Timeline returns the session timeline
func (m *Monitor) Timeline() *Timeline { return m.timeline }

// Status returns the lockdown status
func (m *Monitor) Status() LockdownStatus { return m.coordinator.Status() }

// IdleSeconds returns the idle counter
func (m *Monitor) IdleSeconds() int64 { return m.idle.IdleSeconds() }
