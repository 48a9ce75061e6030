package integrity

import (
	"context"
	"log/slog"
	"sync"
)

const (
	mirroringMessage       = "⚠️ Screen mirroring detected! Please disconnect the external monitor."
	externalMonitorMessage = "⚠️ External monitor detected! Please disconnect the external monitor."
	disconnectedMessage    = "External monitor disconnected."
)

// Display describes one attached display as reported by the OS.
type Display struct {
	WidthPx     int     `json:"width"`
	HeightPx    int     `json:"height"`
	ScaleFactor float64 `json:"scaleFactor"`
}

func (d Display) sameMode(other Display) bool {
	return d.WidthPx == other.WidthPx &&
		d.HeightPx == other.HeightPx &&
		d.ScaleFactor == other.ScaleFactor
}

// Topology is the classification of a display snapshot.
type Topology int

const (
	TopologySingle Topology = iota
	TopologyExtended
	TopologyMirrored
)

func (t Topology) String() string {
	switch t {
	case TopologySingle:
		return "single"
	case TopologyExtended:
		return "extended"
	case TopologyMirrored:
		return "mirrored"
	default:
		return "unknown"
	}
}

// Classify returns the topology of the given snapshot. Two or more displays
// are mirrored when any display after the first shares the first one's
// width, height and scale factor. Position and vendor are not considered, so
// two distinct monitors with identical modes count as mirroring.
func Classify(displays []Display) Topology {
	if len(displays) < 2 {
		return TopologySingle
	}
	first := displays[0]
	for _, d := range displays[1:] {
		if d.sameMode(first) {
			return TopologyMirrored
		}
	}
	return TopologyExtended
}

// DisplayChange is the reason a topology check ran.
type DisplayChange int

const (
	DisplayInitial DisplayChange = iota
	DisplayAdded
	DisplayRemoved
)

func (c DisplayChange) String() string {
	switch c {
	case DisplayInitial:
		return "initial"
	case DisplayAdded:
		return "added"
	case DisplayRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// DisplayProvider is the OS display capability.
type DisplayProvider interface {
	ListDisplays() ([]Display, error)
	OnDisplayAdded(func())
	OnDisplayRemoved(func())
}

// DisplayDetector warns when the candidate attaches a second display. It
// keeps no snapshot between checks.
type DisplayDetector struct {
	provider DisplayProvider
	sink     Sink
	loop     *Loop
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewDisplayDetector creates the detector and registers it for add/remove
// notifications from the provider.
func NewDisplayDetector(provider DisplayProvider, sink Sink, loop *Loop, logger *slog.Logger) *DisplayDetector {
	if logger == nil {
		logger = slog.Default()
	}
	d := &DisplayDetector{
		provider: provider,
		sink:     sink,
		loop:     loop,
		logger:   logger,
	}

	provider.OnDisplayAdded(func() { d.post(DisplayAdded) })
	provider.OnDisplayRemoved(func() { d.post(DisplayRemoved) })

	return d
}

func (d *DisplayDetector) Kind() SignalKind { return SignalDisplayTopology }

// Start runs the initial check
func (d *DisplayDetector) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	d.post(DisplayInitial)
}

// Stop makes later OS notifications no-ops
func (d *DisplayDetector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
}

func (d *DisplayDetector) post(change DisplayChange) {
	d.loop.Post(func() {
		d.mu.Lock()
		stopped := d.stopped
		d.mu.Unlock()
		if stopped {
			return
		}
		d.Check(change)
	})
}

// Check enumerates the displays, classifies them and emits the matching
// notification. It must run on the loop.
func (d *DisplayDetector) Check(change DisplayChange) Topology {
	displays, err := d.provider.ListDisplays()
	if err != nil {
		d.logger.Warn("Failed to enumerate displays", "change", change, "error", err)
		return TopologySingle
	}

	topology := Classify(displays)
	d.logger.Debug("Display topology checked",
		"change", change,
		"count", len(displays),
		"topology", topology)

	switch topology {
	case TopologyMirrored:
		d.sink.Display(mirroringMessage, SeverityWarning)
	case TopologyExtended:
		d.sink.Display(externalMonitorMessage, SeverityWarning)
	case TopologySingle:
		if change == DisplayRemoved && len(displays) == 1 {
			d.sink.Display(disconnectedMessage, SeverityInfo)
		}
	}

	return topology
}
