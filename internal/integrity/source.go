package integrity

import "context"

// SignalKind identifies one of the fixed set of detector variants.
type SignalKind int

const (
	SignalIdle SignalKind = iota
	SignalFocusLoss
	SignalDisplayTopology
	SignalPeripheralPresence
)

func (k SignalKind) String() string {
	switch k {
	case SignalIdle:
		return "idle"
	case SignalFocusLoss:
		return "focus_loss"
	case SignalDisplayTopology:
		return "display_topology"
	case SignalPeripheralPresence:
		return "peripheral_presence"
	default:
		return "unknown"
	}
}

// SignalSource is implemented by every detector. Detectors register their
// event handlers when constructed; Start performs any initial check and
// starts timers, Stop releases timers and must be idempotent.
type SignalSource interface {
	// Kind returns which signal this source observes
	Kind() SignalKind

	// Start begins observing
	Start(ctx context.Context)

	// Stop ends observation
	Stop()
}

var (
	_ SignalSource = (*IdleDetector)(nil)
	_ SignalSource = (*Coordinator)(nil)
	_ SignalSource = (*DisplayDetector)(nil)
	_ SignalSource = (*PeripheralDetector)(nil)
)
