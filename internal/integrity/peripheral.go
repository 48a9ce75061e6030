package integrity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// USB class codes used to recognise a boot keyboard
const (
	ClassHID         uint8 = 0x03
	ProtocolKeyboard uint8 = 0x01
)

// KeyboardDetectedChannel is the renderer channel carrying positive verdicts
const KeyboardDetectedChannel = "keyboard-detected"

// DefaultVendorDenyList holds the vendors whose built-in composite devices
// report a HID keyboard interface (Apple, Dell).
var DefaultVendorDenyList = []uint16{0x05ac, 0x413c}

// DeviceDescriptor is the device-level part of a USB descriptor.
type DeviceDescriptor struct {
	VendorID    uint16
	ProductID   uint16
	DeviceClass uint8
}

// InterfaceDescriptor is one interface of a USB device configuration.
type InterfaceDescriptor struct {
	Class    uint8
	SubClass uint8
	Protocol uint8
}

// USBDevice is an attached device that can be interrogated for its
// interfaces. Interrogation may fail on permission or I/O errors.
type USBDevice interface {
	Descriptor() DeviceDescriptor
	Interfaces() ([]InterfaceDescriptor, error)
	String() string
}

// DeviceEnumerator lists attached USB devices.
type DeviceEnumerator interface {
	ListAttachedDevices() ([]USBDevice, error)
}

// HotplugSource reports device attach and detach events.
type HotplugSource interface {
	OnDeviceAttached(func())
	OnDeviceDetached(func())
}

// WirelessQuery asks the OS whether a wireless keyboard is paired.
type WirelessQuery interface {
	KeyboardPaired(ctx context.Context) (bool, error)
}

// KeyboardVerdict is the result of one presence check.
type KeyboardVerdict struct {
	WiredPresent    bool `json:"wiredPresent"`
	WirelessPresent bool `json:"wirelessPresent"`
}

// KeyboardConnected reports whether either channel saw a keyboard
func (v KeyboardVerdict) KeyboardConnected() bool {
	return v.WiredPresent || v.WirelessPresent
}

// PeripheralConfig holds the peripheral detector settings
type PeripheralConfig struct {
	// VendorDenyList excludes devices by vendor ID from the wired channel
	VendorDenyList []uint16

	// SettleDelay is how long after Start the first check runs
	SettleDelay time.Duration

	// WirelessTimeout bounds the wireless query
	WirelessTimeout time.Duration

	Logger *slog.Logger
}

// PeripheralDetector checks for an external keyboard over USB and wireless
// and tells the renderer when one is found.
type PeripheralDetector struct {
	denyList        []uint16
	settleDelay     time.Duration
	wirelessTimeout time.Duration
	logger          *slog.Logger

	wired    DeviceEnumerator
	wireless WirelessQuery
	out      RendererChannel
	loop     *Loop

	ctx    context.Context
	cancel context.CancelFunc

	// seq numbers each triggered check; published is touched on the loop only
	seq       atomic.Uint64
	published uint64

	mu      sync.Mutex
	settle  *time.Timer
	started bool

	subscribersMu sync.RWMutex
	subscribers   []func(KeyboardVerdict)
}

// NewPeripheralDetector creates the detector and registers it for hotplug
// events. hotplug and loop may be nil when only CheckAll is used.
func NewPeripheralDetector(config PeripheralConfig, wired DeviceEnumerator, wireless WirelessQuery, hotplug HotplugSource, out RendererChannel, loop *Loop) *PeripheralDetector {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.VendorDenyList == nil {
		config.VendorDenyList = DefaultVendorDenyList
	}
	if config.WirelessTimeout <= 0 {
		config.WirelessTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &PeripheralDetector{
		denyList:        slices.Clone(config.VendorDenyList),
		settleDelay:     config.SettleDelay,
		wirelessTimeout: config.WirelessTimeout,
		logger:          config.Logger,
		wired:           wired,
		wireless:        wireless,
		out:             out,
		loop:            loop,
		ctx:             ctx,
		cancel:          cancel,
	}

	if hotplug != nil {
		hotplug.OnDeviceAttached(func() { d.Trigger("attached") })
		hotplug.OnDeviceDetached(func() { d.Trigger("detached") })
	}

	return d
}

func (d *PeripheralDetector) Kind() SignalKind { return SignalPeripheralPresence }

// Start schedules the first check once the settle delay has elapsed
func (d *PeripheralDetector) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}
	d.started = true

	d.settle = time.AfterFunc(d.settleDelay, func() {
		d.Trigger("startup")
	})
	d.logger.Info("Keyboard detection started", "settle_delay", d.settleDelay)
}

// Stop cancels the pending startup check and any in-flight query
func (d *PeripheralDetector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.settle != nil {
		d.settle.Stop()
		d.settle = nil
	}
	d.cancel()
}

// Subscribe adds a callback invoked with every published verdict
func (d *PeripheralDetector) Subscribe(fn func(KeyboardVerdict)) {
	d.subscribersMu.Lock()
	defer d.subscribersMu.Unlock()
	d.subscribers = append(d.subscribers, fn)
}

// Trigger starts a check in the background and publishes the verdict on the
// loop. A verdict from an older check never replaces a newer one.
func (d *PeripheralDetector) Trigger(reason string) {
	if d.ctx.Err() != nil || d.loop == nil {
		return
	}

	seq := d.seq.Add(1)
	d.logger.Debug("Keyboard check triggered", "reason", reason, "seq", seq)

	go func() {
		verdict := d.CheckAll(d.ctx)
		if d.ctx.Err() != nil {
			return
		}
		d.loop.Post(func() { d.publish(seq, verdict) })
	}()
}

// publish runs on the loop
func (d *PeripheralDetector) publish(seq uint64, verdict KeyboardVerdict) {
	if seq < d.published {
		d.logger.Debug("Dropping stale keyboard verdict", "seq", seq, "latest", d.published)
		return
	}
	d.published = seq

	d.subscribersMu.RLock()
	subscribers := slices.Clone(d.subscribers)
	d.subscribersMu.RUnlock()
	for _, fn := range subscribers {
		fn(verdict)
	}

	if !verdict.KeyboardConnected() {
		return
	}

	d.logger.Warn("External keyboard detected",
		"wired", verdict.WiredPresent,
		"wireless", verdict.WirelessPresent)

	if err := d.out.SendToRenderer(KeyboardDetectedChannel, verdict); err != nil {
		d.logger.Warn("Failed to send keyboard verdict to renderer", "error", err)
	}
}

// CheckAll runs the wired and wireless checks concurrently and returns both
// results. Neither channel's failure affects the other.
func (d *PeripheralDetector) CheckAll(ctx context.Context) KeyboardVerdict {
	var verdict KeyboardVerdict

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		verdict.WiredPresent = d.DetectWiredKeyboard()
		return nil
	})
	g.Go(func() error {
		verdict.WirelessPresent = d.DetectWirelessKeyboard(gctx)
		return nil
	})
	_ = g.Wait()

	return verdict
}

// DetectWiredKeyboard reports whether any attached USB device is an
// external boot keyboard. Devices that cannot be interrogated are skipped.
func (d *PeripheralDetector) DetectWiredKeyboard() bool {
	if d.wired == nil {
		return false
	}

	devices, err := d.wired.ListAttachedDevices()
	if err != nil {
		d.logger.Warn("Failed to enumerate USB devices", "error", err)
		return false
	}

	found := false
	for _, dev := range devices {
		ok, err := d.isKeyboard(dev)
		if err != nil {
			d.logger.Warn("Failed to interrogate USB device", "device", dev.String(), "error", err)
			continue
		}
		if ok {
			d.logger.Debug("Wired keyboard found", "device", dev.String())
			found = true
		}
	}
	return found
}

func (d *PeripheralDetector) isKeyboard(dev USBDevice) (bool, error) {
	desc := dev.Descriptor()
	if desc.DeviceClass != ClassHID {
		return false, nil
	}
	if slices.Contains(d.denyList, desc.VendorID) {
		return false, nil
	}

	ifaces, err := dev.Interfaces()
	if err != nil {
		return false, fmt.Errorf("read interfaces of %04x:%04x: %w", desc.VendorID, desc.ProductID, err)
	}
	for _, iface := range ifaces {
		if iface.Class == ClassHID && iface.Protocol == ProtocolKeyboard {
			return true, nil
		}
	}
	return false, nil
}

// DetectWirelessKeyboard queries for a paired wireless keyboard. Errors and
// timeouts count as not present.
func (d *PeripheralDetector) DetectWirelessKeyboard(ctx context.Context) bool {
	if d.wireless == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, d.wirelessTimeout)
	defer cancel()

	paired, err := d.wireless.KeyboardPaired(ctx)
	switch {
	case errors.Is(err, ErrUnsupportedPlatform):
		d.logger.Info("Wireless keyboard detection is not supported on this platform")
		return false
	case err != nil:
		d.logger.Warn("Wireless keyboard query failed", "error", err)
		return false
	}
	return paired
}
