package integrity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startedLoop returns a running loop that is stopped when the test ends
func startedLoop(t *testing.T) *Loop {
	t.Helper()
	l := NewLoop(16, quietLogger())
	l.Start()
	t.Cleanup(l.Stop)
	return l
}

// drain waits until everything posted so far has run
func drain(t *testing.T, l *Loop) {
	t.Helper()
	if !l.Do(func() {}) {
		t.Fatal("loop stopped while draining")
	}
}

type banner struct {
	Message  string
	Severity Severity
}

type rendererMessage struct {
	Channel string
	Payload any
}

// fakeSurface records everything the detectors do to the surface
type fakeSurface struct {
	mu         sync.Mutex
	banners    []banner
	messages   []rendererMessage
	suppressed int
	destroyed  bool
	renderErr  error

	focusLost []func()
	rawInput  []func()
}

func (s *fakeSurface) RenderBanner(message string, severity Severity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.renderErr != nil {
		return s.renderErr
	}
	s.banners = append(s.banners, banner{message, severity})
	return nil
}

func (s *fakeSurface) IsDestroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

func (s *fakeSurface) SendToRenderer(channel string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, rendererMessage{channel, payload})
	return nil
}

func (s *fakeSurface) OnFocusLost(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focusLost = append(s.focusLost, fn)
}

func (s *fakeSurface) OnRawInput(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawInput = append(s.rawInput, fn)
}

func (s *fakeSurface) SuppressAllInput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppressed++
	return nil
}

func (s *fakeSurface) loseFocus() {
	s.mu.Lock()
	handlers := append([]func(){}, s.focusLost...)
	s.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

func (s *fakeSurface) input() {
	s.mu.Lock()
	handlers := append([]func(){}, s.rawInput...)
	s.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

func (s *fakeSurface) setDestroyed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
}

func (s *fakeSurface) Banners() []banner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]banner(nil), s.banners...)
}

func (s *fakeSurface) Messages() []rendererMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rendererMessage(nil), s.messages...)
}

func (s *fakeSurface) Suppressed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suppressed
}

// fakeProcess counts termination requests
type fakeProcess struct {
	calls atomic.Int32
	done  chan struct{}
	once  sync.Once
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) TerminateProcess() {
	p.calls.Add(1)
	p.once.Do(func() { close(p.done) })
}

func (p *fakeProcess) waitTerminated(t *testing.T, timeout time.Duration) {
	t.Helper()
	select {
	case <-p.done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for process termination")
	}
}

// recordingSink captures notifications without a surface
type recordingSink struct {
	mu       sync.Mutex
	messages []banner
}

func (s *recordingSink) Display(message string, severity Severity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, banner{message, severity})
}

func (s *recordingSink) Messages() []banner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]banner(nil), s.messages...)
}

// fakeDisplays serves a configurable snapshot
type fakeDisplays struct {
	mu       sync.Mutex
	displays []Display
	err      error
	added    func()
	removed  func()
}

func (f *fakeDisplays) ListDisplays() ([]Display, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]Display(nil), f.displays...), nil
}

func (f *fakeDisplays) OnDisplayAdded(fn func())   { f.added = fn }
func (f *fakeDisplays) OnDisplayRemoved(fn func()) { f.removed = fn }

func (f *fakeDisplays) set(displays ...Display) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.displays = displays
}

// fakeDevice is a USB device with fixed descriptors
type fakeDevice struct {
	desc   DeviceDescriptor
	ifaces []InterfaceDescriptor
	err    error
}

func (d fakeDevice) Descriptor() DeviceDescriptor { return d.desc }

func (d fakeDevice) Interfaces() ([]InterfaceDescriptor, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.ifaces, nil
}

func (d fakeDevice) String() string {
	return fmt.Sprintf("%04x:%04x", d.desc.VendorID, d.desc.ProductID)
}

func keyboard(vendor uint16) fakeDevice {
	return fakeDevice{
		desc:   DeviceDescriptor{VendorID: vendor, ProductID: 0x0001, DeviceClass: ClassHID},
		ifaces: []InterfaceDescriptor{{Class: ClassHID, SubClass: 1, Protocol: ProtocolKeyboard}},
	}
}

type fakeEnumerator struct {
	devices []USBDevice
	err     error
}

func (e *fakeEnumerator) ListAttachedDevices() ([]USBDevice, error) {
	return e.devices, e.err
}

type fakeWireless struct {
	paired bool
	err    error
	block  bool
	calls  atomic.Int32
}

func (w *fakeWireless) KeyboardPaired(ctx context.Context) (bool, error) {
	w.calls.Add(1)
	if w.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return w.paired, w.err
}

type fakeHotplug struct {
	attached func()
	detached func()
}

func (h *fakeHotplug) OnDeviceAttached(fn func()) { h.attached = fn }
func (h *fakeHotplug) OnDeviceDetached(fn func()) { h.detached = fn }

var errPermission = errors.New("permission denied")
