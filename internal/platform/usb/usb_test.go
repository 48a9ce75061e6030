package usb

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/go-cmp/cmp"

	"go.olrik.dev/invigilator/internal/integrity"
)

func writeAttrs(t *testing.T, dir string, attrs map[string]string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, value := range attrs {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(value+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func fakeSysfs(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	// Root hub
	writeAttrs(t, filepath.Join(root, "usb1"), map[string]string{
		"idVendor": "1d6b", "idProduct": "0002", "bDeviceClass": "09",
	})
	writeAttrs(t, filepath.Join(root, "1-0:1.0"), map[string]string{
		"bInterfaceClass": "09", "bInterfaceSubClass": "00", "bInterfaceProtocol": "00",
	})

	// Keyboard with a boot keyboard interface and a consumer-control interface
	writeAttrs(t, filepath.Join(root, "1-2"), map[string]string{
		"idVendor": "046d", "idProduct": "c31c", "bDeviceClass": "03",
	})
	writeAttrs(t, filepath.Join(root, "1-2:1.0"), map[string]string{
		"bInterfaceClass": "03", "bInterfaceSubClass": "01", "bInterfaceProtocol": "01",
	})
	writeAttrs(t, filepath.Join(root, "1-2:1.1"), map[string]string{
		"bInterfaceClass": "03", "bInterfaceSubClass": "00", "bInterfaceProtocol": "00",
	})

	return root
}

func TestSysfs_ListAttachedDevices(t *testing.T) {
	root := fakeSysfs(t)

	devices, err := NewSysfs(root).ListAttachedDevices()
	if err != nil {
		t.Fatalf("ListAttachedDevices failed: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}

	var kbd integrity.USBDevice
	for _, d := range devices {
		if d.Descriptor().VendorID == 0x046d {
			kbd = d
		}
	}
	if kbd == nil {
		t.Fatal("expected keyboard device in listing")
	}

	want := integrity.DeviceDescriptor{VendorID: 0x046d, ProductID: 0xc31c, DeviceClass: 0x03}
	if diff := cmp.Diff(want, kbd.Descriptor()); diff != "" {
		t.Errorf("descriptor mismatch (-want +got):\n%s", diff)
	}

	ifaces, err := kbd.Interfaces()
	if err != nil {
		t.Fatalf("Interfaces failed: %v", err)
	}
	wantIfaces := []integrity.InterfaceDescriptor{
		{Class: 0x03, SubClass: 0x01, Protocol: 0x01},
		{Class: 0x03, SubClass: 0x00, Protocol: 0x00},
	}
	if diff := cmp.Diff(wantIfaces, ifaces); diff != "" {
		t.Errorf("interfaces mismatch (-want +got):\n%s", diff)
	}
	if kbd.String() != "1-2 (046d:c31c)" {
		t.Errorf("expected '1-2 (046d:c31c)', got %q", kbd.String())
	}
}

func TestSysfs_WithDetector(t *testing.T) {
	root := fakeSysfs(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	d := integrity.NewPeripheralDetector(integrity.PeripheralConfig{Logger: logger},
		NewSysfs(root), nil, nil, nil, nil)
	if !d.DetectWiredKeyboard() {
		t.Error("expected sysfs keyboard to be detected")
	}
}

func TestSysfs_BrokenInterfaceIsAnError(t *testing.T) {
	root := fakeSysfs(t)
	writeAttrs(t, filepath.Join(root, "1-2:1.2"), map[string]string{
		"bInterfaceClass": "zz", "bInterfaceSubClass": "00", "bInterfaceProtocol": "00",
	})

	devices, err := NewSysfs(root).ListAttachedDevices()
	if err != nil {
		t.Fatalf("ListAttachedDevices failed: %v", err)
	}
	for _, d := range devices {
		if d.Descriptor().VendorID != 0x046d {
			continue
		}
		if _, err := d.Interfaces(); err == nil {
			t.Error("expected error for unparsable interface class")
		}
	}
}

func TestSysfs_MissingRoot(t *testing.T) {
	_, err := NewSysfs(filepath.Join(t.TempDir(), "missing")).ListAttachedDevices()
	if err == nil {
		t.Error("expected error for missing sysfs root")
	}
}

func TestHotplug_AttachAndDetach(t *testing.T) {
	dir := t.TempDir()
	bus := filepath.Join(dir, "001")
	if err := os.Mkdir(bus, 0o755); err != nil {
		t.Fatal(err)
	}

	h := NewHotplug(dir, 20*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var attached, detached atomic.Int32
	h.OnDeviceAttached(func() { attached.Add(1) })
	h.OnDeviceDetached(func() { detached.Add(1) })

	if err := h.Watch(t.Context()); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	// Two nodes in quick succession collapse into one callback
	for _, name := range []string{"004", "005"} {
		if err := os.WriteFile(filepath.Join(bus, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, func() bool { return attached.Load() == 1 })

	if err := os.Remove(filepath.Join(bus, "004")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return detached.Load() == 1 })

	time.Sleep(50 * time.Millisecond)
	if got := attached.Load(); got != 1 {
		t.Errorf("expected 1 attach callback, got %d", got)
	}
}

func TestHotplug_NewBusIsWatched(t *testing.T) {
	dir := t.TempDir()
	h := NewHotplug(dir, 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var attached atomic.Int32
	h.OnDeviceAttached(func() { attached.Add(1) })

	if err := h.Watch(t.Context()); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	bus := filepath.Join(dir, "002")
	if err := os.Mkdir(bus, 0o755); err != nil {
		t.Fatal(err)
	}
	// Give the watcher time to add the new directory
	time.Sleep(50 * time.Millisecond)
	if attached.Load() != 0 {
		t.Fatal("expected bus creation alone not to count as an attach")
	}

	if err := os.WriteFile(filepath.Join(bus, "001"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return attached.Load() == 1 })
}

func TestHotplug_SupersededTimerKeepsNewerEntry(t *testing.T) {
	h := NewHotplug(t.TempDir(), 5*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var attached atomic.Int32
	h.OnDeviceAttached(func() { attached.Add(1) })

	// The first timer fires while the lock is held and waits for it; a
	// second event replaces it before the lock is released
	h.mu.Lock()
	h.scheduleLocked(fsnotify.Create)
	time.Sleep(30 * time.Millisecond)
	h.debounce = time.Hour
	h.scheduleLocked(fsnotify.Create)
	newer := h.timers[fsnotify.Create]
	h.mu.Unlock()

	time.Sleep(30 * time.Millisecond)

	h.mu.Lock()
	got := h.timers[fsnotify.Create]
	h.mu.Unlock()
	if got != newer {
		t.Fatal("expected the superseded timer to leave the newer entry in place")
	}
	if n := attached.Load(); n != 0 {
		t.Errorf("expected no attach callback from the superseded timer, got %d", n)
	}

	// A later event stops the pending timer, so only one callback follows
	h.debounce = 5 * time.Millisecond
	h.schedule(fsnotify.Create)
	waitFor(t, func() bool { return attached.Load() == 1 })
	time.Sleep(30 * time.Millisecond)
	if n := attached.Load(); n != 1 {
		t.Errorf("expected exactly 1 attach callback, got %d", n)
	}
}

func TestHotplug_MissingDir(t *testing.T) {
	h := NewHotplug(filepath.Join(t.TempDir(), "missing"), 0, nil)
	if err := h.Watch(t.Context()); err == nil {
		t.Error("expected error for missing device directory")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for condition")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
