package usb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"go.olrik.dev/invigilator/internal/integrity"
)

// DefaultDevDir holds one directory per bus with one node per device
const DefaultDevDir = "/dev/bus/usb"

// Hotplug reports USB attach and detach by watching device nodes appear
// and disappear. Bursts of events are collapsed into one callback.
type Hotplug struct {
	dir      string
	debounce time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	attached []func()
	detached []func()
	timers   map[fsnotify.Op]*time.Timer
}

var _ integrity.HotplugSource = (*Hotplug)(nil)

// NewHotplug creates a watcher for dir, or DefaultDevDir when dir is empty.
func NewHotplug(dir string, debounce time.Duration, logger *slog.Logger) *Hotplug {
	if dir == "" {
		dir = DefaultDevDir
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hotplug{
		dir:      dir,
		debounce: debounce,
		logger:   logger,
		timers:   make(map[fsnotify.Op]*time.Timer),
	}
}

func (h *Hotplug) OnDeviceAttached(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attached = append(h.attached, fn)
}

func (h *Hotplug) OnDeviceDetached(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detached = append(h.detached, fn)
}

// Watch starts watching until ctx is cancelled. It returns once the watches
// are in place.
func (h *Hotplug) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create USB watcher: %w", err)
	}

	if err := watcher.Add(h.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", h.dir, err)
	}

	// Device nodes live one level down, in the per-bus directories
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("failed to list %s: %w", h.dir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		bus := filepath.Join(h.dir, entry.Name())
		if err := watcher.Add(bus); err != nil {
			h.logger.Warn("Failed to watch USB bus", "path", bus, "error", err)
		}
	}

	go func() {
		defer watcher.Close()
		defer h.stopTimers()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				h.handle(watcher, event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				h.logger.Error("USB watcher error", "error", err)
			}
		}
	}()

	h.logger.Debug("Watching USB device nodes", "path", h.dir)
	return nil
}

func (h *Hotplug) handle(watcher *fsnotify.Watcher, event fsnotify.Event) {
	h.logger.Debug("USB filesystem event", "event", event.Op.String(), "file", event.Name)

	switch {
	case event.Has(fsnotify.Create):
		// A new bus directory needs its own watch
		if filepath.Dir(event.Name) == filepath.Clean(h.dir) {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := watcher.Add(event.Name); err != nil {
					h.logger.Warn("Failed to watch USB bus", "path", event.Name, "error", err)
				}
				return
			}
		}
		h.schedule(fsnotify.Create)
	case event.Has(fsnotify.Remove):
		h.schedule(fsnotify.Remove)
	}
}

// schedule fires the handlers for op once no event of that kind has
// arrived for the debounce period
func (h *Hotplug) schedule(op fsnotify.Op) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scheduleLocked(op)
}

// scheduleLocked must be called with h.mu held. A timer that fired while a
// newer one replaced it does nothing; the newer timer reports the event.
func (h *Hotplug) scheduleLocked(op fsnotify.Op) {
	if t, ok := h.timers[op]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(h.debounce, func() {
		h.mu.Lock()
		if h.timers[op] != timer {
			h.mu.Unlock()
			return
		}
		var handlers []func()
		if op == fsnotify.Create {
			handlers = append(handlers, h.attached...)
		} else {
			handlers = append(handlers, h.detached...)
		}
		delete(h.timers, op)
		h.mu.Unlock()

		for _, fn := range handlers {
			fn()
		}
	})
	h.timers[op] = timer
}

func (h *Hotplug) stopTimers() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for op, t := range h.timers {
		t.Stop()
		delete(h.timers, op)
	}
}
