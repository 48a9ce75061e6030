// Package x11 provides display topology from the X server through RandR.
package x11

import (
	"log/slog"
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/randr"
	"github.com/jezek/xgb/xproto"
	"github.com/pkg/errors"

	"go.olrik.dev/invigilator/internal/integrity"
)

// crtcMode is the part of a CRTC needed to derive displays
type crtcMode struct {
	Width   uint16
	Height  uint16
	Mode    randr.Mode
	Outputs int
}

// Displays implements integrity.DisplayProvider on top of RandR.
type Displays struct {
	conn   *xgb.Conn
	root   xproto.Window
	logger *slog.Logger

	mu      sync.Mutex
	added   []func()
	removed []func()
	count   int

	closeOnce sync.Once
	done      chan struct{}
}

var _ integrity.DisplayProvider = (*Displays)(nil)

// Connect opens the X display named by $DISPLAY and subscribes to RandR
// screen, CRTC and output changes.
func Connect(logger *slog.Logger) (*Displays, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to X server")
	}

	if err := randr.Init(conn); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "RandR extension not available")
	}

	root := xproto.Setup(conn).DefaultScreen(conn).Root

	mask := uint16(randr.NotifyMaskScreenChange | randr.NotifyMaskCrtcChange | randr.NotifyMaskOutputChange)
	if err := randr.SelectInputChecked(conn, root, mask).Check(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to select RandR events")
	}

	d := &Displays{
		conn:   conn,
		root:   root,
		logger: logger,
		done:   make(chan struct{}),
	}

	displays, err := d.ListDisplays()
	if err != nil {
		conn.Close()
		return nil, err
	}
	d.count = len(displays)

	go d.watch()

	logger.Debug("Connected to X server", "displays", d.count)
	return d, nil
}

// ListDisplays returns one display per output driven by an active CRTC.
// Outputs sharing a CRTC show the same picture and get the same geometry.
func (d *Displays) ListDisplays() ([]integrity.Display, error) {
	res, err := randr.GetScreenResourcesCurrent(d.conn, d.root).Reply()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get screen resources")
	}

	crtcs := make([]crtcMode, 0, len(res.Crtcs))
	for _, crtc := range res.Crtcs {
		info, err := randr.GetCrtcInfo(d.conn, crtc, res.ConfigTimestamp).Reply()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to get info for CRTC %d", crtc)
		}
		crtcs = append(crtcs, crtcMode{
			Width:   info.Width,
			Height:  info.Height,
			Mode:    info.Mode,
			Outputs: len(info.Outputs),
		})
	}

	return displaysFromCrtcs(crtcs), nil
}

// OnDisplayAdded registers a handler for a growing display count
func (d *Displays) OnDisplayAdded(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.added = append(d.added, fn)
}

// OnDisplayRemoved registers a handler for a shrinking display count
func (d *Displays) OnDisplayRemoved(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed = append(d.removed, fn)
}

// Close disconnects from the X server
func (d *Displays) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.conn.Close()
	})
}

// watch turns RandR notifications into added/removed callbacks. RandR
// sends several events per change, so only a different display count
// fires a handler.
func (d *Displays) watch() {
	for {
		ev, xerr := d.conn.WaitForEvent()
		if ev == nil && xerr == nil {
			select {
			case <-d.done:
			default:
				d.logger.Warn("X server connection closed")
			}
			return
		}
		if xerr != nil {
			d.logger.Debug("X error while watching displays", "error", xerr)
			continue
		}

		switch ev.(type) {
		case randr.ScreenChangeNotifyEvent, randr.NotifyEvent:
		default:
			continue
		}

		displays, err := d.ListDisplays()
		if err != nil {
			d.logger.Warn("Failed to re-enumerate displays", "error", err)
			continue
		}

		d.mu.Lock()
		prev := d.count
		d.count = len(displays)
		var handlers []func()
		switch changeFor(prev, d.count) {
		case integrity.DisplayAdded:
			handlers = append(handlers, d.added...)
		case integrity.DisplayRemoved:
			handlers = append(handlers, d.removed...)
		}
		d.mu.Unlock()

		if len(handlers) > 0 {
			d.logger.Debug("Display count changed", "from", prev, "to", len(displays))
		}
		for _, fn := range handlers {
			fn()
		}
	}
}

// displaysFromCrtcs expands active CRTCs into one display per output
func displaysFromCrtcs(crtcs []crtcMode) []integrity.Display {
	var displays []integrity.Display
	for _, c := range crtcs {
		if c.Mode == 0 || c.Width == 0 || c.Height == 0 {
			continue
		}
		for range c.Outputs {
			displays = append(displays, integrity.Display{
				WidthPx:     int(c.Width),
				HeightPx:    int(c.Height),
				ScaleFactor: 1.0,
			})
		}
	}
	return displays
}

// changeFor maps a change in display count to the kind of event.
// DisplayInitial means no change.
func changeFor(prev, cur int) integrity.DisplayChange {
	switch {
	case cur > prev:
		return integrity.DisplayAdded
	case cur < prev:
		return integrity.DisplayRemoved
	default:
		return integrity.DisplayInitial
	}
}
