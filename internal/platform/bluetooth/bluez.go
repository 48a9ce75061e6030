package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/godbus/dbus/v5"

	"go.olrik.dev/invigilator/internal/integrity"
)

const (
	bluezService    = "org.bluez"
	bluezDevice     = "org.bluez.Device1"
	getManagedObjs  = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
	keyboardIcon    = "input-keyboard"
	majorPeripheral = 0x05
	minorKeyboard   = 0x40
)

// BlueZ implements integrity.WirelessQuery by asking the BlueZ daemon over
// the system bus for paired devices.
type BlueZ struct {
	conn   *dbus.Conn
	logger *slog.Logger
}

var _ integrity.WirelessQuery = (*BlueZ)(nil)

// NewBlueZ connects to the system bus. The connection is shared with the
// rest of the process and is not closed by BlueZ.
func NewBlueZ(logger *slog.Logger) (*BlueZ, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return &BlueZ{conn: conn, logger: logger}, nil
}

// KeyboardPaired reports whether any paired Bluetooth device is a keyboard
func (b *BlueZ) KeyboardPaired(ctx context.Context) (bool, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

	obj := b.conn.Object(bluezService, "/")
	if err := obj.CallWithContext(ctx, getManagedObjs, 0).Store(&objects); err != nil {
		return false, fmt.Errorf("failed to list BlueZ objects: %w", err)
	}

	for path, ifaces := range objects {
		props, ok := ifaces[bluezDevice]
		if !ok {
			continue
		}
		if isPairedKeyboard(props) {
			b.logger.Debug("Paired Bluetooth keyboard found", "path", path)
			return true, nil
		}
	}
	return false, nil
}

// isPairedKeyboard checks a Device1 property set. A device is a keyboard
// when BlueZ gives it the keyboard icon or its class of device is a
// peripheral with the keyboard bit set.
func isPairedKeyboard(props map[string]dbus.Variant) bool {
	paired, _ := variant[bool](props, "Paired")
	if !paired {
		return false
	}

	if icon, ok := variant[string](props, "Icon"); ok && icon == keyboardIcon {
		return true
	}

	if class, ok := variant[uint32](props, "Class"); ok {
		major := (class >> 8) & 0x1f
		return major == majorPeripheral && class&minorKeyboard != 0
	}
	return false
}

func variant[T any](props map[string]dbus.Variant, key string) (T, bool) {
	var zero T
	v, ok := props[key]
	if !ok {
		return zero, false
	}
	t, ok := v.Value().(T)
	return t, ok
}

// Chain asks each query in turn until one answers. A query that errors is
// skipped; the chain fails only if every query fails.
type Chain []integrity.WirelessQuery

func (c Chain) KeyboardPaired(ctx context.Context) (bool, error) {
	var errs []error
	for _, q := range c {
		paired, err := q.KeyboardPaired(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return paired, nil
	}
	if len(errs) == 0 {
		return false, integrity.ErrUnsupportedPlatform
	}
	return false, errors.Join(errs...)
}

// NewDefault returns the wireless query for the running OS. On Linux BlueZ
// is asked first, with bluetoothctl as the fallback.
func NewDefault(logger *slog.Logger) integrity.WirelessQuery {
	if logger == nil {
		logger = slog.Default()
	}
	command := NewCommandQuery(logger)
	if runtime.GOOS != "linux" {
		return command
	}

	bluez, err := NewBlueZ(logger)
	if err != nil {
		logger.Debug("BlueZ unavailable, using bluetoothctl", "error", err)
		return command
	}
	return Chain{bluez, command}
}
