// Package usb enumerates USB devices from sysfs and reports hotplug events.
package usb

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.olrik.dev/invigilator/internal/integrity"
)

// DefaultSysfsRoot is where the kernel lists USB devices and interfaces
const DefaultSysfsRoot = "/sys/bus/usb/devices"

// Sysfs implements integrity.DeviceEnumerator by reading the kernel's
// descriptor attributes. No device node is opened.
type Sysfs struct {
	root string
}

var _ integrity.DeviceEnumerator = (*Sysfs)(nil)

// NewSysfs creates an enumerator rooted at root, or DefaultSysfsRoot when
// root is empty.
func NewSysfs(root string) *Sysfs {
	if root == "" {
		root = DefaultSysfsRoot
	}
	return &Sysfs{root: root}
}

// ListAttachedDevices returns every device directory under the root.
// Interface directories (names containing ':') are not devices.
func (s *Sysfs) ListAttachedDevices() ([]integrity.USBDevice, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.root, err)
	}

	var devices []integrity.USBDevice
	for _, entry := range entries {
		name := entry.Name()
		if strings.Contains(name, ":") {
			continue
		}

		dir := filepath.Join(s.root, name)
		desc, err := readDescriptor(dir)
		if err != nil {
			// Not a device directory, or it vanished while we looked
			if os.IsNotExist(err) {
				continue
			}
			devices = append(devices, &sysfsDevice{dir: dir, name: name, err: err})
			continue
		}
		devices = append(devices, &sysfsDevice{dir: dir, name: name, desc: desc})
	}
	return devices, nil
}

type sysfsDevice struct {
	dir  string
	name string
	desc integrity.DeviceDescriptor

	// err is set when the device descriptor could not be read
	err error
}

func (d *sysfsDevice) Descriptor() integrity.DeviceDescriptor { return d.desc }

func (d *sysfsDevice) String() string {
	return fmt.Sprintf("%s (%04x:%04x)", d.name, d.desc.VendorID, d.desc.ProductID)
}

// Interfaces reads the interface descriptors of the active configuration
func (d *sysfsDevice) Interfaces() ([]integrity.InterfaceDescriptor, error) {
	if d.err != nil {
		return nil, d.err
	}

	dirs, err := filepath.Glob(filepath.Join(filepath.Dir(d.dir), d.name+":*"))
	if err != nil {
		return nil, err
	}

	ifaces := make([]integrity.InterfaceDescriptor, 0, len(dirs))
	for _, dir := range dirs {
		class, err := readHex(dir, "bInterfaceClass", 8)
		if err != nil {
			return nil, err
		}
		subClass, err := readHex(dir, "bInterfaceSubClass", 8)
		if err != nil {
			return nil, err
		}
		protocol, err := readHex(dir, "bInterfaceProtocol", 8)
		if err != nil {
			return nil, err
		}
		ifaces = append(ifaces, integrity.InterfaceDescriptor{
			Class:    uint8(class),
			SubClass: uint8(subClass),
			Protocol: uint8(protocol),
		})
	}
	return ifaces, nil
}

func readDescriptor(dir string) (integrity.DeviceDescriptor, error) {
	vendor, err := readHex(dir, "idVendor", 16)
	if err != nil {
		return integrity.DeviceDescriptor{}, err
	}
	product, err := readHex(dir, "idProduct", 16)
	if err != nil {
		return integrity.DeviceDescriptor{}, err
	}
	class, err := readHex(dir, "bDeviceClass", 8)
	if err != nil {
		return integrity.DeviceDescriptor{}, err
	}
	return integrity.DeviceDescriptor{
		VendorID:    uint16(vendor),
		ProductID:   uint16(product),
		DeviceClass: uint8(class),
	}, nil
}

// readHex parses a sysfs attribute holding a hex number such as "046d"
func readHex(dir, attr string, bits int) (uint64, error) {
	data, err := os.ReadFile(filepath.Join(dir, attr))
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 16, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid %s in %s: %w", attr, dir, err)
	}
	return v, nil
}
