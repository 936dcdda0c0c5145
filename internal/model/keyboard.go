// internal/model/keyboard.go
package model

import (
	"fmt"
	"strings"
)

// HardwareDescriptor identifies a keyboard, or its bootloader, on the USB bus.
// Descriptors are static registry data and are never mutated.
type HardwareDescriptor struct {
	VendorID     uint16 `json:"vendor_id"`
	ProductID    uint16 `json:"product_id"`
	KeyboardType string `json:"keyboard_type"`
	IsSerial     bool   `json:"is_serial"`
}

// MatchesUSB reports whether the descriptor carries the given vendor/product pair
func (d HardwareDescriptor) MatchesUSB(vendorID, productID uint16) bool {
	return d.VendorID == vendorID && d.ProductID == productID
}

// String renders the descriptor as VID:PID (type)
func (d HardwareDescriptor) String() string {
	if d.KeyboardType == "" {
		return fmt.Sprintf("%04x:%04x", d.VendorID, d.ProductID)
	}
	return fmt.Sprintf("%04x:%04x (%s)", d.VendorID, d.ProductID, d.KeyboardType)
}

// PortInfo describes a serial port as reported by the operating system
type PortInfo struct {
	Path         string `json:"path"`
	IsUSB        bool   `json:"is_usb"`
	VendorID     uint16 `json:"vendor_id"`
	ProductID    uint16 `json:"product_id"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// USBDeviceInfo describes a device seen during USB enumeration
type USBDeviceInfo struct {
	VendorID  uint16 `json:"vendor_id"`
	ProductID uint16 `json:"product_id"`
	Bus       int    `json:"bus"`
	Address   int    `json:"address"`
}

// DiscoveredDevice is a descriptor matched against something currently attached.
// Path is empty for USB-only matches (bootloader mode has no serial handle yet).
type DiscoveredDevice struct {
	Descriptor   HardwareDescriptor `json:"descriptor"`
	Path         string             `json:"path,omitempty"`
	SerialNumber string             `json:"serial_number,omitempty"`
	Product      string             `json:"product,omitempty"`
}

// HasTransport reports whether the device can be opened as a serial port
func (d *DiscoveredDevice) HasTransport() bool {
	return d != nil && d.Path != ""
}

// Command is a single focus protocol command line
type Command struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
}

// Line renders the command as sent on the wire, without the trailing newline
func (c Command) Line() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// MatchPorts pairs USB serial ports with the descriptors they match by vendor and
// product id. A port matching several descriptors is reported once per descriptor.
func MatchPorts(ports []PortInfo, descriptors []HardwareDescriptor) []DiscoveredDevice {
	var found []DiscoveredDevice
	for _, port := range ports {
		if !port.IsUSB {
			continue
		}
		for _, d := range descriptors {
			if d.MatchesUSB(port.VendorID, port.ProductID) {
				found = append(found, DiscoveredDevice{
					Descriptor:   d,
					Path:         port.Path,
					SerialNumber: port.SerialNumber,
					Product:      port.Product,
				})
			}
		}
	}
	return found
}
