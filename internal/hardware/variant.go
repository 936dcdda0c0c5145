// internal/hardware/variant.go
package hardware

import (
	"context"
	"strings"

	"keyboard-service/internal/focus"
	"keyboard-service/internal/model"
)

// Variant is the behaviour that differs between device families
type Variant interface {
	// Name identifies the family, e.g. "ANSI"
	Name() string

	// IsDeviceSupported checks an attached device that matched by USB id
	IsDeviceSupported(ctx context.Context, device model.DiscoveredDevice) (bool, error)
}

// ClientFactory returns a fresh focus client for a short-lived check
type ClientFactory func() *focus.Client

// LayoutVariant accepts a device when its firmware reports the expected layout
type LayoutVariant struct {
	Layout    string
	NewClient ClientFactory
}

// Name returns the layout
func (v LayoutVariant) Name() string {
	return v.Layout
}

// IsDeviceSupported opens the port, asks for hardware.layout and compares the trimmed answer
func (v LayoutVariant) IsDeviceSupported(ctx context.Context, device model.DiscoveredDevice) (bool, error) {
	client := v.NewClient()
	descriptor := device.Descriptor
	if err := client.Open(ctx, focus.Target{Path: device.Path, Device: &descriptor}); err != nil {
		return false, err
	}
	defer client.Close()

	layout, err := client.Command(ctx, "hardware.layout")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(layout) == v.Layout, nil
}
