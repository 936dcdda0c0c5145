// internal/hardware/registry.go
package hardware

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"keyboard-service/internal/model"
)

// URL is a named link shown next to a device
type URL struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Info is the display metadata of a device
type Info struct {
	Vendor       string `json:"vendor"`
	Product      string `json:"product"`
	KeyboardType string `json:"keyboard_type"`
	DisplayName  string `json:"display_name"`
	URLs         []URL  `json:"urls,omitempty"`
}

// Device is one registry entry: a keyboard, or the bootloader it enumerates as
// while being flashed
type Device struct {
	Info       Info                     `json:"info"`
	USB        model.HardwareDescriptor `json:"usb"`
	Rows       int                      `json:"rows,omitempty"`
	Columns    int                      `json:"columns,omitempty"`
	Bootloader bool                     `json:"bootloader"`

	// Instructions maps a language code to update instructions
	Instructions map[string]string `json:"instructions,omitempty"`

	// Variant is nil when every matching device is supported
	Variant Variant `json:"-"`
}

// UpdateInstructions returns the instructions for lang, falling back to English
func (d Device) UpdateInstructions(lang string) string {
	if s, ok := d.Instructions[lang]; ok && s != "" {
		return s
	}
	return d.Instructions["en"]
}

// Registry holds the supported hardware
type Registry struct {
	devices []Device
	index   map[model.HardwareDescriptor]int
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		index:  make(map[model.HardwareDescriptor]int),
		logger: logger,
	}
}

// Register adds a device, replacing any entry with the same descriptor
func (r *Registry) Register(device Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i, exists := r.index[device.USB]; exists {
		r.devices[i] = device
	} else {
		r.index[device.USB] = len(r.devices)
		r.devices = append(r.devices, device)
	}

	r.logger.Info("Device registered",
		zap.String("display_name", device.Info.DisplayName),
		zap.Stringer("usb", device.USB),
		zap.Bool("bootloader", device.Bootloader),
	)
}

// Lookup returns the entry for a descriptor
func (r *Registry) Lookup(descriptor model.HardwareDescriptor) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, exists := r.index[descriptor]
	if !exists {
		return Device{}, false
	}
	return r.devices[i], true
}

// Devices returns every entry in registration order
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// Keyboards returns the descriptors of application-mode devices
func (r *Registry) Keyboards() []model.HardwareDescriptor {
	return r.descriptors(false)
}

// Bootloaders returns the descriptors of bootloader-mode devices
func (r *Registry) Bootloaders() []model.HardwareDescriptor {
	return r.descriptors(true)
}

func (r *Registry) descriptors(bootloader bool) []model.HardwareDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.HardwareDescriptor
	for _, d := range r.devices {
		if d.Bootloader == bootloader {
			out = append(out, d.USB)
		}
	}
	return out
}

// BootloaderFor returns the bootloader descriptors of the keyboard's family,
// or every bootloader when the keyboard has no family match
func (r *Registry) BootloaderFor(keyboard model.HardwareDescriptor) []model.HardwareDescriptor {
	all := r.Bootloaders()

	var family []model.HardwareDescriptor
	for _, d := range all {
		if d.VendorID == keyboard.VendorID && d.KeyboardType == keyboard.KeyboardType {
			family = append(family, d)
		}
	}
	if len(family) == 0 {
		return all
	}
	return family
}

// IsDeviceSupported runs the variant check of the matched entry. Devices whose
// entry has no variant are supported.
func (r *Registry) IsDeviceSupported(ctx context.Context, device model.DiscoveredDevice) (bool, error) {
	entry, ok := r.Lookup(device.Descriptor)
	if !ok {
		return false, fmt.Errorf("unknown device %s", device.Descriptor)
	}
	if entry.Variant == nil {
		return true, nil
	}

	supported, err := entry.Variant.IsDeviceSupported(ctx, device)
	if err != nil {
		r.logger.Warn("Device support check failed",
			zap.String("port", device.Path),
			zap.Stringer("usb", device.Descriptor),
			zap.Error(err),
		)
		return false, err
	}
	return supported, nil
}
