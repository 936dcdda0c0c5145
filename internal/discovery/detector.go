// internal/discovery/detector.go
package discovery

import (
	"context"

	"go.uber.org/zap"

	"keyboard-service/internal/model"
)

// SupportChecker confirms that a device matched by USB id is the expected one
type SupportChecker interface {
	IsDeviceSupported(ctx context.Context, device model.DiscoveredDevice) (bool, error)
}

// Detector answers whether a device matching a descriptor is attached. Absence is
// a normal outcome and is reported as found == false; err is reserved for
// enumeration failures and cancellation.
type Detector struct {
	usb     DeviceScanner
	serial  DeviceScanner
	support SupportChecker
	logger  *zap.Logger
}

// NewDetector creates a detector. usb may be nil, in which case bootloader
// presence is judged from serial ports alone. support may be nil.
func NewDetector(usb, serial DeviceScanner, support SupportChecker, logger *zap.Logger) *Detector {
	return &Detector{
		usb:     usb,
		serial:  serial,
		support: support,
		logger:  logger.With(zap.String("component", "detector")),
	}
}

// DetectBootloader looks for any bootloader-mode candidate. The first USB match
// wins; its serial path is resolved when the bootloader exposes one.
func (d *Detector) DetectBootloader(ctx context.Context, candidates []model.HardwareDescriptor) (model.DiscoveredDevice, bool, error) {
	if d.usb == nil || !d.usb.IsAvailable() {
		return d.first(ctx, d.serial, candidates)
	}

	device, found, err := d.first(ctx, d.usb, candidates)
	if err != nil || !found {
		return device, found, err
	}

	ports, err := d.serial.Scan(ctx, []model.HardwareDescriptor{device.Descriptor})
	if err != nil {
		d.logger.Warn("Bootloader serial port lookup failed", zap.Error(err))
		return device, true, nil
	}
	if len(ports) > 0 {
		device = ports[0]
	}

	d.logger.Info("Bootloader detected",
		zap.Stringer("usb", device.Descriptor),
		zap.String("port", device.Path),
	)
	return device, true, nil
}

// DetectKeyboard looks for the keyboard a session started with. Ports matching by
// USB id are additionally checked against the keyboard type so that another
// compatible keyboard is never mistaken for it.
func (d *Detector) DetectKeyboard(ctx context.Context, keyboard model.HardwareDescriptor) (model.DiscoveredDevice, bool, error) {
	matches, err := d.serial.Scan(ctx, []model.HardwareDescriptor{keyboard})
	if err != nil {
		return model.DiscoveredDevice{}, false, err
	}

	for _, m := range matches {
		if m.Descriptor.KeyboardType != keyboard.KeyboardType {
			continue
		}
		if d.support == nil {
			return m, true, nil
		}

		ok, err := d.support.IsDeviceSupported(ctx, m)
		if err != nil {
			if ctx.Err() != nil {
				return model.DiscoveredDevice{}, false, ctx.Err()
			}
			d.logger.Debug("Keyboard type check failed", zap.String("port", m.Path), zap.Error(err))
			continue
		}
		if ok {
			return m, true, nil
		}
		d.logger.Debug("Port is a different keyboard type",
			zap.String("port", m.Path),
			zap.String("expected", keyboard.KeyboardType),
		)
	}

	return model.DiscoveredDevice{}, false, nil
}

func (d *Detector) first(ctx context.Context, scanner DeviceScanner, candidates []model.HardwareDescriptor) (model.DiscoveredDevice, bool, error) {
	found, err := scanner.Scan(ctx, candidates)
	if err != nil {
		return model.DiscoveredDevice{}, false, err
	}
	if len(found) == 0 {
		return model.DiscoveredDevice{}, false, nil
	}
	return found[0], true, nil
}
