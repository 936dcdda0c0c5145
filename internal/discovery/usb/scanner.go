// internal/discovery/usb/scanner.go
package usb

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"keyboard-service/internal/discovery"
	"keyboard-service/internal/model"
)

// Config for USB scanner
type Config struct {
	ScanTimeout   time.Duration `json:"scan_timeout"`
	EnableDebug   bool          `json:"enable_debug"`
	SkipPermCheck bool          `json:"skip_permission_check"`
}

// ListFunc enumerates attached USB devices
type ListFunc func(ctx context.Context) ([]model.USBDeviceInfo, error)

// Scanner finds devices by vendor and product id at the OS USB level. It sees
// devices that expose no serial interface, which is how bootloader mode is detected.
type Scanner struct {
	logger  *zap.Logger
	config  *Config
	list    ListFunc
	timeout time.Duration
}

// NewScanner creates a new USB scanner backed by libusb
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{ScanTimeout: 5 * time.Second}
	}

	s := &Scanner{
		logger:  logger.With(zap.String("scanner", "usb")),
		config:  config,
		timeout: config.ScanTimeout,
	}
	s.list = s.listDevices
	return s
}

// NewScannerWithList creates a scanner over a custom enumeration
func NewScannerWithList(logger *zap.Logger, list ListFunc) *Scanner {
	s := NewScanner(logger, nil)
	s.list = list
	return s
}

// GetScannerType returns scanner type identifier
func (s *Scanner) GetScannerType() string {
	return discovery.ScannerTypeUSB
}

// IsAvailable checks if USB scanning is available on this system
func (s *Scanner) IsAvailable() bool {
	switch runtime.GOOS {
	case "linux", "windows":
		return true
	case "darwin":
		if !s.config.SkipPermCheck {
			s.logger.Debug("USB scanning on macOS may require additional permissions")
		}
		return true
	default:
		s.logger.Warn("USB scanning support unknown for OS", zap.String("os", runtime.GOOS))
		return false
	}
}

// Scan returns the attached devices matching any candidate, in candidate order
// per device. Absence is not an error.
func (s *Scanner) Scan(ctx context.Context, candidates []model.HardwareDescriptor) ([]model.DiscoveredDevice, error) {
	startTime := time.Now()

	scanCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	devices, err := s.list(scanCtx)
	if err != nil {
		return nil, fmt.Errorf("device enumeration failed: %w", err)
	}

	var found []model.DiscoveredDevice
	for _, dev := range devices {
		for _, candidate := range candidates {
			if candidate.MatchesUSB(dev.VendorID, dev.ProductID) {
				found = append(found, model.DiscoveredDevice{Descriptor: candidate})
				break
			}
		}
	}

	s.logger.Debug("USB scan completed",
		zap.Int("usb_devices", len(devices)),
		zap.Int("devices_found", len(found)),
		zap.Duration("scan_duration", time.Since(startTime)),
	)
	return found, nil
}

// listDevices reads device descriptors without opening any device
func (s *Scanner) listDevices(ctx context.Context) ([]model.USBDeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	usbCtx := gousb.NewContext()
	defer func() {
		if err := usbCtx.Close(); err != nil {
			s.logger.Warn("Failed to close USB context", zap.Error(err))
		}
	}()

	if s.config.EnableDebug {
		usbCtx.Debug(3)
	}

	var infos []model.USBDeviceInfo
	_, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		infos = append(infos, model.USBDeviceInfo{
			VendorID:  uint16(desc.Vendor),
			ProductID: uint16(desc.Product),
			Bus:       desc.Bus,
			Address:   desc.Address,
		})
		return false
	})
	if err != nil {
		s.logger.Error("USB subsystem access failed", zap.Error(err))
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}

	return infos, nil
}
