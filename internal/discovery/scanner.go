// internal/discovery/scanner.go
package discovery

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"keyboard-service/internal/model"
)

const (
	ScannerTypeUSB    = "usb"
	ScannerTypeSerial = "serial"
)

// DeviceScanner finds attached devices matching a candidate set
type DeviceScanner interface {
	Scan(ctx context.Context, candidates []model.HardwareDescriptor) ([]model.DiscoveredDevice, error)
	GetScannerType() string
	IsAvailable() bool
}

// ScannerManager runs every registered scanner
type ScannerManager struct {
	scanners map[string]DeviceScanner
	logger   *zap.Logger
}

// NewScannerManager creates a new scanner manager
func NewScannerManager(logger *zap.Logger) *ScannerManager {
	return &ScannerManager{
		scanners: make(map[string]DeviceScanner),
		logger:   logger,
	}
}

// RegisterScanner registers a device scanner
func (sm *ScannerManager) RegisterScanner(scanner DeviceScanner) {
	scannerType := scanner.GetScannerType()
	sm.scanners[scannerType] = scanner
	sm.logger.Info("Scanner registered", zap.String("type", scannerType))
}

// Scanner returns the scanner registered for a type
func (sm *ScannerManager) Scanner(scannerType string) (DeviceScanner, bool) {
	scanner, exists := sm.scanners[scannerType]
	return scanner, exists
}

// ScanAll runs every available scanner. A device seen by several scanners is
// reported once, preferring the entry that carries a serial path.
func (sm *ScannerManager) ScanAll(ctx context.Context, candidates []model.HardwareDescriptor) ([]model.DiscoveredDevice, error) {
	var all []model.DiscoveredDevice

	for _, scannerType := range sm.sortedTypes() {
		scanner := sm.scanners[scannerType]
		if !scanner.IsAvailable() {
			sm.logger.Debug("Scanner not available, skipping", zap.String("type", scannerType))
			continue
		}

		devices, err := scanner.Scan(ctx, candidates)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			sm.logger.Error("Scanner failed", zap.String("type", scannerType), zap.Error(err))
			continue
		}

		all = append(all, devices...)
		sm.logger.Debug("Scanner completed",
			zap.String("type", scannerType),
			zap.Int("devices_found", len(devices)),
		)
	}

	return dedupe(all), nil
}

// ScanByType runs one scanner
func (sm *ScannerManager) ScanByType(ctx context.Context, scannerType string, candidates []model.HardwareDescriptor) ([]model.DiscoveredDevice, error) {
	scanner, exists := sm.scanners[scannerType]
	if !exists {
		return nil, fmt.Errorf("scanner type not found: %s", scannerType)
	}

	if !scanner.IsAvailable() {
		return nil, fmt.Errorf("scanner not available: %s", scannerType)
	}

	return scanner.Scan(ctx, candidates)
}

// GetAvailableScanners returns list of available scanner types
func (sm *ScannerManager) GetAvailableScanners() []string {
	var available []string
	for _, scannerType := range sm.sortedTypes() {
		if sm.scanners[scannerType].IsAvailable() {
			available = append(available, scannerType)
		}
	}
	return available
}

func (sm *ScannerManager) sortedTypes() []string {
	types := make([]string, 0, len(sm.scanners))
	for t := range sm.scanners {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// dedupe keeps one entry per descriptor and serial number
func dedupe(devices []model.DiscoveredDevice) []model.DiscoveredDevice {
	type key struct {
		descriptor model.HardwareDescriptor
		serial     string
	}

	index := make(map[key]int)
	var unique []model.DiscoveredDevice

	for _, d := range devices {
		k := key{descriptor: d.Descriptor, serial: d.SerialNumber}
		if i, seen := index[k]; seen {
			if !unique[i].HasTransport() && d.HasTransport() {
				unique[i] = d
			}
			continue
		}
		index[k] = len(unique)
		unique = append(unique, d)
	}
	return unique
}
