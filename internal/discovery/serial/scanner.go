// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"keyboard-service/internal/discovery"
	"keyboard-service/internal/model"
	"keyboard-service/internal/protocol"
)

// Scanner finds devices that expose a serial interface
type Scanner struct {
	lister protocol.PortLister
	logger *zap.Logger
}

// NewScanner creates a serial scanner over a port lister
func NewScanner(lister protocol.PortLister, logger *zap.Logger) *Scanner {
	return &Scanner{
		lister: lister,
		logger: logger.With(zap.String("scanner", "serial")),
	}
}

// GetScannerType returns scanner type
func (s *Scanner) GetScannerType() string {
	return discovery.ScannerTypeSerial
}

// IsAvailable checks if serial scanning is available
func (s *Scanner) IsAvailable() bool {
	return true
}

// Scan returns the serial ports matching any candidate
func (s *Scanner) Scan(ctx context.Context, candidates []model.HardwareDescriptor) ([]model.DiscoveredDevice, error) {
	ports, err := s.lister.ListPorts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	found := model.MatchPorts(ports, candidates)
	s.logger.Debug("Serial scan completed",
		zap.Int("ports", len(ports)),
		zap.Int("devices_found", len(found)),
	)
	return found, nil
}
