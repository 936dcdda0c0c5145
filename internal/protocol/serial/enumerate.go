// internal/protocol/serial/enumerate.go
package serial

import (
	"context"
	"fmt"
	"strconv"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"keyboard-service/internal/model"
)

// Enumerator lists serial ports with their USB identity
type Enumerator struct {
	logger *zap.Logger
}

// NewEnumerator creates a port enumerator
func NewEnumerator(logger *zap.Logger) *Enumerator {
	return &Enumerator{logger: logger.With(zap.String("component", "serial-enumerator"))}
}

// ListPorts returns every serial port known to the OS
func (e *Enumerator) ListPorts(ctx context.Context) ([]model.PortInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	ports := make([]model.PortInfo, 0, len(details))
	for _, d := range details {
		info := model.PortInfo{
			Path:         d.Name,
			IsUSB:        d.IsUSB,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		}
		if d.IsUSB {
			info.VendorID = parseUSBID(d.VID)
			info.ProductID = parseUSBID(d.PID)
		}
		ports = append(ports, info)
	}

	e.logger.Debug("Serial ports listed", zap.Int("ports", len(ports)))
	return ports, nil
}

// parseUSBID parses the hex id strings reported by the enumerator ("1209", "0x1209")
func parseUSBID(s string) uint16 {
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	id, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(id)
}
