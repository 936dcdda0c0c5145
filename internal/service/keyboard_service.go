// internal/service/keyboard_service.go
package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"keyboard-service/internal/discovery"
	"keyboard-service/internal/focus"
	"keyboard-service/internal/hardware"
	"keyboard-service/internal/model"
)

// KeyboardService finds attached keyboards and talks to them outside of an update
type KeyboardService struct {
	scanners *discovery.ScannerManager
	registry *hardware.Registry
	client   *focus.Client
	gate     *DeviceGate
	logger   *zap.Logger
}

// NewKeyboardService creates a keyboard service. client must not be shared with
// an update orchestrator; gate must be the one the update service holds.
func NewKeyboardService(
	scanners *discovery.ScannerManager,
	registry *hardware.Registry,
	client *focus.Client,
	gate *DeviceGate,
	logger *zap.Logger,
) *KeyboardService {
	return &KeyboardService{
		scanners: scanners,
		registry: registry,
		client:   client,
		gate:     gate,
		logger:   logger.With(zap.String("service", "keyboard-service")),
	}
}

// ListKeyboards returns the attached keyboards that pass their support check.
// It fails with ErrKeyboardBusy while an update session runs.
func (s *KeyboardService) ListKeyboards(ctx context.Context) ([]KeyboardInfo, error) {
	release, err := s.gate.Enter()
	if err != nil {
		return nil, err
	}
	defer release()

	return s.listKeyboards(ctx)
}

func (s *KeyboardService) listKeyboards(ctx context.Context) ([]KeyboardInfo, error) {
	devices, err := s.scanners.ScanByType(ctx, discovery.ScannerTypeSerial, s.registry.Keyboards())
	if err != nil {
		return nil, fmt.Errorf("keyboard scan failed: %w", err)
	}

	keyboards := []KeyboardInfo{}
	for _, d := range devices {
		supported, err := s.registry.IsDeviceSupported(ctx, d)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			continue
		}
		if !supported {
			continue
		}

		entry, _ := s.registry.Lookup(d.Descriptor)
		keyboards = append(keyboards, KeyboardInfo{
			Port:         d.Path,
			DisplayName:  entry.Info.DisplayName,
			Descriptor:   d.Descriptor,
			SerialNumber: d.SerialNumber,
			Instructions: entry.UpdateInstructions("en"),
		})
	}

	s.logger.Info("Keyboard scan completed", zap.Int("keyboards_found", len(keyboards)))
	return keyboards, nil
}

// Locate returns the supported keyboard attached at port. It does not take the
// gate; the update service calls it while holding the session.
func (s *KeyboardService) Locate(ctx context.Context, port string) (model.DiscoveredDevice, error) {
	keyboards, err := s.listKeyboards(ctx)
	if err != nil {
		return model.DiscoveredDevice{}, err
	}
	for _, k := range keyboards {
		if k.Port == port {
			return model.DiscoveredDevice{
				Descriptor:   k.Descriptor,
				Path:         k.Port,
				SerialNumber: k.SerialNumber,
			}, nil
		}
	}
	return model.DiscoveredDevice{}, fmt.Errorf("%w: %s", ErrKeyboardNotFound, port)
}

// RunCommand sends one focus command and returns the raw reply
func (s *KeyboardService) RunCommand(ctx context.Context, req *CommandRequest) (*CommandResponse, error) {
	release, err := s.gate.Enter()
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.client.Open(ctx, focus.Target{Path: req.Port}); err != nil {
		return nil, err
	}
	defer s.client.Close()

	response, err := s.client.Command(ctx, req.Command, req.Args...)
	if err != nil {
		s.logger.Warn("Keyboard command failed",
			zap.String("port", req.Port),
			zap.String("command", req.Command),
			zap.Error(err),
		)
		return nil, err
	}

	lines := []string{}
	for _, line := range strings.Split(response, "\r\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}

	return &CommandResponse{
		Port:     req.Port,
		Command:  req.Command,
		Response: response,
		Lines:    lines,
	}, nil
}

// Help lists the commands the keyboard firmware understands
func (s *KeyboardService) Help(ctx context.Context, port string) ([]string, error) {
	release, err := s.gate.Enter()
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.client.Open(ctx, focus.Target{Path: port}); err != nil {
		return nil, err
	}
	defer s.client.Close()

	return s.client.Help(ctx)
}
