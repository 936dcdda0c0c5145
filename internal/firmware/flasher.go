// internal/firmware/flasher.go
package firmware

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"keyboard-service/internal/model"
	"keyboard-service/internal/protocol"
)

// SRAM buffer the bootloader receives packets into
const bufferAddress uint32 = 0x20005000

// Step is one fallible action of the transfer pipeline
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Flasher writes an image to a device already running its bootloader
type Flasher struct {
	transport protocol.Transport
	logger    *zap.Logger
	config    Config
}

// NewFlasher creates a flasher over an open bootloader transport
func NewFlasher(transport protocol.Transport, logger *zap.Logger, opts ...Option) *Flasher {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Flasher{
		transport: transport,
		logger:    logger.With(zap.String("component", "flasher"), zap.String("port", transport.Path())),
		config:    cfg,
	}
}

// FlashFile parses and flashes an Intel HEX file
func (f *Flasher) FlashFile(ctx context.Context, path string) error {
	img, err := Parse(path)
	if err != nil {
		return err
	}
	return f.Flash(ctx, img)
}

// Flash runs the full transfer: clear, erase, every packet, commit and disconnect.
// The bootloader guard is checked before anything is written.
func (f *Flasher) Flash(ctx context.Context, img *Image) error {
	if err := CheckBootloaderGuard(img); err != nil {
		f.logger.Error("Firmware rejected", zap.Error(err))
		return err
	}

	packets := Packetize(img)
	steps := f.Steps(packets)

	f.logger.Info("Starting firmware transfer",
		zap.Int("packets", len(packets)),
		zap.Int("bytes", img.TotalBytes()),
		zap.Int("steps", len(steps)),
	)

	startTime := time.Now()
	if err := RunSteps(ctx, steps); err != nil {
		f.logger.Error("Firmware transfer failed", zap.Error(err))
		return err
	}

	f.logger.Info("Firmware transfer completed", zap.Duration("duration", time.Since(startTime)))
	return nil
}

// Steps builds the ordered command pipeline for packets
func (f *Flasher) Steps(packets []Packet) []Step {
	total := 0
	for _, p := range packets {
		total += len(p.Payload)
	}

	steps := []Step{
		{Name: "clear", Run: f.command("N#")},
		{Name: "clear ack", Run: f.awaitAck},
		{Name: "erase", Run: f.command(fmt.Sprintf("X%08x#", BootloaderEnd))},
		{Name: "erase ack", Run: f.awaitAck},
	}

	written := 0
	for i, p := range packets {
		written += len(p.Payload)
		progress := model.TransferProgress{
			Packet:       i + 1,
			TotalPackets: len(packets),
			BytesWritten: written,
			TotalBytes:   total,
		}
		steps = append(steps, f.packetSteps(p, progress)...)
	}

	return append(steps,
		Step{Name: "commit", Run: f.command("WE000ED0C,05FA0004#")},
		Step{Name: "disconnect", Run: f.disconnect},
	)
}

func (f *Flasher) packetSteps(p Packet, progress model.TransferProgress) []Step {
	size := uint32(len(p.Payload))
	tag := fmt.Sprintf(" %d/%d", progress.Packet, progress.TotalPackets)

	return []Step{
		{Name: "select buffer" + tag, Run: f.command(fmt.Sprintf("S%08x,%08x#", bufferAddress, size))},
		{Name: "write payload" + tag, Run: f.write(p.Payload)},
		{Name: "reset read pointer" + tag, Run: f.command(fmt.Sprintf("Y%08x,0#", bufferAddress))},
		{Name: "read pointer ack" + tag, Run: f.awaitAck},
		{Name: "copy to flash" + tag, Run: f.command(fmt.Sprintf("Y%08x,%08x#", p.Address, size))},
		{Name: "copy ack" + tag, Run: func(ctx context.Context) error {
			if err := f.awaitAck(ctx); err != nil {
				return err
			}
			f.reportProgress(progress)
			return nil
		}},
	}
}

// RunSteps runs steps in order, stopping at the first failure
func RunSteps(ctx context.Context, steps []Step) error {
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return &StepError{Step: step.Name, Index: i, Err: err}
		}
		if err := step.Run(ctx); err != nil {
			return &StepError{Step: step.Name, Index: i, Err: err}
		}
	}
	return nil
}

func (f *Flasher) command(cmd string) func(ctx context.Context) error {
	return f.write([]byte(cmd))
}

// write sends data in ChunkSize pieces, one after another
func (f *Flasher) write(data []byte) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		for off := 0; off < len(data); off += ChunkSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := off + ChunkSize
			if end > len(data) {
				end = len(data)
			}
			if _, err := f.transport.Write(data[off:end]); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
		return nil
	}
}

// awaitAck polls Drain until it succeeds. The bootloader sends nothing useful
// back; a successful drain is the acknowledgement. A drain that never returns is
// abandoned once the wall-clock deadline passes.
func (f *Flasher) awaitAck(ctx context.Context) error {
	deadline := time.NewTimer(f.config.ackTimeout)
	defer deadline.Stop()

	var elapsed time.Duration
	for {
		if err := f.config.Sleep(ctx, AckPollInterval); err != nil {
			return err
		}
		elapsed += AckPollInterval

		drained := make(chan error, 1)
		go func() { drained <- f.transport.Drain() }()

		var err error
		select {
		case err = <-drained:
		case <-deadline.C:
			return fmt.Errorf("%w after %s: drain did not complete", ErrTransferTimeout, f.config.ackTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}

		if err == nil {
			return nil
		}
		if elapsed >= f.config.ackTimeout {
			return fmt.Errorf("%w after %s: %v", ErrTransferTimeout, elapsed, err)
		}
	}
}

func (f *Flasher) disconnect(ctx context.Context) error {
	if err := f.transport.Close(); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

func (f *Flasher) reportProgress(p model.TransferProgress) {
	f.logger.Debug("Packet written",
		zap.Int("packet", p.Packet),
		zap.Int("total_packets", p.TotalPackets),
		zap.Int("bytes_written", p.BytesWritten),
	)
	if f.config.ProgressCallback != nil {
		f.config.ProgressCallback(p)
	}
}
