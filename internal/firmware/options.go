// internal/firmware/options.go
package firmware

import (
	"context"
	"time"

	"keyboard-service/internal/model"
)

// Protocol timing and sizing. The bootloader has no flow control beyond drain, so
// these are fixed.
const (
	AckPollInterval = 50 * time.Millisecond
	AckTimeout      = 2000 * time.Millisecond

	// ChunkSize is the largest single write the serial driver accepts
	ChunkSize = 200
)

// ProgressCallback is called after each packet is copied to flash.
// Implementations should return quickly.
type ProgressCallback func(model.TransferProgress)

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config holds the flasher configuration
type Config struct {
	ProgressCallback ProgressCallback
	Sleep            SleepFunc

	ackTimeout time.Duration
}

func defaultConfig() Config {
	return Config{Sleep: Sleep, ackTimeout: AckTimeout}
}

// Option is a functional option for configuring the Flasher
type Option func(*Config)

// WithProgressCallback sets a callback to track transfer progress
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithSleep replaces the wait used between acknowledgement polls
func WithSleep(sleep SleepFunc) Option {
	return func(c *Config) {
		if sleep != nil {
			c.Sleep = sleep
		}
	}
}

// Sleep waits for d, returning early with ctx.Err() when ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
