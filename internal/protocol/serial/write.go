// internal/protocol/serial/write.go
package serial

import (
	"bytes"
	"context"
	"time"
)

// lineSink is the part of a port that command line writes use
type lineSink interface {
	Write(p []byte) (int, error)
	Drain() error
	ResetOutputBuffer() error
}

// splitWrite waits settle, discards unsent output, then writes line one
// space-separated part at a time and drains after every part
func splitWrite(ctx context.Context, w lineSink, line []byte, settle time.Duration) error {
	if settle > 0 {
		timer := time.NewTimer(settle)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	if err := w.ResetOutputBuffer(); err != nil {
		return err
	}

	parts := bytes.Split(line, []byte(" "))
	for i, part := range parts {
		if i < len(parts)-1 {
			part = append(append([]byte{}, part...), ' ')
		}
		if _, err := w.Write(part); err != nil {
			return err
		}
		if err := w.Drain(); err != nil {
			return err
		}
	}
	return nil
}
