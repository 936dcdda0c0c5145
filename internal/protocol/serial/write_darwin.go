// internal/protocol/serial/write_darwin.go
package serial

import (
	"context"
	"time"
)

// darwinSettleDelay gives the macOS CDC driver time to settle before a command
const darwinSettleDelay = 500 * time.Millisecond

// writeLine splits the command on spaces and drains after every part. The macOS
// driver truncates longer writes otherwise.
func writeLine(ctx context.Context, w lineSink, line []byte) error {
	return splitWrite(ctx, w, line, darwinSettleDelay)
}
