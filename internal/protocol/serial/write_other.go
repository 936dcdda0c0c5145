// internal/protocol/serial/write_other.go

//go:build !darwin

package serial

import "context"

func writeLine(ctx context.Context, w lineSink, line []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := w.Write(line)
	return err
}
