// internal/protocol/protocol.go
package protocol

import (
	"context"
	"io"
	"time"

	"keyboard-service/internal/model"
)

// Transport is an open serial link to a keyboard or its bootloader.
// Read may return (0, nil) when the read timeout elapses without data.
type Transport interface {
	io.ReadWriteCloser

	// Drain blocks until everything written has been transmitted
	Drain() error

	// Line control
	SetBaudRate(baudRate int) error
	SetDTR(on bool) error

	// Path returns the OS path the transport was opened on
	Path() string
}

// LineWriter is implemented by transports that need driver-specific handling
// when writing a text command line. Callers fall back to Write otherwise.
type LineWriter interface {
	WriteLine(ctx context.Context, line []byte) error
}

// Dialer opens transports by path
type Dialer interface {
	Dial(ctx context.Context, path string) (Transport, error)
}

// DialerFunc adapts a function to Dialer
type DialerFunc func(ctx context.Context, path string) (Transport, error)

// Dial calls f(ctx, path)
func (f DialerFunc) Dial(ctx context.Context, path string) (Transport, error) {
	return f(ctx, path)
}

// PortLister enumerates serial ports attached to the system
type PortLister interface {
	ListPorts(ctx context.Context) ([]model.PortInfo, error)
}

// PortListerFunc adapts a function to PortLister
type PortListerFunc func(ctx context.Context) ([]model.PortInfo, error)

// ListPorts calls f(ctx)
func (f PortListerFunc) ListPorts(ctx context.Context) ([]model.PortInfo, error) {
	return f(ctx)
}

// TransportStats provides transport-level statistics
type TransportStats struct {
	BytesWritten int64     `json:"bytes_written"`
	BytesRead    int64     `json:"bytes_read"`
	WriteCount   int64     `json:"write_count"`
	ErrorCount   int64     `json:"error_count"`
	LastActivity time.Time `json:"last_activity"`
	IsConnected  bool      `json:"is_connected"`
}
