// internal/protocol/serial/connection.go
package serial

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"keyboard-service/internal/protocol"
)

// ErrPortClosed is returned by I/O on a connection that is not open
var ErrPortClosed = errors.New("serial port not open")

// Connection represents a serial port connection
type Connection struct {
	path   string
	config protocol.SerialConfig
	port   serial.Port
	logger *zap.Logger
	mutex  sync.RWMutex
	isOpen bool
	stats  protocol.TransportStats
}

// NewConnection creates a new serial connection
func NewConnection(path string, config protocol.SerialConfig, logger *zap.Logger) (*Connection, error) {
	if path == "" {
		return nil, fmt.Errorf("port is required")
	}

	return &Connection{
		path:   path,
		config: config,
		logger: logger.With(
			zap.String("protocol", "serial"),
			zap.String("port", path),
		),
	}, nil
}

// Open opens the serial connection
func (c *Connection) Open(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.isOpen {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	port, err := serial.Open(c.path, c.mode(c.config.BaudRate))
	if err != nil {
		c.logger.Error("Failed to open serial port", zap.Error(err))
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	if err := port.SetReadTimeout(c.config.ReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	c.port = port
	c.isOpen = true
	c.stats.IsConnected = true
	c.stats.LastActivity = time.Now()

	c.logger.Info("Serial port opened successfully",
		zap.Int("baud_rate", c.config.BaudRate),
	)

	return nil
}

// mode builds the port mode for a baud rate
func (c *Connection) mode(baudRate int) *serial.Mode {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: c.config.DataBits,
		StopBits: serial.OneStopBit,
	}

	switch c.config.Parity {
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		mode.Parity = serial.NoParity
	}

	return mode
}

// Close closes the serial connection. Closing a closed connection is a no-op.
func (c *Connection) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.isOpen || c.port == nil {
		return nil
	}

	err := c.port.Close()
	c.port = nil
	c.isOpen = false
	c.stats.IsConnected = false

	if err != nil {
		c.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	c.logger.Info("Serial port closed",
		zap.Int64("bytes_written", c.stats.BytesWritten),
		zap.Int64("bytes_read", c.stats.BytesRead),
	)
	return nil
}

// Read reads whatever is available. It returns (0, nil) when the read timeout elapses.
func (c *Connection) Read(p []byte) (int, error) {
	c.mutex.RLock()
	port := c.port
	c.mutex.RUnlock()

	if port == nil {
		return 0, ErrPortClosed
	}

	n, err := port.Read(p)
	if err != nil {
		if !c.IsOpen() {
			return n, ErrPortClosed
		}
		c.mutex.Lock()
		c.stats.ErrorCount++
		c.mutex.Unlock()
		return n, fmt.Errorf("failed to read from serial port: %w", err)
	}

	if n > 0 {
		c.mutex.Lock()
		c.stats.BytesRead += int64(n)
		c.stats.LastActivity = time.Now()
		c.mutex.Unlock()
	}

	return n, nil
}

// Write writes data to the serial port
func (c *Connection) Write(data []byte) (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.isOpen || c.port == nil {
		return 0, ErrPortClosed
	}

	n, err := c.port.Write(data)
	if err != nil {
		c.stats.ErrorCount++
		c.logger.Error("Failed to write to serial port",
			zap.Error(err),
			zap.Int("bytes_to_write", len(data)),
		)
		return n, fmt.Errorf("failed to write to serial port: %w", err)
	}

	if n != len(data) {
		return n, fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	c.stats.BytesWritten += int64(n)
	c.stats.WriteCount++
	c.stats.LastActivity = time.Now()

	c.logger.Debug("Data written to serial port", zap.Int("bytes_written", n))
	return n, nil
}

// WriteLine writes a text command line, applying the platform write quirk
func (c *Connection) WriteLine(ctx context.Context, line []byte) error {
	return writeLine(ctx, c, line)
}

// Drain blocks until the output buffer has been transmitted
func (c *Connection) Drain() error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if !c.isOpen || c.port == nil {
		return ErrPortClosed
	}

	if err := c.port.Drain(); err != nil {
		return fmt.Errorf("failed to drain serial port: %w", err)
	}
	return nil
}

// ResetOutputBuffer discards data written but not yet transmitted
func (c *Connection) ResetOutputBuffer() error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if !c.isOpen || c.port == nil {
		return ErrPortClosed
	}
	return c.port.ResetOutputBuffer()
}

// SetBaudRate reconfigures the port speed
func (c *Connection) SetBaudRate(baudRate int) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.isOpen || c.port == nil {
		return ErrPortClosed
	}

	if err := c.port.SetMode(c.mode(baudRate)); err != nil {
		return fmt.Errorf("failed to set baud rate %d: %w", baudRate, err)
	}

	c.logger.Debug("Baud rate changed", zap.Int("baud_rate", baudRate))
	return nil
}

// SetDTR asserts or deasserts the DTR line
func (c *Connection) SetDTR(on bool) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.isOpen || c.port == nil {
		return ErrPortClosed
	}

	if err := c.port.SetDTR(on); err != nil {
		return fmt.Errorf("failed to set DTR: %w", err)
	}

	c.logger.Debug("DTR changed", zap.Bool("dtr", on))
	return nil
}

// Path returns the port path
func (c *Connection) Path() string {
	return c.path
}

// IsOpen returns whether the connection is open
func (c *Connection) IsOpen() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.isOpen
}

// Stats returns a snapshot of the transport statistics
func (c *Connection) Stats() protocol.TransportStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.stats
}

// Dialer opens serial connections with a shared configuration
type Dialer struct {
	config protocol.SerialConfig
	logger *zap.Logger
}

// NewDialer creates a dialer for focus and bootloader connections
func NewDialer(config protocol.SerialConfig, logger *zap.Logger) *Dialer {
	return &Dialer{config: config, logger: logger}
}

// Dial opens the port at path
func (d *Dialer) Dial(ctx context.Context, path string) (protocol.Transport, error) {
	conn, err := NewConnection(path, d.config, d.logger)
	if err != nil {
		return nil, err
	}
	if err := conn.Open(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}
