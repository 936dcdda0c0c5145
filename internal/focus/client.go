// internal/focus/client.go

// Package focus implements the focus protocol: line-oriented text commands sent
// over a serial link, each answered by zero or more lines and a single "." line.
//
// The protocol carries no request ids. Responses are matched to requests purely
// by arrival order, so a Client never has more than one request in flight.
package focus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"keyboard-service/internal/model"
	"keyboard-service/internal/protocol"
)

const (
	// DefaultTimeout bounds a single request
	DefaultTimeout = 5 * time.Second

	lineDelimiter = "\r\n"
	terminator    = "."
	readBufSize   = 1024
)

// Handler overrides how a named command is executed
type Handler interface {
	Handle(ctx context.Context, c *Client, args ...string) (string, error)
}

// HandlerFunc adapts a plain function to Handler
type HandlerFunc func(ctx context.Context, c *Client, args ...string) (string, error)

// Handle calls f(ctx, c, args...)
func (f HandlerFunc) Handle(ctx context.Context, c *Client, args ...string) (string, error) {
	return f(ctx, c, args...)
}

// Option configures a Client
type Option func(*Client)

// WithTimeout overrides the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Target selects what Open connects to. Exactly one of Transport, Path or a bare
// Device is used, in that order of precedence.
type Target struct {
	Transport protocol.Transport
	Path      string
	Device    *model.HardwareDescriptor
}

// Client owns one focus connection. Create one per session; clients are never shared
// between sessions.
type Client struct {
	dialer  protocol.Dialer
	lister  protocol.PortLister
	logger  *zap.Logger
	timeout time.Duration

	// serializes Request; held for the whole write/await cycle
	reqMu sync.Mutex

	mu   sync.Mutex
	conn *connection

	commandsMu sync.RWMutex
	commands   map[string]Handler
}

// NewClient creates a client that opens ports through dialer and resolves
// descriptors through lister
func NewClient(dialer protocol.Dialer, lister protocol.PortLister, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		dialer:   dialer,
		lister:   lister,
		logger:   logger.With(zap.String("component", "focus")),
		timeout:  DefaultTimeout,
		commands: make(map[string]Handler),
	}
	c.commands["help"] = HandlerFunc(helpHandler)

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Find lists serial ports matching any of the descriptors, annotated with the
// descriptor each one matched
func (c *Client) Find(ctx context.Context, devices ...model.HardwareDescriptor) ([]model.DiscoveredDevice, error) {
	ports, err := c.lister.ListPorts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	found := model.MatchPorts(ports, devices)

	c.logger.Debug("focus.find",
		zap.Int("ports", len(ports)),
		zap.Int("found", len(found)),
	)
	return found, nil
}

// Open connects to target, replacing any connection this client already holds
func (c *Client) Open(ctx context.Context, target Target) error {
	transport, device, err := c.resolve(ctx, target)
	if err != nil {
		return err
	}

	c.mu.Lock()
	previous := c.conn
	c.conn = newConnection(transport, device, c.logger)
	c.mu.Unlock()

	if previous != nil {
		previous.close()
	}

	c.logger.Info("Focus connection opened",
		zap.String("port", transport.Path()),
		zap.Stringer("device", deviceStringer{device}),
	)
	return nil
}

func (c *Client) resolve(ctx context.Context, target Target) (protocol.Transport, *model.HardwareDescriptor, error) {
	switch {
	case target.Transport != nil:
		return target.Transport, target.Device, nil

	case target.Path != "":
		transport, err := c.dialer.Dial(ctx, target.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrConnection, target.Path, err)
		}
		return transport, target.Device, nil

	case target.Device != nil:
		found, err := c.Find(ctx, *target.Device)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrConnection, err)
		}
		if len(found) == 0 {
			return nil, nil, fmt.Errorf("%w: no device matching %s", ErrConnection, target.Device)
		}
		transport, err := c.dialer.Dial(ctx, found[0].Path)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrConnection, found[0].Path, err)
		}
		return transport, target.Device, nil

	default:
		return nil, nil, fmt.Errorf("%w: empty target", ErrConnection)
	}
}

// Close releases the transport. Closing a closed client is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.close()
}

// IsOpen reports whether the client holds a connection
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Device returns the descriptor the connection was opened for, if any
func (c *Client) Device() *model.HardwareDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.device
}

// Transport exposes the open transport for line control (baud rate, DTR)
func (c *Client) Transport() protocol.Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.transport
}

// Request sends cmd with args and returns the response text up to the terminator.
// Concurrent callers queue behind the request in flight.
func (c *Client) Request(ctx context.Context, cmd string, args ...string) (string, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return "", ErrNotConnected
	}

	line := model.Command{Name: cmd, Args: args}.Line()
	c.logger.Debug("focus.request", zap.String("command", cmd), zap.Int("args", len(args)))

	slot, err := conn.enqueue()
	if err != nil {
		return "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := conn.writeLine(reqCtx, line+"\n"); err != nil {
		conn.dequeue(slot)
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s", ErrCommunicationTimeout, cmd)
		}
		return "", fmt.Errorf("failed to send %s: %w", cmd, err)
	}

	select {
	case resp := <-slot:
		if resp.err != nil {
			return "", resp.err
		}
		return resp.data, nil
	case <-reqCtx.Done():
		// The slot stays queued so a late response is absorbed instead of being
		// handed to the next request.
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: %s after %s", ErrCommunicationTimeout, cmd, c.timeout)
	}
}

// Command runs a registered handler for name, or falls through to Request
func (c *Client) Command(ctx context.Context, name string, args ...string) (string, error) {
	c.commandsMu.RLock()
	handler, ok := c.commands[name]
	c.commandsMu.RUnlock()

	if ok {
		return handler.Handle(ctx, c, args...)
	}
	return c.Request(ctx, name, args...)
}

// AddCommands registers handlers, replacing existing ones with the same name
func (c *Client) AddCommands(handlers map[string]Handler) {
	c.commandsMu.Lock()
	defer c.commandsMu.Unlock()

	for name, h := range handlers {
		c.commands[name] = h
	}
}

// Probe checks that the device speaks focus
func (c *Client) Probe(ctx context.Context) (string, error) {
	return c.Request(ctx, "help")
}

// Help returns the commands the firmware supports
func (c *Client) Help(ctx context.Context) ([]string, error) {
	data, err := c.Command(ctx, "help")
	if err != nil {
		return nil, err
	}
	return splitLines(data), nil
}

func helpHandler(ctx context.Context, c *Client, _ ...string) (string, error) {
	data, err := c.Request(ctx, "help")
	if err != nil {
		return "", err
	}
	return strings.Join(splitLines(data), "\n"), nil
}

// splitLines splits on \n or \r\n and drops empty lines
func splitLines(data string) []string {
	var lines []string
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

type deviceStringer struct {
	device *model.HardwareDescriptor
}

func (d deviceStringer) String() string {
	if d.device == nil {
		return "unknown"
	}
	return d.device.String()
}
