// internal/focus/connection.go
package focus

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"keyboard-service/internal/model"
	"keyboard-service/internal/protocol"
)

type response struct {
	data string
	err  error
}

// connection pairs a transport with its reader goroutine and the FIFO of
// requests awaiting a terminator
type connection struct {
	transport protocol.Transport
	device    *model.HardwareDescriptor
	logger    *zap.Logger

	mu      sync.Mutex
	pending []chan response
	result  []string
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(transport protocol.Transport, device *model.HardwareDescriptor, logger *zap.Logger) *connection {
	c := &connection{
		transport: transport,
		device:    device,
		logger:    logger.With(zap.String("port", transport.Path())),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// enqueue reserves the next response slot
func (c *connection) enqueue() (chan response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}
	slot := make(chan response, 1)
	c.pending = append(c.pending, slot)
	return slot, nil
}

// dequeue drops a slot whose request never reached the wire
func (c *connection) dequeue(slot chan response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, s := range c.pending {
		if s == slot {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

func (c *connection) writeLine(ctx context.Context, line string) error {
	if lw, ok := c.transport.(protocol.LineWriter); ok {
		return lw.WriteLine(ctx, []byte(line))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.transport.Write([]byte(line))
	return err
}

func (c *connection) readLoop() {
	splitter := newLineSplitter(lineDelimiter)
	buf := make([]byte, readBufSize)

	for {
		n, err := c.transport.Read(buf)
		if n > 0 {
			for _, line := range splitter.Feed(buf[:n]) {
				c.handleLine(line)
			}
		}
		if err != nil {
			select {
			case <-c.done:
			default:
				if !errors.Is(err, io.EOF) {
					c.logger.Warn("Focus read failed", zap.Error(err))
				}
			}
			if partial := splitter.Pending(); partial > 0 {
				c.logger.Debug("Partial focus line discarded", zap.Int("bytes", partial))
			}
			c.fail(ErrConnectionLost)
			return
		}
	}
}

func (c *connection) handleLine(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if line != terminator {
		c.result = append(c.result, line)
		return
	}

	data := strings.Join(c.result, lineDelimiter)
	c.result = nil

	if len(c.pending) == 0 {
		c.logger.Debug("Unsolicited focus response discarded", zap.Int("bytes", len(data)))
		return
	}

	slot := c.pending[0]
	c.pending = c.pending[1:]
	slot <- response{data: data}
}

// fail resolves every pending request with err and refuses new ones
func (c *connection) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err == nil {
		c.err = err
	}
	for _, slot := range c.pending {
		slot <- response{err: c.err}
	}
	c.pending = nil
}

func (c *connection) close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.transport.Close()
		c.fail(ErrConnectionLost)
	})
	return err
}
