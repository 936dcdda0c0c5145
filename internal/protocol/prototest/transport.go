// internal/protocol/prototest/transport.go

// Package prototest provides an in-memory protocol.Transport for tests
package prototest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ErrClosed is returned by writes after Close
var ErrClosed = errors.New("prototest: transport closed")

// Transport is a scriptable serial link. Bytes written are recorded; every
// newline-terminated line is passed to the responder, whose reply is fed back to
// readers.
type Transport struct {
	path string

	mu        sync.Mutex
	responder func(line string) string
	lineBuf   []byte
	written   bytes.Buffer
	writes    [][]byte
	events    []string
	drainFunc func() error
	writeErr  error
	pending   []byte

	reads     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// NewTransport creates an open transport reporting path
func NewTransport(path string) *Transport {
	return &Transport{
		path:   path,
		reads:  make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

// Reply formats a focus response: the given lines followed by the terminator line
func Reply(lines ...string) string {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	b.WriteString(".\r\n")
	return b.String()
}

// OnLine installs the responder. A non-empty return value is delivered to readers.
func (t *Transport) OnLine(fn func(line string) string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responder = fn
}

// OnDrain installs the Drain behaviour; Drain succeeds when unset
func (t *Transport) OnDrain(fn func() error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.drainFunc = fn
}

// FailWrites makes every subsequent Write return err
func (t *Transport) FailWrites(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

// Inject delivers data to readers as if the device had sent it
func (t *Transport) Inject(data string) {
	select {
	case <-t.closed:
	case t.reads <- []byte(data):
	}
}

// Read implements io.Reader. It returns io.EOF once the transport is closed.
func (t *Transport) Read(p []byte) (int, error) {
	t.mu.Lock()
	if len(t.pending) > 0 {
		n := copy(p, t.pending)
		t.pending = t.pending[n:]
		t.mu.Unlock()
		return n, nil
	}
	t.mu.Unlock()

	select {
	case <-t.closed:
		return 0, io.EOF
	case data := <-t.reads:
		n := copy(p, data)
		if n < len(data) {
			t.mu.Lock()
			t.pending = append(t.pending, data[n:]...)
			t.mu.Unlock()
		}
		return n, nil
	}
}

// Write implements io.Writer
func (t *Transport) Write(p []byte) (int, error) {
	select {
	case <-t.closed:
		return 0, ErrClosed
	default:
	}

	t.mu.Lock()
	if t.writeErr != nil {
		err := t.writeErr
		t.mu.Unlock()
		return 0, err
	}

	t.written.Write(p)
	t.writes = append(t.writes, append([]byte(nil), p...))
	t.lineBuf = append(t.lineBuf, p...)

	var replies []string
	for {
		i := bytes.IndexByte(t.lineBuf, '\n')
		if i < 0 {
			break
		}
		line := string(t.lineBuf[:i])
		t.lineBuf = t.lineBuf[i+1:]
		t.events = append(t.events, "line:"+line)
		if t.responder != nil {
			if reply := t.responder(line); reply != "" {
				replies = append(replies, reply)
			}
		}
	}
	t.mu.Unlock()

	for _, reply := range replies {
		t.Inject(reply)
	}
	return len(p), nil
}

// Drain records the call and runs the OnDrain behaviour
func (t *Transport) Drain() error {
	t.mu.Lock()
	fn := t.drainFunc
	t.events = append(t.events, "drain")
	t.mu.Unlock()

	if fn != nil {
		return fn()
	}
	return nil
}

// SetBaudRate records the change
func (t *Transport) SetBaudRate(baudRate int) error {
	t.record(fmt.Sprintf("baud:%d", baudRate))
	return nil
}

// SetDTR records the change
func (t *Transport) SetDTR(on bool) error {
	t.record(fmt.Sprintf("dtr:%t", on))
	return nil
}

// Path returns the path given to NewTransport
func (t *Transport) Path() string {
	return t.path
}

// Close unblocks readers. Closing twice is a no-op.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.record("close")
	})
	return nil
}

// Closed reports whether Close has been called
func (t *Transport) Closed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// Written returns every byte written so far
func (t *Transport) Written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.written.Bytes()...)
}

// Writes returns the individual Write payloads in order
func (t *Transport) Writes() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.writes))
	copy(out, t.writes)
	return out
}

// Lines returns the newline-terminated lines written so far
func (t *Transport) Lines() []string {
	var lines []string
	for _, e := range t.Events() {
		if strings.HasPrefix(e, "line:") {
			lines = append(lines, strings.TrimPrefix(e, "line:"))
		}
	}
	return lines
}

// Events returns the recorded line, drain and control-line events in order
func (t *Transport) Events() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.events...)
}

func (t *Transport) record(event string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}
