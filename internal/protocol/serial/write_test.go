package serial

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink logs every call in order
type recordingSink struct {
	events   []string
	writeErr error
	drainErr error
}

func (s *recordingSink) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.events = append(s.events, "write:"+string(p))
	return len(p), nil
}

func (s *recordingSink) Drain() error {
	s.events = append(s.events, "drain")
	return s.drainErr
}

func (s *recordingSink) ResetOutputBuffer() error {
	s.events = append(s.events, "reset")
	return nil
}

func TestSplitWrite_DrainsAfterEveryPart(t *testing.T) {
	sink := &recordingSink{}

	require.NoError(t, splitWrite(context.Background(), sink, []byte("keymap.custom 1 2\n"), 0))
	assert.Equal(t, []string{
		"reset",
		"write:keymap.custom ",
		"drain",
		"write:1 ",
		"drain",
		"write:2\n",
		"drain",
	}, sink.events)
}

func TestSplitWrite_SingleWord(t *testing.T) {
	sink := &recordingSink{}

	require.NoError(t, splitWrite(context.Background(), sink, []byte("help\n"), 0))
	assert.Equal(t, []string{"reset", "write:help\n", "drain"}, sink.events)
}

func TestSplitWrite_WaitsForSettle(t *testing.T) {
	sink := &recordingSink{}

	start := time.Now()
	require.NoError(t, splitWrite(context.Background(), sink, []byte("version\n"), 30*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestSplitWrite_CancelledDuringSettle(t *testing.T) {
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := splitWrite(ctx, sink, []byte("version\n"), time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sink.events, "nothing reaches the port after a cancel")
}

func TestSplitWrite_StopsOnError(t *testing.T) {
	sink := &recordingSink{drainErr: errors.New("EIO")}

	err := splitWrite(context.Background(), sink, []byte("led.mode 2\n"), 0)
	assert.ErrorContains(t, err, "EIO")
	assert.Equal(t, []string{"reset", "write:led.mode ", "drain"}, sink.events)

	sink = &recordingSink{writeErr: ErrPortClosed}
	assert.ErrorIs(t, splitWrite(context.Background(), sink, []byte("led.mode 2\n"), 0), ErrPortClosed)
}
