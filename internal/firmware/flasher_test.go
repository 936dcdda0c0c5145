package firmware

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"keyboard-service/internal/model"
	"keyboard-service/internal/protocol/prototest"
)

// fakeSleep records waits without sleeping
type fakeSleep struct {
	total time.Duration
	calls int
}

func (s *fakeSleep) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.calls++
	s.total += d
	return nil
}

func newTestFlasher(t *testing.T, opts ...Option) (*Flasher, *prototest.Transport, *fakeSleep) {
	t.Helper()
	tr := prototest.NewTransport("/dev/ttyACM1")
	sleep := &fakeSleep{}
	opts = append([]Option{WithSleep(sleep.Sleep)}, opts...)
	return NewFlasher(tr, zaptest.NewLogger(t), opts...), tr, sleep
}

func TestFlash_CommandSequence(t *testing.T) {
	f, tr, _ := newTestFlasher(t)
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	img := &Image{Records: []Record{ela(0), {Address: 0x2000, Type: RecordData, Data: payload}}}
	require.NoError(t, f.Flash(context.Background(), img))

	var want bytes.Buffer
	want.WriteString("N#")
	want.WriteString("X00002000#")
	want.WriteString("S20005000,00000004#")
	want.Write(payload)
	want.WriteString("Y20005000,0#")
	want.WriteString("Y00002000,00000004#")
	want.WriteString("WE000ED0C,05FA0004#")

	assert.Equal(t, want.Bytes(), tr.Written())
	assert.True(t, tr.Closed(), "transfer ends with a disconnect")

	drains := 0
	for _, e := range tr.Events() {
		if e == "drain" {
			drains++
		}
	}
	assert.Equal(t, 4, drains, "clear, erase, read pointer and copy are acknowledged")
}

func TestFlash_GuardBlocksAllWrites(t *testing.T) {
	f, tr, _ := newTestFlasher(t)

	img := &Image{Records: []Record{data(0x1000, 16, 0)}}
	err := f.Flash(context.Background(), img)

	require.ErrorIs(t, err, ErrWouldOverwriteBootloader)
	assert.Empty(t, tr.Written())
	assert.False(t, tr.Closed())
}

func TestFlash_AckTimeout(t *testing.T) {
	f, tr, sleep := newTestFlasher(t)
	tr.OnDrain(func() error { return errors.New("not ready") })

	err := f.Flash(context.Background(), &Image{Records: []Record{data(0x2000, 16, 0)}})
	require.ErrorIs(t, err, ErrTransferTimeout)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "clear ack", stepErr.Step)
	assert.Equal(t, AckTimeout, sleep.total)
	assert.Equal(t, int(AckTimeout/AckPollInterval), sleep.calls)
	assert.Equal(t, []byte("N#"), tr.Written(), "nothing is sent after a failed step")
}

func TestFlash_StuckDrainTimesOut(t *testing.T) {
	f, tr, _ := newTestFlasher(t)
	f.config.ackTimeout = 100 * time.Millisecond

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	tr.OnDrain(func() error {
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- f.Flash(context.Background(), &Image{Records: []Record{data(0x2000, 16, 0)}}) }()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrTransferTimeout)
		var stepErr *StepError
		require.True(t, errors.As(err, &stepErr))
		assert.Equal(t, "clear ack", stepErr.Step)
	case <-time.After(5 * time.Second):
		t.Fatal("transfer did not give up on a drain that never returns")
	}
}

func TestFlash_StuckDrainCancelled(t *testing.T) {
	f, tr, _ := newTestFlasher(t)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	entered := make(chan struct{}, 1)
	tr.OnDrain(func() error {
		entered <- struct{}{}
		<-release
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Flash(ctx, &Image{Records: []Record{data(0x2000, 16, 0)}}) }()

	<-entered
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancellation did not interrupt a stuck drain")
	}
}

func TestFlash_AckAfterRetries(t *testing.T) {
	f, tr, sleep := newTestFlasher(t)

	failures := 3
	tr.OnDrain(func() error {
		if failures > 0 {
			failures--
			return errors.New("not ready")
		}
		return nil
	})

	require.NoError(t, f.Flash(context.Background(), &Image{Records: []Record{data(0x2000, 16, 0)}}))
	assert.Equal(t, 4+3, sleep.calls)
}

func TestFlash_ChunksPayload(t *testing.T) {
	f, tr, _ := newTestFlasher(t)

	var records []Record
	for i := 0; i < 30; i++ {
		records = append(records, data(uint16(0x2000+i*15), 15, byte(i)))
	}
	require.NoError(t, f.Flash(context.Background(), &Image{Records: records}))

	var sizes []int
	for _, w := range tr.Writes() {
		if len(w) > 0 && w[0] < 0x20 {
			sizes = append(sizes, len(w))
		}
	}
	assert.Equal(t, []int{200, 200, 50}, sizes)
}

func TestFlash_ProgressPerPacket(t *testing.T) {
	var progress []model.TransferProgress
	f, _, _ := newTestFlasher(t, WithProgressCallback(func(p model.TransferProgress) {
		progress = append(progress, p)
	}))

	img := &Image{Records: []Record{data(0x2000, 16, 1), data(0x4000, 8, 2)}}
	require.NoError(t, f.Flash(context.Background(), img))

	require.Len(t, progress, 2)
	assert.Equal(t, model.TransferProgress{Packet: 1, TotalPackets: 2, BytesWritten: 16, TotalBytes: 24}, progress[0])
	assert.Equal(t, 100.0, progress[1].Percentage())
}

func TestFlash_WriteFailure(t *testing.T) {
	f, tr, _ := newTestFlasher(t)
	tr.FailWrites(errors.New("EIO"))

	err := f.Flash(context.Background(), &Image{Records: []Record{data(0x2000, 16, 0)}})

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "clear", stepErr.Step)
	assert.Equal(t, 0, stepErr.Index)
	assert.ErrorContains(t, err, "EIO")
}

func TestFlash_Cancelled(t *testing.T) {
	f, tr, _ := newTestFlasher(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.Flash(ctx, &Image{Records: []Record{data(0x2000, 16, 0)}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tr.Written())
}

func TestRunSteps_ShortCircuits(t *testing.T) {
	var ran []string
	step := func(name string, err error) Step {
		return Step{Name: name, Run: func(ctx context.Context) error {
			ran = append(ran, name)
			return err
		}}
	}

	boom := errors.New("boom")
	err := RunSteps(context.Background(), []Step{step("a", nil), step("b", boom), step("c", nil)})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b"}, ran)
}
