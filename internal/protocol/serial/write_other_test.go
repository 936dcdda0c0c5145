//go:build !darwin

package serial

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteLine_SingleWrite(t *testing.T) {
	sink := &recordingSink{}

	require.NoError(t, writeLine(context.Background(), sink, []byte("keymap.custom 1 2\n")))
	assert.Equal(t, []string{"write:keymap.custom 1 2\n"}, sink.events)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, writeLine(ctx, sink, []byte("help\n")), context.Canceled)
	assert.Len(t, sink.events, 1)
}
