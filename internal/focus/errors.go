// internal/focus/errors.go
package focus

import "errors"

var (
	// ErrConnection is returned when no matching device is found or the
	// transport cannot be opened
	ErrConnection = errors.New("connection error")

	// ErrCommunicationTimeout is returned when a response does not arrive in time.
	// The connection stays open.
	ErrCommunicationTimeout = errors.New("communication timeout")

	// ErrNotConnected is returned by requests issued without an open connection
	ErrNotConnected = errors.New("device not connected")

	// ErrConnectionLost is returned to pending requests when the transport stops delivering data
	ErrConnectionLost = errors.New("connection lost")
)
