// internal/service/errors.go
package service

import "errors"

var (
	// ErrUpdateInProgress is returned when a second session is started
	ErrUpdateInProgress = errors.New("a firmware update is already running")
	// ErrKeyboardNotFound is returned when no supported keyboard is attached at the port
	ErrKeyboardNotFound = errors.New("no supported keyboard on port")
	// ErrInvalidFirmware is returned when the firmware file is unreadable or unsafe to flash
	ErrInvalidFirmware = errors.New("invalid firmware file")
	// ErrSessionNotRunning is returned when cancelling a finished session
	ErrSessionNotRunning = errors.New("update session is not running")
	// ErrKeyboardBusy is returned for commands while a session owns the keyboard
	ErrKeyboardBusy = errors.New("keyboard is busy with a firmware update")
)
