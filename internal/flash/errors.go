// internal/flash/errors.go
package flash

import (
	"errors"
	"fmt"
)

var (
	// ErrSettingsBackupFailed is returned when any backup command yields no value.
	// The partial backup is still persisted.
	ErrSettingsBackupFailed = errors.New("settings backup failed")

	// ErrBootloaderNotDetected is returned when the keyboard does not come back in
	// bootloader mode after the reset sequence
	ErrBootloaderNotDetected = errors.New("bootloader not detected")

	// ErrKeyboardNotRedetected is returned when the keyboard does not re-enumerate
	// after flashing
	ErrKeyboardNotRedetected = errors.New("keyboard not redetected")

	// ErrSettingsRestoreFailed is returned when any restore command fails
	ErrSettingsRestoreFailed = errors.New("settings restore failed")
)

// TransferFailedError wraps a failed firmware transfer
type TransferFailedError struct {
	Detail string
	Err    error
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("firmware transfer failed: %s", e.Detail)
}

func (e *TransferFailedError) Unwrap() error {
	return e.Err
}
