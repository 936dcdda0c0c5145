// internal/firmware/errors.go
package firmware

import (
	"errors"
	"fmt"
)

var (
	// ErrWouldOverwriteBootloader is matched by every *BootloaderOverwriteError
	ErrWouldOverwriteBootloader = errors.New("would overwrite bootloader")

	// ErrTransferTimeout is returned when the bootloader does not acknowledge in time
	ErrTransferTimeout = errors.New("transfer timeout")

	// ErrInvalidRecord is returned for malformed Intel HEX lines
	ErrInvalidRecord = errors.New("invalid hex record")

	// ErrEmptyImage is returned when a file carries no data records
	ErrEmptyImage = errors.New("firmware image has no data")
)

// BootloaderOverwriteError rejects an image whose first data record lies inside
// the bootloader region. It must never be bypassed.
type BootloaderOverwriteError struct {
	Address uint32
}

func (e *BootloaderOverwriteError) Error() string {
	return fmt.Sprintf("you're attempting to overwrite the bootloader (0x%08x)", e.Address)
}

// Is reports whether target is ErrWouldOverwriteBootloader
func (e *BootloaderOverwriteError) Is(target error) bool {
	return target == ErrWouldOverwriteBootloader
}

// RecordError locates a malformed record in the source file
type RecordError struct {
	Line   int
	Reason string
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Is reports whether target is ErrInvalidRecord
func (e *RecordError) Is(target error) bool {
	return target == ErrInvalidRecord
}

// StepError reports the transfer step that failed
type StepError struct {
	Step  string
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
