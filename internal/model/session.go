// internal/model/session.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionState represents the firmware update state machine position
type SessionState string

const (
	SessionStateIdle               SessionState = "IDLE"
	SessionStateBackingUp          SessionState = "BACKING_UP"
	SessionStateResetting          SessionState = "RESETTING"
	SessionStateAwaitingBootloader SessionState = "AWAITING_BOOTLOADER"
	SessionStateFlashing           SessionState = "FLASHING"
	SessionStateAwaitingKeyboard   SessionState = "AWAITING_KEYBOARD"
	SessionStateRestoring          SessionState = "RESTORING"
	SessionStateDone               SessionState = "DONE"
)

// SessionOutcome is only meaningful once the session reached SessionStateDone
type SessionOutcome string

const (
	SessionOutcomePending SessionOutcome = "PENDING"
	SessionOutcomeSuccess SessionOutcome = "SUCCESS"
	SessionOutcomeFailure SessionOutcome = "FAILURE"
)

// Valid reports whether o is a known outcome
func (o SessionOutcome) Valid() bool {
	switch o {
	case SessionOutcomePending, SessionOutcomeSuccess, SessionOutcomeFailure:
		return true
	}
	return false
}

// UpdateSession is the externally visible record of one firmware update
type UpdateSession struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	Port         string         `json:"port" db:"port"`
	KeyboardType string         `json:"keyboard_type" db:"keyboard_type"`
	FirmwareFile string         `json:"firmware_file" db:"firmware_file"`
	BackupPath   *string        `json:"backup_path" db:"backup_path"`
	State        SessionState   `json:"state" db:"state"`
	Outcome      SessionOutcome `json:"outcome" db:"outcome"`
	ErrorMessage *string        `json:"error_message" db:"error_message"`
	Backup       RawJSON        `json:"backup,omitempty" db:"backup"`
	StartedAt    time.Time      `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at" db:"completed_at"`
}

// IsCompleted checks if the session reached its terminal state
func (s *UpdateSession) IsCompleted() bool {
	return s.State == SessionStateDone
}

// RawJSON stores an already encoded document in a PostgreSQL JSONB column
type RawJSON []byte

func (j *RawJSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	*j = append((*j)[:0], bytes...)
	return nil
}

func (j RawJSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

// MarshalJSON embeds the document as-is
func (j RawJSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	if !json.Valid(j) {
		return json.Marshal(string(j))
	}
	return j, nil
}
