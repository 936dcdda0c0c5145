// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of an update session event
type EventType string

const (
	EventSessionStarted   EventType = "SESSION_STARTED"
	EventStateChanged     EventType = "STATE_CHANGED"
	EventLogAppended      EventType = "LOG_APPENDED"
	EventTransferProgress EventType = "TRANSFER_PROGRESS"
	EventSessionCompleted EventType = "SESSION_COMPLETED"
)

// SessionEvent is published while an update session runs
type SessionEvent struct {
	SessionID uuid.UUID              `json:"session_id"`
	EventType EventType              `json:"event_type"`
	State     SessionState           `json:"state,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// TransferProgress reports how much of a firmware image has been written
type TransferProgress struct {
	Packet       int `json:"packet"`
	TotalPackets int `json:"total_packets"`
	BytesWritten int `json:"bytes_written"`
	TotalBytes   int `json:"total_bytes"`
}

// Percentage returns progress in the range 0-100
func (p TransferProgress) Percentage() float64 {
	if p.TotalBytes == 0 {
		return 0
	}
	return float64(p.BytesWritten) * 100 / float64(p.TotalBytes)
}
