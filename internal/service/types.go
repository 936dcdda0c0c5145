// internal/service/types.go
package service

import (
	"keyboard-service/internal/model"
)

// EventPublisher receives live session events
type EventPublisher interface {
	Publish(event model.SessionEvent)
}

// KeyboardInfo describes an attached, supported keyboard
type KeyboardInfo struct {
	Port         string                   `json:"port"`
	DisplayName  string                   `json:"display_name"`
	Descriptor   model.HardwareDescriptor `json:"descriptor"`
	SerialNumber string                   `json:"serial_number,omitempty"`
	Instructions string                   `json:"update_instructions,omitempty"`
}

// CommandRequest is one focus command for a keyboard
type CommandRequest struct {
	Port    string   `json:"port" binding:"required"`
	Command string   `json:"command" binding:"required"`
	Args    []string `json:"args"`
}

// CommandResponse carries the raw focus reply
type CommandResponse struct {
	Port     string   `json:"port"`
	Command  string   `json:"command"`
	Response string   `json:"response"`
	Lines    []string `json:"lines"`
}

// StartUpdateRequest starts a firmware update session
type StartUpdateRequest struct {
	Port         string `json:"port" binding:"required"`
	FirmwareFile string `json:"firmware_file" binding:"required"`
	BackupPath   string `json:"backup_path"`
}

// PaginationResult describes one page of a listing
type PaginationResult struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
}
