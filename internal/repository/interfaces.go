// internal/repository/interfaces.go
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"keyboard-service/internal/model"
)

// ErrSessionNotFound is returned for an unknown session id
var ErrSessionNotFound = errors.New("update session not found")

// SessionRepository stores the history of update sessions
type SessionRepository interface {
	Create(ctx context.Context, session *model.UpdateSession) error
	Update(ctx context.Context, session *model.UpdateSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.UpdateSession, error)
	List(ctx context.Context, filter *SessionFilter) ([]*model.UpdateSession, int, error)
}

// SessionFilter represents session listing filters
type SessionFilter struct {
	Outcome *model.SessionOutcome `json:"outcome,omitempty"`
	Port    *string               `json:"port,omitempty"`
	Page    int                   `json:"page"`
	PerPage int                   `json:"per_page"`
}

// Normalize applies paging defaults
func (f *SessionFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}
}
