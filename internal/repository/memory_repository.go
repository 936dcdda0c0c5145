// internal/repository/memory_repository.go
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"keyboard-service/internal/model"
)

// memorySessionRepository keeps session history in process memory. It is used
// when no database is configured and history does not survive a restart.
type memorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*model.UpdateSession
}

// NewMemorySessionRepository creates an in-memory session repository
func NewMemorySessionRepository() SessionRepository {
	return &memorySessionRepository{
		sessions: make(map[uuid.UUID]*model.UpdateSession),
	}
}

func (r *memorySessionRepository) Create(ctx context.Context, session *model.UpdateSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	r.sessions[session.ID] = cloneSession(session)
	return nil
}

func (r *memorySessionRepository) Update(ctx context.Context, session *model.UpdateSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, session.ID)
	}
	r.sessions[session.ID] = cloneSession(session)
	return nil
}

func (r *memorySessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.UpdateSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return cloneSession(session), nil
}

func (r *memorySessionRepository) List(ctx context.Context, filter *SessionFilter) ([]*model.UpdateSession, int, error) {
	if filter == nil {
		filter = &SessionFilter{}
	}
	filter.Normalize()

	r.mu.RLock()
	matched := make([]*model.UpdateSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		if filter.Outcome != nil && s.Outcome != *filter.Outcome {
			continue
		}
		if filter.Port != nil && s.Port != *filter.Port {
			continue
		}
		matched = append(matched, cloneSession(s))
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	total := len(matched)
	start := (filter.Page - 1) * filter.PerPage
	if start >= total {
		return []*model.UpdateSession{}, total, nil
	}
	end := start + filter.PerPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func cloneSession(s *model.UpdateSession) *model.UpdateSession {
	c := *s
	c.Backup = append(model.RawJSON(nil), s.Backup...)
	return &c
}
