// internal/repository/session_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"keyboard-service/internal/database"
	"keyboard-service/internal/model"
)

const sessionColumns = `id, port, keyboard_type, firmware_file, backup_path, state,
	outcome, error_message, backup, started_at, completed_at`

// sessionRepository implements SessionRepository on PostgreSQL
type sessionRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewSessionRepository creates a PostgreSQL backed session repository
func NewSessionRepository(db *database.DB, logger *zap.Logger) SessionRepository {
	return &sessionRepository{
		db:     db,
		logger: logger.With(zap.String("component", "session_repository")),
	}
}

// Create inserts a new session
func (r *sessionRepository) Create(ctx context.Context, session *model.UpdateSession) error {
	query := `
		INSERT INTO update_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID, session.Port, session.KeyboardType, session.FirmwareFile,
		session.BackupPath, session.State, session.Outcome, session.ErrorMessage,
		session.Backup, session.StartedAt, session.CompletedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create session", zap.Error(err))
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Update stores the mutable fields of a session
func (r *sessionRepository) Update(ctx context.Context, session *model.UpdateSession) error {
	query := `
		UPDATE update_sessions SET
			backup_path = $2, state = $3, outcome = $4, error_message = $5,
			backup = $6, completed_at = $7
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		session.ID, session.BackupPath, session.State, session.Outcome,
		session.ErrorMessage, session.Backup, session.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, session.ID)
	}
	return nil
}

// GetByID retrieves a session by ID
func (r *sessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.UpdateSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM update_sessions WHERE id = $1`

	session, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// List returns sessions newest first
func (r *sessionRepository) List(ctx context.Context, filter *SessionFilter) ([]*model.UpdateSession, int, error) {
	if filter == nil {
		filter = &SessionFilter{}
	}
	filter.Normalize()

	whereConditions := []string{}
	args := []interface{}{}
	argIndex := 1

	if filter.Outcome != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("outcome = $%d", argIndex))
		args = append(args, *filter.Outcome)
		argIndex++
	}
	if filter.Port != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("port = $%d", argIndex))
		args = append(args, *filter.Port)
		argIndex++
	}

	whereClause := ""
	if len(whereConditions) > 0 {
		whereClause = "WHERE " + strings.Join(whereConditions, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM update_sessions %s", whereClause)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM update_sessions %s
		ORDER BY started_at DESC
		LIMIT $%d OFFSET $%d
	`, sessionColumns, whereClause, argIndex, argIndex+1)
	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*model.UpdateSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			r.logger.Error("Failed to scan session row", zap.Error(err))
			continue
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return sessions, total, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*model.UpdateSession, error) {
	session := &model.UpdateSession{}
	err := row.Scan(
		&session.ID, &session.Port, &session.KeyboardType, &session.FirmwareFile,
		&session.BackupPath, &session.State, &session.Outcome, &session.ErrorMessage,
		&session.Backup, &session.StartedAt, &session.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return session, nil
}
