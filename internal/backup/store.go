// internal/backup/store.go
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"keyboard-service/internal/model"
)

// FileNameTimeLayout is the timestamp embedded in default backup file names
const FileNameTimeLayout = "2006-01-02-15-04-05"

// PathChooser picks where a backup is written given the default path. Returning
// an empty path declines the save.
type PathChooser func(ctx context.Context, defaultPath string) (string, error)

// FixedPath always chooses path, or the default when path is empty
func FixedPath(path string) PathChooser {
	return func(ctx context.Context, defaultPath string) (string, error) {
		if path == "" {
			return defaultPath, nil
		}
		return path, nil
	}
}

// Decline never saves
func Decline(ctx context.Context, defaultPath string) (string, error) {
	return "", nil
}

// Option configures a FileStore
type Option func(*FileStore)

// WithPathChooser sets how the destination is chosen
func WithPathChooser(chooser PathChooser) Option {
	return func(s *FileStore) {
		if chooser != nil {
			s.chooser = chooser
		}
	}
}

// WithClock replaces the clock used for default file names
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) {
		if now != nil {
			s.now = now
		}
	}
}

// FileStore writes backup artifacts as JSON files
type FileStore struct {
	dir     string
	chooser PathChooser
	now     func() time.Time
	logger  *zap.Logger
}

// NewFileStore creates a store writing into dir by default
func NewFileStore(dir string, logger *zap.Logger, opts ...Option) *FileStore {
	s := &FileStore{
		dir:     dir,
		chooser: FixedPath(""),
		now:     time.Now,
		logger:  logger.With(zap.String("component", "backup")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultFileName returns the artifact name for a backup taken at t
func DefaultFileName(t time.Time) string {
	return fmt.Sprintf("Raise-backup-%s.json", t.Format(FileNameTimeLayout))
}

// DefaultPath returns where a backup taken now would be written
func (s *FileStore) DefaultPath() string {
	return filepath.Join(s.dir, DefaultFileName(s.now()))
}

// WithChooser returns a copy of the store using chooser for its next saves
func (s *FileStore) WithChooser(chooser PathChooser) *FileStore {
	clone := *s
	if chooser != nil {
		clone.chooser = chooser
	}
	return &clone
}

// Save writes record and returns its path. A declined save returns "" and no error.
func (s *FileStore) Save(ctx context.Context, record *model.BackupRecord) (string, error) {
	path, err := s.chooser(ctx, s.DefaultPath())
	if err != nil {
		return "", fmt.Errorf("failed to choose backup path: %w", err)
	}
	if path == "" {
		s.logger.Info("Backup save declined")
		return "", nil
	}

	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to encode backup: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	s.logger.Info("Backup written",
		zap.String("path", path),
		zap.Int("bytes", len(data)),
		zap.Int("settings", len(record.Settings())),
	)
	return path, nil
}
