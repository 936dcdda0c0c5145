// internal/flash/session.go
package flash

import (
	"sync"

	"keyboard-service/internal/model"
)

// Hooks observe a running session. Every field is optional. Hooks are called on
// the session goroutine and should return quickly.
type Hooks struct {
	OnState    func(state model.SessionState)
	OnLog      func(entry string)
	OnProgress func(progress model.TransferProgress)
}

// Session is one firmware update of one keyboard. It is created per update and
// never reused.
type Session struct {
	Port         string
	Keyboard     model.HardwareDescriptor
	FirmwareFile string
	Hooks        Hooks

	record *model.BackupRecord

	mu           sync.RWMutex
	state        model.SessionState
	outcome      model.SessionOutcome
	err          error
	artifactPath string
}

// NewSession creates an idle session
func NewSession(port string, keyboard model.HardwareDescriptor, firmwareFile, serialNumber string) *Session {
	return &Session{
		Port:         port,
		Keyboard:     keyboard,
		FirmwareFile: firmwareFile,
		record:       model.NewBackupRecord(serialNumber, firmwareFile),
		state:        model.SessionStateIdle,
		outcome:      model.SessionOutcomePending,
	}
}

// Backup returns the record being filled by the session
func (s *Session) Backup() *model.BackupRecord {
	return s.record
}

// State returns the current state
func (s *Session) State() model.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Outcome returns PENDING until the session is done
func (s *Session) Outcome() model.SessionOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outcome
}

// Err returns the terminal error of a failed session
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// ArtifactPath returns where the backup was written, empty when it was not
func (s *Session) ArtifactPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.artifactPath
}

func (s *Session) setState(state model.SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	if s.Hooks.OnState != nil {
		s.Hooks.OnState(state)
	}
}

func (s *Session) finish(err error, artifactPath string) {
	s.mu.Lock()
	s.state = model.SessionStateDone
	s.err = err
	s.artifactPath = artifactPath
	if err != nil {
		s.outcome = model.SessionOutcomeFailure
	} else {
		s.outcome = model.SessionOutcomeSuccess
	}
	s.mu.Unlock()

	if s.Hooks.OnState != nil {
		s.Hooks.OnState(model.SessionStateDone)
	}
}
