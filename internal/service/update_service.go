// internal/service/update_service.go
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"keyboard-service/internal/backup"
	"keyboard-service/internal/config"
	"keyboard-service/internal/firmware"
	"keyboard-service/internal/flash"
	"keyboard-service/internal/focus"
	"keyboard-service/internal/hardware"
	"keyboard-service/internal/model"
	"keyboard-service/internal/protocol"
	"keyboard-service/internal/repository"
)

// KeyboardLocator resolves the keyboard attached at a port
type KeyboardLocator interface {
	Locate(ctx context.Context, port string) (model.DiscoveredDevice, error)
}

type runningSession struct {
	record  *model.UpdateSession
	session *flash.Session
	cancel  context.CancelFunc
	done    chan struct{}
}

// UpdateService runs firmware update sessions in the background, one at a time
type UpdateService struct {
	client    *focus.Client
	dialer    protocol.Dialer
	detector  flash.Detector
	registry  *hardware.Registry
	locator   KeyboardLocator
	gate      *DeviceGate
	store     *backup.FileStore
	repo      repository.SessionRepository
	publisher EventPublisher
	config    *config.Config
	logger    *zap.Logger
	flashOpts []flash.Option

	mu     sync.Mutex
	active *runningSession
}

// NewUpdateService creates an update service. A session holds gate from Start
// until it finishes. flashOpts are appended to the orchestrator options derived
// from configuration.
func NewUpdateService(
	client *focus.Client,
	dialer protocol.Dialer,
	detector flash.Detector,
	registry *hardware.Registry,
	locator KeyboardLocator,
	gate *DeviceGate,
	store *backup.FileStore,
	repo repository.SessionRepository,
	publisher EventPublisher,
	cfg *config.Config,
	logger *zap.Logger,
	flashOpts ...flash.Option,
) *UpdateService {
	return &UpdateService{
		client:    client,
		dialer:    dialer,
		detector:  detector,
		registry:  registry,
		locator:   locator,
		gate:      gate,
		store:     store,
		repo:      repo,
		publisher: publisher,
		config:    cfg,
		logger:    logger.With(zap.String("service", "update-service")),
		flashOpts: flashOpts,
	}
}

// ValidateFirmware parses the image and applies the bootloader guard, so a bad
// file is rejected before the keyboard is touched
func ValidateFirmware(path string) (*firmware.Image, error) {
	img, err := firmware.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFirmware, err)
	}
	if err := firmware.CheckBootloaderGuard(img); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFirmware, err)
	}
	return img, nil
}

// Start begins an update session and returns its initial record
func (s *UpdateService) Start(ctx context.Context, req *StartUpdateRequest) (*model.UpdateSession, error) {
	img, err := ValidateFirmware(req.FirmwareFile)
	if err != nil {
		return nil, err
	}

	run := &runningSession{done: make(chan struct{})}
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return nil, ErrUpdateInProgress
	}
	s.active = run
	s.mu.Unlock()

	if err := s.gate.BeginSession(); err != nil {
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
		close(run.done)
		return nil, err
	}

	release := func() {
		s.gate.EndSession()
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
		close(run.done)
	}

	device, err := s.locator.Locate(ctx, req.Port)
	if err != nil {
		release()
		return nil, err
	}

	record := &model.UpdateSession{
		ID:           uuid.New(),
		Port:         req.Port,
		KeyboardType: device.Descriptor.KeyboardType,
		FirmwareFile: req.FirmwareFile,
		State:        model.SessionStateIdle,
		Outcome:      model.SessionOutcomePending,
		StartedAt:    time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, record); err != nil {
		release()
		return nil, fmt.Errorf("failed to record session: %w", err)
	}

	session := flash.NewSession(req.Port, device.Descriptor, req.FirmwareFile, device.SerialNumber)
	session.Hooks = s.hooks(record.ID)

	store := s.store
	if req.BackupPath != "" {
		store = store.WithChooser(backup.FixedPath(req.BackupPath))
	}
	orchestrator := flash.NewOrchestrator(s.client, s.dialer, s.detector, s.registry, store, s.logger, s.orchestratorOptions()...)

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	run.record = record
	run.session = session
	run.cancel = cancel
	snapshot := s.snapshotLocked(run)
	s.mu.Unlock()

	s.logger.Info("Update session started",
		zap.String("session_id", record.ID.String()),
		zap.String("port", req.Port),
		zap.Stringer("keyboard", device.Descriptor),
		zap.Int("firmware_bytes", img.TotalBytes()),
	)
	s.publish(record.ID, model.EventSessionStarted, model.SessionStateIdle, "", map[string]interface{}{
		"port":          req.Port,
		"firmware_file": req.FirmwareFile,
	})

	go s.run(runCtx, run, orchestrator)
	return snapshot, nil
}

func (s *UpdateService) orchestratorOptions() []flash.Option {
	opts := []flash.Option{
		flash.WithConfig(flash.Config{
			SettleDelay:      s.config.Flash.SettleDelay,
			RedetectAttempts: s.config.Flash.RedetectAttempts,
			RedetectDelay:    s.config.Flash.RedetectDelay,
		}),
	}
	return append(opts, s.flashOpts...)
}

func (s *UpdateService) hooks(id uuid.UUID) flash.Hooks {
	return flash.Hooks{
		OnState: func(state model.SessionState) {
			s.mu.Lock()
			var record *model.UpdateSession
			if s.active != nil && s.active.record != nil && s.active.record.ID == id {
				s.active.record.State = state
				copied := *s.active.record
				record = &copied
			}
			s.mu.Unlock()

			if record != nil && state != model.SessionStateDone {
				if err := s.repo.Update(context.Background(), record); err != nil {
					s.logger.Warn("Failed to record session state", zap.Error(err))
				}
			}
			s.publish(id, model.EventStateChanged, state, "", nil)
		},
		OnLog: func(entry string) {
			s.publish(id, model.EventLogAppended, "", entry, nil)
		},
		OnProgress: func(p model.TransferProgress) {
			s.publish(id, model.EventTransferProgress, model.SessionStateFlashing, "", map[string]interface{}{
				"packet":        p.Packet,
				"total_packets": p.TotalPackets,
				"bytes_written": p.BytesWritten,
				"total_bytes":   p.TotalBytes,
				"percentage":    p.Percentage(),
			})
		},
	}
}

func (s *UpdateService) run(ctx context.Context, run *runningSession, orchestrator *flash.Orchestrator) {
	defer run.cancel()

	runErr := orchestrator.Run(ctx, run.session)

	s.mu.Lock()
	record := run.record
	record.State = model.SessionStateDone
	record.Outcome = run.session.Outcome()
	if runErr != nil {
		msg := runErr.Error()
		record.ErrorMessage = &msg
	}
	if path := run.session.ArtifactPath(); path != "" {
		record.BackupPath = &path
	}
	if data, err := json.Marshal(run.session.Backup()); err == nil {
		record.Backup = data
	}
	completedAt := time.Now().UTC()
	record.CompletedAt = &completedAt
	final := *record
	s.mu.Unlock()

	if err := s.repo.Update(context.Background(), &final); err != nil {
		s.logger.Error("Failed to record session result", zap.Error(err))
	}

	fields := []zap.Field{
		zap.String("session_id", final.ID.String()),
		zap.String("outcome", string(final.Outcome)),
	}
	if runErr != nil {
		s.logger.Warn("Update session failed", append(fields, zap.Error(runErr))...)
	} else {
		s.logger.Info("Update session completed", fields...)
	}

	data := map[string]interface{}{
		"outcome":            final.Outcome,
		"transfer_failed":    flash.IsTransferFailure(runErr),
		"backup_path":        final.BackupPath,
		"settings_backed_up": len(run.session.Backup().Settings()),
	}
	if runErr != nil {
		data["error"] = runErr.Error()
	}
	s.publish(final.ID, model.EventSessionCompleted, model.SessionStateDone, "", data)

	s.gate.EndSession()
	s.mu.Lock()
	if s.active == run {
		s.active = nil
	}
	s.mu.Unlock()
	close(run.done)
}

// Get returns a session, live while it runs
func (s *UpdateService) Get(ctx context.Context, id uuid.UUID) (*model.UpdateSession, error) {
	s.mu.Lock()
	if run := s.active; run != nil && run.record != nil && run.record.ID == id {
		snapshot := s.snapshotLocked(run)
		s.mu.Unlock()
		return snapshot, nil
	}
	s.mu.Unlock()

	return s.repo.GetByID(ctx, id)
}

// List returns the session history, newest first
func (s *UpdateService) List(ctx context.Context, filter *repository.SessionFilter) ([]*model.UpdateSession, *PaginationResult, error) {
	if filter == nil {
		filter = &repository.SessionFilter{}
	}
	filter.Normalize()

	sessions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	return sessions, &PaginationResult{
		Total:      total,
		Page:       filter.Page,
		PerPage:    filter.PerPage,
		TotalPages: (total + filter.PerPage - 1) / filter.PerPage,
	}, nil
}

// Cancel aborts the running session with the given id. The session still
// persists its backup before it finishes.
func (s *UpdateService) Cancel(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	if run := s.active; run != nil && run.record != nil && run.record.ID == id {
		run.cancel()
		s.mu.Unlock()
		s.logger.Info("Update session cancel requested", zap.String("session_id", id.String()))
		return nil
	}
	s.mu.Unlock()

	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrSessionNotRunning
}

// IsRunning reports whether a session currently owns the keyboard
func (s *UpdateService) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Active returns the running session, if any
func (s *UpdateService) Active() (*model.UpdateSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || s.active.record == nil {
		return nil, false
	}
	return s.snapshotLocked(s.active), true
}

// Wait blocks until the session with the given id is no longer running
func (s *UpdateService) Wait(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	run := s.active
	s.mu.Unlock()

	if run == nil || run.record == nil || run.record.ID != id {
		return nil
	}

	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels the running session and waits for it to persist its backup
func (s *UpdateService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	run := s.active
	s.mu.Unlock()

	if run == nil {
		return nil
	}
	if run.cancel != nil {
		run.cancel()
	}

	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return errors.New("timed out waiting for the update session to stop")
	}
}

// snapshotLocked copies the record with the live backup document
func (s *UpdateService) snapshotLocked(run *runningSession) *model.UpdateSession {
	snapshot := *run.record
	if data, err := json.Marshal(run.session.Backup()); err == nil {
		snapshot.Backup = data
	}
	return &snapshot
}

func (s *UpdateService) publish(id uuid.UUID, eventType model.EventType, state model.SessionState, message string, data map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(model.SessionEvent{
		SessionID: id,
		EventType: eventType,
		State:     state,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}
