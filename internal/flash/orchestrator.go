// internal/flash/orchestrator.go

// Package flash runs a complete firmware update of a Raise keyboard: back up the
// settings, reset into the bootloader, transfer the image, wait for the keyboard
// to come back and restore the settings.
//
// Every session ends in DONE and persists its backup record exactly once, so a
// user never loses the settings captured before the update.
package flash

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"keyboard-service/internal/firmware"
	"keyboard-service/internal/focus"
	"keyboard-service/internal/model"
	"keyboard-service/internal/protocol"
)

// BackupCommands are captured before flashing and replayed afterwards, in this order
var BackupCommands = []string{
	"hardware.keyscan",
	"led.mode",
	"keymap.custom",
	"keymap.default",
	"keymap.onlyCustom",
	"led.theme",
	"palette",
	"joint.threshold",
}

// Bootloader entry. The Neuron only enters its bootloader with these exact timings.
const (
	ResetBaudRate    = 1200
	resetPreDelay    = 250 * time.Millisecond
	resetDTRHold     = 2750 * time.Millisecond
	resetPostDelay   = 2000 * time.Millisecond
	minRedetectTries = 2
)

// Session log messages
const (
	MsgSettingsBackedUp    = "settings backed up"
	MsgResetting           = "resetting keyboard"
	MsgBootloaderDetected  = "bootloader detected"
	MsgFirmwareFlashed     = "firmware flashed"
	MsgKeyboardDetected    = "keyboard detected"
	MsgRestoringSettings   = "restoring all settings"
	MsgSettingsRestored    = "settings restored"
	MsgUpdateCompleted     = "firmware update completed"
	bootloaderInstructions = "press and hold the Escape key while the Neuron light is off, then try again"
)

// Detector locates the keyboard and its bootloader
type Detector interface {
	DetectBootloader(ctx context.Context, candidates []model.HardwareDescriptor) (model.DiscoveredDevice, bool, error)
	DetectKeyboard(ctx context.Context, keyboard model.HardwareDescriptor) (model.DiscoveredDevice, bool, error)
}

// BootloaderSource returns the bootloader descriptors a keyboard may come back as
type BootloaderSource interface {
	BootloaderFor(keyboard model.HardwareDescriptor) []model.HardwareDescriptor
}

// ArtifactSaver persists a backup record and returns where it was written.
// An empty path with a nil error means the user declined to save.
type ArtifactSaver interface {
	Save(ctx context.Context, record *model.BackupRecord) (string, error)
}

// Config holds the tunable waits around re-detection
type Config struct {
	SettleDelay      time.Duration
	RedetectAttempts int
	RedetectDelay    time.Duration
}

// DefaultConfig returns the waits used when none are configured
func DefaultConfig() Config {
	return Config{
		SettleDelay:      3 * time.Second,
		RedetectAttempts: 3,
		RedetectDelay:    2 * time.Second,
	}
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithConfig overrides the re-detection waits
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		o.config = cfg
	}
}

// WithSleep replaces every wait the orchestrator and its transfers perform
func WithSleep(sleep firmware.SleepFunc) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// WithClock replaces the clock used to timestamp session log entries
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator drives update sessions. It owns one focus client, so sessions
// run on it one at a time.
type Orchestrator struct {
	client      *focus.Client
	dialer      protocol.Dialer
	detector    Detector
	bootloaders BootloaderSource
	saver       ArtifactSaver
	logger      *zap.Logger
	config      Config
	sleep       firmware.SleepFunc
	now         func() time.Time
}

// NewOrchestrator creates an orchestrator. saver may be nil, in which case
// nothing is persisted.
func NewOrchestrator(
	client *focus.Client,
	dialer protocol.Dialer,
	detector Detector,
	bootloaders BootloaderSource,
	saver ArtifactSaver,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		client:      client,
		dialer:      dialer,
		detector:    detector,
		bootloaders: bootloaders,
		saver:       saver,
		logger:      logger.With(zap.String("component", "flash")),
		config:      DefaultConfig(),
		sleep:       firmware.Sleep,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.config.RedetectAttempts < minRedetectTries {
		o.config.RedetectAttempts = minRedetectTries
	}
	return o
}

// Run drives s to DONE. The returned error is also available from s.Err().
// Cancelling ctx aborts at the next wait or command; the backup is still persisted.
func (o *Orchestrator) Run(ctx context.Context, s *Session) error {
	s.record.SetClock(o.now)
	logger := o.logger.With(zap.String("port", s.Port), zap.Stringer("keyboard", s.Keyboard))

	err := o.run(ctx, s, logger)
	if err != nil {
		o.log(s, logger, fmt.Sprintf("firmware update failed: %v", err))
	} else {
		o.log(s, logger, MsgUpdateCompleted)
	}

	if cerr := o.client.Close(); cerr != nil {
		logger.Warn("Failed to close focus connection", zap.Error(cerr))
	}

	path := o.persist(context.WithoutCancel(ctx), s, logger)
	s.finish(err, path)
	return err
}

func (o *Orchestrator) run(ctx context.Context, s *Session, logger *zap.Logger) error {
	keyboard := s.Keyboard
	if err := o.client.Open(ctx, focus.Target{Path: s.Port, Device: &keyboard}); err != nil {
		return err
	}

	s.setState(model.SessionStateBackingUp)
	if err := o.backup(ctx, s, logger); err != nil {
		return err
	}

	s.setState(model.SessionStateResetting)
	if err := o.reset(ctx, s, logger); err != nil {
		return err
	}

	s.setState(model.SessionStateAwaitingBootloader)
	bootloader, err := o.awaitBootloader(ctx, s, logger)
	if err != nil {
		return err
	}

	s.setState(model.SessionStateFlashing)
	if err := o.flash(ctx, s, bootloader, logger); err != nil {
		return err
	}

	s.setState(model.SessionStateAwaitingKeyboard)
	device, err := o.awaitKeyboard(ctx, s, logger)
	if err != nil {
		return err
	}

	s.setState(model.SessionStateRestoring)
	return o.restore(ctx, s, device, logger)
}

// backup issues every backup command even after a failure so the artifact holds
// as much as could be read
func (o *Orchestrator) backup(ctx context.Context, s *Session, logger *zap.Logger) error {
	failed := false
	for _, cmd := range BackupCommands {
		value, err := o.client.Command(ctx, cmd)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		switch {
		case err != nil:
			o.log(s, logger, fmt.Sprintf("error backing up %s: %v", cmd, err))
			failed = true
		case value == "":
			o.log(s, logger, fmt.Sprintf("error backing up %s: empty response", cmd))
			failed = true
		default:
			s.record.SetSetting(cmd, value)
		}
	}

	if failed {
		return ErrSettingsBackupFailed
	}
	o.log(s, logger, MsgSettingsBackedUp)
	return nil
}

// reset asks the keyboard to jump into its bootloader: a 1200 baud touch followed
// by a DTR pulse
func (o *Orchestrator) reset(ctx context.Context, s *Session, logger *zap.Logger) error {
	transport := o.client.Transport()
	if transport == nil {
		return focus.ErrNotConnected
	}

	o.log(s, logger, MsgResetting)

	if err := transport.SetBaudRate(ResetBaudRate); err != nil {
		return fmt.Errorf("reset keyboard: %w", err)
	}
	if err := o.sleep(ctx, resetPreDelay); err != nil {
		return err
	}
	if err := transport.SetDTR(true); err != nil {
		return fmt.Errorf("reset keyboard: %w", err)
	}
	if err := o.sleep(ctx, resetDTRHold); err != nil {
		return err
	}
	if err := transport.SetDTR(false); err != nil {
		return fmt.Errorf("reset keyboard: %w", err)
	}
	if err := o.sleep(ctx, resetPostDelay); err != nil {
		return err
	}

	// the port disappears once the bootloader takes over
	if err := o.client.Close(); err != nil {
		logger.Debug("Closing reset port failed", zap.Error(err))
	}
	return nil
}

// awaitBootloader checks once; the post-reset delay is the retry budget
func (o *Orchestrator) awaitBootloader(ctx context.Context, s *Session, logger *zap.Logger) (model.DiscoveredDevice, error) {
	device, found, err := o.detector.DetectBootloader(ctx, o.bootloaders.BootloaderFor(s.Keyboard))
	if ctxErr := ctx.Err(); ctxErr != nil {
		return model.DiscoveredDevice{}, ctxErr
	}
	if err != nil {
		logger.Warn("Bootloader detection failed", zap.Error(err))
	}
	if !found {
		o.log(s, logger, "bootloader not detected: "+bootloaderInstructions)
		return model.DiscoveredDevice{}, ErrBootloaderNotDetected
	}

	o.log(s, logger, fmt.Sprintf("%s on %s", MsgBootloaderDetected, displayPath(device.Path)))
	return device, nil
}

func (o *Orchestrator) flash(ctx context.Context, s *Session, bootloader model.DiscoveredDevice, logger *zap.Logger) error {
	if !bootloader.HasTransport() {
		err := &TransferFailedError{Detail: "bootloader has no serial port"}
		o.log(s, logger, err.Error())
		return err
	}

	transport, err := o.dialer.Dial(ctx, bootloader.Path)
	if err != nil {
		terr := &TransferFailedError{Detail: err.Error(), Err: err}
		o.log(s, logger, terr.Error())
		return terr
	}

	flasher := firmware.NewFlasher(transport, o.logger,
		firmware.WithSleep(o.sleep),
		firmware.WithProgressCallback(func(p model.TransferProgress) {
			if s.Hooks.OnProgress != nil {
				s.Hooks.OnProgress(p)
			}
		}),
	)

	if err := flasher.FlashFile(ctx, s.FirmwareFile); err != nil {
		_ = transport.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		terr := &TransferFailedError{Detail: err.Error(), Err: err}
		o.log(s, logger, terr.Error())
		return terr
	}

	o.log(s, logger, MsgFirmwareFlashed)
	return nil
}

// awaitKeyboard waits for the keyboard to re-enumerate, with a bounded number of
// attempts. Success is only logged once the keyboard has actually been seen.
func (o *Orchestrator) awaitKeyboard(ctx context.Context, s *Session, logger *zap.Logger) (model.DiscoveredDevice, error) {
	if err := o.sleep(ctx, o.config.SettleDelay); err != nil {
		return model.DiscoveredDevice{}, err
	}

	attempts := o.config.RedetectAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		device, found, err := o.detector.DetectKeyboard(ctx, s.Keyboard)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.DiscoveredDevice{}, ctxErr
		}
		if err != nil {
			logger.Warn("Keyboard detection failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		if found {
			o.log(s, logger, fmt.Sprintf("%s on %s", MsgKeyboardDetected, displayPath(device.Path)))
			if s.record.SerialNumber() == "" && device.SerialNumber != "" {
				s.record.SetSerialNumber(device.SerialNumber)
			}
			return device, nil
		}

		o.log(s, logger, fmt.Sprintf("keyboard not detected (attempt %d/%d)", attempt, attempts))
		if attempt < attempts {
			if err := o.sleep(ctx, o.config.RedetectDelay); err != nil {
				return model.DiscoveredDevice{}, err
			}
		}
	}

	return model.DiscoveredDevice{}, ErrKeyboardNotRedetected
}

// restore replays every captured setting in capture order. A failed command is
// logged and the loop carries on; the phase fails at the end. Empty replies are
// logged but do not fail the phase.
func (o *Orchestrator) restore(ctx context.Context, s *Session, device model.DiscoveredDevice, logger *zap.Logger) error {
	keyboard := s.Keyboard
	if err := o.client.Open(ctx, focus.Target{Path: device.Path, Device: &keyboard}); err != nil {
		o.log(s, logger, fmt.Sprintf("error reconnecting to keyboard: %v", err))
		return fmt.Errorf("%w: %v", ErrSettingsRestoreFailed, err)
	}

	o.log(s, logger, MsgRestoringSettings)

	failed := false
	for _, setting := range s.record.Settings() {
		reply, err := o.client.Command(ctx, setting.Command, setting.Value)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		switch {
		case err != nil:
			o.log(s, logger, fmt.Sprintf("error restoring %s: %v", setting.Command, err))
			failed = true
		case strings.TrimSpace(reply) == "":
			// set commands are acknowledged by the terminator alone
			o.log(s, logger, fmt.Sprintf("empty reply restoring %s", setting.Command))
		}
	}

	if failed {
		return ErrSettingsRestoreFailed
	}
	o.log(s, logger, MsgSettingsRestored)
	return nil
}

func (o *Orchestrator) persist(ctx context.Context, s *Session, logger *zap.Logger) string {
	if o.saver == nil {
		return ""
	}

	path, err := o.saver.Save(ctx, s.record)
	if err != nil {
		logger.Error("Failed to save backup", zap.Error(err))
		return ""
	}
	if path == "" {
		logger.Info("Backup not saved, no destination chosen")
		return ""
	}

	logger.Info("Backup saved", zap.String("path", path))
	return path
}

func (o *Orchestrator) log(s *Session, logger *zap.Logger, message string) {
	entry := s.record.AppendLog(message)
	logger.Info(message, zap.String("state", string(s.State())))
	if s.Hooks.OnLog != nil {
		s.Hooks.OnLog(entry)
	}
}

func displayPath(path string) string {
	if path == "" {
		return "usb"
	}
	return path
}

// IsTransferFailure reports whether err came from the firmware transfer
func IsTransferFailure(err error) bool {
	var terr *TransferFailedError
	return errors.As(err, &terr)
}
