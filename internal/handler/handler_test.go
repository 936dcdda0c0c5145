package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"keyboard-service/internal/config"
	"keyboard-service/internal/firmware"
	"keyboard-service/internal/focus"
	"keyboard-service/internal/model"
	"keyboard-service/internal/repository"
	"keyboard-service/internal/service"
	"keyboard-service/internal/utils"
)

type fakeUpdates struct {
	startErr  error
	getErr    error
	cancelErr error
	running   bool
	active    *model.UpdateSession
	started   *service.StartUpdateRequest
	filter    *repository.SessionFilter
	sessions  []*model.UpdateSession
}

func (f *fakeUpdates) Start(_ context.Context, req *service.StartUpdateRequest) (*model.UpdateSession, error) {
	f.started = req
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &model.UpdateSession{ID: uuid.New(), Port: req.Port, State: model.SessionStateIdle, Outcome: model.SessionOutcomePending}, nil
}

func (f *fakeUpdates) Get(_ context.Context, id uuid.UUID) (*model.UpdateSession, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &model.UpdateSession{ID: id}, nil
}

func (f *fakeUpdates) List(_ context.Context, filter *repository.SessionFilter) ([]*model.UpdateSession, *service.PaginationResult, error) {
	filter.Normalize()
	f.filter = filter
	return f.sessions, &service.PaginationResult{Total: len(f.sessions), Page: filter.Page, PerPage: filter.PerPage, TotalPages: 1}, nil
}

func (f *fakeUpdates) Cancel(context.Context, uuid.UUID) error { return f.cancelErr }

func (f *fakeUpdates) IsRunning() bool { return f.running }

func (f *fakeUpdates) Active() (*model.UpdateSession, bool) { return f.active, f.active != nil }

type fakeKeyboards struct {
	err      error
	commands int
}

func (f *fakeKeyboards) ListKeyboards(context.Context) ([]service.KeyboardInfo, error) {
	return []service.KeyboardInfo{{Port: "/dev/ttyACM0", DisplayName: "Dygma Raise ANSI"}}, f.err
}

func (f *fakeKeyboards) RunCommand(_ context.Context, req *service.CommandRequest) (*service.CommandResponse, error) {
	f.commands++
	if f.err != nil {
		return nil, f.err
	}
	return &service.CommandResponse{Port: req.Port, Command: req.Command, Response: "1\r\n2", Lines: []string{"1", "2"}}, nil
}

func (f *fakeKeyboards) Help(_ context.Context, _ string) ([]string, error) {
	return []string{"help", "version"}, f.err
}

type failingDB struct{ err error }

func (d failingDB) Health(context.Context) error { return d.err }

func newRouter(t *testing.T, keyboards *fakeKeyboards, updates *fakeUpdates, db DatabaseChecker) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	r := gin.New()
	NewHealthHandler(db, updates, &config.Config{App: config.AppConfig{Name: "keyboard-service", Version: "test"}}, logger).RegisterRoutes(r.Group(""))
	v1 := r.Group("/api/v1")
	NewKeyboardHandler(keyboards, updates, logger).RegisterRoutes(v1)
	NewUpdateHandler(updates, logger).RegisterRoutes(v1)
	return r
}

func do(r http.Handler, method, path, body string) (*httptest.ResponseRecorder, utils.APIResponse) {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp utils.APIResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestStartUpdate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"accepted", nil, http.StatusAccepted, ""},
		{"invalid firmware", fmt.Errorf("%w: %w", service.ErrInvalidFirmware, firmware.ErrInvalidRecord), http.StatusBadRequest, "INVALID_FIRMWARE"},
		{"bootloader overwrite", fmt.Errorf("%w: %w", service.ErrInvalidFirmware, &firmware.BootloaderOverwriteError{Address: 0x1000}), http.StatusBadRequest, "BOOTLOADER_OVERWRITE"},
		{"keyboard missing", fmt.Errorf("%w: /dev/ttyACM9", service.ErrKeyboardNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"busy", service.ErrUpdateInProgress, http.StatusConflict, "UPDATE_IN_PROGRESS"},
		{"unexpected", errors.New("disk full"), http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updates := &fakeUpdates{startErr: tt.err}
			r := newRouter(t, &fakeKeyboards{}, updates, nil)

			w, resp := do(r, http.MethodPost, "/api/v1/updates", `{"port":"/dev/ttyACM0","firmware_file":"/tmp/fw.hex","backup_path":"/tmp/b.json"}`)
			assert.Equal(t, tt.status, w.Code)
			require.NotNil(t, updates.started)
			assert.Equal(t, "/tmp/b.json", updates.started.BackupPath)
			if tt.code == "" {
				assert.True(t, resp.Success)
				return
			}
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestStartUpdate_Validation(t *testing.T) {
	updates := &fakeUpdates{}
	r := newRouter(t, &fakeKeyboards{}, updates, nil)

	w, resp := do(r, http.MethodPost, "/api/v1/updates", `{"port":"/dev/ttyACM0"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	assert.Nil(t, updates.started)
}

func TestListUpdates_Filters(t *testing.T) {
	updates := &fakeUpdates{sessions: []*model.UpdateSession{{ID: uuid.New()}}}
	r := newRouter(t, &fakeKeyboards{}, updates, nil)

	w, _ := do(r, http.MethodGet, "/api/v1/updates?outcome=FAILURE&port=/dev/ttyACM0&page=2&per_page=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, updates.filter.Outcome)
	assert.Equal(t, model.SessionOutcomeFailure, *updates.filter.Outcome)
	assert.Equal(t, "/dev/ttyACM0", *updates.filter.Port)
	assert.Equal(t, 2, updates.filter.Page)
	assert.Equal(t, 5, updates.filter.PerPage)

	w, _ = do(r, http.MethodGet, "/api/v1/updates?outcome=MAYBE", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAndCancelUpdate(t *testing.T) {
	updates := &fakeUpdates{}
	r := newRouter(t, &fakeKeyboards{}, updates, nil)
	id := uuid.New()

	w, _ := do(r, http.MethodGet, "/api/v1/updates/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(r, http.MethodGet, "/api/v1/updates/"+id.String(), "")
	assert.Equal(t, http.StatusOK, w.Code)

	updates.getErr = repository.ErrSessionNotFound
	w, _ = do(r, http.MethodGet, "/api/v1/updates/"+id.String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(r, http.MethodPost, "/api/v1/updates/"+id.String()+"/cancel", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	updates.cancelErr = service.ErrSessionNotRunning
	w, resp := do(r, http.MethodPost, "/api/v1/updates/"+id.String()+"/cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "SESSION_NOT_RUNNING", resp.Error.Code)
}

func TestKeyboardCommand(t *testing.T) {
	keyboards := &fakeKeyboards{}
	updates := &fakeUpdates{}
	r := newRouter(t, keyboards, updates, nil)
	body := `{"port":"/dev/ttyACM0","command":"keymap.custom"}`

	w, resp := do(r, http.MethodPost, "/api/v1/keyboards/command", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	keyboards.err = fmt.Errorf("%w: keymap.custom", focus.ErrCommunicationTimeout)
	w, resp = do(r, http.MethodPost, "/api/v1/keyboards/command", body)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, "DEVICE_TIMEOUT", resp.Error.Code)

	keyboards.err = fmt.Errorf("%w: no such port", focus.ErrConnection)
	w, _ = do(r, http.MethodPost, "/api/v1/keyboards/command", body)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	updates.running = true
	calls := keyboards.commands
	w, resp = do(r, http.MethodPost, "/api/v1/keyboards/command", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "KEYBOARD_BUSY", resp.Error.Code)
	assert.Equal(t, calls, keyboards.commands)
}

func TestKeyboardListAndHelp(t *testing.T) {
	r := newRouter(t, &fakeKeyboards{}, &fakeUpdates{}, nil)

	w, resp := do(r, http.MethodGet, "/api/v1/keyboards", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, fmt.Sprint(resp.Data), "/dev/ttyACM0")

	w, _ = do(r, http.MethodGet, "/api/v1/keyboards/help", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = do(r, http.MethodGet, "/api/v1/keyboards/help?port=/dev/ttyACM0", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, fmt.Sprint(resp.Data), "version")
}

func TestKeyboardList_BusyDuringUpdate(t *testing.T) {
	keyboards := &fakeKeyboards{}
	updates := &fakeUpdates{running: true}
	r := newRouter(t, keyboards, updates, nil)

	w, resp := do(r, http.MethodGet, "/api/v1/keyboards", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "KEYBOARD_BUSY", resp.Error.Code)

	w, _ = do(r, http.MethodGet, "/api/v1/keyboards/help?port=/dev/ttyACM0", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// a session that began after the running check is refused by the service
	updates.running = false
	keyboards.err = service.ErrKeyboardBusy
	w, resp = do(r, http.MethodGet, "/api/v1/keyboards", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "KEYBOARD_BUSY", resp.Error.Code)
}

func TestHealthCheck(t *testing.T) {
	active := &model.UpdateSession{ID: uuid.New(), State: model.SessionStateFlashing}
	r := newRouter(t, &fakeKeyboards{}, &fakeUpdates{active: active}, nil)

	w, _ := do(r, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "disabled", health.Checks["database"].Status)
	assert.Equal(t, true, health.Checks["updates"].Data["running"])
	assert.Equal(t, string(model.SessionStateFlashing), health.Checks["updates"].Data["state"])

	r = newRouter(t, &fakeKeyboards{}, &fakeUpdates{}, failingDB{err: errors.New("connection refused")})
	w, _ = do(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w, _ = do(r, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w, _ = do(r, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:3000"})
	req := httptest.NewRequest(http.MethodGet, "/ws/updates", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, check(req))

	assert.True(t, originChecker(nil)(req))
}

func TestEventBus_FanOut(t *testing.T) {
	bus := NewEventBus(zaptest.NewLogger(t))
	go bus.Start()
	defer bus.Close()

	first, unsubscribeFirst := bus.Subscribe()
	second, unsubscribeSecond := bus.Subscribe()
	defer unsubscribeSecond()

	event := model.SessionEvent{SessionID: uuid.New(), EventType: model.EventStateChanged, State: model.SessionStateFlashing}
	bus.Publish(event)

	for _, ch := range []<-chan model.SessionEvent{first, second} {
		select {
		case got := <-ch:
			assert.Equal(t, event.SessionID, got.SessionID)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	unsubscribeFirst()
	_, open := <-first
	assert.False(t, open)
	unsubscribeFirst()
}
