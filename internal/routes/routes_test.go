package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"keyboard-service/internal/config"
	"keyboard-service/internal/handler"
	"keyboard-service/internal/middleware"
	"keyboard-service/internal/model"
	"keyboard-service/internal/repository"
	"keyboard-service/internal/service"
)

type stubKeyboards struct{}

func (stubKeyboards) ListKeyboards(context.Context) ([]service.KeyboardInfo, error) {
	return []service.KeyboardInfo{}, nil
}

func (stubKeyboards) RunCommand(context.Context, *service.CommandRequest) (*service.CommandResponse, error) {
	return &service.CommandResponse{}, nil
}

func (stubKeyboards) Help(context.Context, string) ([]string, error) {
	return nil, nil
}

type stubUpdates struct{}

func (stubUpdates) Start(context.Context, *service.StartUpdateRequest) (*model.UpdateSession, error) {
	return nil, service.ErrUpdateInProgress
}

func (stubUpdates) Get(context.Context, uuid.UUID) (*model.UpdateSession, error) {
	return nil, repository.ErrSessionNotFound
}

func (stubUpdates) List(context.Context, *repository.SessionFilter) ([]*model.UpdateSession, *service.PaginationResult, error) {
	return nil, &service.PaginationResult{}, nil
}

func (stubUpdates) Cancel(context.Context, uuid.UUID) error { return service.ErrSessionNotRunning }

func (stubUpdates) IsRunning() bool { return false }

func (stubUpdates) Active() (*model.UpdateSession, bool) { return nil, false }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := zaptest.NewLogger(t)

	bus := handler.NewEventBus(logger)
	go bus.Start()
	t.Cleanup(bus.Close)

	cfg := &config.Config{App: config.AppConfig{Name: "keyboard-service", Version: "test", Environment: "test"}}
	return NewRouter(cfg, logger, nil, stubKeyboards{}, stubUpdates{}, bus).SetupRouter()
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestSetupRouter_Documentation(t *testing.T) {
	r := newTestRouter(t)

	w := get(r, "/docs")
	assert.Equal(t, http.StatusMovedPermanently, w.Code)
	assert.Equal(t, "/swagger/index.html", w.Header().Get("Location"))

	w = get(r, "/swagger/index.html")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "swagger-ui")
}

func TestSetupRouter_APIRoutes(t *testing.T) {
	r := newTestRouter(t)

	w := get(r, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	w = get(r, "/api/v1/keyboards")
	assert.Equal(t, http.StatusOK, w.Code)

	w = get(r, "/api/v1/updates/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, w.Code)
}
