// internal/handler/update_handler.go
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"keyboard-service/internal/model"
	"keyboard-service/internal/repository"
	"keyboard-service/internal/service"
	"keyboard-service/internal/utils"
)

// UpdateManager is the update surface the HTTP layer needs
type UpdateManager interface {
	Start(ctx context.Context, req *service.StartUpdateRequest) (*model.UpdateSession, error)
	Get(ctx context.Context, id uuid.UUID) (*model.UpdateSession, error)
	List(ctx context.Context, filter *repository.SessionFilter) ([]*model.UpdateSession, *service.PaginationResult, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	IsRunning() bool
	Active() (*model.UpdateSession, bool)
}

// UpdateHandler handles firmware update sessions
type UpdateHandler struct {
	updates UpdateManager
	logger  *zap.Logger
}

// NewUpdateHandler creates a new update handler
func NewUpdateHandler(updates UpdateManager, logger *zap.Logger) *UpdateHandler {
	return &UpdateHandler{
		updates: updates,
		logger:  logger.With(zap.String("handler", "update-handler")),
	}
}

// RegisterRoutes registers update routes
func (h *UpdateHandler) RegisterRoutes(router *gin.RouterGroup) {
	updates := router.Group("/updates")
	{
		updates.POST("", h.StartUpdate)
		updates.GET("", h.ListUpdates)
		updates.GET("/:id", h.GetUpdate)
		updates.POST("/:id/cancel", h.CancelUpdate)
	}
}

// StartUpdate starts a firmware update session. The session runs in the
// background, progress is streamed over the websocket.
// @Summary Start a firmware update
// @Description Back up the keyboard settings, flash the firmware and restore the settings. Runs in the background.
// @Tags Updates
// @Accept json
// @Produce json
// @Param request body service.StartUpdateRequest true "Update request"
// @Success 202 {object} utils.APIResponse{data=model.UpdateSession} "Update started"
// @Failure 400 {object} utils.APIResponse "Invalid request or firmware"
// @Failure 404 {object} utils.APIResponse "Keyboard not found"
// @Failure 409 {object} utils.APIResponse "Update already in progress"
// @Router /api/v1/updates [post]
func (h *UpdateHandler) StartUpdate(c *gin.Context) {
	var req service.StartUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ValidationErrorResponse(c, err)
		return
	}

	session, err := h.updates.Start(c.Request.Context(), &req)
	if err != nil {
		h.logger.Warn("Update rejected",
			zap.String("port", req.Port),
			zap.String("firmware_file", req.FirmwareFile),
			zap.Error(err),
		)
		respondError(c, "Failed to start update", err)
		return
	}

	utils.SuccessResponse(c, http.StatusAccepted, "Update started", session)
}

// ListUpdates returns the update history
// @Summary List updates
// @Description Get the update history, newest first
// @Tags Updates
// @Accept json
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Param port query string false "Filter by port"
// @Param outcome query string false "Filter by outcome" Enums(PENDING, SUCCESS, FAILURE)
// @Success 200 {object} utils.APIResponse{data=object{sessions=[]model.UpdateSession,pagination=service.PaginationResult}} "Updates retrieved successfully"
// @Failure 400 {object} utils.APIResponse "Invalid outcome"
// @Failure 500 {object} utils.APIResponse "Internal server error"
// @Router /api/v1/updates [get]
func (h *UpdateHandler) ListUpdates(c *gin.Context) {
	filter := &repository.SessionFilter{}

	if outcome := c.Query("outcome"); outcome != "" {
		o := model.SessionOutcome(outcome)
		if !o.Valid() {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid outcome", nil)
			return
		}
		filter.Outcome = &o
	}
	if port := c.Query("port"); port != "" {
		filter.Port = &port
	}
	if page := c.Query("page"); page != "" {
		if p, err := strconv.Atoi(page); err == nil {
			filter.Page = p
		}
	}
	if perPage := c.Query("per_page"); perPage != "" {
		if pp, err := strconv.Atoi(perPage); err == nil {
			filter.PerPage = pp
		}
	}

	sessions, pagination, err := h.updates.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list updates", zap.Error(err))
		respondError(c, "Failed to list updates", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Updates retrieved successfully", gin.H{
		"sessions":   sessions,
		"pagination": pagination,
	})
}

// GetUpdate returns one session
// @Summary Get update details
// @Description Get one update session, live while it runs
// @Tags Updates
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} utils.APIResponse{data=model.UpdateSession} "Update retrieved successfully"
// @Failure 400 {object} utils.APIResponse "Invalid session ID"
// @Failure 404 {object} utils.APIResponse "Session not found"
// @Router /api/v1/updates/{id} [get]
func (h *UpdateHandler) GetUpdate(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	session, err := h.updates.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, "Failed to get update", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Update retrieved successfully", session)
}

// CancelUpdate aborts a running session
// @Summary Cancel an update
// @Description Abort the running session. Its backup is still saved.
// @Tags Updates
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Success 202 {object} utils.APIResponse{data=object{id=string}} "Update cancellation requested"
// @Failure 400 {object} utils.APIResponse "Invalid session ID"
// @Failure 404 {object} utils.APIResponse "Session not found"
// @Failure 409 {object} utils.APIResponse "Session not running"
// @Router /api/v1/updates/{id}/cancel [post]
func (h *UpdateHandler) CancelUpdate(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	if err := h.updates.Cancel(c.Request.Context(), id); err != nil {
		respondError(c, "Failed to cancel update", err)
		return
	}

	utils.SuccessResponse(c, http.StatusAccepted, "Update cancellation requested", gin.H{"id": id})
}

func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid session ID", err)
		return uuid.Nil, false
	}
	return id, true
}
