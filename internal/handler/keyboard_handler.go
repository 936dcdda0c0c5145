// internal/handler/keyboard_handler.go
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"keyboard-service/internal/service"
	"keyboard-service/internal/utils"
)

// KeyboardManager is the keyboard surface the HTTP layer needs
type KeyboardManager interface {
	ListKeyboards(ctx context.Context) ([]service.KeyboardInfo, error)
	RunCommand(ctx context.Context, req *service.CommandRequest) (*service.CommandResponse, error)
	Help(ctx context.Context, port string) ([]string, error)
}

// KeyboardHandler handles keyboard listing and focus commands
type KeyboardHandler struct {
	keyboards KeyboardManager
	updates   UpdateManager
	logger    *zap.Logger
}

// NewKeyboardHandler creates a new keyboard handler
func NewKeyboardHandler(keyboards KeyboardManager, updates UpdateManager, logger *zap.Logger) *KeyboardHandler {
	return &KeyboardHandler{
		keyboards: keyboards,
		updates:   updates,
		logger:    logger.With(zap.String("handler", "keyboard-handler")),
	}
}

// RegisterRoutes registers keyboard routes
func (h *KeyboardHandler) RegisterRoutes(router *gin.RouterGroup) {
	keyboards := router.Group("/keyboards")
	{
		keyboards.GET("", h.ListKeyboards)
		keyboards.GET("/help", h.Help)
		keyboards.POST("/command", h.RunCommand)
	}
}

// ListKeyboards returns the supported keyboards currently attached
// @Summary List keyboards
// @Description List attached keyboards that pass their layout check
// @Tags Keyboards
// @Accept json
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]service.KeyboardInfo} "Keyboards retrieved successfully"
// @Failure 409 {object} utils.APIResponse "Keyboard is being updated"
// @Failure 500 {object} utils.APIResponse "Internal server error"
// @Router /api/v1/keyboards [get]
func (h *KeyboardHandler) ListKeyboards(c *gin.Context) {
	if h.updates.IsRunning() {
		respondError(c, "Keyboard is being updated", service.ErrKeyboardBusy)
		return
	}

	keyboards, err := h.keyboards.ListKeyboards(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list keyboards", zap.Error(err))
		respondError(c, "Failed to list keyboards", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Keyboards retrieved successfully", keyboards)
}

// RunCommand sends one focus command to a keyboard
// @Summary Run a focus command
// @Description Send one focus command to the keyboard at a port and return the raw reply
// @Tags Keyboards
// @Accept json
// @Produce json
// @Param request body service.CommandRequest true "Command request"
// @Success 200 {object} utils.APIResponse{data=service.CommandResponse} "Command executed successfully"
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Failure 409 {object} utils.APIResponse "Keyboard is being updated"
// @Failure 502 {object} utils.APIResponse "Keyboard not reachable"
// @Failure 504 {object} utils.APIResponse "Keyboard did not answer"
// @Router /api/v1/keyboards/command [post]
func (h *KeyboardHandler) RunCommand(c *gin.Context) {
	var req service.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ValidationErrorResponse(c, err)
		return
	}

	if h.updates.IsRunning() {
		respondError(c, "Keyboard is being updated", service.ErrKeyboardBusy)
		return
	}

	response, err := h.keyboards.RunCommand(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Keyboard command failed", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Command executed successfully", response)
}

// Help lists the commands supported by the keyboard at the port query parameter
// @Summary List focus commands
// @Description List the commands the keyboard firmware understands
// @Tags Keyboards
// @Accept json
// @Produce json
// @Param port query string true "Serial port of the keyboard"
// @Success 200 {object} utils.APIResponse{data=object{port=string,commands=[]string}} "Commands retrieved successfully"
// @Failure 400 {object} utils.APIResponse "Port is required"
// @Failure 409 {object} utils.APIResponse "Keyboard is being updated"
// @Failure 502 {object} utils.APIResponse "Keyboard not reachable"
// @Router /api/v1/keyboards/help [get]
func (h *KeyboardHandler) Help(c *gin.Context) {
	port := c.Query("port")
	if port == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, "port is required", nil)
		return
	}

	if h.updates.IsRunning() {
		respondError(c, "Keyboard is being updated", service.ErrKeyboardBusy)
		return
	}

	commands, err := h.keyboards.Help(c.Request.Context(), port)
	if err != nil {
		respondError(c, "Failed to read keyboard commands", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Commands retrieved successfully", gin.H{
		"port":     port,
		"commands": commands,
	})
}
