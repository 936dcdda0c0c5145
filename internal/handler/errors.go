// internal/handler/errors.go
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"keyboard-service/internal/firmware"
	"keyboard-service/internal/focus"
	"keyboard-service/internal/repository"
	"keyboard-service/internal/service"
	"keyboard-service/internal/utils"
)

// respondError maps service and device errors onto the API envelope
func respondError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, firmware.ErrWouldOverwriteBootloader):
		utils.CodedErrorResponse(c, http.StatusBadRequest, "BOOTLOADER_OVERWRITE", message, err)
	case errors.Is(err, service.ErrInvalidFirmware):
		utils.CodedErrorResponse(c, http.StatusBadRequest, "INVALID_FIRMWARE", message, err)
	case errors.Is(err, service.ErrKeyboardNotFound), errors.Is(err, repository.ErrSessionNotFound):
		utils.ErrorResponse(c, http.StatusNotFound, message, err)
	case errors.Is(err, service.ErrUpdateInProgress):
		utils.CodedErrorResponse(c, http.StatusConflict, "UPDATE_IN_PROGRESS", message, err)
	case errors.Is(err, service.ErrKeyboardBusy):
		utils.CodedErrorResponse(c, http.StatusConflict, "KEYBOARD_BUSY", message, err)
	case errors.Is(err, service.ErrSessionNotRunning):
		utils.CodedErrorResponse(c, http.StatusConflict, "SESSION_NOT_RUNNING", message, err)
	case errors.Is(err, focus.ErrCommunicationTimeout):
		utils.ErrorResponse(c, http.StatusGatewayTimeout, message, err)
	case errors.Is(err, focus.ErrConnection), errors.Is(err, focus.ErrConnectionLost), errors.Is(err, focus.ErrNotConnected):
		utils.ErrorResponse(c, http.StatusBadGateway, message, err)
	default:
		utils.ErrorResponse(c, http.StatusInternalServerError, message, err)
	}
}
