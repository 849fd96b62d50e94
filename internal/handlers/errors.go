package handlers

import (
	"net/http"

	"aa-backend/internal/types"

	"github.com/gin-gonic/gin"
)

// respondError maps a domain error to an HTTP response
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"

	switch types.KindOf(err) {
	case types.ErrKindValidation:
		status = http.StatusBadRequest
		code = "VALIDATION_ERROR"
	case types.ErrKindNotFound:
		status = http.StatusNotFound
		code = "NOT_FOUND"
	case types.ErrKindAuthorization:
		status = http.StatusUnauthorized
		code = "AUTHORIZATION_ERROR"
	case types.ErrKindUnsupported:
		status = http.StatusBadRequest
		code = "UNSUPPORTED_OPERATION"
	case types.ErrKindTransient:
		status = http.StatusServiceUnavailable
		code = "LEDGER_UNAVAILABLE"
	case types.ErrKindConfiguration:
		status = http.StatusInternalServerError
		code = "CONFIGURATION_ERROR"
	case types.ErrKindTerminal:
		status = http.StatusBadGateway
		code = "LEDGER_ERROR"
	}

	c.JSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
		"code":    code,
	})
}
