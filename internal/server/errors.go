package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/campaign/backend/internal/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorPayload struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Step      string `json:"step,omitempty"`
	Field     string `json:"field,omitempty"`
}

// classifyLedgerError maps the ledger error taxonomy onto an HTTP status and a stable code.
func classifyLedgerError(err error) (int, errorPayload) {
	payload := errorPayload{
		Message:   ledger.UserMessage(err),
		Retryable: ledger.Retryable(err),
	}
	var (
		validation   *ledger.ValidationError
		notFound     *ledger.NotFoundError
		invalidState *ledger.InvalidStateError
		partial      *ledger.PartialFailureError
	)
	switch {
	case errors.As(err, &validation):
		payload.Error = "invalid_input"
		payload.Field = validation.Field
		return http.StatusBadRequest, payload
	case errors.As(err, &notFound):
		payload.Error = "not_found"
		return http.StatusNotFound, payload
	case errors.As(err, &invalidState):
		payload.Error = "invalid_state"
		return http.StatusConflict, payload
	case errors.As(err, &partial):
		payload.Error = "partial_failure"
		payload.Step = string(partial.FailedStep)
		return http.StatusBadGateway, payload
	case ledger.IsTransient(err):
		payload.Error = "temporarily_unavailable"
		return http.StatusServiceUnavailable, payload
	default:
		payload.Error = "internal_error"
		return http.StatusInternalServerError, payload
	}
}

func (h *httpHandler) respondLedgerError(c *gin.Context, operation string, err error) {
	status, payload := classifyLedgerError(err)
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("code", payload.Error),
		zap.Error(err),
	}
	if moderatorID := c.GetString(moderatorIDContextKey); moderatorID != "" {
		fields = append(fields, zap.String("moderator_id", moderatorID))
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Info("request rejected", fields...)
	}
	c.AbortWithStatusJSON(status, payload)
}

func respondInvalidRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorPayload{
		Error:   "invalid_request",
		Message: message,
	})
}
