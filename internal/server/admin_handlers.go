package server

import (
	"context"
	"net/http"

	"github.com/MarcoPoloResearchLab/campaign/backend/internal/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	opSnapshot           = "http.snapshot"
	opApprove            = "http.approve"
	opReject             = "http.reject"
	opDeleteRequest      = "http.delete_request"
	opAddContribution    = "http.add_contribution"
	opEditContribution   = "http.edit_contribution"
	opDeleteContribution = "http.delete_contribution"
	opEditSettings       = "http.edit_settings"
	opReconcile          = "http.reconcile"
)

type contributionRequestPayload struct {
	Name   string      `json:"name"`
	Amount amountField `json:"amount"`
}

type contributionEditPayload struct {
	Name   *string      `json:"name"`
	Amount *amountField `json:"amount"`
}

type settingsEditPayload struct {
	Target       *amountField `json:"target"`
	Raised       *amountField `json:"raised"`
	HeroTitle    *string      `json:"heroTitle"`
	HeroSubtitle *string      `json:"heroSubtitle"`
}

func (h *httpHandler) handleSnapshot(c *gin.Context) {
	snapshot, err := h.ledger.Snapshot(c.Request.Context())
	if err != nil {
		h.respondLedgerError(c, opSnapshot, err)
		return
	}
	c.JSON(http.StatusOK, presentSnapshot(snapshot))
}

func (h *httpHandler) handleSnapshotStream(c *gin.Context) {
	h.streamView(c, "snapshot", streamEventSnapshot, snapshotTopics, func(ctx context.Context) (any, error) {
		snapshot, err := h.ledger.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		return presentSnapshot(snapshot), nil
	})
}

func (h *httpHandler) handleApprove(c *gin.Context) {
	requestID := c.Param("id")
	result, err := h.ledger.Approve(c.Request.Context(), requestID)
	if err != nil {
		h.respondLedgerError(c, opApprove, err)
		return
	}
	h.logModeratorAction(c, "payment request approved",
		zap.String("request_id", result.Request.ID),
		zap.String("contribution_id", result.Contribution.ID),
		zap.Bool("resumed", result.Resumed))
	c.JSON(http.StatusOK, presentApproval(result))
}

func (h *httpHandler) handleReject(c *gin.Context) {
	request, err := h.ledger.Reject(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondLedgerError(c, opReject, err)
		return
	}
	h.logModeratorAction(c, "payment request rejected", zap.String("request_id", request.ID))
	c.JSON(http.StatusOK, presentRequest(request))
}

func (h *httpHandler) handleDeleteRequest(c *gin.Context) {
	requestID := c.Param("id")
	if err := h.ledger.DeleteRequest(c.Request.Context(), requestID); err != nil {
		h.respondLedgerError(c, opDeleteRequest, err)
		return
	}
	h.logModeratorAction(c, "payment request deleted", zap.String("request_id", requestID))
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAddContribution(c *gin.Context) {
	var request contributionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c, "Request body must be a JSON object with name and amount.")
		return
	}
	contribution, err := h.ledger.AddContribution(c.Request.Context(), request.Name, string(request.Amount))
	if err != nil {
		h.respondLedgerError(c, opAddContribution, err)
		return
	}
	h.logModeratorAction(c, "contribution added", zap.String("contribution_id", contribution.ID))
	c.JSON(http.StatusCreated, presentContribution(contribution))
}

func (h *httpHandler) handleEditContribution(c *gin.Context) {
	var request contributionEditPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c, "Request body must be a JSON object.")
		return
	}
	contribution, err := h.ledger.EditContribution(c.Request.Context(), c.Param("id"), ledger.ContributionEdit{
		Name:   request.Name,
		Amount: request.Amount.stringPointer(),
	})
	if err != nil {
		h.respondLedgerError(c, opEditContribution, err)
		return
	}
	h.logModeratorAction(c, "contribution edited", zap.String("contribution_id", contribution.ID))
	c.JSON(http.StatusOK, presentContribution(contribution))
}

func (h *httpHandler) handleDeleteContribution(c *gin.Context) {
	contributionID := c.Param("id")
	if err := h.ledger.DeleteContribution(c.Request.Context(), contributionID); err != nil {
		h.respondLedgerError(c, opDeleteContribution, err)
		return
	}
	h.logModeratorAction(c, "contribution deleted", zap.String("contribution_id", contributionID))
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleEditSettings(c *gin.Context) {
	var request settingsEditPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c, "Request body must be a JSON object.")
		return
	}
	settings, err := h.ledger.EditSettings(c.Request.Context(), ledger.SettingsEdit{
		Target:       request.Target.stringPointer(),
		Raised:       request.Raised.stringPointer(),
		HeroTitle:    request.HeroTitle,
		HeroSubtitle: request.HeroSubtitle,
	})
	if err != nil {
		h.respondLedgerError(c, opEditSettings, err)
		return
	}
	h.logModeratorAction(c, "campaign settings edited", zap.Bool("raised_overridden", request.Raised != nil))
	c.JSON(http.StatusOK, presentSettings(settings))
}

func (h *httpHandler) handleReconcile(c *gin.Context) {
	result, err := h.ledger.Reconcile(c.Request.Context())
	if err != nil {
		h.respondLedgerError(c, opReconcile, err)
		return
	}
	h.logModeratorAction(c, "running total reconciled", zap.String("drift", formatAmount(result.Drift())))
	c.JSON(http.StatusOK, presentReconcile(result))
}

func (h *httpHandler) logModeratorAction(c *gin.Context, message string, fields ...zap.Field) {
	attrs := append([]zap.Field{zap.String("moderator_id", c.GetString(moderatorIDContextKey))}, fields...)
	h.logger.Info(message, attrs...)
}
