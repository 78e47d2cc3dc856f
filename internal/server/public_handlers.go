package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/campaign/backend/internal/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	opGetCampaign    = "http.get_campaign"
	opCampaignStream = "http.campaign_stream"
	opSubmit         = "http.submit"
)

// amountField accepts an amount as a JSON string ("25,50") or a JSON number (25.5).
type amountField string

func (a *amountField) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*a = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*a = amountField(text)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return err
	}
	*a = amountField(number.String())
	return nil
}

func (a *amountField) stringPointer() *string {
	if a == nil {
		return nil
	}
	value := string(*a)
	return &value
}

type submitRequestPayload struct {
	Name         string      `json:"name"`
	Amount       amountField `json:"amount"`
	ContactPhone string      `json:"contactPhone"`
}

type submitResponsePayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (h *httpHandler) handleCampaign(c *gin.Context) {
	board, err := h.ledger.Board(c.Request.Context())
	if err != nil {
		h.respondLedgerError(c, opGetCampaign, err)
		return
	}
	body, err := json.Marshal(presentBoard(board))
	if err != nil {
		h.logger.Error("failed to encode campaign board", zap.Error(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	etag := weakETag(body)
	c.Header("ETag", etag)
	c.Header("Cache-Control", "no-cache")
	if etagMatches(c.GetHeader("If-None-Match"), etag) {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func (h *httpHandler) handleCampaignStream(c *gin.Context) {
	h.streamView(c, "campaign", streamEventCampaign, campaignTopics, func(ctx context.Context) (any, error) {
		board, err := h.ledger.Board(ctx)
		if err != nil {
			return nil, err
		}
		return presentBoard(board), nil
	})
}

func (h *httpHandler) handleSubmit(c *gin.Context) {
	var request submitRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c, "Request body must be a JSON object with name and amount.")
		return
	}
	created, err := h.ledger.Submit(c.Request.Context(), ledger.SubmitInput{
		Name:         request.Name,
		Amount:       string(request.Amount),
		ContactPhone: request.ContactPhone,
	})
	if err != nil {
		h.respondLedgerError(c, opSubmit, err)
		return
	}
	c.JSON(http.StatusCreated, submitResponsePayload{ID: created.ID, Status: string(created.Status)})
}

func weakETag(body []byte) string {
	sum := sha256.Sum256(body)
	return `W/"` + hex.EncodeToString(sum[:16]) + `"`
}

func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || candidate == etag || "W/"+candidate == etag {
			return true
		}
	}
	return false
}
