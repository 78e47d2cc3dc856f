package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/campaign/backend/internal/ledger"
	"github.com/MarcoPoloResearchLab/campaign/backend/internal/realtime"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	streamEventHeartbeat = "heartbeat"
	streamEventCampaign  = "campaign"
	streamEventSnapshot  = "snapshot"
	streamEventError     = "error"
)

var (
	campaignTopics = []string{ledger.TableContributions, ledger.TableCampaignSettings}
	snapshotTopics = []string{ledger.TablePaymentRequests, ledger.TableContributions, ledger.TableCampaignSettings}
)

type streamFrame struct {
	event string
	data  any
}

// streamView serves a server-sent event stream of a view. A coordinator re-reads the
// view on every change; only the newest rendering is kept if the client falls behind.
func (h *httpHandler) streamView(c *gin.Context, view, event string, topics []string, load func(ctx context.Context) (any, error)) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	frames := make(chan streamFrame, 1)
	publish := func(frame streamFrame) {
		for {
			select {
			case frames <- frame:
				return
			default:
			}
			select {
			case <-frames:
			default:
			}
		}
	}

	coordinator, err := realtime.NewCoordinator(realtime.CoordinatorConfig{
		Name:   view,
		Feed:   h.feed,
		Topics: topics,
		Refresh: func(refreshCtx context.Context) error {
			payload, err := load(refreshCtx)
			if err != nil {
				_, body := classifyLedgerError(err)
				publish(streamFrame{event: streamEventError, data: body})
				return err
			}
			publish(streamFrame{event: event, data: payload})
			return nil
		},
		PollInterval: h.pollInterval,
		NewTicker:    h.newTicker,
		Logger:       h.logger,
	})
	if err != nil {
		h.logger.Error("failed to build stream coordinator", zap.String("view", view), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorPayload{
			Error:   "internal_error",
			Message: "Something on our side failed. Please try again later.",
		})
		return
	}
	closeGauge := h.metrics.StreamOpened(view)
	defer closeGauge()
	coordinator.Start(ctx)
	defer coordinator.Stop()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case frame := <-frames:
			c.SSEvent(frame.event, frame.data)
			return true
		case now := <-heartbeat.C:
			c.SSEvent(streamEventHeartbeat, gin.H{"at": now.UTC()})
			return true
		}
	})
}
