package realtime

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/campaign/backend/internal/ledger"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// NotifyChannel is the PostgreSQL channel the ledger change trigger notifies on.
const NotifyChannel = "ledger_changes"

const (
	initialBridgeBackoff = 500 * time.Millisecond
	maxBridgeBackoff     = 30 * time.Second
)

var errMissingDSN = errors.New("realtime: postgres dsn is required")

// Publisher receives topic notifications. Dispatcher implements it.
type Publisher interface {
	Notify(topic string, ids ...string)
}

// PostgresBridge listens on NotifyChannel and republishes every notification to a local
// Publisher, so writes made by other API instances reach this instance's subscribers.
type PostgresBridge struct {
	dsn       string
	publisher Publisher
	logger    *zap.Logger
	connect   func(ctx context.Context, dsn string) (*pgx.Conn, error)
}

// NewPostgresBridge builds a bridge for dsn.
func NewPostgresBridge(dsn string, publisher Publisher, logger *zap.Logger) (*PostgresBridge, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errMissingDSN
	}
	if publisher == nil {
		return nil, errors.New("realtime: publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresBridge{dsn: dsn, publisher: publisher, logger: logger, connect: pgx.Connect}, nil
}

// Run listens until ctx ends, reconnecting with capped exponential backoff.
func (b *PostgresBridge) Run(ctx context.Context) {
	backoff := initialBridgeBackoff
	for ctx.Err() == nil {
		listened, err := b.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		if listened {
			backoff = initialBridgeBackoff
		}
		b.logger.Warn("postgres change bridge disconnected", zap.Error(err), zap.Duration("retry_in", backoff))
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = nextBackoff(backoff)
	}
}

// listen holds one connection. It reports whether LISTEN succeeded before the failure.
func (b *PostgresBridge) listen(ctx context.Context) (bool, error) {
	conn, err := b.connect(ctx, b.dsn)
	if err != nil {
		return false, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		return false, err
	}
	b.logger.Info("postgres change bridge listening", zap.String("channel", NotifyChannel))
	// Anything written while disconnected produced no notification here.
	b.publishAll()

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, err
		}
		topic, id, ok := ParseNotification(notification.Payload)
		if !ok {
			b.logger.Debug("ignoring malformed change notification", zap.String("payload", notification.Payload))
			continue
		}
		if id == "" {
			b.publisher.Notify(topic)
			continue
		}
		b.publisher.Notify(topic, id)
	}
}

func (b *PostgresBridge) publishAll() {
	for _, topic := range []string{ledger.TablePaymentRequests, ledger.TableContributions, ledger.TableCampaignSettings} {
		b.publisher.Notify(topic)
	}
}

// ParseNotification splits a "table:id" payload. The id part is optional.
func ParseNotification(payload string) (topic, id string, ok bool) {
	topic, id, _ = strings.Cut(strings.TrimSpace(payload), ":")
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", "", false
	}
	return topic, strings.TrimSpace(id), true
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBridgeBackoff {
		return maxBridgeBackoff
	}
	return next
}
