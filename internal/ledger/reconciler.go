package ledger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

var errMissingService = errors.New("ledger service is required")

// Reconciler periodically recomputes the running total so manual overrides and
// interrupted writes heal without moderator action.
type Reconciler struct {
	service  *Service
	interval time.Duration
	logger   *zap.Logger
}

// NewReconciler builds a Reconciler. A non-positive interval disables the loop.
func NewReconciler(service *Service, interval time.Duration, logger *zap.Logger) (*Reconciler, error) {
	if service == nil {
		return nil, newServiceError(opReconcile, "missing_service", errMissingService)
	}
	if logger == nil {
		logger = noOpLogger
	}
	return &Reconciler{service: service, interval: interval, logger: logger}, nil
}

// Run blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	if r.interval <= 0 {
		r.logger.Info("periodic reconciliation disabled")
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := r.service.Reconcile(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Warn("periodic reconciliation failed", zap.Error(err))
				continue
			}
			r.logger.Debug("periodic reconciliation completed",
				zap.String("raised", result.Current.StringFixed(amountScale)))
		}
	}
}
