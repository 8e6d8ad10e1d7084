package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/telepay/reconciler/internal/entities"
)

// ExpiryReaper periodically transitions overdue pending orders to expired.
// The transition is a conditional update keyed on the pending status, so an
// order credited concurrently can never be expired afterwards.
type ExpiryReaper struct {
	logger *slog.Logger
	orders OrderExpirer

	sweepInterval time.Duration
}

type OrderExpirer interface {
	ExpireDue(ctx context.Context, now time.Time) ([]entities.Order, error)
}

func NewExpiryReaper(logger *slog.Logger, orders OrderExpirer, sweepInterval time.Duration) *ExpiryReaper {
	return &ExpiryReaper{
		logger:        logger,
		orders:        orders,
		sweepInterval: sweepInterval,
	}
}

// Start begins the periodic sweep and blocks until the context is cancelled.
func (r *ExpiryReaper) Start(ctx context.Context) {
	r.logger.Info("Starting expiry reaper", "sweep_interval", r.sweepInterval.String())

	if err := r.sweep(ctx); err != nil {
		r.logger.Error("Initial expiry sweep failed", "error", err)
	}

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Expiry reaper stopped")
			return
		case <-ticker.C:
			if err := r.sweep(ctx); err != nil {
				r.logger.Error("Expiry sweep failed", "error", err)
			}
		}
	}
}

func (r *ExpiryReaper) sweep(ctx context.Context) error {
	expired, err := r.orders.ExpireDue(ctx, time.Now().UTC())
	if err != nil {
		return err
	}

	if len(expired) > 0 {
		for i := range expired {
			r.logger.Info("Order expired",
				"order_id", expired[i].ID,
				"user_id", expired[i].UserID,
				"pay_amount", expired[i].PayAmount.String())
		}
		r.logger.Info("Expired stale orders", "count", len(expired))
	} else {
		r.logger.Debug("No orders due for expiry")
	}

	return nil
}
