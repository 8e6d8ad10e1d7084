package handlers

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/telepay/reconciler/internal/entities"
)

type OrderService interface {
	CreatePending(ctx context.Context, userID int64, base decimal.Decimal, currency string) (*entities.Order, error)
	CreateAgentPending(ctx context.Context, userID int64, base decimal.Decimal, currency, agentID string, units int) (*entities.Order, error)
	Get(ctx context.Context, orderID string) (*entities.Order, error)
	OrdersForUser(ctx context.Context, userID int64) ([]entities.Order, error)
	PendingStats(ctx context.Context, now time.Time) (*entities.PendingStats, error)
}
