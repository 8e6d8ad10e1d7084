package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/telepay/reconciler/internal/entities"
)

// OrderLedger owns the lifecycle of pending top-up orders.
type OrderLedger interface {
	CreatePending(ctx context.Context, userID int64, base decimal.Decimal, currency string) (*entities.Order, error)
	CreateAgentPending(ctx context.Context, userID int64, base decimal.Decimal, currency, agentID string, units int) (*entities.Order, error)
	Get(ctx context.Context, orderID string) (*entities.Order, error)
	FindCandidate(ctx context.Context, amount decimal.Decimal, currency string, around time.Time, window time.Duration) (*entities.Order, error)
	ExpireDue(ctx context.Context, now time.Time) ([]entities.Order, error)
	OrdersForUser(ctx context.Context, userID int64) ([]entities.Order, error)
	PendingStats(ctx context.Context, now time.Time) (*entities.PendingStats, error)
}

// CreditService is the single idempotent mutation point for order completion.
type CreditService interface {
	TryCredit(ctx context.Context, orderID, externalRef string, amount decimal.Decimal) (CreditOutcome, error)
}

// CommissionLedger accrues per-unit markup into the agent's available balance.
// CreditService is the only caller of Accrue.
type CommissionLedger interface {
	Accrue(ctx context.Context, agentID string, units int) error
	Balance(ctx context.Context, agentID string) (*entities.Agent, error)
}

// WithdrawalWorkflow moves agent profit between available/frozen/paid.
type WithdrawalWorkflow interface {
	Request(ctx context.Context, agentID string, amount decimal.Decimal, payoutAddress string) (*entities.WithdrawalRequest, error)
	Approve(ctx context.Context, requestID string, adminID int64) error
	Reject(ctx context.Context, requestID string, adminID int64, reason string) error
	MarkPaid(ctx context.Context, requestID string, adminID int64, payoutRef string) error
	List(ctx context.Context, agentID, status string) ([]entities.WithdrawalRequest, error)
}

// RescanTool replays mirrored transfers through the credit path on demand.
type RescanTool interface {
	RescanByTxid(ctx context.Context, txid string) (CreditOutcome, error)
	RescanByOrder(ctx context.Context, orderID string) (CreditOutcome, error)
}

// Notifier receives outbound events; rendering and delivery are external.
type Notifier interface {
	OrderCredited(ctx context.Context, userID int64, amount decimal.Decimal, orderID string)
	WithdrawalStateChanged(ctx context.Context, agentID, requestID, newStatus string)
}
