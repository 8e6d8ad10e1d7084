package handlers

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/telepay/reconciler/internal/entities"
)

type AgentService interface {
	Register(ctx context.Context, agentID string, markupPerUnit decimal.Decimal) error
	Balance(ctx context.Context, agentID string) (*entities.Agent, error)
	Request(ctx context.Context, agentID string, amount decimal.Decimal, payoutAddress string) (*entities.WithdrawalRequest, error)
	Approve(ctx context.Context, requestID string, adminID int64) error
	Reject(ctx context.Context, requestID string, adminID int64, reason string) error
	MarkPaid(ctx context.Context, requestID string, adminID int64, payoutRef string) error
	List(ctx context.Context, agentID, status string) ([]entities.WithdrawalRequest, error)
}
