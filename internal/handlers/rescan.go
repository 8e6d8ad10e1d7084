package handlers

import (
	"context"

	"github.com/telepay/reconciler/internal/core/ports"
	"github.com/telepay/reconciler/internal/entities"
)

type RescanService interface {
	RescanByTxid(ctx context.Context, txid string) (ports.CreditOutcome, error)
	RescanByOrder(ctx context.Context, orderID string) (ports.CreditOutcome, error)
}

type TransfersView interface {
	FindUnmatched(ctx context.Context) ([]entities.TransferEvent, error)
}
