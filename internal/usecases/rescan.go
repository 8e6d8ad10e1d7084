package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/telepay/reconciler/internal/core/ports"
)

// rescanWindow is the widened matching window for rescan-by-order.
const rescanWindow = 2 * time.Hour

// RescanService is the manual backfill tool. It is built entirely on the
// transfer mirror and the credit path, so replaying is safe any number of
// times.
type RescanService struct {
	logger *slog.Logger

	orders    *OrderService
	transfers TransfersRepository
	processor *TransferProcessor
}

func NewRescanService(
	logger *slog.Logger,
	orders *OrderService,
	transfers TransfersRepository,
	processor *TransferProcessor,
) *RescanService {
	return &RescanService{
		logger:    logger,
		orders:    orders,
		transfers: transfers,
		processor: processor,
	}
}

// RescanByTxid replays one mirrored transfer through the matching path.
func (s *RescanService) RescanByTxid(ctx context.Context, txid string) (ports.CreditOutcome, error) {
	transfer, err := s.transfers.FindByTxid(ctx, txid)
	if err != nil {
		return "", err
	}
	if transfer == nil {
		return "", ports.ErrTransferNotFound
	}

	s.logger.Info("Rescanning transfer", "txid", txid, "amount", transfer.Amount.String())

	return s.processor.Process(ctx, transfer)
}

// RescanByOrder widens the matching window around the order's creation and
// replays every amount-matching transfer until one credits.
func (s *RescanService) RescanByOrder(ctx context.Context, orderID string) (ports.CreditOutcome, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order.Status == ports.OrderStatusCompleted {
		return ports.CreditOutcomeAlreadyCredited, nil
	}

	transfers, err := s.transfers.FindByAmountAround(ctx,
		order.PayAmount, ToleranceFor(order.Currency), order.CreatedAt, rescanWindow)
	if err != nil {
		return "", fmt.Errorf("failed to search transfers for order %s: %w", orderID, err)
	}

	s.logger.Info("Rescanning order",
		"order_id", orderID,
		"pay_amount", order.PayAmount.String(),
		"candidate_transfers", len(transfers))

	for i := range transfers {
		outcome, err := s.processor.ProcessWidened(ctx, &transfers[i], rescanWindow)
		if err != nil {
			if errors.Is(err, ports.ErrInsufficientConfirmations) || errors.Is(err, ports.ErrNoMatchingOrder) {
				continue
			}
			return "", err
		}

		if outcome == ports.CreditOutcomeCredited || outcome == ports.CreditOutcomeAlreadyCredited {
			return outcome, nil
		}
	}

	return "", ports.ErrNoMatchingOrder
}
