package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/telepay/reconciler/internal/core/ports"
	"github.com/telepay/reconciler/internal/entities"
)

type TransfersRepository interface {
	Record(ctx context.Context, t *entities.TransferEvent) (bool, error)
	FindByTxid(ctx context.Context, txid string) (*entities.TransferEvent, error)
	FindUnprocessed(ctx context.Context, afterTime time.Time, afterTxid string, limit int) ([]entities.TransferEvent, error)
	FindByAmountAround(ctx context.Context, amount, tolerance decimal.Decimal, around time.Time, window time.Duration) ([]entities.TransferEvent, error)
	MarkProcessed(ctx context.Context, txid string, orderID *string) error
	HighWaterMark(ctx context.Context) (time.Time, error)
	FindUnmatched(ctx context.Context) ([]entities.TransferEvent, error)
}

// ChainClient reads the TRON chain state the processor needs.
type ChainClient interface {
	LatestBlockNumber(ctx context.Context) (int64, error)
}

type CandidateFinder interface {
	FindCandidate(ctx context.Context, amount decimal.Decimal, currency string, around time.Time, window time.Duration) (*entities.Order, error)
	FindByCreditedRef(ctx context.Context, ref string) (*entities.Order, error)
}

// TransferProcessor is the shared matching path for the chain watcher and the
// rescan tool: confirmation gate, candidate match, credit, mark processed.
type TransferProcessor struct {
	logger *slog.Logger

	orders    CandidateFinder
	credit    ports.CreditService
	transfers TransfersRepository
	chain     ChainClient

	minConfirmations int64
	matchWindow      time.Duration
}

func NewTransferProcessor(
	logger *slog.Logger,
	orders CandidateFinder,
	credit ports.CreditService,
	transfers TransfersRepository,
	chain ChainClient,
	minConfirmations int64,
	matchWindow time.Duration,
) *TransferProcessor {
	return &TransferProcessor{
		logger:           logger,
		orders:           orders,
		credit:           credit,
		transfers:        transfers,
		chain:            chain,
		minConfirmations: minConfirmations,
		matchWindow:      matchWindow,
	}
}

// Process pushes a mirrored transfer through the matching path. Deferred and
// unmatched transfers are left untouched so a later poll or rescan sees them
// again; the transfer record is never discarded.
func (p *TransferProcessor) Process(ctx context.Context, transfer *entities.TransferEvent) (ports.CreditOutcome, error) {
	return p.process(ctx, transfer, p.matchWindow)
}

// ProcessWidened is the admin rescan variant with a caller-chosen window.
func (p *TransferProcessor) ProcessWidened(ctx context.Context, transfer *entities.TransferEvent, window time.Duration) (ports.CreditOutcome, error) {
	return p.process(ctx, transfer, window)
}

func (p *TransferProcessor) process(ctx context.Context, transfer *entities.TransferEvent, window time.Duration) (ports.CreditOutcome, error) {
	latest, err := p.chain.LatestBlockNumber(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get latest block number: %w", err)
	}

	confirmations := latest - transfer.BlockNumber + 1
	if confirmations < p.minConfirmations {
		p.logger.Info("Deferring transfer, waiting for confirmations",
			"txid", transfer.TxID,
			"current", confirmations,
			"required", p.minConfirmations)
		return "", ports.ErrInsufficientConfirmations
	}

	order, err := p.orders.FindCandidate(ctx, transfer.Amount, ports.CurrencyUSDT, transfer.EventTime, window)
	if err != nil {
		return "", fmt.Errorf("candidate search failed for %s: %w", transfer.TxID, err)
	}
	if order == nil {
		p.logger.Warn("No matching order for transfer, left for rescan",
			"txid", transfer.TxID,
			"amount", transfer.Amount.String(),
			"event_time", transfer.EventTime)
		return "", ports.ErrNoMatchingOrder
	}

	outcome, err := p.credit.TryCredit(ctx, order.ID, transfer.TxID, transfer.Amount)
	if err != nil {
		return "", err
	}

	switch outcome {
	case ports.CreditOutcomeCredited, ports.CreditOutcomeAlreadyCredited:
		orderID := &order.ID
		if outcome == ports.CreditOutcomeAlreadyCredited {
			// The txid may have credited a different order than the one
			// matched now; label the transfer with the order it actually paid.
			orderID = p.creditedOrderID(ctx, transfer.TxID)
		}
		if err = p.transfers.MarkProcessed(ctx, transfer.TxID, orderID); err != nil {
			// The credit itself is final; a failed mark only costs an extra
			// idempotent pass on the next sweep.
			p.logger.Error("Failed to mark transfer processed", "txid", transfer.TxID, "error", err)
		}
	case ports.CreditOutcomeStale:
		p.logger.Warn("Matched order went stale before credit",
			"txid", transfer.TxID, "order_id", order.ID)
	}

	return outcome, nil
}

func (p *TransferProcessor) creditedOrderID(ctx context.Context, ref string) *string {
	credited, err := p.orders.FindByCreditedRef(ctx, ref)
	if err != nil {
		p.logger.Error("Failed to resolve credited order for transfer", "txid", ref, "error", err)
		return nil
	}
	if credited == nil {
		return nil
	}

	return &credited.ID
}
