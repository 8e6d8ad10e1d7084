package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/telepay/reconciler/internal/core/ports"
	"github.com/telepay/reconciler/internal/entities"
	"github.com/telepay/reconciler/internal/usecases"
)

const (
	watcherRetryDelay = 10 * time.Second // delay before restarting a failed poll loop
	sweepBatchSize    = 200

	// overlap subtracted from the high-water mark so a transfer landing on
	// the poll boundary is never skipped; dedupe by txid absorbs the replay.
	highWaterOverlap = 5 * time.Minute
)

// ChainWatcher polls the TRC20 transfer feed for the deposit address, mirrors
// new transfers, and pushes unprocessed ones through the matching path.
type ChainWatcher struct {
	logger *slog.Logger

	chain     TransferFeed
	transfers usecases.TransfersRepository
	processor *usecases.TransferProcessor

	depositAddress string
	pollInterval   time.Duration
}

// TransferFeed is the chain-facing read surface of the watcher.
type TransferFeed interface {
	TRC20Transfers(ctx context.Context, address string, since time.Time) ([]entities.TransferEvent, error)
}

func NewChainWatcher(
	logger *slog.Logger,
	chain TransferFeed,
	transfers usecases.TransfersRepository,
	processor *usecases.TransferProcessor,
	depositAddress string,
	pollInterval time.Duration,
) *ChainWatcher {
	return &ChainWatcher{
		logger:         logger,
		chain:          chain,
		transfers:      transfers,
		processor:      processor,
		depositAddress: depositAddress,
		pollInterval:   pollInterval,
	}
}

// Run drives the poll loop until the context is cancelled. A failing loop is
// restarted after a delay; shutdown always finishes the current iteration.
func (w *ChainWatcher) Run(ctx context.Context) {
	for {
		w.logger.InfoContext(ctx, "Starting chain transfer monitoring...",
			"deposit_address", w.depositAddress, "poll_interval", w.pollInterval.String())

		if err := w.pollAndProcess(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}

			w.logger.InfoContext(ctx, "Chain monitoring error, retrying...",
				"delay", watcherRetryDelay, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(watcherRetryDelay):
				continue
			}
		}

		return
	}
}

func (w *ChainWatcher) pollAndProcess(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Immediate first pass so a restart backfills without waiting a tick.
	if err := w.iterate(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "Chain watcher stopped")
			return nil
		case <-ticker.C:
			if err := w.iterate(ctx); err != nil {
				return err
			}
		}
	}
}

func (w *ChainWatcher) iterate(ctx context.Context) error {
	pollID := uuid.New().String()

	if err := w.mirrorNewTransfers(ctx, pollID); err != nil {
		return err
	}

	w.sweepUnprocessed(ctx, pollID)
	return nil
}

// mirrorNewTransfers records fresh feed entries; recording is separate from
// matching so an unmatched payment survives restarts and stays visible to the
// rescan tool.
func (w *ChainWatcher) mirrorNewTransfers(ctx context.Context, pollID string) error {
	mark, err := w.transfers.HighWaterMark(ctx)
	if err != nil {
		return err
	}
	if !mark.IsZero() {
		mark = mark.Add(-highWaterOverlap)
	}

	incoming, err := w.chain.TRC20Transfers(ctx, w.depositAddress, mark)
	if err != nil {
		return err
	}

	recorded := 0
	for i := range incoming {
		fresh, err := w.transfers.Record(ctx, &incoming[i])
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to record transfer",
				"poll_id", pollID, "txid", incoming[i].TxID, "error", err)
			continue
		}
		if fresh {
			recorded++
			w.logger.InfoContext(ctx, "Transfer recorded",
				"poll_id", pollID,
				"txid", incoming[i].TxID,
				"amount", incoming[i].Amount.String(),
				"block_number", incoming[i].BlockNumber)
		}
	}

	if recorded > 0 {
		w.logger.InfoContext(ctx, "Mirrored new transfers", "poll_id", pollID, "count", recorded)
	}

	return nil
}

// sweepUnprocessed walks the full unprocessed set in keyset pages so a backlog
// of old unmatched transfers cannot starve newer ones out of the sweep.
func (w *ChainWatcher) sweepUnprocessed(ctx context.Context, pollID string) {
	var (
		afterTime time.Time
		afterTxid string
	)

	for {
		pending, err := w.transfers.FindUnprocessed(ctx, afterTime, afterTxid, sweepBatchSize)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to load unprocessed transfers", "poll_id", pollID, "error", err)
			return
		}
		if len(pending) == 0 {
			return
		}

		for i := range pending {
			if ctx.Err() != nil {
				return
			}

			transfer := &pending[i]

			outcome, err := w.processor.Process(ctx, transfer)
			switch {
			case errors.Is(err, ports.ErrInsufficientConfirmations):
				// Re-evaluated on a later poll, no state change.
			case errors.Is(err, ports.ErrNoMatchingOrder):
				// Logged by the processor; the transfer stays visible to rescan.
			case err != nil:
				w.logger.ErrorContext(ctx, "Failed to process transfer",
					"poll_id", pollID, "txid", transfer.TxID, "error", err)
			default:
				w.logger.InfoContext(ctx, "Transfer processed",
					"poll_id", pollID, "txid", transfer.TxID, "outcome", string(outcome))
			}
		}

		last := pending[len(pending)-1]
		afterTime, afterTxid = last.EventTime, last.TxID

		if len(pending) < sweepBatchSize {
			return
		}
	}
}
