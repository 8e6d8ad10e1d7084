package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/telepay/reconciler/internal/entities"
	"github.com/telepay/reconciler/pkg/database"
)

const transferColumns = `txid, to_address, amount::text AS amount, block_number,
       event_time, observed_at, processed, order_id`

// TransfersRepository mirrors the on-chain transfer feed. Records are never
// deleted; unmatched payments stay visible to the rescan tool.
type TransfersRepository struct {
	logger *slog.Logger
	db     tx.DBGetter
}

func NewTransfersRepository(logger *slog.Logger, pg *database.Postgres) *TransfersRepository {
	return &TransfersRepository{logger: logger, db: pg.DBGetter}
}

// Record stores a transfer, ignoring duplicates by txid. Returns true when the
// transfer was new.
func (r *TransfersRepository) Record(ctx context.Context, t *entities.TransferEvent) (bool, error) {
	tag, err := r.db(ctx).Exec(ctx,
		`INSERT INTO transfers (txid, to_address, amount, block_number, event_time)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (txid) DO NOTHING`,
		t.TxID, t.ToAddress, t.Amount.String(), t.BlockNumber, t.EventTime)
	if err != nil {
		return false, fmt.Errorf("failed to record transfer %s: %w", t.TxID, err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *TransfersRepository) FindByTxid(ctx context.Context, txid string) (*entities.TransferEvent, error) {
	rows, err := r.db(ctx).Query(ctx,
		fmt.Sprintf("SELECT %s FROM transfers WHERE txid = $1", transferColumns), txid)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfer: %w", err)
	}

	transfer, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.TransferEvent])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect transfer row: %w", err)
	}

	return &transfer, nil
}

// FindUnprocessed pages through unprocessed transfers in (event_time, txid)
// order. The cursor is the last row of the previous page; a zero afterTime
// starts from the beginning.
func (r *TransfersRepository) FindUnprocessed(
	ctx context.Context,
	afterTime time.Time,
	afterTxid string,
	limit int,
) ([]entities.TransferEvent, error) {
	rows, err := r.db(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM transfers
		  WHERE NOT processed AND (event_time, txid) > ($1, $2)
		  ORDER BY event_time ASC, txid ASC LIMIT $3`, transferColumns),
		afterTime, afterTxid, limit)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	transfers, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.TransferEvent])
	if err != nil {
		r.logger.Error("failed to collect transfer rows", "error", err)
		return nil, err
	}

	return transfers, nil
}

// FindByAmountAround is the widened rescan search: transfers inside the window
// whose amount lies within tolerance of amount.
func (r *TransfersRepository) FindByAmountAround(
	ctx context.Context,
	amount, tolerance decimal.Decimal,
	around time.Time,
	window time.Duration,
) ([]entities.TransferEvent, error) {
	rows, err := r.db(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM transfers
		  WHERE event_time BETWEEN $1 AND $2
		    AND amount BETWEEN $3::numeric AND $4::numeric
		  ORDER BY event_time ASC`, transferColumns),
		around.Add(-window), around.Add(window),
		amount.Sub(tolerance).String(), amount.Add(tolerance).String())
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers by amount: %w", err)
	}

	transfers, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.TransferEvent])
	if err != nil {
		return nil, fmt.Errorf("failed to collect transfer rows: %w", err)
	}

	return transfers, nil
}

// MarkProcessed finalizes a transfer. orderID is the order the transfer was
// actually credited to, or nil when none could be established.
func (r *TransfersRepository) MarkProcessed(ctx context.Context, txid string, orderID *string) error {
	_, err := r.db(ctx).Exec(ctx,
		"UPDATE transfers SET processed = TRUE, order_id = $2 WHERE txid = $1", txid, orderID)
	if err != nil {
		return fmt.Errorf("failed to mark transfer %s processed: %w", txid, err)
	}

	return nil
}

// HighWaterMark returns the latest observed event time, used by the watcher to
// resume polling after a restart.
func (r *TransfersRepository) HighWaterMark(ctx context.Context) (time.Time, error) {
	var mark time.Time

	err := r.db(ctx).QueryRow(ctx,
		"SELECT COALESCE(MAX(event_time), 'epoch'::timestamptz) FROM transfers").Scan(&mark)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query transfer high-water mark: %w", err)
	}

	return mark, nil
}

func (r *TransfersRepository) FindUnmatched(ctx context.Context) ([]entities.TransferEvent, error) {
	return r.FindUnprocessed(ctx, time.Time{}, "", 500)
}
