package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/telepay/reconciler/internal/entities"
	"github.com/telepay/reconciler/pkg/database"
)

const withdrawalColumns = `id, agent_id, amount::text AS amount, fee::text AS fee,
       payout_address, status, payout_ref, reject_reason, created_at, reviewed_at, reviewed_by`

type WithdrawalsRepository struct {
	logger *slog.Logger

	db         tx.DBGetter
	transactor *tx.Transactor
}

func NewWithdrawalsRepository(logger *slog.Logger, pg *database.Postgres) *WithdrawalsRepository {
	return &WithdrawalsRepository{logger: logger, db: pg.DBGetter, transactor: pg.Transactor}
}

func (r *WithdrawalsRepository) Insert(ctx context.Context, w *entities.WithdrawalRequest) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO withdrawals (id, agent_id, amount, fee, payout_address, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, 'pending', $6)`,
		w.ID, w.AgentID, w.Amount.String(), w.Fee.String(), w.PayoutAddress, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert withdrawal request: %w", err)
	}

	return nil
}

func (r *WithdrawalsRepository) FindByID(ctx context.Context, requestID string) (*entities.WithdrawalRequest, error) {
	rows, err := r.db(ctx).Query(ctx,
		fmt.Sprintf("SELECT %s FROM withdrawals WHERE id = $1", withdrawalColumns), requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query withdrawal: %w", err)
	}

	w, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.WithdrawalRequest])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect withdrawal row: %w", err)
	}

	return &w, nil
}

// TransitionStatus moves a request from one status to another, conditional on
// the current status. Zero affected rows means the source state did not hold,
// which is how racing admins are serialized.
func (r *WithdrawalsRepository) TransitionStatus(
	ctx context.Context,
	requestID, from, to string,
	reviewedBy int64,
	reviewedAt time.Time,
) (bool, error) {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE withdrawals SET status = $3, reviewed_at = $4, reviewed_by = $5
		  WHERE id = $1 AND status = $2`,
		requestID, from, to, reviewedAt, reviewedBy)
	if err != nil {
		return false, fmt.Errorf("failed to transition withdrawal %s: %w", requestID, err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *WithdrawalsRepository) SetPayoutRef(ctx context.Context, requestID, payoutRef string) error {
	_, err := r.db(ctx).Exec(ctx,
		"UPDATE withdrawals SET payout_ref = $2 WHERE id = $1", requestID, payoutRef)
	return err
}

func (r *WithdrawalsRepository) SetRejectReason(ctx context.Context, requestID, reason string) error {
	_, err := r.db(ctx).Exec(ctx,
		"UPDATE withdrawals SET reject_reason = $2 WHERE id = $1", requestID, reason)
	return err
}

func (r *WithdrawalsRepository) List(ctx context.Context, agentID, status string) ([]entities.WithdrawalRequest, error) {
	builder := psql.Select(withdrawalColumns).From("withdrawals").OrderBy("created_at DESC")
	if agentID != "" {
		builder = builder.Where(sq.Eq{"agent_id": agentID})
	}
	if status != "" {
		builder = builder.Where(sq.Eq{"status": status})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build withdrawal list query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	withdrawals, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.WithdrawalRequest])
	if err != nil {
		r.logger.Error("failed to collect withdrawal rows", "error", err)
		return nil, err
	}

	return withdrawals, nil
}
