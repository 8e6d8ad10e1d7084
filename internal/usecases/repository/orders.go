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
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/telepay/reconciler/internal/core/ports"
	"github.com/telepay/reconciler/internal/entities"
	"github.com/telepay/reconciler/pkg/database"
)

const uniqueViolationCode = "23505"

// IsUniqueViolation reports whether err is a Postgres unique constraint error.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

const orderColumns = `id, user_id, agent_id, units,
       base_amount::text AS base_amount, pay_amount::text AS pay_amount,
       currency, status, credited_ref, credited_amount::text AS credited_amount,
       credited_at, created_at, expire_at`

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type OrdersRepository struct {
	logger *slog.Logger

	db         tx.DBGetter
	transactor *tx.Transactor
}

func NewOrdersRepository(logger *slog.Logger, pg *database.Postgres) *OrdersRepository {
	return &OrdersRepository{logger: logger, db: pg.DBGetter, transactor: pg.Transactor}
}

// InsertPending stores a new pending order. A unique violation on
// (currency, pay_amount) means the disambiguated amount collided with another
// pending order; the caller retries with a fresh tail.
func (r *OrdersRepository) InsertPending(ctx context.Context, order *entities.Order) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO orders (id, user_id, agent_id, units, base_amount, pay_amount, currency, status, created_at, expire_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8, $9)`,
		order.ID, order.UserID, order.AgentID, order.Units,
		order.BaseAmount.String(), order.PayAmount.String(),
		order.Currency, order.CreatedAt, order.ExpireAt)
	if IsUniqueViolation(err) {
		return ports.ErrDuplicatePendingAmount
	}

	return err
}

func (r *OrdersRepository) FindByID(ctx context.Context, orderID string) (*entities.Order, error) {
	rows, err := r.db(ctx).Query(ctx,
		fmt.Sprintf("SELECT %s FROM orders WHERE id = $1", orderColumns), orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	order, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.Order])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect order row: %w", err)
	}

	return &order, nil
}

// FindCandidate searches pending orders of the currency whose disambiguated
// amount lies within tolerance of amount and whose creation falls inside the
// time window. Smallest absolute difference wins, earliest creation breaks ties.
func (r *OrdersRepository) FindCandidate(
	ctx context.Context,
	amount, tolerance decimal.Decimal,
	currency string,
	around time.Time,
	window time.Duration,
) (*entities.Order, error) {
	query, args, err := psql.
		Select(orderColumns).
		From("orders").
		Where(sq.Eq{"status": ports.OrderStatusPending, "currency": currency}).
		Where(sq.Expr("pay_amount BETWEEN ?::numeric AND ?::numeric",
			amount.Sub(tolerance).String(), amount.Add(tolerance).String())).
		Where(sq.Expr("created_at BETWEEN ? AND ?", around.Add(-window), around.Add(window))).
		OrderByClause("ABS(pay_amount - ?::numeric) ASC, created_at ASC", amount.String()).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build candidate query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate orders: %w", err)
	}

	order, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.Order])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect candidate row: %w", err)
	}

	return &order, nil
}

func (r *OrdersRepository) FindByCreditedRef(ctx context.Context, ref string) (*entities.Order, error) {
	rows, err := r.db(ctx).Query(ctx,
		fmt.Sprintf("SELECT %s FROM orders WHERE credited_ref = $1", orderColumns), ref)
	if err != nil {
		return nil, fmt.Errorf("failed to query order by credited ref: %w", err)
	}

	order, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.Order])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect order row: %w", err)
	}

	return &order, nil
}

// TransitionToCompleted performs the single conditional update that guards the
// whole credit path. Zero affected rows means the order already left pending.
func (r *OrdersRepository) TransitionToCompleted(
	ctx context.Context,
	orderID, externalRef string,
	amount decimal.Decimal,
	now time.Time,
) (bool, error) {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE orders
		    SET status = 'completed', credited_ref = $2, credited_amount = $3, credited_at = $4
		  WHERE id = $1 AND status = 'pending'`,
		orderID, externalRef, amount.String(), now)
	if IsUniqueViolation(err) {
		// credited_ref is unique across orders; the reference already paid
		// for something.
		return false, ports.ErrExternalRefUsed
	}
	if err != nil {
		return false, err
	}

	return tag.RowsAffected() > 0, nil
}

// ExpireDue transitions overdue pending orders to expired. The status guard in
// the UPDATE is what keeps a concurrently credited order out of the sweep.
func (r *OrdersRepository) ExpireDue(ctx context.Context, now time.Time) ([]entities.Order, error) {
	rows, err := r.db(ctx).Query(ctx,
		fmt.Sprintf(`UPDATE orders SET status = 'expired'
		  WHERE status = 'pending' AND expire_at < $1
		  RETURNING %s`, orderColumns), now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire orders: %w", err)
	}

	expired, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.Order])
	if err != nil {
		return nil, fmt.Errorf("failed to collect expired rows: %w", err)
	}

	return expired, nil
}

func (r *OrdersRepository) FindUserOrders(ctx context.Context, userID int64) ([]entities.Order, error) {
	rows, err := r.db(ctx).Query(ctx,
		fmt.Sprintf("SELECT %s FROM orders WHERE user_id = $1 ORDER BY created_at DESC", orderColumns), userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	orders, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.Order])
	if err != nil {
		r.logger.Error("failed to collect orders rows", "error", err)
		return nil, err
	}

	return orders, nil
}

func (r *OrdersRepository) PendingStats(ctx context.Context, now time.Time) (*entities.PendingStats, error) {
	var (
		pending, due int
		sum          string
	)

	err := r.db(ctx).QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(pay_amount), 0)::text,
		        COUNT(*) FILTER (WHERE expire_at < $1)
		   FROM orders WHERE status = 'pending'`, now).Scan(&pending, &sum, &due)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending stats: %w", err)
	}

	pendingSum, err := decimal.NewFromString(sum)
	if err != nil {
		return nil, fmt.Errorf("invalid pending sum %q: %w", sum, err)
	}

	return &entities.PendingStats{Pending: pending, PendingSum: pendingSum, DueToExpire: due}, nil
}
