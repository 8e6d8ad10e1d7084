package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/telepay/reconciler/internal/core/ports"
	"github.com/telepay/reconciler/internal/entities"
)

// errLeftPending aborts the credit transaction when the conditional update
// matched nothing; the outcome is classified afterwards from the order row.
var errLeftPending = errors.New("order is no longer pending")

type CreditOrdersRepository interface {
	FindByID(ctx context.Context, orderID string) (*entities.Order, error)
	TransitionToCompleted(ctx context.Context, orderID, externalRef string, amount decimal.Decimal, now time.Time) (bool, error)
}

type UsersRepository interface {
	IncrementBalance(ctx context.Context, userID int64, amount decimal.Decimal) error
}

type CommissionAccruer interface {
	Accrue(ctx context.Context, agentID string, units int) error
}

// Transactor runs fn inside a database transaction; the repositories pick the
// transaction up from the context.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// CreditServiceImpl is the single mutation point that turns an external payment
// into a balance credit. The conditional status update inside one database
// transaction is the idempotency boundary: two concurrent callers (chain
// watcher and fiat webhook) cannot both pass it.
type CreditServiceImpl struct {
	logger *slog.Logger

	orders     CreditOrdersRepository
	users      UsersRepository
	commission CommissionAccruer
	transactor Transactor
	notifier   ports.Notifier

	now func() time.Time
}

func NewCreditService(
	logger *slog.Logger,
	orders CreditOrdersRepository,
	users UsersRepository,
	commission CommissionAccruer,
	transactor Transactor,
	notifier ports.Notifier,
) *CreditServiceImpl {
	return &CreditServiceImpl{
		logger:     logger,
		orders:     orders,
		users:      users,
		commission: commission,
		transactor: transactor,
		notifier:   notifier,
		now:        time.Now,
	}
}

// TryCredit completes the order and applies the balance credit exactly once
// per external reference. It fails closed: any outcome other than a fresh
// conditional transition applies no balance mutation.
func (s *CreditServiceImpl) TryCredit(ctx context.Context, orderID, externalRef string, amount decimal.Decimal) (ports.CreditOutcome, error) {
	var credited *entities.Order

	err := s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		ok, err := s.orders.TransitionToCompleted(ctx, orderID, externalRef, amount, s.now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return errLeftPending
		}

		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return ports.ErrOrderNotFound
		}

		// User is credited the requested base amount; the disambiguation
		// tail belongs to the payment, not the balance.
		if err = s.users.IncrementBalance(ctx, order.UserID, order.BaseAmount); err != nil {
			return err
		}

		if order.IsAgentOrder() {
			if err = s.commission.Accrue(ctx, *order.AgentID, order.Units); err != nil {
				return err
			}
		}

		credited = order
		return nil
	})

	switch {
	case err == nil:
		s.logger.Info("Order credited",
			"order_id", orderID,
			"user_id", credited.UserID,
			"amount", credited.BaseAmount.String(),
			"external_ref", externalRef)
		s.notifier.OrderCredited(ctx, credited.UserID, credited.BaseAmount, orderID)
		return ports.CreditOutcomeCredited, nil

	case errors.Is(err, ports.ErrExternalRefUsed):
		s.logger.Info("External reference already consumed", "external_ref", externalRef, "order_id", orderID)
		return ports.CreditOutcomeAlreadyCredited, nil

	case errors.Is(err, errLeftPending):
		return s.classify(ctx, orderID, externalRef)

	default:
		return "", fmt.Errorf("credit transaction failed for order %s: %w", orderID, err)
	}
}

// classify decides between the idempotent success and the stale outcome once
// the conditional update found the order outside the pending state.
func (s *CreditServiceImpl) classify(ctx context.Context, orderID, externalRef string) (ports.CreditOutcome, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order == nil {
		return "", ports.ErrOrderNotFound
	}

	if order.Status == ports.OrderStatusCompleted {
		s.logger.Info("Order already credited",
			"order_id", orderID,
			"credited_ref", derefOr(order.CreditedRef, ""),
			"external_ref", externalRef)
		return ports.CreditOutcomeAlreadyCredited, nil
	}

	s.logger.Warn("Credit attempt on stale order",
		"order_id", orderID, "status", order.Status, "external_ref", externalRef)
	return ports.CreditOutcomeStale, nil
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
