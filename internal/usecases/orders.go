package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/telepay/reconciler/internal/core/ports"
	"github.com/telepay/reconciler/internal/entities"
)

// Matching tolerances: exact to the micro-USDT on chain, one cent for the
// fiat gateway.
var (
	CryptoTolerance = decimal.New(1, -6)
	FiatTolerance   = decimal.New(1, -2)
)

const maxTailAttempts = 10

type OrdersRepository interface {
	InsertPending(ctx context.Context, order *entities.Order) error
	FindByID(ctx context.Context, orderID string) (*entities.Order, error)
	FindCandidate(ctx context.Context, amount, tolerance decimal.Decimal, currency string, around time.Time, window time.Duration) (*entities.Order, error)
	FindByCreditedRef(ctx context.Context, ref string) (*entities.Order, error)
	ExpireDue(ctx context.Context, now time.Time) ([]entities.Order, error)
	FindUserOrders(ctx context.Context, userID int64) ([]entities.Order, error)
	PendingStats(ctx context.Context, now time.Time) (*entities.PendingStats, error)
}

// OrderService owns pending order creation, candidate matching and expiry.
type OrderService struct {
	logger *slog.Logger
	repo   OrdersRepository

	expireAfter time.Duration
	now         func() time.Time
}

func NewOrderService(logger *slog.Logger, repo OrdersRepository, expireAfter time.Duration) *OrderService {
	return &OrderService{
		logger:      logger,
		repo:        repo,
		expireAfter: expireAfter,
		now:         time.Now,
	}
}

func (s *OrderService) CreatePending(ctx context.Context, userID int64, base decimal.Decimal, currency string) (*entities.Order, error) {
	return s.createPending(ctx, userID, base, currency, nil, 1)
}

func (s *OrderService) CreateAgentPending(ctx context.Context, userID int64, base decimal.Decimal, currency, agentID string, units int) (*entities.Order, error) {
	return s.createPending(ctx, userID, base, currency, &agentID, units)
}

// createPending generates a disambiguated pay amount and retries on collision
// with another pending order. The partial unique index on
// (currency, pay_amount) is the actual enforcement; the retry just picks a
// fresh tail.
func (s *OrderService) createPending(
	ctx context.Context,
	userID int64,
	base decimal.Decimal,
	currency string,
	agentID *string,
	units int,
) (*entities.Order, error) {
	if !base.IsPositive() {
		return nil, fmt.Errorf("base amount must be positive, got %s", base)
	}
	if currency != ports.CurrencyUSDT && currency != ports.CurrencyFiat {
		return nil, fmt.Errorf("unsupported currency %q", currency)
	}

	now := s.now().UTC()

	for attempt := 0; attempt < maxTailAttempts; attempt++ {
		order := &entities.Order{
			ID:         generateOrderID(now),
			UserID:     userID,
			AgentID:    agentID,
			Units:      units,
			BaseAmount: base,
			PayAmount:  base.Add(randomTail(currency)),
			Currency:   currency,
			Status:     ports.OrderStatusPending,
			CreatedAt:  now,
			ExpireAt:   now.Add(s.expireAfter),
		}

		err := s.repo.InsertPending(ctx, order)
		if errors.Is(err, ports.ErrDuplicatePendingAmount) {
			s.logger.Debug("pay amount collision, regenerating tail",
				"currency", currency, "pay_amount", order.PayAmount.String(), "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create pending order: %w", err)
		}

		s.logger.Info("Pending order created",
			"order_id", order.ID,
			"user_id", userID,
			"pay_amount", order.PayAmount.String(),
			"currency", currency,
			"expire_at", order.ExpireAt)

		return order, nil
	}

	return nil, fmt.Errorf("failed to find a free disambiguated amount after %d attempts", maxTailAttempts)
}

func (s *OrderService) Get(ctx context.Context, orderID string) (*entities.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ports.ErrOrderNotFound
	}

	return order, nil
}

// FindCandidate returns the best matching pending order or nil. Callers must
// not create side effects on a nil result.
func (s *OrderService) FindCandidate(
	ctx context.Context,
	amount decimal.Decimal,
	currency string,
	around time.Time,
	window time.Duration,
) (*entities.Order, error) {
	return s.repo.FindCandidate(ctx, amount, ToleranceFor(currency), currency, around, window)
}

// FindByCreditedRef resolves which order an external payment reference already
// credited, or nil when the reference is unknown.
func (s *OrderService) FindByCreditedRef(ctx context.Context, ref string) (*entities.Order, error) {
	return s.repo.FindByCreditedRef(ctx, ref)
}

func (s *OrderService) ExpireDue(ctx context.Context, now time.Time) ([]entities.Order, error) {
	return s.repo.ExpireDue(ctx, now)
}

func (s *OrderService) OrdersForUser(ctx context.Context, userID int64) ([]entities.Order, error) {
	return s.repo.FindUserOrders(ctx, userID)
}

func (s *OrderService) PendingStats(ctx context.Context, now time.Time) (*entities.PendingStats, error) {
	return s.repo.PendingStats(ctx, now)
}

// ToleranceFor returns the matching tolerance for the currency.
func ToleranceFor(currency string) decimal.Decimal {
	if currency == ports.CurrencyFiat {
		return FiatTolerance
	}
	return CryptoTolerance
}

// generateOrderID builds the human-readable order number: timestamp plus six
// random digits.
func generateOrderID(now time.Time) string {
	return fmt.Sprintf("%s%06d", now.Format("20060102150405"), rand.IntN(1000000))
}

// randomTail picks the disambiguation tail: four fractional digits for crypto,
// whole cents for fiat. Never zero, so the pay amount always differs from the
// base amount.
func randomTail(currency string) decimal.Decimal {
	if currency == ports.CurrencyFiat {
		return decimal.New(int64(rand.IntN(99)+1), -2) // 0.01 .. 0.99
	}
	return decimal.New(int64(rand.IntN(9999)+1), -4) // 0.0001 .. 0.9999
}
