package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/telepay/reconciler/internal/core/ports"
	"github.com/telepay/reconciler/internal/entities"
)

type AgentsRepository interface {
	Insert(ctx context.Context, agentID string, markupPerUnit decimal.Decimal) error
	FindByID(ctx context.Context, agentID string) (*entities.Agent, error)
	Accrue(ctx context.Context, agentID string, units int) error
	Freeze(ctx context.Context, agentID string, amount decimal.Decimal) (bool, error)
	Unfreeze(ctx context.Context, agentID string, amount decimal.Decimal) error
	SettlePaid(ctx context.Context, agentID string, amount decimal.Decimal) error
}

type WithdrawalsRepository interface {
	Insert(ctx context.Context, w *entities.WithdrawalRequest) error
	FindByID(ctx context.Context, requestID string) (*entities.WithdrawalRequest, error)
	TransitionStatus(ctx context.Context, requestID, from, to string, reviewedBy int64, reviewedAt time.Time) (bool, error)
	SetPayoutRef(ctx context.Context, requestID, payoutRef string) error
	SetRejectReason(ctx context.Context, requestID, reason string) error
	List(ctx context.Context, agentID, status string) ([]entities.WithdrawalRequest, error)
}

// AgentService is both the commission ledger and the withdrawal workflow; the
// two share the agent balance row, so they live behind one service.
type AgentService struct {
	logger *slog.Logger

	agents      AgentsRepository
	withdrawals WithdrawalsRepository
	transactor  Transactor
	notifier    ports.Notifier

	feeRate decimal.Decimal
	now     func() time.Time
}

func NewAgentService(
	logger *slog.Logger,
	agents AgentsRepository,
	withdrawals WithdrawalsRepository,
	transactor Transactor,
	notifier ports.Notifier,
	feeRate decimal.Decimal,
) *AgentService {
	return &AgentService{
		logger:      logger,
		agents:      agents,
		withdrawals: withdrawals,
		transactor:  transactor,
		notifier:    notifier,
		feeRate:     feeRate,
		now:         time.Now,
	}
}

func (s *AgentService) Register(ctx context.Context, agentID string, markupPerUnit decimal.Decimal) error {
	if markupPerUnit.IsNegative() {
		return fmt.Errorf("markup per unit must not be negative, got %s", markupPerUnit)
	}

	return s.agents.Insert(ctx, agentID, markupPerUnit)
}

// Accrue adds markup_per_unit * units to the agent's available profit. The
// credit service is the only caller and invokes it inside the credit
// transaction, so an order accrues commission exactly once.
func (s *AgentService) Accrue(ctx context.Context, agentID string, units int) error {
	if units <= 0 {
		return fmt.Errorf("units must be positive, got %d", units)
	}

	if err := s.agents.Accrue(ctx, agentID, units); err != nil {
		return err
	}

	s.logger.Info("Commission accrued", "agent_id", agentID, "units", units)
	return nil
}

func (s *AgentService) Balance(ctx context.Context, agentID string) (*entities.Agent, error) {
	agent, err := s.agents.FindByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, ports.ErrAgentNotFound
	}

	return agent, nil
}

// Request freezes the amount and creates a pending withdrawal request. The
// conditional balance update is the guard: when available < amount nothing is
// frozen and no request row exists.
func (s *AgentService) Request(ctx context.Context, agentID string, amount decimal.Decimal, payoutAddress string) (*entities.WithdrawalRequest, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("withdrawal amount must be positive, got %s", amount)
	}

	agent, err := s.agents.FindByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, ports.ErrAgentNotFound
	}

	request := &entities.WithdrawalRequest{
		ID:            uuid.New().String(),
		AgentID:       agentID,
		Amount:        amount,
		Fee:           amount.Mul(s.feeRate).Round(6),
		PayoutAddress: payoutAddress,
		Status:        ports.WithdrawalStatusPending,
		CreatedAt:     s.now().UTC(),
	}

	err = s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		ok, err := s.agents.Freeze(ctx, agentID, amount)
		if err != nil {
			return err
		}
		if !ok {
			return ports.ErrInsufficientBalance
		}

		return s.withdrawals.Insert(ctx, request)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Withdrawal requested",
		"request_id", request.ID, "agent_id", agentID, "amount", amount.String())
	s.notifier.WithdrawalStateChanged(ctx, agentID, request.ID, ports.WithdrawalStatusPending)

	return request, nil
}

// Approve moves pending to approved. Funds stay frozen; this is a pure status
// transition.
func (s *AgentService) Approve(ctx context.Context, requestID string, adminID int64) error {
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return err
	}

	ok, err := s.withdrawals.TransitionStatus(ctx, requestID,
		ports.WithdrawalStatusPending, ports.WithdrawalStatusApproved, adminID, s.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return ports.ErrInvalidStateTransition
	}

	s.logger.Info("Withdrawal approved", "request_id", requestID, "admin_id", adminID)
	s.notifier.WithdrawalStateChanged(ctx, request.AgentID, requestID, ports.WithdrawalStatusApproved)

	return nil
}

// Reject moves pending to rejected and returns the full amount to the agent's
// available balance in the same transaction.
func (s *AgentService) Reject(ctx context.Context, requestID string, adminID int64, reason string) error {
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return err
	}

	err = s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		ok, err := s.withdrawals.TransitionStatus(ctx, requestID,
			ports.WithdrawalStatusPending, ports.WithdrawalStatusRejected, adminID, s.now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return ports.ErrInvalidStateTransition
		}

		if reason != "" {
			if err = s.withdrawals.SetRejectReason(ctx, requestID, reason); err != nil {
				return err
			}
		}

		return s.agents.Unfreeze(ctx, request.AgentID, request.Amount)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Withdrawal rejected",
		"request_id", requestID, "admin_id", adminID, "reason", reason)
	s.notifier.WithdrawalStateChanged(ctx, request.AgentID, requestID, ports.WithdrawalStatusRejected)

	return nil
}

// MarkPaid moves approved to paid and settles the frozen amount into
// total_paid.
func (s *AgentService) MarkPaid(ctx context.Context, requestID string, adminID int64, payoutRef string) error {
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return err
	}

	err = s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		ok, err := s.withdrawals.TransitionStatus(ctx, requestID,
			ports.WithdrawalStatusApproved, ports.WithdrawalStatusPaid, adminID, s.now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return ports.ErrInvalidStateTransition
		}

		if payoutRef != "" {
			if err = s.withdrawals.SetPayoutRef(ctx, requestID, payoutRef); err != nil {
				return err
			}
		}

		return s.agents.SettlePaid(ctx, request.AgentID, request.Amount)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Withdrawal paid",
		"request_id", requestID, "admin_id", adminID, "payout_ref", payoutRef)
	s.notifier.WithdrawalStateChanged(ctx, request.AgentID, requestID, ports.WithdrawalStatusPaid)

	return nil
}

func (s *AgentService) List(ctx context.Context, agentID, status string) ([]entities.WithdrawalRequest, error) {
	return s.withdrawals.List(ctx, agentID, status)
}

func (s *AgentService) loadRequest(ctx context.Context, requestID string) (*entities.WithdrawalRequest, error) {
	request, err := s.withdrawals.FindByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, ports.ErrWithdrawalNotFound
	}

	return request, nil
}
