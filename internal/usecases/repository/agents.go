package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/telepay/reconciler/internal/entities"
	"github.com/telepay/reconciler/pkg/database"
)

const agentColumns = `agent_id, markup_per_unit::text AS markup_per_unit,
       profit_available::text AS profit_available, profit_frozen::text AS profit_frozen,
       total_paid::text AS total_paid, created_at`

type AgentsRepository struct {
	logger *slog.Logger

	db         tx.DBGetter
	transactor *tx.Transactor
}

func NewAgentsRepository(logger *slog.Logger, pg *database.Postgres) *AgentsRepository {
	return &AgentsRepository{logger: logger, db: pg.DBGetter, transactor: pg.Transactor}
}

func (r *AgentsRepository) Insert(ctx context.Context, agentID string, markupPerUnit decimal.Decimal) error {
	_, err := r.db(ctx).Exec(ctx,
		"INSERT INTO agents (agent_id, markup_per_unit) VALUES ($1, $2)",
		agentID, markupPerUnit.String())
	if err != nil {
		return fmt.Errorf("failed to insert agent %s: %w", agentID, err)
	}

	return nil
}

func (r *AgentsRepository) FindByID(ctx context.Context, agentID string) (*entities.Agent, error) {
	rows, err := r.db(ctx).Query(ctx,
		fmt.Sprintf("SELECT %s FROM agents WHERE agent_id = $1", agentColumns), agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent: %w", err)
	}

	agent, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.Agent])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect agent row: %w", err)
	}

	return &agent, nil
}

// Accrue adds markup_per_unit * units to the agent's available profit in a
// single statement.
func (r *AgentsRepository) Accrue(ctx context.Context, agentID string, units int) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE agents SET profit_available = profit_available + markup_per_unit * $2
		  WHERE agent_id = $1`, agentID, units)
	if err != nil {
		return fmt.Errorf("failed to accrue commission for agent %s: %w", agentID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("accrue: agent %s not found", agentID)
	}

	return nil
}

// Freeze moves amount from available to frozen, conditional on sufficient
// available balance. Returns false when the guard fails.
func (r *AgentsRepository) Freeze(ctx context.Context, agentID string, amount decimal.Decimal) (bool, error) {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE agents
		    SET profit_available = profit_available - $2::numeric,
		        profit_frozen = profit_frozen + $2::numeric
		  WHERE agent_id = $1 AND profit_available >= $2::numeric`,
		agentID, amount.String())
	if err != nil {
		return false, fmt.Errorf("failed to freeze %s for agent %s: %w", amount, agentID, err)
	}

	return tag.RowsAffected() > 0, nil
}

// Unfreeze returns a rejected withdrawal's amount to the available balance.
func (r *AgentsRepository) Unfreeze(ctx context.Context, agentID string, amount decimal.Decimal) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE agents
		    SET profit_frozen = profit_frozen - $2::numeric,
		        profit_available = profit_available + $2::numeric
		  WHERE agent_id = $1 AND profit_frozen >= $2::numeric`,
		agentID, amount.String())
	if err != nil {
		return fmt.Errorf("failed to unfreeze %s for agent %s: %w", amount, agentID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("unfreeze: frozen balance of agent %s below %s", agentID, amount)
	}

	return nil
}

// SettlePaid moves a paid withdrawal's amount from frozen to total_paid.
func (r *AgentsRepository) SettlePaid(ctx context.Context, agentID string, amount decimal.Decimal) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE agents
		    SET profit_frozen = profit_frozen - $2::numeric,
		        total_paid = total_paid + $2::numeric
		  WHERE agent_id = $1 AND profit_frozen >= $2::numeric`,
		agentID, amount.String())
	if err != nil {
		return fmt.Errorf("failed to settle payout %s for agent %s: %w", amount, agentID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("settle: frozen balance of agent %s below %s", agentID, amount)
	}

	return nil
}
