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

type UsersRepository struct {
	logger *slog.Logger
	db     tx.DBGetter
}

func NewUsersRepository(logger *slog.Logger, pg *database.Postgres) *UsersRepository {
	return &UsersRepository{logger: logger, db: pg.DBGetter}
}

// IncrementBalance credits the user, creating the row on first touch.
func (r *UsersRepository) IncrementBalance(ctx context.Context, userID int64, amount decimal.Decimal) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO users (user_id, balance) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET balance = users.balance + EXCLUDED.balance`,
		userID, amount.String())
	if err != nil {
		return fmt.Errorf("failed to increment balance for user %d: %w", userID, err)
	}

	return nil
}

func (r *UsersRepository) FindByID(ctx context.Context, userID int64) (*entities.User, error) {
	var balance string

	err := r.db(ctx).QueryRow(ctx,
		"SELECT balance::text FROM users WHERE user_id = $1", userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	bal, err := decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("invalid balance %q: %w", balance, err)
	}

	return &entities.User{UserID: userID, Balance: bal}, nil
}
