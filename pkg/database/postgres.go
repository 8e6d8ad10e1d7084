package database

import (
	"context"
	"fmt"
	"time"

	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	cfg "github.com/telepay/reconciler/config"
)

const defaultConnAttempts = 3

// Postgres wraps the pgx pool together with the transactor primitives the
// repositories are built on.
type Postgres struct {
	Pool       *pgxpool.Pool
	DBGetter   tx.DBGetter
	Transactor *tx.Transactor
}

type Option func(*settings)

type settings struct {
	maxPoolSize       int32
	connTimeout       time.Duration
	healthCheckPeriod time.Duration
	isolation         pgx.TxIsoLevel
}

func MaxPoolSize(size int32) Option {
	return func(s *settings) {
		if size > 0 {
			s.maxPoolSize = size
		}
	}
}

func ConnTimeout(seconds int) Option {
	return func(s *settings) {
		if seconds > 0 {
			s.connTimeout = time.Duration(seconds) * time.Second
		}
	}
}

func HealthCheckPeriod(minutes int) Option {
	return func(s *settings) {
		if minutes > 0 {
			s.healthCheckPeriod = time.Duration(minutes) * time.Minute
		}
	}
}

func Isolation(level pgx.TxIsoLevel) Option {
	return func(s *settings) {
		s.isolation = level
	}
}

// New connects to Postgres and wires the Thiht transactor on top of the pool.
func New(config *cfg.Config, opts ...Option) (*Postgres, error) {
	s := &settings{
		maxPoolSize:       4,
		connTimeout:       5 * time.Second,
		healthCheckPeriod: time.Minute,
		isolation:         pgx.ReadCommitted,
	}
	for _, opt := range opts {
		opt(s)
	}

	poolConfig, err := pgxpool.ParseConfig(config.DB.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	poolConfig.MaxConns = s.maxPoolSize
	poolConfig.ConnConfig.ConnectTimeout = s.connTimeout
	poolConfig.HealthCheckPeriod = s.healthCheckPeriod
	poolConfig.ConnConfig.RuntimeParams["default_transaction_isolation"] = string(s.isolation)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(defaultConnAttempts)*s.connTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	transactor, dbGetter := tx.NewTransactorFromPool(pool)

	return &Postgres{
		Pool:       pool,
		DBGetter:   dbGetter,
		Transactor: transactor,
	}, nil
}

func (p *Postgres) Close() {
	if p.Pool != nil {
		p.Pool.Close()
	}
}
