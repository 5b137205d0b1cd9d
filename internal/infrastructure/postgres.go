package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type PostgresClient struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewPostgresClient(ctx context.Context, connString string, log zerolog.Logger) (*PostgresClient, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	// Pool configuration
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	client := &PostgresClient{Pool: pool, log: log}

	// Auto-migrate schema
	if err := client.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return client, nil
}

func (p *PostgresClient) Migrate(ctx context.Context) error {
	// Accounts: one row per external identity
	_, err := p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id VARCHAR(36) PRIMARY KEY,
			external_id VARCHAR(64) UNIQUE NOT NULL,
			display_name VARCHAR(255) NOT NULL DEFAULT '',
			is_premium BOOLEAN NOT NULL DEFAULT FALSE,
			premium_expires_at TIMESTAMPTZ,
			free_credits_remaining INT NOT NULL CHECK (free_credits_remaining >= 0),
			free_reset_at TIMESTAMPTZ NOT NULL,
			premium_credits_remaining INT NOT NULL DEFAULT 0 CHECK (premium_credits_remaining >= 0),
			premium_reset_at TIMESTAMPTZ,
			last_interaction_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("create accounts table: %w", err)
	}

	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS unlocked_personas (
			account_id VARCHAR(36) NOT NULL REFERENCES accounts(id),
			persona_name VARCHAR(64) NOT NULL,
			unlocked_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (account_id, persona_name)
		);
	`)
	if err != nil {
		return fmt.Errorf("create unlocked_personas table: %w", err)
	}

	// Payments are write-once; charge_id dedupes replayed confirmations
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS payments (
			id VARCHAR(36) PRIMARY KEY,
			account_id VARCHAR(36) NOT NULL REFERENCES accounts(id),
			amount BIGINT NOT NULL,
			currency VARCHAR(8) NOT NULL,
			charge_id VARCHAR(255) UNIQUE NOT NULL,
			provider VARCHAR(32) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("create payments table: %w", err)
	}

	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS interaction_logs (
			id BIGSERIAL PRIMARY KEY,
			account_id VARCHAR(36) NOT NULL,
			input_text TEXT NOT NULL,
			output_text TEXT NOT NULL,
			persona VARCHAR(64) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("create interaction_logs table: %w", err)
	}

	// Simple dirty migration for databases created before last_interaction_at existed
	if _, err := p.Pool.Exec(ctx, "ALTER TABLE accounts ADD COLUMN IF NOT EXISTS last_interaction_at TIMESTAMPTZ;"); err != nil {
		p.log.Warn().Err(err).Msg("add last_interaction_at column")
	}
	if _, err := p.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_interaction_logs_account ON interaction_logs (account_id, created_at);"); err != nil {
		p.log.Warn().Err(err).Msg("create interaction log index")
	}

	p.log.Info().Msg("database schema ready")
	return nil
}

func (p *PostgresClient) Close() {
	p.Pool.Close()
}
