package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"soulbot/internal/entities"
	"soulbot/internal/interfaces"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountColumns = `id, external_id, display_name, is_premium, premium_expires_at,
	free_credits_remaining, free_reset_at, premium_credits_remaining, premium_reset_at,
	last_interaction_at, created_at`

// PostgresAccountStore serializes per-account mutations with row locks
// (SELECT ... FOR UPDATE inside one transaction).
type PostgresAccountStore struct {
	*UsageRepository
	db *pgxpool.Pool
}

func NewPostgresAccountStore(db *pgxpool.Pool) *PostgresAccountStore {
	return &PostgresAccountStore{UsageRepository: NewUsageRepository(db), db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*entities.UserAccount, error) {
	var a entities.UserAccount
	err := row.Scan(&a.ID, &a.ExternalID, &a.DisplayName, &a.IsPremium, &a.PremiumExpiresAt,
		&a.FreeCreditsRemaining, &a.FreeResetAt, &a.PremiumCreditsRemaining, &a.PremiumResetAt,
		&a.LastInteractionAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *PostgresAccountStore) CreateAccount(ctx context.Context, acc *entities.UserAccount) (*entities.UserAccount, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (id, external_id, display_name, is_premium, free_credits_remaining, free_reset_at, premium_credits_remaining, created_at)
		VALUES ($1, $2, $3, FALSE, $4, $5, 0, $6)
		ON CONFLICT (external_id) DO NOTHING
	`, acc.ID, acc.ExternalID, acc.DisplayName, acc.FreeCreditsRemaining, acc.FreeResetAt, acc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return r.GetAccount(ctx, acc.ExternalID)
}

func (r *PostgresAccountStore) GetAccount(ctx context.Context, externalID string) (*entities.UserAccount, error) {
	acc, err := scanAccount(r.db.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE external_id = $1", externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entities.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select account: %w", err)
	}
	return acc, nil
}

func (r *PostgresAccountStore) MutateAccount(ctx context.Context, externalID string, fn func(tx interfaces.AccountTx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	acc, err := scanAccount(tx.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE external_id = $1 FOR UPDATE", externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return entities.ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("lock account: %w", err)
	}

	ptx := &postgresTx{tx: tx, account: acc}
	if err := fn(ptx); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE accounts SET
			is_premium = $1,
			premium_expires_at = $2,
			free_credits_remaining = $3,
			free_reset_at = $4,
			premium_credits_remaining = $5,
			premium_reset_at = $6,
			last_interaction_at = $7
		WHERE id = $8
	`, acc.IsPremium, acc.PremiumExpiresAt, acc.FreeCreditsRemaining, acc.FreeResetAt,
		acc.PremiumCreditsRemaining, acc.PremiumResetAt, acc.LastInteractionAt, acc.ID)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *PostgresAccountStore) UnlockedPersonas(ctx context.Context, accountID string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		"SELECT persona_name FROM unlocked_personas WHERE account_id = $1 ORDER BY persona_name", accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (r *PostgresAccountStore) Close() error {
	r.db.Close()
	return nil
}

type postgresTx struct {
	tx      pgx.Tx
	account *entities.UserAccount
}

func (t *postgresTx) Account() *entities.UserAccount { return t.account }

func (t *postgresTx) PaymentExists(ctx context.Context, chargeID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM payments WHERE charge_id = $1)", chargeID).Scan(&exists)
	return exists, err
}

func (t *postgresTx) RecordPayment(ctx context.Context, rec *entities.PaymentRecord) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO payments (id, account_id, amount, currency, charge_id, provider, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (charge_id) DO NOTHING
	`, rec.ID, rec.AccountID, rec.Amount, rec.Currency, rec.ChargeID, rec.Provider, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entities.ErrDuplicatePayment
	}
	return nil
}

func (t *postgresTx) UnlockPersona(ctx context.Context, personaName string, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO unlocked_personas (account_id, persona_name, unlocked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, persona_name) DO NOTHING
	`, t.account.ID, personaName, at)
	if err != nil {
		return false, fmt.Errorf("unlock persona: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
