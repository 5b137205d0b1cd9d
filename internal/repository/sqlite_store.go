package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"soulbot/internal/entities"
	"soulbot/internal/interfaces"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteAccountStore runs every mutation in a BEGIN IMMEDIATE transaction
// over a single connection. SQLite has one writer, so accounts are
// serialized globally rather than per row.
type SQLiteAccountStore struct {
	db *sql.DB
}

func NewSQLiteAccountStore(ctx context.Context, path string) (*SQLiteAccountStore, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteAccountStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteAccountStore) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			external_id TEXT UNIQUE NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			is_premium INTEGER NOT NULL DEFAULT 0,
			premium_expires_at DATETIME,
			free_credits_remaining INTEGER NOT NULL CHECK (free_credits_remaining >= 0),
			free_reset_at DATETIME NOT NULL,
			premium_credits_remaining INTEGER NOT NULL DEFAULT 0 CHECK (premium_credits_remaining >= 0),
			premium_reset_at DATETIME,
			last_interaction_at DATETIME,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS unlocked_personas (
			account_id TEXT NOT NULL REFERENCES accounts(id),
			persona_name TEXT NOT NULL,
			unlocked_at DATETIME NOT NULL,
			PRIMARY KEY (account_id, persona_name)
		)`,
		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			amount INTEGER NOT NULL,
			currency TEXT NOT NULL,
			charge_id TEXT UNIQUE NOT NULL,
			provider TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS interaction_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id TEXT NOT NULL,
			input_text TEXT NOT NULL,
			output_text TEXT NOT NULL,
			persona TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_interaction_logs_account ON interaction_logs (account_id, created_at)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func scanSQLiteAccount(row rowScanner) (*entities.UserAccount, error) {
	var (
		a                                       entities.UserAccount
		expires, premiumReset, lastInteraction sql.NullTime
	)
	err := row.Scan(&a.ID, &a.ExternalID, &a.DisplayName, &a.IsPremium, &expires,
		&a.FreeCreditsRemaining, &a.FreeResetAt, &a.PremiumCreditsRemaining, &premiumReset,
		&lastInteraction, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.PremiumExpiresAt = timePtr(expires)
	a.PremiumResetAt = timePtr(premiumReset)
	a.LastInteractionAt = timePtr(lastInteraction)
	a.FreeResetAt = a.FreeResetAt.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func (s *SQLiteAccountStore) CreateAccount(ctx context.Context, acc *entities.UserAccount) (*entities.UserAccount, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, external_id, display_name, is_premium, free_credits_remaining, free_reset_at, premium_credits_remaining, created_at)
		VALUES (?, ?, ?, 0, ?, ?, 0, ?)
		ON CONFLICT (external_id) DO NOTHING
	`, acc.ID, acc.ExternalID, acc.DisplayName, acc.FreeCreditsRemaining, acc.FreeResetAt.UTC(), acc.CreatedAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return s.GetAccount(ctx, acc.ExternalID)
}

func (s *SQLiteAccountStore) GetAccount(ctx context.Context, externalID string) (*entities.UserAccount, error) {
	acc, err := scanSQLiteAccount(s.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE external_id = ?", externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entities.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select account: %w", err)
	}
	return acc, nil
}

func (s *SQLiteAccountStore) MutateAccount(ctx context.Context, externalID string, fn func(tx interfaces.AccountTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	acc, err := scanSQLiteAccount(tx.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE external_id = ?", externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return entities.ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("lock account: %w", err)
	}

	stx := &sqliteTx{tx: tx, account: acc}
	if err := fn(stx); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE accounts SET
			is_premium = ?,
			premium_expires_at = ?,
			free_credits_remaining = ?,
			free_reset_at = ?,
			premium_credits_remaining = ?,
			premium_reset_at = ?,
			last_interaction_at = ?
		WHERE id = ?
	`, acc.IsPremium, nullTime(acc.PremiumExpiresAt), acc.FreeCreditsRemaining, acc.FreeResetAt.UTC(),
		acc.PremiumCreditsRemaining, nullTime(acc.PremiumResetAt), nullTime(acc.LastInteractionAt), acc.ID)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteAccountStore) UnlockedPersonas(ctx context.Context, accountID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT persona_name FROM unlocked_personas WHERE account_id = ? ORDER BY persona_name", accountID)
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

func (s *SQLiteAccountStore) LogInteraction(ctx context.Context, entry entities.InteractionLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interaction_logs (account_id, input_text, output_text, persona, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, entry.AccountID, entry.InputText, entry.OutputText, entry.Persona, entry.CreatedAt.UTC())
	return err
}

func (s *SQLiteAccountStore) UsageHistory(ctx context.Context, accountID string, since time.Time) ([]entities.DailyUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT substr(created_at, 1, 10) AS day, COUNT(*)
		FROM interaction_logs
		WHERE account_id = ? AND created_at >= ?
		GROUP BY day
		ORDER BY day ASC
	`, accountID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usage := []entities.DailyUsage{}
	for rows.Next() {
		var (
			day string
			n   int
		)
		if err := rows.Scan(&day, &n); err != nil {
			return nil, err
		}
		date, err := time.Parse("2006-01-02", day)
		if err != nil {
			return nil, fmt.Errorf("parse usage day %q: %w", day, err)
		}
		usage = append(usage, entities.DailyUsage{Date: date, Messages: n})
	}
	return usage, rows.Err()
}

func (s *SQLiteAccountStore) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	tx      *sql.Tx
	account *entities.UserAccount
}

func (t *sqliteTx) Account() *entities.UserAccount { return t.account }

func (t *sqliteTx) PaymentExists(ctx context.Context, chargeID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM payments WHERE charge_id = ?)", chargeID).Scan(&exists)
	return exists, err
}

func (t *sqliteTx) RecordPayment(ctx context.Context, rec *entities.PaymentRecord) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO payments (id, account_id, amount, currency, charge_id, provider, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (charge_id) DO NOTHING
	`, rec.ID, rec.AccountID, rec.Amount, rec.Currency, rec.ChargeID, rec.Provider, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entities.ErrDuplicatePayment
	}
	return nil
}

func (t *sqliteTx) UnlockPersona(ctx context.Context, personaName string, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO unlocked_personas (account_id, persona_name, unlocked_at)
		VALUES (?, ?, ?)
		ON CONFLICT (account_id, persona_name) DO NOTHING
	`, t.account.ID, personaName, at.UTC())
	if err != nil {
		return false, fmt.Errorf("unlock persona: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
