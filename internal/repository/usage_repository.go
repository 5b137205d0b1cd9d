package repository

import (
	"context"
	"fmt"
	"time"

	"soulbot/internal/entities"

	"github.com/jackc/pgx/v5/pgxpool"
)

// UsageRepository owns the append-only interaction log in Postgres.
type UsageRepository struct {
	db *pgxpool.Pool
}

func NewUsageRepository(db *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) LogInteraction(ctx context.Context, entry entities.InteractionLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO interaction_logs (account_id, input_text, output_text, persona, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.AccountID, entry.InputText, entry.OutputText, entry.Persona, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}

// UsageHistory returns per-day message counts since the given time
func (r *UsageRepository) UsageHistory(ctx context.Context, accountID string, since time.Time) ([]entities.DailyUsage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT date_trunc('day', created_at AT TIME ZONE 'UTC') AS day, COUNT(*)
		FROM interaction_logs
		WHERE account_id = $1 AND created_at >= $2
		GROUP BY day
		ORDER BY day ASC
	`, accountID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usage := []entities.DailyUsage{}
	for rows.Next() {
		var u entities.DailyUsage
		if err := rows.Scan(&u.Date, &u.Messages); err != nil {
			return nil, err
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}
