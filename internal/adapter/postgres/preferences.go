package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"fitledger/internal/domain"
)

var _ domain.PreferenceSource = (*Preferences)(nil)

// Preferences reads the per-user settings the ledger depends on.
type Preferences struct {
	db       *DB
	fallback bool
}

// NewPreferences wraps a DB as a PreferenceSource. Users without a stored
// row get fallback.
func NewPreferences(db *DB, fallback bool) *Preferences {
	return &Preferences{db: db, fallback: fallback}
}

// FitnessSyncEnabled reports whether step ingestion is allowed for userID.
func (p *Preferences) FitnessSyncEnabled(ctx context.Context, userID string) (bool, error) {
	var enabled bool
	err := p.db.sql.QueryRowContext(ctx,
		"SELECT fitness_sync FROM user_preferences WHERE user_id = $1", userID,
	).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return p.fallback, nil
	}
	if err != nil {
		return false, err
	}
	return enabled, nil
}

// SetFitnessSync stores the opt-in for userID.
func (p *Preferences) SetFitnessSync(ctx context.Context, userID string, enabled bool) error {
	_, err := p.db.sql.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, fitness_sync, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET fitness_sync = EXCLUDED.fitness_sync, updated_at = EXCLUDED.updated_at`,
		userID, enabled, time.Now(),
	)
	return err
}
