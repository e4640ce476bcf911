package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repository handles database operations for firing records
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new firing-record repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// InsertFiring records a firing attempt. Called before delivery is
// confirmed; the outcome is filled in by MarkOutcome.
func (r *Repository) InsertFiring(ctx context.Context, rec *FiringRecord) error {
	query := `
		INSERT INTO firing_records (
			id, category, title, body, success, fired_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		rec.ID,
		rec.Category,
		rec.Title,
		rec.Body,
		rec.Success,
		rec.FiredAt,
	)
	if err != nil {
		r.logger.Error("failed to insert firing record",
			zap.Error(err),
			zap.String("firing_id", rec.ID.String()),
		)
		return fmt.Errorf("insert firing record: %w", err)
	}

	return nil
}

// MarkOutcome records whether the firing was delivered and on which channel.
func (r *Repository) MarkOutcome(ctx context.Context, id uuid.UUID, channel string, success bool) error {
	query := `
		UPDATE firing_records
		SET channel = $2, success = $3
		WHERE id = $1
	`

	_, err := r.db.Pool().Exec(ctx, query, id, channel, success)
	if err != nil {
		return fmt.Errorf("mark firing outcome: %w", err)
	}
	return nil
}

// StatsByCategory aggregates firing counts and delivery success since the
// given cutoff, one row per category that fired.
func (r *Repository) StatsByCategory(ctx context.Context, since time.Time) ([]CategoryStats, error) {
	query := `
		SELECT
			category,
			COUNT(*),
			COUNT(*) FILTER (WHERE success),
			MAX(fired_at)
		FROM firing_records
		WHERE fired_at >= $1
		GROUP BY category
		ORDER BY category
	`

	rows, err := r.db.Pool().Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query firing stats: %w", err)
	}
	defer rows.Close()

	var out []CategoryStats
	for rows.Next() {
		var s CategoryStats
		if err := rows.Scan(&s.Category, &s.Total, &s.Delivered, &s.LastFired); err != nil {
			return nil, fmt.Errorf("scan firing stats: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate firing stats: %w", err)
	}

	return out, nil
}

// CountSince returns how many firings a category has had since the cutoff.
func (r *Repository) CountSince(ctx context.Context, category string, since time.Time) (int, error) {
	var n int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM firing_records WHERE category = $1 AND fired_at >= $2`,
		category, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count firing records: %w", err)
	}
	return n, nil
}

// PruneBefore deletes firing records older than the cutoff and returns the
// number removed. The pruner calls this daily with a 30-day horizon.
func (r *Repository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx,
		`DELETE FROM firing_records WHERE fired_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune firing records: %w", err)
	}

	if n := tag.RowsAffected(); n > 0 {
		r.logger.Info("pruned firing records",
			zap.Int64("removed", n),
			zap.Time("cutoff", cutoff),
		)
		return n, nil
	}
	return 0, nil
}
