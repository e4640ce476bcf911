package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lumenhabits/pulse/internal/category"
)

// Retention is how far back firing history is kept. Anything older is
// trimmed on the next append.
const Retention = 30 * 24 * time.Hour

// History records firing timestamps per category in a sorted set, scored by
// unix nanoseconds, so window counts are a single range query.
type History struct {
	client *Client
	logger *zap.Logger
}

// NewHistory creates a firing-history store.
func NewHistory(client *Client, logger *zap.Logger) *History {
	return &History{client: client, logger: logger}
}

func historyKey(cat category.Category) string {
	return fmt.Sprintf("history:%s", cat)
}

// Append records a firing at the given instant and trims entries past the
// retention horizon in the same pipeline.
func (h *History) Append(ctx context.Context, cat category.Category, firedAt time.Time) error {
	key := historyKey(cat)
	cutoff := firedAt.Add(-Retention)

	pipe := h.client.rdb.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(firedAt.UnixNano()),
		Member: firedAt.UTC().Format(time.RFC3339Nano),
	})
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff.UnixNano()))
	pipe.Expire(ctx, key, Retention+24*time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append firing record: %w", err)
	}

	h.logger.Debug("firing recorded",
		zap.String("category", cat.String()),
		zap.Time("fired_at", firedAt),
	)
	return nil
}

// Window returns the firing instants for a category since the given cutoff,
// oldest first.
func (h *History) Window(ctx context.Context, cat category.Category, since time.Time) ([]time.Time, error) {
	members, err := h.client.rdb.ZRangeByScore(ctx, historyKey(cat), &redis.ZRangeBy{
		Min: fmt.Sprintf("(%d", since.UnixNano()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read firing window: %w", err)
	}

	out := make([]time.Time, 0, len(members))
	for _, m := range members {
		ts, err := time.Parse(time.RFC3339Nano, m)
		if err != nil {
			h.logger.Warn("skipping unparseable firing record",
				zap.String("category", cat.String()),
				zap.String("member", m),
			)
			continue
		}
		out = append(out, ts)
	}
	return out, nil
}

// CountSince returns how many firings a category has since the cutoff.
func (h *History) CountSince(ctx context.Context, cat category.Category, since time.Time) (int, error) {
	n, err := h.client.rdb.ZCount(ctx, historyKey(cat),
		fmt.Sprintf("(%d", since.UnixNano()), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count firing records: %w", err)
	}
	return int(n), nil
}

// PruneBefore drops all firing records older than the cutoff, for every
// category. Used by the retention pruner.
func (h *History) PruneBefore(ctx context.Context, cutoff time.Time) error {
	pipe := h.client.rdb.Pipeline()
	for _, cat := range category.All {
		pipe.ZRemRangeByScore(ctx, historyKey(cat), "0", fmt.Sprintf("%d", cutoff.UnixNano()))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("prune firing history: %w", err)
	}
	return nil
}
