package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lumenhabits/pulse/internal/category"
)

// PermissionState is the cached host notification permission.
type PermissionState string

const (
	PermissionUnknown PermissionState = "unknown"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
)

const permissionKey = "permission:state"

// State holds the small mutable records shared across instances: per-category
// retry counters and the permission cache.
type State struct {
	client *Client
	logger *zap.Logger
}

// NewState creates a state store.
func NewState(client *Client, logger *zap.Logger) *State {
	return &State{client: client, logger: logger}
}

func retryKey(cat category.Category) string {
	return fmt.Sprintf("retry:%s", cat)
}

// IncrRetry bumps the retry counter for a category and returns the new value.
func (s *State) IncrRetry(ctx context.Context, cat category.Category) (int, error) {
	n, err := s.client.rdb.Incr(ctx, retryKey(cat)).Result()
	if err != nil {
		return 0, fmt.Errorf("incr retry counter: %w", err)
	}
	return int(n), nil
}

// RetryCount returns the current retry counter for a category, zero if unset.
func (s *State) RetryCount(ctx context.Context, cat category.Category) (int, error) {
	val, err := s.client.rdb.Get(ctx, retryKey(cat)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read retry counter: %w", err)
	}
	return val, nil
}

// ClearRetry resets the retry counter for a category. Idempotent.
func (s *State) ClearRetry(ctx context.Context, cat category.Category) error {
	if err := s.client.rdb.Del(ctx, retryKey(cat)).Err(); err != nil {
		return fmt.Errorf("clear retry counter: %w", err)
	}
	return nil
}

// Permission returns the cached permission state, PermissionUnknown if none.
func (s *State) Permission(ctx context.Context) (PermissionState, error) {
	val, err := s.client.rdb.Get(ctx, permissionKey).Result()
	if errors.Is(err, redis.Nil) {
		return PermissionUnknown, nil
	}
	if err != nil {
		return PermissionUnknown, fmt.Errorf("read permission cache: %w", err)
	}
	return PermissionState(val), nil
}

// SetPermission caches the permission state.
func (s *State) SetPermission(ctx context.Context, state PermissionState) error {
	if err := s.client.rdb.Set(ctx, permissionKey, string(state), 0).Err(); err != nil {
		return fmt.Errorf("cache permission state: %w", err)
	}
	s.logger.Debug("permission state cached", zap.String("state", string(state)))
	return nil
}
