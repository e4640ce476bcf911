package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// OwnerKind identifies which kind of instance holds the handler lease.
type OwnerKind string

const (
	OwnerInstalled OwnerKind = "installed"
	OwnerNone      OwnerKind = "none"
)

// StaleAfter is the lease staleness horizon: a lease older than this is
// treated as abandoned and up for re-acquisition.
const StaleAfter = 5 * time.Minute

// leaseTTL keeps the key from outliving a crashed owner forever. Staleness
// itself is judged by AcquiredAt, the TTL is only a backstop.
const leaseTTL = StaleAfter + time.Minute

const leaseKey = "handler:lease"

// LeaseRecord is the advisory handler-lease stored in Redis.
type LeaseRecord struct {
	Owner      OwnerKind `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Stale reports whether the lease is past the staleness horizon at now.
func (l LeaseRecord) Stale(now time.Time) bool {
	return now.Sub(l.AcquiredAt) >= StaleAfter
}

// Lease reads and writes the handler-lease record. The protocol itself
// (who may claim, who must defer) lives in the lease package; this type is
// only the storage.
type Lease struct {
	client *Client
	logger *zap.Logger
}

// NewLease creates a lease store.
func NewLease(client *Client, logger *zap.Logger) *Lease {
	return &Lease{client: client, logger: logger}
}

// Get returns the current lease record, or nil when none is held.
func (l *Lease) Get(ctx context.Context) (*LeaseRecord, error) {
	val, err := l.client.rdb.Get(ctx, leaseKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lease: %w", err)
	}

	var rec LeaseRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("decode lease: %w", err)
	}
	return &rec, nil
}

// Renew writes the lease with the given owner and a fresh timestamp.
func (l *Lease) Renew(ctx context.Context, owner OwnerKind, now time.Time) error {
	data, err := json.Marshal(LeaseRecord{Owner: owner, AcquiredAt: now.UTC()})
	if err != nil {
		return fmt.Errorf("encode lease: %w", err)
	}
	if err := l.client.rdb.Set(ctx, leaseKey, data, leaseTTL).Err(); err != nil {
		return fmt.Errorf("write lease: %w", err)
	}
	return nil
}

// Clear removes the lease record. Idempotent.
func (l *Lease) Clear(ctx context.Context) error {
	if err := l.client.rdb.Del(ctx, leaseKey).Err(); err != nil {
		return fmt.Errorf("clear lease: %w", err)
	}
	return nil
}
