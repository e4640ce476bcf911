package db

import (
	"time"

	"github.com/google/uuid"
)

// FiringRecord is one notification firing attempt, written at the moment
// delivery is attempted and marked with the outcome afterwards. The table
// backs the stats endpoint and survives agent restarts; the fast-path rate
// window lives in Redis.
type FiringRecord struct {
	ID       uuid.UUID `json:"id"`
	Category string    `json:"category"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	Channel  *string   `json:"channel,omitempty"` // nil until an attempt lands
	Success  bool      `json:"success"`
	FiredAt  time.Time `json:"fired_at"`
}

// CategoryStats is the per-category aggregate served by the stats endpoint.
type CategoryStats struct {
	Category  string     `json:"category"`
	Total     int        `json:"total"`
	Delivered int        `json:"delivered"`
	LastFired *time.Time `json:"last_fired,omitempty"`
}
