// Package delivery abstracts the two paths a notification can take to the
// host: a background queue that works while the app is not foregrounded,
// and a direct call to the host bridge usable only in the foreground. It
// owns permission acquisition, channel fallback, and per-attempt logging.
package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lumenhabits/pulse/internal/category"
)

// Notification is the payload handed to a channel.
type Notification struct {
	ID       uuid.UUID         `json:"id"`
	Category category.Category `json:"category"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	URL      string            `json:"url"` // in-app route opened on click
	FiredAt  time.Time         `json:"fired_at"`
	Silent   bool              `json:"silent,omitempty"` // permission probes only
}

// Channel is one delivery path.
type Channel interface {
	Name() string
	// Ready reports whether the channel can be attempted right now. A
	// non-nil error wraps ErrChannelUnavailable.
	Ready(ctx context.Context) error
	// Deliver pushes the notification through this channel. A non-nil
	// error wraps ErrDeliveryFailed.
	Deliver(ctx context.Context, n *Notification) error
}
