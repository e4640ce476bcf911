package delivery

import "errors"

// Failure taxonomy. Everything a channel or the service can go wrong with
// is folded into one of these so callers branch with errors.Is instead of
// string matching.
var (
	// ErrPermissionDenied means the user or host refused notification
	// permission. Terminal until settings change.
	ErrPermissionDenied = errors.New("notification permission denied")

	// ErrChannelUnavailable means a channel is not ready (queue not
	// configured, breaker open, bridge unreachable before sending).
	// Triggers fallback to the next channel, not a retry.
	ErrChannelUnavailable = errors.New("delivery channel unavailable")

	// ErrDeliveryFailed means the chosen channel's call itself failed.
	// Triggers backoff retry in the scheduler.
	ErrDeliveryFailed = errors.New("delivery failed")
)
