// Package policy holds the pure go/defer/drop decision functions applied at
// fire time: per-category rate ceilings over recent firing history, and the
// local quiet-hours window.
package policy

import (
	"time"

	"github.com/lumenhabits/pulse/internal/category"
)

// Decision is the outcome of evaluating a firing attempt.
type Decision int

const (
	// Allow delivers now.
	Allow Decision = iota
	// Defer reschedules for the end of the quiet-hours window.
	Defer
	// Drop abandons the firing; the category re-arms at the next natural
	// re-initialization.
	Drop
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Defer:
		return "defer"
	case Drop:
		return "drop"
	default:
		return "unknown"
	}
}

// Window is a local-hour quiet window covering [Start, 24) ∪ [0, End).
type Window struct {
	Start int
	End   int
}

// DefaultWindow is the 22:00–09:00 quiet-hours window.
var DefaultWindow = Window{Start: 22, End: 9}

// InQuietHours reports whether localHour falls inside the window.
func InQuietHours(localHour int, w Window) bool {
	if w.Start == w.End {
		return false
	}
	if w.Start < w.End {
		return localHour >= w.Start && localHour < w.End
	}
	return localHour >= w.Start || localHour < w.End
}

// RateLimited reports whether the category's ceiling is already met by the
// firings in history that fall inside the category's trailing window.
func RateLimited(cat category.Category, history []time.Time, now time.Time) bool {
	ceiling := cat.CeilingFor()
	cutoff := now.Add(-ceiling.Window)

	count := 0
	for _, fired := range history {
		if fired.After(cutoff) {
			count++
		}
	}
	return count >= ceiling.Limit
}

// Result carries a decision and a human-readable reason for the log line.
type Result struct {
	Decision Decision
	Reason   string
}

// Evaluate applies the firing policy in precedence order:
//
//  1. Ceiling met -> Drop (applies to every category, urgent included)
//  2. Quiet hours and not urgent -> Defer
//  3. Otherwise -> Allow
func Evaluate(cat category.Category, history []time.Time, localHour int, w Window, now time.Time) Result {
	if RateLimited(cat, history, now) {
		return Result{Decision: Drop, Reason: "rate ceiling reached for window"}
	}

	if InQuietHours(localHour, w) && !cat.Urgent() {
		return Result{Decision: Defer, Reason: "inside quiet hours"}
	}

	return Result{Decision: Allow, Reason: "no policy restrictions apply"}
}
