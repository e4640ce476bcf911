package policy

import (
	"testing"
	"time"

	"github.com/lumenhabits/pulse/internal/category"
)

func TestInQuietHours_DefaultWindow(t *testing.T) {
	quiet := map[int]bool{22: true, 23: true, 0: true, 1: true, 2: true, 3: true,
		4: true, 5: true, 6: true, 7: true, 8: true}

	for h := 0; h < 24; h++ {
		got := InQuietHours(h, DefaultWindow)
		if got != quiet[h] {
			t.Errorf("hour %d: InQuietHours = %v, want %v", h, got, quiet[h])
		}
	}
}

func TestInQuietHours_NonWrappingWindow(t *testing.T) {
	w := Window{Start: 13, End: 15}
	for h := 0; h < 24; h++ {
		want := h == 13 || h == 14
		if got := InQuietHours(h, w); got != want {
			t.Errorf("hour %d: InQuietHours = %v, want %v", h, got, want)
		}
	}
}

func TestInQuietHours_EmptyWindow(t *testing.T) {
	w := Window{Start: 9, End: 9}
	for h := 0; h < 24; h++ {
		if InQuietHours(h, w) {
			t.Errorf("hour %d: empty window should never be quiet", h)
		}
	}
}

func TestRateLimited_UnderCeiling(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	history := []time.Time{now.Add(-2 * time.Hour)}

	// daily-challenge allows 2 per 24h
	if RateLimited(category.DailyChallenge, history, now) {
		t.Error("one firing should not hit the daily-challenge ceiling of 2")
	}
}

func TestRateLimited_AtCeiling(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	history := []time.Time{now.Add(-2 * time.Hour), now.Add(-20 * time.Hour)}

	if !RateLimited(category.DailyChallenge, history, now) {
		t.Error("two firings in 24h should hit the daily-challenge ceiling")
	}
}

func TestRateLimited_OldFiringsExpire(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	history := []time.Time{now.Add(-25 * time.Hour), now.Add(-30 * time.Hour)}

	if RateLimited(category.DailyChallenge, history, now) {
		t.Error("firings outside the 24h window must not count")
	}
}

func TestRateLimited_StreakProtection72h(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	// A firing 48h ago is outside a 24h window but inside the 72h one.
	history := []time.Time{now.Add(-48 * time.Hour)}
	if !RateLimited(category.StreakProtection, history, now) {
		t.Error("streak-protection should be limited by a firing 48h ago")
	}

	history = []time.Time{now.Add(-80 * time.Hour)}
	if RateLimited(category.StreakProtection, history, now) {
		t.Error("a firing 80h ago is outside the 72h window")
	}
}

func TestEvaluate_Allow(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	res := Evaluate(category.HabitNudge, nil, 14, DefaultWindow, now)
	if res.Decision != Allow {
		t.Errorf("expected Allow, got %s (%s)", res.Decision, res.Reason)
	}
}

func TestEvaluate_DeferInQuietHours(t *testing.T) {
	now := time.Date(2026, 9, 1, 4, 0, 0, 0, time.UTC)

	res := Evaluate(category.HabitNudge, nil, 23, DefaultWindow, now)
	if res.Decision != Defer {
		t.Errorf("expected Defer at local hour 23, got %s", res.Decision)
	}
}

func TestEvaluate_UrgentBypassesQuietHours(t *testing.T) {
	now := time.Date(2026, 9, 1, 4, 0, 0, 0, time.UTC)

	res := Evaluate(category.StreakProtection, nil, 23, DefaultWindow, now)
	if res.Decision != Allow {
		t.Errorf("expected urgent category to Allow at local hour 23, got %s", res.Decision)
	}
}

func TestEvaluate_UrgentStillRateLimited(t *testing.T) {
	now := time.Date(2026, 9, 1, 4, 0, 0, 0, time.UTC)
	history := []time.Time{now.Add(-10 * time.Hour)}

	res := Evaluate(category.StreakProtection, history, 23, DefaultWindow, now)
	if res.Decision != Drop {
		t.Errorf("expected Drop for rate-limited urgent category, got %s", res.Decision)
	}
}

func TestEvaluate_RateLimitBeatsQuietHours(t *testing.T) {
	now := time.Date(2026, 9, 1, 4, 0, 0, 0, time.UTC)
	history := []time.Time{now.Add(-1 * time.Hour), now.Add(-2 * time.Hour), now.Add(-3 * time.Hour)}

	res := Evaluate(category.HabitNudge, history, 23, DefaultWindow, now)
	if res.Decision != Drop {
		t.Errorf("expected Drop when both limited and quiet, got %s", res.Decision)
	}
}

func TestCeilingNeverExceeded(t *testing.T) {
	// Property: simulating any sequence of attempts gated by RateLimited,
	// the recorded count inside the window never exceeds the ceiling.
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	var history []time.Time

	for i := 0; i < 100; i++ {
		at := now.Add(time.Duration(i) * 17 * time.Minute)
		if !RateLimited(category.HabitNudge, history, at) {
			history = append(history, at)
		}

		ceiling := category.HabitNudge.CeilingFor()
		count := 0
		for _, fired := range history {
			if fired.After(at.Add(-ceiling.Window)) {
				count++
			}
		}
		if count > ceiling.Limit {
			t.Fatalf("window count %d exceeds ceiling %d at step %d", count, ceiling.Limit, i)
		}
	}
}
