package content

import (
	"math/rand"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/lumenhabits/pulse/internal/category"
)

func newTestGenerator(seed int64) *Generator {
	return NewGenerator(rand.NewSource(seed), zap.NewNop())
}

func TestGenerate_NeverEmpty(t *testing.T) {
	g := newTestGenerator(1)

	for _, cat := range category.All {
		for hour := 0; hour < 24; hour += 6 {
			c := g.Generate(cat, UserContext{LocalHour: hour})
			if c.Title == "" || c.Body == "" {
				t.Errorf("%s at hour %d: empty content %+v", cat, hour, c)
			}
		}
	}
}

func TestGenerate_OverrideWinsOutright(t *testing.T) {
	g := newTestGenerator(1)

	prompt := "Write down three things you are grateful for."
	c := g.Generate(category.DailyChallenge, UserContext{
		Override:  prompt,
		Streak:    10, // would otherwise trigger streak phrasing
		LocalHour: 8,  // would otherwise trigger morning phrasing
	})

	if c.Body != prompt {
		t.Errorf("override should win outright, got body %q", c.Body)
	}
}

func TestGenerate_StreakPhrasing(t *testing.T) {
	g := newTestGenerator(1)

	c := g.Generate(category.StreakProtection, UserContext{Streak: 10, LocalHour: 14})
	if !strings.Contains(c.Title, "10-day streak") {
		t.Errorf("expected streak count in title, got %q", c.Title)
	}

	c = g.Generate(category.DailyChallenge, UserContext{Streak: 10, LocalHour: 14})
	if !strings.Contains(c.Body, "Day 11") {
		t.Errorf("expected next streak day in body, got %q", c.Body)
	}
}

func TestGenerate_StreakIgnoredWhereMeaningless(t *testing.T) {
	g := newTestGenerator(1)

	c := g.Generate(category.HabitNudge, UserContext{Streak: 10, LocalHour: 14})
	if strings.Contains(c.Body, "streak") || strings.Contains(c.Title, "streak") {
		t.Errorf("habit-nudge should not use streak phrasing: %+v", c)
	}
}

func TestGenerate_TimeOfDayPhrasing(t *testing.T) {
	g := newTestGenerator(1)

	morning := g.Generate(category.HabitNudge, UserContext{LocalHour: 8})
	if !strings.Contains(morning.Body, "morning") {
		t.Errorf("expected morning phrasing at hour 8, got %q", morning.Body)
	}

	evening := g.Generate(category.HabitNudge, UserContext{LocalHour: 20})
	if !strings.HasPrefix(evening.Body, "Before the day ends") {
		t.Errorf("expected evening phrasing at hour 20, got %q", evening.Body)
	}

	afternoon := g.Generate(category.HabitNudge, UserContext{LocalHour: 14})
	if strings.Contains(afternoon.Body, "morning") || strings.HasPrefix(afternoon.Body, "Before the day ends") {
		t.Errorf("expected plain variant at hour 14, got %q", afternoon.Body)
	}
}

func TestGenerate_CourseContext(t *testing.T) {
	g := newTestGenerator(1)

	c := g.Generate(category.CourseReminder, UserContext{
		CourseName:    "Deep Focus",
		CoursePercent: 60,
		LocalHour:     14,
	})
	if !strings.Contains(c.Body, "Deep Focus") || !strings.Contains(c.Body, "60%") {
		t.Errorf("expected course name and progress in body, got %q", c.Body)
	}
}

func TestSelectVariant_WeightedDistribution(t *testing.T) {
	// Two variants weighted 30/70 should converge to roughly that split.
	g := newTestGenerator(42)

	vs := Variants(category.StreakProtection) // weights 70/30
	counts := map[string]int{}
	const trials = 10000

	for i := 0; i < trials; i++ {
		v := g.selectVariant(category.StreakProtection)
		counts[v.Title]++
	}

	heavy := float64(counts[vs[0].Title]) / trials
	if heavy < 0.65 || heavy > 0.75 {
		t.Errorf("expected ~0.70 frequency for the 70-weight variant, got %.3f", heavy)
	}
}

func TestSelectVariant_DegenerateWeights(t *testing.T) {
	g := newTestGenerator(1)

	// The fallback set produced for an unknown category has weight 1; force
	// degeneracy through a synthetic table instead.
	saved := variants[category.ReEngagement]
	variants[category.ReEngagement] = []Variant{
		{Title: "first", Body: "a", Weight: 0},
		{Title: "second", Body: "b", Weight: 0},
	}
	defer func() { variants[category.ReEngagement] = saved }()

	for i := 0; i < 10; i++ {
		v := g.selectVariant(category.ReEngagement)
		if v.Title != "first" {
			t.Fatalf("degenerate weights must fall back to the first variant, got %q", v.Title)
		}
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	a := newTestGenerator(7)
	b := newTestGenerator(7)

	for i := 0; i < 50; i++ {
		va := a.selectVariant(category.DailyChallenge)
		vb := b.selectVariant(category.DailyChallenge)
		if va.Title != vb.Title {
			t.Fatalf("same seed must draw identically, diverged at %d", i)
		}
	}
}
