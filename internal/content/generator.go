// Package content produces the final title/body text for a firing: a
// weighted-random draw over the category's variant set, then a layered
// personalization pass driven by the user's current context.
package content

import (
	"fmt"
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"github.com/lumenhabits/pulse/internal/category"
)

// Content is a concrete, never-empty title/body pair.
type Content struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// UserContext is the ephemeral per-firing input assembled from the activity
// snapshot. Never persisted.
type UserContext struct {
	Override      string // explicit caller-supplied text, wins outright
	Streak        int
	CourseName    string
	CoursePercent int
	LocalHour     int
	IsNewUser     bool
}

// Generator selects and personalizes notification content. The RNG source
// is injectable so tests can force deterministic draws.
type Generator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	logger *zap.Logger
}

// NewGenerator creates a generator seeded from the given source.
func NewGenerator(src rand.Source, logger *zap.Logger) *Generator {
	return &Generator{
		rng:    rand.New(src),
		logger: logger,
	}
}

// Generate draws a variant for the category and applies the personalization
// pipeline. The result always has a non-empty title and body.
func (g *Generator) Generate(cat category.Category, uctx UserContext) Content {
	v := g.selectVariant(cat)
	return personalize(cat, v, uctx)
}

// selectVariant performs a roulette-wheel draw proportional to weights.
// Degenerate weights (all zero or negative) fall back to the first variant.
func (g *Generator) selectVariant(cat category.Category) Variant {
	vs := Variants(cat)

	total := 0
	for _, v := range vs {
		if v.Weight > 0 {
			total += v.Weight
		}
	}
	if total <= 0 {
		return vs[0]
	}

	g.mu.Lock()
	r := g.rng.Intn(total)
	g.mu.Unlock()

	for _, v := range vs {
		if v.Weight <= 0 {
			continue
		}
		if r < v.Weight {
			return v
		}
		r -= v.Weight
	}
	return vs[0]
}

// streakMeaningful reports whether streak phrasing applies to a category.
func streakMeaningful(cat category.Category) bool {
	return cat == category.DailyChallenge || cat == category.StreakProtection
}

// personalize applies override rules in fixed priority order: explicit
// override, then streak phrasing, then time-of-day phrasing, then the drawn
// variant unchanged.
func personalize(cat category.Category, v Variant, uctx UserContext) Content {
	if uctx.Override != "" {
		return Content{Title: v.Title, Body: uctx.Override}
	}

	if streakMeaningful(cat) && uctx.Streak > 0 {
		switch cat {
		case category.StreakProtection:
			return Content{
				Title: fmt.Sprintf("Protect your %d-day streak", uctx.Streak),
				Body:  "Complete today's challenge to keep your streak going.",
			}
		default:
			return Content{
				Title: v.Title,
				Body:  fmt.Sprintf("Day %d of your streak — today's challenge keeps it alive.", uctx.Streak+1),
			}
		}
	}

	if cat == category.CourseReminder && uctx.CourseName != "" {
		return Content{
			Title: v.Title,
			Body:  fmt.Sprintf("You're %d%% through %q. The next lesson takes just a few minutes.", uctx.CoursePercent, uctx.CourseName),
		}
	}

	if uctx.LocalHour < 12 {
		return Content{Title: v.Title, Body: "Start your morning with a quick win. " + v.Body}
	}
	if uctx.LocalHour >= 18 {
		return Content{Title: v.Title, Body: "Before the day ends: " + v.Body}
	}

	return Content{Title: v.Title, Body: v.Body}
}
