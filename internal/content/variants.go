package content

import "github.com/lumenhabits/pulse/internal/category"

// Variant is one candidate title/body pair for a category. Weights are
// proportional and need not sum to any fixed total.
type Variant struct {
	Title  string
	Body   string
	Weight int
}

// variants holds the default template set per category.
var variants = map[category.Category][]Variant{
	category.DailyChallenge: {
		{Title: "Today's challenge is ready", Body: "A fresh challenge is waiting for you. Two minutes is all it takes.", Weight: 50},
		{Title: "Your daily challenge awaits", Body: "Keep the momentum going — today's challenge is up.", Weight: 30},
		{Title: "Ready for today?", Body: "Tackle today's challenge before the day gets away from you.", Weight: 20},
	},
	category.HabitNudge: {
		{Title: "A moment for your journal", Body: "Capture one thought about today. Small entries add up.", Weight: 40},
		{Title: "Journal check-in", Body: "How did today go? A quick note keeps the habit alive.", Weight: 40},
		{Title: "One line is enough", Body: "Even a single sentence in your journal counts.", Weight: 20},
	},
	category.StreakProtection: {
		{Title: "Your streak is at risk", Body: "Complete today's challenge to keep your streak going.", Weight: 70},
		{Title: "Don't break the chain", Body: "A few minutes today protects everything you've built.", Weight: 30},
	},
	category.CourseReminder: {
		{Title: "Pick up where you left off", Body: "Your course is waiting — the next lesson takes just a few minutes.", Weight: 60},
		{Title: "Your course misses you", Body: "You were making real progress. Jump back in today.", Weight: 40},
	},
	category.WeeklyReflection: {
		{Title: "Time to reflect on your week", Body: "Look back at this week's progress and set up the next one.", Weight: 60},
		{Title: "Your weekly reflection is due", Body: "Ten minutes of reflection makes next week better.", Weight: 40},
	},
	category.WeeklyReflectionNudge: {
		{Title: "Still time to reflect", Body: "Your weekly reflection hasn't been submitted yet. It only takes a few minutes.", Weight: 100},
	},
	category.ScenarioReminder: {
		{Title: "Practice a scenario", Body: "It's been a few days since your last scenario. Keep your skills sharp.", Weight: 60},
		{Title: "Scenario practice time", Body: "A quick scenario keeps what you've learned fresh.", Weight: 40},
	},
	category.ReEngagement: {
		{Title: "We've missed you", Body: "Your progress is right where you left it. Come back for a quick win.", Weight: 50},
		{Title: "Ready for a fresh start?", Body: "One small challenge is all it takes to get going again.", Weight: 50},
	},
}

// Variants returns the variant set for a category. Every category has at
// least one variant.
func Variants(cat category.Category) []Variant {
	if vs, ok := variants[cat]; ok {
		return vs
	}
	return []Variant{{Title: "Pulse reminder", Body: "You have something waiting in the app.", Weight: 1}}
}
