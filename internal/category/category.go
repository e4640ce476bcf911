// Package category defines the closed set of notification purposes the
// engine schedules, together with their rate ceilings, target routes, and
// the settings/activity types consumed from the rest of the application.
package category

import (
	"fmt"
	"time"
)

// Category is one of the fixed notification purposes.
type Category string

const (
	DailyChallenge       Category = "daily-challenge"
	HabitNudge           Category = "habit-nudge"
	StreakProtection     Category = "streak-protection"
	CourseReminder       Category = "course-reminder"
	WeeklyReflection     Category = "weekly-reflection"
	WeeklyReflectionNudge Category = "weekly-reflection-nudge"
	ScenarioReminder     Category = "scenario-reminder"
	ReEngagement         Category = "re-engagement"
)

// All lists every category in a stable order.
var All = []Category{
	DailyChallenge,
	HabitNudge,
	StreakProtection,
	CourseReminder,
	WeeklyReflection,
	WeeklyReflectionNudge,
	ScenarioReminder,
	ReEngagement,
}

// Parse validates a category string from API input.
func Parse(s string) (Category, error) {
	c := Category(s)
	for _, known := range All {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category: %q", s)
}

func (c Category) String() string {
	return string(c)
}

// Ceiling is a per-category firing cap: at most Limit firings within Window.
type Ceiling struct {
	Limit  int
	Window time.Duration
}

// ceilings holds the fixed per-category caps. Most categories use a 24-hour
// window; streak-protection uses a wider 72-hour one.
var ceilings = map[Category]Ceiling{
	DailyChallenge:       {Limit: 2, Window: 24 * time.Hour},
	HabitNudge:           {Limit: 3, Window: 24 * time.Hour},
	StreakProtection:     {Limit: 1, Window: 72 * time.Hour},
	ScenarioReminder:     {Limit: 2, Window: 24 * time.Hour},
	CourseReminder:       {Limit: 1, Window: 24 * time.Hour},
	WeeklyReflection:     {Limit: 1, Window: 24 * time.Hour},
	WeeklyReflectionNudge: {Limit: 1, Window: 24 * time.Hour},
	ReEngagement:         {Limit: 1, Window: 24 * time.Hour},
}

// CeilingFor returns the firing cap for a category.
func (c Category) CeilingFor() Ceiling {
	if cl, ok := ceilings[c]; ok {
		return cl
	}
	return Ceiling{Limit: 1, Window: 24 * time.Hour}
}

// routes maps each category to the in-app route the host opens on click.
var routes = map[Category]string{
	DailyChallenge:       "/challenge",
	HabitNudge:           "/journal",
	StreakProtection:     "/challenge",
	CourseReminder:       "/courses",
	WeeklyReflection:     "/reflection",
	WeeklyReflectionNudge: "/reflection",
	ScenarioReminder:     "/scenarios",
	ReEngagement:         "/home",
}

// TargetURL returns the in-app route for a category.
func (c Category) TargetURL() string {
	if r, ok := routes[c]; ok {
		return r
	}
	return "/home"
}

// Urgent reports whether the category bypasses quiet hours. Only
// streak-protection qualifies; it still obeys its own 72-hour ceiling.
func (c Category) Urgent() bool {
	return c == StreakProtection
}

// NotificationSettings is the persisted user preference set supplied by the
// external settings API at initialization time.
type NotificationSettings struct {
	EnableBrowserNotifications       bool   `json:"enable_browser_notifications"`
	EnableDailyChallengeNotifications bool  `json:"enable_daily_challenge_notifications"`
	EnableWeeklyReflectionReminders  bool   `json:"enable_weekly_reflection_reminders"`
	EnableJournalReminders           bool   `json:"enable_journal_reminders"`
	EnableCommunityNotifications     bool   `json:"enable_community_notifications"`
	NotificationTime                 string `json:"notification_time"` // "HH:MM"
	Timezone                         string `json:"timezone"`          // IANA zone
}

// StalledCourse describes a course the user stopped making progress on.
type StalledCourse struct {
	Title                 string `json:"title"`
	ProgressPercentage    int    `json:"progress_percentage"`
	DaysSinceLastProgress int    `json:"days_since_last_progress"`
}

// UserActivitySnapshot is the read-only activity summary supplied by the
// external activity API at schedule time. Never persisted by this engine.
type UserActivitySnapshot struct {
	HasCompletedTodaysChallenge   bool            `json:"has_completed_todays_challenge"`
	HasSubmittedWeeklyReflection  bool            `json:"has_submitted_weekly_reflection"`
	CurrentStreak                 int             `json:"current_streak"`
	StreakAtRisk                  bool            `json:"streak_at_risk"`
	DaysSinceLastChallenge        int             `json:"days_since_last_challenge"`
	DaysSinceLastScenario         int             `json:"days_since_last_scenario"`
	StalledCourses                []StalledCourse `json:"stalled_courses"`
	IsNewUser                     bool            `json:"is_new_user"`
}
