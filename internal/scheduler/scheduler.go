// Package scheduler owns the per-category timers and the firing pipeline:
// lease check, policy decision, content generation, audit, delivery, retry.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumenhabits/pulse/internal/category"
	"github.com/lumenhabits/pulse/internal/content"
	"github.com/lumenhabits/pulse/internal/db"
	"github.com/lumenhabits/pulse/internal/delivery"
	"github.com/lumenhabits/pulse/internal/lease"
	"github.com/lumenhabits/pulse/internal/metrics"
	"github.com/lumenhabits/pulse/internal/policy"
	"github.com/lumenhabits/pulse/internal/schedule"
	"github.com/lumenhabits/pulse/internal/store"
)

const (
	// urgentDelay is how soon a streak-protection arm fires.
	urgentDelay = 2 * time.Minute
	// baseRetryDelay seeds the 5, 15, 45 minute backoff ladder.
	baseRetryDelay = 5 * time.Minute
	retryFactor    = 3
	maxRetries     = 3
	firingTimeout  = 30 * time.Second
)

// Deliverer is the delivery surface the scheduler needs. Satisfied by
// delivery.Service; faked in tests.
type Deliverer interface {
	EnsurePermission(ctx context.Context) store.PermissionState
	ResetPermission(ctx context.Context)
	Show(ctx context.Context, n *delivery.Notification) (string, bool)
}

// AuditRepo persists firing records. Satisfied by db.Repository; faked in
// tests. A nil AuditRepo disables auditing but never blocks delivery.
type AuditRepo interface {
	InsertFiring(ctx context.Context, rec *db.FiringRecord) error
	MarkOutcome(ctx context.Context, id uuid.UUID, channel string, success bool) error
	StatsByCategory(ctx context.Context, since time.Time) ([]db.CategoryStats, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// timerFunc schedules f to run after d and returns a cancel func. Production
// wraps time.AfterFunc; tests substitute a manual trigger.
type timerFunc func(d time.Duration, f func()) func() bool

func afterFunc(d time.Duration, f func()) func() bool {
	t := time.AfterFunc(d, f)
	return t.Stop
}

// Deps collects the scheduler's collaborators.
type Deps struct {
	Resolver  *schedule.Resolver
	Arbiter   *lease.Arbiter
	History   *store.History
	State     *store.State
	Generator *content.Generator
	Delivery  Deliverer
	Audit     AuditRepo
	Clock     schedule.Clock
	Quiet     policy.Window
	Logger    *zap.Logger
}

// Scheduler keeps at most one live task per category and runs the firing
// pipeline when a timer elapses.
type Scheduler struct {
	resolver  *schedule.Resolver
	arbiter   *lease.Arbiter
	history   *store.History
	state     *store.State
	generator *content.Generator
	delivery  Deliverer
	audit     AuditRepo
	clock     schedule.Clock
	quiet     policy.Window
	logger    *zap.Logger
	newTimer  timerFunc

	mu    sync.Mutex
	tasks map[category.Category]*task
	gen   uint64
}

// New creates a scheduler. Clock defaults to the system clock and Quiet to
// the standard 22:00-09:00 window when zero.
func New(d Deps) *Scheduler {
	if d.Clock == nil {
		d.Clock = schedule.SystemClock{}
	}
	if d.Quiet == (policy.Window{}) {
		d.Quiet = policy.DefaultWindow
	}
	return &Scheduler{
		resolver:  d.Resolver,
		arbiter:   d.Arbiter,
		history:   d.History,
		state:     d.State,
		generator: d.Generator,
		delivery:  d.Delivery,
		audit:     d.Audit,
		clock:     d.Clock,
		quiet:     d.Quiet,
		logger:    d.Logger,
		newTimer:  afterFunc,
		tasks:     make(map[category.Category]*task),
	}
}

// withTimer swaps the timer factory. Test hook.
func (s *Scheduler) withTimer(tf timerFunc) *Scheduler {
	s.newTimer = tf
	return s
}

// plan is one category arm computed from settings and activity.
type plan struct {
	cat  category.Category
	spec schedule.TimeSpec
	uctx content.UserContext
}

// buildPlans derives the category arms for a user. Categories are skipped
// when their preference flag is off or their precondition is already
// satisfied. The master browser-notifications gate is checked by the caller.
func buildPlans(settings category.NotificationSettings, activity category.UserActivitySnapshot, hour, minute int, zone string) []plan {
	base := content.UserContext{
		Streak:    activity.CurrentStreak,
		IsNewUser: activity.IsNewUser,
	}
	var plans []plan
	add := func(cat category.Category, spec schedule.TimeSpec, uctx content.UserContext) {
		spec.Zone = zone
		plans = append(plans, plan{cat: cat, spec: spec, uctx: uctx})
	}

	if settings.EnableDailyChallengeNotifications && !activity.HasCompletedTodaysChallenge {
		add(category.DailyChallenge, schedule.TimeSpec{
			Hour: hour, Minute: minute, Recurrence: schedule.Daily,
		}, base)
	}

	if settings.EnableJournalReminders {
		add(category.HabitNudge, schedule.TimeSpec{
			Hour: 20, Recurrence: schedule.Daily,
		}, base)
	}

	if settings.EnableWeeklyReflectionReminders && !activity.HasSubmittedWeeklyReflection {
		add(category.WeeklyReflection, schedule.TimeSpec{
			Hour: 18, Recurrence: schedule.Weekly, Weekday: time.Sunday,
		}, base)
		add(category.WeeklyReflectionNudge, schedule.TimeSpec{
			Hour: 19, Recurrence: schedule.Weekly, Weekday: time.Tuesday,
		}, base)
	}

	if activity.DaysSinceLastScenario >= 3 {
		add(category.ScenarioReminder, schedule.TimeSpec{
			Hour: 12, Recurrence: schedule.Daily,
		}, base)
	}

	if len(activity.StalledCourses) > 0 {
		course := activity.StalledCourses[0]
		uctx := base
		uctx.CourseName = course.Title
		uctx.CoursePercent = course.ProgressPercentage
		add(category.CourseReminder, schedule.TimeSpec{
			Hour: 17, Recurrence: schedule.Daily,
		}, uctx)
	}

	if activity.DaysSinceLastChallenge >= 7 && !activity.IsNewUser {
		add(category.ReEngagement, schedule.TimeSpec{
			Hour: 11, Recurrence: schedule.Daily,
		}, base)
	}

	if activity.StreakAtRisk && activity.CurrentStreak > 0 && !activity.HasCompletedTodaysChallenge {
		add(category.StreakProtection, schedule.TimeSpec{
			Recurrence: schedule.FixedDelay, Delay: urgentDelay,
		}, base)
	}

	return plans
}

// InitializeForUser cancels every live timer and recomputes the schedule
// from the user's preferences and activity snapshot. With the master
// browser-notifications gate off nothing is armed.
func (s *Scheduler) InitializeForUser(ctx context.Context, settings category.NotificationSettings, activity category.UserActivitySnapshot) error {
	s.CancelAll()

	// A cached denial is only terminal until settings change: the user may
	// have granted permission on the host since, so the next firing must
	// ask again instead of trusting the stale cache.
	s.delivery.ResetPermission(ctx)

	if !settings.EnableBrowserNotifications {
		s.logger.Info("notifications disabled by user, nothing armed")
		return nil
	}

	zone := settings.Timezone
	if zone == "" {
		zone = "UTC"
	}
	hour, minute, err := schedule.ParseClock(settings.NotificationTime)
	if err != nil {
		s.logger.Warn("invalid notification time, using 09:00",
			zap.String("value", settings.NotificationTime),
			zap.Error(err),
		)
		hour, minute = 9, 0
	}

	plans := buildPlans(settings, activity, hour, minute, zone)
	for _, p := range plans {
		s.arm(p.cat, p.spec, p.uctx)
	}

	s.logger.Info("schedule initialized",
		zap.Int("armed", len(plans)),
		zap.String("zone", zone),
	)
	return nil
}

// ScheduleUrgentStreakProtection arms a one-shot streak-protection firing
// two minutes out, independent of initialization. Quiet hours do not apply;
// the 72-hour ceiling still does, at fire time. A non-empty override
// replaces the variant body verbatim.
func (s *Scheduler) ScheduleUrgentStreakProtection(ctx context.Context, streak int, zone, override string) {
	if zone == "" {
		zone = "UTC"
	}
	s.arm(category.StreakProtection, schedule.TimeSpec{
		Zone: zone, Recurrence: schedule.FixedDelay, Delay: urgentDelay,
	}, content.UserContext{Streak: streak, Override: override})
	s.logger.Info("urgent streak protection armed",
		zap.Int("streak", streak),
		zap.Duration("delay", urgentDelay),
	)
}

// Cancel stops and removes the category's task. Idempotent.
func (s *Scheduler) Cancel(cat category.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(cat)
	s.updateArmedGauge()
}

// CancelAll stops and removes every task. Idempotent.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for cat := range s.tasks {
		s.cancelLocked(cat)
	}
	s.updateArmedGauge()
}

func (s *Scheduler) cancelLocked(cat category.Category) {
	t, ok := s.tasks[cat]
	if !ok {
		return
	}
	if t.stop != nil {
		t.stop()
	}
	delete(s.tasks, cat)
}

// Status returns a snapshot of every live task in stable category order.
func (s *Scheduler) Status() []TaskView {
	s.mu.Lock()
	defer s.mu.Unlock()
	views := make([]TaskView, 0, len(s.tasks))
	for _, t := range s.tasks {
		views = append(views, t.view())
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].Category < views[j].Category
	})
	return views
}

// StatsReport is the aggregate served by the stats endpoint.
type StatsReport struct {
	Permission string             `json:"permission"`
	Tasks      []TaskView         `json:"tasks"`
	Categories []db.CategoryStats `json:"categories"`
}

// Stats combines the live task snapshot, the cached permission state, and
// 30 days of audited firing counts.
func (s *Scheduler) Stats(ctx context.Context) (StatsReport, error) {
	report := StatsReport{Tasks: s.Status()}

	perm, err := s.state.Permission(ctx)
	if err != nil {
		return report, err
	}
	report.Permission = string(perm)

	if s.audit != nil {
		stats, err := s.audit.StatsByCategory(ctx, s.clock.Now().Add(-store.Retention))
		if err != nil {
			return report, err
		}
		report.Categories = stats
	}
	return report, nil
}

// arm replaces any live task for the category with a fresh one targeting
// the spec's next occurrence.
func (s *Scheduler) arm(cat category.Category, spec schedule.TimeSpec, uctx content.UserContext) {
	fireAt, degraded := s.resolver.NextOccurrence(spec, s.clock.Now())
	s.armAt(cat, fireAt, degraded, spec, uctx)
}

// armAt arms a timer for an explicit instant while keeping spec as the
// task's recurrence, so a deferred firing resumes the regular cadence.
func (s *Scheduler) armAt(cat category.Category, fireAt time.Time, degraded bool, spec schedule.TimeSpec, uctx content.UserContext) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(cat)

	s.gen++
	t := &task{
		category: cat,
		state:    Armed,
		fireAt:   fireAt,
		spec:     spec,
		uctx:     uctx,
		gen:      s.gen,
		degraded: degraded,
	}
	gen := t.gen
	t.stop = s.newTimer(fireAt.Sub(now), func() { s.fire(cat, gen) })
	s.tasks[cat] = t
	s.updateArmedGauge()

	s.logger.Debug("category armed",
		zap.String("category", cat.String()),
		zap.Time("fire_at", fireAt),
		zap.Bool("degraded", degraded),
	)
}

// armRetry schedules the next retry attempt without resetting uctx or spec.
func (s *Scheduler) armRetry(cat category.Category, spec schedule.TimeSpec, uctx content.UserContext, retries int, delay time.Duration) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(cat)

	s.gen++
	t := &task{
		category: cat,
		state:    RetryWait,
		fireAt:   now.Add(delay),
		spec:     spec,
		uctx:     uctx,
		retries:  retries,
		gen:      s.gen,
	}
	gen := t.gen
	t.stop = s.newTimer(delay, func() { s.fire(cat, gen) })
	s.tasks[cat] = t
	s.updateArmedGauge()
}

// markGivenUp parks the category until the next initialization.
func (s *Scheduler) markGivenUp(cat category.Category, gen uint64, retries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[cat]; ok && t.gen == gen {
		if t.stop != nil {
			t.stop()
		}
		t.state = GivenUp
		t.retries = retries
		t.stop = nil
	}
	s.updateArmedGauge()
}

// rearmNext re-arms a recurring task for its next occurrence, or removes a
// one-shot task.
func (s *Scheduler) rearmNext(cat category.Category, spec schedule.TimeSpec, uctx content.UserContext) {
	if spec.Recurrence == schedule.FixedDelay {
		s.Cancel(cat)
		return
	}
	s.arm(cat, spec, uctx)
}

// stillCurrent reports whether the category's live task is the one a firing
// started from. False means it was canceled or replaced mid-flight and the
// firing must not re-arm it.
func (s *Scheduler) stillCurrent(cat category.Category, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[cat]
	return ok && t.gen == gen
}

// updateArmedGauge must be called with the mutex held.
func (s *Scheduler) updateArmedGauge() {
	armed := 0
	for _, t := range s.tasks {
		if t.state == Armed || t.state == RetryWait {
			armed++
		}
	}
	metrics.SetArmedCategories(armed)
}

// fire runs the delivery pipeline for one elapsed timer. gen guards against
// timers that were canceled or replaced after being scheduled.
func (s *Scheduler) fire(cat category.Category, gen uint64) {
	s.mu.Lock()
	t, ok := s.tasks[cat]
	if !ok || t.gen != gen {
		s.mu.Unlock()
		return
	}
	wasRetry := t.state == RetryWait
	t.state = Firing
	spec := t.spec
	uctx := t.uctx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), firingTimeout)
	defer cancel()

	now := s.clock.Now()
	log := s.logger.With(zap.String("category", cat.String()))

	// Only the handling instance proceeds; the other re-arms and stays
	// ready to take over.
	if !s.arbiter.ShouldHandle(ctx) {
		log.Debug("not the handling instance, skipping")
		if s.stillCurrent(cat, gen) {
			s.rearmNext(cat, spec, uctx)
		}
		return
	}

	localHour := s.resolver.LocalHour(spec.Zone, now)

	// A retry continues a firing the policy already approved and the rate
	// window already counted; re-checking would let the ceiling swallow
	// the backoff ladder.
	res := policy.Result{Decision: policy.Allow}
	if !wasRetry {
		window, err := s.history.Window(ctx, cat, now.Add(-cat.CeilingFor().Window))
		if err != nil {
			log.Warn("firing history unavailable, proceeding without it", zap.Error(err))
		}
		res = policy.Evaluate(cat, window, localHour, s.quiet, now)
	}

	switch res.Decision {
	case policy.Drop:
		log.Info("firing dropped", zap.String("reason", res.Reason))
		metrics.RecordRateLimitDrop(cat.String())
		metrics.RecordFiring(cat.String(), "dropped")
		if s.stillCurrent(cat, gen) {
			s.rearmNext(cat, spec, uctx)
		}
		return
	case policy.Defer:
		deferred := schedule.TimeSpec{
			Hour:       s.quiet.End,
			Zone:       spec.Zone,
			Recurrence: schedule.Daily,
		}
		fireAt, degraded := s.resolver.NextOccurrence(deferred, now)
		log.Info("firing deferred to quiet hours end",
			zap.String("reason", res.Reason),
			zap.Int("local_hour", localHour),
			zap.Time("deferred_to", fireAt),
		)
		metrics.RecordFiring(cat.String(), "deferred")
		// spec stays as-is so the task resumes its regular cadence, or
		// is removed if it was a one-shot, once the deferred firing runs.
		if s.stillCurrent(cat, gen) {
			s.armAt(cat, fireAt, degraded, spec, uctx)
		}
		return
	}

	if perm := s.delivery.EnsurePermission(ctx); perm == store.PermissionDenied {
		log.Info("notification permission denied, firing abandoned")
		metrics.RecordFiring(cat.String(), "permission_denied")
		s.Cancel(cat)
		return
	}

	uctx.LocalHour = localHour
	generated := s.generator.Generate(cat, uctx)

	n := &delivery.Notification{
		ID:       uuid.New(),
		Category: cat,
		Title:    generated.Title,
		Body:     generated.Body,
		URL:      cat.TargetURL(),
		FiredAt:  now,
	}

	// Record the firing before delivery so the rate window counts it even
	// if the process dies mid-flight. Retries are the same firing and are
	// not counted again.
	if !wasRetry {
		if err := s.history.Append(ctx, cat, now); err != nil {
			log.Warn("firing history append failed", zap.Error(err))
		}
	}
	if s.audit != nil {
		rec := &db.FiringRecord{
			ID:       n.ID,
			Category: cat.String(),
			Title:    n.Title,
			Body:     n.Body,
			FiredAt:  now,
		}
		if err := s.audit.InsertFiring(ctx, rec); err != nil {
			log.Warn("audit insert failed", zap.Error(err))
		}
	}

	channel, delivered := s.delivery.Show(ctx, n)
	if delivered {
		s.onDelivered(ctx, log, cat, gen, spec, uctx, n.ID, channel)
		return
	}
	s.onFailed(ctx, log, cat, gen, spec, uctx, n.ID)
}

func (s *Scheduler) onDelivered(ctx context.Context, log *zap.Logger, cat category.Category, gen uint64, spec schedule.TimeSpec, uctx content.UserContext, id uuid.UUID, channel string) {
	log.Info("notification delivered",
		zap.String("notification_id", id.String()),
		zap.String("channel", channel),
	)
	metrics.RecordFiring(cat.String(), "delivered")

	if s.audit != nil {
		if err := s.audit.MarkOutcome(ctx, id, channel, true); err != nil {
			log.Warn("audit outcome update failed", zap.Error(err))
		}
	}
	if err := s.state.ClearRetry(ctx, cat); err != nil {
		log.Warn("retry counter clear failed", zap.Error(err))
	}
	if s.stillCurrent(cat, gen) {
		s.rearmNext(cat, spec, uctx)
	}
}

func (s *Scheduler) onFailed(ctx context.Context, log *zap.Logger, cat category.Category, gen uint64, spec schedule.TimeSpec, uctx content.UserContext, id uuid.UUID) {
	if s.audit != nil {
		if err := s.audit.MarkOutcome(ctx, id, "", false); err != nil {
			log.Warn("audit outcome update failed", zap.Error(err))
		}
	}

	retries, err := s.state.IncrRetry(ctx, cat)
	if err != nil {
		log.Warn("retry counter unavailable, giving up", zap.Error(err))
		metrics.RecordFiring(cat.String(), "given_up")
		s.markGivenUp(cat, gen, 0)
		return
	}

	if retries > maxRetries {
		log.Warn("retry budget exhausted, giving up",
			zap.Int("attempts", retries),
		)
		metrics.RecordFiring(cat.String(), "given_up")
		if cerr := s.state.ClearRetry(ctx, cat); cerr != nil {
			log.Warn("retry counter clear failed", zap.Error(cerr))
		}
		s.markGivenUp(cat, gen, maxRetries)
		return
	}

	delay := backoffDelay(retries)
	log.Info("delivery failed, retry scheduled",
		zap.Int("retry", retries),
		zap.Duration("delay", delay),
	)
	metrics.RecordRetry(cat.String())
	metrics.RecordFiring(cat.String(), "retrying")
	if s.stillCurrent(cat, gen) {
		s.armRetry(cat, spec, uctx, retries, delay)
	}
}

// backoffDelay returns 5, 15, 45 minutes for retries 1, 2, 3.
func backoffDelay(retry int) time.Duration {
	d := baseRetryDelay
	for i := 1; i < retry; i++ {
		d *= retryFactor
	}
	return d
}
