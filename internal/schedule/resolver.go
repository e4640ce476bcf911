// Package schedule converts wall-clock local time targets plus an IANA zone
// into concrete UTC instants, handling DST transitions by deriving the zone
// offset fresh for every instant instead of caching it.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Recurrence selects how a TimeSpec repeats.
type Recurrence int

const (
	// Daily targets the next occurrence of the wall-clock time, today if
	// not yet passed, else tomorrow.
	Daily Recurrence = iota
	// Weekly targets the next occurrence of Weekday at the wall-clock
	// time, today if it is that weekday and the time has not passed.
	Weekly
	// FixedDelay ignores the wall clock entirely and resolves to
	// now+Delay. Used only by the urgent category.
	FixedDelay
)

func (r Recurrence) String() string {
	switch r {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case FixedDelay:
		return "fixed-delay"
	default:
		return "unknown"
	}
}

// TimeSpec is a wall-clock target in a named zone.
type TimeSpec struct {
	Hour       int
	Minute     int
	Zone       string // IANA zone identifier
	Recurrence Recurrence
	Weekday    time.Weekday  // Weekly only
	Delay      time.Duration // FixedDelay only
}

// Resolver computes UTC fire instants from TimeSpecs.
type Resolver struct {
	clock  Clock
	logger *zap.Logger
}

// NewResolver creates a resolver using the given clock.
func NewResolver(clock Clock, logger *zap.Logger) *Resolver {
	return &Resolver{clock: clock, logger: logger}
}

// ParseClock parses an "HH:MM" string into hour and minute.
func ParseClock(s string) (int, int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// NextOccurrence resolves spec to the next UTC instant strictly after now.
// The boolean result is true when the zone could not be loaded and the
// host's local zone was substituted — a degraded answer, never an error.
func (r *Resolver) NextOccurrence(spec TimeSpec, now time.Time) (time.Time, bool) {
	if spec.Recurrence == FixedDelay {
		return now.Add(spec.Delay).UTC(), false
	}

	loc, degraded := r.loadZone(spec.Zone)
	now = now.UTC()

	// Offset derived for "now", then re-derived for the candidate itself
	// below, so a DST boundary between the two is handled.
	off := offsetFor(now, loc)
	fire := r.candidate(spec, now, loc, off)

	// A transition between now and the candidate shifts the wall clock;
	// re-derive against the candidate instant until stable. Two passes
	// suffice for real zones, the bound just guards pathological data.
	for i := 0; i < 3; i++ {
		off2 := offsetFor(fire, loc)
		if off2 == off {
			break
		}
		off = off2
		fire = r.candidate(spec, now, loc, off)
	}

	return fire, degraded
}

// LocalHour returns the current hour of day in the given zone, used for
// quiet-hours checks. Falls back to the host zone on a malformed zone id.
func (r *Resolver) LocalHour(zone string, now time.Time) int {
	loc, _ := r.loadZone(zone)
	off := offsetFor(now.UTC(), loc)
	return now.UTC().Add(off).Hour()
}

func (r *Resolver) loadZone(zone string) (*time.Location, bool) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		r.logger.Warn("failed to load timezone, using host-local zone",
			zap.String("zone", zone),
			zap.Error(err),
		)
		return time.Local, true
	}
	return loc, false
}

// candidate computes the next wall-clock occurrence using plain arithmetic
// on the derived offset: the local wall clock is modeled as UTC+offset and
// the result mapped back by subtracting the same offset.
func (r *Resolver) candidate(spec TimeSpec, now time.Time, loc *time.Location, off time.Duration) time.Time {
	localNow := now.Add(off)
	target := time.Date(localNow.Year(), localNow.Month(), localNow.Day(),
		spec.Hour, spec.Minute, 0, 0, time.UTC)

	switch spec.Recurrence {
	case Weekly:
		ahead := (int(spec.Weekday) - int(localNow.Weekday()) + 7) % 7
		target = target.AddDate(0, 0, ahead)
		if !target.After(localNow) {
			target = target.AddDate(0, 0, 7)
		}
	default:
		if !target.After(localNow) {
			target = target.AddDate(0, 0, 1)
		}
	}

	return target.Add(-off)
}

// offsetFor derives the zone's UTC offset at a given instant by formatting
// the same instant twice — once in the zone, once in UTC — with a numeric
// ±HH:MM layout and differencing the parsed tokens. Computed fresh per
// instant, so it tracks DST without any cached table.
func offsetFor(instant time.Time, loc *time.Location) time.Duration {
	inZone := instant.In(loc).Format("-07:00")
	inUTC := instant.In(time.UTC).Format("-07:00")
	return time.Duration(parseOffsetMinutes(inZone)-parseOffsetMinutes(inUTC)) * time.Minute
}

// parseOffsetMinutes converts a "±HH:MM" token to signed minutes. A token
// that does not parse is treated as zero offset.
func parseOffsetMinutes(tok string) int {
	if len(tok) != 6 {
		return 0
	}
	sign := 1
	if tok[0] == '-' {
		sign = -1
	}
	h, err1 := strconv.Atoi(tok[1:3])
	m, err2 := strconv.Atoi(tok[4:6])
	if err1 != nil || err2 != nil {
		return 0
	}
	return sign * (h*60 + m)
}
