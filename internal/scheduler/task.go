package scheduler

import (
	"time"

	"github.com/lumenhabits/pulse/internal/category"
	"github.com/lumenhabits/pulse/internal/content"
	"github.com/lumenhabits/pulse/internal/schedule"
)

// State is the lifecycle position of one category's schedule entry.
type State int

const (
	// Idle means no timer is pending for the category.
	Idle State = iota
	// Armed means a timer is pending for the next regular occurrence.
	Armed
	// Firing means the handler is currently running the delivery pipeline.
	Firing
	// RetryWait means the last attempt failed and a backoff timer is pending.
	RetryWait
	// GivenUp means the retry budget is exhausted; the category stays down
	// until the next initialization re-arms it.
	GivenUp
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Firing:
		return "firing"
	case RetryWait:
		return "retry-wait"
	case GivenUp:
		return "given-up"
	default:
		return "unknown"
	}
}

// task is one category's live schedule entry. All fields are guarded by the
// scheduler mutex; the timer callback re-checks gen before acting so a
// canceled or replaced timer can never fire a stale task.
type task struct {
	category category.Category
	state    State
	fireAt   time.Time
	spec     schedule.TimeSpec
	uctx     content.UserContext
	retries  int
	gen      uint64
	stop     func() bool
	degraded bool // zone fell back to host-local time
}

// TaskView is the read-only snapshot of one task served by the status
// endpoint.
type TaskView struct {
	Category category.Category `json:"category"`
	State    string            `json:"state"`
	NextFire *time.Time        `json:"next_fire,omitempty"`
	Retries  int               `json:"retries,omitempty"`
	Degraded bool              `json:"degraded,omitempty"`
}

func (t *task) view() TaskView {
	v := TaskView{
		Category: t.category,
		State:    t.state.String(),
		Retries:  t.retries,
		Degraded: t.degraded,
	}
	if t.state == Armed || t.state == RetryWait {
		at := t.fireAt
		v.NextFire = &at
	}
	return v
}
