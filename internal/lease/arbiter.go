// Package lease implements the advisory mutual-exclusion protocol that
// elects one running instance as the active notification handler. The lease
// is a plain record in the shared store, not a real lock: two instances can
// both observe "no valid lease" and both deliver. Duplicate delivery is an
// accepted degraded outcome; the protocol only has to make it rare.
package lease

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lumenhabits/pulse/internal/metrics"
	"github.com/lumenhabits/pulse/internal/store"
)

// InstanceKind is the kind of agent instance this process runs as.
type InstanceKind string

const (
	Installed InstanceKind = "installed"
	Browser   InstanceKind = "browser"
)

// Arbiter decides whether this instance handles a firing, based on the
// shared lease record and this instance's kind. The installed instance
// always claims; browser instances defer to any fresh lease.
type Arbiter struct {
	kind   InstanceKind
	lease  *store.Lease
	clock  func() time.Time
	logger *zap.Logger
}

// New creates an arbiter for the given instance kind.
func New(kind InstanceKind, lease *store.Lease, logger *zap.Logger) *Arbiter {
	return &Arbiter{
		kind:   kind,
		lease:  lease,
		clock:  time.Now,
		logger: logger,
	}
}

// WithClock overrides the time source, for tests.
func (a *Arbiter) WithClock(clock func() time.Time) *Arbiter {
	a.clock = clock
	return a
}

// Kind returns this instance's kind.
func (a *Arbiter) Kind() InstanceKind {
	return a.kind
}

// ShouldHandle reports whether this instance is the active handler right
// now. An installed instance claims the lease and always handles. A browser
// instance handles only when no fresh lease exists; finding a stale
// installed lease it clears it — the one write a browser instance may make —
// to prevent a crashed shell from locking delivery out forever.
func (a *Arbiter) ShouldHandle(ctx context.Context) bool {
	now := a.clock()

	if a.kind == Installed {
		if err := a.lease.Renew(ctx, store.OwnerInstalled, now); err != nil {
			// Still handle: the installed instance has priority whether or
			// not the claim write landed.
			a.logger.Warn("lease claim failed", zap.Error(err))
		}
		return true
	}

	rec, err := a.lease.Get(ctx)
	if err != nil {
		// Uncertain state: defer rather than risk duplicate delivery.
		a.logger.Warn("lease read failed, deferring", zap.Error(err))
		return false
	}

	if rec == nil {
		return true
	}

	if !rec.Stale(now) {
		a.logger.Debug("deferring to fresh lease",
			zap.String("owner", string(rec.Owner)),
			zap.Time("acquired_at", rec.AcquiredAt),
		)
		return false
	}

	// Stale installed lease with no installed instance behind it.
	if err := a.lease.Clear(ctx); err != nil {
		a.logger.Warn("failed to clear stale lease", zap.Error(err))
	} else {
		metrics.RecordLeaseTakeover()
		a.logger.Info("cleared stale handler lease",
			zap.String("owner", string(rec.Owner)),
			zap.Duration("age", now.Sub(rec.AcquiredAt)),
		)
	}
	return true
}

// MarkActive renews the lease timestamp on user-visible activity. Only the
// installed instance renews; browser instances never claim.
func (a *Arbiter) MarkActive(ctx context.Context) error {
	if a.kind != Installed {
		return nil
	}
	return a.lease.Renew(ctx, store.OwnerInstalled, a.clock())
}

// Release clears the lease when the installed instance backgrounds or
// exits. A no-op for browser instances.
func (a *Arbiter) Release(ctx context.Context) error {
	if a.kind != Installed {
		return nil
	}
	return a.lease.Clear(ctx)
}
