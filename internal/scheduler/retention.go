package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lumenhabits/pulse/internal/schedule"
	"github.com/lumenhabits/pulse/internal/store"
)

// Pruner trims firing history and audit rows past the retention horizon.
type Pruner struct {
	history *store.History
	audit   AuditRepo
	clock   schedule.Clock
	logger  *zap.Logger

	interval  time.Duration
	retention time.Duration
}

// NewPruner creates a pruner. audit may be nil when the agent runs without
// a database.
func NewPruner(history *store.History, audit AuditRepo, clock schedule.Clock, logger *zap.Logger) *Pruner {
	if clock == nil {
		clock = schedule.SystemClock{}
	}
	return &Pruner{
		history:   history,
		audit:     audit,
		clock:     clock,
		logger:    logger,
		interval:  24 * time.Hour,
		retention: store.Retention,
	}
}

// Start runs one sweep immediately and then one per interval until the
// context is canceled.
func (p *Pruner) Start(ctx context.Context) {
	p.sweep(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pruner stopping")
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Pruner) sweep(ctx context.Context) {
	cutoff := p.clock.Now().Add(-p.retention)

	if err := p.history.PruneBefore(ctx, cutoff); err != nil {
		p.logger.Error("history prune failed", zap.Error(err))
	}

	if p.audit != nil {
		removed, err := p.audit.PruneBefore(ctx, cutoff)
		if err != nil {
			p.logger.Error("audit prune failed", zap.Error(err))
			return
		}
		if removed > 0 {
			p.logger.Info("audit rows pruned",
				zap.Int64("removed", removed),
				zap.Time("cutoff", cutoff),
			)
		}
	}
}
