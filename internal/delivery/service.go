package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumenhabits/pulse/internal/metrics"
	"github.com/lumenhabits/pulse/internal/store"
)

// HostMode mirrors the config host modes without importing config here.
type HostMode string

const (
	HostEmbedded   HostMode = "embedded"
	HostStandalone HostMode = "standalone"
)

// Service selects a channel, acquires permission, and delivers. It never
// returns an error from Show: a firing either lands on some channel or it
// reports false and the scheduler deals with retry.
type Service struct {
	hostMode HostMode
	channels []Channel // fallback order: background queue first, bridge second
	bridge   *BridgeChannel
	state    *store.State
	logger   *zap.Logger

	deniedOnce sync.Once
}

// NewService creates the delivery service. channels are tried in order;
// bridge may be nil when no direct endpoint exists (then only the queue
// path is usable).
func NewService(hostMode HostMode, channels []Channel, bridge *BridgeChannel, state *store.State, logger *zap.Logger) *Service {
	return &Service{
		hostMode: hostMode,
		channels: channels,
		bridge:   bridge,
		state:    state,
		logger:   logger,
	}
}

// EnsurePermission returns the cached permission state, acquiring it on
// first use. In the embedded wrapper the direct permission query is known
// to lie, so permission is probed by attempting a silent background
// delivery and reading success as granted. Standalone mode asks the bridge
// directly. Results are cached in the shared store.
func (s *Service) EnsurePermission(ctx context.Context) store.PermissionState {
	cached, err := s.state.Permission(ctx)
	if err != nil {
		s.logger.Warn("permission cache read failed", zap.Error(err))
	}
	if cached == store.PermissionGranted || cached == store.PermissionDenied {
		return cached
	}

	granted := s.acquirePermission(ctx)

	result := store.PermissionDenied
	if granted {
		result = store.PermissionGranted
	}
	if err := s.state.SetPermission(ctx, result); err != nil {
		s.logger.Warn("permission cache write failed", zap.Error(err))
	}

	if result == store.PermissionDenied {
		s.explainDenial()
	}
	return result
}

func (s *Service) acquirePermission(ctx context.Context) bool {
	if s.hostMode == HostEmbedded {
		// Probe: a silent notification through the background context.
		// Success means the host honors deliveries, which is the only
		// signal the wrapper reports truthfully.
		probe := &Notification{
			ID:      uuid.New(),
			Title:   "permission probe",
			Silent:  true,
			FiredAt: time.Now().UTC(),
		}
		for _, ch := range s.channels {
			if ch.Name() != "queue" {
				continue
			}
			if err := ch.Ready(ctx); err != nil {
				s.logger.Warn("permission probe channel not ready", zap.Error(err))
				return false
			}
			if err := ch.Deliver(ctx, probe); err != nil {
				s.logger.Info("permission probe rejected", zap.Error(err))
				return false
			}
			return true
		}
		return false
	}

	if s.bridge == nil {
		return false
	}
	granted, err := s.bridge.Permission(ctx)
	if err != nil {
		s.logger.Warn("permission query failed", zap.Error(err))
		return false
	}
	return granted
}

// explainDenial logs the one-time remediation message, host-specific.
func (s *Service) explainDenial() {
	s.deniedOnce.Do(func() {
		if s.hostMode == HostEmbedded {
			s.logger.Warn("notifications are blocked by the app shell; " +
				"re-enable them in the device's app settings and restart the shell")
			return
		}
		s.logger.Warn("notifications are blocked by the host; " +
			"grant permission in the host's site settings to receive reminders")
	})
}

// ResetPermission drops the cached permission so the next firing re-probes.
// Called when user settings change.
func (s *Service) ResetPermission(ctx context.Context) {
	if err := s.state.SetPermission(ctx, store.PermissionUnknown); err != nil {
		s.logger.Warn("permission cache reset failed", zap.Error(err))
	}
}

// Show attempts delivery across the channel chain in order and reports
// success plus the channel that landed it. Every attempt is logged with its
// channel and outcome; nothing propagates as an error.
func (s *Service) Show(ctx context.Context, n *Notification) (string, bool) {
	for _, ch := range s.channels {
		if err := ch.Ready(ctx); err != nil {
			s.logger.Info("channel unavailable, falling back",
				zap.String("channel", ch.Name()),
				zap.String("notification_id", n.ID.String()),
				zap.Error(err),
			)
			metrics.RecordDeliveryAttempt(ch.Name(), "unavailable")
			continue
		}

		err := ch.Deliver(ctx, n)
		if err == nil {
			s.logger.Info("delivery attempt succeeded",
				zap.String("channel", ch.Name()),
				zap.String("category", n.Category.String()),
				zap.String("notification_id", n.ID.String()),
			)
			metrics.RecordDeliveryAttempt(ch.Name(), "success")
			return ch.Name(), true
		}

		s.logger.Warn("delivery attempt failed",
			zap.String("channel", ch.Name()),
			zap.String("category", n.Category.String()),
			zap.String("notification_id", n.ID.String()),
			zap.Error(err),
		)
		metrics.RecordDeliveryAttempt(ch.Name(), "failure")

		if errors.Is(err, ErrPermissionDenied) {
			// No point trying further channels; cache and stop.
			if cerr := s.state.SetPermission(ctx, store.PermissionDenied); cerr != nil {
				s.logger.Warn("permission cache write failed", zap.Error(cerr))
			}
			s.explainDenial()
			return "", false
		}
	}
	return "", false
}
