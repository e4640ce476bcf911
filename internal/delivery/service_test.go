package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lumenhabits/pulse/internal/category"
	"github.com/lumenhabits/pulse/internal/store"
)

// fakeChannel is a scriptable channel for service tests.
type fakeChannel struct {
	name       string
	readyErr   error
	deliverErr error
	delivered  []*Notification
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Ready(ctx context.Context) error { return f.readyErr }

func (f *fakeChannel) Deliver(ctx context.Context, n *Notification) error {
	if f.deliverErr != nil {
		return f.deliverErr
	}
	f.delivered = append(f.delivered, n)
	return nil
}

func setupTestState(t *testing.T) (*store.State, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := store.NewWithClient(rdb, zap.NewNop())
	return store.NewState(client, zap.NewNop()), func() {
		rdb.Close()
		mr.Close()
	}
}

func testNotification() *Notification {
	return &Notification{
		ID:       uuid.New(),
		Category: category.DailyChallenge,
		Title:    "Today's challenge is ready",
		Body:     "A fresh challenge is waiting for you.",
		URL:      "/challenge",
		FiredAt:  time.Now().UTC(),
	}
}

func TestShow_QueueFirst(t *testing.T) {
	state, cleanup := setupTestState(t)
	defer cleanup()

	queue := &fakeChannel{name: "queue"}
	bridge := &fakeChannel{name: "bridge"}
	svc := NewService(HostStandalone, []Channel{queue, bridge}, nil, state, zap.NewNop())

	ch, ok := svc.Show(context.Background(), testNotification())
	if !ok {
		t.Fatal("expected success")
	}
	if ch != "queue" {
		t.Errorf("expected queue channel, got %q", ch)
	}
	if len(queue.delivered) != 1 {
		t.Errorf("expected queue delivery, got %d", len(queue.delivered))
	}
	if len(bridge.delivered) != 0 {
		t.Errorf("bridge should not be attempted when queue succeeds, got %d", len(bridge.delivered))
	}
}

func TestShow_FallsBackOnUnavailable(t *testing.T) {
	state, cleanup := setupTestState(t)
	defer cleanup()

	queue := &fakeChannel{name: "queue", readyErr: fmt.Errorf("%w: no queue", ErrChannelUnavailable)}
	bridge := &fakeChannel{name: "bridge"}
	svc := NewService(HostStandalone, []Channel{queue, bridge}, nil, state, zap.NewNop())

	ch, ok := svc.Show(context.Background(), testNotification())
	if !ok {
		t.Fatal("expected bridge fallback to succeed")
	}
	if ch != "bridge" {
		t.Errorf("expected bridge channel, got %q", ch)
	}
	if len(bridge.delivered) != 1 {
		t.Errorf("expected bridge delivery, got %d", len(bridge.delivered))
	}
}

func TestShow_FallsBackOnDeliveryFailure(t *testing.T) {
	state, cleanup := setupTestState(t)
	defer cleanup()

	queue := &fakeChannel{name: "queue", deliverErr: fmt.Errorf("%w: send failed", ErrDeliveryFailed)}
	bridge := &fakeChannel{name: "bridge"}
	svc := NewService(HostEmbedded, []Channel{queue, bridge}, nil, state, zap.NewNop())

	if _, ok := svc.Show(context.Background(), testNotification()); !ok {
		t.Fatal("expected bridge fallback to succeed")
	}
	if len(bridge.delivered) != 1 {
		t.Errorf("expected bridge delivery, got %d", len(bridge.delivered))
	}
}

func TestShow_AllChannelsFail(t *testing.T) {
	state, cleanup := setupTestState(t)
	defer cleanup()

	queue := &fakeChannel{name: "queue", deliverErr: fmt.Errorf("%w: send failed", ErrDeliveryFailed)}
	bridge := &fakeChannel{name: "bridge", deliverErr: fmt.Errorf("%w: refused", ErrDeliveryFailed)}
	svc := NewService(HostStandalone, []Channel{queue, bridge}, nil, state, zap.NewNop())

	if _, ok := svc.Show(context.Background(), testNotification()); ok {
		t.Fatal("expected failure when every channel fails")
	}
}

func TestShow_PermissionDeniedStopsChain(t *testing.T) {
	state, cleanup := setupTestState(t)
	defer cleanup()

	first := &fakeChannel{name: "queue", deliverErr: fmt.Errorf("%w: blocked", ErrPermissionDenied)}
	second := &fakeChannel{name: "bridge"}
	svc := NewService(HostStandalone, []Channel{first, second}, nil, state, zap.NewNop())

	if _, ok := svc.Show(context.Background(), testNotification()); ok {
		t.Fatal("expected failure on permission denial")
	}
	if len(second.delivered) != 0 {
		t.Error("permission denial must not fall through to further channels")
	}

	p, _ := state.Permission(context.Background())
	if p != store.PermissionDenied {
		t.Errorf("expected denial cached, got %s", p)
	}
}

func TestEnsurePermission_UsesCache(t *testing.T) {
	state, cleanup := setupTestState(t)
	defer cleanup()

	if err := state.SetPermission(context.Background(), store.PermissionGranted); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	// No channels at all: only the cache can answer.
	svc := NewService(HostStandalone, nil, nil, state, zap.NewNop())
	if got := svc.EnsurePermission(context.Background()); got != store.PermissionGranted {
		t.Errorf("expected cached granted, got %s", got)
	}
}

func TestEnsurePermission_EmbeddedProbe(t *testing.T) {
	state, cleanup := setupTestState(t)
	defer cleanup()

	queue := &fakeChannel{name: "queue"}
	svc := NewService(HostEmbedded, []Channel{queue}, nil, state, zap.NewNop())

	if got := svc.EnsurePermission(context.Background()); got != store.PermissionGranted {
		t.Errorf("expected granted via probe, got %s", got)
	}
	if len(queue.delivered) != 1 || !queue.delivered[0].Silent {
		t.Error("embedded probe must deliver exactly one silent notification")
	}

	// Result is cached.
	p, _ := state.Permission(context.Background())
	if p != store.PermissionGranted {
		t.Errorf("expected cached granted, got %s", p)
	}
}

func TestEnsurePermission_EmbeddedProbeRejected(t *testing.T) {
	state, cleanup := setupTestState(t)
	defer cleanup()

	queue := &fakeChannel{name: "queue", deliverErr: fmt.Errorf("%w: rejected", ErrDeliveryFailed)}
	svc := NewService(HostEmbedded, []Channel{queue}, nil, state, zap.NewNop())

	if got := svc.EnsurePermission(context.Background()); got != store.PermissionDenied {
		t.Errorf("expected denied after rejected probe, got %s", got)
	}
}

func TestEnsurePermission_StandaloneBridge(t *testing.T) {
	state, cleanup := setupTestState(t)
	defer cleanup()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/permission" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]bool{"granted": true})
	}))
	defer srv.Close()

	bridge := NewBridgeChannel(BridgeConfig{BaseURL: srv.URL}, zap.NewNop())
	svc := NewService(HostStandalone, []Channel{bridge}, bridge, state, zap.NewNop())

	if got := svc.EnsurePermission(context.Background()); got != store.PermissionGranted {
		t.Errorf("expected granted via bridge, got %s", got)
	}
}

func TestResetPermission(t *testing.T) {
	state, cleanup := setupTestState(t)
	defer cleanup()

	if err := state.SetPermission(context.Background(), store.PermissionDenied); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	svc := NewService(HostStandalone, nil, nil, state, zap.NewNop())
	svc.ResetPermission(context.Background())

	p, _ := state.Permission(context.Background())
	if p != store.PermissionUnknown {
		t.Errorf("expected unknown after reset, got %s", p)
	}
}
