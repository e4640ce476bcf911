package lease

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lumenhabits/pulse/internal/metrics"
	"github.com/lumenhabits/pulse/internal/store"
)

// leaseTakeoverCount reads the takeover counter from the metrics endpoint.
func leaseTakeoverCount(t *testing.T) float64 {
	t.Helper()
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if !strings.HasPrefix(line, "pulse_lease_takeovers_total") {
			continue
		}
		fields := strings.Fields(line)
		v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
		if err != nil {
			t.Fatalf("parse takeover counter: %v", err)
		}
		return v
	}
	return 0
}

func setupTestLease(t *testing.T) (*store.Lease, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := store.NewWithClient(rdb, zap.NewNop())

	return store.NewLease(client, zap.NewNop()), func() {
		rdb.Close()
		mr.Close()
	}
}

func TestInstalled_AlwaysHandles(t *testing.T) {
	leaseStore, cleanup := setupTestLease(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	installed := New(Installed, leaseStore, zap.NewNop()).WithClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if !installed.ShouldHandle(ctx) {
			t.Fatal("installed instance must always handle")
		}
	}

	// Handling claimed the lease.
	rec, err := leaseStore.Get(ctx)
	if err != nil {
		t.Fatalf("get lease: %v", err)
	}
	if rec == nil || rec.Owner != store.OwnerInstalled {
		t.Fatal("expected an installed-owned lease after handling")
	}
}

func TestBrowser_HandlesWhenNoLease(t *testing.T) {
	leaseStore, cleanup := setupTestLease(t)
	defer cleanup()

	browser := New(Browser, leaseStore, zap.NewNop())
	if !browser.ShouldHandle(context.Background()) {
		t.Fatal("browser should handle when no lease is held")
	}
}

func TestBrowser_DefersToFreshLease(t *testing.T) {
	leaseStore, cleanup := setupTestLease(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	installed := New(Installed, leaseStore, zap.NewNop()).WithClock(func() time.Time { return now })
	if err := installed.MarkActive(ctx); err != nil {
		t.Fatalf("mark active: %v", err)
	}

	browser := New(Browser, leaseStore, zap.NewNop()).WithClock(func() time.Time { return now.Add(time.Minute) })
	if browser.ShouldHandle(ctx) {
		t.Fatal("browser must defer immediately after installed MarkActive")
	}
}

func TestBrowser_TakesOverStaleLease(t *testing.T) {
	leaseStore, cleanup := setupTestLease(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	installed := New(Installed, leaseStore, zap.NewNop()).WithClock(func() time.Time { return now })
	if err := installed.MarkActive(ctx); err != nil {
		t.Fatalf("mark active: %v", err)
	}

	// Just under the horizon: still deferring.
	browser := New(Browser, leaseStore, zap.NewNop()).WithClock(func() time.Time { return now.Add(store.StaleAfter - time.Second) })
	if browser.ShouldHandle(ctx) {
		t.Fatal("browser must defer while the lease is fresh")
	}

	// Past the horizon with no renewal: browser takes over, clears the
	// stale record, and counts the takeover.
	takeovers := leaseTakeoverCount(t)
	browser = New(Browser, leaseStore, zap.NewNop()).WithClock(func() time.Time { return now.Add(store.StaleAfter) })
	if !browser.ShouldHandle(ctx) {
		t.Fatal("browser should handle once the lease is stale")
	}
	if got := leaseTakeoverCount(t); got != takeovers+1 {
		t.Errorf("expected takeover counter to advance from %v, got %v", takeovers, got)
	}

	rec, err := leaseStore.Get(ctx)
	if err != nil {
		t.Fatalf("get lease: %v", err)
	}
	if rec != nil {
		t.Fatal("stale lease should have been cleared by the browser instance")
	}
}

func TestBrowser_MarkActiveIsNoOp(t *testing.T) {
	leaseStore, cleanup := setupTestLease(t)
	defer cleanup()

	ctx := context.Background()
	browser := New(Browser, leaseStore, zap.NewNop())

	if err := browser.MarkActive(ctx); err != nil {
		t.Fatalf("mark active: %v", err)
	}

	rec, _ := leaseStore.Get(ctx)
	if rec != nil {
		t.Fatal("browser MarkActive must never claim the lease")
	}
}

func TestInstalled_ReleaseClearsLease(t *testing.T) {
	leaseStore, cleanup := setupTestLease(t)
	defer cleanup()

	ctx := context.Background()
	installed := New(Installed, leaseStore, zap.NewNop())

	if err := installed.MarkActive(ctx); err != nil {
		t.Fatalf("mark active: %v", err)
	}
	if err := installed.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	rec, _ := leaseStore.Get(ctx)
	if rec != nil {
		t.Fatal("expected lease cleared after release")
	}

	// Browser can now handle.
	browser := New(Browser, leaseStore, zap.NewNop())
	if !browser.ShouldHandle(ctx) {
		t.Fatal("browser should handle after installed released")
	}
}
