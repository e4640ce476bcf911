package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestBridgeChannel_Deliver(t *testing.T) {
	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/notify" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %s", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewBridgeChannel(BridgeConfig{BaseURL: srv.URL}, zap.NewNop())
	n := testNotification()

	if err := ch.Deliver(context.Background(), n); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}
	if got.Title != n.Title || got.URL != n.URL {
		t.Errorf("bridge received %+v, want %+v", got, n)
	}
}

func TestBridgeChannel_Non2xxIsDeliveryFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch := NewBridgeChannel(BridgeConfig{BaseURL: srv.URL}, zap.NewNop())

	err := ch.Deliver(context.Background(), testNotification())
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
}

func TestBridgeChannel_ForbiddenIsPermissionDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	ch := NewBridgeChannel(BridgeConfig{BaseURL: srv.URL}, zap.NewNop())

	err := ch.Deliver(context.Background(), testNotification())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestBridgeChannel_NotConfigured(t *testing.T) {
	ch := NewBridgeChannel(BridgeConfig{}, zap.NewNop())

	if err := ch.Ready(context.Background()); !errors.Is(err, ErrChannelUnavailable) {
		t.Fatalf("expected ErrChannelUnavailable, got %v", err)
	}
}

func TestBridgeChannel_Permission(t *testing.T) {
	granted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]bool{"granted": granted})
	}))
	defer srv.Close()

	ch := NewBridgeChannel(BridgeConfig{BaseURL: srv.URL}, zap.NewNop())

	ok, err := ch.Permission(context.Background())
	if err != nil {
		t.Fatalf("permission failed: %v", err)
	}
	if ok {
		t.Error("expected denied")
	}

	granted = true
	ok, err = ch.Permission(context.Background())
	if err != nil {
		t.Fatalf("permission failed: %v", err)
	}
	if !ok {
		t.Error("expected granted")
	}
}
