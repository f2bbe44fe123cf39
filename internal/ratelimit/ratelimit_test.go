package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegistry_UnconfiguredPassesThrough(t *testing.T) {
	r := NewRegistry()
	if err := r.Wait(context.Background(), "TRN"); err != nil {
		t.Fatalf("Wait on unconfigured environment returned error: %v", err)
	}
}

func TestRegistry_SetLimitRequiresConfiguredName(t *testing.T) {
	r := NewRegistry()
	if err := r.SetLimit("TRN", 5, 2); err == nil {
		t.Fatal("expected error adjusting an unconfigured environment")
	}
}

func TestRegistry_SnapshotReflectsConfigure(t *testing.T) {
	r := NewRegistry()
	r.Configure("TRN", 10, 5)

	snap := r.Snapshot()
	limits, ok := snap["TRN"]
	if !ok {
		t.Fatal("expected TRN in snapshot")
	}
	if limits.RequestsPerSecond != 10 || limits.Burst != 5 {
		t.Fatalf("unexpected limits: %+v", limits)
	}
}

func TestPerClientLimiter_BlocksAfterBurst(t *testing.T) {
	p := NewPerClientLimiter(0, 1)
	if !p.Allow("client-a") {
		t.Fatal("expected first request to be allowed")
	}
	if p.Allow("client-a") {
		t.Fatal("expected second request to be denied with zero refill rate")
	}
	if !p.Allow("client-b") {
		t.Fatal("expected a different client to have its own bucket")
	}
}

func TestPerClientLimiter_MiddlewareRejectsOverLimit(t *testing.T) {
	p := NewPerClientLimiter(0, 1)
	handler := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/sync/trigger", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)
	if rec1.Code != http.StatusOK {
		t.Fatalf("first request: got %d, want 200", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d, want 429", rec2.Code)
	}
}
