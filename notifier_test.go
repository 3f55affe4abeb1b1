package trustplane

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type countingNotifier struct {
	calls    atomic.Int32
	failures int32 // fail the first N calls
}

func (n *countingNotifier) Notify(_ context.Context, _ RoutingDecision) error {
	c := n.calls.Add(1)
	if c <= n.failures {
		return errors.New("delivery refused")
	}
	return nil
}

func TestNotifyWithRetry_RecoversFromTransientFailure(t *testing.T) {
	cfg := DefaultRoutingConfig()
	n := &countingNotifier{failures: 2}

	err := notifyWithRetry(context.Background(), n, RoutingDecision{DecisionID: "rd-1"}, cfg)
	if err != nil {
		t.Fatalf("expected recovery on third attempt, got %v", err)
	}
	if n.calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", n.calls.Load())
	}
}

func TestNotifyWithRetry_ExhaustionWrapsSentinel(t *testing.T) {
	cfg := DefaultRoutingConfig()
	n := &countingNotifier{failures: 100}

	err := notifyWithRetry(context.Background(), n, RoutingDecision{DecisionID: "rd-1"}, cfg)
	if !errors.Is(err, ErrNotificationFailed) {
		t.Errorf("expected ErrNotificationFailed, got %v", err)
	}
	if n.calls.Load() != int32(cfg.NotifyMaxAttempts) {
		t.Errorf("expected %d attempts, got %d", cfg.NotifyMaxAttempts, n.calls.Load())
	}
}

func TestRouter_NotificationFailureDoesNotInvalidateDecision(t *testing.T) {
	router := testRouter(t)
	if err := router.SetThresholds("acme", testThresholds()); err != nil {
		t.Fatalf("SetThresholds failed: %v", err)
	}
	router.SetNotifier(&countingNotifier{failures: 100})

	decision, err := router.SubmitFinding(context.Background(), "acme", "inc-1", "missing-mfa", nil)
	if err != nil {
		t.Fatalf("SubmitFinding failed: %v", err)
	}
	if !decision.NotificationFailed {
		t.Error("expected decision flagged NotificationFailed")
	}
	if decision.State != FindingRouted {
		t.Errorf("expected decision to remain routed, got %s", decision.State)
	}

	// The stored record carries the flag too.
	stored, ok := router.DecisionForIncident("inc-1")
	if !ok || !stored.NotificationFailed {
		t.Errorf("expected stored decision flagged, got %+v", stored)
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got RoutingDecision
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	decision := RoutingDecision{DecisionID: "rd-1", IncidentID: "inc-1", OrgID: "acme"}
	if err := n.Notify(context.Background(), decision); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if got.DecisionID != "rd-1" || got.OrgID != "acme" {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestWebhookNotifier_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	if err := n.Notify(context.Background(), RoutingDecision{DecisionID: "rd-1"}); err == nil {
		t.Error("expected error on 502 response")
	}
}
