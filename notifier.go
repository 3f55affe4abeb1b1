package trustplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Notifier delivers routing decisions to stakeholders. Delivery is
// best-effort: a failed notification is surfaced on the decision record but
// the decision itself stands.
type Notifier interface {
	Notify(ctx context.Context, decision RoutingDecision) error
}

// notifyWithRetry wraps a notifier with the router's timeout and backoff
// policy. Each attempt is individually bounded by NotifyTimeout.
func notifyWithRetry(ctx context.Context, n Notifier, decision RoutingDecision, cfg RoutingConfig) error {
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = cfg.NotifyMaxAttempts

	err := retryDo(ctx, policy, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.NotifyTimeout)
		defer cancel()
		return n.Notify(attemptCtx, decision)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}
	return nil
}

// LogNotifier writes notifications to the structured log. Useful as a
// default sink and in tests.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(_ context.Context, d RoutingDecision) error {
	slog.Info("routing decision issued",
		"decision", d.DecisionID,
		"incident", d.IncidentID,
		"org", d.OrgID,
		"impact", d.EstimatedImpact,
		"route", d.Route,
		"sla_minutes", d.SLAMinutes,
		"exception", d.ExceptionApplied,
	)
	return nil
}

// WebhookNotifier POSTs decisions as JSON to a stakeholder endpoint
// (chat-ops bridge, paging system, ticketing webhook).
type WebhookNotifier struct {
	URL    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		URL:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, d RoutingDecision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("notify: encoding decision: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned %d", resp.StatusCode)
	}
	return nil
}
