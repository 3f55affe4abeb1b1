package trustplane

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamConfig configures the decision streaming API.
type StreamConfig struct {
	// Enabled turns on WebSocket streaming.
	Enabled bool
	// BufferSize is the channel buffer size per subscription.
	BufferSize int
	// PingInterval is how often to ping clients.
	PingInterval time.Duration
	// WriteTimeout bounds WebSocket writes.
	WriteTimeout time.Duration
}

// DefaultStreamConfig returns default streaming configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Enabled:      true,
		BufferSize:   256,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// DecisionSubscription is an active stream subscription filtered by tenant.
type DecisionSubscription struct {
	ID    string
	OrgID string

	ch     chan RoutingDecision
	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

// C returns the channel delivering routing decisions.
func (s *DecisionSubscription) C() <-chan RoutingDecision {
	return s.ch
}

// Close closes the subscription.
func (s *DecisionSubscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.ch)
}

// DecisionHub fans routing decisions out to live subscribers (dashboards,
// chat-ops bridges). Slow subscribers drop events rather than block routing.
type DecisionHub struct {
	config StreamConfig
	mu     sync.RWMutex
	subs   map[string]*DecisionSubscription
	nextID uint64
}

// NewDecisionHub creates a streaming hub.
func NewDecisionHub(cfg StreamConfig) *DecisionHub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	return &DecisionHub{
		config: cfg,
		subs:   make(map[string]*DecisionSubscription),
	}
}

// Subscribe creates a subscription for one tenant's decisions. An empty org
// subscribes to all tenants (operator use only).
func (h *DecisionHub) Subscribe(orgID string) *DecisionSubscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &DecisionSubscription{
		ID:    fmt.Sprintf("sub-%d", h.nextID),
		OrgID: orgID,
		ch:    make(chan RoutingDecision, h.config.BufferSize),
		done:  make(chan struct{}),
	}
	h.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes and closes a subscription.
func (h *DecisionHub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if ok {
		sub.Close()
	}
}

// Publish sends a decision to all matching subscriptions.
func (h *DecisionHub) Publish(d RoutingDecision) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub.OrgID != "" && sub.OrgID != d.OrgID {
			continue
		}
		select {
		case sub.ch <- d:
		default:
			// Buffer full, drop the event.
		}
	}
}

// Count returns the number of active subscriptions.
func (h *DecisionHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// DecisionStreamMessage is the JSON format for WebSocket stream messages.
type DecisionStreamMessage struct {
	Type     string           `json:"type"`
	SubID    string           `json:"sub_id,omitempty"`
	Decision *RoutingDecision `json:"decision,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// WebSocketHandler returns an HTTP handler streaming decisions for the org
// named in the "org" query parameter.
func (h *DecisionHub) WebSocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID := r.URL.Query().Get("org")

		conn, err := streamUpgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer func() { _ = conn.Close() }()

		sub := h.Subscribe(orgID)
		defer h.Unsubscribe(sub.ID)

		if err := conn.WriteJSON(DecisionStreamMessage{Type: "subscribed", SubID: sub.ID}); err != nil {
			return
		}

		// Drain client reads so close frames are processed. Unsubscribe
		// removes the sub from the hub before closing its channel, so a
		// concurrent Publish never writes to a closed channel.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.Unsubscribe(sub.ID)
					return
				}
			}
		}()

		ticker := time.NewTicker(h.config.PingInterval)
		defer ticker.Stop()

		for {
			select {
			case d, ok := <-sub.C():
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
				if err := conn.WriteJSON(DecisionStreamMessage{Type: "decision", SubID: sub.ID, Decision: &d}); err != nil {
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}
