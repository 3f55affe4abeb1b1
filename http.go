package trustplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTPConfig configures the HTTP API server.
type HTTPConfig struct {
	// Enabled turns on the HTTP API.
	Enabled bool
	// Port to listen on. Default: 8087.
	Port int
	// APIKeys grant full access. Empty list disables authentication.
	APIKeys []string
	// ReadOnlyKeys grant read access only.
	ReadOnlyKeys []string
	// RateLimitPerSecond is the maximum requests per second per IP.
	// Default: 1000. Set negative to disable.
	RateLimitPerSecond int
}

const (
	// maxBodySize is the maximum allowed request body size (10MB).
	maxBodySize = 10 * 1024 * 1024
)

type httpServer struct {
	srv *http.Server
	// Addr is the bound listen address, useful when Port was 0.
	Addr string
}

// rateLimiter implements a token bucket per client IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int
	window   time.Duration
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	v, exists := rl.visitors[ip]
	if !exists {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastReset: now}
		return true
	}
	if now.Sub(v.lastReset) >= rl.window {
		v.tokens = rl.rate - 1
		v.lastReset = now
		return true
	}
	if v.tokens > 0 {
		v.tokens--
		return true
	}
	return false
}

// getClientIP extracts the client IP from the request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// authenticator handles API key authentication.
type authenticator struct {
	enabled      bool
	apiKeys      map[string]bool
	readOnlyKeys map[string]bool
}

func newAuthenticator(cfg HTTPConfig) *authenticator {
	a := &authenticator{
		apiKeys:      make(map[string]bool),
		readOnlyKeys: make(map[string]bool),
	}
	if len(cfg.APIKeys) == 0 && len(cfg.ReadOnlyKeys) == 0 {
		return a
	}
	a.enabled = true
	for _, key := range cfg.APIKeys {
		a.apiKeys[key] = true
	}
	for _, key := range cfg.ReadOnlyKeys {
		a.readOnlyKeys[key] = true
	}
	return a
}

// extractAPIKey extracts the API key from the request.
func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

func authMiddleware(auth *authenticator, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !auth.enabled || r.URL.Path == "/health" {
			next(w, r)
			return
		}
		key := extractAPIKey(r)
		if key == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		if auth.apiKeys[key] {
			next(w, r)
			return
		}
		if auth.readOnlyKeys[key] {
			if r.Method != http.MethodGet {
				http.Error(w, "read-only API key cannot perform write operations", http.StatusForbidden)
				return
			}
			next(w, r)
			return
		}
		http.Error(w, "invalid API key", http.StatusUnauthorized)
	}
}

func rateLimitMiddleware(rl *rateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(getClientIP(r)) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// errorStatus maps engine errors onto HTTP status codes.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnknownReference):
		return http.StatusNotFound, "unknown_reference"
	case errors.Is(err, ErrConfiguration):
		return http.StatusBadRequest, "configuration"
	case errors.Is(err, ErrStatusConflict):
		return http.StatusConflict, "status_conflict"
	case errors.Is(err, ErrStaleSnapshot):
		return http.StatusServiceUnavailable, "stale_snapshot"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

type catalogImportRequest struct {
	Controls []Control `json:"controls"`
}

type findingRequest struct {
	OrgID       string   `json:"org_id"`
	IncidentID  string   `json:"incident_id"`
	Category    string   `json:"category"`
	ContextTags []string `json:"context_tags,omitempty"`
}

type evidenceTransitionRequest struct {
	ID   string         `json:"id"`
	From EvidenceStatus `json:"from"`
	To   EvidenceStatus `json:"to"`
}

type thresholdsRequest struct {
	Thresholds []RiskAppetiteThreshold `json:"thresholds"`
}

// middlewareWrapper wraps handlers with authentication and rate limiting.
type middlewareWrapper func(h http.HandlerFunc) http.HandlerFunc

func setupCatalogRoutes(mux *http.ServeMux, e *Engine, wrap middlewareWrapper) {
	mux.HandleFunc("/api/v1/catalog/import", wrap(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		var req catalogImportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, http.StatusBadRequest, "decode", err.Error())
			return
		}
		summary, err := e.ImportCatalog(req.Controls)
		if err != nil {
			status, kind := errorStatus(err)
			jsonError(w, status, kind, err.Error())
			return
		}
		writeJSON(w, summary)
	}))

	mux.HandleFunc("/api/v1/clusters", wrap(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		mapping := e.Mapping()
		if mapping == nil {
			jsonError(w, http.StatusNotFound, "configuration", "no catalog imported")
			return
		}
		writeJSON(w, mapping)
	}))
}

func setupEvidenceRoutes(mux *http.ServeMux, e *Engine, wrap middlewareWrapper) {
	mux.HandleFunc("/api/v1/evidence", wrap(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		var req EvidenceIngest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, http.StatusBadRequest, "decode", err.Error())
			return
		}
		item, err := e.IngestEvidence(req)
		if err != nil {
			status, kind := errorStatus(err)
			jsonError(w, status, kind, err.Error())
			return
		}
		writeJSONStatus(w, http.StatusCreated, item)
	}))

	mux.HandleFunc("/api/v1/evidence/transition", wrap(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req evidenceTransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, http.StatusBadRequest, "decode", err.Error())
			return
		}
		item, err := e.TransitionEvidence(req.ID, req.From, req.To)
		if err != nil {
			status, kind := errorStatus(err)
			jsonError(w, status, kind, err.Error())
			return
		}
		writeJSON(w, item)
	}))
}

func setupScoreRoutes(mux *http.ServeMux, e *Engine, wrap middlewareWrapper) {
	mux.HandleFunc("/api/v1/score", wrap(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		orgID := r.URL.Query().Get("org")
		if orgID == "" {
			jsonError(w, http.StatusBadRequest, "configuration", "org query parameter required")
			return
		}
		report, err := e.GetTrustScore(orgID)
		if err != nil {
			status, kind := errorStatus(err)
			jsonError(w, status, kind, err.Error())
			return
		}
		writeJSON(w, report)
	}))

	mux.HandleFunc("/api/v1/priorities", wrap(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, e.Risk().Priorities())
	}))
}

func setupRoutingRoutes(mux *http.ServeMux, e *Engine, wrap middlewareWrapper) {
	mux.HandleFunc("/api/v1/findings", wrap(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req findingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, http.StatusBadRequest, "decode", err.Error())
			return
		}
		decision, err := e.SubmitFinding(r.Context(), req.OrgID, req.IncidentID, req.Category, req.ContextTags)
		if err != nil {
			status, kind := errorStatus(err)
			jsonError(w, status, kind, err.Error())
			return
		}
		writeJSONStatus(w, http.StatusCreated, decision)
	}))

	mux.HandleFunc("/api/v1/thresholds", wrap(func(w http.ResponseWriter, r *http.Request) {
		orgID := r.URL.Query().Get("org")
		if orgID == "" {
			jsonError(w, http.StatusBadRequest, "configuration", "org query parameter required")
			return
		}
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, thresholdsRequest{Thresholds: e.Thresholds(orgID)})
		case http.MethodPut:
			var req thresholdsRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				jsonError(w, http.StatusBadRequest, "decode", err.Error())
				return
			}
			if err := e.SetThresholds(orgID, req.Thresholds); err != nil {
				status, kind := errorStatus(err)
				jsonError(w, status, kind, err.Error())
				return
			}
			writeJSON(w, map[string]string{"status": "ok"})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))

	mux.HandleFunc("/api/v1/decisions", wrap(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		orgID := r.URL.Query().Get("org")
		if orgID == "" {
			jsonError(w, http.StatusBadRequest, "configuration", "org query parameter required")
			return
		}
		writeJSON(w, e.Decisions(orgID))
	}))

	mux.HandleFunc("/api/v1/breaches", wrap(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		orgID := r.URL.Query().Get("org")
		if orgID == "" {
			jsonError(w, http.StatusBadRequest, "configuration", "org query parameter required")
			return
		}
		writeJSON(w, e.Router().ReportSLABreaches(orgID, time.Now()))
	}))
}

// newHTTPHandler builds the full API handler. Exposed separately from
// startHTTPServer so tests can drive it through httptest.
func newHTTPHandler(e *Engine, cfg HTTPConfig) http.Handler {
	rateLimit := cfg.RateLimitPerSecond
	if rateLimit == 0 {
		rateLimit = 1000
	}
	var rl *rateLimiter
	if rateLimit > 0 {
		rl = newRateLimiter(rateLimit, time.Second)
	}
	auth := newAuthenticator(cfg)

	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		h = authMiddleware(auth, h)
		if rl != nil {
			h = rateLimitMiddleware(rl, h)
		}
		return h
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	setupCatalogRoutes(mux, e, wrap)
	setupEvidenceRoutes(mux, e, wrap)
	setupScoreRoutes(mux, e, wrap)
	setupRoutingRoutes(mux, e, wrap)
	mux.HandleFunc("/stream", wrap(e.Hub().WebSocketHandler()))

	return mux
}

func startHTTPServer(e *Engine, cfg HTTPConfig) (*httpServer, error) {
	port := cfg.Port
	if port <= 0 || port > 65535 {
		port = 8087
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Handler:      newHTTPHandler(e, cfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		_ = srv.Serve(listener)
	}()

	return &httpServer{srv: srv, Addr: listener.Addr().String()}, nil
}

func (s *httpServer) Close() error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
