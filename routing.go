package trustplane

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// StakeholderRole identifies who a finding is escalated to.
type StakeholderRole string

const (
	RoleCEO          StakeholderRole = "CEO"
	RoleCISO         StakeholderRole = "CISO"
	RoleSecurityTeam StakeholderRole = "SecurityTeam"
	RoleCompliance   StakeholderRole = "Compliance"
	RoleManualTriage StakeholderRole = "ManualTriage"
)

// RiskAppetiteThreshold maps an estimated impact band to an escalation route
// and SLA. Thresholds are owned by the organization and only change through
// explicit configuration.
type RiskAppetiteThreshold struct {
	MinImpact float64 `json:"min_impact" yaml:"min_impact"`
	// MaxImpact bounds the band; 0 on the highest band means unbounded.
	MaxImpact  float64           `json:"max_impact,omitempty" yaml:"max_impact,omitempty"`
	Route      []StakeholderRole `json:"route" yaml:"route"`
	SLAMinutes int               `json:"sla_minutes" yaml:"sla_minutes"`
}

// ValidateThresholds checks that a threshold list partitions the impact range
// with no gaps or overlaps: sorted by ascending MinImpact, each band's
// MaxImpact must equal the next band's MinImpact, and only the highest band
// may be unbounded.
func ValidateThresholds(orgID string, list []RiskAppetiteThreshold) error {
	if len(list) == 0 {
		return &ThresholdError{OrgID: orgID, Index: -1, Message: "empty threshold list"}
	}
	sorted := append([]RiskAppetiteThreshold(nil), list...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinImpact < sorted[j].MinImpact })

	for i, t := range sorted {
		if t.MinImpact < 0 {
			return &ThresholdError{OrgID: orgID, Index: i, Message: "negative min impact"}
		}
		if len(t.Route) == 0 {
			return &ThresholdError{OrgID: orgID, Index: i, Message: "empty route"}
		}
		if t.SLAMinutes < 0 {
			return &ThresholdError{OrgID: orgID, Index: i, Message: "negative SLA"}
		}
		if i > 0 && t.MinImpact == sorted[i-1].MinImpact {
			return &ThresholdError{OrgID: orgID, Index: i, Message: "duplicate min impact"}
		}
		last := i == len(sorted)-1
		if last {
			if t.MaxImpact != 0 && t.MaxImpact <= t.MinImpact {
				return &ThresholdError{OrgID: orgID, Index: i, Message: "max impact below min impact"}
			}
			continue
		}
		next := sorted[i+1].MinImpact
		switch {
		case t.MaxImpact == 0:
			return &ThresholdError{OrgID: orgID, Index: i, Message: "unbounded band below the highest"}
		case t.MaxImpact < next:
			return &ThresholdError{OrgID: orgID, Index: i, Message: fmt.Sprintf("gap between %v and %v", t.MaxImpact, next)}
		case t.MaxImpact > next:
			return &ThresholdError{OrgID: orgID, Index: i, Message: fmt.Sprintf("overlap between %v and %v", next, t.MaxImpact)}
		}
	}
	return nil
}

// FindingState is the lifecycle state of a submitted finding.
type FindingState string

const (
	FindingReceived     FindingState = "received"
	FindingScored       FindingState = "scored"
	FindingRouted       FindingState = "routed"
	FindingAcknowledged FindingState = "acknowledged"
	FindingEscalated    FindingState = "escalated"
	FindingAutoResolved FindingState = "auto_resolved"
)

// RoutingDecision records where a finding was routed and why. Decisions are
// immutable once issued; a re-evaluation appends a new decision, preserving
// the audit trail. NotificationFailed is the one post-issue annotation and
// never invalidates the decision itself.
type RoutingDecision struct {
	DecisionID      string          `json:"decision_id"`
	IncidentID      string          `json:"incident_id"`
	OrgID           string          `json:"org_id"`
	Category        string          `json:"category"`
	ContextTags     []string        `json:"context_tags,omitempty"`
	EstimatedImpact float64         `json:"estimated_impact"`
	MatchedMin      float64         `json:"matched_min_impact"`
	Route           []StakeholderRole `json:"route"`
	SLAMinutes      int             `json:"sla_minutes"`
	SLADeadline     time.Time       `json:"sla_deadline"`
	State           FindingState    `json:"state"`
	RoutedAt        time.Time       `json:"routed_at"`

	// ExceptionApplied marks a classifier override; OriginalRoute retains
	// the threshold-selected route for audit.
	ExceptionApplied bool              `json:"exception_applied,omitempty"`
	OriginalRoute    []StakeholderRole `json:"original_route,omitempty"`

	// ConfigError marks findings that fell through to manual triage because
	// the organization has no valid threshold list.
	ConfigError        bool `json:"config_error,omitempty"`
	NotificationFailed bool `json:"notification_failed,omitempty"`
}

// SLABreach reports a routed decision whose SLA deadline passed without an
// acknowledgment. Breaches are reported, never silently extended.
type SLABreach struct {
	Decision RoutingDecision `json:"decision"`
	Overdue  time.Duration   `json:"overdue"`
}

// ExceptionClassifier may override the threshold-selected route when context
// tags match a known exception pattern. Implementations return the override
// route and a confidence score; the router applies the override only when the
// confidence reaches the configured cutoff. The core routing stays
// deterministic given the classifier's output.
type ExceptionClassifier interface {
	Classify(orgID, category string, contextTags []string) (route []StakeholderRole, confidence float64, ok bool)
}

// ExceptionRule is one pattern in the static rule-based classifier: if every
// tag in Tags is present on the finding, Route applies with Confidence.
type ExceptionRule struct {
	Tags       []string          `json:"tags" yaml:"tags"`
	Route      []StakeholderRole `json:"route" yaml:"route"`
	Confidence float64           `json:"confidence" yaml:"confidence"`
}

// RuleClassifier is a deterministic ExceptionClassifier backed by a static
// rule table. It stands in for a learned model; anything trained plugs in
// behind the same interface.
type RuleClassifier struct {
	mu    sync.RWMutex
	rules []ExceptionRule
}

// NewRuleClassifier creates a classifier from a rule table.
func NewRuleClassifier(rules []ExceptionRule) *RuleClassifier {
	return &RuleClassifier{rules: rules}
}

// AddRule appends an exception rule.
func (c *RuleClassifier) AddRule(rule ExceptionRule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, rule)
}

// Classify returns the highest-confidence matching rule.
func (c *RuleClassifier) Classify(orgID, category string, contextTags []string) ([]StakeholderRole, float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	present := make(map[string]bool, len(contextTags))
	for _, t := range contextTags {
		present[t] = true
	}

	var (
		bestRoute []StakeholderRole
		bestConf  float64
		found     bool
	)
	for _, r := range c.rules {
		match := len(r.Tags) > 0
		for _, t := range r.Tags {
			if !present[t] {
				match = false
				break
			}
		}
		if match && r.Confidence > bestConf {
			bestRoute, bestConf, found = r.Route, r.Confidence, true
		}
	}
	return bestRoute, bestConf, found
}

// RoutingConfig configures the routing engine.
type RoutingConfig struct {
	// ExceptionCutoff is the minimum classifier confidence for an override
	// to apply. Default: 0.8.
	ExceptionCutoff float64

	// DefaultSLAMinutes is used for manual-triage fallback decisions.
	// Default: 240.
	DefaultSLAMinutes int

	// NotifyTimeout bounds each stakeholder notification attempt.
	// Default: 5s.
	NotifyTimeout time.Duration

	// NotifyMaxAttempts is the total attempt count before a decision is
	// marked NotificationFailed. Default: 3.
	NotifyMaxAttempts int
}

// DefaultRoutingConfig returns routing defaults.
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		ExceptionCutoff:   0.8,
		DefaultSLAMinutes: 240,
		NotifyTimeout:     5 * time.Second,
		NotifyMaxAttempts: 3,
	}
}

// Router scores incoming findings against the risk model and routes them to
// stakeholders by monetary threshold. Routing requests for the same incident
// are serialized, guaranteeing at most one active decision per incident under
// concurrent retries.
type Router struct {
	config     RoutingConfig
	risk       *RiskModel
	classifier ExceptionClassifier
	notifier   Notifier
	hub        *DecisionHub
	store      *SQLiteStore

	mu         sync.RWMutex
	thresholds map[string][]RiskAppetiteThreshold
	decisions  []RoutingDecision
	latest     map[string]int // incidentID -> index of latest decision
	counter    uint64

	lockMu        sync.Mutex
	incidentLocks map[string]*sync.Mutex
}

// NewRouter creates a routing engine. The classifier, notifier, hub, and
// store are optional.
func NewRouter(cfg RoutingConfig, risk *RiskModel) *Router {
	if cfg.ExceptionCutoff <= 0 {
		cfg.ExceptionCutoff = 0.8
	}
	if cfg.DefaultSLAMinutes <= 0 {
		cfg.DefaultSLAMinutes = 240
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	if cfg.NotifyMaxAttempts <= 0 {
		cfg.NotifyMaxAttempts = 3
	}
	return &Router{
		config:        cfg,
		risk:          risk,
		thresholds:    make(map[string][]RiskAppetiteThreshold),
		latest:        make(map[string]int),
		incidentLocks: make(map[string]*sync.Mutex),
	}
}

// SetClassifier installs the exception classifier.
func (r *Router) SetClassifier(c ExceptionClassifier) { r.classifier = c }

// SetNotifier installs the stakeholder notifier.
func (r *Router) SetNotifier(n Notifier) { r.notifier = n }

// SetHub installs the decision stream hub.
func (r *Router) SetHub(h *DecisionHub) { r.hub = h }

// SetStore installs the persistence store for decision records.
func (r *Router) SetStore(s *SQLiteStore) { r.store = s }

// SetThresholds validates and replaces an organization's threshold list.
// Invalid lists are rejected at write time.
func (r *Router) SetThresholds(orgID string, list []RiskAppetiteThreshold) error {
	if err := ValidateThresholds(orgID, list); err != nil {
		return err
	}
	sorted := append([]RiskAppetiteThreshold(nil), list...)
	// Descending by MinImpact: the routing scan takes the first band whose
	// MinImpact does not exceed the estimate.
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinImpact > sorted[j].MinImpact })

	r.mu.Lock()
	defer r.mu.Unlock()
	r.thresholds[orgID] = sorted
	return nil
}

// Thresholds returns a copy of an organization's threshold list, in
// descending MinImpact order.
func (r *Router) Thresholds(orgID string) []RiskAppetiteThreshold {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]RiskAppetiteThreshold(nil), r.thresholds[orgID]...)
}

// incidentLock returns the serialization lock for an incident ID.
func (r *Router) incidentLock(incidentID string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	l, ok := r.incidentLocks[incidentID]
	if !ok {
		l = &sync.Mutex{}
		r.incidentLocks[incidentID] = l
	}
	return l
}

// SubmitFinding scores a finding and issues a routing decision. The finding
// moves Received -> Scored -> Routed (or AutoResolved below the lowest band).
// A missing or invalid threshold configuration routes to manual triage with
// the decision flagged as a configuration error; findings are never dropped.
func (r *Router) SubmitFinding(ctx context.Context, orgID, incidentID, category string, contextTags []string) (RoutingDecision, error) {
	if orgID == "" || incidentID == "" {
		return RoutingDecision{}, fmt.Errorf("routing: org and incident id required: %w", ErrConfiguration)
	}

	lock := r.incidentLock(incidentID)
	lock.Lock()
	defer lock.Unlock()

	// Score.
	est, err := r.risk.EstimateImpact(category, contextTags)
	if err != nil {
		return RoutingDecision{}, err
	}

	now := time.Now()
	decision := RoutingDecision{
		IncidentID:      incidentID,
		OrgID:           orgID,
		Category:        category,
		ContextTags:     append([]string(nil), contextTags...),
		EstimatedImpact: est.Impact,
		RoutedAt:        now,
	}

	// Route by threshold band.
	thresholds := r.Thresholds(orgID)
	if len(thresholds) == 0 {
		decision.Route = []StakeholderRole{RoleManualTriage}
		decision.SLAMinutes = r.config.DefaultSLAMinutes
		decision.State = FindingRouted
		decision.ConfigError = true
	} else {
		matched := false
		for _, t := range thresholds {
			if t.MinImpact <= est.Impact {
				decision.MatchedMin = t.MinImpact
				decision.Route = append([]StakeholderRole(nil), t.Route...)
				decision.SLAMinutes = t.SLAMinutes
				decision.State = FindingRouted
				matched = true
				break
			}
		}
		if !matched {
			// Below the lowest band: auto-resolve, no human stakeholder.
			decision.State = FindingAutoResolved
		}
	}

	// Exception override, only for routed decisions.
	if decision.State == FindingRouted && !decision.ConfigError && r.classifier != nil {
		route, confidence, ok := r.classifier.Classify(orgID, category, contextTags)
		if ok && confidence >= r.config.ExceptionCutoff && len(route) > 0 {
			decision.OriginalRoute = decision.Route
			decision.Route = append([]StakeholderRole(nil), route...)
			decision.ExceptionApplied = true
		}
	}

	if decision.State == FindingRouted && decision.SLAMinutes > 0 {
		// The SLA clock starts at Routed.
		decision.SLADeadline = now.Add(time.Duration(decision.SLAMinutes) * time.Minute)
	}

	r.mu.Lock()
	r.counter++
	decision.DecisionID = fmt.Sprintf("rd-%d", r.counter)
	r.latest[incidentID] = len(r.decisions)
	r.decisions = append(r.decisions, decision)
	idx := len(r.decisions) - 1
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.AppendDecision(ctx, decision); err != nil {
			slog.Warn("failed to persist routing decision", "decision", decision.DecisionID, "err", err)
		}
	}

	// Notify stakeholders. Delivery failure is surfaced on the decision but
	// never invalidates it: the decision is the system of record.
	if r.notifier != nil && decision.State == FindingRouted {
		if err := notifyWithRetry(ctx, r.notifier, decision, r.config); err != nil {
			slog.Error("stakeholder notification failed", "decision", decision.DecisionID,
				"incident", incidentID, "err", err)
			r.mu.Lock()
			r.decisions[idx].NotificationFailed = true
			decision.NotificationFailed = true
			r.mu.Unlock()
		}
	}

	if r.hub != nil {
		r.hub.Publish(decision)
	}

	return decision, nil
}

// Acknowledge moves a routed finding to Acknowledged.
func (r *Router) Acknowledge(incidentID string) (RoutingDecision, error) {
	return r.transition(incidentID, FindingAcknowledged)
}

// Escalate moves a routed finding to Escalated.
func (r *Router) Escalate(incidentID string) (RoutingDecision, error) {
	return r.transition(incidentID, FindingEscalated)
}

func (r *Router) transition(incidentID string, to FindingState) (RoutingDecision, error) {
	lock := r.incidentLock(incidentID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.latest[incidentID]
	if !ok {
		return RoutingDecision{}, newReferenceError("incident", incidentID, "no routing decision")
	}
	if r.decisions[idx].State != FindingRouted {
		return RoutingDecision{}, fmt.Errorf("routing: incident %s is %s, not %s: %w",
			incidentID, r.decisions[idx].State, FindingRouted, ErrStatusConflict)
	}
	r.decisions[idx].State = to
	return r.decisions[idx], nil
}

// DecisionForIncident returns the latest decision for an incident.
func (r *Router) DecisionForIncident(incidentID string) (RoutingDecision, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.latest[incidentID]
	if !ok {
		return RoutingDecision{}, false
	}
	return r.decisions[idx], true
}

// DecisionsForOrg returns all decisions for a tenant in issue order.
// Decisions are never visible across tenants.
func (r *Router) DecisionsForOrg(orgID string) []RoutingDecision {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []RoutingDecision
	for _, d := range r.decisions {
		if d.OrgID == orgID {
			out = append(out, d)
		}
	}
	return out
}

// ReportSLABreaches returns routed decisions whose SLA deadline passed
// without acknowledgment as of now.
func (r *Router) ReportSLABreaches(orgID string, now time.Time) []SLABreach {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []SLABreach
	for _, idx := range r.latest {
		d := r.decisions[idx]
		if d.OrgID != orgID || d.State != FindingRouted || d.SLADeadline.IsZero() {
			continue
		}
		if now.After(d.SLADeadline) {
			out = append(out, SLABreach{Decision: d, Overdue: now.Sub(d.SLADeadline)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Overdue > out[j].Overdue })
	return out
}
