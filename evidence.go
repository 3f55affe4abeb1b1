package trustplane

import (
	"fmt"
	"sync"
	"time"
)

// EvidenceStatus is the review state of an evidence item.
type EvidenceStatus string

const (
	EvidencePending      EvidenceStatus = "pending"
	EvidenceVerified     EvidenceStatus = "verified"
	EvidenceRejected     EvidenceStatus = "rejected"
	EvidenceAutoApproved EvidenceStatus = "auto_approved"
)

// legalTransitions defines the allowed status successors. Status transitions
// are the only mutation evidence items ever see.
var legalTransitions = map[EvidenceStatus][]EvidenceStatus{
	EvidencePending:      {EvidenceVerified, EvidenceRejected, EvidenceAutoApproved},
	EvidenceAutoApproved: {EvidenceVerified, EvidenceRejected},
	EvidenceVerified:     {EvidenceRejected},
}

// scorable reports whether evidence in this status contributes to coverage.
func (s EvidenceStatus) scorable() bool {
	return s == EvidenceVerified || s == EvidenceAutoApproved
}

// EvidenceItem is a single piece of collected evidence mapped to a canonical
// cluster. Items are never deleted, only superseded; the full history is
// retained for audit.
type EvidenceItem struct {
	ID                 string         `json:"id"`
	OrgID              string         `json:"org_id"`
	ClusterID          int            `json:"cluster_id"`
	Confidence         float64        `json:"confidence"`
	Status             EvidenceStatus `json:"status"`
	CollectedAt        time.Time      `json:"collected_at"`
	ContributionWeight float64        `json:"contribution_weight"`
	SourceSystem       string         `json:"source_system,omitempty"`
}

// EvidenceLedger is an append-only, tenant-partitioned store of evidence
// items. Appends are safe for unlimited concurrent writers; status changes
// use compare-and-swap semantics to avoid lost updates.
type EvidenceLedger struct {
	mu      sync.RWMutex
	items   []EvidenceItem
	byID    map[string]int
	counter uint64
}

// NewEvidenceLedger creates an empty ledger.
func NewEvidenceLedger() *EvidenceLedger {
	return &EvidenceLedger{byID: make(map[string]int)}
}

// Append records a new evidence item and returns it with its assigned ID.
// Confidence must be within [0, 1].
func (l *EvidenceLedger) Append(item EvidenceItem) (EvidenceItem, error) {
	if item.OrgID == "" {
		return EvidenceItem{}, fmt.Errorf("evidence: missing org id: %w", ErrConfiguration)
	}
	if item.Confidence < 0 || item.Confidence > 1 {
		return EvidenceItem{}, fmt.Errorf("evidence: confidence %v out of range [0, 1]: %w", item.Confidence, ErrConfiguration)
	}
	if item.Status == "" {
		item.Status = EvidencePending
	}
	if item.CollectedAt.IsZero() {
		item.CollectedAt = time.Now()
	}
	if item.ContributionWeight == 0 {
		item.ContributionWeight = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.counter++
	item.ID = fmt.Sprintf("ev-%d", l.counter)
	l.byID[item.ID] = len(l.items)
	l.items = append(l.items, item)
	return item, nil
}

// Transition moves an evidence item from an expected status to a new one.
// The transition is rejected if the current status differs from the expected
// one (compare-and-swap) or if the target is not a legal successor.
func (l *EvidenceLedger) Transition(id string, from, to EvidenceStatus) (EvidenceItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, ok := l.byID[id]
	if !ok {
		return EvidenceItem{}, newReferenceError("evidence", id, "not in ledger")
	}
	current := l.items[idx].Status
	if current != from {
		return EvidenceItem{}, &TransitionError{EvidenceID: id, Expected: from, Actual: current, Target: to}
	}
	allowed := false
	for _, next := range legalTransitions[from] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return EvidenceItem{}, fmt.Errorf("evidence %s: illegal transition %s -> %s: %w", id, from, to, ErrStatusConflict)
	}

	l.items[idx].Status = to
	return l.items[idx], nil
}

// Get returns an evidence item by ID.
func (l *EvidenceLedger) Get(id string) (EvidenceItem, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.byID[id]
	if !ok {
		return EvidenceItem{}, false
	}
	return l.items[idx], true
}

// ItemsForOrg returns a copy of all evidence items for a tenant, in append
// order. Evidence is never visible across tenants.
func (l *EvidenceLedger) ItemsForOrg(orgID string) []EvidenceItem {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []EvidenceItem
	for _, it := range l.items {
		if it.OrgID == orgID {
			out = append(out, it)
		}
	}
	return out
}

// CountBySource returns evidence counts per source system for a tenant.
func (l *EvidenceLedger) CountBySource(orgID string) map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	counts := make(map[string]int)
	for _, it := range l.items {
		if it.OrgID == orgID && it.SourceSystem != "" {
			counts[it.SourceSystem]++
		}
	}
	return counts
}

// Len returns the total number of items across tenants.
func (l *EvidenceLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}
