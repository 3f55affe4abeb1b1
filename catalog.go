package trustplane

import (
	"fmt"
	"sync"
)

// RiskLevel classifies the inherent risk of a control.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ControlKey identifies a control within a framework.
type ControlKey struct {
	FrameworkID string `json:"framework_id" yaml:"framework"`
	ControlID   string `json:"control_id" yaml:"control"`
}

func (k ControlKey) String() string {
	return k.FrameworkID + "/" + k.ControlID
}

// Control is an immutable per-framework requirement. Controls are created on
// catalog import and never mutated; a re-import publishes a new catalog
// version that supersedes the previous one.
type Control struct {
	FrameworkID string    `json:"framework_id" yaml:"framework"`
	ControlID   string    `json:"control_id" yaml:"control"`
	Category    string    `json:"category" yaml:"category"`
	Description string    `json:"description" yaml:"description"`
	RiskLevel   RiskLevel `json:"risk_level" yaml:"risk_level"`

	// Extensions holds framework-specific fields (e.g. SOC 2 trust service
	// criteria, ISO annex references) as a closed string map rather than
	// open-ended dynamic payloads.
	Extensions map[string]string `json:"extensions,omitempty" yaml:"extensions,omitempty"`
}

// Key returns the control's identifying key.
func (c Control) Key() ControlKey {
	return ControlKey{FrameworkID: c.FrameworkID, ControlID: c.ControlID}
}

// CatalogSnapshot is an immutable view of the catalog at a version.
type CatalogSnapshot struct {
	Version  int64
	Controls []Control
}

// ControlCatalog stores per-framework control definitions. Imports replace
// the full control set and bump the version; readers always see a complete
// snapshot of one version.
type ControlCatalog struct {
	mu       sync.RWMutex
	version  int64
	controls []Control
	byKey    map[ControlKey]int
}

// NewControlCatalog creates an empty catalog.
func NewControlCatalog() *ControlCatalog {
	return &ControlCatalog{byKey: make(map[ControlKey]int)}
}

// Import replaces the catalog content with the given controls and returns
// the new catalog version. An empty import or duplicate control keys are
// rejected as configuration errors.
func (cc *ControlCatalog) Import(controls []Control) (int64, error) {
	if len(controls) == 0 {
		return 0, fmt.Errorf("catalog import: empty control list: %w", ErrConfiguration)
	}

	byKey := make(map[ControlKey]int, len(controls))
	for i, c := range controls {
		if c.FrameworkID == "" || c.ControlID == "" {
			return 0, fmt.Errorf("catalog import: control %d missing framework or control id: %w", i, ErrConfiguration)
		}
		key := c.Key()
		if _, dup := byKey[key]; dup {
			return 0, fmt.Errorf("catalog import: duplicate control %s: %w", key, ErrConfiguration)
		}
		byKey[key] = i
	}

	copied := make([]Control, len(controls))
	copy(copied, controls)

	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.version++
	cc.controls = copied
	cc.byKey = byKey
	return cc.version, nil
}

// Snapshot returns an immutable view of the current catalog version.
func (cc *ControlCatalog) Snapshot() CatalogSnapshot {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	controls := make([]Control, len(cc.controls))
	copy(controls, cc.controls)
	return CatalogSnapshot{Version: cc.version, Controls: controls}
}

// Get returns the control for a key, if present.
func (cc *ControlCatalog) Get(key ControlKey) (Control, bool) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	idx, ok := cc.byKey[key]
	if !ok {
		return Control{}, false
	}
	return cc.controls[idx], true
}

// Version returns the current catalog version. Version 0 means no import
// has happened yet.
func (cc *ControlCatalog) Version() int64 {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return cc.version
}

// Frameworks returns the distinct framework IDs in the catalog, in first-seen
// order.
func (cc *ControlCatalog) Frameworks() []string {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, c := range cc.controls {
		if !seen[c.FrameworkID] {
			seen[c.FrameworkID] = true
			out = append(out, c.FrameworkID)
		}
	}
	return out
}

// Len returns the number of controls in the current version.
func (cc *ControlCatalog) Len() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.controls)
}
