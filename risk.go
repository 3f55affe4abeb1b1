package trustplane

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// RiskImpactEntry is static reference data describing the financial risk
// profile of a finding category. Entries are read-only once loaded.
type RiskImpactEntry struct {
	Category              string  `json:"category" yaml:"category"`
	Likelihood            float64 `json:"likelihood" yaml:"likelihood"`
	AverageIncidentCost   float64 `json:"average_incident_cost" yaml:"average_incident_cost"`
	ComplexityToRemediate float64 `json:"complexity_to_remediate" yaml:"complexity_to_remediate"`
}

// ImpactEstimate is the result of a financial impact estimation.
type ImpactEstimate struct {
	Category   string   `json:"category"`
	BaseCost   float64  `json:"base_cost"`
	Multiplier float64  `json:"multiplier"`
	Impact     float64  `json:"impact"`
	Tags       []string `json:"tags,omitempty"` // tags that contributed a multiplier
}

// RiskConfig configures the risk impact model.
type RiskConfig struct {
	// Entries is the risk impact reference table. Loaded from TablePath if
	// empty and a path is set.
	Entries []RiskImpactEntry

	// TablePath optionally points at a YAML file holding the reference table
	// and tag multipliers.
	TablePath string

	// TagMultipliers maps a context tag to its multiplicative impact
	// adjustment, e.g. "regulatory-audit": 1.5. Tags not in the map are
	// ignored.
	TagMultipliers map[string]float64

	// ImpactCeiling caps the composed multiplier to prevent runaway
	// escalation. Default: 3.0.
	ImpactCeiling float64
}

// DefaultRiskConfig returns risk model defaults.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		ImpactCeiling: 3.0,
		TagMultipliers: map[string]float64{
			"high-value-customer": 1.3,
			"regulatory-audit":    1.5,
			"production":          1.2,
			"internet-facing":     1.25,
			"contains-pii":        1.4,
		},
	}
}

// RiskModel computes remediation priority scores and financial impact
// estimates from the reference table. All outputs are deterministic given
// identical inputs.
type RiskModel struct {
	mu          sync.RWMutex
	entries     map[string]RiskImpactEntry
	multipliers map[string]float64
	ceiling     float64
}

// NewRiskModel creates a risk model from configuration. If TablePath is set
// it is loaded and merged over the inline entries.
func NewRiskModel(cfg RiskConfig) (*RiskModel, error) {
	m := &RiskModel{
		entries:     make(map[string]RiskImpactEntry),
		multipliers: make(map[string]float64),
		ceiling:     cfg.ImpactCeiling,
	}
	if m.ceiling <= 1 {
		m.ceiling = 3.0
	}
	for tag, f := range cfg.TagMultipliers {
		if f <= 0 {
			return nil, fmt.Errorf("risk: multiplier for tag %q must be positive: %w", tag, ErrConfiguration)
		}
		m.multipliers[tag] = f
	}
	for _, e := range cfg.Entries {
		if err := m.addEntry(e); err != nil {
			return nil, err
		}
	}
	if cfg.TablePath != "" {
		table, err := LoadRiskTable(cfg.TablePath)
		if err != nil {
			return nil, err
		}
		for _, e := range table.Entries {
			if err := m.addEntry(e); err != nil {
				return nil, err
			}
		}
		for tag, f := range table.TagMultipliers {
			m.multipliers[tag] = f
		}
	}
	return m, nil
}

func (m *RiskModel) addEntry(e RiskImpactEntry) error {
	if e.Category == "" {
		return fmt.Errorf("risk: entry missing category: %w", ErrConfiguration)
	}
	if e.Likelihood < 0 || e.Likelihood > 1 {
		return fmt.Errorf("risk: likelihood %v for %q out of range [0, 1]: %w", e.Likelihood, e.Category, ErrConfiguration)
	}
	if e.AverageIncidentCost < 0 {
		return fmt.Errorf("risk: negative incident cost for %q: %w", e.Category, ErrConfiguration)
	}
	m.entries[e.Category] = e
	return nil
}

// Entry returns the reference entry for a category.
func (m *RiskModel) Entry(category string) (RiskImpactEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[category]
	return e, ok
}

// PriorityScore ranks a category for remediation. The score rewards cheap
// fixes for high-likelihood, high-cost categories:
//
//	likelihood * averageIncidentCost / max(complexityToRemediate, 1)
func (m *RiskModel) PriorityScore(category string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[category]
	if !ok {
		return 0, newReferenceError("category", category, "not in risk impact table")
	}
	complexity := e.ComplexityToRemediate
	if complexity < 1 {
		complexity = 1
	}
	return e.Likelihood * e.AverageIncidentCost / complexity, nil
}

// EstimateImpact computes the estimated financial impact of a finding.
// The base cost for the category is adjusted by the multiplier of each
// recognized context tag; multipliers compose multiplicatively and the
// composed factor is capped at the configured ceiling.
func (m *RiskModel) EstimateImpact(category string, contextTags []string) (ImpactEstimate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[category]
	if !ok {
		return ImpactEstimate{}, newReferenceError("category", category, "not in risk impact table")
	}

	est := ImpactEstimate{
		Category:   category,
		BaseCost:   e.AverageIncidentCost,
		Multiplier: 1.0,
	}
	// Sorted iteration keeps the applied-tags list reproducible.
	tags := append([]string(nil), contextTags...)
	sort.Strings(tags)
	seen := make(map[string]bool)
	for _, tag := range tags {
		if seen[tag] {
			continue
		}
		seen[tag] = true
		if f, ok := m.multipliers[tag]; ok {
			est.Multiplier *= f
			est.Tags = append(est.Tags, tag)
		}
	}
	if est.Multiplier > m.ceiling {
		est.Multiplier = m.ceiling
	}
	est.Impact = est.BaseCost * est.Multiplier
	return est, nil
}

// Priorities returns all categories ranked by descending priority score.
func (m *RiskModel) Priorities() []RiskImpactEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RiskImpactEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		si := score(out[i])
		sj := score(out[j])
		if si != sj {
			return si > sj
		}
		return out[i].Category < out[j].Category
	})
	return out
}

func score(e RiskImpactEntry) float64 {
	c := e.ComplexityToRemediate
	if c < 1 {
		c = 1
	}
	return e.Likelihood * e.AverageIncidentCost / c
}

// RiskTable is the YAML file format for the risk reference data.
type RiskTable struct {
	Entries        []RiskImpactEntry  `yaml:"entries"`
	TagMultipliers map[string]float64 `yaml:"tag_multipliers,omitempty"`
}

// LoadRiskTable reads a risk impact reference table from a YAML file.
func LoadRiskTable(path string) (*RiskTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("risk: reading table %s: %w", path, err)
	}
	var table RiskTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("risk: parsing table %s: %w", path, err)
	}
	return &table, nil
}
