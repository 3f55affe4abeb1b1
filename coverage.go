package trustplane

import (
	"fmt"
	"time"
)

// DecayConfig controls staleness decay of evidence confidence.
type DecayConfig struct {
	// FreshnessWindow is the age up to which evidence keeps full confidence.
	// Default: 90 days.
	FreshnessWindow time.Duration

	// Floor is the minimum decay multiplier. Evidence older than twice the
	// freshness window keeps this fraction of its confidence; it never decays
	// to zero. Default: 0.5.
	Floor float64
}

// CoverageConfig configures trust score computation.
type CoverageConfig struct {
	Decay DecayConfig

	// FrameworkWeights sets per-framework weights for the overall trust
	// score. Frameworks absent from the map weigh 1. Default: equal weights.
	FrameworkWeights map[string]float64
}

// DefaultCoverageConfig returns scoring defaults.
func DefaultCoverageConfig() CoverageConfig {
	return CoverageConfig{
		Decay: DecayConfig{
			FreshnessWindow: 90 * 24 * time.Hour,
			Floor:           0.5,
		},
	}
}

// effectiveConfidence applies linear staleness decay: full confidence within
// the freshness window, then a linear drop reaching the floor at twice the
// window. Stale evidence still counts partially, never zero.
func effectiveConfidence(confidence float64, age time.Duration, cfg DecayConfig) float64 {
	window := cfg.FreshnessWindow
	if window <= 0 {
		window = 90 * 24 * time.Hour
	}
	floor := cfg.Floor
	if floor <= 0 || floor > 1 {
		floor = 0.5
	}

	if age <= window {
		return confidence
	}
	if age >= 2*window {
		return confidence * floor
	}
	frac := float64(age-window) / float64(window)
	return confidence * (1 - frac*(1-floor))
}

// ClusterCoverage is the evidenced fraction for one canonical cluster.
type ClusterCoverage struct {
	ClusterID int     `json:"cluster_id"`
	Coverage  float64 `json:"coverage"` // 0..1
	Evidence  int     `json:"evidence"` // scorable items considered
}

// TrustScoreReport is the output of a coverage computation. Scores are on a
// 0-100 scale; per-cluster coverage is 0..1.
type TrustScoreReport struct {
	OrgID          string             `json:"org_id"`
	MappingVersion int64              `json:"mapping_version"`
	GeneratedAt    time.Time          `json:"generated_at"`
	OverallScore   float64            `json:"overall_score"`
	Grade          string             `json:"grade"`
	PerFramework   map[string]float64 `json:"per_framework"`
	PerCluster     []ClusterCoverage  `json:"per_cluster"`
	EvidenceBySrc  map[string]int     `json:"evidence_by_source,omitempty"`
}

// trustGrade maps a 0-100 score to a letter grade.
func trustGrade(score float64) string {
	switch {
	case score >= 97:
		return "A+"
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	default:
		return "D"
	}
}

// ComputeCoverage derives per-cluster coverage, per-framework scores, and the
// overall trust score for a tenant. It is a pure function of the mapping and
// evidence snapshots: no hidden state, identical inputs produce identical
// output.
//
// Per cluster, coverage is the maximum effective confidence among verified or
// auto-approved evidence mapped to the cluster. Clusters with no evidence
// contribute zero but stay in the denominator. Per framework, cluster
// coverage is weighted by the number of that framework's controls in the
// cluster.
func ComputeCoverage(orgID string, mapping *ClusterMapping, evidence []EvidenceItem, cfg CoverageConfig, now time.Time) (*TrustScoreReport, error) {
	if mapping == nil || len(mapping.Clusters) == 0 {
		return nil, fmt.Errorf("coverage: no cluster mapping published: %w", ErrConfiguration)
	}
	if now.IsZero() {
		now = time.Now()
	}

	// Best effective confidence per cluster.
	best := make([]float64, len(mapping.Clusters))
	counts := make([]int, len(mapping.Clusters))
	for _, it := range evidence {
		if it.OrgID != orgID || !it.Status.scorable() {
			continue
		}
		if it.ClusterID < 0 || it.ClusterID >= len(mapping.Clusters) {
			continue
		}
		eff := effectiveConfidence(it.Confidence, now.Sub(it.CollectedAt), cfg.Decay)
		counts[it.ClusterID]++
		if eff > best[it.ClusterID] {
			best[it.ClusterID] = eff
		}
	}

	report := &TrustScoreReport{
		OrgID:          orgID,
		MappingVersion: mapping.Version,
		GeneratedAt:    now,
		PerFramework:   make(map[string]float64),
		PerCluster:     make([]ClusterCoverage, 0, len(mapping.Clusters)),
	}

	// Per-framework weighted means. Weight of a cluster within a framework
	// is the number of that framework's controls mapped to the cluster.
	type accum struct{ num, den float64 }
	byFramework := make(map[string]*accum)
	for i, cl := range mapping.Clusters {
		report.PerCluster = append(report.PerCluster, ClusterCoverage{
			ClusterID: cl.ID,
			Coverage:  best[i],
			Evidence:  counts[i],
		})
		frameworkControls := make(map[string]int)
		for _, m := range cl.Members {
			frameworkControls[m.FrameworkID]++
		}
		for fw, n := range frameworkControls {
			a := byFramework[fw]
			if a == nil {
				a = &accum{}
				byFramework[fw] = a
			}
			a.num += best[i] * float64(n)
			a.den += float64(n)
		}
	}

	var overallNum, overallDen float64
	for fw, a := range byFramework {
		score := 0.0
		if a.den > 0 {
			score = a.num / a.den * 100
		}
		report.PerFramework[fw] = score

		weight := 1.0
		if w, ok := cfg.FrameworkWeights[fw]; ok && w > 0 {
			weight = w
		}
		overallNum += score * weight
		overallDen += weight
	}
	if overallDen > 0 {
		report.OverallScore = overallNum / overallDen
	}
	report.Grade = trustGrade(report.OverallScore)

	return report, nil
}
