package trustplane

import (
	"errors"
	"math"
	"testing"
	"time"
)

func testMapping(t *testing.T) *ClusterMapping {
	t.Helper()
	clusters, _, err := Normalize(encryptionCatalog(), NormalizerConfig{SimilarityThreshold: 0.8})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	return NewClusterMapping(1, clusters)
}

func TestEffectiveConfidence_FreshEvidenceKeepsFullConfidence(t *testing.T) {
	cfg := DecayConfig{FreshnessWindow: 90 * 24 * time.Hour, Floor: 0.5}

	if got := effectiveConfidence(0.9, 10*24*time.Hour, cfg); got != 0.9 {
		t.Errorf("expected no decay within freshness window, got %v", got)
	}
	if got := effectiveConfidence(0.9, 90*24*time.Hour, cfg); got != 0.9 {
		t.Errorf("expected no decay at window boundary, got %v", got)
	}
}

func TestEffectiveConfidence_LinearDecayToFloor(t *testing.T) {
	cfg := DecayConfig{FreshnessWindow: 90 * 24 * time.Hour, Floor: 0.5}

	// Midway between the window and twice the window, half the decay applies.
	mid := effectiveConfidence(0.8, 135*24*time.Hour, cfg)
	want := 0.8 * 0.75
	if math.Abs(mid-want) > 1e-9 {
		t.Errorf("expected %v at midpoint, got %v", want, mid)
	}

	// Evidence never decays below the floor, no matter how old.
	for _, age := range []time.Duration{180 * 24 * time.Hour, 365 * 24 * time.Hour, 10 * 365 * 24 * time.Hour} {
		got := effectiveConfidence(0.8, age, cfg)
		if got < 0.8*0.5-1e-9 {
			t.Errorf("age %v: confidence %v fell below floor", age, got)
		}
	}
}

func TestComputeCoverage_VerifiedEvidenceScoresCluster(t *testing.T) {
	mapping := testMapping(t)
	now := time.Now()
	evidence := []EvidenceItem{{
		ID: "ev-1", OrgID: "acme", ClusterID: 0, Confidence: 0.9,
		Status: EvidenceVerified, CollectedAt: now.Add(-10 * 24 * time.Hour),
	}}

	report, err := ComputeCoverage("acme", mapping, evidence, DefaultCoverageConfig(), now)
	if err != nil {
		t.Fatalf("ComputeCoverage failed: %v", err)
	}

	if math.Abs(report.PerCluster[0].Coverage-0.9) > 1e-9 {
		t.Errorf("expected cluster coverage 0.9, got %v", report.PerCluster[0].Coverage)
	}
	for fw, score := range report.PerFramework {
		if math.Abs(score-90) > 1e-9 {
			t.Errorf("framework %s: expected score 90, got %v", fw, score)
		}
	}
	if math.Abs(report.OverallScore-90) > 1e-9 {
		t.Errorf("expected overall score 90, got %v", report.OverallScore)
	}
	if report.Grade != "A" {
		t.Errorf("expected grade A, got %s", report.Grade)
	}
}

func TestComputeCoverage_PendingAndRejectedIgnored(t *testing.T) {
	mapping := testMapping(t)
	now := time.Now()
	evidence := []EvidenceItem{
		{ID: "ev-1", OrgID: "acme", ClusterID: 0, Confidence: 0.9, Status: EvidencePending, CollectedAt: now},
		{ID: "ev-2", OrgID: "acme", ClusterID: 0, Confidence: 0.8, Status: EvidenceRejected, CollectedAt: now},
		{ID: "ev-3", OrgID: "acme", ClusterID: 0, Confidence: 0.4, Status: EvidenceAutoApproved, CollectedAt: now},
	}

	report, err := ComputeCoverage("acme", mapping, evidence, DefaultCoverageConfig(), now)
	if err != nil {
		t.Fatalf("ComputeCoverage failed: %v", err)
	}
	if math.Abs(report.PerCluster[0].Coverage-0.4) > 1e-9 {
		t.Errorf("expected only auto-approved evidence to count, got %v", report.PerCluster[0].Coverage)
	}
}

func TestComputeCoverage_Monotonicity(t *testing.T) {
	mapping := testMapping(t)
	now := time.Now()
	evidence := []EvidenceItem{{
		ID: "ev-1", OrgID: "acme", ClusterID: 0, Confidence: 0.6,
		Status: EvidenceVerified, CollectedAt: now,
	}}

	before, err := ComputeCoverage("acme", mapping, evidence, DefaultCoverageConfig(), now)
	if err != nil {
		t.Fatalf("ComputeCoverage failed: %v", err)
	}

	evidence = append(evidence, EvidenceItem{
		ID: "ev-2", OrgID: "acme", ClusterID: 0, Confidence: 0.8,
		Status: EvidenceVerified, CollectedAt: now,
	})
	after, err := ComputeCoverage("acme", mapping, evidence, DefaultCoverageConfig(), now)
	if err != nil {
		t.Fatalf("ComputeCoverage failed: %v", err)
	}

	if after.PerCluster[0].Coverage < before.PerCluster[0].Coverage {
		t.Errorf("coverage decreased after adding stronger evidence: %v -> %v",
			before.PerCluster[0].Coverage, after.PerCluster[0].Coverage)
	}
}

func TestComputeCoverage_EmptyClusterDepressesScore(t *testing.T) {
	catalog := append(encryptionCatalog(), Control{
		FrameworkID: "SOC2", ControlID: "CC1.4", Category: "hr",
		Description: "Background checks performed for new employees before hire",
	})
	clusters, _, err := Normalize(catalog, NormalizerConfig{SimilarityThreshold: 0.8})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	mapping := NewClusterMapping(1, clusters)

	now := time.Now()
	evidence := []EvidenceItem{{
		ID: "ev-1", OrgID: "acme", ClusterID: 0, Confidence: 1.0,
		Status: EvidenceVerified, CollectedAt: now,
	}}

	report, err := ComputeCoverage("acme", mapping, evidence, DefaultCoverageConfig(), now)
	if err != nil {
		t.Fatalf("ComputeCoverage failed: %v", err)
	}

	// SOC2 has one control in the evidenced cluster and one in the empty
	// cluster: its score must be dragged down to 50, not excluded.
	if math.Abs(report.PerFramework["SOC2"]-50) > 1e-9 {
		t.Errorf("expected SOC2 score 50 with an unevidenced cluster, got %v", report.PerFramework["SOC2"])
	}
	if math.Abs(report.PerFramework["ISO27001"]-100) > 1e-9 {
		t.Errorf("expected ISO27001 score 100, got %v", report.PerFramework["ISO27001"])
	}
}

func TestComputeCoverage_FrameworkWeights(t *testing.T) {
	mapping := testMapping(t)
	now := time.Now()
	evidence := []EvidenceItem{{
		ID: "ev-1", OrgID: "acme", ClusterID: 0, Confidence: 1.0,
		Status: EvidenceVerified, CollectedAt: now,
	}}

	cfg := DefaultCoverageConfig()
	cfg.FrameworkWeights = map[string]float64{"SOC2": 2, "ISO27001": 1, "PCI-DSS": 1}
	report, err := ComputeCoverage("acme", mapping, evidence, cfg, now)
	if err != nil {
		t.Fatalf("ComputeCoverage failed: %v", err)
	}
	// All frameworks score 100 here, so weighting must not change the mean.
	if math.Abs(report.OverallScore-100) > 1e-9 {
		t.Errorf("expected overall 100, got %v", report.OverallScore)
	}
}

func TestComputeCoverage_TenantIsolation(t *testing.T) {
	mapping := testMapping(t)
	now := time.Now()
	evidence := []EvidenceItem{{
		ID: "ev-1", OrgID: "other", ClusterID: 0, Confidence: 0.9,
		Status: EvidenceVerified, CollectedAt: now,
	}}

	report, err := ComputeCoverage("acme", mapping, evidence, DefaultCoverageConfig(), now)
	if err != nil {
		t.Fatalf("ComputeCoverage failed: %v", err)
	}
	if report.OverallScore != 0 {
		t.Errorf("another tenant's evidence leaked into the score: %v", report.OverallScore)
	}
}

func TestComputeCoverage_NoMapping(t *testing.T) {
	_, err := ComputeCoverage("acme", nil, nil, DefaultCoverageConfig(), time.Now())
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestTrustGrade(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{98, "A+"}, {92, "A"}, {85, "B"}, {73, "C"}, {40, "D"},
	}
	for _, c := range cases {
		if got := trustGrade(c.score); got != c.want {
			t.Errorf("trustGrade(%v) = %s, want %s", c.score, got, c.want)
		}
	}
}
