package trustplane

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfigFile_FullConfig(t *testing.T) {
	path := writeConfigFile(t, `
normalizer:
  similarity_threshold: 0.7
  synonyms:
    encrypted: encrypt
  overrides:
    - a: {framework: SOC2, control: CC6.1}
      b: {framework: ISO27001, control: A.8.24}
coverage:
  freshness_window_days: 30
  decay_floor: 0.6
  framework_weights:
    SOC2: 2
risk:
  impact_ceiling: 2.5
  entries:
    - category: missing-mfa
      likelihood: 0.6
      average_incident_cost: 1000000
      complexity_to_remediate: 1
routing:
  exception_cutoff: 0.9
  default_sla_minutes: 120
  notify_timeout: 3s
  notify_max_attempts: 5
http:
  enabled: true
  port: 9090
  api_keys: [secret]
store:
  path: /tmp/trustplane.db
remote_write:
  url: http://prometheus:9090/api/v1/write
  timeout: 15s
exception_rules:
  - tags: [known-pattern]
    route: [Compliance]
    confidence: 0.95
`)

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}

	if cfg.Normalizer.SimilarityThreshold != 0.7 {
		t.Errorf("threshold: got %v", cfg.Normalizer.SimilarityThreshold)
	}
	if cfg.Normalizer.Synonyms["encrypted"] != "encrypt" {
		t.Errorf("synonyms: got %v", cfg.Normalizer.Synonyms)
	}
	if len(cfg.Normalizer.Overrides) != 1 || cfg.Normalizer.Overrides[0].A.FrameworkID != "SOC2" {
		t.Errorf("overrides: got %+v", cfg.Normalizer.Overrides)
	}
	if cfg.Coverage.Decay.FreshnessWindow != 30*24*time.Hour {
		t.Errorf("freshness window: got %v", cfg.Coverage.Decay.FreshnessWindow)
	}
	if cfg.Coverage.Decay.Floor != 0.6 {
		t.Errorf("decay floor: got %v", cfg.Coverage.Decay.Floor)
	}
	if cfg.Coverage.FrameworkWeights["SOC2"] != 2 {
		t.Errorf("framework weights: got %v", cfg.Coverage.FrameworkWeights)
	}
	if cfg.Risk.ImpactCeiling != 2.5 || len(cfg.Risk.Entries) != 1 {
		t.Errorf("risk: got ceiling %v, %d entries", cfg.Risk.ImpactCeiling, len(cfg.Risk.Entries))
	}
	if cfg.Routing.ExceptionCutoff != 0.9 || cfg.Routing.DefaultSLAMinutes != 120 {
		t.Errorf("routing: got %+v", cfg.Routing)
	}
	if cfg.Routing.NotifyTimeout != 3*time.Second || cfg.Routing.NotifyMaxAttempts != 5 {
		t.Errorf("notify: got %v / %d", cfg.Routing.NotifyTimeout, cfg.Routing.NotifyMaxAttempts)
	}
	if !cfg.HTTP.Enabled || cfg.HTTP.Port != 9090 || len(cfg.HTTP.APIKeys) != 1 {
		t.Errorf("http: got %+v", cfg.HTTP)
	}
	if cfg.Store == nil || cfg.Store.Path != "/tmp/trustplane.db" {
		t.Errorf("store: got %+v", cfg.Store)
	}
	if cfg.RemoteWrite == nil || cfg.RemoteWrite.Timeout != 15*time.Second {
		t.Errorf("remote write: got %+v", cfg.RemoteWrite)
	}
	if len(cfg.ExceptionRules) != 1 || cfg.ExceptionRules[0].Route[0] != RoleCompliance {
		t.Errorf("exception rules: got %+v", cfg.ExceptionRules)
	}
}

func TestLoadConfigFile_DefaultsApply(t *testing.T) {
	path := writeConfigFile(t, "{}\n")

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	def := DefaultConfig()
	if cfg.Normalizer.SimilarityThreshold != def.Normalizer.SimilarityThreshold {
		t.Errorf("expected default threshold, got %v", cfg.Normalizer.SimilarityThreshold)
	}
	if cfg.Coverage.Decay.FreshnessWindow != def.Coverage.Decay.FreshnessWindow {
		t.Errorf("expected default window, got %v", cfg.Coverage.Decay.FreshnessWindow)
	}
	if cfg.Store != nil || cfg.Archive != nil || cfg.RemoteWrite != nil {
		t.Error("expected optional components disabled by default")
	}
	if cfg.HTTP.Enabled {
		t.Error("expected HTTP disabled by default")
	}
}

func TestLoadConfigFile_Errors(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeConfigFile(t, "normalizer: [not a map\n")
	if _, err := LoadConfigFile(path); err == nil {
		t.Error("expected error for malformed YAML")
	}

	path = writeConfigFile(t, "routing:\n  notify_timeout: nonsense\n")
	if _, err := LoadConfigFile(path); err == nil {
		t.Error("expected error for bad duration")
	}
}
