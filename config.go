package trustplane

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines engine configuration.
type Config struct {
	// Normalizer configures control clustering.
	Normalizer NormalizerConfig

	// Coverage configures trust score computation.
	Coverage CoverageConfig

	// Risk configures the financial impact model.
	Risk RiskConfig

	// Routing configures threshold routing and notification retries.
	Routing RoutingConfig

	// HTTP configures the optional HTTP API server.
	HTTP HTTPConfig

	// Stream configures the WebSocket decision stream.
	Stream StreamConfig

	// Store optionally enables SQLite persistence for evidence and
	// decisions. If nil, state is in-memory only.
	Store *StoreConfig

	// Archive optionally enables audit archiving of mapping versions and
	// decision logs. If nil, archiving is disabled.
	Archive *ArchiveConfig

	// RemoteWrite optionally enables trust-score export to a Prometheus
	// remote-write endpoint. If nil, export is disabled.
	RemoteWrite *RemoteWriteConfig

	// ExceptionRules seeds the default rule-based exception classifier.
	// Ignored when a custom classifier is installed via Engine.SetClassifier.
	ExceptionRules []ExceptionRule
}

// DefaultConfig returns a configuration with sensible defaults: in-memory
// state, no HTTP server, default normalization and scoring parameters.
func DefaultConfig() Config {
	return Config{
		Normalizer: DefaultNormalizerConfig(),
		Coverage:   DefaultCoverageConfig(),
		Risk:       DefaultRiskConfig(),
		Routing:    DefaultRoutingConfig(),
		Stream:     DefaultStreamConfig(),
	}
}

// fileConfig is the YAML-friendly layout of Config.
type fileConfig struct {
	Normalizer struct {
		SimilarityThreshold float64           `yaml:"similarity_threshold"`
		Stopwords           []string          `yaml:"stopwords,omitempty"`
		Synonyms            map[string]string `yaml:"synonyms,omitempty"`
		Overrides           []OverridePair    `yaml:"overrides,omitempty"`
	} `yaml:"normalizer"`
	Coverage struct {
		FreshnessWindowDays int                `yaml:"freshness_window_days"`
		DecayFloor          float64            `yaml:"decay_floor"`
		FrameworkWeights    map[string]float64 `yaml:"framework_weights,omitempty"`
	} `yaml:"coverage"`
	Risk struct {
		TablePath      string             `yaml:"table_path,omitempty"`
		Entries        []RiskImpactEntry  `yaml:"entries,omitempty"`
		TagMultipliers map[string]float64 `yaml:"tag_multipliers,omitempty"`
		ImpactCeiling  float64            `yaml:"impact_ceiling,omitempty"`
	} `yaml:"risk"`
	Routing struct {
		ExceptionCutoff   float64 `yaml:"exception_cutoff,omitempty"`
		DefaultSLAMinutes int     `yaml:"default_sla_minutes,omitempty"`
		NotifyTimeout     string  `yaml:"notify_timeout,omitempty"`
		NotifyMaxAttempts int     `yaml:"notify_max_attempts,omitempty"`
	} `yaml:"routing"`
	HTTP struct {
		Enabled            bool     `yaml:"enabled"`
		Port               int      `yaml:"port,omitempty"`
		APIKeys            []string `yaml:"api_keys,omitempty"`
		ReadOnlyKeys       []string `yaml:"read_only_keys,omitempty"`
		RateLimitPerSecond int      `yaml:"rate_limit_per_second,omitempty"`
	} `yaml:"http"`
	Store       *StoreConfig       `yaml:"store,omitempty"`
	Archive     *ArchiveConfig     `yaml:"archive,omitempty"`
	RemoteWrite *struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout,omitempty"`
	} `yaml:"remote_write,omitempty"`
	ExceptionRules []ExceptionRule `yaml:"exception_rules,omitempty"`
}

// LoadConfigFile reads engine configuration from a YAML file, applying
// defaults for anything unset.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if fc.Normalizer.SimilarityThreshold > 0 {
		cfg.Normalizer.SimilarityThreshold = fc.Normalizer.SimilarityThreshold
	}
	if fc.Normalizer.Stopwords != nil {
		cfg.Normalizer.Stopwords = fc.Normalizer.Stopwords
	}
	if fc.Normalizer.Synonyms != nil {
		cfg.Normalizer.Synonyms = fc.Normalizer.Synonyms
	}
	cfg.Normalizer.Overrides = fc.Normalizer.Overrides

	if fc.Coverage.FreshnessWindowDays > 0 {
		cfg.Coverage.Decay.FreshnessWindow = time.Duration(fc.Coverage.FreshnessWindowDays) * 24 * time.Hour
	}
	if fc.Coverage.DecayFloor > 0 {
		cfg.Coverage.Decay.Floor = fc.Coverage.DecayFloor
	}
	if fc.Coverage.FrameworkWeights != nil {
		cfg.Coverage.FrameworkWeights = fc.Coverage.FrameworkWeights
	}

	cfg.Risk.TablePath = fc.Risk.TablePath
	cfg.Risk.Entries = fc.Risk.Entries
	if fc.Risk.TagMultipliers != nil {
		cfg.Risk.TagMultipliers = fc.Risk.TagMultipliers
	}
	if fc.Risk.ImpactCeiling > 0 {
		cfg.Risk.ImpactCeiling = fc.Risk.ImpactCeiling
	}

	if fc.Routing.ExceptionCutoff > 0 {
		cfg.Routing.ExceptionCutoff = fc.Routing.ExceptionCutoff
	}
	if fc.Routing.DefaultSLAMinutes > 0 {
		cfg.Routing.DefaultSLAMinutes = fc.Routing.DefaultSLAMinutes
	}
	if fc.Routing.NotifyMaxAttempts > 0 {
		cfg.Routing.NotifyMaxAttempts = fc.Routing.NotifyMaxAttempts
	}
	if fc.Routing.NotifyTimeout != "" {
		d, err := time.ParseDuration(fc.Routing.NotifyTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("config: notify_timeout: %w", err)
		}
		cfg.Routing.NotifyTimeout = d
	}

	cfg.HTTP = HTTPConfig{
		Enabled:            fc.HTTP.Enabled,
		Port:               fc.HTTP.Port,
		APIKeys:            fc.HTTP.APIKeys,
		ReadOnlyKeys:       fc.HTTP.ReadOnlyKeys,
		RateLimitPerSecond: fc.HTTP.RateLimitPerSecond,
	}

	cfg.Store = fc.Store
	cfg.Archive = fc.Archive
	if fc.RemoteWrite != nil {
		rw := &RemoteWriteConfig{URL: fc.RemoteWrite.URL}
		if fc.RemoteWrite.Timeout != "" {
			d, err := time.ParseDuration(fc.RemoteWrite.Timeout)
			if err != nil {
				return Config{}, fmt.Errorf("config: remote_write.timeout: %w", err)
			}
			rw.Timeout = d
		}
		cfg.RemoteWrite = rw
	}
	cfg.ExceptionRules = fc.ExceptionRules

	return cfg, nil
}
