package trustplane

import (
	"fmt"
	"strings"
)

// NormalizerConfig configures control normalization.
type NormalizerConfig struct {
	// SimilarityThreshold is the minimum Jaccard similarity between a
	// control's canonical token set and a cluster representative for the
	// control to join the cluster. Range (0, 1]. Default: 0.8.
	SimilarityThreshold float64

	// Stopwords are stripped from descriptions before comparison. If nil,
	// DefaultStopwords is used.
	Stopwords []string

	// Synonyms folds domain-specific variants to a canonical token, e.g.
	// "encipher" -> "encrypt". If nil, DefaultSynonyms is used.
	Synonyms map[string]string

	// Overrides force two controls into the same cluster regardless of
	// computed similarity. Overrides always win.
	Overrides []OverridePair
}

// OverridePair is an admin-supplied equivalence between two controls.
type OverridePair struct {
	A ControlKey `json:"a" yaml:"a"`
	B ControlKey `json:"b" yaml:"b"`
}

// DefaultNormalizerConfig returns normalization defaults.
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{SimilarityThreshold: 0.8}
}

// DefaultStopwords are common English and boilerplate compliance words that
// carry no discriminating signal between control descriptions.
var DefaultStopwords = []string{
	"a", "an", "the", "and", "or", "of", "to", "in", "on", "for", "by",
	"with", "is", "are", "be", "been", "that", "this", "all", "any", "must",
	"shall", "should", "will", "ensure", "ensures", "organization",
	"entity", "company", "appropriate", "adequate",
}

// DefaultSynonyms folds common compliance phrasing variants onto canonical
// tokens so that differently worded controls compare as equivalent.
var DefaultSynonyms = map[string]string{
	"encipher":       "encrypt",
	"enciphered":     "encrypt",
	"encrypted":      "encrypt",
	"encryption":     "encrypt",
	"cryptographic":  "encrypt",
	"cryptography":   "encrypt",
	"stored":         "rest",
	"storage":        "rest",
	"transit":        "transmission",
	"transmitted":    "transmission",
	"credentials":    "credential",
	"passwords":      "password",
	"authenticate":   "authentication",
	"authenticated":  "authentication",
	"mfa":            "multifactor",
	"multi-factor":   "multifactor",
	"logs":           "log",
	"logging":        "log",
	"audited":        "audit",
	"auditing":       "audit",
	"backups":        "backup",
	"vulnerability":  "vulnerabilities",
	"patched":        "patch",
	"patching":       "patch",
	"personnel":      "employee",
	"employees":      "employee",
	"staff":          "employee",
	"vendors":        "vendor",
	"suppliers":      "vendor",
	"third-party":    "vendor",
	"data":           "information",
	"pii":            "information",
	"access-control": "access",
}

// CanonicalCluster is a deduplicated requirement group spanning frameworks.
// Every control in the source catalog belongs to exactly one cluster.
type CanonicalCluster struct {
	ID             int          `json:"id"`
	Members        []ControlKey `json:"members"`
	Representative string       `json:"representative"`
	Category       string       `json:"category"`

	// repTokens is the canonical token set of the representative
	// description, kept for similarity comparison during clustering.
	repTokens map[string]struct{}
}

// NormalizeSummary reports the outcome of a normalization run.
type NormalizeSummary struct {
	CatalogVersion int64 `json:"catalog_version"`
	MappingVersion int64 `json:"mapping_version"`
	Controls       int   `json:"controls"`
	Clusters       int   `json:"clusters"`
	Merged         int   `json:"merged"`     // controls that joined an existing cluster
	Singletons     int   `json:"singletons"` // clusters with a single member
	Overridden     int   `json:"overridden"` // controls placed by manual override
}

// ClusterMapping is an immutable, versioned assignment of every control to
// exactly one canonical cluster. Mappings are replaced wholesale by re-running
// normalization, never mutated in place, so concurrent readers can hold a
// snapshot safely.
type ClusterMapping struct {
	Version  int64              `json:"version"`
	Clusters []CanonicalCluster `json:"clusters"`

	byControl map[ControlKey]int
}

// ClusterFor returns the cluster index a control belongs to.
func (m *ClusterMapping) ClusterFor(key ControlKey) (int, bool) {
	idx, ok := m.byControl[key]
	return idx, ok
}

// Cluster returns the cluster with the given ID.
func (m *ClusterMapping) Cluster(id int) (CanonicalCluster, bool) {
	if id < 0 || id >= len(m.Clusters) {
		return CanonicalCluster{}, false
	}
	return m.Clusters[id], true
}

// rebuildIndex reconstructs the control index, e.g. after decoding a mapping
// from an archive.
func (m *ClusterMapping) rebuildIndex() {
	m.byControl = make(map[ControlKey]int)
	for _, cl := range m.Clusters {
		for _, key := range cl.Members {
			m.byControl[key] = cl.ID
		}
	}
}

// canonicalTokens lowercases a description, strips punctuation and stopwords,
// and folds synonyms onto canonical tokens.
func canonicalTokens(description string, stopwords map[string]bool, synonyms map[string]string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(description), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '-')
	})

	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "-")
		if f == "" || stopwords[f] {
			continue
		}
		if canon, ok := synonyms[f]; ok {
			f = canon
		}
		tokens[f] = struct{}{}
	}
	return tokens
}

// jaccard computes the Jaccard similarity of two token sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	inter := 0
	for t := range small {
		if _, ok := large[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Normalize clusters per-framework controls into canonical requirement
// groups. Controls are processed in catalog order; each joins the existing
// cluster whose representative it is most similar to (at or above the
// threshold), with ties broken by lowest cluster ID, or starts a new cluster.
// Manual overrides short-circuit similarity and always win. The result is
// deterministic: re-running on the same catalog and config reproduces
// identical membership.
func Normalize(catalog []Control, cfg NormalizerConfig) ([]CanonicalCluster, NormalizeSummary, error) {
	if len(catalog) == 0 {
		return nil, NormalizeSummary{}, fmt.Errorf("normalize: empty catalog: %w", ErrConfiguration)
	}
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		return nil, NormalizeSummary{}, fmt.Errorf("normalize: similarity threshold %v out of range (0, 1]: %w",
			cfg.SimilarityThreshold, ErrConfiguration)
	}

	stopwords := make(map[string]bool)
	words := cfg.Stopwords
	if words == nil {
		words = DefaultStopwords
	}
	for _, w := range words {
		stopwords[strings.ToLower(w)] = true
	}
	synonyms := cfg.Synonyms
	if synonyms == nil {
		synonyms = DefaultSynonyms
	}

	known := make(map[ControlKey]bool, len(catalog))
	for _, c := range catalog {
		known[c.Key()] = true
	}

	// Overrides form equivalence sets; forced[key] points at the peer group.
	forced := make(map[ControlKey][]ControlKey)
	for _, p := range cfg.Overrides {
		if !known[p.A] {
			return nil, NormalizeSummary{}, newReferenceError("control", p.A.String(), "override source not in catalog")
		}
		if !known[p.B] {
			return nil, NormalizeSummary{}, newReferenceError("control", p.B.String(), "override target not in catalog")
		}
		forced[p.A] = append(forced[p.A], p.B)
		forced[p.B] = append(forced[p.B], p.A)
	}

	var clusters []CanonicalCluster
	assigned := make(map[ControlKey]int, len(catalog))
	summary := NormalizeSummary{Controls: len(catalog)}

	for _, control := range catalog {
		key := control.Key()
		tokens := canonicalTokens(control.Description, stopwords, synonyms)

		// Overrides win over computed similarity: if any override peer is
		// already clustered, join that cluster directly.
		target := -1
		for _, peer := range forced[key] {
			if idx, ok := assigned[peer]; ok {
				target = idx
				break
			}
		}
		if target >= 0 {
			summary.Overridden++
		} else {
			bestScore := 0.0
			for i := range clusters {
				score := jaccard(tokens, clusters[i].repTokens)
				if score < cfg.SimilarityThreshold {
					continue
				}
				// Strictly-greater keeps the lowest cluster ID on ties.
				if score > bestScore {
					bestScore = score
					target = i
				}
			}
		}

		if target >= 0 {
			clusters[target].Members = append(clusters[target].Members, key)
			assigned[key] = target
			summary.Merged++
			continue
		}

		cluster := CanonicalCluster{
			ID:             len(clusters),
			Members:        []ControlKey{key},
			Representative: control.Description,
			Category:       control.Category,
			repTokens:      tokens,
		}
		clusters = append(clusters, cluster)
		assigned[key] = cluster.ID
	}

	for _, cl := range clusters {
		if len(cl.Members) == 1 {
			summary.Singletons++
		}
	}
	summary.Clusters = len(clusters)

	return clusters, summary, nil
}

// NewClusterMapping builds a versioned mapping from a normalization result.
func NewClusterMapping(version int64, clusters []CanonicalCluster) *ClusterMapping {
	m := &ClusterMapping{Version: version, Clusters: clusters}
	m.rebuildIndex()
	return m
}
