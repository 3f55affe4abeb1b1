// Package trustplane implements the control normalization, trust scoring,
// and risk-weighted routing engine behind a compliance automation platform.
//
// The engine maps heterogeneous regulatory control sets into canonical
// requirement clusters, derives coverage and trust scores from collected
// evidence, prioritizes remediation by financial risk, and routes incoming
// findings to stakeholders using monetary thresholds with pluggable
// exception overrides.
//
// # Basic Usage
//
// Open an engine with default configuration:
//
//	eng, err := trustplane.Open(trustplane.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
// Import a control catalog (this runs normalization and publishes a new
// cluster mapping version):
//
//	summary, err := eng.ImportCatalog([]trustplane.Control{
//	    {FrameworkID: "SOC2", ControlID: "CC6.1", Category: "encryption",
//	        Description: "Encrypt sensitive data at rest", RiskLevel: trustplane.RiskHigh},
//	})
//
// Ingest evidence and query the trust score:
//
//	item, err := eng.IngestEvidence(trustplane.EvidenceIngest{
//	    OrgID:      "acme",
//	    ClusterID:  0,
//	    Confidence: 0.9,
//	    SourceSystem: "aws-config",
//	})
//	report, err := eng.GetTrustScore("acme")
//
// Submit findings for routing:
//
//	decision, err := eng.SubmitFinding(ctx, "acme", "inc-42",
//	    "unencrypted-database", []string{"regulatory-audit"})
//
// # Features
//
// Normalization:
//   - Stopword stripping and domain synonym folding of control descriptions
//   - Greedy token-set clustering with deterministic tie-breaks
//   - Manual override pairs that force cluster membership
//   - Versioned, atomically swapped cluster mappings (copy-on-write)
//
// Scoring:
//   - Per-cluster coverage with linear staleness decay and a hard floor
//   - Per-framework scores weighted by control counts
//   - Overall trust score with configurable framework weights
//
// Routing:
//   - Ordered risk-appetite thresholds validated as a gap-free partition
//   - Multiplicative context-tag impact adjustment with a ceiling
//   - Pluggable exception classifier with a confidence cutoff
//   - Per-incident serialization and an append-only decision log
//
// Integrations:
//   - Optional HTTP API with API-key authentication and rate limiting
//   - SQLite persistence for evidence and decisions
//   - Snappy-compressed, optionally encrypted archives on file or S3 backends
//   - Prometheus remote-write export of score history
//   - WebSocket streaming of routing decisions
//
// # Configuration
//
// Use [Config] to customize behavior, or [DefaultConfig] for sensible
// defaults. Configuration, risk-impact tables, synonym dictionaries, and
// threshold lists can also be loaded from YAML files.
package trustplane
