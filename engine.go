package trustplane

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Engine ties the control catalog, normalizer, evidence ledger, trust score
// calculator, risk model, and routing engine together behind one handle.
//
// Normalization publishes immutable ClusterMapping versions swapped in
// atomically, so catalog imports are safe to run concurrently with read-only
// coverage queries. Coverage and risk computation are pure functions over
// those snapshots.
type Engine struct {
	config  Config
	catalog *ControlCatalog
	mapping atomic.Pointer[ClusterMapping]
	ledger  *EvidenceLedger
	risk    *RiskModel
	router  *Router
	hub     *DecisionHub

	store    *SQLiteStore
	archiver *Archiver
	exporter *RemoteWriteExporter

	http *httpServer

	mu     sync.Mutex // serializes imports and close
	closed bool
}

// Open creates an engine from configuration.
func Open(cfg Config) (*Engine, error) {
	risk, err := NewRiskModel(cfg.Risk)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		config:  cfg,
		catalog: NewControlCatalog(),
		ledger:  NewEvidenceLedger(),
		risk:    risk,
		hub:     NewDecisionHub(cfg.Stream),
	}

	e.router = NewRouter(cfg.Routing, risk)
	e.router.SetHub(e.hub)
	e.router.SetNotifier(LogNotifier{})
	if len(cfg.ExceptionRules) > 0 {
		e.router.SetClassifier(NewRuleClassifier(cfg.ExceptionRules))
	}

	if cfg.Store != nil {
		store, err := OpenSQLiteStore(*cfg.Store)
		if err != nil {
			return nil, err
		}
		e.store = store
		e.router.SetStore(store)
	}

	if cfg.Archive != nil {
		archiver, err := NewArchiver(*cfg.Archive)
		if err != nil {
			e.closeResources()
			return nil, err
		}
		e.archiver = archiver
	}

	if cfg.RemoteWrite != nil {
		exporter, err := NewRemoteWriteExporter(*cfg.RemoteWrite)
		if err != nil {
			e.closeResources()
			return nil, err
		}
		e.exporter = exporter
	}

	if cfg.HTTP.Enabled {
		srv, err := startHTTPServer(e, cfg.HTTP)
		if err != nil {
			e.closeResources()
			return nil, err
		}
		e.http = srv
	}

	return e, nil
}

// SetNotifier replaces the stakeholder notifier (default: log only).
func (e *Engine) SetNotifier(n Notifier) { e.router.SetNotifier(n) }

// SetClassifier replaces the exception classifier.
func (e *Engine) SetClassifier(c ExceptionClassifier) { e.router.SetClassifier(c) }

// Hub returns the decision stream hub.
func (e *Engine) Hub() *DecisionHub { return e.hub }

// Router returns the routing engine.
func (e *Engine) Router() *Router { return e.router }

// Ledger returns the evidence ledger.
func (e *Engine) Ledger() *EvidenceLedger { return e.ledger }

// Risk returns the risk impact model.
func (e *Engine) Risk() *RiskModel { return e.risk }

// Mapping returns the active cluster mapping snapshot, or nil before the
// first catalog import.
func (e *Engine) Mapping() *ClusterMapping { return e.mapping.Load() }

// ImportCatalog imports a control catalog, runs normalization, and publishes
// the resulting cluster mapping as the new active version. Readers holding
// the previous snapshot are unaffected; the swap is atomic.
func (e *Engine) ImportCatalog(controls []Control) (NormalizeSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return NormalizeSummary{}, ErrClosed
	}

	version, err := e.catalog.Import(controls)
	if err != nil {
		return NormalizeSummary{}, err
	}

	clusters, summary, err := Normalize(controls, e.config.Normalizer)
	if err != nil {
		return NormalizeSummary{}, err
	}
	summary.CatalogVersion = version

	mapping := NewClusterMapping(version, clusters)
	summary.MappingVersion = mapping.Version
	e.mapping.Store(mapping)

	slog.Info("published cluster mapping",
		"version", mapping.Version, "controls", summary.Controls,
		"clusters", summary.Clusters, "singletons", summary.Singletons)

	if e.archiver != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.archiver.WriteMapping(ctx, mapping); err != nil {
			slog.Warn("failed to archive cluster mapping", "version", mapping.Version, "err", err)
		}
	}

	return summary, nil
}

// EvidenceIngest is the input for evidence ingestion. Either ClusterID or
// RawControlRef must identify the requirement the evidence supports.
type EvidenceIngest struct {
	OrgID string `json:"org_id"`

	// ClusterID references a canonical cluster directly. Used when >= 0.
	ClusterID int `json:"cluster_id"`

	// RawControlRef references a framework control ("SOC2/CC6.1"); the
	// engine resolves it through the active mapping. Used when ClusterID
	// is negative.
	RawControlRef *ControlKey `json:"raw_control_ref,omitempty"`

	Confidence   float64   `json:"confidence"`
	CollectedAt  time.Time `json:"collected_at,omitempty"`
	SourceSystem string    `json:"source_system,omitempty"`
}

// IngestEvidence validates an ingest request against the active mapping and
// appends it to the ledger as pending. Unknown cluster or control references
// are rejected.
func (e *Engine) IngestEvidence(req EvidenceIngest) (EvidenceItem, error) {
	mapping := e.mapping.Load()
	if mapping == nil {
		return EvidenceItem{}, fmt.Errorf("evidence: no catalog imported yet: %w", ErrConfiguration)
	}

	clusterID := req.ClusterID
	if req.RawControlRef != nil {
		idx, ok := mapping.ClusterFor(*req.RawControlRef)
		if !ok {
			return EvidenceItem{}, newReferenceError("control", req.RawControlRef.String(), "not in active mapping")
		}
		clusterID = idx
	} else if _, ok := mapping.Cluster(clusterID); !ok {
		return EvidenceItem{}, newReferenceError("cluster", fmt.Sprintf("%d", clusterID), "not in active mapping")
	}

	item, err := e.ledger.Append(EvidenceItem{
		OrgID:        req.OrgID,
		ClusterID:    clusterID,
		Confidence:   req.Confidence,
		CollectedAt:  req.CollectedAt,
		SourceSystem: req.SourceSystem,
	})
	if err != nil {
		return EvidenceItem{}, err
	}

	if e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.store.AppendEvidence(ctx, item); err != nil {
			slog.Warn("failed to persist evidence", "evidence", item.ID, "err", err)
		}
	}
	return item, nil
}

// TransitionEvidence moves an evidence item between statuses with
// compare-and-swap semantics.
func (e *Engine) TransitionEvidence(id string, from, to EvidenceStatus) (EvidenceItem, error) {
	item, err := e.ledger.Transition(id, from, to)
	if err != nil {
		return EvidenceItem{}, err
	}
	if e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.store.UpdateEvidenceStatus(ctx, id, to); err != nil {
			slog.Warn("failed to persist evidence status", "evidence", id, "err", err)
		}
	}
	return item, nil
}

// maxScoreRetries bounds transparent retries of coverage queries that race
// with a mapping swap.
const maxScoreRetries = 3

// GetTrustScore computes the trust score report for a tenant against the
// active mapping snapshot. Read-only and side-effect-free. If the mapping is
// swapped mid-computation the query is transparently retried against the new
// version; only after repeated races does it surface ErrStaleSnapshot.
func (e *Engine) GetTrustScore(orgID string) (*TrustScoreReport, error) {
	for attempt := 0; attempt < maxScoreRetries; attempt++ {
		mapping := e.mapping.Load()
		if mapping == nil {
			return nil, fmt.Errorf("score: no catalog imported yet: %w", ErrConfiguration)
		}

		evidence := e.ledger.ItemsForOrg(orgID)
		report, err := ComputeCoverage(orgID, mapping, evidence, e.config.Coverage, time.Now())
		if err != nil {
			return nil, err
		}

		// The snapshot must still be current for the report to be coherent
		// with concurrently running imports.
		if e.mapping.Load() == mapping {
			report.EvidenceBySrc = e.ledger.CountBySource(orgID)
			return report, nil
		}
	}
	return nil, fmt.Errorf("score for %q: %w", orgID, ErrStaleSnapshot)
}

// ExportScores computes the current trust score for a tenant and pushes it
// to the configured Prometheus remote-write endpoint.
func (e *Engine) ExportScores(ctx context.Context, orgID string) error {
	if e.exporter == nil {
		return fmt.Errorf("remote write: not configured: %w", ErrConfiguration)
	}
	report, err := e.GetTrustScore(orgID)
	if err != nil {
		return err
	}
	return e.exporter.Export(ctx, report)
}

// SubmitFinding scores and routes a finding for a tenant.
func (e *Engine) SubmitFinding(ctx context.Context, orgID, incidentID, category string, contextTags []string) (RoutingDecision, error) {
	return e.router.SubmitFinding(ctx, orgID, incidentID, category, contextTags)
}

// SetThresholds validates and installs a tenant's risk-appetite thresholds.
func (e *Engine) SetThresholds(orgID string, list []RiskAppetiteThreshold) error {
	return e.router.SetThresholds(orgID, list)
}

// Thresholds returns a tenant's threshold list.
func (e *Engine) Thresholds(orgID string) []RiskAppetiteThreshold {
	return e.router.Thresholds(orgID)
}

// Decisions returns a tenant's routing decision log.
func (e *Engine) Decisions(orgID string) []RoutingDecision {
	return e.router.DecisionsForOrg(orgID)
}

// ArchiveDecisions writes a tenant's decision log to the audit archive.
func (e *Engine) ArchiveDecisions(ctx context.Context, orgID string) error {
	if e.archiver == nil {
		return fmt.Errorf("archive: not configured: %w", ErrConfiguration)
	}
	return e.archiver.WriteDecisions(ctx, orgID, e.router.DecisionsForOrg(orgID), time.Now())
}

func (e *Engine) closeResources() {
	if e.store != nil {
		_ = e.store.Close()
	}
	if e.archiver != nil {
		_ = e.archiver.Close()
	}
}

// Close shuts the engine down: the HTTP server stops accepting requests and
// persistence handles are released.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	if e.http != nil {
		if err := e.http.Close(); err != nil {
			firstErr = err
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.archiver != nil {
		if err := e.archiver.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
