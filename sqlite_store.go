package trustplane

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// StoreConfig configures the SQLite persistence store.
type StoreConfig struct {
	// Path to the SQLite database file.
	Path string

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, ...).
	JournalMode string

	// BusyTimeout is the lock acquisition timeout in milliseconds.
	BusyTimeout int

	// MaxConnections is the max number of database connections.
	MaxConnections int
}

// DefaultStoreConfig returns store defaults.
func DefaultStoreConfig(path string) StoreConfig {
	return StoreConfig{
		Path:           path,
		JournalMode:    "WAL",
		BusyTimeout:    5000,
		MaxConnections: 10,
	}
}

// SQLiteStore persists the two append-only tenant stores — the evidence
// ledger and the routing decision log — so engine restarts keep the audit
// trail. Rows are only ever inserted or status-updated, never deleted.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// OpenSQLiteStore opens (and if needed initializes) the store.
func OpenSQLiteStore(cfg StoreConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: path required: %w", ErrConfiguration)
	}
	if cfg.JournalMode == "" {
		cfg.JournalMode = "WAL"
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5000
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_busy_timeout=%d", cfg.Path, cfg.JournalMode, cfg.BusyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections / 2)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: initializing schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS evidence (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	cluster_id INTEGER NOT NULL,
	confidence REAL NOT NULL,
	status TEXT NOT NULL,
	collected_at INTEGER NOT NULL,
	weight REAL NOT NULL,
	source_system TEXT
);
CREATE INDEX IF NOT EXISTS idx_evidence_org ON evidence(org_id);
CREATE INDEX IF NOT EXISTS idx_evidence_cluster ON evidence(org_id, cluster_id);

CREATE TABLE IF NOT EXISTS decisions (
	decision_id TEXT PRIMARY KEY,
	incident_id TEXT NOT NULL,
	org_id TEXT NOT NULL,
	routed_at INTEGER NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_org ON decisions(org_id);
CREATE INDEX IF NOT EXISTS idx_decisions_incident ON decisions(incident_id);
`
	_, err := s.db.Exec(schema)
	return err
}

// AppendEvidence inserts an evidence item.
func (s *SQLiteStore) AppendEvidence(ctx context.Context, item EvidenceItem) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO evidence (id, org_id, cluster_id, confidence, status, collected_at, weight, source_system)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.OrgID, item.ClusterID, item.Confidence, string(item.Status),
		item.CollectedAt.UnixNano(), item.ContributionWeight, item.SourceSystem)
	if err != nil {
		return fmt.Errorf("store: appending evidence %s: %w", item.ID, err)
	}
	return nil
}

// UpdateEvidenceStatus records a status transition.
func (s *SQLiteStore) UpdateEvidenceStatus(ctx context.Context, id string, status EvidenceStatus) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `UPDATE evidence SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("store: updating evidence %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return newReferenceError("evidence", id, "not in store")
	}
	return nil
}

// EvidenceForOrg loads a tenant's evidence items in collection order.
func (s *SQLiteStore) EvidenceForOrg(ctx context.Context, orgID string) ([]EvidenceItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, cluster_id, confidence, status, collected_at, weight, source_system
		 FROM evidence WHERE org_id = ? ORDER BY collected_at`, orgID)
	if err != nil {
		return nil, fmt.Errorf("store: querying evidence for %s: %w", orgID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []EvidenceItem
	for rows.Next() {
		var (
			item        EvidenceItem
			status      string
			collectedAt int64
			source      sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.OrgID, &item.ClusterID, &item.Confidence,
			&status, &collectedAt, &item.ContributionWeight, &source); err != nil {
			return nil, fmt.Errorf("store: scanning evidence row: %w", err)
		}
		item.Status = EvidenceStatus(status)
		item.CollectedAt = time.Unix(0, collectedAt)
		item.SourceSystem = source.String
		out = append(out, item)
	}
	return out, rows.Err()
}

// AppendDecision inserts a routing decision. Decisions are immutable: there
// is no update path, re-evaluations insert new rows.
func (s *SQLiteStore) AppendDecision(ctx context.Context, d RoutingDecision) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("store: encoding decision %s: %w", d.DecisionID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decisions (decision_id, incident_id, org_id, routed_at, payload) VALUES (?, ?, ?, ?, ?)`,
		d.DecisionID, d.IncidentID, d.OrgID, d.RoutedAt.UnixNano(), string(payload))
	if err != nil {
		return fmt.Errorf("store: appending decision %s: %w", d.DecisionID, err)
	}
	return nil
}

// DecisionsForOrg loads a tenant's decisions in issue order.
func (s *SQLiteStore) DecisionsForOrg(ctx context.Context, orgID string) ([]RoutingDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM decisions WHERE org_id = ? ORDER BY routed_at`, orgID)
	if err != nil {
		return nil, fmt.Errorf("store: querying decisions for %s: %w", orgID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []RoutingDecision
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("store: scanning decision row: %w", err)
		}
		var d RoutingDecision
		if err := json.Unmarshal([]byte(payload), &d); err != nil {
			return nil, fmt.Errorf("store: decoding decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
