package trustplane

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/golang/snappy"
)

// ArchiveConfig configures audit archiving.
type ArchiveConfig struct {
	// Backend selects the object store: "file" or "s3".
	Backend string `yaml:"backend"`
	// Dir is the base directory for the file backend.
	Dir string `yaml:"dir,omitempty"`
	// S3 configures the S3 backend.
	S3 S3BackendConfig `yaml:"s3,omitempty"`
	// Encryption optionally encrypts archives at rest.
	Encryption *EncryptionConfig `yaml:"encryption,omitempty"`
}

// Archiver writes immutable, snappy-compressed audit archives — published
// cluster mapping versions and per-tenant decision logs — through a pluggable
// backend. Archives exist for reproducibility: any historical score or
// routing decision can be re-derived from them.
type Archiver struct {
	backend   ArchiveBackend
	encryptor *Encryptor
}

// NewArchiver creates an archiver from configuration.
func NewArchiver(cfg ArchiveConfig) (*Archiver, error) {
	var (
		backend ArchiveBackend
		err     error
	)
	switch cfg.Backend {
	case "", "file":
		dir := cfg.Dir
		if dir == "" {
			dir = "trustplane-archive"
		}
		backend, err = NewFileBackend(dir)
	case "s3":
		backend, err = NewS3Backend(cfg.S3)
	default:
		return nil, fmt.Errorf("archive: unknown backend %q: %w", cfg.Backend, ErrConfiguration)
	}
	if err != nil {
		return nil, err
	}

	var encryptor *Encryptor
	if cfg.Encryption != nil {
		encryptor, err = NewEncryptor(*cfg.Encryption)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
	}
	return &Archiver{backend: backend, encryptor: encryptor}, nil
}

// NewArchiverWithBackend wraps an existing backend, mainly for tests.
func NewArchiverWithBackend(backend ArchiveBackend, encryptor *Encryptor) *Archiver {
	return &Archiver{backend: backend, encryptor: encryptor}
}

func (a *Archiver) seal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("archive: encoding: %w", err)
	}
	blob := snappy.Encode(nil, raw)
	if a.encryptor != nil {
		blob, err = a.encryptor.Encrypt(blob)
		if err != nil {
			return nil, err
		}
	}
	return blob, nil
}

func (a *Archiver) open(blob []byte, v any) error {
	var err error
	if a.encryptor != nil {
		blob, err = a.encryptor.Decrypt(blob)
		if err != nil {
			return err
		}
	}
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return fmt.Errorf("archive: decompressing: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("archive: decoding: %w", err)
	}
	return nil
}

// WriteMapping archives a published cluster mapping version.
func (a *Archiver) WriteMapping(ctx context.Context, mapping *ClusterMapping) error {
	blob, err := a.seal(mapping)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("mappings/v%06d.json.sz", mapping.Version)
	if err := a.backend.Write(ctx, key, blob); err != nil {
		return err
	}
	slog.Info("archived cluster mapping", "version", mapping.Version, "clusters", len(mapping.Clusters), "key", key)
	return nil
}

// ReadMapping loads an archived cluster mapping version.
func (a *Archiver) ReadMapping(ctx context.Context, version int64) (*ClusterMapping, error) {
	key := fmt.Sprintf("mappings/v%06d.json.sz", version)
	blob, err := a.backend.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	var mapping ClusterMapping
	if err := a.open(blob, &mapping); err != nil {
		return nil, err
	}
	mapping.rebuildIndex()
	return &mapping, nil
}

// MappingVersions lists archived mapping versions, ascending.
func (a *Archiver) MappingVersions(ctx context.Context) ([]string, error) {
	keys, err := a.backend.List(ctx, "mappings/")
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, "mappings/")
	}
	return keys, nil
}

// WriteDecisions archives a tenant's decision log as of now.
func (a *Archiver) WriteDecisions(ctx context.Context, orgID string, decisions []RoutingDecision, now time.Time) error {
	blob, err := a.seal(decisions)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("decisions/%s/%s.json.sz", orgID, now.UTC().Format("20060102T150405Z"))
	if err := a.backend.Write(ctx, key, blob); err != nil {
		return err
	}
	slog.Info("archived decision log", "org", orgID, "decisions", len(decisions), "key", key)
	return nil
}

// ReadDecisions loads an archived decision log by key (relative to the
// decisions/ prefix).
func (a *Archiver) ReadDecisions(ctx context.Context, key string) ([]RoutingDecision, error) {
	blob, err := a.backend.Read(ctx, "decisions/"+key)
	if err != nil {
		return nil, err
	}
	var decisions []RoutingDecision
	if err := a.open(blob, &decisions); err != nil {
		return nil, err
	}
	return decisions, nil
}

// Close releases the underlying backend.
func (a *Archiver) Close() error {
	return a.backend.Close()
}
