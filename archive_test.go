package trustplane

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testArchiver(t *testing.T, enc *EncryptionConfig) *Archiver {
	t.Helper()
	cfg := ArchiveConfig{Backend: "file", Dir: t.TempDir(), Encryption: enc}
	a, err := NewArchiver(cfg)
	if err != nil {
		t.Fatalf("NewArchiver failed: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestArchiver_MappingRoundtrip(t *testing.T) {
	a := testArchiver(t, nil)
	ctx := context.Background()

	clusters, _, err := Normalize(encryptionCatalog(), NormalizerConfig{SimilarityThreshold: 0.8})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	mapping := NewClusterMapping(3, clusters)

	if err := a.WriteMapping(ctx, mapping); err != nil {
		t.Fatalf("WriteMapping failed: %v", err)
	}

	got, err := a.ReadMapping(ctx, 3)
	if err != nil {
		t.Fatalf("ReadMapping failed: %v", err)
	}
	if got.Version != 3 || len(got.Clusters) != 1 {
		t.Errorf("unexpected mapping: version %d, %d clusters", got.Version, len(got.Clusters))
	}
	// The lookup index is rebuilt on read.
	if _, ok := got.ClusterFor(ControlKey{FrameworkID: "SOC2", ControlID: "CC6.1"}); !ok {
		t.Error("expected restored mapping to resolve controls")
	}

	versions, err := a.MappingVersions(ctx)
	if err != nil {
		t.Fatalf("MappingVersions failed: %v", err)
	}
	if len(versions) != 1 || versions[0] != "v000003.json.sz" {
		t.Errorf("unexpected versions: %v", versions)
	}
}

func TestArchiver_DecisionsRoundtrip(t *testing.T) {
	a := testArchiver(t, nil)
	ctx := context.Background()

	decisions := []RoutingDecision{{
		DecisionID: "rd-1", IncidentID: "inc-1", OrgID: "acme",
		Route: []StakeholderRole{RoleCISO}, State: FindingRouted, RoutedAt: time.Now(),
	}}
	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	if err := a.WriteDecisions(ctx, "acme", decisions, now); err != nil {
		t.Fatalf("WriteDecisions failed: %v", err)
	}

	got, err := a.ReadDecisions(ctx, "acme/20260827T120000Z.json.sz")
	if err != nil {
		t.Fatalf("ReadDecisions failed: %v", err)
	}
	if len(got) != 1 || got[0].DecisionID != "rd-1" {
		t.Errorf("unexpected decisions: %+v", got)
	}
}

func TestArchiver_EncryptedRoundtrip(t *testing.T) {
	a := testArchiver(t, &EncryptionConfig{Enabled: true, KeyPassword: "test-password"})
	ctx := context.Background()

	clusters, _, err := Normalize(encryptionCatalog(), NormalizerConfig{SimilarityThreshold: 0.8})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	mapping := NewClusterMapping(1, clusters)

	if err := a.WriteMapping(ctx, mapping); err != nil {
		t.Fatalf("WriteMapping failed: %v", err)
	}
	got, err := a.ReadMapping(ctx, 1)
	if err != nil {
		t.Fatalf("ReadMapping failed: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("expected version 1, got %d", got.Version)
	}
}

func TestArchiver_ReadMissingVersion(t *testing.T) {
	a := testArchiver(t, nil)
	if _, err := a.ReadMapping(context.Background(), 99); !errors.Is(err, ErrArchiveNotFound) {
		t.Errorf("expected ErrArchiveNotFound, got %v", err)
	}
}

func TestNewArchiver_UnknownBackend(t *testing.T) {
	if _, err := NewArchiver(ArchiveConfig{Backend: "ftp"}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestEncryptor_Roundtrip(t *testing.T) {
	enc, err := NewEncryptor(EncryptionConfig{Enabled: true, KeyPassword: "secret"})
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}

	plaintext := []byte("compliance evidence payload")
	blob, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if bytesEqual(blob, plaintext) {
		t.Fatal("ciphertext equals plaintext")
	}

	got, err := enc.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytesEqual(got, plaintext) {
		t.Errorf("roundtrip mismatch: %q", got)
	}
}

func TestEncryptor_PasswordSurvivesRestart(t *testing.T) {
	// A new encryptor with the same password but a fresh random salt must
	// still read blobs written by the previous one.
	first, err := NewEncryptor(EncryptionConfig{Enabled: true, KeyPassword: "secret"})
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}
	blob, err := first.Encrypt([]byte("archived before restart"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	second, err := NewEncryptor(EncryptionConfig{Enabled: true, KeyPassword: "secret"})
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}
	got, err := second.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt after restart failed: %v", err)
	}
	if string(got) != "archived before restart" {
		t.Errorf("roundtrip mismatch: %q", got)
	}

	// The wrong password must not.
	wrong, err := NewEncryptor(EncryptionConfig{Enabled: true, KeyPassword: "other"})
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}
	if _, err := wrong.Decrypt(blob); err == nil {
		t.Error("expected decryption with wrong password to fail")
	}
}

func TestNewEncryptor_Validation(t *testing.T) {
	if enc, err := NewEncryptor(EncryptionConfig{}); enc != nil || err != nil {
		t.Errorf("disabled config: expected nil, nil; got %v, %v", enc, err)
	}
	if _, err := NewEncryptor(EncryptionConfig{Enabled: true}); err == nil {
		t.Error("expected error without key or password")
	}
	if _, err := NewEncryptor(EncryptionConfig{Enabled: true, Key: []byte("short")}); err == nil {
		t.Error("expected error for non-32-byte key")
	}
}
