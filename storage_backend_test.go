package trustplane

import (
	"context"
	"errors"
	"testing"
)

func TestFileBackend_CRUD(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	ctx := context.Background()

	if err := backend.Write(ctx, "mappings/v000001.json.sz", []byte("payload")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := backend.Read(ctx, "mappings/v000001.json.sz")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("unexpected data: %q", data)
	}

	ok, err := backend.Exists(ctx, "mappings/v000001.json.sz")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v; want true", ok, err)
	}

	keys, err := backend.List(ctx, "mappings/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "mappings/v000001.json.sz" {
		t.Errorf("unexpected keys: %v", keys)
	}

	if err := backend.Delete(ctx, "mappings/v000001.json.sz"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := backend.Read(ctx, "mappings/v000001.json.sz"); !errors.Is(err, ErrArchiveNotFound) {
		t.Errorf("expected ErrArchiveNotFound after delete, got %v", err)
	}
	// Deleting a missing object is not an error.
	if err := backend.Delete(ctx, "mappings/v000001.json.sz"); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func TestFileBackend_RejectsPathTraversal(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"../escape", "../../etc/passwd", "a/../../b"} {
		if err := backend.Write(ctx, key, []byte("x")); err == nil {
			t.Errorf("expected traversal key %q rejected", key)
		}
	}
}

func TestFileBackend_ListSkipsTempFiles(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	ctx := context.Background()

	if err := backend.Write(ctx, "decisions/acme/a.json.sz", []byte("x")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	// A leftover .tmp from an interrupted write must be invisible.
	if err := backend.Write(ctx, "decisions/acme/b.json.sz.tmp", []byte("x")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	keys, err := backend.List(ctx, "decisions/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "decisions/acme/a.json.sz" {
		t.Errorf("unexpected keys: %v", keys)
	}
}
