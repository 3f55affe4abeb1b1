package trustplane

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrArchiveNotFound is returned when an archive object does not exist.
var ErrArchiveNotFound = errors.New("archive object not found")

// ArchiveBackend is the interface for archive object storage. It lets audit
// archives (cluster mapping versions, decision logs) live on the local
// filesystem, S3, or any S3-compatible store.
type ArchiveBackend interface {
	// Read reads an object from storage.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write writes an object to storage.
	Write(ctx context.Context, key string, data []byte) error

	// Delete removes an object from storage.
	Delete(ctx context.Context, key string) error

	// List returns all object keys matching a prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases any resources.
	Close() error
}

// FileBackend implements ArchiveBackend on the local filesystem.
type FileBackend struct {
	baseDir string
}

// NewFileBackend creates a file-based archive backend rooted at baseDir.
func NewFileBackend(baseDir string) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: creating base directory: %w", err)
	}
	absDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("archive: resolving base directory: %w", err)
	}
	return &FileBackend{baseDir: filepath.Clean(absDir)}, nil
}

// safePath validates that key resolves inside the base directory, rejecting
// path traversal.
func (f *FileBackend) safePath(key string) (string, error) {
	resolved := filepath.Clean(filepath.Join(f.baseDir, filepath.Clean(key)))
	if resolved != f.baseDir && !strings.HasPrefix(resolved, f.baseDir+string(os.PathSeparator)) {
		return "", errors.New("archive: invalid key: path traversal attempt")
	}
	return resolved, nil
}

// Read implements ArchiveBackend.
func (f *FileBackend) Read(_ context.Context, key string) ([]byte, error) {
	path, err := f.safePath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, key)
	}
	return data, err
}

// Write implements ArchiveBackend.
func (f *FileBackend) Write(_ context.Context, key string, data []byte) error {
	path, err := f.safePath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("archive: creating directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("archive: writing %s: %w", key, err)
	}
	return os.Rename(tmp, path)
}

// Delete implements ArchiveBackend.
func (f *FileBackend) Delete(_ context.Context, key string) error {
	path, err := f.safePath(key)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// List implements ArchiveBackend.
func (f *FileBackend) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.Walk(f.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(f.baseDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) && !strings.HasSuffix(rel, ".tmp") {
			keys = append(keys, rel)
		}
		return nil
	})
	return keys, err
}

// Exists implements ArchiveBackend.
func (f *FileBackend) Exists(_ context.Context, key string) (bool, error) {
	path, err := f.safePath(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// Close implements ArchiveBackend.
func (f *FileBackend) Close() error { return nil }
