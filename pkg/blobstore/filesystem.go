package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/repub/registry/pkg/apierr"
)

// FilesystemStore implements Store using the local filesystem. It MUST
// NOT be shared across active processes — keys map
// directly onto nested directories under rootDir.
type FilesystemStore struct {
	rootDir    string
	downloadFn func(key string) (string, error)
}

// NewFilesystemStore creates a filesystem-backed blob store rooted at
// rootDir. downloadFn resolves a key to the canonical in-process
// download URL (wired in by the registry composition root, since the
// store itself has no knowledge of the HTTP API's base URL).
func NewFilesystemStore(rootDir string, downloadFn func(key string) (string, error)) (*FilesystemStore, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &FilesystemStore{rootDir: rootDir, downloadFn: downloadFn}, nil
}

func (s *FilesystemStore) path(key string) string {
	return filepath.Join(s.rootDir, filepath.FromSlash(key))
}

func (s *FilesystemStore) EnsureReady(ctx context.Context) error {
	return os.MkdirAll(s.rootDir, 0o755)
}

func (s *FilesystemStore) PutArchive(ctx context.Context, key string, data []byte) error {
	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	// Content-addressed: if the destination already exists, writing is
	// a safe no-op (callers guarantee identical content by sha256).
	if _, err := os.Stat(dst); err == nil {
		return nil
	}

	// Write to a temp file in the same directory, then rename, so a
	// concurrent reader never observes a partially written blob.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to finalize blob: %w", err)
	}
	return nil
}

func (s *FilesystemStore) GetArchive(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.New(apierr.NotFound, "archive not found")
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

func (s *FilesystemStore) OpenArchive(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.New(apierr.NotFound, "archive not found")
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

func (s *FilesystemStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat blob: %w", err)
}

func (s *FilesystemStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func (s *FilesystemStore) DownloadURL(ctx context.Context, key string) (string, error) {
	if s.downloadFn != nil {
		return s.downloadFn(key)
	}
	return "", fmt.Errorf("no download URL resolver configured")
}

func (s *FilesystemStore) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(s.rootDir); err != nil {
		return fmt.Errorf("filesystem blob store health check failed: %w", err)
	}
	return nil
}

var _ Store = (*FilesystemStore)(nil)
