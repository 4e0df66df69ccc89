// Package blobstore provides content-addressed storage for package
// archives, polymorphic over a local filesystem backend and an
// S3-compatible backend.
package blobstore

import (
	"context"
	"io"
)

// Store is the blob store contract. Both backends implement it
// identically; callers must not assume which backend is active.
type Store interface {
	// EnsureReady initializes the backing namespace. Idempotent.
	EnsureReady(ctx context.Context) error

	// PutArchive writes bytes under key atomically. Overwriting with
	// identical content (by sha256, the caller's responsibility) is a
	// safe no-op.
	PutArchive(ctx context.Context, key string, data []byte) error

	// GetArchive reads the bytes stored under key. Returns an
	// apierr NotFound when absent.
	GetArchive(ctx context.Context, key string) ([]byte, error)

	// OpenArchive streams the bytes stored under key.
	OpenArchive(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes key. Succeeds when already absent.
	Delete(ctx context.Context, key string) error

	// DownloadURL resolves key to a URL a client can fetch directly.
	// For hosted/cached archive keys this is the in-process canonical
	// endpoint; other backends may return a signed, time-limited URL.
	DownloadURL(ctx context.Context, key string) (string, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
}

// Namespace identifies which logical namespace an archive key belongs
// to: hosted (authoritative, publishable) or cached (upstream shadow,
// read-only).
type Namespace string

const (
	NamespaceHosted Namespace = "hosted-packages"
	NamespaceCached Namespace = "cached-packages"
)

// ArchiveKey derives the deterministic blob key for a package archive.
// Output is byte-identical across calls for the same inputs — callers
// rely on this both when writing and when deriving a read key.
func ArchiveKey(ns Namespace, pkg, version, sha256Hex string) string {
	return string(ns) + "/" + pkg + "/" + version + "/" + sha256Hex + ".tar.gz"
}
