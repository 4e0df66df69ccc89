package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/repub/registry/pkg/blobstore"
	"github.com/repub/registry/pkg/config"
	"github.com/repub/registry/pkg/metastore"
)

// openStore opens the metadata store named by cfg.Database.URL: a
// "sqlite://" URL opens the embedded single-file backend, anything
// else is treated as a postgres DSN.
func openStore(cfg *config.Config) (metastore.Store, error) {
	if path, ok := strings.CutPrefix(cfg.Database.URL, "sqlite://"); ok {
		return metastore.OpenEmbedded(path)
	}
	return metastore.OpenPostgres(cfg.Database.URL)
}

// openBlobs opens the blob store named by cfg.Blobstore.
func openBlobs(cfg *config.Config) (blobstore.Store, error) {
	switch cfg.Blobstore.Type {
	case "filesystem":
		return blobstore.NewFilesystemStore(cfg.Blobstore.FilesystemRoot, nil)
	case "s3":
		return blobstore.NewS3Store(context.Background(), blobstore.S3Config{
			Endpoint:     cfg.Blobstore.S3Endpoint,
			Region:       cfg.Blobstore.S3Region,
			Bucket:       cfg.Blobstore.S3Bucket,
			AccessKey:    cfg.Blobstore.S3AccessKey,
			SecretKey:    cfg.Blobstore.S3SecretKey,
			UsePathStyle: cfg.Blobstore.S3UsePathStyle,
			SignedURLTTL: cfg.Blobstore.SignedURLTTL,
		})
	default:
		return nil, fmt.Errorf("unknown blobstore type: %s", cfg.Blobstore.Type)
	}
}

// loadConfig loads and validates the process configuration, the first
// step of every CLI command that touches the running system.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
