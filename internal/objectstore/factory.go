package objectstore

import (
	"context"
	"fmt"

	"loanflow/internal/config"
	"loanflow/internal/loan"
)

// NewObjectStoreFromConfig creates an ObjectStore implementation based on the config type.
func NewObjectStoreFromConfig(ctx context.Context, cfg config.ObjectStoreConfig) (loan.ObjectStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(cfg.Name), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem object store requires fs_root to be set")
		}
		return NewFileSystemStore(cfg.Name, cfg.FSRoot, cfg.PublicBaseURL)
	case "s3":
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown object store type: %s", cfg.Type)
	}
}
