package vault

import (
	"context"
	"fmt"
	"os"

	"dm-go/internal/config"
	"dm-go/internal/dm"
)

// NewContentStoreFromConfig creates a ContentStore implementation based on the
// storage config type. S3 static credentials are taken from
// DM_S3_ACCESS_KEY_ID and DM_S3_SECRET_ACCESS_KEY when set.
func NewContentStoreFromConfig(ctx context.Context, cfg config.StorageConfig) (dm.ContentStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 storage requires s3_bucket to be set")
		}
		store, err := NewS3Store(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     os.Getenv("DM_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("DM_S3_SECRET_ACCESS_KEY"),
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem storage requires root to be set")
		}
		store, err := NewFileSystemStore(cfg.Root)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
