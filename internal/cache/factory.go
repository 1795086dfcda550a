package cache

import (
	"context"
	"fmt"
	"os"

	"dsda-uploader/internal/config"
	"dsda-uploader/internal/demo"
)

// Environment variables holding static S3 credentials for the cache.
const (
	EnvS3AccessKeyID     = "DSDAUP_S3_ACCESS_KEY_ID"
	EnvS3SecretAccessKey = "DSDAUP_S3_SECRET_ACCESS_KEY"
)

// NewCacheFromConfig creates an AssetCache based on the cache config type.
func NewCacheFromConfig(ctx context.Context, cfg config.CacheConfig) (demo.AssetCache, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryCache(), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem cache requires fs_root to be set")
		}
		c, err := NewFileSystemCache(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "s3":
		c, err := NewS3CacheFromOptions(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     os.Getenv(EnvS3AccessKeyID),
			SecretAccessKey: os.Getenv(EnvS3SecretAccessKey),
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}
