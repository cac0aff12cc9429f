package artifacts

import (
	"context"
	"fmt"
)

// Backend names an archive implementation.
type Backend string

const (
	BackendFS  Backend = "fs"
	BackendS3  Backend = "s3"
	BackendGCS Backend = "gcs"
)

// Config selects and configures a backend. Bucket and Prefix apply to S3 and
// GCS; Dir applies to fs.
type Config struct {
	Backend  Backend
	Dir      string
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// Open returns the configured archive. An empty backend means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendFS:
		dir := cfg.Dir
		if dir == "" {
			dir = "data/archive"
		}
		return NewFileStore(dir)
	case BackendS3:
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3Config{Bucket: cfg.Bucket, Region: region, Endpoint: cfg.Endpoint, Prefix: cfg.Prefix})
	case BackendGCS:
		return openGCS(ctx, cfg)
	default:
		return nil, fmt.Errorf("artifacts: unsupported backend %q", cfg.Backend)
	}
}
