//go:build gcp

package artifacts

import "context"

func openGCS(ctx context.Context, cfg Config) (Store, error) {
	return NewGCSStore(ctx, GCSConfig{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
}
