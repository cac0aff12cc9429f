//go:build !gcp

package artifacts

import (
	"context"
	"errors"
)

func openGCS(context.Context, Config) (Store, error) {
	return nil, errors.New("artifacts: gcs backend is not enabled in this build (use -tags gcp)")
}
