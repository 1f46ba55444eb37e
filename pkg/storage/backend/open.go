// Package backend opens the configured media store.
package backend

import (
	"context"
	"fmt"

	"github.com/reapears/reapears-backend/pkg/config"
	"github.com/reapears/reapears-backend/pkg/logger"
	"github.com/reapears/reapears-backend/pkg/storage"
	"github.com/reapears/reapears-backend/pkg/storage/gcs"
	"github.com/reapears/reapears-backend/pkg/storage/local"
)

// Open returns the store selected by cfg.Backend together with a close func.
func Open(ctx context.Context, cfg config.MediaConfig, gcp config.GCPConfig, logg *logger.Logger) (storage.Store, func() error, error) {
	switch cfg.Backend {
	case "", config.MediaBackendLocal:
		store, err := local.New(cfg.Root)
		if err != nil {
			return nil, nil, err
		}
		if logg != nil {
			logg.Info(logg.WithField(ctx, "root", store.Root()), "local media store ready")
		}
		return store, func() error { return nil }, nil
	case config.MediaBackendGCS:
		client, err := gcs.NewClient(ctx, cfg, gcp, logg)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown media backend %q", cfg.Backend)
	}
}
