package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ihiteshgupta/telegram-modbot/internal/config"
)

// Open returns the backend selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		if cfg.StorePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0700); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		return NewSQLiteStore(cfg.StorePath)
	case config.StoreMongo:
		return NewMongoStore(ctx, MongoOptions{
			URI:            cfg.MongoURI,
			Database:       cfg.MongoDatabase,
			MaxRetries:     5,
			RetryBaseDelay: cfg.ReconnectBaseDelay,
		})
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.StoreDriver)
	}
}
