package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"canvas-sync/internal/app"
	"canvas-sync/internal/blob"
	"canvas-sync/internal/notes"
	"canvas-sync/internal/store"
)

// backend is the storage selected by STORE_DRIVER.
type backend struct {
	notes   notes.Store
	inline  blob.InlineTier
	chunked blob.ChunkedTier
	ping    func(ctx context.Context) error
	close   func()
}

// openBackend connects the configured driver. With migrate set, schema
// migrations (postgres) or indexes (mongo) are applied before returning.
func openBackend(ctx context.Context, cfg app.Config, logger *slog.Logger, migrate bool) (*backend, error) {
	switch cfg.StoreDriver {
	case app.DriverPostgres:
		pg, err := store.NewPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		if migrate {
			if err := store.RunMigrations(ctx, pg, logger); err != nil {
				pg.Close()
				return nil, fmt.Errorf("migrations: %w", err)
			}
		}
		return &backend{notes: pg, inline: pg, chunked: pg, ping: pg.Ping, close: pg.Close}, nil

	case app.DriverMongo:
		mg, err := store.NewMongo(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("mongo connect: %w", err)
		}
		if migrate {
			if err := mg.EnsureIndexes(ctx); err != nil {
				_ = mg.Close(ctx)
				return nil, fmt.Errorf("mongo indexes: %w", err)
			}
		}
		closeFn := func() {
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mg.Close(cctx)
		}
		return &backend{notes: mg, inline: mg, chunked: mg, ping: mg.Ping, close: closeFn}, nil

	default:
		logger.Warn("store.memory", "msg", "state is lost on restart")
		return &backend{
			notes:   notes.NewMemoryStore(),
			inline:  blob.NewMemoryInline(),
			chunked: blob.NewMemoryChunked(),
			ping:    func(context.Context) error { return nil },
			close:   func() {},
		}, nil
	}
}
