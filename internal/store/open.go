// Package store selects and opens the configured validation log backend.
package store

import (
	"context"
	"fmt"
	"io"

	"idcheck.org/internal/config"
	"idcheck.org/internal/store/gormstore"
	"idcheck.org/internal/store/pg"
	"idcheck.org/internal/validationlog"
)

// Handle is an opened store plus its cleanup.
type Handle struct {
	validationlog.Store
	closer io.Closer
}

// Close releases the backend. Safe on in-memory stores.
func (h Handle) Close() error {
	if h.closer == nil {
		return nil
	}
	return h.closer.Close()
}

// Ping checks connectivity when the backend supports it.
func (h Handle) Ping(ctx context.Context) error {
	if p, ok := h.Store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Open builds the store named by cfg.Store.
func Open(cfg config.Config, opts ...validationlog.Option) (Handle, error) {
	switch cfg.Store {
	case config.StoreMemory, "":
		return Handle{Store: validationlog.NewInMemory(opts...)}, nil
	case config.StorePostgres:
		s, err := pg.Open(cfg.PGDSN, opts...)
		if err != nil {
			return Handle{}, fmt.Errorf("open postgres store: %w", err)
		}
		return Handle{Store: s, closer: s}, nil
	case config.StoreGormPostgres:
		s, err := gormstore.OpenPostgres(cfg.PGDSN, opts...)
		if err != nil {
			return Handle{}, fmt.Errorf("open gorm postgres store: %w", err)
		}
		return Handle{Store: s, closer: s}, nil
	case config.StoreSQLite:
		s, err := gormstore.OpenSQLite(cfg.SQLitePath, opts...)
		if err != nil {
			return Handle{}, fmt.Errorf("open sqlite store: %w", err)
		}
		return Handle{Store: s, closer: s}, nil
	default:
		return Handle{}, fmt.Errorf("%w: unknown store %q", config.ErrInvalid, cfg.Store)
	}
}
