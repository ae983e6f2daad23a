package store

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/docstage/internal/config"
	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
)

// Open returns the store backend selected by the configuration.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case config.StoreFS, "":
		return NewFSStore(cfg.Resolve(cfg.StateDir))
	case config.StoreSQLite:
		return NewSQLiteStore(cfg.Resolve(cfg.Store.SQLitePath))
	case config.StoreNATS:
		return NewNATSStore(ctx, cfg.Store.NATSURL, cfg.Store.NATSBucket)
	}
	return nil, errors.ConfigError(fmt.Sprintf("unknown store backend %q", cfg.Store.Backend)).Build()
}
