package infra

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/congo-pay/rent_wallet/internal/config"
	"github.com/congo-pay/rent_wallet/internal/ledger"
)

// OpenStore builds the ledger store selected by cfg.StoreDriver and applies
// migrations. The returned close function releases the underlying handle.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (ledger.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		logger.Warn("using in-memory ledger store; state is lost on restart")
		return ledger.NewInMemory(cfg.LedgerID), func() {}, nil

	case config.StorePostgres:
		pool, err := NewPostgresPool(ctx, cfg.DatabaseURL, cfg.AppName)
		if err != nil {
			return nil, nil, err
		}
		store := ledger.NewPostgresStore(pool, cfg.LedgerID)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil

	case config.StoreSQLite:
		store, err := ledger.OpenSQLite(cfg.SQLitePath, cfg.LedgerID)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Error("close sqlite store", slog.Any("error", err))
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
}
