package main

import (
	"context"
	"fmt"

	"stock-price-loader/internal/config"
	"stock-price-loader/internal/storage"
	chstore "stock-price-loader/internal/storage/clickhouse"
	"stock-price-loader/internal/storage/memory"
	"stock-price-loader/internal/storage/migrations"
	pgstore "stock-price-loader/internal/storage/postgres"
)

// tableRefs converts the configured identifiers into destination and staging refs.
func tableRefs(t config.Table) (storage.TableRef, storage.TableRef) {
	dest := storage.TableRef{Catalog: t.Catalog, Schema: t.Schema, Name: t.Name}
	return dest, dest.WithName(t.Staging)
}

// openStore connects the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Loader, migrate bool) (storage.PriceStore, func(), error) {
	dest, staging := tableRefs(cfg.Table)

	switch cfg.Backend {
	case config.BackendMemory:
		return memory.NewDailyPriceTable(), func() {}, nil

	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		if migrate {
			if err := migrations.RunPostgresMigrations(ctx, pool, dest); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return pgstore.NewDailyPriceTable(pool, dest, staging), pool.Close, nil

	case config.BackendClickHouse:
		var conn *chstore.Conn
		var err error
		if migrate {
			conn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN, dest)
		} else {
			conn, err = chstore.NewConn(ctx, cfg.ClickHouse.DSN)
		}
		if err != nil {
			return nil, nil, err
		}
		return chstore.NewDailyPriceTable(conn, dest, staging), func() { conn.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown backend %q", storage.ErrInvalidInput, cfg.Backend)
	}
}
