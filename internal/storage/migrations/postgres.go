package migrations

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"stock-price-loader/internal/storage"
	"stock-price-loader/internal/storage/postgres"
)

// RenderPostgres returns the PostgreSQL migrations for table, in apply order.
func RenderPostgres(table storage.TableRef) ([]string, error) {
	vars := tableVars{
		Table: postgres.Identifier(table).Sanitize(),
		Index: pgx.Identifier{table.Name + "_trade_date_idx"}.Sanitize(),
	}
	if table.Schema != "" {
		vars.Schema = pgx.Identifier{table.Schema}.Sanitize()
	}
	return render(PostgresFS, "postgres", vars)
}

// RunPostgresMigrations applies all embedded SQL files in lexical order.
// Migrations are expected to be idempotent.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool, table storage.TableRef) error {
	stmts, err := RenderPostgres(table)
	if err != nil {
		return err
	}

	for i, sql := range stmts {
		if strings.TrimSpace(sql) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("apply postgres migration %d: %w", i+1, err)
		}
	}

	return nil
}
