package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stock-price-loader/internal/domain"
	"stock-price-loader/internal/storage"
)

// priceColumns is the column order used for COPY and reads.
var priceColumns = []string{"symbol", "trade_date", "open", "high", "low", "close", "adj_close", "volume"}

// DailyPriceTable implements storage.PriceStore on PostgreSQL.
// Reconciliation uses MERGE, so PostgreSQL 15 or newer is required.
type DailyPriceTable struct {
	pool    *Pool
	table   storage.TableRef
	staging storage.TableRef
}

// NewDailyPriceTable creates a DailyPriceTable for the given destination and staging tables.
func NewDailyPriceTable(pool *Pool, table, staging storage.TableRef) *DailyPriceTable {
	return &DailyPriceTable{pool: pool, table: table, staging: staging}
}

// Compile-time interface check.
var _ storage.PriceStore = (*DailyPriceTable)(nil)

// DropStaging drops the staging table if it exists.
func (t *DailyPriceTable) DropStaging(ctx context.Context) error {
	query := fmt.Sprintf(`DROP TABLE IF EXISTS %s`, Identifier(t.staging).Sanitize())
	if _, err := t.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("drop staging table: %w", err)
	}
	return nil
}

// LoadStaging creates the staging table and fills it with COPY.
func (t *DailyPriceTable) LoadStaging(ctx context.Context, records []domain.PriceRecord) error {
	query := fmt.Sprintf(`
		CREATE UNLOGGED TABLE %s (
			symbol     TEXT NOT NULL,
			trade_date DATE NOT NULL,
			open       DOUBLE PRECISION NOT NULL,
			high       DOUBLE PRECISION NOT NULL,
			low        DOUBLE PRECISION NOT NULL,
			close      DOUBLE PRECISION NOT NULL,
			adj_close  DOUBLE PRECISION NOT NULL,
			volume     BIGINT NOT NULL
		)
	`, Identifier(t.staging).Sanitize())

	if _, err := t.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create staging table: %w", err)
	}

	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{
			r.Symbol,
			domain.DateOf(r.TradeDate),
			r.Open,
			r.High,
			r.Low,
			r.Close,
			r.AdjClose,
			r.Volume,
		})
	}

	n, err := t.pool.CopyFrom(ctx, Identifier(t.staging), priceColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy into staging table: %w", err)
	}
	if n != int64(len(records)) {
		return fmt.Errorf("copy into staging table: loaded %d of %d rows", n, len(records))
	}
	return nil
}

// MergeStaging reconciles staged rows inside window with one MERGE statement.
func (t *DailyPriceTable) MergeStaging(ctx context.Context, window domain.DateRange) (int64, error) {
	query := fmt.Sprintf(`
		MERGE INTO %s AS t
		USING (
			SELECT symbol, trade_date, open, high, low, close, adj_close, volume
			FROM %s
			WHERE trade_date BETWEEN $1::date AND $2::date
		) AS s
		ON t.symbol = s.symbol
			AND t.trade_date = s.trade_date
			AND t.trade_date BETWEEN $1::date AND $2::date
		WHEN MATCHED THEN
			UPDATE SET
				open = s.open,
				high = s.high,
				low = s.low,
				close = s.close,
				adj_close = s.adj_close,
				volume = s.volume
		WHEN NOT MATCHED THEN
			INSERT (symbol, trade_date, open, high, low, close, adj_close, volume)
			VALUES (s.symbol, s.trade_date, s.open, s.high, s.low, s.close, s.adj_close, s.volume)
	`, Identifier(t.table).Sanitize(), Identifier(t.staging).Sanitize())

	tag, err := t.pool.Exec(ctx, query, window.Start, window.End)
	if err != nil {
		return 0, fmt.Errorf("merge staging into %s: %w", t.table, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteStaging drops the staging table. Returns storage.ErrNotFound if it is missing.
func (t *DailyPriceTable) DeleteStaging(ctx context.Context) error {
	query := fmt.Sprintf(`DROP TABLE %s`, Identifier(t.staging).Sanitize())
	if _, err := t.pool.Exec(ctx, query); err != nil {
		if isUndefinedTableError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("delete staging table: %w", err)
	}
	return nil
}

// GetByRange retrieves destination rows within window, ordered by symbol and date.
func (t *DailyPriceTable) GetByRange(ctx context.Context, window domain.DateRange) ([]domain.PriceRecord, error) {
	query := fmt.Sprintf(`
		SELECT symbol, trade_date, open, high, low, close, adj_close, volume
		FROM %s
		WHERE trade_date BETWEEN $1::date AND $2::date
		ORDER BY symbol ASC, trade_date ASC
	`, Identifier(t.table).Sanitize())

	rows, err := t.pool.Query(ctx, query, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("get prices by range: %w", err)
	}
	defer rows.Close()

	return scanPrices(rows)
}

// scanPrices scans multiple rows into a slice of PriceRecord.
func scanPrices(rows pgx.Rows) ([]domain.PriceRecord, error) {
	var records []domain.PriceRecord

	for rows.Next() {
		var r domain.PriceRecord

		err := rows.Scan(
			&r.Symbol,
			&r.TradeDate,
			&r.Open,
			&r.High,
			&r.Low,
			&r.Close,
			&r.AdjClose,
			&r.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("scan price row: %w", err)
		}

		r.TradeDate = domain.DateOf(r.TradeDate)
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price rows: %w", err)
	}

	return records, nil
}
