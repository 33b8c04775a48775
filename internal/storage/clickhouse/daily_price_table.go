package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"stock-price-loader/internal/domain"
	"stock-price-loader/internal/storage"
)

// maxInsertBlockRows keeps one run's INSERT ... SELECT in a single block, and so in a
// single part that becomes visible to readers at once.
const maxInsertBlockRows = 10_000_000

// DailyPriceTable implements storage.PriceStore on ClickHouse.
//
// The destination is a ReplacingMergeTree keyed by (symbol, trade_date) and versioned by
// run. Reconciliation appends the staged rows with a fresh version, so the newest row per
// key wins; readers must query with FINAL.
type DailyPriceTable struct {
	conn    *Conn
	table   storage.TableRef
	staging storage.TableRef
	now     func() time.Time
}

// NewDailyPriceTable creates a DailyPriceTable for the given destination and staging tables.
func NewDailyPriceTable(conn *Conn, table, staging storage.TableRef) *DailyPriceTable {
	return &DailyPriceTable{conn: conn, table: table, staging: staging, now: time.Now}
}

// Compile-time interface check.
var _ storage.PriceStore = (*DailyPriceTable)(nil)

// DropStaging drops the staging table if it exists.
func (t *DailyPriceTable) DropStaging(ctx context.Context) error {
	if err := t.conn.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, QuoteTable(t.staging))); err != nil {
		return fmt.Errorf("drop staging table: %w", err)
	}
	return nil
}

// LoadStaging creates the staging table and fills it with one batch.
func (t *DailyPriceTable) LoadStaging(ctx context.Context, records []domain.PriceRecord) error {
	err := t.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE %s (
			symbol     String,
			trade_date Date,
			open       Float64,
			high       Float64,
			low        Float64,
			close      Float64,
			adj_close  Float64,
			volume     Int64
		) ENGINE = MergeTree()
		ORDER BY (symbol, trade_date)
	`, QuoteTable(t.staging)))
	if err != nil {
		return fmt.Errorf("create staging table: %w", err)
	}

	if len(records) == 0 {
		return nil
	}

	batch, err := t.conn.PrepareBatch(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			symbol, trade_date, open, high, low, close, adj_close, volume
		)
	`, QuoteTable(t.staging)))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		err = batch.Append(
			r.Symbol, domain.DateOf(r.TradeDate),
			r.Open, r.High, r.Low, r.Close, r.AdjClose, r.Volume,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// MergeStaging appends staged rows inside window to the destination with a new version.
func (t *DailyPriceTable) MergeStaging(ctx context.Context, window domain.DateRange) (int64, error) {
	start, end := window.Start.Format(domain.DateLayout), window.End.Format(domain.DateLayout)

	var count uint64
	err := t.conn.QueryRow(ctx, fmt.Sprintf(`
		SELECT count() FROM %s
		WHERE trade_date BETWEEN toDate(?) AND toDate(?)
	`, QuoteTable(t.staging)), start, end).Scan(&count)
	if err != nil {
		if isUnknownTableError(err) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("count staged rows: %w", err)
	}

	version := uint64(t.now().UnixNano())
	ctx = clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"max_insert_block_size":      maxInsertBlockRows,
		"min_insert_block_size_rows": maxInsertBlockRows,
	}))

	err = t.conn.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			symbol, trade_date, open, high, low, close, adj_close, volume, version
		)
		SELECT symbol, trade_date, open, high, low, close, adj_close, volume, ?
		FROM %s
		WHERE trade_date BETWEEN toDate(?) AND toDate(?)
	`, QuoteTable(t.table), QuoteTable(t.staging)), version, start, end)
	if err != nil {
		return 0, fmt.Errorf("merge staging into %s: %w", QuoteTable(t.table), err)
	}

	return int64(count), nil
}

// DeleteStaging drops the staging table. Returns storage.ErrNotFound if it is missing.
func (t *DailyPriceTable) DeleteStaging(ctx context.Context) error {
	if err := t.conn.Exec(ctx, fmt.Sprintf(`DROP TABLE %s`, QuoteTable(t.staging))); err != nil {
		if isUnknownTableError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("delete staging table: %w", err)
	}
	return nil
}

// GetByRange retrieves the latest version of each row within window.
func (t *DailyPriceTable) GetByRange(ctx context.Context, window domain.DateRange) ([]domain.PriceRecord, error) {
	query := fmt.Sprintf(`
		SELECT symbol, trade_date, open, high, low, close, adj_close, volume
		FROM %s FINAL
		WHERE trade_date BETWEEN toDate(?) AND toDate(?)
		ORDER BY symbol ASC, trade_date ASC
	`, QuoteTable(t.table))

	rows, err := t.conn.Query(ctx, query,
		window.Start.Format(domain.DateLayout), window.End.Format(domain.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("query by range: %w", err)
	}
	defer rows.Close()

	var records []domain.PriceRecord
	for rows.Next() {
		var r domain.PriceRecord
		err := rows.Scan(
			&r.Symbol, &r.TradeDate,
			&r.Open, &r.High, &r.Low, &r.Close, &r.AdjClose, &r.Volume,
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
