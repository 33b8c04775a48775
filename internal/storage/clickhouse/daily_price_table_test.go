package clickhouse_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-price-loader/internal/domain"
	"stock-price-loader/internal/storage"
	chstore "stock-price-loader/internal/storage/clickhouse"
	"stock-price-loader/internal/storage/migrations"
	"stock-price-loader/internal/upsert"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func rec(symbol string, d int, close float64) domain.PriceRecord {
	return domain.PriceRecord{
		Symbol: symbol, TradeDate: day(d),
		Open: close - 1, High: close + 1, Low: close - 2, Close: close, AdjClose: close - 0.5,
		Volume: 1_000_000,
	}
}

func window(t *testing.T, start, end int) domain.DateRange {
	t.Helper()
	w, err := domain.NewDateRange(day(start), day(end))
	require.NoError(t, err)
	return w
}

func TestDailyPriceTable(t *testing.T) {
	conn, dsn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	table := chstore.NewDailyPriceTable(conn, testTable, testStaging)
	writer := upsert.NewWriter(upsert.Options{Table: table, Logger: zerolog.Nop()})

	t.Run("insert then update keeps one row per key", func(t *testing.T) {
		truncate(t, conn)

		_, err := writer.Write(ctx, []domain.PriceRecord{rec("AAPL", 2, 180)}, window(t, 2, 2))
		require.NoError(t, err)
		res, err := writer.Write(ctx, []domain.PriceRecord{rec("AAPL", 2, 185.64)}, window(t, 2, 2))
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Merged)

		rows, err := table.GetByRange(ctx, window(t, 1, 31))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, rec("AAPL", 2, 185.64), rows[0])
	})

	t.Run("staged row outside window is ignored", func(t *testing.T) {
		truncate(t, conn)

		res, err := writer.Write(ctx, []domain.PriceRecord{rec("MSFT", 5, 370)}, window(t, 2, 3))
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.Merged)

		rows, err := table.GetByRange(ctx, window(t, 1, 31))
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("rows outside window are untouched", func(t *testing.T) {
		truncate(t, conn)

		_, err := writer.Write(ctx, []domain.PriceRecord{rec("AAPL", 1, 100), rec("AAPL", 4, 100)}, window(t, 1, 4))
		require.NoError(t, err)
		_, err = writer.Write(ctx, []domain.PriceRecord{rec("AAPL", 1, 200), rec("AAPL", 2, 200), rec("AAPL", 4, 200)}, window(t, 2, 3))
		require.NoError(t, err)

		rows, err := table.GetByRange(ctx, window(t, 1, 31))
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, 100.0, rows[0].Close)
		assert.Equal(t, 200.0, rows[1].Close)
		assert.Equal(t, 100.0, rows[2].Close)
	})

	t.Run("leftover staging table is replaced", func(t *testing.T) {
		truncate(t, conn)
		require.NoError(t, table.LoadStaging(ctx, []domain.PriceRecord{rec("GOOG", 2, 1)}))

		_, err := writer.Write(ctx, []domain.PriceRecord{rec("AAPL", 2, 185.64)}, window(t, 2, 2))
		require.NoError(t, err)

		rows, err := table.GetByRange(ctx, window(t, 2, 2))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "AAPL", rows[0].Symbol)
	})

	t.Run("empty batch", func(t *testing.T) {
		truncate(t, conn)

		res, err := writer.Write(ctx, nil, window(t, 6, 7))
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.Merged)
	})

	t.Run("missing staging", func(t *testing.T) {
		truncate(t, conn)
		assert.ErrorIs(t, table.DeleteStaging(ctx), storage.ErrNotFound)
		_, err := table.MergeStaging(ctx, window(t, 2, 2))
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("migrations are idempotent", func(t *testing.T) {
		again, err := migrations.RunClickhouseMigrations(ctx, dsn, testTable)
		require.NoError(t, err)
		assert.NoError(t, again.Close())
	})
}
