package upsert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-price-loader/internal/domain"
	"stock-price-loader/internal/storage"
	"stock-price-loader/internal/storage/memory"
)

// faultyTable wraps the memory table, records the call order and injects failures per step.
type faultyTable struct {
	*memory.DailyPriceTable
	calls []string
	fail  map[string]error
}

func newFaultyTable() *faultyTable {
	return &faultyTable{DailyPriceTable: memory.NewDailyPriceTable(), fail: map[string]error{}}
}

func (f *faultyTable) DropStaging(ctx context.Context) error {
	f.calls = append(f.calls, StepReset)
	if err := f.fail[StepReset]; err != nil {
		return err
	}
	return f.DailyPriceTable.DropStaging(ctx)
}

func (f *faultyTable) LoadStaging(ctx context.Context, records []domain.PriceRecord) error {
	f.calls = append(f.calls, StepLoad)
	if err := f.fail[StepLoad]; err != nil {
		return err
	}
	return f.DailyPriceTable.LoadStaging(ctx, records)
}

func (f *faultyTable) MergeStaging(ctx context.Context, window domain.DateRange) (int64, error) {
	f.calls = append(f.calls, StepMerge)
	if err := f.fail[StepMerge]; err != nil {
		return 0, err
	}
	return f.DailyPriceTable.MergeStaging(ctx, window)
}

func (f *faultyTable) DeleteStaging(ctx context.Context) error {
	f.calls = append(f.calls, StepCleanup)
	if err := f.fail[StepCleanup]; err != nil {
		return err
	}
	return f.DailyPriceTable.DeleteStaging(ctx)
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func window(t *testing.T, from, to int) domain.DateRange {
	t.Helper()
	r, err := domain.NewDateRange(day(from), day(to))
	require.NoError(t, err)
	return r
}

func aapl(d int, close float64) domain.PriceRecord {
	return domain.PriceRecord{
		Symbol: "AAPL", TradeDate: day(d),
		Open: 100, High: 105, Low: 99, Close: close, AdjClose: close, Volume: 1_000_000,
	}
}

func newTestWriter(table storage.PriceTable) *Writer {
	return NewWriter(Options{Table: table, Logger: zerolog.Nop()})
}

func TestWriter_InsertIntoEmptyTable(t *testing.T) {
	table := newFaultyTable()
	w := newTestWriter(table)
	ctx := context.Background()

	result, err := w.Write(ctx, []domain.PriceRecord{aapl(2, 104)}, window(t, 2, 2))
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.Merged)
	assert.NoError(t, result.CleanupErr)
	assert.Equal(t, []domain.PriceRecord{aapl(2, 104)}, table.All())
	assert.Equal(t, []string{StepReset, StepLoad, StepMerge, StepCleanup}, table.calls)
	assert.False(t, table.HasStaging())
}

func TestWriter_UpdateExistingRow(t *testing.T) {
	table := newFaultyTable()
	table.Seed(aapl(2, 104))
	w := newTestWriter(table)

	updated := aapl(2, 106)
	updated.High = 107
	updated.Volume = 1_200_000

	_, err := w.Write(context.Background(), []domain.PriceRecord{updated}, window(t, 2, 2))
	require.NoError(t, err)

	rows := table.All()
	require.Len(t, rows, 1, "update must not create a new row")
	assert.Equal(t, updated, rows[0])
}

func TestWriter_RecordOutsideWindowNotApplied(t *testing.T) {
	table := newFaultyTable()
	w := newTestWriter(table)

	result, err := w.Write(context.Background(), []domain.PriceRecord{aapl(5, 110)}, window(t, 1, 3))
	require.NoError(t, err)

	assert.Equal(t, int64(0), result.Merged)
	assert.Empty(t, table.All())
}

func TestWriter_WindowWithTimeOfDay(t *testing.T) {
	table := newFaultyTable()
	w := newTestWriter(table)

	// Bounds built as a literal, not via NewDateRange.
	win := domain.DateRange{Start: day(2).Add(15 * time.Hour), End: day(3).Add(9 * time.Hour)}

	result, err := w.Write(context.Background(), []domain.PriceRecord{aapl(2, 104), aapl(3, 105)}, win)
	require.NoError(t, err)

	assert.Equal(t, int64(2), result.Merged, "the start date is inside its own window")
	assert.Equal(t, []domain.PriceRecord{aapl(2, 104), aapl(3, 105)}, table.All())
}

func TestWriter_LeftoverStagingTable(t *testing.T) {
	ctx := context.Background()

	clean := newFaultyTable()
	_, err := newTestWriter(clean).Write(ctx, []domain.PriceRecord{aapl(2, 104)}, window(t, 2, 2))
	require.NoError(t, err)

	dirty := newFaultyTable()
	// Crashed run: staging created and loaded with unrelated rows, never dropped.
	require.NoError(t, dirty.DailyPriceTable.LoadStaging(ctx, []domain.PriceRecord{aapl(2, 1)}))
	require.True(t, dirty.HasStaging())

	_, err = newTestWriter(dirty).Write(ctx, []domain.PriceRecord{aapl(2, 104)}, window(t, 2, 2))
	require.NoError(t, err)

	assert.Equal(t, clean.All(), dirty.All())
}

func TestWriter_Idempotent(t *testing.T) {
	table := newFaultyTable()
	table.Seed(aapl(1, 90))
	w := newTestWriter(table)
	ctx := context.Background()

	records := []domain.PriceRecord{aapl(1, 95), aapl(2, 104), aapl(3, 108)}
	win := window(t, 1, 3)

	_, err := w.Write(ctx, records, win)
	require.NoError(t, err)
	once := table.All()

	_, err = w.Write(ctx, records, win)
	require.NoError(t, err)

	assert.Equal(t, once, table.All())
	assert.Len(t, once, 3)
}

func TestWriter_WindowIsolation(t *testing.T) {
	table := newFaultyTable()
	outside := []domain.PriceRecord{aapl(1, 90), aapl(10, 200)}
	table.Seed(outside...)
	w := newTestWriter(table)

	// Records for outside dates are present in the batch but the window excludes them.
	records := []domain.PriceRecord{aapl(1, 1), aapl(4, 120), aapl(10, 2)}
	_, err := w.Write(context.Background(), records, window(t, 3, 5))
	require.NoError(t, err)

	rows := table.All()
	require.Len(t, rows, 3)
	assert.Equal(t, aapl(1, 90), rows[0])
	assert.Equal(t, aapl(4, 120), rows[1])
	assert.Equal(t, aapl(10, 200), rows[2])
}

func TestWriter_KeysNotStagedAreUntouched(t *testing.T) {
	table := newFaultyTable()
	msft := domain.PriceRecord{Symbol: "MSFT", TradeDate: day(2), Open: 1, High: 2, Low: 1, Close: 2, AdjClose: 2, Volume: 3}
	table.Seed(msft)

	_, err := newTestWriter(table).Write(context.Background(), []domain.PriceRecord{aapl(2, 104)}, window(t, 2, 2))
	require.NoError(t, err)

	rows := table.All()
	require.Len(t, rows, 2)
	assert.Equal(t, msft, rows[1])
}

func TestWriter_LoadFailureLeavesDestinationUntouched(t *testing.T) {
	table := newFaultyTable()
	table.Seed(aapl(2, 104))
	before := table.All()
	table.fail[StepLoad] = errors.New("load job failed")

	_, err := newTestWriter(table).Write(context.Background(), []domain.PriceRecord{aapl(2, 200), aapl(3, 201)}, window(t, 2, 3))
	require.Error(t, err)

	assert.ErrorIs(t, err, storage.ErrStaging)
	assert.Equal(t, before, table.All())
	assert.Equal(t, []string{StepReset, StepLoad}, table.calls, "merge must not run after a failed load")
}

func TestWriter_ResetFailureIsStagingFailure(t *testing.T) {
	table := newFaultyTable()
	table.fail[StepReset] = errors.New("permission denied")

	_, err := newTestWriter(table).Write(context.Background(), []domain.PriceRecord{aapl(2, 104)}, window(t, 2, 2))
	assert.ErrorIs(t, err, storage.ErrStaging)
	assert.Equal(t, []string{StepReset}, table.calls)
}

func TestWriter_MergeFailure(t *testing.T) {
	table := newFaultyTable()
	table.Seed(aapl(2, 104))
	before := table.All()
	table.fail[StepMerge] = errors.New("statement aborted")

	_, err := newTestWriter(table).Write(context.Background(), []domain.PriceRecord{aapl(2, 200)}, window(t, 2, 2))
	require.Error(t, err)

	assert.ErrorIs(t, err, storage.ErrReconciliation)
	assert.Equal(t, before, table.All())
	assert.Equal(t, []string{StepReset, StepLoad, StepMerge}, table.calls)
}

func TestWriter_CleanupFailureIsNotFatal(t *testing.T) {
	table := newFaultyTable()
	table.fail[StepCleanup] = errors.New("table busy")
	w := newTestWriter(table)
	ctx := context.Background()

	result, err := w.Write(ctx, []domain.PriceRecord{aapl(2, 104)}, window(t, 2, 2))
	require.NoError(t, err)
	assert.ErrorIs(t, result.CleanupErr, storage.ErrCleanup)
	assert.True(t, table.HasStaging(), "staging table leaks when cleanup fails")

	// The next run heals the leak.
	delete(table.fail, StepCleanup)
	result, err = w.Write(ctx, []domain.PriceRecord{aapl(2, 104)}, window(t, 2, 2))
	require.NoError(t, err)
	assert.NoError(t, result.CleanupErr)
	assert.False(t, table.HasStaging())
	assert.Equal(t, []domain.PriceRecord{aapl(2, 104)}, table.All())
}

func TestWriter_InvalidWindow(t *testing.T) {
	table := newFaultyTable()
	_, err := newTestWriter(table).Write(context.Background(), nil, domain.DateRange{Start: day(3), End: day(1)})

	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	assert.Empty(t, table.calls)
}

func TestWriter_DuplicateKeysKeepLast(t *testing.T) {
	table := newFaultyTable()

	result, err := newTestWriter(table).Write(context.Background(), []domain.PriceRecord{aapl(2, 100), aapl(2, 104)}, window(t, 2, 2))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Received)
	assert.Equal(t, 1, result.Staged)
	assert.Equal(t, []domain.PriceRecord{aapl(2, 104)}, table.All())
}

func TestWriter_EmptyBatch(t *testing.T) {
	table := newFaultyTable()
	table.Seed(aapl(2, 104))

	result, err := newTestWriter(table).Write(context.Background(), nil, window(t, 2, 2))
	require.NoError(t, err)

	assert.Equal(t, int64(0), result.Merged)
	assert.Len(t, table.All(), 1)
}
