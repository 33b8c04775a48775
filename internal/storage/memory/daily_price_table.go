package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"stock-price-loader/internal/domain"
	"stock-price-loader/internal/storage"
)

// DailyPriceTable is an in-memory implementation of storage.PriceStore.
// A single mutex guards both tables, so a merge is atomic to concurrent readers.
type DailyPriceTable struct {
	mu            sync.RWMutex
	data          map[domain.PriceKey]domain.PriceRecord
	staging       []domain.PriceRecord
	stagingExists bool
}

// NewDailyPriceTable creates an empty in-memory destination table.
func NewDailyPriceTable() *DailyPriceTable {
	return &DailyPriceTable{
		data: make(map[domain.PriceKey]domain.PriceRecord),
	}
}

// Compile-time interface check.
var _ storage.PriceStore = (*DailyPriceTable)(nil)

// DropStaging removes the staging table if present.
func (t *DailyPriceTable) DropStaging(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.staging = nil
	t.stagingExists = false
	return nil
}

// LoadStaging creates the staging table and copies records into it.
func (t *DailyPriceTable) LoadStaging(_ context.Context, records []domain.PriceRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stagingExists {
		return errors.New("staging table already exists")
	}
	for _, r := range records {
		if r.Symbol == "" || r.TradeDate.IsZero() {
			return storage.ErrInvalidInput
		}
	}

	t.staging = make([]domain.PriceRecord, len(records))
	for i, r := range records {
		r.TradeDate = domain.DateOf(r.TradeDate)
		t.staging[i] = r
	}
	t.stagingExists = true
	return nil
}

// MergeStaging upserts staged rows inside window into the destination.
func (t *DailyPriceTable) MergeStaging(_ context.Context, window domain.DateRange) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.stagingExists {
		return 0, storage.ErrNotFound
	}

	var affected int64
	for _, r := range t.staging {
		if !window.Contains(r.TradeDate) {
			continue
		}
		t.data[r.Key()] = r
		affected++
	}
	return affected, nil
}

// DeleteStaging removes the staging table.
func (t *DailyPriceTable) DeleteStaging(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.stagingExists {
		return storage.ErrNotFound
	}
	t.staging = nil
	t.stagingExists = false
	return nil
}

// GetByRange retrieves destination rows within window, ordered by symbol and date.
func (t *DailyPriceTable) GetByRange(_ context.Context, window domain.DateRange) ([]domain.PriceRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var result []domain.PriceRecord
	for _, r := range t.data {
		if window.Contains(r.TradeDate) {
			result = append(result, r)
		}
	}
	sortRecords(result)
	return result, nil
}

// Seed, All and HasStaging are test and dev aids, not part of storage.PriceStore.

// Seed writes records straight into the destination, bypassing staging.
// Existing keys are replaced.
func (t *DailyPriceTable) Seed(records ...domain.PriceRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range records {
		r.TradeDate = domain.DateOf(r.TradeDate)
		t.data[r.Key()] = r
	}
}

// All returns every destination row, ordered by symbol and date.
func (t *DailyPriceTable) All() []domain.PriceRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]domain.PriceRecord, 0, len(t.data))
	for _, r := range t.data {
		result = append(result, r)
	}
	sortRecords(result)
	return result
}

// HasStaging reports whether a staging table currently exists.
func (t *DailyPriceTable) HasStaging() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stagingExists
}

func sortRecords(records []domain.PriceRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Symbol != records[j].Symbol {
			return records[i].Symbol < records[j].Symbol
		}
		return records[i].TradeDate.Before(records[j].TradeDate)
	})
}
