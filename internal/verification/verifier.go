// Package verification checks that a completed load is reflected in the destination.
package verification

import (
	"context"
	"fmt"
	"math"

	"stock-price-loader/internal/domain"
	"stock-price-loader/internal/storage"
)

// FloatTolerance is the tolerance for float64 comparisons.
const FloatTolerance = 1e-7

// FieldDivergence represents a mismatch between loaded and stored values.
type FieldDivergence struct {
	Key      domain.PriceKey
	Field    string
	Expected interface{} // loaded value
	Actual   interface{} // stored value
}

// Report contains the result of verifying one window.
type Report struct {
	Window      domain.DateRange
	Expected    int               // records in window that were loaded
	Stored      int               // destination rows in window
	Missing     []domain.PriceKey // loaded keys absent from the destination
	Divergences []FieldDivergence
}

// Match reports whether every loaded record is stored unchanged.
func (r *Report) Match() bool {
	return len(r.Missing) == 0 && len(r.Divergences) == 0
}

// VerifyWindow reads window back from reader and compares it to the loaded records.
// Records outside window and extra destination rows are not divergences.
func VerifyWindow(ctx context.Context, reader storage.PriceReader, loaded []domain.PriceRecord, window domain.DateRange) (*Report, error) {
	stored, err := reader.GetByRange(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("read window %s: %w", window, err)
	}

	byKey := make(map[domain.PriceKey]domain.PriceRecord, len(stored))
	for _, r := range stored {
		byKey[r.Key()] = r
	}

	// Last occurrence wins, as in the writer.
	expected := make(map[domain.PriceKey]domain.PriceRecord)
	var order []domain.PriceKey
	for _, r := range loaded {
		if !window.Contains(r.TradeDate) {
			continue
		}
		k := r.Key()
		if _, ok := expected[k]; !ok {
			order = append(order, k)
		}
		expected[k] = r
	}

	report := &Report{Window: window, Expected: len(order), Stored: len(stored)}
	for _, k := range order {
		got, ok := byKey[k]
		if !ok {
			report.Missing = append(report.Missing, k)
			continue
		}
		report.Divergences = append(report.Divergences, CompareRecords(expected[k], got)...)
	}
	return report, nil
}

// CompareRecords compares two records of the same key and returns divergences.
// Uses FloatTolerance for float64 comparisons.
func CompareRecords(expected, actual domain.PriceRecord) []FieldDivergence {
	var divergences []FieldDivergence
	key := expected.Key()

	floats := []struct {
		field string
		a, b  float64
	}{
		{"Open", expected.Open, actual.Open},
		{"High", expected.High, actual.High},
		{"Low", expected.Low, actual.Low},
		{"Close", expected.Close, actual.Close},
		{"AdjClose", expected.AdjClose, actual.AdjClose},
	}
	for _, f := range floats {
		if !floatEquals(f.a, f.b) {
			divergences = append(divergences, FieldDivergence{Key: key, Field: f.field, Expected: f.a, Actual: f.b})
		}
	}

	// Volume must match exactly
	if expected.Volume != actual.Volume {
		divergences = append(divergences, FieldDivergence{
			Key:      key,
			Field:    "Volume",
			Expected: expected.Volume,
			Actual:   actual.Volume,
		})
	}

	return divergences
}

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) <= FloatTolerance
}
