// Package ingestion turns upstream price frames into records and drives one load run.
package ingestion

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"stock-price-loader/internal/domain"
	"stock-price-loader/internal/marketdata"
	"stock-price-loader/internal/observability"
	"stock-price-loader/internal/storage"
)

// Fetcher retrieves daily prices for a symbol set and window.
type Fetcher struct {
	source marketdata.Source
	logger zerolog.Logger
}

// FetcherOptions contains configuration for creating a Fetcher.
type FetcherOptions struct {
	Source marketdata.Source
	Logger zerolog.Logger
}

// NewFetcher creates a new Fetcher.
func NewFetcher(opts FetcherOptions) *Fetcher {
	return &Fetcher{
		source: opts.Source,
		logger: opts.Logger.With().Str("component", "fetcher").Logger(),
	}
}

// Fetch issues one upstream query for all symbols and flattens the result.
// Records are ordered by symbol (request order) and then by date ascending.
// Rows with any missing field are skipped; symbols without data yield nothing.
func (f *Fetcher) Fetch(ctx context.Context, symbols []string, window domain.DateRange) ([]domain.PriceRecord, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: empty symbol list", storage.ErrInvalidInput)
	}
	window, err := domain.NewDateRange(window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrInvalidInput, err)
	}

	started := time.Now()
	frame, err := f.source.Query(ctx, symbols, window)
	if err != nil {
		observability.RecordFetch(0, 0, err)
		return nil, fmt.Errorf("fetch %d symbols for %s: %w", len(symbols), window, err)
	}

	records, skipped := flatten(frame, symbols, window)
	withData := countSymbols(records)
	observability.RecordFetch(len(records), withData, nil)

	f.logger.Info().
		Int("symbols", len(symbols)).
		Int("symbols_with_data", withData).
		Int("records", len(records)).
		Int("incomplete_rows", skipped).
		Int("frame_rows", frame.Len()).
		Str("window", window.String()).
		Int("days", window.Days()).
		Dur("duration", time.Since(started)).
		Msg("fetch complete")

	return records, nil
}

// flatten fans frame out into one record per (symbol, date) with all fields present.
func flatten(frame *marketdata.Frame, symbols []string, window domain.DateRange) ([]domain.PriceRecord, int) {
	var records []domain.PriceRecord
	skipped := 0
	index := frame.Index()

	for _, symbol := range symbols {
		if !frame.HasSymbol(symbol) {
			continue
		}
		for row, date := range index {
			if !window.Contains(date) {
				continue
			}
			var vals [6]float64
			complete := true
			for i, field := range marketdata.Fields {
				vals[i] = frame.Value(field, symbol, row)
				if math.IsNaN(vals[i]) {
					complete = false
				}
			}
			if !complete {
				if !allNaN(vals[:]) {
					skipped++
				}
				continue
			}
			records = append(records, domain.PriceRecord{
				Symbol:    symbol,
				TradeDate: domain.DateOf(date),
				Open:      vals[0],
				High:      vals[1],
				Low:       vals[2],
				Close:     vals[3],
				AdjClose:  vals[4],
				Volume:    int64(math.Round(vals[5])),
			})
		}
	}
	return records, skipped
}

func allNaN(vals []float64) bool {
	for _, v := range vals {
		if !math.IsNaN(v) {
			return false
		}
	}
	return true
}

func countSymbols(records []domain.PriceRecord) int {
	seen := make(map[string]struct{})
	for _, r := range records {
		seen[r.Symbol] = struct{}{}
	}
	return len(seen)
}
