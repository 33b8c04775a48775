// Package upsert reconciles batches of daily prices into a destination table through a
// staging table: drop leftover staging, bulk load, merge once, drop staging.
package upsert

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stock-price-loader/internal/domain"
	"stock-price-loader/internal/observability"
	"stock-price-loader/internal/storage"
)

// Protocol step names, used in logs and metrics.
const (
	StepReset   = "reset"
	StepLoad    = "load"
	StepMerge   = "merge"
	StepCleanup = "cleanup"
)

// Result summarizes one Write call.
type Result struct {
	Received   int           // records passed in
	Staged     int           // records loaded after key de-duplication
	Merged     int64         // destination rows inserted or updated
	CleanupErr error         // non-fatal staging cleanup failure, if any
	Duration   time.Duration // wall time of the whole protocol
}

// Writer runs the staging-and-merge protocol against a storage.PriceTable.
// At most one Writer may run against the same table at a time.
type Writer struct {
	table  storage.PriceTable
	logger zerolog.Logger
}

// Options contains configuration for creating a Writer.
type Options struct {
	Table  storage.PriceTable
	Logger zerolog.Logger
}

// NewWriter creates a new Writer.
func NewWriter(opts Options) *Writer {
	return &Writer{
		table:  opts.Table,
		logger: opts.Logger.With().Str("component", "upsert").Logger(),
	}
}

// Write reconciles records into the destination for window.
// Running it twice with the same records and window leaves the same table state as once.
func (w *Writer) Write(ctx context.Context, records []domain.PriceRecord, window domain.DateRange) (*Result, error) {
	window, err := domain.NewDateRange(window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrInvalidInput, err)
	}

	started := time.Now()
	staged := dedupe(records)
	result := &Result{Received: len(records), Staged: len(staged)}

	if len(staged) < len(records) {
		w.logger.Warn().
			Int("received", len(records)).
			Int("staged", len(staged)).
			Msg("duplicate keys in batch, keeping last occurrence")
	}

	// Step 1: a leftover staging table from a crashed run is removed here.
	if err := w.step(StepReset, func() error { return w.table.DropStaging(ctx) }); err != nil {
		return nil, fmt.Errorf("%w: reset staging table: %w", storage.ErrStaging, err)
	}

	// Step 2: the destination stays untouched if the load fails.
	if err := w.step(StepLoad, func() error { return w.table.LoadStaging(ctx, staged) }); err != nil {
		return nil, fmt.Errorf("%w: load %d rows: %w", storage.ErrStaging, len(staged), err)
	}

	// Step 3
	err = w.step(StepMerge, func() error {
		n, err := w.table.MergeStaging(ctx, window)
		result.Merged = n
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: window %s: %w", storage.ErrReconciliation, window, err)
	}

	// Step 4: failures are left to the next run's reset.
	if err := w.step(StepCleanup, func() error { return w.table.DeleteStaging(ctx) }); err != nil {
		result.CleanupErr = fmt.Errorf("%w: %w", storage.ErrCleanup, err)
		w.logger.Warn().Err(err).Msg("staging table not removed")
	}

	result.Duration = time.Since(started)
	observability.RecordUpsert(result.Staged, result.Merged)
	w.logger.Info().
		Str("window", window.String()).
		Int("staged", result.Staged).
		Int64("merged", result.Merged).
		Dur("duration", result.Duration).
		Msg("reconciliation complete")

	return result, nil
}

// step times fn and records its outcome.
func (w *Writer) step(name string, fn func() error) error {
	started := time.Now()
	err := fn()
	observability.RecordUpsertStep(name, time.Since(started).Seconds(), err)
	return err
}

// dedupe keeps one record per natural key, the last one seen, in first-seen order.
func dedupe(records []domain.PriceRecord) []domain.PriceRecord {
	index := make(map[domain.PriceKey]int, len(records))
	out := make([]domain.PriceRecord, 0, len(records))
	for _, r := range records {
		k := r.Key()
		if i, ok := index[k]; ok {
			out[i] = r
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}
