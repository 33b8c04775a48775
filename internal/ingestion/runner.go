package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stock-price-loader/internal/domain"
	"stock-price-loader/internal/observability"
	"stock-price-loader/internal/upsert"
)

// Runner performs one load: fetch a window, then reconcile it into the destination.
type Runner struct {
	fetcher *Fetcher
	writer  *upsert.Writer
	logger  zerolog.Logger
	now     func() time.Time
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Fetcher *Fetcher
	Writer  *upsert.Writer
	Logger  zerolog.Logger
	Now     func() time.Time // Default: time.Now
}

// RunResult summarizes one Run call.
type RunResult struct {
	Window   domain.DateRange
	Fetched  int
	Records  []domain.PriceRecord // fetched records, in fetch order
	Upsert   *upsert.Result
	Duration time.Duration
}

// NewRunner creates a new Runner.
func NewRunner(opts RunnerOptions) *Runner {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		fetcher: opts.Fetcher,
		writer:  opts.Writer,
		logger:  opts.Logger.With().Str("component", "runner").Logger(),
		now:     now,
	}
}

// Run fetches symbols over window and writes the result.
// Failures of either stage abort the run; a cleanup failure does not.
func (r *Runner) Run(ctx context.Context, symbols []string, window domain.DateRange) (*RunResult, error) {
	started := r.now()
	res, err := r.run(ctx, symbols, window)

	status := "success"
	if err != nil {
		status = "failure"
	}
	finished := r.now()
	observability.RecordRun(status, finished.Sub(started).Seconds(), finished.Unix())

	if err != nil {
		r.logger.Error().Err(err).Str("window", window.String()).Msg("run failed")
		return nil, err
	}
	res.Duration = finished.Sub(started)
	return res, nil
}

func (r *Runner) run(ctx context.Context, symbols []string, window domain.DateRange) (*RunResult, error) {
	r.logger.Info().
		Int("symbols", len(symbols)).
		Str("window", window.String()).
		Msg("run started")

	records, err := r.fetcher.Fetch(ctx, symbols, window)
	if err != nil {
		return nil, err
	}

	result, err := r.writer.Write(ctx, records, window)
	if err != nil {
		return nil, fmt.Errorf("write window %s: %w", window, err)
	}

	return &RunResult{Window: window, Fetched: len(records), Records: records, Upsert: result}, nil
}

// DefaultWindow returns [today-lookbackDays, today] in UTC.
func DefaultWindow(now time.Time, lookbackDays int) domain.DateRange {
	end := domain.DateOf(now.UTC())
	return domain.DateRange{Start: end.AddDate(0, 0, -lookbackDays), End: end}
}
