package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"stock-price-loader/internal/config"
	"stock-price-loader/internal/domain"
	"stock-price-loader/internal/ingestion"
	"stock-price-loader/internal/logging"
	"stock-price-loader/internal/marketdata"
	"stock-price-loader/internal/observability"
	"stock-price-loader/internal/storage"
	"stock-price-loader/internal/universe"
	"stock-price-loader/internal/upsert"
	"stock-price-loader/internal/verification"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config file")
	startDate := flag.String("start_date", "", "First trade date to load (YYYY-MM-DD, default today)")
	endDate := flag.String("end_date", "", "Last trade date to load (YYYY-MM-DD, default today)")
	backend := flag.String("backend", "", "Destination backend: postgres, clickhouse or memory (overrides config)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage (same as --backend memory)")
	symbols := flag.String("symbols", "", "Comma-separated symbols (default: configured list or S&P 500)")
	migrate := flag.Bool("migrate", true, "Create destination schema and table if missing")
	verify := flag.Bool("verify", false, "Read the window back after the load and compare it to the fetched records")

	flag.Parse()

	cfg, err := loadConfig(*configPath, *backend, *useMemory)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log).With().Str("app", "loader").Logger()

	window, err := resolveWindow(*startDate, *endDate, time.Now(), cfg.Window.LookbackDays)
	if err != nil {
		logger.Error().Err(err).Msg("invalid date window")
		os.Exit(1)
	}

	symbolList := universe.Resolve(cfg.Symbols)
	if *symbols != "" {
		symbolList = universe.ParseList(*symbols)
	}

	// Create context with cancellation
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = run(ctx, logger, cfg, symbolList, window, *migrate, *verify)

	if cfg.Metrics.PushURL != "" {
		if perr := observability.Push(cfg.Metrics.PushURL, cfg.Metrics.Job, map[string]string{"environment": cfg.Environment}); perr != nil {
			logger.Warn().Err(perr).Msg("metrics push failed")
		}
	}

	if err != nil {
		logger.Error().Err(err).Msg("load failed")
		cancel()
		os.Exit(1)
	}
}

// loadConfig reads the config, applies the backend flags and validates the result.
func loadConfig(path, backend string, useMemory bool) (*config.Loader, error) {
	cfg, err := config.LoadLoader(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if useMemory {
		cfg.Backend = config.BackendMemory
	} else if backend != "" {
		cfg.Backend = backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, logger zerolog.Logger, cfg *config.Loader, symbols []string, window domain.DateRange, migrate, verify bool) error {
	store, closeStore, err := openStore(ctx, cfg, migrate)
	if err != nil {
		return err
	}
	defer closeStore()

	source := marketdata.NewYahooClient(
		marketdata.WithBaseURL(cfg.Source.BaseURL),
		marketdata.WithTimeout(cfg.Source.Timeout),
		marketdata.WithMaxRetries(cfg.Source.MaxRetries),
	)

	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		Fetcher: ingestion.NewFetcher(ingestion.FetcherOptions{Source: source, Logger: logger}),
		Writer:  upsert.NewWriter(upsert.Options{Table: store, Logger: logger}),
		Logger:  logger,
	})

	res, err := runner.Run(ctx, symbols, window)
	if err != nil {
		return err
	}

	ev := logger.Info().
		Str("backend", cfg.Backend).
		Str("window", window.String()).
		Int("fetched", res.Fetched).
		Int64("merged", res.Upsert.Merged).
		Dur("duration", res.Duration)
	if res.Upsert.CleanupErr != nil {
		ev = ev.AnErr("cleanup_error", res.Upsert.CleanupErr)
	}
	ev.Msg("load complete")

	if verify {
		report, err := verification.VerifyWindow(ctx, store, res.Records, window)
		if err != nil {
			return err
		}
		logger.Info().
			Int("expected", report.Expected).
			Int("stored", report.Stored).
			Int("missing", len(report.Missing)).
			Int("divergent_fields", len(report.Divergences)).
			Msg("verification complete")
		if !report.Match() {
			return fmt.Errorf("verify window %s: %d missing rows, %d divergent fields",
				window, len(report.Missing), len(report.Divergences))
		}
	}

	return nil
}

// resolveWindow applies the default [today-lookback, today] for missing bounds.
func resolveWindow(start, end string, now time.Time, lookbackDays int) (domain.DateRange, error) {
	def := ingestion.DefaultWindow(now, lookbackDays)
	s, e := def.Start, def.End

	if start != "" {
		d, err := domain.ParseDate(start)
		if err != nil {
			return domain.DateRange{}, fmt.Errorf("--start_date: %w", err)
		}
		s = d
	}
	if end != "" {
		d, err := domain.ParseDate(end)
		if err != nil {
			return domain.DateRange{}, fmt.Errorf("--end_date: %w", err)
		}
		e = d
	}

	w, err := domain.NewDateRange(s, e)
	if err != nil {
		return domain.DateRange{}, fmt.Errorf("%w: %w", storage.ErrInvalidInput, err)
	}
	return w, nil
}
