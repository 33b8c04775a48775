package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"

	"stock-price-loader/internal/config"
	"stock-price-loader/internal/domain"
	"stock-price-loader/internal/logging"
	"stock-price-loader/internal/observability"
	"stock-price-loader/internal/provision"
	"stock-price-loader/internal/scheduler"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config file")
	mode := flag.String("mode", "lambda", "Trigger context: lambda, once or cron")
	timestamp := flag.String("timestamp", "", "Event timestamp for --mode once (ISO-8601, default now)")
	schedule := flag.String("schedule", "", "Cron schedule with seconds for --mode cron (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address for --mode cron (empty to disable)")

	flag.Parse()

	cfg, err := config.LoadProvisioner(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *schedule != "" {
		cfg.Schedule = *schedule
	}

	logger := logging.New(cfg.Log).With().Str("app", "provisioner").Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, err := newProvisioner(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("setup failed")
		os.Exit(1)
	}
	h := &handler{provisioner: p, metrics: cfg.Metrics, logger: logger}

	switch *mode {
	case "lambda":
		lambda.Start(h.HandleCloudWatchEvent)

	case "once":
		event := domain.TriggerEvent{ID: "manual"}
		if *timestamp != "" {
			ts, err := domain.ParseTimestamp(*timestamp)
			if err != nil {
				logger.Error().Err(err).Msg("invalid --timestamp")
				os.Exit(1)
			}
			event.Timestamp = ts
		}
		if _, err := h.Handle(ctx, event); err != nil {
			os.Exit(1)
		}

	case "cron":
		if *metricsAddr != "" {
			go serveMetrics(*metricsAddr, logger)
		}
		s := scheduler.New(logger)
		job := scheduler.JobFunc{
			JobName: "provision",
			Fn: func(ctx context.Context, at time.Time) error {
				_, err := h.Handle(ctx, domain.TriggerEvent{ID: "cron", Timestamp: at})
				return err
			},
		}
		if err := s.AddJob(ctx, cfg.Schedule, job); err != nil {
			logger.Error().Err(err).Msg("invalid schedule")
			os.Exit(1)
		}
		if next, err := scheduler.Next(cfg.Schedule, time.Now().UTC()); err == nil {
			logger.Info().Time("next_run", next).Msg("waiting for first tick")
		}
		s.Run(ctx)

	default:
		logger.Error().Str("mode", *mode).Msg("unknown mode")
		os.Exit(1)
	}
}

// serveMetrics exposes /metrics and /health until the process exits.
func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	logger.Info().Str("addr", addr).Msg("Starting metrics server")
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("Metrics server error")
	}
}

// newProvisioner loads AWS credentials, resolves the deploying account and builds the provisioner.
func newProvisioner(ctx context.Context, cfg *config.Provisioner, logger zerolog.Logger) (*provision.Provisioner, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	env, err := provision.ResolveEnvironment(ctx, sts.NewFromConfig(awsCfg), awsCfg)
	if err != nil {
		return nil, err
	}
	logger.Info().
		Str("account", env.Account).
		Str("region", env.Region).
		Str("template", cfg.Template).
		Msg("environment resolved")

	return provision.New(provision.Options{
		Client:       ec2.NewFromConfig(awsCfg),
		Template:     cfg.Template,
		Zone:         cfg.Zone,
		NamePrefix:   cfg.NamePrefix,
		UniqueSuffix: cfg.UniqueSuffix,
		WaitTimeout:  cfg.WaitTimeout,
		Tags: map[string]string{
			"environment": cfg.Environment,
			"account":     env.Account,
		},
		Logger: logger,
	}), nil
}
