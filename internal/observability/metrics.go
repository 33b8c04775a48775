// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	RecordsFetched   prometheus.Counter
	SymbolsWithData  prometheus.Gauge
	RetrievalErrors  prometheus.Counter
	UpstreamRequests *prometheus.CounterVec
	UpstreamLatency  prometheus.Histogram

	// Upsert metrics
	RecordsStaged   prometheus.Counter
	RowsMerged      prometheus.Counter
	UpsertStepTime  *prometheus.HistogramVec
	UpsertStepFails *prometheus.CounterVec

	// Provisioning metrics
	ProvisionsTotal   *prometheus.CounterVec
	ProvisionDuration prometheus.Histogram

	// Run metrics
	RunsTotal   *prometheus.CounterVec
	RunDuration prometheus.Histogram

	// Health metrics
	LastSuccessfulIngestion prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "stock_price_loader"
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Ingestion metrics
		RecordsFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "records_fetched_total",
			Help:      "Total number of price records produced by the fetcher",
		}),
		SymbolsWithData: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "symbols_with_data",
			Help:      "Number of symbols with at least one record in the last fetch",
		}),
		RetrievalErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "retrieval_errors_total",
			Help:      "Total number of failed upstream queries",
		}),
		UpstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "requests_total",
			Help:      "Total number of upstream HTTP requests by outcome",
		}, []string{"outcome"}),
		UpstreamLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "request_latency_seconds",
			Help:      "Upstream HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Upsert metrics
		RecordsStaged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upsert",
			Name:      "records_staged_total",
			Help:      "Total number of records bulk loaded into staging",
		}),
		RowsMerged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upsert",
			Name:      "rows_merged_total",
			Help:      "Total number of destination rows inserted or updated",
		}),
		UpsertStepTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upsert",
			Name:      "step_duration_seconds",
			Help:      "Duration of each staging/merge protocol step in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"step"}),
		UpsertStepFails: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upsert",
			Name:      "step_errors_total",
			Help:      "Total number of failed protocol steps",
		}, []string{"step"}),

		// Provisioning metrics
		ProvisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provision",
			Name:      "units_total",
			Help:      "Total number of compute unit creations by status",
		}, []string{"status"}),
		ProvisionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provision",
			Name:      "duration_seconds",
			Help:      "Time from create request to running unit in seconds",
			Buckets:   []float64{5, 10, 20, 30, 60, 120, 300},
		}),

		// Run metrics
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of ingestion runs by status",
		}, []string{"status"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Ingestion run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),

		// Health metrics
		LastSuccessfulIngestion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_ingestion_timestamp",
			Help:      "Unix timestamp of last successful ingestion",
		}),
	}
}

// Registry is the registry DefaultMetrics is registered with.
var Registry = prometheus.NewRegistry()

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", Registry)

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Push sends the current values to a Pushgateway. Short-lived jobs call it once at exit.
func Push(url, job string, grouping map[string]string) error {
	pusher := push.New(url, job).Gatherer(Registry)
	for k, v := range grouping {
		pusher = pusher.Grouping(k, v)
	}
	if err := pusher.Push(); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}

// RecordFetch records the outcome of one fetcher call.
func RecordFetch(records, symbolsWithData int, err error) {
	if err != nil {
		DefaultMetrics.RetrievalErrors.Inc()
		return
	}
	DefaultMetrics.RecordsFetched.Add(float64(records))
	DefaultMetrics.SymbolsWithData.Set(float64(symbolsWithData))
}

// RecordUpstreamRequest records one upstream HTTP request.
func RecordUpstreamRequest(outcome string, seconds float64) {
	DefaultMetrics.UpstreamRequests.WithLabelValues(outcome).Inc()
	DefaultMetrics.UpstreamLatency.Observe(seconds)
}

// RecordUpsertStep records the duration and outcome of one protocol step.
func RecordUpsertStep(step string, seconds float64, err error) {
	DefaultMetrics.UpsertStepTime.WithLabelValues(step).Observe(seconds)
	if err != nil {
		DefaultMetrics.UpsertStepFails.WithLabelValues(step).Inc()
	}
}

// RecordUpsert records the row counts of a completed write.
func RecordUpsert(staged int, merged int64) {
	DefaultMetrics.RecordsStaged.Add(float64(staged))
	DefaultMetrics.RowsMerged.Add(float64(merged))
}

// RecordProvision records a compute unit creation attempt.
func RecordProvision(status string, seconds float64) {
	DefaultMetrics.ProvisionsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		DefaultMetrics.ProvisionDuration.Observe(seconds)
	}
}

// RecordRun records an ingestion run.
func RecordRun(status string, durationSeconds float64, finishedUnix int64) {
	DefaultMetrics.RunsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.RunDuration.Observe(durationSeconds)
	if status == "success" {
		DefaultMetrics.LastSuccessfulIngestion.Set(float64(finishedUnix))
	}
}
