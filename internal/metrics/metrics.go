package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delver_jobs_total",
			Help: "Research jobs by terminal outcome",
		},
		[]string{"outcome"},
	)

	JobRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "delver_job_retries_total",
			Help: "Job-level retries after transient failures",
		},
	)

	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delver_phase_duration_seconds",
			Help:    "Duration of pipeline phases in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"phase"},
	)

	CrawlFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delver_crawl_fetches_total",
			Help: "Page fetches during the crawl phase, by outcome",
		},
		[]string{"outcome"},
	)

	SearchProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delver_search_provider_errors_total",
			Help: "Per-provider search failures absorbed by the aggregator",
		},
		[]string{"provider"},
	)

	AnalyzerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delver_analyzer_calls_total",
			Help: "Text analyzer calls by operation and result",
		},
		[]string{"operation", "result"},
	)
)

// ObservePhase records the duration of a completed pipeline phase.
func ObservePhase(phase string, start time.Time) {
	PhaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

// RecordOutcome counts a job reaching a terminal state.
func RecordOutcome(outcome string) {
	JobsTotal.WithLabelValues(outcome).Inc()
}

// Server encapsulates an HTTP server exposing /metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the specified port and exposes /metrics.
func Start(port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server failed: %v\n", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
