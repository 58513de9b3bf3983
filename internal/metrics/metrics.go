// Package metrics exposes strand's provisioning activity on a
// dedicated Prometheus registry. Nothing here is wired by default; the
// CLI opts in with --metrics-addr, which serves the registry via
// Serve, and wraps the run's observer with Instrument.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registry is private so the default global registry stays untouched
// when strand is embedded as a library.
var registry = prometheus.NewRegistry()

var (
	phaseTotal = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "strand",
			Subsystem: "provision",
			Name:      "phase_total",
			Help:      "Completed provisioning phases by result.",
		},
		[]string{"phase", "result"},
	)

	phaseDuration = promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "strand",
			Subsystem: "provision",
			Name:      "phase_duration_seconds",
			Help:      "Wall-clock duration of provisioning phases.",
			// 1s to ~34m, covers fast no-op re-runs and full bootstraps
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"phase"},
	)

	stepsTotal = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "strand",
			Subsystem: "converge",
			Name:      "steps_total",
			Help:      "Converge step outcomes by phase and status.",
		},
		[]string{"phase", "status"},
	)

	stateTransitionsTotal = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "strand",
			Subsystem: "cluster",
			Name:      "state_transitions_total",
			Help:      "Cluster lifecycle state transitions.",
		},
		[]string{"from", "to"},
	)

	apiRetriesTotal = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "strand",
			Subsystem: "hcloud",
			Name:      "api_retries_total",
			Help:      "Cloud API calls that needed at least one retry.",
		},
		[]string{"operation"},
	)
)

// CountRetry records a retried cloud API call. Its signature matches
// the hcloud client's RetryNotify hook so it can be passed to
// WithRetryNotify directly.
func CountRetry(operation string, _ int, _ error) {
	apiRetriesTotal.WithLabelValues(operation).Inc()
}

// Handler returns an http.Handler serving the strand registry in the
// Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Serve exposes the registry under /metrics on addr until ctx is
// canceled. It blocks; run it in a goroutine next to the provisioning
// run it observes.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
