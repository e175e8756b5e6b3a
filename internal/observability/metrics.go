package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	// RunsTotal counts finished runs by terminal status.
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedsync_runs_total",
			Help: "Finished sync runs by terminal status",
		},
		[]string{"status"},
	)

	// ProductsProcessed counts reconciled records by result.
	ProductsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedsync_products_processed_total",
			Help: "Reconciled products by result",
		},
		[]string{"result"},
	)

	// FeedErrors counts non-fatal per-record errors.
	FeedErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feedsync_feed_errors_total",
			Help: "Non-fatal per-record errors",
		},
	)

	// LastRunDuration holds the duration of the most recent run.
	LastRunDuration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedsync_last_run_duration_seconds",
			Help: "Duration of the most recent sync run",
		},
	)
)

// Start registers the collectors and serves /metrics on the given port.
func Start(port string) {
	prometheus.MustRegister(RunsTotal, ProductsProcessed, FeedErrors, LastRunDuration)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(":"+port, nil); err != nil {
			log.Error().Err(err).Str("port", port).Msg("metrics server stopped")
		}
	}()
}
