package monitoring

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scanResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_scans_total",
			Help: "Scan requests handled, by outcome",
		},
		[]string{"result"},
	)

	lifecycleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_transitions_total",
			Help: "Ticket state transitions won by this process",
		},
		[]string{"transition"},
	)

	publishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_publish_failures_total",
			Help: "Failed outbound publishes",
		},
		[]string{"kind"},
	)

	purchases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_purchases_total",
			Help: "Payment notifications processed, by outcome",
		},
		[]string{"status"},
	)

	storeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticket_store_duration_seconds",
			Help:    "Duration of ticket store calls",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation"},
	)

	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_goroutines_total",
			Help: "Current number of active goroutines",
		},
	)
)

// Monitor records service metrics. A nil *Monitor is valid and records
// nothing, which keeps tests free of metric wiring.
type Monitor struct {
	interval time.Duration
}

func NewMonitor() *Monitor {
	return &Monitor{interval: 30 * time.Second}
}

// Run samples runtime gauges until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.collectGoroutineMetrics()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) collectGoroutineMetrics() {
	goroutineCount.Set(float64(runtime.NumGoroutine()))
}

func (m *Monitor) TrackScan(result string) {
	if m == nil {
		return
	}
	scanResults.WithLabelValues(result).Inc()
}

func (m *Monitor) TrackTransition(transition string) {
	if m == nil {
		return
	}
	lifecycleTransitions.WithLabelValues(transition).Inc()
}

func (m *Monitor) TrackPublishFailure(kind string) {
	if m == nil {
		return
	}
	publishFailures.WithLabelValues(kind).Inc()
}

func (m *Monitor) TrackPurchase(status string) {
	if m == nil {
		return
	}
	purchases.WithLabelValues(status).Inc()
}

func (m *Monitor) ObserveStore(operation string, d time.Duration) {
	if m == nil {
		return
	}
	storeDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Metrics server stopped", "error", err)
	}
}
