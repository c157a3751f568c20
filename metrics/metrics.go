// Package metrics exposes Prometheus metrics of an impact-smc node.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "impact_smc"

var (
	// Registry holds every metric of the node, including go and process collectors.
	Registry = prometheus.NewRegistry()

	// SessionsTotal counts finished sessions by party role and outcome kind.
	SessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Number of aggregation sessions by role and outcome",
	}, []string{"role", "outcome"})

	// SessionDuration observes how long a session took from arrival to response.
	SessionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_duration_seconds",
		Help:      "Duration of aggregation sessions",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"role"})

	// PeerNotifyFailures counts failed initiation calls per peer address.
	PeerNotifyFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "peer_notify_failures_total",
		Help:      "Number of peer initiation calls that failed or timed out",
	}, []string{"peer"})

	// EngineRuns counts engine process runs by role and outcome kind.
	EngineRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "engine_runs_total",
		Help:      "Number of SMC engine runs by role and outcome",
	}, []string{"role", "outcome"})

	// BackgroundTasks is the number of detached engine and preparation processes.
	BackgroundTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "background_tasks",
		Help:      "Detached processes currently running",
	})

	// HTTPCallCounter counts HTTP requests received.
	HTTPCallCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_call_counter",
		Help:      "Number of HTTP calls received",
	}, []string{"code", "method"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		SessionsTotal,
		SessionDuration,
		PeerNotifyFailures,
		EngineRuns,
		BackgroundTasks,
		HTTPCallCounter,
	)
}

// ObserveSession records a finished session.
func ObserveSession(role, outcome string, d time.Duration) {
	SessionsTotal.WithLabelValues(role, outcome).Inc()
	SessionDuration.WithLabelValues(role).Observe(d.Seconds())
}

// Handler serves the node registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// InstrumentHandler counts requests served by next.
func InstrumentHandler(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(HTTPCallCounter, next)
}

// MetricsServer serves /metrics on a dedicated listener.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for addr. An empty addr yields a server that
// is never started.
func New(addr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving metrics until Shutdown.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
