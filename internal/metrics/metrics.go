// Package metrics exposes the Prometheus collectors shared by the
// client orchestrator and the server listener. The server optionally
// serves these over HTTP when started with --metrics-addr; the client
// records the same counters in-process and serves them only when the
// CHUNKRELAY_METRICS_ADDR environment variable is set.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chunkrelay"

var (
	// SessionsTotal counts completed sessions by role and result.
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Total chunk sessions completed, by role and result.",
	}, []string{"role", "result"})

	// RetriesTotal counts Phase B repair sessions issued by the client
	// orchestrator.
	RetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_retries_total",
		Help:      "Total Phase B repair sessions issued.",
	})

	// BytesTransferred counts payload bytes moved, by role.
	BytesTransferred = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_transferred_total",
		Help:      "Total DATA payload bytes transferred, by role.",
	}, []string{"role"})

	// ActiveSessions gauges in-flight sessions, by role.
	ActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Chunk sessions currently in flight, by role.",
	}, []string{"role"})
)

// Result labels used with SessionsTotal.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultTimeout = "timeout"
	ResultError   = "error"
)

// Role labels used with SessionsTotal, BytesTransferred, ActiveSessions.
const (
	RoleClient = "client"
	RoleServer = "server"
)

// Serve starts a /metrics HTTP endpoint on addr. It blocks until the
// server exits and is intended to be run in its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
