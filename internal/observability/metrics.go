// internal/observability/metrics.go
// Package observability exposes load-run counters to Prometheus.
package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Outcome labels of qosflow_requests_total.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// LoadMetrics holds the collectors of one process. A nil *LoadMetrics is
// valid and records nothing.
type LoadMetrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	inflight        prometheus.Gauge
	engineState     prometheus.Gauge
	retriesTotal    *prometheus.CounterVec
}

// NewLoadMetrics registers the load collectors on a fresh registry.
func NewLoadMetrics() *LoadMetrics {
	m := &LoadMetrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qosflow_requests_total",
				Help: "Completed attempt sequences by outcome and engine phase",
			},
			[]string{"outcome", "phase"},
		),
		requestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "qosflow_request_duration_seconds",
				Help:    "Wall-clock duration of measured attempt sequences",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
			},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "qosflow_inflight_requests",
				Help: "Requests currently holding a concurrency slot",
			},
		),
		engineState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "qosflow_engine_state",
				Help: "Load engine state (0 warmup, 1 measuring, 2 draining, 3 done)",
			},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qosflow_retries_total",
				Help: "Retries of retriable responses by status code",
			},
			[]string{"status"},
		),
	}
	m.registry.MustRegister(m.requestsTotal, m.requestDuration, m.inflight, m.engineState, m.retriesTotal)
	return m
}

// Registry returns the registry backing m.
func (m *LoadMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest counts one finished request. Duration is observed only for
// measured requests.
func (m *LoadMetrics) RecordRequest(outcome, phase string, duration time.Duration, measured bool) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(outcome, phase).Inc()
	if measured {
		m.requestDuration.Observe(duration.Seconds())
	}
}

// RecordRetry counts one retry of status.
func (m *LoadMetrics) RecordRetry(status int) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(statusLabel(status)).Inc()
}

// IncInflight marks a slot as taken.
func (m *LoadMetrics) IncInflight() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

// DecInflight marks a slot as released.
func (m *LoadMetrics) DecInflight() {
	if m == nil {
		return
	}
	m.inflight.Dec()
}

// SetEngineState publishes the numeric engine state.
func (m *LoadMetrics) SetEngineState(state int) {
	if m == nil {
		return
	}
	m.engineState.Set(float64(state))
}

// Handler serves m's registry in the Prometheus text format.
func (m *LoadMetrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve listens on addr and serves /metrics until ctx is done. Listen errors
// are returned before serving starts.
func (m *LoadMetrics) Serve(ctx context.Context, addr string) (<-chan error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	done := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Warnf("metrics server shutdown: %v", err)
		}
	}()
	logrus.Infof("serving metrics on http://%s/metrics", ln.Addr())
	return done, nil
}

func statusLabel(status int) string {
	switch status {
	case http.StatusTooManyRequests:
		return "429"
	case http.StatusServiceUnavailable:
		return "503"
	case 0:
		return "transport"
	default:
		return "other"
	}
}
