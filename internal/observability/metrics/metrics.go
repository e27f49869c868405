// Package metrics exposes the daemon's Prometheus collectors: HTTP trigger
// traffic and workflow invocation outcomes.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flowforge"

type metricSet struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	invocations        *prometheus.CounterVec
	invocationLatency  *prometheus.HistogramVec
	invocationsRunning prometheus.Gauge
}

var (
	once sync.Once
	reg  *metricSet
)

func registry() *metricSet {
	once.Do(func() {
		reg = &metricSet{
			registry: prometheus.NewRegistry(),
			httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed.",
			}, []string{"handler", "method", "code"}),
			httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_errors_total",
				Help:      "Total number of HTTP requests that resulted in a server error.",
			}, []string{"handler", "method"}),
			httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			}, []string{"handler", "method"}),
			invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workflow",
				Name:      "invocations_total",
				Help:      "Workflow invocations segmented by workflow, trigger and final status.",
			}, []string{"workflow", "trigger", "status"}),
			invocationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "workflow",
				Name:      "invocation_duration_seconds",
				Help:      "Time spent executing a workflow invocation.",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			}, []string{"workflow"}),
			invocationsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workflow",
				Name:      "invocations_running",
				Help:      "Number of invocations currently executing.",
			}),
		}
		reg.registry.MustRegister(
			reg.httpRequests,
			reg.httpErrors,
			reg.httpLatency,
			reg.invocations,
			reg.invocationLatency,
			reg.invocationsRunning,
			collectors.NewGoCollector(),
		)
	})
	return reg
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	c := registry()
	c.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		c.httpErrors.WithLabelValues(handler, method).Inc()
	}
	c.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// InvocationStarted bumps the running gauge. Pair every call with
// ObserveInvocation.
func InvocationStarted() {
	registry().invocationsRunning.Inc()
}

// ObserveInvocation records a finished invocation and releases its slot in
// the running gauge.
func ObserveInvocation(workflow, trigger, status string, duration time.Duration) {
	c := registry()
	if trigger == "" {
		trigger = "unknown"
	}
	c.invocationsRunning.Dec()
	c.invocations.WithLabelValues(workflow, trigger, status).Inc()
	c.invocationLatency.WithLabelValues(workflow).Observe(duration.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry().registry, promhttp.HandlerOpts{})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
