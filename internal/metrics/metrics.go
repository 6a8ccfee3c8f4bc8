// Package metrics exposes update and script execution metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbmaintain/dbmaintain/internal/maintainer"
	"github.com/dbmaintain/dbmaintain/internal/script"
)

const namespace = "dbmaintain"

// Collector owns a registry of its own and implements maintainer.Observer.
type Collector struct {
	registry *prometheus.Registry

	ScriptExecutions    *prometheus.CounterVec
	ScriptDuration      *prometheus.HistogramVec
	Updates             *prometheus.CounterVec
	UpdateDuration      *prometheus.HistogramVec
	LastUpdateSuccess   prometheus.Gauge
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		ScriptExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "script_executions_total",
			Help:      "Scripts executed, by kind and status.",
		}, []string{"kind", "status"}),
		ScriptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "script_duration_seconds",
			Help:      "Script execution time in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		Updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Database updates, by strategy and status.",
		}, []string{"strategy", "status", "dry_run"}),
		UpdateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "update_duration_seconds",
			Help:      "Database update time in seconds.",
			Buckets:   []float64{.1, .5, 1, 5, 15, 60, 300, 900},
		}, []string{"strategy"}),
		LastUpdateSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_update_success",
			Help:      "1 if the last update that was not a dry run succeeded.",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests.",
		}, []string{"method", "path", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request time in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	reg.MustRegister(c.ScriptExecutions, c.ScriptDuration, c.Updates, c.UpdateDuration, c.LastUpdateSuccess,
		c.HTTPRequestsTotal, c.HTTPRequestDuration)
	return c
}

// Handler serves the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ScriptExecuted(s *script.Script, elapsed time.Duration, err error) {
	kind := s.Kind().String()
	c.ScriptExecutions.WithLabelValues(kind, status(err)).Inc()
	c.ScriptDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (c *Collector) UpdateFinished(res *maintainer.Result, err error) {
	strategy := string(res.Strategy)
	c.Updates.WithLabelValues(strategy, status(err), strconv.FormatBool(res.DryRun)).Inc()
	if res.DryRun {
		return
	}
	c.UpdateDuration.WithLabelValues(strategy).Observe(res.Duration.Seconds())
	if err != nil {
		c.LastUpdateSuccess.Set(0)
	} else {
		c.LastUpdateSuccess.Set(1)
	}
}

func (c *Collector) RecordHTTPRequest(method, path string, statusCode int, elapsed time.Duration) {
	c.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	c.HTTPRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

func status(err error) string {
	if err != nil {
		return "failed"
	}
	return "succeeded"
}
