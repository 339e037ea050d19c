// Package metrics exposes retry, pagination and HTTP activity to Prometheus.
package metrics

import (
	"strconv"

	errs "apikit/pkg/errors"
	"apikit/pkg/httpsource"
	"apikit/pkg/paginate"
	"apikit/pkg/retry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name
const Namespace = "apikit"

// Collector holds the apikit metrics registered on one Registerer.
// Its methods are safe for concurrent use.
type Collector struct {
	// RetryAttempts counts scheduled retries per failure kind
	RetryAttempts *prometheus.CounterVec
	// RetryDelay observes the backoff before each retry
	RetryDelay prometheus.Histogram
	// PagesFetched counts page fetches by outcome (ok or the failure kind)
	PagesFetched *prometheus.CounterVec
	// PageItems observes the number of items per page
	PageItems prometheus.Histogram
	// StreamStops counts finished listings by stop reason
	StreamStops *prometheus.CounterVec
	// HTTPRequests counts outbound requests by status class
	HTTPRequests *prometheus.CounterVec
	// HTTPLatency observes outbound request latency
	HTTPLatency *prometheus.HistogramVec
}

// New registers the collector's metrics on reg
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	c := &Collector{
		RetryAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retries scheduled after a retryable failure",
			},
			[]string{"kind"},
		),
		RetryDelay: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "retry_delay_seconds",
				Help:      "Delay before each retry in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		PagesFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "pages_fetched_total",
				Help:      "Total number of page fetches",
			},
			[]string{"outcome"},
		),
		PageItems: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "page_items",
				Help:      "Number of items per fetched page",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		StreamStops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "stream_stops_total",
				Help:      "Total number of finished listings",
			},
			[]string{"reason"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "http_requests_total",
				Help:      "Total number of outbound HTTP requests",
			},
			[]string{"status_class"},
		),
		HTTPLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Outbound HTTP request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}

	// expose every kind at zero so dashboards see the full set
	for _, kind := range errs.Kinds() {
		c.RetryAttempts.WithLabelValues(string(kind))
	}
	return c
}

// ObserveRetry records a scheduled retry. It fits retry.Config.OnRetry.
func (c *Collector) ObserveRetry(ev retry.Event) {
	c.RetryAttempts.WithLabelValues(string(ev.Kind)).Inc()
	c.RetryDelay.Observe(ev.Delay.Seconds())
}

// ObservePage records a page fetch. It fits paginate.Config.OnPage.
func (c *Collector) ObservePage(ev paginate.PageEvent) {
	if ev.Err != nil {
		c.PagesFetched.WithLabelValues(string(ev.Err.Kind)).Inc()
		return
	}
	c.PagesFetched.WithLabelValues("ok").Inc()
	c.PageItems.Observe(float64(ev.Items))
}

// ObserveStop records the end of a listing. It fits paginate.Config.OnStop.
func (c *Collector) ObserveStop(stats paginate.Stats) {
	c.StreamStops.WithLabelValues(string(stats.Stop)).Inc()
}

// ObserveHTTP records an outbound request. It fits httpsource.WithRequestHook.
func (c *Collector) ObserveHTTP(ev httpsource.RequestEvent) {
	c.HTTPRequests.WithLabelValues(StatusClass(ev.StatusCode)).Inc()
	c.HTTPLatency.WithLabelValues(ev.Method).Observe(ev.Duration.Seconds())
}

// RetryConfig wires ObserveRetry into cfg, keeping any existing hook
func (c *Collector) RetryConfig(cfg *retry.Config) *retry.Config {
	prev := cfg.OnRetry
	return cfg.WithOnRetry(func(ev retry.Event) {
		c.ObserveRetry(ev)
		if prev != nil {
			prev(ev)
		}
	})
}

// StatusClass buckets a status code as "2xx", "4xx" and so on.
// Requests that got no response are "error".
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}
