package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the HTTP API.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheTotal      *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	submissions     *prometheus.CounterVec
	votes           *prometheus.CounterVec
}

// NewMetrics creates the API metrics and registers them on registry.
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmp_http_requests_total",
				Help: "HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vmp_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"route"},
		),
		cacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmp_http_cache_total",
				Help: "Read cache lookups by result",
			},
			[]string{"result"}, // hit, miss
		),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmp_http_rate_limited_total",
				Help: "Requests rejected by the per-client rate limiter",
			},
			[]string{"route"},
		),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmp_verification_submissions_total",
				Help: "Verification submissions by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		votes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmp_verification_votes_total",
				Help: "Verification votes by direction",
			},
			[]string{"direction"},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.requestsTotal.Describe(ch)
	m.requestDuration.Describe(ch)
	m.cacheTotal.Describe(ch)
	m.rateLimited.Describe(ch)
	m.submissions.Describe(ch)
	m.votes.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.requestsTotal.Collect(ch)
	m.requestDuration.Collect(ch)
	m.cacheTotal.Collect(ch)
	m.rateLimited.Collect(ch)
	m.submissions.Collect(ch)
	m.votes.Collect(ch)
}
