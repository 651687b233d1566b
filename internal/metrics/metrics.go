// Package metrics defines the Prometheus collectors exported by the API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scan outcomes.
const (
	OutcomeClean    = "clean"
	OutcomeInfected = "infected"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
)

// Metrics holds every collector the service updates.
type Metrics struct {
	Scans        *prometheus.CounterVec
	ScanDuration *prometheus.HistogramVec
	Reconnects   prometheus.Counter
	CacheLookups *prometheus.CounterVec
	FetchBytes   prometheus.Histogram

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Scans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scancan",
				Name:      "scans_total",
				Help:      "Scan requests by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		),
		ScanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "scancan",
				Name:      "scan_duration_seconds",
				Help:      "Time spent waiting for clamd per endpoint.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scancan",
			Name:      "clamd_reconnects_total",
			Help:      "Number of times the clamd handle was replaced after the first connect.",
		}),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scancan",
				Name:      "cache_lookups_total",
				Help:      "Verdict cache lookups by result.",
			},
			[]string{"result"},
		),
		FetchBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scancan",
			Name:      "fetch_bytes",
			Help:      "Size of payloads downloaded for /scanurl.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.Scans, m.ScanDuration, m.Reconnects, m.CacheLookups, m.FetchBytes)
	return m
}

// NewDefault creates a fresh registry that also carries the Go and process collectors.
func NewDefault() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return New(reg)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
