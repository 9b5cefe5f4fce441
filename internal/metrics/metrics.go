package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the extractor's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registry         *prometheus.Registry
	FetchesTotal     *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	FetchErrorsTotal *prometheus.CounterVec
	CacheHitsTotal   prometheus.Counter
	RecordsTotal     *prometheus.CounterVec
	DownloadsTotal   *prometheus.CounterVec
}

// New registers every collector on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	fetches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractor_fetches_total",
			Help: "Page fetches issued, by page kind.",
		},
		[]string{"kind"},
	)
	fetchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extractor_fetch_duration_seconds",
			Help:    "Page fetch latency, by page kind.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
		},
		[]string{"kind"},
	)
	fetchErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractor_fetch_errors_total",
			Help: "Failed page fetches, by reason.",
		},
		[]string{"reason"},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "extractor_fetch_cache_hits_total",
			Help: "Page fetches served from the in-memory cache.",
		},
	)
	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractor_records_total",
			Help: "Reconciled records, by pass and decision.",
		},
		[]string{"pass", "decision"},
	)
	downloads := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractor_downloads_total",
			Help: "Thumbnail download outcomes.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(fetches, fetchDuration, fetchErrors, cacheHits, records, downloads)

	return &Metrics{
		Registry:         registry,
		FetchesTotal:     fetches,
		FetchDuration:    fetchDuration,
		FetchErrorsTotal: fetchErrors,
		CacheHitsTotal:   cacheHits,
		RecordsTotal:     records,
		DownloadsTotal:   downloads,
	}
}

func (m *Metrics) ObserveFetch(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(kind).Inc()
	m.FetchDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) IncFetchError(reason string) {
	if m == nil {
		return
	}
	m.FetchErrorsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

func (m *Metrics) IncRecord(pass, decision string) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(pass, decision).Inc()
}

func (m *Metrics) IncDownload(outcome string) {
	if m == nil {
		return
	}
	m.DownloadsTotal.WithLabelValues(outcome).Inc()
}
