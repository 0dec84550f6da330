package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"dm-go/internal/dm"
)

const metricsNamespace = "dm"

// Collector is a prometheus.Collector for upload, download and request
// metrics. It also implements dm.Metrics so the service can report into it.
type Collector struct {
	uploads         *prometheus.CounterVec
	downloads       *prometheus.CounterVec
	contentMissing  prometheus.Counter
	requestDuration *prometheus.HistogramVec
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "uploads_total",
				Help:      "The number of uploads by outcome.",
			}, []string{"outcome"},
		),
		downloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "downloads_total",
				Help:      "The number of downloads by outcome.",
			}, []string{"outcome"},
		),
		contentMissing: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "content_missing_total",
				Help:      "The number of file versions whose content could not be found.",
			},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "The time taken to serve an HTTP request.",
				Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30},
			}, []string{"route", "code"},
		),
	}
}

// UploadFinished is part of the dm.Metrics interface.
func (c *Collector) UploadFinished(outcome string) {
	c.uploads.WithLabelValues(outcome).Inc()
}

// DownloadFinished is part of the dm.Metrics interface.
func (c *Collector) DownloadFinished(outcome string) {
	c.downloads.WithLabelValues(outcome).Inc()
}

// ContentMissing is part of the dm.Metrics interface.
func (c *Collector) ContentMissing() {
	c.contentMissing.Inc()
}

// ObserveRequest records how long route took to answer with code.
func (c *Collector) ObserveRequest(route string, code string, seconds float64) {
	c.requestDuration.WithLabelValues(route, code).Observe(seconds)
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.uploads.Describe(ch)
	c.downloads.Describe(ch)
	c.contentMissing.Describe(ch)
	c.requestDuration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.uploads.Collect(ch)
	c.downloads.Collect(ch)
	c.contentMissing.Collect(ch)
	c.requestDuration.Collect(ch)
}

var (
	_ prometheus.Collector = (*Collector)(nil)
	_ dm.Metrics           = (*Collector)(nil)
)
