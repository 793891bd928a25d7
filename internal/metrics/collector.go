package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes metrics
type Collector struct {
	registry        *prometheus.Registry
	objectsTotal    *prometheus.CounterVec
	versionsTotal   *prometheus.CounterVec
	bytesTotal      prometheus.Counter
	inflightWorkers prometheus.Gauge
	duration        prometheus.Histogram
}

// New creates a new metrics collector with its own registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		objectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bucketfiller_objects_total",
				Help: "Total number of objects uploaded",
			},
			[]string{"status"},
		),
		versionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bucketfiller_versions_total",
				Help: "Total number of extra object versions written",
			},
			[]string{"status"},
		),
		bytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bucketfiller_bytes_total",
				Help: "Total bytes uploaded, versions included",
			},
		),
		inflightWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bucketfiller_inflight_workers",
				Help: "Number of workers currently uploading",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bucketfiller_put_duration_seconds",
				Help:    "Time taken by a single PUT request",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	c.registry.MustRegister(c.objectsTotal, c.versionsTotal, c.bytesTotal, c.inflightWorkers, c.duration)

	return c
}

// IncSuccess increments successful object counter
func (c *Collector) IncSuccess() {
	c.objectsTotal.WithLabelValues("success").Inc()
}

// IncFailed increments failed object counter
func (c *Collector) IncFailed() {
	c.objectsTotal.WithLabelValues("failed").Inc()
}

// IncVersion increments the version counter for the given outcome
func (c *Collector) IncVersion(ok bool) {
	status := "success"
	if !ok {
		status = "failed"
	}
	c.versionsTotal.WithLabelValues(status).Inc()
}

// AddBytes adds to total bytes uploaded
func (c *Collector) AddBytes(bytes int64) {
	c.bytesTotal.Add(float64(bytes))
}

// WorkerBusy marks one more worker as uploading
func (c *Collector) WorkerBusy() {
	c.inflightWorkers.Inc()
}

// WorkerIdle marks one worker as done uploading
func (c *Collector) WorkerIdle() {
	c.inflightWorkers.Dec()
}

// ObserveDuration observes a PUT duration
func (c *Collector) ObserveDuration(duration time.Duration) {
	c.duration.Observe(duration.Seconds())
}

// Handler returns the HTTP handler exposing the registry
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (c *Collector) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return http.ListenAndServe(addr, mux)
}
