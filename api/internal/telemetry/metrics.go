package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sealedapi"

const (
	OpEncode = "encode"
	OpDecode = "decode"

	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomePassthrough = "passthrough"
	// OutcomeFailOpen counts decode failures that were swallowed by policy.
	OutcomeFailOpen = "fail_open"
)

// Recorder tracks payload codec activity. A nil *Recorder is a no-op so
// codecs can run without metrics wired.
type Recorder struct {
	operations *prometheus.CounterVec
	bytes      *prometheus.HistogramVec
	duration   *prometheus.HistogramVec
}

// NewRecorder creates and registers the payload metrics on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payload",
			Name:      "operations_total",
			Help:      "Payload encode/decode operations by outcome.",
		}, []string{"operation", "outcome"}),
		bytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payload",
			Name:      "plaintext_bytes",
			Help:      "Size of the JSON plaintext handled by the codec.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}, []string{"operation"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payload",
			Name:      "duration_seconds",
			Help:      "Time spent in the payload codec.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}, []string{"operation"}),
	}

	reg.MustRegister(r.operations, r.bytes, r.duration)
	return r
}

// Observe records one codec call.
func (r *Recorder) Observe(op, outcome string, size int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.operations.WithLabelValues(op, outcome).Inc()
	if outcome != OutcomeError {
		r.bytes.WithLabelValues(op).Observe(float64(size))
	}
	r.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// FailOpen records a decode failure that was passed through to the caller.
func (r *Recorder) FailOpen() {
	if r == nil {
		return
	}
	r.operations.WithLabelValues(OpDecode, OutcomeFailOpen).Inc()
}

// Operations exposes the counter for tests and dashboards.
func (r *Recorder) Operations() *prometheus.CounterVec {
	return r.operations
}

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
