// Package observability exposes Prometheus metrics for MaaS calls.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"maas-router/internal/maas"
)

// LLMBuckets covers inference latencies from 100ms to 2 minutes.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// Recorder implements maas.Recorder on top of Prometheus collectors.
type Recorder struct {
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	activeStreams *prometheus.GaugeVec
}

// NewRecorder creates the collectors and registers them with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &Recorder{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maas_requests_total",
				Help: "MaaS calls by model, family, stream mode and outcome",
			},
			[]string{"model", "family", "stream", "outcome"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "maas_request_duration_seconds",
				Help:    "MaaS call latency including retries",
				Buckets: LLMBuckets,
			},
			[]string{"model", "family", "stream"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maas_retries_total",
				Help: "Retried MaaS attempts",
			},
			[]string{"model", "family"},
		),
		activeStreams: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "maas_streams_active",
				Help: "Open MaaS event streams",
			},
			[]string{"model"},
		),
	}

	for _, c := range []prometheus.Collector{r.requests, r.latency, r.retries, r.activeStreams} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ObserveRequest counts one call and records its latency.
func (r *Recorder) ObserveRequest(model string, family maas.Family, stream bool, outcome string, elapsed time.Duration) {
	s := strconv.FormatBool(stream)
	r.requests.WithLabelValues(model, family.String(), s, outcome).Inc()
	r.latency.WithLabelValues(model, family.String(), s).Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveRetry(model string, family maas.Family) {
	r.retries.WithLabelValues(model, family.String()).Inc()
}

func (r *Recorder) StreamOpened(model string) {
	r.activeStreams.WithLabelValues(model).Inc()
}

func (r *Recorder) StreamClosed(model string) {
	r.activeStreams.WithLabelValues(model).Dec()
}

var _ maas.Recorder = (*Recorder)(nil)
