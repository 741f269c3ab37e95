// Package metrics contains the Prometheus metrics exported by the netprobe
// server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for exporting to prometheus to aid in server monitoring.
var (
	ActiveProbes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netprobe_active_probes",
			Help: "A gauge of probes currently being served.",
		},
		[]string{"type"})
	ProbeCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netprobe_probes_total",
			Help: "Number of probes served, by type and result.",
		},
		[]string{"type", "result"},
	)
	ProbeBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netprobe_probe_bytes_total",
			Help: "Number of payload bytes moved by probes.",
		},
		[]string{"direction"},
	)
	ProbeRate = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "netprobe_probe_rate_mbps",
			Help: "A histogram of probe rates.",
			Buckets: []float64{
				.1, .15, .25, .4, .6,
				1, 1.5, 2.5, 4, 6,
				10, 15, 25, 40, 60,
				100, 150, 250, 400, 600,
				1000},
		},
		[]string{"direction"},
	)
	SessionFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netprobe_session_frames_total",
			Help: "Number of frames received on latency sessions, by classification.",
		},
		[]string{"kind"},
	)
	SessionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netprobe_session_errors_total",
			Help: "Number of latency session errors on all return paths.",
		},
		[]string{"error"},
	)
	SamplesStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netprobe_samples_stored",
			Help: "Number of latency samples currently held in memory.",
		},
	)
	SampleSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netprobe_sample_submissions_total",
			Help: "Number of latency sample submissions, by result.",
		},
		[]string{"result"},
	)
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netprobe_http_requests_total",
			Help: "Number of HTTP requests by route and status code.",
		},
		[]string{"route", "code"},
	)
)
