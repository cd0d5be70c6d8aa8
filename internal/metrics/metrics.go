package metrics

import (
	"github.com/nshruti113/slice-sentinel/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sentinel"

// Metrics holds the pipeline counters exported on /metrics
type Metrics struct {
	packetsTotal   *prometheus.CounterVec
	blocksTotal    *prometheus.CounterVec
	telemetryTotal *prometheus.CounterVec
	captureRunning prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		packetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_processed_total",
			Help:      "Observations processed by slice and verdict.",
		}, []string{"slice", "verdict"}),
		blocksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "block_attempts_total",
			Help:      "Source block attempts by outcome.",
		}, []string{"outcome"}),
		telemetryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_records_total",
			Help:      "Telemetry records by delivery outcome.",
		}, []string{"outcome"}),
		captureRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capture_running",
			Help:      "1 while packet capture is running.",
		}),
	}

	reg.MustRegister(m.packetsTotal, m.blocksTotal, m.telemetryTotal, m.captureRunning)
	return m
}

func (m *Metrics) ObservePacket(slice models.SliceID, malicious bool) {
	verdict := "benign"
	if malicious {
		verdict = "malicious"
	}
	m.packetsTotal.WithLabelValues(string(slice), verdict).Inc()
}

func (m *Metrics) ObserveBlock(ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.blocksTotal.WithLabelValues(outcome).Inc()
}

// ObserveTelemetry counts an emitter outcome
func (m *Metrics) ObserveTelemetry(outcome string) {
	m.telemetryTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetCaptureRunning(running bool) {
	if running {
		m.captureRunning.Set(1)
	} else {
		m.captureRunning.Set(0)
	}
}
