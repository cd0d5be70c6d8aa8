package metrics

import (
	"github.com/nshruti113/slice-sentinel/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

// SliceSource provides slice snapshots
type SliceSource interface {
	Status() []models.SliceSnapshot
}

// BlockCounter reports the size of the blocked set
type BlockCounter interface {
	Count() int
}

// StateCollector exports slice and mitigation state at scrape time
type StateCollector struct {
	slices  SliceSource
	blocked BlockCounter

	threatLevel     *prometheus.Desc
	isolated        *prometheus.Desc
	isolatedSources *prometheus.Desc
	partialRestore  *prometheus.Desc
	blockedSources  *prometheus.Desc
}

func NewStateCollector(slices SliceSource, blocked BlockCounter) *StateCollector {
	return &StateCollector{
		slices:  slices,
		blocked: blocked,
		threatLevel: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "slice", "threat_level"),
			"Accumulated threat level per slice.",
			[]string{"slice"}, nil,
		),
		isolated: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "slice", "isolated"),
			"1 when the slice is isolated.",
			[]string{"slice"}, nil,
		),
		isolatedSources: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "slice", "threat_sources"),
			"Distinct threat sources recorded since the last restoration.",
			[]string{"slice"}, nil,
		),
		partialRestore: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "slice", "partial_restore"),
			"1 when critical services are re-allowed on an isolated slice.",
			[]string{"slice"}, nil,
		),
		blockedSources: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "blocked_sources"),
			"Sources currently dropped at the switch.",
			nil, nil,
		),
	}
}

func (c *StateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.threatLevel
	ch <- c.isolated
	ch <- c.isolatedSources
	ch <- c.partialRestore
	ch <- c.blockedSources
}

func (c *StateCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.slices.Status() {
		id := string(s.ID)
		ch <- prometheus.MustNewConstMetric(c.threatLevel, prometheus.GaugeValue, s.ThreatLevel, id)
		ch <- prometheus.MustNewConstMetric(c.isolated, prometheus.GaugeValue, boolValue(s.Status == models.SliceIsolated), id)
		ch <- prometheus.MustNewConstMetric(c.isolatedSources, prometheus.GaugeValue, float64(s.IsolatedIPsCount), id)
		ch <- prometheus.MustNewConstMetric(c.partialRestore, prometheus.GaugeValue, boolValue(s.PartialRestore), id)
	}
	ch <- prometheus.MustNewConstMetric(c.blockedSources, prometheus.GaugeValue, float64(c.blocked.Count()))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
