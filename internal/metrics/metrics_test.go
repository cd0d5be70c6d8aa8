package metrics

import (
	"testing"

	"github.com/nshruti113/slice-sentinel/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

type staticSlices []models.SliceSnapshot

func (s staticSlices) Status() []models.SliceSnapshot { return s }

type staticCount int

func (c staticCount) Count() int { return int(c) }

func gatherValues(t *testing.T, reg *prometheus.Registry) map[string][]float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string][]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			v := m.GetGauge().GetValue()
			if m.GetCounter() != nil {
				v = m.GetCounter().GetValue()
			}
			out[mf.GetName()] = append(out[mf.GetName()], v)
		}
	}
	return out
}

func TestPipelineCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObservePacket(models.SliceURLLC, true)
	m.ObservePacket(models.SliceURLLC, true)
	m.ObservePacket(models.SliceEMBB, false)
	m.ObserveBlock(true)
	m.ObserveBlock(false)
	m.ObserveTelemetry("throttled")
	m.SetCaptureRunning(true)

	values := gatherValues(t, reg)
	if got := values["sentinel_packets_processed_total"]; len(got) != 2 {
		t.Fatalf("expected two packet series, got %v", got)
	}
	if got := values["sentinel_block_attempts_total"]; len(got) != 2 {
		t.Fatalf("expected success and failure series, got %v", got)
	}
	if got := values["sentinel_capture_running"]; len(got) != 1 || got[0] != 1 {
		t.Fatalf("capture gauge: %v", got)
	}
}

func TestStateCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	slices := staticSlices{
		{ID: models.SliceURLLC, Status: models.SliceIsolated, ThreatLevel: 3.5, IsolatedIPsCount: 2},
		{ID: models.SliceEMBB, Status: models.SliceActive, ThreatLevel: 0.4},
	}
	reg.MustRegister(NewStateCollector(slices, staticCount(4)))

	values := gatherValues(t, reg)
	isolated := values["sentinel_slice_isolated"]
	if len(isolated) != 2 {
		t.Fatalf("expected a series per slice, got %v", isolated)
	}
	sum := isolated[0] + isolated[1]
	if sum != 1 {
		t.Fatalf("exactly one slice is isolated, got %v", isolated)
	}
	if got := values["sentinel_blocked_sources"]; len(got) != 1 || got[0] != 4 {
		t.Fatalf("blocked sources: %v", got)
	}
}
