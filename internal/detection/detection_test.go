package detection

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nshruti113/slice-sentinel/internal/models"
)

func TestRateTrackerWindow(t *testing.T) {
	tracker := NewRateTracker(time.Second)
	base := time.Unix(1000, 0)

	if pps := tracker.PPS("10.0.0.1"); pps != 0 {
		t.Fatalf("unknown source should be 0 pps, got %f", pps)
	}

	for i := 0; i < 5; i++ {
		tracker.Add("10.0.0.1", base.Add(time.Duration(i)*200*time.Millisecond))
	}
	// timestamps 0.0 .. 0.8 are all within 1s of 0.8
	if pps := tracker.PPS("10.0.0.1"); pps != 5 {
		t.Fatalf("expected 5 pps, got %f", pps)
	}

	tracker.Add("10.0.0.1", base.Add(1500*time.Millisecond))
	// 0.6, 0.8, 1.5 remain
	if pps := tracker.PPS("10.0.0.1"); pps != 3 {
		t.Fatalf("expected 3 pps after eviction, got %f", pps)
	}

	if pps := tracker.PPS("10.0.0.2"); pps != 0 {
		t.Fatalf("other source should be untouched, got %f", pps)
	}
}

func TestRateTrackerWindowBoundaryInclusive(t *testing.T) {
	tracker := NewRateTracker(time.Second)
	base := time.Unix(1000, 0)
	tracker.Add("a", base)
	tracker.Add("a", base.Add(time.Second))
	if pps := tracker.PPS("a"); pps != 2 {
		t.Fatalf("entry exactly W old should be kept, got %f", pps)
	}
}

func TestRateTrackerCustomWindow(t *testing.T) {
	tracker := NewRateTracker(2 * time.Second)
	base := time.Unix(1000, 0)
	for i := 0; i < 4; i++ {
		tracker.Add("a", base.Add(time.Duration(i)*500*time.Millisecond))
	}
	if pps := tracker.PPS("a"); pps != 2 {
		t.Fatalf("expected 4/2 = 2 pps, got %f", pps)
	}
}

func TestRateTrackerForget(t *testing.T) {
	tracker := NewRateTracker(time.Second)
	base := time.Unix(1000, 0)
	tracker.Add("old", base)
	tracker.Add("new", base.Add(time.Minute))

	if n := tracker.Forget(base.Add(30 * time.Second)); n != 1 {
		t.Fatalf("expected 1 source forgotten, got %d", n)
	}
	if tracker.Sources() != 1 {
		t.Fatalf("expected 1 remaining source, got %d", tracker.Sources())
	}
}

func TestClassifySlice(t *testing.T) {
	cases := []struct {
		name     string
		size     int
		protocol string
		src, dst *int
		want     models.SliceID
	}{
		{"large packet", 900, "TCP", nil, nil, models.SliceEMBB},
		{"mqtt beats size", 150, "UDP", nil, models.Port(1883), models.SliceMMTC},
		{"sip", 1200, "UDP", models.Port(5060), nil, models.SliceURLLC},
		{"rtp range", 1200, "UDP", nil, models.Port(20000), models.SliceURLLC},
		{"https", 100, "TCP", models.Port(50000), models.Port(443), models.SliceEMBB},
		{"iot beats web", 100, "TCP", models.Port(443), models.Port(8883), models.SliceMMTC},
		{"small udp", 120, "udp", nil, nil, models.SliceURLLC},
		{"mid tcp", 500, "TCP", nil, nil, models.SliceMMTC},
		{"small icmp", 64, "ICMP", nil, nil, models.SliceMMTC},
	}

	for _, tc := range cases {
		got := ClassifySlice(tc.size, tc.protocol, 10, tc.src, tc.dst)
		if got.Slice != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got.Slice, tc.want)
		}
		if got.Priority != tc.want.Priority() {
			t.Errorf("%s: priority %d, want %d", tc.name, got.Priority, tc.want.Priority())
		}
	}
}

type stubScorer struct {
	width int
	label int
	prob  float64
	err   error
	panic bool
	seen  []float64
}

func (s *stubScorer) InputWidth() int { return s.width }

func (s *stubScorer) Predict(features []float64) (int, float64, error) {
	if s.panic {
		panic("bad input shape")
	}
	s.seen = features
	return s.label, s.prob, s.err
}

func TestClassifySimulatedAlwaysMalicious(t *testing.T) {
	c := NewClassifier(&stubScorer{width: 9, label: 0, prob: 0.99}, Thresholds{})
	for _, pps := range []float64{0, 1, 1000} {
		res := c.Classify(models.Observation{SourceIP: "1.1.1.1", Simulated: true}, pps)
		if !res.IsMalicious || res.Confidence != 0.99 {
			t.Fatalf("pps=%f: got %+v", pps, res)
		}
	}
}

func TestClassifyForceMalicious(t *testing.T) {
	c := NewClassifier(nil, Thresholds{})
	c.ForceMalicious("10.0.0.66")

	res := c.Classify(models.Observation{SourceIP: "10.0.0.66"}, 0)
	if !res.IsMalicious || res.Confidence != 1.0 {
		t.Fatalf("forced source: got %+v", res)
	}

	c.ClearForceMalicious("10.0.0.66")
	if res := c.Classify(models.Observation{SourceIP: "10.0.0.66"}, 0); res.IsMalicious {
		t.Fatalf("cleared source should be benign: %+v", res)
	}
}

func TestClassifyFallbackThreshold(t *testing.T) {
	c := NewClassifier(nil, Thresholds{FallbackPPS: 50})
	obs := models.Observation{SourceIP: "10.0.0.1", Protocol: "UDP"}

	if res := c.Classify(obs, 50); res.IsMalicious {
		t.Fatalf("50 pps is not above threshold: %+v", res)
	}
	res := c.Classify(obs, 75)
	if !res.IsMalicious {
		t.Fatalf("75 pps should be malicious: %+v", res)
	}
	if res.Confidence != 0.75 {
		t.Fatalf("confidence: got %f", res.Confidence)
	}
	if res := c.Classify(obs, 500); res.Confidence != 1.0 {
		t.Fatalf("confidence should cap at 1, got %f", res.Confidence)
	}
}

func TestClassifyWithScorer(t *testing.T) {
	scorer := &stubScorer{width: 12, label: 1, prob: 0.8}
	c := NewClassifier(scorer, Thresholds{})
	obs := models.Observation{SourceIP: "10.0.0.1", Size: 500, Protocol: "TCP"}

	res := c.Classify(obs, 3)
	if !res.IsMalicious || res.Confidence != 0.8 {
		t.Fatalf("expected malicious verdict, got %+v", res)
	}
	if len(scorer.seen) != 12 || scorer.seen[1] != 3 || scorer.seen[2] != 5 || scorer.seen[11] != 0 {
		t.Fatalf("unexpected features: %v", scorer.seen)
	}

	scorer.prob = 0.7
	if res := c.Classify(obs, 3); res.IsMalicious {
		t.Fatalf("probability must exceed 0.7: %+v", res)
	}

	scorer.label, scorer.prob = 0, 0.95
	if res := c.Classify(obs, 3000); res.IsMalicious {
		t.Fatalf("benign label should win over rate when scorer present: %+v", res)
	}
}

func TestClassifyScorerFailureIsBenign(t *testing.T) {
	c := NewClassifier(&stubScorer{width: 9, err: errors.New("boom")}, Thresholds{})
	if res := c.Classify(models.Observation{SourceIP: "a"}, 1000); res.IsMalicious {
		t.Fatalf("scorer error should degrade to benign: %+v", res)
	}

	c = NewClassifier(&stubScorer{width: 9, panic: true}, Thresholds{})
	if res := c.Classify(models.Observation{SourceIP: "a"}, 1000); res.IsMalicious {
		t.Fatalf("scorer panic should degrade to benign: %+v", res)
	}
}

func TestBuildFeaturesTruncates(t *testing.T) {
	f := BuildFeatures(300, 42, 4)
	want := []float64{1, 42, 3, 0.5}
	if len(f) != len(want) {
		t.Fatalf("len: got %d", len(f))
	}
	for i := range want {
		if f[i] != want[i] {
			t.Fatalf("feature %d: got %f want %f", i, f[i], want[i])
		}
	}
	if len(BuildFeatures(300, 42, 0)) != 0 {
		t.Fatal("zero width should give empty vector")
	}
}

func TestRemoteScorer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		label := 0
		if req.Features[1] > 100 {
			label = 1
		}
		json.NewEncoder(w).Encode(predictResponse{Label: label, Probability: 0.9})
	}))
	defer server.Close()

	scorer := NewRemoteScorer(server.URL, 9, time.Second)
	c := NewClassifier(scorer, Thresholds{})

	if res := c.Classify(models.Observation{SourceIP: "a", Size: 100}, 500); !res.IsMalicious {
		t.Fatalf("expected malicious, got %+v", res)
	}
	if res := c.Classify(models.Observation{SourceIP: "a", Size: 100}, 5); res.IsMalicious {
		t.Fatalf("expected benign, got %+v", res)
	}
}

func TestRemoteScorerUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := NewClassifier(NewRemoteScorer(url, 9, 200*time.Millisecond), Thresholds{})
	if res := c.Classify(models.Observation{SourceIP: "a"}, 1000); res.IsMalicious {
		t.Fatalf("unreachable scorer should be benign: %+v", res)
	}
}

func TestInferThreatType(t *testing.T) {
	cases := []struct {
		obs  models.Observation
		want string
	}{
		{models.Observation{Protocol: "UDP"}, ThreatUDPFlood},
		{models.Observation{Protocol: "TCP", Size: 60}, ThreatSYNFlood},
		{models.Observation{Protocol: "TCP", Size: 600, DestPort: models.Port(443)}, ThreatHTTPFlood},
		{models.Observation{Protocol: "ICMP"}, ThreatICMPFlood},
		{models.Observation{Protocol: "Proto 47"}, ThreatRateAnomaly},
		{models.Observation{Protocol: "UDP", Simulated: true}, ThreatSimulated},
	}
	for _, tc := range cases {
		if got := InferThreatType(tc.obs); got != tc.want {
			t.Errorf("%+v: got %s want %s", tc.obs, got, tc.want)
		}
	}
}

func TestSeverity(t *testing.T) {
	if Severity(0.95) != "CRITICAL" || Severity(0.75) != "HIGH" || Severity(0.5) != "MEDIUM" || Severity(0.1) != "LOW" {
		t.Fatal("unexpected severity mapping")
	}
}
