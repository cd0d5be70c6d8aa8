package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nshruti113/slice-sentinel/internal/capture"
	"github.com/nshruti113/slice-sentinel/internal/detection"
	"github.com/nshruti113/slice-sentinel/internal/metrics"
	"github.com/nshruti113/slice-sentinel/internal/mitigation"
	"github.com/nshruti113/slice-sentinel/internal/models"
	"github.com/nshruti113/slice-sentinel/internal/pipeline"
	"github.com/nshruti113/slice-sentinel/internal/sdn"
	"github.com/nshruti113/slice-sentinel/internal/slicing"
	"github.com/nshruti113/slice-sentinel/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeFlows struct {
	installs int
	fail     bool
}

func (f *fakeFlows) InstallFlow(ctx context.Context, rule sdn.FlowRule) error {
	f.installs++
	if f.fail {
		return context.DeadlineExceeded
	}
	return nil
}

func (f *fakeFlows) DeleteFlow(ctx context.Context, rule sdn.FlowRule) error {
	if f.fail {
		return context.DeadlineExceeded
	}
	return nil
}

type idleSource struct{}

func (idleSource) Run(ctx context.Context, emit func(models.Observation)) error {
	<-ctx.Done()
	return nil
}

type fakeStore struct{}

func (fakeStore) GetBlocked(ctx context.Context) ([]models.BlockRecord, error) {
	return []models.BlockRecord{{IP: "203.0.113.10", ThreatLevel: "HIGH"}}, nil
}

func (fakeStore) RecentAlerts(ctx context.Context, n int) ([]models.Alert, error) {
	return []models.Alert{{ID: "a1", Level: "CRITICAL"}}, nil
}

func (fakeStore) SliceEvents(ctx context.Context, n int) ([]models.SliceEvent, error) {
	return nil, nil
}

func (fakeStore) GetMetrics(ctx context.Context, at time.Time) (*models.Metrics, error) {
	return &models.Metrics{TotalPackets: 7}, nil
}

func (fakeStore) GetRecentTraffic(ctx context.Context, seconds int) ([]models.TelemetryRecord, error) {
	return []models.TelemetryRecord{{SourceIP: "10.0.0.1"}, {SourceIP: "10.0.0.2"}}, nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, flows *fakeFlows) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	engine := pipeline.NewEngine(pipeline.Components{
		Rates:      detection.NewRateTracker(time.Second),
		Classifier: detection.NewClassifier(nil, detection.Thresholds{}),
		Mitigation: mitigation.NewController(flows, 1, time.Second),
		Slices:     slicing.NewManager(flows, slicing.DefaultPolicy()),
		Emitter:    telemetry.NewEmitter(nil, 0, 0),
		Observer:   m,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		engine.Stop()
		cancel()
	})

	return NewServer(ctx, Options{
		Engine:   engine,
		Sources:  func() (capture.Source, error) { return idleSource{}, nil },
		Store:    fakeStore{},
		Hub:      telemetry.NewHub(),
		Gatherer: reg,
	})
}

func do(s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestCaptureLifecycle(t *testing.T) {
	s := newTestServer(t, &fakeFlows{})

	if w := do(s, http.MethodPost, "/api/start-capture", "", nil); w.Code != http.StatusOK {
		t.Fatalf("start: %d %s", w.Code, w.Body)
	}
	if w := do(s, http.MethodPost, "/api/start-capture", "", nil); w.Code != http.StatusConflict {
		t.Fatalf("second start: %d", w.Code)
	}

	w := do(s, http.MethodPost, "/api/stop-capture", "", map[string]string{SimulatedHeader: "true"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("simulated clients must not stop capture, got %d", w.Code)
	}
	if !s.Engine.Running() {
		t.Fatal("capture should still be running")
	}

	if w := do(s, http.MethodPost, "/api/stop-capture", "", nil); w.Code != http.StatusOK {
		t.Fatalf("stop: %d", w.Code)
	}
	if w := do(s, http.MethodPost, "/api/stop-capture", "", nil); w.Code != http.StatusConflict {
		t.Fatalf("stop when idle: %d", w.Code)
	}
}

func TestIngestSimulatedHeader(t *testing.T) {
	flows := &fakeFlows{}
	s := newTestServer(t, flows)

	body := `{"source_ip":"203.0.113.10","dest_ip":"10.0.0.2","size":64,"protocol":"TCP","dest_port":80}`
	w := do(s, http.MethodPost, "/api/traffic/ingest", body, map[string]string{SimulatedHeader: "true"})
	if w.Code != http.StatusOK {
		t.Fatalf("ingest: %d %s", w.Code, w.Body)
	}

	var res pipeline.Result
	json.Unmarshal(w.Body.Bytes(), &res)
	if !res.Verdict.IsMalicious || !res.Blocked || res.Slice.Slice != models.SliceEMBB {
		t.Fatalf("unexpected result: %+v", res)
	}
	if flows.installs != 1 {
		t.Fatalf("expected one drop rule, got %d", flows.installs)
	}

	w = do(s, http.MethodGet, "/api/blocked-ips", "", nil)
	out := decode(t, w)
	if out["count"].(float64) != 1 {
		t.Fatalf("unexpected blocked list: %v", out)
	}
}

func TestIngestRequiresSource(t *testing.T) {
	s := newTestServer(t, &fakeFlows{})
	if w := do(s, http.MethodPost, "/api/traffic/ingest", `{"size":10}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestManualBlockFailure(t *testing.T) {
	s := newTestServer(t, &fakeFlows{fail: true})

	w := do(s, http.MethodPost, "/api/block", `{"ip":"10.9.9.9"}`, nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if s.Engine.Mitigation.IsBlocked("10.9.9.9") {
		t.Fatal("failed block must not mutate the blocked set")
	}
}

func TestManualBlockAndUnblock(t *testing.T) {
	s := newTestServer(t, &fakeFlows{})

	if w := do(s, http.MethodPost, "/api/block", `{"ip":"10.9.9.9"}`, nil); w.Code != http.StatusOK {
		t.Fatalf("block: %d", w.Code)
	}
	if w := do(s, http.MethodPost, "/api/unblock", `{"ip":"10.9.9.9"}`, nil); w.Code != http.StatusOK {
		t.Fatalf("unblock: %d", w.Code)
	}
	if s.Engine.Mitigation.Count() != 0 {
		t.Fatal("blocked set should be empty")
	}
}

func TestSliceThreatEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeFlows{})

	w := do(s, http.MethodPost, "/api/slices/6G/threat", `{"src_ip":"1.1.1.1"}`, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown slice: expected 404, got %d", w.Code)
	}

	w = do(s, http.MethodPost, "/api/slices/URLLC/threat", `{"src_ip":"1.1.1.1","threat_type":"UDP_FLOOD","confidence":3}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("report: %d %s", w.Code, w.Body)
	}
	var snap models.SliceSnapshot
	json.Unmarshal(w.Body.Bytes(), &snap)
	if snap.Status != models.SliceIsolated || snap.IsolatedSince == nil {
		t.Fatalf("slice should be isolated: %+v", snap)
	}

	w = do(s, http.MethodGet, "/api/slices/URLLC", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "UDP_FLOOD") {
		t.Fatalf("slice detail: %d %s", w.Code, w.Body)
	}

	w = do(s, http.MethodGet, "/api/slices", "", nil)
	out := decode(t, w)
	if len(out["slices"].([]interface{})) != 3 {
		t.Fatalf("expected three slices: %v", out)
	}
}

func TestForceMaliciousEndpoints(t *testing.T) {
	s := newTestServer(t, &fakeFlows{})

	do(s, http.MethodPost, "/api/force-malicious", `{"ip":"10.0.0.66"}`, nil)
	w := do(s, http.MethodPost, "/api/traffic/ingest", `{"source_ip":"10.0.0.66","size":1000,"protocol":"TCP"}`, nil)
	var res pipeline.Result
	json.Unmarshal(w.Body.Bytes(), &res)
	if !res.Verdict.IsMalicious || res.Verdict.Confidence != 1.0 {
		t.Fatalf("forced source should be malicious: %+v", res)
	}

	do(s, http.MethodDelete, "/api/force-malicious/10.0.0.66", "", nil)
	out := decode(t, do(s, http.MethodGet, "/api/force-malicious", "", nil))
	if len(out["force_malicious"].([]interface{})) != 0 {
		t.Fatalf("override should be cleared: %v", out)
	}
}

func TestHealthAndAlerts(t *testing.T) {
	s := newTestServer(t, &fakeFlows{})

	out := decode(t, do(s, http.MethodGet, "/api/health", "", nil))
	if out["status"] != "ok" || out["scorer_loaded"] != false || out["capture_running"] != false {
		t.Fatalf("unexpected health: %v", out)
	}

	out = decode(t, do(s, http.MethodGet, "/api/alerts?limit=5", "", nil))
	if len(out["alerts"].([]interface{})) != 1 {
		t.Fatalf("unexpected alerts: %v", out)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeFlows{})
	do(s, http.MethodPost, "/api/traffic/ingest", `{"source_ip":"10.0.0.1","size":100,"protocol":"UDP"}`, nil)

	w := do(s, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "sentinel_packets_processed_total") {
		t.Fatalf("metrics output missing counters: %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, &fakeFlows{})
	w := do(s, http.MethodOptions, "/api/block", "", nil)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("unexpected preflight response: %d %v", w.Code, w.Header())
	}
}

func TestRecentTraffic(t *testing.T) {
	s := newTestServer(t, &fakeFlows{})

	w := do(s, http.MethodGet, "/api/traffic/recent?seconds=9999", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Seconds int                      `json:"seconds"`
		Count   int                      `json:"count"`
		Traffic []models.TelemetryRecord `json:"traffic"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Seconds != 60 || body.Count != 2 || body.Traffic[1].SourceIP != "10.0.0.2" {
		t.Fatalf("unexpected body: %+v", body)
	}

	s.Store = nil
	if w := do(s, http.MethodGet, "/api/traffic/recent", "", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a store, got %d", w.Code)
	}
}
