package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nshruti113/slice-sentinel/internal/capture"
	"github.com/nshruti113/slice-sentinel/internal/detection"
	"github.com/nshruti113/slice-sentinel/internal/mitigation"
	"github.com/nshruti113/slice-sentinel/internal/models"
	"github.com/nshruti113/slice-sentinel/internal/notify"
	"github.com/nshruti113/slice-sentinel/internal/slicing"
	"github.com/nshruti113/slice-sentinel/internal/telemetry"
)

// auditTimeout bounds each audit store write on the ingestion path
const auditTimeout = 250 * time.Millisecond

// AuditStore persists what the pipeline sees and does
type AuditStore interface {
	RecordTraffic(ctx context.Context, rec models.TelemetryRecord) error
	StoreBlockRecord(ctx context.Context, rec models.BlockRecord) error
	StoreAlert(ctx context.Context, alert models.Alert) error
}

// Broadcaster pushes messages to live dashboard clients
type Broadcaster interface {
	Broadcast(msgType string, payload interface{})
}

// Observer receives pipeline counters
type Observer interface {
	ObservePacket(slice models.SliceID, malicious bool)
	ObserveBlock(ok bool)
	SetCaptureRunning(running bool)
}

// Components wires the engine. Rates, Classifier, Mitigation, Slices and
// Emitter are required.
type Components struct {
	Rates      *detection.RateTracker
	Classifier *detection.Classifier
	Mitigation *mitigation.Controller
	Slices     *slicing.Manager
	Emitter    *telemetry.Emitter

	Notifier    notify.Notifier
	Store       AuditStore
	Broadcaster Broadcaster
	Observer    Observer
}

// Result is the outcome of processing one observation
type Result struct {
	Verdict models.ClassificationResult `json:"verdict"`
	Slice   models.SliceAssignment      `json:"slice"`
	PPS     float64                     `json:"pps"`
	Blocked bool                        `json:"blocked"`
}

// Engine runs observations through rate tracking, classification,
// mitigation, slice threat reporting and telemetry.
type Engine struct {
	Components

	now     func() time.Time
	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewEngine(c Components) *Engine {
	return &Engine{Components: c, now: time.Now}
}

// Process handles one observation synchronously
func (e *Engine) Process(ctx context.Context, obs models.Observation) Result {
	if obs.Timestamp.IsZero() {
		obs.Timestamp = e.now()
	}

	e.Rates.Add(obs.SourceIP, obs.Timestamp)
	pps := e.Rates.PPS(obs.SourceIP)

	verdict := e.Classifier.Classify(obs, pps)
	slice := detection.ClassifySlice(obs.Size, obs.Protocol, pps, obs.SourcePort, obs.DestPort)
	res := Result{Verdict: verdict, Slice: slice, PPS: pps}

	if e.Observer != nil {
		e.Observer.ObservePacket(slice.Slice, verdict.IsMalicious)
	}

	if verdict.IsMalicious {
		res.Blocked = e.mitigate(ctx, obs, verdict, slice)

		confidence := verdict.Confidence
		err := e.Slices.ReportThreat(ctx, slice.Slice, models.ThreatReport{
			SourceIP:   obs.SourceIP,
			ThreatType: detection.InferThreatType(obs),
			Confidence: &confidence,
		})
		if err != nil {
			log.Printf("Threat report for %s dropped: %v", obs.SourceIP, err)
		}
	}

	record := models.NewTelemetryRecord(obs, verdict, slice)
	e.Emitter.Emit(ctx, record)

	if e.Store != nil {
		auditCtx, cancel := context.WithTimeout(ctx, auditTimeout)
		if err := e.Store.RecordTraffic(auditCtx, record); err != nil {
			log.Printf("Error storing traffic: %v", err)
		}
		cancel()
	}
	return res
}

func (e *Engine) mitigate(ctx context.Context, obs models.Observation, verdict models.ClassificationResult, slice models.SliceAssignment) bool {
	ok, added := e.Mitigation.BlockSource(ctx, obs.SourceIP)
	if ok && !added {
		return true
	}
	if e.Observer != nil {
		e.Observer.ObserveBlock(ok)
	}
	if !ok {
		return false
	}

	severity := detection.Severity(verdict.Confidence)
	record := models.BlockRecord{
		IP:            obs.SourceIP,
		Reason:        verdict.Reason,
		ThreatLevel:   severity,
		Slice:         slice.Slice,
		SlicePriority: slice.Priority,
		Simulated:     obs.Simulated,
		BlockedAt:     e.now(),
	}
	alert := models.Alert{
		ID:         uuid.New().String(),
		Level:      alertLevel(severity),
		Title:      fmt.Sprintf("%s blocked", detection.InferThreatType(obs)),
		Message:    verdict.Reason,
		AttackType: detection.InferThreatType(obs),
		SourceIP:   obs.SourceIP,
		Slice:      slice.Slice,
		Timestamp:  record.BlockedAt,
	}

	if e.Notifier != nil {
		if err := e.Notifier.NotifyBlocked(ctx, record); err != nil {
			log.Printf("Block notification for %s failed: %v", obs.SourceIP, err)
		}
	}
	if e.Store != nil {
		auditCtx, cancel := context.WithTimeout(ctx, auditTimeout)
		if err := e.Store.StoreBlockRecord(auditCtx, record); err != nil {
			log.Printf("Error storing block record: %v", err)
		}
		if err := e.Store.StoreAlert(auditCtx, alert); err != nil {
			log.Printf("Error storing alert: %v", err)
		}
		cancel()
	}
	if e.Broadcaster != nil {
		e.Broadcaster.Broadcast("alert", alert)
	}
	return true
}

func alertLevel(severity string) string {
	switch severity {
	case "CRITICAL", "HIGH":
		return "CRITICAL"
	case "MEDIUM":
		return "WARNING"
	}
	return "INFO"
}

// Start runs src on a background goroutine. It returns false when a
// capture is already running.
func (e *Engine) Start(ctx context.Context, src capture.Source) bool {
	if !e.running.CompareAndSwap(false, true) {
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.mu.Lock()
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()
	e.setRunning(true)

	// in-flight remote calls outlive Stop and end on their own timeouts
	callCtx := context.WithoutCancel(runCtx)

	go func() {
		defer close(done)
		defer cancel()
		log.Println("🚀 Packet capture started")

		err := src.Run(runCtx, func(obs models.Observation) {
			if !e.running.Load() {
				return
			}
			e.Process(callCtx, obs)
		})
		if err != nil {
			log.Printf("Capture error: %v", err)
		}

		e.mu.Lock()
		if e.done == done {
			e.running.Store(false)
			e.setRunning(false)
		}
		e.mu.Unlock()
		log.Println("🛑 Packet capture stopped")
	}()
	return true
}

// Stop clears the running flag; the capture goroutine exits after the
// observation in progress. It returns false when nothing was running.
func (e *Engine) Stop() bool {
	if !e.running.CompareAndSwap(true, false) {
		return false
	}
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

// Wait blocks until the current capture goroutine has exited
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (e *Engine) Running() bool {
	return e.running.Load()
}

func (e *Engine) setRunning(running bool) {
	if e.Observer != nil {
		e.Observer.SetCaptureRunning(running)
	}
}

// RunJanitor periodically drops rate windows of sources idle for longer
// than idle.
func (e *Engine) RunJanitor(ctx context.Context, idle time.Duration) {
	ticker := time.NewTicker(idle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.Rates.Forget(e.now().Add(-idle)); n > 0 {
				log.Printf("🧹 Dropped %d idle rate windows", n)
			}
		}
	}
}
