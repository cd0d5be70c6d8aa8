package telemetry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/nshruti113/slice-sentinel/internal/models"
)

const DefaultDeliveryTimeout = 100 * time.Millisecond

// Delivery outcomes reported to the observer
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeThrottled = "throttled"
)

// Sink receives telemetry records for the dashboard
type Sink interface {
	Deliver(ctx context.Context, record models.TelemetryRecord) error
}

// Emitter rate-limits telemetry to one record per minimum interval.
// Records arriving inside the interval are dropped, not queued.
type Emitter struct {
	sink        Sink
	minInterval time.Duration
	timeout     time.Duration
	now         func() time.Time
	observe     func(outcome string)

	mu   sync.Mutex
	last time.Time
}

func NewEmitter(sink Sink, minInterval, timeout time.Duration) *Emitter {
	if timeout <= 0 || timeout > DefaultDeliveryTimeout {
		timeout = DefaultDeliveryTimeout
	}
	return &Emitter{
		sink:        sink,
		minInterval: minInterval,
		timeout:     timeout,
		now:         time.Now,
	}
}

// SetObserver registers a callback for every Emit outcome
func (e *Emitter) SetObserver(fn func(outcome string)) {
	e.observe = fn
}

// Emit delivers record unless one was emitted less than the minimum interval
// ago. It reports whether a delivery was attempted; delivery errors are
// logged and swallowed.
func (e *Emitter) Emit(ctx context.Context, record models.TelemetryRecord) bool {
	now := e.now()

	e.mu.Lock()
	if !e.last.IsZero() && now.Sub(e.last) < e.minInterval {
		e.mu.Unlock()
		e.report(OutcomeThrottled)
		return false
	}
	e.last = now
	e.mu.Unlock()

	if e.sink == nil {
		e.report(OutcomeDelivered)
		return true
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.sink.Deliver(callCtx, record); err != nil {
		log.Printf("Telemetry delivery failed: %v", err)
		e.report(OutcomeFailed)
		return true
	}
	e.report(OutcomeDelivered)
	return true
}

func (e *Emitter) report(outcome string) {
	if e.observe != nil {
		e.observe(outcome)
	}
}

// MultiSink fans a record out to several sinks and returns the first error
type MultiSink []Sink

func (m MultiSink) Deliver(ctx context.Context, record models.TelemetryRecord) error {
	var first error
	for _, s := range m {
		if err := s.Deliver(ctx, record); err != nil && first == nil {
			first = err
		}
	}
	return first
}
