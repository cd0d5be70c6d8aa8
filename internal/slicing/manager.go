package slicing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nshruti113/slice-sentinel/internal/mitigation"
	"github.com/nshruti113/slice-sentinel/internal/models"
	"github.com/nshruti113/slice-sentinel/internal/sdn"
)

const (
	// IsolationPriority outranks per-source block rules
	IsolationPriority = 65000
	// PartialRestorePriority outranks the isolation drop so the allow rule wins
	PartialRestorePriority = 65535

	partialRestoreThreshold = 2.0
	criticalServicePort     = 443
	defaultThreatConfidence = 0.5
	recentThreatWindow      = 5 * time.Minute
	recordTimeout           = 250 * time.Millisecond
)

var ErrUnknownSlice = errors.New("unknown slice")

var sliceVLAN = map[models.SliceID]int{
	models.SliceEMBB:  100,
	models.SliceURLLC: 200,
	models.SliceMMTC:  300,
}

// Policy holds the healing policy for all slices
type Policy struct {
	IsolationThreshold   float64
	RestorationDelay     time.Duration
	MaxIsolation         time.Duration
	DecayRate            float64
	MonitorInterval      time.Duration
	PartialSweepInterval time.Duration
	PatternLogLimit      int
	DatapathID           int
	SDNTimeout           time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		IsolationThreshold:   3,
		RestorationDelay:     300 * time.Second,
		MaxIsolation:         1800 * time.Second,
		DecayRate:            0.1,
		MonitorInterval:      10 * time.Second,
		PartialSweepInterval: 60 * time.Second,
		PatternLogLimit:      1000,
		DatapathID:           1,
		SDNTimeout:           3 * time.Second,
	}
}

// EventRecorder persists slice transitions
type EventRecorder interface {
	RecordSliceEvent(ctx context.Context, event models.SliceEvent) error
}

type sliceRecord struct {
	id          models.SliceID
	name        string
	bandwidth   string
	latency     string
	reliability string
	vlan        int

	// transition serializes state changes, including their SDN calls
	transition sync.Mutex

	mu             sync.Mutex
	status         models.SliceStatus
	threatLevel    float64
	isolatedIPs    map[string]struct{}
	isolatedSince  time.Time
	patterns       []models.TrafficPattern
	health         models.SliceHealth
	partialRestore bool

	// rule writes that failed and are retried on the next tick
	pendingIsolation bool
	pendingRemoval   bool
}

func newSliceRecord(id models.SliceID, name, bandwidth, latency, reliability string) *sliceRecord {
	return &sliceRecord{
		id:          id,
		name:        name,
		bandwidth:   bandwidth,
		latency:     latency,
		reliability: reliability,
		vlan:        sliceVLAN[id],
		status:      models.SliceActive,
		isolatedIPs: make(map[string]struct{}),
		health:      models.SliceHealth{Latency: latency},
	}
}

// Manager tracks threat levels per slice and isolates or restores slices
// at the SDN switch.
type Manager struct {
	flows    mitigation.FlowWriter
	policy   Policy
	recorder EventRecorder
	now      func() time.Time
	slices   map[models.SliceID]*sliceRecord
}

// NewManager builds the three slices. Unset policy fields take their
// DefaultPolicy values; DecayRate must lie in (0, 1).
func NewManager(flows mitigation.FlowWriter, policy Policy) *Manager {
	def := DefaultPolicy()
	if policy.IsolationThreshold <= 0 {
		policy.IsolationThreshold = def.IsolationThreshold
	}
	if policy.RestorationDelay <= 0 {
		policy.RestorationDelay = def.RestorationDelay
	}
	if policy.MaxIsolation <= 0 {
		policy.MaxIsolation = def.MaxIsolation
	}
	if policy.DecayRate <= 0 || policy.DecayRate >= 1 {
		policy.DecayRate = def.DecayRate
	}
	if policy.MonitorInterval <= 0 {
		policy.MonitorInterval = def.MonitorInterval
	}
	if policy.PartialSweepInterval <= 0 {
		policy.PartialSweepInterval = def.PartialSweepInterval
	}
	if policy.PatternLogLimit <= 0 {
		policy.PatternLogLimit = def.PatternLogLimit
	}
	if policy.SDNTimeout <= 0 {
		policy.SDNTimeout = def.SDNTimeout
	}
	if policy.DatapathID <= 0 {
		policy.DatapathID = def.DatapathID
	}

	return &Manager{
		flows:  flows,
		policy: policy,
		now:    time.Now,
		slices: map[models.SliceID]*sliceRecord{
			models.SliceEMBB:  newSliceRecord(models.SliceEMBB, "Enhanced Mobile Broadband", "1Gbps", "20ms", "99.9%"),
			models.SliceURLLC: newSliceRecord(models.SliceURLLC, "Ultra-Reliable Low Latency Communications", "100Mbps", "1ms", "99.999%"),
			models.SliceMMTC:  newSliceRecord(models.SliceMMTC, "Massive Machine Type Communications", "10Mbps", "100ms", "99%"),
		},
	}
}

// SetRecorder attaches an optional event store
func (m *Manager) SetRecorder(r EventRecorder) {
	m.recorder = r
}

// ReportThreat adds a threat signal to a slice and isolates the slice when
// the accumulated threat level reaches the isolation threshold.
func (m *Manager) ReportThreat(ctx context.Context, id models.SliceID, report models.ThreatReport) error {
	rec, ok := m.slices[id]
	if !ok {
		log.Printf("⚠️ Threat reported for unknown slice %q ignored", id)
		return fmt.Errorf("%w: %s", ErrUnknownSlice, id)
	}

	confidence := defaultThreatConfidence
	if report.Confidence != nil {
		confidence = *report.Confidence
	}
	threatType := report.ThreatType
	if threatType == "" {
		threatType = "unknown"
	}
	source := report.SourceIP
	if source == "" {
		source = "unknown"
	}

	rec.transition.Lock()
	defer rec.transition.Unlock()

	now := m.now()
	rec.mu.Lock()
	rec.threatLevel += confidence
	if report.SourceIP != "" {
		rec.isolatedIPs[report.SourceIP] = struct{}{}
	}
	rec.patterns = append(rec.patterns, models.TrafficPattern{
		Timestamp:  now,
		ThreatType: threatType,
		Confidence: confidence,
		SourceIP:   source,
	})
	if over := len(rec.patterns) - m.policy.PatternLogLimit; over > 0 {
		rec.patterns = append(rec.patterns[:0], rec.patterns[over:]...)
	}
	level := rec.threatLevel
	isolate := rec.status == models.SliceActive && level >= m.policy.IsolationThreshold
	if isolate {
		rec.status = models.SliceIsolated
		rec.isolatedSince = now
		rec.partialRestore = false
		rec.pendingRemoval = false
	}
	rec.mu.Unlock()

	log.Printf("🚨 Threat handled in slice %s: threat_level=%.2f", id, level)

	if isolate {
		reason := fmt.Sprintf("Threat threshold exceeded: %.2f", level)
		log.Printf("🛑 Isolating slice %s: %s", id, reason)
		m.installIsolation(ctx, rec)
		m.record(ctx, rec.id, models.EventIsolated, reason, level)
	}
	return nil
}

// Tick runs one monitoring pass over every slice: decay, health snapshot,
// anomaly warning and restoration checks.
func (m *Manager) Tick(ctx context.Context) {
	for _, id := range models.AllSlices {
		m.guard("slice monitoring", id, func() {
			m.monitorSlice(ctx, m.slices[id])
		})
	}
}

// PartialRestorationSweep lets critical service traffic back into isolated
// slices whose threat level has dropped below the partial threshold.
func (m *Manager) PartialRestorationSweep(ctx context.Context) {
	for _, id := range models.AllSlices {
		m.guard("service restoration", id, func() {
			m.partialRestore(ctx, m.slices[id])
		})
	}
}

// Run drives the monitoring and partial restoration loops until ctx ends.
func (m *Manager) Run(ctx context.Context) {
	log.Println("🔍 Starting autonomous slice monitoring")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.loop(ctx, m.policy.MonitorInterval, m.Tick)
	}()
	go func() {
		defer wg.Done()
		log.Println("🔄 Starting dynamic service restoration")
		m.loop(ctx, m.policy.PartialSweepInterval, m.PartialRestorationSweep)
	}()
	wg.Wait()
}

func (m *Manager) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (m *Manager) guard(what string, id models.SliceID, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("%s error in slice %s: %v", what, id, r)
		}
	}()
	fn()
}

type restoreKind int

const (
	noRestore restoreKind = iota
	normalRestore
	forcedRestore
)

func (m *Manager) monitorSlice(ctx context.Context, rec *sliceRecord) {
	rec.transition.Lock()
	defer rec.transition.Unlock()

	now := m.now()
	rec.mu.Lock()
	rec.threatLevel *= 1 - m.policy.DecayRate
	rec.health = models.SliceHealth{
		ActiveFlows:    len(rec.patterns),
		BandwidthUsage: rec.threatLevel * 10,
		Latency:        rec.latency,
		PacketLoss:     rec.threatLevel * 0.1,
	}
	health := rec.health
	level := rec.threatLevel

	kind := noRestore
	if rec.status == models.SliceIsolated {
		elapsed := now.Sub(rec.isolatedSince)
		if elapsed > m.policy.RestorationDelay && level < m.policy.IsolationThreshold {
			kind = normalRestore
		} else if elapsed > m.policy.MaxIsolation {
			kind = forcedRestore
		}
	}

	retryIsolation := rec.status == models.SliceIsolated && rec.pendingIsolation && kind == noRestore
	retryRemoval := rec.status == models.SliceActive && rec.pendingRemoval
	if kind != noRestore {
		rec.status = models.SliceActive
		rec.threatLevel = 0
		rec.isolatedIPs = make(map[string]struct{})
		rec.isolatedSince = time.Time{}
		rec.partialRestore = false
		rec.pendingIsolation = false
	}
	rec.mu.Unlock()

	if health.PacketLoss > 1 || level > 1 {
		log.Printf("⚠️ Potential issue in slice %s: threat_level=%.2f packet_loss=%.2f flows=%d",
			rec.id, level, health.PacketLoss, health.ActiveFlows)
	}

	switch {
	case kind == normalRestore:
		log.Printf("✅ Restoring slice %s", rec.id)
		m.removeIsolation(ctx, rec)
		m.record(ctx, rec.id, models.EventRestored, "threat subsided after restoration delay", level)
	case kind == forcedRestore:
		log.Printf("⚠️ Force restoring slice %s after max isolation time", rec.id)
		m.removeIsolation(ctx, rec)
		m.record(ctx, rec.id, models.EventForceRestored, "max isolation time exceeded", level)
	case retryIsolation:
		log.Printf("Re-issuing isolation rule for slice %s", rec.id)
		m.installIsolation(ctx, rec)
	case retryRemoval:
		log.Printf("Re-issuing isolation removal for slice %s", rec.id)
		m.removeIsolation(ctx, rec)
	}
}

func (m *Manager) partialRestore(ctx context.Context, rec *sliceRecord) {
	rec.transition.Lock()
	defer rec.transition.Unlock()

	rec.mu.Lock()
	eligible := rec.status == models.SliceIsolated && rec.threatLevel < partialRestoreThreshold && !rec.partialRestore
	level := rec.threatLevel
	rec.mu.Unlock()
	if !eligible {
		return
	}

	log.Printf("🔄 Partial restoration for slice %s", rec.id)
	rule := sdn.AllowVLANPort(m.policy.DatapathID, PartialRestorePriority, rec.vlan, criticalServicePort)
	if err := m.install(ctx, rule); err != nil {
		log.Printf("Partial restoration rule failed for slice %s: %v", rec.id, err)
		return
	}

	rec.mu.Lock()
	rec.partialRestore = true
	rec.mu.Unlock()
	m.record(ctx, rec.id, models.EventPartialRestore, fmt.Sprintf("allow tcp/%d", criticalServicePort), level)
}

func (m *Manager) installIsolation(ctx context.Context, rec *sliceRecord) {
	err := m.install(ctx, sdn.DropVLAN(m.policy.DatapathID, IsolationPriority, rec.vlan))
	if err != nil {
		log.Printf("Isolation rule failed for slice %s: %v", rec.id, err)
	}
	rec.mu.Lock()
	rec.pendingIsolation = err != nil
	rec.mu.Unlock()
}

// removeIsolation deletes every flow on the slice VLAN, which also covers
// the partial restoration allow rule.
func (m *Manager) removeIsolation(ctx context.Context, rec *sliceRecord) {
	callCtx, cancel := context.WithTimeout(ctx, m.policy.SDNTimeout)
	defer cancel()
	err := m.flows.DeleteFlow(callCtx, sdn.DropVLAN(m.policy.DatapathID, IsolationPriority, rec.vlan))
	if err != nil {
		log.Printf("Isolation removal failed for slice %s: %v", rec.id, err)
	}
	rec.mu.Lock()
	rec.pendingRemoval = err != nil
	rec.mu.Unlock()
}

func (m *Manager) install(ctx context.Context, rule sdn.FlowRule) error {
	callCtx, cancel := context.WithTimeout(ctx, m.policy.SDNTimeout)
	defer cancel()
	return m.flows.InstallFlow(callCtx, rule)
}

func (m *Manager) record(ctx context.Context, id models.SliceID, kind models.SliceEventKind, reason string, level float64) {
	if m.recorder == nil {
		return
	}
	event := models.SliceEvent{
		ID:          uuid.New().String(),
		Slice:       id,
		Kind:        kind,
		Reason:      reason,
		ThreatLevel: level,
		Timestamp:   m.now(),
	}
	recCtx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()
	if err := m.recorder.RecordSliceEvent(recCtx, event); err != nil {
		log.Printf("Error recording slice event: %v", err)
	}
}

// Status returns a snapshot of every slice
func (m *Manager) Status() []models.SliceSnapshot {
	out := make([]models.SliceSnapshot, 0, len(models.AllSlices))
	for _, id := range models.AllSlices {
		out = append(out, m.slices[id].snapshot(m.now()))
	}
	return out
}

// Snapshot returns one slice's state
func (m *Manager) Snapshot(id models.SliceID) (models.SliceSnapshot, bool) {
	rec, ok := m.slices[id]
	if !ok {
		return models.SliceSnapshot{}, false
	}
	return rec.snapshot(m.now()), true
}

// Patterns returns a copy of a slice's threat history
func (m *Manager) Patterns(id models.SliceID) []models.TrafficPattern {
	rec, ok := m.slices[id]
	if !ok {
		return nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]models.TrafficPattern(nil), rec.patterns...)
}

func (r *sliceRecord) snapshot(now time.Time) models.SliceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	ips := make([]string, 0, len(r.isolatedIPs))
	for ip := range r.isolatedIPs {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	recent := 0
	for _, p := range r.patterns {
		if now.Sub(p.Timestamp) < recentThreatWindow {
			recent++
		}
	}

	snap := models.SliceSnapshot{
		ID:               r.id,
		Name:             r.name,
		Bandwidth:        r.bandwidth,
		Latency:          r.latency,
		Reliability:      r.reliability,
		Priority:         r.id.Priority(),
		Status:           r.status,
		ThreatLevel:      r.threatLevel,
		IsolatedIPs:      ips,
		IsolatedIPsCount: len(ips),
		PartialRestore:   r.partialRestore,
		RecentThreats:    recent,
		Health:           r.health,
	}
	if r.status == models.SliceIsolated {
		since := r.isolatedSince
		snap.IsolatedSince = &since
	}
	return snap
}
