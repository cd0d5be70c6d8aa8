package models

import "time"

// Observation represents a single captured or synthetic packet event
type Observation struct {
	SourceIP   string    `json:"source_ip" binding:"required"`
	DestIP     string    `json:"dest_ip"`
	Size       int       `json:"size"`
	Protocol   string    `json:"protocol"` // TCP, UDP, ICMP, etc.
	SourcePort *int      `json:"source_port,omitempty"`
	DestPort   *int      `json:"dest_port,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Simulated  bool      `json:"simulated"`
}

// Port returns a pointer suitable for the optional port fields
func Port(p int) *int {
	return &p
}

// ClassificationResult is the malicious/benign verdict for one observation
type ClassificationResult struct {
	IsMalicious bool    `json:"is_malicious"`
	Confidence  float64 `json:"confidence"` // 0.0 to 1.0
	Reason      string  `json:"reason"`
}

// TelemetryRecord is the per-observation payload pushed to the dashboard
type TelemetryRecord struct {
	SourceIP      string   `json:"srcIP"`
	DestIP        string   `json:"dstIP"`
	Protocol      string   `json:"protocol"`
	Size          int      `json:"packetSize"`
	SourcePort    *int     `json:"srcPort,omitempty"`
	DestPort      *int     `json:"dstPort,omitempty"`
	TimestampMS   int64    `json:"timestamp"`
	Slice         SliceID  `json:"network_slice"`
	SlicePriority int      `json:"slice_priority"`
	IsMalicious   bool     `json:"isMalicious"`
	Confidence    *float64 `json:"confidence,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

// NewTelemetryRecord combines an observation with its verdict and slice
func NewTelemetryRecord(obs Observation, verdict ClassificationResult, slice SliceAssignment) TelemetryRecord {
	rec := TelemetryRecord{
		SourceIP:      obs.SourceIP,
		DestIP:        obs.DestIP,
		Protocol:      obs.Protocol,
		Size:          obs.Size,
		SourcePort:    obs.SourcePort,
		DestPort:      obs.DestPort,
		TimestampMS:   obs.Timestamp.UnixMilli(),
		Slice:         slice.Slice,
		SlicePriority: slice.Priority,
		IsMalicious:   verdict.IsMalicious,
	}
	if verdict.IsMalicious {
		conf := verdict.Confidence
		rec.Confidence = &conf
		rec.Reason = verdict.Reason
	}
	return rec
}

// BlockRecord describes a source currently dropped at the SDN switch
type BlockRecord struct {
	IP            string    `json:"ip"`
	Reason        string    `json:"reason"`
	ThreatLevel   string    `json:"threatLevel"` // LOW, MEDIUM, HIGH, CRITICAL
	Slice         SliceID   `json:"network_slice"`
	SlicePriority int       `json:"slice_priority"`
	Simulated     bool      `json:"isSimulated"`
	BlockedAt     time.Time `json:"timestamp"`
}

// Alert represents a security alert
type Alert struct {
	ID         string    `json:"id"`
	Level      string    `json:"level"` // INFO, WARNING, CRITICAL
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	AttackType string    `json:"attack_type,omitempty"`
	SourceIP   string    `json:"source_ip,omitempty"`
	Slice      SliceID   `json:"network_slice,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Metrics aggregates the observations of one minute
type Metrics struct {
	Timestamp         time.Time       `json:"timestamp"`
	WindowDuration    int             `json:"window_duration_sec"`
	TotalPackets      int             `json:"total_packets"`
	MaliciousPackets  int             `json:"malicious_packets"`
	UniqueIPs         int             `json:"unique_ips"`
	PacketsPerSec     float64         `json:"packets_per_sec"`
	BytesPerSec       float64         `json:"bytes_per_sec"`
	TopIPs            []IPCount       `json:"top_ips"`
	ProtocolBreakdown map[string]int  `json:"protocol_breakdown"`
	SliceBreakdown    map[SliceID]int `json:"slice_breakdown"`
}

type IPCount struct {
	IP         string  `json:"ip"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}
