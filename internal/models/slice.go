package models

import "time"

// SliceID names one of the fixed 5G service slices
type SliceID string

const (
	SliceEMBB  SliceID = "eMBB"
	SliceURLLC SliceID = "URLLC"
	SliceMMTC  SliceID = "mMTC"
)

// AllSlices lists the fixed slices in priority order
var AllSlices = []SliceID{SliceURLLC, SliceMMTC, SliceEMBB}

// Priority returns the fixed slice priority (lower is more important)
func (s SliceID) Priority() int {
	switch s {
	case SliceURLLC:
		return 1
	case SliceMMTC:
		return 2
	case SliceEMBB:
		return 3
	}
	return 0
}

// Valid reports whether s is one of the fixed slices
func (s SliceID) Valid() bool {
	return s.Priority() != 0
}

// SliceAssignment is the result of slice classification
type SliceAssignment struct {
	Slice    SliceID `json:"slice"`
	Priority int     `json:"priority"`
}

type SliceStatus string

const (
	SliceActive   SliceStatus = "active"
	SliceIsolated SliceStatus = "isolated"
)

// ThreatReport is a threat signal attributed to a slice
type ThreatReport struct {
	SourceIP   string   `json:"src_ip"`
	ThreatType string   `json:"threat_type"`
	Confidence *float64 `json:"confidence,omitempty"` // defaults to 0.5
}

// TrafficPattern is one entry of a slice's threat history
type TrafficPattern struct {
	Timestamp  time.Time `json:"timestamp"`
	ThreatType string    `json:"threat_type"`
	Confidence float64   `json:"confidence"`
	SourceIP   string    `json:"src_ip"`
}

// SliceHealth holds informational metrics derived from the threat level
type SliceHealth struct {
	ActiveFlows    int     `json:"active_flows"`
	BandwidthUsage float64 `json:"bandwidth_usage_pct"`
	Latency        string  `json:"latency"`
	PacketLoss     float64 `json:"packet_loss"`
}

// SliceSnapshot is a point-in-time copy of a slice record
type SliceSnapshot struct {
	ID               SliceID     `json:"id"`
	Name             string      `json:"name"`
	Bandwidth        string      `json:"bandwidth"`
	Latency          string      `json:"latency"`
	Reliability      string      `json:"reliability"`
	Priority         int         `json:"priority"`
	Status           SliceStatus `json:"status"`
	ThreatLevel      float64     `json:"threat_level"`
	IsolatedIPs      []string    `json:"isolated_ips"`
	IsolatedIPsCount int         `json:"isolated_ips_count"`
	IsolatedSince    *time.Time  `json:"isolated_since,omitempty"`
	PartialRestore   bool        `json:"partial_restore"`
	RecentThreats    int         `json:"recent_threats"`
	Health           SliceHealth `json:"health"`
}

type SliceEventKind string

const (
	EventIsolated       SliceEventKind = "isolated"
	EventRestored       SliceEventKind = "restored"
	EventForceRestored  SliceEventKind = "force_restored"
	EventPartialRestore SliceEventKind = "partial_restore"
)

// SliceEvent records a slice state transition
type SliceEvent struct {
	ID          string         `json:"id"`
	Slice       SliceID        `json:"slice"`
	Kind        SliceEventKind `json:"kind"`
	Reason      string         `json:"reason"`
	ThreatLevel float64        `json:"threat_level"`
	Timestamp   time.Time      `json:"timestamp"`
}
