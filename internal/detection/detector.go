package detection

import (
	"strings"

	"github.com/nshruti113/slice-sentinel/internal/models"
)

const (
	ThreatSYNFlood    = "SYN_FLOOD"
	ThreatUDPFlood    = "UDP_FLOOD"
	ThreatICMPFlood   = "ICMP_FLOOD"
	ThreatHTTPFlood   = "HTTP_FLOOD"
	ThreatRateAnomaly = "RATE_ANOMALY"
	ThreatSimulated   = "SIMULATED"
)

const synPacketBytes = 80

// InferThreatType labels a malicious observation for slice threat history
func InferThreatType(obs models.Observation) string {
	if obs.Simulated {
		return ThreatSimulated
	}

	switch strings.ToUpper(obs.Protocol) {
	case "TCP_SYN":
		return ThreatSYNFlood
	case "TCP":
		if isWebPort(obs.DestPort) {
			return ThreatHTTPFlood
		}
		if obs.Size <= synPacketBytes {
			return ThreatSYNFlood
		}
	case "HTTP", "HTTPS":
		return ThreatHTTPFlood
	case "UDP":
		return ThreatUDPFlood
	case "ICMP":
		return ThreatICMPFlood
	}
	return ThreatRateAnomaly
}

func isWebPort(p *int) bool {
	return p != nil && (*p == 80 || *p == 443 || *p == 8080 || *p == 8443)
}

// Severity maps a confidence to an alert severity
func Severity(confidence float64) string {
	if confidence >= 0.9 {
		return "CRITICAL"
	} else if confidence >= 0.7 {
		return "HIGH"
	} else if confidence >= 0.5 {
		return "MEDIUM"
	}
	return "LOW"
}
