package capture

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/nshruti113/slice-sentinel/internal/models"
)

var ErrNotIPv4 = errors.New("not an IPv4 packet")

var protocolNames = map[layers.IPProtocol]string{
	layers.IPProtocolICMPv4: "ICMP",
	layers.IPProtocolIGMP:   "IGMP",
	layers.IPProtocolTCP:    "TCP",
	layers.IPProtocolUDP:    "UDP",
	89:                      "OSPF",
	layers.IPProtocolESP:    "ESP",
	layers.IPProtocolAH:     "AH",
}

// ProtocolName maps an IP protocol number to the name used in observations
func ProtocolName(p layers.IPProtocol) string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Proto %d", uint8(p))
}

// ParsePacket extracts an observation from a decoded packet. Packets
// without an IPv4 layer are rejected.
func ParsePacket(packet gopacket.Packet) (models.Observation, error) {
	l := packet.Layer(layers.LayerTypeIPv4)
	if l == nil {
		return models.Observation{}, ErrNotIPv4
	}
	ip := l.(*layers.IPv4)

	obs := models.Observation{
		SourceIP:  ip.SrcIP.String(),
		DestIP:    ip.DstIP.String(),
		Size:      len(packet.Data()),
		Protocol:  ProtocolName(ip.Protocol),
		Timestamp: time.Now(),
	}
	if meta := packet.Metadata(); meta != nil && !meta.Timestamp.IsZero() {
		obs.Timestamp = meta.Timestamp
	}

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		obs.SourcePort = models.Port(int(tcp.SrcPort))
		obs.DestPort = models.Port(int(tcp.DstPort))
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		obs.SourcePort = models.Port(int(udp.SrcPort))
		obs.DestPort = models.Port(int(udp.DstPort))
	}
	return obs, nil
}
