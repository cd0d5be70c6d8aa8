package detection

import (
	"strings"

	"github.com/nshruti113/slice-sentinel/internal/models"
)

var (
	iotPorts = map[int]bool{
		1883: true, 8883: true, // MQTT
		5683: true, 5684: true, // CoAP
		502:   true, // Modbus
		47808: true, // BACnet
	}

	realtimePorts = map[int]bool{
		5060: true, 5061: true, // SIP
		3478: true, 3479: true, // STUN/TURN
		5004: true, 5005: true, // RTP/RTCP
		27015: true, // Source engine
		3074:  true, // Xbox Live
		7777:  true,
	}

	broadbandPorts = map[int]bool{
		80: true, 443: true, 8080: true, 8443: true,
		1935: true, // RTMP
		554:  true, // RTSP
	}
)

const (
	rtpRangeLow  = 16384
	rtpRangeHigh = 32767

	largePacketBytes = 800
	smallPacketBytes = 200
)

// ClassifySlice maps traffic to a service slice. Ports are checked before
// packet size because they identify the service more reliably.
func ClassifySlice(size int, protocol string, pps float64, srcPort, dstPort *int) models.SliceAssignment {
	slice := classifySlice(size, protocol, srcPort, dstPort)
	return models.SliceAssignment{Slice: slice, Priority: slice.Priority()}
}

func classifySlice(size int, protocol string, srcPort, dstPort *int) models.SliceID {
	switch {
	case anyPort(iotPorts, srcPort, dstPort):
		return models.SliceMMTC
	case anyPort(realtimePorts, srcPort, dstPort) || inRTPRange(srcPort) || inRTPRange(dstPort):
		return models.SliceURLLC
	case anyPort(broadbandPorts, srcPort, dstPort):
		return models.SliceEMBB
	}

	if size > largePacketBytes {
		return models.SliceEMBB
	}
	proto := strings.ToUpper(protocol)
	if (proto == "TCP" || proto == "UDP") && size < smallPacketBytes {
		return models.SliceURLLC
	}
	return models.SliceMMTC
}

func anyPort(set map[int]bool, ports ...*int) bool {
	for _, p := range ports {
		if p != nil && set[*p] {
			return true
		}
	}
	return false
}

func inRTPRange(p *int) bool {
	return p != nil && *p >= rtpRangeLow && *p <= rtpRangeHigh
}
