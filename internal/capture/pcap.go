package capture

import (
	"context"
	"fmt"
	"log"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/nshruti113/slice-sentinel/internal/models"
)

// Source produces observations until ctx ends or the input is exhausted
type Source interface {
	Run(ctx context.Context, emit func(models.Observation)) error
}

// PcapSource reads packets from a live interface or a capture file
type PcapSource struct {
	iface   string
	file    string
	filter  string
	snapLen int32
}

func NewLiveSource(iface, filter string, snapLen int32) *PcapSource {
	return &PcapSource{iface: iface, filter: filter, snapLen: snapLen}
}

func NewOfflineSource(file, filter string) *PcapSource {
	return &PcapSource{file: file, filter: filter}
}

func (s *PcapSource) open() (*pcap.Handle, error) {
	if s.file != "" {
		handle, err := pcap.OpenOffline(s.file)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", s.file, err)
		}
		return handle, nil
	}
	handle, err := pcap.OpenLive(s.iface, s.snapLen, true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("open interface %s: %w", s.iface, err)
	}
	return handle, nil
}

func (s *PcapSource) Run(ctx context.Context, emit func(models.Observation)) error {
	handle, err := s.open()
	if err != nil {
		return err
	}
	defer handle.Close()

	if s.filter != "" {
		if err := handle.SetBPFFilter(s.filter); err != nil {
			return fmt.Errorf("set bpf filter %q: %w", s.filter, err)
		}
	}

	if s.file != "" {
		log.Printf("📂 Reading packets from %s", s.file)
	} else {
		log.Printf("📡 Capturing on %s (filter %q)", s.iface, s.filter)
	}

	packets := gopacket.NewPacketSource(handle, handle.LinkType()).Packets()
	for {
		select {
		case <-ctx.Done():
			return nil
		case packet, ok := <-packets:
			if !ok {
				return nil
			}
			obs, err := ParsePacket(packet)
			if err != nil {
				continue
			}
			emit(obs)
		}
	}
}
