// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"fmt"
	"net"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcap"

	"go.fwabf.dev/fwabf/internal/fwabf"
	"go.fwabf.dev/fwabf/internal/logging"
)

// Replayer drives packets captured in a PCAP file through the engine,
// extracting the 5-tuple the datapath classifies on the way a real ingress
// node would.
type Replayer struct {
	engine *fwabf.Engine
	logger *logging.Logger
	stats  Stats
}

// Stats tallies replay outcomes by datapath verdict.
type Stats struct {
	Total    int
	Applied  int
	Fallback int
	Dropped  int
	ACLMiss  int
}

// NewReplayer constructs a replayer bound to engine.
func NewReplayer(engine *fwabf.Engine, logger *logging.Logger) *Replayer {
	return &Replayer{engine: engine, logger: logger}
}

// Replay opens and processes every packet in the PCAP at path.
func (r *Replayer) Replay(path string) error {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return fmt.Errorf("fwabf-sim: open pcap: %w", err)
	}
	defer handle.Close()

	start := time.Now()
	src := gopacket.NewPacketSource(handle, handle.LinkType())
	for packet := range src.Packets() {
		r.process(packet)
	}
	r.logger.Info("fwabf-sim replay complete", "packets", r.stats.Total, "elapsed", time.Since(start).String())
	return nil
}

// Stats returns the accumulated outcome tally.
func (r *Replayer) Stats() Stats { return r.stats }

func (r *Replayer) process(packet gopacket.Packet) {
	tuple, swIfIndex, ok := toFiveTuple(packet)
	if !ok {
		return
	}
	r.stats.Total++

	verdict := r.engine.Process(tuple.Family, swIfIndex, tuple)
	switch verdict.Outcome {
	case "applied":
		r.stats.Applied++
	case "fallback_fib", "no_attachment":
		r.stats.Fallback++
	case "fallback_drop":
		r.stats.Dropped++
	case "acl_miss":
		r.stats.ACLMiss++
	}
}

// toFiveTuple extracts the classifier the datapath needs from a captured
// packet. swIfIndex is fixed at 1 for the simulator: a PCAP has no notion
// of which interface it was captured on, so replay always attributes
// packets to a single simulated ingress interface.
func toFiveTuple(packet gopacket.Packet) (fwabf.FiveTuple, uint32, bool) {
	const simSwIfIndex = 1

	var srcIP, dstIP net.IP
	var family fwabf.AddressFamily
	if ipv4 := packet.Layer(layers.LayerTypeIPv4); ipv4 != nil {
		ip := ipv4.(*layers.IPv4)
		srcIP, dstIP = ip.SrcIP, ip.DstIP
		family = fwabf.AFInet4
	} else if ipv6 := packet.Layer(layers.LayerTypeIPv6); ipv6 != nil {
		ip := ipv6.(*layers.IPv6)
		srcIP, dstIP = ip.SrcIP, ip.DstIP
		family = fwabf.AFInet6
	} else {
		return fwabf.FiveTuple{}, 0, false
	}

	var proto uint8
	var srcPort, dstPort uint16
	if tcp := packet.Layer(layers.LayerTypeTCP); tcp != nil {
		t := tcp.(*layers.TCP)
		proto = 6
		srcPort, dstPort = uint16(t.SrcPort), uint16(t.DstPort)
	} else if udp := packet.Layer(layers.LayerTypeUDP); udp != nil {
		u := udp.(*layers.UDP)
		proto = 17
		srcPort, dstPort = uint16(u.SrcPort), uint16(u.DstPort)
	} else if packet.Layer(layers.LayerTypeICMPv4) != nil {
		proto = 1
	} else if packet.Layer(layers.LayerTypeICMPv6) != nil {
		proto = 58
	}

	return fwabf.FiveTuple{
		Family:  family,
		Proto:   proto,
		SrcIP:   srcIP,
		DstIP:   dstIP,
		SrcPort: srcPort,
		DstPort: dstPort,
	}, simSwIfIndex, true
}
