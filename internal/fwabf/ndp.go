// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

package fwabf

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/mdlayher/ndp"
)

// NDPProber is a Prober for IPv6 next-hops that measures reachability with
// a neighbor solicitation/advertisement exchange instead of an ICMP echo -
// useful on links where echo is filtered but NDP, being required for the
// link to function at all, is not (spec §7, "a link's quality source is a
// pluggable collaborator").
type NDPProber struct {
	iface   string
	timeout time.Duration
}

// NewNDPProber returns a prober that solicits next-hops reachable over
// iface (the egress interface name) with the given per-probe timeout
// (default 1s).
func NewNDPProber(iface string, timeout time.Duration) *NDPProber {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &NDPProber{iface: iface, timeout: timeout}
}

// Probe implements Prober: it solicits nextHop once and reports Loss: 0 on
// a matching advertisement within the timeout, Loss: 100 otherwise.
func (p *NDPProber) Probe(nextHop string) (Quality, error) {
	ip := net.ParseIP(nextHop)
	if ip == nil || ip.To4() != nil {
		return Quality{}, fmt.Errorf("fwabf: %q is not an IPv6 address", nextHop)
	}
	target, ok := netip.AddrFromSlice(ip.To16())
	if !ok {
		return Quality{}, fmt.Errorf("fwabf: invalid IPv6 address %q", nextHop)
	}

	ifi, err := net.InterfaceByName(p.iface)
	if err != nil {
		return Quality{}, fmt.Errorf("fwabf: interface %s: %w", p.iface, err)
	}
	conn, _, err := ndp.Listen(ifi, ndp.LinkLocal)
	if err != nil {
		return Quality{}, fmt.Errorf("fwabf: ndp listen on %s: %w", p.iface, err)
	}
	defer conn.Close()

	start := time.Now()
	sol := &ndp.NeighborSolicitation{
		TargetAddress: target,
		Options: []ndp.Option{
			&ndp.LinkLayerAddress{Direction: ndp.Source, Addr: ifi.HardwareAddr},
		},
	}
	if err := conn.SetWriteDeadline(time.Now().Add(p.timeout)); err != nil {
		return Quality{}, err
	}
	if err := conn.WriteTo(sol, nil, target); err != nil {
		return Quality{Loss: 100}, nil
	}

	if err := conn.SetReadDeadline(time.Now().Add(p.timeout)); err != nil {
		return Quality{}, err
	}
	for {
		msg, _, from, err := conn.ReadFrom()
		if err != nil {
			return Quality{Loss: 100}, nil
		}
		adv, ok := msg.(*ndp.NeighborAdvertisement)
		if !ok || from != target {
			continue
		}
		if adv.TargetAddress != target {
			continue
		}
		delay := time.Since(start)
		return Quality{Loss: 0, Delay: int(delay / time.Millisecond)}, nil
	}
}
