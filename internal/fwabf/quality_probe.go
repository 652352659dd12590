// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwabf

import (
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// ICMPProber is a Prober that measures loss and round-trip delay with a
// short unprivileged ICMP echo burst.
type ICMPProber struct {
	Count   int
	Timeout time.Duration
}

// NewICMPProber returns a prober sending Count echoes per sample (default
// 5) with a bounded per-probe timeout (default 1s).
func NewICMPProber(count int, timeout time.Duration) *ICMPProber {
	if count <= 0 {
		count = 5
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	return &ICMPProber{Count: count, Timeout: timeout}
}

// Probe implements Prober.
func (p *ICMPProber) Probe(nextHop string) (Quality, error) {
	pinger, err := probing.NewPinger(nextHop)
	if err != nil {
		return Quality{}, fmt.Errorf("fwabf: new pinger for %s: %w", nextHop, err)
	}
	pinger.Count = p.Count
	pinger.Timeout = p.Timeout
	pinger.SetPrivileged(false)

	if err := pinger.Run(); err != nil {
		return Quality{}, fmt.Errorf("fwabf: probe %s: %w", nextHop, err)
	}

	stats := pinger.Statistics()
	loss := uint8(stats.PacketLoss)
	if stats.PacketsRecv == 0 {
		loss = 100
	}
	return Quality{
		Loss:   loss,
		Delay:  int(stats.AvgRtt / time.Millisecond),
		Jitter: int(stats.StdDevRtt / time.Millisecond),
	}, nil
}

// StaticProber is a Prober that always reports a fixed Quality, for tests
// and cmd/fwabf-sim.
type StaticProber struct {
	Quality Quality
	Err     error
}

// Probe implements Prober.
func (p *StaticProber) Probe(string) (Quality, error) { return p.Quality, p.Err }
