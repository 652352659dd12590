// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwabf

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.fwabf.dev/fwabf/internal/logging"
)

func TestQualityTracker_Monitor_SamplesImmediatelyAndPeriodically(t *testing.T) {
	routing := NewFakeRoutingTable()
	logger := logging.New(logging.DefaultConfig())
	links := NewLinkRegistry(routing, NewCounters(nil, 0), logger)
	require.NoError(t, links.AddLink(1, 1, net.ParseIP("10.0.0.1"), AFInet4))

	prober := &StaticProber{Quality: Quality{Loss: 42}}
	tracker := NewQualityTracker(links, prober, 10*time.Millisecond, logger)
	defer tracker.Stop()

	tracker.Monitor(1, "10.0.0.1")
	require.Eventually(t, func() bool {
		link, _ := links.Link(1)
		return link.Quality().Loss == 42
	}, time.Second, time.Millisecond, "initial sample must land without waiting a full tick")
}

func TestQualityTracker_Monitor_IsIdempotentPerLabel(t *testing.T) {
	routing := NewFakeRoutingTable()
	logger := logging.New(logging.DefaultConfig())
	links := NewLinkRegistry(routing, NewCounters(nil, 0), logger)
	require.NoError(t, links.AddLink(1, 1, net.ParseIP("10.0.0.1"), AFInet4))

	prober := &StaticProber{Quality: Quality{Loss: 0}}
	tracker := NewQualityTracker(links, prober, time.Hour, logger)
	defer tracker.Stop()

	tracker.Monitor(1, "10.0.0.1")
	tracker.Monitor(1, "10.0.0.1") // second call must not spawn a second goroutine/channel

	tracker.mu.Lock()
	n := len(tracker.stopCh)
	tracker.mu.Unlock()
	assert.Equal(t, 1, n)
}

func TestQualityTracker_ProbeError_ForcesLinkDown(t *testing.T) {
	routing := NewFakeRoutingTable()
	logger := logging.New(logging.DefaultConfig())
	links := NewLinkRegistry(routing, NewCounters(nil, 0), logger)
	require.NoError(t, links.AddLink(1, 1, net.ParseIP("10.0.0.1"), AFInet4))

	prober := &StaticProber{Err: errors.New("unreachable")}
	tracker := NewQualityTracker(links, prober, time.Hour, logger)
	defer tracker.Stop()

	tracker.Monitor(1, "10.0.0.1")
	require.Eventually(t, func() bool {
		link, _ := links.Link(1)
		return link.Quality().IsDown()
	}, time.Second, time.Millisecond)
}

func TestQualityTracker_Unmonitor_StopsFurtherSampling(t *testing.T) {
	routing := NewFakeRoutingTable()
	logger := logging.New(logging.DefaultConfig())
	links := NewLinkRegistry(routing, NewCounters(nil, 0), logger)
	require.NoError(t, links.AddLink(1, 1, net.ParseIP("10.0.0.1"), AFInet4))

	prober := &StaticProber{Quality: Quality{Loss: 0}}
	tracker := NewQualityTracker(links, prober, 5*time.Millisecond, logger)
	defer tracker.Stop()

	tracker.Monitor(1, "10.0.0.1")
	tracker.Unmonitor(1)

	tracker.mu.Lock()
	_, stillMonitored := tracker.stopCh[1]
	tracker.mu.Unlock()
	assert.False(t, stillMonitored)
}

func TestStaticProber_ReturnsConfiguredQualityOrError(t *testing.T) {
	ok := &StaticProber{Quality: Quality{Loss: 10, Delay: 20}}
	q, err := ok.Probe("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, uint8(10), q.Loss)

	failing := &StaticProber{Err: errors.New("boom")}
	_, err = failing.Probe("10.0.0.1")
	assert.Error(t, err)
}
