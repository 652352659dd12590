// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwabf

import (
	"sync"
	"time"

	"go.fwabf.dev/fwabf/internal/logging"
)

// Prober samples a link's liveness/performance and reports a Quality. A
// concrete prober (active ICMP probing, BFD session state, a static test
// double) is a collaborator wired in by the caller, not part of the engine
// core (spec §6).
type Prober interface {
	Probe(nextHop string) (Quality, error)
}

// QualityTracker is C7: periodically samples each link's quality and feeds
// the result into the LinkRegistry, which is what actually flips a link's
// soft up/down indicator and the adj→reachable_label index (spec §3, §7).
//
// One goroutine per monitored link, a stop channel per link, and a
// mutex guarding the channel map mirror the per-route monitoring loop this is
// modeled on; QualityTracker adds nothing the link registry doesn't already
// need except the scheduling.
type QualityTracker struct {
	links  *LinkRegistry
	prober Prober
	period time.Duration
	logger *logging.Logger

	mu      sync.Mutex
	stopCh  map[Label]chan struct{}
	wg      sync.WaitGroup
}

// NewQualityTracker constructs a tracker that samples every monitored link
// every period using prober.
func NewQualityTracker(links *LinkRegistry, prober Prober, period time.Duration, logger *logging.Logger) *QualityTracker {
	return &QualityTracker{
		links:  links,
		prober: prober,
		period: period,
		logger: logger,
		stopCh: make(map[Label]chan struct{}),
	}
}

// Monitor starts periodic probing of label's next-hop. Calling it again for
// a label already being monitored is a no-op.
func (q *QualityTracker) Monitor(label Label, nextHop string) {
	q.mu.Lock()
	if _, exists := q.stopCh[label]; exists {
		q.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	q.stopCh[label] = stop
	q.mu.Unlock()

	q.wg.Add(1)
	go q.run(label, nextHop, stop)
}

// Unmonitor stops periodic probing of label, if running.
func (q *QualityTracker) Unmonitor(label Label) {
	q.mu.Lock()
	stop, ok := q.stopCh[label]
	if ok {
		delete(q.stopCh, label)
	}
	q.mu.Unlock()
	if ok {
		close(stop)
	}
}

// Stop halts all monitoring loops and waits for them to exit.
func (q *QualityTracker) Stop() {
	q.mu.Lock()
	stops := make([]chan struct{}, 0, len(q.stopCh))
	for label, stop := range q.stopCh {
		stops = append(stops, stop)
		delete(q.stopCh, label)
	}
	q.mu.Unlock()
	for _, stop := range stops {
		close(stop)
	}
	q.wg.Wait()
}

func (q *QualityTracker) run(label Label, nextHop string, stop chan struct{}) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.period)
	defer ticker.Stop()

	q.sample(label, nextHop)
	for {
		select {
		case <-ticker.C:
			q.sample(label, nextHop)
		case <-stop:
			return
		}
	}
}

func (q *QualityTracker) sample(label Label, nextHop string) {
	sample, err := q.prober.Probe(nextHop)
	if err != nil {
		sample = Quality{Loss: 100}
		if q.logger != nil {
			q.logger.Warn("fwabf link probe failed", "label", label, "nexthop", nextHop, "error", err)
		}
	}
	if err := q.links.SetQuality(label, sample); err != nil && q.logger != nil {
		q.logger.Debug("fwabf quality update skipped", "label", label, "error", err)
	}
}
