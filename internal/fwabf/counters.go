// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwabf

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Counters is C8: the engine's per-label hit/miss counters and a bounded
// decision trace, exported both as Prometheus metrics and as an in-memory
// ring buffer for `show fwabf trace` (spec §4.6, §7).
//
// Four per-label counters are kept, matching the source's distinction
// between an intersection query that was *attempted* against a reachable
// candidate (hit/miss) and one where enforcement (policy overriding the
// FIB's own choice) actually changed the outcome (enforced_hit/enforced_miss,
// spec §4.5's "intent was enforced" semantics).
type Counters struct {
	hits           *prometheus.CounterVec
	misses         *prometheus.CounterVec
	enforcedHits   *prometheus.CounterVec
	enforcedMisses *prometheus.CounterVec

	policyMatched *prometheus.CounterVec
	policyApplied *prometheus.CounterVec
	policyFallback *prometheus.CounterVec
	policyDropped *prometheus.CounterVec

	mu    sync.Mutex
	trace []TraceRecord
	cap   int
}

// TraceRecord is one entry of the decision trace kept for diagnostics: each
// carries a unique id so a `show fwabf trace` session can be correlated
// with a specific packet even across concurrent worker threads.
type TraceRecord struct {
	ID        string
	At        time.Time
	Family    AddressFamily
	SwIfIndex uint32
	Tuple     FiveTuple
	PolicyID  uint32
	Label     Label
	Outcome   string // "applied", "fallback_fib", "fallback_drop", "acl_miss", "no_attachment"
}

// NewCounters constructs the counter set and registers it with reg. traceCap
// bounds the in-memory trace ring buffer (0 disables tracing).
func NewCounters(reg prometheus.Registerer, traceCap int) *Counters {
	c := &Counters{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fwabf_link_hits_total",
			Help: "Packets whose FIB lookup intersected a reachable labeled link.",
		}, []string{"label"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fwabf_link_misses_total",
			Help: "Policy label lookups that found no intersecting reachable adjacency.",
		}, []string{"label"}),
		enforcedHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fwabf_link_enforced_hits_total",
			Help: "Packets forwarded on a label chosen by policy against the FIB's own choice.",
		}, []string{"label"}),
		enforcedMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fwabf_link_enforced_misses_total",
			Help: "Policy enforcement attempts that fell back to the FIB's own choice.",
		}, []string{"label"}),
		policyMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fwabf_policy_matched_total",
			Help: "Packets whose ACL vector matched this policy.",
		}, []string{"policy_id"}),
		policyApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fwabf_policy_applied_total",
			Help: "Packets forwarded using a label selected by this policy's action.",
		}, []string{"policy_id"}),
		policyFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fwabf_policy_fallback_total",
			Help: "Packets that fell back to the FIB's own route after this policy matched.",
		}, []string{"policy_id"}),
		policyDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fwabf_policy_dropped_total",
			Help: "Packets dropped because this policy's fallback is drop.",
		}, []string{"policy_id"}),
		cap: traceCap,
	}
	if reg != nil {
		reg.MustRegister(c.hits, c.misses, c.enforcedHits, c.enforcedMisses,
			c.policyMatched, c.policyApplied, c.policyFallback, c.policyDropped)
	}
	return c
}

func labelStr(l Label) string {
	if l == LabelInvalid {
		return "none"
	}
	return strconv.FormatUint(uint64(l), 10)
}

func policyStr(id uint32) string { return strconv.FormatUint(uint64(id), 10) }

// RecordHit/RecordMiss track a plain intersection query outcome for label.
func (c *Counters) RecordHit(label Label)  { c.hits.WithLabelValues(labelStr(label)).Inc() }
func (c *Counters) RecordMiss(label Label) { c.misses.WithLabelValues(labelStr(label)).Inc() }

// RecordEnforcedHit/RecordEnforcedMiss track whether policy's chosen label
// differed from (and overrode, or failed to override) the FIB's own choice.
func (c *Counters) RecordEnforcedHit(label Label)  { c.enforcedHits.WithLabelValues(labelStr(label)).Inc() }
func (c *Counters) RecordEnforcedMiss(label Label) { c.enforcedMisses.WithLabelValues(labelStr(label)).Inc() }

// RecordPolicyMatched/Applied/Fallback/Dropped track per-policy outcomes.
func (c *Counters) RecordPolicyMatched(policyID uint32)  { c.policyMatched.WithLabelValues(policyStr(policyID)).Inc() }
func (c *Counters) RecordPolicyApplied(policyID uint32)  { c.policyApplied.WithLabelValues(policyStr(policyID)).Inc() }
func (c *Counters) RecordPolicyFallback(policyID uint32) { c.policyFallback.WithLabelValues(policyStr(policyID)).Inc() }
func (c *Counters) RecordPolicyDropped(policyID uint32)  { c.policyDropped.WithLabelValues(policyStr(policyID)).Inc() }

// Trace appends a decision record to the ring buffer, dropping the oldest
// entry once cap is reached. A no-op if tracing is disabled (cap == 0).
func (c *Counters) Trace(rec TraceRecord) {
	if c.cap <= 0 {
		return
	}
	rec.ID = uuid.New().String()
	rec.At = time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.trace = append(c.trace, rec)
	if len(c.trace) > c.cap {
		c.trace = c.trace[len(c.trace)-c.cap:]
	}
}

// RecentTrace returns a snapshot of the current trace buffer, oldest first.
func (c *Counters) RecentTrace() []TraceRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TraceRecord, len(c.trace))
	copy(out, c.trace)
	return out
}
