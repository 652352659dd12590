// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwabf

import (
	"fmt"

	"go.fwabf.dev/fwabf/internal/logging"
)

// Verdict is the datapath's decision for one packet: which DPO to hand it
// to next, and what drove that choice (for tracing).
type Verdict struct {
	DPO     DPO
	Outcome string // "applied", "fallback_fib", "fallback_drop", "acl_miss", "no_attachment"
}

// DatapathNode is C6: the per-family forwarding pipeline - FIB lookup, ACL
// classification, policy resolution, DPO emission - run once per packet
// (spec §4.5). One instance exists per address family; each owns no state
// of its own beyond its family, deferring everything else to C1-C5/C7/C8.
type DatapathNode struct {
	family AddressFamily

	routing      RoutingTable
	links        *LinkRegistry
	defaultRoute *DefaultRouteTracker
	attachments  *AttachmentTable
	policies     *PolicyRegistry
	counters     *Counters
	logger       *logging.Logger
}

// NewDatapathNode constructs the pipeline for one address family.
func NewDatapathNode(family AddressFamily, routing RoutingTable, links *LinkRegistry, defaultRoute *DefaultRouteTracker, attachments *AttachmentTable, policies *PolicyRegistry, counters *Counters, logger *logging.Logger) *DatapathNode {
	return &DatapathNode{
		family:       family,
		routing:      routing,
		links:        links,
		defaultRoute: defaultRoute,
		attachments:  attachments,
		policies:     policies,
		counters:     counters,
		logger:       logger,
	}
}

// Process runs the full pipeline for one packet arriving on swIfIndex with
// the given 5-tuple (spec §4.5):
//
//  1. FIB lookup on the destination address produces a load-balance
//     descriptor (lbd).
//  2. If the interface has no policy attachments, fwabf has nothing to do
//     with this packet: forward it using the FIB's own bucket selection.
//  3. Otherwise classify against the interface's ACL vector. No match:
//     same FIB fallback.
//  4. A match selects a policy; resolve it to a label per spec §4.3.
//     UseFIB falls back to the FIB's own bucket, Dropped emits a drop DPO,
//     otherwise the resolved DPO is used.
//
// Whether lbd already intersects a labeled or default-route adjacency is not
// checked up front: a policy matched at step 4 may have fallback=drop, in
// which case the packet must still be dropped even though its lbd contains
// nothing fwabf recognizes (spec §8 scenario 3, "priority over distance -
// policy drops"). IsDPOLabeledOrDefaultRoute is reserved for callers that
// need a cheap pre-classification hint, not for deciding whether to run the
// pipeline at all.
func (n *DatapathNode) Process(swIfIndex uint32, tuple FiveTuple) Verdict {
	lbd := n.routing.Lookup(n.family, tuple.DstIP)
	if nb := lbd.NBuckets(); nb == 0 || nb&(nb-1) != 0 {
		panic(fmt.Sprintf("fwabf: FIB lookup returned %d buckets, want a power of two > 0", nb))
	}

	if !n.attachments.Attached(swIfIndex, n.family) {
		return n.fallback(lbd, "no_attachment", swIfIndex, tuple)
	}

	policy, _, matched := n.attachments.Match(swIfIndex, n.family, tuple)
	if !matched {
		return n.fallback(lbd, "acl_miss", swIfIndex, tuple)
	}
	n.counters.RecordPolicyMatched(policy.PolicyID)

	isDefault := n.links.IsDPODefaultRoute(lbd, n.defaultRoute)
	res := n.policies.Resolve(policy, tuple, lbd, isDefault, n.family)

	switch {
	case res.UseFIB:
		n.counters.RecordPolicyFallback(policy.PolicyID)
		if isDefault {
			n.counters.RecordEnforcedMiss(LabelInvalid)
		} else {
			n.counters.RecordMiss(LabelInvalid)
		}
		return n.fallback(lbd, "fallback_fib", swIfIndex, tuple)
	case res.Dropped:
		n.counters.RecordPolicyDropped(policy.PolicyID)
		n.trace(swIfIndex, tuple, policy.PolicyID, LabelInvalid, "fallback_drop")
		return Verdict{DPO: res.DPO, Outcome: "fallback_drop"}
	default:
		n.counters.RecordPolicyApplied(policy.PolicyID)
		if isDefault {
			n.counters.RecordEnforcedHit(res.Label)
		} else {
			n.counters.RecordHit(res.Label)
		}
		n.trace(swIfIndex, tuple, policy.PolicyID, res.Label, "applied")
		return Verdict{DPO: res.DPO, Outcome: "applied"}
	}
}

// fallback forwards using the FIB's own ECMP bucket selection: the same
// flow hash used by policy resolution, masked to the descriptor's bucket
// count (always a power of two, spec §4.5).
func (n *DatapathNode) fallback(lbd LBD, outcome string, swIfIndex uint32, tuple FiveTuple) Verdict {
	nb := lbd.NBuckets()
	bucket := 0
	if nb > 1 {
		bucket = int(FlowHash(tuple)) & (nb - 1)
	}
	var dpo DPO
	if nb > 0 {
		dpo = lbd.Buckets[bucket].DPO
	} else {
		dpo = DPO{Type: DPODrop, NextNode: "error-drop"}
	}
	n.trace(swIfIndex, tuple, 0, LabelInvalid, outcome)
	return Verdict{DPO: dpo, Outcome: outcome}
}

func (n *DatapathNode) trace(swIfIndex uint32, tuple FiveTuple, policyID uint32, label Label, outcome string) {
	if n.counters == nil {
		return
	}
	n.counters.Trace(TraceRecord{
		Family:    n.family,
		SwIfIndex: swIfIndex,
		Tuple:     tuple,
		PolicyID:  policyID,
		Label:     label,
		Outcome:   outcome,
	})
}
