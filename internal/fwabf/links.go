// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwabf

import (
	"net"
	"sync"
	"sync/atomic"

	"go.fwabf.dev/fwabf/internal/logging"
)

// Link is one egress interface usable by a policy (spec §3, "Link
// (fwabf_link)"). Exactly one label and exactly one address family per
// link; nexthop is never mixed address family.
type Link struct {
	SwIfIndex uint32
	Label     Label
	Family    AddressFamily
	NextHop   net.IP

	pathList PathListID
	sibling  SiblingID
	dpo      DPO
	quality  Quality

	valid bool
}

// DPO returns the link's currently cached forwarding descriptor.
func (l *Link) DPO() DPO { return l.dpo }

// Quality returns the link's last-sampled quality.
func (l *Link) Quality() Quality { return l.quality }

// Reachable reports whether the link can currently be used for forwarding:
// its cached DPO resolves to a real adjacency (not incomplete, not a
// midchain that hasn't converged) and its measured loss has not reached
// 100% (spec §3 invariants, §4.1).
func (l *Link) Reachable() bool {
	return l.valid && l.dpo.IsValid() && !l.quality.IsDown()
}

// LinkRegistry is C2: the label→link table plus the two adjacency indexes
// (adj→label, adj→reachable_label) that let the datapath perform
// intersection and default-route classification in O(1) without branching
// on liveness state (spec §4.1).
//
// links is indexed directly by Label (0..254), mirroring the source's
// fwabf_sw_interface_db, which is itself indexed by label rather than by a
// separately allocated pool slot - "for now we permit only one interface per
// label" (spec §9's preserved 1:1 constraint).
type LinkRegistry struct {
	mu               sync.Mutex
	links            [255]*Link
	swIfIndexToLabel map[uint32]Label

	// adjLabel and adjReachableLabel are read lock-free by the datapath
	// (spec §5): they are written only here, on the control-plane thread
	// (including from back-walk callbacks), with atomic stores. A reader may
	// observe the old or the new value but never a torn one, because each
	// entry is a single machine word.
	adjLabel           []atomic.Uint32
	adjReachableLabel  []atomic.Uint32

	routing RoutingTable
	logger  *logging.Logger

	counters *Counters

	// onFirstLink is invoked the first time a link is added for a given
	// family (spec §4.1: "On first link addition (v4 or v6), calls
	// default_route_init()"). Wired by the Engine at construction time.
	onFirstLink func(AddressFamily)
	seenFamily  [3]bool // indexed by AddressFamily
}

// NewLinkRegistry constructs an empty registry.
func NewLinkRegistry(routing RoutingTable, counters *Counters, logger *logging.Logger) *LinkRegistry {
	r := &LinkRegistry{
		swIfIndexToLabel:  make(map[uint32]Label),
		adjLabel:          make([]atomic.Uint32, MaxAdjacencyIndex),
		adjReachableLabel: make([]atomic.Uint32, MaxAdjacencyIndex),
		routing:           routing,
		counters:          counters,
		logger:            logger,
	}
	for i := range r.adjLabel {
		r.adjLabel[i].Store(uint32(LabelInvalid))
		r.adjReachableLabel[i].Store(uint32(LabelInvalid))
	}
	return r
}

// SetOnFirstLink installs the callback invoked on first link addition for a
// family.
func (r *LinkRegistry) SetOnFirstLink(f func(AddressFamily)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFirstLink = f
}

// AddLink registers a new egress link (spec §4.1).
func (r *LinkRegistry) AddLink(swIfIndex uint32, label Label, nextHop net.IP, family AddressFamily) error {
	if label >= LabelInvalid {
		return ErrInvalidLabel
	}

	r.mu.Lock()

	if r.links[label] != nil && r.links[label].valid {
		r.mu.Unlock()
		return ErrLinkExists
	}
	if existing, ok := r.swIfIndexToLabel[swIfIndex]; ok && r.links[existing] != nil && r.links[existing].valid {
		r.mu.Unlock()
		return ErrLinkExists
	}

	pl, err := r.routing.CreatePathList(SharedPath, RPath{NextHop: nextHop, SwIfIndex: swIfIndex, Family: family})
	if err != nil {
		r.mu.Unlock()
		return err
	}

	link := &Link{
		SwIfIndex: swIfIndex,
		Label:     label,
		Family:    family,
		NextHop:   nextHop,
		pathList:  pl,
		valid:     true,
	}

	sib, err := r.routing.AddChild(pl, &linkFibChild{registry: r, label: label})
	if err != nil {
		r.mu.Unlock()
		return err
	}
	link.sibling = sib

	dpo, _ := r.routing.ContributeForwarding(pl)
	link.dpo = dpo

	r.links[label] = link
	r.swIfIndexToLabel[swIfIndex] = label
	r.publishIndexesLocked(link)

	first := !r.seenFamily[family]
	r.seenFamily[family] = true
	onFirst := r.onFirstLink
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Info("fwabf link added", "sw_if_index", swIfIndex, "label", label, "family", family.String(), "nexthop", nextHop.String())
	}
	if first && onFirst != nil {
		onFirst(family)
	}
	return nil
}

// DeleteLink removes a link. Per spec §4.1 and §5, the link is invalidated
// synchronously before its pathlist/DPO resources are released, so the
// datapath can never observe a stale link: a reader that sees the
// label-is-gone state never dereferences freed state.
func (r *LinkRegistry) DeleteLink(swIfIndex uint32) error {
	r.mu.Lock()
	label, ok := r.swIfIndexToLabel[swIfIndex]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	link := r.links[label]
	if link == nil || !link.valid {
		r.mu.Unlock()
		return nil
	}

	// Invalidate first.
	link.valid = false
	delete(r.swIfIndexToLabel, swIfIndex)
	r.clearIndexesLocked(link)
	r.links[label] = nil
	r.mu.Unlock()

	r.routing.RemoveChild(link.pathList, link.sibling)
	r.routing.ReleasePathList(link.pathList)

	if r.logger != nil {
		r.logger.Info("fwabf link deleted", "sw_if_index", swIfIndex, "label", label)
	}
	return nil
}

// publishIndexesLocked updates adj→label and, if the link is reachable,
// adj→reachable_label. Per spec §5(iii), the reachable entry is written
// *after* the DPO is in place (it already is, on link), so a reader that
// observes the reachable label also observes a valid DPO.
func (r *LinkRegistry) publishIndexesLocked(l *Link) {
	if l.dpo.Adj == AdjIndexInvalid || uint32(l.dpo.Adj) >= MaxAdjacencyIndex {
		return
	}
	r.adjLabel[l.dpo.Adj].Store(uint32(l.Label))
	if l.Reachable() {
		r.adjReachableLabel[l.dpo.Adj].Store(uint32(l.Label))
	} else {
		r.adjReachableLabel[l.dpo.Adj].Store(uint32(LabelInvalid))
	}
}

func (r *LinkRegistry) clearIndexesLocked(l *Link) {
	if l.dpo.Adj == AdjIndexInvalid || uint32(l.dpo.Adj) >= MaxAdjacencyIndex {
		return
	}
	r.adjLabel[l.dpo.Adj].Store(uint32(LabelInvalid))
	r.adjReachableLabel[l.dpo.Adj].Store(uint32(LabelInvalid))
}

// linkFibChild adapts a label's back-walk subscription to the FibChild
// contract without the Link itself needing to know about the registry -
// "the child holds a sibling-id handle, the parent holds child-type +
// child-index; neither owns the other" (spec §9).
type linkFibChild struct {
	registry *LinkRegistry
	label    Label
}

func (c *linkFibChild) BackWalk(pl PathListID) {
	c.registry.backWalk(c.label, pl)
}

// backWalk re-reads a link's DPO from the routing-table collaborator and
// refreshes the adjacency indexes. It is idempotent: applying the same
// notification twice leaves the indexes exactly as applying it once would
// (spec §8, "Idempotence of back-walk") because it always recomputes from
// current state rather than toggling.
func (r *LinkRegistry) backWalk(label Label, pl PathListID) {
	r.mu.Lock()
	link := r.links[label]
	if link == nil || !link.valid || link.pathList != pl {
		r.mu.Unlock()
		return
	}

	oldAdj := link.dpo.Adj
	dpo, err := r.routing.ContributeForwarding(pl)
	if err != nil {
		r.mu.Unlock()
		return
	}
	link.dpo = dpo

	if oldAdj != dpo.Adj {
		if oldAdj != AdjIndexInvalid && uint32(oldAdj) < MaxAdjacencyIndex {
			r.adjLabel[oldAdj].Store(uint32(LabelInvalid))
			r.adjReachableLabel[oldAdj].Store(uint32(LabelInvalid))
		}
	}
	r.publishIndexesLocked(link)
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Debug("fwabf link back-walk", "label", label, "adj", dpo.Adj, "reachable", link.Reachable())
	}
}

// SetQuality updates a link's quality sample and, since loss==100 flips the
// soft up/down indicator (spec §3, §7), refreshes adj→reachable_label to
// match.
func (r *LinkRegistry) SetQuality(label Label, q Quality) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	link := r.links[label]
	if link == nil || !link.valid {
		return ErrLinkNotFound
	}
	link.quality = q
	r.publishIndexesLocked(link)
	return nil
}

// GetDPO is the intersection query (spec §4.1): returns a DPO if and only
// if some bucket of lbd resolves to an adjacency whose *reachable* label
// equals label. Buckets are scanned in order and the first match wins -
// the source's behavior is preserved verbatim here per spec §9's open
// question ("preserve first-match in bucket order").
func (r *LinkRegistry) GetDPO(label Label, lbd LBD, family AddressFamily) DPO {
	if label == LabelInvalid {
		return DPO{}
	}
	for _, b := range lbd.Buckets {
		if b.DPO.Adj == AdjIndexInvalid || uint32(b.DPO.Adj) >= MaxAdjacencyIndex {
			continue
		}
		if Label(r.adjReachableLabel[b.DPO.Adj].Load()) == label {
			r.mu.Lock()
			link := r.links[label]
			var dpo DPO
			if link != nil {
				dpo = link.dpo
			}
			r.mu.Unlock()
			return dpo
		}
	}
	return DPO{}
}

// GetLabeledDPO is the unconditional query (spec §4.1): returns the cached
// DPO of the link with label if that link is reachable, regardless of what
// the FIB lookup resolved to. Used for default-route override (spec §4.3,
// §8).
func (r *LinkRegistry) GetLabeledDPO(label Label) DPO {
	if label == LabelInvalid {
		return DPO{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	link := r.links[label]
	if link == nil || !link.Reachable() {
		return DPO{}
	}
	return link.dpo
}

// IsDPODefaultRoute scans lbd's buckets against adj→is_default (owned by
// the DefaultRouteTracker) the same way GetDPO scans adj→reachable_label.
func (r *LinkRegistry) IsDPODefaultRoute(lbd LBD, dt *DefaultRouteTracker) bool {
	for _, b := range lbd.Buckets {
		if dt.isDefaultAdj(b.DPO.Adj) {
			return true
		}
	}
	return false
}

// IsDPOLabeledOrDefaultRoute scans lbd's buckets against adj→label (any
// labeled link, reachable or not) or adj→is_default.
func (r *LinkRegistry) IsDPOLabeledOrDefaultRoute(lbd LBD, dt *DefaultRouteTracker) bool {
	for _, b := range lbd.Buckets {
		if b.DPO.Adj != AdjIndexInvalid && uint32(b.DPO.Adj) < MaxAdjacencyIndex {
			if Label(r.adjLabel[b.DPO.Adj].Load()) != LabelInvalid {
				return true
			}
		}
		if dt.isDefaultAdj(b.DPO.Adj) {
			return true
		}
	}
	return false
}

// Link returns a snapshot of the link with the given label, for
// introspection (`show fwabf link`).
func (r *LinkRegistry) Link(label Label) (Link, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.links[label]
	if l == nil || !l.valid {
		return Link{}, false
	}
	return *l, true
}

// ListLinks returns a snapshot of every live link, for `show fwabf link`.
func (r *LinkRegistry) ListLinks() []Link {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Link, 0)
	for _, l := range r.links {
		if l != nil && l.valid {
			out = append(out, *l)
		}
	}
	return out
}
