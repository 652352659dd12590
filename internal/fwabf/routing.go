// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwabf

import (
	"fmt"
	"net"
	"sort"
	"sync"
)

// This file specifies the contract the engine requires from the
// routing-table ("FIB") collaborator (spec §6). The real longest-prefix-match
// trie, mtrie/radix structures, and multipath ECMP machinery are explicitly
// out of scope (spec §1) - they belong to a separate, general routing-table
// package this engine only consumes. FakeRoutingTable below is a minimal,
// in-memory stand-in that satisfies the contract well enough to drive and
// test the datapath (C6) without that collaborator.

// PathListID identifies a pathlist registered with the routing-table
// collaborator.
type PathListID uint32

// SiblingID is the handle a FIB child receives back from AddChild; it is
// presented to RemoveChild and has no other meaning to the child.
type SiblingID uint32

// PathFlags configures a registered pathlist.
type PathFlags uint8

// SharedPath marks a pathlist as reference-counted and shareable across
// callers that resolve to the same next-hop.
const SharedPath PathFlags = 1 << 0

// RPath is a single resolved path: the next-hop and the interface it is
// reached over.
type RPath struct {
	NextHop    net.IP
	SwIfIndex  uint32
	Family     AddressFamily
}

// FibChild is implemented by anything that registers with a pathlist to
// receive back-walk notifications when that pathlist's forwarding state
// changes (link registry links, the default-route tracker). It is the Go
// expression of the source's FibChild v-table (spec §9): the child holds a
// SiblingID handle, the parent holds child-type + child-index; neither owns
// the other.
type FibChild interface {
	// BackWalk is invoked synchronously, on the control-plane thread, when
	// forwarding for the pathlist this child is registered against changes.
	BackWalk(pl PathListID)
}

// RoutingTable is the contract the engine consumes from the routing-table
// collaborator.
type RoutingTable interface {
	// Lookup performs the longest-prefix-match FIB lookup for dst and
	// returns a load-balance descriptor. It always returns a descriptor with
	// at least one bucket (the FIB guarantees a default drop entry) -
	// callers assert NBuckets() > 0.
	Lookup(family AddressFamily, dst net.IP) LBD

	// CreatePathList registers a pathlist for rpath and returns its id.
	CreatePathList(flags PathFlags, rpath RPath) (PathListID, error)

	// ContributeForwarding resolves the current DPO a pathlist forwards
	// through.
	ContributeForwarding(pl PathListID) (DPO, error)

	// AddChild subscribes child to back-walk notifications for pl.
	AddChild(pl PathListID, child FibChild) (SiblingID, error)

	// RemoveChild unsubscribes a previously added child.
	RemoveChild(pl PathListID, sibling SiblingID)

	// ReleasePathList drops the caller's reference to pl. The routing-table
	// collaborator destroys the pathlist when its last reference is gone.
	ReleasePathList(pl PathListID)

	// DefaultRouteEntry returns the pathlist backing the 0.0.0.0/0 or ::/0
	// FIB entry for family, used by the default-route tracker (C3).
	DefaultRouteEntry(family AddressFamily) PathListID
}

// FakeRoutingTable is an in-memory RoutingTable used by tests and the
// cmd/fwabf-sim demo. It implements a simple longest-prefix-match lookup
// over explicitly registered routes rather than a real mtrie/radix
// structure - that structure is the out-of-scope FIB collaborator's job.
type FakeRoutingTable struct {
	mu sync.Mutex

	nextPL  PathListID
	nextSib SiblingID

	pathlists map[PathListID]*fakePathList
	routes4   []fakeRoute
	routes6   []fakeRoute

	defaultPL4 PathListID
	defaultPL6 PathListID
}

type fakePathList struct {
	rpath    RPath
	dpo      DPO
	refs     int
	children map[SiblingID]FibChild
}

type fakeRoute struct {
	network *net.IPNet
	lbd     LBD
}

// NewFakeRoutingTable returns an empty fake FIB. Callers must still call
// AddRoute for 0.0.0.0/0 and/or ::/0 to give default-route resolution
// somewhere to land; until then Lookup returns a single drop bucket, which
// is the FIB's own guaranteed drop entry (spec §4.5, §7).
func NewFakeRoutingTable() *FakeRoutingTable {
	return &FakeRoutingTable{
		pathlists: make(map[PathListID]*fakePathList),
	}
}

// AddRoute installs (or replaces) the route to network, resolving to lbd.
func (f *FakeRoutingTable) AddRoute(family AddressFamily, network *net.IPNet, lbd LBD) {
	f.mu.Lock()
	defer f.mu.Unlock()
	route := fakeRoute{network: network, lbd: lbd}
	if family == AFInet6 {
		f.routes6 = appendOrReplace(f.routes6, route)
	} else {
		f.routes4 = appendOrReplace(f.routes4, route)
	}
}

func appendOrReplace(routes []fakeRoute, route fakeRoute) []fakeRoute {
	for i, r := range routes {
		if r.network.String() == route.network.String() {
			routes[i] = route
			return routes
		}
	}
	routes = append(routes, route)
	sort.Slice(routes, func(i, j int) bool {
		li, _ := routes[i].network.Mask.Size()
		lj, _ := routes[j].network.Mask.Size()
		return li > lj // longest prefix first
	})
	return routes
}

// Lookup implements RoutingTable.
func (f *FakeRoutingTable) Lookup(family AddressFamily, dst net.IP) LBD {
	f.mu.Lock()
	defer f.mu.Unlock()
	routes := f.routes4
	if family == AFInet6 {
		routes = f.routes6
	}
	for _, r := range routes {
		if r.network.Contains(dst) {
			return r.lbd
		}
	}
	return LBD{Buckets: []Bucket{{DPO: DPO{Type: DPODrop, NextNode: "error-drop"}}}}
}

// CreatePathList implements RoutingTable.
func (f *FakeRoutingTable) CreatePathList(flags PathFlags, rpath RPath) (PathListID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPL++
	id := f.nextPL
	f.pathlists[id] = &fakePathList{
		rpath:    rpath,
		dpo:      DPO{Type: DPOAdjacencyIncomplete},
		refs:     1,
		children: make(map[SiblingID]FibChild),
	}
	return id, nil
}

// ContributeForwarding implements RoutingTable.
func (f *FakeRoutingTable) ContributeForwarding(pl PathListID) (DPO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pathlists[pl]
	if !ok {
		return DPO{}, fmt.Errorf("fwabf: unknown pathlist %d", pl)
	}
	return p.dpo, nil
}

// AddChild implements RoutingTable.
func (f *FakeRoutingTable) AddChild(pl PathListID, child FibChild) (SiblingID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pathlists[pl]
	if !ok {
		return 0, fmt.Errorf("fwabf: unknown pathlist %d", pl)
	}
	f.nextSib++
	sib := f.nextSib
	p.children[sib] = child
	return sib, nil
}

// RemoveChild implements RoutingTable.
func (f *FakeRoutingTable) RemoveChild(pl PathListID, sibling SiblingID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.pathlists[pl]; ok {
		delete(p.children, sibling)
	}
}

// ReleasePathList implements RoutingTable.
func (f *FakeRoutingTable) ReleasePathList(pl PathListID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.pathlists[pl]; ok {
		p.refs--
		if p.refs <= 0 {
			delete(f.pathlists, pl)
		}
	}
}

// DefaultRouteEntry implements RoutingTable.
func (f *FakeRoutingTable) DefaultRouteEntry(family AddressFamily) PathListID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if family == AFInet6 {
		return f.defaultPL6
	}
	return f.defaultPL4
}

// SetDefaultRouteEntry lets test scaffolding designate which pathlist backs
// the default route, matching a real FIB's 0.0.0.0/0 / ::/0 entry.
func (f *FakeRoutingTable) SetDefaultRouteEntry(family AddressFamily, pl PathListID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if family == AFInet6 {
		f.defaultPL6 = pl
	} else {
		f.defaultPL4 = pl
	}
}

// SetForwarding updates the DPO a pathlist resolves to and synchronously
// notifies every subscribed FibChild - the fake's equivalent of a real FIB
// completing a back-walk (spec §5: "Back-walk notifications deliver eventual
// consistency... after the walk completes, all readers observe the new
// DPO", which on a single control-plane thread happens inline).
func (f *FakeRoutingTable) SetForwarding(pl PathListID, dpo DPO) {
	f.mu.Lock()
	p, ok := f.pathlists[pl]
	if !ok {
		f.mu.Unlock()
		return
	}
	p.dpo = dpo
	children := make([]FibChild, 0, len(p.children))
	for _, c := range p.children {
		children = append(children, c)
	}
	f.mu.Unlock()

	for _, c := range children {
		c.BackWalk(pl)
	}
}
