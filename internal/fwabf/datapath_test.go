// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwabf

import (
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEngine builds a fully wired Engine over fake collaborators. No route
// is installed; each test adds the routes (and, where needed, the default
// route entry) it relies on.
func testEngine(t *testing.T) (*Engine, *FakeRoutingTable, *FakeACL) {
	t.Helper()
	routing := NewFakeRoutingTable()
	acl := NewFakeACL()
	arc := NewFakeFeatureArc()
	prober := &StaticProber{Quality: Quality{Loss: 0}}
	e := New(nil, routing, acl, arc, prober, nil, nil)
	t.Cleanup(e.Stop)
	return e, routing, acl
}

func bringUpLink(t *testing.T, e *Engine, routing *FakeRoutingTable, swIfIndex uint32, label Label, adj AdjIndex) {
	t.Helper()
	require.NoError(t, e.Links.AddLink(swIfIndex, label, net.ParseIP("172.16.0.1"), AFInet4))
	link, ok := e.Links.Link(label)
	require.True(t, ok)
	routing.SetForwarding(link.pathList, DPO{Type: DPOAdjacency, Adj: adj, NextNode: "ip4-rewrite"})
}

func TestEngine_Process_NoAttachmentFallsBackToFIB(t *testing.T) {
	e, routing, _ := testEngine(t)
	_, network, _ := net.ParseCIDR("203.0.113.0/24")
	routing.AddRoute(AFInet4, network, LBD{Buckets: []Bucket{{DPO: DPO{Type: DPOAdjacency, Adj: 1, NextNode: "ip4-rewrite"}}}})

	verdict := e.Process(AFInet4, 1, FiveTuple{Family: AFInet4, Proto: 6, SrcIP: net.ParseIP("10.0.0.1"), DstIP: net.ParseIP("203.0.113.5"), SrcPort: 1, DstPort: 443})
	assert.Equal(t, "no_attachment", verdict.Outcome)
	assert.Equal(t, AdjIndex(1), verdict.DPO.Adj)
}

func TestEngine_Process_ACLMissFallsBackToFIB(t *testing.T) {
	e, routing, acl := testEngine(t)
	bringUpLink(t, e, routing, 10, 1, 1)

	require.NoError(t, e.Policies.Add(1, 50, PolicyAction{Fallback: FallbackDrop, Groups: []LinkGroup{{Labels: []Label{1}}}}))
	require.NoError(t, e.Attachments.Attach(2, AFInet4, 1, 10))
	acl.SetRules(50, nil) // no rules: never matches

	_, network, _ := net.ParseCIDR("10.0.0.0/8")
	routing.AddRoute(AFInet4, network, LBD{Buckets: []Bucket{{DPO: DPO{Type: DPOAdjacency, Adj: 1, NextNode: "ip4-rewrite"}}}})

	verdict := e.Process(AFInet4, 2, FiveTuple{Family: AFInet4, Proto: 6, SrcIP: net.ParseIP("10.0.0.1"), DstIP: net.ParseIP("10.0.0.2"), SrcPort: 1, DstPort: 443})
	assert.Equal(t, "acl_miss", verdict.Outcome)
}

func TestEngine_Process_PolicyAppliedOverridesFIBChoice(t *testing.T) {
	e, routing, acl := testEngine(t)
	bringUpLink(t, e, routing, 10, 1, 1) // FIB would pick this one
	bringUpLink(t, e, routing, 11, 2, 2) // policy picks this one instead

	require.NoError(t, e.Policies.Add(1, 50, PolicyAction{Fallback: FallbackDrop, Groups: []LinkGroup{{Labels: []Label{2}}}}))
	require.NoError(t, e.Attachments.Attach(5, AFInet4, 1, 10))
	acl.SetRules(50, []ACLRule{{Proto: 6, DstPortLo: 443, DstPortHi: 443, Permit: true}})

	_, network, _ := net.ParseCIDR("198.51.100.0/24")
	routing.AddRoute(AFInet4, network, LBD{Buckets: []Bucket{
		{DPO: DPO{Type: DPOAdjacency, Adj: 1, NextNode: "ip4-rewrite"}},
		{DPO: DPO{Type: DPOAdjacency, Adj: 2, NextNode: "ip4-rewrite"}},
	}})

	verdict := e.Process(AFInet4, 5, FiveTuple{Family: AFInet4, Proto: 6, SrcIP: net.ParseIP("10.0.0.1"), DstIP: net.ParseIP("198.51.100.5"), SrcPort: 1, DstPort: 443})
	require.Equal(t, "applied", verdict.Outcome)
	assert.Equal(t, AdjIndex(2), verdict.DPO.Adj)
}

// TestEngine_Process_DistanceOverPolicyFallsBackToFIB covers spec §8 scenario
// 2: a policy's labeled links aren't in the FIB's lbd for this destination
// (the FIB only ever yields its own shortest-path adjacency, spec §9), and
// the policy's fallback is default_route, so the packet is forwarded using
// the FIB's own choice rather than dropped.
func TestEngine_Process_DistanceOverPolicyFallsBackToFIB(t *testing.T) {
	e, routing, acl := testEngine(t)
	bringUpLink(t, e, routing, 10, 1, 1) // labeled link, never in the FIB's lbd below
	bringUpLink(t, e, routing, 11, 2, 2) // eth1-equivalent, what the FIB actually resolves to

	require.NoError(t, e.Policies.Add(1, 50, PolicyAction{Fallback: FallbackDefaultRoute, Groups: []LinkGroup{{Labels: []Label{1}}}}))
	require.NoError(t, e.Attachments.Attach(5, AFInet4, 1, 10))
	acl.SetRules(50, []ACLRule{{Proto: 6, Permit: true}})

	_, network, _ := net.ParseCIDR("192.168.5.0/24")
	routing.AddRoute(AFInet4, network, LBD{Buckets: []Bucket{{DPO: DPO{Type: DPOAdjacency, Adj: 2, NextNode: "ip4-rewrite"}}}})

	verdict := e.Process(AFInet4, 5, FiveTuple{Family: AFInet4, Proto: 6, SrcIP: net.ParseIP("10.0.0.1"), DstIP: net.ParseIP("192.168.5.10"), SrcPort: 1, DstPort: 443})
	require.Equal(t, "fallback_fib", verdict.Outcome)
	assert.Equal(t, AdjIndex(2), verdict.DPO.Adj)
}

// TestEngine_Process_DistanceOverPolicyDropsWhenFallbackIsDrop covers spec §8
// scenario 3: same setup as scenario 2, but the policy's fallback is drop.
// The packet must still reach ACL matching and policy resolution - it is not
// enough that the FIB's lbd never intersected the policy's labeled link - and
// come out as a counted policy drop, not a silent FIB forward.
func TestEngine_Process_DistanceOverPolicyDropsWhenFallbackIsDrop(t *testing.T) {
	e, routing, acl := testEngine(t)
	bringUpLink(t, e, routing, 10, 1, 1) // labeled link, never in the FIB's lbd below

	require.NoError(t, e.Policies.Add(1, 50, PolicyAction{Fallback: FallbackDrop, Groups: []LinkGroup{{Labels: []Label{1}}}}))
	require.NoError(t, e.Attachments.Attach(5, AFInet4, 1, 10))
	acl.SetRules(50, []ACLRule{{Proto: 6, Permit: true}})

	_, network, _ := net.ParseCIDR("192.168.5.0/24")
	routing.AddRoute(AFInet4, network, LBD{Buckets: []Bucket{{DPO: DPO{Type: DPOAdjacency, Adj: 9, NextNode: "ip4-rewrite"}}}})

	before := testutil.ToFloat64(e.Counters.policyDropped.WithLabelValues(policyStr(1)))

	verdict := e.Process(AFInet4, 5, FiveTuple{Family: AFInet4, Proto: 6, SrcIP: net.ParseIP("10.0.0.1"), DstIP: net.ParseIP("192.168.5.10"), SrcPort: 1, DstPort: 443})
	require.Equal(t, "fallback_drop", verdict.Outcome)
	assert.Equal(t, DPODrop, verdict.DPO.Type)

	after := testutil.ToFloat64(e.Counters.policyDropped.WithLabelValues(policyStr(1)))
	assert.Equal(t, before+1, after)
}

func TestEngine_Process_DefaultRouteOverrideSteersDefaultTraffic(t *testing.T) {
	e, routing, acl := testEngine(t)

	// Install the default-route pathlist, with its forwarding state already
	// resolved, before the first link is added: AddLink's first-link hook
	// fires DefaultRoute.Init exactly once, seeding from whatever the
	// collaborator reports at that moment (spec §4.1, §4.2).
	defaultPL, err := routing.CreatePathList(SharedPath, RPath{NextHop: net.ParseIP("0.0.0.0"), SwIfIndex: 0, Family: AFInet4})
	require.NoError(t, err)
	routing.SetDefaultRouteEntry(AFInet4, defaultPL)
	routing.SetForwarding(defaultPL, DPO{Type: DPOAdjacency, Adj: 999, NextNode: "ip4-rewrite"})

	bringUpLink(t, e, routing, 10, 3, 3)

	require.NoError(t, e.Policies.Add(1, 50, PolicyAction{Fallback: FallbackDrop, Groups: []LinkGroup{{Labels: []Label{9}}}}))
	require.NoError(t, e.Attachments.Attach(5, AFInet4, 1, 10))
	acl.SetRules(50, []ACLRule{{Proto: 6, Permit: true}})
	require.NoError(t, e.Policies.SetDefaultAction(PolicyAction{Fallback: FallbackDrop, Groups: []LinkGroup{{Labels: []Label{3}}}}))

	_, network, _ := net.ParseCIDR("0.0.0.0/0")
	routing.AddRoute(AFInet4, network, LBD{Buckets: []Bucket{{DPO: DPO{Type: DPOAdjacency, Adj: 999, NextNode: "ip4-rewrite"}}}})

	verdict := e.Process(AFInet4, 5, FiveTuple{Family: AFInet4, Proto: 6, SrcIP: net.ParseIP("10.0.0.1"), DstIP: net.ParseIP("8.8.8.8"), SrcPort: 1, DstPort: 443})
	require.Equal(t, "applied", verdict.Outcome)
	assert.Equal(t, AdjIndex(3), verdict.DPO.Adj)
}
