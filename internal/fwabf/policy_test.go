// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwabf

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.fwabf.dev/fwabf/internal/logging"
)

func newTestPolicyFixture(t *testing.T) (*PolicyRegistry, *LinkRegistry, *FakeRoutingTable) {
	t.Helper()
	routing := NewFakeRoutingTable()
	counters := NewCounters(nil, 0)
	logger := logging.New(logging.DefaultConfig())
	links := NewLinkRegistry(routing, counters, logger)
	return NewPolicyRegistry(links, logger), links, routing
}

func someTuple() FiveTuple {
	return FiveTuple{Proto: 6, SrcIP: net.ParseIP("10.0.0.1"), DstIP: net.ParseIP("10.0.0.2"), SrcPort: 1234, DstPort: 443}
}

func TestPolicyRegistry_Add_RejectsEmptyAction(t *testing.T) {
	policies, _, _ := newTestPolicyFixture(t)
	err := policies.Add(1, 10, PolicyAction{})
	assert.ErrorIs(t, err, ErrEmptyAction)
}

func TestPolicyRegistry_Add_RejectsEmptyGroup(t *testing.T) {
	policies, _, _ := newTestPolicyFixture(t)
	err := policies.Add(1, 10, PolicyAction{Groups: []LinkGroup{{Labels: nil}}})
	assert.ErrorIs(t, err, ErrEmptyGroup)
}

func TestPolicyRegistry_Add_RejectsDuplicateID(t *testing.T) {
	policies, _, _ := newTestPolicyFixture(t)
	action := PolicyAction{Groups: []LinkGroup{{Labels: []Label{1}}}}
	require.NoError(t, policies.Add(1, 10, action))
	err := policies.Add(1, 11, action)
	assert.ErrorIs(t, err, ErrPolicyExists)
}

func TestPolicyRegistry_Delete_RefusesWhileAttached(t *testing.T) {
	policies, _, _ := newTestPolicyFixture(t)
	action := PolicyAction{Groups: []LinkGroup{{Labels: []Label{1}}}}
	require.NoError(t, policies.Add(1, 10, action))
	policies.IncRef(1)

	err := policies.Delete(1)
	assert.ErrorIs(t, err, ErrPolicyInUse)

	policies.DecRef(1)
	assert.NoError(t, policies.Delete(1))
}

func TestPolicyRegistry_Resolve_OrderedGroupFallsThroughToNextReachableLabel(t *testing.T) {
	policies, links, routing := newTestPolicyFixture(t)
	upLink(t, links, routing, 1, 1, 1) // label 1 is resolved, then taken down by 100% loss below
	links.SetQuality(1, Quality{Loss: 100})
	upLink(t, links, routing, 2, 2, 2)

	action := PolicyAction{
		GroupAlg: SelectOrdered,
		Fallback: FallbackDrop,
		Groups:   []LinkGroup{{Alg: SelectOrdered, Labels: []Label{1, 2}}},
	}
	require.NoError(t, policies.Add(1, 10, action))
	p, _ := policies.Find(1)

	lbd := LBD{Buckets: []Bucket{{DPO: DPO{Type: DPOAdjacency, Adj: 1}}, {DPO: DPO{Type: DPOAdjacency, Adj: 2}}}}
	res := policies.Resolve(p, someTuple(), lbd, false, AFInet4)

	assert.False(t, res.UseFIB)
	assert.False(t, res.Dropped)
	assert.Equal(t, Label(2), res.Label)
}

func TestPolicyRegistry_Resolve_FallbackToDefaultRouteWhenNothingResolves(t *testing.T) {
	policies, links, _ := newTestPolicyFixture(t)
	_ = links

	action := PolicyAction{
		Fallback: FallbackDefaultRoute,
		Groups:   []LinkGroup{{Labels: []Label{9}}}, // label 9 was never added; never resolves
	}
	require.NoError(t, policies.Add(1, 10, action))
	p, _ := policies.Find(1)

	lbd := LBD{Buckets: []Bucket{{DPO: DPO{Type: DPOAdjacency, Adj: 99}}}}
	res := policies.Resolve(p, someTuple(), lbd, false, AFInet4)

	assert.True(t, res.UseFIB)
	assert.False(t, res.Dropped)
	assert.Equal(t, LabelInvalid, res.Label)
}

func TestPolicyRegistry_Resolve_FallbackDropWhenConfigured(t *testing.T) {
	policies, _, _ := newTestPolicyFixture(t)

	action := PolicyAction{
		Fallback: FallbackDrop,
		Groups:   []LinkGroup{{Labels: []Label{9}}},
	}
	require.NoError(t, policies.Add(1, 10, action))
	p, _ := policies.Find(1)

	res := policies.Resolve(p, someTuple(), LBD{Buckets: []Bucket{{DPO: DPO{Type: DPODrop}}}}, false, AFInet4)

	assert.False(t, res.UseFIB)
	assert.True(t, res.Dropped)
	assert.Equal(t, DPODrop, res.DPO.Type)
}

func TestPolicyRegistry_Resolve_DefaultRouteOverrideAppliesOnlyWhenDefault(t *testing.T) {
	policies, links, routing := newTestPolicyFixture(t)
	upLink(t, links, routing, 1, 7, 7)

	regular := PolicyAction{Fallback: FallbackDrop, Groups: []LinkGroup{{Labels: []Label{9}}}}
	require.NoError(t, policies.Add(1, 10, regular))
	p, _ := policies.Find(1)

	override := PolicyAction{Fallback: FallbackDrop, Groups: []LinkGroup{{Labels: []Label{7}}}}
	require.NoError(t, policies.SetDefaultAction(override))

	// isDefault=false: the policy's own (unsatisfiable) action applies, so it drops.
	res := policies.Resolve(p, someTuple(), LBD{}, false, AFInet4)
	assert.True(t, res.Dropped)

	// isDefault=true: the default-route override applies instead and resolves via label 7.
	res = policies.Resolve(p, someTuple(), LBD{}, true, AFInet4)
	assert.False(t, res.Dropped)
	assert.Equal(t, Label(7), res.Label)

	policies.ClearDefaultAction()
	res = policies.Resolve(p, someTuple(), LBD{}, true, AFInet4)
	assert.True(t, res.Dropped)
}

func TestPolicyRegistry_Resolve_RandomGroupSelectionIsFlowSticky(t *testing.T) {
	policies, links, routing := newTestPolicyFixture(t)
	for i := Label(1); i <= 4; i++ {
		upLink(t, links, routing, uint32(i), i, AdjIndex(i))
	}

	action := PolicyAction{
		GroupAlg: SelectRandom,
		Fallback: FallbackDrop,
		Groups: []LinkGroup{
			{Alg: SelectOrdered, Labels: []Label{1, 2}},
			{Alg: SelectOrdered, Labels: []Label{3, 4}},
		},
	}
	require.NoError(t, policies.Add(1, 10, action))
	p, _ := policies.Find(1)

	lbd := LBD{Buckets: []Bucket{
		{DPO: DPO{Type: DPOAdjacency, Adj: 1}},
		{DPO: DPO{Type: DPOAdjacency, Adj: 2}},
		{DPO: DPO{Type: DPOAdjacency, Adj: 3}},
		{DPO: DPO{Type: DPOAdjacency, Adj: 4}},
	}}

	tuple := someTuple()
	first := policies.Resolve(p, tuple, lbd, false, AFInet4)
	for i := 0; i < 10; i++ {
		res := policies.Resolve(p, tuple, lbd, false, AFInet4)
		assert.Equal(t, first.Label, res.Label, "same flow must always land on the same label")
	}
}
