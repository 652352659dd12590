// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwabf

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeRoutingTable_Lookup_LongestPrefixWins(t *testing.T) {
	f := NewFakeRoutingTable()
	_, wide, _ := net.ParseCIDR("10.0.0.0/8")
	_, narrow, _ := net.ParseCIDR("10.0.0.0/24")

	f.AddRoute(AFInet4, wide, LBD{Buckets: []Bucket{{DPO: DPO{Type: DPOAdjacency, Adj: 1}}}})
	f.AddRoute(AFInet4, narrow, LBD{Buckets: []Bucket{{DPO: DPO{Type: DPOAdjacency, Adj: 2}}}})

	lbd := f.Lookup(AFInet4, net.ParseIP("10.0.0.5"))
	require.Len(t, lbd.Buckets, 1)
	assert.Equal(t, AdjIndex(2), lbd.Buckets[0].DPO.Adj)

	lbd = f.Lookup(AFInet4, net.ParseIP("10.1.0.5"))
	require.Len(t, lbd.Buckets, 1)
	assert.Equal(t, AdjIndex(1), lbd.Buckets[0].DPO.Adj)
}

func TestFakeRoutingTable_Lookup_NoMatchReturnsDropBucket(t *testing.T) {
	f := NewFakeRoutingTable()
	lbd := f.Lookup(AFInet4, net.ParseIP("203.0.113.1"))
	require.Len(t, lbd.Buckets, 1)
	assert.Equal(t, DPODrop, lbd.Buckets[0].DPO.Type)
}

func TestFakeRoutingTable_SetForwarding_NotifiesAllChildren(t *testing.T) {
	f := NewFakeRoutingTable()
	pl, err := f.CreatePathList(SharedPath, RPath{NextHop: net.ParseIP("10.0.0.1")})
	require.NoError(t, err)

	var notified []PathListID
	child := fibChildFunc(func(p PathListID) { notified = append(notified, p) })
	_, err = f.AddChild(pl, child)
	require.NoError(t, err)

	f.SetForwarding(pl, DPO{Type: DPOAdjacency, Adj: 1})
	assert.Equal(t, []PathListID{pl}, notified)
}

func TestFakeRoutingTable_RemoveChild_StopsNotifications(t *testing.T) {
	f := NewFakeRoutingTable()
	pl, err := f.CreatePathList(SharedPath, RPath{NextHop: net.ParseIP("10.0.0.1")})
	require.NoError(t, err)

	called := false
	child := fibChildFunc(func(PathListID) { called = true })
	sib, err := f.AddChild(pl, child)
	require.NoError(t, err)
	f.RemoveChild(pl, sib)

	f.SetForwarding(pl, DPO{Type: DPOAdjacency, Adj: 1})
	assert.False(t, called)
}

func TestFakeRoutingTable_ReleasePathList_DropsAfterLastRef(t *testing.T) {
	f := NewFakeRoutingTable()
	pl, err := f.CreatePathList(SharedPath, RPath{NextHop: net.ParseIP("10.0.0.1")})
	require.NoError(t, err)

	f.ReleasePathList(pl)
	_, err = f.ContributeForwarding(pl)
	assert.Error(t, err)
}

// fibChildFunc adapts a plain function to the FibChild interface for tests.
type fibChildFunc func(PathListID)

func (f fibChildFunc) BackWalk(pl PathListID) { f(pl) }
