// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwabf

import (
	"net"
	"sync"
)

// This file specifies the contract the engine requires from the ACL
// collaborator (spec §6). The ACL rule-matching engine itself - rule syntax,
// storage, and the hot-path 5-tuple matcher - is explicitly out of scope
// (spec §1); FakeACL below is a minimal in-memory stand-in sufficient to
// drive and test the datapath (C6) and the interface-attachment table (C5).

// ACLUserID identifies a registered consumer of ACL lookup contexts.
type ACLUserID uint32

// ACLContextID identifies one ACL lookup context, acquired per (address
// family, ingress interface) on first attachment and released on last
// detachment (spec §4.4).
type ACLContextID uint32

// ACLID is an opaque identifier understood by the ACL collaborator,
// referenced by a policy (spec §3).
type ACLID uint32

// ACL is the contract the engine consumes from the ACL collaborator.
type ACL interface {
	// RegisterUser registers the engine as a consumer of ACL contexts.
	RegisterUser(name string) ACLUserID

	// GetContext acquires a lookup context for user, keyed by the two
	// opaque lookup-type tokens the real collaborator uses to select an
	// input/output, L2/L3 lookup variant.
	GetContext(user ACLUserID, lookupType1, lookupType2 int) ACLContextID

	// PutContext releases a previously acquired context.
	PutContext(ctx ACLContextID)

	// SetACLVec installs the ordered list of ACL ids to be matched against
	// ctx, mirroring the interface-attachment table's priority order.
	SetACLVec(ctx ACLContextID, aclIDs []ACLID)

	// Match5Tuple evaluates tuple against ctx's ACL vector in order and
	// returns whether a rule matched and, if so, the matched ACL's position
	// within the vector (matchACLPos in spec §4.5).
	Match5Tuple(ctx ACLContextID, tuple FiveTuple) (matched bool, aclPos int)
}

// ACLRule is one rule of a FakeACL ACL: a permit/deny match on a 5-tuple
// subspace. A zero-value field means "don't care" for that dimension except
// Proto, which 0 means "any protocol".
type ACLRule struct {
	Proto             uint8
	SrcNet            *net.IPNet
	DstNet            *net.IPNet
	SrcPortLo, SrcPortHi uint16
	DstPortLo, DstPortHi uint16
	Permit            bool
}

func (r ACLRule) matches(t FiveTuple) bool {
	if r.Proto != 0 && r.Proto != t.Proto {
		return false
	}
	if r.SrcNet != nil && !r.SrcNet.Contains(t.SrcIP) {
		return false
	}
	if r.DstNet != nil && !r.DstNet.Contains(t.DstIP) {
		return false
	}
	if r.SrcPortHi != 0 && (t.SrcPort < r.SrcPortLo || t.SrcPort > r.SrcPortHi) {
		return false
	}
	if r.DstPortHi != 0 && (t.DstPort < r.DstPortLo || t.DstPort > r.DstPortHi) {
		return false
	}
	return true
}

// FakeACL is an in-memory ACL collaborator for tests and cmd/fwabf-sim.
type FakeACL struct {
	mu sync.Mutex

	nextUser ACLUserID
	nextCtx  ACLContextID

	rules map[ACLID][]ACLRule
	vecs  map[ACLContextID][]ACLID
}

// NewFakeACL returns an ACL collaborator with no rules and no contexts.
func NewFakeACL() *FakeACL {
	return &FakeACL{
		rules: make(map[ACLID][]ACLRule),
		vecs:  make(map[ACLContextID][]ACLID),
	}
}

// SetRules installs (replacing) the rule list for id, evaluated in order;
// the first matching rule decides the ACL's verdict for that lookup.
func (a *FakeACL) SetRules(id ACLID, rules []ACLRule) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rules[id] = rules
}

// RegisterUser implements ACL.
func (a *FakeACL) RegisterUser(name string) ACLUserID {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextUser++
	return a.nextUser
}

// GetContext implements ACL.
func (a *FakeACL) GetContext(user ACLUserID, lookupType1, lookupType2 int) ACLContextID {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextCtx++
	ctx := a.nextCtx
	a.vecs[ctx] = nil
	return ctx
}

// PutContext implements ACL.
func (a *FakeACL) PutContext(ctx ACLContextID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.vecs, ctx)
}

// SetACLVec implements ACL.
func (a *FakeACL) SetACLVec(ctx ACLContextID, aclIDs []ACLID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([]ACLID, len(aclIDs))
	copy(cp, aclIDs)
	a.vecs[ctx] = cp
}

// Match5Tuple implements ACL. It walks the context's ACL vector in order -
// the same order the interface-attachment table keeps its (policy, priority)
// list in - and returns the position of the first ACL with a permit rule
// matching tuple.
func (a *FakeACL) Match5Tuple(ctx ACLContextID, tuple FiveTuple) (bool, int) {
	a.mu.Lock()
	vec := a.vecs[ctx]
	rules := a.rules
	a.mu.Unlock()

	for pos, id := range vec {
		for _, r := range rules[id] {
			if r.matches(tuple) {
				if r.Permit {
					return true, pos
				}
				break // explicit deny on this ACL: stop scanning its rules, try next ACL
			}
		}
	}
	return false, -1
}
