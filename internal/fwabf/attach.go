// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwabf

import (
	"sort"
	"sync"

	"go.fwabf.dev/fwabf/internal/logging"
)

// FeatureArc is the contract for enabling/disabling the engine's input
// feature node on an interface (VPP's feature-arc mechanism, spec §4.4).
// Splicing a node into an interface's feature list is explicitly out of
// scope (spec §1); the engine only calls Enable/Disable at the right
// moments.
type FeatureArc interface {
	Enable(swIfIndex uint32, family AddressFamily) error
	Disable(swIfIndex uint32, family AddressFamily) error
}

// FakeFeatureArc is an in-memory FeatureArc for tests and cmd/fwabf-sim.
type FakeFeatureArc struct {
	mu      sync.Mutex
	enabled map[ifaceKey]bool
}

// NewFakeFeatureArc returns a feature arc with nothing enabled.
func NewFakeFeatureArc() *FakeFeatureArc {
	return &FakeFeatureArc{enabled: make(map[ifaceKey]bool)}
}

func (f *FakeFeatureArc) Enable(swIfIndex uint32, family AddressFamily) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled[ifaceKey{swIfIndex, family}] = true
	return nil
}

func (f *FakeFeatureArc) Disable(swIfIndex uint32, family AddressFamily) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.enabled, ifaceKey{swIfIndex, family})
	return nil
}

// Enabled reports whether the feature arc is currently enabled for
// (swIfIndex, family); exposed for tests.
func (f *FakeFeatureArc) Enabled(swIfIndex uint32, family AddressFamily) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled[ifaceKey{swIfIndex, family}]
}

type ifaceKey struct {
	SwIfIndex uint32
	Family    AddressFamily
}

// The two opaque lookup-type tokens the ACL collaborator uses to pick an
// input/L3 lookup context variant (spec §4.4). The engine only ever attaches
// on ingress, so the first token is fixed; the second distinguishes address
// family.
const (
	aclLookupInput = 0
	aclLookupIP4   = 0
	aclLookupIP6   = 1
)

// Attachment is one policy bound to an interface, in the priority order it
// is tried at classification time (spec §3, "Attachment").
type Attachment struct {
	PolicyID uint32
	Priority int
}

type ifaceAttachments struct {
	ctx  ACLContextID
	list []Attachment // kept sorted by Priority ascending: index 0 is tried first
}

// AttachmentTable is C5: binds policies to (interface, address family)
// pairs, keeps each interface's policy list in priority order, and mirrors
// that order into the ACL collaborator's per-context ACL vector so
// Match5Tuple's returned position can be mapped straight back to an
// Attachment (spec §4.4).
type AttachmentTable struct {
	mu sync.Mutex

	acl     ACL
	aclUser ACLUserID
	arc     FeatureArc

	policies *PolicyRegistry
	logger   *logging.Logger

	byIface map[ifaceKey]*ifaceAttachments
}

// NewAttachmentTable constructs an attachment table bound to its
// collaborators and registers the engine as an ACL user.
func NewAttachmentTable(acl ACL, arc FeatureArc, policies *PolicyRegistry, logger *logging.Logger) *AttachmentTable {
	return &AttachmentTable{
		acl:      acl,
		aclUser:  acl.RegisterUser("fwabf"),
		arc:      arc,
		policies: policies,
		logger:   logger,
		byIface:  make(map[ifaceKey]*ifaceAttachments),
	}
}

// Attach binds policyID to (swIfIndex, family) at priority (lower values are
// tried first). On the first attachment for an interface this acquires an
// ACL lookup context and enables the feature arc (spec §4.4); every
// attach/detach rebuilds the context's ACL vector to match the current
// priority order.
func (t *AttachmentTable) Attach(swIfIndex uint32, family AddressFamily, policyID uint32, priority int) error {
	policy, ok := t.policies.Find(policyID)
	if !ok {
		return ErrPolicyNotFound
	}

	key := ifaceKey{swIfIndex, family}

	t.mu.Lock()
	ia, exists := t.byIface[key]
	if !exists {
		lookupType2 := aclLookupIP4
		if family == AFInet6 {
			lookupType2 = aclLookupIP6
		}
		ia = &ifaceAttachments{ctx: t.acl.GetContext(t.aclUser, aclLookupInput, lookupType2)}
		t.byIface[key] = ia
	} else {
		for _, a := range ia.list {
			if a.PolicyID == policyID {
				t.mu.Unlock()
				return ErrAttachmentExists
			}
		}
	}

	ia.list = append(ia.list, Attachment{PolicyID: policyID, Priority: priority})
	sort.SliceStable(ia.list, func(i, j int) bool { return ia.list[i].Priority < ia.list[j].Priority })
	t.rebuildACLVecLocked(ia)
	t.mu.Unlock()

	t.policies.IncRef(policyID)

	if !exists {
		if err := t.arc.Enable(swIfIndex, family); err != nil {
			return err
		}
	}
	if t.logger != nil {
		t.logger.Info("fwabf policy attached", "sw_if_index", swIfIndex, "family", family.String(), "policy_id", policyID, "priority", priority, "acl_id", policy.ACLID)
	}
	return nil
}

// Detach unbinds policyID from (swIfIndex, family). On the last detachment
// for an interface, the ACL context is released and the feature arc is
// disabled (spec §4.4).
func (t *AttachmentTable) Detach(swIfIndex uint32, family AddressFamily, policyID uint32) error {
	key := ifaceKey{swIfIndex, family}

	t.mu.Lock()
	ia, ok := t.byIface[key]
	if !ok {
		t.mu.Unlock()
		return ErrAttachmentNotFound
	}

	idx := -1
	for i, a := range ia.list {
		if a.PolicyID == policyID {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.mu.Unlock()
		return ErrAttachmentNotFound
	}
	ia.list = append(ia.list[:idx], ia.list[idx+1:]...)

	empty := len(ia.list) == 0
	if empty {
		delete(t.byIface, key)
	} else {
		t.rebuildACLVecLocked(ia)
	}
	ctx := ia.ctx
	t.mu.Unlock()

	t.policies.DecRef(policyID)

	if empty {
		t.acl.PutContext(ctx)
		if err := t.arc.Disable(swIfIndex, family); err != nil {
			return err
		}
	}
	if t.logger != nil {
		t.logger.Info("fwabf policy detached", "sw_if_index", swIfIndex, "family", family.String(), "policy_id", policyID)
	}
	return nil
}

func (t *AttachmentTable) rebuildACLVecLocked(ia *ifaceAttachments) {
	aclIDs := make([]ACLID, len(ia.list))
	for i, a := range ia.list {
		p, ok := t.policies.Find(a.PolicyID)
		if ok {
			aclIDs[i] = p.ACLID
		}
	}
	t.acl.SetACLVec(ia.ctx, aclIDs)
}

// Match runs the ACL classification step for a packet ingressing on
// (swIfIndex, family): it evaluates tuple against the interface's ACL
// vector and, on a match, returns the Attachment and Policy at the matched
// position (spec §4.4, §4.5's match_acl_pos).
func (t *AttachmentTable) Match(swIfIndex uint32, family AddressFamily, tuple FiveTuple) (policy *Policy, pos int, matched bool) {
	key := ifaceKey{swIfIndex, family}

	t.mu.Lock()
	ia, ok := t.byIface[key]
	if !ok {
		t.mu.Unlock()
		return nil, -1, false
	}
	ctx := ia.ctx
	list := ia.list
	t.mu.Unlock()

	ok2, p := t.acl.Match5Tuple(ctx, tuple)
	if !ok2 || p < 0 || p >= len(list) {
		return nil, -1, false
	}

	policy, found := t.policies.Find(list[p].PolicyID)
	if !found {
		return nil, -1, false
	}
	return policy, p, true
}

// List returns a snapshot of the attachments on (swIfIndex, family), in
// priority order, for `show fwabf attachment`.
func (t *AttachmentTable) List(swIfIndex uint32, family AddressFamily) []Attachment {
	t.mu.Lock()
	defer t.mu.Unlock()
	ia, ok := t.byIface[ifaceKey{swIfIndex, family}]
	if !ok {
		return nil
	}
	out := make([]Attachment, len(ia.list))
	copy(out, ia.list)
	return out
}

// Attached reports whether (swIfIndex, family) has any attachments at all,
// used by the datapath to skip classification entirely on interfaces the
// feature was never enabled for.
func (t *AttachmentTable) Attached(swIfIndex uint32, family AddressFamily) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byIface[ifaceKey{swIfIndex, family}]
	return ok
}
