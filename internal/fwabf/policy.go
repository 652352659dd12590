// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwabf

import (
	"sync"
	"sync/atomic"

	"go.fwabf.dev/fwabf/internal/logging"
)

// LinkGroup is one group of labels inside a policy action, with its own
// selection algorithm (spec §3).
type LinkGroup struct {
	Alg    SelectionAlg
	Labels []Label

	nMinus1  uint32
	pow2Mask uint32
}

// PolicyAction is a policy's forwarding behavior: an ordered or randomly
// selected list of link groups, with a fallback for when nothing resolves
// (spec §3).
type PolicyAction struct {
	Fallback Fallback
	GroupAlg SelectionAlg
	Groups   []LinkGroup

	nGroupsMinus1  uint32
	nGroupsPow2Mask uint32
}

// derive computes the power-of-two masks used by boundedRandomIndex. This
// preserves the source's two-tier scheme (0xF up to 15 candidates, else
// 0xFF) rather than a fully generic mask (spec §4.3, §9, SPEC_FULL
// supplement #1).
func (a *PolicyAction) derive() error {
	if len(a.Groups) == 0 {
		return ErrEmptyAction
	}
	a.nGroupsMinus1 = uint32(len(a.Groups) - 1)
	a.nGroupsPow2Mask = pow2MaskFor(len(a.Groups))
	for i := range a.Groups {
		g := &a.Groups[i]
		if len(g.Labels) == 0 {
			return ErrEmptyGroup
		}
		g.nMinus1 = uint32(len(g.Labels) - 1)
		g.pow2Mask = pow2MaskFor(len(g.Labels))
	}
	return nil
}

// Policy is a {classifier, action} pair (spec §3, "Policy (fwabf_policy)").
type Policy struct {
	PolicyID uint32
	ACLID    ACLID
	Action   PolicyAction

	refCount int32
}

// RefCount returns the policy's current attachment reference count.
func (p *Policy) RefCount() int32 { return atomic.LoadInt32(&p.refCount) }

// PolicyRegistry is C4: stores policy records and resolves the per-packet
// label-selection algorithm (spec §4.3).
type PolicyRegistry struct {
	mu     sync.Mutex
	byID   map[uint32]*Policy

	defaultAction   *PolicyAction
	defaultInstalled bool

	links   *LinkRegistry
	logger  *logging.Logger
}

// NewPolicyRegistry constructs an empty registry bound to links, used to
// resolve labels to DPOs during Resolve.
func NewPolicyRegistry(links *LinkRegistry, logger *logging.Logger) *PolicyRegistry {
	return &PolicyRegistry{
		byID:   make(map[uint32]*Policy),
		links:  links,
		logger: logger,
	}
}

// Add installs a new policy (spec §4.3).
func (r *PolicyRegistry) Add(policyID uint32, aclID ACLID, action PolicyAction) error {
	if err := action.derive(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[policyID]; exists {
		return ErrPolicyExists
	}
	r.byID[policyID] = &Policy{PolicyID: policyID, ACLID: aclID, Action: action}
	return nil
}

// Delete removes a policy, refusing while it is still attached anywhere
// (spec §4.3: "refuses if ref_count > 0"). The action is cleared before the
// record is dropped so an in-flight reader that still holds the pointer
// sees an action with no groups rather than a half-freed one (spec §5).
func (r *PolicyRegistry) Delete(policyID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[policyID]
	if !ok {
		return ErrPolicyNotFound
	}
	if p.RefCount() > 0 {
		return ErrPolicyInUse
	}
	p.Action.Groups = nil
	delete(r.byID, policyID)
	return nil
}

// Find returns the policy for policyID, if any.
func (r *PolicyRegistry) Find(policyID uint32) (*Policy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[policyID]
	return p, ok
}

// IncRef/DecRef track attachment references; DecRef is a no-op below zero.
func (r *PolicyRegistry) IncRef(policyID uint32) { r.adjustRef(policyID, 1) }
func (r *PolicyRegistry) DecRef(policyID uint32) { r.adjustRef(policyID, -1) }

func (r *PolicyRegistry) adjustRef(policyID uint32, delta int32) {
	r.mu.Lock()
	p, ok := r.byID[policyID]
	r.mu.Unlock()
	if !ok {
		return
	}
	if delta < 0 && atomic.LoadInt32(&p.refCount) <= 0 {
		return
	}
	atomic.AddInt32(&p.refCount, delta)
}

// SetDefaultAction installs the process-wide default-route action (spec
// §4.3): when installed, it overrides the matching policy's action for
// packets whose FIB lookup resolved to the default route.
func (r *PolicyRegistry) SetDefaultAction(action PolicyAction) error {
	if err := action.derive(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultAction = &action
	r.defaultInstalled = true
	return nil
}

// ClearDefaultAction removes the default-route action override.
func (r *PolicyRegistry) ClearDefaultAction() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultAction = nil
	r.defaultInstalled = false
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	DPO     DPO
	Label   Label // the label actually selected; LabelInvalid if UseFIB or Dropped
	UseFIB  bool  // true: ignore policy, forward using the FIB's own lbd result
	Dropped bool  // true: DPO is a drop DPO, policy fallback was "drop"
}

// Resolve runs the policy resolution algorithm (spec §4.3) for a packet
// matching policy p, whose FIB lookup produced lbd and which did (isDefault)
// or did not resolve to the default route.
//
// Known, preserved behavior (SPEC_FULL supplement #2): because the FIB lookup
// underlying lbd only ever yields the shortest-path adjacencies, labels that
// would only match a longer path than the FIB's choice can never be
// selected here - "distance over policy". This is the source's documented
// behavior, not a defect to fix.
func (r *PolicyRegistry) Resolve(p *Policy, tuple FiveTuple, lbd LBD, isDefault bool, family AddressFamily) Resolution {
	r.mu.Lock()
	action := &p.Action
	if isDefault && r.defaultInstalled {
		action = r.defaultAction
	}
	r.mu.Unlock()

	if action == nil || len(action.Groups) == 0 {
		return Resolution{UseFIB: true, Label: LabelInvalid}
	}

	h := FlowHash(tuple)

	getLabelDPO := func(label Label) DPO {
		if isDefault {
			return r.links.GetLabeledDPO(label)
		}
		return r.links.GetDPO(label, lbd, family)
	}

	// Step 2: random group selection, tried once.
	if action.GroupAlg == SelectRandom && len(action.Groups) > 1 {
		gi := boundedRandomIndex(h, action.nGroupsPow2Mask, action.nGroupsMinus1)
		group := &action.Groups[gi]

		if group.Alg == SelectRandom && len(group.Labels) > 1 {
			li := boundedRandomIndex(h, group.pow2Mask, group.nMinus1)
			if dpo := getLabelDPO(group.Labels[li]); dpo.IsValid() {
				return Resolution{DPO: dpo, Label: group.Labels[li]}
			}
		}
		for _, label := range group.Labels {
			if dpo := getLabelDPO(label); dpo.IsValid() {
				return Resolution{DPO: dpo, Label: label}
			}
		}
	}

	// Step 3: ordered fallback over every group in declaration order.
	for i := range action.Groups {
		group := &action.Groups[i]
		if group.Alg == SelectRandom && len(group.Labels) > 1 {
			li := boundedRandomIndex(h, group.pow2Mask, group.nMinus1)
			if dpo := getLabelDPO(group.Labels[li]); dpo.IsValid() {
				return Resolution{DPO: dpo, Label: group.Labels[li]}
			}
		}
		for _, label := range group.Labels {
			if dpo := getLabelDPO(label); dpo.IsValid() {
				return Resolution{DPO: dpo, Label: label}
			}
		}
	}

	// Step 4: nothing usable.
	if action.Fallback == FallbackDefaultRoute {
		return Resolution{UseFIB: true, Label: LabelInvalid}
	}
	return Resolution{DPO: DPO{Type: DPODrop, NextNode: "error-drop"}, Dropped: true, Label: LabelInvalid}
}
