// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwabf

import (
	"go.fwabf.dev/fwabf/internal/errors"
)

// Configuration errors (spec §7): synchronous, surfaced to the control-plane
// caller. These wrap internal/errors so callers can still use
// errors.GetKind/errors.Is/errors.As against them.
var (
	ErrInvalidLabel        = errors.New(errors.KindValidation, "label must be in [0,254]")
	ErrLinkExists          = errors.New(errors.KindConflict, "link already exists for this interface")
	ErrLinkNotFound        = errors.New(errors.KindNotFound, "no such link")
	ErrPolicyExists        = errors.New(errors.KindConflict, "policy id already exists")
	ErrPolicyNotFound      = errors.New(errors.KindNotFound, "no such policy")
	ErrPolicyInUse         = errors.New(errors.KindConflict, "policy is still attached")
	ErrEmptyAction         = errors.New(errors.KindValidation, "policy action must have at least one group")
	ErrEmptyGroup          = errors.New(errors.KindValidation, "link group must have at least one label")
	ErrInvalidInterface    = errors.New(errors.KindValidation, "invalid interface handle")
	ErrAttachmentNotFound  = errors.New(errors.KindNotFound, "no such attachment")
	ErrAttachmentExists    = errors.New(errors.KindConflict, "policy already attached to this interface")
	ErrAdjacencyOutOfRange = errors.New(errors.KindInternal, "adjacency index exceeds engine bound")
)
