// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package fwabfcfg is the HCL declarative configuration surface for the
// fwabf engine: links, policies, interface attachments, quality-monitoring
// parameters, and the default-route action, all expressed as HCL blocks the
// way internal/config expresses the rest of the node's configuration.
package fwabfcfg

// Config is the top-level fwabf configuration block.
type Config struct {
	Links         []Link         `hcl:"link,block" json:"link,omitempty"`
	Policies      []Policy       `hcl:"policy,block" json:"policy,omitempty"`
	Attachments   []Attachment   `hcl:"attach,block" json:"attach,omitempty"`
	Quality       *Quality       `hcl:"quality,block" json:"quality,omitempty"`
	DefaultAction *PolicyAction  `hcl:"default_route_action,block" json:"default_route_action,omitempty"`
}

// Link configures one egress link (spec §3).
type Link struct {
	Interface string `hcl:"interface,label" json:"interface"`
	Label     uint8  `hcl:"label" json:"label"`
	NextHop   string `hcl:"next_hop" json:"next_hop"`
	Family    string `hcl:"family,optional" json:"family,omitempty"` // "ip4" (default) or "ip6"
}

// Policy configures one policy: an ACL reference plus its action.
type Policy struct {
	ID     uint32       `hcl:"id,label" json:"id"`
	ACLID  uint32       `hcl:"acl_id" json:"acl_id"`
	Action PolicyAction `hcl:"action,block" json:"action"`
}

// PolicyAction configures a policy's (or the process-wide default route's)
// label-selection behavior.
type PolicyAction struct {
	GroupAlg string      `hcl:"group_algorithm,optional" json:"group_algorithm,omitempty"` // "ordered" (default) or "random"
	Fallback string      `hcl:"fallback,optional" json:"fallback,omitempty"`               // "default_route" (default) or "drop"
	Groups   []LinkGroup `hcl:"group,block" json:"group,omitempty"`
}

// LinkGroup configures one group of labels within an action.
type LinkGroup struct {
	Algorithm string  `hcl:"algorithm,optional" json:"algorithm,omitempty"` // "ordered" (default) or "random"
	Labels    []uint8 `hcl:"labels" json:"labels"`
}

// Attachment binds a policy to an interface at a priority.
type Attachment struct {
	Interface string `hcl:"interface,label" json:"interface"`
	PolicyID  uint32 `hcl:"policy_id" json:"policy_id"`
	Priority  int    `hcl:"priority,optional" json:"priority,omitempty"`
	Family    string `hcl:"family,optional" json:"family,omitempty"`
}

// Quality configures link quality monitoring. Apply uses the block's presence
// to start monitoring every configured link; its prober, period_seconds and
// probe_count values are decoded and rendered but not applied to the engine,
// which keeps the prober and probe period it was constructed with.
type Quality struct {
	Prober      string `hcl:"prober,optional" json:"prober,omitempty"` // "icmp" (default) or "ndp"
	PeriodSecs  int    `hcl:"period_seconds,optional" json:"period_seconds,omitempty"`
	ProbeCount  int    `hcl:"probe_count,optional" json:"probe_count,omitempty"`
}

// DefaultConfig returns an empty, schema-valid configuration.
func DefaultConfig() *Config {
	return &Config{
		Quality: &Quality{Prober: "icmp", PeriodSecs: 5, ProbeCount: 5},
	}
}
