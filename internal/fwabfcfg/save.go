// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwabfcfg

import (
	"strconv"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// Render serializes cfg back to HCL text, for `show fwabf config` and
// config-file round-tripping after a control-plane mutation.
func Render(cfg *Config) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	for _, l := range cfg.Links {
		b := body.AppendNewBlock("link", []string{l.Interface}).Body()
		b.SetAttributeValue("label", cty.NumberIntVal(int64(l.Label)))
		b.SetAttributeValue("next_hop", cty.StringVal(l.NextHop))
		if l.Family != "" {
			b.SetAttributeValue("family", cty.StringVal(l.Family))
		}
		body.AppendNewline()
	}

	for _, p := range cfg.Policies {
		b := body.AppendNewBlock("policy", []string{strconv.FormatUint(uint64(p.ID), 10)}).Body()
		b.SetAttributeValue("acl_id", cty.NumberIntVal(int64(p.ACLID)))
		renderAction(b, p.Action)
		body.AppendNewline()
	}

	if cfg.DefaultAction != nil {
		b := body.AppendNewBlock("default_route_action", nil).Body()
		renderAction(b, *cfg.DefaultAction)
		body.AppendNewline()
	}

	for _, a := range cfg.Attachments {
		b := body.AppendNewBlock("attach", []string{a.Interface}).Body()
		b.SetAttributeValue("policy_id", cty.NumberIntVal(int64(a.PolicyID)))
		b.SetAttributeValue("priority", cty.NumberIntVal(int64(a.Priority)))
		if a.Family != "" {
			b.SetAttributeValue("family", cty.StringVal(a.Family))
		}
		body.AppendNewline()
	}

	if cfg.Quality != nil {
		b := body.AppendNewBlock("quality", nil).Body()
		b.SetAttributeValue("prober", cty.StringVal(cfg.Quality.Prober))
		b.SetAttributeValue("period_seconds", cty.NumberIntVal(int64(cfg.Quality.PeriodSecs)))
		b.SetAttributeValue("probe_count", cty.NumberIntVal(int64(cfg.Quality.ProbeCount)))
	}

	return f.Bytes()
}

func renderAction(b *hclwrite.Body, a PolicyAction) {
	if a.GroupAlg != "" {
		b.SetAttributeValue("group_algorithm", cty.StringVal(a.GroupAlg))
	}
	if a.Fallback != "" {
		b.SetAttributeValue("fallback", cty.StringVal(a.Fallback))
	}
	for _, g := range a.Groups {
		gb := b.AppendNewBlock("group", nil).Body()
		if g.Algorithm != "" {
			gb.SetAttributeValue("algorithm", cty.StringVal(g.Algorithm))
		}
		labels := make([]cty.Value, len(g.Labels))
		for i, l := range g.Labels {
			labels[i] = cty.NumberIntVal(int64(l))
		}
		if len(labels) > 0 {
			gb.SetAttributeValue("labels", cty.ListVal(labels))
		} else {
			gb.SetAttributeValue("labels", cty.ListValEmpty(cty.Number))
		}
	}
}
