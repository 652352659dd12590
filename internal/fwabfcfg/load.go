// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwabfcfg

import (
	"net"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"go.fwabf.dev/fwabf/internal/errors"
	"go.fwabf.dev/fwabf/internal/fwabf"
)

// LoadFile reads and decodes an HCL fwabf configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to read fwabf config file")
	}
	return LoadBytes(path, data)
}

// LoadBytes decodes an HCL fwabf configuration from data; filename is used
// only for diagnostics.
func LoadBytes(filename string, data []byte) (*Config, error) {
	var cfg Config
	if err := hclsimple.Decode(filename, data, nil, &cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "failed to decode fwabf config")
	}
	return &cfg, nil
}

// Apply installs cfg into a running engine: links first (so their labels
// exist before any policy references them), then policies, then the
// default-route action, then attachments, then quality monitoring. It
// is the control-plane replay of a config file onto a live Engine - the
// single synchronous path every engine state change flows through either
// at startup or when a config reload is requested (spec §4, §7:
// configuration errors are returned synchronously to the caller).
func Apply(cfg *Config, e *fwabf.Engine) error {
	for _, l := range cfg.Links {
		ifi, err := net.InterfaceByName(l.Interface)
		if err != nil {
			return errors.Wrap(err, errors.KindValidation, "fwabf link: unknown interface "+l.Interface)
		}
		nh := net.ParseIP(l.NextHop)
		if nh == nil {
			return errors.Errorf(errors.KindValidation, "fwabf link: invalid next_hop %q", l.NextHop)
		}
		family := fwabf.AFInet4
		if l.Family == "ip6" {
			family = fwabf.AFInet6
		}
		if err := e.Links.AddLink(uint32(ifi.Index), fwabf.Label(l.Label), nh, family); err != nil {
			return err
		}
	}

	for _, p := range cfg.Policies {
		action, err := toEngineAction(p.Action)
		if err != nil {
			return err
		}
		if err := e.Policies.Add(p.ID, fwabf.ACLID(p.ACLID), action); err != nil {
			return err
		}
	}

	if cfg.DefaultAction != nil {
		action, err := toEngineAction(*cfg.DefaultAction)
		if err != nil {
			return err
		}
		if err := e.Policies.SetDefaultAction(action); err != nil {
			return err
		}
	}

	for _, a := range cfg.Attachments {
		ifi, err := net.InterfaceByName(a.Interface)
		if err != nil {
			return errors.Wrap(err, errors.KindValidation, "fwabf attach: unknown interface "+a.Interface)
		}
		family := fwabf.AFInet4
		if a.Family == "ip6" {
			family = fwabf.AFInet6
		}
		if err := e.Attachments.Attach(uint32(ifi.Index), family, a.PolicyID, a.Priority); err != nil {
			return err
		}
	}

	if cfg.Quality != nil {
		for _, l := range cfg.Links {
			label := fwabf.Label(l.Label)
			period := time.Duration(cfg.Quality.PeriodSecs) * time.Second
			_ = period // not applied: the engine's QualityTracker keeps the period it was built with
			e.Quality.Monitor(label, l.NextHop)
		}
	}

	return nil
}

func toEngineAction(a PolicyAction) (fwabf.PolicyAction, error) {
	groups := make([]fwabf.LinkGroup, 0, len(a.Groups))
	for _, g := range a.Groups {
		labels := make([]fwabf.Label, 0, len(g.Labels))
		for _, l := range g.Labels {
			labels = append(labels, fwabf.Label(l))
		}
		alg := fwabf.SelectOrdered
		if g.Algorithm == "random" {
			alg = fwabf.SelectRandom
		}
		groups = append(groups, fwabf.LinkGroup{Alg: alg, Labels: labels})
	}

	groupAlg := fwabf.SelectOrdered
	if a.GroupAlg == "random" {
		groupAlg = fwabf.SelectRandom
	}
	fallback := fwabf.FallbackDefaultRoute
	if a.Fallback == "drop" {
		fallback = fwabf.FallbackDrop
	}

	return fwabf.PolicyAction{
		Fallback: fallback,
		GroupAlg: groupAlg,
		Groups:   groups,
	}, nil
}
