// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwabf

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"go.fwabf.dev/fwabf/internal/logging"
)

// Config configures an Engine.
type Config struct {
	// ProbePeriod is how often an active Prober re-samples a monitored
	// link's quality.
	ProbePeriod time.Duration

	// TraceCapacity bounds the in-memory decision trace (0 disables it).
	TraceCapacity int
}

// DefaultConfig returns the engine's default configuration.
func DefaultConfig() *Config {
	return &Config{
		ProbePeriod:   5 * time.Second,
		TraceCapacity: 256,
	}
}

// Engine wires together every fwabf component (C1-C8) behind the
// collaborator contracts (RoutingTable, ACL, FeatureArc) supplied by the
// caller, and exposes the two address-family datapath nodes that actually
// process packets.
type Engine struct {
	Locals       *LocalAddressSet
	Links        *LinkRegistry
	DefaultRoute *DefaultRouteTracker
	Policies     *PolicyRegistry
	Attachments  *AttachmentTable
	Quality      *QualityTracker
	Counters     *Counters

	Datapath [3]*DatapathNode // indexed by AddressFamily

	logger *logging.Logger
}

// New constructs an Engine bound to its external collaborators. reg may be
// nil to skip Prometheus registration (e.g. in unit tests running multiple
// engines against the default registry).
func New(cfg *Config, routing RoutingTable, acl ACL, arc FeatureArc, prober Prober, reg prometheus.Registerer, logger *logging.Logger) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}

	counters := NewCounters(reg, cfg.TraceCapacity)
	links := NewLinkRegistry(routing, counters, logger)
	defaultRoute := NewDefaultRouteTracker(routing, logger)
	policies := NewPolicyRegistry(links, logger)
	attachments := NewAttachmentTable(acl, arc, policies, logger)
	quality := NewQualityTracker(links, prober, cfg.ProbePeriod, logger)

	links.SetOnFirstLink(func(family AddressFamily) {
		if err := defaultRoute.Init(family); err != nil && logger != nil {
			logger.Warn("fwabf default route init failed", "family", family.String(), "error", err)
		}
	})

	e := &Engine{
		Locals:       NewLocalAddressSet(),
		Links:        links,
		DefaultRoute: defaultRoute,
		Policies:     policies,
		Attachments:  attachments,
		Quality:      quality,
		Counters:     counters,
		logger:       logger,
	}
	e.Datapath[AFInet4] = NewDatapathNode(AFInet4, routing, links, defaultRoute, attachments, policies, counters, logger)
	e.Datapath[AFInet6] = NewDatapathNode(AFInet6, routing, links, defaultRoute, attachments, policies, counters, logger)
	return e
}

// Process runs the datapath pipeline for one packet, dispatching to the
// address family's node.
func (e *Engine) Process(family AddressFamily, swIfIndex uint32, tuple FiveTuple) Verdict {
	node := e.Datapath[family]
	if node == nil {
		return Verdict{DPO: DPO{Type: DPODrop, NextNode: "error-drop"}, Outcome: "no_datapath"}
	}
	return node.Process(swIfIndex, tuple)
}

// Stop shuts down background work (active probing).
func (e *Engine) Stop() {
	e.Quality.Stop()
}
