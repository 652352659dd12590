// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

package fwabf

import (
	"fmt"

	"github.com/vishvananda/netlink"

	"go.fwabf.dev/fwabf/internal/logging"
)

// NetlinkAddressSync keeps a LocalAddressSet in sync with the kernel's
// interface address list: a one-time bulk load, followed by a live
// netlink.AddrSubscribe feed (spec §4.4, "interface address changes are the
// trigger for recomputing an ACL lookup context's family").
type NetlinkAddressSync struct {
	locals *LocalAddressSet
	logger *logging.Logger

	updates chan netlink.AddrUpdate
	done    chan struct{}
}

// NewNetlinkAddressSync constructs a syncer bound to locals. Call Start to
// begin watching.
func NewNetlinkAddressSync(locals *LocalAddressSet, logger *logging.Logger) *NetlinkAddressSync {
	return &NetlinkAddressSync{
		locals: locals,
		logger: logger,
	}
}

// Start loads the current address set and begins watching for changes. It
// returns once the initial load has completed; the watch loop runs in a
// background goroutine until Stop is called.
func (s *NetlinkAddressSync) Start() error {
	addrs, err := netlink.AddrList(nil, netlink.FAMILY_ALL)
	if err != nil {
		return fmt.Errorf("fwabf: list addresses: %w", err)
	}
	for _, a := range addrs {
		s.locals.Add(a.IP)
	}

	s.updates = make(chan netlink.AddrUpdate, 64)
	s.done = make(chan struct{})
	if err := netlink.AddrSubscribe(s.updates, s.done); err != nil {
		return fmt.Errorf("fwabf: subscribe to address updates: %w", err)
	}

	go s.watch()
	return nil
}

func (s *NetlinkAddressSync) watch() {
	for update := range s.updates {
		if update.NewAddr {
			s.locals.Add(update.LinkAddress.IP)
			if s.logger != nil {
				s.logger.Debug("fwabf local address added", "addr", update.LinkAddress.IP.String())
			}
		} else {
			s.locals.Remove(update.LinkAddress.IP)
			if s.logger != nil {
				s.logger.Debug("fwabf local address removed", "addr", update.LinkAddress.IP.String())
			}
		}
	}
}

// Stop terminates the watch loop.
func (s *NetlinkAddressSync) Stop() {
	if s.done != nil {
		close(s.done)
	}
}
