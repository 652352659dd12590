// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwabf

import (
	"net"
	"sync"
)

// LocalAddressSet is C1: a bit-exact membership test for "is this address
// local to this node?", updated by address-configuration callbacks from the
// external networking stack (see netlink_addrs.go for the real source).
//
// Reads happen from control-plane code only (the datapath does not consult
// it per packet in this design; it exists for the `fwabf locals` surface and
// for collaborators that need it), so a plain RWMutex is sufficient - unlike
// the adjacency indexes in links.go, it is not on the hot path.
type LocalAddressSet struct {
	mu   sync.RWMutex
	ip4  map[[4]byte]struct{}
	ip6  map[[16]byte]struct{}
}

// NewLocalAddressSet returns an empty set.
func NewLocalAddressSet() *LocalAddressSet {
	return &LocalAddressSet{
		ip4: make(map[[4]byte]struct{}),
		ip6: make(map[[16]byte]struct{}),
	}
}

// Add registers addr as local. Called from address-add callbacks.
func (s *LocalAddressSet) Add(addr net.IP) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v4 := addr.To4(); v4 != nil {
		var key [4]byte
		copy(key[:], v4)
		s.ip4[key] = struct{}{}
		return
	}
	if v6 := addr.To16(); v6 != nil {
		var key [16]byte
		copy(key[:], v6)
		s.ip6[key] = struct{}{}
	}
}

// Remove unregisters addr. Called from address-delete callbacks.
func (s *LocalAddressSet) Remove(addr net.IP) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v4 := addr.To4(); v4 != nil {
		var key [4]byte
		copy(key[:], v4)
		delete(s.ip4, key)
		return
	}
	if v6 := addr.To16(); v6 != nil {
		var key [16]byte
		copy(key[:], v6)
		delete(s.ip6, key)
	}
}

// IsLocal reports whether addr is currently registered.
func (s *LocalAddressSet) IsLocal(addr net.IP) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v4 := addr.To4(); v4 != nil {
		var key [4]byte
		copy(key[:], v4)
		_, ok := s.ip4[key]
		return ok
	}
	if v6 := addr.To16(); v6 != nil {
		var key [16]byte
		copy(key[:], v6)
		_, ok := s.ip6[key]
		return ok
	}
	return false
}

// List enumerates every registered local address, for `show fwabf locals`.
func (s *LocalAddressSet) List() []net.IP {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]net.IP, 0, len(s.ip4)+len(s.ip6))
	for k := range s.ip4 {
		k := k
		out = append(out, net.IP(k[:]))
	}
	for k := range s.ip6 {
		k := k
		out = append(out, net.IP(k[:]))
	}
	return out
}
