// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwabf

// FlowHash computes the canonical 5-tuple flow hash used by both the
// datapath's own FIB-finalization bucket selection (spec §4.5) and policy
// resolution's random group/label selection (spec §4.3). The source
// recomputes this hash rather than reusing one a prior FIB-lookup node may
// have stored, because the hash configuration can differ per call site
// (spec §9) - this is the engine's own, fixed configuration: protocol,
// both addresses, both ports.
//
// The hash is symmetric under swapping (SrcIP,SrcPort) with
// (DstIP,DstPort): addresses and ports are folded together with XOR/addition
// before mixing, so both directions of a flow land on the same bucket.
func FlowHash(t FiveTuple) uint32 {
	addrFold := foldIP(t.SrcIP) ^ foldIP(t.DstIP)
	portFold := uint32(t.SrcPort) + uint32(t.DstPort)

	h := uint32(2166136261) // FNV-1a offset basis
	h = mix(h, addrFold)
	h = mix(h, portFold)
	h = mix(h, uint32(t.Proto))
	return h
}

func mix(h, v uint32) uint32 {
	h ^= v
	h *= 16777619 // FNV-1a prime
	h ^= h >> 15
	return h
}

// foldIP reduces an address to a 32-bit value that is the same regardless
// of whether it is presented as the 4-byte or 16-byte form: a v4-in-v6
// address is reduced to its 4-byte form first, and any other 16-byte address
// is folded down with XOR across 4-byte lanes.
func foldIP(ip []byte) uint32 {
	if v4 := normalizeV4(ip); v4 != nil {
		return be32(v4)
	}
	if len(ip) != 16 {
		return 0
	}
	var acc uint32
	for i := 0; i < 16; i += 4 {
		acc ^= be32(ip[i : i+4])
	}
	return acc
}

func normalizeV4(ip []byte) []byte {
	if len(ip) == 4 {
		return ip
	}
	if len(ip) == 16 && isV4InV6(ip) {
		return ip[12:16]
	}
	return nil
}

func isV4InV6(ip []byte) bool {
	for i := 0; i < 10; i++ {
		if ip[i] != 0 {
			return false
		}
	}
	return ip[10] == 0xff && ip[11] == 0xff
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// boundedRandomIndex converts a flow hash into an index in [0, nMinus1]
// without using modulo, matching the source's two-tier power-of-two mask
// (spec §4.3, and original_source/fwabf_policy.c's
// FWABF_GET_INDEX_BY_FLOWHASH): mask is 0xF for up to 15 candidates, 0xFF
// above that ("more than 255 groups is impractical").
func boundedRandomIndex(h uint32, pow2Mask, nMinus1 uint32) uint32 {
	i := h & pow2Mask
	if i > nMinus1 {
		i &= nMinus1
	}
	return i
}

// pow2MaskFor returns the two-tier mask for a candidate count, as computed
// once by policy installation (spec §4.3's "derived fields"): 0xF covers up
// to 15 candidates, matching original_source/src/plugins/fwabf/fwabf_policy.c's
// `(vec_len(...) <= 0xF) ? 0xF : 0xFF`.
func pow2MaskFor(n int) uint32 {
	if n <= 15 {
		return 0xF
	}
	return 0xFF
}
