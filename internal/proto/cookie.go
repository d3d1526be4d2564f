package proto

import (
	"hash/fnv"
	"net/netip"
	"time"
)

// GenerateCookie mints a server-side handshake cookie by xor-folding the
// 32-bit halves of a high-resolution timestamp, the way the reference
// implementation derives its cookie from a mixed nanosecond counter. It is
// not cryptographically secure; this layer's anti-spoofing is
// best-effort-only (see SPEC_FULL.md Non-goals).
func GenerateCookie() uint32 {
	nanos := uint64(time.Now().UnixNano())
	return uint32(nanos) ^ uint32(nanos>>32)
}

// HashAddr derives a connection id from a peer address. Collisions are
// possible in principle (see SPEC_FULL.md §9 / Open Question); this
// implementation accepts that tradeoff rather than keying the connection
// table off the full address, since the hash is also handed to applications
// as the stable external connection handle.
func HashAddr(addr netip.AddrPort) uint64 {
	h := fnv.New64a()
	h.Write([]byte(addr.String()))
	return h.Sum64()
}
