package bmp

import (
	"encoding/binary"
	"fmt"

	"github.com/route-beacon/bgpflow/internal/bgp"
)

// PeerHeader is the 42-octet per-peer header carried by RouteMonitoring,
// StatisticsReport, PeerDown, PeerUp, and RouteMirroring messages (§6.2):
// `peer_type:u8, flags:u8, rd[8], peer_ip[16], asn:u32, router_id[4],
// timestamp:u64`. IPv4 peer addresses are v4-mapped into the 16-octet
// slot (high 12 octets zero).
type PeerHeader struct {
	PeerType  uint8
	Flags     uint8
	RD        bgp.RD
	PeerIP    [16]byte
	ASN       uint32
	RouterID  bgp.AddrV4
	Timestamp uint64 // high 32 bits seconds, low 32 bits microseconds
}

func (p PeerHeader) IsIPv6() bool         { return p.Flags&PeerFlagIPv6 != 0 }
func (p PeerHeader) IsPostPolicy() bool   { return p.Flags&PeerFlagPostPolicy != 0 }
func (p PeerHeader) IsLegacyASPath() bool { return p.Flags&PeerFlagLegacyASPath != 0 }
func (p PeerHeader) IsLocRIB() bool       { return p.PeerType == PeerTypeLocRIB }

func (p PeerHeader) TimestampSec() uint32  { return uint32(p.Timestamp >> 32) }
func (p PeerHeader) TimestampUsec() uint32 { return uint32(p.Timestamp) }

// PeerAddrV4 returns the peer's IPv4 address when Flags does not mark it
// as IPv6.
func (p PeerHeader) PeerAddrV4() (bgp.AddrV4, bool) {
	if p.IsIPv6() {
		return bgp.AddrV4{}, false
	}
	var a bgp.AddrV4
	copy(a[:], p.PeerIP[12:16])
	return a, true
}

func (p PeerHeader) PeerAddrV6() bgp.AddrV6 {
	return bgp.AddrV6(p.PeerIP)
}

func (p PeerHeader) String() string {
	if v4, ok := p.PeerAddrV4(); ok {
		return fmt.Sprintf("%d.%d.%d.%d", v4[0], v4[1], v4[2], v4[3])
	}
	v6 := p.PeerAddrV6()
	return fmt.Sprintf("%x", v6[:])
}

// sessionKey identifies a BMP peer session for the §4.7 table: (peer RD,
// peer IP). Both fields are comparable, so sessionKey is usable as a map
// key directly.
type sessionKey struct {
	RD     bgp.RD
	PeerIP [16]byte
}

func (p PeerHeader) key() sessionKey {
	return sessionKey{RD: p.RD, PeerIP: p.PeerIP}
}

func decodePeerHeader(buf []byte) (PeerHeader, []byte, error) {
	if len(buf) < PerPeerHeaderSize {
		return PeerHeader{}, nil, errShort("need %d bytes for bmp per-peer header, have %d", PerPeerHeaderSize, len(buf))
	}
	var h PeerHeader
	h.PeerType = buf[0]
	h.Flags = buf[1]
	rd, _, err := bgp.DecodeRD(buf[2:10])
	if err != nil {
		return PeerHeader{}, nil, err
	}
	h.RD = rd
	copy(h.PeerIP[:], buf[10:26])
	h.ASN = binary.BigEndian.Uint32(buf[26:30])
	copy(h.RouterID[:], buf[30:34])
	h.Timestamp = binary.BigEndian.Uint64(buf[34:42])
	return h, buf[PerPeerHeaderSize:], nil
}

func encodePeerHeader(buf []byte, h PeerHeader) []byte {
	buf = append(buf, h.PeerType, h.Flags)
	buf = bgp.EncodeRD(buf, h.RD)
	buf = append(buf, h.PeerIP[:]...)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], h.ASN)
	buf = append(buf, tmp[:]...)
	buf = append(buf, h.RouterID[:]...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], h.Timestamp)
	return append(buf, ts[:]...)
}
