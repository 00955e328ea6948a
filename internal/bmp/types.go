// Package bmp implements BMP v3 (BGP Monitoring Protocol) framing and the
// per-peer session table that reconstructs negotiated BGP capabilities for
// decoding embedded UPDATE messages (RFC 7854).
package bmp

// BMP message type codes (RFC 7854 §4.2).
const (
	MsgTypeRouteMonitoring  uint8 = 0
	MsgTypeStatisticsReport uint8 = 1
	MsgTypePeerDown         uint8 = 2
	MsgTypePeerUp           uint8 = 3
	MsgTypeInitiation       uint8 = 4
	MsgTypeTermination      uint8 = 5
	MsgTypeRouteMirroring   uint8 = 6
)

// BMP peer types (RFC 7854 §4.2, RFC 9069 for Loc-RIB).
const (
	PeerTypeGlobal uint8 = 0
	PeerTypeRD     uint8 = 1
	PeerTypeLocal  uint8 = 2
	PeerTypeLocRIB uint8 = 3
)

// BMP header sizes.
const (
	CommonHeaderSize  = 6  // version(1) + msg_length(4) + msg_type(1)
	PerPeerHeaderSize = 42 // peer_type(1) + flags(1) + rd(8) + peer_ip(16) + asn(4) + router_id(4) + timestamp(8)
)

// BMPVersion is the only protocol version this package decodes.
const BMPVersion uint8 = 3

// Peer flags (RFC 7854 §4.2): the high bit marks an IPv6 peer address, the
// next a post-policy Adj-RIB-In, the next legacy (2-octet) AS_PATH framing.
const (
	PeerFlagIPv6         uint8 = 0x80
	PeerFlagPostPolicy   uint8 = 0x40
	PeerFlagLegacyASPath uint8 = 0x20
	PeerFlagAdjRIBOut    uint8 = 0x10
)

// Information TLV type codes shared by Initiation and Termination messages
// (RFC 7854 §4.4, §4.5).
const (
	TLVTypeString   uint16 = 0
	TLVTypeSysDescr uint16 = 1
	TLVTypeSysName  uint16 = 2
	TLVTypeReason   uint16 = 1 // Termination only: 2-octet reason code
)

// Peer Down reason codes (RFC 7854 §4.9).
const (
	PeerDownLocalNotification  uint8 = 1
	PeerDownLocalNoNotification uint8 = 2
	PeerDownRemoteNotification uint8 = 3
	PeerDownRemoteNoNotification uint8 = 4
	PeerDownDeconfigured       uint8 = 5
)

// Route Mirroring TLV type codes (RFC 7854 §4.7).
const (
	MirrorTLVInformation uint16 = 0
	MirrorTLVBGPMessage  uint16 = 1
)
