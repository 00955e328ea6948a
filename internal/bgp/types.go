package bgp

// AFI codes (§4.4, GLOSSARY).
const (
	AFIIPv4  uint16 = 1
	AFIIPv6  uint16 = 2
	AFIL2VPN uint16 = 25
)

// SAFI codes (§4.4, GLOSSARY).
const (
	SAFIUnicast        uint8 = 1
	SAFIMulticast      uint8 = 2
	SAFILabeledUnicast uint8 = 4
	SAFIMVPN           uint8 = 5
	SAFIVPLS           uint8 = 65
	SAFIMDT            uint8 = 66
	SAFIEVPN           uint8 = 70
	SAFIVPNUnicast     uint8 = 128
	SAFIVPNMulticast   uint8 = 129
	SAFIFlowSpec       uint8 = 133
	SAFIFlowSpecVPN    uint8 = 134
)

// BGP message type codes (§4.6).
const (
	MsgTypeOpen         uint8 = 1
	MsgTypeUpdate       uint8 = 2
	MsgTypeNotification uint8 = 3
	MsgTypeKeepalive    uint8 = 4
)

// BGP header sizes (§4.6, §6.1).
const (
	MarkerSize = 16
	HeaderSize = 19 // marker(16) + length(2) + type(1)
)

// AS_PATH segment types (§4.3).
const (
	ASPathSegmentSet      uint8 = 1
	ASPathSegmentSequence uint8 = 2
)

// Origin values (§4.3).
const (
	OriginIGP        uint8 = 0
	OriginEGP        uint8 = 1
	OriginIncomplete uint8 = 2
)

// Well-known community values (§4.3).
const (
	CommunityNoExport          uint32 = 0xFFFFFF01
	CommunityNoAdvertise       uint32 = 0xFFFFFF02
	CommunityNoExportSubconfed uint32 = 0xFFFFFF03
	CommunityNoPeer            uint32 = 0xFFFFFF04
)
