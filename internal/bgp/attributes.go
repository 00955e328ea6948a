package bgp

import "fmt"

// Path attribute type codes and canonical flags (§4.3).
const (
	AttrOrigin          uint8 = 1
	AttrASPath          uint8 = 2
	AttrNextHop         uint8 = 3
	AttrMED             uint8 = 4
	AttrLocalPref       uint8 = 5
	AttrAtomicAggregate uint8 = 6
	AttrAggregator      uint8 = 7
	AttrCommunities     uint8 = 8
	AttrOriginatorID    uint8 = 9
	AttrClusterList     uint8 = 10
	AttrMPReach         uint8 = 14
	AttrMPUnreach       uint8 = 15
	AttrExtCommunities  uint8 = 16
	AttrConnector       uint8 = 20
	AttrPMSITunnel      uint8 = 22
	AttrLargeCommunities uint8 = 32
	AttrAttrSet         uint8 = 128
)

// Attribute flag bits (§3).
const (
	attrFlagOptional   uint8 = 0x80
	attrFlagTransitive uint8 = 0x40
	attrFlagPartial    uint8 = 0x20
	attrFlagExtLen     uint8 = 0x10
)

// Canonical flags per attribute, used on encode (§4.3 table: the 0x50/0x90
// entries there are base flags only — the extended-length bit 0x10 is set
// separately, on demand, once the encoded body length is known).
func canonicalFlags(typ uint8) uint8 {
	switch typ {
	case AttrOrigin, AttrNextHop, AttrLocalPref, AttrAtomicAggregate, AttrAggregator, AttrOriginatorID:
		return attrFlagTransitive
	case AttrASPath, AttrClusterList:
		return attrFlagTransitive
	case AttrMED:
		return attrFlagOptional
	case AttrCommunities, AttrExtCommunities, AttrConnector:
		return attrFlagOptional | attrFlagTransitive
	case AttrMPReach, AttrMPUnreach:
		return attrFlagOptional
	case AttrPMSITunnel:
		return attrFlagOptional | attrFlagTransitive
	case AttrLargeCommunities:
		return attrFlagOptional | attrFlagTransitive
	case AttrAttrSet:
		return attrFlagOptional | attrFlagTransitive
	default:
		return attrFlagOptional
	}
}

// Attribute is one decoded path attribute: either one of the recognized
// kinds below (exactly one field set, matching Type) or, for Type not in
// the recognized set, only Raw is populated (§4.3: "retained as an opaque
// payload").
type Attribute struct {
	Flags uint8
	Type  uint8

	Origin          *uint8
	ASPath          *ASPath
	NextHop         *NextHop
	MED             *uint32
	LocalPref       *uint32
	AtomicAggregate bool
	Aggregator      *Aggregator
	Communities     []uint32
	OriginatorID    *NextHop
	ClusterList     []AddrV4
	MPReach         *MPReach
	MPUnreach       *MPUnreach
	ExtCommunities  []ExtCommunity
	Connector       *ConnectorAttr
	PMSITunnel      *PMSITunnel
	LargeCommunities []LargeCommunity
	AttrSet         *AttributeSet
	Raw             []byte
}

// ASPath is a sequence of AS_SET / AS_SEQUENCE segments (§4.2 AS-path
// sub-state machine).
type ASPath struct {
	Segments []ASPathSegment
}

type ASPathSegment struct {
	Type uint8 // ASPathSegmentSet or ASPathSegmentSequence
	ASNs []uint32
}

// NextHop holds either a 4- or 16-octet address depending on the peer
// family (§4.3); also reused for Originator-ID, which shares the shape.
type NextHop struct {
	IsV6 bool
	V4   AddrV4
	V6   AddrV6
}

func (n NextHop) String() string {
	if n.IsV6 {
		return formatV6(n.V6)
	}
	return fmt.Sprintf("%d.%d.%d.%d", n.V4[0], n.V4[1], n.V4[2], n.V4[3])
}

type Aggregator struct {
	ASN      uint32
	RouterID AddrV4
}

type ExtCommunity struct {
	Type    uint8
	Subtype uint8
	Payload [6]byte
}

type ConnectorAttr struct {
	Type     uint16
	ASN      uint32
	Addr     AddrV4
	Origin   AddrV4
}

// PMSI tunnel type codes (§4.3).
const (
	PMSITunnelNone             uint8 = 0
	PMSITunnelRSVPTEP2MP       uint8 = 1
	PMSITunnelMLDPP2MP         uint8 = 2
	PMSITunnelIngressReplication uint8 = 6
)

// PMSITunnel is attribute 22. Label is a 3-octet MPLS label per §4.3.
// TunnelAttr is the opaque remainder after flags/tunnel_type/label,
// interpreted per tunnel_type. Open Question (a) (SPEC_FULL.md §6): for
// MLDP P2MP, the payload length is cross-checked against the attribute's
// own outer length rather than trusted from any inner length field, since
// not every observed vendor encodes one consistently.
type PMSITunnel struct {
	Flags      uint8
	TunnelType uint8
	Label      Label
	TunnelAttr []byte
}

type AttributeSet struct {
	ASN        uint32
	Attributes []Attribute
}

// decodeAttribute reads one attribute envelope and its payload, dispatching
// on Type. params governs AS width and peer family for the attributes that
// depend on negotiated session state (§4.2/§4.3).
func decodeAttribute(buf []byte, params *SessionParams) (Attribute, []byte, error) {
	flags, rest, err := readUint8(buf)
	if err != nil {
		return Attribute{}, nil, err
	}
	typ, rest, err := readUint8(rest)
	if err != nil {
		return Attribute{}, nil, err
	}

	var length int
	if flags&attrFlagExtLen != 0 {
		l, r, err := readUint16(rest)
		if err != nil {
			return Attribute{}, nil, err
		}
		length = int(l)
		rest = r
	} else {
		l, r, err := readUint8(rest)
		if err != nil {
			return Attribute{}, nil, err
		}
		length = int(l)
		rest = r
	}

	body, outerRest, err := take(rest, length)
	if err != nil {
		return Attribute{}, nil, errWrap(ErrInsufficientBuffer, "attribute body", err)
	}

	attr := Attribute{Flags: flags, Type: typ}
	if err := decodeAttributeBody(&attr, body, params); err != nil {
		return Attribute{}, nil, err
	}
	return attr, outerRest, nil
}

func decodeAttributeBody(attr *Attribute, body []byte, params *SessionParams) error {
	switch attr.Type {
	case AttrOrigin:
		if len(body) != 1 {
			return errProto("origin attribute must be 1 byte, got %d", len(body))
		}
		v := body[0]
		attr.Origin = &v

	case AttrASPath:
		path, err := decodeASPath(body, params.HasAS32Bit())
		if err != nil {
			return err
		}
		attr.ASPath = &path

	case AttrNextHop:
		nh, err := decodeNextHopBytes(body)
		if err != nil {
			return err
		}
		attr.NextHop = &nh

	case AttrMED:
		if len(body) != 4 {
			return errProto("med attribute must be 4 bytes, got %d", len(body))
		}
		v, _, _ := readUint32(body)
		attr.MED = &v

	case AttrLocalPref:
		if len(body) != 4 {
			return errProto("local-pref attribute must be 4 bytes, got %d", len(body))
		}
		v, _, _ := readUint32(body)
		attr.LocalPref = &v

	case AttrAtomicAggregate:
		attr.AtomicAggregate = true

	case AttrAggregator:
		agg, err := decodeAggregator(body, params.HasAS32Bit())
		if err != nil {
			return err
		}
		attr.Aggregator = &agg

	case AttrCommunities:
		if len(body)%4 != 0 {
			return errProto("communities attribute length %d not a multiple of 4", len(body))
		}
		for i := 0; i+4 <= len(body); i += 4 {
			v, _, _ := readUint32(body[i:])
			attr.Communities = append(attr.Communities, v)
		}

	case AttrOriginatorID:
		nh, err := decodeNextHopBytes(body)
		if err != nil {
			return err
		}
		attr.OriginatorID = &nh

	case AttrClusterList:
		if len(body)%4 != 0 {
			return errProto("cluster-list attribute length %d not a multiple of 4", len(body))
		}
		for i := 0; i+4 <= len(body); i += 4 {
			a, _, _ := readAddrV4(body[i:])
			attr.ClusterList = append(attr.ClusterList, a)
		}

	case AttrMPReach:
		mp, err := decodeMPReach(body, params)
		if err != nil {
			return err
		}
		attr.MPReach = &mp

	case AttrMPUnreach:
		mp, err := decodeMPUnreach(body, params)
		if err != nil {
			return err
		}
		attr.MPUnreach = &mp

	case AttrExtCommunities:
		if len(body)%8 != 0 {
			return errProto("extended-communities attribute length %d not a multiple of 8", len(body))
		}
		for i := 0; i+8 <= len(body); i += 8 {
			var ec ExtCommunity
			ec.Type = body[i]
			ec.Subtype = body[i+1]
			copy(ec.Payload[:], body[i+2:i+8])
			attr.ExtCommunities = append(attr.ExtCommunities, ec)
		}

	case AttrConnector:
		c, err := decodeConnector(body)
		if err != nil {
			return err
		}
		attr.Connector = &c

	case AttrPMSITunnel:
		p, err := decodePMSITunnel(body)
		if err != nil {
			return err
		}
		attr.PMSITunnel = &p

	case AttrLargeCommunities:
		if len(body)%12 != 0 {
			return errProto("large-communities attribute length %d not a multiple of 12", len(body))
		}
		for i := 0; i+12 <= len(body); i += 12 {
			ga, _, _ := readUint32(body[i:])
			l1, _, _ := readUint32(body[i+4:])
			l2, _, _ := readUint32(body[i+8:])
			attr.LargeCommunities = append(attr.LargeCommunities, LargeCommunity{GlobalAdmin: ga, LocalData1: l1, LocalData2: l2})
		}

	case AttrAttrSet:
		as, err := decodeAttributeSet(body, params)
		if err != nil {
			return err
		}
		attr.AttrSet = &as

	default:
		attr.Raw = append([]byte(nil), body...)
	}
	return nil
}

// LargeCommunity is attribute 32's 12-octet triple.
type LargeCommunity struct {
	GlobalAdmin uint32
	LocalData1  uint32
	LocalData2  uint32
}

func decodeASPath(body []byte, as32 bool) (ASPath, error) {
	var path ASPath
	width := 2
	if as32 {
		width = 4
	}
	for len(body) > 0 {
		segType, rest, err := readUint8(body)
		if err != nil {
			return ASPath{}, err
		}
		count, rest, err := readUint8(rest)
		if err != nil {
			return ASPath{}, err
		}
		seg := ASPathSegment{Type: segType}
		for i := 0; i < int(count); i++ {
			var asn uint32
			if width == 4 {
				v, r, err := readUint32(rest)
				if err != nil {
					return ASPath{}, errWrap(ErrInsufficientBuffer, "as-path 4-octet asn", err)
				}
				asn, rest = v, r
			} else {
				v, r, err := readUint16(rest)
				if err != nil {
					return ASPath{}, errWrap(ErrInsufficientBuffer, "as-path 2-octet asn", err)
				}
				asn, rest = uint32(v), r
			}
			seg.ASNs = append(seg.ASNs, asn)
		}
		path.Segments = append(path.Segments, seg)
		body = rest
	}
	return path, nil
}

func encodeASPath(buf []byte, path ASPath, as32 bool) []byte {
	for _, seg := range path.Segments {
		buf = writeUint8(buf, seg.Type)
		buf = writeUint8(buf, uint8(len(seg.ASNs)))
		for _, asn := range seg.ASNs {
			if as32 {
				buf = writeUint32(buf, asn)
			} else {
				buf = writeUint16(buf, uint16(asn))
			}
		}
	}
	return buf
}

func decodeNextHopBytes(body []byte) (NextHop, error) {
	switch len(body) {
	case 4:
		var a AddrV4
		copy(a[:], body)
		return NextHop{V4: a}, nil
	case 16:
		var a AddrV6
		copy(a[:], body)
		return NextHop{IsV6: true, V6: a}, nil
	default:
		return NextHop{}, errProto("next-hop length %d must be 4 or 16", len(body))
	}
}

func encodeNextHop(buf []byte, nh NextHop) []byte {
	if nh.IsV6 {
		return writeAddrV6(buf, nh.V6)
	}
	return writeAddrV4(buf, nh.V4)
}

func decodeAggregator(body []byte, as32 bool) (Aggregator, error) {
	width := 2
	if as32 {
		width = 4
	}
	if len(body) != width+4 {
		return Aggregator{}, errProto("aggregator attribute length %d inconsistent with as-width %d", len(body), width)
	}
	var asn uint32
	var rest []byte
	if as32 {
		v, r, _ := readUint32(body)
		asn, rest = v, r
	} else {
		v, r, _ := readUint16(body)
		asn, rest = uint32(v), r
	}
	rid, _, err := readAddrV4(rest)
	if err != nil {
		return Aggregator{}, err
	}
	return Aggregator{ASN: asn, RouterID: rid}, nil
}

func encodeAggregator(buf []byte, a Aggregator, as32 bool) []byte {
	if as32 {
		buf = writeUint32(buf, a.ASN)
	} else {
		buf = writeUint16(buf, uint16(a.ASN))
	}
	return writeAddrV4(buf, a.RouterID)
}

func decodeConnector(body []byte) (ConnectorAttr, error) {
	if len(body) != 14 {
		return ConnectorAttr{}, errProto("connector attribute must be 14 bytes, got %d", len(body))
	}
	typ, rest, _ := readUint16(body)
	asn, rest, _ := readUint32(rest)
	addr, rest, _ := readAddrV4(rest)
	origin, _, _ := readAddrV4(rest)
	return ConnectorAttr{Type: typ, ASN: asn, Addr: addr, Origin: origin}, nil
}

func encodeConnector(buf []byte, c ConnectorAttr) []byte {
	buf = writeUint16(buf, c.Type)
	buf = writeUint32(buf, c.ASN)
	buf = writeAddrV4(buf, c.Addr)
	return writeAddrV4(buf, c.Origin)
}

func decodePMSITunnel(body []byte) (PMSITunnel, error) {
	if len(body) < 5 {
		return PMSITunnel{}, errProto("pmsi tunnel attribute too short: %d bytes", len(body))
	}
	flags := body[0]
	tunnelType := body[1]
	labelRaw := uint32(body[2])<<16 | uint32(body[3])<<8 | uint32(body[4])
	label := Label(labelRaw >> 4)
	rest := append([]byte(nil), body[5:]...)
	// Open Question (a): for mLDP P2MP, re-validate rest's length against
	// the outer attribute length (already enforced by the caller passing
	// exactly `body`) rather than trusting any nested length field; no
	// vendor-specific inner length is parsed here.
	return PMSITunnel{Flags: flags, TunnelType: tunnelType, Label: label, TunnelAttr: rest}, nil
}

func encodePMSITunnel(buf []byte, p PMSITunnel) []byte {
	buf = writeUint8(buf, p.Flags)
	buf = writeUint8(buf, p.TunnelType)
	raw := uint32(p.Label) << 4
	buf = append(buf, byte(raw>>16), byte(raw>>8), byte(raw))
	return append(buf, p.TunnelAttr...)
}

func decodeAttributeSet(body []byte, params *SessionParams) (AttributeSet, error) {
	if len(body) < 4 {
		return AttributeSet{}, errProto("attr-set attribute too short: %d bytes", len(body))
	}
	asn, rest, _ := readUint32(body)
	var attrs []Attribute
	for len(rest) > 0 {
		a, next, err := decodeAttribute(rest, params)
		if err != nil {
			return AttributeSet{}, err
		}
		attrs = append(attrs, a)
		rest = next
	}
	return AttributeSet{ASN: asn, Attributes: attrs}, nil
}

func encodeAttributeSet(buf []byte, as AttributeSet, params *SessionParams) ([]byte, error) {
	buf = writeUint32(buf, as.ASN)
	for _, a := range as.Attributes {
		var err error
		buf, err = encodeAttribute(buf, a, params)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// MPReach is attribute 14 (§4.3): afi/safi select the NLRI variant; the
// next-hop shape depends on (afi,safi) and may itself carry an RD (VPN
// next hops prepend an 8-octet RD, conventionally zero, before the
// address).
type MPReach struct {
	AFI    uint16
	SAFI   uint8
	NHRD   *RD
	NextHop NextHop
	NLRI   NLRISet
}

func decodeMPReach(body []byte, params *SessionParams) (MPReach, error) {
	afi, rest, err := readUint16(body)
	if err != nil {
		return MPReach{}, err
	}
	safi, rest, err := readUint8(rest)
	if err != nil {
		return MPReach{}, err
	}
	nhLen, rest, err := readUint8(rest)
	if err != nil {
		return MPReach{}, err
	}
	nhBytes, rest, err := take(rest, int(nhLen))
	if err != nil {
		return MPReach{}, errWrap(ErrInsufficientBuffer, "mp-reach next-hop", err)
	}
	_, rest, err = readUint8(rest) // reserved SNPA count, always 0
	if err != nil {
		return MPReach{}, err
	}

	var mp MPReach
	mp.AFI, mp.SAFI = afi, safi
	if err := decodeMPNextHop(&mp, nhBytes); err != nil {
		return MPReach{}, err
	}

	set, err := DecodeNLRI(afi, safi, rest, params.AddPathEnabled(afi, safi, rest))
	if err != nil {
		return MPReach{}, err
	}
	mp.NLRI = set
	return mp, nil
}

// decodeMPNextHop splits off a leading 8-octet RD when the next-hop length
// indicates one is present (12 = RD+v4, 24 = RD+v6), per §4.3.
func decodeMPNextHop(mp *MPReach, nh []byte) error {
	switch len(nh) {
	case 4:
		var a AddrV4
		copy(a[:], nh)
		mp.NextHop = NextHop{V4: a}
	case 16:
		var a AddrV6
		copy(a[:], nh)
		mp.NextHop = NextHop{IsV6: true, V6: a}
	case 12:
		rd, rest, err := decodeRD(nh)
		if err != nil {
			return err
		}
		mp.NHRD = &rd
		var a AddrV4
		copy(a[:], rest)
		mp.NextHop = NextHop{V4: a}
	case 24:
		rd, rest, err := decodeRD(nh)
		if err != nil {
			return err
		}
		mp.NHRD = &rd
		var a AddrV6
		copy(a[:], rest)
		mp.NextHop = NextHop{IsV6: true, V6: a}
	default:
		return errProto("mp-reach next-hop length %d not a recognized shape", len(nh))
	}
	return nil
}

func encodeMPReach(buf []byte, mp MPReach) ([]byte, error) {
	buf = writeUint16(buf, mp.AFI)
	buf = writeUint8(buf, mp.SAFI)

	var nh []byte
	if mp.NHRD != nil {
		nh = encodeRD(nh, *mp.NHRD)
	}
	if mp.NextHop.IsV6 {
		nh = writeAddrV6(nh, mp.NextHop.V6)
	} else {
		nh = writeAddrV4(nh, mp.NextHop.V4)
	}
	buf = writeUint8(buf, uint8(len(nh)))
	buf = append(buf, nh...)
	buf = writeUint8(buf, 0) // reserved

	nlri, err := EncodeNLRI(nil, mp.NLRI)
	if err != nil {
		return nil, err
	}
	return append(buf, nlri...), nil
}

// MPUnreach is attribute 15.
type MPUnreach struct {
	AFI  uint16
	SAFI uint8
	NLRI NLRISet
}

func decodeMPUnreach(body []byte, params *SessionParams) (MPUnreach, error) {
	afi, rest, err := readUint16(body)
	if err != nil {
		return MPUnreach{}, err
	}
	safi, rest, err := readUint8(rest)
	if err != nil {
		return MPUnreach{}, err
	}
	set, err := DecodeNLRI(afi, safi, rest, params.AddPathEnabled(afi, safi, rest))
	if err != nil {
		return MPUnreach{}, err
	}
	return MPUnreach{AFI: afi, SAFI: safi, NLRI: set}, nil
}

func encodeMPUnreach(buf []byte, mp MPUnreach) ([]byte, error) {
	buf = writeUint16(buf, mp.AFI)
	buf = writeUint8(buf, mp.SAFI)
	return EncodeNLRI(buf, mp.NLRI)
}

// encodeAttribute writes the flags/type/length envelope followed by the
// type-specific payload, choosing 1- or 2-octet length as needed and
// using canonical flags rather than whatever was decoded (§4.3: "re-encode
// with the canonical flags shown"), except for Raw attributes which keep
// their original flags and type since the decoder never interpreted them.
func encodeAttribute(buf []byte, attr Attribute, params *SessionParams) ([]byte, error) {
	var body []byte
	flags := canonicalFlags(attr.Type)
	typ := attr.Type

	switch {
	case attr.Origin != nil:
		body = writeUint8(body, *attr.Origin)
	case attr.ASPath != nil:
		body = encodeASPath(body, *attr.ASPath, params.HasAS32Bit())
		flags = attrFlagTransitive
	case attr.NextHop != nil:
		body = encodeNextHop(body, *attr.NextHop)
	case attr.MED != nil:
		body = writeUint32(body, *attr.MED)
	case attr.LocalPref != nil:
		body = writeUint32(body, *attr.LocalPref)
	case attr.AtomicAggregate:
		// body stays empty
	case attr.Aggregator != nil:
		body = encodeAggregator(body, *attr.Aggregator, params.HasAS32Bit())
	case len(attr.Communities) > 0 || typ == AttrCommunities:
		for _, c := range attr.Communities {
			body = writeUint32(body, c)
		}
	case attr.OriginatorID != nil:
		body = encodeNextHop(body, *attr.OriginatorID)
	case len(attr.ClusterList) > 0 || typ == AttrClusterList:
		flags = attrFlagTransitive
		for _, a := range attr.ClusterList {
			body = writeAddrV4(body, a)
		}
	case attr.MPReach != nil:
		var err error
		body, err = encodeMPReach(body, *attr.MPReach)
		if err != nil {
			return nil, err
		}
	case attr.MPUnreach != nil:
		var err error
		body, err = encodeMPUnreach(body, *attr.MPUnreach)
		if err != nil {
			return nil, err
		}
	case len(attr.ExtCommunities) > 0 || typ == AttrExtCommunities:
		for _, ec := range attr.ExtCommunities {
			body = append(body, ec.Type, ec.Subtype)
			body = append(body, ec.Payload[:]...)
		}
	case attr.Connector != nil:
		body = encodeConnector(body, *attr.Connector)
	case attr.PMSITunnel != nil:
		body = encodePMSITunnel(body, *attr.PMSITunnel)
	case len(attr.LargeCommunities) > 0 || typ == AttrLargeCommunities:
		for _, lc := range attr.LargeCommunities {
			body = writeUint32(body, lc.GlobalAdmin)
			body = writeUint32(body, lc.LocalData1)
			body = writeUint32(body, lc.LocalData2)
		}
	case attr.AttrSet != nil:
		var err error
		body, err = encodeAttributeSet(body, *attr.AttrSet, params)
		if err != nil {
			return nil, err
		}
	default:
		body = attr.Raw
		flags = attr.Flags
		typ = attr.Type
	}

	if len(body) > 0xffff {
		return nil, errTooMany("attribute %d body length %d exceeds 65535", typ, len(body))
	}
	if len(body) > 0xff {
		flags |= attrFlagExtLen
	}

	buf = writeUint8(buf, flags)
	buf = writeUint8(buf, typ)
	if flags&attrFlagExtLen != 0 {
		buf = writeUint16(buf, uint16(len(body)))
	} else {
		buf = writeUint8(buf, uint8(len(body)))
	}
	return append(buf, body...), nil
}

// WellKnownCommunityName renders a community value symbolically when it
// matches one of the reserved names (§4.3), else returns ok=false.
func WellKnownCommunityName(v uint32) (string, bool) {
	switch v {
	case CommunityNoExport:
		return "NO_EXPORT", true
	case CommunityNoAdvertise:
		return "NO_ADVERTISE", true
	case CommunityNoExportSubconfed:
		return "NO_EXPORT_SUBCONFED", true
	case CommunityNoPeer:
		return "NOPEER", true
	default:
		return "", false
	}
}
