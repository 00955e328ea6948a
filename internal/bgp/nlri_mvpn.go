package bgp

import "fmt"

// MVPN route type codes (§4.4, AFI 1|2/SAFI 5).
const (
	MVPNTypeIntraASIPMSI   uint8 = 1
	MVPNTypeInterASIPMSI   uint8 = 2
	MVPNTypeSPMSI          uint8 = 3
	MVPNTypeLeafAD         uint8 = 4
	MVPNTypeSourceActive   uint8 = 5
	MVPNTypeSharedTreeJoin uint8 = 6
	MVPNTypeSourceTreeJoin uint8 = 7
)

// mcastAddr holds a multicast source or group address whose width (v4/v6)
// is carried on the wire as a bit-length marker: 32 for v4, 128 for v6,
// per §4.4's "for v6 uses 128-bit prefix-length markers where v4 uses 32".
type mcastAddr struct {
	IsV6 bool
	V4   AddrV4
	V6   AddrV6
}

func (a mcastAddr) String() string {
	if a.IsV6 {
		return formatV6(a.V6)
	}
	return fmt.Sprintf("%d.%d.%d.%d", a.V4[0], a.V4[1], a.V4[2], a.V4[3])
}

func decodeMcastAddr(buf []byte) (mcastAddr, []byte, error) {
	ln, rest, err := readUint8(buf)
	if err != nil {
		return mcastAddr{}, nil, err
	}
	switch ln {
	case 32:
		v4, rest, err := readAddrV4(rest)
		if err != nil {
			return mcastAddr{}, nil, errWrap(ErrInsufficientBuffer, "mvpn mcast addr v4", err)
		}
		return mcastAddr{V4: v4}, rest, nil
	case 128:
		v6, rest, err := readAddrV6(rest)
		if err != nil {
			return mcastAddr{}, nil, errWrap(ErrInsufficientBuffer, "mvpn mcast addr v6", err)
		}
		return mcastAddr{IsV6: true, V6: v6}, rest, nil
	default:
		return mcastAddr{}, nil, errProto("mvpn: mcast address length marker %d must be 32 or 128", ln)
	}
}

func encodeMcastAddr(buf []byte, a mcastAddr) []byte {
	if a.IsV6 {
		buf = writeUint8(buf, 128)
		return writeAddrV6(buf, a.V6)
	}
	buf = writeUint8(buf, 32)
	return writeAddrV4(buf, a.V4)
}

// MVPNRoute is the tagged union of the seven MVPN route types.
type MVPNRoute struct {
	Type uint8
	RD   RD

	// Type 1: Intra-AS I-PMSI A-D
	Originator mcastAddr

	// Type 2: Inter-AS I-PMSI A-D
	SourceAS uint32

	// Types 3, 5, 6, 7: (Source, Group), with 6/7 additionally carrying SourceAS
	Source mcastAddr
	Group  mcastAddr

	// Type 3 additionally carries an originator address after source/group.
	SPMSIOriginator mcastAddr

	// Type 4: Leaf A-D. Its NLRI nests a full type-3 S-PMSI route (the
	// join target) followed by the leaf's own originator address; it is
	// not an opaque blob.
	LeafSPMSI      *MVPNRoute
	LeafOriginator mcastAddr
}

func (m MVPNRoute) String() string {
	switch m.Type {
	case MVPNTypeIntraASIPMSI:
		return fmt.Sprintf("mvpn-intra-as %s originator=%s", m.RD.String(), m.Originator.String())
	case MVPNTypeInterASIPMSI:
		return fmt.Sprintf("mvpn-inter-as %s source-as=%d", m.RD.String(), m.SourceAS)
	case MVPNTypeSPMSI:
		return fmt.Sprintf("mvpn-spmsi %s (%s,%s)", m.RD.String(), m.Source.String(), m.Group.String())
	case MVPNTypeLeafAD:
		if m.LeafSPMSI != nil {
			return fmt.Sprintf("mvpn-leaf join=%s originator=%s", m.LeafSPMSI.String(), m.LeafOriginator.String())
		}
		return fmt.Sprintf("mvpn-leaf originator=%s", m.LeafOriginator.String())
	case MVPNTypeSourceActive:
		return fmt.Sprintf("mvpn-source-active %s (%s,%s)", m.RD.String(), m.Source.String(), m.Group.String())
	case MVPNTypeSharedTreeJoin:
		return fmt.Sprintf("mvpn-shared-join %s as=%d (%s,%s)", m.RD.String(), m.SourceAS, m.Source.String(), m.Group.String())
	case MVPNTypeSourceTreeJoin:
		return fmt.Sprintf("mvpn-source-join %s as=%d (%s,%s)", m.RD.String(), m.SourceAS, m.Source.String(), m.Group.String())
	default:
		return fmt.Sprintf("mvpn-unknown(%d)", m.Type)
	}
}

func decodeMVPNRoute(buf []byte) (MVPNRoute, []byte, error) {
	routeType, rest, err := readUint8(buf)
	if err != nil {
		return MVPNRoute{}, nil, err
	}
	length, rest, err := readUint8(rest)
	if err != nil {
		return MVPNRoute{}, nil, err
	}
	body, outerRest, err := take(rest, int(length))
	if err != nil {
		return MVPNRoute{}, nil, errWrap(ErrInsufficientBuffer, "mvpn route body", err)
	}

	switch routeType {
	case MVPNTypeIntraASIPMSI:
		rd, body, err := decodeRD(body)
		if err != nil {
			return MVPNRoute{}, nil, err
		}
		var orig mcastAddr
		switch len(body) {
		case 4:
			orig.V4, _, err = readAddrV4(body)
		case 16:
			orig.IsV6 = true
			orig.V6, _, err = readAddrV6(body)
		default:
			return MVPNRoute{}, nil, errProto("mvpn type-1: originator address length %d invalid", len(body))
		}
		if err != nil {
			return MVPNRoute{}, nil, err
		}
		return MVPNRoute{Type: routeType, RD: rd, Originator: orig}, outerRest, nil

	case MVPNTypeInterASIPMSI:
		rd, body, err := decodeRD(body)
		if err != nil {
			return MVPNRoute{}, nil, err
		}
		as, _, err := readUint32(body)
		if err != nil {
			return MVPNRoute{}, nil, err
		}
		return MVPNRoute{Type: routeType, RD: rd, SourceAS: as}, outerRest, nil

	case MVPNTypeSPMSI:
		rd, body, err := decodeRD(body)
		if err != nil {
			return MVPNRoute{}, nil, err
		}
		src, body, err := decodeMcastAddr(body)
		if err != nil {
			return MVPNRoute{}, nil, err
		}
		grp, body, err := decodeMcastAddr(body)
		if err != nil {
			return MVPNRoute{}, nil, err
		}
		var orig mcastAddr
		switch len(body) {
		case 4:
			orig.V4, _, err = readAddrV4(body)
		case 16:
			orig.IsV6 = true
			orig.V6, _, err = readAddrV6(body)
		case 0:
		default:
			return MVPNRoute{}, nil, errProto("mvpn type-3: trailing originator length %d invalid", len(body))
		}
		if err != nil {
			return MVPNRoute{}, nil, err
		}
		return MVPNRoute{Type: routeType, RD: rd, Source: src, Group: grp, SPMSIOriginator: orig}, outerRest, nil

	case MVPNTypeLeafAD:
		// The Leaf A-D payload nests a complete type-3 S-PMSI route (type
		// byte must read back as 3) ahead of the leaf's own originator.
		embedded, embRest, err := decodeMVPNRoute(body)
		if err != nil {
			return MVPNRoute{}, nil, errWrap(ErrProtocol, "mvpn type-4 embedded s-pmsi", err)
		}
		if embedded.Type != MVPNTypeSPMSI {
			return MVPNRoute{}, nil, errProto("mvpn type-4: embedded route type %d, want 3 (s-pmsi)", embedded.Type)
		}
		var orig mcastAddr
		switch len(embRest) {
		case 4:
			orig.V4, _, err = readAddrV4(embRest)
		case 16:
			orig.IsV6 = true
			orig.V6, _, err = readAddrV6(embRest)
		default:
			return MVPNRoute{}, nil, errProto("mvpn type-4: originator address length %d invalid", len(embRest))
		}
		if err != nil {
			return MVPNRoute{}, nil, err
		}
		embeddedCopy := embedded
		return MVPNRoute{Type: routeType, LeafSPMSI: &embeddedCopy, LeafOriginator: orig}, outerRest, nil

	case MVPNTypeSourceActive:
		rd, body, err := decodeRD(body)
		if err != nil {
			return MVPNRoute{}, nil, err
		}
		src, body, err := decodeMcastAddr(body)
		if err != nil {
			return MVPNRoute{}, nil, err
		}
		grp, _, err := decodeMcastAddr(body)
		if err != nil {
			return MVPNRoute{}, nil, err
		}
		return MVPNRoute{Type: routeType, RD: rd, Source: src, Group: grp}, outerRest, nil

	case MVPNTypeSharedTreeJoin, MVPNTypeSourceTreeJoin:
		rd, body, err := decodeRD(body)
		if err != nil {
			return MVPNRoute{}, nil, err
		}
		as, body, err := readUint32(body)
		if err != nil {
			return MVPNRoute{}, nil, err
		}
		src, body, err := decodeMcastAddr(body)
		if err != nil {
			return MVPNRoute{}, nil, err
		}
		grp, _, err := decodeMcastAddr(body)
		if err != nil {
			return MVPNRoute{}, nil, err
		}
		return MVPNRoute{Type: routeType, RD: rd, SourceAS: as, Source: src, Group: grp}, outerRest, nil

	default:
		return MVPNRoute{}, nil, errProto("mvpn: unknown route type %d", routeType)
	}
}

func encodeMVPNRoute(buf []byte, m MVPNRoute) []byte {
	var body []byte
	switch m.Type {
	case MVPNTypeIntraASIPMSI:
		body = encodeRD(body, m.RD)
		if m.Originator.IsV6 {
			body = writeAddrV6(body, m.Originator.V6)
		} else {
			body = writeAddrV4(body, m.Originator.V4)
		}
	case MVPNTypeInterASIPMSI:
		body = encodeRD(body, m.RD)
		body = writeUint32(body, m.SourceAS)
	case MVPNTypeSPMSI:
		body = encodeRD(body, m.RD)
		body = encodeMcastAddr(body, m.Source)
		body = encodeMcastAddr(body, m.Group)
		if m.SPMSIOriginator.IsV6 {
			body = writeAddrV6(body, m.SPMSIOriginator.V6)
		} else if m.SPMSIOriginator != (mcastAddr{}) {
			body = writeAddrV4(body, m.SPMSIOriginator.V4)
		}
	case MVPNTypeLeafAD:
		if m.LeafSPMSI != nil {
			body = encodeMVPNRoute(body, *m.LeafSPMSI)
		}
		if m.LeafOriginator.IsV6 {
			body = writeAddrV6(body, m.LeafOriginator.V6)
		} else {
			body = writeAddrV4(body, m.LeafOriginator.V4)
		}
	case MVPNTypeSourceActive:
		body = encodeRD(body, m.RD)
		body = encodeMcastAddr(body, m.Source)
		body = encodeMcastAddr(body, m.Group)
	case MVPNTypeSharedTreeJoin, MVPNTypeSourceTreeJoin:
		body = encodeRD(body, m.RD)
		body = writeUint32(body, m.SourceAS)
		body = encodeMcastAddr(body, m.Source)
		body = encodeMcastAddr(body, m.Group)
	}
	buf = writeUint8(buf, m.Type)
	buf = writeUint8(buf, uint8(len(body)))
	return append(buf, body...)
}
