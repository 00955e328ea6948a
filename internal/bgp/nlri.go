package bgp

// BgpAddrV4 / BgpAddrV6 are the IPv4/IPv6 prefix shapes carried directly by
// the unicast and multicast families (§3 table).
type BgpAddrV4 = PrefixV4
type BgpAddrV6 = PrefixV6

// NLRISet is the tagged union of every supported address family (§3). Items
// holds a concrete typed slice selected by (AFI,SAFI,AddPath); use ItemsOf
// to recover it. This mirrors a closed sum type in languages with one:
// AFI/SAFI is the discriminant, Items is the payload.
type NLRISet struct {
	AFI     uint16
	SAFI    uint8
	AddPath bool
	Items   any
}

// ItemsOf type-asserts Items to the requested slice shape. ok is false if
// the caller guessed the wrong shape for this set's (AFI,SAFI,AddPath).
func ItemsOf[T any](s NLRISet) ([]T, bool) {
	v, ok := s.Items.([]T)
	return v, ok
}

// decodeItemList decodes a flat byte run into either []T or []WithPathID[T]
// depending on addPath, using decodeOne to consume a single item. Every
// family codec in nlri_*.go is built on this.
func decodeItemList[T NLRIItem](buf []byte, addPath bool, decodeOne func([]byte) (T, []byte, error)) (any, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	if addPath {
		var out []WithPathID[T]
		for len(buf) > 0 {
			id, rest, err := decodePathID(buf)
			if err != nil {
				return nil, err
			}
			item, rest2, err := decodeOne(rest)
			if err != nil {
				return nil, err
			}
			out = append(out, WithPathID[T]{ID: id, Inner: item})
			buf = rest2
		}
		return out, nil
	}
	var out []T
	for len(buf) > 0 {
		item, rest, err := decodeOne(buf)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
		buf = rest
	}
	return out, nil
}

// encodeItemList is the inverse of decodeItemList.
func encodeItemList[T NLRIItem](buf []byte, addPath bool, items any, encodeOne func([]byte, T) []byte) ([]byte, error) {
	if items == nil {
		return buf, nil
	}
	if addPath {
		list, ok := items.([]WithPathID[T])
		if !ok {
			return nil, errProto("nlri encode: expected add-path item list")
		}
		for _, it := range list {
			buf = encodePathID(buf, it.ID)
			buf = encodeOne(buf, it.Inner)
		}
		return buf, nil
	}
	list, ok := items.([]T)
	if !ok {
		return nil, errProto("nlri encode: expected plain item list")
	}
	for _, it := range list {
		buf = encodeOne(buf, it)
	}
	return buf, nil
}

// DecodeNLRI dispatches to the family codec selected by (afi,safi),
// per the table in spec §3. addPath indicates whether the negotiated
// ADD-PATH state requires a leading 32-bit path id on every item.
func DecodeNLRI(afi uint16, safi uint8, buf []byte, addPath bool) (NLRISet, error) {
	set := NLRISet{AFI: afi, SAFI: safi, AddPath: addPath}
	var items any
	var err error

	switch {
	case afi == AFIIPv4 && safi == SAFIUnicast:
		items, err = decodeItemList(buf, addPath, decodePrefixBitsV4)
	case afi == AFIIPv4 && safi == SAFIMulticast:
		items, err = decodeItemList(buf, addPath, decodePrefixBitsV4)
	case afi == AFIIPv4 && safi == SAFILabeledUnicast:
		items, err = decodeItemList(buf, addPath, decodeLabeledV4)
	case afi == AFIIPv4 && safi == SAFIVPNUnicast:
		items, err = decodeItemList(buf, addPath, decodeVPNV4)
	case afi == AFIIPv4 && safi == SAFIVPNMulticast:
		items, err = decodeItemList(buf, addPath, decodeVPNV4)
	case afi == AFIIPv4 && safi == SAFIMDT:
		items, err = decodeItemList(buf, addPath, decodeMDTV4)
	case afi == AFIIPv4 && safi == SAFIMVPN:
		items, err = decodeItemList(buf, addPath, decodeMVPNRoute)
	case afi == AFIIPv4 && safi == SAFIFlowSpec:
		items, err = decodeItemList(buf, addPath, decodeFlowSpecV4)
	case afi == AFIIPv4 && safi == SAFIFlowSpecVPN:
		items, err = decodeItemList(buf, addPath, decodeFlowSpecVPNV4)

	case afi == AFIIPv6 && safi == SAFIUnicast:
		items, err = decodeItemList(buf, addPath, decodePrefixBitsV6)
	case afi == AFIIPv6 && safi == SAFIMulticast:
		items, err = decodeItemList(buf, addPath, decodePrefixBitsV6)
	case afi == AFIIPv6 && safi == SAFILabeledUnicast:
		items, err = decodeItemList(buf, addPath, decodeLabeledV6)
	case afi == AFIIPv6 && safi == SAFIVPNUnicast:
		items, err = decodeItemList(buf, addPath, decodeVPNV6)
	case afi == AFIIPv6 && safi == SAFIVPNMulticast:
		items, err = decodeItemList(buf, addPath, decodeVPNV6)
	case afi == AFIIPv6 && safi == SAFIMDT:
		items, err = decodeItemList(buf, addPath, decodeMDTV6)
	case afi == AFIIPv6 && safi == SAFIMVPN:
		items, err = decodeItemList(buf, addPath, decodeMVPNRoute)
	case afi == AFIIPv6 && safi == SAFIFlowSpec:
		items, err = decodeItemList(buf, addPath, decodeFlowSpecV6)

	case afi == AFIL2VPN && safi == SAFIVPLS:
		items, err = decodeItemList(buf, addPath, decodeVPLSRoute)
	case afi == AFIL2VPN && safi == SAFIEVPN:
		items, err = decodeItemList(buf, addPath, decodeEVPNRoute)

	default:
		return set, errProto("unsupported afi/safi combination (%d,%d)", afi, safi)
	}
	if err != nil {
		return set, err
	}
	set.Items = items
	return set, nil
}

// EncodeNLRI is the inverse of DecodeNLRI.
func EncodeNLRI(buf []byte, set NLRISet) ([]byte, error) {
	switch {
	case set.AFI == AFIIPv4 && (set.SAFI == SAFIUnicast || set.SAFI == SAFIMulticast):
		return encodeItemList(buf, set.AddPath, set.Items, encodePrefixBitsV4)
	case set.AFI == AFIIPv4 && set.SAFI == SAFILabeledUnicast:
		return encodeItemList(buf, set.AddPath, set.Items, encodeLabeledV4)
	case set.AFI == AFIIPv4 && (set.SAFI == SAFIVPNUnicast || set.SAFI == SAFIVPNMulticast):
		return encodeItemList(buf, set.AddPath, set.Items, encodeVPNV4)
	case set.AFI == AFIIPv4 && set.SAFI == SAFIMDT:
		return encodeItemList(buf, set.AddPath, set.Items, encodeMDTV4)
	case set.AFI == AFIIPv4 && set.SAFI == SAFIMVPN:
		return encodeItemList(buf, set.AddPath, set.Items, encodeMVPNRoute)
	case set.AFI == AFIIPv4 && set.SAFI == SAFIFlowSpec:
		return encodeItemList(buf, set.AddPath, set.Items, encodeFlowSpecV4)
	case set.AFI == AFIIPv4 && set.SAFI == SAFIFlowSpecVPN:
		return encodeItemList(buf, set.AddPath, set.Items, encodeFlowSpecVPNV4)

	case set.AFI == AFIIPv6 && (set.SAFI == SAFIUnicast || set.SAFI == SAFIMulticast):
		return encodeItemList(buf, set.AddPath, set.Items, encodePrefixBitsV6)
	case set.AFI == AFIIPv6 && set.SAFI == SAFILabeledUnicast:
		return encodeItemList(buf, set.AddPath, set.Items, encodeLabeledV6)
	case set.AFI == AFIIPv6 && (set.SAFI == SAFIVPNUnicast || set.SAFI == SAFIVPNMulticast):
		return encodeItemList(buf, set.AddPath, set.Items, encodeVPNV6)
	case set.AFI == AFIIPv6 && set.SAFI == SAFIMDT:
		return encodeItemList(buf, set.AddPath, set.Items, encodeMDTV6)
	case set.AFI == AFIIPv6 && set.SAFI == SAFIMVPN:
		return encodeItemList(buf, set.AddPath, set.Items, encodeMVPNRoute)
	case set.AFI == AFIIPv6 && set.SAFI == SAFIFlowSpec:
		return encodeItemList(buf, set.AddPath, set.Items, encodeFlowSpecV6)

	case set.AFI == AFIL2VPN && set.SAFI == SAFIVPLS:
		return encodeItemList(buf, set.AddPath, set.Items, encodeVPLSRoute)
	case set.AFI == AFIL2VPN && set.SAFI == SAFIEVPN:
		return encodeItemList(buf, set.AddPath, set.Items, encodeEVPNRoute)

	default:
		return nil, errProto("unsupported afi/safi combination (%d,%d)", set.AFI, set.SAFI)
	}
}

// SupportedFamilies lists every (AFI,SAFI) pair DecodeNLRI/EncodeNLRI
// dispatch on, in the order they appear in the switch above. It exists so
// callers outside this package (e.g. an HTTP introspection endpoint) can
// report codec coverage without duplicating the family table.
func SupportedFamilies() []AFISAFI {
	return []AFISAFI{
		{AFI: AFIIPv4, SAFI: SAFIUnicast},
		{AFI: AFIIPv4, SAFI: SAFIMulticast},
		{AFI: AFIIPv4, SAFI: SAFILabeledUnicast},
		{AFI: AFIIPv4, SAFI: SAFIVPNUnicast},
		{AFI: AFIIPv4, SAFI: SAFIVPNMulticast},
		{AFI: AFIIPv4, SAFI: SAFIMDT},
		{AFI: AFIIPv4, SAFI: SAFIMVPN},
		{AFI: AFIIPv4, SAFI: SAFIFlowSpec},
		{AFI: AFIIPv4, SAFI: SAFIFlowSpecVPN},
		{AFI: AFIIPv6, SAFI: SAFIUnicast},
		{AFI: AFIIPv6, SAFI: SAFIMulticast},
		{AFI: AFIIPv6, SAFI: SAFILabeledUnicast},
		{AFI: AFIIPv6, SAFI: SAFIVPNUnicast},
		{AFI: AFIIPv6, SAFI: SAFIVPNMulticast},
		{AFI: AFIIPv6, SAFI: SAFIMDT},
		{AFI: AFIIPv6, SAFI: SAFIMVPN},
		{AFI: AFIIPv6, SAFI: SAFIFlowSpec},
		{AFI: AFIL2VPN, SAFI: SAFIVPLS},
		{AFI: AFIL2VPN, SAFI: SAFIEVPN},
	}
}

// fmtHex is a tiny helper shared by the family files for rendering opaque
// byte blobs (ESI, raw attribute payloads) without pulling in encoding/hex
// just for a Stringer.
func fmtHex(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0xf]
	}
	return string(out)
}
