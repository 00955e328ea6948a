package bgp

// Update is a decoded BGP UPDATE body (§4.5): `withdrawn_len:u16,
// withdrawn[], attrs_len:u16, attrs[], reach_nlri[]`. Withdraws and the
// trailing reach list are parsed per the peer's transport family and
// ADD-PATH state; any MP-reach/MP-unreach attribute carries NLRI for
// other families and is not duplicated here.
type Update struct {
	Withdrawn  NLRISet
	Attributes []Attribute
	Reach      NLRISet
}

// DecodeUpdate implements §4.5's strict decoding order: withdraws, then
// attributes (each routed to its own decoder, stopping exactly at its
// declared length), then the trailing reach list consuming the remainder
// of body.
func DecodeUpdate(params *SessionParams, body []byte) (Update, error) {
	withdrawnLen, rest, err := readUint16(body)
	if err != nil {
		return Update{}, err
	}
	withdrawnBytes, rest, err := take(rest, int(withdrawnLen))
	if err != nil {
		return Update{}, errWrap(ErrInsufficientBuffer, "update withdrawn-routes", err)
	}

	attrsLen, rest, err := readUint16(rest)
	if err != nil {
		return Update{}, err
	}
	attrsBytes, rest, err := take(rest, int(attrsLen))
	if err != nil {
		return Update{}, errWrap(ErrInsufficientBuffer, "update path-attributes", err)
	}

	// Remainder of body is the trailing reach NLRI.
	reachBytes := rest

	afi, safi := peerFamilyAFISAFI(params.PeerFamily)

	withdrawn, err := DecodeNLRI(afi, safi, withdrawnBytes, params.AddPathEnabled(afi, safi, withdrawnBytes))
	if err != nil {
		return Update{}, err
	}

	var attrs []Attribute
	for len(attrsBytes) > 0 {
		a, next, err := decodeAttribute(attrsBytes, params)
		if err != nil {
			return Update{}, err
		}
		attrs = append(attrs, a)
		attrsBytes = next
	}

	reach, err := DecodeNLRI(afi, safi, reachBytes, params.AddPathEnabled(afi, safi, reachBytes))
	if err != nil {
		return Update{}, err
	}

	return Update{Withdrawn: withdrawn, Attributes: attrs, Reach: reach}, nil
}

// EncodeUpdate is the inverse of DecodeUpdate: it buffers withdraws and
// attributes before the reach list and back-patches the two 16-bit length
// prefixes (§4.5 Encoding).
func EncodeUpdate(params *SessionParams, u Update) ([]byte, error) {
	afi, safi := peerFamilyAFISAFI(params.PeerFamily)

	withdrawnBytes, err := EncodeNLRI(nil, nonEmptySet(u.Withdrawn, afi, safi, params))
	if err != nil {
		return nil, err
	}

	var attrsBytes []byte
	for _, a := range u.Attributes {
		attrsBytes, err = encodeAttribute(attrsBytes, a, params)
		if err != nil {
			return nil, err
		}
	}

	reachBytes, err := EncodeNLRI(nil, nonEmptySet(u.Reach, afi, safi, params))
	if err != nil {
		return nil, err
	}

	if len(withdrawnBytes) > 0xffff {
		return nil, errTooMany("update withdrawn-routes length %d exceeds 65535", len(withdrawnBytes))
	}
	if len(attrsBytes) > 0xffff {
		return nil, errTooMany("update path-attributes length %d exceeds 65535", len(attrsBytes))
	}

	buf := make([]byte, 0, 4+len(withdrawnBytes)+len(attrsBytes)+len(reachBytes))
	buf = writeUint16(buf, uint16(len(withdrawnBytes)))
	buf = append(buf, withdrawnBytes...)
	buf = writeUint16(buf, uint16(len(attrsBytes)))
	buf = append(buf, attrsBytes...)
	buf = append(buf, reachBytes...)
	return buf, nil
}

// nonEmptySet fills in AFI/SAFI/AddPath for a possibly-zero-value NLRISet
// so an Update built with a literal Withdrawn/Reach (no Items) still
// encodes to a correctly-tagged empty list.
func nonEmptySet(s NLRISet, afi uint16, safi uint8, params *SessionParams) NLRISet {
	if s.Items == nil {
		s.AFI, s.SAFI = afi, safi
		s.AddPath = params.AddPathEnabled(afi, safi, nil)
	}
	return s
}

func peerFamilyAFISAFI(f PeerFamily) (uint16, uint8) {
	if f == PeerFamilyIPv6 {
		return AFIIPv6, SAFIUnicast
	}
	return AFIIPv4, SAFIUnicast
}
