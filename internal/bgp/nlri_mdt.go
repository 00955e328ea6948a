package bgp

import "fmt"

// BgpMdtV4 / BgpMdtV6 are the MDT SAFI item shapes (§4.4): an address
// prefix paired with a fixed-width multicast group address. The wrapper
// WithRD[BgpMdtV4] supplies the RD; the §3 outer bit-length covers the
// prefix bits plus the group's bit-width only (the RD is a fixed 8-octet
// field that precedes the length-governed region, not counted in it).
type BgpMdtV4 struct {
	Prefix PrefixV4
	Group  AddrV4
}

func (m BgpMdtV4) String() string {
	return fmt.Sprintf("%s group=%d.%d.%d.%d", m.Prefix.String(), m.Group[0], m.Group[1], m.Group[2], m.Group[3])
}

type BgpMdtV6 struct {
	Prefix PrefixV6
	Group  AddrV6
}

func (m BgpMdtV6) String() string {
	return fmt.Sprintf("%s group=%s", m.Prefix.String(), formatV6(m.Group))
}

func decodeMDTV4(buf []byte) (WithRD[BgpMdtV4], []byte, error) {
	totalBits, rest, err := readUint8(buf)
	if err != nil {
		return WithRD[BgpMdtV4]{}, nil, err
	}
	rd, rest, err := decodeRD(rest)
	if err != nil {
		return WithRD[BgpMdtV4]{}, nil, err
	}
	prefixBits := int(totalBits) - 32
	if prefixBits < 0 || prefixBits > 32 {
		return WithRD[BgpMdtV4]{}, nil, errProto("mdt v4: prefix bit length %d invalid", prefixBits)
	}
	addrOctets, rest, err := take(rest, byteLen(prefixBits))
	if err != nil {
		return WithRD[BgpMdtV4]{}, nil, errWrap(ErrInsufficientBuffer, "mdt v4 prefix", err)
	}
	group, rest, err := readAddrV4(rest)
	if err != nil {
		return WithRD[BgpMdtV4]{}, nil, errWrap(ErrInsufficientBuffer, "mdt v4 group", err)
	}
	var a AddrV4
	copy(a[:], addrOctets)
	mdt := BgpMdtV4{Prefix: PrefixV4{Addr: a, Len: uint8(prefixBits)}, Group: group}
	return WithRD[BgpMdtV4]{RD: rd, Inner: mdt}, rest, nil
}

func encodeMDTV4(buf []byte, w WithRD[BgpMdtV4]) []byte {
	totalBits := int(w.Inner.Prefix.Len) + 32
	buf = writeUint8(buf, uint8(totalBits))
	buf = encodeRD(buf, w.RD)
	n := byteLen(int(w.Inner.Prefix.Len))
	buf = append(buf, w.Inner.Prefix.Addr[:n]...)
	return writeAddrV4(buf, w.Inner.Group)
}

func decodeMDTV6(buf []byte) (WithRD[BgpMdtV6], []byte, error) {
	totalBits, rest, err := readUint8(buf)
	if err != nil {
		return WithRD[BgpMdtV6]{}, nil, err
	}
	rd, rest, err := decodeRD(rest)
	if err != nil {
		return WithRD[BgpMdtV6]{}, nil, err
	}
	prefixBits := int(totalBits) - 128
	if prefixBits < 0 || prefixBits > 128 {
		return WithRD[BgpMdtV6]{}, nil, errProto("mdt v6: prefix bit length %d invalid", prefixBits)
	}
	addrOctets, rest, err := take(rest, byteLen(prefixBits))
	if err != nil {
		return WithRD[BgpMdtV6]{}, nil, errWrap(ErrInsufficientBuffer, "mdt v6 prefix", err)
	}
	group, rest, err := readAddrV6(rest)
	if err != nil {
		return WithRD[BgpMdtV6]{}, nil, errWrap(ErrInsufficientBuffer, "mdt v6 group", err)
	}
	var a AddrV6
	copy(a[:], addrOctets)
	mdt := BgpMdtV6{Prefix: PrefixV6{Addr: a, Len: uint8(prefixBits)}, Group: group}
	return WithRD[BgpMdtV6]{RD: rd, Inner: mdt}, rest, nil
}

func encodeMDTV6(buf []byte, w WithRD[BgpMdtV6]) []byte {
	totalBits := int(w.Inner.Prefix.Len) + 128
	buf = writeUint8(buf, uint8(totalBits))
	buf = encodeRD(buf, w.RD)
	n := byteLen(int(w.Inner.Prefix.Len))
	buf = append(buf, w.Inner.Prefix.Addr[:n]...)
	return writeAddrV6(buf, w.Inner.Group)
}
