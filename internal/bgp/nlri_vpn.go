package bgp

// VPN unicast/multicast (§4.4): `Labeled<WithRD<Addr>>`, wire layout
// `label_stack | rd[8] | prefix_bytes`, with one declared bit-length
// spanning all three components.

func decodeVPNV4(buf []byte) (Labeled[WithRD[BgpAddrV4]], []byte, error) {
	totalBits, rest, err := readUint8(buf)
	if err != nil {
		return Labeled[WithRD[BgpAddrV4]]{}, nil, err
	}
	totalBytes := byteLen(int(totalBits))
	body, rest, err := take(rest, totalBytes)
	if err != nil {
		return Labeled[WithRD[BgpAddrV4]]{}, nil, errWrap(ErrInsufficientBuffer, "vpnv4 body", err)
	}
	stack, bitsUsed, afterLabels, err := decodeLabelStack(body)
	if err != nil {
		return Labeled[WithRD[BgpAddrV4]]{}, nil, err
	}
	rd, afterRD, err := decodeRD(afterLabels)
	if err != nil {
		return Labeled[WithRD[BgpAddrV4]]{}, nil, err
	}
	addrBits := int(totalBits) - bitsUsed - 64
	if addrBits < 0 || addrBits > 32 {
		return Labeled[WithRD[BgpAddrV4]]{}, nil, errProto("vpnv4: address bit length %d invalid", addrBits)
	}
	var a AddrV4
	copy(a[:], afterRD)
	inner := WithRD[BgpAddrV4]{RD: rd, Inner: BgpAddrV4{Addr: a, Len: uint8(addrBits)}}
	return Labeled[WithRD[BgpAddrV4]]{Labels: stack, Inner: inner}, rest, nil
}

func encodeVPNV4(buf []byte, l Labeled[WithRD[BgpAddrV4]]) []byte {
	totalBits := l.Labels.bitLen() + 64 + int(l.Inner.Inner.Len)
	buf = writeUint8(buf, uint8(totalBits))
	buf = encodeLabelStack(buf, l.Labels)
	buf = encodeRD(buf, l.Inner.RD)
	n := byteLen(int(l.Inner.Inner.Len))
	return append(buf, l.Inner.Inner.Addr[:n]...)
}

func decodeVPNV6(buf []byte) (Labeled[WithRD[BgpAddrV6]], []byte, error) {
	totalBits, rest, err := readUint8(buf)
	if err != nil {
		return Labeled[WithRD[BgpAddrV6]]{}, nil, err
	}
	totalBytes := byteLen(int(totalBits))
	body, rest, err := take(rest, totalBytes)
	if err != nil {
		return Labeled[WithRD[BgpAddrV6]]{}, nil, errWrap(ErrInsufficientBuffer, "vpnv6 body", err)
	}
	stack, bitsUsed, afterLabels, err := decodeLabelStack(body)
	if err != nil {
		return Labeled[WithRD[BgpAddrV6]]{}, nil, err
	}
	rd, afterRD, err := decodeRD(afterLabels)
	if err != nil {
		return Labeled[WithRD[BgpAddrV6]]{}, nil, err
	}
	addrBits := int(totalBits) - bitsUsed - 64
	if addrBits < 0 || addrBits > 128 {
		return Labeled[WithRD[BgpAddrV6]]{}, nil, errProto("vpnv6: address bit length %d invalid", addrBits)
	}
	var a AddrV6
	copy(a[:], afterRD)
	inner := WithRD[BgpAddrV6]{RD: rd, Inner: BgpAddrV6{Addr: a, Len: uint8(addrBits)}}
	return Labeled[WithRD[BgpAddrV6]]{Labels: stack, Inner: inner}, rest, nil
}

func encodeVPNV6(buf []byte, l Labeled[WithRD[BgpAddrV6]]) []byte {
	totalBits := l.Labels.bitLen() + 64 + int(l.Inner.Inner.Len)
	buf = writeUint8(buf, uint8(totalBits))
	buf = encodeLabelStack(buf, l.Labels)
	buf = encodeRD(buf, l.Inner.RD)
	n := byteLen(int(l.Inner.Inner.Len))
	return append(buf, l.Inner.Inner.Addr[:n]...)
}
