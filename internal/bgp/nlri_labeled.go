package bgp

// Labeled unicast (§4.4): the wire item is `label_stack | prefix_bytes`,
// where the single declared bit-length covers both the label stack and the
// address bits together. The decoder splits the stack first (24 bits per
// label, honoring the bottom-of-stack bit and the §3 sentinels), then
// treats whatever bits remain as the address prefix.

func decodeLabeledV4(buf []byte) (Labeled[BgpAddrV4], []byte, error) {
	totalBits, rest, err := readUint8(buf)
	if err != nil {
		return Labeled[BgpAddrV4]{}, nil, err
	}
	totalBytes := byteLen(int(totalBits))
	body, rest, err := take(rest, totalBytes)
	if err != nil {
		return Labeled[BgpAddrV4]{}, nil, errWrap(ErrInsufficientBuffer, "labeled-unicast v4 body", err)
	}
	stack, bitsUsed, addrBytes, err := decodeLabelStack(body)
	if err != nil {
		return Labeled[BgpAddrV4]{}, nil, err
	}
	addrBits := int(totalBits) - bitsUsed
	if addrBits < 0 || addrBits > 32 {
		return Labeled[BgpAddrV4]{}, nil, errProto("labeled-unicast v4: address bit length %d invalid", addrBits)
	}
	var a AddrV4
	copy(a[:], addrBytes)
	return Labeled[BgpAddrV4]{Labels: stack, Inner: BgpAddrV4{Addr: a, Len: uint8(addrBits)}}, rest, nil
}

func encodeLabeledV4(buf []byte, l Labeled[BgpAddrV4]) []byte {
	totalBits := l.Labels.bitLen() + int(l.Inner.Len)
	buf = writeUint8(buf, uint8(totalBits))
	buf = encodeLabelStack(buf, l.Labels)
	n := byteLen(int(l.Inner.Len))
	return append(buf, l.Inner.Addr[:n]...)
}

func decodeLabeledV6(buf []byte) (Labeled[BgpAddrV6], []byte, error) {
	totalBits, rest, err := readUint8(buf)
	if err != nil {
		return Labeled[BgpAddrV6]{}, nil, err
	}
	totalBytes := byteLen(int(totalBits))
	body, rest, err := take(rest, totalBytes)
	if err != nil {
		return Labeled[BgpAddrV6]{}, nil, errWrap(ErrInsufficientBuffer, "labeled-unicast v6 body", err)
	}
	stack, bitsUsed, addrBytes, err := decodeLabelStack(body)
	if err != nil {
		return Labeled[BgpAddrV6]{}, nil, err
	}
	addrBits := int(totalBits) - bitsUsed
	if addrBits < 0 || addrBits > 128 {
		return Labeled[BgpAddrV6]{}, nil, errProto("labeled-unicast v6: address bit length %d invalid", addrBits)
	}
	var a AddrV6
	copy(a[:], addrBytes)
	return Labeled[BgpAddrV6]{Labels: stack, Inner: BgpAddrV6{Addr: a, Len: uint8(addrBits)}}, rest, nil
}

func encodeLabeledV6(buf []byte, l Labeled[BgpAddrV6]) []byte {
	totalBits := l.Labels.bitLen() + int(l.Inner.Len)
	buf = writeUint8(buf, uint8(totalBits))
	buf = encodeLabelStack(buf, l.Labels)
	n := byteLen(int(l.Inner.Len))
	return append(buf, l.Inner.Addr[:n]...)
}
