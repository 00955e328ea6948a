package bgp

import "fmt"

// VPLSRoute is the L2VPN VPLS NLRI item (§4.4, AFI 25/SAFI 65): `rd[8] |
// site_id:u16 | offset:u16 | range:u16 | label_stack`, wrapped in a 2-octet
// outer length. Unlike the other wrapped families, VPLS carries its RD and
// label stack as part of the same flat item rather than via WithRD/Labeled,
// so it is not itself comparable (LabelStack holds a slice); Equal ignores
// Labels per the general label-identity invariant (§3/§9).
type VPLSRoute struct {
	RD     RD
	SiteID uint16
	Offset uint16
	Range  uint16
	Labels LabelStack
}

func (v VPLSRoute) String() string {
	return fmt.Sprintf("%s site=%d offset=%d range=%d", v.RD.String(), v.SiteID, v.Offset, v.Range)
}

func (v VPLSRoute) Equal(o VPLSRoute) bool {
	return v.RD == o.RD && v.SiteID == o.SiteID && v.Offset == o.Offset && v.Range == o.Range
}

func decodeVPLSRoute(buf []byte) (VPLSRoute, []byte, error) {
	length, rest, err := readUint16(buf)
	if err != nil {
		return VPLSRoute{}, nil, err
	}
	body, rest, err := take(rest, int(length))
	if err != nil {
		return VPLSRoute{}, nil, errWrap(ErrInsufficientBuffer, "vpls body", err)
	}
	rd, body, err := decodeRD(body)
	if err != nil {
		return VPLSRoute{}, nil, err
	}
	siteID, body, err := readUint16(body)
	if err != nil {
		return VPLSRoute{}, nil, errWrap(ErrInsufficientBuffer, "vpls site id", err)
	}
	offset, body, err := readUint16(body)
	if err != nil {
		return VPLSRoute{}, nil, errWrap(ErrInsufficientBuffer, "vpls offset", err)
	}
	rng, body, err := readUint16(body)
	if err != nil {
		return VPLSRoute{}, nil, errWrap(ErrInsufficientBuffer, "vpls range", err)
	}
	stack, _, _, err := decodeLabelStack(body)
	if err != nil {
		return VPLSRoute{}, nil, err
	}
	return VPLSRoute{RD: rd, SiteID: siteID, Offset: offset, Range: rng, Labels: stack}, rest, nil
}

func encodeVPLSRoute(buf []byte, v VPLSRoute) []byte {
	var body []byte
	body = encodeRD(body, v.RD)
	body = writeUint16(body, v.SiteID)
	body = writeUint16(body, v.Offset)
	body = writeUint16(body, v.Range)
	body = encodeLabelStack(body, v.Labels)
	buf = writeUint16(buf, uint16(len(body)))
	return append(buf, body...)
}
