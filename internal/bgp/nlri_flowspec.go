package bgp

import (
	"fmt"
	"strings"
)

// FlowSpec component type codes (§4.4).
const (
	FSDestPrefix  uint8 = 1
	FSSrcPrefix   uint8 = 2
	FSProtocol    uint8 = 3
	FSPort        uint8 = 4
	FSDestPort    uint8 = 5
	FSSrcPort     uint8 = 6
	FSICMPType    uint8 = 7
	FSICMPCode    uint8 = 8
	FSTCPFlags    uint8 = 9
	FSPacketLen   uint8 = 10
	FSDSCP        uint8 = 11
	FSFragment    uint8 = 12
	FSFlowLabel   uint8 = 13
)

// FlowSpec numeric/bitmask operator bits (§4.4): `[and|len(2bits)|eq|gt|lt]`
// for numeric components, `[and|len(2bits)|match|not]` for bitmask ones.
// The last item in a component's operator list has the end-of-list bit set.
const (
	fsOpEOL   uint8 = 0x80
	fsOpAnd   uint8 = 0x40
	fsOpLenMask uint8 = 0x30
	fsOpLt    uint8 = 0x04
	fsOpGt    uint8 = 0x02
	fsOpEq    uint8 = 0x01
	fsOpNot   uint8 = 0x02
	fsOpMatch uint8 = 0x01
)

// FlowSpecOp is one operator item in a numeric or bitmask component's list.
type FlowSpecOp struct {
	Flags uint8  // raw operator byte, including the value-length bits
	Value uint64 // widened; actual wire width is 1, 2, 4, or 8 octets
}

func (o FlowSpecOp) EOL() bool   { return o.Flags&fsOpEOL != 0 }
func (o FlowSpecOp) And() bool   { return o.Flags&fsOpAnd != 0 }
func (o FlowSpecOp) Lt() bool    { return o.Flags&fsOpLt != 0 }
func (o FlowSpecOp) Gt() bool    { return o.Flags&fsOpGt != 0 }
func (o FlowSpecOp) Eq() bool    { return o.Flags&fsOpEq != 0 }
func (o FlowSpecOp) Not() bool   { return o.Flags&fsOpNot != 0 }
func (o FlowSpecOp) Match() bool { return o.Flags&fsOpMatch != 0 }

func opValueLen(flags uint8) int {
	switch (flags & fsOpLenMask) >> 4 {
	case 0:
		return 1
	case 1:
		return 2
	case 2:
		return 4
	default:
		return 8
	}
}

// FlowSpecComponent is one typed element of a FlowSpec rule: either a
// prefix (types 1, 2) or a numeric/bitmask operator list (types 3-13).
type FlowSpecComponent struct {
	Type     uint8
	PrefixV4 PrefixV4
	PrefixV6 PrefixV6
	OffsetV6 uint8 // RFC8956 prefix offset, IPv6 only
	Ops      []FlowSpecOp
}

// FlowSpecRule is an ordered sequence of components (§4.4); used directly
// for v4/v6 unicast FlowSpec and wrapped in WithRD for VPNv4 FlowSpec.
type FlowSpecRule struct {
	Components []FlowSpecComponent
}

func (r FlowSpecRule) String() string {
	parts := make([]string, 0, len(r.Components))
	for _, c := range r.Components {
		switch c.Type {
		case FSDestPrefix, FSSrcPrefix:
			if c.PrefixV6.Len > 0 || c.OffsetV6 > 0 {
				parts = append(parts, fmt.Sprintf("type%d=%s", c.Type, c.PrefixV6.String()))
			} else {
				parts = append(parts, fmt.Sprintf("type%d=%s", c.Type, c.PrefixV4.String()))
			}
		default:
			parts = append(parts, fmt.Sprintf("type%d(%d ops)", c.Type, len(c.Ops)))
		}
	}
	return "flowspec[" + strings.Join(parts, ",") + "]"
}

// decodeFSLength implements the §4.4/§8 boundary rule: lengths under 240
// fit in one octet; 240..4094 use a two-octet length with the top four
// bits of the first octet set.
func decodeFSLength(buf []byte) (int, []byte, error) {
	first, rest, err := readUint8(buf)
	if err != nil {
		return 0, nil, err
	}
	if first < 240 {
		return int(first), rest, nil
	}
	second, rest, err := readUint8(rest)
	if err != nil {
		return 0, nil, err
	}
	length := (int(first&0x0f) << 8) | int(second)
	return length, rest, nil
}

func encodeFSLength(length int) []byte {
	if length < 240 {
		return []byte{byte(length)}
	}
	return []byte{0xf0 | byte(length>>8), byte(length)}
}

func decodeFlowSpecComponents(buf []byte, isV6 bool) ([]FlowSpecComponent, error) {
	var comps []FlowSpecComponent
	for len(buf) > 0 {
		typ, rest, err := readUint8(buf)
		if err != nil {
			return nil, err
		}
		buf = rest

		switch typ {
		case FSDestPrefix, FSSrcPrefix:
			if isV6 {
				length, rest, err := readUint8(buf)
				if err != nil {
					return nil, err
				}
				offset, rest, err := readUint8(rest)
				if err != nil {
					return nil, err
				}
				n := byteLen(int(length))
				octets, rest, err := take(rest, n)
				if err != nil {
					return nil, errWrap(ErrInsufficientBuffer, "flowspec v6 prefix", err)
				}
				var a AddrV6
				copy(a[:], octets)
				comps = append(comps, FlowSpecComponent{Type: typ, PrefixV6: PrefixV6{Addr: a, Len: length}, OffsetV6: offset})
				buf = rest
			} else {
				p, rest, err := decodePrefixBitsV4(buf)
				if err != nil {
					return nil, err
				}
				comps = append(comps, FlowSpecComponent{Type: typ, PrefixV4: p})
				buf = rest
			}
		default:
			var ops []FlowSpecOp
			for {
				opByte, rest, err := readUint8(buf)
				if err != nil {
					return nil, err
				}
				n := opValueLen(opByte)
				valBytes, rest, err := take(rest, n)
				if err != nil {
					return nil, errWrap(ErrInsufficientBuffer, "flowspec operator value", err)
				}
				var v uint64
				for _, b := range valBytes {
					v = v<<8 | uint64(b)
				}
				ops = append(ops, FlowSpecOp{Flags: opByte, Value: v})
				buf = rest
				if opByte&fsOpEOL != 0 {
					break
				}
				if len(buf) == 0 {
					return nil, errProto("flowspec: operator list for type %d missing end-of-list marker", typ)
				}
			}
			comps = append(comps, FlowSpecComponent{Type: typ, Ops: ops})
		}
	}
	return comps, nil
}

func encodeFlowSpecComponents(buf []byte, comps []FlowSpecComponent, isV6 bool) []byte {
	for _, c := range comps {
		buf = writeUint8(buf, c.Type)
		switch c.Type {
		case FSDestPrefix, FSSrcPrefix:
			if isV6 {
				buf = writeUint8(buf, c.PrefixV6.Len)
				buf = writeUint8(buf, c.OffsetV6)
				n := byteLen(int(c.PrefixV6.Len))
				buf = append(buf, c.PrefixV6.Addr[:n]...)
			} else {
				buf = encodePrefixBitsV4(buf, c.PrefixV4)
			}
		default:
			for _, op := range c.Ops {
				n := opValueLen(op.Flags)
				buf = writeUint8(buf, op.Flags)
				for i := n - 1; i >= 0; i-- {
					buf = append(buf, byte(op.Value>>(8*uint(i))))
				}
			}
		}
	}
	return buf
}

func decodeFlowSpecV4(buf []byte) (FlowSpecRule, []byte, error) {
	length, rest, err := decodeFSLength(buf)
	if err != nil {
		return FlowSpecRule{}, nil, err
	}
	body, outerRest, err := take(rest, length)
	if err != nil {
		return FlowSpecRule{}, nil, errWrap(ErrInsufficientBuffer, "flowspec v4 body", err)
	}
	comps, err := decodeFlowSpecComponents(body, false)
	if err != nil {
		return FlowSpecRule{}, nil, err
	}
	return FlowSpecRule{Components: comps}, outerRest, nil
}

func encodeFlowSpecV4(buf []byte, r FlowSpecRule) []byte {
	body := encodeFlowSpecComponents(nil, r.Components, false)
	if len(body) > 4094 {
		return buf // caller's TooManyData check happens at the attribute layer
	}
	buf = append(buf, encodeFSLength(len(body))...)
	return append(buf, body...)
}

func decodeFlowSpecV6(buf []byte) (FlowSpecRule, []byte, error) {
	length, rest, err := decodeFSLength(buf)
	if err != nil {
		return FlowSpecRule{}, nil, err
	}
	body, outerRest, err := take(rest, length)
	if err != nil {
		return FlowSpecRule{}, nil, errWrap(ErrInsufficientBuffer, "flowspec v6 body", err)
	}
	comps, err := decodeFlowSpecComponents(body, true)
	if err != nil {
		return FlowSpecRule{}, nil, err
	}
	return FlowSpecRule{Components: comps}, outerRest, nil
}

func encodeFlowSpecV6(buf []byte, r FlowSpecRule) []byte {
	body := encodeFlowSpecComponents(nil, r.Components, true)
	buf = append(buf, encodeFSLength(len(body))...)
	return append(buf, body...)
}

// decodeFlowSpecVPNV4 / encodeFlowSpecVPNV4 implement VPNv4 FlowSpec
// (§4.4): the outer-length-bounded body starts with an 8-octet RD before
// the component list.
func decodeFlowSpecVPNV4(buf []byte) (WithRD[FlowSpecRule], []byte, error) {
	length, rest, err := decodeFSLength(buf)
	if err != nil {
		return WithRD[FlowSpecRule]{}, nil, err
	}
	body, outerRest, err := take(rest, length)
	if err != nil {
		return WithRD[FlowSpecRule]{}, nil, errWrap(ErrInsufficientBuffer, "flowspec vpnv4 body", err)
	}
	rd, body, err := decodeRD(body)
	if err != nil {
		return WithRD[FlowSpecRule]{}, nil, err
	}
	comps, err := decodeFlowSpecComponents(body, false)
	if err != nil {
		return WithRD[FlowSpecRule]{}, nil, err
	}
	return WithRD[FlowSpecRule]{RD: rd, Inner: FlowSpecRule{Components: comps}}, outerRest, nil
}

func encodeFlowSpecVPNV4(buf []byte, w WithRD[FlowSpecRule]) []byte {
	var body []byte
	body = encodeRD(body, w.RD)
	body = encodeFlowSpecComponents(body, w.Inner.Components, false)
	buf = append(buf, encodeFSLength(len(body))...)
	return append(buf, body...)
}
