package bgp

import "fmt"

// RD is an 8-octet Route Distinguisher, stored as its two 32-bit halves
// (§3). Zero value is the zero RD.
type RD struct {
	High uint32
	Low  uint32
}

// DecodeRD and EncodeRD expose the RD codec for callers outside this
// package (the BMP peer header embeds a bare RD, per §6.2).
func DecodeRD(buf []byte) (RD, []byte, error) { return decodeRD(buf) }
func EncodeRD(buf []byte, rd RD) []byte       { return encodeRD(buf, rd) }

func decodeRD(buf []byte) (RD, []byte, error) {
	octets, rest, err := take(buf, 8)
	if err != nil {
		return RD{}, nil, errWrap(ErrInsufficientBuffer, "route distinguisher", err)
	}
	high, _, _ := readUint32(octets)
	low, _, _ := readUint32(octets[4:])
	return RD{High: high, Low: low}, rest, nil
}

func encodeRD(buf []byte, rd RD) []byte {
	buf = writeUint32(buf, rd.High)
	buf = writeUint32(buf, rd.Low)
	return buf
}

// String renders the RD per §3: dotted-quad:number when the type field
// (top 16 bits of High) is 1, else "high:low". The zero RD renders empty.
func (rd RD) String() string {
	if rd.High == 0 && rd.Low == 0 {
		return ""
	}
	if rd.High>>16 == 1 {
		a := byte(rd.High >> 8)
		b := byte(rd.High)
		c := byte(rd.Low >> 24)
		d := byte(rd.Low >> 16)
		n := uint16(rd.Low)
		return fmt.Sprintf("%d.%d.%d.%d:%d", a, b, c, d, n)
	}
	return fmt.Sprintf("%d:%d", rd.High, rd.Low)
}

// NewRDASN builds a type-0 RD (2-octet AS : 4-octet number).
func NewRDASN(asn uint16, number uint32) RD {
	return RD{High: uint32(asn), Low: number}
}

// NewRDIPv4 builds a type-1 RD (IPv4 address : 2-octet number).
func NewRDIPv4(ip AddrV4, number uint16) RD {
	high := uint32(1)<<16 | uint32(ip[0])<<8 | uint32(ip[1])
	low := uint32(ip[2])<<24 | uint32(ip[3])<<16 | uint32(number)
	return RD{High: high, Low: low}
}

func (rd RD) Less(other RD) bool {
	if rd.High != other.High {
		return rd.High < other.High
	}
	return rd.Low < other.Low
}
