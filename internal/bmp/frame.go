package bmp

import (
	"encoding/binary"
	"fmt"

	"github.com/route-beacon/bgpflow/internal/bgp"
)

func errShort(msg string, args ...any) error {
	return &bgp.Error{Kind: bgp.ErrInsufficientBuffer, Msg: fmt.Sprintf(msg, args...)}
}

func errProto(msg string, args ...any) error {
	return &bgp.Error{Kind: bgp.ErrProtocol, Msg: fmt.Sprintf(msg, args...)}
}

// DecodeFrame parses the 6-octet BMP common header (§6.2): version (must
// be 3), a 4-octet length covering the whole message, and a 1-octet type.
// Returns the message type and the body length (length minus the header).
func DecodeFrame(data []byte) (msgType uint8, bodyLen int, err error) {
	if len(data) < CommonHeaderSize {
		return 0, 0, errShort("need %d bytes for bmp common header, have %d", CommonHeaderSize, len(data))
	}
	version := data[0]
	if version != BMPVersion {
		return 0, 0, errProto("bmp version %d unsupported, want %d", version, BMPVersion)
	}
	length := binary.BigEndian.Uint32(data[1:5])
	if length < CommonHeaderSize {
		return 0, 0, errProto("bmp length %d shorter than header size %d", length, CommonHeaderSize)
	}
	if int(length) > len(data) {
		return 0, 0, errShort("bmp message declares length %d, have %d", length, len(data))
	}
	msgType = data[5]
	return msgType, int(length) - CommonHeaderSize, nil
}

// EncodeFrame writes the 6-octet header into buf (must be at least
// bodyLen+6 long) and returns the total message length.
func EncodeFrame(buf []byte, msgType uint8, bodyLen int) int {
	total := bodyLen + CommonHeaderSize
	buf[0] = BMPVersion
	binary.BigEndian.PutUint32(buf[1:5], uint32(total))
	buf[5] = msgType
	return total
}
