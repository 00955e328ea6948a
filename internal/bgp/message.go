package bgp

import "fmt"

// DecodeFrame parses a BGP header (§4.6, §6.1): 16-octet marker (must be
// all 0xFF — the obsolete MD5-in-marker scheme is not supported), 2-octet
// length covering the whole message, 1-octet type. Returns the message
// type and the body length (length minus the 19-octet header).
func DecodeFrame(buf []byte) (msgType uint8, bodyLen int, err error) {
	header, _, err := take(buf, HeaderSize)
	if err != nil {
		return 0, 0, errWrap(ErrInsufficientBuffer, "bgp header", err)
	}
	for i := 0; i < MarkerSize; i++ {
		if header[i] != 0xff {
			return 0, 0, errProto("bgp marker byte %d is %#x, want 0xff", i, header[i])
		}
	}
	length := uint16(header[16])<<8 | uint16(header[17])
	if int(length) < HeaderSize {
		return 0, 0, errProto("bgp length %d shorter than header size %d", length, HeaderSize)
	}
	msgType = header[18]
	if msgType < MsgTypeOpen || msgType > MsgTypeKeepalive {
		return 0, 0, errProto("bgp message type %d out of range 1..4", msgType)
	}
	return msgType, int(length) - HeaderSize, nil
}

// EncodeFrame writes the 19-octet header into buf (which must be at least
// bodyLen+19 long) and returns the total message length.
func EncodeFrame(buf []byte, msgType uint8, bodyLen int) (int, error) {
	total := bodyLen + HeaderSize
	if err := need(buf, total); err != nil {
		return 0, errWrap(ErrInsufficientBuffer, "frame destination buffer", err)
	}
	if total > 0xffff {
		return 0, errTooMany("bgp message length %d exceeds 65535", total)
	}
	for i := 0; i < MarkerSize; i++ {
		buf[i] = 0xff
	}
	buf[16] = byte(total >> 8)
	buf[17] = byte(total)
	buf[18] = msgType
	return total, nil
}

// OpenMessage is the decoded body of a BGP OPEN message.
type OpenMessage struct {
	Version  uint8
	MyAS     uint16
	HoldTime uint16
	RouterID AddrV4
	Caps     CapabilitySet
}

// OpenMessageFromParams builds the OPEN body that advertises the proposed
// local capability set (§6.3 SessionParams.open_message).
func OpenMessageFromParams(params *SessionParams) OpenMessage {
	return OpenMessage{
		Version:  4,
		MyAS:     legacyAS(params.LocalAS),
		HoldTime: params.HoldTime,
		RouterID: params.RouterID,
		Caps:     params.Proposed,
	}
}

// DecodeOpen decodes an OPEN message body: `version:u8, my_as:u16,
// hold_time:u16, router_id[4], opt_params_len:u8, opt_params[]`. Optional
// parameters of type 2 hold the capability TLV sequence (§4.2); other
// optional-parameter types are skipped (not produced by modern peers).
func DecodeOpen(body []byte) (OpenMessage, error) {
	version, rest, err := readUint8(body)
	if err != nil {
		return OpenMessage{}, err
	}
	myAS, rest, err := readUint16(rest)
	if err != nil {
		return OpenMessage{}, err
	}
	holdTime, rest, err := readUint16(rest)
	if err != nil {
		return OpenMessage{}, err
	}
	routerID, rest, err := readAddrV4(rest)
	if err != nil {
		return OpenMessage{}, err
	}
	optLen, rest, err := readUint8(rest)
	if err != nil {
		return OpenMessage{}, err
	}
	optBytes, _, err := take(rest, int(optLen))
	if err != nil {
		return OpenMessage{}, errWrap(ErrInsufficientBuffer, "open optional-parameters", err)
	}

	var caps CapabilitySet
	for len(optBytes) > 0 {
		if err := need(optBytes, 2); err != nil {
			return OpenMessage{}, errProto("open optional-parameter header truncated")
		}
		paramType := optBytes[0]
		paramLen := int(optBytes[1])
		data, rest, err := take(optBytes[2:], paramLen)
		if err != nil {
			return OpenMessage{}, errProto("open optional-parameter length %d exceeds buffer", paramLen)
		}
		if paramType == 2 {
			c, err := decodeCapabilities(data)
			if err != nil {
				return OpenMessage{}, err
			}
			caps = mergeCaps(caps, c)
		}
		optBytes = rest
	}

	return OpenMessage{Version: version, MyAS: myAS, HoldTime: holdTime, RouterID: routerID, Caps: caps}, nil
}

// mergeCaps appends b's fields onto a; used because capabilities may be
// spread across multiple optional-parameter entries.
func mergeCaps(a, b CapabilitySet) CapabilitySet {
	a.MultiProtocol = append(a.MultiProtocol, b.MultiProtocol...)
	a.RouteRefresh = a.RouteRefresh || b.RouteRefresh
	a.EnhancedRR = a.EnhancedRR || b.EnhancedRR
	a.BFDStrict = a.BFDStrict || b.BFDStrict
	if b.AS4 {
		a.AS4, a.AS4Number = true, b.AS4Number
	}
	a.AddPath = append(a.AddPath, b.AddPath...)
	if b.GracefulRestart != nil {
		a.GracefulRestart = b.GracefulRestart
	}
	if b.LongLivedGR != nil {
		a.LongLivedGR = b.LongLivedGR
	}
	if b.FQDN != nil {
		a.FQDN = b.FQDN
	}
	a.Raw = append(a.Raw, b.Raw...)
	return a
}

// EncodeOpen is the inverse of DecodeOpen, wrapping the capability TLVs in
// a single optional-parameter of type 2.
func EncodeOpen(o OpenMessage) []byte {
	capBytes := encodeCapabilities(nil, o.Caps)

	buf := make([]byte, 0, 10+2+len(capBytes))
	buf = writeUint8(buf, o.Version)
	buf = writeUint16(buf, o.MyAS)
	buf = writeUint16(buf, o.HoldTime)
	buf = writeAddrV4(buf, o.RouterID)

	optLen := 0
	if len(capBytes) > 0 {
		optLen = 2 + len(capBytes)
	}
	buf = writeUint8(buf, uint8(optLen))
	if optLen > 0 {
		buf = writeUint8(buf, 2)
		buf = writeUint8(buf, uint8(len(capBytes)))
		buf = append(buf, capBytes...)
	}
	return buf
}

// NotificationMessage is the decoded body of a BGP NOTIFICATION message.
type NotificationMessage struct {
	ErrorCode    uint8
	ErrorSubcode uint8
	Data         []byte
}

func DecodeNotification(body []byte) (NotificationMessage, error) {
	code, rest, err := readUint8(body)
	if err != nil {
		return NotificationMessage{}, err
	}
	subcode, rest, err := readUint8(rest)
	if err != nil {
		return NotificationMessage{}, err
	}
	return NotificationMessage{ErrorCode: code, ErrorSubcode: subcode, Data: append([]byte(nil), rest...)}, nil
}

func EncodeNotification(n NotificationMessage) []byte {
	buf := make([]byte, 0, 2+len(n.Data))
	buf = writeUint8(buf, n.ErrorCode)
	buf = writeUint8(buf, n.ErrorSubcode)
	return append(buf, n.Data...)
}

var notificationSubcodes = map[uint8]map[uint8]string{
	1: {1: "Connection not synchronized", 2: "Bad Message Length", 3: "Bad Message Type"},
	2: {
		1: "Unsupported Version Number", 2: "Bad Peer AS", 3: "Bad BGP Identifier",
		4: "Unsupported Optional Parameter", 5: "Deprecated(5)", 6: "Unacceptable Hold Time",
	},
	3: {
		1: "Malformed Attribute List", 2: "Unrecognized Well-known Attribute",
		3: "Missing Well-known Attribute", 4: "Attribute Flags Error",
		5: "Attribute Length Error", 6: "Invalid ORIGIN Attribute", 7: "Deprecated(7)",
		8: "Invalid NEXT_HOP Attribute", 9: "Optional Attribute Error",
		10: "Invalid Network Field", 11: "Malformed AS_PATH",
	},
}

var notificationCodeNames = map[uint8]string{
	1: "Message Header Error",
	2: "OPEN Message Error",
	3: "Update Message Error",
	4: "Hold Timer Expired",
	5: "Finite State Machine Error",
	6: "Cease",
}

// NotificationText renders (ErrorCode, ErrorSubcode) as an operator-facing
// string, e.g. "Update Message Error: Malformed AS_PATH". Codes/subcodes
// this library doesn't recognize render as "Unknown code N" / "subcode N"
// rather than failing, since NOTIFICATION must still be logged even for
// vendor-specific or future codes.
func (n NotificationMessage) NotificationText() string {
	name, known := notificationCodeNames[n.ErrorCode]
	if !known {
		return fmt.Sprintf("Unknown code %d subcode %d", n.ErrorCode, n.ErrorSubcode)
	}
	if sub, ok := notificationSubcodes[n.ErrorCode][n.ErrorSubcode]; ok {
		return fmt.Sprintf("%s: %s", name, sub)
	}
	return fmt.Sprintf("%s: subcode %d", name, n.ErrorSubcode)
}
