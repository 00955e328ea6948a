package bmp

import (
	"encoding/binary"

	"github.com/route-beacon/bgpflow/internal/bgp"
)

// Message is the tagged union of the seven BMP message types (§4.6),
// discriminated by Type; exactly one payload field is populated.
type Message struct {
	Type uint8

	RouteMonitoring  *RouteMonitoringMsg
	StatisticsReport *StatisticsReportMsg
	PeerDown         *PeerDownMsg
	PeerUp           *PeerUpMsg
	Initiation       *InitiationMsg
	Termination      *TerminationMsg
	RouteMirroring   *RouteMirroringMsg
}

// RouteMonitoringMsg carries one BGP UPDATE copied verbatim from the
// monitored peer's session, decoded under the parameters recovered from
// the peer session table (§4.7).
type RouteMonitoringMsg struct {
	Peer PeerHeader
	Raw  []byte // the framed BGP message (header + body) as received
	Update bgp.Update

	// Synthesized is true when no PeerUp entry was found for this peer
	// and default session parameters were used instead (§4.7).
	Synthesized bool
}

// StatTLV is one Stats Report counter (RFC 7854 §4.8): `type:u16, len:u16,
// value[len]`.
type StatTLV struct {
	Type  uint16
	Value []byte
}

func (t StatTLV) AsUint32() (uint32, bool) {
	if len(t.Value) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(t.Value), true
}

func (t StatTLV) AsUint64() (uint64, bool) {
	if len(t.Value) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(t.Value), true
}

type StatisticsReportMsg struct {
	Peer  PeerHeader
	Stats []StatTLV
}

// PeerUpMsg carries the two OPEN messages exchanged on the monitored
// session (§4.7): the one the router sent and the one it received. These
// are cached in the session table so a later RouteMonitoring for the same
// peer can be decoded with the negotiated capabilities.
type PeerUpMsg struct {
	Peer         PeerHeader
	LocalAddr    [16]byte
	LocalPort    uint16
	RemotePort   uint16
	SentOpen     bgp.OpenMessage
	ReceivedOpen bgp.OpenMessage
	Info         []InfoTLV
}

type InfoTLV struct {
	Type  uint16
	Value []byte
}

func (t InfoTLV) String() string { return string(t.Value) }

// PeerDownMsg (§4.7, RFC 7854 §4.9). Reason selects which of FSMCode /
// Notification is populated.
type PeerDownMsg struct {
	Peer         PeerHeader
	Reason       uint8
	FSMCode      uint16 // reason 2 only
	Notification []byte // reason 1/3 only: the framed BGP NOTIFICATION
}

// InitiationMsg / TerminationMsg carry the informational TLVs sent once
// per BMP session (§4.7).
type InitiationMsg struct {
	TLVs []InfoTLV
}

func (m InitiationMsg) SysName() string  { return tlvString(m.TLVs, TLVTypeSysName) }
func (m InitiationMsg) SysDescr() string { return tlvString(m.TLVs, TLVTypeSysDescr) }

type TerminationMsg struct {
	TLVs []InfoTLV
}

func (m TerminationMsg) Reason() (uint16, bool) {
	for _, t := range m.TLVs {
		if t.Type == TLVTypeReason && len(t.Value) == 2 {
			return binary.BigEndian.Uint16(t.Value), true
		}
	}
	return 0, false
}

func tlvString(tlvs []InfoTLV, typ uint16) string {
	for _, t := range tlvs {
		if t.Type == typ {
			return string(t.Value)
		}
	}
	return ""
}

// RouteMirroringMsg replays a raw BGP message the router could not parse
// itself, optionally with an information code (RFC 7854 §4.7).
type RouteMirroringMsg struct {
	Peer       PeerHeader
	BGPMessage []byte
	InfoCode   *uint16
}

func decodeInfoTLVs(buf []byte) ([]InfoTLV, error) {
	var tlvs []InfoTLV
	for len(buf) > 0 {
		if len(buf) < 4 {
			return nil, errProto("information tlv header truncated")
		}
		typ := binary.BigEndian.Uint16(buf[0:2])
		length := int(binary.BigEndian.Uint16(buf[2:4]))
		if len(buf) < 4+length {
			return nil, errShort("information tlv type %d declares length %d, have %d", typ, length, len(buf)-4)
		}
		tlvs = append(tlvs, InfoTLV{Type: typ, Value: append([]byte(nil), buf[4:4+length]...)})
		buf = buf[4+length:]
	}
	return tlvs, nil
}

func encodeInfoTLVs(buf []byte, tlvs []InfoTLV) []byte {
	for _, t := range tlvs {
		var hdr [4]byte
		binary.BigEndian.PutUint16(hdr[0:2], t.Type)
		binary.BigEndian.PutUint16(hdr[2:4], uint16(len(t.Value)))
		buf = append(buf, hdr[:]...)
		buf = append(buf, t.Value...)
	}
	return buf
}

func decodeStatTLVs(buf []byte) ([]StatTLV, error) {
	var stats []StatTLV
	for len(buf) > 0 {
		if len(buf) < 4 {
			return nil, errProto("stat tlv header truncated")
		}
		typ := binary.BigEndian.Uint16(buf[0:2])
		length := int(binary.BigEndian.Uint16(buf[2:4]))
		if len(buf) < 4+length {
			return nil, errShort("stat tlv type %d declares length %d, have %d", typ, length, len(buf)-4)
		}
		stats = append(stats, StatTLV{Type: typ, Value: append([]byte(nil), buf[4:4+length]...)})
		buf = buf[4+length:]
	}
	return stats, nil
}
