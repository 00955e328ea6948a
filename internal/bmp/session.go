package bmp

import (
	"github.com/route-beacon/bgpflow/internal/bgp"
)

// peerState is the cached PeerUp record for one (RD, peer-IP) session
// (§3 BMP peer session table).
type peerState struct {
	sentOpen bgp.OpenMessage
	recvOpen bgp.OpenMessage
	params   *bgp.SessionParams
}

// BmpSession is the stateful BMP decoder (§6.3 BmpSession.decode): it
// maintains the peer table described in §4.7, inserting on PeerUp and
// removing on PeerDown, so RouteMonitoring bodies for a known peer decode
// their embedded UPDATE under the negotiated capabilities.
type BmpSession struct {
	peers map[sessionKey]*peerState
}

// NewBmpSession returns an empty session table.
func NewBmpSession() *BmpSession {
	return &BmpSession{peers: make(map[sessionKey]*peerState)}
}

// Decode is the stateless entry point (§6.3 Bmp.decode): it behaves like a
// fresh BmpSession for every call, so a RouteMonitoring message always
// decodes with synthesized default parameters since no prior PeerUp can be
// remembered across calls.
func Decode(data []byte) (Message, error) {
	return NewBmpSession().Decode(data)
}

// DecodeAll splits a run of concatenated BMP messages (as goBMP bundles an
// entire TCP read into one Kafka record) and decodes each in turn, so
// PeerUp entries earlier in the run are visible to RouteMonitoring messages
// later in the same run.
func (s *BmpSession) DecodeAll(data []byte) ([]Message, error) {
	var msgs []Message
	for len(data) > 0 {
		_, bodyLen, err := DecodeFrame(data)
		if err != nil {
			return msgs, err
		}
		total := bodyLen + CommonHeaderSize
		msg, err := s.Decode(data[:total])
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, msg)
		data = data[total:]
	}
	return msgs, nil
}

// Decode parses one complete BMP message and, for RouteMonitoring and
// RouteMirroring, decodes the embedded BGP message using this session's
// negotiated (or synthesized) parameters for the peer.
func (s *BmpSession) Decode(data []byte) (Message, error) {
	msgType, bodyLen, err := DecodeFrame(data)
	if err != nil {
		return Message{}, err
	}
	body := data[CommonHeaderSize : CommonHeaderSize+bodyLen]

	switch msgType {
	case MsgTypeRouteMonitoring:
		return s.decodeRouteMonitoring(body)
	case MsgTypeStatisticsReport:
		return s.decodeStatisticsReport(body)
	case MsgTypePeerDown:
		return s.decodePeerDown(body)
	case MsgTypePeerUp:
		return s.decodePeerUp(body)
	case MsgTypeInitiation:
		return s.decodeInitiation(body)
	case MsgTypeTermination:
		return s.decodeTermination(body)
	case MsgTypeRouteMirroring:
		return s.decodeRouteMirroring(body)
	default:
		return Message{}, errProto("bmp: unknown message type %d", msgType)
	}
}

// paramsFor resolves the session parameters for peer, per §4.7: use the
// cached PeerUp entry if present, else synthesize defaults from the peer
// header alone (no capabilities negotiated).
func (s *BmpSession) paramsFor(peer PeerHeader) (*bgp.SessionParams, bool) {
	if st, ok := s.peers[peer.key()]; ok {
		return st.params, true
	}
	family := bgp.PeerFamilyIPv4
	if peer.IsIPv6() {
		family = bgp.PeerFamilyIPv6
	}
	params := bgp.NewSessionParams(peer.ASN, 0, peer.RouterID, family, bgp.CapabilitySet{})
	params.RemoteAS = peer.ASN
	return params, false
}

func (s *BmpSession) decodeRouteMonitoring(body []byte) (Message, error) {
	peer, rest, err := decodePeerHeader(body)
	if err != nil {
		return Message{}, err
	}
	params, found := s.paramsFor(peer)

	msgType, bodyLen, err := bgp.DecodeFrame(rest)
	if err != nil {
		return Message{}, err
	}
	total := bodyLen + bgp.HeaderSize
	if total > len(rest) {
		return Message{}, errShort("route monitoring: embedded bgp message declares length %d, have %d", total, len(rest))
	}
	if msgType != bgp.MsgTypeUpdate {
		return Message{}, errProto("route monitoring: embedded message type %d is not update", msgType)
	}
	update, err := bgp.DecodeUpdate(params, rest[bgp.HeaderSize:total])
	if err != nil {
		return Message{}, err
	}

	msg := RouteMonitoringMsg{
		Peer:        peer,
		Raw:         append([]byte(nil), rest[:total]...),
		Update:      update,
		Synthesized: !found,
	}
	return Message{Type: MsgTypeRouteMonitoring, RouteMonitoring: &msg}, nil
}

func (s *BmpSession) decodeStatisticsReport(body []byte) (Message, error) {
	peer, rest, err := decodePeerHeader(body)
	if err != nil {
		return Message{}, err
	}
	if len(rest) < 4 {
		return Message{}, errProto("statistics report: missing stat count")
	}
	count := int(rest[0])<<24 | int(rest[1])<<16 | int(rest[2])<<8 | int(rest[3])
	_ = count // informational only; stat TLVs are self-delimiting
	stats, err := decodeStatTLVs(rest[4:])
	if err != nil {
		return Message{}, err
	}
	msg := StatisticsReportMsg{Peer: peer, Stats: stats}
	return Message{Type: MsgTypeStatisticsReport, StatisticsReport: &msg}, nil
}

func (s *BmpSession) decodePeerUp(body []byte) (Message, error) {
	peer, rest, err := decodePeerHeader(body)
	if err != nil {
		return Message{}, err
	}
	if len(rest) < 20 {
		return Message{}, errShort("peer up: need 20 bytes for local address/ports, have %d", len(rest))
	}
	var local [16]byte
	copy(local[:], rest[0:16])
	localPort := uint16(rest[16])<<8 | uint16(rest[17])
	remotePort := uint16(rest[18])<<8 | uint16(rest[19])
	rest = rest[20:]

	sentOpen, rest, err := decodeFramedOpen(rest)
	if err != nil {
		return Message{}, err
	}
	recvOpen, rest, err := decodeFramedOpen(rest)
	if err != nil {
		return Message{}, err
	}
	info, err := decodeInfoTLVs(rest)
	if err != nil {
		return Message{}, err
	}

	family := bgp.PeerFamilyIPv4
	if peer.IsIPv6() {
		family = bgp.PeerFamilyIPv6
	}
	params := bgp.NewSessionParams(uint32(sentOpen.MyAS), sentOpen.HoldTime, peer.RouterID, family, sentOpen.Caps)
	params.MatchCapabilities(recvOpen.Caps)
	if !params.Effective.AS4 {
		params.RemoteAS = uint32(recvOpen.MyAS)
	}

	s.peers[peer.key()] = &peerState{sentOpen: sentOpen, recvOpen: recvOpen, params: params}

	msg := PeerUpMsg{
		Peer:         peer,
		LocalAddr:    local,
		LocalPort:    localPort,
		RemotePort:   remotePort,
		SentOpen:     sentOpen,
		ReceivedOpen: recvOpen,
		Info:         info,
	}
	return Message{Type: MsgTypePeerUp, PeerUp: &msg}, nil
}

func decodeFramedOpen(buf []byte) (bgp.OpenMessage, []byte, error) {
	msgType, bodyLen, err := bgp.DecodeFrame(buf)
	if err != nil {
		return bgp.OpenMessage{}, nil, err
	}
	total := bodyLen + bgp.HeaderSize
	if total > len(buf) {
		return bgp.OpenMessage{}, nil, errShort("embedded open declares length %d, have %d", total, len(buf))
	}
	if msgType != bgp.MsgTypeOpen {
		return bgp.OpenMessage{}, nil, errProto("peer up: embedded message type %d is not open", msgType)
	}
	open, err := bgp.DecodeOpen(buf[bgp.HeaderSize:total])
	if err != nil {
		return bgp.OpenMessage{}, nil, err
	}
	return open, buf[total:], nil
}

func (s *BmpSession) decodePeerDown(body []byte) (Message, error) {
	peer, rest, err := decodePeerHeader(body)
	if err != nil {
		return Message{}, err
	}
	delete(s.peers, peer.key())

	if len(rest) < 1 {
		return Message{}, errProto("peer down: missing reason code")
	}
	reason := rest[0]
	rest = rest[1:]

	msg := PeerDownMsg{Peer: peer, Reason: reason}
	switch reason {
	case PeerDownLocalNotification, PeerDownRemoteNotification:
		msg.Notification = append([]byte(nil), rest...)
	case PeerDownLocalNoNotification:
		if len(rest) >= 2 {
			msg.FSMCode = uint16(rest[0])<<8 | uint16(rest[1])
		}
	}
	return Message{Type: MsgTypePeerDown, PeerDown: &msg}, nil
}

func (s *BmpSession) decodeInitiation(body []byte) (Message, error) {
	tlvs, err := decodeInfoTLVs(body)
	if err != nil {
		return Message{}, err
	}
	msg := InitiationMsg{TLVs: tlvs}
	return Message{Type: MsgTypeInitiation, Initiation: &msg}, nil
}

func (s *BmpSession) decodeTermination(body []byte) (Message, error) {
	tlvs, err := decodeInfoTLVs(body)
	if err != nil {
		return Message{}, err
	}
	msg := TerminationMsg{TLVs: tlvs}
	return Message{Type: MsgTypeTermination, Termination: &msg}, nil
}

func (s *BmpSession) decodeRouteMirroring(body []byte) (Message, error) {
	peer, rest, err := decodePeerHeader(body)
	if err != nil {
		return Message{}, err
	}
	msg := RouteMirroringMsg{Peer: peer}
	for len(rest) > 0 {
		if len(rest) < 4 {
			return Message{}, errProto("route mirroring tlv header truncated")
		}
		typ := uint16(rest[0])<<8 | uint16(rest[1])
		length := int(rest[2])<<8 | int(rest[3])
		if len(rest) < 4+length {
			return Message{}, errShort("route mirroring tlv type %d declares length %d, have %d", typ, length, len(rest)-4)
		}
		value := rest[4 : 4+length]
		switch typ {
		case MirrorTLVInformation:
			if len(value) == 2 {
				code := uint16(value[0])<<8 | uint16(value[1])
				msg.InfoCode = &code
			}
		case MirrorTLVBGPMessage:
			msg.BGPMessage = append([]byte(nil), value...)
		}
		rest = rest[4+length:]
	}
	return Message{Type: MsgTypeRouteMirroring, RouteMirroring: &msg}, nil
}
