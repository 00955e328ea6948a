package bgp

// PeerFamily is the address family of the peer's transport connection,
// governing how withdraws and the trailing reach list in an UPDATE are
// parsed when no MP-reach/MP-unreach attribute is present (§4.5).
type PeerFamily uint8

const (
	PeerFamilyIPv4 PeerFamily = 4
	PeerFamilyIPv6 PeerFamily = 6
)

// SessionParams is the sole arbiter of how a received byte stream is
// interpreted after OPEN (§4.2). It is mutable: match_caps replaces the
// negotiated capability set, and encoders/decoders consult it on every
// call. It must not mutate mid-message (§5).
type SessionParams struct {
	LocalAS    uint32
	RemoteAS   uint32
	HoldTime   uint16
	RouterID   AddrV4
	PeerFamily PeerFamily

	// Proposed is the local capability set offered at OPEN time, before
	// negotiation. Effective is the result of MatchCaps, consulted by
	// every decoder/encoder call below.
	Proposed  CapabilitySet
	Effective CapabilitySet

	// FuzzyPathID enables the §9 heuristic for peers that prepend
	// path-ids without advertising the capability: when capability
	// negotiation left (afi,safi) undecided, a leading four-octet blob
	// whose first two bytes are zero is assumed to be a path id rather
	// than a prefix/AFI discriminant. Off by default (strict mode).
	FuzzyPathID bool
}

// NewSessionParams builds a session-parameters object with the proposed
// local capability set and AS number, ready for an OPEN to be built from
// it and later finalized with MatchCapabilities.
func NewSessionParams(localAS uint32, holdTime uint16, routerID AddrV4, family PeerFamily, proposed CapabilitySet) *SessionParams {
	return &SessionParams{
		LocalAS:    localAS,
		HoldTime:   holdTime,
		RouterID:   routerID,
		PeerFamily: family,
		Proposed:   proposed,
	}
}

// MatchCapabilities intersects Proposed against the remote's advertised set
// and installs the result as Effective. Per §4.2, HasAS32Bit is true
// afterward iff the intersected set carries the 4-octet AS capability, and
// the effective AS number is then the value inside that capability.
func (s *SessionParams) MatchCapabilities(remote CapabilitySet) {
	s.Effective = MatchCaps(s.Proposed, remote)
	if s.Effective.AS4 {
		s.RemoteAS = s.Effective.AS4Number
	}
}

// HasAS32Bit reports whether 4-octet AS numbers are in force for AS_PATH,
// AGGREGATOR, and OPEN's my-AS field.
func (s *SessionParams) HasAS32Bit() bool { return s.Effective.AS4 }

// AddPathEnabled reports whether NLRI for (afi,safi) should be framed with
// a leading 32-bit path id. blob is the not-yet-decoded NLRI bytes for this
// family (nil when none are available, e.g. encoding an empty set); when
// capability negotiation didn't resolve ADD-PATH for this family, it is
// consulted as a last resort under FuzzyPathID.
func (s *SessionParams) AddPathEnabled(afi uint16, safi uint8, blob []byte) bool {
	if _, ok := s.Effective.AddPathFor(afi, safi); ok {
		return true
	}
	if !s.FuzzyPathID {
		return false
	}
	return len(blob) >= 4 && blob[0] == 0 && blob[1] == 0
}

// FamilySupported reports whether (afi,safi) was negotiated via the
// multi-protocol capability. IPv4 unicast is implicitly supported even
// without an explicit capability, per common BGP practice.
func (s *SessionParams) FamilySupported(afi uint16, safi uint8) bool {
	if afi == AFIIPv4 && safi == SAFIUnicast {
		return true
	}
	return s.Effective.SupportsFamily(afi, safi)
}

// legacyAS returns the 2-octet my-AS value for OPEN: 23456 (AS_TRANS) when
// 32-bit AS is in use and the real value doesn't fit, else the real AS.
func legacyAS(as uint32) uint16 {
	if as > 0xffff {
		return 23456
	}
	return uint16(as)
}
