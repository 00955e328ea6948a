package bgp

import (
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// RouteEvent is a flattened, string-rendered view of one NLRI item from an
// UPDATE, paired with the attributes that applied to it. It exists purely
// for storage/display layers (history/state pipelines) that want a
// denormalized row rather than the structured Update/Attribute tree.
type RouteEvent struct {
	AFI       int // 4 or 6
	Prefix    string
	PathID    int64
	Action    string // "A" (reachable) or "D" (withdrawn)
	Nexthop   string
	ASPath    string
	Origin    string
	LocalPref *uint32
	MED       *uint32
	CommStd   []string
	CommExt   []string
	CommLarge []string
	Attrs     map[string]string // unrecognized attributes, keyed by type code
}

// ProjectUpdate renders an already-decoded Update into one RouteEvent per
// withdrawn and per reachable NLRI item. Reachable items share the
// attributes carried on the Update (including any MP-Reach's own next hop);
// withdrawn items carry no attributes.
func ProjectUpdate(u Update) []RouteEvent {
	var events []RouteEvent

	shared := projectAttributes(u.Attributes)

	events = append(events, projectItems(u.Withdrawn, "D", routeAttrs{})...)
	events = append(events, projectItems(u.Reach, "A", shared)...)

	for _, attr := range u.Attributes {
		if attr.MPReach != nil {
			mpShared := shared
			mpShared.Nexthop = attr.MPReach.NextHop.String()
			events = append(events, projectItems(attr.MPReach.NLRI, "A", mpShared)...)
		}
		if attr.MPUnreach != nil {
			events = append(events, projectItems(attr.MPUnreach.NLRI, "D", routeAttrs{})...)
		}
	}

	return events
}

// routeAttrs is the per-update attribute projection shared across every
// NLRI item it applies to.
type routeAttrs struct {
	Nexthop   string
	ASPath    string
	Origin    string
	LocalPref *uint32
	MED       *uint32
	CommStd   []string
	CommExt   []string
	CommLarge []string
	Attrs     map[string]string
}

func projectAttributes(attrs []Attribute) routeAttrs {
	var out routeAttrs
	out.Attrs = make(map[string]string)
	for _, a := range attrs {
		switch {
		case a.Origin != nil:
			out.Origin = originName(*a.Origin)
		case a.NextHop != nil:
			out.Nexthop = a.NextHop.String()
		case a.ASPath != nil:
			out.ASPath = renderASPath(*a.ASPath)
		case a.LocalPref != nil:
			out.LocalPref = a.LocalPref
		case a.MED != nil:
			out.MED = a.MED
		case a.Communities != nil:
			for _, c := range a.Communities {
				out.CommStd = append(out.CommStd, renderCommunity(c))
			}
		case a.ExtCommunities != nil:
			for _, c := range a.ExtCommunities {
				out.CommExt = append(out.CommExt, renderExtCommunity(c))
			}
		case a.LargeCommunities != nil:
			for _, c := range a.LargeCommunities {
				out.CommLarge = append(out.CommLarge, fmt.Sprintf("%d:%d:%d", c.GlobalAdmin, c.LocalData1, c.LocalData2))
			}
		case a.Raw != nil:
			out.Attrs[strconv.Itoa(int(a.Type))] = hex.EncodeToString(a.Raw)
		}
	}
	if len(out.Attrs) == 0 {
		out.Attrs = nil
	}
	return out
}

func projectItems(set NLRISet, action string, attrs routeAttrs) []RouteEvent {
	var events []RouteEvent
	afi := 4
	if set.AFI == AFIIPv6 {
		afi = 6
	}
	switch set.AFI {
	case AFIIPv4:
		appendPrefixEvents(&events, afi, action, attrs, set)
	case AFIIPv6:
		appendPrefixEvents(&events, afi, action, attrs, set)
	}
	return events
}

// appendPrefixEvents handles the unicast/multicast v4/v6 shapes (the only
// ones a flattened history/state row needs to represent); VPN, EVPN, MVPN,
// and FlowSpec families are consumed structurally by callers that need
// them, not through this projection.
func appendPrefixEvents(events *[]RouteEvent, afi int, action string, attrs routeAttrs, set NLRISet) {
	if items, ok := ItemsOf[PrefixV4](set); ok {
		for _, p := range items {
			*events = append(*events, newRouteEvent(afi, p.String(), 0, action, attrs))
		}
		return
	}
	if items, ok := ItemsOf[WithPathID[PrefixV4]](set); ok {
		for _, p := range items {
			*events = append(*events, newRouteEvent(afi, p.Inner.String(), int64(p.ID), action, attrs))
		}
		return
	}
	if items, ok := ItemsOf[PrefixV6](set); ok {
		for _, p := range items {
			*events = append(*events, newRouteEvent(afi, p.String(), 0, action, attrs))
		}
		return
	}
	if items, ok := ItemsOf[WithPathID[PrefixV6]](set); ok {
		for _, p := range items {
			*events = append(*events, newRouteEvent(afi, p.Inner.String(), int64(p.ID), action, attrs))
		}
	}
}

func newRouteEvent(afi int, prefix string, pathID int64, action string, attrs routeAttrs) RouteEvent {
	return RouteEvent{
		AFI:       afi,
		Prefix:    prefix,
		PathID:    pathID,
		Action:    action,
		Nexthop:   attrs.Nexthop,
		ASPath:    attrs.ASPath,
		Origin:    attrs.Origin,
		LocalPref: attrs.LocalPref,
		MED:       attrs.MED,
		CommStd:   attrs.CommStd,
		CommExt:   attrs.CommExt,
		CommLarge: attrs.CommLarge,
		Attrs:     attrs.Attrs,
	}
}

func originName(v uint8) string {
	switch v {
	case OriginIGP:
		return "IGP"
	case OriginEGP:
		return "EGP"
	case OriginIncomplete:
		return "INCOMPLETE"
	default:
		return strconv.Itoa(int(v))
	}
}

func renderASPath(path ASPath) string {
	segments := make([]string, 0, len(path.Segments))
	for _, seg := range path.Segments {
		asns := make([]string, len(seg.ASNs))
		for i, asn := range seg.ASNs {
			asns[i] = strconv.FormatUint(uint64(asn), 10)
		}
		if seg.Type == ASPathSegmentSet {
			segments = append(segments, "{"+strings.Join(asns, ",")+"}")
		} else {
			segments = append(segments, strings.Join(asns, " "))
		}
	}
	return strings.Join(segments, " ")
}

// OriginASN returns the right-most (origin) AS number in a rendered AS-Path
// string, or 0 if the path is empty. The origin AS is the last token of the
// last segment, set or sequence alike.
func OriginASN(asPath string) uint32 {
	asPath = strings.TrimRight(strings.TrimSpace(asPath), "}")
	fields := strings.Fields(asPath)
	if len(fields) == 0 {
		return 0
	}
	last := strings.Trim(fields[len(fields)-1], "{}")
	last = strings.TrimSuffix(last, ",")
	if idx := strings.LastIndexByte(last, ','); idx >= 0 {
		last = last[idx+1:]
	}
	n, err := strconv.ParseUint(last, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

func renderCommunity(c uint32) string {
	if name, ok := WellKnownCommunityName(c); ok {
		return name
	}
	return fmt.Sprintf("%d:%d", c>>16, c&0xffff)
}

func renderExtCommunity(c ExtCommunity) string {
	typeHighBase := c.Type & 0x3f
	switch typeHighBase {
	case 0x00:
		asn := uint16(c.Payload[0])<<8 | uint16(c.Payload[1])
		val := uint32(c.Payload[2])<<24 | uint32(c.Payload[3])<<16 | uint32(c.Payload[4])<<8 | uint32(c.Payload[5])
		switch c.Subtype {
		case 0x02:
			return fmt.Sprintf("RT:%d:%d", asn, val)
		case 0x03:
			return fmt.Sprintf("SOO:%d:%d", asn, val)
		}
	case 0x01:
		ip := net.IP(c.Payload[0:4]).String()
		val := uint16(c.Payload[4])<<8 | uint16(c.Payload[5])
		switch c.Subtype {
		case 0x02:
			return fmt.Sprintf("RT:%s:%d", ip, val)
		case 0x03:
			return fmt.Sprintf("SOO:%s:%d", ip, val)
		}
	case 0x02:
		asn := uint32(c.Payload[0])<<24 | uint32(c.Payload[1])<<16 | uint32(c.Payload[2])<<8 | uint32(c.Payload[3])
		val := uint16(c.Payload[4])<<8 | uint16(c.Payload[5])
		switch c.Subtype {
		case 0x02:
			return fmt.Sprintf("RT:%d:%d", asn, val)
		case 0x03:
			return fmt.Sprintf("SOO:%d:%d", asn, val)
		}
	}
	return hex.EncodeToString(append([]byte{c.Type, c.Subtype}, c.Payload[:]...))
}

// DetectEOR reports whether an Update is an End-of-RIB marker (RFC 4724
// §2): for the peer's native family, a completely empty UPDATE; for any
// other family, an MP-Unreach attribute with an empty NLRI and no other
// attributes or NLRI. Returns the AFI the marker applies to.
func DetectEOR(u Update, nativeAFI int) (afi int, isEOR bool) {
	if u.Withdrawn.Items == nil && u.Reach.Items == nil {
		if len(u.Attributes) == 0 {
			return nativeAFI, true
		}
		if len(u.Attributes) == 1 && u.Attributes[0].MPUnreach != nil && u.Attributes[0].MPUnreach.NLRI.Items == nil {
			mpAFI := 4
			if u.Attributes[0].MPUnreach.AFI == AFIIPv6 {
				mpAFI = 6
			}
			return mpAFI, true
		}
	}
	return 0, false
}
