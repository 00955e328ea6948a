package bgp

import (
	"fmt"
	"reflect"
)

// NLRIItem is the constraint shared by every concrete prefix shape that the
// three wrappers below can compose over (§9: "parameterization over codec
// item"). Only String is required: some inner shapes (VPLSRoute) embed a
// LabelStack directly and are therefore not comparable via Go's built-in
// ==, so wrapper equality below uses reflect.DeepEqual instead of a
// comparable constraint.
type NLRIItem interface {
	String() string
}

// WithRD composes a Route Distinguisher with an inner prefix (VPN families).
// Ordering compares the inner value first, then the RD, per §3.
type WithRD[T NLRIItem] struct {
	RD    RD
	Inner T
}

func (w WithRD[T]) String() string {
	if w.RD.String() == "" {
		return w.Inner.String()
	}
	return w.RD.String() + ":" + w.Inner.String()
}

// Equal compares both the RD and the inner value.
func (w WithRD[T]) Equal(o WithRD[T]) bool {
	return w.RD == o.RD && reflect.DeepEqual(w.Inner, o.Inner)
}

// Less implements the §3 ordering rule: inner first, then RD.
func (w WithRD[T]) Less(o WithRD[T], innerLess func(a, b T) bool) bool {
	if !reflect.DeepEqual(w.Inner, o.Inner) {
		return innerLess(w.Inner, o.Inner)
	}
	return w.RD.Less(o.RD)
}

// Labeled composes an MPLS label stack with an inner prefix. Per §3/§9 the
// label stack never participates in equality, hashing, or ordering: two
// Labeled values with different label contents but the same Inner are the
// same FEC.
type Labeled[T NLRIItem] struct {
	Labels LabelStack
	Inner  T
}

func (l Labeled[T]) String() string { return l.Inner.String() }

// Equal ignores Labels by construction — it only compares Inner.
func (l Labeled[T]) Equal(o Labeled[T]) bool { return reflect.DeepEqual(l.Inner, o.Inner) }

// WithPathID composes a 32-bit ADD-PATH identifier with an inner prefix.
// When ID is zero it renders as the inner value alone (§3).
type WithPathID[T NLRIItem] struct {
	ID    uint32
	Inner T
}

func (w WithPathID[T]) String() string {
	if w.ID == 0 {
		return w.Inner.String()
	}
	return fmt.Sprintf("path %d %s", w.ID, w.Inner.String())
}

func (w WithPathID[T]) Equal(o WithPathID[T]) bool {
	return w.ID == o.ID && reflect.DeepEqual(w.Inner, o.Inner)
}

// decodePathID reads the leading 32-bit path id used by every ADD-PATH
// framed NLRI item (§4.4).
func decodePathID(buf []byte) (uint32, []byte, error) {
	v, rest, err := readUint32(buf)
	if err != nil {
		return 0, nil, errWrap(ErrInsufficientBuffer, "add-path id", err)
	}
	return v, rest, nil
}

func encodePathID(buf []byte, id uint32) []byte {
	return writeUint32(buf, id)
}
