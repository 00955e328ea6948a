package bgp

import (
	"encoding/binary"
	"net"
)

// Octet and address primitives. Every helper is bounds-checked; running off
// the end of buf is always a first-class *Error, never a panic.

func need(buf []byte, n int) error {
	if len(buf) < n {
		return errShort("need %d bytes, have %d", n, len(buf))
	}
	return nil
}

func readUint8(buf []byte) (uint8, []byte, error) {
	if err := need(buf, 1); err != nil {
		return 0, nil, err
	}
	return buf[0], buf[1:], nil
}

func readUint16(buf []byte) (uint16, []byte, error) {
	if err := need(buf, 2); err != nil {
		return 0, nil, err
	}
	return binary.BigEndian.Uint16(buf), buf[2:], nil
}

func readUint32(buf []byte) (uint32, []byte, error) {
	if err := need(buf, 4); err != nil {
		return 0, nil, err
	}
	return binary.BigEndian.Uint32(buf), buf[4:], nil
}

func readUint64(buf []byte) (uint64, []byte, error) {
	if err := need(buf, 8); err != nil {
		return 0, nil, err
	}
	return binary.BigEndian.Uint64(buf), buf[8:], nil
}

func writeUint8(buf []byte, v uint8) []byte {
	return append(buf, v)
}

func writeUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func writeUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func writeUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// AddrV4 is a 4-octet IPv4 address, stored by value so owning containers
// never retain a reference into the decode buffer.
type AddrV4 [4]byte

func (a AddrV4) String() string {
	return net.IP(a[:]).String()
}

// AddrV6 is a 16-octet IPv6 address.
type AddrV6 [16]byte

func (a AddrV6) String() string {
	return net.IP(a[:]).String()
}

func readAddrV4(buf []byte) (AddrV4, []byte, error) {
	if err := need(buf, 4); err != nil {
		return AddrV4{}, nil, err
	}
	var a AddrV4
	copy(a[:], buf[:4])
	return a, buf[4:], nil
}

func readAddrV6(buf []byte) (AddrV6, []byte, error) {
	if err := need(buf, 16); err != nil {
		return AddrV6{}, nil, err
	}
	var a AddrV6
	copy(a[:], buf[:16])
	return a, buf[16:], nil
}

func writeAddrV4(buf []byte, a AddrV4) []byte {
	return append(buf, a[:]...)
}

func writeAddrV6(buf []byte, a AddrV6) []byte {
	return append(buf, a[:]...)
}

// take slices off n bytes from the front of buf, bounds-checked.
func take(buf []byte, n int) ([]byte, []byte, error) {
	if err := need(buf, n); err != nil {
		return nil, nil, err
	}
	return buf[:n], buf[n:], nil
}
