package guid

import (
	"encoding/binary"
	"net"

	"github.com/pkg/errors"
)

// LocatorKind selects the transport family of a Locator.
type LocatorKind int32

// RTPS 2.3 9.6.2.1.1 locator kinds.
const (
	LocatorKindInvalid LocatorKind = -1
	LocatorKindUDPv4    LocatorKind = 1
	LocatorKindUDPv6    LocatorKind = 2
)

// Locator is a transport address: kind, port, and a 16-byte address
// field (IPv4 addresses are stored in the low 4 bytes).
type Locator struct {
	Kind    LocatorKind
	Port    uint32
	Address [16]byte
}

// InvalidLocator is the RTPS sentinel meaning "no address".
var InvalidLocator = Locator{Kind: LocatorKindInvalid}

// NewUDPv4 builds a Locator from a dotted-quad/port UDP address.
func NewUDPv4(ip net.IP, port uint16) Locator {
	var l Locator
	l.Kind = LocatorKindUDPv4
	l.Port = uint32(port)
	v4 := ip.To4()
	copy(l.Address[12:16], v4)
	return l
}

// IP returns the net.IP this locator addresses, for UDPv4/UDPv6 kinds.
func (l Locator) IP() net.IP {
	switch l.Kind {
	case LocatorKindUDPv4:
		return net.IPv4(l.Address[12], l.Address[13], l.Address[14], l.Address[15])
	case LocatorKindUDPv6:
		ip := make(net.IP, 16)
		copy(ip, l.Address[:])
		return ip
	default:
		return nil
	}
}

// UDPAddr converts the locator into a *net.UDPAddr, or nil if it is
// not a UDP locator.
func (l Locator) UDPAddr() *net.UDPAddr {
	ip := l.IP()
	if ip == nil {
		return nil
	}
	return &net.UDPAddr{IP: ip, Port: int(l.Port)}
}

// IsMulticast reports whether the locator's address is a multicast
// group address.
func (l Locator) IsMulticast() bool {
	ip := l.IP()
	return ip != nil && ip.IsMulticast()
}

// WireLen is the fixed marshaled size of a Locator on the wire.
const WireLen = 24

// Marshal writes the 24-byte wire form of l (kind:4, port:4, address:16).
func (l Locator) Marshal(order binary.ByteOrder, dst []byte) {
	order.PutUint32(dst[0:4], uint32(l.Kind))
	order.PutUint32(dst[4:8], l.Port)
	copy(dst[8:24], l.Address[:])
}

// ParseLocator reads a 24-byte wire-form Locator.
func ParseLocator(order binary.ByteOrder, b []byte) (Locator, error) {
	if len(b) < WireLen {
		return Locator{}, errors.New("locator: short buffer")
	}
	var l Locator
	l.Kind = LocatorKind(order.Uint32(b[0:4]))
	l.Port = order.Uint32(b[4:8])
	copy(l.Address[:], b[8:24])
	return l, nil
}
