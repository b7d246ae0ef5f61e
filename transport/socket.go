package transport

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Socket wraps one UDP endpoint an RTPS participant sends and
// receives on. It is the narrow interface the event loop's poller
// registers.
type Socket struct {
	Conn      *net.UDPConn
	multicast *ipv4.PacketConn
	multicast6 *ipv6.PacketConn
}

// Listen binds a UDP socket on the given port across all interfaces.
func Listen(port int) (*Socket, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, errors.Wrapf(err, "transport: listen on port %d", port)
	}
	return &Socket{Conn: conn}, nil
}

// JoinMulticastV4 joins the IPv4 multicast group addr on this
// socket, restricted to the given interfaces (nil means all
// multicast-capable interfaces), grounding the group-membership call
// in golang.org/x/net/ipv4's PacketConn.
func (s *Socket) JoinMulticastV4(addr net.IP, ifaces []net.Interface) error {
	pc := ipv4.NewPacketConn(s.Conn)
	s.multicast = pc
	group := &net.UDPAddr{IP: addr}

	if len(ifaces) == 0 {
		all, err := net.Interfaces()
		if err != nil {
			return errors.Wrap(err, "transport: list interfaces")
		}
		ifaces = all
	}

	joined := 0
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if err := pc.JoinGroup(&iface, group); err == nil {
			joined++
		}
	}
	if joined == 0 {
		return errors.Errorf("transport: failed to join multicast group %s on any interface", addr)
	}
	return nil
}

// JoinMulticastV6 is JoinMulticastV4's IPv6 counterpart, grounded in
// golang.org/x/net/ipv6's PacketConn.
func (s *Socket) JoinMulticastV6(addr net.IP, ifaces []net.Interface) error {
	pc := ipv6.NewPacketConn(s.Conn)
	s.multicast6 = pc
	group := &net.UDPAddr{IP: addr}

	if len(ifaces) == 0 {
		all, err := net.Interfaces()
		if err != nil {
			return errors.Wrap(err, "transport: list interfaces")
		}
		ifaces = all
	}

	joined := 0
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if err := pc.JoinGroup(&iface, group); err == nil {
			joined++
		}
	}
	if joined == 0 {
		return errors.Errorf("transport: failed to join multicast group %s on any interface", addr)
	}
	return nil
}

// SendTo writes b to dst.
func (s *Socket) SendTo(b []byte, dst *net.UDPAddr) (int, error) {
	return s.Conn.WriteToUDP(b, dst)
}

// ReadFrom reads one datagram into b.
func (s *Socket) ReadFrom(b []byte) (int, *net.UDPAddr, error) {
	n, addr, err := s.Conn.ReadFromUDP(b)
	return n, addr, err
}

// Close releases the underlying file descriptor.
func (s *Socket) Close() error {
	return s.Conn.Close()
}

// LocalPort returns the port this socket is bound to.
func (s *Socket) LocalPort() int {
	return s.Conn.LocalAddr().(*net.UDPAddr).Port
}

// BindParticipantIndex tries participant indices 0..MaxParticipantIndex
// in order, binding the SPDP unicast port for each, and returns the
// first index whose port is free along with its four sockets'
// listening ports. Failure across the whole range is an
// OutOfResources condition for the caller to report.
func BindParticipantIndex(domain uint16) (int, Ports, *Socket, error) {
	for p := 0; p <= MaxParticipantIndex; p++ {
		ports := ComputePorts(domain, p)
		sock, err := Listen(ports.SpdpUnicast)
		if err != nil {
			continue
		}
		return p, ports, sock, nil
	}
	return 0, Ports{}, nil, errors.Errorf("transport: no bindable participant index in [0, %d] for domain %d", MaxParticipantIndex, domain)
}
