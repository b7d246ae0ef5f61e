// Package transport wraps the UDP sockets an RTPS participant needs:
// port computation, socket bind, and multicast group membership.
package transport

import "net"

// SpdpMulticastGroup is the well-known SPDP multicast address every
// participant on a domain joins to discover its peers.
var SpdpMulticastGroup = net.IPv4(239, 255, 0, 1)

const (
	basePort           = 7400
	domainPortOffset   = 250
	participantPortGap = 2
)

// Ports holds the four UDP ports a participant listens on for a given
// domain id and participant index, per the RTPS discovery port formula.
type Ports struct {
	SpdpMulticast int
	SpdpUnicast   int
	UserMulticast int
	UserUnicast   int
}

// ComputePorts derives the four ports for domain d and participant
// index p, per RTPS 2.3 9.6.1.1:
//
//	SPDP multicast:  7400 + 250d
//	SPDP unicast:    7400 + 250d + 10 + 2p
//	user multicast:  7400 + 250d + 1
//	user unicast:    7400 + 250d + 11 + 2p
func ComputePorts(domain uint16, participantIndex int) Ports {
	d := int(domain)
	return Ports{
		SpdpMulticast: basePort + domainPortOffset*d,
		SpdpUnicast:   basePort + domainPortOffset*d + 10 + participantPortGap*participantIndex,
		UserMulticast: basePort + domainPortOffset*d + 1,
		UserUnicast:   basePort + domainPortOffset*d + 11 + participantPortGap*participantIndex,
	}
}

// MaxParticipantIndex is the highest participant index this core will
// try when searching for a bindable SPDP unicast port, the RTPS
// default domain_id_gain's range of 0..119.
const MaxParticipantIndex = 119
