package wire

import "github.com/dds-go/rtps/guid"

// Message is a full RTPS message: the fixed header plus an ordered
// list of submessages. It is the unit this codec round-trips
// bit-exactly.
type Message struct {
	Header      Header
	Submessages []Submessage
}

// Serialize renders m to its wire bytes.
func (m Message) Serialize() []byte { return Marshal(m.Header, m.Submessages) }

// ParseMessage parses a wire-format RTPS message.
func ParseMessage(b []byte) (Message, error) {
	h, subs, err := Parse(b)
	if err != nil {
		return Message{}, err
	}
	return Message{Header: h, Submessages: subs}, nil
}

// NewHeaderFor builds a Header for messages originated by a
// participant with the given prefix, using this codec's emitted
// protocol version and vendor id.
func NewHeaderFor(prefix guid.GuidPrefix) Header {
	return Header{Version: Version23, VendorId: VendorIdThisImplementation, GuidPrefix: prefix}
}
