package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ParameterId identifies a field inside a Parameter-List CDR encoded
// built-in topic data payload (SPDP/SEDP), RTPS 2.3 9.4.2.11.
type ParameterId uint16

// PidSentinel terminates a parameter list.
const PidSentinel ParameterId = 0x0001

// Well-known parameter ids used by this core's built-in topic data.
const (
	PidUnknown                    ParameterId = 0x0000
	PidParticipantGuid             ParameterId = 0x0050
	PidEndpointGuid                ParameterId = 0x005a
	PidTopicName                   ParameterId = 0x0005
	PidTypeName                    ParameterId = 0x0007
	PidProtocolVersion             ParameterId = 0x0015
	PidVendorId                    ParameterId = 0x0016
	PidExpectsInlineQos            ParameterId = 0x0043
	PidMetatrafficUnicastLocator   ParameterId = 0x0032
	PidMetatrafficMulticastLocator ParameterId = 0x0033
	PidDefaultUnicastLocator       ParameterId = 0x0031
	PidDefaultMulticastLocator     ParameterId = 0x0048
	PidUnicastLocator              ParameterId = 0x002f
	PidMulticastLocator            ParameterId = 0x0030
	PidParticipantLeaseDuration    ParameterId = 0x0002
	PidBuiltinEndpointSet          ParameterId = 0x0058
	PidManualLivelinessCount       ParameterId = 0x0034
	PidReliability                 ParameterId = 0x001a
	PidDurability                  ParameterId = 0x001d
	PidHistory                     ParameterId = 0x0040
	PidDeadline                    ParameterId = 0x0023
	PidLiveliness                  ParameterId = 0x001b
	PidKeyHash                     ParameterId = 0x0070
	PidStatusInfo                  ParameterId = 0x0071
	PidIdentityToken               ParameterId = 0x1001
	PidPermissionsToken            ParameterId = 0x1002
	PidParticipantSecurityInfo     ParameterId = 0x1006
)

// Parameter is one (id, value) pair of a Parameter-List CDR payload.
// Value is the raw, already-padded-to-4-bytes field content.
type Parameter struct {
	ID    ParameterId
	Value []byte
}

// ParameterList is an ordered sequence of Parameters, as carried by
// SPDP/SEDP built-in topic data and DATA submessage inline QoS.
type ParameterList []Parameter

// Get returns the value of the first parameter with the given id.
func (pl ParameterList) Get(id ParameterId) ([]byte, bool) {
	for _, p := range pl {
		if p.ID == id {
			return p.Value, true
		}
	}
	return nil, false
}

func pad4(n int) int { return (n + 3) &^ 3 }

// Marshal serializes a ParameterList, terminated by PID_SENTINEL,
// using the given byte order (PL_CDR_BE or PL_CDR_LE).
func (pl ParameterList) Marshal(order binary.ByteOrder) []byte {
	var out []byte
	for _, p := range pl {
		padded := pad4(len(p.Value))
		hdr := make([]byte, 4)
		order.PutUint16(hdr[0:2], uint16(p.ID))
		order.PutUint16(hdr[2:4], uint16(padded))
		out = append(out, hdr...)
		v := make([]byte, padded)
		copy(v, p.Value)
		out = append(out, v...)
	}
	sentinel := make([]byte, 4)
	order.PutUint16(sentinel[0:2], uint16(PidSentinel))
	out = append(out, sentinel...)
	return out
}

// Representation identifiers for the 4-byte CDR encapsulation header
// that precedes a built-in topic data payload, RTPS 2.3 10.2.
const (
	ReprPLCDRBE uint16 = 0x0002
	ReprPLCDRLE uint16 = 0x0003
)

// EncodePLCDR wraps pl in the 4-byte CDR encapsulation header SPDP and
// SEDP built-in topic data payloads carry ahead of their parameter
// list.
func EncodePLCDR(pl ParameterList, littleEndian bool) []byte {
	order := binary.ByteOrder(binary.BigEndian)
	repr := ReprPLCDRBE
	if littleEndian {
		order = binary.LittleEndian
		repr = ReprPLCDRLE
	}
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint16(hdr[0:2], repr)
	return append(hdr, pl.Marshal(order)...)
}

// DecodePLCDR reads a CDR-encapsulated parameter list payload,
// returning the parameters decoded in the byte order the
// encapsulation header selects.
func DecodePLCDR(b []byte) (ParameterList, error) {
	if len(b) < 4 {
		return nil, errors.New("wire: truncated PL_CDR encapsulation header")
	}
	repr := binary.BigEndian.Uint16(b[0:2])
	var order binary.ByteOrder = binary.BigEndian
	if repr == ReprPLCDRLE {
		order = binary.LittleEndian
	}
	pl, _, err := ParseParameterList(order, b[4:])
	return pl, err
}

// ParseParameterList reads a Parameter-List CDR payload terminated by
// PID_SENTINEL and returns it along with the number of bytes consumed.
func ParseParameterList(order binary.ByteOrder, b []byte) (ParameterList, int, error) {
	var pl ParameterList
	off := 0
	for {
		if off+4 > len(b) {
			return nil, 0, errors.New("wire: truncated parameter header")
		}
		id := ParameterId(order.Uint16(b[off : off+2]))
		length := int(order.Uint16(b[off+2 : off+4]))
		off += 4
		if id == PidSentinel {
			return pl, off, nil
		}
		if off+length > len(b) {
			return nil, 0, errors.Errorf("wire: parameter %#x length %d exceeds buffer", id, length)
		}
		value := append([]byte(nil), b[off:off+length]...)
		pl = append(pl, Parameter{ID: id, Value: value})
		off += length
	}
}
