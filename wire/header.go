// Package wire implements the bit-exact RTPS 2.3 message and
// submessage codec, plus the Parameter-List CDR codec used by
// built-in discovery topic data.
package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/dds-go/rtps/guid"
)

// ProtocolID is the fixed 4-byte magic that opens every RTPS message.
var ProtocolID = [4]byte{'R', 'T', 'P', 'S'}

// ProtocolVersion is (major, minor); this codec emits and accepts 2.3.
type ProtocolVersion struct {
	Major, Minor byte
}

// Version23 is the protocol version emitted by this codec.
var Version23 = ProtocolVersion{Major: 2, Minor: 3}

// VendorId identifies the implementation that produced a message.
// RTPS reserves vendor id (0,0); unregistered implementations pick an
// arbitrary non-zero identifier.
type VendorId [2]byte

// VendorIdThisImplementation is an arbitrary, unregistered vendor id.
var VendorIdThisImplementation = VendorId{0x01, 0x21}

// HeaderLen is the fixed size of the RTPS message header.
const HeaderLen = 20

// Header is the fixed 20-byte prefix of every RTPS message: magic,
// version, vendor id, sender's guid prefix. It is always big-endian
// encoded, independent of any submessage's own endianness flag.
type Header struct {
	Version      ProtocolVersion
	VendorId     VendorId
	GuidPrefix   guid.GuidPrefix
}

// Marshal writes the 20-byte wire form of h into dst.
func (h Header) Marshal(dst []byte) {
	copy(dst[0:4], ProtocolID[:])
	dst[4] = h.Version.Major
	dst[5] = h.Version.Minor
	dst[6] = h.VendorId[0]
	dst[7] = h.VendorId[1]
	copy(dst[8:20], h.GuidPrefix[:])
}

// ParseHeader reads a Header from the first HeaderLen bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, errors.New("wire: message shorter than header")
	}
	if b[0] != ProtocolID[0] || b[1] != ProtocolID[1] || b[2] != ProtocolID[2] || b[3] != ProtocolID[3] {
		return Header{}, errors.New("wire: bad protocol magic")
	}
	var h Header
	h.Version = ProtocolVersion{Major: b[4], Minor: b[5]}
	h.VendorId = VendorId{b[6], b[7]}
	copy(h.GuidPrefix[:], b[8:20])
	return h, nil
}

// byteOrder returns the endianness selected by submessage flag bit 0:
// set means little-endian, clear means big-endian (RTPS 2.3 9.4.5.1.3).
func byteOrder(flags byte) binary.ByteOrder {
	if flags&0x01 != 0 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func flagsFor(order binary.ByteOrder, extra byte) byte {
	var f byte
	if order == binary.LittleEndian {
		f |= 0x01
	}
	return f | extra
}
