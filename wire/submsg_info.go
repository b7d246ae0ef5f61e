package wire

import (
	"github.com/pkg/errors"

	"github.com/dds-go/rtps/guid"
)

// Timestamp is the RTPS Time_t: seconds since the epoch plus a
// fractional part in 2^-32 second units.
type Timestamp struct {
	Seconds  uint32
	Fraction uint32
}

// TimestampInvalid is the RTPS sentinel time (all-ones), meaning "no
// timestamp" when carried in INFO_REPLY or similar.
var TimestampInvalid = Timestamp{Seconds: 0xffffffff, Fraction: 0xffffffff}

// InfoTimestampInvalidateFlag means "no timestamp follows"; when
// unset, the 8-byte Timestamp field is present.
const InfoTimestampInvalidateFlag byte = 0x02

// InfoTimestamp overrides source_timestamp for subsequent
// submessages in the same message.
type InfoTimestamp struct {
	Timestamp    Timestamp
	Invalidate   bool
	LittleEndian bool
}

func (i InfoTimestamp) SubmessageKind() Kind { return KindInfoTimestamp }

func (i InfoTimestamp) WireFlags() byte {
	f := byte(0)
	if i.LittleEndian {
		f |= EndiannessFlag
	}
	if i.Invalidate {
		f |= InfoTimestampInvalidateFlag
	}
	return f
}

func (i InfoTimestamp) MarshalBody() []byte {
	if i.Invalidate {
		return nil
	}
	ord := byteOrder(i.WireFlags())
	buf := make([]byte, 8)
	ord.PutUint32(buf[0:4], i.Timestamp.Seconds)
	ord.PutUint32(buf[4:8], i.Timestamp.Fraction)
	return buf
}

// ParseInfoTimestamp decodes an INFO_TIMESTAMP submessage body.
func ParseInfoTimestamp(flags byte, body []byte) (InfoTimestamp, error) {
	var i InfoTimestamp
	i.LittleEndian = flags&EndiannessFlag != 0
	i.Invalidate = flags&InfoTimestampInvalidateFlag != 0
	if i.Invalidate {
		return i, nil
	}
	if len(body) < 8 {
		return InfoTimestamp{}, errors.New("wire: truncated info_timestamp")
	}
	ord := byteOrder(flags)
	i.Timestamp.Seconds = ord.Uint32(body[0:4])
	i.Timestamp.Fraction = ord.Uint32(body[4:8])
	return i, nil
}

// InfoSource overrides source_guid_prefix (and implicitly the
// protocol version/vendor id) for subsequent submessages, used when
// splicing decrypted SRTPS payloads back into the receive stream.
type InfoSource struct {
	Version      ProtocolVersion
	VendorId     VendorId
	GuidPrefix   guid.GuidPrefix
	LittleEndian bool
}

func (i InfoSource) SubmessageKind() Kind { return KindInfoSource }

func (i InfoSource) WireFlags() byte {
	if i.LittleEndian {
		return EndiannessFlag
	}
	return 0
}

func (i InfoSource) MarshalBody() []byte {
	buf := make([]byte, 4+2+2+12)
	// first 4 bytes reserved
	buf[4] = i.Version.Major
	buf[5] = i.Version.Minor
	buf[6] = i.VendorId[0]
	buf[7] = i.VendorId[1]
	copy(buf[8:20], i.GuidPrefix[:])
	return buf
}

// ParseInfoSource decodes an INFO_SOURCE submessage body.
func ParseInfoSource(flags byte, body []byte) (InfoSource, error) {
	if len(body) < 20 {
		return InfoSource{}, errors.New("wire: truncated info_source")
	}
	var i InfoSource
	i.LittleEndian = flags&EndiannessFlag != 0
	i.Version = ProtocolVersion{Major: body[4], Minor: body[5]}
	i.VendorId = VendorId{body[6], body[7]}
	copy(i.GuidPrefix[:], body[8:20])
	return i, nil
}

// InfoDestination overrides dest_guid_prefix for subsequent
// submessages, used e.g. to target a specific participant's built-in
// readers directly.
type InfoDestination struct {
	GuidPrefix   guid.GuidPrefix
	LittleEndian bool
}

func (i InfoDestination) SubmessageKind() Kind { return KindInfoDest }

func (i InfoDestination) WireFlags() byte {
	if i.LittleEndian {
		return EndiannessFlag
	}
	return 0
}

func (i InfoDestination) MarshalBody() []byte {
	buf := make([]byte, 12)
	copy(buf, i.GuidPrefix[:])
	return buf
}

// ParseInfoDestination decodes an INFO_DESTINATION submessage body.
func ParseInfoDestination(flags byte, body []byte) (InfoDestination, error) {
	if len(body) < 12 {
		return InfoDestination{}, errors.New("wire: truncated info_destination")
	}
	var i InfoDestination
	i.LittleEndian = flags&EndiannessFlag != 0
	copy(i.GuidPrefix[:], body[0:12])
	return i, nil
}

// InfoReplyMulticastFlag marks that MulticastLocators follows
// UnicastLocators in the body.
const InfoReplyMulticastFlag byte = 0x02

// InfoReply overrides the reply locators for subsequent submessages:
// the MessageReceiver sends its ACKNACK replies to the unicast ones
// instead of the locators it has on record for the sending writer.
type InfoReply struct {
	UnicastLocators   []guid.Locator
	MulticastLocators []guid.Locator
	LittleEndian      bool
}

func (i InfoReply) SubmessageKind() Kind { return KindInfoReply }

func (i InfoReply) WireFlags() byte {
	f := byte(0)
	if i.LittleEndian {
		f |= EndiannessFlag
	}
	if len(i.MulticastLocators) > 0 {
		f |= InfoReplyMulticastFlag
	}
	return f
}

func (i InfoReply) MarshalBody() []byte {
	ord := byteOrder(i.WireFlags())
	var buf []byte
	buf = appendLocatorList(buf, ord, i.UnicastLocators)
	if len(i.MulticastLocators) > 0 {
		buf = appendLocatorList(buf, ord, i.MulticastLocators)
	}
	return buf
}

// ParseInfoReply decodes an INFO_REPLY submessage body.
func ParseInfoReply(flags byte, body []byte) (InfoReply, error) {
	ord := byteOrder(flags)
	var i InfoReply
	i.LittleEndian = flags&EndiannessFlag != 0

	uni, n, err := parseLocatorList(ord, body)
	if err != nil {
		return InfoReply{}, errors.Wrap(err, "wire: info_reply unicast locators")
	}
	i.UnicastLocators = uni
	body = body[n:]

	if flags&InfoReplyMulticastFlag != 0 {
		multi, _, err := parseLocatorList(ord, body)
		if err != nil {
			return InfoReply{}, errors.Wrap(err, "wire: info_reply multicast locators")
		}
		i.MulticastLocators = multi
	}
	return i, nil
}
