package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Kind identifies the kind of an RTPS submessage (RTPS 2.3 9.4.5.1.1,
// plus the DDS-Security submessage kinds).
type Kind byte

const (
	KindPad            Kind = 0x01
	KindAckNack        Kind = 0x06
	KindHeartbeat      Kind = 0x07
	KindGap            Kind = 0x08
	KindInfoTimestamp  Kind = 0x09
	KindInfoSource     Kind = 0x0c
	KindInfoDest       Kind = 0x0e
	KindInfoReply      Kind = 0x0f
	KindNackFrag       Kind = 0x12
	KindHeartbeatFrag  Kind = 0x13
	KindData           Kind = 0x15
	KindDataFrag       Kind = 0x16
	KindSecBody        Kind = 0x30
	KindSecPrefix      Kind = 0x31
	KindSecPostfix     Kind = 0x32
	KindSrtpsPrefix    Kind = 0x35
	KindSrtpsPostfix   Kind = 0x36
)

func (k Kind) String() string {
	switch k {
	case KindPad:
		return "PAD"
	case KindAckNack:
		return "ACKNACK"
	case KindHeartbeat:
		return "HEARTBEAT"
	case KindGap:
		return "GAP"
	case KindInfoTimestamp:
		return "INFO_TIMESTAMP"
	case KindInfoSource:
		return "INFO_SOURCE"
	case KindInfoDest:
		return "INFO_DESTINATION"
	case KindInfoReply:
		return "INFO_REPLY"
	case KindNackFrag:
		return "NACK_FRAG"
	case KindHeartbeatFrag:
		return "HEARTBEAT_FRAG"
	case KindData:
		return "DATA"
	case KindDataFrag:
		return "DATA_FRAG"
	case KindSecBody:
		return "SEC_BODY"
	case KindSecPrefix:
		return "SEC_PREFIX"
	case KindSecPostfix:
		return "SEC_POSTFIX"
	case KindSrtpsPrefix:
		return "SRTPS_PREFIX"
	case KindSrtpsPostfix:
		return "SRTPS_POSTFIX"
	default:
		return "UNKNOWN"
	}
}

// EndiannessFlag is submessage flag bit 0, selecting big- or
// little-endian for the submessage body.
const EndiannessFlag byte = 0x01

// SubHeaderLen is the fixed 4-byte submessage header size.
const SubHeaderLen = 4

// Submessage is implemented by every submessage body this codec
// knows how to produce. Unknown or not-yet-decoded submessages are
// represented by Raw, which satisfies this interface by echoing back
// exactly the bytes it was parsed from.
type Submessage interface {
	SubmessageKind() Kind
	WireFlags() byte
	MarshalBody() []byte
}

// Raw holds a submessage this codec did not recognize, or one that
// callers want to carry opaquely (e.g. a SEC_BODY payload). Keeping
// unknown kinds as Raw lets parse(serialize(m)) == m hold even when m
// contains submessage kinds this version of the codec does not model,
// and lets the receiver skip them via octets_to_next without treating
// the message as malformed.
type Raw struct {
	Kind  Kind
	Flags byte
	Body  []byte
}

func (r Raw) SubmessageKind() Kind { return r.Kind }
func (r Raw) WireFlags() byte      { return r.Flags }
func (r Raw) MarshalBody() []byte  { return r.Body }

// order returns the byte order selected by a submessage's own flags.
func order(flags byte) binary.ByteOrder { return byteOrder(flags) }

// Marshal serializes a full RTPS message: header followed by each
// submessage with its own 4-byte header. Each submessage's body
// endianness is independent and is taken from that submessage's own
// WireFlags.
func Marshal(h Header, subs []Submessage) []byte {
	out := make([]byte, HeaderLen)
	h.Marshal(out)

	for _, sm := range subs {
		flags := sm.WireFlags()
		body := sm.MarshalBody()
		ord := order(flags)

		subHdr := make([]byte, SubHeaderLen)
		subHdr[0] = byte(sm.SubmessageKind())
		subHdr[1] = flags
		ord.PutUint16(subHdr[2:4], uint16(len(body)))

		out = append(out, subHdr...)
		out = append(out, body...)
	}
	return out
}

// Parse splits an RTPS message into its header and ordered list of
// submessages. A submessage whose kind this codec does not decode
// into a structured type is returned as Raw with its exact bytes
// preserved, using octets_to_next to skip it — it never aborts
// parsing of the remaining submessages.
func Parse(b []byte) (Header, []Submessage, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return Header{}, nil, err
	}

	var subs []Submessage
	rest := b[HeaderLen:]
	for len(rest) > 0 {
		if len(rest) < SubHeaderLen {
			return Header{}, nil, errors.New("wire: truncated submessage header")
		}
		kind := Kind(rest[0])
		flags := rest[1]
		ord := order(flags)
		octetsToNext := int(ord.Uint16(rest[2:4]))

		body := rest[SubHeaderLen:]
		if octetsToNext != 0 {
			if len(body) < octetsToNext {
				return Header{}, nil, errors.Errorf("wire: submessage %s body truncated: want %d have %d", kind, octetsToNext, len(body))
			}
			body = body[:octetsToNext]
		}
		// octetsToNext == 0 is only legal for the last submessage in a
		// message (RTPS 2.3 9.4.5.1.3); treat the remainder as the body.

		sm, decodeErr := decode(kind, flags, body)
		if decodeErr != nil {
			// A malformed body for a kind we do recognize: keep this
			// single submessage as Raw (which the receiver ignores)
			// and keep processing the rest of the message.
			sm = Raw{Kind: kind, Flags: flags, Body: append([]byte(nil), body...)}
		}
		subs = append(subs, sm)

		advance := SubHeaderLen + len(body)
		if advance >= len(rest) {
			break
		}
		rest = rest[advance:]
	}
	return h, subs, nil
}

// decode dispatches a submessage body to its structured parser, or
// falls back to Raw for kinds this codec does not model.
func decode(kind Kind, flags byte, body []byte) (Submessage, error) {
	switch kind {
	case KindData:
		return ParseData(flags, body)
	case KindDataFrag:
		return ParseDataFrag(flags, body)
	case KindHeartbeat:
		return ParseHeartbeat(flags, body)
	case KindHeartbeatFrag:
		return ParseHeartbeatFrag(flags, body)
	case KindGap:
		return ParseGap(flags, body)
	case KindAckNack:
		return ParseAckNack(flags, body)
	case KindNackFrag:
		return ParseNackFrag(flags, body)
	case KindInfoTimestamp:
		return ParseInfoTimestamp(flags, body)
	case KindInfoSource:
		return ParseInfoSource(flags, body)
	case KindInfoDest:
		return ParseInfoDestination(flags, body)
	case KindInfoReply:
		return ParseInfoReply(flags, body)
	case KindSecPrefix, KindSecPostfix, KindSecBody, KindSrtpsPrefix, KindSrtpsPostfix:
		return Raw{Kind: kind, Flags: flags, Body: append([]byte(nil), body...)}, nil
	default:
		return Raw{Kind: kind, Flags: flags, Body: append([]byte(nil), body...)}, nil
	}
}
