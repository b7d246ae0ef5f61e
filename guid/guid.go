// Package guid implements the RTPS entity identifiers: GuidPrefix,
// EntityId, the combined Guid, SequenceNumber and Locator.
package guid

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// PrefixLen is the size in bytes of a GuidPrefix.
const PrefixLen = 12

// EntityIdLen is the size in bytes of an EntityId.
const EntityIdLen = 4

// Len is the size in bytes of a full Guid (prefix + entity id).
const Len = PrefixLen + EntityIdLen

// GuidPrefix identifies a participant; it is shared by every entity
// the participant owns.
type GuidPrefix [PrefixLen]byte

func (p GuidPrefix) String() string {
	return fmt.Sprintf("%x", [PrefixLen]byte(p))
}

// Compare implements a lexicographic tie-break, used by secure
// discovery to decide which side of a handshake sends first.
func (p GuidPrefix) Compare(other GuidPrefix) int {
	return bytes.Compare(p[:], other[:])
}

// EntityKind is the last byte of an EntityId; it encodes
// {reader,writer} x {keyed,keyless} x {user,builtin}.
type EntityKind byte

// Well-known entity kinds, RTPS 2.3 table 9.1.
const (
	KindUnknown            EntityKind = 0x00
	KindWriterWithKey      EntityKind = 0x02
	KindWriterNoKey        EntityKind = 0x03
	KindReaderNoKey        EntityKind = 0x04
	KindReaderWithKey      EntityKind = 0x07
	KindWriterGroup        EntityKind = 0x08
	KindReaderGroup        EntityKind = 0x09
	KindBuiltinWriterKey   EntityKind = 0xc2
	KindBuiltinWriterNoKey EntityKind = 0xc3
	KindBuiltinReaderNoKey EntityKind = 0xc4
	KindBuiltinReaderKey   EntityKind = 0xc7
)

// IsBuiltin reports whether the kind's "built-in" bit (0xc0) is set.
func (k EntityKind) IsBuiltin() bool { return k&0xc0 == 0xc0 }

// IsReader reports whether the kind identifies a reader entity.
func (k EntityKind) IsReader() bool {
	return k == KindReaderNoKey || k == KindReaderWithKey ||
		k == KindBuiltinReaderNoKey || k == KindBuiltinReaderKey
}

// IsWriter reports whether the kind identifies a writer entity.
func (k EntityKind) IsWriter() bool {
	return k == KindWriterNoKey || k == KindWriterWithKey ||
		k == KindBuiltinWriterKey || k == KindBuiltinWriterNoKey
}

// EntityId is a 4-byte identifier local to a participant: 3 bytes of
// entity key followed by 1 byte of EntityKind.
type EntityId [EntityIdLen]byte

// NewEntityId builds an EntityId from a 3-byte key and a kind.
func NewEntityId(key [3]byte, kind EntityKind) EntityId {
	var id EntityId
	copy(id[:3], key[:])
	id[3] = byte(kind)
	return id
}

// Kind returns the entity kind byte.
func (e EntityId) Kind() EntityKind { return EntityKind(e[3]) }

func (e EntityId) String() string { return fmt.Sprintf("%x", [4]byte(e)) }

// Well-known built-in EntityIds, RTPS 2.3 table 9.4 plus the DDS
// security extensions (volatile/stateless secure endpoints).
var (
	EntityIdParticipant = EntityId{0x00, 0x00, 0x01, 0xc1}

	EntityIdSpdpBuiltinParticipantWriter = EntityId{0x00, 0x01, 0x00, byte(KindBuiltinWriterNoKey)}
	EntityIdSpdpBuiltinParticipantReader = EntityId{0x00, 0x01, 0x00, byte(KindBuiltinReaderNoKey)}

	EntityIdSedpBuiltinPublicationsWriter  = EntityId{0x00, 0x00, 0x03, byte(KindBuiltinWriterKey)}
	EntityIdSedpBuiltinPublicationsReader  = EntityId{0x00, 0x00, 0x03, byte(KindBuiltinReaderKey)}
	EntityIdSedpBuiltinSubscriptionsWriter = EntityId{0x00, 0x00, 0x04, byte(KindBuiltinWriterKey)}
	EntityIdSedpBuiltinSubscriptionsReader = EntityId{0x00, 0x00, 0x04, byte(KindBuiltinReaderKey)}
	EntityIdSedpBuiltinTopicsWriter        = EntityId{0x00, 0x00, 0x02, byte(KindBuiltinWriterKey)}
	EntityIdSedpBuiltinTopicsReader        = EntityId{0x00, 0x00, 0x02, byte(KindBuiltinReaderKey)}

	EntityIdParticipantMessageWriter = EntityId{0x00, 0x02, 0x00, byte(KindBuiltinWriterKey)}
	EntityIdParticipantMessageReader = EntityId{0x00, 0x02, 0x00, byte(KindBuiltinReaderKey)}

	// DDS-Security built-in endpoints (secure discovery + key exchange).
	EntityIdParticipantStatelessMessageWriter = EntityId{0x00, 0x02, 0x00, byte(KindWriterNoKey)}
	EntityIdParticipantStatelessMessageReader = EntityId{0x00, 0x02, 0x00, byte(KindReaderNoKey)}

	EntityIdParticipantVolatileMessageSecureWriter = EntityId{0xff, 0x02, 0x00, byte(KindBuiltinWriterKey)}
	EntityIdParticipantVolatileMessageSecureReader = EntityId{0xff, 0x02, 0x00, byte(KindBuiltinReaderKey)}

	EntityIdSpdpReliableBuiltinParticipantSecureWriter = EntityId{0xff, 0x01, 0x00, byte(KindBuiltinWriterKey)}
	EntityIdSpdpReliableBuiltinParticipantSecureReader = EntityId{0xff, 0x01, 0x00, byte(KindBuiltinReaderKey)}

	Unknown EntityId
)

// Guid is the 16-byte (prefix, entity id) pair that uniquely
// identifies an RTPS endpoint or participant network-wide.
type Guid struct {
	Prefix   GuidPrefix
	EntityId EntityId
}

// New builds a Guid from a prefix and an entity id.
func New(prefix GuidPrefix, id EntityId) Guid { return Guid{Prefix: prefix, EntityId: id} }

func (g Guid) String() string { return g.Prefix.String() + ":" + g.EntityId.String() }

// Compare implements the lexicographic tie-break over the full 16
// bytes (prefix, then entity id), used by secure discovery handshake
// initiation ("our GUID < remote GUID").
func (g Guid) Compare(other Guid) int {
	if c := g.Prefix.Compare(other.Prefix); c != 0 {
		return c
	}
	return bytes.Compare(g.EntityId[:], other.EntityId[:])
}

// Marshal writes the 16-byte wire representation of g into dst.
func (g Guid) Marshal(dst []byte) {
	copy(dst[:PrefixLen], g.Prefix[:])
	copy(dst[PrefixLen:Len], g.EntityId[:])
}

// Bytes returns the 16-byte wire representation of g.
func (g Guid) Bytes() []byte {
	b := make([]byte, Len)
	g.Marshal(b)
	return b
}

// Parse reads a Guid from a 16-byte slice.
func Parse(b []byte) (Guid, error) {
	if len(b) < Len {
		return Guid{}, errors.Errorf("guid: short buffer: %d < %d", len(b), Len)
	}
	var g Guid
	copy(g.Prefix[:], b[:PrefixLen])
	copy(g.EntityId[:], b[PrefixLen:Len])
	return g, nil
}

// SequenceNumber is a 64-bit strictly monotonically increasing
// per-writer sample counter. The wire form is a pair of int32s
// (high, low) per RTPS 2.3 9.4.2.9; SequenceNumberUnknown (-1)
// marshals as (high -1, low 0xffffffff).
type SequenceNumber int64

// SequenceNumberUnknown is the RTPS sentinel for "no sequence number".
const SequenceNumberUnknown SequenceNumber = -1

// First is the sequence number of the first sample a writer ever sends.
const First SequenceNumber = 1

// MarshalWire writes sn as (high int32, low uint32) in the given
// byte order, matching the RTPS wire representation.
func (sn SequenceNumber) MarshalWire(order binary.ByteOrder, dst []byte) {
	v := uint64(sn)
	order.PutUint32(dst[0:4], uint32(v>>32))
	order.PutUint32(dst[4:8], uint32(v))
}

// ParseSequenceNumber reads a wire-form sequence number.
func ParseSequenceNumber(order binary.ByteOrder, b []byte) (SequenceNumber, error) {
	if len(b) < 8 {
		return 0, errors.New("sequencenumber: short buffer")
	}
	hi := order.Uint32(b[0:4])
	lo := order.Uint32(b[4:8])
	return SequenceNumber(int64(hi)<<32 | int64(lo)), nil
}
