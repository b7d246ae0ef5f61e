package reactor

import (
	"encoding/binary"

	"github.com/dds-go/rtps/guid"
)

// Token identifies one poller registration: a fixed source, a
// per-entity data channel, or a per-entity timer. The encoding lets
// the loop tell "data event on entity E" from "timer event on entity
// E" by arithmetic on the token value alone, with no lookup table.
//
// Layout (high to low bit):
//
//	bit 63:    0 = fixed source, 1 = per-entity
//	bit 62:    (per-entity only) 0 = data event, 1 = timer event
//	bits 61-60: (per-entity timer only) TimerKind
//	bits 31-0: (per-entity only) EntityId, big-endian bytes as uint32
type Token uint64

const (
	perEntityBit  = uint64(1) << 63
	timerBit      = uint64(1) << 62
	timerKindMask = uint64(0x3)
	timerKindShift = 60
)

// Fixed source tokens: the reactor's listed poll sources other than
// per-entity channels and timers.
const (
	TokenSpdpMulticastSocket Token = iota
	TokenSpdpUnicastSocket
	TokenUserMulticastSocket
	TokenUserUnicastSocket
	TokenAddReaderChan
	TokenRemoveReaderChan
	TokenAddWriterChan
	TokenRemoveWriterChan
	TokenDiscoveryNotifyChan
	TokenAckNackForwardChan
	TokenPreemptiveAckNackTimer
	TokenStopPoll
)

// TimerKind distinguishes the per-entity timers the reactor drives.
type TimerKind int

const (
	TimerHeartbeat TimerKind = iota
	TimerNackResponse
	TimerDeadline
	TimerCacheClean
)

// entityIdUint32 packs a 4-byte EntityId into a uint32 for use in a Token.
func entityIdUint32(id guid.EntityId) uint32 {
	return binary.BigEndian.Uint32(id[:])
}

func uint32EntityId(v uint32) guid.EntityId {
	var id guid.EntityId
	binary.BigEndian.PutUint32(id[:], v)
	return id
}

// DataToken builds the token for a data-arrival event (a command
// channel or socket) associated with one entity.
func DataToken(id guid.EntityId) Token {
	return Token(perEntityBit | uint64(entityIdUint32(id)))
}

// TimerToken builds the token for one of an entity's timers.
func TimerToken(id guid.EntityId, kind TimerKind) Token {
	return Token(perEntityBit | timerBit | (uint64(kind)&timerKindMask)<<timerKindShift | uint64(entityIdUint32(id)))
}

// IsPerEntity reports whether t addresses a specific entity rather
// than a fixed source.
func (t Token) IsPerEntity() bool { return uint64(t)&perEntityBit != 0 }

// IsTimer reports whether t is a timer token. Only meaningful when
// IsPerEntity is true.
func (t Token) IsTimer() bool { return uint64(t)&timerBit != 0 }

// EntityId extracts the entity a per-entity token addresses.
func (t Token) EntityId() guid.EntityId {
	return uint32EntityId(uint32(uint64(t) & 0xffffffff))
}

// TimerKind extracts which timer a timer token represents. Only
// meaningful when IsTimer is true.
func (t Token) TimerKind() TimerKind {
	return TimerKind((uint64(t) >> timerKindShift) & timerKindMask)
}
