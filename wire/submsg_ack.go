package wire

import (
	"github.com/pkg/errors"

	"github.com/dds-go/rtps/guid"
)

// Heartbeat flag bits, beyond EndiannessFlag.
const (
	HeartbeatFinalFlag      byte = 0x02
	HeartbeatLivelinessFlag byte = 0x04
)

// Heartbeat tells a reader the range of sequence numbers a writer
// currently has available, driving the reliable protocol's
// acknowledgement loop.
type Heartbeat struct {
	ReaderId    guid.EntityId
	WriterId    guid.EntityId
	FirstSN     guid.SequenceNumber
	LastSN      guid.SequenceNumber
	Count       uint32
	Final       bool
	Liveliness  bool
	LittleEndian bool
}

func (h Heartbeat) SubmessageKind() Kind { return KindHeartbeat }

func (h Heartbeat) WireFlags() byte {
	f := byte(0)
	if h.LittleEndian {
		f |= EndiannessFlag
	}
	if h.Final {
		f |= HeartbeatFinalFlag
	}
	if h.Liveliness {
		f |= HeartbeatLivelinessFlag
	}
	return f
}

func (h Heartbeat) MarshalBody() []byte {
	ord := byteOrder(h.WireFlags())
	buf := make([]byte, 4+4+8+8+4)
	copy(buf[0:4], h.ReaderId[:])
	copy(buf[4:8], h.WriterId[:])
	h.FirstSN.MarshalWire(ord, buf[8:16])
	h.LastSN.MarshalWire(ord, buf[16:24])
	ord.PutUint32(buf[24:28], h.Count)
	return buf
}

// ParseHeartbeat decodes a HEARTBEAT submessage body.
func ParseHeartbeat(flags byte, body []byte) (Heartbeat, error) {
	if len(body) < 28 {
		return Heartbeat{}, errors.New("wire: truncated heartbeat")
	}
	ord := byteOrder(flags)
	var h Heartbeat
	copy(h.ReaderId[:], body[0:4])
	copy(h.WriterId[:], body[4:8])
	var err error
	if h.FirstSN, err = guid.ParseSequenceNumber(ord, body[8:16]); err != nil {
		return Heartbeat{}, err
	}
	if h.LastSN, err = guid.ParseSequenceNumber(ord, body[16:24]); err != nil {
		return Heartbeat{}, err
	}
	h.Count = ord.Uint32(body[24:28])
	h.Final = flags&HeartbeatFinalFlag != 0
	h.Liveliness = flags&HeartbeatLivelinessFlag != 0
	h.LittleEndian = flags&EndiannessFlag != 0
	return h, nil
}

// IsEmptyRange reports whether [FirstSN, LastSN] is empty, i.e.
// FirstSN > LastSN.
func (h Heartbeat) IsEmptyRange() bool { return h.FirstSN > h.LastSN }

// AckNackFinalFlag marks an ACKNACK as not requiring a reply.
const AckNackFinalFlag byte = 0x02

// AckNack is a reader's acknowledgement/negative-acknowledgement of a
// writer's available sequence numbers.
type AckNack struct {
	ReaderId        guid.EntityId
	WriterId        guid.EntityId
	ReaderSNState   SNSet
	Count           uint32
	Final           bool
	LittleEndian    bool
}

func (a AckNack) SubmessageKind() Kind { return KindAckNack }

func (a AckNack) WireFlags() byte {
	f := byte(0)
	if a.LittleEndian {
		f |= EndiannessFlag
	}
	if a.Final {
		f |= AckNackFinalFlag
	}
	return f
}

func (a AckNack) MarshalBody() []byte {
	ord := byteOrder(a.WireFlags())
	buf := make([]byte, 0, 8+16+4)
	buf = append(buf, a.ReaderId[:]...)
	buf = append(buf, a.WriterId[:]...)
	buf = a.ReaderSNState.Marshal(ord, buf)
	countOff := len(buf)
	buf = append(buf, make([]byte, 4)...)
	ord.PutUint32(buf[countOff:countOff+4], a.Count)
	return buf
}

// ParseAckNack decodes an ACKNACK submessage body.
func ParseAckNack(flags byte, body []byte) (AckNack, error) {
	if len(body) < 8 {
		return AckNack{}, errors.New("wire: truncated acknack")
	}
	ord := byteOrder(flags)
	var a AckNack
	copy(a.ReaderId[:], body[0:4])
	copy(a.WriterId[:], body[4:8])
	set, n, err := ParseSNSet(ord, body[8:])
	if err != nil {
		return AckNack{}, err
	}
	a.ReaderSNState = set
	rest := body[8+n:]
	if len(rest) < 4 {
		return AckNack{}, errors.New("wire: truncated acknack count")
	}
	a.Count = ord.Uint32(rest[0:4])
	a.Final = flags&AckNackFinalFlag != 0
	a.LittleEndian = flags&EndiannessFlag != 0
	return a, nil
}

// Gap tells a reader that a range of sequence numbers will never be
// sent, either because they were irrelevant or were evicted from the
// writer's history.
type Gap struct {
	ReaderId     guid.EntityId
	WriterId     guid.EntityId
	GapStart     guid.SequenceNumber
	GapList      SNSet
	LittleEndian bool
}

func (g Gap) SubmessageKind() Kind { return KindGap }

func (g Gap) WireFlags() byte {
	if g.LittleEndian {
		return EndiannessFlag
	}
	return 0
}

func (g Gap) MarshalBody() []byte {
	ord := byteOrder(g.WireFlags())
	buf := make([]byte, 0, 8+8+16)
	buf = append(buf, g.ReaderId[:]...)
	buf = append(buf, g.WriterId[:]...)
	var snbuf [8]byte
	g.GapStart.MarshalWire(ord, snbuf[:])
	buf = append(buf, snbuf[:]...)
	buf = g.GapList.Marshal(ord, buf)
	return buf
}

// ParseGap decodes a GAP submessage body.
func ParseGap(flags byte, body []byte) (Gap, error) {
	if len(body) < 16 {
		return Gap{}, errors.New("wire: truncated gap")
	}
	ord := byteOrder(flags)
	var g Gap
	copy(g.ReaderId[:], body[0:4])
	copy(g.WriterId[:], body[4:8])
	var err error
	if g.GapStart, err = guid.ParseSequenceNumber(ord, body[8:16]); err != nil {
		return Gap{}, err
	}
	set, _, err := ParseSNSet(ord, body[16:])
	if err != nil {
		return Gap{}, err
	}
	g.GapList = set
	g.LittleEndian = flags&EndiannessFlag != 0
	return g, nil
}

// NackFrag requests retransmission of specific fragments of a
// fragmented sample, the DATA_FRAG/NACK_FRAG pair's nack side.
type NackFrag struct {
	ReaderId        guid.EntityId
	WriterId        guid.EntityId
	WriterSN        guid.SequenceNumber
	FragmentNumberState SNSet
	Count           uint32
	LittleEndian    bool
}

func (n NackFrag) SubmessageKind() Kind { return KindNackFrag }

func (n NackFrag) WireFlags() byte {
	if n.LittleEndian {
		return EndiannessFlag
	}
	return 0
}

func (n NackFrag) MarshalBody() []byte {
	ord := byteOrder(n.WireFlags())
	buf := make([]byte, 0, 8+8+16+4)
	buf = append(buf, n.ReaderId[:]...)
	buf = append(buf, n.WriterId[:]...)
	var snbuf [8]byte
	n.WriterSN.MarshalWire(ord, snbuf[:])
	buf = append(buf, snbuf[:]...)
	buf = n.FragmentNumberState.Marshal(ord, buf)
	countOff := len(buf)
	buf = append(buf, make([]byte, 4)...)
	ord.PutUint32(buf[countOff:countOff+4], n.Count)
	return buf
}

// ParseNackFrag decodes a NACK_FRAG submessage body.
func ParseNackFrag(flags byte, body []byte) (NackFrag, error) {
	if len(body) < 16 {
		return NackFrag{}, errors.New("wire: truncated nackfrag")
	}
	ord := byteOrder(flags)
	var n NackFrag
	copy(n.ReaderId[:], body[0:4])
	copy(n.WriterId[:], body[4:8])
	var err error
	if n.WriterSN, err = guid.ParseSequenceNumber(ord, body[8:16]); err != nil {
		return NackFrag{}, err
	}
	set, used, err := ParseSNSet(ord, body[16:])
	if err != nil {
		return NackFrag{}, err
	}
	n.FragmentNumberState = set
	rest := body[16+used:]
	if len(rest) < 4 {
		return NackFrag{}, errors.New("wire: truncated nackfrag count")
	}
	n.Count = ord.Uint32(rest[0:4])
	n.LittleEndian = flags&EndiannessFlag != 0
	return n, nil
}

// HeartbeatFrag tells a reader how many fragments of a DATA_FRAG
// sample the writer currently has available.
type HeartbeatFrag struct {
	ReaderId        guid.EntityId
	WriterId        guid.EntityId
	WriterSN        guid.SequenceNumber
	LastFragmentNum uint32
	Count           uint32
	LittleEndian    bool
}

func (h HeartbeatFrag) SubmessageKind() Kind { return KindHeartbeatFrag }

func (h HeartbeatFrag) WireFlags() byte {
	if h.LittleEndian {
		return EndiannessFlag
	}
	return 0
}

func (h HeartbeatFrag) MarshalBody() []byte {
	ord := byteOrder(h.WireFlags())
	buf := make([]byte, 4+4+8+4+4)
	copy(buf[0:4], h.ReaderId[:])
	copy(buf[4:8], h.WriterId[:])
	h.WriterSN.MarshalWire(ord, buf[8:16])
	ord.PutUint32(buf[16:20], h.LastFragmentNum)
	ord.PutUint32(buf[20:24], h.Count)
	return buf
}

// ParseHeartbeatFrag decodes a HEARTBEAT_FRAG submessage body.
func ParseHeartbeatFrag(flags byte, body []byte) (HeartbeatFrag, error) {
	if len(body) < 24 {
		return HeartbeatFrag{}, errors.New("wire: truncated heartbeatfrag")
	}
	ord := byteOrder(flags)
	var h HeartbeatFrag
	copy(h.ReaderId[:], body[0:4])
	copy(h.WriterId[:], body[4:8])
	var err error
	if h.WriterSN, err = guid.ParseSequenceNumber(ord, body[8:16]); err != nil {
		return HeartbeatFrag{}, err
	}
	h.LastFragmentNum = ord.Uint32(body[16:20])
	h.Count = ord.Uint32(body[20:24])
	h.LittleEndian = flags&EndiannessFlag != 0
	return h, nil
}
