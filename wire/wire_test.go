package wire

import (
	"encoding/binary"
	"testing"

	"github.com/dds-go/rtps/guid"
)

func testHeader() Header {
	var prefix guid.GuidPrefix
	copy(prefix[:], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	return NewHeaderFor(prefix)
}

func TestRoundTripDataHeartbeatAckNackGap(t *testing.T) {
	h := testHeader()
	subs := []Submessage{
		Data{
			ReaderId:   guid.EntityIdSedpBuiltinPublicationsReader,
			WriterId:   guid.EntityIdSedpBuiltinPublicationsWriter,
			WriterSN:   guid.First,
			HasPayload: true,
			Payload:    []byte{0xde, 0xad, 0xbe, 0xef},
		},
		Heartbeat{
			ReaderId: guid.Unknown,
			WriterId: guid.EntityIdSedpBuiltinPublicationsWriter,
			FirstSN:  guid.First,
			LastSN:   guid.First + 4,
			Count:    1,
		},
		AckNack{
			ReaderId:      guid.EntityIdSedpBuiltinPublicationsReader,
			WriterId:      guid.EntityIdSedpBuiltinPublicationsWriter,
			ReaderSNState: NewSNSetFromMissing([]guid.SequenceNumber{3}, guid.First+5),
			Count:         1,
		},
		Gap{
			ReaderId: guid.EntityIdSedpBuiltinPublicationsReader,
			WriterId: guid.EntityIdSedpBuiltinPublicationsWriter,
			GapStart: guid.First,
			GapList:  NewSNSetFromMissing([]guid.SequenceNumber{1, 2}, guid.First),
		},
	}

	wire := Marshal(h, subs)
	got, err := ParseMessage(wire)
	if err != nil {
		t.Fatal(err)
	}
	if got.Header != h {
		t.Fatalf("header mismatch: %+v != %+v", got.Header, h)
	}
	if len(got.Submessages) != len(subs) {
		t.Fatalf("expected %d submessages, got %d", len(subs), len(got.Submessages))
	}

	d, ok := got.Submessages[0].(Data)
	if !ok {
		t.Fatalf("expected Data, got %T", got.Submessages[0])
	}
	if d.WriterSN != guid.First || string(d.Payload) != string(subs[0].(Data).Payload) {
		t.Fatalf("data round trip mismatch: %+v", d)
	}

	hb, ok := got.Submessages[1].(Heartbeat)
	if !ok {
		t.Fatalf("expected Heartbeat, got %T", got.Submessages[1])
	}
	if hb.FirstSN != guid.First || hb.LastSN != guid.First+4 || hb.Count != 1 {
		t.Fatalf("heartbeat round trip mismatch: %+v", hb)
	}

	an, ok := got.Submessages[2].(AckNack)
	if !ok {
		t.Fatalf("expected AckNack, got %T", got.Submessages[2])
	}
	members := an.ReaderSNState.Members()
	if len(members) != 1 || members[0] != 3 {
		t.Fatalf("acknack round trip mismatch: %+v", members)
	}

	g, ok := got.Submessages[3].(Gap)
	if !ok {
		t.Fatalf("expected Gap, got %T", got.Submessages[3])
	}
	if len(g.GapList.Members()) != 2 {
		t.Fatalf("gap round trip mismatch: %+v", g.GapList)
	}
}

func TestUnknownSubmessageKindSkippedNotFatal(t *testing.T) {
	h := testHeader()
	subs := []Submessage{
		Raw{Kind: Kind(0x99), Flags: 0, Body: []byte{1, 2, 3, 4}},
		Heartbeat{
			ReaderId: guid.Unknown,
			WriterId: guid.EntityIdSedpBuiltinPublicationsWriter,
			FirstSN:  guid.First,
			LastSN:   guid.First,
			Count:    7,
		},
	}
	wire := Marshal(h, subs)

	got, err := ParseMessage(wire)
	if err != nil {
		t.Fatalf("unexpected error parsing message with unknown submessage: %v", err)
	}
	if len(got.Submessages) != 2 {
		t.Fatalf("expected both submessages to survive, got %d", len(got.Submessages))
	}
	if _, ok := got.Submessages[0].(Raw); !ok {
		t.Fatalf("expected first submessage to remain Raw, got %T", got.Submessages[0])
	}
	hb, ok := got.Submessages[1].(Heartbeat)
	if !ok {
		t.Fatalf("expected the submessage after the unknown one to still parse, got %T", got.Submessages[1])
	}
	if hb.Count != 7 {
		t.Fatalf("heartbeat after unknown submessage corrupted: %+v", hb)
	}
}

func TestLittleEndianSubmessageRoundTrip(t *testing.T) {
	h := testHeader()
	subs := []Submessage{
		Heartbeat{
			ReaderId:     guid.Unknown,
			WriterId:     guid.EntityIdSedpBuiltinPublicationsWriter,
			FirstSN:      guid.First,
			LastSN:       guid.First + 9,
			Count:        42,
			LittleEndian: true,
		},
	}
	wire := Marshal(h, subs)
	got, err := ParseMessage(wire)
	if err != nil {
		t.Fatal(err)
	}
	hb := got.Submessages[0].(Heartbeat)
	if hb.LastSN != guid.First+9 || hb.Count != 42 || !hb.LittleEndian {
		t.Fatalf("little-endian heartbeat round trip mismatch: %+v", hb)
	}
}

func TestAckNackBitmapBaseIsSmallestMissingOrLastPlusOne(t *testing.T) {
	empty := NewSNSetFromMissing(nil, guid.First+5)
	if empty.Base != guid.First+5 {
		t.Fatalf("expected empty-missing base to be lastSN+1, got %v", empty.Base)
	}

	nonEmpty := NewSNSetFromMissing([]guid.SequenceNumber{7, 3, 5}, 0)
	if nonEmpty.Base != 3 {
		t.Fatalf("expected base to be smallest missing SN (3), got %v", nonEmpty.Base)
	}
}

func TestHeartbeatEmptyRange(t *testing.T) {
	hb := Heartbeat{FirstSN: 10, LastSN: 5}
	if !hb.IsEmptyRange() {
		t.Fatal("expected firstSN > lastSN to report an empty range")
	}
}

func TestParameterListRoundTrip(t *testing.T) {
	pl := ParameterList{
		{ID: PidTopicName, Value: []byte("T")},
		{ID: PidTypeName, Value: []byte("RandomData")},
	}
	buf := pl.Marshal(binary.BigEndian)
	got, n, err := ParseParameterList(binary.BigEndian, buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(buf) {
		t.Fatalf("expected to consume all %d bytes, consumed %d", len(buf), n)
	}
	topic, ok := got.Get(PidTopicName)
	if !ok || string(topic) != "T\x00\x00\x00" {
		t.Fatalf("expected topic name T padded to 4 bytes, got %q ok=%v", topic, ok)
	}
}
