package rtpswriter

import (
	"net"
	"testing"
	"time"

	"github.com/dds-go/rtps/guid"
	"github.com/dds-go/rtps/history"
	"github.com/dds-go/rtps/qos"
	"github.com/dds-go/rtps/wire"
)

func testGuid(entityId guid.EntityId) guid.Guid {
	var prefix guid.GuidPrefix
	copy(prefix[:], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	return guid.New(prefix, entityId)
}

func reliablePolicies() qos.Policies {
	p := qos.Default()
	p.Reliability = qos.Reliability{Kind: qos.Reliable}
	p.History = qos.History{Kind: qos.KeepLast, Depth: 10}
	return p
}

func TestWriteWithNoMatchedReadersAcceptsAndEmitsNothing(t *testing.T) {
	w := New(testGuid(guid.EntityIdSedpBuiltinPublicationsWriter), "T", "RandomData", reliablePolicies())
	if _, err := w.Write(history.KindData, history.KeyHash{}, []byte{1}, time.Now()); err != nil {
		t.Fatal(err)
	}
	if msgs := w.DrainUnsent(); len(msgs) != 0 {
		t.Fatalf("expected no outgoing messages with no matched readers, got %v", msgs)
	}
}

func TestWriteThenDrainUnsentAddressesMatchedReader(t *testing.T) {
	w := New(testGuid(guid.EntityIdSedpBuiltinPublicationsWriter), "T", "RandomData", reliablePolicies())
	readerGuid := testGuid(guid.EntityIdSedpBuiltinPublicationsReader)
	w.AddMatchedReader(readerGuid, []guid.Locator{guid.NewUDPv4(net.IPv4(127, 0, 0, 1), 7412)}, nil, qos.Reliable, false)

	if _, err := w.Write(history.KindData, history.KeyHash{}, []byte{1}, time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(history.KindData, history.KeyHash{}, []byte{2}, time.Now()); err != nil {
		t.Fatal(err)
	}

	msgs := w.DrainUnsent()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 outgoing message, got %d", len(msgs))
	}
	if len(msgs[0].Submessages) != 2 {
		t.Fatalf("expected 2 DATA submessages, got %d", len(msgs[0].Submessages))
	}

	// A second drain with nothing new unsent should produce nothing.
	if msgs := w.DrainUnsent(); len(msgs) != 0 {
		t.Fatalf("expected no more outgoing messages, got %v", msgs)
	}
}

func TestAckNackDrivesHighestAckedAndNackResponse(t *testing.T) {
	w := New(testGuid(guid.EntityIdSedpBuiltinPublicationsWriter), "T", "RandomData", reliablePolicies())
	readerGuid := testGuid(guid.EntityIdSedpBuiltinPublicationsReader)
	rp := w.AddMatchedReader(readerGuid, []guid.Locator{guid.NewUDPv4(net.IPv4(127, 0, 0, 1), 7412)}, nil, qos.Reliable, false)

	for i := 0; i < 5; i++ {
		if _, err := w.Write(history.KindData, history.KeyHash{}, []byte{byte(i)}, time.Now()); err != nil {
			t.Fatal(err)
		}
	}
	w.DrainUnsent()

	an := wire.AckNack{
		ReaderId:      readerGuid.EntityId,
		WriterId:      w.Guid.EntityId,
		ReaderSNState: wire.NewSNSetFromMissing([]guid.SequenceNumber{3}, 3),
		Count:         1,
	}
	if !w.HandleAckNackFrom(readerGuid, an) {
		t.Fatal("expected first acknack to be new")
	}
	if rp.HighestAcked() != 2 {
		t.Fatalf("expected highest acked 2, got %v", rp.HighestAcked())
	}

	out, ok := w.NackResponse(readerGuid)
	if !ok {
		t.Fatal("expected a nack response to be produced")
	}
	if len(out.Submessages) != 1 {
		t.Fatalf("expected 1 retransmitted DATA submessage, got %d", len(out.Submessages))
	}
}

func TestPendingHeartbeatRequiresReliableAndMatchedReaders(t *testing.T) {
	best := New(testGuid(guid.EntityIdSedpBuiltinPublicationsWriter), "T", "RandomData", qos.Default())
	if _, _, ok := best.PendingHeartbeat(); ok {
		t.Fatal("expected best-effort writer to never produce a heartbeat")
	}

	reliable := New(testGuid(guid.EntityIdSedpBuiltinPublicationsWriter), "T", "RandomData", reliablePolicies())
	if _, _, ok := reliable.PendingHeartbeat(); ok {
		t.Fatal("expected reliable writer with no matched readers to produce no heartbeat")
	}
	reliable.AddMatchedReader(testGuid(guid.EntityIdSedpBuiltinPublicationsReader), nil, nil, qos.Reliable, false)
	hb, _, ok := reliable.PendingHeartbeat()
	if !ok {
		t.Fatal("expected a heartbeat once a reader is matched")
	}
	if hb.Count != 1 {
		t.Fatalf("expected first heartbeat count 1, got %d", hb.Count)
	}
	hb2, _, _ := reliable.PendingHeartbeat()
	if hb2.Count != 2 {
		t.Fatalf("expected heartbeat count to strictly increase, got %d", hb2.Count)
	}
}
