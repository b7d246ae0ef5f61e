package rtpsreader

import (
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
	return p
}

func TestHandleDataDepositsSampleAndDropsDuplicate(t *testing.T) {
	cache := history.NewTopicCache("T", "RandomData", qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{})
	r := New(testGuid(guid.EntityIdSedpBuiltinSubscriptionsReader), "T", "RandomData", reliablePolicies(), cache)
	writerGuid := testGuid(guid.EntityIdSedpBuiltinPublicationsWriter)
	r.AddMatchedWriter(writerGuid, nil, nil)

	r.HandleData(writerGuid, wire.Data{WriterSN: guid.First, HasPayload: true, Payload: []byte{1}}, time.Now())
	r.HandleData(writerGuid, wire.Data{WriterSN: guid.First, HasPayload: true, Payload: []byte{1}}, time.Now())

	got := cache.GetRange(writerGuid, guid.First, guid.First)
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 deposited sample (duplicate dropped), got %d", len(got))
	}
}

func TestHandleHeartbeatSchedulesAckNackWhenMissing(t *testing.T) {
	cache := history.NewTopicCache("T", "RandomData", qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{})
	r := New(testGuid(guid.EntityIdSedpBuiltinSubscriptionsReader), "T", "RandomData", reliablePolicies(), cache)
	writerGuid := testGuid(guid.EntityIdSedpBuiltinPublicationsWriter)
	r.AddMatchedWriter(writerGuid, nil, nil)

	// Writer claims SNs 1..5 exist; reader has received none of them.
	an, owed := r.HandleHeartbeat(writerGuid, wire.Heartbeat{FirstSN: guid.First, LastSN: guid.First + 4, Count: 1})
	if !owed {
		t.Fatal("expected an acknack to be owed")
	}
	if an.ReaderSNState.Base != guid.First {
		t.Fatalf("expected base %v, got %v", guid.First, an.ReaderSNState.Base)
	}
	if len(an.ReaderSNState.Members()) != 5 {
		t.Fatalf("expected all 5 SNs missing, got %v", an.ReaderSNState.Members())
	}

	// A duplicate (non-increasing count) heartbeat is ignored.
	if _, owed := r.HandleHeartbeat(writerGuid, wire.Heartbeat{FirstSN: guid.First, LastSN: guid.First + 4, Count: 1}); owed {
		t.Fatal("expected duplicate heartbeat count to be ignored")
	}
}

func TestHandleHeartbeatFinalWithNoMissingNeedsNoAckNack(t *testing.T) {
	cache := history.NewTopicCache("T", "RandomData", qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{})
	r := New(testGuid(guid.EntityIdSedpBuiltinSubscriptionsReader), "T", "RandomData", reliablePolicies(), cache)
	writerGuid := testGuid(guid.EntityIdSedpBuiltinPublicationsWriter)
	r.AddMatchedWriter(writerGuid, nil, nil)
	r.HandleData(writerGuid, wire.Data{WriterSN: guid.First, HasPayload: true, Payload: []byte{1}}, time.Now())

	_, owed := r.HandleHeartbeat(writerGuid, wire.Heartbeat{FirstSN: guid.First, LastSN: guid.First, Count: 1, Final: true})
	if owed {
		t.Fatal("expected no acknack owed when nothing is missing and FINAL is set")
	}
}

func TestHandleGapMarksIrrelevantAndExcludesFromMissing(t *testing.T) {
	cache := history.NewTopicCache("T", "RandomData", qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{})
	r := New(testGuid(guid.EntityIdSedpBuiltinSubscriptionsReader), "T", "RandomData", reliablePolicies(), cache)
	writerGuid := testGuid(guid.EntityIdSedpBuiltinPublicationsWriter)
	r.AddMatchedWriter(writerGuid, nil, nil)

	r.HandleHeartbeat(writerGuid, wire.Heartbeat{FirstSN: guid.First, LastSN: guid.First + 2, Count: 1})
	r.HandleGap(writerGuid, wire.Gap{GapStart: guid.First, GapList: wire.NewSNSetFromMissing([]guid.SequenceNumber{guid.First, guid.First + 1}, guid.First)})

	an, owed := r.HandleHeartbeat(writerGuid, wire.Heartbeat{FirstSN: guid.First, LastSN: guid.First + 2, Count: 2})
	if !owed {
		t.Fatal("expected acknack for the still-missing sn")
	}
	members := an.ReaderSNState.Members()
	if len(members) != 1 || members[0] != guid.First+2 {
		t.Fatalf("expected only sn %v missing, got %v", guid.First+2, members)
	}
}

func TestDeadlineMissedReportsSilentWriters(t *testing.T) {
	cache := history.NewTopicCache("T", "RandomData", qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{})
	p := reliablePolicies()
	p.Deadline = 10 * time.Millisecond
	r := New(testGuid(guid.EntityIdSedpBuiltinSubscriptionsReader), "T", "RandomData", p, cache)
	writerGuid := testGuid(guid.EntityIdSedpBuiltinPublicationsWriter)
	r.AddMatchedWriter(writerGuid, nil, nil)

	missed := r.DeadlineMissed(time.Now().Add(20 * time.Millisecond))
	if len(missed) != 1 || missed[0] != writerGuid {
		t.Fatalf("expected writer %v to have missed its deadline, got %v", writerGuid, missed)
	}
}
