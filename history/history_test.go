package history

import (
	"testing"
	"time"

	"github.com/dds-go/rtps/guid"
	"github.com/dds-go/rtps/qos"
)

func testWriterGuid() guid.Guid {
	var prefix guid.GuidPrefix
	copy(prefix[:], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	return guid.New(prefix, guid.EntityIdSedpBuiltinPublicationsWriter)
}

func TestHistoryCacheAssignsStrictlyIncreasingSequenceNumbers(t *testing.T) {
	hc := NewHistoryCache(testWriterGuid(), qos.Default())
	var last guid.SequenceNumber = guid.SequenceNumberUnknown
	for i := 0; i < 5; i++ {
		s, err := hc.Add(KindData, KeyHash{}, []byte("x"), time.Unix(int64(i), 0))
		if err != nil {
			t.Fatal(err)
		}
		if s.SequenceNumber <= last {
			t.Fatalf("sequence number did not increase: %v <= %v", s.SequenceNumber, last)
		}
		last = s.SequenceNumber
	}
	if hc.FirstSN() != guid.First {
		t.Fatalf("expected first sn %v, got %v", guid.First, hc.FirstSN())
	}
}

func TestHistoryCacheKeepLastEvictsOldestOfSameInstance(t *testing.T) {
	p := qos.Default()
	p.History = qos.History{Kind: qos.KeepLast, Depth: 2}
	hc := NewHistoryCache(testWriterGuid(), p)

	key := KeyHash{1}
	var sns []guid.SequenceNumber
	for i := 0; i < 3; i++ {
		s, err := hc.Add(KindData, key, []byte("x"), time.Unix(int64(i), 0))
		if err != nil {
			t.Fatal(err)
		}
		sns = append(sns, s.SequenceNumber)
	}
	if _, ok := hc.Get(sns[0]); ok {
		t.Fatalf("expected oldest sample %v to have been evicted", sns[0])
	}
	if _, ok := hc.Get(sns[2]); !ok {
		t.Fatalf("expected newest sample %v to remain", sns[2])
	}
}

func TestHistoryCacheResourceLimitsRejectsWhenNoRoom(t *testing.T) {
	p := qos.Default()
	p.History = qos.History{Kind: qos.KeepAll}
	p.ResourceLimits = qos.ResourceLimits{MaxSamples: 2}
	hc := NewHistoryCache(testWriterGuid(), p)

	keyA := KeyHash{1}
	keyB := KeyHash{2}
	if _, err := hc.Add(KindData, keyA, nil, time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := hc.Add(KindData, keyB, nil, time.Now()); err != nil {
		t.Fatal(err)
	}
	// A third distinct-instance sample cannot be made room for by
	// evicting within its own (empty) instance history.
	keyC := KeyHash{3}
	if _, err := hc.Add(KindData, keyC, nil, time.Now()); err != ErrResourceLimitExceeded {
		t.Fatalf("expected ErrResourceLimitExceeded, got %v", err)
	}
}

func TestTopicCacheRejectsDuplicateSequenceNumber(t *testing.T) {
	tc := NewTopicCache("Square", "ShapeType", qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{})
	w := testWriterGuid()
	if err := tc.Insert(Sample{WriterGuid: w, SequenceNumber: guid.First}); err != nil {
		t.Fatal(err)
	}
	if err := tc.Insert(Sample{WriterGuid: w, SequenceNumber: guid.First}); err == nil {
		t.Fatal("expected error inserting a duplicate sequence number")
	}
}

func TestTopicCacheKeepLastEviction(t *testing.T) {
	tc := NewTopicCache("Square", "ShapeType", qos.History{Kind: qos.KeepLast, Depth: 1}, qos.ResourceLimits{})
	w := testWriterGuid()
	for i := 1; i <= 3; i++ {
		if err := tc.Insert(Sample{WriterGuid: w, SequenceNumber: guid.SequenceNumber(i)}); err != nil {
			t.Fatal(err)
		}
	}
	got := tc.GetRange(w, guid.First, guid.SequenceNumber(3))
	if len(got) != 1 || got[0].SequenceNumber != 3 {
		t.Fatalf("expected only sn 3 to remain, got %+v", got)
	}
}

func TestTopicCacheInstanceIndex(t *testing.T) {
	tc := NewTopicCache("Square", "ShapeType", qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{})
	w := testWriterGuid()
	key := KeyHash{9}
	for i := 1; i <= 3; i++ {
		if err := tc.Insert(Sample{WriterGuid: w, SequenceNumber: guid.SequenceNumber(i), KeyHash: key}); err != nil {
			t.Fatal(err)
		}
	}
	instance := tc.InstanceSamples(w, key)
	if len(instance) != 3 {
		t.Fatalf("expected 3 samples for instance, got %d", len(instance))
	}
}

func TestReaderProxyAckNackUpdatesHighestAckedAndRequested(t *testing.T) {
	rp := NewReaderProxy(testWriterGuid(), nil, nil, qos.Reliable, false, []guid.SequenceNumber{1, 2, 3, 4, 5})
	changed := rp.ApplyAckNack(3, []guid.SequenceNumber{3}, 1)
	if !changed {
		t.Fatal("expected first acknack to be accepted")
	}
	if rp.HighestAcked() != 2 {
		t.Fatalf("expected highest acked 2, got %v", rp.HighestAcked())
	}
	req := rp.RequestedChanges()
	if len(req) != 1 || req[0] != 3 {
		t.Fatalf("expected requested changes [3], got %v", req)
	}
	// Stale (non-increasing) count must be ignored.
	if rp.ApplyAckNack(1, nil, 1) {
		t.Fatal("expected stale acknack count to be rejected")
	}
}

func TestWriterProxyMissingExcludesReceivedAndIrrelevant(t *testing.T) {
	wp := NewWriterProxy(testWriterGuid(), nil, nil)
	wp.ApplyHeartbeat(5, 1)
	wp.MarkReceived(1)
	wp.MarkReceived(2)
	wp.MarkIrrelevant(3)

	missing := wp.Missing()
	if len(missing) != 2 || missing[0] != 4 || missing[1] != 5 {
		t.Fatalf("expected missing [4 5], got %v", missing)
	}
}

func TestWriterProxyIgnoresStaleHeartbeat(t *testing.T) {
	wp := NewWriterProxy(testWriterGuid(), nil, nil)
	if !wp.ApplyHeartbeat(5, 2) {
		t.Fatal("expected first heartbeat to be accepted")
	}
	if wp.ApplyHeartbeat(10, 2) {
		t.Fatal("expected duplicate count to be ignored")
	}
	if wp.HighestSeen() != 5 {
		t.Fatalf("expected highest seen to remain 5, got %v", wp.HighestSeen())
	}
}
