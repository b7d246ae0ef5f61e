package history

import (
	"sync"

	"github.com/dds-go/rtps/guid"
)

// WriterProxy is a reader's bookkeeping for one matched remote
// writer: which sequence numbers it has received, which are known
// missing (to ACKNACK for), and which the writer has told it (via
// GAP) will never arrive.
type WriterProxy struct {
	mu sync.Mutex

	WriterGuid        guid.Guid
	UnicastLocators   []guid.Locator
	MulticastLocators []guid.Locator

	received  map[guid.SequenceNumber]struct{}
	irrelevant map[guid.SequenceNumber]struct{}
	highestSeen guid.SequenceNumber

	lastHeartbeatCount uint32
	ackNackCount       uint32
}

// NewWriterProxy creates the proxy a reader keeps for a newly
// discovered writer.
func NewWriterProxy(writerGuid guid.Guid, unicast, multicast []guid.Locator) *WriterProxy {
	return &WriterProxy{
		WriterGuid:        writerGuid,
		UnicastLocators:   unicast,
		MulticastLocators: multicast,
		received:          make(map[guid.SequenceNumber]struct{}),
		irrelevant:        make(map[guid.SequenceNumber]struct{}),
		highestSeen:       guid.SequenceNumberUnknown,
	}
}

// MarkReceived records sn as delivered to the upper layer.
func (wp *WriterProxy) MarkReceived(sn guid.SequenceNumber) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.received[sn] = struct{}{}
	if sn > wp.highestSeen {
		wp.highestSeen = sn
	}
}

// IsReceived reports whether sn has already been delivered, so
// callers can drop a duplicate DATA before touching the TopicCache.
func (wp *WriterProxy) IsReceived(sn guid.SequenceNumber) bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	_, ok := wp.received[sn]
	return ok
}

// MarkIrrelevant records that the writer has declared, via GAP, that
// sn will never be sent (e.g. it was filtered by content, or the
// instance was disposed before this reader joined).
func (wp *WriterProxy) MarkIrrelevant(sn guid.SequenceNumber) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.irrelevant[sn] = struct{}{}
	if sn > wp.highestSeen {
		wp.highestSeen = sn
	}
}

// ApplyHeartbeat folds an incoming HEARTBEAT's lastSN into
// highestSeen so Missing can compute a gap against a range the writer
// has not sent any DATA for yet. Stale or duplicate
// heartbeats (count <= lastHeartbeatCount) are ignored; returns
// whether the heartbeat was new.
func (wp *WriterProxy) ApplyHeartbeat(lastSN guid.SequenceNumber, count uint32) bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if count <= wp.lastHeartbeatCount {
		return false
	}
	wp.lastHeartbeatCount = count
	if lastSN > wp.highestSeen {
		wp.highestSeen = lastSN
	}
	return true
}

// Missing returns, in increasing order, every sequence number in
// [1, highestSeen] that is neither received nor known irrelevant —
// the set an ACKNACK should name.
func (wp *WriterProxy) Missing() []guid.SequenceNumber {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	var out []guid.SequenceNumber
	for sn := guid.First; sn <= wp.highestSeen; sn++ {
		if _, ok := wp.received[sn]; ok {
			continue
		}
		if _, ok := wp.irrelevant[sn]; ok {
			continue
		}
		out = append(out, sn)
	}
	return out
}

// NextAckNackCount returns the next count value to stamp on an
// outgoing ACKNACK and advances the proxy's counter.
func (wp *WriterProxy) NextAckNackCount() uint32 {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.ackNackCount++
	return wp.ackNackCount
}

// HighestSeen returns the highest sequence number known to exist for
// this writer, from either DATA, HEARTBEAT, or GAP.
func (wp *WriterProxy) HighestSeen() guid.SequenceNumber {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.highestSeen
}
