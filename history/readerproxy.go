package history

import (
	"sync"

	"github.com/dds-go/rtps/guid"
	"github.com/dds-go/rtps/qos"
)

// ReaderProxy is a writer's bookkeeping for one matched remote
// reader: which changes it has acknowledged, which it has been asked
// to resend, and which have not yet been sent to it at all.
type ReaderProxy struct {
	mu sync.Mutex

	ReaderGuid       guid.Guid
	UnicastLocators  []guid.Locator
	MulticastLocators []guid.Locator
	Reliability      qos.ReliabilityKind
	ExpectsInlineQos bool

	highestAckedSN   guid.SequenceNumber
	unsentChanges    map[guid.SequenceNumber]struct{}
	requestedChanges map[guid.SequenceNumber]struct{}
	lastAckNackCount uint32
}

// NewReaderProxy creates the proxy a writer keeps for a newly matched
// reader. Every change already in the writer's history is marked
// unsent so the writer's run loop offers the reader its full backlog.
func NewReaderProxy(readerGuid guid.Guid, unicast, multicast []guid.Locator, reliability qos.ReliabilityKind, expectsInlineQos bool, backlog []guid.SequenceNumber) *ReaderProxy {
	rp := &ReaderProxy{
		ReaderGuid:        readerGuid,
		UnicastLocators:   unicast,
		MulticastLocators: multicast,
		Reliability:       reliability,
		ExpectsInlineQos:  expectsInlineQos,
		highestAckedSN:    guid.SequenceNumberUnknown,
		unsentChanges:     make(map[guid.SequenceNumber]struct{}),
		requestedChanges:  make(map[guid.SequenceNumber]struct{}),
	}
	for _, sn := range backlog {
		rp.unsentChanges[sn] = struct{}{}
	}
	return rp
}

// AddChange marks a newly written sample unsent to this reader.
func (rp *ReaderProxy) AddChange(sn guid.SequenceNumber) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.unsentChanges[sn] = struct{}{}
}

// UnsentChanges returns, in increasing order, the sequence numbers
// never yet sent to this reader.
func (rp *ReaderProxy) UnsentChanges() []guid.SequenceNumber {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return sortedKeys(rp.unsentChanges)
}

// MarkSent moves a change out of unsent. For a best-effort reader
// this is terminal; for a reliable reader the change remains unacked
// until an ACKNACK says otherwise.
func (rp *ReaderProxy) MarkSent(sn guid.SequenceNumber) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	delete(rp.unsentChanges, sn)
}

// RequestedChanges returns, in increasing order, the sequence numbers
// this reader has asked to be resent via ACKNACK.
func (rp *ReaderProxy) RequestedChanges() []guid.SequenceNumber {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return sortedKeys(rp.requestedChanges)
}

// MarkRequestSent clears a sequence number from the requested set
// once it has been resent.
func (rp *ReaderProxy) MarkRequestSent(sn guid.SequenceNumber) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	delete(rp.requestedChanges, sn)
}

// HighestAcked returns the highest sequence number this reader has
// acknowledged, or SequenceNumberUnknown if none yet.
func (rp *ReaderProxy) HighestAcked() guid.SequenceNumber {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.highestAckedSN
}

// UnackedChanges returns, in increasing order, every sequence number
// below writerNextSN not yet acknowledged by this reader: sent
// (or unsent) changes the writer must still keep for potential
// retransmission.
func (rp *ReaderProxy) UnackedChanges(writerNextSN guid.SequenceNumber) []guid.SequenceNumber {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	var out []guid.SequenceNumber
	for sn := rp.highestAckedSN + 1; sn < writerNextSN; sn++ {
		out = append(out, sn)
	}
	return out
}

// ApplyAckNack folds an incoming ACKNACK into this proxy's state:
// updates highestAckedSN using the rule that base is the lowest SN
// still missing, or lastSN+1 if none are missing, and records the
// bitmap's missing members as requested for resend. Stale or
// duplicate ACKNACKs (count <= lastAckNackCount) are ignored.
func (rp *ReaderProxy) ApplyAckNack(base guid.SequenceNumber, missing []guid.SequenceNumber, count uint32) bool {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if count <= rp.lastAckNackCount {
		return false
	}
	rp.lastAckNackCount = count

	acked := base - 1
	if acked > rp.highestAckedSN {
		rp.highestAckedSN = acked
	}
	for _, sn := range missing {
		rp.requestedChanges[sn] = struct{}{}
		delete(rp.unsentChanges, sn)
	}
	return true
}

// RequestResend marks sn for retransmission without touching the
// ACKNACK count or acked watermark, for a NACK_FRAG that asks for one
// sample's fragments rather than carrying its own reliability
// handshake state.
func (rp *ReaderProxy) RequestResend(sn guid.SequenceNumber) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.requestedChanges[sn] = struct{}{}
	delete(rp.unsentChanges, sn)
}

func sortedKeys(m map[guid.SequenceNumber]struct{}) []guid.SequenceNumber {
	out := make([]guid.SequenceNumber, 0, len(m))
	for sn := range m {
		out = append(out, sn)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
