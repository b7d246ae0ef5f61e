// Package rtpswriter implements the stateful reliable and best-effort
// writer-side RTPS protocol: a local writer's HistoryCache, its set
// of matched ReaderProxy, and the heartbeat / nack-response timers
// that drive reliable delivery.
package rtpswriter

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/dds-go/rtps/guid"
	"github.com/dds-go/rtps/history"
	"github.com/dds-go/rtps/qos"
	"github.com/dds-go/rtps/wire"
)

// ErrWouldBlock is returned by Write when a Reliable writer's cache
// is saturated and max_blocking_time elapses before room frees up.
var ErrWouldBlock = errors.New("rtpswriter: would block")

// OutgoingMessage pairs a serialized submessage batch with the
// locators it must be sent to; the caller (event loop) owns the
// actual socket I/O.
type OutgoingMessage struct {
	Locators    []guid.Locator
	Submessages []wire.Submessage
}

// Writer is one local RTPS writer endpoint: HistoryCache, matched
// reader proxies, and heartbeat bookkeeping.
type Writer struct {
	mu sync.Mutex

	Guid      guid.Guid
	TopicName string
	TypeName  string
	Policies  qos.Policies

	cache          *history.HistoryCache
	readers        map[guid.Guid]*history.ReaderProxy
	heartbeatCount uint32

	heartbeatPeriod   time.Duration
	nackResponseDelay time.Duration
}

// New creates a writer with an empty HistoryCache and no matched readers.
func New(g guid.Guid, topicName, typeName string, p qos.Policies) *Writer {
	return &Writer{
		Guid:              g,
		TopicName:         topicName,
		TypeName:          typeName,
		Policies:          p,
		cache:             history.NewHistoryCache(g, p),
		readers:           make(map[guid.Guid]*history.ReaderProxy),
		heartbeatPeriod:   1 * time.Second,
		nackResponseDelay: 50 * time.Millisecond,
	}
}

// IsReliable reports whether this writer runs the reliable protocol.
func (w *Writer) IsReliable() bool {
	return w.Policies.Reliability.Kind == qos.Reliable
}

// Write assigns the sample the next sequence number, appends it to
// the HistoryCache, and marks it unsent for every matched reader. If
// the cache is saturated and the
// writer is Reliable, Write retries the append every millisecond for
// up to max_blocking_time and returns ErrWouldBlock once that has
// passed (at once when max_blocking_time is zero). Best-effort
// writers never block: a full cache under
// ResourceLimits simply rejects the write (see HistoryCache.Add).
func (w *Writer) Write(kind history.SampleKind, key history.KeyHash, payload []byte, now time.Time) (guid.SequenceNumber, error) {
	deadline := time.Time{}
	if w.IsReliable() && w.Policies.Reliability.MaxBlockingTime > 0 {
		deadline = now.Add(w.Policies.Reliability.MaxBlockingTime)
	}

	for {
		sample, err := w.cache.Add(kind, key, payload, now)
		if err == nil {
			w.mu.Lock()
			for _, rp := range w.readers {
				rp.AddChange(sample.SequenceNumber)
			}
			w.mu.Unlock()
			return sample.SequenceNumber, nil
		}
		if err != history.ErrResourceLimitExceeded || deadline.IsZero() || time.Now().After(deadline) {
			if err == history.ErrResourceLimitExceeded && w.IsReliable() {
				return guid.SequenceNumberUnknown, ErrWouldBlock
			}
			return guid.SequenceNumberUnknown, err
		}
		time.Sleep(time.Millisecond)
	}
}

// AddMatchedReader registers a newly matched remote reader, seeding
// its unsent-changes set with every sample currently in the cache so
// it receives the writer's full backlog.
func (w *Writer) AddMatchedReader(readerGuid guid.Guid, unicast, multicast []guid.Locator, reliability qos.ReliabilityKind, expectsInlineQos bool) *history.ReaderProxy {
	w.mu.Lock()
	defer w.mu.Unlock()

	var backlog []guid.SequenceNumber
	first, last := w.cache.FirstSN(), w.cache.LastSN()
	if first != guid.SequenceNumberUnknown {
		for sn := first; sn <= last; sn++ {
			if _, ok := w.cache.Get(sn); ok {
				backlog = append(backlog, sn)
			}
		}
	}
	rp := history.NewReaderProxy(readerGuid, unicast, multicast, reliability, expectsInlineQos, backlog)
	w.readers[readerGuid] = rp
	return rp
}

// RemoveMatchedReader drops a reader proxy, e.g. on ParticipantLost.
func (w *Writer) RemoveMatchedReader(readerGuid guid.Guid) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.readers, readerGuid)
}

// MatchedReaders returns the GUIDs of every currently matched reader.
func (w *Writer) MatchedReaders() []guid.Guid {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]guid.Guid, 0, len(w.readers))
	for g := range w.readers {
		out = append(out, g)
	}
	return out
}

// DrainUnsent builds the DATA submessages owed to every matched
// reader for sequence numbers never yet sent, one OutgoingMessage per
// reader addressed to its preferred locator set (unicast preferred
// over multicast).
func (w *Writer) DrainUnsent() []OutgoingMessage {
	w.mu.Lock()
	readers := make([]*history.ReaderProxy, 0, len(w.readers))
	for _, rp := range w.readers {
		readers = append(readers, rp)
	}
	w.mu.Unlock()

	var out []OutgoingMessage
	for _, rp := range readers {
		unsent := rp.UnsentChanges()
		if len(unsent) == 0 {
			continue
		}
		var subs []wire.Submessage
		for _, sn := range unsent {
			sample, ok := w.cache.Get(sn)
			if !ok {
				continue
			}
			subs = append(subs, wire.Data{
				ReaderId:   rp.ReaderGuid.EntityId,
				WriterId:   w.Guid.EntityId,
				WriterSN:   sn,
				HasPayload: len(sample.Payload) > 0,
				Payload:    sample.Payload,
			})
			rp.MarkSent(sn)
		}
		if len(subs) == 0 {
			continue
		}
		out = append(out, OutgoingMessage{Locators: preferredLocators(rp), Submessages: subs})
	}
	return out
}

// MarkUnsent re-queues an already-written sequence number as unsent to
// readerGuid without touching the HistoryCache, so a caller that needs
// to retransmit a past write resends the original bytes under the
// original sequence number rather than appending a new sample.
// Returns false if readerGuid is not a matched reader.
func (w *Writer) MarkUnsent(readerGuid guid.Guid, sn guid.SequenceNumber) bool {
	w.mu.Lock()
	rp, ok := w.readers[readerGuid]
	w.mu.Unlock()
	if !ok {
		return false
	}
	rp.AddChange(sn)
	return true
}

func preferredLocators(rp *history.ReaderProxy) []guid.Locator {
	if len(rp.UnicastLocators) > 0 {
		return rp.UnicastLocators
	}
	return rp.MulticastLocators
}

// PendingHeartbeat builds the periodic HEARTBEAT this writer owes its
// reliable readers, covering [firstAvailableSN, lastSN] with a
// strictly increasing count. Returns ok=false if this writer is not
// reliable or has no matched readers.
func (w *Writer) PendingHeartbeat() (wire.Heartbeat, []guid.Locator, bool) {
	if !w.IsReliable() {
		return wire.Heartbeat{}, nil, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.readers) == 0 {
		return wire.Heartbeat{}, nil, false
	}

	first, last := w.cache.FirstSN(), w.cache.LastSN()
	if first == guid.SequenceNumberUnknown {
		first, last = w.cache.NextSN(), w.cache.NextSN()-1
	}
	w.heartbeatCount++

	var locs []guid.Locator
	for _, rp := range w.readers {
		locs = append(locs, preferredLocators(rp)...)
	}
	return wire.Heartbeat{
		ReaderId: guid.Unknown,
		WriterId: w.Guid.EntityId,
		FirstSN:  first,
		LastSN:   last,
		Count:    w.heartbeatCount,
	}, locs, true
}

// HandleAckNackFrom folds an incoming ACKNACK into the proxy of the
// reader it came from (the MessageReceiver resolves reader_id to a
// full GUID via the tracked source_guid_prefix). It returns true if
// the ACKNACK was new (not a duplicate), which should schedule the
// nack-response timer.
func (w *Writer) HandleAckNackFrom(readerGuid guid.Guid, an wire.AckNack) bool {
	w.mu.Lock()
	rp, ok := w.readers[readerGuid]
	w.mu.Unlock()
	if !ok {
		return false
	}
	missing := an.ReaderSNState.Members()
	return rp.ApplyAckNack(an.ReaderSNState.Base, missing, an.Count)
}

// HandleNackFragFrom treats an incoming NACK_FRAG as a request to
// resend a whole sample: this writer never itself emits DATA_FRAG
// (it has no max-datagram-size splitting), so any fragment-level
// request it receives is satisfied by re-sending the complete DATA
// submessage for that sequence number. Returns true if the reader
// was matched, which should schedule the nack-response timer.
func (w *Writer) HandleNackFragFrom(readerGuid guid.Guid, nf wire.NackFrag) bool {
	w.mu.Lock()
	rp, ok := w.readers[readerGuid]
	w.mu.Unlock()
	if !ok {
		return false
	}
	rp.RequestResend(nf.WriterSN)
	return true
}

// NackResponse builds, for one reader, the DATA submessages for
// requested SNs still in the cache and a GAP submessage for requested
// SNs evicted or never published, on the writer's nack-response timer.
func (w *Writer) NackResponse(readerGuid guid.Guid) (OutgoingMessage, bool) {
	w.mu.Lock()
	rp, ok := w.readers[readerGuid]
	w.mu.Unlock()
	if !ok {
		return OutgoingMessage{}, false
	}

	requested := rp.RequestedChanges()
	if len(requested) == 0 {
		return OutgoingMessage{}, false
	}

	var subs []wire.Submessage
	var gapSNs []guid.SequenceNumber
	for _, sn := range requested {
		if sample, ok := w.cache.Get(sn); ok {
			subs = append(subs, wire.Data{
				ReaderId:   rp.ReaderGuid.EntityId,
				WriterId:   w.Guid.EntityId,
				WriterSN:   sn,
				HasPayload: len(sample.Payload) > 0,
				Payload:    sample.Payload,
			})
		} else {
			gapSNs = append(gapSNs, sn)
		}
		rp.MarkRequestSent(sn)
	}
	if len(gapSNs) > 0 {
		subs = append(subs, wire.Gap{
			ReaderId: rp.ReaderGuid.EntityId,
			WriterId: w.Guid.EntityId,
			GapStart: gapSNs[0],
			GapList:  wire.NewSNSetFromMissing(gapSNs, gapSNs[0]),
		})
	}
	return OutgoingMessage{Locators: preferredLocators(rp), Submessages: subs}, true
}

// HeartbeatPeriod and NackResponseDelay expose the writer's timer
// intervals for the event loop to schedule against.
func (w *Writer) HeartbeatPeriod() time.Duration   { return w.heartbeatPeriod }
func (w *Writer) NackResponseDelay() time.Duration { return w.nackResponseDelay }

// SetHeartbeatPeriod overrides the default 1s heartbeat period.
func (w *Writer) SetHeartbeatPeriod(d time.Duration) { w.heartbeatPeriod = d }

// SetNackResponseDelay overrides the default 50ms nack-response delay.
func (w *Writer) SetNackResponseDelay(d time.Duration) { w.nackResponseDelay = d }
