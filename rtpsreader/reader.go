// Package rtpsreader implements the stateful reliable and best-effort
// reader-side RTPS protocol: a local reader's set of matched
// WriterProxy, its TopicCache insertion path, and the pre-emptive
// ACKNACK and deadline timers.
package rtpsreader

import (
	"sync"
	"time"

	"github.com/dds-go/rtps/guid"
	"github.com/dds-go/rtps/history"
	"github.com/dds-go/rtps/qos"
	"github.com/dds-go/rtps/wire"
)

// StatusEvent is a DDS status change the reader's owner should see.
type StatusEvent int

const (
	// RequestedDeadlineMissed fires when no sample arrived from a
	// matched writer within its deadline period.
	RequestedDeadlineMissed StatusEvent = iota
)

// OutgoingMessage pairs a submessage batch with the locators it must
// be addressed to.
type OutgoingMessage struct {
	Locators    []guid.Locator
	Submessages []wire.Submessage
}

// Reader is one local RTPS reader endpoint: matched writer proxies
// plus the shared TopicCache it deposits samples into.
type Reader struct {
	mu sync.Mutex

	Guid      guid.Guid
	TopicName string
	TypeName  string
	Policies  qos.Policies

	cache   *history.TopicCache
	writers map[guid.Guid]*history.WriterProxy

	lastSeen  map[guid.Guid]time.Time
	deadline  time.Duration
	fragments map[guid.Guid]map[guid.SequenceNumber]*fragBuf

	// OnSample, if set, is called after a newly received sample has
	// been deposited into the TopicCache, e.g. by a built-in reader
	// that needs to decode the sample rather than wait for an
	// application to poll it.
	OnSample func(history.Sample)

	// OnDeadlineMissed, if set, is called by the reactor's deadline
	// timer for each matched writer DeadlineMissed reports silent,
	// delivering the RequestedDeadlineMissed status event.
	OnDeadlineMissed func(writerGuid guid.Guid)
}

// fragBuf accumulates DATA_FRAG fragments for one (writer, sequence
// number) until every fragment has arrived.
type fragBuf struct {
	sampleSize   uint32
	fragmentSize uint16
	keyOnly      bool
	received     map[uint32][]byte // 1-based fragment number -> bytes
}

// assemble reports whether every fragment implied by sampleSize has
// arrived and, if so, the reassembled payload in fragment order.
func (fb *fragBuf) assemble() ([]byte, bool) {
	if fb.fragmentSize == 0 {
		return nil, false
	}
	total := int((fb.sampleSize + uint32(fb.fragmentSize) - 1) / uint32(fb.fragmentSize))
	if len(fb.received) < total {
		return nil, false
	}
	out := make([]byte, 0, fb.sampleSize)
	for i := 1; i <= total; i++ {
		chunk, ok := fb.received[uint32(i)]
		if !ok {
			return nil, false
		}
		out = append(out, chunk...)
	}
	if uint32(len(out)) > fb.sampleSize {
		out = out[:fb.sampleSize]
	}
	return out, true
}

// New creates a reader depositing samples into the given topic cache.
func New(g guid.Guid, topicName, typeName string, p qos.Policies, cache *history.TopicCache) *Reader {
	return &Reader{
		Guid:      g,
		TopicName: topicName,
		TypeName:  typeName,
		Policies:  p,
		cache:     cache,
		writers:   make(map[guid.Guid]*history.WriterProxy),
		lastSeen:  make(map[guid.Guid]time.Time),
		deadline:  p.Deadline,
	}
}

// IsReliable reports whether this reader runs the reliable protocol.
func (r *Reader) IsReliable() bool {
	return r.Policies.Reliability.Kind == qos.Reliable
}

// AddMatchedWriter registers a newly matched remote writer.
func (r *Reader) AddMatchedWriter(writerGuid guid.Guid, unicast, multicast []guid.Locator) *history.WriterProxy {
	r.mu.Lock()
	defer r.mu.Unlock()
	wp := history.NewWriterProxy(writerGuid, unicast, multicast)
	r.writers[writerGuid] = wp
	r.lastSeen[writerGuid] = time.Now()
	return wp
}

// RemoveMatchedWriter drops a writer proxy, e.g. on ParticipantLost.
func (r *Reader) RemoveMatchedWriter(writerGuid guid.Guid) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.writers, writerGuid)
	delete(r.lastSeen, writerGuid)
}

// MatchedWriters returns the GUIDs of every currently matched writer.
func (r *Reader) MatchedWriters() []guid.Guid {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]guid.Guid, 0, len(r.writers))
	for g := range r.writers {
		out = append(out, g)
	}
	return out
}

// HandleData processes an incoming DATA from writerGuid: drops it if
// the sequence number was already received, otherwise deposits it in
// the TopicCache and records receipt.
func (r *Reader) HandleData(writerGuid guid.Guid, d wire.Data, timestamp time.Time) {
	r.mu.Lock()
	wp, ok := r.writers[writerGuid]
	if ok {
		r.lastSeen[writerGuid] = timestamp
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	if wp.IsReceived(d.WriterSN) {
		return
	}

	kind := history.KindData
	if d.KeyOnly {
		kind = history.KindDispose
	}
	sample := history.Sample{
		WriterGuid:      writerGuid,
		SequenceNumber:  d.WriterSN,
		SourceTimestamp: timestamp,
		Kind:            kind,
		Payload:         d.Payload,
	}
	if err := r.cache.Insert(sample); err == nil && r.OnSample != nil {
		r.OnSample(sample)
	}
	wp.MarkReceived(d.WriterSN)
}

// HandleDataFrag processes one fragment of a fragmented sample,
// depositing the reassembled sample into the TopicCache once every
// fragment has arrived. Fragments for a sequence number already
// delivered are dropped, matching HandleData's duplicate handling.
func (r *Reader) HandleDataFrag(writerGuid guid.Guid, d wire.DataFrag, timestamp time.Time) {
	r.mu.Lock()
	wp, ok := r.writers[writerGuid]
	if !ok {
		r.mu.Unlock()
		return
	}
	r.lastSeen[writerGuid] = timestamp
	if wp.IsReceived(d.WriterSN) {
		r.mu.Unlock()
		return
	}

	if r.fragments == nil {
		r.fragments = make(map[guid.Guid]map[guid.SequenceNumber]*fragBuf)
	}
	perWriter, ok := r.fragments[writerGuid]
	if !ok {
		perWriter = make(map[guid.SequenceNumber]*fragBuf)
		r.fragments[writerGuid] = perWriter
	}
	fb, ok := perWriter[d.WriterSN]
	if !ok {
		fb = &fragBuf{sampleSize: d.SampleSize, fragmentSize: d.FragmentSize, keyOnly: d.KeyOnly, received: make(map[uint32][]byte)}
		perWriter[d.WriterSN] = fb
	}
	for i := uint16(0); i < d.FragmentsInSubmessage; i++ {
		fragNum := d.FragmentStartNum + uint32(i)
		start := int(i) * int(d.FragmentSize)
		if start >= len(d.Payload) {
			break
		}
		end := start + int(d.FragmentSize)
		if end > len(d.Payload) {
			end = len(d.Payload)
		}
		fb.received[fragNum] = append([]byte(nil), d.Payload[start:end]...)
	}

	payload, complete := fb.assemble()
	if !complete {
		r.mu.Unlock()
		return
	}
	delete(perWriter, d.WriterSN)
	r.mu.Unlock()

	kind := history.KindData
	if fb.keyOnly {
		kind = history.KindDispose
	}
	sample := history.Sample{
		WriterGuid:      writerGuid,
		SequenceNumber:  d.WriterSN,
		SourceTimestamp: timestamp,
		Kind:            kind,
		Payload:         payload,
	}
	if err := r.cache.Insert(sample); err == nil && r.OnSample != nil {
		r.OnSample(sample)
	}
	wp.MarkReceived(d.WriterSN)
}

// HandleHeartbeat processes an incoming HEARTBEAT. It returns the
// ACKNACK this reader owes in reply, and whether one is owed at all:
// a heartbeat is answered only when Reliable and either there is
// missing data or the FINAL flag is absent. No delay is applied,
// here or in the MessageReceiver, which sends the reply as soon as
// the HEARTBEAT is processed.
func (r *Reader) HandleHeartbeat(writerGuid guid.Guid, hb wire.Heartbeat) (wire.AckNack, bool) {
	r.mu.Lock()
	wp, ok := r.writers[writerGuid]
	r.mu.Unlock()
	if !ok {
		return wire.AckNack{}, false
	}

	last := hb.LastSN
	if hb.IsEmptyRange() {
		last = wp.HighestSeen()
	}
	if !wp.ApplyHeartbeat(last, hb.Count) {
		return wire.AckNack{}, false
	}
	if !r.IsReliable() {
		return wire.AckNack{}, false
	}

	missing := wp.Missing()
	if len(missing) == 0 && hb.Final {
		return wire.AckNack{}, false
	}
	return r.buildAckNack(writerGuid, wp, missing), true
}

// HandleGap processes an incoming GAP: marks the named sequence
// numbers as irrelevant so they are never requested.
func (r *Reader) HandleGap(writerGuid guid.Guid, g wire.Gap) {
	r.mu.Lock()
	wp, ok := r.writers[writerGuid]
	r.mu.Unlock()
	if !ok {
		return
	}
	wp.MarkIrrelevant(g.GapStart)
	for _, sn := range g.GapList.Members() {
		wp.MarkIrrelevant(sn)
	}
}

func (r *Reader) buildAckNack(writerGuid guid.Guid, wp *history.WriterProxy, missing []guid.SequenceNumber) wire.AckNack {
	base := wp.HighestSeen() + 1
	if len(missing) > 0 {
		base = missing[0]
	}
	return wire.AckNack{
		ReaderId:      r.Guid.EntityId,
		WriterId:      writerGuid.EntityId,
		ReaderSNState: wire.NewSNSetFromMissing(missing, base),
		Count:         wp.NextAckNackCount(),
	}
}

// PreemptiveAckNacks builds an empty ACKNACK for every matched writer,
// to be sent on the reader's ~5s pre-emptive timer so a late-joining
// or muted writer learns of this reader and responds with a
// HEARTBEAT.
func (r *Reader) PreemptiveAckNacks() []OutgoingMessage {
	if !r.IsReliable() {
		return nil
	}
	r.mu.Lock()
	writers := make(map[guid.Guid]*history.WriterProxy, len(r.writers))
	for g, wp := range r.writers {
		writers[g] = wp
	}
	r.mu.Unlock()

	var out []OutgoingMessage
	for writerGuid, wp := range writers {
		an := r.buildAckNack(writerGuid, wp, wp.Missing())
		an.ReaderSNState.Bits = nil
		out = append(out, OutgoingMessage{
			Locators:    preferredLocators(wp),
			Submessages: []wire.Submessage{an},
		})
	}
	return out
}

// DeadlineMissed scans matched writers for silence exceeding the
// reader's Deadline QoS, returning the writers that missed it. A
// zero Deadline disables the check.
func (r *Reader) DeadlineMissed(now time.Time) []guid.Guid {
	if r.deadline <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var missed []guid.Guid
	for g, last := range r.lastSeen {
		if now.Sub(last) > r.deadline {
			missed = append(missed, g)
		}
	}
	return missed
}

func preferredLocators(wp *history.WriterProxy) []guid.Locator {
	if len(wp.UnicastLocators) > 0 {
		return wp.UnicastLocators
	}
	return wp.MulticastLocators
}

// LocatorsFor returns the preferred locators for a matched writer, so
// a caller holding a reply built by HandleHeartbeat knows where to
// send it.
func (r *Reader) LocatorsFor(writerGuid guid.Guid) ([]guid.Locator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wp, ok := r.writers[writerGuid]
	if !ok {
		return nil, false
	}
	return preferredLocators(wp), true
}
