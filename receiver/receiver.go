// Package receiver implements MessageReceiver: the demultiplexer that
// turns one inbound UDP datagram into calls on the local readers and
// writers an event loop owns. It satisfies reactor.Demuxer, so it
// runs synchronously on the event loop's own
// goroutine and can call Loop.Send directly rather than hopping
// through a channel.
package receiver

import (
	"log"
	"net"
	"time"

	"github.com/dds-go/rtps/guid"
	"github.com/dds-go/rtps/reactor"
	"github.com/dds-go/rtps/wire"
)

// SecureCategory is the outcome of preprocessing a SEC_PREFIX/
// SEC_POSTFIX-bracketed submessage group: which side of the protocol
// it belongs to, so it can be routed to the matching decode step.
type SecureCategory int

const (
	SecureCategoryUnknown SecureCategory = iota
	SecureCategoryWriterSubmessage
	SecureCategoryReaderSubmessage
)

// Security is the secure-message and secure-submessage codec a
// participant's secure discovery installs once at least one remote
// participant has authenticated. A Receiver with no Security drops
// SRTPS- and SEC-bracketed content outright, since it has no way to
// recover plaintext from it.
type Security interface {
	// DecodeMessage unwraps a message whose first submessage is
	// SRTPS_PREFIX, returning the message header and the decrypted
	// submessage list that replaces the inbound stream; an
	// INFO_SOURCE in that list overrides the source prefix as it
	// does in a plaintext message.
	DecodeMessage(header wire.Header, raw []byte) (wire.Header, []wire.Submessage, error)

	// PreprocessSecureSubmessage classifies a SEC_PREFIX..SEC_POSTFIX
	// group and resolves the local entity handle it targets.
	PreprocessSecureSubmessage(group []wire.Submessage) (SecureCategory, guid.Guid, error)

	// DecodeDatawriterSubmessage and DecodeDatareaderSubmessage
	// recover the single plaintext submessage a secure group
	// encrypted or signed, once PreprocessSecureSubmessage has
	// resolved which side it belongs to.
	DecodeDatawriterSubmessage(group []wire.Submessage, localReader guid.Guid) (wire.Submessage, error)
	DecodeDatareaderSubmessage(group []wire.Submessage, localWriter guid.Guid) (wire.Submessage, error)
}

// Receiver parses inbound RTPS messages and dispatches their
// submessages to the readers and writers registered on its loop.
//
// Construction is two-phase because reactor.New requires a Demuxer up
// front while a Receiver needs the Loop it dispatches into: build the
// Receiver first, pass it to reactor.New, then call SetLoop.
type Receiver struct {
	loop              *reactor.Loop
	participantPrefix guid.GuidPrefix
	security          Security
}

// New creates a Receiver for the participant identified by
// participantPrefix. Call SetLoop before any datagram arrives.
func New(participantPrefix guid.GuidPrefix) *Receiver {
	return &Receiver{participantPrefix: participantPrefix}
}

// SetLoop attaches the event loop this receiver dispatches into.
func (r *Receiver) SetLoop(loop *reactor.Loop) { r.loop = loop }

// SetSecurity installs the secure-message codec, normally called once
// the security plugin is constructed during participant startup.
func (r *Receiver) SetSecurity(s Security) { r.security = s }

// receiveState is the per-message scratch state a MessageReceiver
// carries: source/destination guid prefix, source timestamp, and
// reply locators, all overridable by INFO_* submessages partway
// through a message.
type receiveState struct {
	sourceGuidPrefix guid.GuidPrefix
	destGuidPrefix   guid.GuidPrefix
	haveDest         bool
	sourceTimestamp  time.Time
	haveTimestamp    bool
	unicastReply     []guid.Locator
	multicastReply   []guid.Locator
}

// HandleDatagram implements reactor.Demuxer.
func (r *Receiver) HandleDatagram(src *net.UDPAddr, data []byte) {
	header, subs, err := wire.Parse(data)
	if err != nil {
		log.Printf("receiver: dropping malformed message from %v: %v", src, err)
		return
	}

	if len(subs) > 0 {
		if raw, ok := subs[0].(wire.Raw); ok && raw.Kind == wire.KindSrtpsPrefix {
			if r.security == nil {
				return
			}
			header, subs, err = r.security.DecodeMessage(header, data)
			if err != nil {
				log.Printf("receiver: secure message decode failed from %v: %v", src, err)
				return
			}
		}
	}

	st := receiveState{sourceGuidPrefix: header.GuidPrefix}

	for i := 0; i < len(subs); i++ {
		sm := subs[i]
		if raw, ok := sm.(wire.Raw); ok && raw.Kind == wire.KindSecPrefix {
			group, consumed, ok := collectSecureGroup(subs[i:])
			if !ok {
				// No terminating SEC_POSTFIX: the rest of the message
				// cannot be reliably reparsed as plain submessages.
				return
			}
			r.dispatchSecureGroup(group, st)
			i += consumed - 1
			continue
		}
		r.dispatchPlain(sm, &st)
	}
}

// collectSecureGroup scans subs (which starts at a SEC_PREFIX) for
// its matching SEC_POSTFIX, returning the bracketed slice inclusive
// of both and the number of submessages consumed.
func collectSecureGroup(subs []wire.Submessage) ([]wire.Submessage, int, bool) {
	for i := 1; i < len(subs); i++ {
		if raw, ok := subs[i].(wire.Raw); ok && raw.Kind == wire.KindSecPostfix {
			return subs[:i+1], i + 1, true
		}
	}
	return nil, 0, false
}

func (r *Receiver) dispatchSecureGroup(group []wire.Submessage, st receiveState) {
	if r.security == nil {
		return
	}
	category, handle, err := r.security.PreprocessSecureSubmessage(group)
	if err != nil {
		log.Printf("receiver: preprocessing secure submessage group: %v", err)
		return
	}
	var sm wire.Submessage
	switch category {
	case SecureCategoryWriterSubmessage:
		sm, err = r.security.DecodeDatawriterSubmessage(group, handle)
	case SecureCategoryReaderSubmessage:
		sm, err = r.security.DecodeDatareaderSubmessage(group, handle)
	default:
		log.Printf("receiver: secure submessage group resolved to an unknown category")
		return
	}
	if err != nil {
		log.Printf("receiver: decoding secure submessage group: %v", err)
		return
	}
	r.dispatchPlain(sm, &st)
}

func (r *Receiver) dispatchPlain(sm wire.Submessage, st *receiveState) {
	switch v := sm.(type) {
	case wire.InfoSource:
		st.sourceGuidPrefix = v.GuidPrefix
	case wire.InfoDestination:
		st.destGuidPrefix = v.GuidPrefix
		st.haveDest = true
	case wire.InfoTimestamp:
		if v.Invalidate {
			st.haveTimestamp = false
			return
		}
		st.sourceTimestamp = timeFromWire(v.Timestamp)
		st.haveTimestamp = true
	case wire.InfoReply:
		st.unicastReply = v.UnicastLocators
		st.multicastReply = v.MulticastLocators
	case wire.Data:
		r.handleData(v, st)
	case wire.DataFrag:
		r.handleDataFrag(v, st)
	case wire.Heartbeat:
		r.handleHeartbeat(v, st)
	case wire.HeartbeatFrag:
		// Informational only: tells a reader how many fragments of a
		// sample are currently available. The reader never sends
		// NACK_FRAG; a sample whose fragments are incomplete stays
		// missing and is requested whole in the ACKNACK that answers
		// the writer's HEARTBEAT, so this carries no action this
		// receiver needs to take.
	case wire.Gap:
		r.handleGap(v, st)
	case wire.AckNack:
		r.handleAckNack(v, st)
	case wire.NackFrag:
		r.handleNackFrag(v, st)
	case wire.Raw:
		// PAD or a kind this codec does not model; nothing to dispatch.
	}
}

func timeFromWire(ts wire.Timestamp) time.Time {
	return time.Unix(int64(ts.Seconds), int64(float64(ts.Fraction)/(1<<32)*1e9))
}

func (r *Receiver) handleData(d wire.Data, st *receiveState) {
	ts := time.Now()
	if st.haveTimestamp {
		ts = st.sourceTimestamp
	}
	writerGuid := guid.New(st.sourceGuidPrefix, d.WriterId)
	for _, rd := range r.loop.Readers() {
		if d.ReaderId != guid.Unknown && rd.Guid.EntityId != d.ReaderId {
			continue
		}
		rd.HandleData(writerGuid, d, ts)
	}
}

func (r *Receiver) handleDataFrag(d wire.DataFrag, st *receiveState) {
	ts := time.Now()
	if st.haveTimestamp {
		ts = st.sourceTimestamp
	}
	writerGuid := guid.New(st.sourceGuidPrefix, d.WriterId)
	for _, rd := range r.loop.Readers() {
		if d.ReaderId != guid.Unknown && rd.Guid.EntityId != d.ReaderId {
			continue
		}
		rd.HandleDataFrag(writerGuid, d, ts)
	}
}

func (r *Receiver) handleGap(g wire.Gap, st *receiveState) {
	writerGuid := guid.New(st.sourceGuidPrefix, g.WriterId)
	for _, rd := range r.loop.Readers() {
		if g.ReaderId != guid.Unknown && rd.Guid.EntityId != g.ReaderId {
			continue
		}
		rd.HandleGap(writerGuid, g)
	}
}

func (r *Receiver) handleHeartbeat(hb wire.Heartbeat, st *receiveState) {
	writerGuid := guid.New(st.sourceGuidPrefix, hb.WriterId)
	for _, rd := range r.loop.Readers() {
		if hb.ReaderId != guid.Unknown && rd.Guid.EntityId != hb.ReaderId {
			continue
		}
		an, ok := rd.HandleHeartbeat(writerGuid, hb)
		if !ok {
			continue
		}
		locs, ok := rd.LocatorsFor(writerGuid)
		if !ok || len(locs) == 0 {
			continue
		}
		if len(st.unicastReply) > 0 {
			locs = st.unicastReply
		}
		r.loop.Send(locs, wire.NewHeaderFor(r.participantPrefix), []wire.Submessage{an})
	}
}

// handleAckNack forwards an ACKNACK to every locally owned writer it
// addresses, via the loop's internal channel rather than calling the
// writer directly, so the writer's state only ever changes on the
// event loop's own goroutine.
func (r *Receiver) handleAckNack(an wire.AckNack, st *receiveState) {
	readerGuid := guid.New(st.sourceGuidPrefix, an.ReaderId)
	for entityId := range r.loop.Writers() {
		if an.WriterId != guid.Unknown && entityId != an.WriterId {
			continue
		}
		r.loop.ForwardAckNack(reactor.AckNackEvent{
			WriterEntityId: entityId,
			ReaderGuid:     readerGuid,
			AckNack:        an,
		})
	}
}

func (r *Receiver) handleNackFrag(nf wire.NackFrag, st *receiveState) {
	readerGuid := guid.New(st.sourceGuidPrefix, nf.ReaderId)
	for entityId, w := range r.loop.Writers() {
		if nf.WriterId != guid.Unknown && entityId != nf.WriterId {
			continue
		}
		if w.HandleNackFragFrom(readerGuid, nf) {
			r.loop.ScheduleNackResponse(entityId, w, readerGuid)
		}
	}
}
