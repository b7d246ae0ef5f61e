// Package reactor implements the single-threaded event loop an RTPS
// participant runs its data path on: an edge-triggered-style poller
// over UDP sockets, command channels, and per-entity timers.
package reactor

import (
	"log"
	"net"
	"time"

	"github.com/dds-go/rtps/guid"
	"github.com/dds-go/rtps/rtpsreader"
	"github.com/dds-go/rtps/rtpswriter"
	"github.com/dds-go/rtps/transport"
	"github.com/dds-go/rtps/wire"
)

// PollTimeout bounds how long the loop can be unresponsive to a Stop
// request.
const PollTimeout = 2 * time.Second

// PreemptiveAckNackPeriod is how often every matched reader sends an
// empty ACKNACK to each of its matched writers, so a writer that is
// silent or was matched after the reader learns of it without waiting
// for its own heartbeat. A var, not a const, so tests can shorten it.
var PreemptiveAckNackPeriod = 5 * time.Second

// DeadlineCheckPeriod is how often a reader with a Deadline QoS set
// scans its matched writers for missed deadlines. A var, not a const,
// so tests can shorten it.
var DeadlineCheckPeriod = 1 * time.Second

// Demuxer receives raw datagrams read off the participant's sockets
// and is responsible for parsing and dispatching them (the
// MessageReceiver). The reactor package only owns the poll loop; it
// never parses RTPS itself.
type Demuxer interface {
	HandleDatagram(src *net.UDPAddr, data []byte)
}

type inboundDatagram struct {
	socketToken Token
	src         *net.UDPAddr
	data        []byte
}

// AckNackEvent is forwarded from the Demuxer to the owning writer's
// event-loop-side handler: a submessage addressed to a writer
// (ACKNACK/NACK_FRAG) is forwarded to it via the event loop's
// internal channel.
type AckNackEvent struct {
	WriterEntityId guid.EntityId
	ReaderGuid     guid.Guid
	AckNack        wire.AckNack
}

// Loop is the participant's single-threaded event loop.
type Loop struct {
	sockets map[Token]*transport.Socket
	demux   Demuxer

	readers map[guid.EntityId]*rtpsreader.Reader
	writers map[guid.EntityId]*rtpswriter.Writer

	timers *TimerQueue

	inbound          chan inboundDatagram
	addReaderCh      chan *rtpsreader.Reader
	removeReaderCh   chan guid.EntityId
	addWriterCh      chan *rtpswriter.Writer
	removeWriterCh   chan guid.EntityId
	writerReadyCh    chan guid.EntityId
	discoveryNotify  chan func(*Loop)
	ackNackForward   chan AckNackEvent
	stopCh           chan struct{}
	stopped          chan struct{}

	outbound      Token
	preparingStop bool
}

// New creates a Loop polling the given fixed sockets and dispatching
// inbound datagrams to demux. Sockets is keyed by one of the fixed
// source tokens (TokenSpdpMulticastSocket, etc.). Outgoing traffic
// defaults to TokenUserUnicastSocket; a loop driving metatraffic
// (discovery) calls SetOutboundSocket(TokenSpdpUnicastSocket) after
// construction.
func New(sockets map[Token]*transport.Socket, demux Demuxer) *Loop {
	return &Loop{
		sockets:         sockets,
		demux:           demux,
		readers:         make(map[guid.EntityId]*rtpsreader.Reader),
		writers:         make(map[guid.EntityId]*rtpswriter.Writer),
		timers:          NewTimerQueue(),
		inbound:         make(chan inboundDatagram, 100),
		addReaderCh:     make(chan *rtpsreader.Reader, 100),
		removeReaderCh:  make(chan guid.EntityId, 100),
		addWriterCh:     make(chan *rtpswriter.Writer, 100),
		removeWriterCh:  make(chan guid.EntityId, 100),
		writerReadyCh:   make(chan guid.EntityId, 100),
		discoveryNotify: make(chan func(*Loop), 32),
		ackNackForward:  make(chan AckNackEvent, 100),
		stopCh:          make(chan struct{}),
		stopped:         make(chan struct{}),
		outbound:        TokenUserUnicastSocket,
	}
}

// SetOutboundSocket overrides which bound socket Send/send writes to.
func (l *Loop) SetOutboundSocket(t Token) { l.outbound = t }

// AddReader enqueues a reader addition; blocks if the channel is at
// capacity, since this is a critical-path channel that must never
// silently drop work.
func (l *Loop) AddReader(r *rtpsreader.Reader) { l.addReaderCh <- r }

// RemoveReader enqueues a reader removal by EntityId.
func (l *Loop) RemoveReader(id guid.EntityId) { l.removeReaderCh <- id }

// AddWriter enqueues a writer addition.
func (l *Loop) AddWriter(w *rtpswriter.Writer) { l.addWriterCh <- w }

// RemoveWriter enqueues a writer removal by EntityId.
func (l *Loop) RemoveWriter(id guid.EntityId) { l.removeWriterCh <- id }

// NotifyWriterReady enqueues a drain request for the writer identified
// by id: a sample was just appended to its HistoryCache and every
// matched reader's unsent backlog should be flushed onto the wire.
// Safe to call from any goroutine — DataWriter.Write, Sedp's announce
// methods, and SecureDiscovery's handshake sends all call this after
// writing to a writer they don't otherwise have loop access to mutate.
func (l *Loop) NotifyWriterReady(id guid.EntityId) { l.writerReadyCh <- id }

// NotifyDiscovery enqueues a closure the discovery thread built to
// apply a match/unmatch/lease-expiry event on the loop goroutine,
// e.g. calling Writer.AddMatchedReader. On a full channel the
// producer blocks; discovery notifications are not a path we can
// silently drop.
func (l *Loop) NotifyDiscovery(f func(*Loop)) { l.discoveryNotify <- f }

// ForwardAckNack is called by the Demuxer when an inbound ACKNACK or
// NACK_FRAG resolves to a locally owned writer.
func (l *Loop) ForwardAckNack(ev AckNackEvent) { l.ackNackForward <- ev }

// dispatchDatagram is called by socket reader goroutines.
func (l *Loop) dispatchDatagram(token Token, src *net.UDPAddr, data []byte) {
	l.inbound <- inboundDatagram{socketToken: token, src: src, data: data}
}

// Writers exposes the loop's writer table for ACKNACK forwarding and
// heartbeat/nack-response scheduling callbacks.
func (l *Loop) Writers() map[guid.EntityId]*rtpswriter.Writer { return l.writers }

// Readers exposes the loop's reader table.
func (l *Loop) Readers() map[guid.EntityId]*rtpsreader.Reader { return l.readers }

// Timers exposes the loop's timer queue so external callers building
// NotifyDiscovery closures can schedule a newly matched entity's
// first heartbeat/deadline timer.
func (l *Loop) Timers() *TimerQueue { return l.timers }

// Run starts the poller goroutines and blocks processing events until
// Stop is called. Callers run this on a dedicated goroutine.
func (l *Loop) Run() {
	defer close(l.stopped)

	for token, sock := range l.sockets {
		go l.readLoop(token, sock)
	}

	l.schedulePreemptiveAckNacks()

	for {
		var timerC <-chan time.Time
		if deadline, ok := l.timers.NextDeadline(); ok {
			wait := time.Until(deadline)
			if wait < 0 {
				wait = 0
			}
			if wait > PollTimeout {
				wait = PollTimeout
			}
			timerC = time.After(wait)
		} else {
			timerC = time.After(PollTimeout)
		}

		select {
		case dg := <-l.inbound:
			l.demux.HandleDatagram(dg.src, dg.data)

		case r := <-l.addReaderCh:
			l.readers[r.Guid.EntityId] = r
			l.scheduleDeadlineCheck(r)

		case id := <-l.removeReaderCh:
			if _, ok := l.readers[id]; !ok {
				l.logUnknownEntity("reader", id)
				continue
			}
			l.timers.Cancel(TimerToken(id, TimerDeadline))
			delete(l.readers, id)

		case w := <-l.addWriterCh:
			l.writers[w.Guid.EntityId] = w
			l.DrainWriter(w.Guid.EntityId)
			l.scheduleHeartbeat(w)

		case id := <-l.removeWriterCh:
			if _, ok := l.writers[id]; !ok {
				l.logUnknownEntity("writer", id)
				continue
			}
			l.timers.Cancel(TimerToken(id, TimerHeartbeat))
			delete(l.writers, id)

		case id := <-l.writerReadyCh:
			l.DrainWriter(id)

		case f := <-l.discoveryNotify:
			f(l)

		case ev := <-l.ackNackForward:
			w, ok := l.writers[ev.WriterEntityId]
			if !ok {
				l.logUnknownEntity("writer", ev.WriterEntityId)
				continue
			}
			if w.HandleAckNackFrom(ev.ReaderGuid, ev.AckNack) {
				l.ScheduleNackResponse(ev.WriterEntityId, w, ev.ReaderGuid)
			}

		case now := <-timerC:
			l.timers.FireDue(now)

		case <-l.stopCh:
			return
		}
	}
}

// ScheduleNackResponse arranges for w's pending requested changes to
// readerGuid to be resent after its nack-response delay. Safe to call
// from the Demuxer, which runs on the loop's own goroutine.
func (l *Loop) ScheduleNackResponse(writerEntityId guid.EntityId, w *rtpswriter.Writer, readerGuid guid.Guid) {
	l.timers.Schedule(TimerToken(writerEntityId, TimerNackResponse),
		time.Now().Add(w.NackResponseDelay()),
		func() { l.runNackResponse(w, readerGuid) })
}

func (l *Loop) runNackResponse(w *rtpswriter.Writer, readerGuid guid.Guid) {
	out, ok := w.NackResponse(readerGuid)
	if !ok {
		return
	}
	l.send(out.Locators, wire.NewHeaderFor(w.Guid.Prefix), out.Submessages)
}

// DrainWriter sends every DATA a matched reader of writer id is still
// owed, built by Writer.DrainUnsent. Called both from a
// NotifyWriterReady request and right after a writer is registered, so
// a sample written before the writer had any matched readers still
// goes out as soon as a match exists.
func (l *Loop) DrainWriter(id guid.EntityId) {
	w, ok := l.writers[id]
	if !ok {
		l.logUnknownEntity("writer", id)
		return
	}
	for _, out := range w.DrainUnsent() {
		l.send(out.Locators, wire.NewHeaderFor(w.Guid.Prefix), out.Submessages)
	}
}

// scheduleHeartbeat arranges for w's next periodic HEARTBEAT, and
// reschedules itself each time it fires. A non-reliable writer is
// never scheduled.
func (l *Loop) scheduleHeartbeat(w *rtpswriter.Writer) {
	if !w.IsReliable() {
		return
	}
	l.timers.Schedule(TimerToken(w.Guid.EntityId, TimerHeartbeat),
		time.Now().Add(w.HeartbeatPeriod()),
		func() { l.runHeartbeat(w) })
}

func (l *Loop) runHeartbeat(w *rtpswriter.Writer) {
	if _, ok := l.writers[w.Guid.EntityId]; !ok {
		return
	}
	for _, out := range w.DrainUnsent() {
		l.send(out.Locators, wire.NewHeaderFor(w.Guid.Prefix), out.Submessages)
	}
	if hb, locators, ok := w.PendingHeartbeat(); ok {
		l.send(locators, wire.NewHeaderFor(w.Guid.Prefix), []wire.Submessage{hb})
	}
	l.scheduleHeartbeat(w)
}

// scheduleDeadlineCheck arranges for r's next Deadline QoS scan, and
// reschedules itself each time it fires. A reader with no Deadline set
// is never scheduled.
func (l *Loop) scheduleDeadlineCheck(r *rtpsreader.Reader) {
	if r.Policies.Deadline <= 0 {
		return
	}
	l.timers.Schedule(TimerToken(r.Guid.EntityId, TimerDeadline),
		time.Now().Add(DeadlineCheckPeriod),
		func() { l.runDeadlineCheck(r) })
}

func (l *Loop) runDeadlineCheck(r *rtpsreader.Reader) {
	if _, ok := l.readers[r.Guid.EntityId]; !ok {
		return
	}
	for _, writerGuid := range r.DeadlineMissed(time.Now()) {
		if r.OnDeadlineMissed != nil {
			r.OnDeadlineMissed(writerGuid)
		} else {
			log.Printf("reactor: reader %v missed requested deadline from writer %v", r.Guid, writerGuid)
		}
	}
	l.scheduleDeadlineCheck(r)
}

// schedulePreemptiveAckNacks arranges for the next global pre-emptive
// ACKNACK sweep, a single fixed timer shared by every matched reader
// rather than one per reader, since its purpose is periodic rendezvous
// rather than per-entity reliability bookkeeping.
func (l *Loop) schedulePreemptiveAckNacks() {
	l.timers.Schedule(TokenPreemptiveAckNackTimer, time.Now().Add(PreemptiveAckNackPeriod), l.runPreemptiveAckNacks)
}

func (l *Loop) runPreemptiveAckNacks() {
	for _, r := range l.readers {
		for _, out := range r.PreemptiveAckNacks() {
			l.send(out.Locators, wire.NewHeaderFor(r.Guid.Prefix), out.Submessages)
		}
	}
	l.schedulePreemptiveAckNacks()
}

// Send transmits subs to every locator in locators using the loop's
// outbound socket (TokenUserUnicastSocket unless SetOutboundSocket
// chose another). Callers running on the loop's own
// goroutine (the Demuxer, or a NotifyDiscovery closure) may call this
// directly; no channel hop is needed since they already execute
// inside Run's select loop.
func (l *Loop) Send(locators []guid.Locator, header wire.Header, subs []wire.Submessage) {
	l.send(locators, header, subs)
}

func (l *Loop) send(locators []guid.Locator, header wire.Header, subs []wire.Submessage) {
	wireBytes := wire.Marshal(header, subs)
	sock, ok := l.sockets[l.outbound]
	if !ok {
		return
	}
	for _, loc := range locators {
		if _, err := sock.SendTo(wireBytes, loc.UDPAddr()); err != nil {
			log.Printf("reactor: send to %v: %v", loc, err)
		}
	}
}

func (l *Loop) logUnknownEntity(kind string, id guid.EntityId) {
	if l.preparingStop {
		return
	}
	log.Printf("reactor: event for unknown %s entity %s", kind, id)
}

// PrepareStop suppresses "event for unknown entity" logging during
// teardown, when in-flight commands may race entity removal.
func (l *Loop) PrepareStop() { l.preparingStop = true }

// Stop requests the loop return; it does not block until the loop
// goroutine has actually exited — call Wait for that.
func (l *Loop) Stop() { close(l.stopCh) }

// Wait blocks until Run has returned.
func (l *Loop) Wait() { <-l.stopped }

func (l *Loop) readLoop(token Token, sock *transport.Socket) {
	buf := make([]byte, 65536)
	for {
		n, src, err := sock.ReadFrom(buf)
		if err != nil {
			select {
			case <-l.stopCh:
				return
			default:
			}
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case <-l.stopCh:
			return
		default:
			l.dispatchDatagram(token, src, data)
		}
	}
}
