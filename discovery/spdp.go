package discovery

import (
	"log"
	"sync"
	"time"

	"github.com/dds-go/rtps/guid"
	"github.com/dds-go/rtps/transport"
	"github.com/dds-go/rtps/wire"
)

// DefaultSpdpPeriod is how often a participant re-announces itself,
// the RTPS-recommended default.
const DefaultSpdpPeriod = 5 * time.Second

// Spdp runs the best-effort, stateless participant announcement and
// discovery protocol: periodic multicast of this participant's
// DiscoveredParticipantData, and passive listening for everyone
// else's. Unlike SEDP it never matches readers to writers — any
// datagram that decodes is accepted regardless of whether its sender
// was known before.
type Spdp struct {
	localPrefix guid.GuidPrefix
	multicast   *transport.Socket

	data   DiscoveredParticipantData
	nextSN guid.SequenceNumber
	period time.Duration

	db           *DB
	onDiscovered func(DiscoveredParticipantData, bool)

	multicastGroup *guid.Locator

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSpdp creates an Spdp driver. multicast must already have joined
// the SPDP multicast group; multicastGroup is the locator announcements
// are sent to. The metatraffic unicast socket is not used here: it
// belongs to the SEDP/ParticipantMessage reactor.Loop, since SPDP's
// wire protocol is defined as multicast-only.
func NewSpdp(localPrefix guid.GuidPrefix, multicast *transport.Socket, multicastGroup guid.Locator, data DiscoveredParticipantData, db *DB, onDiscovered func(DiscoveredParticipantData, bool)) *Spdp {
	return &Spdp{
		localPrefix:    localPrefix,
		multicast:      multicast,
		data:           data,
		nextSN:         guid.First,
		period:         DefaultSpdpPeriod,
		db:             db,
		onDiscovered:   onDiscovered,
		multicastGroup: &multicastGroup,
		stopCh:         make(chan struct{}),
	}
}

// SetPeriod overrides the default 5s announce period.
func (s *Spdp) SetPeriod(d time.Duration) { s.period = d }

// Run starts the announce ticker and the multicast listen loop,
// blocking until Stop is called. Callers run this on a dedicated
// goroutine.
func (s *Spdp) Run() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.listen(s.multicast)
	}()

	s.announceOnce()
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.announceOnce()
		case <-s.stopCh:
			return
		}
	}
}

// Stop requests the announce loop and the listen loop return. It
// also sets an immediate read deadline on the multicast socket, so
// the listen loop's blocking ReadFrom returns without waiting for the
// socket to be closed.
func (s *Spdp) Stop() {
	close(s.stopCh)
	if s.multicast != nil {
		s.multicast.Conn.SetReadDeadline(time.Now())
	}
}

// Wait blocks until every goroutine Run started has exited.
func (s *Spdp) Wait() { s.wg.Wait() }

// AnnounceNow sends one SPDP announcement immediately, e.g. right
// after a local endpoint is created so peers learn of the updated
// builtin endpoint set without waiting a full period.
func (s *Spdp) AnnounceNow() { s.announceOnce() }

func (s *Spdp) announceOnce() {
	pl := MarshalParticipantData(s.data)
	payload := wire.EncodePLCDR(pl, false)
	d := wire.Data{
		ReaderId:   guid.Unknown,
		WriterId:   guid.EntityIdSpdpBuiltinParticipantWriter,
		WriterSN:   s.nextSN,
		HasPayload: true,
		Payload:    payload,
	}
	s.nextSN++
	header := wire.NewHeaderFor(s.localPrefix)
	raw := wire.Marshal(header, []wire.Submessage{d})
	if _, err := s.multicast.SendTo(raw, s.multicastGroup.UDPAddr()); err != nil {
		log.Printf("discovery: spdp announce: %v", err)
	}
}

func (s *Spdp) listen(sock *transport.Socket) {
	buf := make([]byte, 65536)
	for {
		n, _, err := sock.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				continue
			}
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.handleDatagram(data)
	}
}

func (s *Spdp) handleDatagram(raw []byte) {
	header, subs, err := wire.Parse(raw)
	if err != nil {
		return
	}
	if header.GuidPrefix == s.localPrefix {
		return
	}
	for _, sm := range subs {
		d, ok := sm.(wire.Data)
		if !ok || d.WriterId != guid.EntityIdSpdpBuiltinParticipantWriter || !d.HasPayload {
			continue
		}
		pl, err := wire.DecodePLCDR(d.Payload)
		if err != nil {
			log.Printf("discovery: spdp payload decode: %v", err)
			continue
		}
		pd, err := UnmarshalParticipantData(pl)
		if err != nil {
			log.Printf("discovery: spdp payload unmarshal: %v", err)
			continue
		}
		isNew := s.db.UpsertParticipant(pd, time.Now())
		if s.onDiscovered != nil {
			s.onDiscovered(pd, isNew)
		}
	}
}
