package discovery

import (
	"log"
	"time"

	"github.com/dds-go/rtps/guid"
	"github.com/dds-go/rtps/history"
	"github.com/dds-go/rtps/qos"
	"github.com/dds-go/rtps/reactor"
	"github.com/dds-go/rtps/receiver"
	"github.com/dds-go/rtps/rtpsreader"
	"github.com/dds-go/rtps/rtpswriter"
	"github.com/dds-go/rtps/transport"
	"github.com/dds-go/rtps/wire"
)

// sedpPolicies is the fixed reliable/transient-local QoS every SEDP
// and ParticipantMessage built-in endpoint runs, RTPS 2.3 8.4.13.
func sedpPolicies() qos.Policies {
	p := qos.Default()
	p.Reliability = qos.Reliability{Kind: qos.Reliable}
	p.Durability = qos.TransientLocal
	p.History = qos.History{Kind: qos.KeepLast, Depth: 1}
	return p
}

// Sedp runs endpoint discovery (SEDP) and the participant message
// liveliness protocol on their own event loop and metatraffic
// unicast socket, separate from the participant's user-data loop:
// discovery gets a dedicated thread with its own poller so a burst
// of metatraffic never delays user data.
type Sedp struct {
	loop *reactor.Loop
	recv *receiver.Receiver

	localPrefix guid.GuidPrefix

	pubWriter   *rtpswriter.Writer
	pubReader   *rtpsreader.Reader
	subWriter   *rtpswriter.Writer
	subReader   *rtpsreader.Reader
	topicWriter *rtpswriter.Writer
	topicReader *rtpsreader.Reader
	pmWriter    *rtpswriter.Writer
	pmReader    *rtpsreader.Reader

	db *DB

	// OnRemotePublication, OnRemoteSubscription and OnRemoteTopic fire
	// once per newly decoded SEDP sample, after db has already been
	// updated; a participant wires these to its own QoS matching
	// against locally owned endpoints.
	OnRemotePublication  func(PublicationData)
	OnRemoteSubscription func(SubscriptionData)
	OnRemoteTopic        func(TopicData)

	// OnParticipantLivelinessAsserted fires on a decoded
	// ParticipantMessage sample, refreshing db's lease tracking for
	// MANUAL_BY_PARTICIPANT liveliness independent of SPDP traffic.
	OnParticipantLivelinessAsserted func(guid.GuidPrefix)
}

// NewSedp builds the metatraffic event loop and the three SEDP
// built-in endpoint pairs plus the ParticipantMessage pair, bound to
// metatrafficUnicast for both send and receive.
func NewSedp(localPrefix guid.GuidPrefix, metatrafficUnicast *transport.Socket, db *DB) *Sedp {
	recv := receiver.New(localPrefix)
	sockets := map[reactor.Token]*transport.Socket{reactor.TokenSpdpUnicastSocket: metatrafficUnicast}
	loop := reactor.New(sockets, recv)
	loop.SetOutboundSocket(reactor.TokenSpdpUnicastSocket)
	recv.SetLoop(loop)

	s := &Sedp{loop: loop, recv: recv, localPrefix: localPrefix, db: db}

	pubCache := history.NewTopicCache("DCPSPublication", "PublicationBuiltinTopicData", sedpPolicies().History, qos.ResourceLimits{})
	subCache := history.NewTopicCache("DCPSSubscription", "SubscriptionBuiltinTopicData", sedpPolicies().History, qos.ResourceLimits{})
	topicCache := history.NewTopicCache("DCPSTopic", "TopicBuiltinTopicData", sedpPolicies().History, qos.ResourceLimits{})
	pmCache := history.NewTopicCache("DCPSParticipantMessage", "ParticipantMessageData", sedpPolicies().History, qos.ResourceLimits{})

	s.pubWriter = rtpswriter.New(guid.New(localPrefix, guid.EntityIdSedpBuiltinPublicationsWriter), pubCache.Name, pubCache.TypeName, sedpPolicies())
	s.pubReader = rtpsreader.New(guid.New(localPrefix, guid.EntityIdSedpBuiltinPublicationsReader), pubCache.Name, pubCache.TypeName, sedpPolicies(), pubCache)
	s.pubReader.OnSample = s.onPublicationSample

	s.subWriter = rtpswriter.New(guid.New(localPrefix, guid.EntityIdSedpBuiltinSubscriptionsWriter), subCache.Name, subCache.TypeName, sedpPolicies())
	s.subReader = rtpsreader.New(guid.New(localPrefix, guid.EntityIdSedpBuiltinSubscriptionsReader), subCache.Name, subCache.TypeName, sedpPolicies(), subCache)
	s.subReader.OnSample = s.onSubscriptionSample

	s.topicWriter = rtpswriter.New(guid.New(localPrefix, guid.EntityIdSedpBuiltinTopicsWriter), topicCache.Name, topicCache.TypeName, sedpPolicies())
	s.topicReader = rtpsreader.New(guid.New(localPrefix, guid.EntityIdSedpBuiltinTopicsReader), topicCache.Name, topicCache.TypeName, sedpPolicies(), topicCache)
	s.topicReader.OnSample = s.onTopicSample

	s.pmWriter = rtpswriter.New(guid.New(localPrefix, guid.EntityIdParticipantMessageWriter), pmCache.Name, pmCache.TypeName, sedpPolicies())
	s.pmReader = rtpsreader.New(guid.New(localPrefix, guid.EntityIdParticipantMessageReader), pmCache.Name, pmCache.TypeName, sedpPolicies(), pmCache)
	s.pmReader.OnSample = s.onParticipantMessageSample

	for _, w := range []*rtpswriter.Writer{s.pubWriter, s.subWriter, s.topicWriter, s.pmWriter} {
		loop.AddWriter(w)
	}
	for _, r := range []*rtpsreader.Reader{s.pubReader, s.subReader, s.topicReader, s.pmReader} {
		loop.AddReader(r)
	}
	return s
}

// SetSecurity installs the secure-message codec on this loop's
// receiver, letting SEDP and ParticipantMessage traffic run encrypted
// once a participant's security plugin has authenticated the remote
// side.
func (s *Sedp) SetSecurity(sec receiver.Security) { s.recv.SetSecurity(sec) }

// Loop returns the metatraffic event loop SEDP and ParticipantMessage
// run on, so a participant facade can register additional built-in
// endpoints (e.g. security's handshake writer/reader) that must share
// the same metatraffic unicast socket and locators.
func (s *Sedp) Loop() *reactor.Loop { return s.loop }

// Run blocks processing the metatraffic event loop until Stop is
// called. Callers run this on a dedicated goroutine.
func (s *Sedp) Run() { s.loop.Run() }

// Stop requests the metatraffic loop return and blocks until it has.
func (s *Sedp) Stop() {
	s.loop.PrepareStop()
	s.loop.Stop()
	s.loop.Wait()
}

func keyFromGuid(g guid.Guid) history.KeyHash {
	var k history.KeyHash
	copy(k[:], g.Bytes())
	return k
}

// AddMatchedParticipant wires this participant's SEDP and
// ParticipantMessage endpoints to a newly discovered remote
// participant's counterparts. SEDP endpoint GUIDs never need their
// own matching handshake: they are well-known EntityIds derived from
// the remote prefix SPDP just announced.
func (s *Sedp) AddMatchedParticipant(pd DiscoveredParticipantData) {
	s.loop.NotifyDiscovery(func(*reactor.Loop) {
		prefix := pd.ParticipantGuid.Prefix
		unicast, multicast := pd.MetatrafficUnicastLocators, pd.MetatrafficMulticastLocators

		s.pubWriter.AddMatchedReader(guid.New(prefix, guid.EntityIdSedpBuiltinPublicationsReader), unicast, multicast, qos.Reliable, false)
		s.pubReader.AddMatchedWriter(guid.New(prefix, guid.EntityIdSedpBuiltinPublicationsWriter), unicast, multicast)

		s.subWriter.AddMatchedReader(guid.New(prefix, guid.EntityIdSedpBuiltinSubscriptionsReader), unicast, multicast, qos.Reliable, false)
		s.subReader.AddMatchedWriter(guid.New(prefix, guid.EntityIdSedpBuiltinSubscriptionsWriter), unicast, multicast)

		s.topicWriter.AddMatchedReader(guid.New(prefix, guid.EntityIdSedpBuiltinTopicsReader), unicast, multicast, qos.Reliable, false)
		s.topicReader.AddMatchedWriter(guid.New(prefix, guid.EntityIdSedpBuiltinTopicsWriter), unicast, multicast)

		s.pmWriter.AddMatchedReader(guid.New(prefix, guid.EntityIdParticipantMessageReader), unicast, multicast, qos.Reliable, false)
		s.pmReader.AddMatchedWriter(guid.New(prefix, guid.EntityIdParticipantMessageWriter), unicast, multicast)
	})
}

// RemoveMatchedParticipant drops a lost participant's SEDP and
// ParticipantMessage matches, undoing AddMatchedParticipant.
func (s *Sedp) RemoveMatchedParticipant(prefix guid.GuidPrefix) {
	s.loop.NotifyDiscovery(func(*reactor.Loop) {
		s.pubWriter.RemoveMatchedReader(guid.New(prefix, guid.EntityIdSedpBuiltinPublicationsReader))
		s.pubReader.RemoveMatchedWriter(guid.New(prefix, guid.EntityIdSedpBuiltinPublicationsWriter))
		s.subWriter.RemoveMatchedReader(guid.New(prefix, guid.EntityIdSedpBuiltinSubscriptionsReader))
		s.subReader.RemoveMatchedWriter(guid.New(prefix, guid.EntityIdSedpBuiltinSubscriptionsWriter))
		s.topicWriter.RemoveMatchedReader(guid.New(prefix, guid.EntityIdSedpBuiltinTopicsReader))
		s.topicReader.RemoveMatchedWriter(guid.New(prefix, guid.EntityIdSedpBuiltinTopicsWriter))
		s.pmWriter.RemoveMatchedReader(guid.New(prefix, guid.EntityIdParticipantMessageReader))
		s.pmReader.RemoveMatchedWriter(guid.New(prefix, guid.EntityIdParticipantMessageWriter))
	})
}

// AnnouncePublication publishes a local DataWriter's description to
// every matched remote SEDP subscriptions reader.
func (s *Sedp) AnnouncePublication(p PublicationData) error {
	pl := MarshalPublicationData(p)
	_, err := s.pubWriter.Write(history.KindData, keyFromGuid(p.EndpointGuid), wire.EncodePLCDR(pl, false), time.Now())
	if err == nil {
		s.loop.NotifyWriterReady(s.pubWriter.Guid.EntityId)
	}
	return err
}

// AnnounceSubscription publishes a local DataReader's description.
func (s *Sedp) AnnounceSubscription(sub SubscriptionData) error {
	pl := MarshalSubscriptionData(sub)
	_, err := s.subWriter.Write(history.KindData, keyFromGuid(sub.EndpointGuid), wire.EncodePLCDR(pl, false), time.Now())
	if err == nil {
		s.loop.NotifyWriterReady(s.subWriter.Guid.EntityId)
	}
	return err
}

// AnnounceTopic publishes a local topic definition.
func (s *Sedp) AnnounceTopic(t TopicData) error {
	pl := MarshalTopicData(t)
	_, err := s.topicWriter.Write(history.KindData, keyFromGuid(t.EndpointGuid), wire.EncodePLCDR(pl, false), time.Now())
	if err == nil {
		s.loop.NotifyWriterReady(s.topicWriter.Guid.EntityId)
	}
	return err
}

func (s *Sedp) onPublicationSample(sample history.Sample) {
	pl, err := wire.DecodePLCDR(sample.Payload)
	if err != nil {
		log.Printf("discovery: sedp publication payload: %v", err)
		return
	}
	p, err := UnmarshalPublicationData(pl)
	if err != nil {
		log.Printf("discovery: sedp publication decode: %v", err)
		return
	}
	s.db.UpsertPublication(p)
	if s.OnRemotePublication != nil {
		s.OnRemotePublication(p)
	}
}

func (s *Sedp) onSubscriptionSample(sample history.Sample) {
	pl, err := wire.DecodePLCDR(sample.Payload)
	if err != nil {
		log.Printf("discovery: sedp subscription payload: %v", err)
		return
	}
	sub, err := UnmarshalSubscriptionData(pl)
	if err != nil {
		log.Printf("discovery: sedp subscription decode: %v", err)
		return
	}
	s.db.UpsertSubscription(sub)
	if s.OnRemoteSubscription != nil {
		s.OnRemoteSubscription(sub)
	}
}

func (s *Sedp) onTopicSample(sample history.Sample) {
	pl, err := wire.DecodePLCDR(sample.Payload)
	if err != nil {
		log.Printf("discovery: sedp topic payload: %v", err)
		return
	}
	t, err := UnmarshalTopicData(pl)
	if err != nil {
		log.Printf("discovery: sedp topic decode: %v", err)
		return
	}
	s.db.UpsertTopic(t)
	if s.OnRemoteTopic != nil {
		s.OnRemoteTopic(t)
	}
}
