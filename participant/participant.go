// Package participant implements the DomainParticipant facade: the
// object an application creates once per process to join a domain,
// from which every publisher, subscriber, and topic is created. It
// owns two threads — the user-data reactor.Loop and the discovery
// subsystem — and wires discovery's match events onto the user-data
// loop via NotifyDiscovery so every RTPS entity's state only ever
// changes on its own goroutine.
package participant

import (
	"crypto/rand"
	"log"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/dds-go/rtps/discovery"
	"github.com/dds-go/rtps/guid"
	"github.com/dds-go/rtps/reactor"
	"github.com/dds-go/rtps/receiver"
	"github.com/dds-go/rtps/security"
	"github.com/dds-go/rtps/transport"
	"github.com/dds-go/rtps/wire"
)

// Config configures a DomainParticipant at creation time.
type Config struct {
	DomainId uint16

	// LeaseDuration is how long this participant's SPDP announcement
	// tells remote participants to wait before declaring it dead.
	LeaseDuration time.Duration

	// SpdpPeriod overrides discovery.DefaultSpdpPeriod.
	SpdpPeriod time.Duration

	// MulticastInterfaces restricts which NICs join the SPDP multicast
	// group; nil means every multicast-capable interface up.
	MulticastInterfaces []net.Interface
}

func (c Config) withDefaults() Config {
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 100 * time.Second
	}
	return c
}

// Participant is a DomainParticipant: the application's entry point
// into one DDS domain.
type Participant struct {
	domain      uint16
	guidPrefix  guid.GuidPrefix
	ports       transport.Ports
	index       int

	userLoop *reactor.Loop
	userRecv *receiver.Receiver

	disc *discovery.Discovery

	topics *topicRegistry

	sockets []*transport.Socket

	security       *security.SecureDiscovery
	accessControl  *security.BuiltinAccessControl
	cancelSecurity func()

	mu     sync.Mutex
	closed bool

	group  *errgroup.Group
	cancel func()
}

func newGuidPrefix() (guid.GuidPrefix, error) {
	var p guid.GuidPrefix
	if _, err := rand.Read(p[:]); err != nil {
		return p, errors.Wrap(err, "participant: generating guid prefix")
	}
	return p, nil
}

// New creates a DomainParticipant on the given domain: it binds a
// participant index, its four discovery/user-data sockets, starts
// the user-data event loop and the discovery subsystem, and begins
// announcing itself over SPDP. Returns ErrOutOfResources if no
// participant index in [0, transport.MaxParticipantIndex] has a free
// SPDP unicast port.
func New(cfg Config) (*Participant, error) {
	cfg = cfg.withDefaults()

	index, ports, spdpUnicastSock, err := transport.BindParticipantIndex(cfg.DomainId)
	if err != nil {
		return nil, errors.Wrap(ErrOutOfResources, err.Error())
	}

	spdpMulticastSock, err := transport.Listen(ports.SpdpMulticast)
	if err != nil {
		return nil, errors.Wrap(err, "participant: binding spdp multicast socket")
	}
	if err := spdpMulticastSock.JoinMulticastV4(transport.SpdpMulticastGroup, cfg.MulticastInterfaces); err != nil {
		return nil, errors.Wrap(err, "participant: joining spdp multicast group")
	}

	userMulticastSock, err := transport.Listen(ports.UserMulticast)
	if err != nil {
		return nil, errors.Wrap(err, "participant: binding user multicast socket")
	}

	userUnicastSock, err := transport.Listen(ports.UserUnicast)
	if err != nil {
		return nil, errors.Wrap(err, "participant: binding user unicast socket")
	}

	prefix, err := newGuidPrefix()
	if err != nil {
		return nil, err
	}

	p := &Participant{
		domain:     cfg.DomainId,
		guidPrefix: prefix,
		ports:      ports,
		index:      index,
		topics:     newTopicRegistry(),
		sockets:    []*transport.Socket{spdpUnicastSock, spdpMulticastSock, userMulticastSock, userUnicastSock},
	}

	userRecv := receiver.New(prefix)
	userSockets := map[reactor.Token]*transport.Socket{
		reactor.TokenUserMulticastSocket: userMulticastSock,
		reactor.TokenUserUnicastSocket:   userUnicastSock,
	}
	p.userLoop = reactor.New(userSockets, userRecv)
	userRecv.SetLoop(p.userLoop)
	p.userRecv = userRecv

	localData := discovery.DiscoveredParticipantData{
		ParticipantGuid:           guid.New(prefix, guid.EntityIdParticipant),
		ProtocolVersion:           wire.Version23,
		VendorId:                  wire.VendorIdThisImplementation,
		AvailableBuiltinEndpoints: discovery.DefaultBuiltinEndpoints,
		MetatrafficUnicastLocators: []guid.Locator{guid.NewUDPv4(net.IPv4zero, uint16(ports.SpdpUnicast))},
		DefaultUnicastLocators:     []guid.Locator{guid.NewUDPv4(net.IPv4zero, uint16(ports.UserUnicast))},
		DefaultMulticastLocators:   []guid.Locator{guid.NewUDPv4(transport.SpdpMulticastGroup, uint16(ports.UserMulticast))},
		LeaseDuration:              cfg.LeaseDuration,
	}

	p.disc = discovery.New(discovery.Config{
		LocalPrefix:              prefix,
		SpdpMulticastSocket:      spdpMulticastSock,
		SpdpMulticastGroup:       guid.NewUDPv4(transport.SpdpMulticastGroup, uint16(ports.SpdpMulticast)),
		MetatrafficUnicastSocket: spdpUnicastSock,
		LocalParticipantData:     localData,
	})
	if cfg.SpdpPeriod > 0 {
		p.disc.Spdp.SetPeriod(cfg.SpdpPeriod)
	}
	p.disc.Sedp.OnRemotePublication = p.onRemotePublication
	p.disc.Sedp.OnRemoteSubscription = p.onRemoteSubscription
	p.disc.OnParticipantLost = p.onParticipantLost

	p.group = &errgroup.Group{}
	p.group.Go(func() error { p.userLoop.Run(); return nil })
	p.group.Go(func() error { p.disc.Run(); return nil })

	stop := make(chan struct{})
	p.cancel = func() { close(stop) }
	p.group.Go(func() error {
		p.disc.Sedp.RunLivelinessAssertions(discovery.DefaultParticipantMessagePeriod, stop)
		return nil
	})

	log.Printf("participant: domain %d index %d guid %v", cfg.DomainId, index, p.guidPrefix)
	return p, nil
}

// SetSecurity installs a secure-message codec on both the user-data
// loop's receiver and SEDP's receiver. Called once during startup
// after a DDS-security plugin has been constructed; the plugin itself
// is free to remain unset until its handshake partner is known.
func (p *Participant) SetSecurity(sec receiver.Security) {
	p.userRecv.SetSecurity(sec)
	p.disc.Sedp.SetSecurity(sec)
}

// Guid returns this participant's own GUID.
func (p *Participant) Guid() guid.Guid { return guid.New(p.guidPrefix, guid.EntityIdParticipant) }

// AssertLiveliness manually asserts ManualByParticipant liveliness for
// every locally owned writer whose Liveliness QoS is ManualByParticipant.
func (p *Participant) AssertLiveliness() error {
	return p.disc.Sedp.AssertLiveliness(discovery.ParticipantMessageManualLivelinessByParticipant)
}

// DiscoveredTopics returns every remote topic definition currently known.
func (p *Participant) DiscoveredTopics() []discovery.TopicData {
	return p.disc.DB.Topics()
}

func (p *Participant) onParticipantLost(prefix guid.GuidPrefix) {
	p.userLoop.NotifyDiscovery(func(l *reactor.Loop) {
		p.topics.dropRemotesFrom(l, prefix)
	})
}

// Close stops discovery, the user-data loop, and every socket this
// participant owns. It blocks until every goroutine New started has
// returned.
func (p *Participant) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoisoned
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	if p.cancelSecurity != nil {
		p.cancelSecurity()
	}
	p.disc.Stop()
	p.userLoop.PrepareStop()
	p.userLoop.Stop()
	p.userLoop.Wait()
	p.group.Wait()

	for _, s := range p.sockets {
		if err := s.Close(); err != nil {
			log.Printf("participant: closing socket: %v", err)
		}
	}
	return nil
}
