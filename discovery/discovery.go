package discovery

import (
	"log"
	"sync"
	"time"

	"github.com/dds-go/rtps/guid"
	"github.com/dds-go/rtps/transport"
)

// DefaultLeaseCheckPeriod bounds how stale a dropped participant's
// eviction can be relative to its announced lease duration.
const DefaultLeaseCheckPeriod = 2 * time.Second

// Config is everything Discovery needs to bring up SPDP and SEDP for
// one local participant.
type Config struct {
	LocalPrefix        guid.GuidPrefix
	SpdpMulticastSocket *transport.Socket
	SpdpMulticastGroup  guid.Locator
	MetatrafficUnicastSocket *transport.Socket
	LocalParticipantData     DiscoveredParticipantData
	LeaseCheckPeriod         time.Duration
}

// Discovery wires SPDP, SEDP, and the participant message liveliness
// protocol onto the shared DB, and runs the lease-expiry sweep that
// turns a silent participant into a ParticipantLost callback. It is
// the single object a participant facade needs to start and stop to
// get the whole discovery subsystem running on its own thread.
type Discovery struct {
	DB   *DB
	Spdp *Spdp
	Sedp *Sedp

	leaseCheckPeriod time.Duration

	// OnParticipantLost fires once a remote participant's lease has
	// elapsed with no renewed SPDP announcement or liveliness
	// assertion; a participant facade uses this to drop matches on
	// its own user-data event loop.
	OnParticipantLost func(guid.GuidPrefix)

	// OnParticipantDiscovered fires the first time SPDP reports a
	// remote participant, after Sedp has already been matched against
	// it. A participant facade with security enabled uses this to
	// offer a handshake to the new remote.
	OnParticipantDiscovered func(DiscoveredParticipantData)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds Spdp and Sedp for the given configuration, wiring Sedp's
// discovery-driven matching to fire automatically whenever Spdp
// reports a newly seen remote participant. A refreshed announcement
// from an already known participant does not re-run matching.
func New(cfg Config) *Discovery {
	db := NewDB()
	sedp := NewSedp(cfg.LocalPrefix, cfg.MetatrafficUnicastSocket, db)

	d := &Discovery{
		DB:               db,
		Sedp:             sedp,
		leaseCheckPeriod: cfg.LeaseCheckPeriod,
		stopCh:           make(chan struct{}),
	}
	if d.leaseCheckPeriod <= 0 {
		d.leaseCheckPeriod = DefaultLeaseCheckPeriod
	}

	d.Spdp = NewSpdp(cfg.LocalPrefix, cfg.SpdpMulticastSocket, cfg.SpdpMulticastGroup, cfg.LocalParticipantData, db, d.onSpdpDiscovered)
	return d
}

func (d *Discovery) onSpdpDiscovered(pd DiscoveredParticipantData, isNew bool) {
	if isNew {
		log.Printf("discovery: new participant %v", pd.ParticipantGuid.Prefix)
		d.Sedp.AddMatchedParticipant(pd)
		if d.OnParticipantDiscovered != nil {
			d.OnParticipantDiscovered(pd)
		}
	}
}

// Run starts Spdp, Sedp, and the lease-expiry sweep, blocking until
// Stop is called. Callers run this on a dedicated goroutine.
func (d *Discovery) Run() {
	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		d.Sedp.Run()
	}()
	go func() {
		defer d.wg.Done()
		d.Spdp.Run()
	}()
	d.sweepLeases()
}

func (d *Discovery) sweepLeases() {
	ticker := time.NewTicker(d.leaseCheckPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, prefix := range d.DB.ExpiredParticipants(time.Now()) {
				log.Printf("discovery: participant %v lease expired", prefix)
				d.DB.RemoveParticipant(prefix)
				d.Sedp.RemoveMatchedParticipant(prefix)
				if d.OnParticipantLost != nil {
					d.OnParticipantLost(prefix)
				}
			}
		case <-d.stopCh:
			return
		}
	}
}

// Stop requests Spdp, Sedp, and the lease sweep all return, and
// blocks until they have.
func (d *Discovery) Stop() {
	d.Spdp.Stop()
	d.Sedp.Stop()
	close(d.stopCh)
	d.Spdp.Wait()
	d.wg.Wait()
}
