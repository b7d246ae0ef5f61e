package discovery

import (
	"sync"
	"time"

	"github.com/dds-go/rtps/guid"
)

// discoveredParticipant tracks one remote participant's latest SPDP
// announcement plus when it was last heard from, for lease expiry.
type discoveredParticipant struct {
	data     DiscoveredParticipantData
	lastSeen time.Time
}

// DB is the shared discovery state a participant's event-loop thread
// and discovery thread both read: every remote participant, writer,
// and reader currently known, guarded by a single RWMutex so readers
// on either thread never block each other.
type DB struct {
	mu sync.RWMutex

	participants map[guid.GuidPrefix]*discoveredParticipant
	publications  map[guid.Guid]PublicationData
	subscriptions map[guid.Guid]SubscriptionData
	topics        map[guid.Guid]TopicData
}

// NewDB creates an empty discovery database.
func NewDB() *DB {
	return &DB{
		participants:  make(map[guid.GuidPrefix]*discoveredParticipant),
		publications:  make(map[guid.Guid]PublicationData),
		subscriptions: make(map[guid.Guid]SubscriptionData),
		topics:        make(map[guid.Guid]TopicData),
	}
}

// UpsertParticipant records or refreshes a remote participant's SPDP
// data, reporting whether this is the first time it has been seen.
func (db *DB) UpsertParticipant(d DiscoveredParticipantData, now time.Time) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, known := db.participants[d.ParticipantGuid.Prefix]
	db.participants[d.ParticipantGuid.Prefix] = &discoveredParticipant{data: d, lastSeen: now}
	return !known
}

// Participant returns a remote participant's most recent SPDP data.
func (db *DB) Participant(prefix guid.GuidPrefix) (DiscoveredParticipantData, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	p, ok := db.participants[prefix]
	if !ok {
		return DiscoveredParticipantData{}, false
	}
	return p.data, true
}

// RemoveParticipant drops a participant and every publication,
// subscription, and topic whose endpoint guid shares its prefix.
func (db *DB) RemoveParticipant(prefix guid.GuidPrefix) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.participants, prefix)
	for g := range db.publications {
		if g.Prefix == prefix {
			delete(db.publications, g)
		}
	}
	for g := range db.subscriptions {
		if g.Prefix == prefix {
			delete(db.subscriptions, g)
		}
	}
	for g := range db.topics {
		if g.Prefix == prefix {
			delete(db.topics, g)
		}
	}
}

// ExpiredParticipants returns the guid prefixes of every participant
// whose lease_duration has elapsed as of now.
func (db *DB) ExpiredParticipants(now time.Time) []guid.GuidPrefix {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []guid.GuidPrefix
	for prefix, p := range db.participants {
		if now.Sub(p.lastSeen) > p.data.LeaseDuration {
			out = append(out, prefix)
		}
	}
	return out
}

// RefreshLiveliness updates lastSeen for a participant already known
// from SPDP, e.g. on receiving its ParticipantMessage liveliness
// assertion, without altering its announced data.
func (db *DB) RefreshLiveliness(prefix guid.GuidPrefix, now time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if p, ok := db.participants[prefix]; ok {
		p.lastSeen = now
	}
}

// UpsertPublication records or refreshes a remote DataWriter's SEDP
// data.
func (db *DB) UpsertPublication(p PublicationData) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.publications[p.EndpointGuid] = p
}

// RemovePublication drops a remote DataWriter, e.g. on its SEDP
// disposal.
func (db *DB) RemovePublication(g guid.Guid) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.publications, g)
}

// Publications returns every currently known remote publication.
func (db *DB) Publications() []PublicationData {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]PublicationData, 0, len(db.publications))
	for _, p := range db.publications {
		out = append(out, p)
	}
	return out
}

// UpsertSubscription records or refreshes a remote DataReader's SEDP
// data.
func (db *DB) UpsertSubscription(s SubscriptionData) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.subscriptions[s.EndpointGuid] = s
}

// RemoveSubscription drops a remote DataReader.
func (db *DB) RemoveSubscription(g guid.Guid) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.subscriptions, g)
}

// Subscriptions returns every currently known remote subscription.
func (db *DB) Subscriptions() []SubscriptionData {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]SubscriptionData, 0, len(db.subscriptions))
	for _, s := range db.subscriptions {
		out = append(out, s)
	}
	return out
}

// UpsertTopic records or refreshes a remote topic definition.
func (db *DB) UpsertTopic(t TopicData) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.topics[t.EndpointGuid] = t
}

// Topics returns every currently known remote topic definition.
func (db *DB) Topics() []TopicData {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]TopicData, 0, len(db.topics))
	for _, t := range db.topics {
		out = append(out, t)
	}
	return out
}
