package participant

import (
	"sync"

	"github.com/dds-go/rtps/discovery"
	"github.com/dds-go/rtps/guid"
	"github.com/dds-go/rtps/history"
	"github.com/dds-go/rtps/qos"
	"github.com/dds-go/rtps/rtpsreader"
)

// Subscriber groups the DataReaders an application creates together;
// it carries no state of its own beyond the participant it belongs to.
type Subscriber struct {
	p *Participant
}

// CreateSubscriber returns a Subscriber for creating DataReaders on.
func (p *Participant) CreateSubscriber() *Subscriber { return &Subscriber{p: p} }

// DataReader receives samples of one topic.
type DataReader struct {
	p     *Participant
	topic Topic

	reader *rtpsreader.Reader
	cache  *history.TopicCache

	mu       sync.Mutex
	lastRead map[guid.Guid]guid.SequenceNumber
}

// CreateDataReader creates a reader for topic with its own TopicCache,
// announces it over SEDP, and registers it on the user-data loop so
// inbound DATA/HEARTBEAT/GAP traffic reaches it.
func (sub *Subscriber) CreateDataReader(topic Topic, policies qos.Policies) (*DataReader, error) {
	p := sub.p
	id := p.topics.nextEntityId(topic.Keyed, false)
	cache := history.NewTopicCache(topic.Name, topic.TypeName, policies.History, policies.ResourceLimits)
	r := rtpsreader.New(guid.New(p.guidPrefix, id), topic.Name, topic.TypeName, policies, cache)

	dr := &DataReader{p: p, topic: topic, reader: r, cache: cache, lastRead: make(map[guid.Guid]guid.SequenceNumber)}
	p.topics.addReader(dr)
	p.userLoop.AddReader(r)

	err := p.disc.Sedp.AnnounceSubscription(discovery.SubscriptionData{
		EndpointGuid: r.Guid,
		TopicName:    topic.Name,
		TypeName:     topic.TypeName,
		Policies:     policies,
	})
	if err != nil {
		return nil, err
	}

	for _, pub := range p.disc.DB.Publications() {
		if pub.TopicName != topic.Name || !qos.OfferedMeetsRequested(pub.Policies, policies) {
			continue
		}
		if unicast, multicast, ok := p.remoteEndpointLocators(pub.EndpointGuid.Prefix); ok {
			r.AddMatchedWriter(pub.EndpointGuid, unicast, multicast)
		}
	}
	return dr, nil
}

// Guid returns this reader's own GUID.
func (dr *DataReader) Guid() guid.Guid { return dr.reader.Guid }

// Take returns every sample received from any matched writer since
// the last Take call, across all writers, in no particular
// cross-writer order (each writer's own samples remain in sequence).
func (dr *DataReader) Take() []history.Sample {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	var out []history.Sample
	for _, writerGuid := range dr.reader.MatchedWriters() {
		from := dr.lastRead[writerGuid] + 1
		samples := dr.cache.GetRange(writerGuid, from, guid.SequenceNumber(1<<62))
		if len(samples) == 0 {
			continue
		}
		out = append(out, samples...)
		dr.lastRead[writerGuid] = samples[len(samples)-1].SequenceNumber
	}
	return out
}

// Close removes this reader from the user-data loop and unmatches
// every writer it was matched with.
func (dr *DataReader) Close() {
	dr.p.userLoop.RemoveReader(dr.reader.Guid.EntityId)
	dr.p.topics.removeReader(dr.reader.Guid.EntityId)
}
