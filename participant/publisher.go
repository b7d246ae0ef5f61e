package participant

import (
	"time"

	"github.com/dds-go/rtps/discovery"
	"github.com/dds-go/rtps/guid"
	"github.com/dds-go/rtps/history"
	"github.com/dds-go/rtps/qos"
	"github.com/dds-go/rtps/rtpswriter"
)

// Publisher groups the DataWriters an application creates together;
// it carries no state of its own beyond the participant it belongs to.
type Publisher struct {
	p *Participant
}

// CreatePublisher returns a Publisher for creating DataWriters on.
func (p *Participant) CreatePublisher() *Publisher { return &Publisher{p: p} }

// DataWriter publishes samples of one topic.
type DataWriter struct {
	p     *Participant
	topic Topic

	writer *rtpswriter.Writer
}

// CreateDataWriter creates a writer for topic, announces it over SEDP,
// and registers it on the user-data loop so inbound ACKNACK/NACK_FRAG
// traffic reaches it.
func (pub *Publisher) CreateDataWriter(topic Topic, policies qos.Policies) (*DataWriter, error) {
	p := pub.p
	id := p.topics.nextEntityId(topic.Keyed, true)
	w := rtpswriter.New(guid.New(p.guidPrefix, id), topic.Name, topic.TypeName, policies)

	dw := &DataWriter{p: p, topic: topic, writer: w}
	p.topics.addWriter(dw)
	p.userLoop.AddWriter(w)

	err := p.disc.Sedp.AnnouncePublication(discovery.PublicationData{
		EndpointGuid: w.Guid,
		TopicName:    topic.Name,
		TypeName:     topic.TypeName,
		Policies:     policies,
	})
	if err != nil {
		return nil, err
	}

	for _, sub := range p.disc.DB.Subscriptions() {
		if sub.TopicName != topic.Name || !qos.OfferedMeetsRequested(policies, sub.Policies) {
			continue
		}
		if unicast, multicast, ok := p.remoteEndpointLocators(sub.EndpointGuid.Prefix); ok {
			w.AddMatchedReader(sub.EndpointGuid, unicast, multicast, sub.Policies.Reliability.Kind, false)
		}
	}
	return dw, nil
}

// Guid returns this writer's own GUID.
func (dw *DataWriter) Guid() guid.Guid { return dw.writer.Guid }

// Write publishes one sample with the given instance key, returning
// the sequence number assigned to it.
func (dw *DataWriter) Write(key history.KeyHash, payload []byte) (guid.SequenceNumber, error) {
	sn, err := dw.writer.Write(history.KindData, key, payload, time.Now())
	if err == nil {
		dw.p.userLoop.NotifyWriterReady(dw.writer.Guid.EntityId)
	}
	return sn, err
}

// Dispose publishes an instance-disposal marker for key.
func (dw *DataWriter) Dispose(key history.KeyHash) (guid.SequenceNumber, error) {
	sn, err := dw.writer.Write(history.KindDispose, key, nil, time.Now())
	if err == nil {
		dw.p.userLoop.NotifyWriterReady(dw.writer.Guid.EntityId)
	}
	return sn, err
}

// Close removes this writer from the user-data loop and unmatches
// every reader it was matched with. It does not notify SEDP of the
// deletion: an unannounced writer is simply dropped once its owning
// participant's lease expires.
func (dw *DataWriter) Close() {
	dw.p.userLoop.RemoveWriter(dw.writer.Guid.EntityId)
	dw.p.topics.removeWriter(dw.writer.Guid.EntityId)
}
