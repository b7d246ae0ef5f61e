package participant

import (
	"github.com/dds-go/rtps/discovery"
	"github.com/dds-go/rtps/guid"
)

// Topic names one data flow: a name, its CDR-serialized type, and
// whether samples carry an instance key. The payload bytes a
// DataWriter publishes and a DataReader receives are opaque CDR the
// application produces and consumes; this core never inspects them
// beyond the instance KeyHash the application supplies separately.
type Topic struct {
	Name     string
	TypeName string
	Keyed    bool
}

// NewTopic declares a topic. CreateTopic on a Participant registers
// it so FindTopic and SEDP's topic announcement can see it; building a
// Topic value alone does not announce or register anything.
func NewTopic(name, typeName string, keyed bool) Topic {
	return Topic{Name: name, TypeName: typeName, Keyed: keyed}
}

// CreateTopic declares t locally and announces it over SEDP's topics
// built-in endpoint so peers learn of its existence independent of
// any writer or reader being created for it yet.
func (p *Participant) CreateTopic(t Topic) error {
	p.topics.declare(t)
	id := p.topics.nextEntityId(false, true)
	td := discovery.TopicData{
		EndpointGuid: guid.New(p.guidPrefix, id),
		TopicName:    t.Name,
		TypeName:     t.TypeName,
	}
	return p.disc.Sedp.AnnounceTopic(td)
}

// FindTopic looks up a topic previously declared with CreateTopic.
func (p *Participant) FindTopic(name string) (Topic, bool) {
	return p.topics.find(name)
}
