package participant

import (
	"fmt"
	"log"

	"github.com/fatih/color"

	"github.com/dds-go/rtps/discovery"
	"github.com/dds-go/rtps/guid"
	"github.com/dds-go/rtps/qos"
	"github.com/dds-go/rtps/reactor"
)

var warnDenied = color.New(color.FgYellow).SprintFunc()

// remoteEndpointLocators resolves the locators a remote endpoint is
// reachable at: its owning participant's default unicast/multicast
// locators, since individual SEDP publication/subscription data does
// not carry its own locator set in this core.
func (p *Participant) remoteEndpointLocators(prefix guid.GuidPrefix) (unicast, multicast []guid.Locator, ok bool) {
	pd, found := p.disc.DB.Participant(prefix)
	if !found {
		return nil, nil, false
	}
	return pd.DefaultUnicastLocators, pd.DefaultMulticastLocators, true
}

// onRemotePublication runs on Sedp's own discovery goroutine; it hops
// onto the user-data loop before touching any DataReader/DataWriter,
// since those are owned by that loop's goroutine.
func (p *Participant) onRemotePublication(pub discovery.PublicationData) {
	if p.accessControl != nil && !p.accessControl.CheckRemotePublish(pub.EndpointGuid, pub.TopicName) {
		log.Print(warnDenied(fmt.Sprintf("participant: denying publication %v on %q by access control", pub.EndpointGuid, pub.TopicName)))
		return
	}
	p.userLoop.NotifyDiscovery(func(l *reactor.Loop) {
		unicast, multicast, ok := p.remoteEndpointLocators(pub.EndpointGuid.Prefix)
		if !ok {
			return
		}
		for _, dr := range p.topics.readersFor(pub.TopicName) {
			if !qos.OfferedMeetsRequested(pub.Policies, dr.reader.Policies) {
				continue
			}
			dr.reader.AddMatchedWriter(pub.EndpointGuid, unicast, multicast)
			log.Printf("participant: matched reader %v to writer %v on %q", dr.reader.Guid, pub.EndpointGuid, pub.TopicName)
		}
	})
}

// onRemoteSubscription mirrors onRemotePublication for the writer side.
func (p *Participant) onRemoteSubscription(sub discovery.SubscriptionData) {
	if p.accessControl != nil && !p.accessControl.CheckRemoteSubscribe(sub.EndpointGuid, sub.TopicName) {
		log.Print(warnDenied(fmt.Sprintf("participant: denying subscription %v on %q by access control", sub.EndpointGuid, sub.TopicName)))
		return
	}
	p.userLoop.NotifyDiscovery(func(l *reactor.Loop) {
		unicast, multicast, ok := p.remoteEndpointLocators(sub.EndpointGuid.Prefix)
		if !ok {
			return
		}
		for _, dw := range p.topics.writersFor(sub.TopicName) {
			if !qos.OfferedMeetsRequested(dw.writer.Policies, sub.Policies) {
				continue
			}
			dw.writer.AddMatchedReader(sub.EndpointGuid, unicast, multicast, sub.Policies.Reliability.Kind, false)
			log.Printf("participant: matched writer %v to reader %v on %q", dw.writer.Guid, sub.EndpointGuid, sub.TopicName)
		}
	})
}
