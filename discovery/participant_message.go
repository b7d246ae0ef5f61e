package discovery

import (
	"log"
	"time"

	"github.com/dds-go/rtps/history"
)

// DefaultParticipantMessagePeriod is how often a participant asserts
// ManualByParticipant liveliness to every matched remote participant.
// It is a fixed period, not derived from the lease durations locally
// owned writers offer.
const DefaultParticipantMessagePeriod = 3 * time.Second

// AssertLiveliness publishes one ParticipantMessage sample, refreshing
// this participant's liveliness as seen by every matched remote
// reader of the built-in ParticipantMessage topic.
func (s *Sedp) AssertLiveliness(kind ParticipantMessageKind) error {
	m := ParticipantMessageData{GuidPrefix: s.localPrefix, Kind: kind}
	payload := MarshalParticipantMessageData(m)
	var key history.KeyHash
	copy(key[:], s.localPrefix[:])
	_, err := s.pmWriter.Write(history.KindData, key, payload, time.Now())
	if err == nil {
		s.loop.NotifyWriterReady(s.pmWriter.Guid.EntityId)
	}
	return err
}

// RunLivelinessAssertions sends a ManualByParticipant ParticipantMessage
// on the given period until stop is closed. Callers run this on a
// dedicated goroutine alongside Sedp.Run.
func (s *Sedp) RunLivelinessAssertions(period time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.AssertLiveliness(ParticipantMessageManualLivelinessByParticipant); err != nil {
				log.Printf("discovery: asserting liveliness: %v", err)
			}
		case <-stop:
			return
		}
	}
}

func (s *Sedp) onParticipantMessageSample(sample history.Sample) {
	m, err := UnmarshalParticipantMessageData(sample.Payload)
	if err != nil {
		log.Printf("discovery: participant message payload: %v", err)
		return
	}
	now := time.Now()
	s.db.RefreshLiveliness(m.GuidPrefix, now)
	if s.OnParticipantLivelinessAsserted != nil {
		s.OnParticipantLivelinessAsserted(m.GuidPrefix)
	}
}
