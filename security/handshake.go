package security

import (
	"encoding/binary"
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/dds-go/rtps/guid"
	"github.com/dds-go/rtps/history"
	"github.com/dds-go/rtps/qos"
	"github.com/dds-go/rtps/reactor"
	"github.com/dds-go/rtps/rtpsreader"
	"github.com/dds-go/rtps/rtpswriter"
)

const (
	// StatelessMessageTopic and StatelessMessageType name the built-in
	// topic handshake messages ride on, RTPS DDS-Security's
	// ParticipantStatelessMessage.
	StatelessMessageTopic = "DCPSParticipantStatelessMessage"
	StatelessMessageType  = "dds-go.rtps.security.StatelessMessage"

	// MaxHandshakeResends bounds how many times an in-flight handshake
	// message is retransmitted before the session is demoted to
	// Rejected.
	MaxHandshakeResends = 5

	// DefaultHandshakeResendPeriod is how often RunResends retries
	// every session still waiting on a reply.
	DefaultHandshakeResendPeriod = 500 * time.Millisecond
)

// StatelessMessageData is one handshake step addressed to a specific
// remote participant. RelatedSeqnum names the message this one
// answers (0 for the first message of an exchange); a reply whose
// RelatedSeqnum does not match the receiver's own last-sent sequence
// number is silently dropped; the sender's own resend timer recovers
// from the loss rather than this side requesting retransmission.
type StatelessMessageData struct {
	SourceGuid    guid.Guid
	DestGuid      guid.Guid
	MessageSeqnum uint64
	RelatedSeqnum uint64
	Payload       []byte
}

// MarshalStatelessMessageData encodes a handshake step.
func MarshalStatelessMessageData(m StatelessMessageData) []byte {
	buf := make([]byte, guid.Len*2+8+8+4+len(m.Payload))
	off := 0
	m.SourceGuid.Marshal(buf[off:])
	off += guid.Len
	m.DestGuid.Marshal(buf[off:])
	off += guid.Len
	binary.BigEndian.PutUint64(buf[off:], m.MessageSeqnum)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], m.RelatedSeqnum)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], uint32(len(m.Payload)))
	off += 4
	copy(buf[off:], m.Payload)
	return buf
}

// UnmarshalStatelessMessageData decodes a handshake step.
func UnmarshalStatelessMessageData(b []byte) (StatelessMessageData, error) {
	const fixed = guid.Len*2 + 8 + 8 + 4
	if len(b) < fixed {
		return StatelessMessageData{}, errors.New("security: truncated stateless message")
	}
	var m StatelessMessageData
	var err error
	off := 0
	if m.SourceGuid, err = guid.Parse(b[off:]); err != nil {
		return m, err
	}
	off += guid.Len
	if m.DestGuid, err = guid.Parse(b[off:]); err != nil {
		return m, err
	}
	off += guid.Len
	m.MessageSeqnum = binary.BigEndian.Uint64(b[off:])
	off += 8
	m.RelatedSeqnum = binary.BigEndian.Uint64(b[off:])
	off += 8
	n := int(binary.BigEndian.Uint32(b[off:]))
	off += 4
	if off+n > len(b) {
		return m, errors.New("security: truncated stateless message payload")
	}
	m.Payload = append([]byte(nil), b[off:off+n]...)
	return m, nil
}

type handshakeSession struct {
	state       HandshakeState
	lastSent    []byte
	lastSeqnum  uint64
	lastRelated uint64
	lastRtpsSN  guid.SequenceNumber
	resends     int
}

// SecureDiscovery drives the pairwise authentication handshake with
// every discovered remote participant over the ParticipantStateless
// built-in topic, and registers the resulting shared secret with the
// Cryptographic plugin once a handshake completes. It owns one
// best-effort writer/reader pair the way Sedp owns its publications
// and subscriptions writers/readers; callers register that pair on
// whichever reactor.Loop they run on via Writer/Reader.
type SecureDiscovery struct {
	localGuid guid.Guid
	auth      Authentication
	crypto    Cryptographic

	psWriter *rtpswriter.Writer
	psReader *rtpsreader.Reader
	psCache  *history.TopicCache

	// loop is the reactor.Loop the stateless-message writer/reader pair
	// is registered on, set by SetLoop once the caller has registered
	// Writer()/Reader() on it. Every send routes through it so the
	// handshake's DATA actually reaches the wire instead of sitting in
	// the HistoryCache unsent.
	loop *reactor.Loop

	resendPeriod time.Duration

	mu         sync.Mutex
	sessions   map[guid.Guid]*handshakeSession
	nextSeqnum uint64

	// OnAuthenticated fires once a handshake with remote completes,
	// after the shared secret has already been registered with crypto.
	OnAuthenticated func(remote guid.Guid)
}

// NewSecureDiscovery builds a SecureDiscovery for a local participant
// identified by localGuid, using auth to run handshakes and crypto to
// hold the resulting per-remote AEAD keys.
func NewSecureDiscovery(localGuid guid.Guid, auth Authentication, crypto Cryptographic) *SecureDiscovery {
	limits := qos.ResourceLimits{MaxSamples: qos.Unlimited, MaxInstances: qos.Unlimited, MaxSamplesPerInstance: qos.Unlimited}
	cache := history.NewTopicCache(StatelessMessageTopic, StatelessMessageType, qos.History{Kind: qos.KeepAll}, limits)
	policies := qos.Default()

	w := rtpswriter.New(guid.New(localGuid.Prefix, guid.EntityIdParticipantStatelessMessageWriter), StatelessMessageTopic, StatelessMessageType, policies)
	r := rtpsreader.New(guid.New(localGuid.Prefix, guid.EntityIdParticipantStatelessMessageReader), StatelessMessageTopic, StatelessMessageType, policies, cache)

	sd := &SecureDiscovery{
		localGuid:    localGuid,
		auth:         auth,
		crypto:       crypto,
		psWriter:     w,
		psReader:     r,
		psCache:      cache,
		resendPeriod: DefaultHandshakeResendPeriod,
		sessions:     make(map[guid.Guid]*handshakeSession),
	}
	r.OnSample = sd.onStatelessSample
	return sd
}

// Writer returns the ParticipantStatelessMessage writer to register on
// a reactor.Loop.
func (sd *SecureDiscovery) Writer() *rtpswriter.Writer { return sd.psWriter }

// Reader returns the ParticipantStatelessMessage reader to register on
// a reactor.Loop.
func (sd *SecureDiscovery) Reader() *rtpsreader.Reader { return sd.psReader }

// SetLoop records the reactor.Loop Writer()/Reader() were registered
// on, so send and resendPending can ask it to flush the handshake
// writer's backlog onto the wire. Call after AddWriter/AddReader.
func (sd *SecureDiscovery) SetLoop(loop *reactor.Loop) { sd.loop = loop }

// AddMatchedRemote matches this participant's stateless-message
// endpoints against a newly discovered remote participant's, and — if
// auth.ValidateRemoteIdentity says the local GUID sorts first —
// initiates a handshake with it.
func (sd *SecureDiscovery) AddMatchedRemote(remotePrefix guid.GuidPrefix, unicast, multicast []guid.Locator) {
	remoteWriterGuid := guid.New(remotePrefix, guid.EntityIdParticipantStatelessMessageWriter)
	remoteReaderGuid := guid.New(remotePrefix, guid.EntityIdParticipantStatelessMessageReader)
	sd.psWriter.AddMatchedReader(remoteReaderGuid, unicast, multicast, qos.BestEffort, false)
	sd.psReader.AddMatchedWriter(remoteWriterGuid, unicast, multicast)

	remoteParticipant := guid.New(remotePrefix, guid.EntityIdParticipant)
	shouldInitiate, err := sd.auth.ValidateRemoteIdentity(sd.localGuid, remoteParticipant)
	if err != nil {
		log.Printf("security: validating remote identity %v: %v", remoteParticipant, err)
		return
	}
	if shouldInitiate {
		sd.beginHandshake(remoteParticipant)
	}
}

// RemoveMatchedRemote drops a remote participant's handshake session
// and unmatches it, called once its SPDP lease expires.
func (sd *SecureDiscovery) RemoveMatchedRemote(remotePrefix guid.GuidPrefix) {
	sd.psWriter.RemoveMatchedReader(guid.New(remotePrefix, guid.EntityIdParticipantStatelessMessageReader))
	sd.psReader.RemoveMatchedWriter(guid.New(remotePrefix, guid.EntityIdParticipantStatelessMessageWriter))
	sd.mu.Lock()
	delete(sd.sessions, guid.New(remotePrefix, guid.EntityIdParticipant))
	sd.mu.Unlock()
}

func (sd *SecureDiscovery) beginHandshake(remote guid.Guid) {
	msg, err := sd.auth.BeginHandshakeRequest(remote)
	if err != nil {
		log.Printf("security: beginning handshake with %v: %v", remote, err)
		return
	}
	sd.mu.Lock()
	sd.nextSeqnum++
	seq := sd.nextSeqnum
	sd.sessions[remote] = &handshakeSession{state: HandshakeInProgress, lastSent: msg, lastSeqnum: seq}
	sd.mu.Unlock()
	sn := sd.send(remote, seq, 0, msg)
	sd.mu.Lock()
	if s, ok := sd.sessions[remote]; ok {
		s.lastRtpsSN = sn
	}
	sd.mu.Unlock()
}

// send writes one handshake step to the HistoryCache under a new RTPS
// sequence number and asks the loop to flush it, returning that
// sequence number so the caller can remember it for resendPending.
func (sd *SecureDiscovery) send(remote guid.Guid, seq, related uint64, payload []byte) guid.SequenceNumber {
	m := StatelessMessageData{SourceGuid: sd.localGuid, DestGuid: remote, MessageSeqnum: seq, RelatedSeqnum: related, Payload: payload}
	var key history.KeyHash
	copy(key[:], remote.Bytes())
	sn, err := sd.psWriter.Write(history.KindData, key, MarshalStatelessMessageData(m), time.Now())
	if err != nil {
		log.Printf("security: sending handshake message to %v: %v", remote, err)
		return guid.SequenceNumberUnknown
	}
	if sd.loop != nil {
		sd.loop.NotifyWriterReady(sd.psWriter.Guid.EntityId)
	}
	return sn
}

func (sd *SecureDiscovery) onStatelessSample(sample history.Sample) {
	m, err := UnmarshalStatelessMessageData(sample.Payload)
	if err != nil {
		log.Printf("security: decoding stateless message: %v", err)
		return
	}
	if m.DestGuid != sd.localGuid {
		return
	}
	remote := m.SourceGuid

	sd.mu.Lock()
	session, exists := sd.sessions[remote]
	sd.mu.Unlock()

	state := HandshakePending
	if exists {
		if m.RelatedSeqnum != 0 && m.RelatedSeqnum != session.lastSeqnum {
			return
		}
		state = session.state
	}

	reply, next, secret, err := sd.auth.ProcessHandshake(remote, state, m.Payload)
	if err != nil {
		log.Printf("security: handshake with %v failed: %v", remote, err)
		sd.mu.Lock()
		sd.sessions[remote] = &handshakeSession{state: HandshakeRejected}
		sd.mu.Unlock()
		return
	}

	sd.mu.Lock()
	sd.nextSeqnum++
	seq := sd.nextSeqnum
	sd.sessions[remote] = &handshakeSession{state: next, lastSent: reply, lastSeqnum: seq, lastRelated: m.MessageSeqnum}
	sd.mu.Unlock()

	if reply != nil {
		sn := sd.send(remote, seq, m.MessageSeqnum, reply)
		sd.mu.Lock()
		if s, ok := sd.sessions[remote]; ok {
			s.lastRtpsSN = sn
		}
		sd.mu.Unlock()
	}
	if next == HandshakeDone {
		sd.onHandshakeDone(remote, secret)
	}
}

func (sd *SecureDiscovery) onHandshakeDone(remote guid.Guid, secret []byte) {
	sd.crypto.RegisterRemoteEndpoint(sd.localGuid, remote, secret, TransformEncryptAndSign)
	log.Printf("security: handshake with %v complete", remote)
	if sd.OnAuthenticated != nil {
		sd.OnAuthenticated(remote)
	}
}

// RunResends retransmits every handshake session's last-sent message
// on resendPeriod by re-marking its original sequence number unsent,
// until the session either completes, exhausts MaxHandshakeResends and
// is marked Rejected, or stop is closed.
func (sd *SecureDiscovery) RunResends(stop <-chan struct{}) {
	ticker := time.NewTicker(sd.resendPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sd.resendPending()
		case <-stop:
			return
		}
	}
}

type pendingResend struct {
	remote guid.Guid
	sn     guid.SequenceNumber
}

func (sd *SecureDiscovery) resendPending() {
	sd.mu.Lock()
	var toResend []pendingResend
	for remote, s := range sd.sessions {
		if s.state == HandshakeDone || s.state == HandshakeRejected || s.lastSent == nil {
			continue
		}
		s.resends++
		if s.resends > MaxHandshakeResends {
			s.state = HandshakeRejected
			log.Printf("security: handshake with %v exhausted resends, rejecting", remote)
			continue
		}
		if s.lastRtpsSN == guid.SequenceNumberUnknown {
			continue
		}
		toResend = append(toResend, pendingResend{remote: remote, sn: s.lastRtpsSN})
	}
	sd.mu.Unlock()
	if len(toResend) == 0 {
		return
	}
	for _, p := range toResend {
		readerGuid := guid.New(p.remote.Prefix, guid.EntityIdParticipantStatelessMessageReader)
		sd.psWriter.MarkUnsent(readerGuid, p.sn)
	}
	if sd.loop != nil {
		sd.loop.NotifyWriterReady(sd.psWriter.Guid.EntityId)
	}
}
