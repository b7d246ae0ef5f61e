// Package discovery implements SPDP participant discovery, SEDP
// endpoint discovery, and the participant message liveliness protocol:
// the three built-in topics a participant uses to find its peers
// without a broker.
package discovery

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"github.com/dds-go/rtps/guid"
	"github.com/dds-go/rtps/qos"
	"github.com/dds-go/rtps/wire"
)

// BuiltinEndpoint bits, RTPS 2.3 8.5.3.3, identifying which built-in
// readers/writers a participant offers in its SPDP announcement.
const (
	BuiltinEndpointParticipantAnnouncer uint32 = 1 << 0
	BuiltinEndpointParticipantDetector  uint32 = 1 << 1
	BuiltinEndpointPublicationsAnnouncer uint32 = 1 << 2
	BuiltinEndpointPublicationsDetector  uint32 = 1 << 3
	BuiltinEndpointSubscriptionsAnnouncer uint32 = 1 << 4
	BuiltinEndpointSubscriptionsDetector  uint32 = 1 << 5
	BuiltinEndpointTopicsAnnouncer uint32 = 1 << 28
	BuiltinEndpointTopicsDetector  uint32 = 1 << 29
	BuiltinEndpointParticipantMessageDataWriter uint32 = 1 << 10
	BuiltinEndpointParticipantMessageDataReader uint32 = 1 << 11
	BuiltinEndpointParticipantSecureWriter uint32 = 1 << 21
	BuiltinEndpointParticipantSecureReader uint32 = 1 << 22
	BuiltinEndpointParticipantVolatileSecureWriter uint32 = 1 << 23
	BuiltinEndpointParticipantVolatileSecureReader uint32 = 1 << 24

	// DefaultBuiltinEndpoints is the set this core always offers: SPDP
	// is implied by the act of sending it, so only SEDP and liveliness
	// are listed here.
	DefaultBuiltinEndpoints = BuiltinEndpointPublicationsAnnouncer | BuiltinEndpointPublicationsDetector |
		BuiltinEndpointSubscriptionsAnnouncer | BuiltinEndpointSubscriptionsDetector |
		BuiltinEndpointTopicsAnnouncer | BuiltinEndpointTopicsDetector |
		BuiltinEndpointParticipantMessageDataWriter | BuiltinEndpointParticipantMessageDataReader
)

// DiscoveredParticipantData is the payload SPDP writers announce and
// readers decode: everything needed to locate and match a remote
// participant's built-in endpoints.
type DiscoveredParticipantData struct {
	ParticipantGuid         guid.Guid
	ProtocolVersion         wire.ProtocolVersion
	VendorId                wire.VendorId
	ExpectsInlineQos        bool
	AvailableBuiltinEndpoints uint32
	MetatrafficUnicastLocators   []guid.Locator
	MetatrafficMulticastLocators []guid.Locator
	DefaultUnicastLocators       []guid.Locator
	DefaultMulticastLocators     []guid.Locator
	LeaseDuration           time.Duration
	ManualLivelinessCount   uint32
	IdentityToken           []byte
	PermissionsToken        []byte
	SecurityInfo            []byte
}

// PublicationData is SEDP's description of one remote DataWriter.
type PublicationData struct {
	EndpointGuid guid.Guid
	TopicName    string
	TypeName     string
	Policies     qos.Policies
}

// SubscriptionData is SEDP's description of one remote DataReader.
type SubscriptionData struct {
	EndpointGuid guid.Guid
	TopicName    string
	TypeName     string
	Policies     qos.Policies
}

// TopicData is SEDP's description of one remote topic definition.
type TopicData struct {
	EndpointGuid guid.Guid
	TopicName    string
	TypeName     string
}

// ParticipantMessageKind distinguishes an automatic liveliness
// heartbeat from a manual assertion.
type ParticipantMessageKind uint32

const (
	ParticipantMessageAutomaticLiveliness ParticipantMessageKind = iota
	ParticipantMessageManualLivelinessByParticipant
)

// ParticipantMessageData is the payload of the liveliness built-in
// topic: which participant is alive, and which flavor of assertion.
type ParticipantMessageData struct {
	GuidPrefix guid.GuidPrefix
	Kind       ParticipantMessageKind
	Data       []byte
}

func encodeDuration(d time.Duration) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], uint32(int32(d/time.Second)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(d%time.Second))
	return buf
}

func decodeDuration(b []byte) (time.Duration, error) {
	if len(b) < 8 {
		return 0, errors.New("discovery: truncated duration")
	}
	sec := int32(binary.BigEndian.Uint32(b[0:4]))
	nsec := binary.BigEndian.Uint32(b[4:8])
	return time.Duration(sec)*time.Second + time.Duration(nsec), nil
}

func encodeCDRString(s string) []byte {
	body := append([]byte(s), 0)
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, uint32(len(body)))
	return append(hdr, body...)
}

func decodeCDRString(b []byte) (string, error) {
	if len(b) < 4 {
		return "", errors.New("discovery: truncated string length")
	}
	n := int(binary.BigEndian.Uint32(b[0:4]))
	if n == 0 || 4+n > len(b) {
		return "", errors.New("discovery: truncated string body")
	}
	return string(b[4 : 4+n-1]), nil // drop the trailing NUL
}

func appendLocatorParams(pl wire.ParameterList, id wire.ParameterId, ls []guid.Locator) wire.ParameterList {
	for _, l := range ls {
		buf := make([]byte, guid.WireLen)
		l.Marshal(binary.BigEndian, buf)
		pl = append(pl, wire.Parameter{ID: id, Value: buf})
	}
	return pl
}

func decodeLocatorParams(pl wire.ParameterList, id wire.ParameterId) []guid.Locator {
	var out []guid.Locator
	for _, p := range pl {
		if p.ID != id {
			continue
		}
		if l, err := guid.ParseLocator(binary.BigEndian, p.Value); err == nil {
			out = append(out, l)
		}
	}
	return out
}

func encodeReliability(r qos.Reliability) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(r.Kind))
	return append(buf, encodeDuration(r.MaxBlockingTime)...)
}

func decodeReliability(b []byte) (qos.Reliability, error) {
	if len(b) < 4 {
		return qos.Reliability{}, errors.New("discovery: truncated reliability")
	}
	d, err := decodeDuration(b[4:])
	if err != nil {
		return qos.Reliability{}, err
	}
	return qos.Reliability{Kind: qos.ReliabilityKind(binary.BigEndian.Uint32(b[0:4])), MaxBlockingTime: d}, nil
}

func encodeHistory(h qos.History) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.Kind))
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.Depth))
	return buf
}

func decodeHistory(b []byte) (qos.History, error) {
	if len(b) < 8 {
		return qos.History{}, errors.New("discovery: truncated history")
	}
	return qos.History{
		Kind:  qos.HistoryKind(binary.BigEndian.Uint32(b[0:4])),
		Depth: int(int32(binary.BigEndian.Uint32(b[4:8]))),
	}, nil
}

func encodeLiveliness(l qos.Liveliness) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(l.Kind))
	return append(buf, encodeDuration(l.LeaseDuration)...)
}

func decodeLiveliness(b []byte) (qos.Liveliness, error) {
	if len(b) < 4 {
		return qos.Liveliness{}, errors.New("discovery: truncated liveliness")
	}
	d, err := decodeDuration(b[4:])
	if err != nil {
		return qos.Liveliness{}, err
	}
	return qos.Liveliness{Kind: qos.LivelinessKind(binary.BigEndian.Uint32(b[0:4])), LeaseDuration: d}, nil
}

// MarshalParticipantData builds the PL_CDR parameter list for
// DiscoveredParticipantData, as broadcast by the SPDP writer.
func MarshalParticipantData(d DiscoveredParticipantData) wire.ParameterList {
	var pl wire.ParameterList
	pl = append(pl, wire.Parameter{ID: wire.PidParticipantGuid, Value: d.ParticipantGuid.Bytes()})

	pv := []byte{d.ProtocolVersion.Major, d.ProtocolVersion.Minor, 0, 0}
	pl = append(pl, wire.Parameter{ID: wire.PidProtocolVersion, Value: pv})
	pl = append(pl, wire.Parameter{ID: wire.PidVendorId, Value: []byte{d.VendorId[0], d.VendorId[1], 0, 0}})

	inlineQos := byte(0)
	if d.ExpectsInlineQos {
		inlineQos = 1
	}
	pl = append(pl, wire.Parameter{ID: wire.PidExpectsInlineQos, Value: []byte{inlineQos, 0, 0, 0}})

	beSet := make([]byte, 4)
	binary.BigEndian.PutUint32(beSet, d.AvailableBuiltinEndpoints)
	pl = append(pl, wire.Parameter{ID: wire.PidBuiltinEndpointSet, Value: beSet})

	pl = appendLocatorParams(pl, wire.PidMetatrafficUnicastLocator, d.MetatrafficUnicastLocators)
	pl = appendLocatorParams(pl, wire.PidMetatrafficMulticastLocator, d.MetatrafficMulticastLocators)
	pl = appendLocatorParams(pl, wire.PidDefaultUnicastLocator, d.DefaultUnicastLocators)
	pl = appendLocatorParams(pl, wire.PidDefaultMulticastLocator, d.DefaultMulticastLocators)

	pl = append(pl, wire.Parameter{ID: wire.PidParticipantLeaseDuration, Value: encodeDuration(d.LeaseDuration)})

	count := make([]byte, 4)
	binary.BigEndian.PutUint32(count, d.ManualLivelinessCount)
	pl = append(pl, wire.Parameter{ID: wire.PidManualLivelinessCount, Value: count})

	if len(d.IdentityToken) > 0 {
		pl = append(pl, wire.Parameter{ID: wire.PidIdentityToken, Value: d.IdentityToken})
	}
	if len(d.PermissionsToken) > 0 {
		pl = append(pl, wire.Parameter{ID: wire.PidPermissionsToken, Value: d.PermissionsToken})
	}
	if len(d.SecurityInfo) > 0 {
		pl = append(pl, wire.Parameter{ID: wire.PidParticipantSecurityInfo, Value: d.SecurityInfo})
	}
	return pl
}

// UnmarshalParticipantData decodes a PL_CDR parameter list into
// DiscoveredParticipantData.
func UnmarshalParticipantData(pl wire.ParameterList) (DiscoveredParticipantData, error) {
	var d DiscoveredParticipantData

	gv, ok := pl.Get(wire.PidParticipantGuid)
	if !ok {
		return d, errors.New("discovery: SPDP payload missing participant guid")
	}
	g, err := guid.Parse(gv)
	if err != nil {
		return d, errors.Wrap(err, "discovery: participant guid")
	}
	d.ParticipantGuid = g

	if pv, ok := pl.Get(wire.PidProtocolVersion); ok && len(pv) >= 2 {
		d.ProtocolVersion = wire.ProtocolVersion{Major: pv[0], Minor: pv[1]}
	}
	if vv, ok := pl.Get(wire.PidVendorId); ok && len(vv) >= 2 {
		d.VendorId = wire.VendorId{vv[0], vv[1]}
	}
	if iv, ok := pl.Get(wire.PidExpectsInlineQos); ok && len(iv) >= 1 {
		d.ExpectsInlineQos = iv[0] != 0
	}
	if bv, ok := pl.Get(wire.PidBuiltinEndpointSet); ok && len(bv) >= 4 {
		d.AvailableBuiltinEndpoints = binary.BigEndian.Uint32(bv)
	}

	d.MetatrafficUnicastLocators = decodeLocatorParams(pl, wire.PidMetatrafficUnicastLocator)
	d.MetatrafficMulticastLocators = decodeLocatorParams(pl, wire.PidMetatrafficMulticastLocator)
	d.DefaultUnicastLocators = decodeLocatorParams(pl, wire.PidDefaultUnicastLocator)
	d.DefaultMulticastLocators = decodeLocatorParams(pl, wire.PidDefaultMulticastLocator)

	if lv, ok := pl.Get(wire.PidParticipantLeaseDuration); ok {
		if dur, err := decodeDuration(lv); err == nil {
			d.LeaseDuration = dur
		}
	}
	if cv, ok := pl.Get(wire.PidManualLivelinessCount); ok && len(cv) >= 4 {
		d.ManualLivelinessCount = binary.BigEndian.Uint32(cv)
	}
	d.IdentityToken, _ = pl.Get(wire.PidIdentityToken)
	d.PermissionsToken, _ = pl.Get(wire.PidPermissionsToken)
	d.SecurityInfo, _ = pl.Get(wire.PidParticipantSecurityInfo)
	return d, nil
}

func marshalEndpointCommon(guidVal guid.Guid, topicName, typeName string, p qos.Policies) wire.ParameterList {
	var pl wire.ParameterList
	pl = append(pl, wire.Parameter{ID: wire.PidEndpointGuid, Value: guidVal.Bytes()})
	pl = append(pl, wire.Parameter{ID: wire.PidTopicName, Value: encodeCDRString(topicName)})
	pl = append(pl, wire.Parameter{ID: wire.PidTypeName, Value: encodeCDRString(typeName)})
	pl = append(pl, wire.Parameter{ID: wire.PidReliability, Value: encodeReliability(p.Reliability)})
	durability := make([]byte, 4)
	binary.BigEndian.PutUint32(durability, uint32(p.Durability))
	pl = append(pl, wire.Parameter{ID: wire.PidDurability, Value: durability})
	pl = append(pl, wire.Parameter{ID: wire.PidHistory, Value: encodeHistory(p.History)})
	pl = append(pl, wire.Parameter{ID: wire.PidDeadline, Value: encodeDuration(p.Deadline)})
	pl = append(pl, wire.Parameter{ID: wire.PidLiveliness, Value: encodeLiveliness(p.Liveliness)})
	return pl
}

func unmarshalEndpointCommon(pl wire.ParameterList) (guid.Guid, string, string, qos.Policies, error) {
	var p qos.Policies
	gv, ok := pl.Get(wire.PidEndpointGuid)
	if !ok {
		return guid.Guid{}, "", "", p, errors.New("discovery: SEDP payload missing endpoint guid")
	}
	g, err := guid.Parse(gv)
	if err != nil {
		return guid.Guid{}, "", "", p, err
	}
	topicName, _ := decodeCDRString(mustGet(pl, wire.PidTopicName))
	typeName, _ := decodeCDRString(mustGet(pl, wire.PidTypeName))
	if rv, ok := pl.Get(wire.PidReliability); ok {
		if r, err := decodeReliability(rv); err == nil {
			p.Reliability = r
		}
	}
	if dv, ok := pl.Get(wire.PidDurability); ok && len(dv) >= 4 {
		p.Durability = qos.DurabilityKind(binary.BigEndian.Uint32(dv))
	}
	if hv, ok := pl.Get(wire.PidHistory); ok {
		if h, err := decodeHistory(hv); err == nil {
			p.History = h
		}
	}
	if dv, ok := pl.Get(wire.PidDeadline); ok {
		if d, err := decodeDuration(dv); err == nil {
			p.Deadline = d
		}
	}
	if lv, ok := pl.Get(wire.PidLiveliness); ok {
		if l, err := decodeLiveliness(lv); err == nil {
			p.Liveliness = l
		}
	}
	return g, topicName, typeName, p, nil
}

func mustGet(pl wire.ParameterList, id wire.ParameterId) []byte {
	v, _ := pl.Get(id)
	return v
}

// MarshalPublicationData builds the PL_CDR parameter list SEDP's
// publications writer announces for one local DataWriter.
func MarshalPublicationData(p PublicationData) wire.ParameterList {
	return marshalEndpointCommon(p.EndpointGuid, p.TopicName, p.TypeName, p.Policies)
}

// UnmarshalPublicationData decodes a SEDP publications payload.
func UnmarshalPublicationData(pl wire.ParameterList) (PublicationData, error) {
	g, topic, typ, p, err := unmarshalEndpointCommon(pl)
	return PublicationData{EndpointGuid: g, TopicName: topic, TypeName: typ, Policies: p}, err
}

// MarshalSubscriptionData builds the PL_CDR parameter list SEDP's
// subscriptions writer announces for one local DataReader.
func MarshalSubscriptionData(s SubscriptionData) wire.ParameterList {
	return marshalEndpointCommon(s.EndpointGuid, s.TopicName, s.TypeName, s.Policies)
}

// UnmarshalSubscriptionData decodes a SEDP subscriptions payload.
func UnmarshalSubscriptionData(pl wire.ParameterList) (SubscriptionData, error) {
	g, topic, typ, p, err := unmarshalEndpointCommon(pl)
	return SubscriptionData{EndpointGuid: g, TopicName: topic, TypeName: typ, Policies: p}, err
}

// MarshalTopicData builds the PL_CDR parameter list SEDP's topics
// writer announces for one locally known topic definition.
func MarshalTopicData(t TopicData) wire.ParameterList {
	var pl wire.ParameterList
	pl = append(pl, wire.Parameter{ID: wire.PidEndpointGuid, Value: t.EndpointGuid.Bytes()})
	pl = append(pl, wire.Parameter{ID: wire.PidTopicName, Value: encodeCDRString(t.TopicName)})
	pl = append(pl, wire.Parameter{ID: wire.PidTypeName, Value: encodeCDRString(t.TypeName)})
	return pl
}

// UnmarshalTopicData decodes a SEDP topics payload.
func UnmarshalTopicData(pl wire.ParameterList) (TopicData, error) {
	gv, ok := pl.Get(wire.PidEndpointGuid)
	if !ok {
		return TopicData{}, errors.New("discovery: SEDP topic payload missing endpoint guid")
	}
	g, err := guid.Parse(gv)
	if err != nil {
		return TopicData{}, err
	}
	topicName, _ := decodeCDRString(mustGet(pl, wire.PidTopicName))
	typeName, _ := decodeCDRString(mustGet(pl, wire.PidTypeName))
	return TopicData{EndpointGuid: g, TopicName: topicName, TypeName: typeName}, nil
}

// MarshalParticipantMessageData encodes a liveliness assertion body.
// It is carried as the DATA submessage's opaque payload directly
// (CDR, not PL_CDR: this built-in topic has no optional fields).
func MarshalParticipantMessageData(m ParticipantMessageData) []byte {
	buf := make([]byte, guid.PrefixLen+4+4+len(m.Data))
	copy(buf[0:guid.PrefixLen], m.GuidPrefix[:])
	binary.BigEndian.PutUint32(buf[guid.PrefixLen:guid.PrefixLen+4], uint32(m.Kind))
	binary.BigEndian.PutUint32(buf[guid.PrefixLen+4:guid.PrefixLen+8], uint32(len(m.Data)))
	copy(buf[guid.PrefixLen+8:], m.Data)
	return buf
}

// UnmarshalParticipantMessageData decodes a liveliness assertion body.
func UnmarshalParticipantMessageData(b []byte) (ParticipantMessageData, error) {
	if len(b) < guid.PrefixLen+8 {
		return ParticipantMessageData{}, errors.New("discovery: truncated participant message data")
	}
	var m ParticipantMessageData
	copy(m.GuidPrefix[:], b[0:guid.PrefixLen])
	m.Kind = ParticipantMessageKind(binary.BigEndian.Uint32(b[guid.PrefixLen : guid.PrefixLen+4]))
	n := int(binary.BigEndian.Uint32(b[guid.PrefixLen+4 : guid.PrefixLen+8]))
	if guid.PrefixLen+8+n > len(b) {
		return ParticipantMessageData{}, errors.New("discovery: truncated participant message data body")
	}
	m.Data = append([]byte(nil), b[guid.PrefixLen+8:guid.PrefixLen+8+n]...)
	return m, nil
}
