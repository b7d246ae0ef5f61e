package security

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/dds-go/rtps/guid"
	"github.com/dds-go/rtps/receiver"
	"github.com/dds-go/rtps/wire"
)

// Codec implements receiver.Security: it recovers the plaintext a
// remote participant's Cryptographic plugin sealed, once
// RegisterRemoteEndpoint has installed a key for that participant.
// Encoding the outbound side (wrapping a submessage in SEC_PREFIX/
// SEC_BODY/SEC_POSTFIX before a writer or reader sends it) is exposed
// here as EncodeSubmessage; receiver.Security itself covers only the
// read path.
type Codec struct {
	crypto *BuiltinCryptographic
}

// NewCodec builds a Codec over a BuiltinCryptographic plugin.
func NewCodec(crypto *BuiltinCryptographic) *Codec { return &Codec{crypto: crypto} }

var _ receiver.Security = (*Codec)(nil)

// secureEnvelope is this implementation's SEC_BODY payload shape: who
// sealed it, which local endpoint it targets, and the original
// submessage's kind so the recovered plaintext can be re-decoded.
type secureEnvelope struct {
	category   receiver.SecureCategory
	sender     guid.GuidPrefix
	target     guid.Guid
	innerKind  wire.Kind
	ciphertext []byte
}

func marshalEnvelope(e secureEnvelope) []byte {
	buf := make([]byte, 1+guid.PrefixLen+guid.Len+1+4+len(e.ciphertext))
	off := 0
	buf[off] = byte(e.category)
	off++
	copy(buf[off:], e.sender[:])
	off += guid.PrefixLen
	e.target.Marshal(buf[off:])
	off += guid.Len
	buf[off] = byte(e.innerKind)
	off++
	binary.BigEndian.PutUint32(buf[off:], uint32(len(e.ciphertext)))
	off += 4
	copy(buf[off:], e.ciphertext)
	return buf
}

func unmarshalEnvelope(b []byte) (secureEnvelope, error) {
	const fixed = 1 + guid.PrefixLen + guid.Len + 1 + 4
	if len(b) < fixed {
		return secureEnvelope{}, errors.New("security: truncated secure envelope")
	}
	var e secureEnvelope
	off := 0
	e.category = receiver.SecureCategory(b[off])
	off++
	copy(e.sender[:], b[off:off+guid.PrefixLen])
	off += guid.PrefixLen
	target, err := guid.Parse(b[off:])
	if err != nil {
		return e, err
	}
	e.target = target
	off += guid.Len
	e.innerKind = wire.Kind(b[off])
	off++
	n := int(binary.BigEndian.Uint32(b[off:]))
	off += 4
	if off+n > len(b) {
		return e, errors.New("security: truncated secure envelope ciphertext")
	}
	e.ciphertext = append([]byte(nil), b[off:off+n]...)
	return e, nil
}

// EncodeSubmessage wraps sm as a SEC_PREFIX/SEC_BODY/SEC_POSTFIX group
// sealed for target using sender's registered key.
func (c *Codec) EncodeSubmessage(sm wire.Submessage, sender guid.Guid, target guid.Guid, category receiver.SecureCategory) ([]wire.Submessage, error) {
	plaintext := append([]byte{sm.WireFlags()}, sm.MarshalBody()...)
	ciphertext, err := c.crypto.EncodeSerializedPayload(plaintext, sender)
	if err != nil {
		return nil, err
	}
	env := marshalEnvelope(secureEnvelope{
		category:   category,
		sender:     sender.Prefix,
		target:     target,
		innerKind:  sm.SubmessageKind(),
		ciphertext: ciphertext,
	})
	return []wire.Submessage{
		wire.Raw{Kind: wire.KindSecPrefix},
		wire.Raw{Kind: wire.KindSecBody, Body: env},
		wire.Raw{Kind: wire.KindSecPostfix},
	}, nil
}

// DecodeMessage unwraps a full SRTPS_PREFIX/SRTPS_POSTFIX-bracketed
// message: the SRTPS body is itself an encoded submessage stream,
// sealed under the sending participant's key.
func (c *Codec) DecodeMessage(header wire.Header, raw []byte) (wire.Header, []wire.Submessage, error) {
	_, subs, err := wire.Parse(raw)
	if err != nil {
		return header, nil, err
	}
	if len(subs) < 2 {
		return header, nil, errors.New("security: secure message missing SRTPS body")
	}
	bodyRaw, ok := subs[1].(wire.Raw)
	if !ok {
		return header, nil, errors.New("security: SRTPS body not in expected form")
	}
	sender := guid.New(header.GuidPrefix, guid.EntityIdParticipant)
	plaintext, err := c.crypto.DecodeSerializedPayload(bodyRaw.Body, sender)
	if err != nil {
		return header, nil, err
	}

	full := make([]byte, wire.HeaderLen)
	header.Marshal(full)
	full = append(full, plaintext...)
	innerHeader, innerSubs, err := wire.Parse(full)
	if err != nil {
		return header, nil, err
	}
	return innerHeader, innerSubs, nil
}

// PreprocessSecureSubmessage reads the SEC_BODY envelope's category
// and target without decrypting it.
func (c *Codec) PreprocessSecureSubmessage(group []wire.Submessage) (receiver.SecureCategory, guid.Guid, error) {
	env, err := envelopeOf(group)
	if err != nil {
		return receiver.SecureCategoryUnknown, guid.Guid{}, err
	}
	return env.category, env.target, nil
}

func (c *Codec) DecodeDatawriterSubmessage(group []wire.Submessage, localReader guid.Guid) (wire.Submessage, error) {
	return c.decode(group)
}

func (c *Codec) DecodeDatareaderSubmessage(group []wire.Submessage, localWriter guid.Guid) (wire.Submessage, error) {
	return c.decode(group)
}

func (c *Codec) decode(group []wire.Submessage) (wire.Submessage, error) {
	env, err := envelopeOf(group)
	if err != nil {
		return nil, err
	}
	sender := guid.New(env.sender, guid.EntityIdParticipant)
	plaintext, err := c.crypto.DecodeSerializedPayload(env.ciphertext, sender)
	if err != nil {
		return nil, err
	}
	if len(plaintext) == 0 {
		return nil, errors.New("security: empty decrypted submessage")
	}
	return decodeSingleSubmessage(env.innerKind, plaintext[0], plaintext[1:])
}

func envelopeOf(group []wire.Submessage) (secureEnvelope, error) {
	if len(group) < 2 {
		return secureEnvelope{}, errors.New("security: secure submessage group too short")
	}
	bodyRaw, ok := group[1].(wire.Raw)
	if !ok || bodyRaw.Kind != wire.KindSecBody {
		return secureEnvelope{}, errors.New("security: secure submessage group missing SEC_BODY")
	}
	return unmarshalEnvelope(bodyRaw.Body)
}

// decodeSingleSubmessage re-parses one submessage body against a
// synthetic header, reusing wire.Parse rather than duplicating its
// per-kind dispatch table.
func decodeSingleSubmessage(kind wire.Kind, flags byte, body []byte) (wire.Submessage, error) {
	hdr := wire.Header{Version: wire.Version23, VendorId: wire.VendorIdThisImplementation}
	raw := make([]byte, wire.HeaderLen)
	hdr.Marshal(raw)

	subHdr := make([]byte, wire.SubHeaderLen)
	subHdr[0] = byte(kind)
	subHdr[1] = flags
	var ord binary.ByteOrder = binary.BigEndian
	if flags&wire.EndiannessFlag != 0 {
		ord = binary.LittleEndian
	}
	ord.PutUint16(subHdr[2:4], uint16(len(body)))

	raw = append(raw, subHdr...)
	raw = append(raw, body...)

	_, subs, err := wire.Parse(raw)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, errors.New("security: decoding wrapped submessage produced no result")
	}
	return subs[0], nil
}
