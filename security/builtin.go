package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"sync"

	"github.com/pkg/errors"

	"github.com/dds-go/rtps/guid"
)

// pskSalt is a fixed domain-separation salt folded into every key
// derivation; it is not a secret, only a tag that keeps this
// implementation's derived keys from colliding with some other
// protocol's use of the same pre-shared key.
var pskSalt = []byte("dds-go/rtps/security/v1")

// BuiltinAuthentication authenticates remote participants by proving
// possession of a shared pre-shared key over a nonce exchange. It
// stands in for a PKI-backed plugin (RSA/EC certificate chains) the
// way std/crypt.go's "null"/"xor" methods stand in for a real cipher
// during development — production deployments are expected to swap in
// a certificate-based Authentication implementation.
type BuiltinAuthentication struct {
	localGuid guid.Guid
	psk       []byte

	mu      sync.Mutex
	nonces  map[guid.Guid][]byte // nonce we sent to this remote
}

// NewBuiltinAuthentication constructs a PSK-based Authentication
// plugin. Every participant in the domain must be configured with the
// same psk.
func NewBuiltinAuthentication(localGuid guid.Guid, psk []byte) *BuiltinAuthentication {
	return &BuiltinAuthentication{
		localGuid: localGuid,
		psk:       psk,
		nonces:    make(map[guid.Guid][]byte),
	}
}

func (a *BuiltinAuthentication) ValidateRemoteIdentity(localGuid, remoteGuid guid.Guid) (bool, error) {
	return localGuid.Compare(remoteGuid) < 0, nil
}

// BeginHandshakeRequest sends a random nonce as the challenge; the
// remote proves it holds psk by returning an HMAC over that nonce
// plus one of its own.
func (a *BuiltinAuthentication) BeginHandshakeRequest(remoteGuid guid.Guid) ([]byte, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "security: generating handshake nonce")
	}
	a.mu.Lock()
	a.nonces[remoteGuid] = nonce
	a.mu.Unlock()
	return encodeHandshakeRequest(nonce), nil
}

// ProcessHandshake implements the three-message PSK exchange:
//
//  1. requester -> replier: request{nonceA}
//  2. replier -> requester: reply{nonceB, mac(psk, nonceA||nonceB)}
//  3. requester -> replier: final{mac(psk, nonceB||nonceA)}
//
// The shared secret handed to the Cryptographic plugin on success is
// HMAC(psk, nonceA||nonceB), computed identically by both sides.
func (a *BuiltinAuthentication) ProcessHandshake(remoteGuid guid.Guid, state HandshakeState, message []byte) ([]byte, HandshakeState, []byte, error) {
	switch state {
	case HandshakePending:
		// We are the replier seeing an initial request.
		nonceA, err := decodeHandshakeRequest(message)
		if err != nil {
			return nil, HandshakeRejected, nil, err
		}
		nonceB := make([]byte, 32)
		if _, err := rand.Read(nonceB); err != nil {
			return nil, HandshakeRejected, nil, errors.Wrap(err, "security: generating reply nonce")
		}
		mac := macOf(a.psk, nonceA, nonceB)
		a.mu.Lock()
		a.nonces[remoteGuid] = append(append([]byte{}, nonceA...), nonceB...)
		a.mu.Unlock()
		return encodeHandshakeReply(nonceB, mac), HandshakeInProgress, nil, nil

	case HandshakeInProgress:
		// We are either the requester seeing the reply, or the replier
		// seeing the final message; distinguish by payload shape.
		if nonceB, mac, ok := decodeHandshakeReply(message); ok {
			a.mu.Lock()
			nonceA := a.nonces[remoteGuid]
			a.mu.Unlock()
			if !hmac.Equal(mac, macOf(a.psk, nonceA, nonceB)) {
				return nil, HandshakeRejected, nil, errors.New("security: handshake reply mac mismatch")
			}
			finalMac := macOf(a.psk, nonceB, nonceA)
			secret := macOf(a.psk, nonceA, nonceB)
			return encodeHandshakeFinal(finalMac), HandshakeDone, secret, nil
		}
		if finalMac, ok := decodeHandshakeFinal(message); ok {
			a.mu.Lock()
			both := a.nonces[remoteGuid]
			a.mu.Unlock()
			if len(both) != 64 {
				return nil, HandshakeRejected, nil, errors.New("security: no pending handshake state for final message")
			}
			nonceA, nonceB := both[:32], both[32:]
			if !hmac.Equal(finalMac, macOf(a.psk, nonceB, nonceA)) {
				return nil, HandshakeRejected, nil, errors.New("security: handshake final mac mismatch")
			}
			secret := macOf(a.psk, nonceA, nonceB)
			return nil, HandshakeDone, secret, nil
		}
		return nil, HandshakeRejected, nil, errors.New("security: unrecognized handshake message")

	default:
		return nil, HandshakeRejected, nil, errors.Errorf("security: no handshake step from state %v", state)
	}
}

func macOf(psk, a, b []byte) []byte {
	h := hmac.New(sha256.New, psk)
	h.Write(a)
	h.Write(b)
	return h.Sum(nil)
}

const (
	handshakeMsgRequest byte = 1
	handshakeMsgReply   byte = 2
	handshakeMsgFinal   byte = 3
)

func encodeHandshakeRequest(nonce []byte) []byte {
	return append([]byte{handshakeMsgRequest}, nonce...)
}

func decodeHandshakeRequest(msg []byte) ([]byte, error) {
	if len(msg) != 33 || msg[0] != handshakeMsgRequest {
		return nil, errors.New("security: malformed handshake request")
	}
	return msg[1:], nil
}

func encodeHandshakeReply(nonceB, mac []byte) []byte {
	out := []byte{handshakeMsgReply}
	out = append(out, nonceB...)
	out = append(out, mac...)
	return out
}

func decodeHandshakeReply(msg []byte) (nonceB, mac []byte, ok bool) {
	if len(msg) != 65 || msg[0] != handshakeMsgReply {
		return nil, nil, false
	}
	return msg[1:33], msg[33:65], true
}

func encodeHandshakeFinal(mac []byte) []byte {
	return append([]byte{handshakeMsgFinal}, mac...)
}

func decodeHandshakeFinal(msg []byte) (mac []byte, ok bool) {
	if len(msg) != 33 || msg[0] != handshakeMsgFinal {
		return nil, false
	}
	return msg[1:], true
}

// BuiltinAccessControl grants every authenticated remote participant
// full publish/subscribe access. A governance-document-driven plugin
// would instead parse signed XML permissions, which is why this sits
// behind the AccessControl interface rather than being inlined into
// SecureDiscovery.
type BuiltinAccessControl struct{}

func NewBuiltinAccessControl() *BuiltinAccessControl { return &BuiltinAccessControl{} }

func (BuiltinAccessControl) CheckRemotePublish(guid.Guid, string) bool   { return true }
func (BuiltinAccessControl) CheckRemoteSubscribe(guid.Guid, string) bool { return true }

// BuiltinCryptographic signs or encrypts submessage payloads with a
// per-remote-participant AEAD key derived from that participant's
// handshake shared secret via PBKDF2, mirroring server/main.go's
// SALT/PBKDF2 derivation of its KCP block-cipher key from a
// passphrase.
type BuiltinCryptographic struct {
	mu    sync.Mutex
	local map[guid.Guid]TransformKind
	ciphers map[guid.Guid]AeadCipher
	kinds   map[guid.Guid]TransformKind
	newCipher func(key []byte) (AeadCipher, error)
}

// NewBuiltinCryptographic builds a Cryptographic plugin. cipherName
// selects the AEAD construction used for every registered endpoint;
// "chacha20poly1305" picks NewChaCha20Poly1305Cipher, anything else
// (including "aes-gcm" or the empty string) picks NewAESGCMCipher.
func NewBuiltinCryptographic(cipherName string) *BuiltinCryptographic {
	newCipher := NewAESGCMCipher
	if cipherName == "chacha20poly1305" {
		newCipher = NewChaCha20Poly1305Cipher
	}
	return &BuiltinCryptographic{
		local:     make(map[guid.Guid]TransformKind),
		ciphers:   make(map[guid.Guid]AeadCipher),
		kinds:     make(map[guid.Guid]TransformKind),
		newCipher: newCipher,
	}
}

func (c *BuiltinCryptographic) RegisterLocalEndpoint(id guid.Guid, kind TransformKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local[id] = kind
}

func (c *BuiltinCryptographic) RegisterRemoteEndpoint(local, remote guid.Guid, sharedSecret []byte, kind TransformKind) {
	keyLen := 32
	key := deriveSharedKey(sharedSecret, append(pskSalt, remote.Bytes()...), keyLen)
	aead, err := c.newCipher(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		// Leave remote unregistered; EncodeSerializedPayload/
		// DecodeSerializedPayload will fail closed for it below.
		return
	}
	c.ciphers[remote] = aead
	c.kinds[remote] = kind
}

func (c *BuiltinCryptographic) EncodeSerializedPayload(payload []byte, sender guid.Guid) ([]byte, error) {
	c.mu.Lock()
	aead, ok := c.ciphers[sender]
	c.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("security: no cipher registered for %v", sender)
	}
	return aead.Seal(payload)
}

func (c *BuiltinCryptographic) DecodeSerializedPayload(encoded []byte, sender guid.Guid) ([]byte, error) {
	c.mu.Lock()
	aead, ok := c.ciphers[sender]
	c.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("security: no cipher registered for %v", sender)
	}
	return aead.Open(encoded)
}

// TransformKindFor reports the negotiated transform for a remote
// endpoint, defaulting to TransformNone when nothing has been
// registered (e.g. the handshake never completed).
func (c *BuiltinCryptographic) TransformKindFor(remote guid.Guid) TransformKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kinds[remote]
}
