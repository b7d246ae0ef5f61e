// Package security implements DDS-Security's builtin plugins: participant
// authentication over a pre-shared key, a permissive access-control
// plugin, and a cryptographic plugin that signs or encrypts user-data
// submessages once two participants have completed a handshake.
package security

import "github.com/dds-go/rtps/guid"

// HandshakeState is where a pairwise authentication exchange with one
// remote participant currently stands.
type HandshakeState int

const (
	HandshakePending HandshakeState = iota
	HandshakeInProgress
	HandshakeOkFinalMessageSent
	HandshakeOkFinalMessageReceived
	HandshakeDone
	HandshakeRejected
)

func (s HandshakeState) String() string {
	switch s {
	case HandshakePending:
		return "PENDING"
	case HandshakeInProgress:
		return "IN_PROGRESS"
	case HandshakeOkFinalMessageSent:
		return "OK_FINAL_MESSAGE_SENT"
	case HandshakeOkFinalMessageReceived:
		return "OK_FINAL_MESSAGE_RECEIVED"
	case HandshakeDone:
		return "DONE"
	case HandshakeRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// TransformKind selects what a Cryptographic plugin does to a
// submessage before it leaves the process, per endpoint.
type TransformKind int

const (
	TransformNone TransformKind = iota
	TransformSign
	TransformEncrypt
	TransformEncryptAndSign
)

// Authentication validates a remote participant's identity. The
// builtin plugin proves possession of a shared pre-shared key; a PKI
// plugin would instead validate certificate chains, which is why this
// is a pluggable interface rather than a concrete type.
type Authentication interface {
	// ValidateRemoteIdentity compares the local and remote GUIDs
	// and decides whether this side should initiate or reply,
	// following the lower-GUID-sends-first tie-break.
	ValidateRemoteIdentity(localGuid, remoteGuid guid.Guid) (shouldInitiate bool, err error)

	// BeginHandshakeRequest produces the first message this side sends
	// when it is the initiator.
	BeginHandshakeRequest(remoteGuid guid.Guid) ([]byte, error)

	// ProcessHandshake advances the handshake state machine with an
	// inbound message, returning the reply to send (nil if none) and
	// whether the handshake completed.
	ProcessHandshake(remoteGuid guid.Guid, state HandshakeState, message []byte) (reply []byte, next HandshakeState, sharedSecret []byte, err error)
}

// AccessControl decides whether an authenticated remote participant
// may publish or subscribe to a given topic. The builtin plugin
// grants everything once authentication succeeds; a governance/
// permissions-document plugin would instead consult signed XML, which
// is why callers reach this only through the interface.
type AccessControl interface {
	CheckRemotePublish(remoteGuid guid.Guid, topicName string) bool
	CheckRemoteSubscribe(remoteGuid guid.Guid, topicName string) bool
}

// Cryptographic seals and opens serialized payloads under a
// per-remote key once a shared secret has been established for the
// remote endpoint; Codec builds the SEC_PREFIX/SEC_BODY/SEC_POSTFIX
// wire framing around the sealed bytes.
type Cryptographic interface {
	RegisterLocalEndpoint(id guid.Guid, kind TransformKind)
	RegisterRemoteEndpoint(local, remote guid.Guid, sharedSecret []byte, kind TransformKind)

	EncodeSerializedPayload(payload []byte, sender guid.Guid) ([]byte, error)
	DecodeSerializedPayload(encoded []byte, sender guid.Guid) ([]byte, error)
}
