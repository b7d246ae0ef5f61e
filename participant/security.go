package participant

import (
	"github.com/dds-go/rtps/discovery"
	"github.com/dds-go/rtps/reactor"
	"github.com/dds-go/rtps/security"
)

// SecurityConfig selects the pre-shared key and AEAD cipher the
// builtin DDS-Security plugins use. A participant on which
// EnableSecurity is never called exchanges plaintext RTPS;
// EnableSecurity does not reject an empty PreSharedKey.
type SecurityConfig struct {
	PreSharedKey []byte
	// Cipher selects the Cryptographic plugin's AEAD construction:
	// "chacha20poly1305" or "aes-gcm" (the default for any other value).
	Cipher string
}

// EnableSecurity installs the builtin PSK-based Authentication,
// permissive AccessControl, and AEAD-backed Cryptographic plugins,
// registers the stateless-message handshake endpoints on SEDP's
// metatraffic loop, and installs the resulting codec on both receivers. Every
// participant in the domain must be configured with the same
// PreSharedKey. Every remote participant discovery finds from this
// point on is offered a handshake via onParticipantDiscovered; remotes
// already known before this call are not retroactively handshaked.
func (p *Participant) EnableSecurity(cfg SecurityConfig) {
	localGuid := p.Guid()
	auth := security.NewBuiltinAuthentication(localGuid, cfg.PreSharedKey)
	access := security.NewBuiltinAccessControl()
	crypto := security.NewBuiltinCryptographic(cfg.Cipher)

	sd := security.NewSecureDiscovery(localGuid, auth, crypto)
	p.security = sd
	p.accessControl = access

	// The handshake rides the same metatraffic unicast socket and
	// locators SEDP uses, so its endpoints are registered on Sedp's
	// loop rather than the user-data loop.
	metaLoop := p.disc.Sedp.Loop()
	metaLoop.AddWriter(sd.Writer())
	metaLoop.AddReader(sd.Reader())
	sd.SetLoop(metaLoop)

	codec := security.NewCodec(crypto)
	p.SetSecurity(codec)

	p.disc.OnParticipantDiscovered = p.onParticipantDiscovered

	stop := make(chan struct{})
	p.cancelSecurity = func() { close(stop) }
	p.group.Go(func() error { sd.RunResends(stop); return nil })
}

// onParticipantDiscovered is wired to Discovery's discovery callback
// once security is enabled, offering a handshake to every newly
// discovered remote participant. Before EnableSecurity is called this
// is unset and discovery proceeds exactly as an unsecured
// participant's would.
func (p *Participant) onParticipantDiscovered(pd discovery.DiscoveredParticipantData) {
	if p.security == nil {
		return
	}
	prefix := pd.ParticipantGuid.Prefix
	unicast, multicast := pd.MetatrafficUnicastLocators, pd.MetatrafficMulticastLocators
	p.disc.Sedp.Loop().NotifyDiscovery(func(l *reactor.Loop) {
		p.security.AddMatchedRemote(prefix, unicast, multicast)
	})
}
