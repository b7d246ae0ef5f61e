package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

// AeadCipher seals and opens a submessage body under a per-endpoint
// key, each implementation choosing its own nonce size and AEAD
// construction. Interchangeable the way std/crypt.go's cryptMethods
// table makes kcptun's block ciphers interchangeable, but keyed by a
// fixed name lookup instead of a user-supplied CLI flag, since DDS
// security negotiates the transform kind, not the cipher family.
type AeadCipher interface {
	Seal(plaintext []byte) (sealed []byte, err error)
	Open(sealed []byte) (plaintext []byte, err error)
}

type aesGcmCipher struct{ aead cipher.AEAD }

// NewAESGCMCipher builds an AeadCipher over AES-256-GCM from a raw key.
func NewAESGCMCipher(key []byte) (AeadCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "security: aes-gcm key")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "security: aes-gcm")
	}
	return &aesGcmCipher{aead: aead}, nil
}

func (c *aesGcmCipher) Seal(plaintext []byte) ([]byte, error) {
	return seal(c.aead, plaintext)
}

func (c *aesGcmCipher) Open(sealed []byte) ([]byte, error) {
	return open(c.aead, sealed)
}

type chachaCipher struct{ aead cipher.AEAD }

// NewChaCha20Poly1305Cipher builds an AeadCipher over ChaCha20-Poly1305
// from a raw key, for peers that prefer to avoid AES-NI dependence.
func NewChaCha20Poly1305Cipher(key []byte) (AeadCipher, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.Wrap(err, "security: chacha20poly1305 key")
	}
	return &chachaCipher{aead: aead}, nil
}

func (c *chachaCipher) Seal(plaintext []byte) ([]byte, error) {
	return seal(c.aead, plaintext)
}

func (c *chachaCipher) Open(sealed []byte) ([]byte, error) {
	return open(c.aead, sealed)
}

func seal(aead cipher.AEAD, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "security: generating nonce")
	}
	out := aead.Seal(nonce, nonce, plaintext, nil)
	return out, nil
}

func open(aead cipher.AEAD, sealed []byte) ([]byte, error) {
	n := aead.NonceSize()
	if len(sealed) < n {
		return nil, errors.New("security: sealed payload shorter than nonce")
	}
	nonce, ciphertext := sealed[:n], sealed[n:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(err, "security: authentication failed")
	}
	return plaintext, nil
}

// deriveSharedKey folds a handshake's raw shared secret down to a
// fixed-size AEAD key, matching server/main.go's SALT/PBKDF2 key
// derivation from a pre-shared passphrase.
func deriveSharedKey(sharedSecret, salt []byte, keyLen int) []byte {
	return pbkdf2.Key(sharedSecret, salt, 4096, keyLen, sha256.New)
}
