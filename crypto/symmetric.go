package crypto

import (
	"errors"

	"golang.org/x/crypto/chacha20"
)

// SymKeySize and SymNonceSize are the key/nonce lengths chacha20 requires.
const (
	SymKeySize   = chacha20.KeySize
	SymNonceSize = chacha20.NonceSize
)

// SymProvider is a stateful, keystream-oriented stream cipher. Encrypt and
// Decrypt both advance the same internal keystream position, so a provider
// used for encryption on one side must be mirrored by an identically-keyed
// provider used for decryption on the other side, advancing in lockstep.
//
// Reset restores the cipher to the state set at construction time, not the
// state at whatever point Reset is called from — it reconstructs the
// underlying chacha20.Cipher from the originally-installed key and nonce.
type SymProvider struct {
	key   [SymKeySize]byte
	nonce [SymNonceSize]byte
	c     *chacha20.Cipher
}

// NewSymProvider installs key and nonce as the provider's initial state and
// returns it already reset (ready to encrypt/decrypt from position zero).
func NewSymProvider(key [SymKeySize]byte, nonce [SymNonceSize]byte) (*SymProvider, error) {
	sp := &SymProvider{key: key, nonce: nonce}
	if err := sp.Reset(); err != nil {
		return nil, err
	}
	return sp, nil
}

// Reset restores the cipher to its originally-installed key/nonce.
func (s *SymProvider) Reset() error {
	c, err := chacha20.NewUnauthenticatedCipher(s.key[:], s.nonce[:])
	if err != nil {
		return err
	}
	s.c = c
	return nil
}

// Encrypt XORs the keystream into a copy of plaintext, advancing state.
// The output is exactly len(plaintext) bytes, satisfying the
// length-preserving requirement of a keystream cipher.
func (s *SymProvider) Encrypt(plaintext []byte) ([]byte, error) {
	if s.c == nil {
		return nil, errors.New("crypto: symmetric provider not initialized")
	}
	out := make([]byte, len(plaintext))
	s.c.XORKeyStream(out, plaintext)
	return out, nil
}

// Decrypt is identical to Encrypt: chacha20 keystream XOR is its own
// inverse.
func (s *SymProvider) Decrypt(ciphertext []byte) ([]byte, error) {
	return s.Encrypt(ciphertext)
}

// KeyMaterial returns the key and nonce this provider was installed with,
// used when serializing a SymProvider into a handshake Packet.
func (s *SymProvider) KeyMaterial() (key [SymKeySize]byte, nonce [SymNonceSize]byte) {
	return s.key, s.nonce
}

// Wipe securely erases the key material backing this provider. The
// provider must not be used afterward.
func (s *SymProvider) Wipe() {
	ZeroBytes(s.key[:])
	ZeroBytes(s.nonce[:])
	s.c = nil
}
