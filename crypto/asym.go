package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"crypto/sha256"
	"io"
)

// PeerHandle is an imported peer public key, usable as the target of
// EncryptToPeer and as the implicit counterpart of DecryptFromBase64.
type PeerHandle struct {
	public [32]byte
}

// AsymHelper performs the asymmetric portion of a handshake with the
// keypair it was constructed with (it does not generate one itself):
// exporting its public half, importing a peer's public half, and
// sealing/opening short blobs (serialized SymProvider material) addressed
// to that peer.
//
// Grounded on the teacher's session_keys.go EphemeralKeyManager (one fresh
// keypair per handshake round) and encrypt.go/decrypt.go (seal/open of a
// short blob), rewired from nacl/box onto a Noise DH25519 shared secret
// stretched through HKDF into a chacha20poly1305 AEAD key. No padding mode
// is negotiated; both ends rely on the AEAD's own length handling.
type AsymHelper struct {
	local *KeyPair
	peer  *PeerHandle
}

// MaxAsymPlaintext bounds the size of a blob EncryptToPeer will seal. This
// stands in for the spec's "oversize plaintext (> key modulus)" failure
// mode: an AEAD has no modulus, so a generous fixed ceiling plays the same
// role of rejecting obviously-wrong input before it hits the wire.
const MaxAsymPlaintext = 16 * 1024

// NewAsymHelper wraps a freshly generated or caller-supplied keypair.
func NewAsymHelper(local *KeyPair) *AsymHelper {
	return &AsymHelper{local: local}
}

// Wipe securely erases the local keypair's private scalar and drops the
// imported peer handle. The helper must not be used afterward.
func (a *AsymHelper) Wipe() {
	_ = WipeKeyPair(a.local)
	a.peer = nil
}

// PublicKeyBlob returns this helper's public key, exportable for peer
// import.
func (a *AsymHelper) PublicKeyBlob() []byte {
	pub := make([]byte, 32)
	copy(pub, a.local.Public[:])
	return pub
}

// ImportPeer records the peer's public key blob as the counterpart for
// subsequent EncryptToPeer/DecryptFromBase64 calls.
func (a *AsymHelper) ImportPeer(blob []byte) (*PeerHandle, error) {
	if len(blob) != 32 {
		return nil, fmt.Errorf("crypto: malformed peer public key blob: want 32 bytes, got %d", len(blob))
	}
	peer := &PeerHandle{}
	copy(peer.public[:], blob)
	a.peer = peer
	return peer, nil
}

// EncryptToPeer seals data under a key derived from the DH25519 shared
// secret between the local private key and peer's public key, and returns
// it base64-encoded for line-oriented transport.
func (a *AsymHelper) EncryptToPeer(peer *PeerHandle, data []byte) (string, error) {
	if peer == nil {
		return "", errors.New("crypto: nil peer handle")
	}
	if len(data) > MaxAsymPlaintext {
		return "", fmt.Errorf("crypto: plaintext too large: %d > %d", len(data), MaxAsymPlaintext)
	}

	aead, err := a.aeadFor(peer)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := aead.Seal(nil, nonce, data, nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)

	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptFromBase64 opens a blob sealed by EncryptToPeer, using the most
// recently imported peer (ImportPeer must be called first).
func (a *AsymHelper) DecryptFromBase64(text string) ([]byte, error) {
	if a.peer == nil {
		return nil, errors.New("crypto: no peer imported")
	}

	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("crypto: malformed base64 envelope: %w", err)
	}

	aead, err := a.aeadFor(a.peer)
	if err != nil {
		return nil, err
	}

	if len(raw) < aead.NonceSize() {
		return nil, errors.New("crypto: envelope shorter than nonce")
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: envelope authentication failed: %w", err)
	}
	return plaintext, nil
}

// aeadFor derives the chacha20poly1305 AEAD for the shared secret between
// the local keypair and the given peer.
func (a *AsymHelper) aeadFor(peer *PeerHandle) (cipherAEAD, error) {
	shared, err := curve.DH(a.local.Private[:], peer.public[:])
	if err != nil {
		return nil, err
	}

	kdf := hkdf.New(sha256.New, shared, nil, []byte("seclink asym wrap v1"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	defer ZeroBytes(shared)
	defer ZeroBytes(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return aead, nil
}

// cipherAEAD is the subset of cipher.AEAD this package exercises; naming it
// keeps aeadFor's return type independent of which AEAD construction is
// selected.
type cipherAEAD interface {
	NonceSize() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}
