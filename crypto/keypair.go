package crypto

import (
	"crypto/rand"
	"errors"

	"github.com/flynn/noise"
)

// curve is the DH function every keypair in this package is generated on.
// Grounded on the teacher's noise_handshake.go, which builds its cipher
// suite around noise.DH25519 rather than raw curve25519 calls.
var curve = noise.DH25519

// KeyPair is a Curve25519 keypair used for the asymmetric portion of a
// handshake (public-key exchange, session-key wrapping).
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a new random Curve25519 keypair.
func GenerateKeyPair() (*KeyPair, error) {
	dh, err := curve.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, err
	}

	kp := &KeyPair{}
	copy(kp.Public[:], dh.Public)
	copy(kp.Private[:], dh.Private)
	return kp, nil
}

// FromSecretKey derives a keypair from an existing private key.
func FromSecretKey(secretKey [32]byte) (*KeyPair, error) {
	if isZeroKey(secretKey) {
		return nil, errors.New("crypto: invalid secret key: all zeros")
	}

	// Curve25519 public keys are derived by scalar-multiplying the base
	// point by the private scalar; noise exposes this indirectly via
	// GenerateKeypair only, so we reuse the DH operation against the
	// well-known base point representation x=9.
	basePoint := [32]byte{9}
	shared, err := curve.DH(secretKey[:], basePoint[:])
	if err != nil {
		return nil, err
	}

	kp := &KeyPair{Private: secretKey}
	copy(kp.Public[:], shared)
	return kp, nil
}

func isZeroKey(key [32]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
