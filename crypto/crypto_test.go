package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	require.False(t, isZeroKey(kp.Public))
	require.False(t, isZeroKey(kp.Private))

	kp2, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NotEqual(t, kp.Public, kp2.Public)
}

func TestFromSecretKeyRejectsZero(t *testing.T) {
	_, err := FromSecretKey([32]byte{})
	require.Error(t, err)
}

func TestAsymHelperRoundTrip(t *testing.T) {
	aliceKP, err := GenerateKeyPair()
	require.NoError(t, err)
	bobKP, err := GenerateKeyPair()
	require.NoError(t, err)

	alice := NewAsymHelper(aliceKP)
	bob := NewAsymHelper(bobKP)

	bobPeer, err := alice.ImportPeer(bob.PublicKeyBlob())
	require.NoError(t, err)
	_, err = bob.ImportPeer(alice.PublicKeyBlob())
	require.NoError(t, err)

	msg := []byte("session key material")
	blob, err := alice.EncryptToPeer(bobPeer, msg)
	require.NoError(t, err)

	got, err := bob.DecryptFromBase64(blob)
	require.NoError(t, err)
	require.Equal(t, msg, got)
}

func TestAsymHelperRejectsTamperedEnvelope(t *testing.T) {
	aliceKP, _ := GenerateKeyPair()
	bobKP, _ := GenerateKeyPair()
	alice := NewAsymHelper(aliceKP)
	bob := NewAsymHelper(bobKP)

	bobPeer, _ := alice.ImportPeer(bob.PublicKeyBlob())
	_, _ = bob.ImportPeer(alice.PublicKeyBlob())

	blob, err := alice.EncryptToPeer(bobPeer, []byte("hello"))
	require.NoError(t, err)

	tampered := blob[:len(blob)-2] + "AA"
	_, err = bob.DecryptFromBase64(tampered)
	require.Error(t, err)
}

func TestSymProviderEncryptDecryptRoundTrip(t *testing.T) {
	var key [SymKeySize]byte
	var nonce [SymNonceSize]byte
	copy(key[:], bytes.Repeat([]byte{0x42}, SymKeySize))
	copy(nonce[:], bytes.Repeat([]byte{0x07}, SymNonceSize))

	enc, err := NewSymProvider(key, nonce)
	require.NoError(t, err)
	dec, err := NewSymProvider(key, nonce)
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	ciphertext, err := enc.Encrypt(plaintext)
	require.NoError(t, err)
	require.Len(t, ciphertext, len(plaintext))
	require.NotEqual(t, plaintext, ciphertext)

	decrypted, err := dec.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestSymProviderResetRestoresInitialState(t *testing.T) {
	var key [SymKeySize]byte
	var nonce [SymNonceSize]byte
	copy(key[:], bytes.Repeat([]byte{0x11}, SymKeySize))

	sp, err := NewSymProvider(key, nonce)
	require.NoError(t, err)

	first, _ := sp.Encrypt([]byte("abc"))
	require.NoError(t, sp.Reset())
	second, _ := sp.Encrypt([]byte("abc"))

	require.Equal(t, first, second)
}
