// Package crypto implements the cryptographic primitives for a mutually
// authenticated, encrypted point-to-point stream connection.
//
// It provides three collaborating pieces:
//
//   - [KeyPair] / [AsymHelper]: ephemeral Curve25519 keypairs and the
//     asymmetric wrap/unwrap operation used to exchange session keys during
//     a handshake.
//   - [SymProvider]: a keystream-oriented stream cipher used to encrypt and
//     decrypt frame payloads once a session key has been installed.
//   - secure memory helpers for wiping key material once a connection or
//     rekey round retires it.
//
// # Handshake Key Exchange
//
//	local, _ := crypto.GenerateKeyPair()
//	asym := crypto.NewAsymHelper(local)
//	peer, _ := asym.ImportPeer(peerPublicKeyBlob)
//	blob, _ := asym.EncryptToPeer(peer, serializedSymProvider)
//	plaintext, _ := asym.DecryptFromBase64(blob)
//
// # Session Encryption
//
//	sp, _ := crypto.NewSymProvider(key, nonce)
//	ciphertext, _ := sp.Encrypt(plaintext)
//	sp.Reset()
//
// # Secure Memory Handling
//
// Key material should be wiped once a connection or a superseded session
// key is no longer needed:
//
//	defer crypto.WipeKeyPair(kp)
//	defer sp.Wipe()
package crypto
