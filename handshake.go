package seclink

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/nullvane/seclink/crypto"
	"github.com/nullvane/seclink/frame"
	"github.com/nullvane/seclink/packet"
)

// writePublicKeyBlob writes this side's public key, length-prefixed in
// plaintext, reusing the frame codec for the length-prefix mechanics even
// though this is not an encrypted frame.
func (c *Connection) writePublicKeyBlob() error {
	_, err := frame.WriteFrame(c.conn, c.asym.PublicKeyBlob())
	return err
}

// readPublicKeyBlob reads the peer's length-prefixed plaintext public key.
func (c *Connection) readPublicKeyBlob() ([]byte, error) {
	blob, _, err := frame.ReadFrame(c.br)
	return blob, err
}

// writeHandshakeLine writes a base64-encoded, LF-terminated line.
func (c *Connection) writeHandshakeLine(s string) error {
	_, err := c.conn.Write([]byte(s + "\n"))
	return err
}

// readHandshakeLine reads a line, tolerating a CRLF terminator even though
// this side always writes bare LF.
func (c *Connection) readHandshakeLine() (string, error) {
	line, err := c.br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// freshSymProvider generates a new symmetric provider with random key and
// nonce, used as the single key an InitHandshake/partial-rekey envelope
// carries for one direction.
func freshSymProvider() (*crypto.SymProvider, [crypto.SymKeySize]byte, [crypto.SymNonceSize]byte, error) {
	var key [crypto.SymKeySize]byte
	var nonce [crypto.SymNonceSize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, key, nonce, err
	}
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, key, nonce, err
	}
	sp, err := crypto.NewSymProvider(key, nonce)
	return sp, key, nonce, err
}

// serializeSymProvider packs a provider's key material as raw bytes:
// key ∥ nonce. It is carried as the Data field of a handshake Packet.
func serializeSymProvider(key [crypto.SymKeySize]byte, nonce [crypto.SymNonceSize]byte) []byte {
	out := make([]byte, 0, crypto.SymKeySize+crypto.SymNonceSize)
	out = append(out, key[:]...)
	out = append(out, nonce[:]...)
	return out
}

// deserializeSymProvider unpacks key ∥ nonce back into a live SymProvider.
func deserializeSymProvider(data []byte) (*crypto.SymProvider, error) {
	want := crypto.SymKeySize + crypto.SymNonceSize
	if len(data) != want {
		return nil, fmt.Errorf("seclink: handshake envelope has %d bytes, want %d", len(data), want)
	}
	var key [crypto.SymKeySize]byte
	var nonce [crypto.SymNonceSize]byte
	copy(key[:], data[:crypto.SymKeySize])
	copy(nonce[:], data[crypto.SymKeySize:])
	return crypto.NewSymProvider(key, nonce)
}

// sendHandshakeEnvelope wraps a fresh SymProvider as an InitHandshake (or
// EndPartialHandshake-adjacent) Packet, seals it to peer, and writes the
// resulting base64 line.
func (c *Connection) sendHandshakeEnvelope(typeID uint32, peer *crypto.PeerHandle, key [crypto.SymKeySize]byte, nonce [crypto.SymNonceSize]byte) error {
	env := packet.New(typeID, serializeSymProvider(key, nonce))
	raw, err := packet.Serialize(env)
	if err != nil {
		return err
	}
	line, err := c.asym.EncryptToPeer(peer, raw)
	if err != nil {
		return err
	}
	return c.writeHandshakeLine(line)
}

// recvHandshakeEnvelope reads a base64 line, opens it, and returns the
// SymProvider it carried.
func (c *Connection) recvHandshakeEnvelope() (*crypto.SymProvider, error) {
	line, err := c.readHandshakeLine()
	if err != nil {
		return nil, err
	}
	raw, err := c.asym.DecryptFromBase64(line)
	if err != nil {
		return nil, err
	}
	p, err := packet.Deserialize(raw)
	if err != nil {
		return nil, err
	}
	return deserializeSymProvider(p.Data)
}

// performFullHandshake runs the full handshake protocol of §4.E: a plaintext
// public-key exchange followed by each side sending the other a fresh
// symmetric key wrapped under that exchanged public key. The caller must
// have set FlagIsBlocking first (but must not hold connMu while calling,
// since this blocks on socket I/O). Wrap passes its own initiator
// argument; on rekey, initiator is decided identically by both sides from
// the connection id total order, not from which side happened to notice
// the rekey was due first (see runRekey).
func (c *Connection) performFullHandshake(initiator bool) error {
	var peerBlob []byte
	var err error

	if initiator {
		if err = c.writePublicKeyBlob(); err != nil {
			return fmt.Errorf("seclink: handshake: write local public key: %w", err)
		}
		if peerBlob, err = c.readPublicKeyBlob(); err != nil {
			return fmt.Errorf("seclink: handshake: read peer public key: %w", err)
		}
	} else {
		if peerBlob, err = c.readPublicKeyBlob(); err != nil {
			return fmt.Errorf("seclink: handshake: read peer public key: %w", err)
		}
		if err = c.writePublicKeyBlob(); err != nil {
			return fmt.Errorf("seclink: handshake: write local public key: %w", err)
		}
	}

	peerHandle, err := c.asym.ImportPeer(peerBlob)
	if err != nil {
		return fmt.Errorf("seclink: handshake: import peer public key: %w", err)
	}

	newEncryptor, key, nonce, err := freshSymProvider()
	if err != nil {
		return fmt.Errorf("seclink: handshake: generate outbound key: %w", err)
	}

	if initiator {
		if err := c.sendHandshakeEnvelope(packet.InitHandshake, peerHandle, key, nonce); err != nil {
			return fmt.Errorf("seclink: handshake: send outbound key: %w", err)
		}
		newDecryptor, err := c.recvHandshakeEnvelope()
		if err != nil {
			return fmt.Errorf("seclink: handshake: receive peer key: %w", err)
		}
		c.installSessionKeys(newEncryptor, newDecryptor)
	} else {
		newDecryptor, err := c.recvHandshakeEnvelope()
		if err != nil {
			return fmt.Errorf("seclink: handshake: receive peer key: %w", err)
		}
		if err := c.sendHandshakeEnvelope(packet.InitHandshake, peerHandle, key, nonce); err != nil {
			return fmt.Errorf("seclink: handshake: send outbound key: %w", err)
		}
		c.installSessionKeys(newEncryptor, newDecryptor)
	}

	c.connMu.Lock()
	c.lastHandshake = c.cfgOpts.now()
	c.connMu.Unlock()
	return nil
}

// recvControlPacket reads and decrypts one frame under the current
// decryptor and confirms it carries the expected control packet type. Used
// for the partial handshake's announce/end-marker steps, which must be
// consumed off the wire through the normal encrypted channel rather than
// left for the next frame read to stumble on (or read raw, which would
// advance the peer's encryptor without advancing this side's matching
// decryptor, desynchronizing the keystream for every packet after it).
func (c *Connection) recvControlPacket(want uint32) error {
	p, _, err := c.readOnePacket()
	if err != nil {
		return err
	}
	if p.TypeID != want {
		return fmt.Errorf("seclink: partial handshake: expected control packet %d, got %d", want, p.TypeID)
	}
	return nil
}

// performPartialHandshake runs the fast-rekey protocol of §4.E: only the
// inbound-of-requester direction rotates. initiator identifies which side
// originated the InitPartialHandshake exchange. Both sides send and then
// consume the InitPartialHandshake announce before touching the raw
// plaintext pubkey frames, since those frames share the same
// [LE32 len][bytes] wire shape as an unread encrypted control frame and
// would otherwise be misread as the peer's public key.
func (c *Connection) performPartialHandshake(initiator bool) error {
	if err := c.sendControlLocked(packet.InitPartialHandshake, nil); err != nil {
		return fmt.Errorf("seclink: partial handshake: announce: %w", err)
	}
	if err := c.recvControlPacket(packet.InitPartialHandshake); err != nil {
		return fmt.Errorf("seclink: partial handshake: await announce: %w", err)
	}

	if err := c.writePublicKeyBlob(); err != nil {
		return fmt.Errorf("seclink: partial handshake: write local public key: %w", err)
	}
	peerBlob, err := c.readPublicKeyBlob()
	if err != nil {
		return fmt.Errorf("seclink: partial handshake: read peer public key: %w", err)
	}
	peerHandle, err := c.asym.ImportPeer(peerBlob)
	if err != nil {
		return fmt.Errorf("seclink: partial handshake: import peer public key: %w", err)
	}

	if initiator {
		newDecryptor, err := c.recvHandshakeEnvelope()
		if err != nil {
			return fmt.Errorf("seclink: partial handshake: receive rotated key: %w", err)
		}
		_ = newDecryptor.Reset()
		c.readMu.Lock()
		old := c.decryptor
		c.decryptor = newDecryptor
		c.readMu.Unlock()
		if old != nil {
			old.Wipe()
		}

		if err := c.sendControlLocked(packet.EndPartialHandshake, nil); err != nil {
			return fmt.Errorf("seclink: partial handshake: send end marker: %w", err)
		}
		if err := c.recvControlPacket(packet.EndPartialHandshake); err != nil {
			return fmt.Errorf("seclink: partial handshake: confirm end marker: %w", err)
		}
	} else {
		newEncryptor, key, nonce, err := freshSymProvider()
		if err != nil {
			return fmt.Errorf("seclink: partial handshake: generate rotated key: %w", err)
		}
		if err := c.sendHandshakeEnvelope(packet.InitHandshake, peerHandle, key, nonce); err != nil {
			return fmt.Errorf("seclink: partial handshake: send rotated key: %w", err)
		}
		_ = newEncryptor.Reset()
		c.writeMu.Lock()
		old := c.encryptor
		c.encryptor = newEncryptor
		c.writeMu.Unlock()
		if old != nil {
			old.Wipe()
		}

		if err := c.recvControlPacket(packet.EndPartialHandshake); err != nil {
			return fmt.Errorf("seclink: partial handshake: await end marker: %w", err)
		}
		if err := c.sendControlLocked(packet.EndPartialHandshake, nil); err != nil {
			return fmt.Errorf("seclink: partial handshake: echo end marker: %w", err)
		}
	}

	c.connMu.Lock()
	c.lastHandshake = c.cfgOpts.now()
	c.connMu.Unlock()
	return nil
}

// installSessionKeys atomically replaces both providers and resets them,
// per the handshake contract ("both install fresh encryptor/decryptor
// pairs and call reset() on each before returning").
func (c *Connection) installSessionKeys(encryptor, decryptor *crypto.SymProvider) {
	_ = encryptor.Reset()
	_ = decryptor.Reset()

	c.writeMu.Lock()
	old := c.encryptor
	c.encryptor = encryptor
	c.writeMu.Unlock()
	if old != nil {
		old.Wipe()
	}

	c.readMu.Lock()
	old = c.decryptor
	c.decryptor = decryptor
	c.readMu.Unlock()
	if old != nil {
		old.Wipe()
	}
}
