package seclink

import (
	"net"
	"testing"
	"time"

	"github.com/nullvane/seclink/crypto"
	"github.com/nullvane/seclink/packet"
)

// wrapPair completes the handshake on both ends of a net.Pipe concurrently
// (each side's Wrap blocks reading the other's public key) and returns the
// two live connections.
func wrapPair(t *testing.T, opts ...Option) (*Connection, *Connection) {
	t.Helper()

	clientConn, serverConn := net.Pipe()

	clientKP, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate client keypair: %v", err)
	}
	serverKP, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate server keypair: %v", err)
	}

	type result struct {
		conn *Connection
		err  error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)

	go func() {
		c, err := Wrap(clientConn, crypto.NewAsymHelper(clientKP), true, opts...)
		clientCh <- result{c, err}
	}()
	go func() {
		c, err := Wrap(serverConn, crypto.NewAsymHelper(serverKP), false, opts...)
		serverCh <- result{c, err}
	}()

	clientRes := <-clientCh
	serverRes := <-serverCh

	if clientRes.err != nil {
		t.Fatalf("client Wrap failed: %v", clientRes.err)
	}
	if serverRes.err != nil {
		t.Fatalf("server Wrap failed: %v", serverRes.err)
	}

	return clientRes.conn, serverRes.conn
}

func TestWrapCompletesHandshakeAndMarksConnected(t *testing.T) {
	client, server := wrapPair(t, WithInitialConfigFlags(ConfigManualRead))
	defer client.Close()
	defer server.Close()

	if !client.Connected() {
		t.Fatalf("expected client Connected() true after Wrap")
	}
	if !server.Connected() {
		t.Fatalf("expected server Connected() true after Wrap")
	}
}

func TestSendPacketRoundTripsUnderManualRead(t *testing.T) {
	client, server := wrapPair(t, WithInitialConfigFlags(ConfigManualRead))
	defer client.Close()
	defer server.Close()

	payload := []byte("hello over an encrypted stream")
	if _, err := client.SendPacket(packet.New(1000, payload)); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}

	got, wire, err := readWithin(t, server, 2*time.Second)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if string(got.Data) != string(payload) {
		t.Fatalf("payload mismatch: got %q want %q", got.Data, payload)
	}
	if got.TypeID != 1000 {
		t.Fatalf("type id mismatch: got %d want 1000", got.TypeID)
	}
	if wire < 4+len(payload) {
		t.Fatalf("wire byte count too small: got %d, want at least %d", wire, 4+len(payload))
	}
}

func TestSendPacketDeliveredViaCallback(t *testing.T) {
	client, server := wrapPair(t)
	defer client.Close()
	defer server.Close()

	received := make(chan packet.Packet, 1)
	server.SetPacketReceivedCallback(func(p packet.Packet) {
		received <- p
	})

	payload := []byte("callback delivery")
	if _, err := client.SendPacket(packet.New(2000, payload)); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}

	select {
	case p := <-received:
		if string(p.Data) != string(payload) {
			t.Fatalf("payload mismatch: got %q want %q", p.Data, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for callback delivery")
	}
}

func TestCloseIsIdempotentAndFiresDisconnectOnce(t *testing.T) {
	client, server := wrapPair(t)
	defer server.Close()

	var fired int
	done := make(chan struct{}, 4)
	client.SetDisconnectedCallback(func(reason DisconnectReason) {
		fired++
		done <- struct{}{}
	})

	if err := client.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("disconnect callback never fired")
	}

	if client.Connected() {
		t.Fatalf("expected Connected() false after Close")
	}
	if fired != 1 {
		t.Fatalf("expected disconnect callback to fire exactly once, fired %d times", fired)
	}
}

func TestSendPacketFailsAfterClose(t *testing.T) {
	client, server := wrapPair(t)
	defer server.Close()

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := client.SendPacket(packet.New(1, nil)); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected after Close, got %v", err)
	}
}

// readWithin polls the ManualRead queue directly (not through ReadPacket)
// until it yields a packet or the deadline elapses, for use against a
// ManualRead-configured Connection.
func readWithin(t *testing.T, c *Connection, timeout time.Duration) (packet.Packet, int, error) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if d, ok := c.manualQueue.pop(); ok {
			return d.p, d.wire, nil
		}
		time.Sleep(time.Millisecond)
	}
	return packet.Packet{}, 0, ErrNotConnected
}
