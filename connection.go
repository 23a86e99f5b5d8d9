// Package seclink implements the connection core described in doc.go.
package seclink

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nullvane/seclink/crypto"
	"github.com/nullvane/seclink/frame"
	"github.com/nullvane/seclink/logging"
	"github.com/nullvane/seclink/packet"
)

// Connection is an encrypted point-to-point stream connection wrapping an
// already-connected net.Conn. The zero value is not usable; construct one
// with Wrap or Connect.
type Connection struct {
	conn net.Conn
	br   *bufio.Reader

	connMu  sync.Mutex
	readMu  sync.Mutex
	writeMu sync.Mutex

	run runFlags
	cfg configFlags

	connectedAtomic atomic.Bool

	encryptor *crypto.SymProvider
	decryptor *crypto.SymProvider

	asym *crypto.AsymHelper

	connectionID [16]byte
	remoteID     [16]byte
	haveRemote   bool

	lastHandshake time.Time
	cfgOpts       *config

	manualQueue  *packetQueue
	pendingQueue *packetQueue

	callbackMu   sync.Mutex
	onPacket     func(packet.Packet)
	onDisconnect func(DisconnectReason)

	readErrors int

	closeOnce sync.Once

	logger *logging.Logger

	localAddr  net.Addr
	remoteAddr net.Addr
}

// Wrap is the sole constructor path for usable connection state. It
// performs the full handshake, and on success spawns the background
// reader and sends the initial ConnectionIDExchange. initiator determines
// which side speaks first during the public-key exchange (see the rekey
// tie-break in §4.F of SPEC_FULL.md for how this is re-derived on rekey).
func Wrap(conn net.Conn, asym *crypto.AsymHelper, initiator bool, opts ...Option) (*Connection, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	c := &Connection{
		conn:         conn,
		br:           bufio.NewReader(conn),
		asym:         asym,
		cfgOpts:      cfg,
		connectionID: generateConnectionID(),
		manualQueue:  newPacketQueue(maxQueueCapacity),
		pendingQueue: newPacketQueue(maxQueueCapacity),
		localAddr:    conn.LocalAddr(),
		remoteAddr:   conn.RemoteAddr(),
	}
	c.cfg.bits = uint32(cfg.initialFlags)
	c.logger = cfg.logger.WithField("connection_id", fmt.Sprintf("%x", c.connectionID))

	c.run.set(FlagIsBlocking)
	if err := c.performFullHandshake(initiator); err != nil {
		conn.Close()
		return nil, &FatalError{Reason: "initial handshake failed", Err: err}
	}
	c.run.clear(FlagIsBlocking)

	c.run.set(FlagRun | FlagIsConnected)
	c.connectedAtomic.Store(true)

	go c.readLoop()

	if _, err := c.SendPacket(packet.New(packet.ConnectionIDExchange, c.connectionID[:])); err != nil {
		c.logger.Exception("failed to send initial connection id", err)
	}

	c.logger.Info("connection established")
	return c, nil
}

// Connect dials network/addr and wraps the resulting socket as the
// handshake initiator.
func Connect(network, addr string, asym *crypto.AsymHelper, opts ...Option) (*Connection, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("seclink: dial %s %s: %w", network, addr, err)
	}
	return Wrap(conn, asym, true, opts...)
}

// Connected reports whether the connection has completed its handshake
// and has not yet been closed. Lock-free, per the design note that
// IsConnected is mirrored in an atomic.Bool.
func (c *Connection) Connected() bool {
	return c.connectedAtomic.Load()
}

// ConnectionID returns this side's 16-byte connection identity.
func (c *Connection) ConnectionID() [16]byte {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.connectionID
}

// RemoteEndpoint returns the underlying socket's remote address.
func (c *Connection) RemoteEndpoint() net.Addr { return c.remoteAddr }

// LocalEndpoint returns the underlying socket's local address.
func (c *Connection) LocalEndpoint() net.Addr { return c.localAddr }

// LastHandshake returns the time of the most recent successful key
// installation.
func (c *Connection) LastHandshake() time.Time {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.lastHandshake
}

// MaxKeyAge returns the configured rekey interval.
func (c *Connection) MaxKeyAge() time.Duration { return c.cfgOpts.maxKeyAge }

// MaxAgeSkew returns the configured rekey grace period.
func (c *Connection) MaxAgeSkew() time.Duration { return c.cfgOpts.maxAgeSkew }

// SetFlag sets a configuration flag under the connection lock, performing
// queue migration when ManualRead changes.
func (c *Connection) SetFlag(flag ConfigFlag) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	wasManual := c.cfg.has(ConfigManualRead)
	c.cfg.set(flag)
	if flag == ConfigManualRead && !wasManual {
		c.pendingQueue.drainAllInto(c.manualQueue)
	}
}

// UnsetFlag clears a configuration flag under the connection lock,
// performing queue migration when ManualRead changes.
func (c *Connection) UnsetFlag(flag ConfigFlag) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	wasManual := c.cfg.has(ConfigManualRead)
	c.cfg.clear(flag)
	if flag == ConfigManualRead && wasManual {
		c.manualQueue.drainAllInto(c.pendingQueue)
	}
}

// SetPacketReceivedCallback registers fn to receive packets when
// ManualRead is not set. If packets already accumulated in the
// pending-events queue (no callback was registered yet), they are drained
// synchronously, in FIFO order, before this call returns.
func (c *Connection) SetPacketReceivedCallback(fn func(packet.Packet)) {
	c.connMu.Lock()
	c.callbackMu.Lock()
	c.onPacket = fn
	c.callbackMu.Unlock()
	pending := c.pendingQueue.drainAll()
	c.connMu.Unlock()

	for _, d := range pending {
		c.dispatchToCallback(d.p)
	}
}

// SetDisconnectedCallback registers fn to be invoked exactly once, when
// this connection's disconnect reason is determined.
func (c *Connection) SetDisconnectedCallback(fn func(DisconnectReason)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onDisconnect = fn
}

// dispatchToCallback trampolines fn through the captured executor.
func (c *Connection) dispatchToCallback(p packet.Packet) {
	c.callbackMu.Lock()
	fn := c.onPacket
	c.callbackMu.Unlock()
	if fn == nil {
		return
	}
	c.cfgOpts.executor.Run(func() { fn(p) })
}

func (c *Connection) notifyDisconnect(reason DisconnectReason) {
	c.callbackMu.Lock()
	fn := c.onDisconnect
	c.callbackMu.Unlock()
	if fn == nil {
		return
	}
	c.cfgOpts.executor.Run(func() { fn(reason) })
}

// SendPacket serializes, encrypts, and writes p as a single frame. It
// fails immediately if the connection is not currently connected
// (invariant I1), and briefly stalls the caller while a handshake is in
// progress so the encrypt step never races the encryptor swap.
func (c *Connection) SendPacket(p packet.Packet) (int, error) {
	if !c.connectedAtomic.Load() {
		return 0, ErrNotConnected
	}
	for c.run.has(FlagIsBlocking) {
		if !c.connectedAtomic.Load() {
			return 0, ErrNotConnected
		}
		time.Sleep(pollInterval)
	}
	return c.sendPacketLocked(p)
}

// sendControlLocked is the handshake-time equivalent of SendPacket: it
// skips SendPacket's connected check and its wait for FlagIsBlocking to
// clear, so the goroutine orchestrating a handshake can send control
// packets (InitPartialHandshake, EndPartialHandshake) under the
// still-current encryptor, and the expiry scheduler can send
// HandshakeRequest. It takes only writeMu; callers do not hold connMu.
func (c *Connection) sendControlLocked(typeID uint32, data []byte) error {
	_, err := c.sendPacketLocked(packet.New(typeID, data))
	return err
}

func (c *Connection) sendPacketLocked(p packet.Packet) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfgOpts.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfgOpts.writeTimeout))
	}

	plaintext, err := packet.Serialize(p)
	if err != nil {
		return 0, fmt.Errorf("seclink: serialize packet: %w", err)
	}
	ciphertext, err := c.encryptor.Encrypt(plaintext)
	if err != nil {
		return 0, fmt.Errorf("seclink: encrypt packet: %w", err)
	}
	wire, err := frame.WriteFrame(c.conn, ciphertext)
	if err != nil {
		return 0, fmt.Errorf("seclink: write frame: %w", err)
	}
	return wire, nil
}

// ReadPacket blocks until a packet is available in the ManualRead queue,
// cooperatively polling every pollInterval, and returns it along with its
// wire byte count. Only meaningful while ConfigManualRead is set.
func (c *Connection) ReadPacket() (packet.Packet, int, error) {
	for {
		if d, ok := c.manualQueue.pop(); ok {
			return d.p, d.wire, nil
		}
		if !c.run.has(FlagRun) {
			return packet.Packet{}, 0, ErrNotConnected
		}
		time.Sleep(pollInterval)
	}
}

// Close performs a cooperative, idempotent shutdown: if still connected it
// sends DisconnectNotification, then clears the run flags, fires the
// disconnect callback with DisconnectGraceful, and closes the underlying
// socket in both directions (there is no read-side-only half-close).
// Calling Close more than once, or after the reader has already torn the
// connection down with a Fatal error, is a no-op beyond the first call.
func (c *Connection) Close() error {
	return c.shutdown(DisconnectGraceful, true)
}

// shutdown is the single idempotent teardown path, shared by Close and
// the reader loop's Fatal-error handling, so the disconnect callback fires
// exactly once regardless of which side initiates teardown.
func (c *Connection) shutdown(reason DisconnectReason, notifyPeer bool) error {
	var closeErr error
	c.closeOnce.Do(func() {
		if notifyPeer && c.connectedAtomic.Load() {
			_, _ = c.sendControlPacketBestEffort(packet.DisconnectNotification, nil)
		}
		c.teardown(reason)
		closeErr = c.conn.Close()
	})
	return closeErr
}

// sendControlPacketBestEffort is used for notifications sent during
// teardown, where a write failure should not block Close from proceeding.
func (c *Connection) sendControlPacketBestEffort(typeID uint32, data []byte) (int, error) {
	if !c.connectedAtomic.Load() {
		return 0, ErrNotConnected
	}
	return c.sendPacketLocked(packet.New(typeID, data))
}

// teardown clears the run flags, marks the connection disconnected, and
// fires the disconnect callback exactly once per Close/fatal-error path.
func (c *Connection) teardown(reason DisconnectReason) {
	c.connMu.Lock()
	c.run.clear(FlagRun)
	c.run.clear(FlagIsConnected)
	c.connMu.Unlock()

	c.connectedAtomic.Store(false)

	if c.encryptor != nil {
		c.encryptor.Wipe()
	}
	if c.decryptor != nil {
		c.decryptor.Wipe()
	}
	if c.asym != nil {
		c.asym.Wipe()
	}

	c.notifyDisconnect(reason)
}
