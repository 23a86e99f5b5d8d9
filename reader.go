package seclink

import (
	"errors"
	"fmt"
	"time"

	"github.com/nullvane/seclink/frame"
	"github.com/nullvane/seclink/packet"
)

// controlHandler processes a built-in control packet. It runs on the
// reader goroutine; the HandshakeRequest handler runs the rekey handshake
// on that same goroutine (see the "blocking inside the reader during
// handshake" design note). InitHandshake, InitPartialHandshake and
// EndPartialHandshake have no entry here: the handshake routines read them
// off the wire themselves, and one that reaches dispatch is treated like a
// user packet.
type controlHandler func(c *Connection, p packet.Packet)

var controlHandlers = map[uint32]controlHandler{
	packet.HandshakeRequest:       (*Connection).onHandshakeRequest,
	packet.ConnectionIDExchange:   (*Connection).onConnectionIDExchange,
	packet.DisconnectNotification: (*Connection).onDisconnectNotification,
	packet.CancelHandshake:        (*Connection).onCancelHandshake,
}

// readLoop is the single dedicated reader goroutine spawned by Wrap. It
// owns all socket reads and decryptor mutation (invariant I2) and drives
// the rekey expiry scheduler once per iteration.
func (c *Connection) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Critical(fmt.Sprintf("reader goroutine panic: %v", r))
			if !c.run.has(FlagDontThrowOnAborted) {
				panic(r)
			}
		}
	}()

	for c.run.has(FlagRun) && c.connectedAtomic.Load() {
		if c.run.has(FlagIsBlocking) {
			// A handshake orchestrated from within this same loop
			// (rekey paths) holds IsBlocking; control returns here
			// only once it clears it.
			time.Sleep(pollInterval)
			continue
		}

		p, wire, err := c.readOnePacket()
		if err != nil {
			var recoverable *RecoverableError
			if errors.As(err, &recoverable) {
				// Read deadline expired with nothing to read; loop
				// back around to re-run the expiry scheduler.
				if !c.checkSessionKeyExpiry() {
					return
				}
				continue
			}
			if errors.Is(err, errDecodeFailure) {
				c.readErrors++
				if c.readErrors < MaxReadErrors {
					continue
				}
			}
			c.logger.Exception("reader: fatal read error", err)
			_ = c.shutdown(DisconnectError, false)
			return
		}
		c.readErrors = 0

		c.dispatch(p, wire)

		if !c.checkSessionKeyExpiry() {
			return
		}
	}
}

var errDecodeFailure = errors.New("seclink: frame decrypted to an invalid packet")

// readOnePacket reads one frame, decrypts it under decryptor, and
// deserializes the result. A read timeout is wrapped in RecoverableError;
// other socket I/O errors are returned as-is (treated as Fatal by the
// caller); decode/deserialize failures are wrapped in
// errDecodeFailure so the caller can apply the read_errors tolerance
// instead of treating every corrupt frame as immediately fatal.
func (c *Connection) readOnePacket() (packet.Packet, int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.cfgOpts.readTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfgOpts.readTimeout))
	}

	ciphertext, wire, err := frame.ReadFrame(c.br)
	if err != nil {
		if isTimeout(err) {
			return packet.Packet{}, 0, &RecoverableError{Err: err}
		}
		return packet.Packet{}, 0, err
	}

	plaintext, err := c.decryptor.Decrypt(ciphertext)
	if err != nil {
		return packet.Packet{}, 0, fmt.Errorf("%w: %v", errDecodeFailure, err)
	}

	p, err := packet.Deserialize(plaintext)
	if err != nil {
		return packet.Packet{}, 0, fmt.Errorf("%w: %v", errDecodeFailure, err)
	}
	return p, wire, nil
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

// dispatch routes p to its built-in handler if one is registered, and/or
// to the consumer according to PassOn and the active delivery discipline.
func (c *Connection) dispatch(p packet.Packet, wire int) {
	handler, isControl := controlHandlers[p.TypeID]

	if isControl {
		handler(c, p)
	}

	if c.run.has(FlagIsBlocking) {
		// Invariant I3: no user-packet delivery while blocking.
		return
	}

	if isControl && !c.cfg.has(ConfigPassOn) {
		return
	}

	c.deliver(p, wire)
}

// deliver routes a decoded packet to the active delivery discipline:
// ManualRead's bounded FIFO, a registered callback, or the pending-events
// queue when no callback is registered yet.
func (c *Connection) deliver(p packet.Packet, wire int) {
	d := deliverable{p: p, wire: wire}

	if c.cfg.has(ConfigManualRead) {
		c.pushWithBackpressure(c.manualQueue, d)
		return
	}

	c.callbackMu.Lock()
	hasCallback := c.onPacket != nil
	c.callbackMu.Unlock()

	if hasCallback {
		c.dispatchToCallback(p)
		return
	}

	c.pushWithBackpressure(c.pendingQueue, d)
}

// pushWithBackpressure retries tryPush with short sleeps when the target
// queue is at capacity, stalling the reader goroutine (and therefore the
// socket) as the intended choke signal.
func (c *Connection) pushWithBackpressure(q *packetQueue, d deliverable) {
	for !q.tryPush(d) {
		if !c.run.has(FlagRun) {
			return
		}
		time.Sleep(backpressureSleep)
	}
}

// isInitiatorRole decides which side drives the plaintext pubkey exchange
// first in a rekey, independently and identically on both sides: the
// connection id total order (§4.F) rather than who happened to notice
// expiry first or who sent the triggering HandshakeRequest. This is what
// lets the requester and the peer enter the handshake without any further
// negotiation over the wire — both already know both ids from the initial
// ConnectionIDExchange.
func (c *Connection) isInitiatorRole() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return compareIDs(c.connectionID, c.remoteID) > 0
}

// checkSessionKeyExpiry implements the §4.F expiry scheduler. When this
// side's key has aged out it sends HandshakeRequest as a trigger, then
// itself enters the full handshake in its deterministic role — it cannot
// simply wait for the peer to drive the exchange, since nothing else
// tells it when the peer starts writing the plaintext pubkey blob. It
// returns false if the connection was closed as a result (this side's own
// previously requested rekey was never completed within
// max_key_age+max_age_skew).
func (c *Connection) checkSessionKeyExpiry() bool {
	now := c.cfgOpts.now()
	c.connMu.Lock()
	age := now.Sub(c.lastHandshake)
	requested := c.run.has(FlagLocalHandshakeRequested)
	c.connMu.Unlock()

	if age < c.cfgOpts.maxKeyAge {
		return true
	}

	if requested && age >= c.cfgOpts.maxKeyAge+c.cfgOpts.maxAgeSkew {
		c.logger.Error("rekey did not complete in time")
		_ = c.shutdown(DisconnectError, false)
		return false
	}

	if requested {
		// Already mid-rekey (flag cleared by runRekey on completion);
		// give it more time before the skew deadline above fires.
		return true
	}

	c.connMu.Lock()
	c.run.set(FlagLocalHandshakeRequested)
	c.connMu.Unlock()

	if err := c.sendControlLocked(packet.HandshakeRequest, nil); err != nil {
		c.logger.Exception("failed to send handshake request", err)
		_ = c.shutdown(DisconnectError, false)
		return false
	}

	if err := c.runRekey(); err != nil {
		c.logger.Exception("self-initiated rekey failed", err)
		_ = c.shutdown(DisconnectError, false)
		return false
	}
	return true
}

// onHandshakeRequest is invoked when the peer's trigger arrives, whether
// or not this side had independently decided it also needed a rekey.
func (c *Connection) onHandshakeRequest(_ packet.Packet) {
	c.connMu.Lock()
	alreadyRekeying := c.run.has(FlagIsBlocking)
	c.connMu.Unlock()
	if alreadyRekeying {
		// We are the requester and already mid-rekey on this same
		// goroutine; the peer's request crossed ours in flight.
		return
	}

	if err := c.runRekey(); err != nil {
		c.logger.Exception("peer-triggered rekey failed", err)
		_ = c.shutdown(DisconnectError, false)
	}
}

// runRekey performs one rekey round in this side's deterministic role,
// preferring the faster partial handshake when this side's own key is
// still comfortably fresh (it was the peer, not us, whose key aged out).
// Callers are responsible for shutting the connection down on error.
func (c *Connection) runRekey() error {
	now := c.cfgOpts.now()
	c.connMu.Lock()
	age := now.Sub(c.lastHandshake)
	weRequested := c.run.has(FlagLocalHandshakeRequested)
	freshEnough := age < c.cfgOpts.maxKeyAge-c.cfgOpts.maxAgeSkew
	c.run.set(FlagIsBlocking)
	c.connMu.Unlock()

	initiator := c.isInitiatorRole()

	var err error
	if freshEnough && !weRequested {
		err = c.performPartialHandshake(initiator)
	} else {
		err = c.performFullHandshake(initiator)
	}

	c.connMu.Lock()
	c.run.clear(FlagIsBlocking)
	c.run.clear(FlagLocalHandshakeRequested)
	c.connMu.Unlock()

	return err
}

// onConnectionIDExchange implements the id-collision protocol of §4.F.
func (c *Connection) onConnectionIDExchange(p packet.Packet) {
	if len(p.Data) != 16 {
		return
	}
	var peerID [16]byte
	copy(peerID[:], p.Data)

	c.connMu.Lock()
	collision := peerID == c.connectionID
	if collision {
		c.connectionID = generateConnectionID()
	} else {
		c.remoteID = peerID
		c.haveRemote = true
	}
	newLocalID := c.connectionID
	c.connMu.Unlock()

	if collision {
		if _, err := c.SendPacket(packet.New(packet.ConnectionIDExchange, newLocalID[:])); err != nil {
			c.logger.Exception("failed to re-advertise regenerated connection id", err)
		}
	}
}

// onDisconnectNotification implements the peer-initiated graceful close
// of §4.F: mark DisconnectReceived, drain any remaining readable bytes
// tolerating up to 4 further errors, then tear down with DisconnectGraceful.
func (c *Connection) onDisconnectNotification(_ packet.Packet) {
	c.connMu.Lock()
	c.run.set(FlagDisconnectReceived)
	c.connMu.Unlock()

	for drainErrors := 0; drainErrors < 4; {
		if _, _, err := c.readOnePacket(); err != nil {
			drainErrors++
		}
	}

	_ = c.shutdown(DisconnectGraceful, false)
}

// onCancelHandshake is received but never produced by this implementation
// (§9 open question); it is logged and dropped.
func (c *Connection) onCancelHandshake(_ packet.Packet) {
	c.logger.Debug("received CancelHandshake; dropping (never produced by this side)")
}
