// Package seclink implements an encrypted point-to-point stream connection
// over a reliable byte-oriented transport (TCP).
//
// A Connection performs a mutually authenticated key exchange using
// ephemeral asymmetric keys, derives independent per-direction symmetric
// session keys, and then exchanges discrete length-prefixed binary packets
// that are encrypted and decrypted in sequence. It also runs a session-key
// aging and renegotiation state machine (full and partial rekey) and a
// connection-identity deduplication protocol.
//
// # Getting Started
//
//	local, _ := crypto.GenerateKeyPair()
//	sl, err := seclink.Connect("tcp", "example.invalid:9000", crypto.NewAsymHelper(local))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sl.SetPacketReceivedCallback(func(p packet.Packet) {
//	    fmt.Println("received", p.TypeID, len(p.Data))
//	})
//
// # Delivery Disciplines
//
// By default packets are pushed to a registered callback as they arrive.
// Setting the ManualRead configuration flag switches to a pull model via
// ReadPacket, backed by a bounded FIFO queue.
package seclink
