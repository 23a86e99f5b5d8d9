// Package packet implements the Packet envelope and its canonical binary
// serialization: a tag-number-based encoding in the style of protocol
// buffer wire format, so that a type_id/data envelope round-trips byte for
// byte and tolerates unknown trailing fields.
//
// Grounded on the teacher's transport.Packet (a PacketType-prefixed byte
// envelope) for the shape of the type, generalized here from a single
// fixed-offset byte prefix into a varint tag/length scheme since nothing
// in the retrieved example set carries a ready-made protobuf dependency
// (see DESIGN.md for why this component is hand-rolled on the standard
// library instead of imported).
package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Known type_id values. User-defined ids must avoid this range.
const (
	HandshakeRequest uint32 = iota + 1
	InitHandshake
	InitPartialHandshake
	EndPartialHandshake
	CancelHandshake
	DisconnectNotification
	ConnectionIDExchange
)

// wire types, matching protobuf's tag encoding.
const (
	wireVarint = 0
	wireBytes  = 2
)

const (
	fieldTypeID = 1
	fieldData   = 2
)

// Packet is the plaintext envelope carried inside a Frame.
type Packet struct {
	TypeID uint32
	Data   []byte
}

// New constructs a Packet, copying data so the caller's buffer can be
// reused or mutated afterward.
func New(typeID uint32, data []byte) Packet {
	cp := make([]byte, len(data))
	copy(cp, data)
	return Packet{TypeID: typeID, Data: cp}
}

// Serialize encodes the packet as field 1 (type_id, varint) followed by
// field 2 (data, length-delimited).
func Serialize(p Packet) ([]byte, error) {
	var buf bytes.Buffer

	writeTag(&buf, fieldTypeID, wireVarint)
	writeVarint(&buf, uint64(p.TypeID))

	writeTag(&buf, fieldData, wireBytes)
	writeVarint(&buf, uint64(len(p.Data)))
	buf.Write(p.Data)

	return buf.Bytes(), nil
}

// Deserialize decodes a Packet previously produced by Serialize. Unknown
// fields encountered after type_id/data are skipped according to their
// wire type rather than rejected, matching the "unknown fields are
// ignored" contract.
func Deserialize(b []byte) (Packet, error) {
	var p Packet
	var sawType, sawData bool

	r := bytes.NewReader(b)
	for r.Len() > 0 {
		tag, err := readVarint(r)
		if err != nil {
			return Packet{}, fmt.Errorf("packet: read tag: %w", err)
		}
		field := tag >> 3
		wireType := tag & 0x7

		switch {
		case field == fieldTypeID && wireType == wireVarint:
			v, err := readVarint(r)
			if err != nil {
				return Packet{}, fmt.Errorf("packet: read type_id: %w", err)
			}
			p.TypeID = uint32(v)
			sawType = true

		case field == fieldData && wireType == wireBytes:
			data, err := readBytes(r)
			if err != nil {
				return Packet{}, fmt.Errorf("packet: read data: %w", err)
			}
			p.Data = data
			sawData = true

		default:
			if err := skipField(r, wireType); err != nil {
				return Packet{}, fmt.Errorf("packet: skip unknown field: %w", err)
			}
		}
	}

	if !sawType {
		return Packet{}, errors.New("packet: missing type_id field")
	}
	if !sawData {
		p.Data = []byte{}
	}
	return p, nil
}

func writeTag(buf *bytes.Buffer, field int, wireType int) {
	writeVarint(buf, uint64(field<<3|wireType))
}

func writeVarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func readVarint(r *bytes.Reader) (uint64, error) {
	return binary.ReadUvarint(r)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readVarint(r)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func skipField(r *bytes.Reader, wireType uint64) error {
	switch wireType {
	case wireVarint:
		_, err := readVarint(r)
		return err
	case wireBytes:
		_, err := readBytes(r)
		return err
	default:
		return fmt.Errorf("packet: unsupported wire type %d", wireType)
	}
}
