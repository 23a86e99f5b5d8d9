// Package frame implements the length-prefixed wire framing used by a
// connection once session keys are installed: a 4-byte little-endian
// length prefix followed by that many bytes of ciphertext.
//
// Grounded on the teacher's transport.TCPTransport length-prefix helpers
// (createLengthPrefix/readPacketLength/readPacketData), adapted from
// big-endian one-shot reads to the little-endian, chunked-read contract
// this protocol requires.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ChunkSize is the suggested read chunk size for draining a frame body.
const ChunkSize = 512

// ErrShortFrame is returned when the socket closes before a frame's
// declared length has been fully read.
var ErrShortFrame = errors.New("frame: connection closed before frame body was fully read")

// WriteFrame emits LE32(len(payload)) followed by payload itself. It
// returns the total wire byte count (4 + len(payload)).
func WriteFrame(w io.Writer, payload []byte) (int, error) {
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return 0, fmt.Errorf("frame: write length prefix: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return 0, fmt.Errorf("frame: write payload: %w", err)
		}
	}
	return 4 + len(payload), nil
}

// ReadFrame reads exactly 4 bytes for the length prefix N, then reads N
// bytes in ChunkSize-sized reads, concatenating short reads until N bytes
// have been collected. An EOF before N bytes have accumulated is reported
// as ErrShortFrame. Returns the payload and the total wire byte count.
func ReadFrame(r io.Reader) ([]byte, int, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, 0, fmt.Errorf("frame: read length prefix: %w", err)
	}
	n := binary.LittleEndian.Uint32(header[:])

	payload := make([]byte, n)
	read := uint32(0)
	for read < n {
		end := read + ChunkSize
		if end > n {
			end = n
		}
		m, err := io.ReadFull(r, payload[read:end])
		read += uint32(m)
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return nil, 0, ErrShortFrame
			}
			return nil, 0, fmt.Errorf("frame: read payload: %w", err)
		}
	}

	return payload, 4 + int(n), nil
}
