package seclink

import (
	"bytes"

	"github.com/google/uuid"
)

// generateConnectionID produces a fresh 16-byte connection id, used both
// for the initial id and for regeneration on collision.
func generateConnectionID() [16]byte {
	return [16]byte(uuid.New())
}

// compareIDs implements the byte-wise, first-differing-byte total order
// the rekey tie-break relies on. The side with the lexicographically
// smaller id loses initiative.
//
// The originating implementation's tie-break loop returned as soon as it
// found a byte where local[i] < remote[i] but fell through to nothing on
// equality or a greater byte, so two ids differing only after an initial
// run of equal-or-greater bytes were compared incorrectly. bytes.Compare
// implements the documented total order instead.
func compareIDs(local, remote [16]byte) int {
	return bytes.Compare(local[:], remote[:])
}
