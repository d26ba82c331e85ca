// Package objects implements the content-addressed object store: Tree and
// FileEntry blobs keyed by the hash of their canonical encoding (spec §3,
// §4.1).
package objects

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// IDSize is the digest length in bytes (spec §3: "20-byte digests").
const IDSize = 20

// ID is the hash of the canonical encoding of a Tree or FileEntry.
type ID [IDSize]byte

// Null is the zero id, used where "no object" is a valid value (e.g., an
// absent ref).
var Null ID

func (id ID) IsNull() bool { return id == Null }

// Hex is the full 40-character hex representation.
func (id ID) Hex() string { return hex.EncodeToString(id[:]) }

func (id ID) String() string { return id.Hex() }

// ShortHex returns a prefix of at least 6 characters, for log lines (spec §3).
func (id ID) ShortHex() string {
	const n = 6
	h := id.Hex()
	if len(h) > n {
		return h[:n]
	}
	return h
}

// IDFromHex parses the hex representation produced by Hex.
func IDFromHex(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != IDSize {
		return Null, fmt.Errorf("%q: not an object id", s)
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// Hash computes the object id of a canonical blob encoding. Implementations
// built independently from the same inputs must produce identical ids (spec
// §4.1 guarantee); BLAKE2b is used with a 20-byte digest size so there is no
// truncation step for two implementations to disagree about.
func Hash(blob []byte) ID {
	h, err := blake2b.New(IDSize, nil)
	if err != nil {
		// IDSize (20) is within blake2b's valid 1-64 byte range, so this
		// can't happen; a panic here would mean a programming error.
		panic(err)
	}
	h.Write(blob)
	var id ID
	copy(id[:], h.Sum(nil))
	return id
}
