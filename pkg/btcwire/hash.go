// Package btcwire implements Bitcoin's wire encoding: block headers,
// CompactSize integers, transactions (including SegWit), proof-of-work
// target arithmetic, and BATHRON burn-output recognition. Every function
// here is pure — no I/O, no global state — so the same bytes always
// decode to the same value on every node.
package btcwire

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashSize is the length of a Bitcoin double-SHA256 hash.
const HashSize = 32

// Hash256 is a Bitcoin double-SHA256 digest, stored internally in the
// byte order produced by hashing (not Bitcoin's customary
// reversed-for-display order).
type Hash256 [HashSize]byte

// IsZero reports whether h is the all-zero hash.
func (h Hash256) IsZero() bool {
	return h == Hash256{}
}

// Bytes returns a copy of the hash bytes.
func (h Hash256) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

// String returns the hex-encoded hash in internal (non-reversed) byte order.
func (h Hash256) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalJSON encodes the hash as a hex string.
func (h Hash256) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a hex string into a hash.
func (h *Hash256) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*h = Hash256{}
		return nil
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hash256 hex: %w", err)
	}
	if len(decoded) != HashSize {
		return fmt.Errorf("hash256 must be %d bytes, got %d", HashSize, len(decoded))
	}
	copy(h[:], decoded)
	return nil
}

// DoubleSHA256 computes SHA256(SHA256(data)), Bitcoin's standard
// transaction and header identity hash.
func DoubleSHA256(data []byte) Hash256 {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return Hash256(second)
}
