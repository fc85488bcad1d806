package btcwire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed wire size of a Bitcoin block header.
const HeaderSize = 80

// Header is a Bitcoin block header, bit-compatible with Bitcoin's wire
// format: version(4) | prev_hash(32) | merkle_root(32) | time(4) | bits(4) | nonce(4).
type Header struct {
	Version    int32
	PrevHash   Hash256
	MerkleRoot Hash256
	Time       uint32
	Bits       uint32
	Nonce      uint32
}

// Serialize encodes the header into its canonical 80-byte wire form.
func (h *Header) Serialize() []byte {
	buf := make([]byte, 0, HeaderSize)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(h.Version))
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, h.Time)
	buf = binary.LittleEndian.AppendUint32(buf, h.Bits)
	buf = binary.LittleEndian.AppendUint32(buf, h.Nonce)
	return buf
}

// ParseHeader decodes an 80-byte Bitcoin block header.
func ParseHeader(buf []byte) (*Header, error) {
	if len(buf) != HeaderSize {
		return nil, fmt.Errorf("btc header: want %d bytes, got %d", HeaderSize, len(buf))
	}
	h := &Header{
		Version: int32(binary.LittleEndian.Uint32(buf[0:4])),
		Time:    binary.LittleEndian.Uint32(buf[68:72]),
		Bits:    binary.LittleEndian.Uint32(buf[72:76]),
		Nonce:   binary.LittleEndian.Uint32(buf[76:80]),
	}
	copy(h.PrevHash[:], buf[4:36])
	copy(h.MerkleRoot[:], buf[36:68])
	return h, nil
}

// Hash computes the header's identity: double-SHA256 of its 80-byte
// serialization, per §3 "Identity = double-SHA256 of the 80 bytes".
func (h *Header) Hash() Hash256 {
	return DoubleSHA256(h.Serialize())
}
