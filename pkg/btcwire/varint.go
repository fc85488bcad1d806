package btcwire

import (
	"encoding/binary"
	"fmt"
)

// Canonical CompactSize prefix thresholds (Bitcoin's "varint").
const (
	csUint16Prefix = 0xfd
	csUint32Prefix = 0xfe
	csUint64Prefix = 0xff
)

// ReadCompactSize decodes a CompactSize integer from buf starting at
// offset off, rejecting any over-long (non-canonical) encoding — e.g.
// encoding the value 5 with the 9-byte 0xff prefix. Returns the decoded
// value, the number of bytes consumed, and an error.
func ReadCompactSize(buf []byte, off int) (uint64, int, error) {
	if off >= len(buf) {
		return 0, 0, fmt.Errorf("compact size: offset %d out of range (len %d)", off, len(buf))
	}
	prefix := buf[off]

	switch {
	case prefix < csUint16Prefix:
		return uint64(prefix), 1, nil
	case prefix == csUint16Prefix:
		if off+3 > len(buf) {
			return 0, 0, fmt.Errorf("compact size: truncated uint16 form")
		}
		v := uint64(binary.LittleEndian.Uint16(buf[off+1 : off+3]))
		if v < csUint16Prefix {
			return 0, 0, fmt.Errorf("compact size: non-canonical uint16 encoding of %d", v)
		}
		return v, 3, nil
	case prefix == csUint32Prefix:
		if off+5 > len(buf) {
			return 0, 0, fmt.Errorf("compact size: truncated uint32 form")
		}
		v := uint64(binary.LittleEndian.Uint32(buf[off+1 : off+5]))
		if v <= 0xffff {
			return 0, 0, fmt.Errorf("compact size: non-canonical uint32 encoding of %d", v)
		}
		return v, 5, nil
	default: // csUint64Prefix
		if off+9 > len(buf) {
			return 0, 0, fmt.Errorf("compact size: truncated uint64 form")
		}
		v := binary.LittleEndian.Uint64(buf[off+1 : off+9])
		if v <= 0xffffffff {
			return 0, 0, fmt.Errorf("compact size: non-canonical uint64 encoding of %d", v)
		}
		return v, 9, nil
	}
}

// WriteCompactSize appends the canonical CompactSize encoding of v to buf.
func WriteCompactSize(buf []byte, v uint64) []byte {
	switch {
	case v < csUint16Prefix:
		return append(buf, byte(v))
	case v <= 0xffff:
		buf = append(buf, csUint16Prefix)
		return binary.LittleEndian.AppendUint16(buf, uint16(v))
	case v <= 0xffffffff:
		buf = append(buf, csUint32Prefix)
		return binary.LittleEndian.AppendUint32(buf, uint32(v))
	default:
		buf = append(buf, csUint64Prefix)
		return binary.LittleEndian.AppendUint64(buf, v)
	}
}

// CompactSizeLen returns the number of bytes WriteCompactSize would emit for v.
func CompactSizeLen(v uint64) int {
	switch {
	case v < csUint16Prefix:
		return 1
	case v <= 0xffff:
		return 3
	case v <= 0xffffffff:
		return 5
	default:
		return 9
	}
}
