package btcwire

import "testing"

func TestHeaderSerializeParseRoundTrip(t *testing.T) {
	h := &Header{
		Version:    1,
		PrevHash:   Hash256{0x01, 0x02},
		MerkleRoot: Hash256{0x03, 0x04},
		Time:       1_600_000_000,
		Bits:       0x1d00ffff,
		Nonce:      12345,
	}
	buf := h.Serialize()
	if len(buf) != HeaderSize {
		t.Fatalf("Serialize produced %d bytes, want %d", len(buf), HeaderSize)
	}

	parsed, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if *parsed != *h {
		t.Fatalf("round trip mismatch: got %+v want %+v", parsed, h)
	}
}

func TestParseHeaderRejectsWrongSize(t *testing.T) {
	if _, err := ParseHeader(make([]byte, HeaderSize-1)); err == nil {
		t.Fatalf("expected short header to be rejected")
	}
	if _, err := ParseHeader(make([]byte, HeaderSize+1)); err == nil {
		t.Fatalf("expected long header to be rejected")
	}
}

func TestHeaderHashIsDeterministic(t *testing.T) {
	h := &Header{Time: 1, Bits: 2, Nonce: 3}
	a := h.Hash()
	b := h.Hash()
	if a != b {
		t.Fatalf("Hash() is not deterministic")
	}
}
