package btcheaders

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/btcwire"
)

func testHeaders(n int, startTime uint32) []*btcwire.Header {
	headers := make([]*btcwire.Header, n)
	var prev btcwire.Hash256
	for i := 0; i < n; i++ {
		h := &btcwire.Header{
			PrevHash: prev,
			Time:     startTime + uint32(i)*600,
			Bits:     0x1d00ffff,
			Nonce:    uint32(i),
		}
		headers[i] = h
		prev = h.Hash()
	}
	return headers
}

func TestPutHeadersAndGetByHeight(t *testing.T) {
	s := New(storage.NewMemory())
	headers := testHeaders(3, 1_600_000_000)
	var proTxHash [32]byte
	proTxHash[0] = 0x42

	if err := s.PutHeaders(headers, 100, proTxHash); err != nil {
		t.Fatalf("PutHeaders: %v", err)
	}

	tip, err := s.GetTip()
	if err != nil {
		t.Fatalf("GetTip: %v", err)
	}
	if tip != 102 {
		t.Fatalf("GetTip = %d, want 102", tip)
	}

	got, err := s.GetHeaderByHeight(101)
	if err != nil {
		t.Fatalf("GetHeaderByHeight: %v", err)
	}
	if got.Hash() != headers[1].Hash() {
		t.Fatalf("GetHeaderByHeight returned wrong header")
	}

	gotHeader, height, err := s.GetHeaderByHash(headers[2].Hash())
	if err != nil {
		t.Fatalf("GetHeaderByHash: %v", err)
	}
	if height != 102 || gotHeader.Hash() != headers[2].Hash() {
		t.Fatalf("GetHeaderByHash mismatch: height=%d", height)
	}

	publisher, err := s.GetLastPublisher()
	if err != nil {
		t.Fatalf("GetLastPublisher: %v", err)
	}
	if publisher != proTxHash {
		t.Fatalf("GetLastPublisher mismatch")
	}
}

func TestHasHeaderAtHeight(t *testing.T) {
	s := New(storage.NewMemory())
	headers := testHeaders(1, 1_600_000_000)
	if err := s.PutHeaders(headers, 5, [32]byte{}); err != nil {
		t.Fatalf("PutHeaders: %v", err)
	}

	has, err := s.HasHeaderAtHeight(5)
	if err != nil || !has {
		t.Fatalf("HasHeaderAtHeight(5) = %v, %v; want true, nil", has, err)
	}
	has, err = s.HasHeaderAtHeight(6)
	if err != nil || has {
		t.Fatalf("HasHeaderAtHeight(6) = %v, %v; want false, nil", has, err)
	}
}

func TestDisconnectHeaders(t *testing.T) {
	s := New(storage.NewMemory())
	headers := testHeaders(3, 1_600_000_000)
	if err := s.PutHeaders(headers, 10, [32]byte{}); err != nil {
		t.Fatalf("PutHeaders: %v", err)
	}

	if err := s.DisconnectHeaders(headers[2:], 12, 11); err != nil {
		t.Fatalf("DisconnectHeaders: %v", err)
	}

	tip, err := s.GetTip()
	if err != nil {
		t.Fatalf("GetTip: %v", err)
	}
	if tip != 11 {
		t.Fatalf("GetTip after disconnect = %d, want 11", tip)
	}
	if has, _ := s.HasHeaderAtHeight(12); has {
		t.Fatalf("height 12 should have been disconnected")
	}
	if has, _ := s.HasHeaderAtHeight(11); !has {
		t.Fatalf("height 11 should remain after disconnect")
	}
}
