package burnclaim

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/btcwire"
)

func testRecord(burnByte byte, dest byte, sats uint64, claimHeight uint64) *Record {
	var rec Record
	rec.BurnTxID = btcwire.Hash256{burnByte}
	rec.BurnVout = 1
	rec.BTCHeight = 800_000
	rec.BurnedSats = sats
	rec.Destination[0] = dest
	rec.Network = btcwire.NetworkMainnet
	rec.ClaimTxID = [32]byte{0x01}
	rec.ClaimHeight = claimHeight
	return &rec
}

func TestCreateRejectsDuplicateClaim(t *testing.T) {
	s := New(storage.NewMemory())
	rec := testRecord(0xaa, 0x01, 1000, 10)

	if err := s.Create(rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(rec); err != ErrAlreadyClaimed {
		t.Fatalf("second Create error = %v, want ErrAlreadyClaimed", err)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	s := New(storage.NewMemory())
	rec := testRecord(0xbb, 0x02, 5000, 10)
	if err := s.Create(rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(rec.BurnTxID, rec.BurnVout)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("Status = %v, want pending", got.Status)
	}

	if err := s.MarkFinal(rec.BurnTxID, rec.BurnVout, 20); err != nil {
		t.Fatalf("MarkFinal: %v", err)
	}
	got, _ = s.Get(rec.BurnTxID, rec.BurnVout)
	if got.Status != StatusFinal || got.FinalizedHeight != 20 {
		t.Fatalf("after MarkFinal: status=%v finalizedHeight=%d", got.Status, got.FinalizedHeight)
	}

	if err := s.MarkFinal(rec.BurnTxID, rec.BurnVout, 21); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("double MarkFinal error = %v, want ErrWrongStatus", err)
	}

	mintTxID := [32]byte{0x99}
	if err := s.MarkMinted(rec.BurnTxID, rec.BurnVout, mintTxID); err != nil {
		t.Fatalf("MarkMinted: %v", err)
	}
	got, _ = s.Get(rec.BurnTxID, rec.BurnVout)
	if got.Status != StatusMinted || got.MintTxID != mintTxID {
		t.Fatalf("after MarkMinted: status=%v mintTxID=%x", got.Status, got.MintTxID)
	}

	if err := s.MarkMinted(rec.BurnTxID, rec.BurnVout, mintTxID); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("double MarkMinted error = %v, want ErrWrongStatus", err)
	}
}

func TestForEachPendingAndFinalOnlySeeMatchingStatus(t *testing.T) {
	s := New(storage.NewMemory())
	pending := testRecord(0x01, 0x10, 1000, 10)
	final := testRecord(0x02, 0x11, 2000, 11)

	if err := s.Create(pending); err != nil {
		t.Fatalf("Create pending: %v", err)
	}
	if err := s.Create(final); err != nil {
		t.Fatalf("Create final: %v", err)
	}
	if err := s.MarkFinal(final.BurnTxID, final.BurnVout, 30); err != nil {
		t.Fatalf("MarkFinal: %v", err)
	}

	var pendingSeen int
	if err := s.ForEachPending(func(r *Record) error {
		pendingSeen++
		if r.BurnTxID != pending.BurnTxID {
			t.Fatalf("ForEachPending surfaced a non-pending record")
		}
		return nil
	}); err != nil {
		t.Fatalf("ForEachPending: %v", err)
	}
	if pendingSeen != 1 {
		t.Fatalf("ForEachPending saw %d records, want 1", pendingSeen)
	}

	var finalSeen int
	if err := s.ForEachFinal(func(r *Record) error {
		finalSeen++
		if r.BurnTxID != final.BurnTxID {
			t.Fatalf("ForEachFinal surfaced a non-final record")
		}
		return nil
	}); err != nil {
		t.Fatalf("ForEachFinal: %v", err)
	}
	if finalSeen != 1 {
		t.Fatalf("ForEachFinal saw %d records, want 1", finalSeen)
	}
}

func TestTotalFinalizedSatsAccumulates(t *testing.T) {
	s := New(storage.NewMemory())
	a := testRecord(0x01, 0x01, 1000, 10)
	b := testRecord(0x02, 0x01, 2500, 11)
	if err := s.Create(a); err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if err := s.Create(b); err != nil {
		t.Fatalf("Create b: %v", err)
	}
	if err := s.MarkFinal(a.BurnTxID, a.BurnVout, 20); err != nil {
		t.Fatalf("MarkFinal a: %v", err)
	}
	if err := s.MarkFinal(b.BurnTxID, b.BurnVout, 21); err != nil {
		t.Fatalf("MarkFinal b: %v", err)
	}

	total, err := s.TotalFinalizedSats()
	if err != nil {
		t.Fatalf("TotalFinalizedSats: %v", err)
	}
	if total != 3500 {
		t.Fatalf("TotalFinalizedSats = %d, want 3500", total)
	}
}

func TestForEachByDestination(t *testing.T) {
	s := New(storage.NewMemory())
	a := testRecord(0x01, 0x42, 1000, 10)
	b := testRecord(0x02, 0x42, 2000, 11)
	c := testRecord(0x03, 0x43, 3000, 12)
	for _, r := range []*Record{a, b, c} {
		if err := s.Create(r); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	var dest [20]byte
	dest[0] = 0x42
	var seen int
	if err := s.ForEachByDestination(dest, func(r *Record) error {
		seen++
		return nil
	}); err != nil {
		t.Fatalf("ForEachByDestination: %v", err)
	}
	if seen != 2 {
		t.Fatalf("ForEachByDestination saw %d, want 2", seen)
	}
}
