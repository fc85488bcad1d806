package btcspv

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/btcwire"
)

func easyParams() Params {
	p := DefaultMainnetParams()
	p.RetargetInterval = 4
	return p
}

func mineHeader(t *testing.T, prev btcwire.Hash256, time, bits uint32) *btcwire.Header {
	t.Helper()
	target := btcwire.CompactToBig(bits)
	h := &btcwire.Header{PrevHash: prev, MerkleRoot: btcwire.Hash256{0x01}, Time: time, Bits: bits}
	for nonce := uint32(0); ; nonce++ {
		h.Nonce = nonce
		if btcwire.HashToBig(h.Hash()).Cmp(target) <= 0 {
			return h
		}
		if nonce > 5_000_000 {
			t.Fatalf("failed to mine a header under target 0x%08x", bits)
		}
	}
}

// easyBits is a compact target loose enough to mine in a test loop
// within a bounded number of iterations.
const easyBits = 0x207fffff

func newTestStore(t *testing.T) (*Store, *btcwire.Header) {
	t.Helper()
	db := storage.NewMemory()
	s, err := New(db, easyParams())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	genesis := mineHeader(t, btcwire.Hash256{}, 1_600_000_000, easyBits)
	if err := s.SeedGenesis(genesis, 0); err != nil {
		t.Fatalf("SeedGenesis: %v", err)
	}
	return s, genesis
}

func TestAddHeaderExtendsBestChain(t *testing.T) {
	s, genesis := newTestStore(t)
	h1 := mineHeader(t, genesis.Hash(), genesis.Time+600, easyBits)

	if err := s.AddHeader(h1); err != nil {
		t.Fatalf("AddHeader: %v", err)
	}
	if got := s.TipHeight(); got != 1 {
		t.Fatalf("TipHeight = %d, want 1", got)
	}
	if got := s.TipHash(); got != h1.Hash() {
		t.Fatalf("TipHash = %s, want %s", got, h1.Hash())
	}

	inBest, err := s.IsInBestChain(h1.Hash())
	if err != nil {
		t.Fatalf("IsInBestChain: %v", err)
	}
	if !inBest {
		t.Fatalf("expected h1 to be in best chain")
	}
}

func TestAddHeaderRejectsOrphan(t *testing.T) {
	s, _ := newTestStore(t)
	orphan := mineHeader(t, btcwire.Hash256{0xff}, 1_600_000_600, easyBits)

	if err := s.AddHeader(orphan); err == nil {
		t.Fatalf("expected orphan header to be rejected")
	}
}

func TestAddHeaderRejectsBadProofOfWork(t *testing.T) {
	s, genesis := newTestStore(t)

	// Construct a header that claims an easy target but doesn't
	// actually satisfy it.
	h := &btcwire.Header{
		PrevHash:   genesis.Hash(),
		MerkleRoot: btcwire.Hash256{0x01},
		Time:       genesis.Time + 600,
		Bits:       0x1d00ffff, // mainnet genesis-era difficulty, far too hard
		Nonce:      0,
	}
	if err := s.AddHeader(h); err == nil {
		t.Fatalf("expected proof-of-work failure")
	}
}

func TestReorgToMoreWorkChain(t *testing.T) {
	s, genesis := newTestStore(t)

	a1 := mineHeader(t, genesis.Hash(), genesis.Time+600, easyBits)
	if err := s.AddHeader(a1); err != nil {
		t.Fatalf("AddHeader a1: %v", err)
	}
	a2 := mineHeader(t, a1.Hash(), a1.Time+600, easyBits)
	if err := s.AddHeader(a2); err != nil {
		t.Fatalf("AddHeader a2: %v", err)
	}

	// A competing one-block fork off genesis has strictly less work
	// than the two-block a-branch, so it must not become the tip.
	b1 := mineHeader(t, genesis.Hash(), genesis.Time+700, easyBits)
	if err := s.AddHeader(b1); err != nil {
		t.Fatalf("AddHeader b1: %v", err)
	}
	if got := s.TipHash(); got != a2.Hash() {
		t.Fatalf("tip should remain a2 after a lighter fork, got %s", got)
	}

	b2 := mineHeader(t, b1.Hash(), b1.Time+600, easyBits)
	b3 := mineHeader(t, b2.Hash(), b2.Time+600, easyBits)
	if err := s.AddHeader(b2); err != nil {
		t.Fatalf("AddHeader b2: %v", err)
	}
	if err := s.AddHeader(b3); err != nil {
		t.Fatalf("AddHeader b3: %v", err)
	}

	if got := s.TipHash(); got != b3.Hash() {
		t.Fatalf("tip should reorg to the heavier b-branch, got %s want %s", got, b3.Hash())
	}
	inBest, _ := s.IsInBestChain(a2.Hash())
	if inBest {
		t.Fatalf("a2 should no longer be on the best chain after reorg")
	}
	inBest, _ = s.IsInBestChain(b2.Hash())
	if !inBest {
		t.Fatalf("b2 should be on the best chain after reorg")
	}
}

func TestConfirmationsTracksDepth(t *testing.T) {
	s, genesis := newTestStore(t)
	h1 := mineHeader(t, genesis.Hash(), genesis.Time+600, easyBits)
	h2 := mineHeader(t, h1.Hash(), h1.Time+600, easyBits)
	if err := s.AddHeader(h1); err != nil {
		t.Fatalf("AddHeader h1: %v", err)
	}
	if err := s.AddHeader(h2); err != nil {
		t.Fatalf("AddHeader h2: %v", err)
	}

	confs, err := s.Confirmations(h1.Hash())
	if err != nil {
		t.Fatalf("Confirmations: %v", err)
	}
	if confs != 2 {
		t.Fatalf("Confirmations(h1) = %d, want 2", confs)
	}

	confs, err = s.Confirmations(h2.Hash())
	if err != nil {
		t.Fatalf("Confirmations: %v", err)
	}
	if confs != 1 {
		t.Fatalf("Confirmations(h2) = %d, want 1", confs)
	}
}

func TestVerifyMerkleProofSingleLeaf(t *testing.T) {
	txid := btcwire.DoubleSHA256([]byte("burn tx"))

	// A block with exactly one transaction has a merkle root equal to
	// that transaction's own txid (no siblings to fold in).
	genesis := mineHeaderWithRoot(t, btcwire.Hash256{}, 1_600_000_000, easyBits, txid)
	db := storage.NewMemory()
	s, err := New(db, easyParams())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SeedGenesis(genesis, 0); err != nil {
		t.Fatalf("SeedGenesis: %v", err)
	}

	ok, err := s.VerifyMerkleProof(txid, genesis.Hash(), MerkleProof{})
	if err != nil {
		t.Fatalf("VerifyMerkleProof: %v", err)
	}
	if !ok {
		t.Fatalf("expected single-leaf merkle proof to verify")
	}
}

func mineHeaderWithRoot(t *testing.T, prev btcwire.Hash256, time, bits uint32, root btcwire.Hash256) *btcwire.Header {
	t.Helper()
	target := btcwire.CompactToBig(bits)
	h := &btcwire.Header{PrevHash: prev, MerkleRoot: root, Time: time, Bits: bits}
	for nonce := uint32(0); ; nonce++ {
		h.Nonce = nonce
		if btcwire.HashToBig(h.Hash()).Cmp(target) <= 0 {
			return h
		}
		if nonce > 5_000_000 {
			t.Fatalf("failed to mine header")
		}
	}
}
