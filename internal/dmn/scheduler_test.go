package dmn

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/masternode"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func newTestRegistry(t *testing.T, n int) (*masternode.Registry, []*crypto.PrivateKey, [][32]byte) {
	t.Helper()
	reg := masternode.New(storage.NewMemory())
	keys := make([]*crypto.PrivateKey, n)
	proTxHashes := make([][32]byte, n)
	for i := 0; i < n; i++ {
		key, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey: %v", err)
		}
		keys[i] = key
		proTxHashes[i][0] = byte(i + 1)
		rec := &masternode.Record{
			ProTxHash:   proTxHashes[i],
			OperatorKey: key.PublicKey(),
			Service:     "127.0.0.1:9999",
		}
		if err := reg.Register(rec); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	return reg, keys, proTxHashes
}

func TestProducerOrderDeterministic(t *testing.T) {
	reg, _, _ := newTestRegistry(t, 5)
	set, err := reg.ActiveSet()
	if err != nil {
		t.Fatalf("ActiveSet: %v", err)
	}
	prevHash := types.Hash{0xaa}
	orderA := ProducerOrder(set, prevHash)
	orderB := ProducerOrder(set, prevHash)
	for i := range orderA {
		if orderA[i].ProTxHash != orderB[i].ProTxHash {
			t.Fatalf("producer order not deterministic at index %d", i)
		}
	}
}

func TestProducerOrderChangesWithPrevHash(t *testing.T) {
	reg, _, _ := newTestRegistry(t, 5)
	set, _ := reg.ActiveSet()
	orderA := ProducerOrder(set, types.Hash{0x01})
	orderB := ProducerOrder(set, types.Hash{0x02})
	same := true
	for i := range orderA {
		if orderA[i].ProTxHash != orderB[i].ProTxHash {
			same = false
		}
	}
	if same {
		t.Fatalf("expected producer order to depend on prevHash")
	}
}

func TestIsInTurnMatchesRankZero(t *testing.T) {
	reg, keys, proTxHashes := newTestRegistry(t, 4)
	sched := New(reg, DefaultParams())

	prevHash := types.Hash{0x77}
	order, err := sched.Order(prevHash)
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	primary := order[0].ProTxHash

	var ourIdx int
	for i, h := range proTxHashes {
		if h == primary {
			ourIdx = i
		}
	}
	sched.SetSigner(keys[ourIdx], proTxHashes[ourIdx])
	if !sched.IsInTurn(prevHash) {
		t.Fatalf("expected primary producer to be in turn")
	}

	otherIdx := (ourIdx + 1) % len(proTxHashes)
	sched.SetSigner(keys[otherIdx], proTxHashes[otherIdx])
	if sched.IsInTurn(prevHash) {
		t.Fatalf("expected non-primary producer to not be in turn")
	}
}

func TestSealAndVerifyHeader(t *testing.T) {
	reg, keys, proTxHashes := newTestRegistry(t, 3)
	sched := New(reg, DefaultParams())
	prevHash := types.Hash{0x09}

	order, err := sched.Order(prevHash)
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	var signerIdx int
	for i, h := range proTxHashes {
		if h == order[0].ProTxHash {
			signerIdx = i
		}
	}
	sched.SetSigner(keys[signerIdx], proTxHashes[signerIdx])

	header := &block.Header{PrevHash: prevHash, Height: 1, Timestamp: 1_700_000_000}
	if err := sched.Prepare(header); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if header.Difficulty != DiffInTurn {
		t.Fatalf("expected DiffInTurn for primary, got %d", header.Difficulty)
	}
	blk := &block.Block{Header: header}
	if err := sched.Seal(blk); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	rec, err := sched.VerifyHeader(blk.Header)
	if err != nil {
		t.Fatalf("VerifyHeader: %v", err)
	}
	if rec.ProTxHash != order[0].ProTxHash {
		t.Fatalf("VerifyHeader returned wrong producer")
	}
}

func TestSealRefusedDuringReorg(t *testing.T) {
	reg, keys, proTxHashes := newTestRegistry(t, 2)
	sched := New(reg, DefaultParams())
	sched.SetSigner(keys[0], proTxHashes[0])
	sched.SetReorgInProgress(true)

	blk := &block.Block{Header: &block.Header{PrevHash: types.Hash{0x01}}}
	if err := sched.Seal(blk); err != ErrReorgInProgress {
		t.Fatalf("expected ErrReorgInProgress, got %v", err)
	}
}

func TestSlotTimestampBootstrapRelaxation(t *testing.T) {
	params := DefaultParams()
	params.BootstrapHeight = 100
	sched := New(nil, params)

	got := sched.SlotTimestamp(50, 1000, 1001)
	if got != 1001 {
		t.Fatalf("bootstrap slot timestamp = %d, want 1001", got)
	}
	got = sched.SlotTimestamp(50, 1000, 500)
	if got != 1001 {
		t.Fatalf("bootstrap slot timestamp fallback = %d, want 1001", got)
	}
}

func TestSlotTimestampAlignsToSlotLength(t *testing.T) {
	params := DefaultParams()
	params.TargetSpacing = 60
	params.TimeSlotLength = 60
	sched := New(nil, params)

	got := sched.SlotTimestamp(200, 1000, 1000)
	if got%60 != 0 {
		t.Fatalf("expected slot-aligned timestamp, got %d", got)
	}
	if got < 1060 {
		t.Fatalf("expected at least target spacing after prev, got %d", got)
	}
}

func TestProduceDelayByRank(t *testing.T) {
	sched := New(nil, DefaultParams())
	if d := sched.ProduceDelay(0); d != 0 {
		t.Errorf("rank 0 delay = %v, want 0", d)
	}
	if d := sched.ProduceDelay(1); d.Seconds() != 5 {
		t.Errorf("rank 1 delay = %v, want 5s", d)
	}
	if d := sched.ProduceDelay(2); d.Seconds() != 10 {
		t.Errorf("rank 2 delay = %v, want 10s", d)
	}
	if d := sched.ProduceDelay(99); d.Seconds() != 10 {
		t.Errorf("rank beyond steps should clamp to last step, got %v", d)
	}
}
