package masternode

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func testRecord(id byte) *Record {
	var proTxHash [32]byte
	proTxHash[0] = id
	return &Record{
		ProTxHash:   proTxHash,
		OperatorKey: []byte{0x02, id, id, id},
		VotingAddr:  types.Address{id},
		PayoutAddr:  types.Address{id},
		Service:     "127.0.0.1:9999",
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := New(storage.NewMemory())
	rec := testRecord(1)
	if err := r.Register(rec); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, err := r.Get(rec.ProTxHash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Service != rec.Service {
		t.Errorf("service mismatch: got %s want %s", got.Service, rec.Service)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := New(storage.NewMemory())
	rec := testRecord(1)
	if err := r.Register(rec); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(rec); err != ErrAlreadyRegistered {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestUpdateServiceAndReg(t *testing.T) {
	r := New(storage.NewMemory())
	rec := testRecord(1)
	if err := r.Register(rec); err != nil {
		t.Fatalf("Register: %v", err)
	}
	var txHash1, txHash2 [32]byte
	txHash1[0] = 0xa1
	txHash2[0] = 0xa2
	if err := r.UpdateService(txHash1, rec.ProTxHash, "10.0.0.1:9999"); err != nil {
		t.Fatalf("UpdateService: %v", err)
	}
	newKey := []byte{0x03, 9, 9, 9}
	if err := r.UpdateReg(txHash2, rec.ProTxHash, newKey, types.Address{9}); err != nil {
		t.Fatalf("UpdateReg: %v", err)
	}
	got, _ := r.Get(rec.ProTxHash)
	if got.Service != "10.0.0.1:9999" {
		t.Errorf("service not updated: %s", got.Service)
	}
	if got.PayoutAddr != (types.Address{9}) {
		t.Errorf("payout not updated")
	}
}

func TestUndoUpdateRestoresService(t *testing.T) {
	r := New(storage.NewMemory())
	rec := testRecord(1)
	if err := r.Register(rec); err != nil {
		t.Fatal(err)
	}
	var txHash [32]byte
	txHash[0] = 0xb1
	if err := r.UpdateService(txHash, rec.ProTxHash, "10.0.0.1:9999"); err != nil {
		t.Fatal(err)
	}
	if err := r.UndoUpdate(txHash); err != nil {
		t.Fatalf("UndoUpdate: %v", err)
	}
	got, _ := r.Get(rec.ProTxHash)
	if got.Service != rec.Service {
		t.Errorf("expected service restored to %s, got %s", rec.Service, got.Service)
	}
}

func TestRevokeExcludesFromActiveSet(t *testing.T) {
	r := New(storage.NewMemory())
	a := testRecord(1)
	b := testRecord(2)
	if err := r.Register(a); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(b); err != nil {
		t.Fatal(err)
	}
	if err := r.Revoke(a.ProTxHash, 100, 1); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	set, err := r.ActiveSet()
	if err != nil {
		t.Fatalf("ActiveSet: %v", err)
	}
	if len(set) != 1 || set[0].ProTxHash != b.ProTxHash {
		t.Fatalf("expected only b active, got %+v", set)
	}
}

func TestUnrevokeRestoresActive(t *testing.T) {
	r := New(storage.NewMemory())
	a := testRecord(1)
	if err := r.Register(a); err != nil {
		t.Fatal(err)
	}
	if err := r.Revoke(a.ProTxHash, 100, 1); err != nil {
		t.Fatal(err)
	}
	if err := r.Unrevoke(a.ProTxHash); err != nil {
		t.Fatalf("Unrevoke: %v", err)
	}
	set, err := r.ActiveSet()
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 1 {
		t.Fatalf("expected 1 active after unrevoke, got %d", len(set))
	}
}

func TestByOperator(t *testing.T) {
	r := New(storage.NewMemory())
	a := testRecord(1)
	if err := r.Register(a); err != nil {
		t.Fatal(err)
	}
	got, err := r.ByOperator(a.OperatorKey)
	if err != nil {
		t.Fatalf("ByOperator: %v", err)
	}
	if got.ProTxHash != a.ProTxHash {
		t.Errorf("wrong record returned")
	}
	if _, err := r.ByOperator([]byte{0xff}); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for unknown operator key")
	}
}

func TestActiveSetCanonicalOrder(t *testing.T) {
	r := New(storage.NewMemory())
	if err := r.Register(testRecord(3)); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(testRecord(1)); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(testRecord(2)); err != nil {
		t.Fatal(err)
	}
	set, err := r.ActiveSet()
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 3 {
		t.Fatalf("expected 3 records, got %d", len(set))
	}
	for i := 1; i < len(set); i++ {
		if compareHash(set[i-1].ProTxHash, set[i].ProTxHash) > 0 {
			t.Fatalf("active set not sorted ascending by proTxHash")
		}
	}
}

func TestIncrementPoSe(t *testing.T) {
	r := New(storage.NewMemory())
	a := testRecord(1)
	if err := r.Register(a); err != nil {
		t.Fatal(err)
	}
	if err := r.IncrementPoSe(a.ProTxHash, 5); err != nil {
		t.Fatalf("IncrementPoSe: %v", err)
	}
	got, _ := r.Get(a.ProTxHash)
	if got.PoSeScore != 5 {
		t.Errorf("expected PoSeScore 5, got %d", got.PoSeScore)
	}
}
