package settlement

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func testOutpoint(b byte, index uint32) types.Outpoint {
	var op types.Outpoint
	op.TxID[0] = b
	op.Index = index
	return op
}

func TestVaultTagLifecycle(t *testing.T) {
	s := New(storage.NewMemory())
	op := testOutpoint(0x01, 0)

	if has, _ := s.IsVault(op); has {
		t.Fatalf("fresh outpoint should not be tagged as vault")
	}

	v := &VaultOutpoint{Outpoint: op, Height: 10, Amount: 1000}
	if err := s.PutVault(v); err != nil {
		t.Fatalf("PutVault: %v", err)
	}
	if has, err := s.IsVault(op); err != nil || !has {
		t.Fatalf("IsVault = %v, %v; want true, nil", has, err)
	}
	got, err := s.GetVault(op)
	if err != nil {
		t.Fatalf("GetVault: %v", err)
	}
	if got.Amount != 1000 || got.Height != 10 {
		t.Fatalf("GetVault returned %+v", got)
	}

	if err := s.DeleteVault(op); err != nil {
		t.Fatalf("DeleteVault: %v", err)
	}
	if has, _ := s.IsVault(op); has {
		t.Fatalf("vault tag should be gone after DeleteVault")
	}
}

func TestM1ReceiptLifecycle(t *testing.T) {
	s := New(storage.NewMemory())
	op := testOutpoint(0x02, 1)

	r := &M1Receipt{Outpoint: op, Height: 11, Amount: 500}
	if err := s.PutM1Receipt(r); err != nil {
		t.Fatalf("PutM1Receipt: %v", err)
	}
	if has, err := s.IsM1Receipt(op); err != nil || !has {
		t.Fatalf("IsM1Receipt = %v, %v; want true, nil", has, err)
	}
	got, err := s.GetM1Receipt(op)
	if err != nil {
		t.Fatalf("GetM1Receipt: %v", err)
	}
	if got.Amount != 500 {
		t.Fatalf("GetM1Receipt.Amount = %d, want 500", got.Amount)
	}

	if err := s.DeleteM1Receipt(op); err != nil {
		t.Fatalf("DeleteM1Receipt: %v", err)
	}
	if has, _ := s.IsM1Receipt(op); has {
		t.Fatalf("receipt tag should be gone after DeleteM1Receipt")
	}
}

func TestStateSnapshotRoundTrip(t *testing.T) {
	s := New(storage.NewMemory())
	st := &State{Height: 100, M0Vaulted: 60, M1Supply: 60, M0TotalSupply: 1000, BurnClaimsBlock: 0}
	if err := s.PutState(st); err != nil {
		t.Fatalf("PutState: %v", err)
	}
	got, err := s.GetState(100)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got.M0Vaulted != 60 || got.M1Supply != 60 || got.M0TotalSupply != 1000 {
		t.Fatalf("GetState mismatch: %+v", got)
	}

	if err := s.DeleteState(100); err != nil {
		t.Fatalf("DeleteState: %v", err)
	}
	if _, err := s.GetState(100); err != ErrNotFound {
		t.Fatalf("GetState after delete = %v, want ErrNotFound", err)
	}
}

func TestUndoRestoresSpentTagsAndRemovesCreatedOnes(t *testing.T) {
	s := New(storage.NewMemory())

	vaultOp := testOutpoint(0x03, 0)
	newVaultOp := testOutpoint(0x04, 0)
	newReceiptOp := testOutpoint(0x04, 1)

	spentVault := VaultOutpoint{Outpoint: vaultOp, Height: 5, Amount: 100}
	if err := s.PutVault(&spentVault); err != nil {
		t.Fatalf("seed vault: %v", err)
	}

	// Simulate TX_UNLOCK spending vaultOp and TX_LOCK (in the same test
	// transaction for simplicity) creating newVaultOp/newReceiptOp.
	if err := s.DeleteVault(vaultOp); err != nil {
		t.Fatalf("DeleteVault: %v", err)
	}
	if err := s.PutVault(&VaultOutpoint{Outpoint: newVaultOp, Height: 6, Amount: 100}); err != nil {
		t.Fatalf("PutVault new: %v", err)
	}
	if err := s.PutM1Receipt(&M1Receipt{Outpoint: newReceiptOp, Height: 6, Amount: 100}); err != nil {
		t.Fatalf("PutM1Receipt new: %v", err)
	}

	var txid types.Hash
	txid[0] = 0xaa
	entry := &UndoEntry{
		TxID:            txid,
		SpentVaults:     []VaultOutpoint{spentVault},
		CreatedVaults:   []types.Outpoint{newVaultOp},
		CreatedReceipts: []types.Outpoint{newReceiptOp},
	}
	if err := s.PutUndoEntry(entry); err != nil {
		t.Fatalf("PutUndoEntry: %v", err)
	}

	if err := s.Undo(txid); err != nil {
		t.Fatalf("Undo: %v", err)
	}

	if has, _ := s.IsVault(vaultOp); !has {
		t.Fatalf("spent vault should be restored after Undo")
	}
	if has, _ := s.IsVault(newVaultOp); has {
		t.Fatalf("created vault should be removed after Undo")
	}
	if has, _ := s.IsM1Receipt(newReceiptOp); has {
		t.Fatalf("created receipt should be removed after Undo")
	}
	if _, err := s.GetUndoEntry(txid); err != ErrNotFound {
		t.Fatalf("undo entry should be deleted after Undo, got err=%v", err)
	}
}

func TestCommitWritesBatchAndSnapshotTogether(t *testing.T) {
	s := New(storage.NewMemory())
	op := testOutpoint(0x05, 0)

	batch := NewWriteBatch()
	if err := batch.PutVault(&VaultOutpoint{Outpoint: op, Height: 20, Amount: 250}); err != nil {
		t.Fatalf("batch.PutVault: %v", err)
	}

	st := &State{Height: 20, M0Vaulted: 250, M1Supply: 0, M0TotalSupply: 250}
	if err := s.Commit(batch, st); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if has, _ := s.IsVault(op); !has {
		t.Fatalf("vault tag from batch should be visible after Commit")
	}
	got, err := s.GetState(20)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got.M0Vaulted != 250 {
		t.Fatalf("GetState.M0Vaulted = %d, want 250", got.M0Vaulted)
	}
}

func TestCheckA5AndA6(t *testing.T) {
	if err := CheckA5(1000, 500, 1500); err != nil {
		t.Fatalf("CheckA5 valid case: %v", err)
	}
	if err := CheckA5(1000, 500, 1600); err == nil {
		t.Fatalf("CheckA5 should reject mismatched total")
	}

	if err := CheckA6(60, 60); err != nil {
		t.Fatalf("CheckA6 valid case: %v", err)
	}
	if err := CheckA6(60, 59); err == nil {
		t.Fatalf("CheckA6 should reject mismatched vault/supply")
	}
}
