package settlement

import (
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// WriteBatch accumulates the vault/receipt tag mutations and undo
// journal entries produced while the special-tx processor walks a
// block's transactions, so Store.Commit can apply all of it as one
// atomic unit alongside the block's settlement snapshot.
type WriteBatch struct {
	puts    map[string][]byte
	deletes map[string]struct{}
}

// NewWriteBatch returns an empty batch.
func NewWriteBatch() *WriteBatch {
	return &WriteBatch{
		puts:    make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

// PutVault stages a vault tag write.
func (b *WriteBatch) PutVault(v *VaultOutpoint) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("settlement: marshal vault: %w", err)
	}
	b.stage(vaultKey(v.Outpoint), data)
	return nil
}

// DeleteVault stages removal of a vault tag, used when TX_UNLOCK
// spends it.
func (b *WriteBatch) DeleteVault(op types.Outpoint) {
	b.stageDelete(vaultKey(op))
}

// PutM1Receipt stages a receipt tag write.
func (b *WriteBatch) PutM1Receipt(r *M1Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("settlement: marshal receipt: %w", err)
	}
	b.stage(receiptKey(r.Outpoint), data)
	return nil
}

// DeleteM1Receipt stages removal of a receipt tag, used when
// TX_UNLOCK or TX_TRANSFER_M1 spends it.
func (b *WriteBatch) DeleteM1Receipt(op types.Outpoint) {
	b.stageDelete(receiptKey(op))
}

// PutHTLC stages an HTLC lock tag write.
func (b *WriteBatch) PutHTLC(h *HTLCLock) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("settlement: marshal htlc: %w", err)
	}
	b.stage(htlcKey(h.Outpoint), data)
	return nil
}

// DeleteHTLC stages removal of an HTLC lock tag, used when a claim or
// refund spends it.
func (b *WriteBatch) DeleteHTLC(op types.Outpoint) {
	b.stageDelete(htlcKey(op))
}

// PutUndoEntry stages an undo-journal write.
func (b *WriteBatch) PutUndoEntry(e *UndoEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("settlement: marshal undo entry: %w", err)
	}
	b.stage(undoKey(e.TxID), data)
	return nil
}

func (b *WriteBatch) stage(key, value []byte) {
	b.puts[string(key)] = value
	delete(b.deletes, string(key))
}

func (b *WriteBatch) stageDelete(key []byte) {
	b.deletes[string(key)] = struct{}{}
	delete(b.puts, string(key))
}

func (b *WriteBatch) applyTo(batch storage.Batch) error {
	for k, v := range b.puts {
		if err := batch.Put([]byte(k), v); err != nil {
			return err
		}
	}
	for k := range b.deletes {
		if err := batch.Delete([]byte(k)); err != nil {
			return err
		}
	}
	return nil
}

func (b *WriteBatch) applyUnbatched(db storage.DB) error {
	for k, v := range b.puts {
		if err := db.Put([]byte(k), v); err != nil {
			return err
		}
	}
	for k := range b.deletes {
		if err := db.Delete([]byte(k)); err != nil {
			return err
		}
	}
	return nil
}
