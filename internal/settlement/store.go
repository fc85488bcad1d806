package settlement

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Key prefixes for the settlement database's three namespaces.
var (
	prefixVault   = []byte("v/") // v/<txid(32)><index(4)> -> VaultOutpoint JSON
	prefixReceipt = []byte("r/") // r/<txid(32)><index(4)> -> M1Receipt JSON
	prefixState   = []byte("h/") // h/<height(8 BE)> -> State JSON
	prefixUndo    = []byte("u/") // u/<txid(32)> -> UndoEntry JSON
	prefixHTLC    = []byte("t/") // t/<txid(32)><index(4)> -> HTLCLock JSON
)

// ErrNotFound is returned when a vault, receipt or snapshot lookup misses.
var ErrNotFound = errors.New("settlement: not found")

// UndoEntry records everything ConnectBlock's application of a single
// transaction changed in the vault/receipt namespaces, so DisconnectBlock
// can restore prior state without recomputing it (§4.E namespace 3).
type UndoEntry struct {
	TxID types.Hash `json:"txid"`

	// SpentVaults/SpentReceipts are the full prior records of any
	// vault or receipt outpoints this transaction consumed.
	SpentVaults   []VaultOutpoint `json:"spent_vaults,omitempty"`
	SpentReceipts []M1Receipt     `json:"spent_receipts,omitempty"`

	// CreatedVaults/CreatedReceipts are the outpoints this transaction
	// newly tagged, to be removed on undo.
	CreatedVaults   []types.Outpoint `json:"created_vaults,omitempty"`
	CreatedReceipts []types.Outpoint `json:"created_receipts,omitempty"`

	// SpentHTLCs/CreatedHTLCs mirror the vault pairing for HTLC locks.
	SpentHTLCs   []HTLCLock       `json:"spent_htlcs,omitempty"`
	CreatedHTLCs []types.Outpoint `json:"created_htlcs,omitempty"`
}

// Store persists the vault and M1-receipt UTXO tags, the per-height
// settlement snapshots, and the per-transaction undo journal.
type Store struct {
	db storage.DB
}

// New creates a settlement store backed by db.
func New(db storage.DB) *Store {
	return &Store{db: db}
}

// PutVault tags an outpoint as vaulted M0.
func (s *Store) PutVault(v *VaultOutpoint) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("settlement: marshal vault: %w", err)
	}
	return s.db.Put(vaultKey(v.Outpoint), data)
}

// GetVault returns the vault record for an outpoint, or ErrNotFound.
func (s *Store) GetVault(op types.Outpoint) (*VaultOutpoint, error) {
	data, err := s.db.Get(vaultKey(op))
	if err != nil {
		return nil, ErrNotFound
	}
	var v VaultOutpoint
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("settlement: unmarshal vault: %w", err)
	}
	return &v, nil
}

// IsVault reports whether an outpoint is currently tagged as vaulted M0.
// §4.E's vault-protection rule relies on this: any spend of a tagged
// outpoint that isn't part of a TX_UNLOCK must be rejected regardless
// of scriptPubKey.
func (s *Store) IsVault(op types.Outpoint) (bool, error) {
	return s.db.Has(vaultKey(op))
}

// DeleteVault removes the vault tag, used when TX_UNLOCK spends it.
func (s *Store) DeleteVault(op types.Outpoint) error {
	return s.db.Delete(vaultKey(op))
}

// PutM1Receipt tags an outpoint as an M1 receipt.
func (s *Store) PutM1Receipt(r *M1Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("settlement: marshal receipt: %w", err)
	}
	return s.db.Put(receiptKey(r.Outpoint), data)
}

// GetM1Receipt returns the receipt record for an outpoint, or ErrNotFound.
func (s *Store) GetM1Receipt(op types.Outpoint) (*M1Receipt, error) {
	data, err := s.db.Get(receiptKey(op))
	if err != nil {
		return nil, ErrNotFound
	}
	var r M1Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("settlement: unmarshal receipt: %w", err)
	}
	return &r, nil
}

// IsM1Receipt reports whether an outpoint is currently tagged as M1.
func (s *Store) IsM1Receipt(op types.Outpoint) (bool, error) {
	return s.db.Has(receiptKey(op))
}

// DeleteM1Receipt removes the receipt tag, used when TX_UNLOCK or
// TX_TRANSFER_M1 spends it.
func (s *Store) DeleteM1Receipt(op types.Outpoint) error {
	return s.db.Delete(receiptKey(op))
}

// PutHTLC tags an outpoint as an HTLC lock.
func (s *Store) PutHTLC(h *HTLCLock) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("settlement: marshal htlc: %w", err)
	}
	return s.db.Put(htlcKey(h.Outpoint), data)
}

// GetHTLC returns the HTLC lock record for an outpoint, or ErrNotFound.
func (s *Store) GetHTLC(op types.Outpoint) (*HTLCLock, error) {
	data, err := s.db.Get(htlcKey(op))
	if err != nil {
		return nil, ErrNotFound
	}
	var h HTLCLock
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("settlement: unmarshal htlc: %w", err)
	}
	return &h, nil
}

// IsHTLC reports whether an outpoint is currently locked by an HTLC.
func (s *Store) IsHTLC(op types.Outpoint) (bool, error) {
	return s.db.Has(htlcKey(op))
}

// DeleteHTLC removes the HTLC tag, used when a claim or refund spends it.
func (s *Store) DeleteHTLC(op types.Outpoint) error {
	return s.db.Delete(htlcKey(op))
}

// PutState writes the settlement snapshot for height h. Called exactly
// once per connected block, after A5 and A6 have both been verified in
// memory (§4.E).
func (s *Store) PutState(st *State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("settlement: marshal state: %w", err)
	}
	return s.db.Put(stateKey(st.Height), data)
}

// GetState returns the settlement snapshot at height h.
func (s *Store) GetState(height uint64) (*State, error) {
	data, err := s.db.Get(stateKey(height))
	if err != nil {
		return nil, ErrNotFound
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("settlement: unmarshal state: %w", err)
	}
	return &st, nil
}

// DeleteState removes the snapshot at height h, on disconnect of that block.
func (s *Store) DeleteState(height uint64) error {
	return s.db.Delete(stateKey(height))
}

// PutUndoEntry records what a transaction changed in the vault/receipt
// namespaces, keyed by its txid.
func (s *Store) PutUndoEntry(e *UndoEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("settlement: marshal undo entry: %w", err)
	}
	return s.db.Put(undoKey(e.TxID), data)
}

// GetUndoEntry retrieves the undo journal for a transaction.
func (s *Store) GetUndoEntry(txid types.Hash) (*UndoEntry, error) {
	data, err := s.db.Get(undoKey(txid))
	if err != nil {
		return nil, ErrNotFound
	}
	var e UndoEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("settlement: unmarshal undo entry: %w", err)
	}
	return &e, nil
}

// DeleteUndoEntry drops a transaction's undo journal; Undo calls it
// once the entry has been applied.
func (s *Store) DeleteUndoEntry(txid types.Hash) error {
	return s.db.Delete(undoKey(txid))
}

// Undo reverts one transaction's vault/receipt tag changes using its
// journal entry: restores every spent vault and receipt, and removes
// every tag the transaction created.
func (s *Store) Undo(txid types.Hash) error {
	entry, err := s.GetUndoEntry(txid)
	if err != nil {
		return err
	}
	for i := range entry.SpentVaults {
		if err := s.PutVault(&entry.SpentVaults[i]); err != nil {
			return err
		}
	}
	for i := range entry.SpentReceipts {
		if err := s.PutM1Receipt(&entry.SpentReceipts[i]); err != nil {
			return err
		}
	}
	for _, op := range entry.CreatedVaults {
		if err := s.DeleteVault(op); err != nil {
			return err
		}
	}
	for _, op := range entry.CreatedReceipts {
		if err := s.DeleteM1Receipt(op); err != nil {
			return err
		}
	}
	for i := range entry.SpentHTLCs {
		if err := s.PutHTLC(&entry.SpentHTLCs[i]); err != nil {
			return err
		}
	}
	for _, op := range entry.CreatedHTLCs {
		if err := s.DeleteHTLC(op); err != nil {
			return err
		}
	}
	return s.DeleteUndoEntry(txid)
}

// Commit atomically writes a batch of namespace mutations built up
// in-memory while processing a block's special transactions, alongside
// the block's settlement snapshot. If the backing DB supports batching,
// the whole set lands in a single Batch.Commit so a crash mid-block
// cannot leave the vault/receipt tags inconsistent with the snapshot
// (§4.F's fixed commit ordering: settlement commits before
// btcheaders and burnclaim).
func (s *Store) Commit(batch *WriteBatch, st *State) error {
	stateData, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("settlement: marshal state: %w", err)
	}

	batcher, ok := s.db.(storage.Batcher)
	if !ok {
		if err := batch.applyUnbatched(s.db); err != nil {
			return err
		}
		return s.db.Put(stateKey(st.Height), stateData)
	}

	b := batcher.NewBatch()
	if err := batch.applyTo(b); err != nil {
		return err
	}
	if err := b.Put(stateKey(st.Height), stateData); err != nil {
		return err
	}
	if err := b.Commit(); err != nil {
		return fmt.Errorf("settlement: commit height %d: %w", st.Height, err)
	}
	return nil
}

func vaultKey(op types.Outpoint) []byte {
	key := make([]byte, len(prefixVault)+types.HashSize+4)
	copy(key, prefixVault)
	copy(key[len(prefixVault):], op.TxID[:])
	binary.BigEndian.PutUint32(key[len(prefixVault)+types.HashSize:], op.Index)
	return key
}

func receiptKey(op types.Outpoint) []byte {
	key := make([]byte, len(prefixReceipt)+types.HashSize+4)
	copy(key, prefixReceipt)
	copy(key[len(prefixReceipt):], op.TxID[:])
	binary.BigEndian.PutUint32(key[len(prefixReceipt)+types.HashSize:], op.Index)
	return key
}

func htlcKey(op types.Outpoint) []byte {
	key := make([]byte, len(prefixHTLC)+types.HashSize+4)
	copy(key, prefixHTLC)
	copy(key[len(prefixHTLC):], op.TxID[:])
	binary.BigEndian.PutUint32(key[len(prefixHTLC)+types.HashSize:], op.Index)
	return key
}

func stateKey(height uint64) []byte {
	key := make([]byte, len(prefixState)+8)
	copy(key, prefixState)
	binary.BigEndian.PutUint64(key[len(prefixState):], height)
	return key
}

func undoKey(txid types.Hash) []byte {
	key := make([]byte, len(prefixUndo)+types.HashSize)
	copy(key, prefixUndo)
	copy(key[len(prefixUndo):], txid[:])
	return key
}
