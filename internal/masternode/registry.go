// Package masternode owns the deterministic masternode (DMN) registry:
// proTxHash -> operator key, collateral outpoint, payout/voting
// addresses, service endpoint, PoSe score and revocation state. It is
// the shared membership list internal/dmn scores for block production
// and internal/finality scores for quorum signing, built the same way
// internal/consensus/poa.go keeps its validator set, but persisted
// (registration survives restarts the way a hardcoded validator list
// never needed to) and populated by PROREG/PROUPSERV/PROUPREG/PROUPREV
// special transactions instead of a genesis file.
package masternode

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

var (
	prefixRecord = []byte("m/") // m/<protxhash(32)> -> Record JSON
	prefixUndo   = []byte("u/") // u/<txid(32)> -> Record JSON (pre-update snapshot)
)

// ErrNotFound is returned when a proTxHash has no registration.
var ErrNotFound = errors.New("masternode: not found")

// ErrAlreadyRegistered is returned by Register for a duplicate proTxHash.
var ErrAlreadyRegistered = errors.New("masternode: already registered")

// Record is one masternode's on-chain registration state (the DMN
// record data model).
type Record struct {
	ProTxHash     [32]byte       `json:"pro_tx_hash"`
	CollateralOut types.Outpoint `json:"collateral_outpoint"`
	OperatorKey   []byte         `json:"operator_pubkey"` // compressed secp256k1, used for finality ECDSA
	VotingAddr    types.Address  `json:"voting_address"`
	PayoutAddr    types.Address  `json:"payout_address"`
	Service       string         `json:"service"`
	RegisteredAt  uint64         `json:"registered_height"`
	Revoked       bool           `json:"revoked"`
	RevokedAt     uint64         `json:"revoked_height,omitempty"`
	RevokedReason uint16         `json:"revoked_reason,omitempty"`
	PoSeScore     uint32         `json:"pose_score"`
}

// Active reports whether the masternode is eligible for producer
// election and quorum membership.
func (r *Record) Active() bool {
	return !r.Revoked
}

// Registry persists masternode records in db. ActiveSet reads them back
// from db on every call, for the HMAC scoring internal/dmn and
// internal/finality both do on every block.
type Registry struct {
	mu sync.RWMutex
	db storage.DB
}

// New creates a registry backed by db.
func New(db storage.DB) *Registry {
	return &Registry{db: db}
}

func recordKey(proTxHash [32]byte) []byte {
	key := make([]byte, len(prefixRecord)+32)
	copy(key, prefixRecord)
	copy(key[len(prefixRecord):], proTxHash[:])
	return key
}

func undoKey(txHash [32]byte) []byte {
	key := make([]byte, len(prefixUndo)+32)
	copy(key, prefixUndo)
	copy(key[len(prefixUndo):], txHash[:])
	return key
}

// Register inserts a new masternode from a PROREG transaction.
func (r *Registry) Register(rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if has, err := r.db.Has(recordKey(rec.ProTxHash)); err != nil {
		return err
	} else if has {
		return ErrAlreadyRegistered
	}
	return r.put(rec)
}

// Get returns the registration for proTxHash, or ErrNotFound.
func (r *Registry) Get(proTxHash [32]byte) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.get(proTxHash)
}

func (r *Registry) get(proTxHash [32]byte) (*Record, error) {
	data, err := r.db.Get(recordKey(proTxHash))
	if err != nil {
		return nil, ErrNotFound
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("masternode: unmarshal record: %w", err)
	}
	return &rec, nil
}

func (r *Registry) put(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("masternode: marshal record: %w", err)
	}
	return r.db.Put(recordKey(rec.ProTxHash), data)
}

// UpdateService applies a PROUPSERV transaction's new service endpoint,
// snapshotting the prior record under txHash so UndoUpdate can restore
// it on disconnect.
func (r *Registry) UpdateService(txHash [32]byte, proTxHash [32]byte, service string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.get(proTxHash)
	if err != nil {
		return err
	}
	if err := r.putUndoSnapshot(txHash, rec); err != nil {
		return err
	}
	rec.Service = service
	return r.put(rec)
}

// UpdateReg applies a PROUPREG transaction's new operator key and
// payout address, snapshotting the prior record under txHash.
func (r *Registry) UpdateReg(txHash [32]byte, proTxHash [32]byte, operatorKey []byte, payout types.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.get(proTxHash)
	if err != nil {
		return err
	}
	if err := r.putUndoSnapshot(txHash, rec); err != nil {
		return err
	}
	rec.OperatorKey = operatorKey
	rec.PayoutAddr = payout
	return r.put(rec)
}

func (r *Registry) putUndoSnapshot(txHash [32]byte, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("masternode: marshal undo snapshot: %w", err)
	}
	return r.db.Put(undoKey(txHash), data)
}

// UndoUpdate restores the record snapshotted before a PROUPSERV or
// PROUPREG keyed by the same transaction's hash, consuming the
// snapshot.
func (r *Registry) UndoUpdate(txHash [32]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := undoKey(txHash)
	data, err := r.db.Get(key)
	if err != nil {
		return ErrNotFound
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("masternode: unmarshal undo snapshot: %w", err)
	}
	if err := r.put(&rec); err != nil {
		return err
	}
	return r.db.Delete(key)
}

// Revoke applies a PROUPREV transaction, marking the masternode
// ineligible for producer election and quorum membership from height
// onward.
func (r *Registry) Revoke(proTxHash [32]byte, height uint64, reason uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.get(proTxHash)
	if err != nil {
		return err
	}
	rec.Revoked = true
	rec.RevokedAt = height
	rec.RevokedReason = reason
	return r.put(rec)
}

// Unrevoke reverses Revoke, used when a PROUPREV is disconnected during
// a reorg.
func (r *Registry) Unrevoke(proTxHash [32]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.get(proTxHash)
	if err != nil {
		return err
	}
	rec.Revoked = false
	rec.RevokedAt = 0
	rec.RevokedReason = 0
	return r.put(rec)
}

// Unregister removes a registration entirely, used when a PROREG is
// disconnected during a reorg.
func (r *Registry) Unregister(proTxHash [32]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Delete(recordKey(proTxHash))
}

// IncrementPoSe bumps a masternode's Proof-of-Service-Evasion score, the
// penalty internal/finality applies on a detected double-sign
// (DoubleSignEvidence) or a missed-heartbeat report.
func (r *Registry) IncrementPoSe(proTxHash [32]byte, delta uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.get(proTxHash)
	if err != nil {
		return err
	}
	rec.PoSeScore += delta
	return r.put(rec)
}

// ActiveSet returns every non-revoked registration, sorted by
// proTxHash ascending for canonical ordering (the same reason
// consensus.sortValidators sorts klingnet's validator list: every node
// must agree on iteration order independent of registration order).
func (r *Registry) ActiveSet() ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Record
	err := r.db.ForEach(prefixRecord, func(_, value []byte) error {
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("masternode: unmarshal record: %w", err)
		}
		if rec.Active() {
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return compareHash(out[i].ProTxHash, out[j].ProTxHash) < 0
	})
	return out, nil
}

// ByOperator returns the active registration whose operator key matches
// pubKey, used by internal/finality to map a signature's operator key
// back to its proTxHash for quorum membership and PoSe slashing.
func (r *Registry) ByOperator(pubKey []byte) (*Record, error) {
	set, err := r.ActiveSet()
	if err != nil {
		return nil, err
	}
	for _, rec := range set {
		if bytesEqual(rec.OperatorKey, pubKey) {
			return rec, nil
		}
	}
	return nil, ErrNotFound
}

func compareHash(a, b [32]byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
