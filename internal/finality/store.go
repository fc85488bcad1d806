package finality

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

var (
	prefixRecord = []byte("f/") // f/<blockhash(32)> -> storedRecord JSON
	prefixSeen   = []byte("s/") // s/<blockhash(32)><protxhash(32)> -> raw sig (dedup)
)

// storedRecord is FinalityRecord's on-disk shape: Signatures doesn't
// marshal directly since its key is a [32]byte, not a JSON string.
type storedRecord struct {
	BlockHash types.Hash        `json:"block_hash"`
	Height    uint64            `json:"height"`
	Finalized bool              `json:"finalized"`
	Sigs      map[string][]byte `json:"sigs"` // hex(proTxHash) -> sig
}

func recordKey(blockHash types.Hash) []byte {
	key := make([]byte, len(prefixRecord)+types.HashSize)
	copy(key, prefixRecord)
	copy(key[len(prefixRecord):], blockHash[:])
	return key
}

func seenKey(blockHash types.Hash, proTxHash [32]byte) []byte {
	key := make([]byte, 0, len(prefixSeen)+types.HashSize+32)
	key = append(key, prefixSeen...)
	key = append(key, blockHash[:]...)
	key = append(key, proTxHash[:]...)
	return key
}

func hexKey(h [32]byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range h {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}

// Store persists per-block finality signature sets and rate-limits
// signature relay per peer, the way internal/settlement persists
// vault/receipt state for the M1 rail.
type Store struct {
	mu sync.Mutex
	db storage.DB

	rateMu   sync.Mutex
	rateSeen map[string][]time.Time // peer id -> recent signature timestamps
}

// NewStore creates a finality store backed by db.
func NewStore(db storage.DB) *Store {
	return &Store{db: db, rateSeen: make(map[string][]time.Time)}
}

// Get returns the persisted record for blockHash, or an empty unsigned
// record if none exists yet.
func (s *Store) Get(blockHash types.Hash) (*FinalityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(blockHash)
}

func (s *Store) get(blockHash types.Hash) (*FinalityRecord, error) {
	data, err := s.db.Get(recordKey(blockHash))
	if err != nil {
		return &FinalityRecord{BlockHash: blockHash, Signatures: map[[32]byte][]byte{}}, nil
	}
	var stored storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("finality: unmarshal record: %w", err)
	}
	rec := &FinalityRecord{
		BlockHash: stored.BlockHash,
		Height:    stored.Height,
		Finalized: stored.Finalized,
		Signatures: make(map[[32]byte][]byte, len(stored.Sigs)),
	}
	for hexHash, sig := range stored.Sigs {
		var h [32]byte
		for i := 0; i < 32 && i*2+1 < len(hexHash); i++ {
			h[i] = unhex(hexHash[i*2])<<4 | unhex(hexHash[i*2+1])
		}
		rec.Signatures[h] = sig
	}
	return rec, nil
}

func unhex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	}
	return 0
}

func (s *Store) put(rec *FinalityRecord) error {
	stored := storedRecord{
		BlockHash: rec.BlockHash,
		Height:    rec.Height,
		Finalized: rec.Finalized,
		Sigs:      make(map[string][]byte, len(rec.Signatures)),
	}
	for proTxHash, sig := range rec.Signatures {
		stored.Sigs[hexKey(proTxHash)] = sig
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("finality: marshal record: %w", err)
	}
	return s.db.Put(recordKey(rec.BlockHash), data)
}

// HasSeen reports whether (blockHash, proTxHash) was already recorded,
// the dedup check §4.I requires before relaying a gossiped signature.
func (s *Store) HasSeen(blockHash types.Hash, proTxHash [32]byte) (bool, error) {
	return s.db.Has(seenKey(blockHash, proTxHash))
}

// AddSignature records sig for (blockHash, proTxHash), marking the pair
// seen and updating the persisted FinalityRecord. Returns the current
// record and whether this call caused it to newly cross threshold.
func (s *Store) AddSignature(blockHash types.Hash, height uint64, proTxHash [32]byte, sig []byte, threshold int) (*FinalityRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if has, err := s.db.Has(seenKey(blockHash, proTxHash)); err != nil {
		return nil, false, err
	} else if has {
		return nil, false, ErrDuplicateSignature
	}

	rec, err := s.get(blockHash)
	if err != nil {
		return nil, false, err
	}
	rec.Height = height
	wasFinalized := rec.Finalized
	rec.Signatures[proTxHash] = sig
	if len(rec.Signatures) >= threshold {
		rec.Finalized = true
	}

	if err := s.db.Put(seenKey(blockHash, proTxHash), sig); err != nil {
		return nil, false, err
	}
	if err := s.put(rec); err != nil {
		return nil, false, err
	}
	return rec, rec.Finalized && !wasFinalized, nil
}

// CheckRateLimit enforces the ≤100 signatures/minute-per-peer relay cap
// (§4.I). Call once per inbound gossip message before verifying it.
func (s *Store) CheckRateLimit(peerID string, now time.Time, limit int, window time.Duration) bool {
	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	cutoff := now.Add(-window)
	times := s.rateSeen[peerID]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		s.rateSeen[peerID] = kept
		return false
	}
	s.rateSeen[peerID] = append(kept, now)
	return true
}
