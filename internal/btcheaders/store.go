// Package btcheaders persists the on-chain, consensus-visible mirror
// of the Bitcoin header chain: the sequence of headers republished via
// TX_BTC_HEADERS transactions, as seen and agreed on by every
// bathron-core node. Unlike internal/btcspv (each node's own
// independent PoW-validated view), this store never re-derives
// validity — it simply records what the chain already accepted, so
// every node's copy is byte-identical by construction (§4.B).
package btcheaders

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/btcwire"
)

// Key prefixes for the on-chain header mirror.
var (
	prefixHeight = []byte("h/") // h/<height(8 BE)> -> Header JSON
	prefixHash   = []byte("x/") // x/<hash(32)> -> height(8 BE)
	keyTipHeight = []byte("s/tip_height")
	keyPublisher = []byte("s/last_publisher")
)

// Store is the consensus-replicated BTC header mirror.
type Store struct {
	db storage.DB
}

// New creates a header-mirror store backed by db.
func New(db storage.DB) *Store {
	return &Store{db: db}
}

// PutHeaders appends a contiguous run of headers starting at
// startHeight, all within a single atomic batch, and records
// proTxHash as the last republishing masternode. Use this from the
// special-tx processor's TX_BTC_HEADERS handling so a crash mid-block
// can never leave a partial run recorded (§4.F commit ordering).
func (s *Store) PutHeaders(headers []*btcwire.Header, startHeight uint64, proTxHash [32]byte) error {
	batcher, ok := s.db.(storage.Batcher)
	if !ok {
		return s.putHeadersUnbatched(headers, startHeight, proTxHash)
	}
	batch := batcher.NewBatch()

	for i, h := range headers {
		height := startHeight + uint64(i)
		data, err := json.Marshal(h)
		if err != nil {
			return fmt.Errorf("btcheaders: marshal header at height %d: %w", height, err)
		}
		if err := batch.Put(heightKey(height), data); err != nil {
			return err
		}
		if err := batch.Put(hashKey(h.Hash()), heightBytes(height)); err != nil {
			return err
		}
	}

	tip := startHeight + uint64(len(headers)) - 1
	if err := batch.Put(keyTipHeight, heightBytes(tip)); err != nil {
		return err
	}
	if err := batch.Put(keyPublisher, proTxHash[:]); err != nil {
		return err
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("btcheaders: commit %d headers from height %d: %w", len(headers), startHeight, err)
	}
	return nil
}

func (s *Store) putHeadersUnbatched(headers []*btcwire.Header, startHeight uint64, proTxHash [32]byte) error {
	for i, h := range headers {
		height := startHeight + uint64(i)
		data, err := json.Marshal(h)
		if err != nil {
			return fmt.Errorf("btcheaders: marshal header at height %d: %w", height, err)
		}
		if err := s.db.Put(heightKey(height), data); err != nil {
			return err
		}
		if err := s.db.Put(hashKey(h.Hash()), heightBytes(height)); err != nil {
			return err
		}
	}
	tip := startHeight + uint64(len(headers)) - 1
	if err := s.db.Put(keyTipHeight, heightBytes(tip)); err != nil {
		return err
	}
	return s.db.Put(keyPublisher, proTxHash[:])
}

// DisconnectHeaders rolls back the on-chain mirror when the L1 block(s)
// that carried these headers are reorged away, restoring the tip to
// newTipHeight.
func (s *Store) DisconnectHeaders(headers []*btcwire.Header, startHeight uint64, newTipHeight uint64) error {
	for i, h := range headers {
		height := startHeight + uint64(i)
		if err := s.db.Delete(heightKey(height)); err != nil {
			return fmt.Errorf("btcheaders: delete height %d: %w", height, err)
		}
		if err := s.db.Delete(hashKey(h.Hash())); err != nil {
			return fmt.Errorf("btcheaders: delete hash index for height %d: %w", height, err)
		}
	}
	return s.db.Put(keyTipHeight, heightBytes(newTipHeight))
}

// GetTip returns the height of the highest republished header.
func (s *Store) GetTip() (uint64, error) {
	data, err := s.db.Get(keyTipHeight)
	if err != nil {
		return 0, fmt.Errorf("btcheaders: no headers republished yet")
	}
	return binary.BigEndian.Uint64(data), nil
}

// GetHeaderByHeight returns the header republished at height.
func (s *Store) GetHeaderByHeight(height uint64) (*btcwire.Header, error) {
	data, err := s.db.Get(heightKey(height))
	if err != nil {
		return nil, fmt.Errorf("btcheaders: no header at height %d", height)
	}
	var h btcwire.Header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("btcheaders: unmarshal header at height %d: %w", height, err)
	}
	return &h, nil
}

// GetHeaderByHash returns the header and its on-chain height.
func (s *Store) GetHeaderByHash(hash btcwire.Hash256) (*btcwire.Header, uint64, error) {
	heightBytes, err := s.db.Get(hashKey(hash))
	if err != nil {
		return nil, 0, fmt.Errorf("btcheaders: header %s not republished", hash)
	}
	height := binary.BigEndian.Uint64(heightBytes)
	h, err := s.GetHeaderByHeight(height)
	return h, height, err
}

// HasHeaderAtHeight reports whether a header has been republished at height.
func (s *Store) HasHeaderAtHeight(height uint64) (bool, error) {
	return s.db.Has(heightKey(height))
}

// GetLastPublisher returns the proTxHash of the masternode that
// republished the most recent header batch.
func (s *Store) GetLastPublisher() ([32]byte, error) {
	data, err := s.db.Get(keyPublisher)
	if err != nil {
		return [32]byte{}, fmt.Errorf("btcheaders: no publisher recorded yet")
	}
	var proTxHash [32]byte
	copy(proTxHash[:], data)
	return proTxHash, nil
}

func heightKey(height uint64) []byte {
	key := make([]byte, len(prefixHeight)+8)
	copy(key, prefixHeight)
	binary.BigEndian.PutUint64(key[len(prefixHeight):], height)
	return key
}

func hashKey(hash btcwire.Hash256) []byte {
	key := make([]byte, len(prefixHash)+btcwire.HashSize)
	copy(key, prefixHash)
	copy(key[len(prefixHash):], hash[:])
	return key
}

func heightBytes(height uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, height)
	return buf
}
