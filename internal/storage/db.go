// Package storage provides database abstractions.
package storage

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix.
	// The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Batch accumulates writes that are applied atomically on Commit.
// Consensus stores use this to make a block's mutations to a single
// database all-or-nothing; ConnectBlock additionally coordinates several
// Batches (one per store) behind a single commit sequence so that no
// store ever observes a partial block.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
}

// Batcher is implemented by DB backends that support atomic multi-key
// writes. When PrefixDB wraps a backend that does not implement Batcher,
// it falls back to a batch that is not atomic.
type Batcher interface {
	NewBatch() Batch
}
