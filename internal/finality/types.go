// Package finality implements the BATHRON finality engine (§4.I): a
// per-block ECDSA quorum of masternode operators, distinct from the
// producer set internal/dmn elects — a block's producer is always
// excluded from its own finality quorum. It keeps
// internal/consensus/stake.go's pluggable-membership-check shape
// (StakeChecker there, quorum-membership here) and supplements it with
// signature aggregation, a threshold check, reorg protection and
// double-sign slashing that stake checking never needed.
package finality

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Params are the genesis-compiled quorum parameters (mainnet/testnet/
// regtest differ in §6's config table).
type Params struct {
	QuorumSize           int
	QuorumThreshold      int
	QuorumRotationBlocks uint64
	LeaderTimeoutSeconds int
	MaxReorgDepth        uint64
}

// MainnetParams returns §6's mainnet quorum sizing.
func MainnetParams() Params {
	return Params{QuorumSize: 12, QuorumThreshold: 8, QuorumRotationBlocks: 288, LeaderTimeoutSeconds: 30, MaxReorgDepth: 100}
}

// TestnetParams returns §6's testnet quorum sizing.
func TestnetParams() Params {
	return Params{QuorumSize: 3, QuorumThreshold: 2, QuorumRotationBlocks: 48, LeaderTimeoutSeconds: 15, MaxReorgDepth: 50}
}

// RegtestParams returns §6's regtest quorum sizing (single node).
func RegtestParams() Params {
	return Params{QuorumSize: 1, QuorumThreshold: 1, QuorumRotationBlocks: 8, LeaderTimeoutSeconds: 5, MaxReorgDepth: 10}
}

// Signature is one masternode operator's HuSignature over a block: an
// ECDSA signature by the operator key over SigningMessage(blockHash,
// proTxHash), gossiped on internal/p2p's finality topic.
type Signature struct {
	BlockHash types.Hash `json:"block_hash"`
	Height    uint64     `json:"height"`
	ProTxHash [32]byte   `json:"pro_tx_hash"`
	Sig       []byte     `json:"signature"`
}

// SigningMessage returns the exact bytes an operator signs: the block
// hash concatenated with its own proTxHash, domain-separated so a
// finality signature can never be replayed as some other protocol's
// ECDSA signature.
func SigningMessage(blockHash types.Hash, proTxHash [32]byte) []byte {
	const domain = "bathron-finality-sig/1"
	buf := make([]byte, 0, len(domain)+types.HashSize+32)
	buf = append(buf, domain...)
	buf = append(buf, blockHash[:]...)
	buf = append(buf, proTxHash[:]...)
	return buf
}

// FinalityRecord is the persisted per-block signature set (§4.I: "a
// FinalityRecord is written on every signature, not just the one that
// crosses the threshold").
type FinalityRecord struct {
	BlockHash  types.Hash          `json:"block_hash"`
	Height     uint64              `json:"height"`
	Signatures map[[32]byte][]byte `json:"-"` // proTxHash -> raw ECDSA sig, not directly marshaled
	Finalized  bool                `json:"finalized"`
}

// DoubleSignEvidence records two conflicting signatures from the same
// operator at the same height, the trigger for a PoSe slashing
// increment.
type DoubleSignEvidence struct {
	ProTxHash  [32]byte   `json:"pro_tx_hash"`
	Height     uint64     `json:"height"`
	BlockHashA types.Hash `json:"block_hash_a"`
	BlockHashB types.Hash `json:"block_hash_b"`
}

var (
	// ErrNotInQuorum is returned when a signature's proTxHash is not a
	// member of the block's finality quorum.
	ErrNotInQuorum = errors.New("finality: signer is not in this block's quorum")
	// ErrInvalidSignature is returned when ECDSA verification fails.
	ErrInvalidSignature = errors.New("finality: invalid signature")
	// ErrDuplicateSignature is returned for a (blockHash, proTxHash)
	// pair already recorded.
	ErrDuplicateSignature = errors.New("finality: duplicate signature")
	// ErrRateLimited is returned when a peer exceeds the per-minute
	// signature-relay cap.
	ErrRateLimited = errors.New("finality: signature rate limit exceeded")
	// ErrProducerExcluded is returned when a signature claims to come
	// from the block's own producer, which the quorum always excludes.
	ErrProducerExcluded = errors.New("finality: block producer cannot sign its own finality")
)

func (e *DoubleSignEvidence) Error() string {
	return fmt.Sprintf("finality: double-sign by %x at height %d (%s vs %s)", e.ProTxHash, e.Height, e.BlockHashA, e.BlockHashB)
}
