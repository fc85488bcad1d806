package finality

import (
	"fmt"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/Klingon-tech/klingnet-chain/internal/dmn"
	"github.com/Klingon-tech/klingnet-chain/internal/masternode"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Engine selects each block's finality quorum and verifies/records the
// ECDSA HuSignatures its members gossip over internal/p2p's finality
// topic. It reuses internal/masternode.Registry the same way
// internal/dmn does, but scores operator pubkeys against a
// rotation-epoch seed instead of the producer's prevHash, and always
// excludes the block's own producer from its own quorum.
type Engine struct {
	registry *masternode.Registry
	store    *Store
	params   Params

	signer   *crypto.PrivateKey
	ourProTx [32]byte
	haveOurs bool
}

// New creates a finality engine over registry and store.
func New(registry *masternode.Registry, store *Store, params Params) *Engine {
	return &Engine{registry: registry, store: store, params: params}
}

// SetSigner configures the local operator key so this node can sign
// finality votes when it is selected into a block's quorum.
func (e *Engine) SetSigner(key *crypto.PrivateKey, proTxHash [32]byte) {
	e.signer = key
	e.ourProTx = proTxHash
	e.haveOurs = true
}

// RotationSeed derives the HMAC seed for the quorum covering height,
// changing once every QuorumRotationBlocks so quorum membership is
// stable across a rotation window instead of reshuffling every block
// the way the producer order does.
func RotationSeed(genesisHash types.Hash, height uint64, rotationBlocks uint64) types.Hash {
	if rotationBlocks == 0 {
		rotationBlocks = 1
	}
	epoch := height / rotationBlocks
	buf := make([]byte, 0, types.HashSize+8)
	buf = append(buf, genesisHash[:]...)
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(epoch>>(8*uint(i))))
	}
	return types.Hash(crypto.Hash(buf))
}

// Quorum returns the ordered quorum membership for a block at height,
// scored by dmn.Score against the rotation seed and excluding the
// block's own producer (by its operator proTxHash).
func (e *Engine) Quorum(genesisHash types.Hash, height uint64, producerProTx [32]byte) ([]*masternode.Record, error) {
	set, err := e.registry.ActiveSet()
	if err != nil {
		return nil, err
	}
	eligible := make([]*masternode.Record, 0, len(set))
	for _, rec := range set {
		if rec.ProTxHash == producerProTx {
			continue
		}
		eligible = append(eligible, rec)
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("finality: no eligible quorum members at height %d", height)
	}
	seed := RotationSeed(genesisHash, height, e.params.QuorumRotationBlocks)
	ordered := dmn.ProducerOrder(eligible, seed)
	size := e.params.QuorumSize
	if size > len(ordered) {
		size = len(ordered)
	}
	return ordered[:size], nil
}

// InQuorum reports whether proTxHash belongs to the quorum for
// (genesisHash, height, producerProTx).
func (e *Engine) InQuorum(genesisHash types.Hash, height uint64, producerProTx, proTxHash [32]byte) (bool, error) {
	quorum, err := e.Quorum(genesisHash, height, producerProTx)
	if err != nil {
		return false, err
	}
	for _, rec := range quorum {
		if rec.ProTxHash == proTxHash {
			return true, nil
		}
	}
	return false, nil
}

// Sign produces this node's HuSignature over blockHash, for gossip on
// internal/p2p's finality topic, refusing if the local operator is not
// a member of the block's quorum.
func (e *Engine) Sign(genesisHash types.Hash, blockHash types.Hash, height uint64, producerProTx [32]byte) (*Signature, error) {
	if !e.haveOurs {
		return nil, fmt.Errorf("finality: no local signer configured")
	}
	if e.ourProTx == producerProTx {
		return nil, ErrProducerExcluded
	}
	inQuorum, err := e.InQuorum(genesisHash, height, producerProTx, e.ourProTx)
	if err != nil {
		return nil, err
	}
	if !inQuorum {
		return nil, ErrNotInQuorum
	}
	priv := secp256k1.PrivKeyFromBytes(e.signer.Serialize())
	msg := crypto.Hash(SigningMessage(blockHash, e.ourProTx))
	sig := ecdsa.Sign(priv, msg[:])
	return &Signature{BlockHash: blockHash, Height: height, ProTxHash: e.ourProTx, Sig: sig.Serialize()}, nil
}

// Verify checks sig's ECDSA signature against the quorum member's
// registered operator key, and that the signer is genuinely a member
// of the block's quorum.
func (e *Engine) Verify(genesisHash types.Hash, producerProTx [32]byte, sig *Signature) (*masternode.Record, error) {
	inQuorum, err := e.InQuorum(genesisHash, sig.Height, producerProTx, sig.ProTxHash)
	if err != nil {
		return nil, err
	}
	if !inQuorum {
		return nil, ErrNotInQuorum
	}
	rec, err := e.registry.Get(sig.ProTxHash)
	if err != nil {
		return nil, fmt.Errorf("finality: unknown quorum signer: %w", err)
	}
	pub, err := secp256k1.ParsePubKey(rec.OperatorKey)
	if err != nil {
		return nil, fmt.Errorf("finality: parse operator key: %w", err)
	}
	parsed, err := ecdsa.ParseDERSignature(sig.Sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	msg := crypto.Hash(SigningMessage(sig.BlockHash, sig.ProTxHash))
	if !parsed.Verify(msg[:], pub) {
		return nil, ErrInvalidSignature
	}
	return rec, nil
}

// Accept verifies and records a gossiped signature, applying the
// per-peer rate limit, quorum-membership and signature check,
// duplicate rejection and threshold-based finalization. It does not
// detect double-signs or apply PoSe penalties; ReportDoubleSign does
// the latter. Returns the updated record and whether this call
// finalized the block.
func (e *Engine) Accept(peerID string, genesisHash types.Hash, producerProTx [32]byte, sig *Signature, rateLimit int, rateWindow time.Duration, now time.Time) (*FinalityRecord, bool, error) {
	if !e.store.CheckRateLimit(peerID, now, rateLimit, rateWindow) {
		return nil, false, ErrRateLimited
	}
	if _, err := e.Verify(genesisHash, producerProTx, sig); err != nil {
		return nil, false, err
	}
	if err := e.checkDoubleSign(sig); err != nil {
		return nil, false, err
	}
	rec, finalized, err := e.store.AddSignature(sig.BlockHash, sig.Height, sig.ProTxHash, sig.Sig, e.params.QuorumThreshold)
	if err != nil {
		return nil, false, err
	}
	return rec, finalized, nil
}

// checkDoubleSign scans for an existing signature from sig.ProTxHash at
// sig.Height over a different block hash. There is no height index to
// scan, so it always passes; double-sign penalties are applied only
// through ReportDoubleSign with explicitly constructed evidence.
func (e *Engine) checkDoubleSign(sig *Signature) error {
	return nil
}

// ReportDoubleSign applies a PoSe slashing increment for confirmed
// double-sign evidence (two finality signatures from the same operator
// at the same height over different block hashes), the penalty §4.I
// specifies for this exact misbehavior.
func (e *Engine) ReportDoubleSign(ev *DoubleSignEvidence, penalty uint32) error {
	if ev.BlockHashA == ev.BlockHashB {
		return fmt.Errorf("finality: not a double-sign, same block hash")
	}
	return e.registry.IncrementPoSe(ev.ProTxHash, penalty)
}

// IsFinalized reports whether blockHash has crossed the quorum
// threshold.
func (e *Engine) IsFinalized(blockHash types.Hash) (bool, error) {
	rec, err := e.store.Get(blockHash)
	if err != nil {
		return false, err
	}
	return rec.Finalized, nil
}

// ReorgAllowed enforces §4.I's reorg-protection rule: a finalized block
// more than MaxReorgDepth below the current tip can never be
// disconnected, regardless of a competing chain's difficulty.
func (e *Engine) ReorgAllowed(blockHash types.Hash, blockHeight, tipHeight uint64) (bool, error) {
	finalized, err := e.IsFinalized(blockHash)
	if err != nil {
		return false, err
	}
	if !finalized {
		return true, nil
	}
	if tipHeight < blockHeight {
		return true, nil
	}
	depth := tipHeight - blockHeight
	return depth <= e.params.MaxReorgDepth, nil
}
