// Package dmn implements the deterministic masternode producer
// scheduler: HMAC-scored ordering of the active masternode set,
// primary/fallback slot timing, bootstrap relaxation and the HA
// produce-delay staggering that lets a backup producer step in when
// the primary misses its slot. It keeps internal/consensus/poa.go's
// shape (canonical sort, slot-timestamp election, weighted
// difficulty, Schnorr Seal/VerifyHeader) but replaces Aura's
// timestamp-modulo election with HMAC(prevHash, proTxHash) scoring,
// and the validator list with the masternode registry.
package dmn

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Klingon-tech/klingnet-chain/internal/masternode"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Weighted difficulty constants, same Clique-style meaning as PoA's:
// the in-turn producer's block always wins fork choice over a backup's.
const (
	DiffInTurn uint64 = 2
	DiffNoTurn uint64 = 1
)

// Params are the genesis-compiled scheduling parameters (§4.H /
// config/genesis.go's DMN section).
type Params struct {
	TargetSpacing     int    // seconds between primary slots (mainnet ~60s)
	TimeSlotLength    int    // seconds each slot is aligned to
	BootstrapHeight   uint64 // height at or below which bootstrap relaxation applies
	ProduceDelaySteps []int  // seconds of HA delay per fallback rank: [0, 5, 10]
}

// DefaultParams returns the mainnet-shaped scheduling parameters.
func DefaultParams() Params {
	return Params{
		TargetSpacing:     60,
		TimeSlotLength:    60,
		BootstrapHeight:   0,
		ProduceDelaySteps: []int{0, 5, 10},
	}
}

var (
	// ErrNoActiveMasternodes is returned when the registry has no
	// eligible producer for an election.
	ErrNoActiveMasternodes = fmt.Errorf("dmn: no active masternodes")
	// ErrReorgInProgress is returned by Seal/IsInTurn while a reorg
	// holds the scheduler's refusal flag (§5: the DMM scheduler thread
	// refuses to produce while ActivateBestChain runs).
	ErrReorgInProgress = fmt.Errorf("dmn: refusing to produce during chain reorganization")
)

// Scheduler elects the producer for each block height from the
// masternode registry's active set, scored by HMAC(prevHash,
// proTxHash) instead of PoA's wall-clock time slot.
type Scheduler struct {
	mu       sync.RWMutex
	registry *masternode.Registry
	params   Params

	signer    *crypto.PrivateKey
	ourProTx  [32]byte
	haveOurs  bool

	reorging atomic.Bool
}

// New creates a scheduler reading its producer set from registry.
func New(registry *masternode.Registry, params Params) *Scheduler {
	return &Scheduler{registry: registry, params: params}
}

// SetSigner configures the local operator key and the proTxHash it
// signs for, so this node can seal blocks when it is elected.
func (s *Scheduler) SetSigner(key *crypto.PrivateKey, proTxHash [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signer = key
	s.ourProTx = proTxHash
	s.haveOurs = true
}

// SetReorgInProgress gates block production while ActivateBestChain is
// connecting/disconnecting blocks; while set, Seal refuses
// (§5 concurrency model).
func (s *Scheduler) SetReorgInProgress(v bool) {
	s.reorging.Store(v)
}

// ReorgInProgress reports the current refusal state.
func (s *Scheduler) ReorgInProgress() bool {
	return s.reorging.Load()
}

// score computes HMAC-SHA256(prevHash, proTxHash) as a 256-bit integer,
// the ordering key for both producer election and, when reused from
// internal/finality, the quorum membership scoring.
func Score(prevHash types.Hash, proTxHash [32]byte) *big.Int {
	mac := hmac.New(sha256.New, prevHash[:])
	mac.Write(proTxHash[:])
	sum := mac.Sum(nil)
	return new(big.Int).SetBytes(sum)
}

// ProducerOrder returns the active masternode set ordered by
// descending score for prevHash, tiebroken by ascending proTxHash so
// every node computes the identical order.
func ProducerOrder(set []*masternode.Record, prevHash types.Hash) []*masternode.Record {
	ordered := make([]*masternode.Record, len(set))
	copy(ordered, set)
	scores := make(map[[32]byte]*big.Int, len(ordered))
	for _, rec := range ordered {
		scores[rec.ProTxHash] = Score(prevHash, rec.ProTxHash)
	}
	sort.Slice(ordered, func(i, j int) bool {
		si, sj := scores[ordered[i].ProTxHash], scores[ordered[j].ProTxHash]
		if c := si.Cmp(sj); c != 0 {
			return c > 0 // descending score
		}
		return bytes.Compare(ordered[i].ProTxHash[:], ordered[j].ProTxHash[:]) < 0
	})
	return ordered
}

// Order computes the producer order for height given prevHash, reading
// the current active set from the registry.
func (s *Scheduler) Order(prevHash types.Hash) ([]*masternode.Record, error) {
	set, err := s.registry.ActiveSet()
	if err != nil {
		return nil, err
	}
	if len(set) == 0 {
		return nil, ErrNoActiveMasternodes
	}
	return ProducerOrder(set, prevHash), nil
}

// SlotTimestamp returns the earliest valid timestamp for the block at
// height, given the previous block's timestamp. Below the bootstrap
// height it relaxes to max(prevTimestamp+1, now) so a small genesis
// validator set isn't forced to wait a full target-spacing interval;
// above it, timestamps must land on a TimeSlotLength-aligned boundary
// at least TargetSpacing after the previous block.
func (s *Scheduler) SlotTimestamp(height uint64, prevTimestamp uint64, now uint64) uint64 {
	if height <= s.params.BootstrapHeight {
		if now > prevTimestamp {
			return now
		}
		return prevTimestamp + 1
	}
	next := prevTimestamp + uint64(s.params.TargetSpacing)
	slot := uint64(s.params.TimeSlotLength)
	if slot > 1 {
		next = ((next + slot - 1) / slot) * slot
	}
	if now > next {
		return now
	}
	return next
}

// ProduceDelay returns the HA stagger for a fallback producer at rank
// (0 = primary, no delay). Ranks beyond the configured steps all use
// the last (largest) step.
func (s *Scheduler) ProduceDelay(rank int) time.Duration {
	steps := s.params.ProduceDelaySteps
	if len(steps) == 0 {
		return 0
	}
	if rank >= len(steps) {
		rank = len(steps) - 1
	}
	if rank < 0 {
		rank = 0
	}
	return time.Duration(steps[rank]) * time.Second
}

// Rank returns proTxHash's position in the producer order for prevHash
// (0 = primary), or -1 if it is not an active masternode.
func (s *Scheduler) Rank(prevHash types.Hash, proTxHash [32]byte) (int, error) {
	order, err := s.Order(prevHash)
	if err != nil {
		return -1, err
	}
	for i, rec := range order {
		if rec.ProTxHash == proTxHash {
			return i, nil
		}
	}
	return -1, nil
}

// IsInTurn reports whether the local signer is the primary (rank 0)
// producer for the block following prevHash.
func (s *Scheduler) IsInTurn(prevHash types.Hash) bool {
	s.mu.RLock()
	have := s.haveOurs
	ours := s.ourProTx
	s.mu.RUnlock()
	if !have {
		return false
	}
	rank, err := s.Rank(prevHash, ours)
	return err == nil && rank == 0
}

// OurRank returns the local signer's current rank for prevHash, or -1
// if unset or not active.
func (s *Scheduler) OurRank(prevHash types.Hash) (int, error) {
	s.mu.RLock()
	have := s.haveOurs
	ours := s.ourProTx
	s.mu.RUnlock()
	if !have {
		return -1, ErrNoActiveMasternodes
	}
	return s.Rank(prevHash, ours)
}

// Prepare sets the header's weighted difficulty based on the local
// signer's rank for its PrevHash. Must be called before Seal.
func (s *Scheduler) Prepare(header *block.Header) error {
	rank, err := s.OurRank(header.PrevHash)
	if err != nil {
		return err
	}
	if rank == 0 {
		header.Difficulty = DiffInTurn
	} else {
		header.Difficulty = DiffNoTurn
	}
	return nil
}

// Seal signs the block with the local operator key, refusing while a
// reorg holds the scheduler's refusal flag.
func (s *Scheduler) Seal(blk *block.Block) error {
	if s.ReorgInProgress() {
		return ErrReorgInProgress
	}
	s.mu.RLock()
	signer := s.signer
	s.mu.RUnlock()
	if signer == nil {
		return fmt.Errorf("dmn: no signer configured")
	}
	hash := blk.Header.Hash()
	sig, err := signer.Sign(hash[:])
	if err != nil {
		return fmt.Errorf("dmn: seal block: %w", err)
	}
	blk.Header.ValidatorSig = sig
	return nil
}

// VerifyHeader checks that header carries a valid signature from some
// active masternode's operator key, and that the signer's rank matches
// the claimed difficulty (Clique-style: rank 0 => DiffInTurn, else
// DiffNoTurn).
func (s *Scheduler) VerifyHeader(header *block.Header) (*masternode.Record, error) {
	if len(header.ValidatorSig) == 0 {
		return nil, fmt.Errorf("dmn: block missing producer signature")
	}
	order, err := s.Order(header.PrevHash)
	if err != nil {
		return nil, err
	}
	hash := header.Hash()
	for rank, rec := range order {
		if crypto.VerifySignature(hash[:], header.ValidatorSig, rec.OperatorKey) {
			expected := DiffNoTurn
			if rank == 0 {
				expected = DiffInTurn
			}
			if header.Difficulty != expected {
				return nil, fmt.Errorf("dmn: producer at rank %d expects difficulty %d, got %d", rank, expected, header.Difficulty)
			}
			return rec, nil
		}
	}
	return nil, fmt.Errorf("dmn: block signature does not match any active masternode")
}
