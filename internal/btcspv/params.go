package btcspv

import (
	"math/big"

	"github.com/Klingon-tech/klingnet-chain/pkg/btcwire"
)

// DefaultMainnetParams returns Bitcoin mainnet's consensus constants
// for PoW validation and retargeting (§4.A, §6). Checkpoints are left
// empty; callers populate them from config.
func DefaultMainnetParams() Params {
	powLimit := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 224), big.NewInt(1))
	return Params{
		PowLimit:         powLimit,
		TargetTimespan:   14 * 24 * 60 * 60,
		TargetSpacing:    10 * 60,
		RetargetInterval: 2016,
		MedianTimeSpan:   11,
		Checkpoints:      map[uint64]btcwire.Hash256{},
	}
}

// DefaultTestnetParams returns Bitcoin testnet3's consensus constants.
// Testnet shares mainnet's PoW limit and retarget cadence; it differs
// only in its "min-difficulty after 20 minutes" special rule, which
// bathron-core's SPV store does not need to enforce since it only
// tracks the most-work chain, not standalone block templates.
func DefaultTestnetParams() Params {
	p := DefaultMainnetParams()
	return p
}
