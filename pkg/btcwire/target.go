package btcwire

import "math/big"

// maxWorkTarget bounds the chain-work computation; 2^256 is the
// theoretical maximum a difficulty-1 block's inverse-target can reach.
var (
	oneLsh256 = new(big.Int).Lsh(big.NewInt(1), 256)
	bigOne    = big.NewInt(1)
)

// CompactToBig expands a compact "nBits" encoding into a full target.
// The format is: the top byte is the exponent (number of bytes), the
// remaining 3 bytes are the mantissa; target = mantissa * 256^(exp-3).
func CompactToBig(bits uint32) *big.Int {
	mantissa := bits & 0x007fffff
	exponent := bits >> 24

	var target big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		target.SetUint64(uint64(mantissa))
	} else {
		target.SetUint64(uint64(mantissa))
		target.Lsh(&target, uint(8*(exponent-3)))
	}

	// The sign bit (0x00800000) marks a negative target; Bitcoin
	// Core's consensus code treats negative/overflow targets as
	// unconditionally invalid (reject on compare), so callers should
	// check IsInvalidTarget before trusting the result.
	if bits&0x00800000 != 0 {
		target.Neg(&target)
	}
	return &target
}

// BigToCompact compresses a full target back into nBits form.
func BigToCompact(target *big.Int) uint32 {
	if target.Sign() == 0 {
		return 0
	}

	var mantissa uint32
	exponent := uint(len(target.Bytes()))

	var tmp big.Int
	if exponent <= 3 {
		mantissa = uint32(target.Bits()[0])
		mantissa <<= 8 * (3 - exponent)
	} else {
		tmp.Rsh(target, 8*(exponent-3))
		mantissa = uint32(tmp.Uint64())
	}

	// If the mantissa's high bit is set it would be interpreted as a
	// sign bit, so shift right a byte and increment the exponent.
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	return uint32(exponent<<24) | mantissa
}

// IsInvalidTarget reports whether target is zero, negative, or exceeds
// powLimit — all unconditionally rejected by §4.A rule 1.
func IsInvalidTarget(target, powLimit *big.Int) bool {
	return target.Sign() <= 0 || target.Cmp(powLimit) > 0
}

// CalcWork computes the chain-work contribution of a single block with
// the given compact difficulty bits: work = 2^256 / (target+1), per §3
// "Chain work" and §4.A rule 6.
func CalcWork(bits uint32) *big.Int {
	target := CompactToBig(bits)
	if target.Sign() <= 0 {
		return big.NewInt(0)
	}

	denominator := new(big.Int).Add(target, bigOne)
	return new(big.Int).Div(oneLsh256, denominator)
}

// HashToBig interprets a 32-byte hash as a little-endian unsigned
// integer, matching Bitcoin's PoW comparison convention (the hash is
// stored internally in the order it's computed, then read LE).
func HashToBig(hash Hash256) *big.Int {
	var reversed [HashSize]byte
	for i := 0; i < HashSize; i++ {
		reversed[i] = hash[HashSize-1-i]
	}
	return new(big.Int).SetBytes(reversed[:])
}

// CalcNextRetarget computes the new compact difficulty for a retarget
// boundary, given the actual elapsed time (seconds) over the last span
// and the previous bits, clamped to [prevTarget/4, prevTarget*4] per
// §4.A rule 3.
func CalcNextRetarget(actualTimespan int64, targetTimespan int64, prevBits uint32, powLimit *big.Int) uint32 {
	minTimespan := targetTimespan / 4
	maxTimespan := targetTimespan * 4
	if actualTimespan < minTimespan {
		actualTimespan = minTimespan
	}
	if actualTimespan > maxTimespan {
		actualTimespan = maxTimespan
	}

	prevTarget := CompactToBig(prevBits)
	newTarget := new(big.Int).Mul(prevTarget, big.NewInt(actualTimespan))
	newTarget.Div(newTarget, big.NewInt(targetTimespan))

	if newTarget.Cmp(powLimit) > 0 {
		newTarget.Set(powLimit)
	}
	return BigToCompact(newTarget)
}
