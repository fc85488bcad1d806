package btcwire

import (
	"bytes"
	"crypto/sha256"
	"errors"
)

// Network identifies which Bitcoin network a burn was performed on.
type Network byte

const (
	NetworkMainnet Network = 0x00
	NetworkTestnet Network = 0x01
)

// bathronMagic is the literal prefix of the OP_RETURN burn metadata.
var bathronMagic = []byte("BATHRON")

const (
	burnMetadataVersion = 1
	// burnOutputSize is the total OP_RETURN payload size: magic(7) +
	// version(1) + network(1) + dest_hash160(20).
	burnOutputSize = len("BATHRON") + 1 + 1 + 20

	opReturn     = 0x6a
	opPushData29 = 0x1d // direct push of 29 bytes
	op0          = 0x00
	opPushData32 = 0x20
)

// anyoneCanSpendProgram is SHA256(0x00) — the 32-byte witness program
// that §3 defines as "anyone-can-spend-but-pruned (provably
// unspendable under standardness)".
var anyoneCanSpendProgram = func() [32]byte {
	return sha256.Sum256([]byte{0x00})
}()

// Burn-parsing errors.
var (
	ErrNoOpReturn          = errors.New("burn: no BATHRON OP_RETURN output found")
	ErrMultipleOpReturn    = errors.New("burn: multiple BATHRON OP_RETURN outputs")
	ErrNoVaultOutput       = errors.New("burn: no provably-unspendable P2WSH output found")
	ErrMultipleVaultOutput = errors.New("burn: multiple provably-unspendable P2WSH outputs")
	ErrBadMagic            = errors.New("burn: OP_RETURN magic mismatch")
	ErrBadVersion          = errors.New("burn: unsupported BATHRON version")
	ErrBadNetworkByte      = errors.New("burn: unrecognized network byte")
	ErrOpReturnNonZero     = errors.New("burn: OP_RETURN output must carry zero value")
	ErrVaultZeroValue      = errors.New("burn: provably-unspendable output must carry a positive value")
)

// BurnInfo is the decoded BATHRON burn metadata plus the burned amount,
// per §3 "BurnInfo".
type BurnInfo struct {
	Version     uint8
	Network     Network
	Destination [20]byte
	BurnedSats  uint64
}

// ParseBurnOutputs scans a decoded transaction's outputs for exactly one
// BATHRON OP_RETURN metadata output and exactly one provably-unspendable
// P2WSH output, per §4.C. The P2WSH output's value is the burned amount.
func ParseBurnOutputs(tx *Tx) (*BurnInfo, error) {
	var (
		meta     *BurnInfo
		metaSeen int
		value    int64
		valSeen  int
	)

	for _, out := range tx.TxOut {
		if info, ok := decodeOpReturn(out); ok {
			metaSeen++
			meta = info
			if out.Value != 0 {
				return nil, ErrOpReturnNonZero
			}
			continue
		}
		if isAnyoneCanSpendP2WSH(out.PkScript) {
			valSeen++
			value = out.Value
		}
	}

	if metaSeen == 0 {
		return nil, ErrNoOpReturn
	}
	if metaSeen > 1 {
		return nil, ErrMultipleOpReturn
	}
	if valSeen == 0 {
		return nil, ErrNoVaultOutput
	}
	if valSeen > 1 {
		return nil, ErrMultipleVaultOutput
	}
	if value <= 0 {
		return nil, ErrVaultZeroValue
	}

	meta.BurnedSats = uint64(value)
	return meta, nil
}

// decodeOpReturn recognizes a script of the exact form
// OP_RETURN <29-byte direct push of "BATHRON"||version||network||dest>.
// ok is false for any script that isn't shaped like a BATHRON OP_RETURN
// at all (so callers can distinguish "not ours" from "malformed ours").
func decodeOpReturn(out *TxOut) (*BurnInfo, bool) {
	s := out.PkScript
	if len(s) != 2+burnOutputSize || s[0] != opReturn || s[1] != opPushData29 {
		return nil, false
	}
	payload := s[2:]

	if !bytes.Equal(payload[:len(bathronMagic)], bathronMagic) {
		return nil, false
	}
	off := len(bathronMagic)

	version := payload[off]
	off++
	networkByte := payload[off]
	off++

	var dest [20]byte
	copy(dest[:], payload[off:off+20])

	network, ok := normalizeNetworkByte(networkByte)
	if !ok {
		// Shaped like ours but carries garbage — treat as a malformed
		// BATHRON output rather than silently ignoring it.
		return &BurnInfo{Version: version, Destination: dest}, true
	}

	return &BurnInfo{
		Version:     version,
		Network:     network,
		Destination: dest,
	}, true
}

// normalizeNetworkByte accepts both the binary (0x00/0x01) and ASCII
// ('M'/'T') network-byte encodings named in §6.
func normalizeNetworkByte(b byte) (Network, bool) {
	switch b {
	case byte(NetworkMainnet), 'M':
		return NetworkMainnet, true
	case byte(NetworkTestnet), 'T':
		return NetworkTestnet, true
	default:
		return 0, false
	}
}

// isAnyoneCanSpendP2WSH recognizes OP_0 <32-byte push> where the pushed
// bytes equal SHA256(0x00).
func isAnyoneCanSpendP2WSH(script []byte) bool {
	if len(script) != 2+32 || script[0] != op0 || script[1] != opPushData32 {
		return false
	}
	return bytes.Equal(script[2:], anyoneCanSpendProgram[:])
}

// ValidateBurnVersion checks the decoded version and network byte
// against the expected values, returning the taxonomy-appropriate
// sentinel errors from §4.C.
func ValidateBurnVersion(info *BurnInfo, wantNetwork Network) error {
	if info.Version != burnMetadataVersion {
		return ErrBadVersion
	}
	if info.Network != wantNetwork {
		return ErrBadNetworkByte
	}
	return nil
}
