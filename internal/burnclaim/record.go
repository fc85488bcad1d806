// Package burnclaim implements the two-phase PENDING→FINAL burn-claim
// lifecycle (§4.D): a BurnClaim is created when a TX_BURN_CLAIM
// references a Bitcoin burn output that has reached K_CONFIRMATIONS.
// TX_MINT_M0BTC consumes PENDING claims: connecting it moves each
// referenced claim to FINAL and then MINTED.
package burnclaim

import "github.com/Klingon-tech/klingnet-chain/pkg/btcwire"

// Status is a burn claim's lifecycle state.
type Status uint8

const (
	StatusPending Status = iota
	StatusFinal
	StatusMinted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFinal:
		return "final"
	case StatusMinted:
		return "minted"
	default:
		return "unknown"
	}
}

// Record is the persisted state of one burn claim, keyed by the BTC
// burn transaction's txid.
type Record struct {
	BurnTxID    btcwire.Hash256 `json:"burn_txid"`
	BurnVout    uint32          `json:"burn_vout"` // index of the provably-unspendable output
	BTCHeight   uint64          `json:"btc_height"`
	BurnedSats  uint64          `json:"burned_sats"`
	Destination [20]byte        `json:"destination"`
	Network     btcwire.Network `json:"network"`

	Status Status `json:"status"`

	// ClaimTxID is the TX_BURN_CLAIM transaction that first registered
	// this burn on the L1 chain; ClaimHeight is the L1 block it landed in.
	ClaimTxID   [32]byte `json:"claim_txid"`
	ClaimHeight uint64   `json:"claim_height"`

	// FinalizedHeight is the L1 height at which ClaimHeight's block
	// reached finality, promoting this record to StatusFinal.
	FinalizedHeight uint64 `json:"finalized_height,omitempty"`

	// MintTxID is the TX_MINT_M0BTC transaction that consumed this
	// claim, set only once Status == StatusMinted.
	MintTxID [32]byte `json:"mint_txid,omitempty"`
}
