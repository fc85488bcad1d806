// Package settlement implements the M0/M1 ledger (§4.E): the vaulted-M0
// and M1-receipt UTXO tags, per-height supply snapshots, and the undo
// journals that let a reorg restore both without recomputing from
// genesis. Every TX_LOCK, TX_UNLOCK and TX_TRANSFER_M1 touches this
// store, and ConnectBlock checks its two global invariants here before
// anything commits.
package settlement

import "github.com/Klingon-tech/klingnet-chain/pkg/types"

// VaultOutpoint is a UTXO marked as vaulted M0 (locked by TX_LOCK). Its
// scriptPubKey is an ordinary anyone-can-spend output; the fact that it
// may only be spent by TX_UNLOCK is enforced here, at the consensus
// level, not by the script.
type VaultOutpoint struct {
	Outpoint    types.Outpoint `json:"outpoint"`
	Height      uint64         `json:"height"` // L1 height of the locking TX_LOCK
	OwnerScript types.Script   `json:"owner_script"`
	Amount      uint64         `json:"amount"`
	ReceiptTxID types.Hash     `json:"receipt_txid"`
	ReceiptVout uint32         `json:"receipt_vout"`
}

// M1Receipt is a UTXO marked as M1. Invariant: every M1Receipt has a
// matching VaultOutpoint of equal amount created in the same
// transaction (§4.E).
type M1Receipt struct {
	Outpoint  types.Outpoint `json:"outpoint"`
	Height    uint64         `json:"height"`
	Owner     types.Address  `json:"owner"`
	Amount    uint64         `json:"amount"`
	VaultTxID types.Hash     `json:"vault_txid"`
	VaultVout uint32         `json:"vault_vout"`
}

// HTLCLock is an M1 outpoint locked by an HTLC create (§4.E extends the
// vault/receipt model to HTLCs: the locked amount leaves general
// circulation the same way a vault does, except it unlocks to either
// ClaimOwner, with a matching preimage for every SecretHash, or to
// RefundOwner once RefundAfter has passed).
type HTLCLock struct {
	Outpoint     types.Outpoint `json:"outpoint"`
	Height       uint64         `json:"height"`
	SecretHashes [][32]byte     `json:"secret_hashes"`
	ClaimOwner   types.Address  `json:"claim_owner"`
	RefundOwner  types.Address  `json:"refund_owner"`
	RefundAfter  uint64         `json:"refund_after"`
	Amount       uint64         `json:"amount"`
}

// State is the per-height settlement snapshot — SettlementState(h) in
// §4.E. It is written exactly once per connected block and read back to
// restore the running totals on disconnect.
type State struct {
	Height          uint64     `json:"height"`
	BlockHash       types.Hash `json:"block_hash"`
	M0Vaulted       uint64     `json:"m0_vaulted"`
	M1Supply        uint64     `json:"m1_supply"`
	M0TotalSupply   uint64     `json:"m0_total_supply"`
	BurnClaimsBlock uint64     `json:"burnclaims_block"` // sats minted by this block's TX_MINT_M0BTC
}

// CheckA5 verifies the monetary-conservation invariant: the total M0
// supply at this block must equal the previous block's total plus
// exactly what this block's TX_MINT_M0BTC minted — there is no other
// creation path.
func CheckA5(prevTotal, mintedThisBlock, newTotal uint64) error {
	want := prevTotal + mintedThisBlock
	if newTotal != want {
		return &InvariantError{Name: "A5", Detail: "M0_total(h) != M0_total(h-1) + burnclaims(h)"}
	}
	return nil
}

// CheckA6 verifies the vault/receipt balance invariant: every satoshi
// of vaulted M0 must back exactly one satoshi of M1 supply.
func CheckA6(m0Vaulted, m1Supply uint64) error {
	if m0Vaulted != m1Supply {
		return &InvariantError{Name: "A6", Detail: "M0_vaulted(h) != M1_supply(h)"}
	}
	return nil
}

// InvariantError reports a violated settlement invariant. ConnectBlock
// treats this as a consensus-violation failure: reject the block,
// never commit.
type InvariantError struct {
	Name   string
	Detail string
}

func (e *InvariantError) Error() string {
	return "settlement: invariant " + e.Name + " violated: " + e.Detail
}
