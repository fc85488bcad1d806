// Package specialtx implements the §4.F transaction-type processor:
// recognizing and applying TX_BURN_CLAIM, TX_MINT_M0BTC, TX_LOCK,
// TX_UNLOCK, TX_TRANSFER_M1, TX_BTC_HEADERS, the HTLC variants, and the
// masternode registration family (PROREG/PROUPSERV/PROUPREG/PROUPREV).
// A transaction's kind is read off its first output's script type, the
// way the sub-chain module reads ScriptTypeRegister off output[0].
package specialtx

import (
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Kind identifies a recognized special transaction.
type Kind uint8

const (
	KindOrdinary Kind = iota
	KindBurnClaim
	KindMintM0BTC
	KindLock
	KindUnlock
	KindTransferM1
	KindBTCHeaders
	KindHTLCCreate
	KindHTLCClaim
	KindHTLCRefund
	KindProReg
	KindProUpServ
	KindProUpReg
	KindProUpRev
)

func (k Kind) String() string {
	switch k {
	case KindBurnClaim:
		return "TX_BURN_CLAIM"
	case KindMintM0BTC:
		return "TX_MINT_M0BTC"
	case KindLock:
		return "TX_LOCK"
	case KindUnlock:
		return "TX_UNLOCK"
	case KindTransferM1:
		return "TX_TRANSFER_M1"
	case KindBTCHeaders:
		return "TX_BTC_HEADERS"
	case KindHTLCCreate:
		return "TX_HTLC_CREATE"
	case KindHTLCClaim:
		return "TX_HTLC_CLAIM"
	case KindHTLCRefund:
		return "TX_HTLC_REFUND"
	case KindProReg:
		return "TX_PROREG"
	case KindProUpServ:
		return "TX_PROUPSERV"
	case KindProUpReg:
		return "TX_PROUPREG"
	case KindProUpRev:
		return "TX_PROUPREV"
	default:
		return "ordinary"
	}
}

// FeeExempt reports whether transactions of this kind are always
// included by the assembler despite failing the minimum-fee filter
// (§4.G): the burn-claim, header, lock/unlock, M1-transfer and HTLC
// kinds. The mint and the masternode registration family are not
// exempt.
func (k Kind) FeeExempt() bool {
	switch k {
	case KindBurnClaim, KindBTCHeaders, KindLock, KindUnlock, KindTransferM1,
		KindHTLCCreate, KindHTLCClaim, KindHTLCRefund:
		return true
	default:
		return false
	}
}

// Classify inspects a transaction's first output to determine its
// special-tx kind. Transactions whose first output carries an
// ordinary script type are KindOrdinary — this includes TX_UNLOCK and
// TX_TRANSFER_M1, which carry no marker output of their own and are
// only distinguishable by whether their inputs spend a tagged vault or
// receipt outpoint. The processor's ClassifyWithSettlement does that
// settlement-aware check.
func Classify(t *tx.Transaction) Kind {
	if t == nil || len(t.Outputs) == 0 {
		return KindOrdinary
	}
	switch t.Outputs[0].Script.Type {
	case types.ScriptTypeBurnClaim:
		return KindBurnClaim
	case types.ScriptTypeMintM0BTC:
		return KindMintM0BTC
	case types.ScriptTypeBTCHeaders:
		return KindBTCHeaders
	case types.ScriptTypeVault:
		return KindLock
	case types.ScriptTypeHTLC:
		return classifyHTLC(t)
	case types.ScriptTypeProReg:
		return KindProReg
	case types.ScriptTypeProUpServ:
		return KindProUpServ
	case types.ScriptTypeProUpReg:
		return KindProUpReg
	case types.ScriptTypeProUpRev:
		return KindProUpRev
	}
	return KindOrdinary
}

// classifyHTLC distinguishes the create/claim/refund phases of an HTLC
// by the payload embedded in the marker output: a create carries the
// secret hash(es) and refund locktime; claim/refund are told apart by
// whether the spending input provides a preimage (checked structurally
// at CheckSpecialTx time, not here).
func classifyHTLC(t *tx.Transaction) Kind {
	var data HTLCData
	if err := json.Unmarshal(t.Outputs[0].Script.Data, &data); err != nil {
		return KindOrdinary
	}
	switch data.Phase {
	case HTLCPhaseClaim:
		return KindHTLCClaim
	case HTLCPhaseRefund:
		return KindHTLCRefund
	default:
		return KindHTLCCreate
	}
}

// BurnClaimData is TX_BURN_CLAIM's marker payload: a reference to the
// Bitcoin burn output this claim registers.
type BurnClaimData struct {
	BurnTxID    types.Hash `json:"burn_txid"`
	BurnVout    uint32     `json:"burn_vout"`
	BTCHeight   uint64     `json:"btc_height"`
	BurnedSats  uint64     `json:"burned_sats"`
	Destination [20]byte   `json:"destination"`
	Network     uint8      `json:"network"`
}

// MintClaimsData is TX_MINT_M0BTC's marker payload: the ordered set of
// burn claims this block's mint finalizes, selected per §4.D's
// (claim_height, btc-txid) ordering and capped at
// MAX_MINT_CLAIMS_PER_BLOCK.
type MintClaimsData struct {
	Claims []MintedClaim `json:"claims"`
}

// MintedClaim names one burn claim consumed by a TX_MINT_M0BTC.
type MintedClaim struct {
	BurnTxID types.Hash `json:"burn_txid"`
	BurnVout uint32     `json:"burn_vout"`
}

// BTCHeadersData is TX_BTC_HEADERS's marker payload: a contiguous run
// of serialized Bitcoin headers and the masternode that republished
// them.
type BTCHeadersData struct {
	StartHeight uint64   `json:"start_height"`
	Headers     [][]byte `json:"headers"` // each 80-byte serialized BTC header
	ProTxHash   [32]byte `json:"pro_tx_hash"`
}

// HTLCPhase distinguishes an HTLC marker's lifecycle stage.
type HTLCPhase uint8

const (
	HTLCPhaseCreate HTLCPhase = iota
	HTLCPhaseClaim
	HTLCPhaseRefund
)

// HTLCData is the marker payload for an HTLC-locked M1 output. The
// 1-secret variant has one SecretHash; the 3-secret variant (used for
// atomic swaps requiring multiple independent reveals) has three, all
// of which must be satisfied by the claim's preimages.
type HTLCData struct {
	Phase        HTLCPhase     `json:"phase"`
	SecretHashes [][32]byte    `json:"secret_hashes"` // len 1 or 3
	Preimages    [][32]byte    `json:"preimages,omitempty"`
	RefundAfter  uint64        `json:"refund_after"` // L1 height
	ClaimOwner   types.Address `json:"claim_owner"`
	RefundOwner  types.Address `json:"refund_owner"`
	Amount       uint64        `json:"amount"`
}

// ProRegData registers a new masternode for the DMN scheduler.
type ProRegData struct {
	ProTxHash     [32]byte       `json:"pro_tx_hash"`
	CollateralOut types.Outpoint `json:"collateral_outpoint"`
	OperatorKey   []byte        `json:"operator_pubkey"` // compressed secp256k1
	VotingAddr    types.Address `json:"voting_address"`
	PayoutAddr    types.Address `json:"payout_address"`
	Service       string        `json:"service"` // host:port
}

// ProUpServData updates a masternode's service endpoint.
type ProUpServData struct {
	ProTxHash [32]byte `json:"pro_tx_hash"`
	Service   string   `json:"service"`
}

// ProUpRegData updates a masternode's operator key and payout address.
type ProUpRegData struct {
	ProTxHash   [32]byte      `json:"pro_tx_hash"`
	OperatorKey []byte        `json:"operator_pubkey"`
	PayoutAddr  types.Address `json:"payout_address"`
}

// ProUpRevData revokes a masternode (PoSe or operator-initiated).
type ProUpRevData struct {
	ProTxHash [32]byte `json:"pro_tx_hash"`
	Reason    uint16   `json:"reason"`
}

func decodePayload(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("specialtx: decode payload: %w", err)
	}
	return nil
}
