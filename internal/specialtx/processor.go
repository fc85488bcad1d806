package specialtx

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/btcheaders"
	"github.com/Klingon-tech/klingnet-chain/internal/burnclaim"
	"github.com/Klingon-tech/klingnet-chain/internal/masternode"
	"github.com/Klingon-tech/klingnet-chain/internal/settlement"
	"github.com/Klingon-tech/klingnet-chain/pkg/btcwire"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Processor applies the settlement-layer side effects of special
// transactions alongside the ordinary UTXO spend/create every
// transaction already goes through. It does not duplicate that UTXO
// bookkeeping (internal/chain's applyBlock already creates and spends
// the M0/M1/vault outputs themselves) — it only maintains the tags,
// claim lifecycle and header mirror those outputs' special meaning
// requires.
type Processor struct {
	settlement  *settlement.Store
	burnclaims  *burnclaim.Store
	headers     *btcheaders.Store
	masternodes *masternode.Registry
}

// New creates a special-tx processor wired to the three stores it
// coordinates. SetMasternodeRegistry must be called separately before
// PROREG-family transactions can be connected — mirroring
// internal/mempool's SetTokenValidator pattern for an optional,
// late-wired dependency.
func New(s *settlement.Store, b *burnclaim.Store, h *btcheaders.Store) *Processor {
	return &Processor{settlement: s, burnclaims: b, headers: h}
}

// SetMasternodeRegistry wires the masternode registry that
// PROREG/PROUPSERV/PROUPREG/PROUPREV transactions mutate.
func (p *Processor) SetMasternodeRegistry(m *masternode.Registry) {
	p.masternodes = m
}

// ClassifyWithSettlement extends Classify with the settlement lookup
// needed to recognize TX_UNLOCK and TX_TRANSFER_M1, which carry no
// marker output and are identified only by which tagged outpoints
// their inputs spend.
func (p *Processor) ClassifyWithSettlement(t *tx.Transaction) (Kind, error) {
	if kind := Classify(t); kind != KindOrdinary {
		return kind, nil
	}
	if len(t.Inputs) == 0 {
		return KindOrdinary, nil
	}
	first := t.Inputs[0].PrevOut
	if isVault, err := p.settlement.IsVault(first); err != nil {
		return KindOrdinary, err
	} else if isVault {
		return KindUnlock, nil
	}
	if isReceipt, err := p.settlement.IsM1Receipt(first); err != nil {
		return KindOrdinary, err
	} else if isReceipt {
		return KindTransferM1, nil
	}
	return KindOrdinary, nil
}

// Result is what applying one special transaction contributes to the
// block's running settlement totals.
type Result struct {
	M0VaultedDelta int64
	M1SupplyDelta  int64
	MintedSats     uint64
}

// Connect applies kind's settlement-side effects for one transaction,
// staging tag mutations and an undo entry into batch. height is the
// connecting block's L1 height; txHash is the transaction's own hash
// (used as the outputs' implicit outpoint index base).
func (p *Processor) Connect(batch *settlement.WriteBatch, t *tx.Transaction, kind Kind, height uint64, txHash types.Hash) (*Result, error) {
	switch kind {
	case KindLock:
		return p.connectLock(batch, t, height, txHash)
	case KindUnlock:
		return p.connectUnlock(batch, t, height, txHash)
	case KindTransferM1:
		return p.connectTransferM1(batch, t, height, txHash)
	case KindBurnClaim:
		return &Result{}, p.connectBurnClaim(t, height)
	case KindMintM0BTC:
		return p.connectMint(t, height)
	case KindBTCHeaders:
		return &Result{}, p.connectBTCHeaders(t, height)
	case KindHTLCCreate:
		return p.connectHTLCCreate(batch, t, height, txHash)
	case KindHTLCClaim:
		return p.connectHTLCClaim(batch, t, txHash)
	case KindHTLCRefund:
		return p.connectHTLCRefund(batch, t, height, txHash)
	case KindProReg:
		return &Result{}, p.connectProReg(t, height)
	case KindProUpServ:
		return &Result{}, p.connectProUpServ(t)
	case KindProUpReg:
		return &Result{}, p.connectProUpReg(t)
	case KindProUpRev:
		return &Result{}, p.connectProUpRev(t, height)
	default:
		return &Result{}, nil
	}
}

// connectLock handles TX_LOCK: output[0] is the vault (ScriptTypeVault),
// output[1] is the M1 receipt (ScriptTypeM1). Both are tagged and an
// undo entry recorded so a reorg untags them together.
func (p *Processor) connectLock(batch *settlement.WriteBatch, t *tx.Transaction, height uint64, txHash types.Hash) (*Result, error) {
	if len(t.Outputs) < 2 {
		return nil, fmt.Errorf("specialtx: TX_LOCK requires a vault and a receipt output")
	}
	vaultOp := types.Outpoint{TxID: txHash, Index: 0}
	receiptOp := types.Outpoint{TxID: txHash, Index: 1}

	var owner types.Address
	copy(owner[:], t.Outputs[1].Script.Data)

	vault := &settlement.VaultOutpoint{
		Outpoint:    vaultOp,
		Height:      height,
		OwnerScript: t.Outputs[0].Script,
		Amount:      t.Outputs[0].Value,
		ReceiptTxID: txHash,
		ReceiptVout: 1,
	}
	receipt := &settlement.M1Receipt{
		Outpoint:  receiptOp,
		Height:    height,
		Owner:     owner,
		Amount:    t.Outputs[1].Value,
		VaultTxID: txHash,
		VaultVout: 0,
	}
	if vault.Amount != receipt.Amount {
		return nil, fmt.Errorf("specialtx: TX_LOCK vault/receipt amount mismatch (%d != %d)", vault.Amount, receipt.Amount)
	}

	if err := batch.PutVault(vault); err != nil {
		return nil, err
	}
	if err := batch.PutM1Receipt(receipt); err != nil {
		return nil, err
	}
	if err := batch.PutUndoEntry(&settlement.UndoEntry{
		TxID:            txHash,
		CreatedVaults:   []types.Outpoint{vaultOp},
		CreatedReceipts: []types.Outpoint{receiptOp},
	}); err != nil {
		return nil, err
	}

	return &Result{M0VaultedDelta: int64(vault.Amount), M1SupplyDelta: int64(receipt.Amount)}, nil
}

// connectUnlock handles TX_UNLOCK: every input must be a tagged vault
// (enforced by CheckSpecialTx before Connect is ever called); the fee
// is paid in M1 and deducted from the unlocked amount per §4.E.
func (p *Processor) connectUnlock(batch *settlement.WriteBatch, t *tx.Transaction, height uint64, txHash types.Hash) (*Result, error) {
	var spent []settlement.VaultOutpoint
	var total uint64
	for _, in := range t.Inputs {
		v, err := p.settlement.GetVault(in.PrevOut)
		if err != nil {
			return nil, fmt.Errorf("specialtx: TX_UNLOCK input %s is not a vault outpoint: %w", in.PrevOut, err)
		}
		spent = append(spent, *v)
		total += v.Amount
		batch.DeleteVault(in.PrevOut)
	}

	var m1Change uint64
	for _, out := range t.Outputs {
		if out.Script.Type == types.ScriptTypeM1 {
			m1Change += out.Value
		}
	}
	if m1Change > total {
		return nil, fmt.Errorf("specialtx: TX_UNLOCK M1 change %d exceeds unlocked total %d", m1Change, total)
	}

	if err := batch.PutUndoEntry(&settlement.UndoEntry{TxID: txHash, SpentVaults: spent}); err != nil {
		return nil, err
	}

	return &Result{
		M0VaultedDelta: -int64(total),
		M1SupplyDelta:  -int64(total - m1Change),
	}, nil
}

// connectTransferM1 handles TX_TRANSFER_M1: splits or merges M1
// receipts with no change to total M1 supply; the fee (paid in M1) is
// the only value that leaves the receipt rail.
func (p *Processor) connectTransferM1(batch *settlement.WriteBatch, t *tx.Transaction, height uint64, txHash types.Hash) (*Result, error) {
	var spent []settlement.M1Receipt
	var inTotal uint64
	for _, in := range t.Inputs {
		r, err := p.settlement.GetM1Receipt(in.PrevOut)
		if err != nil {
			return nil, fmt.Errorf("specialtx: TX_TRANSFER_M1 input %s is not an M1 receipt: %w", in.PrevOut, err)
		}
		spent = append(spent, *r)
		inTotal += r.Amount
		batch.DeleteM1Receipt(in.PrevOut)
	}

	var created []types.Outpoint
	var outTotal uint64
	for i, out := range t.Outputs {
		if out.Script.Type != types.ScriptTypeM1 {
			continue
		}
		var owner types.Address
		copy(owner[:], out.Script.Data)
		op := types.Outpoint{TxID: txHash, Index: uint32(i)}
		if err := batch.PutM1Receipt(&settlement.M1Receipt{
			Outpoint: op, Height: height, Owner: owner, Amount: out.Value,
		}); err != nil {
			return nil, err
		}
		created = append(created, op)
		outTotal += out.Value
	}
	if outTotal > inTotal {
		return nil, fmt.Errorf("specialtx: TX_TRANSFER_M1 creates more M1 (%d) than it spends (%d)", outTotal, inTotal)
	}

	if err := batch.PutUndoEntry(&settlement.UndoEntry{
		TxID: txHash, SpentReceipts: spent, CreatedReceipts: created,
	}); err != nil {
		return nil, err
	}
	// Fee (inTotal - outTotal) leaves the M1 rail entirely, so supply drops by it.
	return &Result{M1SupplyDelta: -int64(inTotal - outTotal)}, nil
}

// connectBurnClaim registers a PENDING burn-claim record from the
// TX_BURN_CLAIM marker payload (§4.D). Duplicate claims on the same BTC
// output are rejected by burnclaim.Store.Create's ErrAlreadyClaimed.
func (p *Processor) connectBurnClaim(t *tx.Transaction, height uint64) error {
	var data BurnClaimData
	if err := decodePayload(t.Outputs[0].Script.Data, &data); err != nil {
		return err
	}
	var btcTxID [32]byte
	copy(btcTxID[:], data.BurnTxID[:])

	rec := &burnclaim.Record{
		BurnTxID:    btcTxID,
		BurnVout:    data.BurnVout,
		BTCHeight:   data.BTCHeight,
		BurnedSats:  data.BurnedSats,
		Destination: data.Destination,
		Network:     btcwire.Network(data.Network),
		ClaimTxID:   t.Hash(),
		ClaimHeight: height,
	}
	return p.burnclaims.Create(rec)
}

// connectMint applies TX_MINT_M0BTC: every claim it lists transitions
// PENDING→FINAL→MINTED in one step (§4.D treats FINAL as "eligible and
// about to be minted"; see DESIGN.md for why this store splits that
// into two states). The M0 outputs themselves are ordinary UTXO
// creates already handled by the base block-apply path.
func (p *Processor) connectMint(t *tx.Transaction, height uint64) (*Result, error) {
	var data MintClaimsData
	if err := decodePayload(t.Outputs[0].Script.Data, &data); err != nil {
		return nil, err
	}

	var minted uint64
	for _, c := range data.Claims {
		var burnTxID [32]byte
		copy(burnTxID[:], c.BurnTxID[:])
		rec, err := p.burnclaims.Get(burnTxID, c.BurnVout)
		if err != nil {
			return nil, fmt.Errorf("specialtx: TX_MINT_M0BTC references unknown claim %x:%d: %w", burnTxID, c.BurnVout, err)
		}
		if err := p.burnclaims.MarkFinal(burnTxID, c.BurnVout, height); err != nil {
			return nil, err
		}
		mintTxID := t.Hash()
		var mintTxIDArr [32]byte
		copy(mintTxIDArr[:], mintTxID[:])
		if err := p.burnclaims.MarkMinted(burnTxID, c.BurnVout, mintTxIDArr); err != nil {
			return nil, err
		}
		minted += rec.BurnedSats
	}

	return &Result{MintedSats: minted}, nil
}

// connectBTCHeaders appends the republished header run to the on-chain
// mirror (§4.B). The headers themselves were already independently
// validated by every node's own btcspv store before this masternode's
// republication was ever accepted into a block.
func (p *Processor) connectBTCHeaders(t *tx.Transaction, height uint64) error {
	var data BTCHeadersData
	if err := decodePayload(t.Outputs[0].Script.Data, &data); err != nil {
		return err
	}
	headers := make([]*btcwire.Header, len(data.Headers))
	for i, raw := range data.Headers {
		h, err := btcwire.ParseHeader(raw)
		if err != nil {
			return fmt.Errorf("specialtx: TX_BTC_HEADERS header %d: %w", i, err)
		}
		headers[i] = h
	}
	return p.headers.PutHeaders(headers, data.StartHeight, data.ProTxHash)
}
