package specialtx

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/settlement"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// connectHTLCCreate tags output[0] as an HTLC lock and untags the M1
// receipts it spent. HTLC value never leaves the M1 rail — it is
// always exactly the spent M1 total, so no net supply delta results
// (mirrors TX_TRANSFER_M1's split/merge, just parked in escrow instead
// of a new receipt).
func (p *Processor) connectHTLCCreate(batch *settlement.WriteBatch, t *tx.Transaction, height uint64, txHash types.Hash) (*Result, error) {
	var data HTLCData
	if err := decodePayload(t.Outputs[0].Script.Data, &data); err != nil {
		return nil, err
	}

	var spent []settlement.M1Receipt
	for _, in := range t.Inputs {
		r, err := p.settlement.GetM1Receipt(in.PrevOut)
		if err != nil {
			return nil, fmt.Errorf("specialtx: TX_HTLC_CREATE input %s is not an M1 receipt: %w", in.PrevOut, err)
		}
		spent = append(spent, *r)
		batch.DeleteM1Receipt(in.PrevOut)
	}

	lockOp := types.Outpoint{TxID: txHash, Index: 0}
	var hashes [][32]byte
	hashes = append(hashes, data.SecretHashes...)
	lock := &settlement.HTLCLock{
		Outpoint:     lockOp,
		Height:       height,
		SecretHashes: hashes,
		ClaimOwner:   data.ClaimOwner,
		RefundOwner:  data.RefundOwner,
		RefundAfter:  data.RefundAfter,
		Amount:       t.Outputs[0].Value,
	}
	if err := batch.PutHTLC(lock); err != nil {
		return nil, err
	}
	if err := batch.PutUndoEntry(&settlement.UndoEntry{
		TxID: txHash, SpentReceipts: spent, CreatedHTLCs: []types.Outpoint{lockOp},
	}); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

// connectHTLCClaim untags the HTLC lock the claim's single input spends.
// The claimed M1 output the base block-apply path creates is an
// ordinary output; this only removes the now-satisfied lock tag.
func (p *Processor) connectHTLCClaim(batch *settlement.WriteBatch, t *tx.Transaction, txHash types.Hash) (*Result, error) {
	lock, err := p.settlement.GetHTLC(t.Inputs[0].PrevOut)
	if err != nil {
		return nil, fmt.Errorf("specialtx: TX_HTLC_CLAIM input %s is not an HTLC lock: %w", t.Inputs[0].PrevOut, err)
	}
	batch.DeleteHTLC(t.Inputs[0].PrevOut)
	if err := batch.PutUndoEntry(&settlement.UndoEntry{TxID: txHash, SpentHTLCs: []settlement.HTLCLock{*lock}}); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

// connectHTLCRefund is structurally identical to a claim: it untags the
// lock. CheckSpecialTx already enforced RefundAfter and that no
// preimage is needed.
func (p *Processor) connectHTLCRefund(batch *settlement.WriteBatch, t *tx.Transaction, height uint64, txHash types.Hash) (*Result, error) {
	return p.connectHTLCClaim(batch, t, txHash)
}

// disconnectHTLC reverses any of the three HTLC kinds via the
// settlement undo journal, the same mechanism TX_LOCK/TX_UNLOCK use.
func (p *Processor) disconnectHTLC(txHash types.Hash) error {
	return p.settlement.Undo(txHash)
}
