package specialtx

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/burnclaim"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Disconnect reverses kind's settlement-side effects for a
// transaction being undone during a reorg. Vault/receipt tag changes
// are restored from the settlement undo journal written at Connect
// time; burn-claim and header-mirror state is reversed directly
// against their own stores.
func (p *Processor) Disconnect(t *tx.Transaction, kind Kind, txHash types.Hash) error {
	switch kind {
	case KindLock, KindUnlock, KindTransferM1:
		return p.settlement.Undo(txHash)
	case KindBurnClaim:
		return p.disconnectBurnClaim(t)
	case KindMintM0BTC:
		return p.disconnectMint(t)
	case KindBTCHeaders:
		// btcheaders.Store.DisconnectHeaders is driven by the block
		// processor directly (it needs the block's full header list and
		// the restored tip height, neither of which this transaction
		// alone carries); nothing to do here.
		return nil
	case KindHTLCCreate, KindHTLCClaim, KindHTLCRefund:
		return p.disconnectHTLC(txHash)
	case KindProReg:
		return p.disconnectProReg(t)
	case KindProUpServ:
		return p.disconnectProUpServ(t)
	case KindProUpReg:
		return p.disconnectProUpReg(t)
	case KindProUpRev:
		return p.disconnectProUpRev(t)
	default:
		return nil
	}
}

func (p *Processor) disconnectBurnClaim(t *tx.Transaction) error {
	var data BurnClaimData
	if err := decodePayload(t.Outputs[0].Script.Data, &data); err != nil {
		return err
	}
	var btcTxID [32]byte
	copy(btcTxID[:], data.BurnTxID[:])
	rec, err := p.burnclaims.Get(btcTxID, data.BurnVout)
	if err != nil {
		return err
	}
	if rec.Status != burnclaim.StatusPending {
		return fmt.Errorf("specialtx: cannot disconnect TX_BURN_CLAIM %x:%d, already %s", btcTxID, data.BurnVout, rec.Status)
	}
	return p.burnclaims.Delete(btcTxID, data.BurnVout)
}

// disconnectMint reverts every claim a TX_MINT_M0BTC finalized back to
// PENDING, in reverse order of finalization's irrelevant here since
// each claim's undo is independent.
func (p *Processor) disconnectMint(t *tx.Transaction) error {
	var data MintClaimsData
	if err := decodePayload(t.Outputs[0].Script.Data, &data); err != nil {
		return err
	}
	for _, c := range data.Claims {
		var btcTxID [32]byte
		copy(btcTxID[:], c.BurnTxID[:])
		if err := p.burnclaims.Undo(btcTxID, c.BurnVout, burnclaim.StatusFinal); err != nil {
			return err
		}
		if err := p.burnclaims.Undo(btcTxID, c.BurnVout, burnclaim.StatusPending); err != nil {
			return err
		}
	}
	return nil
}
