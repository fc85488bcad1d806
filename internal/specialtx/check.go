package specialtx

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/burnclaim"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// MaxMintClaimsPerBlock caps how many burn claims a single
// TX_MINT_M0BTC may finalize, bounding the producer's per-block work
// and keeping the mint transaction's size predictable (§4.D).
const MaxMintClaimsPerBlock = 100

// CheckSpecialTx performs the structural and settlement-state checks
// for one classified transaction, ahead of Connect actually applying
// it. It never mutates state — callers run it during mempool
// acceptance and again (cheaply, since nothing here depends on block
// position) during block validation.
func (p *Processor) CheckSpecialTx(t *tx.Transaction, kind Kind, height uint64) error {
	switch kind {
	case KindLock:
		return p.checkLock(t)
	case KindUnlock:
		return p.checkUnlock(t)
	case KindTransferM1:
		return p.checkTransferM1(t)
	case KindBurnClaim:
		return p.checkBurnClaim(t)
	case KindMintM0BTC:
		return p.checkMint(t, height)
	case KindBTCHeaders:
		return p.checkBTCHeaders(t)
	case KindHTLCCreate:
		return p.checkHTLCCreate(t)
	case KindHTLCClaim:
		return p.checkHTLCClaim(t)
	case KindHTLCRefund:
		return p.checkHTLCRefund(t, height)
	case KindProReg:
		return p.checkProReg(t)
	case KindProUpServ:
		return p.checkProUpServ(t)
	case KindProUpReg:
		return p.checkProUpReg(t)
	case KindProUpRev:
		return p.checkProUpRev(t)
	default:
		return p.checkVaultProtection(t)
	}
}

// checkVaultProtection enforces §4.E's rule that a vault-tagged
// outpoint may only ever be spent by TX_UNLOCK — an ordinary
// transaction spending one, regardless of its scriptPubKey, is
// rejected at the consensus level.
func (p *Processor) checkVaultProtection(t *tx.Transaction) error {
	for _, in := range t.Inputs {
		if isVault, err := p.settlement.IsVault(in.PrevOut); err != nil {
			return err
		} else if isVault {
			return fmt.Errorf("specialtx: %s spends vault outpoint %s outside TX_UNLOCK", KindOrdinary, in.PrevOut)
		}
	}
	return nil
}

func (p *Processor) checkLock(t *tx.Transaction) error {
	if len(t.Outputs) < 2 {
		return fmt.Errorf("specialtx: TX_LOCK requires a vault and a receipt output")
	}
	if t.Outputs[0].Script.Type != types.ScriptTypeVault {
		return fmt.Errorf("specialtx: TX_LOCK output 0 must be ScriptTypeVault")
	}
	if t.Outputs[1].Script.Type != types.ScriptTypeM1 {
		return fmt.Errorf("specialtx: TX_LOCK output 1 must be ScriptTypeM1")
	}
	if t.Outputs[0].Value != t.Outputs[1].Value {
		return fmt.Errorf("specialtx: TX_LOCK vault/receipt amounts must match")
	}
	for _, in := range t.Inputs {
		if isVault, err := p.settlement.IsVault(in.PrevOut); err != nil {
			return err
		} else if isVault {
			return fmt.Errorf("specialtx: TX_LOCK must not spend an already-vaulted outpoint")
		}
		if isReceipt, err := p.settlement.IsM1Receipt(in.PrevOut); err != nil {
			return err
		} else if isReceipt {
			return fmt.Errorf("specialtx: TX_LOCK must not spend an M1 receipt")
		}
	}
	return nil
}

func (p *Processor) checkUnlock(t *tx.Transaction) error {
	if len(t.Inputs) == 0 {
		return fmt.Errorf("specialtx: TX_UNLOCK requires at least one vault input")
	}
	for _, in := range t.Inputs {
		if isVault, err := p.settlement.IsVault(in.PrevOut); err != nil {
			return err
		} else if !isVault {
			return fmt.Errorf("specialtx: TX_UNLOCK input %s is not a vault outpoint", in.PrevOut)
		}
	}
	for _, out := range t.Outputs {
		if out.Script.Type == types.ScriptTypeVault {
			return fmt.Errorf("specialtx: TX_UNLOCK must not create new vault outputs")
		}
	}
	return nil
}

func (p *Processor) checkTransferM1(t *tx.Transaction) error {
	if len(t.Inputs) == 0 {
		return fmt.Errorf("specialtx: TX_TRANSFER_M1 requires at least one receipt input")
	}
	for _, in := range t.Inputs {
		if isReceipt, err := p.settlement.IsM1Receipt(in.PrevOut); err != nil {
			return err
		} else if !isReceipt {
			return fmt.Errorf("specialtx: TX_TRANSFER_M1 input %s is not an M1 receipt", in.PrevOut)
		}
	}
	for _, out := range t.Outputs {
		if out.Script.Type == types.ScriptTypeVault {
			return fmt.Errorf("specialtx: TX_TRANSFER_M1 must not create vault outputs")
		}
	}
	return nil
}

func (p *Processor) checkBurnClaim(t *tx.Transaction) error {
	var data BurnClaimData
	if err := decodePayload(t.Outputs[0].Script.Data, &data); err != nil {
		return err
	}
	if t.Outputs[0].Value != 0 {
		return fmt.Errorf("specialtx: TX_BURN_CLAIM marker output must carry zero value")
	}
	var btcTxID [32]byte
	copy(btcTxID[:], data.BurnTxID[:])
	if has, err := p.burnclaims.Has(btcTxID, data.BurnVout); err != nil {
		return err
	} else if has {
		return fmt.Errorf("specialtx: burn output %x:%d already claimed", btcTxID, data.BurnVout)
	}
	return nil
}

func (p *Processor) checkMint(t *tx.Transaction, height uint64) error {
	var data MintClaimsData
	if err := decodePayload(t.Outputs[0].Script.Data, &data); err != nil {
		return err
	}
	if len(data.Claims) > MaxMintClaimsPerBlock {
		return fmt.Errorf("specialtx: TX_MINT_M0BTC claims %d exceeds cap %d", len(data.Claims), MaxMintClaimsPerBlock)
	}
	if t.Outputs[0].Value != 0 {
		return fmt.Errorf("specialtx: TX_MINT_M0BTC marker output must carry zero value")
	}
	for _, c := range data.Claims {
		var btcTxID [32]byte
		copy(btcTxID[:], c.BurnTxID[:])
		rec, err := p.burnclaims.Get(btcTxID, c.BurnVout)
		if err != nil {
			return fmt.Errorf("specialtx: TX_MINT_M0BTC references unknown claim: %w", err)
		}
		if rec.Status != burnclaim.StatusPending {
			return fmt.Errorf("specialtx: claim %x:%d is not PENDING", btcTxID, c.BurnVout)
		}
	}
	return nil
}

// checkHTLCCreate validates a new HTLC lock: it spends M1 receipts and
// its first output is an HTLC marker carrying 1 or 3 secret hashes,
// whose value must equal the spent M1 total.
func (p *Processor) checkHTLCCreate(t *tx.Transaction) error {
	var data HTLCData
	if err := decodePayload(t.Outputs[0].Script.Data, &data); err != nil {
		return err
	}
	if n := len(data.SecretHashes); n != 1 && n != 3 {
		return fmt.Errorf("specialtx: TX_HTLC_CREATE requires 1 or 3 secret hashes, got %d", n)
	}
	if len(t.Inputs) == 0 {
		return fmt.Errorf("specialtx: TX_HTLC_CREATE requires at least one M1 input")
	}
	var inTotal uint64
	for _, in := range t.Inputs {
		r, err := p.settlement.GetM1Receipt(in.PrevOut)
		if err != nil {
			return fmt.Errorf("specialtx: TX_HTLC_CREATE input %s is not an M1 receipt: %w", in.PrevOut, err)
		}
		inTotal += r.Amount
	}
	if t.Outputs[0].Value != inTotal {
		return fmt.Errorf("specialtx: TX_HTLC_CREATE locks %d but spends %d M1", t.Outputs[0].Value, inTotal)
	}
	return nil
}

// checkHTLCClaim validates a claim spending exactly one HTLC lock,
// requiring a preimage for every secret hash it was created with.
func (p *Processor) checkHTLCClaim(t *tx.Transaction) error {
	if len(t.Inputs) != 1 {
		return fmt.Errorf("specialtx: TX_HTLC_CLAIM must spend exactly one HTLC lock")
	}
	var data HTLCData
	if err := decodePayload(t.Outputs[0].Script.Data, &data); err != nil {
		return err
	}
	lock, err := p.settlement.GetHTLC(t.Inputs[0].PrevOut)
	if err != nil {
		return fmt.Errorf("specialtx: TX_HTLC_CLAIM input %s is not an HTLC lock: %w", t.Inputs[0].PrevOut, err)
	}
	if len(data.Preimages) != len(lock.SecretHashes) {
		return fmt.Errorf("specialtx: TX_HTLC_CLAIM provides %d preimages, lock requires %d", len(data.Preimages), len(lock.SecretHashes))
	}
	for i, preimage := range data.Preimages {
		if crypto.Hash(preimage[:]) != types.Hash(lock.SecretHashes[i]) {
			return fmt.Errorf("specialtx: TX_HTLC_CLAIM preimage %d does not match secret hash", i)
		}
	}
	return nil
}

// checkHTLCRefund validates a refund spending exactly one HTLC lock
// after its RefundAfter height has passed.
func (p *Processor) checkHTLCRefund(t *tx.Transaction, height uint64) error {
	if len(t.Inputs) != 1 {
		return fmt.Errorf("specialtx: TX_HTLC_REFUND must spend exactly one HTLC lock")
	}
	lock, err := p.settlement.GetHTLC(t.Inputs[0].PrevOut)
	if err != nil {
		return fmt.Errorf("specialtx: TX_HTLC_REFUND input %s is not an HTLC lock: %w", t.Inputs[0].PrevOut, err)
	}
	if height < lock.RefundAfter {
		return fmt.Errorf("specialtx: TX_HTLC_REFUND at height %d is before refund height %d", height, lock.RefundAfter)
	}
	return nil
}

// checkProReg validates a new masternode registration: the proTxHash
// must not already be registered and the operator key must be a
// plausible compressed secp256k1 public key.
func (p *Processor) checkProReg(t *tx.Transaction) error {
	var data ProRegData
	if err := decodePayload(t.Outputs[0].Script.Data, &data); err != nil {
		return err
	}
	if len(data.OperatorKey) != 33 {
		return fmt.Errorf("specialtx: PROREG operator key must be 33 bytes compressed")
	}
	if p.masternodes == nil {
		return fmt.Errorf("specialtx: masternode registry not wired")
	}
	if _, err := p.masternodes.Get(data.ProTxHash); err == nil {
		return fmt.Errorf("specialtx: PROREG proTxHash %x already registered", data.ProTxHash)
	}
	return nil
}

func (p *Processor) checkProUpServ(t *tx.Transaction) error {
	var data ProUpServData
	if err := decodePayload(t.Outputs[0].Script.Data, &data); err != nil {
		return err
	}
	return p.requireRegistered(data.ProTxHash, "PROUPSERV")
}

func (p *Processor) checkProUpReg(t *tx.Transaction) error {
	var data ProUpRegData
	if err := decodePayload(t.Outputs[0].Script.Data, &data); err != nil {
		return err
	}
	if len(data.OperatorKey) != 33 {
		return fmt.Errorf("specialtx: PROUPREG operator key must be 33 bytes compressed")
	}
	return p.requireRegistered(data.ProTxHash, "PROUPREG")
}

func (p *Processor) checkProUpRev(t *tx.Transaction) error {
	var data ProUpRevData
	if err := decodePayload(t.Outputs[0].Script.Data, &data); err != nil {
		return err
	}
	return p.requireRegistered(data.ProTxHash, "PROUPREV")
}

func (p *Processor) requireRegistered(proTxHash [32]byte, label string) error {
	if p.masternodes == nil {
		return fmt.Errorf("specialtx: masternode registry not wired")
	}
	rec, err := p.masternodes.Get(proTxHash)
	if err != nil {
		return fmt.Errorf("specialtx: %s references unknown proTxHash %x", label, proTxHash)
	}
	if rec.Revoked {
		return fmt.Errorf("specialtx: %s references revoked proTxHash %x", label, proTxHash)
	}
	return nil
}

func (p *Processor) checkBTCHeaders(t *tx.Transaction) error {
	var data BTCHeadersData
	if err := decodePayload(t.Outputs[0].Script.Data, &data); err != nil {
		return err
	}
	if len(data.Headers) == 0 {
		return fmt.Errorf("specialtx: TX_BTC_HEADERS carries no headers")
	}
	if t.Outputs[0].Value != 0 {
		return fmt.Errorf("specialtx: TX_BTC_HEADERS marker output must carry zero value")
	}
	if has, err := p.headers.HasHeaderAtHeight(data.StartHeight); err != nil {
		return err
	} else if has {
		return fmt.Errorf("specialtx: TX_BTC_HEADERS would republish an already-committed height %d", data.StartHeight)
	}
	return nil
}
