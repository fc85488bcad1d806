package specialtx

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/masternode"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
)

// connectProReg registers a new masternode in the shared registry
// internal/dmn and internal/finality both read. CheckSpecialTx already
// rejected a duplicate proTxHash, so Register cannot fail on that path.
func (p *Processor) connectProReg(t *tx.Transaction, height uint64) error {
	if p.masternodes == nil {
		return fmt.Errorf("specialtx: masternode registry not wired")
	}
	var data ProRegData
	if err := decodePayload(t.Outputs[0].Script.Data, &data); err != nil {
		return err
	}
	return p.masternodes.Register(&masternode.Record{
		ProTxHash:     data.ProTxHash,
		CollateralOut: data.CollateralOut,
		OperatorKey:   data.OperatorKey,
		VotingAddr:    data.VotingAddr,
		PayoutAddr:    data.PayoutAddr,
		Service:       data.Service,
		RegisteredAt:  height,
	})
}

func (p *Processor) connectProUpServ(t *tx.Transaction) error {
	if p.masternodes == nil {
		return fmt.Errorf("specialtx: masternode registry not wired")
	}
	var data ProUpServData
	if err := decodePayload(t.Outputs[0].Script.Data, &data); err != nil {
		return err
	}
	return p.masternodes.UpdateService([32]byte(t.Hash()), data.ProTxHash, data.Service)
}

func (p *Processor) connectProUpReg(t *tx.Transaction) error {
	if p.masternodes == nil {
		return fmt.Errorf("specialtx: masternode registry not wired")
	}
	var data ProUpRegData
	if err := decodePayload(t.Outputs[0].Script.Data, &data); err != nil {
		return err
	}
	return p.masternodes.UpdateReg([32]byte(t.Hash()), data.ProTxHash, data.OperatorKey, data.PayoutAddr)
}

func (p *Processor) connectProUpRev(t *tx.Transaction, height uint64) error {
	if p.masternodes == nil {
		return fmt.Errorf("specialtx: masternode registry not wired")
	}
	var data ProUpRevData
	if err := decodePayload(t.Outputs[0].Script.Data, &data); err != nil {
		return err
	}
	return p.masternodes.Revoke(data.ProTxHash, height, data.Reason)
}

func (p *Processor) disconnectProReg(t *tx.Transaction) error {
	var data ProRegData
	if err := decodePayload(t.Outputs[0].Script.Data, &data); err != nil {
		return err
	}
	return p.masternodes.Unregister(data.ProTxHash)
}

func (p *Processor) disconnectProUpServ(t *tx.Transaction) error {
	return p.masternodes.UndoUpdate([32]byte(t.Hash()))
}

func (p *Processor) disconnectProUpReg(t *tx.Transaction) error {
	return p.masternodes.UndoUpdate([32]byte(t.Hash()))
}

func (p *Processor) disconnectProUpRev(t *tx.Transaction) error {
	var data ProUpRevData
	if err := decodePayload(t.Outputs[0].Script.Data, &data); err != nil {
		return err
	}
	return p.masternodes.Unrevoke(data.ProTxHash)
}
