package p2p

import (
	"encoding/json"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// FinalitySignature is the wire form of one masternode operator's signature
// over a block hash, gossiped on the finality topic and relayed by every
// node that has not seen it before.
type FinalitySignature struct {
	BlockHash types.Hash `json:"block_hash"`
	ProTxHash types.Hash `json:"pro_tx_hash"`
	Signature []byte     `json:"signature"`
}

// joinFinality subscribes to the finality-signature topic. Called once
// from Start; unlike the old sub-chain topics there is exactly one of these.
func (n *Node) joinFinality() error {
	topic, err := n.pubsub.Join(TopicFinality)
	if err != nil {
		return fmt.Errorf("join finality topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return fmt.Errorf("subscribe finality topic: %w", err)
	}
	n.topicFinality = topic
	n.subFinality = sub
	go n.readLoop(n.subFinality, n.handleFinalityMessage)
	return nil
}

// SetFinalityHandler registers a callback for incoming finality signatures.
func (n *Node) SetFinalityHandler(fn func(peer.ID, []byte)) {
	n.finalityHandler = fn
}

// BroadcastFinality publishes a finality signature to every peer.
func (n *Node) BroadcastFinality(sig *FinalitySignature) error {
	if n.topicFinality == nil {
		return fmt.Errorf("finality topic not joined")
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal finality signature: %w", err)
	}
	return n.topicFinality.Publish(n.ctx, data)
}

func (n *Node) handleFinalityMessage(msg *pubsub.Message) {
	defer func() { recover() }()
	n.addPeer(msg.ReceivedFrom)
	if n.finalityHandler != nil {
		n.finalityHandler(msg.ReceivedFrom, msg.Data)
	}
}
