package btcspv

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/btcwire"
)

// MerkleProof is the sibling-hash branch needed to recompute a block's
// merkle root from one transaction's txid, per §3 "MerkleProof".
type MerkleProof struct {
	Siblings []btcwire.Hash256 // bottom-up, one per tree level
	Index    uint32            // the leaf's position, used to pick left/right concatenation order at each level
}

// VerifyMerkleProof recomputes the merkle root implied by txid and
// proof and checks it against the header stored for blockHash.
func (s *Store) VerifyMerkleProof(txid btcwire.Hash256, blockHash btcwire.Hash256, proof MerkleProof) (bool, error) {
	header, _, err := s.GetHeaderByHash(blockHash)
	if err != nil {
		return false, fmt.Errorf("btcspv: verify merkle proof: %w", err)
	}
	root := computeMerkleRoot(txid, proof)
	return root == header.MerkleRoot, nil
}

// computeMerkleRoot folds a proof's sibling hashes onto a leaf hash,
// following Bitcoin's convention of concatenating (left, right) in
// tree order and hashing with double-SHA256 at every level.
func computeMerkleRoot(leaf btcwire.Hash256, proof MerkleProof) btcwire.Hash256 {
	cur := leaf
	index := proof.Index
	for _, sibling := range proof.Siblings {
		var buf [64]byte
		if index%2 == 0 {
			copy(buf[:32], cur[:])
			copy(buf[32:], sibling[:])
		} else {
			copy(buf[:32], sibling[:])
			copy(buf[32:], cur[:])
		}
		cur = btcwire.DoubleSHA256(buf[:])
		index /= 2
	}
	return cur
}
