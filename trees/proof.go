package trees

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/kysee/zk-unirep/types"
)

// Proof is a membership proof: the sibling of each level from the leaf up.
type Proof struct {
	Index    uint64
	Leaf     fr.Element
	Siblings []fr.Element
}

// PathIndices returns the index bits leaf level first; 1 means the node is a
// right child.
func (p *Proof) PathIndices() []uint8 {
	bits := make([]uint8, len(p.Siblings))
	idx := p.Index
	for i := range bits {
		bits[i] = uint8(idx & 1)
		idx >>= 1
	}
	return bits
}

// SiblingsBig is the path as big integers, the form circuit witnesses take.
func (p *Proof) SiblingsBig() []*big.Int {
	out := make([]*big.Int, len(p.Siblings))
	for i := range p.Siblings {
		out[i] = types.FieldToBig(p.Siblings[i])
	}
	return out
}

// ComputeRoot folds the proof from its leaf up to a root.
func (p *Proof) ComputeRoot(hFn HashFn) fr.Element {
	if hFn == nil {
		hFn = types.HashLeftRight
	}
	cur := p.Leaf
	idx := p.Index
	for _, sibling := range p.Siblings {
		if idx%2 == 0 {
			cur = hFn(cur, sibling)
		} else {
			cur = hFn(sibling, cur)
		}
		idx /= 2
	}
	return cur
}

// VerifyProof checks p against root.
func VerifyProof(root fr.Element, p *Proof, hFn HashFn) bool {
	computed := p.ComputeRoot(hFn)
	return computed.Equal(&root)
}
