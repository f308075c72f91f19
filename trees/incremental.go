package trees

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// IncrementalTree is an append-only Merkle tree: leaves take strictly
// increasing indices from zero and are never rewritten.
type IncrementalTree struct {
	tree *SparseTree
	next uint64
}

func NewIncrementalTree(depth uint8, zeroLeaf fr.Element, hFn HashFn) (*IncrementalTree, error) {
	tree, err := NewSparseTree(depth, zeroLeaf, hFn)
	if err != nil {
		return nil, err
	}
	return &IncrementalTree{tree: tree}, nil
}

// Insert appends leaf and returns its index.
func (t *IncrementalTree) Insert(leaf fr.Element) (uint64, error) {
	if t.Full() {
		return 0, fmt.Errorf("%w: %d leaves (depth %d)", ErrTreeFull, t.next, t.tree.depth)
	}
	idx := t.next
	if _, err := t.tree.Update(idx, leaf); err != nil {
		return 0, err
	}
	t.next++
	return idx, nil
}

// Full reports whether the next Insert would fail.
func (t *IncrementalTree) Full() bool {
	return !t.tree.inRange(t.next) || (t.tree.depth == MaxDepth && t.next == ^uint64(0))
}

func (t *IncrementalTree) Root() fr.Element {
	return t.tree.Root()
}

// Size is the number of inserted leaves, which is also the next index.
func (t *IncrementalTree) Size() uint64 {
	return t.next
}

func (t *IncrementalTree) Depth() uint8 {
	return t.tree.depth
}

func (t *IncrementalTree) Leaf(index uint64) (fr.Element, error) {
	if index >= t.next {
		return fr.Element{}, fmt.Errorf("%w: %d (size %d)", ErrIndexOutOfRange, index, t.next)
	}
	return t.tree.Leaf(index), nil
}

func (t *IncrementalTree) Proof(index uint64) (*Proof, error) {
	if index >= t.next {
		return nil, fmt.Errorf("%w: %d (size %d)", ErrIndexOutOfRange, index, t.next)
	}
	return t.tree.Proof(index)
}

// Leaves returns all inserted leaves in index order.
func (t *IncrementalTree) Leaves() []fr.Element {
	leaves := make([]fr.Element, t.next)
	for i := uint64(0); i < t.next; i++ {
		leaves[i] = t.tree.Leaf(i)
	}
	return leaves
}
