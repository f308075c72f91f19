// Package trees implements the fixed-depth binary Merkle accumulators the
// contract keeps as roots: a sparse tree addressed by index and an append-only
// tree filled from index zero.
package trees

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/kysee/zk-unirep/types"
)

const MaxDepth = 64

var (
	ErrDepth           = errors.New("unsupported tree depth")
	ErrIndexOutOfRange = errors.New("leaf index out of range")
	ErrTreeFull        = errors.New("tree is full")
)

// HashFn combines two children into their parent.
type HashFn func(left, right fr.Element) fr.Element

// SparseTree is a binary Merkle tree of fixed depth where every leaf starts at
// the default value. Only written leaves and their ancestors are stored.
type SparseTree struct {
	depth uint8
	hFn   HashFn
	// zeros[l] is the root of an empty subtree of height l
	zeros []fr.Element
	// nodes[l] holds the non-empty nodes of level l, leaves at level 0
	nodes []map[uint64]fr.Element
}

// NewSparseTree creates an empty tree. A nil hFn selects types.HashLeftRight.
func NewSparseTree(depth uint8, defaultLeaf fr.Element, hFn HashFn) (*SparseTree, error) {
	if depth == 0 || depth > MaxDepth {
		return nil, fmt.Errorf("%w: %d", ErrDepth, depth)
	}
	if hFn == nil {
		hFn = types.HashLeftRight
	}

	t := &SparseTree{
		depth: depth,
		hFn:   hFn,
		zeros: make([]fr.Element, depth+1),
		nodes: make([]map[uint64]fr.Element, depth+1),
	}
	t.zeros[0] = defaultLeaf
	for l := 0; l < int(depth); l++ {
		t.zeros[l+1] = hFn(t.zeros[l], t.zeros[l])
	}
	for l := range t.nodes {
		t.nodes[l] = make(map[uint64]fr.Element)
	}
	return t, nil
}

func (t *SparseTree) Depth() uint8 {
	return t.depth
}

func (t *SparseTree) DefaultLeaf() fr.Element {
	return t.zeros[0]
}

func (t *SparseTree) inRange(index uint64) bool {
	return t.depth == MaxDepth || index < uint64(1)<<t.depth
}

func (t *SparseTree) node(level uint8, pos uint64) fr.Element {
	if v, ok := t.nodes[level][pos]; ok {
		return v
	}
	return t.zeros[level]
}

// Update writes value at index and returns the new root.
func (t *SparseTree) Update(index uint64, value fr.Element) (fr.Element, error) {
	if !t.inRange(index) {
		return fr.Element{}, fmt.Errorf("%w: %d (depth %d)", ErrIndexOutOfRange, index, t.depth)
	}

	t.nodes[0][index] = value
	cur, pos := value, index
	for l := uint8(0); l < t.depth; l++ {
		sibling := t.node(l, pos^1)
		if pos&1 == 0 {
			cur = t.hFn(cur, sibling)
		} else {
			cur = t.hFn(sibling, cur)
		}
		pos >>= 1
		t.nodes[l+1][pos] = cur
	}
	return cur, nil
}

func (t *SparseTree) Root() fr.Element {
	return t.node(t.depth, 0)
}

// Leaf returns the value at index, the default leaf when never written.
func (t *SparseTree) Leaf(index uint64) fr.Element {
	return t.node(0, index)
}

func (t *SparseTree) Has(index uint64) bool {
	_, ok := t.nodes[0][index]
	return ok
}

// Proof returns the sibling path of index, leaf level first.
func (t *SparseTree) Proof(index uint64) (*Proof, error) {
	if !t.inRange(index) {
		return nil, fmt.Errorf("%w: %d (depth %d)", ErrIndexOutOfRange, index, t.depth)
	}

	siblings := make([]fr.Element, t.depth)
	pos := index
	for l := uint8(0); l < t.depth; l++ {
		siblings[l] = t.node(l, pos^1)
		pos >>= 1
	}
	return &Proof{
		Index:    index,
		Leaf:     t.Leaf(index),
		Siblings: siblings,
	}, nil
}

// Reduce maps v into the address space of the tree.
func (t *SparseTree) Reduce(v *big.Int) uint64 {
	return ReduceToDepth(v, t.depth)
}

// LeafEntry is a written leaf.
type LeafEntry struct {
	Index uint64
	Value fr.Element
}

// Leaves returns the written leaves sorted by index.
func (t *SparseTree) Leaves() []LeafEntry {
	entries := make([]LeafEntry, 0, len(t.nodes[0]))
	for idx, v := range t.nodes[0] {
		entries = append(entries, LeafEntry{Index: idx, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Index < entries[j].Index })
	return entries
}

// Len is the number of written leaves.
func (t *SparseTree) Len() int {
	return len(t.nodes[0])
}

// ReduceToDepth returns v mod 2^depth. Every mapping of a protocol value
// (epoch key, nullifier, attester id) onto a leaf index goes through it.
func ReduceToDepth(v *big.Int, depth uint8) uint64 {
	if v == nil {
		return 0
	}
	if depth > MaxDepth {
		depth = MaxDepth
	}
	mask := new(big.Int).Lsh(big.NewInt(1), uint(depth))
	mask.Sub(mask, big.NewInt(1))
	return new(big.Int).And(new(big.Int).Abs(v), mask).Uint64()
}

// ReduceElementToDepth is ReduceToDepth for field elements.
func ReduceElementToDepth(e fr.Element, depth uint8) uint64 {
	return ReduceToDepth(e.BigInt(new(big.Int)), depth)
}
