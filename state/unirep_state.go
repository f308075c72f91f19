// Package state holds the two observers a replay drives: UnirepState mirrors
// the protocol accumulators the contract keeps as roots, and UserState follows
// one identity on top of it.
package state

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/rs/zerolog"

	"github.com/kysee/zk-unirep/trees"
	"github.com/kysee/zk-unirep/types"
)

// EpochActivity counts the ledger-only events observed in one epoch.
type EpochActivity struct {
	Posts           uint64 `json:"posts"`
	Comments        uint64 `json:"comments"`
	KarmaNullifiers uint64 `json:"karmaNullifiers"`
}

// UnirepState is the Global Observer. It is single-writer: callers apply
// events one at a time in sequencer order.
type UnirepState struct {
	params       Params
	currentEpoch uint64

	globalTree    *trees.IncrementalTree
	nullifierTree *trees.SparseTree
	epochTrees    map[uint64]*trees.SparseTree
	ledger        *AttestationLedger
	activity      map[uint64]*EpochActivity

	logger zerolog.Logger
}

var (
	// written at a nullifier's reduced index
	nullifierMark = types.FieldFromUint64(1)
	// empty slot of the epoch tree
	defaultEpochTreeLeaf = types.HashLeftRight(fr.Element{}, fr.Element{})
)

func newEpochTree(depth uint8) (*trees.SparseTree, error) {
	return trees.NewSparseTree(depth, defaultEpochTreeLeaf, nil)
}

func NewUnirepState(params Params, logger zerolog.Logger) (*UnirepState, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	globalTree, err := trees.NewIncrementalTree(params.GlobalStateTreeDepth, fr.Element{}, nil)
	if err != nil {
		return nil, fmt.Errorf("global state tree: %w", err)
	}
	nullifierTree, err := trees.NewSparseTree(params.NullifierTreeDepth, fr.Element{}, nil)
	if err != nil {
		return nil, fmt.Errorf("nullifier tree: %w", err)
	}
	return &UnirepState{
		params:        params,
		currentEpoch:  params.StartEpoch,
		globalTree:    globalTree,
		nullifierTree: nullifierTree,
		epochTrees:    make(map[uint64]*trees.SparseTree),
		ledger:        NewAttestationLedger(params.StartEpoch),
		activity:      make(map[uint64]*EpochActivity),
		logger:        logger.With().Str("module", "unirep-state").Logger(),
	}, nil
}

func (s *UnirepState) Params() Params {
	return s.params
}

func (s *UnirepState) CurrentEpoch() uint64 {
	return s.currentEpoch
}

func (s *UnirepState) CheckEpoch(what string, epoch uint64) error {
	if epoch != s.currentEpoch {
		return epochMismatch(what, epoch, s.currentEpoch)
	}
	return nil
}

// SignUp appends the sign-up leaf to the global state tree.
func (s *UnirepState) SignUp(epoch uint64, leaf fr.Element) (uint64, error) {
	if err := s.CheckEpoch("sign-up", epoch); err != nil {
		return 0, err
	}
	idx, err := s.globalTree.Insert(leaf)
	if err != nil {
		return 0, fmt.Errorf("%w: sign-up: %v", ErrConsistencyFault, err)
	}
	s.logger.Debug().Uint64("epoch", epoch).Uint64("leafIndex", idx).Msg("sign-up")
	return idx, nil
}

// RecordAttestation folds att into the hash chain of epochKey for the open epoch.
func (s *UnirepState) RecordAttestation(epoch uint64, epochKey *big.Int, att types.Attestation) error {
	if err := s.CheckEpoch("attestation", epoch); err != nil {
		return err
	}
	return s.ledger.Add(s.ReduceEpochKey(epochKey), epochKey, att)
}

func (s *UnirepState) RecordPost(epoch uint64) error {
	if err := s.CheckEpoch("post", epoch); err != nil {
		return err
	}
	s.epochActivity(epoch).Posts++
	return nil
}

func (s *UnirepState) RecordComment(epoch uint64) error {
	if err := s.CheckEpoch("comment", epoch); err != nil {
		return err
	}
	s.epochActivity(epoch).Comments++
	return nil
}

// RecordKarmaNullifiers marks spent karma nullifiers. Re-recording a
// nullifier leaves the tree unchanged. It returns how many were new.
func (s *UnirepState) RecordKarmaNullifiers(nullifiers []*big.Int) int {
	added := 0
	for _, idx := range s.ReduceNullifiers(nullifiers) {
		if idx == 0 || s.nullifierTree.Has(idx) {
			continue
		}
		// in range by construction of Reduce
		_, _ = s.nullifierTree.Update(idx, nullifierMark)
		added++
	}
	s.epochActivity(s.currentEpoch).KarmaNullifiers += uint64(added)
	return added
}

func (s *UnirepState) epochActivity(epoch uint64) *EpochActivity {
	a, ok := s.activity[epoch]
	if !ok {
		a = &EpochActivity{}
		s.activity[epoch] = a
	}
	return a
}

// LedgerStats returns the ledger-only activity of epoch.
func (s *UnirepState) LedgerStats(epoch uint64) EpochActivity {
	if a, ok := s.activity[epoch]; ok {
		return *a
	}
	return EpochActivity{}
}

// SealEpoch writes the sealed hash chains reported for epoch into its epoch
// tree and opens epoch+1. Every chain built locally must be reported with the
// same value, and nothing else may be reported.
func (s *UnirepState) SealEpoch(epoch uint64, leaves []types.EpochTreeLeaf) error {
	if err := s.CheckEpoch("epoch seal", epoch); err != nil {
		return err
	}
	if _, ok := s.epochTrees[epoch]; ok {
		return fmt.Errorf("%w: epoch %d sealed twice", ErrSequenceFault, epoch)
	}

	tree, err := newEpochTree(s.params.EpochTreeDepth)
	if err != nil {
		return err
	}
	seen := make(map[uint64]struct{}, len(leaves))
	for _, leaf := range leaves {
		key := tree.Reduce(leaf.EpochKey)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: epoch %d: epoch key %d reported twice", ErrConsistencyFault, epoch, key)
		}
		seen[key] = struct{}{}

		local, ok := s.ledger.Sealed(key)
		if !ok {
			return fmt.Errorf("%w: epoch %d: epoch key %d has no local attestations", ErrConsistencyFault, epoch, key)
		}
		if !local.Equal(&leaf.Hashchain) {
			return fmt.Errorf("%w: epoch %d: hash chain of epoch key %d differs", ErrConsistencyFault, epoch, key)
		}
		if _, err := tree.Update(key, leaf.Hashchain); err != nil {
			return err
		}
	}
	if len(seen) != s.ledger.Len() {
		return fmt.Errorf("%w: epoch %d: %d epoch keys attested, %d sealed", ErrConsistencyFault, epoch, s.ledger.Len(), len(seen))
	}

	s.epochTrees[epoch] = tree
	s.currentEpoch = epoch + 1
	s.ledger = NewAttestationLedger(s.currentEpoch)

	root := tree.Root()
	s.logger.Debug().
		Uint64("epoch", epoch).
		Int("epochKeys", len(leaves)).
		Str("epochTreeRoot", types.FieldHex(root).String()).
		Msg("epoch sealed")
	return nil
}

func (s *UnirepState) ReduceEpochKey(epochKey *big.Int) uint64 {
	return trees.ReduceToDepth(epochKey, s.params.EpochTreeDepth)
}

// ReduceNullifiers maps nullifiers onto nullifier tree indices.
func (s *UnirepState) ReduceNullifiers(nullifiers []*big.Int) []uint64 {
	reduced := make([]uint64, len(nullifiers))
	for i, n := range nullifiers {
		reduced[i] = s.nullifierTree.Reduce(n)
	}
	return reduced
}

// CheckNullifiers fails with ErrDuplicateNullifier when a non-zero reduced
// nullifier was spent before the set. Repeats within the set are allowed:
// one attester attesting to two epoch keys of an identity yields the same
// attestation nullifier twice.
func (s *UnirepState) CheckNullifiers(reduced []uint64) error {
	for _, idx := range reduced {
		if idx == 0 {
			continue
		}
		if s.nullifierTree.Has(idx) {
			return fmt.Errorf("%w: %d", ErrDuplicateNullifier, idx)
		}
	}
	return nil
}

func (s *UnirepState) NullifierExists(nullifier *big.Int) bool {
	idx := s.nullifierTree.Reduce(nullifier)
	return idx != 0 && s.nullifierTree.Has(idx)
}

// NextGlobalLeafIndex is the index the next appended leaf will take.
func (s *UnirepState) NextGlobalLeafIndex() uint64 {
	return s.globalTree.Size()
}

// ApplyUserStateTransition spends nullifiers and appends newLeaf. Nothing is
// mutated when it fails.
func (s *UnirepState) ApplyUserStateTransition(epoch uint64, newLeaf fr.Element, nullifiers []*big.Int) (uint64, error) {
	if err := s.CheckEpoch("user state transition", epoch); err != nil {
		return 0, err
	}
	reduced := s.ReduceNullifiers(nullifiers)
	if err := s.CheckNullifiers(reduced); err != nil {
		return 0, err
	}
	if s.globalTree.Full() {
		return 0, fmt.Errorf("%w: global state tree: %v", ErrConsistencyFault, trees.ErrTreeFull)
	}

	for _, idx := range reduced {
		if idx == 0 {
			continue
		}
		_, _ = s.nullifierTree.Update(idx, nullifierMark)
	}
	idx, err := s.globalTree.Insert(newLeaf)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrConsistencyFault, err)
	}
	s.logger.Debug().Uint64("epoch", epoch).Uint64("leafIndex", idx).Msg("user state transitioned")
	return idx, nil
}

func (s *UnirepState) GlobalStateRoot() fr.Element {
	return s.globalTree.Root()
}

func (s *UnirepState) GlobalStateProof(index uint64) (*trees.Proof, error) {
	return s.globalTree.Proof(index)
}

func (s *UnirepState) GlobalStateLeaves() []fr.Element {
	return s.globalTree.Leaves()
}

// EpochTreeRoot returns the root of a sealed epoch.
func (s *UnirepState) EpochTreeRoot(epoch uint64) (fr.Element, bool) {
	tree, ok := s.epochTrees[epoch]
	if !ok {
		return fr.Element{}, false
	}
	return tree.Root(), true
}

func (s *UnirepState) EpochTreeProof(epoch uint64, epochKey *big.Int) (*trees.Proof, error) {
	tree, ok := s.epochTrees[epoch]
	if !ok {
		return nil, fmt.Errorf("epoch %d is not sealed", epoch)
	}
	return tree.Proof(tree.Reduce(epochKey))
}

// SealedEpochs returns the sealed epochs in increasing order.
func (s *UnirepState) SealedEpochs() []uint64 {
	epochs := make([]uint64, 0, len(s.epochTrees))
	for e := range s.epochTrees {
		epochs = append(epochs, e)
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })
	return epochs
}

func (s *UnirepState) NullifierRoot() fr.Element {
	return s.nullifierTree.Root()
}

func (s *UnirepState) NullifierProof(nullifier *big.Int) (*trees.Proof, error) {
	return s.nullifierTree.Proof(s.nullifierTree.Reduce(nullifier))
}

// Ledger exposes the attestation ledger of the open epoch.
func (s *UnirepState) Ledger() *AttestationLedger {
	return s.ledger
}
