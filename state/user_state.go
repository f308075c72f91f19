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

// Transition records one accepted user state transition.
type Transition struct {
	FromEpoch uint64
	ToEpoch   uint64
	LeafIndex uint64
}

// ReputationRecord is the reputation an attester has given this identity.
type ReputationRecord struct {
	AttesterID uint64
	types.Reputation
}

// UserState is the User Observer of one identity. It reads the UnirepState it
// is layered on and never writes to it.
type UserState struct {
	unirep   *UnirepState
	identity types.Identity

	signedUp                bool
	latestTransitionedEpoch uint64
	latestGlobalLeafIndex   uint64

	records     map[uint64]*types.Reputation
	repTree     *trees.SparseTree
	defaultLeaf fr.Element

	transitionedPosKarma uint64
	transitionedNegKarma uint64
	currentEpochPosRep   uint64
	currentEpochNegRep   uint64

	// reduced nullifiers of every transition this identity has observed
	seen    map[uint64]struct{}
	history []Transition

	logger zerolog.Logger
}

var emptyReputation types.Reputation

func NewUserState(unirep *UnirepState, identity types.Identity, logger zerolog.Logger) (*UserState, error) {
	repTree, err := trees.NewSparseTree(unirep.params.UserStateTreeDepth, emptyReputation.Hash(), nil)
	if err != nil {
		return nil, fmt.Errorf("reputation tree: %w", err)
	}
	return &UserState{
		unirep:               unirep,
		identity:             identity,
		records:              make(map[uint64]*types.Reputation),
		repTree:              repTree,
		defaultLeaf:          types.GlobalStateLeaf(identity.Commitment, repTree.Root(), unirep.params.DefaultKarma, 0),
		transitionedPosKarma: unirep.params.DefaultKarma,
		seen:                 make(map[uint64]struct{}),
		logger: logger.With().
			Str("module", "user-state").
			Str("commitment", types.FieldHex(identity.Commitment).String()).
			Logger(),
	}, nil
}

// NewUserStateFromParams restores an identity that already signed up from
// saved bookkeeping, so replay can continue from latestTransitionedEpoch.
func NewUserStateFromParams(
	unirep *UnirepState,
	identity types.Identity,
	transitionedPosKarma, transitionedNegKarma uint64,
	currentEpochPosRep, currentEpochNegRep uint64,
	latestTransitionedEpoch, latestGlobalLeafIndex uint64,
	records []ReputationRecord,
	logger zerolog.Logger,
) (*UserState, error) {
	us, err := NewUserState(unirep, identity, logger)
	if err != nil {
		return nil, err
	}
	us.signedUp = true
	us.transitionedPosKarma = transitionedPosKarma
	us.transitionedNegKarma = transitionedNegKarma
	us.currentEpochPosRep = currentEpochPosRep
	us.currentEpochNegRep = currentEpochNegRep
	us.latestTransitionedEpoch = latestTransitionedEpoch
	us.latestGlobalLeafIndex = latestGlobalLeafIndex
	for _, r := range records {
		rep := r.Reputation
		if err := us.setRecord(r.AttesterID, &rep); err != nil {
			return nil, err
		}
	}
	return us, nil
}

func (u *UserState) setRecord(attesterID uint64, rep *types.Reputation) error {
	idx := u.repTree.Reduce(new(big.Int).SetUint64(attesterID))
	if _, err := u.repTree.Update(idx, rep.Hash()); err != nil {
		return err
	}
	u.records[attesterID] = rep
	return nil
}

func (u *UserState) Identity() types.Identity {
	return u.identity
}

func (u *UserState) SignedUp() bool {
	return u.signedUp
}

func (u *UserState) LatestTransitionedEpoch() uint64 {
	return u.latestTransitionedEpoch
}

func (u *UserState) LatestGlobalLeafIndex() uint64 {
	return u.latestGlobalLeafIndex
}

func (u *UserState) History() []Transition {
	return append([]Transition(nil), u.history...)
}

// Karma returns the karma folded into the latest global state leaf.
func (u *UserState) Karma() (pos, neg uint64) {
	return u.transitionedPosKarma, u.transitionedNegKarma
}

// CurrentEpochReputation is what this identity received since its latest transition.
func (u *UserState) CurrentEpochReputation() (pos, neg uint64) {
	return u.currentEpochPosRep, u.currentEpochNegRep
}

// DefaultGlobalStateLeaf is the leaf this identity inserts when it signs up.
func (u *UserState) DefaultGlobalStateLeaf() fr.Element {
	return u.defaultLeaf
}

// SignUp records that this identity's default leaf was observed at
// globalLeafIndex during epoch.
func (u *UserState) SignUp(epoch, globalLeafIndex uint64) error {
	if u.signedUp {
		return fmt.Errorf("%w: identity signed up twice (leaf %d)", ErrConsistencyFault, globalLeafIndex)
	}
	u.signedUp = true
	u.latestTransitionedEpoch = epoch
	u.latestGlobalLeafIndex = globalLeafIndex
	u.logger.Debug().Uint64("epoch", epoch).Uint64("leafIndex", globalLeafIndex).Msg("identity signed up")
	return nil
}

// EpochKeys returns the reduced epoch keys of this identity in epoch, one per nonce.
func (u *UserState) EpochKeys(epoch uint64) []uint64 {
	keys := make([]uint64, u.unirep.params.NumEpochKeyNoncePerEpoch)
	for nonce := range keys {
		epk := types.GenEpochKey(u.identity.Nullifier, epoch, uint8(nonce))
		keys[nonce] = trees.ReduceElementToDepth(epk, u.unirep.params.EpochTreeDepth)
	}
	return keys
}

// OwnsEpochKey reports whether epochKey belongs to this identity in the
// current epoch. Only an identity transitioned into the current epoch can
// receive attestations.
func (u *UserState) OwnsEpochKey(epochKey *big.Int) bool {
	current := u.unirep.CurrentEpoch()
	if !u.signedUp || u.latestTransitionedEpoch != current {
		return false
	}
	reduced := u.unirep.ReduceEpochKey(epochKey)
	for _, k := range u.EpochKeys(current) {
		if k == reduced {
			return true
		}
	}
	return false
}

// UpdateAttestation applies an attestation sent to one of this identity's
// epoch keys.
func (u *UserState) UpdateAttestation(epochKey *big.Int, att types.Attestation) error {
	if !u.OwnsEpochKey(epochKey) {
		return fmt.Errorf("%w: epoch key %s is not owned in epoch %d", ErrConsistencyFault, epochKey, u.unirep.CurrentEpoch())
	}
	rep := types.Reputation{}
	if r, ok := u.records[att.AttesterID]; ok {
		rep = *r
	}
	rep.Apply(&att)
	if err := u.setRecord(att.AttesterID, &rep); err != nil {
		return err
	}
	u.currentEpochPosRep += att.PosRep
	u.currentEpochNegRep += att.NegRep
	return nil
}

// EpochKeyNullifiers returns the reduced epoch key nullifiers of epoch, one per nonce.
func (u *UserState) EpochKeyNullifiers(epoch uint64) []uint64 {
	nullifiers := make([]uint64, u.unirep.params.NumEpochKeyNoncePerEpoch)
	for nonce := range nullifiers {
		n := types.GenEpochKeyNullifier(u.identity.Nullifier, epoch, uint8(nonce))
		nullifiers[nonce] = trees.ReduceElementToDepth(n, u.unirep.params.NullifierTreeDepth)
	}
	return nullifiers
}

// PendingEpochKeyNullifiers are the nullifiers the next transition of this
// identity must spend, or nil when there is nothing to transition from.
func (u *UserState) PendingEpochKeyNullifiers() []uint64 {
	if !u.signedUp || u.latestTransitionedEpoch >= u.unirep.CurrentEpoch() {
		return nil
	}
	return u.EpochKeyNullifiers(u.latestTransitionedEpoch)
}

func (u *UserState) hasSeen(reduced []uint64) bool {
	for _, n := range reduced {
		if n == 0 {
			continue
		}
		if _, ok := u.seen[n]; ok {
			return true
		}
	}
	return false
}

func (u *UserState) markSeen(reduced []uint64) {
	for _, n := range reduced {
		if n != 0 {
			u.seen[n] = struct{}{}
		}
	}
}

// AcceptTransition observes a transition event and applies it when it closes
// out this identity's pending epoch. verified is the oracle verdict and
// leafIndex the index the event's new leaf will take. It returns whether the
// event belonged to this identity.
//
// A rejected proof or an already seen nullifier leaves the identity untouched
// and is reported with a recoverable error. Matching only part of the
// pending epoch key nullifiers, or a new leaf that differs from the
// recomputed one, is a consistency fault.
func (u *UserState) AcceptTransition(ev *types.UserStateTransitionedEvent, verified bool, leafIndex uint64) (bool, error) {
	if !verified {
		return false, ErrProofRejected
	}
	reduced := u.unirep.ReduceNullifiers(ev.Nullifiers())
	if u.hasSeen(reduced) {
		return false, fmt.Errorf("%w: transition at %d:%d", ErrDuplicateNullifier, ev.Position.Block, ev.Position.Index)
	}

	current := u.unirep.CurrentEpoch()
	if !u.signedUp || ev.FromEpoch != u.latestTransitionedEpoch || ev.FromEpoch >= current {
		u.markSeen(reduced)
		return false, nil
	}

	observed := make(map[uint64]struct{}, len(ev.EpochKeyNullifiers))
	for _, idx := range u.unirep.ReduceNullifiers(ev.EpochKeyNullifiers) {
		observed[idx] = struct{}{}
	}
	required := u.EpochKeyNullifiers(ev.FromEpoch)
	matched := 0
	for _, n := range required {
		if _, ok := observed[n]; ok {
			matched++
		}
	}
	switch {
	case matched == 0:
		u.markSeen(reduced)
		return false, nil
	case matched != len(required):
		return false, fmt.Errorf("%w: %d of %d epoch key nullifiers of epoch %d matched",
			ErrConsistencyFault, matched, len(required), ev.FromEpoch)
	}

	pos := u.transitionedPosKarma + u.currentEpochPosRep
	neg := u.transitionedNegKarma + u.currentEpochNegRep
	leaf := types.GlobalStateLeaf(u.identity.Commitment, u.repTree.Root(), pos, neg)
	if !leaf.Equal(&ev.NewGlobalStateLeaf) {
		return false, fmt.Errorf("%w: new global state leaf of transition from epoch %d differs from recomputed leaf",
			ErrConsistencyFault, ev.FromEpoch)
	}

	u.markSeen(reduced)
	u.transitionedPosKarma, u.transitionedNegKarma = pos, neg
	u.currentEpochPosRep, u.currentEpochNegRep = 0, 0
	u.history = append(u.history, Transition{FromEpoch: ev.FromEpoch, ToEpoch: current, LeafIndex: leafIndex})
	u.latestTransitionedEpoch = current
	u.latestGlobalLeafIndex = leafIndex

	u.logger.Info().
		Uint64("fromEpoch", ev.FromEpoch).
		Uint64("toEpoch", current).
		Uint64("leafIndex", leafIndex).
		Msg("identity transitioned")
	return true, nil
}

// Reputation returns the record of attesterID, zero when none was received.
func (u *UserState) Reputation(attesterID uint64) types.Reputation {
	if r, ok := u.records[attesterID]; ok {
		return *r
	}
	return types.Reputation{}
}

// Records returns every non-empty record sorted by attester.
func (u *UserState) Records() []ReputationRecord {
	out := make([]ReputationRecord, 0, len(u.records))
	for id, r := range u.records {
		out = append(out, ReputationRecord{AttesterID: id, Reputation: *r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttesterID < out[j].AttesterID })
	return out
}

func (u *UserState) ReputationRoot() fr.Element {
	return u.repTree.Root()
}

func (u *UserState) ReputationProof(attesterID uint64) (*trees.Proof, error) {
	return u.repTree.Proof(u.repTree.Reduce(new(big.Int).SetUint64(attesterID)))
}

// GlobalStateLeaf is the leaf this identity currently owns in the global state tree.
func (u *UserState) GlobalStateLeaf() (fr.Element, error) {
	if !u.signedUp {
		return fr.Element{}, ErrNotSignedUp
	}
	return u.unirep.globalTree.Leaf(u.latestGlobalLeafIndex)
}

func (u *UserState) GlobalStateProof() (*trees.Proof, error) {
	if !u.signedUp {
		return nil, ErrNotSignedUp
	}
	return u.unirep.GlobalStateProof(u.latestGlobalLeafIndex)
}
