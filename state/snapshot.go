package state

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/rs/zerolog"

	"github.com/kysee/zk-unirep/types"
)

// Snapshots flatten the observers into plain values so they can be rlp
// encoded. Field elements are stored as their canonical 32-byte encoding.

type IndexedLeaf struct {
	Index uint64
	Value [32]byte
}

type EpochTreeSnapshot struct {
	Epoch  uint64
	Leaves []IndexedLeaf
}

type AttestationSnapshot struct {
	AttesterID        uint64
	PosRep            uint64
	NegRep            uint64
	Graffiti          [32]byte
	OverwriteGraffiti bool
}

type LedgerEntrySnapshot struct {
	EpochKey     uint64
	RawEpochKey  []byte
	Attestations []AttestationSnapshot
}

type ActivitySnapshot struct {
	Epoch           uint64
	Posts           uint64
	Comments        uint64
	KarmaNullifiers uint64
}

type UnirepSnapshot struct {
	Params       Params
	CurrentEpoch uint64
	GlobalLeaves [][32]byte
	Nullifiers   []uint64
	EpochTrees   []EpochTreeSnapshot
	Ledger       []LedgerEntrySnapshot
	Activity     []ActivitySnapshot
}

func (s *UnirepState) Snapshot() *UnirepSnapshot {
	snap := &UnirepSnapshot{
		Params:       s.params,
		CurrentEpoch: s.currentEpoch,
	}
	for _, leaf := range s.globalTree.Leaves() {
		snap.GlobalLeaves = append(snap.GlobalLeaves, leaf.Bytes())
	}
	for _, entry := range s.nullifierTree.Leaves() {
		snap.Nullifiers = append(snap.Nullifiers, entry.Index)
	}
	for _, epoch := range s.SealedEpochs() {
		ets := EpochTreeSnapshot{Epoch: epoch}
		for _, entry := range s.epochTrees[epoch].Leaves() {
			ets.Leaves = append(ets.Leaves, IndexedLeaf{Index: entry.Index, Value: entry.Value.Bytes()})
		}
		snap.EpochTrees = append(snap.EpochTrees, ets)
	}
	for _, key := range s.ledger.EpochKeys() {
		raw, _ := s.ledger.RawEpochKey(key)
		entry := LedgerEntrySnapshot{EpochKey: key, RawEpochKey: raw.Bytes()}
		for _, att := range s.ledger.Attestations(key) {
			entry.Attestations = append(entry.Attestations, AttestationSnapshot{
				AttesterID:        att.AttesterID,
				PosRep:            att.PosRep,
				NegRep:            att.NegRep,
				Graffiti:          att.Graffiti.Bytes(),
				OverwriteGraffiti: att.OverwriteGraffiti,
			})
		}
		snap.Ledger = append(snap.Ledger, entry)
	}
	for epoch, a := range s.activity {
		snap.Activity = append(snap.Activity, ActivitySnapshot{
			Epoch:           epoch,
			Posts:           a.Posts,
			Comments:        a.Comments,
			KarmaNullifiers: a.KarmaNullifiers,
		})
	}
	sort.Slice(snap.Activity, func(i, j int) bool { return snap.Activity[i].Epoch < snap.Activity[j].Epoch })
	return snap
}

func elementFromBytes(b [32]byte) (fr.Element, error) {
	var e fr.Element
	if err := e.SetBytesCanonical(b[:]); err != nil {
		return fr.Element{}, err
	}
	return e, nil
}

// RestoreUnirepState rebuilds a UnirepState from snap.
func RestoreUnirepState(snap *UnirepSnapshot, logger zerolog.Logger) (*UnirepState, error) {
	s, err := NewUnirepState(snap.Params, logger)
	if err != nil {
		return nil, err
	}
	s.currentEpoch = snap.CurrentEpoch
	s.ledger = NewAttestationLedger(snap.CurrentEpoch)

	for i, b := range snap.GlobalLeaves {
		leaf, err := elementFromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("global leaf %d: %w", i, err)
		}
		if _, err := s.globalTree.Insert(leaf); err != nil {
			return nil, err
		}
	}
	for _, idx := range snap.Nullifiers {
		if _, err := s.nullifierTree.Update(idx, nullifierMark); err != nil {
			return nil, fmt.Errorf("nullifier %d: %w", idx, err)
		}
	}
	for _, ets := range snap.EpochTrees {
		tree, err := newEpochTree(s.params.EpochTreeDepth)
		if err != nil {
			return nil, err
		}
		for _, l := range ets.Leaves {
			v, err := elementFromBytes(l.Value)
			if err != nil {
				return nil, fmt.Errorf("epoch %d leaf %d: %w", ets.Epoch, l.Index, err)
			}
			if _, err := tree.Update(l.Index, v); err != nil {
				return nil, err
			}
		}
		s.epochTrees[ets.Epoch] = tree
	}
	for _, entry := range snap.Ledger {
		raw := new(big.Int).SetBytes(entry.RawEpochKey)
		for _, a := range entry.Attestations {
			graffiti, err := elementFromBytes(a.Graffiti)
			if err != nil {
				return nil, fmt.Errorf("ledger graffiti: %w", err)
			}
			err = s.ledger.Add(entry.EpochKey, raw, types.Attestation{
				AttesterID:        a.AttesterID,
				PosRep:            a.PosRep,
				NegRep:            a.NegRep,
				Graffiti:          graffiti,
				OverwriteGraffiti: a.OverwriteGraffiti,
			})
			if err != nil {
				return nil, err
			}
		}
	}
	for _, a := range snap.Activity {
		s.activity[a.Epoch] = &EpochActivity{Posts: a.Posts, Comments: a.Comments, KarmaNullifiers: a.KarmaNullifiers}
	}
	return s, nil
}

type RecordSnapshot struct {
	AttesterID uint64
	PosRep     uint64
	NegRep     uint64
	Graffiti   [32]byte
}

// UserSnapshot carries an identity's bookkeeping but never its secrets; the
// identity is supplied again on restore.
type UserSnapshot struct {
	Commitment              [32]byte
	SignedUp                bool
	LatestTransitionedEpoch uint64
	LatestGlobalLeafIndex   uint64
	TransitionedPosKarma    uint64
	TransitionedNegKarma    uint64
	CurrentEpochPosRep      uint64
	CurrentEpochNegRep      uint64
	Records                 []RecordSnapshot
	Seen                    []uint64
	History                 []Transition
}

func (u *UserState) Snapshot() *UserSnapshot {
	snap := &UserSnapshot{
		Commitment:              u.identity.Commitment.Bytes(),
		SignedUp:                u.signedUp,
		LatestTransitionedEpoch: u.latestTransitionedEpoch,
		LatestGlobalLeafIndex:   u.latestGlobalLeafIndex,
		TransitionedPosKarma:    u.transitionedPosKarma,
		TransitionedNegKarma:    u.transitionedNegKarma,
		CurrentEpochPosRep:      u.currentEpochPosRep,
		CurrentEpochNegRep:      u.currentEpochNegRep,
		History:                 u.History(),
	}
	for _, r := range u.Records() {
		snap.Records = append(snap.Records, RecordSnapshot{
			AttesterID: r.AttesterID,
			PosRep:     r.PosRep,
			NegRep:     r.NegRep,
			Graffiti:   r.Graffiti.Bytes(),
		})
	}
	for n := range u.seen {
		snap.Seen = append(snap.Seen, n)
	}
	sort.Slice(snap.Seen, func(i, j int) bool { return snap.Seen[i] < snap.Seen[j] })
	return snap
}

// RestoreUserState rebuilds the User Observer of identity on top of unirep.
func RestoreUserState(unirep *UnirepState, identity types.Identity, snap *UserSnapshot, logger zerolog.Logger) (*UserState, error) {
	commitment, err := elementFromBytes(snap.Commitment)
	if err != nil {
		return nil, err
	}
	if !commitment.Equal(&identity.Commitment) {
		return nil, fmt.Errorf("snapshot belongs to commitment %s", types.FieldHex(commitment))
	}

	records := make([]ReputationRecord, 0, len(snap.Records))
	for _, r := range snap.Records {
		graffiti, err := elementFromBytes(r.Graffiti)
		if err != nil {
			return nil, fmt.Errorf("record of attester %d: %w", r.AttesterID, err)
		}
		records = append(records, ReputationRecord{
			AttesterID: r.AttesterID,
			Reputation: types.Reputation{PosRep: r.PosRep, NegRep: r.NegRep, Graffiti: graffiti},
		})
	}
	u, err := NewUserStateFromParams(unirep, identity,
		snap.TransitionedPosKarma, snap.TransitionedNegKarma,
		snap.CurrentEpochPosRep, snap.CurrentEpochNegRep,
		snap.LatestTransitionedEpoch, snap.LatestGlobalLeafIndex,
		records, logger)
	if err != nil {
		return nil, err
	}
	u.signedUp = snap.SignedUp
	u.markSeen(snap.Seen)
	u.history = append(u.history, snap.History...)
	return u, nil
}
