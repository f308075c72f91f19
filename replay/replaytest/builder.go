// Package replaytest builds contract event logs for tests, together with
// the answers a contract would give when they are replayed.
package replaytest

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	rtypes "github.com/kysee/zk-unirep/replay/types"
	"github.com/kysee/zk-unirep/state"
	"github.com/kysee/zk-unirep/trees"
	"github.com/kysee/zk-unirep/types"
)

// Builder emits one event per block, in call order.
type Builder struct {
	params state.Params
	epoch  uint64
	block  uint64

	log    rtypes.EventLog
	leaves map[uint64][]types.EpochTreeLeaf
	// attestations of the open epoch by reduced epoch key, in arrival order
	chains   map[uint64][]types.Attestation
	keys     []*big.Int
	rejected []types.LogPosition
}

func NewBuilder(params state.Params) *Builder {
	return &Builder{
		params: params,
		epoch:  params.StartEpoch,
		block:  1,
		leaves: make(map[uint64][]types.EpochTreeLeaf),
		chains: make(map[uint64][]types.Attestation),
	}
}

func (b *Builder) Epoch() uint64 {
	return b.epoch
}

func (b *Builder) next(kind types.Kind) types.LogPosition {
	pos := types.LogPosition{Block: b.block, Index: 0}
	b.block++
	b.log.Sequencer = append(b.log.Sequencer, types.SequencerEntry{Kind: kind, Position: pos})
	return pos
}

func (b *Builder) SignUp(leaf fr.Element) types.LogPosition {
	pos := b.next(types.KindSignUp)
	b.log.SignUps = append(b.log.SignUps, types.SignUpEvent{Position: pos, Epoch: b.epoch, GlobalStateLeaf: leaf})
	return pos
}

func (b *Builder) Attest(epochKey *big.Int, att types.Attestation) types.LogPosition {
	pos := b.next(types.KindAttestation)
	b.log.Attestations = append(b.log.Attestations, types.AttestationEvent{Position: pos, Epoch: b.epoch, EpochKey: epochKey, Attestation: att})

	key := trees.ReduceToDepth(epochKey, b.params.EpochTreeDepth)
	if _, ok := b.chains[key]; !ok {
		b.keys = append(b.keys, epochKey)
	}
	b.chains[key] = append(b.chains[key], att)
	return pos
}

func (b *Builder) Post(postID, epochKey *big.Int) types.LogPosition {
	pos := b.next(types.KindPostRecorded)
	b.log.Posts = append(b.log.Posts, types.PostEvent{Position: pos, Epoch: b.epoch, PostID: postID, EpochKey: epochKey})
	return pos
}

func (b *Builder) Comment(postID, commentID, epochKey *big.Int) types.LogPosition {
	pos := b.next(types.KindCommentRecorded)
	b.log.Comments = append(b.log.Comments, types.CommentEvent{Position: pos, Epoch: b.epoch, PostID: postID, CommentID: commentID, EpochKey: epochKey})
	return pos
}

func (b *Builder) KarmaNullifiers(epochKey *big.Int, nullifiers ...*big.Int) types.LogPosition {
	pos := b.next(types.KindKarmaNullifiersSubmitted)
	b.log.KarmaNullifiers = append(b.log.KarmaNullifiers, types.KarmaNullifiersEvent{Position: pos, Epoch: b.epoch, EpochKey: epochKey, Nullifiers: nullifiers})
	return pos
}

// SealEpoch ends the open epoch and records the leaves the contract would
// report for it.
func (b *Builder) SealEpoch() types.LogPosition {
	pos := b.next(types.KindEpochSealed)
	b.log.EpochSeals = append(b.log.EpochSeals, types.EpochSealedEvent{Position: pos, Epoch: b.epoch})

	leaves := make([]types.EpochTreeLeaf, 0, len(b.keys))
	for _, epk := range b.keys {
		key := trees.ReduceToDepth(epk, b.params.EpochTreeDepth)
		leaves = append(leaves, types.EpochTreeLeaf{EpochKey: epk, Hashchain: types.ComputeSealedHashchain(b.chains[key])})
	}
	b.leaves[b.epoch] = leaves
	b.chains = make(map[uint64][]types.Attestation)
	b.keys = nil
	b.epoch++
	return pos
}

// Transition emits ev in the open epoch and returns it as emitted. A
// rejected transition is recorded as one the verifier refuses.
func (b *Builder) Transition(ev types.UserStateTransitionedEvent, accepted bool) types.UserStateTransitionedEvent {
	ev.Position = b.next(types.KindUserStateTransitioned)
	ev.Epoch = b.epoch
	b.log.Transitions = append(b.log.Transitions, ev)
	if !accepted {
		b.rejected = append(b.rejected, ev.Position)
	}
	return ev
}

// Log returns a copy of the events emitted so far.
func (b *Builder) Log() *rtypes.EventLog {
	out := &rtypes.EventLog{}
	out.Append(&b.log)
	out.FromBlock, out.ToBlock = 0, b.block-1
	return out
}

// Capture returns the log with the recorded contract answers.
func (b *Builder) Capture(contract string) *rtypes.Capture {
	leaves := make(map[uint64][]types.EpochTreeLeaf, len(b.leaves))
	for e, l := range b.leaves {
		leaves[e] = append([]types.EpochTreeLeaf(nil), l...)
	}
	return &rtypes.Capture{
		Contract:            contract,
		Params:              b.params,
		Events:              *b.Log(),
		EpochTreeLeaves:     leaves,
		RejectedTransitions: append([]types.LogPosition(nil), b.rejected...),
	}
}
