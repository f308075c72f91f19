package replaytest

import (
	"math/big"
	"sort"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/kysee/zk-unirep/state"
	"github.com/kysee/zk-unirep/trees"
	"github.com/kysee/zk-unirep/types"
)

// Member plays one identity against a Builder and keeps the bookkeeping a
// client would need to produce its transitions.
type Member struct {
	Identity types.Identity

	b      *Builder
	latest uint64
	posKarma,
	negKarma uint64
	pendingPos,
	pendingNeg uint64
	records  map[uint64]types.Reputation
	attested map[uint64]struct{}
}

// NewIdentity derives a deterministic identity from seed.
func NewIdentity(seed uint64) types.Identity {
	nullifier := types.Hash5(types.FieldFromUint64(seed), fr.Element{}, fr.Element{}, fr.Element{}, fr.Element{})
	trapdoor := types.HashLeftRight(nullifier, types.FieldFromUint64(seed))
	return types.Identity{
		Nullifier:  nullifier,
		Trapdoor:   trapdoor,
		Commitment: types.HashLeftRight(nullifier, trapdoor),
	}
}

func (b *Builder) NewMember(id types.Identity) *Member {
	return &Member{
		Identity: id,
		b:        b,
		posKarma: b.params.DefaultKarma,
		records:  make(map[uint64]types.Reputation),
		attested: make(map[uint64]struct{}),
	}
}

func (m *Member) reputationRoot() fr.Element {
	var empty types.Reputation
	tree, err := trees.NewSparseTree(m.b.params.UserStateTreeDepth, empty.Hash(), nil)
	if err != nil {
		panic(err)
	}
	for id, rep := range m.records {
		rep := rep
		if _, err := tree.Update(tree.Reduce(new(big.Int).SetUint64(id)), rep.Hash()); err != nil {
			panic(err)
		}
	}
	return tree.Root()
}

// Leaf is the global state leaf the member currently owns.
func (m *Member) Leaf() fr.Element {
	return types.GlobalStateLeaf(m.Identity.Commitment, m.reputationRoot(), m.posKarma, m.negKarma)
}

func (m *Member) SignUp() types.LogPosition {
	m.latest = m.b.epoch
	return m.b.SignUp(m.Leaf())
}

// EpochKey is the member's epoch key of the open epoch.
func (m *Member) EpochKey(nonce uint8) *big.Int {
	return types.FieldToBig(types.GenEpochKey(m.Identity.Nullifier, m.b.epoch, nonce))
}

// Receive emits att to the member's epoch key of nonce. A member receives
// only in the epoch it last transitioned into.
func (m *Member) Receive(nonce uint8, att types.Attestation) types.LogPosition {
	if m.latest != m.b.epoch {
		panic("replaytest: member has not transitioned into the open epoch")
	}
	rep := m.records[att.AttesterID]
	rep.Apply(&att)
	m.records[att.AttesterID] = rep
	m.pendingPos += att.PosRep
	m.pendingNeg += att.NegRep
	m.attested[att.AttesterID] = struct{}{}
	return m.b.Attest(m.EpochKey(nonce), att)
}

// TransitionEvent builds the transition out of the member's latest epoch
// without emitting it or changing the member.
func (m *Member) TransitionEvent() types.UserStateTransitionedEvent {
	attesters := make([]uint64, 0, len(m.attested))
	for id := range m.attested {
		attesters = append(attesters, id)
	}
	sort.Slice(attesters, func(i, j int) bool { return attesters[i] < attesters[j] })

	ev := types.UserStateTransitionedEvent{
		NewGlobalStateLeaf: types.GlobalStateLeaf(m.Identity.Commitment, m.reputationRoot(),
			m.posKarma+m.pendingPos, m.negKarma+m.pendingNeg),
		FromEpoch: m.latest,
	}
	for _, id := range attesters {
		ev.AttestationNullifiers = append(ev.AttestationNullifiers,
			types.FieldToBig(types.GenAttestationNullifier(m.Identity.Nullifier, id, m.latest)))
	}
	// unused circuit slot
	ev.AttestationNullifiers = append(ev.AttestationNullifiers, new(big.Int))
	for nonce := uint8(0); nonce < m.b.params.NumEpochKeyNoncePerEpoch; nonce++ {
		ev.EpochKeyNullifiers = append(ev.EpochKeyNullifiers,
			types.FieldToBig(types.GenEpochKeyNullifier(m.Identity.Nullifier, m.latest, nonce)))
	}
	for i := range ev.Proof {
		ev.Proof[i] = big.NewInt(int64(i + 1))
	}
	return ev
}

// Transition emits the member's transition into the open epoch. Only an
// accepted transition changes the member.
func (m *Member) Transition(accepted bool) types.UserStateTransitionedEvent {
	return m.TransitionWith(accepted, nil)
}

// TransitionWith is Transition with edit applied to the event before it is
// emitted, e.g. to attach a proof.
func (m *Member) TransitionWith(accepted bool, edit func(*types.UserStateTransitionedEvent)) types.UserStateTransitionedEvent {
	ev := m.TransitionEvent()
	if edit != nil {
		edit(&ev)
	}
	ev = m.b.Transition(ev, accepted)
	if accepted {
		m.posKarma += m.pendingPos
		m.negKarma += m.pendingNeg
		m.pendingPos, m.pendingNeg = 0, 0
		m.attested = make(map[uint64]struct{})
		m.latest = m.b.epoch
	}
	return ev
}

func (m *Member) Reputation(attesterID uint64) types.Reputation {
	return m.records[attesterID]
}

// Karma is the karma folded into the member's latest leaf.
func (m *Member) Karma() (pos, neg uint64) {
	return m.posKarma, m.negKarma
}

// Params is a small parameter set that keeps tests fast.
func Params() state.Params {
	return state.Params{
		GlobalStateTreeDepth:     8,
		UserStateTreeDepth:       8,
		EpochTreeDepth:           32,
		NullifierTreeDepth:       32,
		NumEpochKeyNoncePerEpoch: 2,
		DefaultKarma:             state.DefaultAirdroppedKarma,
	}
}
