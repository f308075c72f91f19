package test

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	circuit "github.com/kysee/zk-unirep/circuits"
	"github.com/kysee/zk-unirep/replay"
	"github.com/kysee/zk-unirep/replay/replaytest"
	rtypes "github.com/kysee/zk-unirep/replay/types"
	"github.com/kysee/zk-unirep/state"
	"github.com/kysee/zk-unirep/trees"
	"github.com/kysee/zk-unirep/types"
	"github.com/kysee/zk-unirep/verifiers"
)

const contract = "0x00000000000000000000000000000000000c0ffe"

// replayLog replays everything b emitted, following identities, against the
// answers b recorded.
func replayLog(t *testing.T, b *replaytest.Builder, identities ...types.Identity) (*replay.Engine, error) {
	return replayWith(t, b.Log(), replay.NewCaptureOracle(b.Capture(contract)), identities...)
}

func replayWith(t *testing.T, log *rtypes.EventLog, oracle rtypes.Oracle, identities ...types.Identity) (*replay.Engine, error) {
	unirep, err := state.NewUnirepState(replaytest.Params(), zerolog.Nop())
	require.NoError(t, err)
	users := make([]*state.UserState, len(identities))
	for i, id := range identities {
		users[i], err = state.NewUserState(unirep, id, zerolog.Nop())
		require.NoError(t, err)
	}
	engine := replay.NewEngine(oracle, unirep, zerolog.Nop(), users...)
	return engine, engine.Replay(context.Background(), log)
}

func mustReplay(t *testing.T, b *replaytest.Builder, identities ...types.Identity) (*state.UnirepState, []*state.UserState) {
	engine, err := replayLog(t, b, identities...)
	require.NoError(t, err)
	return engine.Unirep(), engine.Users()
}

// TestLifecycle walks one identity through sign up, an attestation, the end
// of its epoch and a transition, checking the replica after every step.
func TestLifecycle(t *testing.T) {
	b := replaytest.NewBuilder(replaytest.Params())
	alice := b.NewMember(replaytest.NewIdentity(1))

	// sign up
	alice.SignUp()
	unirep, users := mustReplay(t, b, alice.Identity)
	user := users[0]
	require.True(t, user.SignedUp())
	require.Equal(t, uint64(0), user.LatestGlobalLeafIndex())
	require.Equal(t, uint64(0), user.LatestTransitionedEpoch())
	leaf, err := user.GlobalStateLeaf()
	require.NoError(t, err)
	require.Equal(t, user.DefaultGlobalStateLeaf(), leaf)
	require.Equal(t, alice.Leaf(), leaf)
	require.Len(t, unirep.GlobalStateLeaves(), 1)

	pos, neg := user.Karma()
	require.Equal(t, uint64(state.DefaultAirdroppedKarma), pos)
	require.Zero(t, neg)

	// attestation
	att := types.Attestation{AttesterID: 7, PosRep: 5}
	epochKey := alice.EpochKey(0)
	alice.Receive(0, att)
	unirep, users = mustReplay(t, b, alice.Identity)
	user = users[0]
	require.Equal(t, types.Reputation{PosRep: 5}, user.Reputation(7))
	pos, neg = user.CurrentEpochReputation()
	require.Equal(t, uint64(5), pos)
	require.Zero(t, neg)
	require.Equal(t, 1, unirep.Ledger().Len())

	// epoch sealed
	b.SealEpoch()
	unirep, users = mustReplay(t, b, alice.Identity)
	require.Equal(t, uint64(1), unirep.CurrentEpoch())
	require.Equal(t, []uint64{0}, unirep.SealedEpochs())
	require.Zero(t, unirep.Ledger().Len())

	root, ok := unirep.EpochTreeRoot(0)
	require.True(t, ok)
	proof, err := unirep.EpochTreeProof(0, epochKey)
	require.NoError(t, err)
	require.Equal(t, types.ComputeSealedHashchain([]types.Attestation{att}), proof.Leaf)
	require.True(t, trees.VerifyProof(root, proof, nil))

	// transition
	ev := alice.Transition(true)
	unirep, users = mustReplay(t, b, alice.Identity)
	user = users[0]
	require.Equal(t, uint64(1), user.LatestTransitionedEpoch())
	require.Equal(t, uint64(1), user.LatestGlobalLeafIndex())
	require.Len(t, unirep.GlobalStateLeaves(), 2)
	require.Equal(t, ev.NewGlobalStateLeaf, unirep.GlobalStateLeaves()[1])

	pos, neg = user.Karma()
	require.Equal(t, uint64(state.DefaultAirdroppedKarma+5), pos)
	require.Zero(t, neg)
	require.Equal(t, []state.Transition{{FromEpoch: 0, ToEpoch: 1, LeafIndex: 1}}, user.History())

	for _, n := range ev.Nullifiers() {
		if n.Sign() == 0 {
			continue
		}
		require.True(t, unirep.NullifierExists(n))
	}
	nullifierProof, err := unirep.NullifierProof(ev.EpochKeyNullifiers[0])
	require.NoError(t, err)
	require.True(t, trees.VerifyProof(unirep.NullifierRoot(), nullifierProof, nil))
	require.Len(t, nullifierProof.SiblingsBig(), int(replaytest.Params().NullifierTreeDepth))

	// the global state proof of the new leaf holds against the replica root
	gstProof, err := user.GlobalStateProof()
	require.NoError(t, err)
	require.True(t, trees.VerifyProof(unirep.GlobalStateRoot(), gstProof, nil))
}

func TestRejectedTransitionChangesNothing(t *testing.T) {
	b := replaytest.NewBuilder(replaytest.Params())
	alice := b.NewMember(replaytest.NewIdentity(1))
	alice.SignUp()
	alice.Receive(0, types.Attestation{AttesterID: 7, PosRep: 5})
	b.SealEpoch()

	before, _ := mustReplay(t, b, alice.Identity)

	alice.Transition(false)
	engine, err := replayLog(t, b, alice.Identity)
	require.NoError(t, err)
	require.Equal(t, 1, engine.Stats().ProofsRejected)
	require.Zero(t, engine.Stats().Transitions)

	after := engine.Unirep()
	require.Len(t, after.GlobalStateLeaves(), 1)
	require.Equal(t, before.GlobalStateRoot(), after.GlobalStateRoot())
	require.Equal(t, before.NullifierRoot(), after.NullifierRoot())

	user := engine.Users()[0]
	require.Equal(t, uint64(0), user.LatestTransitionedEpoch())
	require.Equal(t, uint64(0), user.LatestGlobalLeafIndex())
	require.Empty(t, user.History())
	pos, _ := user.Karma()
	require.Equal(t, uint64(state.DefaultAirdroppedKarma), pos)

	// the identity can still transition later with the same nullifiers
	alice.Transition(true)
	_, users := mustReplay(t, b, alice.Identity)
	require.Equal(t, uint64(1), users[0].LatestTransitionedEpoch())
}

func TestReplayIsDeterministic(t *testing.T) {
	b := replaytest.NewBuilder(replaytest.Params())
	alice := b.NewMember(replaytest.NewIdentity(1))
	bob := b.NewMember(replaytest.NewIdentity(2))
	alice.SignUp()
	bob.SignUp()
	alice.Receive(0, types.Attestation{AttesterID: 7, PosRep: 5, Graffiti: types.FieldFromUint64(9), OverwriteGraffiti: true})
	bob.Receive(1, types.Attestation{AttesterID: 7, NegRep: 2})
	alice.Receive(1, types.Attestation{AttesterID: 8, PosRep: 1})
	b.SealEpoch()
	alice.Transition(true)
	bob.Transition(false)
	bob.Transition(true)
	b.SealEpoch()

	unirep1, users1 := mustReplay(t, b, alice.Identity, bob.Identity)
	unirep2, users2 := mustReplay(t, b, alice.Identity, bob.Identity)

	require.Equal(t, unirep1.GlobalStateRoot(), unirep2.GlobalStateRoot())
	require.Equal(t, unirep1.NullifierRoot(), unirep2.NullifierRoot())
	require.Equal(t, unirep1.SealedEpochs(), unirep2.SealedEpochs())
	for _, epoch := range unirep1.SealedEpochs() {
		r1, _ := unirep1.EpochTreeRoot(epoch)
		r2, _ := unirep2.EpochTreeRoot(epoch)
		require.Equal(t, r1, r2)
	}
	for i := range users1 {
		require.Equal(t, users1[i].Records(), users2[i].Records())
		require.Equal(t, users1[i].History(), users2[i].History())
		require.Equal(t, users1[i].ReputationRoot(), users2[i].ReputationRoot())
	}

	// both identities replayed separately agree with the joint replay
	for i, m := range []*replaytest.Member{alice, bob} {
		_, users := mustReplay(t, b, m.Identity)
		require.Equal(t, users1[i].Records(), users[0].Records())
		require.Equal(t, users1[i].History(), users[0].History())
	}
}

func TestNullifierIsSpentOnce(t *testing.T) {
	b := replaytest.NewBuilder(replaytest.Params())
	alice := b.NewMember(replaytest.NewIdentity(1))
	alice.SignUp()
	alice.Receive(0, types.Attestation{AttesterID: 7, PosRep: 5})
	b.SealEpoch()
	ev := alice.Transition(true)

	before, _ := mustReplay(t, b, alice.Identity)

	// the same transition submitted again
	b.Transition(ev, true)
	engine, err := replayLog(t, b, alice.Identity)
	require.NoError(t, err)
	require.Equal(t, 1, engine.Stats().DuplicateNullifiers)
	require.Equal(t, 1, engine.Stats().Transitions)

	after := engine.Unirep()
	require.Equal(t, before.GlobalStateRoot(), after.GlobalStateRoot())
	require.Equal(t, before.NullifierRoot(), after.NullifierRoot())
	require.Len(t, after.GlobalStateLeaves(), 2)
	require.Len(t, engine.Users()[0].History(), 1)
}

func TestEpochOnlyMovesForward(t *testing.T) {
	b := replaytest.NewBuilder(replaytest.Params())
	alice := b.NewMember(replaytest.NewIdentity(1))
	alice.SignUp()
	b.SealEpoch()
	b.SealEpoch()

	unirep, _ := mustReplay(t, b)
	require.Equal(t, uint64(2), unirep.CurrentEpoch())
	require.Equal(t, []uint64{0, 1}, unirep.SealedEpochs())

	// the second seal claims epoch 0 again
	log := b.Log()
	log.EpochSeals[1].Epoch = 0
	engine, err := replayWith(t, log, replay.NewCaptureOracle(b.Capture(contract)))
	require.ErrorIs(t, err, state.ErrEpochMismatch)
	require.True(t, state.IsFatal(err))
	require.Equal(t, uint64(1), engine.Unirep().CurrentEpoch())
}

func TestPartialNullifierMatchIsFatal(t *testing.T) {
	b := replaytest.NewBuilder(replaytest.Params())
	alice := b.NewMember(replaytest.NewIdentity(1))
	alice.SignUp()
	alice.Receive(0, types.Attestation{AttesterID: 7, PosRep: 5})
	b.SealEpoch()
	alice.TransitionWith(true, func(ev *types.UserStateTransitionedEvent) {
		ev.EpochKeyNullifiers[1] = big.NewInt(424242)
	})

	engine, err := replayLog(t, b, alice.Identity)
	require.ErrorIs(t, err, state.ErrConsistencyFault)
	require.True(t, state.IsFatal(err))
	require.Len(t, engine.Unirep().GlobalStateLeaves(), 1)

	// a replica following nobody cannot tell and accepts the leaf
	unirep, _ := mustReplay(t, b)
	require.Len(t, unirep.GlobalStateLeaves(), 2)
}

var (
	setupOnce sync.Once
	bindingCS constraint.ConstraintSystem
	bindingPK groth16.ProvingKey
	bindingVK groth16.VerifyingKey
)

func setupBinding(t *testing.T) {
	setupOnce.Do(func() {
		logger.Disable()
		var err error
		bindingCS, err = frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit.NewTransitionBindingCircuit(2, 2))
		require.NoError(t, err)
		bindingPK, bindingVK, err = groth16.Setup(bindingCS)
		require.NoError(t, err)
	})
	require.NotNil(t, bindingVK)
}

func prove(t *testing.T, ev *types.UserStateTransitionedEvent) {
	fullWitness, err := frontend.NewWitness(circuit.AssignTransitionBinding(ev), ecc.BN254.ScalarField())
	require.NoError(t, err)
	proof, err := groth16.Prove(bindingCS, bindingPK, fullWitness)
	require.NoError(t, err)

	_proof, ok := proof.(interface{ MarshalSolidity() []byte })
	require.True(t, ok, "proof does not implement MarshalSolidity()")
	ev.Proof, err = types.SplitSolidityProof(_proof.MarshalSolidity())
	require.NoError(t, err)
}

// TestGroth16Transitions replays with proofs checked by a local verifier
// instead of recorded verdicts.
func TestGroth16Transitions(t *testing.T) {
	setupBinding(t)

	b := replaytest.NewBuilder(replaytest.Params())
	alice := b.NewMember(replaytest.NewIdentity(1))
	bob := b.NewMember(replaytest.NewIdentity(2))
	alice.SignUp()
	bob.SignUp()
	alice.Receive(0, types.Attestation{AttesterID: 7, PosRep: 5})
	bob.Receive(0, types.Attestation{AttesterID: 9, NegRep: 2})
	b.SealEpoch()

	alice.TransitionWith(true, func(ev *types.UserStateTransitionedEvent) { prove(t, ev) })
	// forged: the placeholder proof words are kept
	bob.TransitionWith(false, nil)

	capture := b.Capture(contract)
	// the recorded verdicts accept everything; only the verifier decides
	capture.RejectedTransitions = nil
	oracle := verifiers.NewGroth16Oracle(replay.NewCaptureOracle(capture), bindingVK, zerolog.Nop())

	engine, err := replayWith(t, b.Log(), oracle, alice.Identity, bob.Identity)
	require.NoError(t, err)
	require.Equal(t, 1, engine.Stats().Transitions)
	require.Equal(t, 1, engine.Stats().ProofsRejected)

	users := engine.Users()
	require.Equal(t, uint64(1), users[0].LatestTransitionedEpoch())
	require.Equal(t, uint64(0), users[1].LatestTransitionedEpoch())
	require.Len(t, engine.Unirep().GlobalStateLeaves(), 3)

	pos, neg := users[0].Karma()
	require.Equal(t, uint64(state.DefaultAirdroppedKarma+5), pos)
	require.Zero(t, neg)
}
