package replay

import (
	"context"
	"math/big"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kysee/zk-unirep/replay/replaytest"
	rtypes "github.com/kysee/zk-unirep/replay/types"
	"github.com/kysee/zk-unirep/state"
	"github.com/kysee/zk-unirep/types"
)

var nopLogger = zerolog.Nop()

// twoMembers emits sign-ups of alice and bob, attestations to both, a post,
// a comment and a karma nullifier in the first epoch, then seals it. alice
// transitions, bob's first proof is rejected, the second epoch is sealed and
// bob transitions out of the first.
func twoMembers() (*replaytest.Builder, *replaytest.Member, *replaytest.Member) {
	b := replaytest.NewBuilder(replaytest.Params())
	alice := b.NewMember(replaytest.NewIdentity(1))
	bob := b.NewMember(replaytest.NewIdentity(2))

	alice.SignUp()
	bob.SignUp()
	alice.Receive(0, types.Attestation{AttesterID: 7, PosRep: 5, Graffiti: types.FieldFromUint64(11), OverwriteGraffiti: true})
	bob.Receive(1, types.Attestation{AttesterID: 9, PosRep: 3, NegRep: 1})
	b.Post(big.NewInt(100), alice.EpochKey(0))
	b.Comment(big.NewInt(100), big.NewInt(1), bob.EpochKey(1))
	b.KarmaNullifiers(alice.EpochKey(0), big.NewInt(4242))
	b.SealEpoch()

	alice.Transition(true)
	bob.Transition(false)
	b.SealEpoch()
	bob.Transition(true)
	return b, alice, bob
}

func newTestEngine(t *testing.T, oracle rtypes.Oracle, identities ...types.Identity) *Engine {
	unirep, err := state.NewUnirepState(replaytest.Params(), nopLogger)
	require.NoError(t, err)
	users := make([]*state.UserState, len(identities))
	for i, id := range identities {
		users[i], err = state.NewUserState(unirep, id, nopLogger)
		require.NoError(t, err)
	}
	return NewEngine(oracle, unirep, nopLogger, users...)
}

func TestEngine_Replay(t *testing.T) {
	b, alice, bob := twoMembers()
	oracle := NewCaptureOracle(b.Capture(""))

	engine := newTestEngine(t, oracle, alice.Identity, bob.Identity)
	require.NoError(t, engine.Replay(context.Background(), b.Log()))

	stats := engine.Stats()
	require.Equal(t, 2, stats.Transitions)
	require.Equal(t, 1, stats.ProofsRejected)
	require.Equal(t, 0, stats.DuplicateNullifiers)
	require.Equal(t, 2, stats.Events[types.KindSignUp])
	require.Equal(t, 2, stats.Events[types.KindEpochSealed])
	require.Equal(t, 3, stats.Events[types.KindUserStateTransitioned])

	unirep := engine.Unirep()
	require.EqualValues(t, 2, unirep.CurrentEpoch())
	require.Len(t, unirep.GlobalStateLeaves(), 4)
	require.Equal(t, state.EpochActivity{Posts: 1, Comments: 1, KarmaNullifiers: 1}, unirep.LedgerStats(0))
	require.Equal(t, []uint64{0, 1}, unirep.SealedEpochs())

	users := engine.Users()
	aliceState, bobState := users[0], users[1]

	pos, neg := aliceState.Karma()
	require.EqualValues(t, state.DefaultAirdroppedKarma+5, pos)
	require.EqualValues(t, 0, neg)
	require.EqualValues(t, 1, aliceState.LatestTransitionedEpoch())
	require.EqualValues(t, 2, aliceState.LatestGlobalLeafIndex())
	require.Equal(t, alice.Reputation(7), aliceState.Reputation(7))

	leaf, err := aliceState.GlobalStateLeaf()
	require.NoError(t, err)
	require.Equal(t, alice.Leaf(), leaf)

	pos, neg = bobState.Karma()
	require.EqualValues(t, state.DefaultAirdroppedKarma+3, pos)
	require.EqualValues(t, 1, neg)
	require.EqualValues(t, 2, bobState.LatestTransitionedEpoch())
	require.EqualValues(t, 3, bobState.LatestGlobalLeafIndex())
	require.Equal(t, []state.Transition{{FromEpoch: 0, ToEpoch: 2, LeafIndex: 3}}, bobState.History())

	leaf, err = bobState.GlobalStateLeaf()
	require.NoError(t, err)
	require.Equal(t, bob.Leaf(), leaf)
}

func TestEngine_Idempotent(t *testing.T) {
	b, alice, _ := twoMembers()
	oracle := NewCaptureOracle(b.Capture(""))

	first := newTestEngine(t, oracle, alice.Identity)
	require.NoError(t, first.Replay(context.Background(), b.Log()))
	second := newTestEngine(t, oracle, alice.Identity)
	require.NoError(t, second.Replay(context.Background(), b.Log()))

	require.Equal(t, first.Unirep().GlobalStateRoot(), second.Unirep().GlobalStateRoot())
	require.Equal(t, first.Unirep().NullifierRoot(), second.Unirep().NullifierRoot())
	require.Equal(t, first.Users()[0].Snapshot(), second.Users()[0].Snapshot())
}

func TestEngine_UnorderedLog(t *testing.T) {
	b, alice, bob := twoMembers()
	oracle := NewCaptureOracle(b.Capture(""))

	ordered := newTestEngine(t, oracle, alice.Identity, bob.Identity)
	require.NoError(t, ordered.Replay(context.Background(), b.Log()))

	// channels delivered newest first, as a transport paging backwards would
	log := b.Log()
	reverse(log.Sequencer)
	reverse(log.SignUps)
	reverse(log.Attestations)
	reverse(log.EpochSeals)
	reverse(log.Transitions)
	first := log.Sequencer[0]

	shuffled := newTestEngine(t, oracle, alice.Identity, bob.Identity)
	require.NoError(t, shuffled.Replay(context.Background(), log))
	require.Equal(t, ordered.Unirep().GlobalStateRoot(), shuffled.Unirep().GlobalStateRoot())
	require.Equal(t, ordered.Unirep().NullifierRoot(), shuffled.Unirep().NullifierRoot())
	require.Equal(t, ordered.Users()[0].Snapshot(), shuffled.Users()[0].Snapshot())
	require.Equal(t, ordered.Users()[1].Snapshot(), shuffled.Users()[1].Snapshot())

	// the caller's log is left as given
	require.Equal(t, first, log.Sequencer[0])
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func TestEngine_RepeatedAttestationNullifier(t *testing.T) {
	b := replaytest.NewBuilder(replaytest.Params())
	alice := b.NewMember(replaytest.NewIdentity(1))
	alice.SignUp()
	// attester 7 attests to both of alice's epoch keys
	alice.Receive(0, types.Attestation{AttesterID: 7, PosRep: 2})
	alice.Receive(1, types.Attestation{AttesterID: 7, PosRep: 3})
	b.SealEpoch()
	ev := alice.TransitionWith(true, func(ev *types.UserStateTransitionedEvent) {
		n := ev.AttestationNullifiers[0]
		ev.AttestationNullifiers = []*big.Int{n, new(big.Int).Set(n), new(big.Int)}
	})

	engine := newTestEngine(t, NewCaptureOracle(b.Capture("")), alice.Identity)
	require.NoError(t, engine.Replay(context.Background(), b.Log()))

	stats := engine.Stats()
	require.Equal(t, 1, stats.Transitions)
	require.Zero(t, stats.DuplicateNullifiers)
	require.Len(t, engine.Unirep().GlobalStateLeaves(), 2)
	require.True(t, engine.Unirep().NullifierExists(ev.AttestationNullifiers[0]))

	user := engine.Users()[0]
	require.EqualValues(t, 1, user.LatestTransitionedEpoch())
	pos, _ := user.Karma()
	require.EqualValues(t, state.DefaultAirdroppedKarma+5, pos)
	leaf, err := user.GlobalStateLeaf()
	require.NoError(t, err)
	require.Equal(t, alice.Leaf(), leaf)
}

func TestEngine_SequenceFaults(t *testing.T) {
	t.Run("missing event", func(t *testing.T) {
		b := replaytest.NewBuilder(replaytest.Params())
		b.SignUp(types.FieldFromUint64(1))
		log := b.Log()
		log.SignUps = nil

		engine := newTestEngine(t, NewCaptureOracle(b.Capture("")))
		err := engine.Replay(context.Background(), log)
		require.ErrorIs(t, err, state.ErrSequenceFault)
		require.True(t, state.IsFatal(err))
	})

	t.Run("unprocessed events", func(t *testing.T) {
		b := replaytest.NewBuilder(replaytest.Params())
		b.SignUp(types.FieldFromUint64(1))
		b.Post(big.NewInt(1), big.NewInt(2))
		log := b.Log()
		log.Sequencer = log.Sequencer[:1]

		engine := newTestEngine(t, NewCaptureOracle(b.Capture("")))
		err := engine.Replay(context.Background(), log)
		require.ErrorIs(t, err, state.ErrUnprocessedEvents)
		require.ErrorIs(t, err, state.ErrSequenceFault)
	})

	t.Run("unknown kind", func(t *testing.T) {
		log := &rtypes.EventLog{Sequencer: []types.SequencerEntry{{Kind: types.Kind(200)}}}
		engine := newTestEngine(t, NewStaticOracle(replaytest.Params(), nil))
		require.ErrorIs(t, engine.Replay(context.Background(), log), state.ErrSequenceFault)
	})
}

func TestEngine_EpochMismatch(t *testing.T) {
	b := replaytest.NewBuilder(replaytest.Params())
	b.SignUp(types.FieldFromUint64(1))
	log := b.Log()
	log.SignUps[0].Epoch = 3

	engine := newTestEngine(t, NewCaptureOracle(b.Capture("")))
	err := engine.Replay(context.Background(), log)
	require.ErrorIs(t, err, state.ErrEpochMismatch)
	require.True(t, state.IsFatal(err))
}

func TestEngine_SealWithoutOracleLeaves(t *testing.T) {
	b := replaytest.NewBuilder(replaytest.Params())
	b.SealEpoch()

	engine := newTestEngine(t, NewStaticOracle(replaytest.Params(), nil))
	require.Error(t, engine.Replay(context.Background(), b.Log()))
	require.EqualValues(t, 0, engine.Unirep().CurrentEpoch())
}

func TestEngine_DuplicateNullifierIsSkipped(t *testing.T) {
	b := replaytest.NewBuilder(replaytest.Params())
	alice := b.NewMember(replaytest.NewIdentity(1))
	alice.SignUp()
	b.SealEpoch()
	replayed := alice.TransitionEvent()
	alice.Transition(true)
	// the same nullifiers spent again
	b.Transition(replayed, true)

	engine := newTestEngine(t, NewCaptureOracle(b.Capture("")), alice.Identity)
	require.NoError(t, engine.Replay(context.Background(), b.Log()))

	stats := engine.Stats()
	require.Equal(t, 1, stats.Transitions)
	require.Equal(t, 1, stats.DuplicateNullifiers)
	require.Len(t, engine.Unirep().GlobalStateLeaves(), 2)
	require.EqualValues(t, 1, engine.Users()[0].LatestGlobalLeafIndex())
}

func TestEngine_ForeignTransition(t *testing.T) {
	b, alice, bob := twoMembers()

	// only alice is followed: bob's transitions still reach the global state
	engine := newTestEngine(t, NewCaptureOracle(b.Capture("")), alice.Identity)
	require.NoError(t, engine.Replay(context.Background(), b.Log()))
	require.Len(t, engine.Unirep().GlobalStateLeaves(), 4)

	leaf, err := engine.Users()[0].GlobalStateLeaf()
	require.NoError(t, err)
	require.Equal(t, alice.Leaf(), leaf)
	require.NotEqual(t, bob.Leaf(), leaf)
}

func TestEngine_LeafMismatchIsFatal(t *testing.T) {
	b := replaytest.NewBuilder(replaytest.Params())
	alice := b.NewMember(replaytest.NewIdentity(1))
	alice.SignUp()
	b.SealEpoch()
	ev := alice.TransitionEvent()
	ev.NewGlobalStateLeaf = types.FieldFromUint64(99)
	b.Transition(ev, true)

	engine := newTestEngine(t, NewCaptureOracle(b.Capture("")), alice.Identity)
	err := engine.Replay(context.Background(), b.Log())
	require.ErrorIs(t, err, state.ErrConsistencyFault)
	// nothing of the faulty event reached the global state
	require.Len(t, engine.Unirep().GlobalStateLeaves(), 1)
}

func TestEngine_StaysFailed(t *testing.T) {
	b := replaytest.NewBuilder(replaytest.Params())
	b.SignUp(types.FieldFromUint64(1))
	log := b.Log()
	log.SignUps[0].Epoch = 5

	engine := newTestEngine(t, NewCaptureOracle(b.Capture("")))
	first := engine.Replay(context.Background(), log)
	require.Error(t, first)
	require.ErrorIs(t, engine.Err(), state.ErrEpochMismatch)

	err := engine.Replay(context.Background(), &rtypes.EventLog{})
	require.ErrorIs(t, err, state.ErrEpochMismatch)
}

func TestEngine_Cancelled(t *testing.T) {
	b, alice, _ := twoMembers()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := newTestEngine(t, NewCaptureOracle(b.Capture("")), alice.Identity)
	require.ErrorIs(t, engine.Replay(ctx, b.Log()), context.Canceled)
	require.Empty(t, engine.Unirep().GlobalStateLeaves())
}

func TestQueue(t *testing.T) {
	q := newQueue(types.KindPostRecorded, []int{1, 2})
	require.Equal(t, 2, q.Len())

	v, err := q.Dequeue()
	require.NoError(t, err)
	require.Equal(t, 1, *v)
	v, err = q.Dequeue()
	require.NoError(t, err)
	require.Equal(t, 2, *v)
	require.Zero(t, q.Len())

	_, err = q.Dequeue()
	require.ErrorIs(t, err, state.ErrSequenceFault)
	require.Contains(t, err.Error(), types.KindPostRecorded.String())
}
