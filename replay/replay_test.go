package replay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kysee/zk-unirep/replay/replaytest"
	"github.com/kysee/zk-unirep/state"
	"github.com/kysee/zk-unirep/types"
)

func TestReplayUserState(t *testing.T) {
	b, alice, _ := twoMembers()
	oracle := NewCaptureOracle(b.Capture(""))

	user, stats, err := ReplayUserState(context.Background(), b.Log(), oracle, alice.Identity, Options{Logger: nopLogger})
	require.NoError(t, err)
	require.Equal(t, 2, stats.Transitions)

	leaf, err := user.GlobalStateLeaf()
	require.NoError(t, err)
	require.Equal(t, alice.Leaf(), leaf)
}

func TestReplayUserState_NotSignedUp(t *testing.T) {
	b, _, _ := twoMembers()
	oracle := NewCaptureOracle(b.Capture(""))

	_, _, err := ReplayUserState(context.Background(), b.Log(), oracle, replaytest.NewIdentity(3), Options{Logger: nopLogger})
	require.ErrorIs(t, err, state.ErrNotSignedUp)
}

func TestReplayUnirepState_ParamsOverride(t *testing.T) {
	b, _, _ := twoMembers()
	oracle := NewCaptureOracle(b.Capture(""))

	params := replaytest.Params()
	params.NullifierTreeDepth = 48
	unirep, _, err := ReplayUnirepState(context.Background(), b.Log(), oracle, Options{Logger: nopLogger, Params: &params})
	require.NoError(t, err)
	require.EqualValues(t, 48, unirep.Params().NullifierTreeDepth)

	defaults, _, err := ReplayUnirepState(context.Background(), b.Log(), oracle, Options{Logger: nopLogger})
	require.NoError(t, err)
	require.Equal(t, defaults.GlobalStateRoot(), unirep.GlobalStateRoot())
	require.NotEqual(t, defaults.NullifierRoot(), unirep.NullifierRoot())
}

func TestReplayUnirepState_FailureReturnsNoState(t *testing.T) {
	b, _, _ := twoMembers()
	log := b.Log()
	log.EpochSeals = log.EpochSeals[:1]

	unirep, _, err := ReplayUnirepState(context.Background(), log, NewCaptureOracle(b.Capture("")), Options{Logger: nopLogger})
	require.ErrorIs(t, err, state.ErrSequenceFault)
	require.Nil(t, unirep)
}

func TestReplayUsers(t *testing.T) {
	b, alice, bob := twoMembers()
	oracle := NewCaptureOracle(b.Capture(""))

	users, err := ReplayUsers(context.Background(), b.Log(), oracle,
		[]types.Identity{alice.Identity, bob.Identity}, 2, Options{Logger: nopLogger})
	require.NoError(t, err)
	require.Len(t, users, 2)

	for i, m := range []*replaytest.Member{alice, bob} {
		require.Equal(t, m.Identity, users[i].Identity())
		leaf, err := users[i].GlobalStateLeaf()
		require.NoError(t, err)
		require.Equal(t, m.Leaf(), leaf)
	}
}

func TestReplayUsers_OneFails(t *testing.T) {
	b, alice, _ := twoMembers()
	oracle := NewCaptureOracle(b.Capture(""))

	_, err := ReplayUsers(context.Background(), b.Log(), oracle,
		[]types.Identity{alice.Identity, replaytest.NewIdentity(3)}, 1, Options{Logger: nopLogger})
	require.ErrorIs(t, err, state.ErrNotSignedUp)
}
