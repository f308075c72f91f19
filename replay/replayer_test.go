package replay

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kysee/zk-unirep/replay/replaytest"
	rtypes "github.com/kysee/zk-unirep/replay/types"
	"github.com/kysee/zk-unirep/store"
	"github.com/kysee/zk-unirep/types"
)

func newTestReplayer(t *testing.T, b *replaytest.Builder, st *store.Store, identities ...types.Identity) *Replayer {
	path := filepath.Join(t.TempDir(), "capture.json")
	capture := b.Capture(testContract.Hex())
	require.NoError(t, SaveCapture(path, capture))

	config := &rtypes.Config{
		Contract:   testContract.Hex(),
		DataSource: rtypes.DataSourceFile,
		EventFile:  path,
	}
	return NewReplayer(config, NewFileFetcher(path), NewCaptureOracle(capture), st, identities, nopLogger)
}

func openStore(t *testing.T) *store.Store {
	st, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestReplayer_Resume(t *testing.T) {
	st := openStore(t)
	b, alice, bob := twoMembers()

	first, err := newTestReplayer(t, b, st, alice.Identity, bob.Identity).Run(context.Background())
	require.NoError(t, err)
	require.False(t, first.Resumed)
	require.EqualValues(t, 12, first.LastBlock)

	cp, found, err := st.LoadUnirep(testContract, 0)
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 12, cp.LastBlock)

	// the chain moves on: alice catches up to epoch 2, is attested there and
	// transitions out of it
	alice.Transition(true)
	alice.Receive(1, types.Attestation{AttesterID: 7, PosRep: 2})
	b.SealEpoch()
	alice.Transition(true)
	b.Post(big.NewInt(5), alice.EpochKey(0))

	second, err := newTestReplayer(t, b, st, alice.Identity, bob.Identity).Run(context.Background())
	require.NoError(t, err)
	require.True(t, second.Resumed)
	require.EqualValues(t, 17, second.LastBlock)
	require.Equal(t, 2, second.Stats.Transitions)

	// resuming ends where a replay from scratch ends
	fresh, err := newTestReplayer(t, b, nil, alice.Identity, bob.Identity).Run(context.Background())
	require.NoError(t, err)
	require.False(t, fresh.Resumed)
	require.Equal(t, fresh.Unirep.Snapshot(), second.Unirep.Snapshot())
	for i := range fresh.Users {
		require.Equal(t, fresh.Users[i].Snapshot(), second.Users[i].Snapshot())
	}

	leaf, err := second.Users[0].GlobalStateLeaf()
	require.NoError(t, err)
	require.Equal(t, alice.Leaf(), leaf)
}

func TestReplayer_NothingNew(t *testing.T) {
	st := openStore(t)
	b, alice, _ := twoMembers()

	_, err := newTestReplayer(t, b, st, alice.Identity).Run(context.Background())
	require.NoError(t, err)

	again, err := newTestReplayer(t, b, st, alice.Identity).Run(context.Background())
	require.NoError(t, err)
	require.True(t, again.Resumed)
	require.EqualValues(t, 12, again.LastBlock)
	require.Zero(t, again.Stats.Transitions)
}

func TestReplayer_NewIdentityReplaysFromStart(t *testing.T) {
	st := openStore(t)
	b, alice, bob := twoMembers()

	_, err := newTestReplayer(t, b, st, alice.Identity).Run(context.Background())
	require.NoError(t, err)

	res, err := newTestReplayer(t, b, st, alice.Identity, bob.Identity).Run(context.Background())
	require.NoError(t, err)
	require.False(t, res.Resumed)

	leaf, err := res.Users[1].GlobalStateLeaf()
	require.NoError(t, err)
	require.Equal(t, bob.Leaf(), leaf)
}

func TestReplayer_FailureSavesNothing(t *testing.T) {
	st := openStore(t)
	b, alice, _ := twoMembers()

	r := newTestReplayer(t, b, st, alice.Identity)
	// forget the leaves of the first sealed epoch
	r.oracle = NewStaticOracle(replaytest.Params(), nil)
	_, err := r.Run(context.Background())
	require.Error(t, err)

	_, found, err := st.LoadUnirep(testContract, 0)
	require.NoError(t, err)
	require.False(t, found)
}

func TestReplayer_IdentityNotSignedUp(t *testing.T) {
	b, alice, _ := twoMembers()

	res, err := newTestReplayer(t, b, nil, alice.Identity, replaytest.NewIdentity(9)).Run(context.Background())
	require.NoError(t, err)
	require.True(t, res.Users[0].SignedUp())
	require.False(t, res.Users[1].SignedUp())
}
