package replay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	rtypes "github.com/kysee/zk-unirep/replay/types"
	"github.com/kysee/zk-unirep/state"
	"github.com/kysee/zk-unirep/types"
)

type Options struct {
	Logger zerolog.Logger
	// Params replaces the parameters read from the oracle.
	Params *state.Params
}

func (o Options) params(ctx context.Context, oracle rtypes.Oracle) (state.Params, error) {
	if o.Params != nil {
		return *o.Params, nil
	}
	params, err := oracle.Params(ctx)
	if err != nil {
		return state.Params{}, fmt.Errorf("failed to read contract parameters: %w", err)
	}
	return params, nil
}

// ReplayUnirepState replays log from an empty state. On error the partially
// built state is not returned.
func ReplayUnirepState(ctx context.Context, log *rtypes.EventLog, oracle rtypes.Oracle, opts Options) (*state.UnirepState, Stats, error) {
	params, err := opts.params(ctx, oracle)
	if err != nil {
		return nil, Stats{}, err
	}
	unirep, err := state.NewUnirepState(params, opts.Logger)
	if err != nil {
		return nil, Stats{}, err
	}
	engine := NewEngine(oracle, unirep, opts.Logger)
	if err := engine.Replay(ctx, log); err != nil {
		return nil, engine.Stats(), err
	}
	return unirep, engine.Stats(), nil
}

// ReplayUserState replays log from an empty state while following identity,
// which must sign up somewhere in log.
func ReplayUserState(ctx context.Context, log *rtypes.EventLog, oracle rtypes.Oracle, identity types.Identity, opts Options) (*state.UserState, Stats, error) {
	params, err := opts.params(ctx, oracle)
	if err != nil {
		return nil, Stats{}, err
	}
	return replayUser(ctx, log, oracle, identity, params, opts.Logger)
}

func replayUser(ctx context.Context, log *rtypes.EventLog, oracle rtypes.Oracle, identity types.Identity, params state.Params, logger zerolog.Logger) (*state.UserState, Stats, error) {
	unirep, err := state.NewUnirepState(params, logger)
	if err != nil {
		return nil, Stats{}, err
	}
	user, err := state.NewUserState(unirep, identity, logger)
	if err != nil {
		return nil, Stats{}, err
	}
	engine := NewEngine(oracle, unirep, logger, user)
	if err := engine.Replay(ctx, log); err != nil {
		return nil, engine.Stats(), err
	}
	if !user.SignedUp() {
		return nil, engine.Stats(), state.ErrNotSignedUp
	}
	return user, engine.Stats(), nil
}

// ReplayUsers builds the states of several identities concurrently. Each
// identity replays its own copy of the global state; at most parallelism
// replays run at once. The first failure cancels the others.
func ReplayUsers(ctx context.Context, log *rtypes.EventLog, oracle rtypes.Oracle, identities []types.Identity, parallelism int, opts Options) ([]*state.UserState, error) {
	params, err := opts.params(ctx, oracle)
	if err != nil {
		return nil, err
	}

	users := make([]*state.UserState, len(identities))
	g, gctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i := range identities {
		g.Go(func() error {
			user, _, err := replayUser(gctx, log, oracle, identities[i], params, opts.Logger)
			if err != nil {
				return fmt.Errorf("identity %s: %w", types.FieldHex(identities[i].Commitment), err)
			}
			users[i] = user
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return users, nil
}
