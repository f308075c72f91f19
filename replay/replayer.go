package replay

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	rtypes "github.com/kysee/zk-unirep/replay/types"
	"github.com/kysee/zk-unirep/state"
	"github.com/kysee/zk-unirep/store"
	"github.com/kysee/zk-unirep/types"
)

// Result is the state of a replica after a successful run.
type Result struct {
	Unirep    *state.UnirepState
	Users     []*state.UserState
	LastBlock uint64
	Stats     Stats
	// Resumed is set when the run continued from a saved checkpoint.
	Resumed bool
}

// Replayer keeps a replica of one contract up to date: it resumes from the
// last checkpoint, replays the events that followed and saves a new
// checkpoint only when the whole replay succeeded.
type Replayer struct {
	config     *rtypes.Config
	fetcher    rtypes.Fetcher
	oracle     rtypes.Oracle
	store      *store.Store
	contract   common.Address
	identities []types.Identity
	logger     zerolog.Logger
}

// NewReplayer creates a Replayer following identities on top of the global
// state. st may be nil to disable checkpoints.
func NewReplayer(config *rtypes.Config, fetcher rtypes.Fetcher, oracle rtypes.Oracle, st *store.Store, identities []types.Identity, logger zerolog.Logger) *Replayer {
	return &Replayer{
		config:     config,
		fetcher:    fetcher,
		oracle:     oracle,
		store:      st,
		contract:   common.HexToAddress(config.Contract),
		identities: identities,
		logger:     logger.With().Str("module", "replayer").Logger(),
	}
}

// Run executes one catch-up pass.
func (r *Replayer) Run(ctx context.Context) (*Result, error) {
	unirep, users, fromBlock, resumed, err := r.restore(ctx)
	if err != nil {
		return nil, err
	}
	r.logger.Info().
		Str("contract", r.contract.Hex()).
		Uint64("fromBlock", fromBlock).
		Bool("resumed", resumed).
		Int("identities", len(users)).
		Msg("starting replay")

	eventLog, err := r.fetcher.Events(ctx, fromBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events from block %d: %w", fromBlock, err)
	}

	engine := NewEngine(r.oracle, unirep, r.logger, users...)
	if err := engine.Replay(ctx, eventLog); err != nil {
		return nil, err
	}

	lastBlock := eventLog.ToBlock
	if lastBlock < fromBlock {
		// nothing new on chain
		lastBlock = fromBlock - 1
	}
	if r.store != nil && eventLog.ToBlock >= fromBlock {
		if err := r.save(unirep, users, lastBlock); err != nil {
			return nil, err
		}
	}

	for _, u := range users {
		if !u.SignedUp() {
			r.logger.Warn().Str("commitment", types.FieldHex(u.Identity().Commitment).String()).Msg("identity has not signed up yet")
		}
	}
	return &Result{
		Unirep:    unirep,
		Users:     users,
		LastBlock: lastBlock,
		Stats:     engine.Stats(),
		Resumed:   resumed,
	}, nil
}

func (r *Replayer) restore(ctx context.Context) (*state.UnirepState, []*state.UserState, uint64, bool, error) {
	if r.store != nil {
		unirep, users, lastBlock, ok, err := r.loadCheckpoint()
		if err != nil {
			return nil, nil, 0, false, err
		}
		if ok {
			return unirep, users, lastBlock + 1, true, nil
		}
	}

	params, err := r.oracle.Params(ctx)
	if err != nil {
		return nil, nil, 0, false, fmt.Errorf("failed to read contract parameters: %w", err)
	}
	unirep, err := state.NewUnirepState(params, r.logger)
	if err != nil {
		return nil, nil, 0, false, err
	}
	users := make([]*state.UserState, len(r.identities))
	for i, id := range r.identities {
		if users[i], err = state.NewUserState(unirep, id, r.logger); err != nil {
			return nil, nil, 0, false, err
		}
	}
	return unirep, users, r.config.StartBlock, false, nil
}

// loadCheckpoint restores the replica when a checkpoint exists for it and
// for every followed identity. An identity without a checkpoint forces a
// replay from the start block, since attestations it received earlier are
// not in the global snapshot.
func (r *Replayer) loadCheckpoint() (*state.UnirepState, []*state.UserState, uint64, bool, error) {
	cp, found, err := r.store.LoadUnirep(r.contract, r.config.StartBlock)
	if err != nil || !found {
		return nil, nil, 0, false, err
	}
	unirep, err := state.RestoreUnirepState(cp.State, r.logger)
	if err != nil {
		return nil, nil, 0, false, fmt.Errorf("failed to restore checkpoint at block %d: %w", cp.LastBlock, err)
	}

	users := make([]*state.UserState, len(r.identities))
	for i, id := range r.identities {
		ucp, found, err := r.store.LoadUser(r.contract, r.config.StartBlock, id.Commitment)
		if err != nil {
			return nil, nil, 0, false, err
		}
		if !found || ucp.LastBlock != cp.LastBlock {
			r.logger.Info().
				Str("commitment", types.FieldHex(id.Commitment).String()).
				Msg("no checkpoint for identity, replaying from start block")
			return nil, nil, 0, false, nil
		}
		if users[i], err = state.RestoreUserState(unirep, id, ucp.State, r.logger); err != nil {
			return nil, nil, 0, false, err
		}
	}
	return unirep, users, cp.LastBlock, true, nil
}

func (r *Replayer) save(unirep *state.UnirepState, users []*state.UserState, lastBlock uint64) error {
	userCps := make([]*store.UserCheckpoint, len(users))
	for i, u := range users {
		userCps[i] = &store.UserCheckpoint{LastBlock: lastBlock, State: u.Snapshot()}
	}
	err := r.store.SaveCheckpoint(r.contract, r.config.StartBlock,
		&store.UnirepCheckpoint{LastBlock: lastBlock, State: unirep.Snapshot()},
		userCps...)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint at block %d: %w", lastBlock, err)
	}
	r.logger.Debug().Uint64("lastBlock", lastBlock).Msg("checkpoint saved")
	return nil
}
