// Package replay rebuilds protocol state by replaying the contract event log
// in the order fixed by its sequencer record.
package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	rtypes "github.com/kysee/zk-unirep/replay/types"
	"github.com/kysee/zk-unirep/state"
	"github.com/kysee/zk-unirep/types"
)

// Stats counts what a replay has applied and skipped.
type Stats struct {
	Events              map[types.Kind]int
	Transitions         int
	ProofsRejected      int
	DuplicateNullifiers int
}

// Engine applies event logs to a UnirepState and to the UserStates layered
// on it. After a fatal error the engine refuses further work and its
// observers must be discarded.
type Engine struct {
	oracle rtypes.Oracle
	unirep *state.UnirepState
	users  []*state.UserState

	stats  Stats
	failed error
	logger zerolog.Logger
}

// NewEngine returns an engine driving unirep and every user built on it.
func NewEngine(oracle rtypes.Oracle, unirep *state.UnirepState, logger zerolog.Logger, users ...*state.UserState) *Engine {
	return &Engine{
		oracle: oracle,
		unirep: unirep,
		users:  users,
		stats:  Stats{Events: make(map[types.Kind]int)},
		logger: logger.With().Str("module", "replay-engine").Logger(),
	}
}

func (e *Engine) Unirep() *state.UnirepState {
	return e.unirep
}

func (e *Engine) Users() []*state.UserState {
	return e.users
}

func (e *Engine) Stats() Stats {
	s := e.stats
	s.Events = make(map[types.Kind]int, len(e.stats.Events))
	for k, v := range e.stats.Events {
		s.Events[k] = v
	}
	return s
}

// Err returns the fatal error that stopped the engine, if any.
func (e *Engine) Err() error {
	return e.failed
}

type queues struct {
	signUps         *queue[types.SignUpEvent]
	attestations    *queue[types.AttestationEvent]
	posts           *queue[types.PostEvent]
	comments        *queue[types.CommentEvent]
	karmaNullifiers *queue[types.KarmaNullifiersEvent]
	epochSeals      *queue[types.EpochSealedEvent]
	transitions     *queue[types.UserStateTransitionedEvent]
}

func newQueues(log *rtypes.EventLog) *queues {
	return &queues{
		signUps:         newQueue(types.KindSignUp, log.SignUps),
		attestations:    newQueue(types.KindAttestation, log.Attestations),
		posts:           newQueue(types.KindPostRecorded, log.Posts),
		comments:        newQueue(types.KindCommentRecorded, log.Comments),
		karmaNullifiers: newQueue(types.KindKarmaNullifiersSubmitted, log.KarmaNullifiers),
		epochSeals:      newQueue(types.KindEpochSealed, log.EpochSeals),
		transitions:     newQueue(types.KindUserStateTransitioned, log.Transitions),
	}
}

func (q *queues) pending() map[types.Kind]int {
	left := map[types.Kind]int{
		types.KindSignUp:                   q.signUps.Len(),
		types.KindAttestation:              q.attestations.Len(),
		types.KindPostRecorded:             q.posts.Len(),
		types.KindCommentRecorded:          q.comments.Len(),
		types.KindKarmaNullifiersSubmitted: q.karmaNullifiers.Len(),
		types.KindEpochSealed:              q.epochSeals.Len(),
		types.KindUserStateTransitioned:    q.transitions.Len(),
	}
	for k, n := range left {
		if n == 0 {
			delete(left, k)
		}
	}
	return left
}

// Replay applies log in sequencer order. Every sub-channel must be drained
// exactly by the sequencer record. Any returned error is fatal.
//
// The record and every sub-channel are put in log position order first, on
// a copy, so log may be shared by concurrent replays.
func (e *Engine) Replay(ctx context.Context, log *rtypes.EventLog) error {
	if e.failed != nil {
		return fmt.Errorf("engine stopped: %w", e.failed)
	}
	ordered := &rtypes.EventLog{}
	ordered.Append(log)
	ordered.Normalize()
	log = ordered

	if err := e.replay(ctx, log); err != nil {
		e.failed = err
		return err
	}
	e.logger.Info().
		Uint64("toBlock", log.ToBlock).
		Int("events", log.Len()).
		Uint64("epoch", e.unirep.CurrentEpoch()).
		Str("globalStateRoot", types.FieldHex(e.unirep.GlobalStateRoot()).String()).
		Str("nullifierRoot", types.FieldHex(e.unirep.NullifierRoot()).String()).
		Msg("replay finished")
	return nil
}

func (e *Engine) replay(ctx context.Context, log *rtypes.EventLog) error {
	q := newQueues(log)
	for i, entry := range log.Sequencer {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("replay aborted at entry %d: %w", i, err)
		}
		if err := e.apply(ctx, q, entry.Kind); err != nil {
			return fmt.Errorf("entry %d (%s at %d:%d): %w", i, entry.Kind, entry.Position.Block, entry.Position.Index, err)
		}
		e.stats.Events[entry.Kind]++
	}
	if left := q.pending(); len(left) > 0 {
		return fmt.Errorf("%w: %v", state.ErrUnprocessedEvents, left)
	}
	return nil
}

func (e *Engine) apply(ctx context.Context, q *queues, kind types.Kind) error {
	switch kind {
	case types.KindSignUp:
		ev, err := q.signUps.Dequeue()
		if err != nil {
			return err
		}
		return e.signUp(ev)
	case types.KindAttestation:
		ev, err := q.attestations.Dequeue()
		if err != nil {
			return err
		}
		return e.attestation(ev)
	case types.KindPostRecorded:
		ev, err := q.posts.Dequeue()
		if err != nil {
			return err
		}
		return e.unirep.RecordPost(ev.Epoch)
	case types.KindCommentRecorded:
		ev, err := q.comments.Dequeue()
		if err != nil {
			return err
		}
		return e.unirep.RecordComment(ev.Epoch)
	case types.KindKarmaNullifiersSubmitted:
		ev, err := q.karmaNullifiers.Dequeue()
		if err != nil {
			return err
		}
		e.unirep.RecordKarmaNullifiers(ev.Nullifiers)
		return nil
	case types.KindEpochSealed:
		ev, err := q.epochSeals.Dequeue()
		if err != nil {
			return err
		}
		return e.sealEpoch(ctx, ev)
	case types.KindUserStateTransitioned:
		ev, err := q.transitions.Dequeue()
		if err != nil {
			return err
		}
		return e.transition(ctx, ev)
	default:
		return fmt.Errorf("%w: %v", state.ErrSequenceFault, kind)
	}
}

func (e *Engine) signUp(ev *types.SignUpEvent) error {
	idx, err := e.unirep.SignUp(ev.Epoch, ev.GlobalStateLeaf)
	if err != nil {
		return err
	}
	for _, user := range e.users {
		if leaf := user.DefaultGlobalStateLeaf(); leaf.Equal(&ev.GlobalStateLeaf) {
			if err := user.SignUp(ev.Epoch, idx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) attestation(ev *types.AttestationEvent) error {
	if err := e.unirep.RecordAttestation(ev.Epoch, ev.EpochKey, ev.Attestation); err != nil {
		return err
	}
	for _, user := range e.users {
		if !user.OwnsEpochKey(ev.EpochKey) {
			continue
		}
		if err := user.UpdateAttestation(ev.EpochKey, ev.Attestation); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) sealEpoch(ctx context.Context, ev *types.EpochSealedEvent) error {
	if err := e.unirep.CheckEpoch("epoch seal", ev.Epoch); err != nil {
		return err
	}
	leaves, err := e.oracle.EpochTreeLeaves(ctx, ev.Epoch)
	if err != nil {
		return fmt.Errorf("failed to fetch epoch tree leaves of epoch %d: %w", ev.Epoch, err)
	}
	return e.unirep.SealEpoch(ev.Epoch, leaves)
}

// transition applies a user state transition. Rejected proofs and reused
// nullifiers skip the event; everything else that fails is fatal.
func (e *Engine) transition(ctx context.Context, ev *types.UserStateTransitionedEvent) error {
	if err := e.unirep.CheckEpoch("user state transition", ev.Epoch); err != nil {
		return err
	}
	err := e.checkTransition(ctx, ev)
	switch {
	case errors.Is(err, state.ErrProofRejected):
		e.stats.ProofsRejected++
		e.skip(ev, err)
		return nil
	case errors.Is(err, state.ErrDuplicateNullifier):
		e.stats.DuplicateNullifiers++
		e.skip(ev, err)
		return nil
	case err != nil:
		return err
	}
	e.stats.Transitions++
	return nil
}

func (e *Engine) checkTransition(ctx context.Context, ev *types.UserStateTransitionedEvent) error {
	ok, err := e.oracle.VerifyUserStateTransition(ctx, ev)
	if err != nil {
		return fmt.Errorf("failed to verify user state transition: %w", err)
	}
	if !ok {
		return state.ErrProofRejected
	}

	nullifiers := ev.Nullifiers()
	if err := e.unirep.CheckNullifiers(e.unirep.ReduceNullifiers(nullifiers)); err != nil {
		return err
	}

	// users only ever see nullifiers the global tree has, so once the global
	// check passed no user can skip the event on its own
	next := e.unirep.NextGlobalLeafIndex()
	for _, user := range e.users {
		if _, err := user.AcceptTransition(ev, true, next); err != nil {
			return err
		}
	}
	idx, err := e.unirep.ApplyUserStateTransition(ev.Epoch, ev.NewGlobalStateLeaf, nullifiers)
	if err != nil {
		return err
	}
	if idx != next {
		return fmt.Errorf("%w: transition leaf took index %d, expected %d", state.ErrConsistencyFault, idx, next)
	}
	return nil
}

func (e *Engine) skip(ev *types.UserStateTransitionedEvent, reason error) {
	e.logger.Warn().
		Err(reason).
		Uint64("block", ev.Position.Block).
		Uint("logIndex", ev.Position.Index).
		Uint64("fromEpoch", ev.FromEpoch).
		Msg("skipping user state transition")
}
