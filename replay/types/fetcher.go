package types

import (
	"context"
	"sort"

	"github.com/kysee/zk-unirep/state"
	"github.com/kysee/zk-unirep/types"
)

// EventLog is a contiguous range of the contract log: the sequencer record
// plus one sub-channel per event kind.
type EventLog struct {
	FromBlock uint64 `json:"fromBlock"`
	ToBlock   uint64 `json:"toBlock"`

	Sequencer       []types.SequencerEntry             `json:"sequencer"`
	SignUps         []types.SignUpEvent                `json:"signUps"`
	Attestations    []types.AttestationEvent           `json:"attestations"`
	Posts           []types.PostEvent                  `json:"posts"`
	Comments        []types.CommentEvent               `json:"comments"`
	KarmaNullifiers []types.KarmaNullifiersEvent       `json:"karmaNullifiers"`
	EpochSeals      []types.EpochSealedEvent           `json:"epochSeals"`
	Transitions     []types.UserStateTransitionedEvent `json:"transitions"`
}

// Normalize puts every channel in log order. Transports may deliver pages
// or sub-channels out of order; replay relies on arrival order.
func (l *EventLog) Normalize() {
	sort.SliceStable(l.Sequencer, func(i, j int) bool { return l.Sequencer[i].Position.Less(l.Sequencer[j].Position) })
	sort.SliceStable(l.SignUps, func(i, j int) bool { return l.SignUps[i].Position.Less(l.SignUps[j].Position) })
	sort.SliceStable(l.Attestations, func(i, j int) bool { return l.Attestations[i].Position.Less(l.Attestations[j].Position) })
	sort.SliceStable(l.Posts, func(i, j int) bool { return l.Posts[i].Position.Less(l.Posts[j].Position) })
	sort.SliceStable(l.Comments, func(i, j int) bool { return l.Comments[i].Position.Less(l.Comments[j].Position) })
	sort.SliceStable(l.KarmaNullifiers, func(i, j int) bool { return l.KarmaNullifiers[i].Position.Less(l.KarmaNullifiers[j].Position) })
	sort.SliceStable(l.EpochSeals, func(i, j int) bool { return l.EpochSeals[i].Position.Less(l.EpochSeals[j].Position) })
	sort.SliceStable(l.Transitions, func(i, j int) bool { return l.Transitions[i].Position.Less(l.Transitions[j].Position) })
}

// Append adds the events of next, which must follow l.
func (l *EventLog) Append(next *EventLog) {
	if len(l.Sequencer) == 0 && l.ToBlock == 0 {
		l.FromBlock = next.FromBlock
	}
	l.ToBlock = next.ToBlock
	l.Sequencer = append(l.Sequencer, next.Sequencer...)
	l.SignUps = append(l.SignUps, next.SignUps...)
	l.Attestations = append(l.Attestations, next.Attestations...)
	l.Posts = append(l.Posts, next.Posts...)
	l.Comments = append(l.Comments, next.Comments...)
	l.KarmaNullifiers = append(l.KarmaNullifiers, next.KarmaNullifiers...)
	l.EpochSeals = append(l.EpochSeals, next.EpochSeals...)
	l.Transitions = append(l.Transitions, next.Transitions...)
}

// Len is the number of sequencer entries.
func (l *EventLog) Len() int {
	return len(l.Sequencer)
}

// Fetcher defines the interface for fetching the contract event log
type Fetcher interface {
	// Events returns every event from fromBlock up to the latest block.
	Events(ctx context.Context, fromBlock uint64) (*EventLog, error)
}

// Oracle is the read-only view of the contract a replay needs besides its log.
type Oracle interface {
	Params(ctx context.Context) (state.Params, error)
	// EpochTreeLeaves returns the sealed (epoch key, hash chain) pairs of epoch.
	EpochTreeLeaves(ctx context.Context, epoch uint64) ([]types.EpochTreeLeaf, error)
	// VerifyUserStateTransition reports whether the proof of ev is valid. An
	// error means the verdict could not be obtained.
	VerifyUserStateTransition(ctx context.Context, ev *types.UserStateTransitionedEvent) (bool, error)
}

// Capture is an event log recorded together with the contract answers
// needed to replay it offline.
type Capture struct {
	Contract        string                           `json:"contract"`
	StartBlock      uint64                           `json:"startBlock"`
	Params          state.Params                     `json:"params"`
	Events          EventLog                         `json:"events"`
	EpochTreeLeaves map[uint64][]types.EpochTreeLeaf `json:"epochTreeLeaves"`
	// positions of transitions whose proof the verifier rejected
	RejectedTransitions []types.LogPosition `json:"rejectedTransitions"`
}
