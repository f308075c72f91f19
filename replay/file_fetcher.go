package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	rtypes "github.com/kysee/zk-unirep/replay/types"
	"github.com/kysee/zk-unirep/types"
)

// FileFetcher implements Fetcher by reading a captured event log from a local JSON file
type FileFetcher struct {
	FilePath string
}

// NewFileFetcher creates a new FileFetcher with the given file path
func NewFileFetcher(filePath string) *FileFetcher {
	return &FileFetcher{
		FilePath: filePath,
	}
}

// Capture reads and parses the whole capture file
func (f *FileFetcher) Capture() (*rtypes.Capture, error) {
	data, err := os.ReadFile(f.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", f.FilePath, err)
	}

	var capture rtypes.Capture
	if err := json.Unmarshal(data, &capture); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	capture.Events.Normalize()
	return &capture, nil
}

// Events returns the captured events at or after fromBlock
func (f *FileFetcher) Events(ctx context.Context, fromBlock uint64) (*rtypes.EventLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	capture, err := f.Capture()
	if err != nil {
		return nil, err
	}
	return filterFromBlock(&capture.Events, fromBlock), nil
}

func filterFromBlock(l *rtypes.EventLog, fromBlock uint64) *rtypes.EventLog {
	out := &rtypes.EventLog{FromBlock: max(fromBlock, l.FromBlock), ToBlock: l.ToBlock}
	out.Sequencer = keepFrom(l.Sequencer, fromBlock, func(e *types.SequencerEntry) types.LogPosition { return e.Position })
	out.SignUps = keepFrom(l.SignUps, fromBlock, func(e *types.SignUpEvent) types.LogPosition { return e.Position })
	out.Attestations = keepFrom(l.Attestations, fromBlock, func(e *types.AttestationEvent) types.LogPosition { return e.Position })
	out.Posts = keepFrom(l.Posts, fromBlock, func(e *types.PostEvent) types.LogPosition { return e.Position })
	out.Comments = keepFrom(l.Comments, fromBlock, func(e *types.CommentEvent) types.LogPosition { return e.Position })
	out.KarmaNullifiers = keepFrom(l.KarmaNullifiers, fromBlock, func(e *types.KarmaNullifiersEvent) types.LogPosition { return e.Position })
	out.EpochSeals = keepFrom(l.EpochSeals, fromBlock, func(e *types.EpochSealedEvent) types.LogPosition { return e.Position })
	out.Transitions = keepFrom(l.Transitions, fromBlock, func(e *types.UserStateTransitionedEvent) types.LogPosition { return e.Position })
	return out
}

func keepFrom[T any](items []T, fromBlock uint64, pos func(*T) types.LogPosition) []T {
	var out []T
	for i := range items {
		if pos(&items[i]).Block >= fromBlock {
			out = append(out, items[i])
		}
	}
	return out
}

// Record fetches the log from fetcher and asks oracle every question a
// replay of it will ask, so that the result can be replayed offline.
func Record(ctx context.Context, fetcher rtypes.Fetcher, oracle rtypes.Oracle, fromBlock uint64) (*rtypes.Capture, error) {
	params, err := oracle.Params(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read contract parameters: %w", err)
	}
	events, err := fetcher.Events(ctx, fromBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	capture := &rtypes.Capture{
		StartBlock:      fromBlock,
		Params:          params,
		Events:          *events,
		EpochTreeLeaves: make(map[uint64][]types.EpochTreeLeaf),
	}
	for _, ev := range events.EpochSeals {
		leaves, err := oracle.EpochTreeLeaves(ctx, ev.Epoch)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch epoch tree leaves of epoch %d: %w", ev.Epoch, err)
		}
		capture.EpochTreeLeaves[ev.Epoch] = leaves
	}
	for i := range events.Transitions {
		ev := &events.Transitions[i]
		ok, err := oracle.VerifyUserStateTransition(ctx, ev)
		if err != nil {
			return nil, fmt.Errorf("failed to verify transition at %d:%d: %w", ev.Position.Block, ev.Position.Index, err)
		}
		if !ok {
			capture.RejectedTransitions = append(capture.RejectedTransitions, ev.Position)
		}
	}
	return capture, nil
}

// SaveCapture writes capture as indented JSON
func SaveCapture(path string, capture *rtypes.Capture) error {
	jsonBlob, err := json.MarshalIndent(capture, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal capture: %w", err)
	}
	if err := os.WriteFile(path, jsonBlob, 0644); err != nil {
		return fmt.Errorf("failed to write capture file: %w", err)
	}
	return nil
}
