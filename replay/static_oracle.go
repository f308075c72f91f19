package replay

import (
	"context"
	"fmt"

	rtypes "github.com/kysee/zk-unirep/replay/types"
	"github.com/kysee/zk-unirep/state"
	"github.com/kysee/zk-unirep/types"
)

// StaticOracle answers from recorded data. It never mutates after
// construction and may be shared by concurrent replays.
type StaticOracle struct {
	params   state.Params
	leaves   map[uint64][]types.EpochTreeLeaf
	rejected map[types.LogPosition]struct{}
}

func NewStaticOracle(params state.Params, leaves map[uint64][]types.EpochTreeLeaf, rejected ...types.LogPosition) *StaticOracle {
	o := &StaticOracle{
		params:   params,
		leaves:   leaves,
		rejected: make(map[types.LogPosition]struct{}, len(rejected)),
	}
	if o.leaves == nil {
		o.leaves = make(map[uint64][]types.EpochTreeLeaf)
	}
	for _, p := range rejected {
		o.rejected[p] = struct{}{}
	}
	return o
}

// NewCaptureOracle serves the answers recorded in capture.
func NewCaptureOracle(capture *rtypes.Capture) *StaticOracle {
	return NewStaticOracle(capture.Params, capture.EpochTreeLeaves, capture.RejectedTransitions...)
}

func (o *StaticOracle) Params(ctx context.Context) (state.Params, error) {
	return o.params, ctx.Err()
}

func (o *StaticOracle) EpochTreeLeaves(ctx context.Context, epoch uint64) ([]types.EpochTreeLeaf, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	leaves, ok := o.leaves[epoch]
	if !ok {
		return nil, fmt.Errorf("no epoch tree leaves recorded for epoch %d", epoch)
	}
	return leaves, nil
}

func (o *StaticOracle) VerifyUserStateTransition(ctx context.Context, ev *types.UserStateTransitionedEvent) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, rejected := o.rejected[ev.Position]
	return !rejected, nil
}
