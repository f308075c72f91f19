package replay

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	rtypes "github.com/kysee/zk-unirep/replay/types"
	"github.com/kysee/zk-unirep/state"
	"github.com/kysee/zk-unirep/types"
)

// LogFilterer is the part of ethclient.Client the fetcher uses.
type LogFilterer interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// ChainFetcher implements Fetcher by querying contract logs over JSON-RPC,
// BlockRange blocks per request.
type ChainFetcher struct {
	client     LogFilterer
	contract   common.Address
	blockRange uint64
	logger     zerolog.Logger
}

func NewChainFetcher(client LogFilterer, contract common.Address, blockRange uint64, logger zerolog.Logger) *ChainFetcher {
	if blockRange == 0 {
		blockRange = 1
	}
	return &ChainFetcher{
		client:     client,
		contract:   contract,
		blockRange: blockRange,
		logger:     logger.With().Str("module", "chain-fetcher").Logger(),
	}
}

var eventNamesByID = func() map[common.Hash]string {
	names := make(map[common.Hash]string, len(contractABI.Events))
	for name, ev := range contractABI.Events {
		names[ev.ID] = name
	}
	return names
}()

func eventTopics() [][]common.Hash {
	ids := make([]common.Hash, 0, len(contractABI.Events))
	for _, ev := range contractABI.Events {
		ids = append(ids, ev.ID)
	}
	return [][]common.Hash{ids}
}

// Events retrieves every contract event from fromBlock to the current head
func (f *ChainFetcher) Events(ctx context.Context, fromBlock uint64) (*rtypes.EventLog, error) {
	head, err := f.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get block number: %w", err)
	}

	eventLog := &rtypes.EventLog{FromBlock: fromBlock, ToBlock: head}
	if fromBlock > head {
		return eventLog, nil
	}

	topics := eventTopics()
	for start := fromBlock; ; {
		end := head
		if head-start >= f.blockRange {
			end = start + f.blockRange - 1
		}

		logs, err := f.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{f.contract},
			Topics:    topics,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to filter logs in [%d, %d]: %w", start, end, err)
		}
		for i := range logs {
			if logs[i].Removed {
				continue
			}
			if err := decodeLog(eventLog, &logs[i]); err != nil {
				return nil, fmt.Errorf("failed to decode log %d of block %d: %w", logs[i].Index, logs[i].BlockNumber, err)
			}
		}
		f.logger.Debug().Uint64("from", start).Uint64("to", end).Int("logs", len(logs)).Msg("fetched logs")

		if end == head {
			break
		}
		start = end + 1
	}

	eventLog.Normalize()
	return eventLog, nil
}

func topicBig(lg *ethtypes.Log, i int) (*big.Int, error) {
	if len(lg.Topics) <= i {
		return nil, fmt.Errorf("missing topic %d", i)
	}
	return new(big.Int).SetBytes(lg.Topics[i].Bytes()), nil
}

func toUint64(v *big.Int, what string) (uint64, error) {
	if v == nil || !v.IsUint64() {
		return 0, fmt.Errorf("%s out of range: %v", what, v)
	}
	return v.Uint64(), nil
}

func topicUint64(lg *ethtypes.Log, i int, what string) (uint64, error) {
	v, err := topicBig(lg, i)
	if err != nil {
		return 0, err
	}
	return toUint64(v, what)
}

// decodeLog appends lg to the sub-channel its signature names.
func decodeLog(eventLog *rtypes.EventLog, lg *ethtypes.Log) error {
	if len(lg.Topics) == 0 {
		return fmt.Errorf("anonymous log")
	}
	name, ok := eventNamesByID[lg.Topics[0]]
	if !ok {
		// not one of ours
		return nil
	}
	pos := types.LogPosition{Block: lg.BlockNumber, Index: lg.Index}

	values, err := contractABI.Unpack(name, lg.Data)
	if err != nil {
		return fmt.Errorf("failed to unpack %s: %w", name, err)
	}

	switch name {
	case eventSequencer:
		kind, err := types.ParseKind(values[0].(string))
		if err != nil {
			return fmt.Errorf("%w: %v", state.ErrSequenceFault, err)
		}
		eventLog.Sequencer = append(eventLog.Sequencer, types.SequencerEntry{Kind: kind, Position: pos})

	case eventNewGSTLeaf:
		epoch, err := topicUint64(lg, 1, "epoch")
		if err != nil {
			return err
		}
		eventLog.SignUps = append(eventLog.SignUps, types.SignUpEvent{
			Position:        pos,
			Epoch:           epoch,
			GlobalStateLeaf: types.FieldFromBig(values[0].(*big.Int)),
		})

	case eventAttestation:
		epoch, err := topicUint64(lg, 1, "epoch")
		if err != nil {
			return err
		}
		epochKey, err := topicBig(lg, 2)
		if err != nil {
			return err
		}
		tuple := *abi.ConvertType(values[0], new(attestationTuple)).(*attestationTuple)
		att, err := tuple.attestation()
		if err != nil {
			return err
		}
		eventLog.Attestations = append(eventLog.Attestations, types.AttestationEvent{
			Position:    pos,
			Epoch:       epoch,
			EpochKey:    epochKey,
			Attestation: att,
		})

	case eventPost:
		epoch, err := topicUint64(lg, 1, "epoch")
		if err != nil {
			return err
		}
		postID, err := topicBig(lg, 2)
		if err != nil {
			return err
		}
		epochKey, err := topicBig(lg, 3)
		if err != nil {
			return err
		}
		eventLog.Posts = append(eventLog.Posts, types.PostEvent{Position: pos, Epoch: epoch, PostID: postID, EpochKey: epochKey})

	case eventComment:
		epoch, err := topicUint64(lg, 1, "epoch")
		if err != nil {
			return err
		}
		postID, err := topicBig(lg, 2)
		if err != nil {
			return err
		}
		epochKey, err := topicBig(lg, 3)
		if err != nil {
			return err
		}
		eventLog.Comments = append(eventLog.Comments, types.CommentEvent{
			Position:  pos,
			Epoch:     epoch,
			PostID:    postID,
			CommentID: values[0].(*big.Int),
			EpochKey:  epochKey,
		})

	case eventKarmaNullifiers:
		epoch, err := topicUint64(lg, 1, "epoch")
		if err != nil {
			return err
		}
		epochKey, err := topicBig(lg, 2)
		if err != nil {
			return err
		}
		eventLog.KarmaNullifiers = append(eventLog.KarmaNullifiers, types.KarmaNullifiersEvent{
			Position:   pos,
			Epoch:      epoch,
			EpochKey:   epochKey,
			Nullifiers: values[0].([]*big.Int),
		})

	case eventEpochEnded:
		epoch, err := topicUint64(lg, 1, "epoch")
		if err != nil {
			return err
		}
		eventLog.EpochSeals = append(eventLog.EpochSeals, types.EpochSealedEvent{Position: pos, Epoch: epoch})

	case eventTransitioned:
		epoch, err := topicUint64(lg, 1, "epoch")
		if err != nil {
			return err
		}
		tuple := *abi.ConvertType(values[0], new(transitionTuple)).(*transitionTuple)
		fromEpoch, err := toUint64(tuple.FromEpoch, "fromEpoch")
		if err != nil {
			return err
		}
		eventLog.Transitions = append(eventLog.Transitions, types.UserStateTransitionedEvent{
			Position:                 pos,
			Epoch:                    epoch,
			NewGlobalStateLeaf:       types.FieldFromBig(tuple.NewGlobalStateTreeLeaf),
			AttestationNullifiers:    tuple.AttestationNullifiers,
			EpochKeyNullifiers:       tuple.EpkNullifiers,
			FromEpoch:                fromEpoch,
			FromGlobalStateRoot:      types.FieldFromBig(tuple.FromGlobalStateTree),
			FromEpochAccumulatorRoot: types.FieldFromBig(tuple.FromEpochTree),
			Proof:                    types.SolidityProof(tuple.Proof),
		})
	}
	return nil
}

func (t *attestationTuple) attestation() (types.Attestation, error) {
	attesterID, err := toUint64(t.AttesterId, "attesterId")
	if err != nil {
		return types.Attestation{}, err
	}
	pos, err := toUint64(t.PosRep, "posRep")
	if err != nil {
		return types.Attestation{}, err
	}
	neg, err := toUint64(t.NegRep, "negRep")
	if err != nil {
		return types.Attestation{}, err
	}
	return types.Attestation{
		AttesterID:        attesterID,
		PosRep:            pos,
		NegRep:            neg,
		Graffiti:          types.FieldFromBig(t.Graffiti),
		OverwriteGraffiti: t.OverwriteGraffiti,
	}, nil
}
