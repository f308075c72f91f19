package replay

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/kysee/zk-unirep/state"
	"github.com/kysee/zk-unirep/types"
)

// ContractCaller is the part of ethclient.Client the oracle uses.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ContractOracle answers oracle questions with view calls against the
// contract at the latest block.
type ContractOracle struct {
	client   ContractCaller
	contract common.Address
	// protocol constants the contract does not expose
	defaultKarma uint64
	startEpoch   uint64
}

func NewContractOracle(client ContractCaller, contract common.Address, defaultKarma, startEpoch uint64) *ContractOracle {
	return &ContractOracle{
		client:       client,
		contract:     contract,
		defaultKarma: defaultKarma,
		startEpoch:   startEpoch,
	}
}

func (o *ContractOracle) call(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	output, err := o.client.CallContract(ctx, ethereum.CallMsg{To: &o.contract, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	return output, nil
}

func (o *ContractOracle) Params(ctx context.Context) (state.Params, error) {
	output, err := o.call(ctx, "treeDepths")
	if err != nil {
		return state.Params{}, err
	}
	var depths treeDepths
	if err := contractABI.UnpackIntoInterface(&depths, "treeDepths", output); err != nil {
		return state.Params{}, fmt.Errorf("failed to unpack treeDepths: %w", err)
	}

	output, err = o.call(ctx, "numEpochKeyNoncePerEpoch")
	if err != nil {
		return state.Params{}, err
	}
	var nonces uint8
	if err := contractABI.UnpackIntoInterface(&nonces, "numEpochKeyNoncePerEpoch", output); err != nil {
		return state.Params{}, fmt.Errorf("failed to unpack numEpochKeyNoncePerEpoch: %w", err)
	}

	params := state.Params{
		GlobalStateTreeDepth:     depths.GlobalStateTreeDepth,
		UserStateTreeDepth:       depths.UserStateTreeDepth,
		EpochTreeDepth:           depths.EpochTreeDepth,
		NullifierTreeDepth:       depths.NullifierTreeDepth,
		NumEpochKeyNoncePerEpoch: nonces,
		DefaultKarma:             o.defaultKarma,
		StartEpoch:               o.startEpoch,
	}
	return params, params.Validate()
}

func (o *ContractOracle) EpochTreeLeaves(ctx context.Context, epoch uint64) ([]types.EpochTreeLeaf, error) {
	output, err := o.call(ctx, "getEpochTreeLeaves", new(big.Int).SetUint64(epoch))
	if err != nil {
		return nil, err
	}
	var out epochTreeLeaves
	if err := contractABI.UnpackIntoInterface(&out, "getEpochTreeLeaves", output); err != nil {
		return nil, fmt.Errorf("failed to unpack getEpochTreeLeaves: %w", err)
	}
	if len(out.EpochKeyList) != len(out.EpochKeyHashChainList) {
		return nil, fmt.Errorf("epoch %d: %d epoch keys but %d hash chains", epoch, len(out.EpochKeyList), len(out.EpochKeyHashChainList))
	}

	leaves := make([]types.EpochTreeLeaf, len(out.EpochKeyList))
	for i := range leaves {
		leaves[i] = types.EpochTreeLeaf{
			EpochKey:  out.EpochKeyList[i],
			Hashchain: types.FieldFromBig(out.EpochKeyHashChainList[i]),
		}
	}
	return leaves, nil
}

func (o *ContractOracle) VerifyUserStateTransition(ctx context.Context, ev *types.UserStateTransitionedEvent) (bool, error) {
	var proof [8]*big.Int
	for i, w := range ev.Proof {
		if w == nil {
			w = new(big.Int)
		}
		proof[i] = w
	}
	output, err := o.call(ctx, "verifyUserStateTransition",
		types.FieldToBig(ev.NewGlobalStateLeaf),
		nonNil(ev.AttestationNullifiers),
		nonNil(ev.EpochKeyNullifiers),
		new(big.Int).SetUint64(ev.FromEpoch),
		types.FieldToBig(ev.FromGlobalStateRoot),
		types.FieldToBig(ev.FromEpochAccumulatorRoot),
		proof,
	)
	if err != nil {
		return false, err
	}
	var valid bool
	if err := contractABI.UnpackIntoInterface(&valid, "verifyUserStateTransition", output); err != nil {
		return false, fmt.Errorf("failed to unpack verifyUserStateTransition: %w", err)
	}
	return valid, nil
}

func nonNil(values []*big.Int) []*big.Int {
	out := make([]*big.Int, len(values))
	for i, v := range values {
		if v == nil {
			v = new(big.Int)
		}
		out[i] = v
	}
	return out
}
