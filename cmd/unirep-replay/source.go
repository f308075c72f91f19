package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/kysee/zk-unirep/replay"
	rtypes "github.com/kysee/zk-unirep/replay/types"
	"github.com/kysee/zk-unirep/types"
	"github.com/kysee/zk-unirep/verifiers"
)

// source is where events and contract answers come from.
type source struct {
	fetcher rtypes.Fetcher
	oracle  rtypes.Oracle
	close   func()
}

// openSource connects the configured data source. A file source fills in
// the contract and start block of the capture when they are not set. With a
// verifying key, transition proofs are checked locally.
func openSource(ctx context.Context, config *rtypes.Config, logger zerolog.Logger) (*source, error) {
	src := &source{close: func() {}}

	switch config.DataSource {
	case rtypes.DataSourceRPC:
		client, err := ethclient.DialContext(ctx, config.RPCEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", config.RPCEndpoint, err)
		}
		contract := common.HexToAddress(config.Contract)
		src.fetcher = replay.NewChainFetcher(client, contract, config.BlockRange, logger)
		src.oracle = replay.NewContractOracle(client, contract, config.DefaultKarma, config.StartEpoch)
		src.close = client.Close

	case rtypes.DataSourceFile:
		fetcher := replay.NewFileFetcher(config.EventFile)
		capture, err := fetcher.Capture()
		if err != nil {
			return nil, err
		}
		if config.Contract == "" {
			config.Contract = capture.Contract
		}
		if config.StartBlock == 0 {
			config.StartBlock = capture.StartBlock
		}
		src.fetcher = fetcher
		src.oracle = replay.NewCaptureOracle(capture)

	default:
		return nil, fmt.Errorf("unknown data source %q", config.DataSource)
	}

	if config.VKPath != "" {
		vk, err := verifiers.LoadVerifyingKey(config.VKPath)
		if err != nil {
			src.close()
			return nil, err
		}
		src.oracle = verifiers.NewGroth16Oracle(src.oracle, vk, logger)
	}
	return src, nil
}

type identityFile struct {
	Nullifier  string `json:"identityNullifier"`
	Trapdoor   string `json:"identityTrapdoor"`
	Commitment string `json:"identityCommitment"`
}

// loadIdentity reads an identity whose fields are hex encoded field elements.
func loadIdentity(path string) (types.Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Identity{}, fmt.Errorf("failed to read identity %s: %w", path, err)
	}
	var f identityFile
	if err := json.Unmarshal(data, &f); err != nil {
		return types.Identity{}, fmt.Errorf("failed to parse identity %s: %w", path, err)
	}

	var id types.Identity
	if id.Nullifier, err = types.FieldFromHex(f.Nullifier); err != nil {
		return types.Identity{}, fmt.Errorf("identity %s: nullifier: %w", path, err)
	}
	if id.Trapdoor, err = types.FieldFromHex(f.Trapdoor); err != nil {
		return types.Identity{}, fmt.Errorf("identity %s: trapdoor: %w", path, err)
	}
	if id.Commitment, err = types.FieldFromHex(f.Commitment); err != nil {
		return types.Identity{}, fmt.Errorf("identity %s: commitment: %w", path, err)
	}
	return id, nil
}

func loadIdentities(paths []string) ([]types.Identity, error) {
	identities := make([]types.Identity, len(paths))
	for i, p := range paths {
		id, err := loadIdentity(p)
		if err != nil {
			return nil, err
		}
		identities[i] = id
	}
	return identities, nil
}
