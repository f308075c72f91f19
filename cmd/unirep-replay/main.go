// unirep-replay rebuilds the state of a deployed reputation contract, and of
// identities registered with it, from the contract's event log.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	rtypes "github.com/kysee/zk-unirep/replay/types"
)

var (
	Version = "dev"
	Commit  = "none"
)

func main() {
	if err := newRootCmd(rtypes.NewConfig()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(config *rtypes.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "unirep-replay",
		Short: "Replay a reputation contract event log",
		Long: `unirep-replay replays the sequenced event log of a reputation contract into
its global state tree, nullifier tree and per-epoch trees, optionally
following identities to rebuild their reputation.

Defaults come from the environment (RPC_ENDPOINT, CONTRACT, START_BLOCK,
DATA_SOURCE, EVENT_FILE, DB_PATH, VK_PATH, LOG_LEVEL ...); flags override them.`,
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "setup" {
				return nil
			}
			return config.Validate()
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&config.RPCEndpoint, "rpc", config.RPCEndpoint, "JSON-RPC endpoint of the execution client")
	flags.StringVar(&config.Contract, "contract", config.Contract, "contract address")
	flags.Uint64Var(&config.StartBlock, "start-block", config.StartBlock, "contract deployment block")
	flags.Uint64Var(&config.BlockRange, "block-range", config.BlockRange, "blocks per log query")
	flags.StringVar(&config.DataSource, "source", config.DataSource, `event source, "rpc" or "file"`)
	flags.StringVar(&config.EventFile, "events", config.EventFile, "captured event log used by the file source")
	flags.StringVar(&config.DBPath, "db", config.DBPath, "checkpoint database directory (empty keeps checkpoints in memory)")
	flags.StringVar(&config.VKPath, "vk", config.VKPath, "groth16 verifying key used to check transition proofs locally")
	flags.Uint64Var(&config.DefaultKarma, "default-karma", config.DefaultKarma, "karma airdropped at sign-up")
	flags.Uint64Var(&config.StartEpoch, "start-epoch", config.StartEpoch, "epoch the contract starts in")
	flags.IntVar(&config.Parallelism, "parallelism", config.Parallelism, "identities replayed concurrently")
	flags.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level")

	rootCmd.AddCommand(
		newReplayCmd(config),
		newUserCmd(config),
		newCaptureCmd(config),
		newSetupCmd(config),
	)
	return rootCmd
}
