package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	circuit "github.com/kysee/zk-unirep/circuits"
	"github.com/kysee/zk-unirep/replay"
	rtypes "github.com/kysee/zk-unirep/replay/types"
	"github.com/kysee/zk-unirep/store"
)

func newReplayCmd(config *rtypes.Config) *cobra.Command {
	var (
		identityFiles []string
		follow        time.Duration
		reset         bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Bring the replica up to date and print its roots",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := config.NewLogger()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			identities, err := loadIdentities(identityFiles)
			if err != nil {
				return err
			}
			src, err := openSource(ctx, config, log)
			if err != nil {
				return err
			}
			defer src.close()

			st, err := store.Open(config.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()
			if reset {
				if err := st.Drop(common.HexToAddress(config.Contract), config.StartBlock); err != nil {
					return err
				}
			}

			replayer := replay.NewReplayer(config, src.fetcher, src.oracle, st, identities, log)
			for {
				res, err := replayer.Run(ctx)
				if err != nil {
					return err
				}
				if err := writeJSON(cmd.OutOrStdout(), summarizeResult(config.Contract, res)); err != nil {
					return err
				}
				if follow <= 0 {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(follow):
				}
			}
		},
	}
	cmd.Flags().StringSliceVar(&identityFiles, "identity", nil, "identity JSON file to follow (repeatable)")
	cmd.Flags().DurationVar(&follow, "follow", 0, "keep replaying new blocks at this interval")
	cmd.Flags().BoolVar(&reset, "reset", false, "drop saved checkpoints and replay from the start block")
	return cmd
}

func newUserCmd(config *rtypes.Config) *cobra.Command {
	var identityFiles []string
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Replay the whole log once per identity and print each identity's reputation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(identityFiles) == 0 {
				return fmt.Errorf("at least one --identity is required")
			}
			log := config.NewLogger()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			identities, err := loadIdentities(identityFiles)
			if err != nil {
				return err
			}
			src, err := openSource(ctx, config, log)
			if err != nil {
				return err
			}
			defer src.close()

			eventLog, err := src.fetcher.Events(ctx, config.StartBlock)
			if err != nil {
				return err
			}
			users, err := replay.ReplayUsers(ctx, eventLog, src.oracle, identities, config.Parallelism, replay.Options{Logger: log})
			if err != nil {
				return err
			}

			summaries := make([]userSummary, len(users))
			for i, u := range users {
				summaries[i] = summarizeUser(u)
			}
			return writeJSON(cmd.OutOrStdout(), summaries)
		},
	}
	cmd.Flags().StringSliceVar(&identityFiles, "identity", nil, "identity JSON file (repeatable)")
	return cmd
}

func newCaptureCmd(config *rtypes.Config) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Record the event log and contract answers for offline replays",
		RunE: func(cmd *cobra.Command, args []string) error {
			if config.DataSource != rtypes.DataSourceRPC {
				return fmt.Errorf("capture reads from the %q source", rtypes.DataSourceRPC)
			}
			log := config.NewLogger()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			src, err := openSource(ctx, config, log)
			if err != nil {
				return err
			}
			defer src.close()

			capture, err := replay.Record(ctx, src.fetcher, src.oracle, config.StartBlock)
			if err != nil {
				return err
			}
			capture.Contract = common.HexToAddress(config.Contract).Hex()
			if err := replay.SaveCapture(out, capture); err != nil {
				return err
			}
			log.Info().
				Str("path", out).
				Int("events", capture.Events.Len()).
				Uint64("toBlock", capture.Events.ToBlock).
				Msg("capture saved")
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "capture.json", "capture file to write")
	return cmd
}

// newSetupCmd compiles the transition binding circuit and writes its keys
// and Solidity verifier, for development networks.
func newSetupCmd(config *rtypes.Config) *cobra.Command {
	var (
		outDir                string
		attestationNullifiers int
		epochKeyNullifiers    int
	)
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Generate groth16 keys for the transition binding circuit",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := config.NewLogger()
			logger.Disable()

			if err := os.MkdirAll(outDir, 0755); err != nil {
				return err
			}

			log.Info().Msg("compiling TransitionBindingCircuit")
			ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder,
				circuit.NewTransitionBindingCircuit(attestationNullifiers, epochKeyNullifiers))
			if err != nil {
				return err
			}
			log.Info().
				Int("constraints", ccs.GetNbConstraints()).
				Int("publicInputs", ccs.GetNbPublicVariables()).
				Msg("compile complete")

			pk, vk, err := groth16.Setup(ccs)
			if err != nil {
				return err
			}
			if err := writeTo(filepath.Join(outDir, "TransitionBinding.ccs"), ccs.WriteTo); err != nil {
				return err
			}
			if err := writeTo(filepath.Join(outDir, "TransitionBinding.pk"), pk.WriteTo); err != nil {
				return err
			}
			if err := writeTo(filepath.Join(outDir, "TransitionBinding.vk"), vk.WriteTo); err != nil {
				return err
			}
			solPath := filepath.Join(outDir, "TransitionBindingVerifier.sol")
			f, err := os.Create(solPath)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := vk.ExportSolidity(f); err != nil {
				return err
			}
			log.Info().Str("dir", outDir).Msg("setup complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", ".build", "output directory")
	cmd.Flags().IntVar(&attestationNullifiers, "attestation-nullifiers", 5, "attestation nullifier slots per transition")
	cmd.Flags().IntVar(&epochKeyNullifiers, "epoch-key-nullifiers", 3, "epoch key nullifier slots per transition")
	return cmd
}

func writeTo(path string, write func(io.Writer) (int64, error)) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := write(f); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
