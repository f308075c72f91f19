// Package verifiers checks user state transition proofs locally.
package verifiers

import (
	"context"
	"fmt"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark/backend/groth16"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/frontend"
	"github.com/rs/zerolog"

	circuit "github.com/kysee/zk-unirep/circuits"
	rtypes "github.com/kysee/zk-unirep/replay/types"
	"github.com/kysee/zk-unirep/types"
)

// Groth16Oracle answers proof questions with a local groth16 verifier and
// forwards everything else to the wrapped oracle.
type Groth16Oracle struct {
	rtypes.Oracle

	vk     groth16.VerifyingKey
	logger zerolog.Logger
}

func NewGroth16Oracle(base rtypes.Oracle, vk groth16.VerifyingKey, logger zerolog.Logger) *Groth16Oracle {
	return &Groth16Oracle{
		Oracle: base,
		vk:     vk,
		logger: logger.With().Str("module", "groth16-verifier").Logger(),
	}
}

// LoadVerifyingKey reads a BN254 verifying key written by VerifyingKey.WriteTo.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open verifying key: %w", err)
	}
	defer f.Close()

	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("failed to read verifying key %s: %w", path, err)
	}
	return vk, nil
}

// VerifyUserStateTransition never fails: a proof that cannot be decoded or
// does not verify against the event's public inputs is rejected.
func (o *Groth16Oracle) VerifyUserStateTransition(ctx context.Context, ev *types.UserStateTransitionedEvent) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	proof, err := ProofFromSolidity(ev.Proof)
	if err != nil {
		o.reject(ev, err)
		return false, nil
	}

	assignment := circuit.AssignUserStateTransitionPublic(ev)
	publicWitness, err := frontend.NewWitness(&assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		o.reject(ev, err)
		return false, nil
	}
	if err := groth16.Verify(proof, o.vk, publicWitness); err != nil {
		o.reject(ev, err)
		return false, nil
	}
	return true, nil
}

func (o *Groth16Oracle) reject(ev *types.UserStateTransitionedEvent, err error) {
	o.logger.Debug().
		Err(err).
		Uint64("block", ev.Position.Block).
		Uint("logIndex", ev.Position.Index).
		Msg("transition proof rejected")
}

// ProofFromSolidity rebuilds a proof from the eight words of
// MarshalSolidity. Non-canonical coordinates and points off the curve or
// outside the prime subgroup are refused.
func ProofFromSolidity(words types.SolidityProof) (*groth16_bn254.Proof, error) {
	modulus := fp.Modulus()
	for i, w := range words {
		if w == nil {
			return nil, fmt.Errorf("proof word %d missing", i)
		}
		if w.Sign() < 0 || w.Cmp(modulus) >= 0 {
			return nil, fmt.Errorf("proof word %d is not a base field element", i)
		}
	}

	var proof groth16_bn254.Proof
	proof.Ar.X.SetBigInt(words[0])
	proof.Ar.Y.SetBigInt(words[1])
	proof.Bs.X.A1.SetBigInt(words[2])
	proof.Bs.X.A0.SetBigInt(words[3])
	proof.Bs.Y.A1.SetBigInt(words[4])
	proof.Bs.Y.A0.SetBigInt(words[5])
	proof.Krs.X.SetBigInt(words[6])
	proof.Krs.Y.SetBigInt(words[7])

	if !proof.Ar.IsOnCurve() || !proof.Ar.IsInSubGroup() {
		return nil, fmt.Errorf("proof point A is not in G1")
	}
	if !proof.Bs.IsOnCurve() || !proof.Bs.IsInSubGroup() {
		return nil, fmt.Errorf("proof point B is not in G2")
	}
	if !proof.Krs.IsOnCurve() || !proof.Krs.IsInSubGroup() {
		return nil, fmt.Errorf("proof point C is not in G1")
	}
	return &proof, nil
}
