package circuit

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"

	"github.com/kysee/zk-unirep/types"
)

// TransitionBindingCircuit proves knowledge of the MiMC digest of a
// transition's public inputs. It shares the public layout of the real
// transition circuit, so keys set up from it exercise the whole verifier
// path on development networks.
type TransitionBindingCircuit struct {
	UserStateTransitionPublic

	Digest frontend.Variable
}

func NewTransitionBindingCircuit(nbAttestationNullifiers, nbEpochKeyNullifiers int) *TransitionBindingCircuit {
	return &TransitionBindingCircuit{
		UserStateTransitionPublic: NewUserStateTransitionPublic(nbAttestationNullifiers, nbEpochKeyNullifiers),
	}
}

func (c *TransitionBindingCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return fmt.Errorf("failed to create mimc: %w", err)
	}
	h.Write(c.Inputs()...)
	api.AssertIsEqual(c.Digest, h.Sum())
	return nil
}

// AssignTransitionBinding builds the full witness of ev.
func AssignTransitionBinding(ev *types.UserStateTransitionedEvent) *TransitionBindingCircuit {
	elems := []fr.Element{ev.NewGlobalStateLeaf}
	for _, n := range ev.AttestationNullifiers {
		elems = append(elems, types.FieldFromBig(n))
	}
	for _, n := range ev.EpochKeyNullifiers {
		elems = append(elems, types.FieldFromBig(n))
	}
	elems = append(elems,
		types.FieldFromUint64(ev.FromEpoch),
		ev.FromGlobalStateRoot,
		ev.FromEpochAccumulatorRoot,
	)

	return &TransitionBindingCircuit{
		UserStateTransitionPublic: AssignUserStateTransitionPublic(ev),
		Digest:                    types.FieldToBig(types.HashElements(elems...)),
	}
}
