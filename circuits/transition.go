package circuit

import (
	"math/big"

	"github.com/consensys/gnark/frontend"

	"github.com/kysee/zk-unirep/types"
)

// UserStateTransitionPublic is the public input vector of a user state
// transition proof, in the order the contract verifier reads it.
type UserStateTransitionPublic struct {
	NewGlobalStateLeaf    frontend.Variable   `gnark:",public"`
	AttestationNullifiers []frontend.Variable `gnark:",public"`
	EpochKeyNullifiers    []frontend.Variable `gnark:",public"`
	FromEpoch             frontend.Variable   `gnark:",public"`
	FromGlobalStateRoot   frontend.Variable   `gnark:",public"`
	FromEpochTreeRoot     frontend.Variable   `gnark:",public"`
}

// NewUserStateTransitionPublic allocates the layout for compilation.
func NewUserStateTransitionPublic(nbAttestationNullifiers, nbEpochKeyNullifiers int) UserStateTransitionPublic {
	return UserStateTransitionPublic{
		AttestationNullifiers: make([]frontend.Variable, nbAttestationNullifiers),
		EpochKeyNullifiers:    make([]frontend.Variable, nbEpochKeyNullifiers),
	}
}

// AssignUserStateTransitionPublic fills the layout from the inputs an event carries.
func AssignUserStateTransitionPublic(ev *types.UserStateTransitionedEvent) UserStateTransitionPublic {
	p := NewUserStateTransitionPublic(len(ev.AttestationNullifiers), len(ev.EpochKeyNullifiers))
	p.NewGlobalStateLeaf = types.FieldToBig(ev.NewGlobalStateLeaf)
	for i, n := range ev.AttestationNullifiers {
		p.AttestationNullifiers[i] = types.FieldToBig(types.FieldFromBig(n))
	}
	for i, n := range ev.EpochKeyNullifiers {
		p.EpochKeyNullifiers[i] = types.FieldToBig(types.FieldFromBig(n))
	}
	p.FromEpoch = new(big.Int).SetUint64(ev.FromEpoch)
	p.FromGlobalStateRoot = types.FieldToBig(ev.FromGlobalStateRoot)
	p.FromEpochTreeRoot = types.FieldToBig(ev.FromEpochAccumulatorRoot)
	return p
}

// Define adds no constraints: the layout only fixes the public vector.
func (p *UserStateTransitionPublic) Define(api frontend.API) error {
	return nil
}

// Inputs lists the public variables in verifier order.
func (p *UserStateTransitionPublic) Inputs() []frontend.Variable {
	inputs := make([]frontend.Variable, 0, 4+len(p.AttestationNullifiers)+len(p.EpochKeyNullifiers))
	inputs = append(inputs, p.NewGlobalStateLeaf)
	inputs = append(inputs, p.AttestationNullifiers...)
	inputs = append(inputs, p.EpochKeyNullifiers...)
	return append(inputs, p.FromEpoch, p.FromGlobalStateRoot, p.FromEpochTreeRoot)
}
