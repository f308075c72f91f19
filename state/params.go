package state

import (
	"fmt"

	"github.com/kysee/zk-unirep/trees"
)

// Params are the contract-side tree parameters plus the protocol constants a
// replica needs to rebuild leaves.
type Params struct {
	GlobalStateTreeDepth     uint8  `json:"globalStateTreeDepth"`
	UserStateTreeDepth       uint8  `json:"userStateTreeDepth"`
	EpochTreeDepth           uint8  `json:"epochTreeDepth"`
	NullifierTreeDepth       uint8  `json:"nullifierTreeDepth"`
	NumEpochKeyNoncePerEpoch uint8  `json:"numEpochKeyNoncePerEpoch"`
	DefaultKarma             uint64 `json:"defaultKarma"`
	StartEpoch               uint64 `json:"startEpoch"`
}

const DefaultAirdroppedKarma = 30

func DefaultParams() Params {
	return Params{
		GlobalStateTreeDepth:     16,
		UserStateTreeDepth:       16,
		EpochTreeDepth:           32,
		NullifierTreeDepth:       64,
		NumEpochKeyNoncePerEpoch: 3,
		DefaultKarma:             DefaultAirdroppedKarma,
	}
}

func (p Params) Validate() error {
	depths := map[string]uint8{
		"global state": p.GlobalStateTreeDepth,
		"user state":   p.UserStateTreeDepth,
		"epoch":        p.EpochTreeDepth,
		"nullifier":    p.NullifierTreeDepth,
	}
	for name, d := range depths {
		if d == 0 || d > trees.MaxDepth {
			return fmt.Errorf("%s tree depth %d: %w", name, d, trees.ErrDepth)
		}
	}
	if p.NumEpochKeyNoncePerEpoch == 0 {
		return fmt.Errorf("numEpochKeyNoncePerEpoch must be positive")
	}
	return nil
}
