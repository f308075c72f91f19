package types

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Attestation is a reputation delta issued by an attester to an epoch key.
type Attestation struct {
	AttesterID        uint64     `json:"attesterId"`
	PosRep            uint64     `json:"posRep"`
	NegRep            uint64     `json:"negRep"`
	Graffiti          fr.Element `json:"graffiti"`
	OverwriteGraffiti bool       `json:"overwriteGraffiti"`
}

func (a *Attestation) Hash() fr.Element {
	return Hash5(
		FieldFromUint64(a.AttesterID),
		FieldFromUint64(a.PosRep),
		FieldFromUint64(a.NegRep),
		a.Graffiti,
		FieldFromBool(a.OverwriteGraffiti),
	)
}

// HashchainStep folds an attestation into the running hash chain of an epoch key.
func HashchainStep(chain fr.Element, att *Attestation) fr.Element {
	return HashLeftRight(att.Hash(), chain)
}

// SealHashchain terminates a hash chain with the end marker. The result is the
// epoch tree leaf of the epoch key.
func SealHashchain(chain fr.Element) fr.Element {
	return HashLeftRight(FieldFromUint64(1), chain)
}

// ComputeSealedHashchain folds atts in arrival order and seals the result.
func ComputeSealedHashchain(atts []Attestation) fr.Element {
	var chain fr.Element
	for i := range atts {
		chain = HashchainStep(chain, &atts[i])
	}
	return SealHashchain(chain)
}
