package types

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Reputation is what one attester gave one identity, summed over epochs.
type Reputation struct {
	PosRep   uint64     `json:"posRep"`
	NegRep   uint64     `json:"negRep"`
	Graffiti fr.Element `json:"graffiti"`
}

func (r *Reputation) Hash() fr.Element {
	return Hash5(
		FieldFromUint64(r.PosRep),
		FieldFromUint64(r.NegRep),
		r.Graffiti,
		fr.Element{},
		fr.Element{},
	)
}

// Apply adds an attestation to the record.
func (r *Reputation) Apply(att *Attestation) {
	r.PosRep += att.PosRep
	r.NegRep += att.NegRep
	if att.OverwriteGraffiti {
		r.Graffiti = att.Graffiti
	}
}

// GlobalStateLeaf is the global state tree leaf of an identity snapshot.
func GlobalStateLeaf(commitment, reputationRoot fr.Element, posKarma, negKarma uint64) fr.Element {
	return Hash5(
		commitment,
		reputationRoot,
		FieldFromUint64(posKarma),
		FieldFromUint64(negKarma),
		fr.Element{},
	)
}
