package types

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Identity holds the secret and public parts of a protocol identity. The
// commitment is produced elsewhere and only carried here.
type Identity struct {
	Nullifier  fr.Element `json:"identityNullifier"`
	Trapdoor   fr.Element `json:"identityTrapdoor"`
	Commitment fr.Element `json:"identityCommitment"`
}

// GenEpochKey returns the unreduced epoch key of (identity, epoch, nonce).
// Callers reduce it into the epoch tree address space.
func GenEpochKey(idNullifier fr.Element, epoch uint64, nonce uint8) fr.Element {
	return Hash5(
		idNullifier,
		FieldFromUint64(epoch),
		FieldFromUint64(uint64(nonce)),
		fr.Element{},
		fr.Element{},
	)
}

func GenEpochKeyNullifier(idNullifier fr.Element, epoch uint64, nonce uint8) fr.Element {
	return Hash5(
		EpochKeyNullifierDomain,
		idNullifier,
		FieldFromUint64(epoch),
		FieldFromUint64(uint64(nonce)),
		fr.Element{},
	)
}

func GenAttestationNullifier(idNullifier fr.Element, attesterID uint64, epoch uint64) fr.Element {
	return Hash5(
		AttestationNullifierDomain,
		idNullifier,
		FieldFromUint64(attesterID),
		FieldFromUint64(epoch),
		fr.Element{},
	)
}

// GenKarmaNullifier derives the nullifier spent when an identity uses one unit
// of karma in an epoch.
func GenKarmaNullifier(idNullifier fr.Element, epoch uint64, nonce uint64) fr.Element {
	return Hash5(
		KarmaNullifierDomain,
		idNullifier,
		FieldFromUint64(epoch),
		FieldFromUint64(nonce),
		fr.Element{},
	)
}
