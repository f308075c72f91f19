package types

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// Domain separators mixed into nullifier derivations so that an epoch key
// nullifier can never collide with an attestation nullifier of the same inputs.
var (
	EpochKeyNullifierDomain    = FieldFromUint64(1)
	AttestationNullifierDomain = FieldFromUint64(2)
	KarmaNullifierDomain       = FieldFromUint64(3)
)

// HashLeftRight hashes a pair of field elements. It is the node hash of every
// accumulator and the step function of attestation hash chains.
func HashLeftRight(left, right fr.Element) fr.Element {
	return HashElements(left, right)
}

// Hash5 hashes five field elements. Leaves (global state, reputation,
// attestation) and all derived identifiers use it.
func Hash5(a, b, c, d, e fr.Element) fr.Element {
	return HashElements(a, b, c, d, e)
}

// HashElements is the MiMC sponge over elems, each absorbed as its 32-byte
// canonical encoding. It matches gnark's in-circuit std/hash/mimc.
func HashElements(elems ...fr.Element) fr.Element {
	h := mimc.NewMiMC()
	for i := range elems {
		b := elems[i].Bytes()
		// canonical encodings are always below the modulus, Write cannot fail
		_, _ = h.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

func FieldFromUint64(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)
	return e
}

// FieldFromBig reduces v into the scalar field.
func FieldFromBig(v *big.Int) fr.Element {
	var e fr.Element
	if v != nil {
		e.SetBigInt(v)
	}
	return e
}

func FieldToBig(e fr.Element) *big.Int {
	return e.BigInt(new(big.Int))
}

func FieldFromBool(b bool) fr.Element {
	if b {
		return FieldFromUint64(1)
	}
	return fr.Element{}
}
