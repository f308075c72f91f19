package types

import (
	"fmt"
	"math/big"

	bn254_fr "github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// SolidityProof is a groth16 proof as the contract receives it:
// A (x, y), B (x.a1, x.a0, y.a1, y.a0), C (x, y).
type SolidityProof [8]*big.Int

// SplitSolidityProof cuts the A, B, C words out of gnark's MarshalSolidity
// output. Commitment words that may follow are ignored.
func SplitSolidityProof(proofSolidity []byte) (SolidityProof, error) {
	var proof SolidityProof
	if len(proofSolidity) < len(proof)*bn254_fr.Bytes {
		return proof, fmt.Errorf("solidity proof too short: %d bytes", len(proofSolidity))
	}
	for i := 0; i < len(proof); i++ {
		proof[i] = new(big.Int).SetBytes(proofSolidity[i*bn254_fr.Bytes : (i+1)*bn254_fr.Bytes])
	}
	return proof, nil
}

// ProofData is the JSON form of a proof written next to replay outputs.
type ProofData struct {
	Proof []HexBytes `json:"proof"`
}

func CreateProofData(proof SolidityProof) *ProofData {
	words := make([]HexBytes, len(proof))
	for i, w := range proof {
		buf := make([]byte, bn254_fr.Bytes)
		if w != nil {
			w.FillBytes(buf)
		}
		words[i] = buf
	}
	return &ProofData{Proof: words}
}
