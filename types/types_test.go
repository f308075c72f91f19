package types

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/require"
)

func TestHashLeftRight_OrderMatters(t *testing.T) {
	a := FieldFromUint64(1)
	b := FieldFromUint64(2)

	ab := HashLeftRight(a, b)
	ba := HashLeftRight(b, a)
	require.False(t, ab.Equal(&ba))

	again := HashLeftRight(a, b)
	require.True(t, ab.Equal(&again))
}

func TestComputeSealedHashchain(t *testing.T) {
	atts := []Attestation{
		{AttesterID: 7, PosRep: 5},
		{AttesterID: 3, NegRep: 2, Graffiti: FieldFromUint64(99), OverwriteGraffiti: true},
	}

	var chain fr.Element
	chain = HashLeftRight(atts[0].Hash(), chain)
	chain = HashLeftRight(atts[1].Hash(), chain)
	expected := HashLeftRight(FieldFromUint64(1), chain)

	sealed := ComputeSealedHashchain(atts)
	require.True(t, expected.Equal(&sealed))

	// arrival order is part of the chain
	swapped := ComputeSealedHashchain([]Attestation{atts[1], atts[0]})
	require.False(t, sealed.Equal(&swapped))
}

func TestReputationApply(t *testing.T) {
	var rep Reputation
	rep.Apply(&Attestation{AttesterID: 7, PosRep: 5, Graffiti: FieldFromUint64(4)})
	require.Equal(t, uint64(5), rep.PosRep)
	require.True(t, rep.Graffiti.IsZero(), "graffiti kept without overwrite flag")

	rep.Apply(&Attestation{AttesterID: 7, PosRep: 1, NegRep: 3, Graffiti: FieldFromUint64(4), OverwriteGraffiti: true})
	require.Equal(t, uint64(6), rep.PosRep)
	require.Equal(t, uint64(3), rep.NegRep)
	g := FieldFromUint64(4)
	require.True(t, rep.Graffiti.Equal(&g))
}

func TestNullifierDomainsDiffer(t *testing.T) {
	id := FieldFromUint64(12345)
	epk := GenEpochKeyNullifier(id, 1, 1)
	att := GenAttestationNullifier(id, 1, 1)
	karma := GenKarmaNullifier(id, 1, 1)
	require.False(t, epk.Equal(&att))
	require.False(t, epk.Equal(&karma))
	require.False(t, att.Equal(&karma))
}

func TestParseKind(t *testing.T) {
	for _, k := range AllKinds {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		require.Equal(t, k, parsed)
	}

	_, err := ParseKind("VoteSubmitted")
	require.ErrorIs(t, err, ErrUnknownKind)

	var entry SequencerEntry
	err = json.Unmarshal([]byte(`{"kind":"EpochEnded","position":{"block":3,"index":1}}`), &entry)
	require.NoError(t, err)
	require.Equal(t, KindEpochSealed, entry.Kind)
	require.Equal(t, uint64(3), entry.Position.Block)
}

func TestSplitSolidityProof(t *testing.T) {
	raw := make([]byte, 8*fr.Bytes+4)
	for i := 0; i < 8; i++ {
		raw[(i+1)*fr.Bytes-1] = byte(i + 1)
	}
	proof, err := SplitSolidityProof(raw)
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		require.Equal(t, big.NewInt(int64(i+1)), proof[i])
	}

	_, err = SplitSolidityProof(raw[:100])
	require.Error(t, err)

	data := CreateProofData(proof)
	require.Len(t, data.Proof, 8)
	require.Equal(t, raw[:fr.Bytes], []byte(data.Proof[0]))
}

func TestFieldHex(t *testing.T) {
	e := FieldFromUint64(0xabcdef)
	parsed, err := FieldFromHex(FieldHex(e).String())
	require.NoError(t, err)
	require.True(t, e.Equal(&parsed))

	parsed, err = FieldFromHex("0xabcdef")
	require.NoError(t, err)
	require.True(t, e.Equal(&parsed))
}
