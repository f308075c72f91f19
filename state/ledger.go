package state

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/kysee/zk-unirep/types"
)

// AttestationLedger keeps, for the open epoch, one running hash chain per
// epoch key. Chains fold attestations in arrival order.
type AttestationLedger struct {
	epoch        uint64
	chains       map[uint64]fr.Element
	attestations map[uint64][]types.Attestation
	// unreduced key that first claimed each index
	raw map[uint64]*big.Int
	// epoch keys in first-attested order
	keys []uint64
}

func NewAttestationLedger(epoch uint64) *AttestationLedger {
	return &AttestationLedger{
		epoch:        epoch,
		chains:       make(map[uint64]fr.Element),
		attestations: make(map[uint64][]types.Attestation),
		raw:          make(map[uint64]*big.Int),
	}
}

func (l *AttestationLedger) Epoch() uint64 {
	return l.epoch
}

// Add folds att into the chain of epochKey, the reduced form of raw. The
// contract keeps one chain per raw key, so a second raw key reducing to the
// same index is a consistency fault and nothing is recorded.
func (l *AttestationLedger) Add(epochKey uint64, raw *big.Int, att types.Attestation) error {
	if raw == nil {
		raw = new(big.Int)
	}
	chain, ok := l.chains[epochKey]
	if !ok {
		l.keys = append(l.keys, epochKey)
		l.raw[epochKey] = new(big.Int).Set(raw)
	} else if owner := l.raw[epochKey]; owner.Cmp(raw) != 0 {
		return fmt.Errorf("%w: epoch keys %s and %s share epoch tree index %d",
			ErrConsistencyFault, owner, raw, epochKey)
	}
	l.chains[epochKey] = types.HashchainStep(chain, &att)
	l.attestations[epochKey] = append(l.attestations[epochKey], att)
	return nil
}

// RawEpochKey returns the unreduced key recorded for epochKey.
func (l *AttestationLedger) RawEpochKey(epochKey uint64) (*big.Int, bool) {
	raw, ok := l.raw[epochKey]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(raw), true
}

// Hashchain returns the unsealed chain of epochKey.
func (l *AttestationLedger) Hashchain(epochKey uint64) (fr.Element, bool) {
	chain, ok := l.chains[epochKey]
	return chain, ok
}

// Sealed returns the chain of epochKey terminated with the end marker.
func (l *AttestationLedger) Sealed(epochKey uint64) (fr.Element, bool) {
	chain, ok := l.chains[epochKey]
	if !ok {
		return fr.Element{}, false
	}
	return types.SealHashchain(chain), true
}

func (l *AttestationLedger) EpochKeys() []uint64 {
	return append([]uint64(nil), l.keys...)
}

func (l *AttestationLedger) Attestations(epochKey uint64) []types.Attestation {
	return append([]types.Attestation(nil), l.attestations[epochKey]...)
}

func (l *AttestationLedger) Len() int {
	return len(l.keys)
}
