package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

var ErrUnknownKind = errors.New("unknown event kind")

// Kind names the sub-channel an entry of the sequencer record points to.
// The set is closed; names outside it are rejected by ParseKind.
type Kind uint8

const (
	KindSignUp Kind = iota + 1
	KindAttestation
	KindPostRecorded
	KindCommentRecorded
	KindKarmaNullifiersSubmitted
	KindEpochSealed
	KindUserStateTransitioned
)

// AllKinds lists every kind in sub-channel order.
var AllKinds = []Kind{
	KindSignUp,
	KindAttestation,
	KindPostRecorded,
	KindCommentRecorded,
	KindKarmaNullifiersSubmitted,
	KindEpochSealed,
	KindUserStateTransitioned,
}

// contract-side names carried by the Sequencer event
var kindNames = map[Kind]string{
	KindSignUp:                   "UserSignUp",
	KindAttestation:              "AttestationSubmitted",
	KindPostRecorded:             "PostSubmitted",
	KindCommentRecorded:          "CommentSubmitted",
	KindKarmaNullifiersSubmitted: "ReputationNullifierSubmitted",
	KindEpochSealed:              "EpochEnded",
	KindUserStateTransitioned:    "UserStateTransitioned",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

func (k Kind) MarshalJSON() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseKind(name)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// LogPosition locates an event in the contract log.
type LogPosition struct {
	Block uint64 `json:"block"`
	Index uint   `json:"index"`
}

func (p LogPosition) Less(o LogPosition) bool {
	if p.Block != o.Block {
		return p.Block < o.Block
	}
	return p.Index < o.Index
}

type SequencerEntry struct {
	Kind     Kind        `json:"kind"`
	Position LogPosition `json:"position"`
}

type SignUpEvent struct {
	Position        LogPosition `json:"position"`
	Epoch           uint64      `json:"epoch"`
	GlobalStateLeaf fr.Element  `json:"globalStateLeaf"`
}

type AttestationEvent struct {
	Position    LogPosition `json:"position"`
	Epoch       uint64      `json:"epoch"`
	EpochKey    *big.Int    `json:"epochKey"`
	Attestation Attestation `json:"attestation"`
}

// PostEvent and CommentEvent are ledger-only: they are consumed in order and
// checked against the current epoch, but never touch an accumulator.
type PostEvent struct {
	Position LogPosition `json:"position"`
	Epoch    uint64      `json:"epoch"`
	PostID   *big.Int    `json:"postId"`
	EpochKey *big.Int    `json:"epochKey"`
}

type CommentEvent struct {
	Position  LogPosition `json:"position"`
	Epoch     uint64      `json:"epoch"`
	PostID    *big.Int    `json:"postId"`
	CommentID *big.Int    `json:"commentId"`
	EpochKey  *big.Int    `json:"epochKey"`
}

type KarmaNullifiersEvent struct {
	Position   LogPosition `json:"position"`
	Epoch      uint64      `json:"epoch"`
	EpochKey   *big.Int    `json:"epochKey"`
	Nullifiers []*big.Int  `json:"nullifiers"`
}

type EpochSealedEvent struct {
	Position LogPosition `json:"position"`
	Epoch    uint64      `json:"epoch"`
}

// UserStateTransitionedEvent carries the public inputs and the proof of a
// user state transition.
type UserStateTransitionedEvent struct {
	Position                 LogPosition   `json:"position"`
	Epoch                    uint64        `json:"epoch"`
	NewGlobalStateLeaf       fr.Element    `json:"newGlobalStateLeaf"`
	AttestationNullifiers    []*big.Int    `json:"attestationNullifiers"`
	EpochKeyNullifiers       []*big.Int    `json:"epochKeyNullifiers"`
	FromEpoch                uint64        `json:"fromEpoch"`
	FromGlobalStateRoot      fr.Element    `json:"fromGlobalStateRoot"`
	FromEpochAccumulatorRoot fr.Element    `json:"fromEpochAccumulatorRoot"`
	Proof                    SolidityProof `json:"proof"`
}

// Nullifiers returns attestation nullifiers followed by epoch key nullifiers.
func (ev *UserStateTransitionedEvent) Nullifiers() []*big.Int {
	all := make([]*big.Int, 0, len(ev.AttestationNullifiers)+len(ev.EpochKeyNullifiers))
	all = append(all, ev.AttestationNullifiers...)
	return append(all, ev.EpochKeyNullifiers...)
}

// EpochTreeLeaf is one sealed (epoch key, hash chain) pair reported by the contract.
type EpochTreeLeaf struct {
	EpochKey  *big.Int   `json:"epochKey"`
	Hashchain fr.Element `json:"hashchain"`
}
