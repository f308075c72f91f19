package replay

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// UnirepABI is the subset of the contract interface a replica reads: the
// sequencer record, one event per sub-channel and the view methods behind
// the oracle.
const UnirepABI = `[
{"anonymous":false,"type":"event","name":"Sequencer","inputs":[
	{"indexed":false,"internalType":"string","name":"_event","type":"string"}]},
{"anonymous":false,"type":"event","name":"NewGSTLeafInserted","inputs":[
	{"indexed":true,"internalType":"uint256","name":"_epoch","type":"uint256"},
	{"indexed":false,"internalType":"uint256","name":"_hashedLeaf","type":"uint256"}]},
{"anonymous":false,"type":"event","name":"AttestationSubmitted","inputs":[
	{"indexed":true,"internalType":"uint256","name":"_epoch","type":"uint256"},
	{"indexed":true,"internalType":"uint256","name":"_epochKey","type":"uint256"},
	{"indexed":true,"internalType":"address","name":"_attester","type":"address"},
	{"indexed":false,"internalType":"struct Unirep.Attestation","name":"attestation","type":"tuple","components":[
		{"internalType":"uint256","name":"attesterId","type":"uint256"},
		{"internalType":"uint256","name":"posRep","type":"uint256"},
		{"internalType":"uint256","name":"negRep","type":"uint256"},
		{"internalType":"uint256","name":"graffiti","type":"uint256"},
		{"internalType":"bool","name":"overwriteGraffiti","type":"bool"}]}]},
{"anonymous":false,"type":"event","name":"PostSubmitted","inputs":[
	{"indexed":true,"internalType":"uint256","name":"_epoch","type":"uint256"},
	{"indexed":true,"internalType":"uint256","name":"_postId","type":"uint256"},
	{"indexed":true,"internalType":"uint256","name":"_epochKey","type":"uint256"},
	{"indexed":false,"internalType":"string","name":"_hashedContent","type":"string"}]},
{"anonymous":false,"type":"event","name":"CommentSubmitted","inputs":[
	{"indexed":true,"internalType":"uint256","name":"_epoch","type":"uint256"},
	{"indexed":true,"internalType":"uint256","name":"_postId","type":"uint256"},
	{"indexed":true,"internalType":"uint256","name":"_epochKey","type":"uint256"},
	{"indexed":false,"internalType":"uint256","name":"_commentId","type":"uint256"},
	{"indexed":false,"internalType":"string","name":"_hashedContent","type":"string"}]},
{"anonymous":false,"type":"event","name":"ReputationNullifierSubmitted","inputs":[
	{"indexed":true,"internalType":"uint256","name":"_epoch","type":"uint256"},
	{"indexed":true,"internalType":"uint256","name":"_epochKey","type":"uint256"},
	{"indexed":false,"internalType":"uint256[]","name":"karmaNullifiers","type":"uint256[]"}]},
{"anonymous":false,"type":"event","name":"EpochEnded","inputs":[
	{"indexed":true,"internalType":"uint256","name":"_epoch","type":"uint256"}]},
{"anonymous":false,"type":"event","name":"UserStateTransitioned","inputs":[
	{"indexed":true,"internalType":"uint256","name":"_epoch","type":"uint256"},
	{"indexed":false,"internalType":"struct Unirep.UserTransitionedRelated","name":"userTransitionedData","type":"tuple","components":[
		{"internalType":"uint256","name":"newGlobalStateTreeLeaf","type":"uint256"},
		{"internalType":"uint256[]","name":"attestationNullifiers","type":"uint256[]"},
		{"internalType":"uint256[]","name":"epkNullifiers","type":"uint256[]"},
		{"internalType":"uint256","name":"fromEpoch","type":"uint256"},
		{"internalType":"uint256","name":"fromGlobalStateTree","type":"uint256"},
		{"internalType":"uint256","name":"fromEpochTree","type":"uint256"},
		{"internalType":"uint256[8]","name":"proof","type":"uint256[8]"}]}]},
{"type":"function","name":"treeDepths","stateMutability":"view","inputs":[],"outputs":[
	{"internalType":"uint8","name":"globalStateTreeDepth","type":"uint8"},
	{"internalType":"uint8","name":"userStateTreeDepth","type":"uint8"},
	{"internalType":"uint8","name":"epochTreeDepth","type":"uint8"},
	{"internalType":"uint8","name":"nullifierTreeDepth","type":"uint8"}]},
{"type":"function","name":"numEpochKeyNoncePerEpoch","stateMutability":"view","inputs":[],"outputs":[
	{"internalType":"uint8","name":"","type":"uint8"}]},
{"type":"function","name":"getEpochTreeLeaves","stateMutability":"view","inputs":[
	{"internalType":"uint256","name":"epoch","type":"uint256"}],"outputs":[
	{"internalType":"uint256[]","name":"epochKeyList","type":"uint256[]"},
	{"internalType":"uint256[]","name":"epochKeyHashChainList","type":"uint256[]"}]},
{"type":"function","name":"verifyUserStateTransition","stateMutability":"view","inputs":[
	{"internalType":"uint256","name":"_newGlobalStateTreeLeaf","type":"uint256"},
	{"internalType":"uint256[]","name":"_attestationNullifiers","type":"uint256[]"},
	{"internalType":"uint256[]","name":"_epkNullifiers","type":"uint256[]"},
	{"internalType":"uint256","name":"_transitionFromEpoch","type":"uint256"},
	{"internalType":"uint256","name":"_fromGlobalStateTree","type":"uint256"},
	{"internalType":"uint256","name":"_fromEpochTree","type":"uint256"},
	{"internalType":"uint256[8]","name":"_proof","type":"uint256[8]"}],"outputs":[
	{"internalType":"bool","name":"","type":"bool"}]}
]`

var contractABI = mustParseABI(UnirepABI)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Contract-side event names. The sequencer uses its own names for some of
// them, see types.Kind.
const (
	eventSequencer       = "Sequencer"
	eventNewGSTLeaf      = "NewGSTLeafInserted"
	eventAttestation     = "AttestationSubmitted"
	eventPost            = "PostSubmitted"
	eventComment         = "CommentSubmitted"
	eventKarmaNullifiers = "ReputationNullifierSubmitted"
	eventEpochEnded      = "EpochEnded"
	eventTransitioned    = "UserStateTransitioned"
)

// Go mirrors of the tuples carried by the events. Field names follow the
// abi component names so abi.ConvertType can copy into them.
type attestationTuple struct {
	AttesterId        *big.Int
	PosRep            *big.Int
	NegRep            *big.Int
	Graffiti          *big.Int
	OverwriteGraffiti bool
}

type transitionTuple struct {
	NewGlobalStateTreeLeaf *big.Int
	AttestationNullifiers  []*big.Int
	EpkNullifiers          []*big.Int
	FromEpoch              *big.Int
	FromGlobalStateTree    *big.Int
	FromEpochTree          *big.Int
	Proof                  [8]*big.Int
}

type treeDepths struct {
	GlobalStateTreeDepth uint8
	UserStateTreeDepth   uint8
	EpochTreeDepth       uint8
	NullifierTreeDepth   uint8
}

type epochTreeLeaves struct {
	EpochKeyList          []*big.Int
	EpochKeyHashChainList []*big.Int
}
