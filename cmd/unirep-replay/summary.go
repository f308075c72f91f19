package main

import (
	"encoding/json"
	"io"

	"github.com/kysee/zk-unirep/replay"
	"github.com/kysee/zk-unirep/state"
	"github.com/kysee/zk-unirep/types"
)

type replicaSummary struct {
	Contract            string                    `json:"contract"`
	LastBlock           uint64                    `json:"lastBlock"`
	Resumed             bool                      `json:"resumed"`
	CurrentEpoch        uint64                    `json:"currentEpoch"`
	GlobalStateRoot     types.HexBytes            `json:"globalStateRoot"`
	GlobalStateLeaves   int                       `json:"globalStateLeaves"`
	NullifierRoot       types.HexBytes            `json:"nullifierRoot"`
	EpochTreeRoots      map[uint64]types.HexBytes `json:"epochTreeRoots"`
	Transitions         int                       `json:"transitions"`
	ProofsRejected      int                       `json:"proofsRejected"`
	DuplicateNullifiers int                       `json:"duplicateNullifiers"`
	Users               []userSummary             `json:"users,omitempty"`
}

type reputationSummary struct {
	AttesterID uint64         `json:"attesterId"`
	PosRep     uint64         `json:"posRep"`
	NegRep     uint64         `json:"negRep"`
	Graffiti   types.HexBytes `json:"graffiti"`
}

type userSummary struct {
	Commitment              types.HexBytes      `json:"commitment"`
	SignedUp                bool                `json:"signedUp"`
	LatestTransitionedEpoch uint64              `json:"latestTransitionedEpoch,omitempty"`
	GlobalStateLeafIndex    uint64              `json:"globalStateLeafIndex,omitempty"`
	GlobalStateLeaf         types.HexBytes      `json:"globalStateLeaf,omitempty"`
	PosKarma                uint64              `json:"posKarma"`
	NegKarma                uint64              `json:"negKarma"`
	ReputationRoot          types.HexBytes      `json:"reputationRoot"`
	Reputation              []reputationSummary `json:"reputation,omitempty"`
	History                 []state.Transition  `json:"history,omitempty"`
}

func summarizeUnirep(contract string, unirep *state.UnirepState, stats replay.Stats) *replicaSummary {
	s := &replicaSummary{
		Contract:            contract,
		CurrentEpoch:        unirep.CurrentEpoch(),
		GlobalStateRoot:     types.FieldHex(unirep.GlobalStateRoot()),
		GlobalStateLeaves:   len(unirep.GlobalStateLeaves()),
		NullifierRoot:       types.FieldHex(unirep.NullifierRoot()),
		EpochTreeRoots:      make(map[uint64]types.HexBytes),
		Transitions:         stats.Transitions,
		ProofsRejected:      stats.ProofsRejected,
		DuplicateNullifiers: stats.DuplicateNullifiers,
	}
	for _, epoch := range unirep.SealedEpochs() {
		root, _ := unirep.EpochTreeRoot(epoch)
		s.EpochTreeRoots[epoch] = types.FieldHex(root)
	}
	return s
}

func summarizeUser(user *state.UserState) userSummary {
	s := userSummary{
		Commitment:     types.FieldHex(user.Identity().Commitment),
		SignedUp:       user.SignedUp(),
		ReputationRoot: types.FieldHex(user.ReputationRoot()),
		History:        user.History(),
	}
	s.PosKarma, s.NegKarma = user.Karma()
	if user.SignedUp() {
		s.LatestTransitionedEpoch = user.LatestTransitionedEpoch()
		s.GlobalStateLeafIndex = user.LatestGlobalLeafIndex()
		if leaf, err := user.GlobalStateLeaf(); err == nil {
			s.GlobalStateLeaf = types.FieldHex(leaf)
		}
	}
	for _, r := range user.Records() {
		s.Reputation = append(s.Reputation, reputationSummary{
			AttesterID: r.AttesterID,
			PosRep:     r.PosRep,
			NegRep:     r.NegRep,
			Graffiti:   types.FieldHex(r.Graffiti),
		})
	}
	return s
}

func summarizeResult(contract string, res *replay.Result) *replicaSummary {
	s := summarizeUnirep(contract, res.Unirep, res.Stats)
	s.LastBlock = res.LastBlock
	s.Resumed = res.Resumed
	for _, u := range res.Users {
		s.Users = append(s.Users, summarizeUser(u))
	}
	return s
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
