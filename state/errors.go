package state

import (
	"errors"
	"fmt"
)

// Fatal faults abort a replay; the observers that saw them must be discarded.
var (
	ErrSequenceFault     = errors.New("event sequence fault")
	ErrUnprocessedEvents = fmt.Errorf("%w: events left unprocessed", ErrSequenceFault)
	ErrEpochMismatch     = errors.New("epoch mismatch")
	ErrConsistencyFault  = errors.New("consistency fault")
	ErrNotSignedUp       = errors.New("identity did not sign up")
)

// Recoverable faults skip a single transition event.
var (
	ErrProofRejected      = errors.New("user state transition proof rejected")
	ErrDuplicateNullifier = errors.New("nullifier already seen")
)

// IsFatal reports whether err must abort a replay.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrProofRejected) && !errors.Is(err, ErrDuplicateNullifier)
}

func epochMismatch(what string, got, current uint64) error {
	return fmt.Errorf("%w: %s epoch (%d) does not match current epoch (%d)", ErrEpochMismatch, what, got, current)
}
