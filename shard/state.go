package shard

import (
	"fmt"
)

// State is the lifecycle state of a shard. The commit
// states describe the commit at the head of the queue.
type State int32

const (
	// StateUninitialized means no schema context was applied yet
	StateUninitialized State = iota
	// StateReady means the shard serves requests and has no active commit
	StateReady
	// StateCanCommitPending means the active commit voted yes and waits for preCommit
	StateCanCommitPending
	// StatePreCommitPending means the active commit is staged and waits for commit
	StatePreCommitPending
	// StateCommitting means the active commit is being applied
	StateCommitting
	// StateAborting means the active commit is being dropped
	StateAborting
	// StateClosed means the shard stopped
	StateClosed
)

func (state State) String() string {
	switch state {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateCanCommitPending:
		return "can-commit-pending"
	case StatePreCommitPending:
		return "pre-commit-pending"
	case StateCommitting:
		return "committing"
	case StateAborting:
		return "aborting"
	case StateClosed:
		return "closed"
	}

	return fmt.Sprintf("State(%d)", int32(state))
}
