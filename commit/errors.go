package commit

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrVoteRejected indicates that a participant voted against committing
	ErrVoteRejected = errors.New("transaction cannot commit")
	// ErrPhaseTimeout indicates that a phase did not finish in time
	ErrPhaseTimeout = errors.New("commit phase timed out")
	// ErrPartialCommit indicates that some participants failed to commit
	// after every participant pre-committed. The participants disagree and
	// need to be reconciled by an operator.
	ErrPartialCommit = errors.New("transaction was committed by only some participants")
	// ErrProtocolViolation indicates that a phase was requested out of order
	ErrProtocolViolation = errors.New("commit phase requested out of order")
)

// VoteRejectedError is returned when canCommit is not unanimous
type VoteRejectedError struct {
	TransactionID string
	// Shards lists the participants that voted no or failed to vote
	Shards []string
	// Err holds the failures of participants that could not vote, if any
	Err error
}

func (err *VoteRejectedError) Error() string {
	msg := fmt.Sprintf("transaction %s cannot commit: rejected by %s", err.TransactionID, strings.Join(err.Shards, ", "))

	if err.Err != nil {
		msg += ": " + err.Err.Error()
	}

	return msg
}

// Is makes errors.Is(err, ErrVoteRejected) hold
func (err *VoteRejectedError) Is(target error) bool {
	return target == ErrVoteRejected
}

// Unwrap returns the participant failures
func (err *VoteRejectedError) Unwrap() error {
	return err.Err
}

// PhaseTimeoutError is returned when a phase exceeds the deadline of its context
type PhaseTimeoutError struct {
	TransactionID string
	Phase         Phase
	// Shards lists the participants that did not answer in time
	Shards []string
}

func (err *PhaseTimeoutError) Error() string {
	return fmt.Sprintf("%s of transaction %s timed out waiting for %s", err.Phase, err.TransactionID, strings.Join(err.Shards, ", "))
}

// Is makes errors.Is(err, ErrPhaseTimeout) hold
func (err *PhaseTimeoutError) Is(target error) bool {
	return target == ErrPhaseTimeout
}

// Unwrap returns context.DeadlineExceeded
func (err *PhaseTimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// PartialCommitError is returned when commit fails on some participants
type PartialCommitError struct {
	TransactionID string
	Committed     []string
	Failed        []string
	Err           error
}

func (err *PartialCommitError) Error() string {
	return fmt.Sprintf(
		"transaction %s committed on [%s] but failed on [%s]: %s",
		err.TransactionID,
		strings.Join(err.Committed, ", "),
		strings.Join(err.Failed, ", "),
		err.Err,
	)
}

// Is makes errors.Is(err, ErrPartialCommit) hold
func (err *PartialCommitError) Is(target error) bool {
	return target == ErrPartialCommit
}

// Unwrap returns the participant failures
func (err *PartialCommitError) Unwrap() error {
	return err.Err
}
