package shard

import (
	"errors"
)

var (
	// ErrNotReady indicates that the shard has not received a schema context yet
	ErrNotReady = errors.New("shard has no schema context yet")
	// ErrClosed indicates that the shard was closed
	ErrClosed = errors.New("shard is closed")
	// ErrUnknownTransaction indicates that the shard holds no commit for the transaction
	ErrUnknownTransaction = errors.New("shard holds no commit for this transaction")
	// ErrInvalidState indicates that a commit request arrived out of order
	ErrInvalidState = errors.New("commit is not in a state that allows this request")
	// ErrAborted indicates that a queued commit was aborted before it could vote
	ErrAborted = errors.New("commit was aborted")
	// ErrExpired indicates that a commit stopped making progress and was aborted by the shard
	ErrExpired = errors.New("commit expired")
)
