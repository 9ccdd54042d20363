package datastore

import (
	"errors"
)

var (
	// ErrTransactionReady indicates that the transaction was already handed to its cohort
	ErrTransactionReady = errors.New("transaction is ready")
	// ErrTransactionClosed indicates that the transaction was closed
	ErrTransactionClosed = errors.New("transaction is closed")
	// ErrReadOnly indicates a modification attempted by a read-only transaction
	ErrReadOnly = errors.New("transaction is read-only")
	// ErrWriteOnly indicates a read attempted by a write-only transaction
	ErrWriteOnly = errors.New("transaction is write-only")
	// ErrNoSuchPlugin indicates that the configured storage plugin does not exist
	ErrNoSuchPlugin = errors.New("no such storage plugin")
)
