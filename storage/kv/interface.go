package kv

import (
	"errors"

	"github.com/jrife/arbor/storage/kv/keys"
)

var (
	// ErrClosed indicates that the root store was closed
	ErrClosed = errors.New("root store was closed")
	// ErrNoSuchStore indicates that the store doesn't exist. Either it hasn't been created or was deleted
	ErrNoSuchStore = errors.New("store does not exist")
	// ErrNoSuchPartition indicates that the partition doesn't exist. Either it hasn't been created or was deleted
	ErrNoSuchPartition = errors.New("partition does not exist")
	// ErrReadOnly indicates that a write was attempted inside a read-only transaction
	ErrReadOnly = errors.New("transaction is read-only")
	// ErrTxnDone indicates that the transaction was already committed or rolled back
	ErrTxnDone = errors.New("transaction already committed or rolled back")
	// ErrEmptyKey indicates that a nil or empty key was used
	ErrEmptyKey = errors.New("key must not be empty")
	// ErrEmptyValue indicates that a nil or empty value was used
	ErrEmptyValue = errors.New("value must not be empty")
)

// SortOrder describes the order in which
// an iterator visits keys
type SortOrder int

const (
	// SortOrderAsc visits keys in ascending lexicographical order
	SortOrderAsc SortOrder = iota
	// SortOrderDesc visits keys in descending lexicographical order
	SortOrderDesc
)

// PluginOptions is a set of driver specific options
type PluginOptions map[string]interface{}

// Plugin represents a kv storage plugin
type Plugin interface {
	// Name returns the name of the storage plugin
	Name() string
	// NewRootStore returns an instance of the plugin root store
	NewRootStore(options PluginOptions) (RootStore, error)
	// NewTempRootStore returns an instance of the plugin root store
	// initialized with some sane defaults. It is meant for
	// tests that need an initialized instance of the plugin's
	// store without knowing how to initialize it
	NewTempRootStore() (RootStore, error)
}

// RootStore is the parent store from which all stores are descended
type RootStore interface {
	// Delete closes then deletes this store and all its contents.
	// If the root store doesn't exist it should return nil and have
	// no effect.
	Delete() error
	// Close closes the store. Function calls to any I/O objects
	// descended from this store occurring after Close returns
	// must have no effect and return ErrClosed. Close must not
	// return until all transactions have either rolled back or
	// committed.
	Close() error
	// Stores lists all the stores inside this root store by name. Results must
	// be in ascending lexicographical order. It must return
	// ErrClosed if its invocation starts after Close() returns.
	Stores() ([][]byte, error)
	// Store returns a handle for the store with this name. It does not
	// guarantee that this store exists yet and should not create the
	// store. It must not return nil.
	Store(name []byte) Store
}

// Store is a reference to a store
type Store interface {
	// Name returns the name of this store.
	Name() []byte
	// Create creates this store if it does not exist. It has no
	// effect if the store already exists. It must return ErrClosed
	// if its invocation starts after Close() on the root store returns
	Create() error
	// Delete deletes this store if it exists. It has no effect
	// if the store does not exist. It must return ErrClosed if
	// its invocation starts after Close() on the root store returns.
	Delete() error
	// Partitions lists up to limit partitions in this store whose name
	// is in the range. List results must be in ascending lexocographical
	// order and contiguous. Partitions must return ErrClosed if its
	// invocation starts after Close() on the root store returns. Otherwise
	// it must return ErrNoSuchStore if this store does not exist.
	// limit < 0 indicates no limit.
	Partitions(names keys.Range, limit int) ([][]byte, error)
	// Partition returns a handle for the partition with this name inside this store.
	// It does not guarantee that this partition exists yet and should not create the partition.
	// It must not return nil.
	Partition(name []byte) Partition
}

// Partition is a reference to a named partition of a store.
// Strict-serializability must be enforced on all transactions
// within a partition. Partitions are independent from each other
// and do not require coordination between them.
//
// Each shard owns exactly one partition and only ever begins
// transactions on it from its own goroutine, so drivers may
// assume low contention.
type Partition interface {
	// Name returns the name of this partition
	Name() []byte
	// Create creates this partition if it does not exist. It has no
	// effect if the partition already exists. It must return ErrClosed
	// if its invocation starts after Close() on the root store returns.
	// Otherwise it must return ErrNoSuchStore if the parent store does not exist.
	// metadata is set only if this call actually creates the partition.
	Create(metadata []byte) error
	// Delete deletes this partition if it exists. It has no effect if
	// the partition does not exist. It must return ErrClosed if its
	// invocation starts after Close() on the root store returns. Otherwise it
	// must return ErrNoSuchStore if the parent store does not exist.
	Delete() error
	// Begin starts a transaction for this partition. writable should be
	// true for read-write transactions and false for read-only transactions.
	// If Begin() is called after Close() on the root store returns it must
	// return ErrClosed. Otherwise if the parent store does not exist it must
	// return ErrNoSuchStore. Otherwise if this partition does not exist it must
	// return ErrNoSuchPartition.
	Begin(writable bool) (Transaction, error)
}

// MapUpdater is an interface for updating a sorted
// key-value map
type MapUpdater interface {
	// Put puts a key. Put must return an error
	// if either key or value is nil or empty.
	Put(key, value []byte) error
	// Delete deletes a key. It must return an error if the key
	// is nil or empty. If the key doesn't exist it has no effect
	// and returns nil.
	Delete(key []byte) error
}

// MapReader is an interface for reading a sorted
// key-value map
type MapReader interface {
	// Get gets a key. It must observe updates to that key made
	// previously by this transation. Get must return an error
	// if the key is nil or empty. It must return nil if the
	// requested key does not exist.
	Get(key []byte) ([]byte, error)
	// Keys creates an iterator that iterates over the range
	// of keys
	Keys(keys keys.Range, order SortOrder) (Iterator, error)
}

// Map combines MapReader and MapUpdater
type Map interface {
	MapUpdater
	MapReader
}

// Transaction is a transaction for a partition. It must only be
// used by one goroutine at a time.
type Transaction interface {
	Map
	// Metadata returns the metadata for this partition
	Metadata() ([]byte, error)
	// SetMetadata sets the metadata for this partition
	SetMetadata(metadata []byte) error
	// Commit commits the transaction
	Commit() error
	// Rollback rolls back the transaction. Calling Rollback
	// after Commit has no effect.
	Rollback() error
}

// Iterator iterates over a set of keys. It must only be
// used by one goroutine at a time. Consumers should not
// attempt to use an iterator once its parent transaction
// has been rolled back. Behavior is undefined in this case.
// The transaction must not mutate the store when the iterator
// is in use. This may cause inconsistent behavior.
type Iterator interface {
	// Next advances the iterator to the next key
	// A fresh iterator must call Next once to
	// advance to the first key. Next returns false
	// if there is no next key or if it encounters an
	// error.
	Next() bool
	// Key returns the current key
	Key() []byte
	// Value returns the current value
	Value() []byte
	// Error returns the error, if any.
	Error() error
}
