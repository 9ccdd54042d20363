package datastore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jrife/arbor/commit"
	"github.com/jrife/arbor/future"
	"github.com/jrife/arbor/shard"
	"github.com/jrife/arbor/tree"
	"go.uber.org/zap"
)

type transactionMode int

const (
	modeReadWrite transactionMode = iota
	modeReadOnly
	modeWriteOnly
)

func (mode transactionMode) String() string {
	switch mode {
	case modeReadWrite:
		return "read-write"
	case modeReadOnly:
		return "read-only"
	case modeWriteOnly:
		return "write-only"
	}

	return fmt.Sprintf("transactionMode(%d)", int(mode))
}

type transactionState int

const (
	transactionOpen transactionState = iota
	transactionReady
	transactionClosed
)

// Transaction buffers modifications in call order and lets reads
// observe them. Ready hands the buffer to a commit cohort made of
// the shards the transaction touched. A Transaction is safe for
// concurrent use but its operations take effect in call order.
type Transaction struct {
	id     string
	ds     *DataStore
	mode   transactionMode
	logger *zap.Logger

	mu           sync.Mutex
	state        transactionState
	mods         []tree.Modification
	err          error
	participants map[string]*participant
}

// ID returns the transaction ID
func (txn *Transaction) ID() string {
	return txn.id
}

// Write replaces the subtree at path with node
func (txn *Transaction) Write(path tree.Path, node *tree.Node) {
	txn.modify(tree.Write(path, node.Clone()))
}

// Merge merges node into the subtree at path
func (txn *Transaction) Merge(path tree.Path, node *tree.Node) {
	txn.modify(tree.MergeInto(path, node.Clone()))
}

// Delete removes the subtree at path
func (txn *Transaction) Delete(path tree.Path) {
	txn.modify(tree.Delete(path))
}

// modify buffers mod. Errors are latched and reported by Ready.
func (txn *Transaction) modify(mod tree.Modification) {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	logger := txn.logger.With(zap.Stringer("modification", mod))

	if err := txn.checkState(); err != nil {
		logger.Warn("dropping modification", zap.Error(err))

		return
	}

	if txn.mode == modeReadOnly {
		txn.latch(ErrReadOnly)

		return
	}

	s, err := txn.ds.shardFor(mod.Path)

	if err != nil {
		logger.Debug("could not route modification", zap.Error(err))
		txn.latch(err)

		return
	}

	p := txn.participant(s)
	p.mods = append(p.mods, mod)
	txn.mods = append(txn.mods, mod)
	logger.Debug("modification buffered", zap.String("shard", s.Name()))
}

func (txn *Transaction) latch(err error) {
	if txn.err == nil {
		txn.err = err
	}
}

func (txn *Transaction) checkState() error {
	switch txn.state {
	case transactionReady:
		return ErrTransactionReady
	case transactionClosed:
		return ErrTransactionClosed
	}

	return nil
}

func (txn *Transaction) participant(s *shard.Shard) *participant {
	p, ok := txn.participants[s.Name()]

	if !ok {
		p = &participant{txnID: txn.id, shard: s}
		txn.participants[s.Name()] = p
	}

	return p
}

// Read returns the subtree at path as seen by this transaction: the
// committed state of its shard with the transaction's own modifications
// on top. The future resolves to nil if nothing exists at path.
func (txn *Transaction) Read(ctx context.Context, path tree.Path) *future.Future[*tree.Node] {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	if err := txn.checkState(); err != nil {
		return future.Failed[*tree.Node](err)
	}

	if txn.mode == modeWriteOnly {
		return future.Failed[*tree.Node](ErrWriteOnly)
	}

	s, err := txn.ds.shardFor(path)

	if err != nil {
		return future.Failed[*tree.Node](err)
	}

	mods := append([]tree.Modification{}, txn.mods...)

	if tree.Covered(path, mods) {
		return future.Resolved(tree.Resolve(path, nil, mods).Clone(), nil)
	}

	read := s.Read(ctx, path)
	p := txn.participant(s)
	p.reads = append(p.reads, readRecord{path: path, result: read})

	return future.Then(read, func(result shard.ReadResult, err error) (*tree.Node, error) {
		if err != nil {
			return nil, fmt.Errorf("could not read %s: %w", path, err)
		}

		return tree.Resolve(path, result.Node, mods).Clone(), nil
	})
}

// Exists resolves to true if Read would resolve to a node
func (txn *Transaction) Exists(ctx context.Context, path tree.Path) *future.Future[bool] {
	return future.Then(txn.Read(ctx, path), func(node *tree.Node, err error) (bool, error) {
		return node != nil, err
	})
}

// Ready freezes the transaction and returns the cohort that commits it.
// Any error latched by an earlier modification is returned instead.
func (txn *Transaction) Ready() (*commit.Cohort, error) {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	if err := txn.checkState(); err != nil {
		return nil, err
	}

	if txn.mode == modeReadOnly {
		return nil, ErrReadOnly
	}

	txn.state = transactionReady

	if txn.err != nil {
		return nil, fmt.Errorf("could not ready transaction %s: %w", txn.id, txn.err)
	}

	names := make([]string, 0, len(txn.participants))

	for name := range txn.participants {
		names = append(names, name)
	}

	sort.Strings(names)
	participants := make([]commit.Participant, len(names))

	for i, name := range names {
		participants[i] = txn.participants[name]
	}

	txn.logger.Debug("transaction ready", zap.Strings("shards", names), zap.Int("modifications", len(txn.mods)))

	return commit.NewCohort(txn.id, participants, txn.ds.logger, txn.ds.cohortMetrics), nil
}

// Close discards the transaction. It has no effect once the
// transaction is ready.
func (txn *Transaction) Close() {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	if txn.state != transactionOpen {
		return
	}

	txn.state = transactionClosed
	txn.mods = nil
	txn.participants = nil
}
