// Package shard implements the owner of one region of the
// tree. Every shard runs a single goroutine that consumes
// an ordered mailbox, so requests for one shard never run
// concurrently and no locking is needed around its state.
// Public methods only enqueue a message and return a future.
package shard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/lists/doublylinkedlist"
	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/jrife/arbor/future"
	"github.com/jrife/arbor/storage/kv"
	"github.com/jrife/arbor/storage/kv/keys"
	"github.com/jrife/arbor/tree"
	"github.com/jrife/arbor/utils/stream"
	"go.uber.org/zap"
)

const (
	defaultMailboxCapacity = 1024
	defaultCommitTimeout   = 30 * time.Second
	defaultConflictHistory = 1024
	// expiredHistory is the number of expired transaction IDs remembered
	expiredHistory = 128
)

// Config configures a shard
type Config struct {
	// Name identifies the shard
	Name string
	// Partition holds the committed state of the shard.
	// The shard creates it if it does not exist.
	Partition kv.Partition
	// Logger defaults to a no-op logger
	Logger *zap.Logger
	// Metrics may be shared between shards
	Metrics *Metrics
	// MailboxCapacity is the number of requests buffered
	// before senders block
	MailboxCapacity int
	// CommitTimeout bounds how long a commit that voted yes
	// may go without progress before the shard aborts it
	CommitTimeout time.Duration
	// ConflictHistory is the number of recent commits kept
	// for conflict detection
	ConflictHistory int
}

// ReadResult is the committed subtree at a path together
// with the shard revision it was read at. Node is nil if
// nothing exists at the path.
type ReadResult struct {
	Node     *tree.Node
	Revision int64
}

// CommitRequest describes what a transaction wants to commit on a shard
type CommitRequest struct {
	TransactionID string
	// Modifications are applied in order
	Modifications []tree.Modification
	// Reads are the paths the transaction read from this shard
	Reads []tree.Path
	// BaseRevision is the oldest revision the reads observed
	BaseRevision int64
}

// Subtree is a stored subtree and the path of its root
type Subtree struct {
	Path tree.Path
	Node tree.Node
}

// Snapshot is the committed content of a shard at one revision
type Snapshot struct {
	Revision int64
	Subtrees []Subtree
}

// Shard is the single-threaded owner of one region of the tree
type Shard struct {
	name          string
	partition     kv.Partition
	logger        *zap.Logger
	metrics       *Metrics
	commitTimeout time.Duration

	mu          sync.RWMutex
	closed      bool
	mailbox     chan message
	stop        chan struct{}
	done        chan struct{}
	initialized chan struct{}
	state       atomic.Int32

	// Owned by the run goroutine
	schema   *tree.SchemaContext
	revision int64
	history  *history
	queue    *doublylinkedlist.List
	expiry   *time.Timer
	expired  *linkedhashmap.Map
}

// New creates a shard and starts its goroutine
func New(config Config) (*Shard, error) {
	if config.Name == "" {
		return nil, errors.New("shard name must not be empty")
	}

	if config.Partition == nil {
		return nil, errors.New("shard partition must not be nil")
	}

	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	if config.Metrics == nil {
		config.Metrics = NewMetrics()
	}

	if config.MailboxCapacity <= 0 {
		config.MailboxCapacity = defaultMailboxCapacity
	}

	if config.CommitTimeout <= 0 {
		config.CommitTimeout = defaultCommitTimeout
	}

	if config.ConflictHistory <= 0 {
		config.ConflictHistory = defaultConflictHistory
	}

	initialRevision := keys.Int64ToKey(0)

	if err := config.Partition.Create(initialRevision[:]); err != nil {
		return nil, fmt.Errorf("could not create partition for shard %s: %w", config.Name, err)
	}

	revision, err := readRevision(config.Partition)

	if err != nil {
		return nil, fmt.Errorf("could not read revision of shard %s: %w", config.Name, err)
	}

	shard := &Shard{
		name:          config.Name,
		partition:     config.Partition,
		logger:        config.Logger.With(zap.String("shard", config.Name)),
		metrics:       config.Metrics,
		commitTimeout: config.CommitTimeout,
		mailbox:       make(chan message, config.MailboxCapacity),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		initialized:   make(chan struct{}),
		revision:      revision,
		history:       newHistory(config.ConflictHistory, revision),
		queue:         doublylinkedlist.New(),
		expired:       linkedhashmap.New(),
	}

	shard.setState(StateUninitialized)

	go shard.run()

	shard.logger.Info("shard started", zap.Int64("revision", revision))

	return shard, nil
}

func readRevision(partition kv.Partition) (int64, error) {
	txn, err := partition.Begin(false)

	if err != nil {
		return 0, fmt.Errorf("could not begin transaction: %w", err)
	}

	defer txn.Rollback()

	metadata, err := txn.Metadata()

	if err != nil {
		return 0, fmt.Errorf("could not read metadata: %w", err)
	}

	return decodeRevision(metadata), nil
}

func decodeRevision(metadata []byte) int64 {
	var k [8]byte

	if len(metadata) != len(k) {
		return 0
	}

	copy(k[:], metadata)

	return keys.KeyToInt64(k)
}

func encodeRevision(revision int64) []byte {
	k := keys.Int64ToKey(revision)

	return k[:]
}

// Name returns the name of the shard
func (shard *Shard) Name() string {
	return shard.name
}

// State returns the current state of the shard
func (shard *Shard) State() State {
	return State(shard.state.Load())
}

func (shard *Shard) setState(state State) {
	shard.state.Store(int32(state))
}

// Initialized returns a channel that is closed once the
// shard applied its first schema context
func (shard *Shard) Initialized() <-chan struct{} {
	return shard.initialized
}

// UpdateSchemaContext delivers a schema context to the shard. The
// returned future resolves once the shard applied it. Contexts older
// than the one already applied are ignored.
func (shard *Shard) UpdateSchemaContext(ctx context.Context, schema *tree.SchemaContext) *future.Future[struct{}] {
	f, resolve := future.New[struct{}]()

	shard.send(ctx, &schemaMessage{ctx: ctx, schema: schema, resolve: resolve})

	return f
}

// Read reads the committed subtree at path
func (shard *Shard) Read(ctx context.Context, path tree.Path) *future.Future[ReadResult] {
	f, resolve := future.New[ReadResult]()

	shard.send(ctx, &readMessage{ctx: ctx, path: path, resolve: resolve})

	return f
}

// Roots lists the roots of the subtrees stored by the shard in key
// order, hiding those outside the current schema context. limit <= 0
// lists them all.
func (shard *Shard) Roots(ctx context.Context, limit int) *future.Future[[]tree.Path] {
	f, resolve := future.New[[]tree.Path]()

	shard.send(ctx, &rootsMessage{ctx: ctx, limit: limit, resolve: resolve})

	return f
}

// Snapshot reads every stored subtree inside the current schema
// context. All of them are read at the same revision.
func (shard *Shard) Snapshot(ctx context.Context) *future.Future[Snapshot] {
	f, resolve := future.New[Snapshot]()

	shard.send(ctx, &snapshotMessage{ctx: ctx, resolve: resolve})

	return f
}

// CanCommit queues request and resolves with the shard's vote once
// the request reaches the head of the commit queue.
func (shard *Shard) CanCommit(ctx context.Context, request CommitRequest) *future.Future[bool] {
	f, resolve := future.New[bool]()

	shard.send(ctx, &canCommitMessage{ctx: ctx, request: request, resolve: resolve})

	return f
}

// PreCommit validates and stages the commit of transaction txnID
func (shard *Shard) PreCommit(ctx context.Context, txnID string) *future.Future[struct{}] {
	f, resolve := future.New[struct{}]()

	shard.send(ctx, &preCommitMessage{ctx: ctx, txnID: txnID, resolve: resolve})

	return f
}

// Commit applies the staged commit of transaction txnID
func (shard *Shard) Commit(ctx context.Context, txnID string) *future.Future[struct{}] {
	f, resolve := future.New[struct{}]()

	shard.send(ctx, &commitMessage{ctx: ctx, txnID: txnID, resolve: resolve})

	return f
}

// Abort drops the commit of transaction txnID. It has no
// effect if the shard holds no commit for it.
func (shard *Shard) Abort(ctx context.Context, txnID string) *future.Future[struct{}] {
	f, resolve := future.New[struct{}]()

	shard.send(ctx, &abortMessage{ctx: ctx, txnID: txnID, resolve: resolve})

	return f
}

// Close stops the shard. Queued requests fail with ErrClosed.
// The partition is left untouched.
func (shard *Shard) Close() error {
	shard.mu.Lock()

	if shard.closed {
		shard.mu.Unlock()

		return nil
	}

	shard.closed = true
	shard.mu.Unlock()

	close(shard.stop)
	<-shard.done

	shard.logger.Info("shard stopped")

	return nil
}

func (shard *Shard) send(ctx context.Context, msg message) {
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	if shard.closed {
		msg.fail(ErrClosed)

		return
	}

	select {
	case shard.mailbox <- msg:
	case <-ctx.Done():
		msg.fail(ctx.Err())
	}
}

func (shard *Shard) run() {
	defer close(shard.done)

	for {
		select {
		case msg := <-shard.mailbox:
			shard.metrics.mailboxDepth.WithLabelValues(shard.name).Set(float64(len(shard.mailbox)))
			msg.handle(shard)
		case <-shard.stop:
			shard.shutdown()

			return
		}
	}
}

func (shard *Shard) shutdown() {
	shard.stopExpiry()
	shard.setState(StateClosed)

	for {
		select {
		case msg := <-shard.mailbox:
			msg.fail(ErrClosed)
		default:
			for shard.queue.Size() > 0 {
				value, _ := shard.queue.Get(0)
				shard.queue.Remove(0)
				value.(*pendingCommit).fail(ErrClosed)
			}

			shard.metrics.mailboxDepth.WithLabelValues(shard.name).Set(0)
			shard.metrics.queueDepth.WithLabelValues(shard.name).Set(0)

			return
		}
	}
}

func (shard *Shard) ready() bool {
	return shard.schema != nil
}

func (shard *Shard) applySchema(schema *tree.SchemaContext) {
	if shard.schema != nil && schema.Generation() < shard.schema.Generation() {
		shard.logger.Debug("ignoring stale schema context", zap.Uint64("generation", schema.Generation()), zap.Uint64("current", shard.schema.Generation()))

		return
	}

	shard.schema = schema

	if shard.State() == StateUninitialized {
		shard.setState(StateReady)
		close(shard.initialized)
	}

	shard.logger.Info("schema context applied", zap.Uint64("generation", schema.Generation()))
}

func (shard *Shard) read(path tree.Path) (ReadResult, error) {
	txn, err := shard.partition.Begin(false)

	if err != nil {
		return ReadResult{}, fmt.Errorf("could not begin transaction: %w", err)
	}

	defer txn.Rollback()

	node, err := tree.NewStore(txn).Read(path)

	if err != nil {
		return ReadResult{}, fmt.Errorf("could not read %s: %w", path, err)
	}

	shard.metrics.reads.WithLabelValues(shard.name).Inc()

	return ReadResult{Node: node, Revision: shard.revision}, nil
}

func (shard *Shard) roots(logger *zap.Logger, limit int) ([]tree.Path, error) {
	txn, err := shard.partition.Begin(false)

	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}

	defer txn.Rollback()

	return shard.rootPaths(tree.NewStore(txn), logger, limit)
}

func (shard *Shard) rootPaths(store *tree.Store, logger *zap.Logger, limit int) ([]tree.Path, error) {
	roots, err := store.RootStream()

	if err != nil {
		return nil, err
	}

	return stream.Collect(stream.Pipeline(
		roots,
		stream.Filter(shard.schema.Knows),
		stream.Limit[tree.Path](limit),
		stream.Log[tree.Path](logger),
	))
}

func (shard *Shard) snapshot(logger *zap.Logger) (Snapshot, error) {
	txn, err := shard.partition.Begin(false)

	if err != nil {
		return Snapshot{}, fmt.Errorf("could not begin transaction: %w", err)
	}

	defer txn.Rollback()

	store := tree.NewStore(txn)
	paths, err := shard.rootPaths(store, logger, 0)

	if err != nil {
		return Snapshot{}, err
	}

	snapshot := Snapshot{Revision: shard.revision, Subtrees: make([]Subtree, 0, len(paths))}

	for _, path := range paths {
		node, err := store.Read(path)

		if err != nil {
			return Snapshot{}, err
		}

		if node != nil {
			snapshot.Subtrees = append(snapshot.Subtrees, Subtree{Path: path, Node: *node})
		}
	}

	return snapshot, nil
}
