// Package datastore is the front door of the store. It owns the
// shards hosted by the local member, hands out transactions and
// broadcasts schema contexts to every shard.
package datastore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrife/arbor/commit"
	"github.com/jrife/arbor/config"
	"github.com/jrife/arbor/future"
	"github.com/jrife/arbor/shard"
	"github.com/jrife/arbor/shardstrategy"
	"github.com/jrife/arbor/storage/kv"
	"github.com/jrife/arbor/storage/kv/plugins"
	"github.com/jrife/arbor/tree"
	"github.com/jrife/arbor/utils/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Options configures a DataStore
type Options struct {
	Config *config.Config
	// RootStore holds one partition per shard. The data store
	// does not close it.
	RootStore kv.RootStore
	// Logger defaults to a no-op logger
	Logger *zap.Logger
}

// DataStore hands out transactions over the shards of one member
type DataStore struct {
	name          string
	config        *config.Config
	rootStore     kv.RootStore
	ownsRootStore bool
	strategy      *shardstrategy.Factory
	shards        map[string]*shard.Shard
	shardNames    []string
	logger        *zap.Logger
	shardMetrics  *shard.Metrics
	cohortMetrics *commit.Metrics

	mu     sync.Mutex
	closed bool
}

// New starts a shard for every shard the configured member hosts
func New(options Options) (*DataStore, error) {
	if options.Config == nil {
		return nil, fmt.Errorf("%w: configuration is required", config.ErrInvalid)
	}

	if err := options.Config.Validate(); err != nil {
		return nil, err
	}

	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}

	c := options.Config
	ds := &DataStore{
		name:          c.Storage.Store,
		config:        c,
		rootStore:     options.RootStore,
		strategy:      shardstrategy.NewFactory(c),
		shards:        map[string]*shard.Shard{},
		logger:        options.Logger.With(zap.String("datastore", c.Storage.Store), zap.String("member", c.MemberName)),
		shardMetrics:  shard.NewMetrics(),
		cohortMetrics: commit.NewMetrics(),
	}

	store := ds.rootStore.Store([]byte(ds.name))

	if err := store.Create(); err != nil {
		return nil, fmt.Errorf("could not create store %s: %w", ds.name, err)
	}

	for _, name := range c.MemberShardNames(c.MemberName) {
		s, err := shard.New(shard.Config{
			Name:            name,
			Partition:       store.Partition([]byte(name)),
			Logger:          options.Logger,
			Metrics:         ds.shardMetrics,
			MailboxCapacity: c.Shard.MailboxCapacity,
			CommitTimeout:   time.Duration(c.Shard.CommitTimeout),
			ConflictHistory: c.Shard.ConflictHistory,
		})

		if err != nil {
			ds.closeShards()

			return nil, fmt.Errorf("could not start shard %s: %w", name, err)
		}

		ds.shards[name] = s
		ds.shardNames = append(ds.shardNames, name)
	}

	if len(ds.shardNames) == 0 {
		ds.logger.Warn("member hosts no shards")
	}

	ds.logger.Info("data store started", zap.Strings("shards", ds.shardNames))

	return ds, nil
}

// Open opens the root store of the configured storage plugin and starts
// a data store on top of it. Closing the data store closes the root store.
func Open(c *config.Config, logger *zap.Logger) (*DataStore, error) {
	plugin := plugins.Plugin(c.Storage.Plugin)

	if plugin == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchPlugin, c.Storage.Plugin)
	}

	rootStore, err := plugin.NewRootStore(kv.PluginOptions{"path": c.Storage.Path})

	if err != nil {
		return nil, fmt.Errorf("could not open %s root store: %w", plugin.Name(), err)
	}

	ds, err := New(Options{Config: c, RootStore: rootStore, Logger: logger})

	if err != nil {
		return nil, multierr.Append(err, rootStore.Close())
	}

	ds.ownsRootStore = true

	return ds, nil
}

// Name returns the name of the data store, such as config or operational
func (ds *DataStore) Name() string {
	return ds.name
}

// ShardNames returns the names of the local shards in sorted order
func (ds *DataStore) ShardNames() []string {
	return append([]string{}, ds.shardNames...)
}

// Shard returns the local shard called name
func (ds *DataStore) Shard(name string) (*shard.Shard, bool) {
	s, ok := ds.shards[name]

	return s, ok
}

// NewReadWriteTransaction creates a transaction that may read and modify the tree
func (ds *DataStore) NewReadWriteTransaction() *Transaction {
	return ds.newTransaction(modeReadWrite)
}

// NewReadOnlyTransaction creates a transaction that may only read
func (ds *DataStore) NewReadOnlyTransaction() *Transaction {
	return ds.newTransaction(modeReadOnly)
}

// NewWriteOnlyTransaction creates a transaction that may only modify
func (ds *DataStore) NewWriteOnlyTransaction() *Transaction {
	return ds.newTransaction(modeWriteOnly)
}

func (ds *DataStore) newTransaction(mode transactionMode) *Transaction {
	id := uuid.Prefixed(ds.config.MemberName + "-" + ds.name)

	return &Transaction{
		id:           id,
		ds:           ds,
		mode:         mode,
		logger:       ds.logger.With(zap.String("txn", id)),
		participants: map[string]*participant{},
	}
}

// OnGlobalContextUpdated delivers schema to every shard. Callers may
// ignore the returned future, which resolves once every shard applied it.
func (ds *DataStore) OnGlobalContextUpdated(schema *tree.SchemaContext) *future.Future[struct{}] {
	updates := make([]*future.Future[struct{}], 0, len(ds.shardNames))

	for _, name := range ds.shardNames {
		updates = append(updates, ds.shards[name].UpdateSchemaContext(context.Background(), schema))
	}

	ds.logger.Info("broadcasting schema context", zap.Uint64("generation", schema.Generation()))

	return future.Then(future.All(updates...), func(_ []struct{}, err error) (struct{}, error) {
		if err != nil {
			return struct{}{}, fmt.Errorf("could not update schema context: %w", err)
		}

		return struct{}{}, nil
	})
}

// AwaitReady blocks until every local shard has applied a schema context
func (ds *DataStore) AwaitReady(ctx context.Context) error {
	for _, name := range ds.shardNames {
		select {
		case <-ds.shards[name].Initialized():
		case <-ctx.Done():
			return fmt.Errorf("shard %s is not ready: %w", name, ctx.Err())
		}
	}

	return nil
}

// PrometheusCollectors returns the collectors of the shards and cohorts
func (ds *DataStore) PrometheusCollectors() []prometheus.Collector {
	return append(ds.shardMetrics.PrometheusCollectors(), ds.cohortMetrics.PrometheusCollectors()...)
}

// Close stops every shard
func (ds *DataStore) Close() error {
	ds.mu.Lock()

	if ds.closed {
		ds.mu.Unlock()

		return nil
	}

	ds.closed = true
	ds.mu.Unlock()

	err := ds.closeShards()

	if ds.ownsRootStore {
		err = multierr.Append(err, ds.rootStore.Close())
	}

	ds.logger.Info("data store stopped")

	return err
}

func (ds *DataStore) closeShards() error {
	var err error

	for _, name := range ds.shardNames {
		err = multierr.Append(err, ds.shards[name].Close())
	}

	return err
}

// shardFor resolves the local shard owning path
func (ds *DataStore) shardFor(path tree.Path) (*shard.Shard, error) {
	name, err := ds.strategy.Resolve(path)

	if err != nil {
		return nil, err
	}

	s, ok := ds.shards[name]

	if !ok {
		return nil, &shardstrategy.RoutingError{Path: path, Reason: fmt.Sprintf("shard %s is not hosted by member %s", name, ds.config.MemberName)}
	}

	return s, nil
}
