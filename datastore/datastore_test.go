package datastore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrife/arbor/commit"
	"github.com/jrife/arbor/config"
	"github.com/jrife/arbor/datastore"
	"github.com/jrife/arbor/shard"
	"github.com/jrife/arbor/shardstrategy"
	"github.com/jrife/arbor/storage/kv/plugins/memory"
	"github.com/jrife/arbor/tree"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

const timeout = 5 * time.Second

const carsAndPeople = `
member-name = "member-1"
default-shard = "default"

[[modules]]
name = "cars"
namespace = "cars"
shard-strategy = "module"

[[modules]]
name = "people"
namespace = "people"
shard-strategy = "module"

[[module-shards]]
module-name = "cars"
  [[module-shards.shards]]
  name = "cars-1"

[[module-shards]]
module-name = "people"
  [[module-shards.shards]]
  name = "people-1"
`

var (
	testPath   = tree.MustParsePath("/test")
	carsPath   = tree.MustParsePath("/cars")
	peoplePath = tree.MustParsePath("/people")
	alicePath  = tree.MustParsePath("/people/alice")
	bobPath    = tree.MustParsePath("/people/bob")
	sedanPath  = tree.MustParsePath("/cars/sedan")
)

func schema(generation uint64) *tree.SchemaContext {
	return tree.NewSchemaContext(generation, "test", "cars", "people")
}

func newConfig(t *testing.T, s string) *config.Config {
	c, err := config.Parse(s)
	require.NoError(t, err)

	return c
}

func newDataStore(t *testing.T, c *config.Config) *datastore.DataStore {
	ds, err := datastore.New(datastore.Options{Config: c, RootStore: memory.New(), Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })

	return ds
}

func newReadyDataStore(t *testing.T) *datastore.DataStore {
	ds := newDataStore(t, newConfig(t, carsAndPeople))
	_, err := ds.OnGlobalContextUpdated(schema(1)).GetWithTimeout(timeout)
	require.NoError(t, err)

	return ds
}

func commitCohort(t *testing.T, cohort *commit.Cohort) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	vote, err := cohort.CanCommit(ctx).Get(ctx)
	require.NoError(t, err)
	require.True(t, vote)
	_, err = cohort.PreCommit(ctx).Get(ctx)
	require.NoError(t, err)
	_, err = cohort.Commit(ctx).Get(ctx)
	require.NoError(t, err)
}

func commitTransaction(t *testing.T, txn *datastore.Transaction) {
	t.Helper()

	cohort, err := txn.Ready()
	require.NoError(t, err)
	commitCohort(t, cohort)
}

func read(t *testing.T, ds *datastore.DataStore, path tree.Path) *tree.Node {
	t.Helper()

	txn := ds.NewReadOnlyTransaction()
	defer txn.Close()

	node, err := txn.Read(context.Background(), path).GetWithTimeout(timeout)
	require.NoError(t, err)

	return node
}

func car(name string, color string) *tree.Node {
	return tree.Container(tree.QName(name), tree.Leaf("color", color))
}

func person(name string, age string) *tree.Node {
	return tree.Container(tree.QName(name), tree.Leaf("age", age))
}

func TestDataStoreShards(t *testing.T) {
	ds := newDataStore(t, newConfig(t, carsAndPeople))

	require.Equal(t, []string{"cars-1", "default", "people-1"}, ds.ShardNames())
	require.Equal(t, "config", ds.Name())

	s, ok := ds.Shard("cars-1")
	require.True(t, ok)
	require.Equal(t, "cars-1", s.Name())

	_, ok = ds.Shard("boats-1")
	require.False(t, ok)

	registry := prometheus.NewRegistry()

	for _, collector := range ds.PrometheusCollectors() {
		require.NoError(t, registry.Register(collector))
	}
}

func TestDataStoreSingleShard(t *testing.T) {
	ds := newReadyDataStore(t)
	txn := ds.NewReadWriteTransaction()
	txn.Write(testPath, tree.Container("test"))

	node, err := txn.Read(context.Background(), testPath).GetWithTimeout(timeout)
	require.NoError(t, err)
	require.Equal(t, tree.QName("test"), node.Type)

	cohort, err := txn.Ready()
	require.NoError(t, err)
	require.Equal(t, txn.ID(), cohort.TransactionID())
	require.Equal(t, []string{"default"}, cohort.Participants())
	commitCohort(t, cohort)

	require.True(t, tree.Equal(tree.Container("test"), read(t, ds, testPath)))
}

func TestDataStoreMultiShard(t *testing.T) {
	ds := newReadyDataStore(t)
	txn := ds.NewWriteOnlyTransaction()
	txn.Write(carsPath, tree.Container("cars", car("sedan", "blue")))
	txn.Write(peoplePath, tree.Container("people", person("alice", "30")))

	cohort, err := txn.Ready()
	require.NoError(t, err)
	require.Equal(t, []string{"cars-1", "people-1"}, cohort.Participants())
	commitCohort(t, cohort)

	require.True(t, tree.Equal(car("sedan", "blue"), read(t, ds, sedanPath)))
	require.True(t, tree.Equal(person("alice", "30"), read(t, ds, alicePath)))

	for _, name := range []string{"cars-1", "people-1"} {
		s, _ := ds.Shard(name)
		result, err := s.Read(context.Background(), tree.NewPath(tree.QName(name[:len(name)-2]))).GetWithTimeout(timeout)
		require.NoError(t, err)
		require.NotNil(t, result.Node)
		require.Equal(t, int64(1), result.Revision)
	}
}

func TestTransactionReadYourWrites(t *testing.T) {
	testCases := map[string]struct {
		committed []func(txn *datastore.Transaction)
		buffered  []func(txn *datastore.Transaction)
		path      tree.Path
		result    *tree.Node
	}{
		"write then read": {
			buffered: []func(txn *datastore.Transaction){
				func(txn *datastore.Transaction) { txn.Write(alicePath, person("alice", "30")) },
			},
			path:   alicePath,
			result: person("alice", "30"),
		},
		"write ancestor then read descendant": {
			buffered: []func(txn *datastore.Transaction){
				func(txn *datastore.Transaction) {
					txn.Write(peoplePath, tree.Container("people", person("alice", "30")))
				},
			},
			path:   alicePath.Child("age"),
			result: tree.Leaf("age", "30"),
		},
		"write descendant over committed ancestor": {
			committed: []func(txn *datastore.Transaction){
				func(txn *datastore.Transaction) {
					txn.Write(peoplePath, tree.Container("people", person("alice", "30")))
				},
			},
			buffered: []func(txn *datastore.Transaction){
				func(txn *datastore.Transaction) { txn.Write(bobPath, person("bob", "40")) },
			},
			path:   peoplePath,
			result: tree.Container("people", person("alice", "30"), person("bob", "40")),
		},
		"delete hides committed": {
			committed: []func(txn *datastore.Transaction){
				func(txn *datastore.Transaction) { txn.Write(alicePath, person("alice", "30")) },
			},
			buffered: []func(txn *datastore.Transaction){
				func(txn *datastore.Transaction) { txn.Delete(alicePath) },
			},
			path: alicePath,
		},
		"merge over committed": {
			committed: []func(txn *datastore.Transaction){
				func(txn *datastore.Transaction) { txn.Write(alicePath, person("alice", "30")) },
			},
			buffered: []func(txn *datastore.Transaction){
				func(txn *datastore.Transaction) {
					txn.Merge(alicePath, tree.Container("alice", tree.Leaf("city", "paris")))
				},
			},
			path:   alicePath,
			result: tree.Container("alice", tree.Leaf("age", "30"), tree.Leaf("city", "paris")),
		},
		"later write wins": {
			buffered: []func(txn *datastore.Transaction){
				func(txn *datastore.Transaction) { txn.Write(alicePath, person("alice", "30")) },
				func(txn *datastore.Transaction) { txn.Write(alicePath, person("alice", "31")) },
			},
			path:   alicePath,
			result: person("alice", "31"),
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			ds := newReadyDataStore(t)

			if len(testCase.committed) > 0 {
				txn := ds.NewWriteOnlyTransaction()

				for _, op := range testCase.committed {
					op(txn)
				}

				commitTransaction(t, txn)
			}

			txn := ds.NewReadWriteTransaction()
			defer txn.Close()

			for _, op := range testCase.buffered {
				op(txn)
			}

			node, err := txn.Read(context.Background(), testCase.path).GetWithTimeout(timeout)
			require.NoError(t, err)
			require.True(t, tree.Equal(testCase.result, node), "expected %v, got %v", testCase.result, node)

			exists, err := txn.Exists(context.Background(), testCase.path).GetWithTimeout(timeout)
			require.NoError(t, err)
			require.Equal(t, testCase.result != nil, exists)
		})
	}
}

func TestTransactionReadDoesNotAlias(t *testing.T) {
	ds := newReadyDataStore(t)
	txn := ds.NewReadWriteTransaction()
	defer txn.Close()

	node := person("alice", "30")
	txn.Write(alicePath, node)
	node.Children["age"] = tree.Leaf("age", "99")

	read, err := txn.Read(context.Background(), alicePath).GetWithTimeout(timeout)
	require.NoError(t, err)
	require.True(t, tree.Equal(person("alice", "30"), read))

	read.Children["age"] = tree.Leaf("age", "99")
	again, err := txn.Read(context.Background(), alicePath).GetWithTimeout(timeout)
	require.NoError(t, err)
	require.True(t, tree.Equal(person("alice", "30"), again))
}

func TestTransactionAtomicity(t *testing.T) {
	ds := newReadyDataStore(t)

	txn := ds.NewReadWriteTransaction()
	_, err := txn.Read(context.Background(), peoplePath).GetWithTimeout(timeout)
	require.NoError(t, err)
	txn.Write(carsPath, tree.Container("cars", car("sedan", "blue")))
	txn.Write(alicePath, person("alice", "30"))

	other := ds.NewWriteOnlyTransaction()
	other.Write(bobPath, person("bob", "40"))
	commitTransaction(t, other)

	cohort, err := txn.Ready()
	require.NoError(t, err)

	vote, err := cohort.CanCommit(context.Background()).GetWithTimeout(timeout)
	require.False(t, vote)
	require.ErrorIs(t, err, commit.ErrVoteRejected)

	var rejected *commit.VoteRejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, []string{"people-1"}, rejected.Shards)

	require.Nil(t, read(t, ds, carsPath))
	require.Nil(t, read(t, ds, alicePath))
	require.True(t, tree.Equal(person("bob", "40"), read(t, ds, bobPath)))

	// cars-1 was released by the abort and accepts new commits
	retry := ds.NewWriteOnlyTransaction()
	retry.Write(carsPath, tree.Container("cars"))
	commitTransaction(t, retry)
}

func TestTransactionConflicts(t *testing.T) {
	testCases := map[string]struct {
		read    tree.Path
		write   tree.Path
		other   tree.Path
		success bool
	}{
		"read then concurrent write of same path": {
			read:    alicePath,
			write:   bobPath,
			other:   alicePath,
			success: false,
		},
		"read ancestor of concurrent write": {
			read:    peoplePath,
			write:   bobPath,
			other:   alicePath,
			success: false,
		},
		"disjoint read and concurrent write": {
			read:    alicePath,
			write:   alicePath,
			other:   bobPath,
			success: true,
		},
		"write overlaps concurrent write": {
			read:    bobPath,
			write:   alicePath.Child("age"),
			other:   alicePath,
			success: false,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			ds := newReadyDataStore(t)

			txn := ds.NewReadWriteTransaction()
			_, err := txn.Read(context.Background(), testCase.read).GetWithTimeout(timeout)
			require.NoError(t, err)
			txn.Write(testCase.write, tree.Container(testCase.write.Last()))

			other := ds.NewWriteOnlyTransaction()
			other.Write(testCase.other, tree.Container(testCase.other.Last()))
			commitTransaction(t, other)

			cohort, err := txn.Ready()
			require.NoError(t, err)

			vote, err := cohort.CanCommit(context.Background()).GetWithTimeout(timeout)
			require.Equal(t, testCase.success, vote)

			if testCase.success {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, commit.ErrVoteRejected)
			}
		})
	}
}

func TestTransactionBlindWritesDoNotConflict(t *testing.T) {
	ds := newReadyDataStore(t)

	first := ds.NewWriteOnlyTransaction()
	first.Write(alicePath, person("alice", "30"))
	second := ds.NewWriteOnlyTransaction()
	second.Write(alicePath, person("alice", "31"))

	commitTransaction(t, first)
	commitTransaction(t, second)

	require.True(t, tree.Equal(person("alice", "31"), read(t, ds, alicePath)))
}

func TestShardIsolation(t *testing.T) {
	ds := newReadyDataStore(t)

	var g errgroup.Group

	for i, path := range []tree.Path{sedanPath, alicePath} {
		g.Go(func() error {
			for j := 0; j < 10; j++ {
				txn := ds.NewReadWriteTransaction()

				if _, err := txn.Read(context.Background(), path).GetWithTimeout(timeout); err != nil {
					return err
				}

				txn.Write(path, tree.Container(path.Last(), tree.Leaf("n", string(rune('a'+i*10+j)))))
				cohort, err := txn.Ready()

				if err != nil {
					return err
				}

				ctx, cancel := context.WithTimeout(context.Background(), timeout)

				if _, err := cohort.CanCommit(ctx).Get(ctx); err != nil {
					cancel()

					return err
				}

				if _, err := cohort.PreCommit(ctx).Get(ctx); err != nil {
					cancel()

					return err
				}

				_, err = cohort.Commit(ctx).Get(ctx)
				cancel()

				if err != nil {
					return err
				}
			}

			return nil
		})
	}

	require.NoError(t, g.Wait())
	require.True(t, tree.Equal(tree.Container("sedan", tree.Leaf("n", "j")), read(t, ds, sedanPath)))
	require.True(t, tree.Equal(tree.Container("alice", tree.Leaf("n", "t")), read(t, ds, alicePath)))
}

func TestTransactionsSharingShards(t *testing.T) {
	ds := newReadyDataStore(t)

	for round := 0; round < 20; round++ {
		var g errgroup.Group

		for i := 0; i < 2; i++ {
			g.Go(func() error {
				txn := ds.NewWriteOnlyTransaction()
				// Shard order differs between the two
				if i == 0 {
					txn.Write(sedanPath, car("sedan", "blue"))
					txn.Write(alicePath, person("alice", "30"))
				} else {
					txn.Write(alicePath, person("alice", "31"))
					txn.Write(sedanPath, car("sedan", "red"))
				}

				cohort, err := txn.Ready()

				if err != nil {
					return err
				}

				ctx, cancel := context.WithTimeout(context.Background(), time.Second*2)
				defer cancel()

				return datastore.Commit(ctx, cohort)
			})
		}

		require.NoError(t, g.Wait(), "round %d", round)
	}
}

func TestDataStoreReadinessGating(t *testing.T) {
	ds := newDataStore(t, newConfig(t, carsAndPeople))

	txn := ds.NewReadWriteTransaction()
	_, err := txn.Read(context.Background(), carsPath).GetWithTimeout(timeout)
	require.ErrorIs(t, err, shard.ErrNotReady)

	txn = ds.NewWriteOnlyTransaction()
	txn.Write(carsPath, tree.Container("cars"))
	cohort, err := txn.Ready()
	require.NoError(t, err)

	vote, err := cohort.CanCommit(context.Background()).GetWithTimeout(timeout)
	require.False(t, vote)
	require.ErrorIs(t, err, shard.ErrNotReady)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, ds.AwaitReady(ctx), context.DeadlineExceeded)

	ds.OnGlobalContextUpdated(schema(1))
	require.NoError(t, ds.AwaitReady(context.Background()))

	_, err = ds.OnGlobalContextUpdated(schema(2)).GetWithTimeout(timeout)
	require.NoError(t, err)

	txn = ds.NewWriteOnlyTransaction()
	txn.Write(carsPath, tree.Container("cars"))
	commitTransaction(t, txn)
}

func TestTransactionRoutingErrors(t *testing.T) {
	c := newConfig(t, carsAndPeople)
	c.DefaultShard = ""
	ds := newDataStore(t, c)
	boatsPath := tree.MustParsePath("/boats")

	txn := ds.NewReadWriteTransaction()
	_, err := txn.Read(context.Background(), boatsPath).GetWithTimeout(timeout)
	require.ErrorIs(t, err, shardstrategy.ErrNoShard)

	txn.Write(carsPath, tree.Container("cars"))
	txn.Write(boatsPath, tree.Container("boats"))
	txn.Write(tree.NewPath(), tree.Container("root"))

	_, err = txn.Ready()
	require.ErrorIs(t, err, shardstrategy.ErrNoShard)

	var routingErr *shardstrategy.RoutingError
	require.ErrorAs(t, err, &routingErr)
	require.True(t, boatsPath.Equal(routingErr.Path))
}

func TestTransactionShardNotHosted(t *testing.T) {
	c := newConfig(t, carsAndPeople)
	c.ModuleShards[1].Shards[0].Replicas = []string{"member-2"}
	ds := newDataStore(t, c)

	require.Equal(t, []string{"cars-1", "default"}, ds.ShardNames())

	_, err := ds.NewReadOnlyTransaction().Read(context.Background(), alicePath).GetWithTimeout(timeout)
	require.ErrorIs(t, err, shardstrategy.ErrNoShard)
}

func TestTransactionLifecycle(t *testing.T) {
	ds := newReadyDataStore(t)

	t.Run("ready twice", func(t *testing.T) {
		txn := ds.NewReadWriteTransaction()
		txn.Write(carsPath, tree.Container("cars"))
		_, err := txn.Ready()
		require.NoError(t, err)

		_, err = txn.Ready()
		require.ErrorIs(t, err, datastore.ErrTransactionReady)

		_, err = txn.Read(context.Background(), carsPath).GetWithTimeout(timeout)
		require.ErrorIs(t, err, datastore.ErrTransactionReady)
	})

	t.Run("closed", func(t *testing.T) {
		txn := ds.NewReadWriteTransaction()
		txn.Write(carsPath, tree.Container("cars"))
		txn.Close()

		_, err := txn.Read(context.Background(), carsPath).GetWithTimeout(timeout)
		require.ErrorIs(t, err, datastore.ErrTransactionClosed)

		_, err = txn.Ready()
		require.ErrorIs(t, err, datastore.ErrTransactionClosed)
	})

	t.Run("read-only", func(t *testing.T) {
		txn := ds.NewReadOnlyTransaction()
		txn.Write(carsPath, tree.Container("cars"))

		_, err := txn.Ready()
		require.ErrorIs(t, err, datastore.ErrReadOnly)
	})

	t.Run("write-only", func(t *testing.T) {
		txn := ds.NewWriteOnlyTransaction()

		_, err := txn.Read(context.Background(), carsPath).GetWithTimeout(timeout)
		require.ErrorIs(t, err, datastore.ErrWriteOnly)
	})

	t.Run("unique ids", func(t *testing.T) {
		a, b := ds.NewReadWriteTransaction(), ds.NewReadWriteTransaction()

		require.NotEqual(t, a.ID(), b.ID())
		require.Contains(t, a.ID(), "member-1-config-")
	})
}

func TestDataStoreAbort(t *testing.T) {
	ds := newReadyDataStore(t)

	txn := ds.NewWriteOnlyTransaction()
	txn.Write(carsPath, tree.Container("cars"))
	txn.Write(peoplePath, tree.Container("people"))
	cohort, err := txn.Ready()
	require.NoError(t, err)

	vote, err := cohort.CanCommit(context.Background()).GetWithTimeout(timeout)
	require.NoError(t, err)
	require.True(t, vote)

	_, err = cohort.Abort(context.Background()).GetWithTimeout(timeout)
	require.NoError(t, err)

	require.Nil(t, read(t, ds, carsPath))
	require.Nil(t, read(t, ds, peoplePath))

	next := ds.NewWriteOnlyTransaction()
	next.Write(carsPath, tree.Container("cars"))
	commitTransaction(t, next)
}

func TestDataStorePersistence(t *testing.T) {
	c := newConfig(t, carsAndPeople)
	c.Storage.Plugin = "bbolt"
	c.Storage.Path = filepath.Join(t.TempDir(), "arbor.db")

	ds, err := datastore.Open(c, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, err = ds.OnGlobalContextUpdated(schema(1)).GetWithTimeout(timeout)
	require.NoError(t, err)

	txn := ds.NewWriteOnlyTransaction()
	txn.Write(alicePath, person("alice", "30"))
	commitTransaction(t, txn)
	require.NoError(t, ds.Close())

	ds, err = datastore.Open(c, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer ds.Close()
	_, err = ds.OnGlobalContextUpdated(schema(1)).GetWithTimeout(timeout)
	require.NoError(t, err)

	require.True(t, tree.Equal(person("alice", "30"), read(t, ds, alicePath)))

	s, _ := ds.Shard("people-1")
	result, err := s.Read(context.Background(), alicePath).GetWithTimeout(timeout)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.Revision)
}

func TestOpenUnknownPlugin(t *testing.T) {
	c := newConfig(t, carsAndPeople)
	c.Storage.Plugin = "tape"

	_, err := datastore.Open(c, zaptest.NewLogger(t))
	require.ErrorIs(t, err, datastore.ErrNoSuchPlugin)
}
