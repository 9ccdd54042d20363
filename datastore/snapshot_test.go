package datastore_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/jrife/arbor/commit"
	"github.com/jrife/arbor/datastore"
	"github.com/jrife/arbor/tree"
	"github.com/jrife/arbor/utils/lvstream"
	"github.com/stretchr/testify/require"
)

func TestExportImport(t *testing.T) {
	source := newReadyDataStore(t)

	txn := source.NewWriteOnlyTransaction()
	txn.Write(sedanPath, car("sedan", "blue"))
	txn.Write(peoplePath, tree.Container("people", person("alice", "30"), person("bob", "40")))
	txn.Write(testPath, tree.Container("test"))
	commitTransaction(t, txn)

	var buf bytes.Buffer
	count, err := source.Export(context.Background(), &buf)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	target := newReadyDataStore(t)
	count, err = target.Import(context.Background(), &buf)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	for _, path := range []tree.Path{carsPath, peoplePath, testPath} {
		require.True(t, tree.Equal(read(t, source, path), read(t, target, path)), "%s differs", path)
	}
}

func TestExportEmpty(t *testing.T) {
	ds := newReadyDataStore(t)

	var buf bytes.Buffer
	count, err := ds.Export(context.Background(), &buf)
	require.NoError(t, err)
	require.Equal(t, 0, count)
	require.Equal(t, 0, buf.Len())
}

func TestImportTruncated(t *testing.T) {
	ds := newReadyDataStore(t)

	_, err := ds.Import(context.Background(), bytes.NewReader([]byte{0, 0, 0, 9, 1}))
	require.ErrorIs(t, err, lvstream.ErrTruncated)
	require.Nil(t, read(t, ds, carsPath))
}

func TestImportGarbage(t *testing.T) {
	ds := newReadyDataStore(t)

	_, err := ds.Import(context.Background(), bytes.NewReader([]byte{0, 0, 0, 1, 0xc1}))
	require.Error(t, err)
}

func TestCommitHelper(t *testing.T) {
	ds := newReadyDataStore(t)
	txn := ds.NewWriteOnlyTransaction()
	txn.Write(carsPath, tree.Container("cars"))
	cohort, err := txn.Ready()
	require.NoError(t, err)

	require.NoError(t, datastore.Commit(context.Background(), cohort))
	require.NotNil(t, read(t, ds, carsPath))
}

func TestCommitHelperTimeout(t *testing.T) {
	ds := newReadyDataStore(t)

	// Holds the head of the cars-1 commit queue
	holder := ds.NewWriteOnlyTransaction()
	holder.Write(carsPath, tree.Container("cars"))
	holderCohort, err := holder.Ready()
	require.NoError(t, err)
	vote, err := holderCohort.CanCommit(context.Background()).GetWithTimeout(timeout)
	require.NoError(t, err)
	require.True(t, vote)

	txn := ds.NewWriteOnlyTransaction()
	txn.Write(sedanPath, car("sedan", "blue"))
	cohort, err := txn.Ready()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*100)
	defer cancel()

	err = datastore.Commit(ctx, cohort)
	require.ErrorIs(t, err, commit.ErrPhaseTimeout)

	var timedOut *commit.PhaseTimeoutError
	require.ErrorAs(t, err, &timedOut)
	require.Equal(t, commit.PhaseCanCommit, timedOut.Phase)
	require.Equal(t, []string{"cars-1"}, timedOut.Shards)

	_, err = holderCohort.Abort(context.Background()).GetWithTimeout(timeout)
	require.NoError(t, err)

	retry := ds.NewWriteOnlyTransaction()
	retry.Write(sedanPath, car("sedan", "blue"))
	commitTransaction(t, retry)
	require.True(t, tree.Equal(car("sedan", "blue"), read(t, ds, sedanPath)))
}
