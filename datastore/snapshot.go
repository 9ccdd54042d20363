package datastore

import (
	"context"
	"fmt"
	"io"

	"github.com/jrife/arbor/commit"
	"github.com/jrife/arbor/storage/kv/marshaled"
	"github.com/jrife/arbor/tree"
	"github.com/jrife/arbor/utils/lvstream"
	"go.uber.org/zap"
)

// snapshotRecord is one stored subtree in an export
type snapshotRecord struct {
	Path tree.Path `msgpack:"p"`
	Node tree.Node `msgpack:"n"`
}

// Commit drives cohort through canCommit, preCommit and commit
// with ctx bounding every phase. Each phase is awaited until the
// cohort resolves it, which it does once ctx is done, so a timeout
// is reported as a *commit.PhaseTimeoutError.
func Commit(ctx context.Context, cohort *commit.Cohort) error {
	wait := context.WithoutCancel(ctx)

	if _, err := cohort.CanCommit(ctx).Get(wait); err != nil {
		return err
	}

	if _, err := cohort.PreCommit(ctx).Get(wait); err != nil {
		return err
	}

	if _, err := cohort.Commit(ctx).Get(wait); err != nil {
		return err
	}

	return nil
}

// Export writes every subtree stored by the local shards to w as a
// stream of length-prefixed msgpack records. Each shard is read at a
// single revision. Shards are read one after another, so the export
// is not a point-in-time snapshot across shards. It returns the
// number of records written.
func (ds *DataStore) Export(ctx context.Context, w io.Writer) (int, error) {
	var records []snapshotRecord

	for _, name := range ds.shardNames {
		snapshot, err := ds.shards[name].Snapshot(ctx).Get(ctx)

		if err != nil {
			return 0, fmt.Errorf("could not read shard %s: %w", name, err)
		}

		ds.logger.Debug("shard read for export", zap.String("shard", name), zap.Int64("revision", snapshot.Revision), zap.Int("subtrees", len(snapshot.Subtrees)))

		for _, subtree := range snapshot.Subtrees {
			records = append(records, snapshotRecord{Path: subtree.Path, Node: subtree.Node})
		}
	}

	count := 0
	encoder := lvstream.NewEncoder(func() ([]byte, error) {
		if count == len(records) {
			return nil, io.EOF
		}

		count++

		return marshaled.Marshal(records[count-1])
	}, nil)

	if _, err := io.Copy(w, encoder); err != nil {
		return count, fmt.Errorf("could not export: %w", err)
	}

	ds.logger.Info("export finished", zap.Int("records", count))

	return count, nil
}

// Import writes every record of an export read from r in a single
// transaction. It returns the number of records imported.
func (ds *DataStore) Import(ctx context.Context, r io.Reader) (int, error) {
	txn := ds.NewWriteOnlyTransaction()
	count := 0
	decoder := lvstream.NewDecoder(func(value []byte) error {
		var record snapshotRecord

		if err := marshaled.Unmarshal(value, &record); err != nil {
			return fmt.Errorf("could not decode record %d: %w", count, err)
		}

		txn.Write(record.Path, &record.Node)
		count++

		return nil
	})

	if _, err := io.Copy(decoder, r); err != nil {
		txn.Close()

		return 0, fmt.Errorf("could not import: %w", err)
	}

	if err := decoder.Close(); err != nil {
		txn.Close()

		return 0, fmt.Errorf("could not import: %w", err)
	}

	cohort, err := txn.Ready()

	if err != nil {
		return 0, err
	}

	if err := Commit(ctx, cohort); err != nil {
		return 0, fmt.Errorf("could not commit import: %w", err)
	}

	ds.logger.Info("import finished", zap.Int("records", count))

	return count, nil
}
