package bbolt

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrife/arbor/storage/kv"
	"github.com/jrife/arbor/storage/kv/keys"
	"github.com/jrife/arbor/utils/uuid"
	bolt "go.etcd.io/bbolt"
)

const (
	DriverName = "bbolt"
)

var (
	dataBucket  = []byte{0}
	metadataKey = []byte{1}
)

func Plugins() []kv.Plugin {
	return []kv.Plugin{
		&BBoltPlugin{},
	}
}

type BBoltPlugin struct {
}

func (plugin *BBoltPlugin) Name() string {
	return DriverName
}

func (plugin *BBoltPlugin) NewRootStore(options kv.PluginOptions) (kv.RootStore, error) {
	var config BBoltRootStoreConfig

	if path, ok := options["path"]; !ok {
		return nil, fmt.Errorf("\"path\" is required")
	} else if pathString, ok := path.(string); !ok {
		return nil, fmt.Errorf("\"path\" must be a string")
	} else {
		config.Path = pathString
	}

	return New(config)
}

func (plugin *BBoltPlugin) NewTempRootStore() (kv.RootStore, error) {
	return plugin.NewRootStore(kv.PluginOptions{
		"path": filepath.Join(os.TempDir(), fmt.Sprintf("bbolt-%s", uuid.MustUUID())),
	})
}

type BBoltRootStoreConfig struct {
	Path string
}

var _ kv.RootStore = (*BBoltRootStore)(nil)

// New opens or creates the bbolt database at config.Path
func New(config BBoltRootStoreConfig) (*BBoltRootStore, error) {
	if dir := filepath.Dir(config.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("could not create directory %s: %w", dir, err)
		}
	}

	db, err := bolt.Open(config.Path, 0666, nil)

	if err != nil {
		return nil, fmt.Errorf("could not open bbolt store at %s: %w", config.Path, err)
	}

	return &BBoltRootStore{db: db}, nil
}

type BBoltRootStore struct {
	mu     sync.RWMutex
	db     *bolt.DB
	closed bool
}

func (rootStore *BBoltRootStore) Close() error {
	rootStore.mu.Lock()
	defer rootStore.mu.Unlock()

	if rootStore.closed {
		return nil
	}

	rootStore.closed = true

	return rootStore.db.Close()
}

func (rootStore *BBoltRootStore) Delete() error {
	path := rootStore.db.Path()

	if err := rootStore.Close(); err != nil {
		return fmt.Errorf("could not close store: %w", err)
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("could not remove path %s: %w", path, err)
	}

	return nil
}

func (rootStore *BBoltRootStore) Stores() ([][]byte, error) {
	var names [][]byte

	err := rootStore.view(func(txn *bolt.Tx) error {
		return txn.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, append([]byte{}, name...))

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return names, nil
}

func (rootStore *BBoltRootStore) Store(name []byte) kv.Store {
	return &BBoltStore{rootStore: rootStore, name: append([]byte{}, name...)}
}

func (rootStore *BBoltRootStore) begin(writable bool) (*bolt.Tx, error) {
	rootStore.mu.RLock()
	defer rootStore.mu.RUnlock()

	if rootStore.closed {
		return nil, kv.ErrClosed
	}

	txn, err := rootStore.db.Begin(writable)

	if err != nil {
		return nil, wrapError("could not begin transaction", err)
	}

	return txn, nil
}

func (rootStore *BBoltRootStore) view(fn func(txn *bolt.Tx) error) error {
	txn, err := rootStore.begin(false)

	if err != nil {
		return err
	}

	defer txn.Rollback()

	return fn(txn)
}

func (rootStore *BBoltRootStore) update(fn func(txn *bolt.Tx) error) error {
	txn, err := rootStore.begin(true)

	if err != nil {
		return err
	}

	defer txn.Rollback()

	if err := fn(txn); err != nil {
		return err
	}

	if err := txn.Commit(); err != nil {
		return wrapError("could not commit transaction", err)
	}

	return nil
}

var _ kv.Store = (*BBoltStore)(nil)

type BBoltStore struct {
	rootStore *BBoltRootStore
	name      []byte
}

func (store *BBoltStore) Name() []byte {
	return store.name
}

func (store *BBoltStore) Create() error {
	return store.rootStore.update(func(txn *bolt.Tx) error {
		_, err := txn.CreateBucketIfNotExists(store.name)

		return err
	})
}

func (store *BBoltStore) Delete() error {
	return store.rootStore.update(func(txn *bolt.Tx) error {
		if err := txn.DeleteBucket(store.name); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}

		return nil
	})
}

func (store *BBoltStore) Partitions(names keys.Range, limit int) ([][]byte, error) {
	var partitions [][]byte

	err := store.rootStore.view(func(txn *bolt.Tx) error {
		bucket := txn.Bucket(store.name)

		if bucket == nil {
			return kv.ErrNoSuchStore
		}

		cursor := bucket.Cursor()

		var k, v []byte

		if names.Min != nil {
			k, v = cursor.Seek(names.Min)
		} else {
			k, v = cursor.First()
		}

		for ; k != nil && (limit < 0 || len(partitions) < limit); k, v = cursor.Next() {
			if names.Max != nil && bytes.Compare(k, names.Max) >= 0 {
				break
			}

			// Partitions are nested buckets, their value is nil
			if v == nil {
				partitions = append(partitions, append([]byte{}, k...))
			}
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	if partitions == nil {
		partitions = [][]byte{}
	}

	return partitions, nil
}

func (store *BBoltStore) Partition(name []byte) kv.Partition {
	return &BBoltPartition{store: store, name: append([]byte{}, name...)}
}

var _ kv.Partition = (*BBoltPartition)(nil)

type BBoltPartition struct {
	store *BBoltStore
	name  []byte
}

func (partition *BBoltPartition) Name() []byte {
	return partition.name
}

func (partition *BBoltPartition) Create(metadata []byte) error {
	return partition.store.rootStore.update(func(txn *bolt.Tx) error {
		storeBucket := txn.Bucket(partition.store.name)

		if storeBucket == nil {
			return kv.ErrNoSuchStore
		}

		if storeBucket.Bucket(partition.name) != nil {
			return nil
		}

		bucket, err := storeBucket.CreateBucket(partition.name)

		if err != nil {
			return fmt.Errorf("could not create partition bucket: %w", err)
		}

		if _, err := bucket.CreateBucket(dataBucket); err != nil {
			return fmt.Errorf("could not create data bucket: %w", err)
		}

		if len(metadata) > 0 {
			if err := bucket.Put(metadataKey, metadata); err != nil {
				return fmt.Errorf("could not write metadata: %w", err)
			}
		}

		return nil
	})
}

func (partition *BBoltPartition) Delete() error {
	return partition.store.rootStore.update(func(txn *bolt.Tx) error {
		storeBucket := txn.Bucket(partition.store.name)

		if storeBucket == nil {
			return kv.ErrNoSuchStore
		}

		if err := storeBucket.DeleteBucket(partition.name); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}

		return nil
	})
}

func (partition *BBoltPartition) Begin(writable bool) (kv.Transaction, error) {
	txn, err := partition.store.rootStore.begin(writable)

	if err != nil {
		return nil, err
	}

	storeBucket := txn.Bucket(partition.store.name)

	if storeBucket == nil {
		txn.Rollback()

		return nil, kv.ErrNoSuchStore
	}

	bucket := storeBucket.Bucket(partition.name)

	if bucket == nil {
		txn.Rollback()

		return nil, kv.ErrNoSuchPartition
	}

	return &BBoltTransaction{txn: txn, bucket: bucket, data: bucket.Bucket(dataBucket)}, nil
}

var _ kv.Transaction = (*BBoltTransaction)(nil)

type BBoltTransaction struct {
	txn    *bolt.Tx
	bucket *bolt.Bucket
	data   *bolt.Bucket
	done   bool
}

func (transaction *BBoltTransaction) Put(key, value []byte) error {
	if transaction.done {
		return kv.ErrTxnDone
	}

	if len(key) == 0 {
		return kv.ErrEmptyKey
	}

	if len(value) == 0 {
		return kv.ErrEmptyValue
	}

	return wrapError("could not put key", transaction.data.Put(key, value))
}

func (transaction *BBoltTransaction) Delete(key []byte) error {
	if transaction.done {
		return kv.ErrTxnDone
	}

	if len(key) == 0 {
		return kv.ErrEmptyKey
	}

	return wrapError("could not delete key", transaction.data.Delete(key))
}

func (transaction *BBoltTransaction) Get(key []byte) ([]byte, error) {
	if transaction.done {
		return nil, kv.ErrTxnDone
	}

	if len(key) == 0 {
		return nil, kv.ErrEmptyKey
	}

	value := transaction.data.Get(key)

	if value == nil {
		return nil, nil
	}

	return append([]byte{}, value...), nil
}

func (transaction *BBoltTransaction) Keys(keys keys.Range, order kv.SortOrder) (kv.Iterator, error) {
	if transaction.done {
		return nil, kv.ErrTxnDone
	}

	cursor := transaction.data.Cursor()
	snapshot := []kv.KV{}

	if order == kv.SortOrderDesc {
		var k, v []byte

		if keys.Max != nil {
			k, v = cursor.Seek(keys.Max)

			// Max is exclusive
			if k == nil {
				k, v = cursor.Last()
			} else {
				k, v = cursor.Prev()
			}
		} else {
			k, v = cursor.Last()
		}

		for ; k != nil; k, v = cursor.Prev() {
			if keys.Min != nil && bytes.Compare(k, keys.Min) < 0 {
				break
			}

			snapshot = append(snapshot, kv.KV{append([]byte{}, k...), append([]byte{}, v...)})
		}
	} else {
		var k, v []byte

		if keys.Min != nil {
			k, v = cursor.Seek(keys.Min)
		} else {
			k, v = cursor.First()
		}

		for ; k != nil; k, v = cursor.Next() {
			if keys.Max != nil && bytes.Compare(k, keys.Max) >= 0 {
				break
			}

			snapshot = append(snapshot, kv.KV{append([]byte{}, k...), append([]byte{}, v...)})
		}
	}

	return &iterator{kvs: snapshot, i: -1}, nil
}

func (transaction *BBoltTransaction) Metadata() ([]byte, error) {
	if transaction.done {
		return nil, kv.ErrTxnDone
	}

	metadata := transaction.bucket.Get(metadataKey)

	if metadata == nil {
		return nil, nil
	}

	return append([]byte{}, metadata...), nil
}

func (transaction *BBoltTransaction) SetMetadata(metadata []byte) error {
	if transaction.done {
		return kv.ErrTxnDone
	}

	if len(metadata) == 0 {
		return wrapError("could not clear metadata", transaction.bucket.Delete(metadataKey))
	}

	return wrapError("could not set metadata", transaction.bucket.Put(metadataKey, metadata))
}

func (transaction *BBoltTransaction) Commit() error {
	if transaction.done {
		return kv.ErrTxnDone
	}

	transaction.done = true

	return wrapError("could not commit transaction", transaction.txn.Commit())
}

func (transaction *BBoltTransaction) Rollback() error {
	if transaction.done {
		return nil
	}

	transaction.done = true

	return wrapError("could not roll back transaction", transaction.txn.Rollback())
}

type iterator struct {
	kvs []kv.KV
	i   int
}

func (iter *iterator) Next() bool {
	if iter.i+1 >= len(iter.kvs) {
		iter.i = len(iter.kvs)

		return false
	}

	iter.i++

	return true
}

func (iter *iterator) Key() []byte {
	if iter.i < 0 || iter.i >= len(iter.kvs) {
		return nil
	}

	return iter.kvs[iter.i].Key()
}

func (iter *iterator) Value() []byte {
	if iter.i < 0 || iter.i >= len(iter.kvs) {
		return nil
	}

	return iter.kvs[iter.i].Value()
}

func (iter *iterator) Error() error {
	return nil
}

func wrapError(wrap string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bolt.ErrDatabaseNotOpen):
		return kv.ErrClosed
	case errors.Is(err, bolt.ErrTxNotWritable):
		return kv.ErrReadOnly
	case errors.Is(err, bolt.ErrTxClosed):
		return kv.ErrTxnDone
	}

	return fmt.Errorf("%s: %w", wrap, err)
}
