package memory

import (
	"sort"
	"sync"

	"github.com/jrife/arbor/storage/kv"
	"github.com/jrife/arbor/storage/kv/keys"
)

const (
	DriverName = "memory"
)

func Plugins() []kv.Plugin {
	return []kv.Plugin{
		&MemoryPlugin{},
	}
}

// MemoryPlugin is a kv plugin whose root stores
// live entirely in memory
type MemoryPlugin struct {
}

func (plugin *MemoryPlugin) Name() string {
	return DriverName
}

func (plugin *MemoryPlugin) NewRootStore(options kv.PluginOptions) (kv.RootStore, error) {
	return New(), nil
}

func (plugin *MemoryPlugin) NewTempRootStore() (kv.RootStore, error) {
	return New(), nil
}

var _ kv.RootStore = (*RootStore)(nil)

// RootStore is an in-memory kv.RootStore
type RootStore struct {
	mu     sync.RWMutex
	txns   sync.WaitGroup
	closed bool
	stores map[string]*store
}

type store struct {
	partitions map[string]*partition
}

type partition struct {
	mu       sync.RWMutex
	data     *kv.FakeMap
	metadata []byte
}

// New creates an empty in-memory root store
func New() *RootStore {
	return &RootStore{
		stores: make(map[string]*store),
	}
}

func (rootStore *RootStore) Close() error {
	rootStore.mu.Lock()
	rootStore.closed = true
	rootStore.mu.Unlock()

	rootStore.txns.Wait()

	return nil
}

func (rootStore *RootStore) Delete() error {
	if err := rootStore.Close(); err != nil {
		return err
	}

	rootStore.mu.Lock()
	defer rootStore.mu.Unlock()

	rootStore.stores = make(map[string]*store)

	return nil
}

func (rootStore *RootStore) Stores() ([][]byte, error) {
	rootStore.mu.RLock()
	defer rootStore.mu.RUnlock()

	if rootStore.closed {
		return nil, kv.ErrClosed
	}

	names := make([]string, 0, len(rootStore.stores))

	for name := range rootStore.stores {
		names = append(names, name)
	}

	return sortedNames(names, keys.All(), -1), nil
}

func (rootStore *RootStore) Store(name []byte) kv.Store {
	return &storeHandle{root: rootStore, name: string(name)}
}

var _ kv.Store = (*storeHandle)(nil)

type storeHandle struct {
	root *RootStore
	name string
}

func (handle *storeHandle) Name() []byte {
	return []byte(handle.name)
}

func (handle *storeHandle) Create() error {
	handle.root.mu.Lock()
	defer handle.root.mu.Unlock()

	if handle.root.closed {
		return kv.ErrClosed
	}

	if _, ok := handle.root.stores[handle.name]; !ok {
		handle.root.stores[handle.name] = &store{partitions: make(map[string]*partition)}
	}

	return nil
}

func (handle *storeHandle) Delete() error {
	handle.root.mu.Lock()
	defer handle.root.mu.Unlock()

	if handle.root.closed {
		return kv.ErrClosed
	}

	delete(handle.root.stores, handle.name)

	return nil
}

func (handle *storeHandle) Partitions(names keys.Range, limit int) ([][]byte, error) {
	handle.root.mu.RLock()
	defer handle.root.mu.RUnlock()

	if handle.root.closed {
		return nil, kv.ErrClosed
	}

	s, ok := handle.root.stores[handle.name]

	if !ok {
		return nil, kv.ErrNoSuchStore
	}

	partitionNames := make([]string, 0, len(s.partitions))

	for name := range s.partitions {
		partitionNames = append(partitionNames, name)
	}

	return sortedNames(partitionNames, names, limit), nil
}

func (handle *storeHandle) Partition(name []byte) kv.Partition {
	return &partitionHandle{root: handle.root, store: handle.name, name: string(name)}
}

var _ kv.Partition = (*partitionHandle)(nil)

type partitionHandle struct {
	root  *RootStore
	store string
	name  string
}

func (handle *partitionHandle) Name() []byte {
	return []byte(handle.name)
}

func (handle *partitionHandle) Create(metadata []byte) error {
	handle.root.mu.Lock()
	defer handle.root.mu.Unlock()

	if handle.root.closed {
		return kv.ErrClosed
	}

	s, ok := handle.root.stores[handle.store]

	if !ok {
		return kv.ErrNoSuchStore
	}

	if _, ok := s.partitions[handle.name]; !ok {
		s.partitions[handle.name] = &partition{data: kv.NewFakeMap(), metadata: append([]byte{}, metadata...)}
	}

	return nil
}

func (handle *partitionHandle) Delete() error {
	handle.root.mu.Lock()
	defer handle.root.mu.Unlock()

	if handle.root.closed {
		return kv.ErrClosed
	}

	s, ok := handle.root.stores[handle.store]

	if !ok {
		return kv.ErrNoSuchStore
	}

	delete(s.partitions, handle.name)

	return nil
}

func (handle *partitionHandle) Begin(writable bool) (kv.Transaction, error) {
	handle.root.mu.RLock()

	if handle.root.closed {
		handle.root.mu.RUnlock()

		return nil, kv.ErrClosed
	}

	s, ok := handle.root.stores[handle.store]

	if !ok {
		handle.root.mu.RUnlock()

		return nil, kv.ErrNoSuchStore
	}

	p, ok := s.partitions[handle.name]

	if !ok {
		handle.root.mu.RUnlock()

		return nil, kv.ErrNoSuchPartition
	}

	handle.root.txns.Add(1)
	handle.root.mu.RUnlock()

	if writable {
		p.mu.Lock()
	} else {
		p.mu.RLock()
	}

	return &transaction{
		root:      handle.root,
		partition: p,
		writable:  writable,
		undo:      make(map[string][]byte),
	}, nil
}

var _ kv.Transaction = (*transaction)(nil)

// transaction applies writes directly to the partition
// while holding its write lock and keeps an undo log
// so that Rollback can restore the previous state.
type transaction struct {
	root      *RootStore
	partition *partition
	writable  bool
	done      bool
	undo      map[string][]byte
	undoMeta  []byte
	metaDirty bool
}

func (txn *transaction) Put(key, value []byte) error {
	if err := txn.checkWrite(); err != nil {
		return err
	}

	if len(key) == 0 {
		return kv.ErrEmptyKey
	}

	if len(value) == 0 {
		return kv.ErrEmptyValue
	}

	if err := txn.recordUndo(key); err != nil {
		return err
	}

	return txn.partition.data.Put(key, value)
}

func (txn *transaction) Delete(key []byte) error {
	if err := txn.checkWrite(); err != nil {
		return err
	}

	if len(key) == 0 {
		return kv.ErrEmptyKey
	}

	if err := txn.recordUndo(key); err != nil {
		return err
	}

	return txn.partition.data.Delete(key)
}

func (txn *transaction) Get(key []byte) ([]byte, error) {
	if txn.done {
		return nil, kv.ErrTxnDone
	}

	return txn.partition.data.Get(key)
}

func (txn *transaction) Keys(keys keys.Range, order kv.SortOrder) (kv.Iterator, error) {
	if txn.done {
		return nil, kv.ErrTxnDone
	}

	return txn.partition.data.Keys(keys, order)
}

func (txn *transaction) Metadata() ([]byte, error) {
	if txn.done {
		return nil, kv.ErrTxnDone
	}

	return append([]byte{}, txn.partition.metadata...), nil
}

func (txn *transaction) SetMetadata(metadata []byte) error {
	if err := txn.checkWrite(); err != nil {
		return err
	}

	if !txn.metaDirty {
		txn.undoMeta = txn.partition.metadata
		txn.metaDirty = true
	}

	txn.partition.metadata = append([]byte{}, metadata...)

	return nil
}

func (txn *transaction) Commit() error {
	if txn.done {
		return kv.ErrTxnDone
	}

	txn.finish()

	return nil
}

func (txn *transaction) Rollback() error {
	if txn.done {
		return nil
	}

	if txn.writable {
		for key, value := range txn.undo {
			if value == nil {
				txn.partition.data.Delete([]byte(key))
			} else {
				txn.partition.data.Put([]byte(key), value)
			}
		}

		if txn.metaDirty {
			txn.partition.metadata = txn.undoMeta
		}
	}

	txn.finish()

	return nil
}

func (txn *transaction) finish() {
	txn.done = true

	if txn.writable {
		txn.partition.mu.Unlock()
	} else {
		txn.partition.mu.RUnlock()
	}

	txn.root.txns.Done()
}

func (txn *transaction) checkWrite() error {
	if txn.done {
		return kv.ErrTxnDone
	}

	if !txn.writable {
		return kv.ErrReadOnly
	}

	return nil
}

func (txn *transaction) recordUndo(key []byte) error {
	if _, ok := txn.undo[string(key)]; ok {
		return nil
	}

	prev, err := txn.partition.data.Get(key)

	if err != nil {
		return err
	}

	txn.undo[string(key)] = prev

	return nil
}

func sortedNames(names []string, r keys.Range, limit int) [][]byte {
	sort.Strings(names)

	result := [][]byte{}

	for _, name := range names {
		if limit >= 0 && len(result) >= limit {
			break
		}

		if r.Contains([]byte(name)) {
			result = append(result, []byte(name))
		}
	}

	return result
}
