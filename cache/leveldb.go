package cache

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// leveldb key layout:
//
//	n:<name>             -> creation sequence (uint64, big endian)
//	e:<name>\x00<key>    -> stored response
var (
	namePrefix  = []byte("n:")
	entryPrefix = []byte("e:")
)

// LevelDBProvider stores caches in a leveldb database.
// Every write is a single leveldb batch.
type LevelDBProvider struct {
	db *leveldb.DB

	mu  sync.Mutex
	seq uint64
}

func NewLevelDBProvider(path string) (*LevelDBProvider, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	l := &LevelDBProvider{db: db}
	if err := l.loadSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *LevelDBProvider) loadSeq() error {
	it := l.db.NewIterator(util.BytesPrefix(namePrefix), nil)
	defer it.Release()
	for it.Next() {
		if seq := binary.BigEndian.Uint64(it.Value()); seq > l.seq {
			l.seq = seq
		}
	}
	return it.Error()
}

func nameKey(name string) []byte {
	return append(append([]byte{}, namePrefix...), name...)
}

func entriesPrefix(name string) []byte {
	b := append(append([]byte{}, entryPrefix...), name...)
	return append(b, 0)
}

func entryKey(name, key string) []byte {
	return append(entriesPrefix(name), key...)
}

// createInBatch adds the cache to the batch if it does not exist.
// Callers must hold l.mu.
func (l *LevelDBProvider) createInBatch(batch *leveldb.Batch, name string) error {
	ok, err := l.db.Has(nameKey(name), nil)
	if err != nil || ok {
		return err
	}
	l.seq++
	seq := make([]byte, 8)
	binary.BigEndian.PutUint64(seq, l.seq)
	batch.Put(nameKey(name), seq)
	return nil
}

func (l *LevelDBProvider) Create(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := new(leveldb.Batch)
	if err := l.createInBatch(batch, name); err != nil {
		return err
	}
	if batch.Len() == 0 {
		return nil
	}
	return l.db.Write(batch, nil)
}

func (l *LevelDBProvider) PutAll(ctx context.Context, name string, entries []Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := new(leveldb.Batch)
	if err := l.createInBatch(batch, name); err != nil {
		return err
	}
	for _, e := range entries {
		batch.Put(entryKey(name, e.Key), e.Bytes)
	}
	return l.db.Write(batch, nil)
}

func (l *LevelDBProvider) Get(ctx context.Context, name, key string) ([]byte, error) {
	b, err := l.db.Get(entryKey(name, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return b, err
}

func (l *LevelDBProvider) Keys(ctx context.Context, name string) ([]string, error) {
	snap, err := l.db.GetSnapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()
	if ok, err := snap.Has(nameKey(name), nil); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrNotFound
	}
	prefix := entriesPrefix(name)
	it := snap.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	keys := make([]string, 0)
	for it.Next() {
		keys = append(keys, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	return keys, it.Error()
}

func (l *LevelDBProvider) Names(ctx context.Context, prefix string) ([]string, error) {
	it := l.db.NewIterator(util.BytesPrefix(nameKey(prefix)), nil)
	defer it.Release()
	type named struct {
		name string
		seq  uint64
	}
	items := make([]named, 0)
	for it.Next() {
		items = append(items, named{
			name: string(bytes.TrimPrefix(it.Key(), namePrefix)),
			seq:  binary.BigEndian.Uint64(it.Value()),
		})
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].seq < items[j].seq
	})
	names := make([]string, len(items))
	for i, item := range items {
		names[i] = item.name
	}
	return names, nil
}

func (l *LevelDBProvider) Delete(ctx context.Context, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ok, err := l.db.Has(nameKey(name), nil)
	if err != nil || !ok {
		return false, err
	}
	batch := new(leveldb.Batch)
	batch.Delete(nameKey(name))
	it := l.db.NewIterator(util.BytesPrefix(entriesPrefix(name)), nil)
	for it.Next() {
		batch.Delete(append([]byte{}, it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, err
	}
	if err := l.db.Write(batch, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (l *LevelDBProvider) Close() error {
	return l.db.Close()
}
