// Copyright 2023 The Cuber Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package kvstore

import (
	"bytes"
	"context"
	"errors"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// badger has no column families, every column is a key prefix "<cf>\x00".
const cfSeparator = byte(0)

type (
	badgerStore struct {
		path string
		db   *badger.DB
		cols map[CF]struct{}
	}
	badgerListReader struct {
		txn      *badger.Txn
		iterator *badger.Iterator
		cfPrefix []byte
		prefix   []byte
		isFirst  bool
	}
	// badgerRange deletes keys within [start, end).
	badgerRange struct {
		start []byte
		end   []byte
	}
	badgerWriteBatch struct {
		ranges []badgerRange
	}
)

func newBadger(ctx context.Context, path string, option *Option) (Store, error) {
	var opts badger.Options
	if option.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if path == "" {
			return nil, errors.New("path is empty")
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil).WithSyncWrites(option.Sync)
	if option.BlockCache > 0 {
		opts = opts.WithBlockCacheSize(int64(option.BlockCache))
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	cols := map[CF]struct{}{defaultCF: {}}
	for _, col := range option.ColumnFamily {
		cols[col] = struct{}{}
	}
	return &badgerStore{path: path, db: db, cols: cols}, nil
}

// hasColumn reports whether col was declared when the store was opened.
func (s *badgerStore) hasColumn(col CF) bool {
	if col == "" {
		return true
	}
	_, ok := s.cols[col]
	return ok
}

func (s *badgerStore) Get(ctx context.Context, col CF, key []byte) (ValueGetter, error) {
	value, err := s.GetRaw(ctx, col, key)
	if err != nil {
		return nil, err
	}
	return &bytesValue{data: value}, nil
}

func (s *badgerStore) GetRaw(ctx context.Context, col CF, key []byte) (value []byte, err error) {
	fullKey, err := s.encodeKey(col, key)
	if err != nil {
		return nil, err
	}
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fullKey)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	return
}

func (s *badgerStore) SetRaw(ctx context.Context, col CF, key []byte, value []byte) error {
	fullKey, err := s.encodeKey(col, key)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(fullKey, value)
	})
}

func (s *badgerStore) Delete(ctx context.Context, col CF, key []byte) error {
	fullKey, err := s.encodeKey(col, key)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(fullKey)
	})
}

func (s *badgerStore) List(ctx context.Context, col CF, prefix []byte, marker []byte) ListReader {
	cfPrefix := s.columnPrefix(col)
	txn := s.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = cfPrefix
	it := txn.NewIterator(opts)

	lr := &badgerListReader{
		txn:      txn,
		iterator: it,
		cfPrefix: cfPrefix,
		prefix:   prefix,
		isFirst:  true,
	}
	switch {
	case len(marker) > 0:
		it.Seek(append(append([]byte{}, cfPrefix...), marker...))
	case prefix != nil:
		it.Seek(append(append([]byte{}, cfPrefix...), prefix...))
	default:
		it.Rewind()
	}
	return lr
}

func (s *badgerStore) NewWriteBatch() WriteBatch {
	return &badgerWriteBatch{}
}

func (s *badgerStore) Write(ctx context.Context, batch WriteBatch) error {
	_batch := batch.(*badgerWriteBatch)
	return s.db.Update(func(txn *badger.Txn) error {
		for _, r := range _batch.ranges {
			if err := deleteRange(txn, r.start, r.end); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *badgerStore) FlushCF(ctx context.Context, col CF) error {
	if s.db.Opts().InMemory {
		return nil
	}
	return s.db.Sync()
}

func (s *badgerStore) Stats(ctx context.Context) (Stats, error) {
	lsm, vlog := s.db.Size()
	return Stats{Used: uint64(lsm + vlog)}, nil
}

func (s *badgerStore) Close() {
	s.db.Close()
}

func (s *badgerStore) columnPrefix(col CF) []byte {
	return badgerKey(col, nil)
}

func (s *badgerStore) encodeKey(col CF, key []byte) ([]byte, error) {
	if !s.hasColumn(col) {
		return nil, ErrColumnNotFound
	}
	return badgerKey(col, key), nil
}

func deleteRange(txn *badger.Txn, start, end []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Seek(start); it.Valid(); it.Next() {
		k := it.Item().KeyCopy(nil)
		if bytes.Compare(k, end) >= 0 {
			break
		}
		keys = append(keys, k)
	}
	it.Close()
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (lr *badgerListReader) ReadNext() (key KeyGetter, val ValueGetter, err error) {
	if !lr.isFirst {
		lr.iterator.Next()
	}
	lr.isFirst = false
	if !lr.iterator.Valid() {
		return nil, nil, nil
	}
	item := lr.iterator.Item()
	k := item.KeyCopy(nil)[len(lr.cfPrefix):]
	if lr.prefix != nil && !bytes.HasPrefix(k, lr.prefix) {
		return nil, nil, nil
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, nil, err
	}
	return bytesKey(k), &bytesValue{data: v}, nil
}

func (lr *badgerListReader) Close() {
	lr.iterator.Close()
	lr.txn.Discard()
}

func (w *badgerWriteBatch) DeleteRange(col CF, startKey, endKey []byte) {
	w.ranges = append(w.ranges, badgerRange{start: badgerKey(col, startKey), end: badgerKey(col, endKey)})
}

func (w *badgerWriteBatch) Close() {
	w.ranges = nil
}

func badgerKey(col CF, key []byte) []byte {
	if col == "" {
		col = defaultCF
	}
	k := make([]byte, 0, len(col)+1+len(key))
	k = append(k, col...)
	k = append(k, cfSeparator)
	return append(k, key...)
}
