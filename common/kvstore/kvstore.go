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
	"context"
	"errors"
	"io"
)

const (
	defaultCF = "default"

	RocksdbLsmKVType = LsmKVType("rocksdb")
	BadgerLsmKVType  = LsmKVType("badger")

	FIFOStyle      = CompactionStyle("fifo")
	LevelStyle     = CompactionStyle("level")
	UniversalStyle = CompactionStyle("universal")
)

var (
	ErrNotFound       = errors.New("key not found")
	ErrKVTypeNotFound = errors.New("kv type not found")
	ErrColumnNotFound = errors.New("column family not found")
)

type (
	CF              string
	LsmKVType       string
	CompactionStyle string

	Store interface {
		Get(ctx context.Context, col CF, key []byte) (value ValueGetter, err error)
		GetRaw(ctx context.Context, col CF, key []byte) (value []byte, err error)
		SetRaw(ctx context.Context, col CF, key []byte, value []byte) error
		Delete(ctx context.Context, col CF, key []byte) error
		List(ctx context.Context, col CF, prefix []byte, marker []byte) ListReader
		Write(ctx context.Context, batch WriteBatch) error
		NewWriteBatch() (writeBatch WriteBatch)
		FlushCF(ctx context.Context, col CF) error
		Stats(ctx context.Context) (Stats, error)
		Close()
	}
	ListReader interface {
		ReadNext() (key KeyGetter, val ValueGetter, err error)
		Close()
	}
	KeyGetter interface {
		Key() []byte
		Close()
	}
	ValueGetter interface {
		Value() []byte
		Read([]byte) (n int, err error)
		Size() int
		Close()
	}
	WriteBatch interface {
		DeleteRange(col CF, startKey, endKey []byte)
		Close()
	}

	Stats struct {
		Used uint64
	}
	Option struct {
		Sync            bool            `json:"sync"`
		InMemory        bool            `json:"in_memory"`
		ColumnFamily    []CF            `json:"column_family"`
		CreateIfMissing bool            `json:"create_if_missing"`
		BlockSize       int             `json:"block_size"`
		BlockCache      uint64          `json:"block_cache"`
		MaxOpenFiles    int             `json:"max_open_files"`
		WriteBufferSize int             `json:"write_buffer_size"`
		CompactionStyle CompactionStyle `json:"compaction_style"`
	}
)

func NewKVStore(ctx context.Context, path string, lsmType LsmKVType, option *Option) (Store, error) {
	switch lsmType {
	case RocksdbLsmKVType:
		return newRocksdb(ctx, path, option)
	case BadgerLsmKVType:
		return newBadger(ctx, path, option)
	default:
		return nil, ErrKVTypeNotFound
	}
}

func (cf CF) String() string {
	return string(cf)
}

// bytesValue serves values that were already copied out of the engine.
type bytesValue struct {
	index int
	data  []byte
}

func (bv *bytesValue) Value() []byte {
	return bv.data
}

func (bv *bytesValue) Read(b []byte) (n int, err error) {
	if bv.index >= len(bv.data) {
		return 0, io.EOF
	}
	n = copy(b, bv.data[bv.index:])
	bv.index += n
	return
}

func (bv *bytesValue) Size() int {
	return len(bv.data)
}

func (bv *bytesValue) Close() {}

type bytesKey []byte

func (bk bytesKey) Key() []byte {
	return bk
}

func (bk bytesKey) Close() {}
