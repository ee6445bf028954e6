// Copyright 2023 The CubeFS Authors.
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

package storage

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/mdstore/common/kvstore"
	"github.com/cubefs/mdstore/util"
	"github.com/cubefs/mdstore/util/limiter"
)

func forEachBackend(t *testing.T, fn func(t *testing.T, s Storage)) {
	configs := map[string]Config{
		"file":    {Type: FileType},
		"badger":  {Type: KVType, KVType: kvstore.BadgerLsmKVType},
		"rocksdb": {Type: KVType, KVType: kvstore.RocksdbLsmKVType},
	}
	for name, cfg := range configs {
		cfg := cfg
		t.Run(name, func(t *testing.T) {
			path, err := util.GenTmpPath()
			require.NoError(t, err)
			defer os.RemoveAll(path)
			cfg.Path = path

			s, err := NewStorage(context.Background(), &cfg)
			require.NoError(t, err)
			defer s.Close()
			fn(t, s)
		})
	}
}

func TestNewStorage_UnknownType(t *testing.T) {
	_, err := NewStorage(context.Background(), &Config{Type: "tape"})
	require.ErrorIs(t, err, ErrTypeNotFound)
}

func TestStorage_SaveLoadFree(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		a := bytes.Repeat([]byte{0xa}, 100)
		b := bytes.Repeat([]byte{0xb}, 300)

		locA, err := s.Save(ctx, 1, a)
		require.NoError(t, err)
		locB, err := s.Save(ctx, 2, b)
		require.NoError(t, err)
		require.Equal(t, uint64(100), locA.Length)
		require.Equal(t, uint64(300), locB.Length)

		got, err := s.Load(ctx, 1, locA)
		require.NoError(t, err)
		require.Equal(t, a, got)
		util.PutBuffer(got)

		// resaving the same box yields a distinct location
		locA2, err := s.Save(ctx, 1, a[:50])
		require.NoError(t, err)
		require.NotEqual(t, locA, locA2)
		require.NoError(t, s.Free(ctx, 1, locA))

		got, err = s.Load(ctx, 1, locA2)
		require.NoError(t, err)
		require.Equal(t, a[:50], got)
		util.PutBuffer(got)

		got, err = s.Load(ctx, 2, locB)
		require.NoError(t, err)
		require.Equal(t, b, got)
		util.PutBuffer(got)

		st, err := s.Stats(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(3), st.Saves)
		require.Equal(t, uint64(3), st.Loads)
		require.Equal(t, 2, st.Pages)

		require.NoError(t, s.Free(ctx, 2, locB))
		st, err = s.Stats(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, st.Pages)
		require.NotNil(t, s.Limiter())
	})
}

func TestKVStorage_ReopenDropsPages(t *testing.T) {
	for _, kvType := range []kvstore.LsmKVType{kvstore.BadgerLsmKVType, kvstore.RocksdbLsmKVType} {
		t.Run(string(kvType), func(t *testing.T) {
			path, err := util.GenTmpPath()
			require.NoError(t, err)
			defer os.RemoveAll(path)

			ctx := context.Background()
			cfg := &Config{Type: KVType, KVType: kvType, Path: path}
			s, err := NewStorage(ctx, cfg)
			require.NoError(t, err)
			for id := uint64(1); id <= 3; id++ {
				_, err = s.Save(ctx, id, []byte("page"))
				require.NoError(t, err)
			}
			st, err := s.Stats(ctx)
			require.NoError(t, err)
			require.Equal(t, 3, st.Pages)
			require.NoError(t, s.Close())

			s, err = NewStorage(ctx, cfg)
			require.NoError(t, err)
			defer s.Close()
			st, err = s.Stats(ctx)
			require.NoError(t, err)
			require.Equal(t, 0, st.Pages)
		})
	}
}

func TestStorage_LimiterConfig(t *testing.T) {
	path, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(path)

	ctx := context.Background()
	s, err := NewStorage(ctx, &Config{Type: FileType, Path: path, Limit: limiter.LimitConfig{ReadConcurrency: 1}})
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, 1, s.Limiter().GetConfig().ReadConcurrency)
	loc, err := s.Save(ctx, 1, []byte("abc"))
	require.NoError(t, err)
	got, err := s.Load(ctx, 1, loc)
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), got)
	util.PutBuffer(got)
	require.Equal(t, 0, s.Limiter().Status().ReadRunning)
}

func TestFileStorage_ReusesFreedSpace(t *testing.T) {
	path, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(path)

	ctx := context.Background()
	s, err := NewFileStorage(ctx, &Config{Path: path})
	require.NoError(t, err)
	defer s.Close()

	loc1, err := s.Save(ctx, 1, make([]byte, 64))
	require.NoError(t, err)
	_, err = s.Save(ctx, 2, make([]byte, 64))
	require.NoError(t, err)
	require.NoError(t, s.Free(ctx, 1, loc1))

	loc3, err := s.Save(ctx, 3, make([]byte, 32))
	require.NoError(t, err)
	require.Equal(t, uint64(0), loc3.Offset)

	_, err = s.Load(ctx, 9, Location{Offset: 1 << 20, Length: 8})
	require.ErrorIs(t, err, ErrInvalidLocation)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(96), st.Used)
	require.Equal(t, uint64(32), st.Free)
	require.Equal(t, 1, st.FreeSpans)

	require.NoError(t, s.Close())
	_, err = s.Save(ctx, 4, make([]byte, 8))
	require.ErrorIs(t, err, ErrClosed)
}

func TestAllocator(t *testing.T) {
	a := newAllocator(0)
	require.Equal(t, uint64(0), a.alloc(10))
	require.Equal(t, uint64(10), a.alloc(20))
	require.Equal(t, uint64(30), a.alloc(30))
	require.Equal(t, uint64(60), a.tail)

	// holes at [0,10) and [30,60) do not touch
	a.release(0, 10)
	require.Equal(t, 1, a.spans())
	a.release(30, 30)
	// [30,60) reached the tail
	require.Equal(t, uint64(30), a.tail)
	require.Equal(t, 1, a.spans())
	require.Equal(t, uint64(10), a.freeSize)

	// freeing the middle coalesces everything back into the tail
	a.release(10, 20)
	require.Equal(t, uint64(0), a.tail)
	require.Equal(t, 0, a.spans())
	require.Equal(t, uint64(0), a.freeSize)

	require.Equal(t, uint64(0), a.alloc(8))
	require.Equal(t, uint64(8), a.alloc(8))
	require.Equal(t, uint64(16), a.alloc(8))
	a.release(0, 8)
	a.release(8, 8)
	require.Equal(t, 1, a.spans())
	require.Equal(t, uint64(16), a.freeSize)
	// first fit splits the coalesced span
	require.Equal(t, uint64(0), a.alloc(4))
	require.Equal(t, uint64(12), a.freeSize)
	require.Equal(t, uint64(4), a.alloc(12))
	require.Equal(t, 0, a.spans())
}
