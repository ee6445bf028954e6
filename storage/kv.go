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
	"encoding/binary"
	"io"
	"sync/atomic"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"

	"github.com/cubefs/mdstore/common/kvstore"
	"github.com/cubefs/mdstore/metrics"
	"github.com/cubefs/mdstore/util"
	"github.com/cubefs/mdstore/util/limiter"
)

const boxCF = kvstore.CF("boxes")

// kvStorage keeps every saved payload under key <box id><generation>. The
// generation is carried in Location.Offset so a resave never aliases the
// payload it replaces.
type kvStorage struct {
	kvStore    kvstore.Store
	limiter    limiter.Limiter
	generation uint64

	saves uint64
	loads uint64
}

func NewKVStorage(ctx context.Context, cfg *Config) (Storage, error) {
	span := trace.SpanFromContextSafe(ctx)
	lsmType := cfg.KVType
	if lsmType == "" {
		lsmType = kvstore.BadgerLsmKVType
	}
	option := cfg.KVOption
	option.CreateIfMissing = true
	option.ColumnFamily = append(option.ColumnFamily, boxCF)

	kvStorePath := cfg.Path + "/kv"
	kvStore, err := kvstore.NewKVStore(ctx, kvStorePath, lsmType, &option)
	if err != nil {
		return nil, errors.Info(err, "open kv storage", kvStorePath)
	}
	// pages of a previous process are unreachable, drop them like the file backend does
	batch := kvStore.NewWriteBatch()
	batch.DeleteRange(boxCF, minBoxKey, maxBoxKey)
	err = kvStore.Write(ctx, batch)
	batch.Close()
	if err != nil {
		kvStore.Close()
		return nil, errors.Info(err, "purge kv storage", kvStorePath)
	}
	span.Infof("kv storage opened, engine: %s, path: %s", lsmType, kvStorePath)
	return &kvStorage{kvStore: kvStore, limiter: limiter.NewLimiter(cfg.Limit)}, nil
}

var (
	minBoxKey = make([]byte, boxKeyLen)
	// maxBoxKey sorts after every box key.
	maxBoxKey = bytes.Repeat([]byte{0xff}, boxKeyLen+1)
)

const boxKeyLen = 16

func boxKey(id, generation uint64) []byte {
	key := make([]byte, boxKeyLen)
	binary.BigEndian.PutUint64(key, id)
	binary.BigEndian.PutUint64(key[8:], generation)
	return key
}

func (s *kvStorage) Save(ctx context.Context, id uint64, data []byte) (Location, error) {
	if err := s.limiter.AcquireWrite(ctx); err != nil {
		return Location{}, err
	}
	defer s.limiter.ReleaseWrite()
	if err := s.limiter.Writer(ctx, nil).WaitN(len(data)); err != nil {
		return Location{}, err
	}

	start := time.Now()
	loc := Location{Offset: atomic.AddUint64(&s.generation, 1), Length: uint64(len(data))}
	if err := s.kvStore.SetRaw(ctx, boxCF, boxKey(id, loc.Offset), data); err != nil {
		return Location{}, err
	}
	atomic.AddUint64(&s.saves, 1)
	metrics.StorageBytes.WithLabelValues(string(KVType), "save").Add(float64(len(data)))
	metrics.StorageLatency.WithLabelValues(string(KVType), "save").Observe(time.Since(start).Seconds())
	return loc, nil
}

func (s *kvStorage) Load(ctx context.Context, id uint64, loc Location) ([]byte, error) {
	if err := s.limiter.AcquireRead(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.ReleaseRead()

	start := time.Now()
	vg, err := s.kvStore.Get(ctx, boxCF, boxKey(id, loc.Offset))
	if err != nil {
		return nil, err
	}
	defer vg.Close()
	if uint64(vg.Size()) != loc.Length {
		return nil, ErrInvalidLocation
	}

	buf := util.GetBuffer(vg.Size())
	tr := &util.TimeReader{R: s.limiter.Reader(ctx, vg)}
	if _, err = io.ReadFull(tr, buf); err != nil {
		util.PutBuffer(buf)
		return nil, err
	}
	atomic.AddUint64(&s.loads, 1)
	metrics.StorageBytes.WithLabelValues(string(KVType), "load").Add(float64(tr.Bytes()))
	metrics.StorageLatency.WithLabelValues(string(KVType), "load").Observe(time.Since(start).Seconds())
	return buf, nil
}

func (s *kvStorage) Free(ctx context.Context, id uint64, loc Location) error {
	return s.kvStore.Delete(ctx, boxCF, boxKey(id, loc.Offset))
}

func (s *kvStorage) Stats(ctx context.Context) (Stats, error) {
	kvStats, err := s.kvStore.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	pages, err := s.countPages(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Type:  KVType,
		Pages: pages,
		Used:  kvStats.Used,
		Saves: atomic.LoadUint64(&s.saves),
		Loads: atomic.LoadUint64(&s.loads),
	}, nil
}

func (s *kvStorage) countPages(ctx context.Context) (int, error) {
	lr := s.kvStore.List(ctx, boxCF, nil, nil)
	defer lr.Close()
	n := 0
	for {
		kg, vg, err := lr.ReadNext()
		if err != nil {
			return 0, err
		}
		if kg == nil {
			return n, nil
		}
		kg.Close()
		vg.Close()
		n++
	}
}

func (s *kvStorage) Limiter() limiter.Limiter {
	return s.limiter
}

func (s *kvStorage) Close() error {
	if err := s.kvStore.FlushCF(context.Background(), boxCF); err != nil {
		trace.SpanFromContextSafe(context.Background()).Warnf("flush kv storage failed: %s", errors.Detail(err))
	}
	s.kvStore.Close()
	return nil
}
