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
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/cubefs/mdstore/metrics"
	"github.com/cubefs/mdstore/util"
	"github.com/cubefs/mdstore/util/limiter"
)

const fileName = "boxes.data"

// fileStorage keeps every saved payload as a contiguous range of one flat file.
type fileStorage struct {
	path    string
	file    *os.File
	limiter limiter.Limiter

	lock   sync.Mutex
	alloc  *allocator
	pages  int
	closed bool

	saves uint64
	loads uint64
}

func NewFileStorage(ctx context.Context, cfg *Config) (Storage, error) {
	span := trace.SpanFromContextSafe(ctx)
	if cfg.Path == "" {
		return nil, os.ErrInvalid
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(cfg.Path, fileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	span.Infof("file storage opened at %s", path)
	return &fileStorage{
		path:    path,
		file:    f,
		limiter: limiter.NewLimiter(cfg.Limit),
		alloc:   newAllocator(0),
	}, nil
}

func (s *fileStorage) Save(ctx context.Context, id uint64, data []byte) (Location, error) {
	if err := s.limiter.AcquireWrite(ctx); err != nil {
		return Location{}, err
	}
	defer s.limiter.ReleaseWrite()

	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return Location{}, ErrClosed
	}
	loc := Location{Offset: s.alloc.alloc(uint64(len(data))), Length: uint64(len(data))}
	s.lock.Unlock()

	tw := &util.TimeWriter{W: io.NewOffsetWriter(s.file, int64(loc.Offset))}
	w := s.limiter.Writer(ctx, tw)
	if _, err := w.Write(data); err != nil {
		s.lock.Lock()
		s.alloc.release(loc.Offset, loc.Length)
		s.lock.Unlock()
		return Location{}, err
	}
	s.lock.Lock()
	s.pages++
	s.lock.Unlock()
	atomic.AddUint64(&s.saves, 1)
	metrics.StorageBytes.WithLabelValues(string(FileType), "save").Add(float64(tw.Bytes()))
	metrics.StorageLatency.WithLabelValues(string(FileType), "save").Observe(tw.GetCost().Seconds())
	trace.SpanFromContextSafe(ctx).Debugf("box[%d] saved at %s", id, loc)
	return loc, nil
}

func (s *fileStorage) Load(ctx context.Context, id uint64, loc Location) ([]byte, error) {
	if err := s.limiter.AcquireRead(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.ReleaseRead()

	s.lock.Lock()
	closed, tail := s.closed, s.alloc.tail
	s.lock.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if loc.End() > tail {
		return nil, ErrInvalidLocation
	}

	buf := util.GetBuffer(int(loc.Length))
	tr := &util.TimeReader{R: io.NewSectionReader(s.file, int64(loc.Offset), int64(loc.Length))}
	r := s.limiter.Reader(ctx, tr)
	if _, err := io.ReadFull(r, buf); err != nil {
		util.PutBuffer(buf)
		return nil, err
	}
	atomic.AddUint64(&s.loads, 1)
	metrics.StorageBytes.WithLabelValues(string(FileType), "load").Add(float64(tr.Bytes()))
	metrics.StorageLatency.WithLabelValues(string(FileType), "load").Observe(tr.GetCost().Seconds())
	return buf, nil
}

func (s *fileStorage) Free(ctx context.Context, id uint64, loc Location) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return ErrClosed
	}
	if loc.End() > s.alloc.tail {
		return ErrInvalidLocation
	}
	s.alloc.release(loc.Offset, loc.Length)
	s.pages--
	return nil
}

func (s *fileStorage) Stats(ctx context.Context) (Stats, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return Stats{
		Type:      FileType,
		Pages:     s.pages,
		Used:      s.alloc.tail - s.alloc.freeSize,
		Free:      s.alloc.freeSize,
		Saves:     atomic.LoadUint64(&s.saves),
		Loads:     atomic.LoadUint64(&s.loads),
		FreeSpans: s.alloc.spans(),
	}, nil
}

func (s *fileStorage) Limiter() limiter.Limiter {
	return s.limiter
}

func (s *fileStorage) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.file.Close(); err != nil {
		return err
	}
	return os.Remove(s.path)
}
