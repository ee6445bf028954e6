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

package limiter

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

type (
	Limiter interface {
		// AcquireRead and AcquireWrite wait for a free slot until ctx is done.
		AcquireRead(ctx context.Context) error
		ReleaseRead()
		AcquireWrite(ctx context.Context) error
		ReleaseWrite()
		Reader(ctx context.Context, r io.Reader) LimitReader
		Writer(ctx context.Context, w io.Writer) LimitWriter
		SetReadConcurrency(value uint32)
		SetWriteConcurrency(value uint32)
		SetReadMBPS(mbps int)
		SetWriteMBPS(mbps int)
		GetConfig() *LimitConfig
		Status() Status
	}
	LimitReader interface {
		WaitN(n int) error
		io.Reader
	}
	LimitWriter interface {
		WaitN(n int) error
		io.Writer
	}
	CountLimit interface {
		Running() int
		Acquire(ctx context.Context) error
		Release()
		SetLimit(limit uint32)
	}
	LimitConfig struct {
		ReadConcurrency  int `json:"read_concurrency"`
		WriteConcurrency int `json:"write_concurrency"`
		ReadMBPS         int `json:"read_mbps"`
		WriteMBPS        int `json:"write_mbps"`
	}
	Status struct {
		Config       LimitConfig `json:"config"`
		ReadRunning  int         `json:"read_running"`
		WriteRunning int         `json:"write_running"`
		ReadWait     int         `json:"read_wait"`
		WriteWait    int         `json:"write_wait"`
	}
	// reader limited reader
	reader struct {
		ctx        context.Context
		rate       *rate.Limiter
		underlying io.Reader
	}
	// writer limited writer
	writer struct {
		ctx        context.Context
		rate       *rate.Limiter
		underlying io.Writer
	}
	noopLimitReader struct {
		underlying io.Reader
	}
	noopLimitWriter struct {
		underlying io.Writer
	}
	limiter struct {
		lock            sync.RWMutex
		config          LimitConfig
		readCountLimit  CountLimit
		writeCountLimit CountLimit
		rateReader      *rate.Limiter
		rateWriter      *rate.Limiter
	}
)

func (r *reader) Read(p []byte) (n int, err error) {
	if err = waitN(r.ctx, r.rate, len(p)); err != nil {
		return 0, err
	}
	n, err = r.underlying.Read(p)
	return
}

func (r *reader) WaitN(n int) error {
	return waitN(r.ctx, r.rate, n)
}

func (w *writer) Write(p []byte) (n int, err error) {
	if err = waitN(w.ctx, w.rate, len(p)); err != nil {
		return 0, err
	}
	n, err = w.underlying.Write(p)
	return
}

func (w *writer) WaitN(n int) error {
	return waitN(w.ctx, w.rate, n)
}

// waitN splits n into burst sized pieces, rate.Limiter rejects any single wait above its burst.
func waitN(ctx context.Context, r *rate.Limiter, n int) error {
	burst := r.Burst()
	for n > 0 {
		m := n
		if burst > 0 && m > burst {
			m = burst
		}
		if err := r.WaitN(ctx, m); err != nil {
			return err
		}
		n -= m
	}
	return nil
}

func (nr *noopLimitReader) Read(p []byte) (n int, err error) {
	return nr.underlying.Read(p)
}

func (nr *noopLimitReader) WaitN(n int) error {
	return nil
}

func (nw *noopLimitWriter) Write(p []byte) (n int, err error) {
	return nw.underlying.Write(p)
}

func (nw *noopLimitWriter) WaitN(n int) error {
	return nil
}

const mb = 1 << 20

// NewLimiter builds a limiter from cfg. A concurrency or bandwidth of zero
// means unlimited until it is set.
func NewLimiter(cfg LimitConfig) Limiter {
	limiter := &limiter{
		config:          cfg,
		readCountLimit:  NewCountLimit(cfg.ReadConcurrency),
		writeCountLimit: NewCountLimit(cfg.WriteConcurrency),
	}
	if cfg.ReadMBPS > 0 {
		limiter.rateReader = rate.NewLimiter(rate.Limit(cfg.ReadMBPS*mb), cfg.ReadMBPS*mb)
	}
	if cfg.WriteMBPS > 0 {
		limiter.rateWriter = rate.NewLimiter(rate.Limit(cfg.WriteMBPS*mb), cfg.WriteMBPS*mb)
	}
	return limiter
}

func (lim *limiter) AcquireRead(ctx context.Context) error {
	return lim.readCountLimit.Acquire(ctx)
}

func (lim *limiter) AcquireWrite(ctx context.Context) error {
	return lim.writeCountLimit.Acquire(ctx)
}

func (lim *limiter) ReleaseRead() {
	lim.readCountLimit.Release()
}

func (lim *limiter) ReleaseWrite() {
	lim.writeCountLimit.Release()
}

func (lim *limiter) Reader(ctx context.Context, r io.Reader) LimitReader {
	lim.lock.RLock()
	rateReader := lim.rateReader
	lim.lock.RUnlock()
	if rateReader != nil {
		return &reader{
			ctx:        ctx,
			rate:       rateReader,
			underlying: r,
		}
	}
	return &noopLimitReader{underlying: r}
}

func (lim *limiter) Writer(ctx context.Context, w io.Writer) LimitWriter {
	lim.lock.RLock()
	rateWriter := lim.rateWriter
	lim.lock.RUnlock()
	if rateWriter != nil {
		return &writer{
			ctx:        ctx,
			rate:       rateWriter,
			underlying: w,
		}
	}
	return &noopLimitWriter{underlying: w}
}

func (lim *limiter) SetReadConcurrency(value uint32) {
	lim.readCountLimit.SetLimit(value)
	lim.lock.Lock()
	lim.config.ReadConcurrency = int(value)
	lim.lock.Unlock()
}

func (lim *limiter) SetWriteConcurrency(value uint32) {
	lim.writeCountLimit.SetLimit(value)
	lim.lock.Lock()
	lim.config.WriteConcurrency = int(value)
	lim.lock.Unlock()
}

func (lim *limiter) SetReadMBPS(mbps int) {
	lim.lock.Lock()
	defer lim.lock.Unlock()
	lim.rateReader = setRate(lim.rateReader, mbps)
	lim.config.ReadMBPS = mbps
}

func (lim *limiter) SetWriteMBPS(mbps int) {
	lim.lock.Lock()
	defer lim.lock.Unlock()
	lim.rateWriter = setRate(lim.rateWriter, mbps)
	lim.config.WriteMBPS = mbps
}

// setRate returns nil for a non-positive mbps, turning the bandwidth limit off.
func setRate(r *rate.Limiter, mbps int) *rate.Limiter {
	if mbps <= 0 {
		return nil
	}
	if r == nil {
		return rate.NewLimiter(rate.Limit(mbps*mb), mbps*mb)
	}
	r.SetLimit(rate.Limit(mbps * mb))
	r.SetBurst(mbps * mb)
	return r
}

func (lim *limiter) GetConfig() *LimitConfig {
	lim.lock.RLock()
	cfg := lim.config
	lim.lock.RUnlock()
	return &cfg
}

func (lim *limiter) Status() Status {
	lim.lock.RLock()
	st := Status{
		Config:    lim.config,
		ReadWait:  rateWait(lim.rateReader),
		WriteWait: rateWait(lim.rateWriter),
	}
	lim.lock.RUnlock()

	st.ReadRunning = lim.readCountLimit.Running()
	st.WriteRunning = lim.writeCountLimit.Running()
	return st
}

func rateWait(r *rate.Limiter) int {
	if r == nil {
		return 0
	}
	now := time.Now()
	reserve := r.ReserveN(now, int(r.Limit())/2)
	duration := reserve.DelayFrom(now)
	reserve.Cancel()
	return int(duration.Milliseconds())
}

// maxCount is the capacity of the underlying semaphore and stands for unlimited.
const maxCount = 1 << 30

type countLimit struct {
	sem     *semaphore.Weighted
	current int64

	lock sync.Mutex
	// limit is the number of slots handed out; the rest of maxCount stays reserved.
	limit int64
}

// NewCountLimit returns a limiter admitting n concurrent holders, n <= 0 for unlimited.
// Acquire waits for a free slot.
func NewCountLimit(n int) CountLimit {
	l := &countLimit{sem: semaphore.NewWeighted(maxCount), limit: maxCount}
	l.SetLimit(uint32(normalizeLimit(n)))
	return l
}

func normalizeLimit(n int) int64 {
	if n <= 0 || n > maxCount {
		return maxCount
	}
	return int64(n)
}

func (l *countLimit) Running() int {
	return int(atomic.LoadInt64(&l.current))
}

func (l *countLimit) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	atomic.AddInt64(&l.current, 1)
	return nil
}

func (l *countLimit) Release() {
	atomic.AddInt64(&l.current, -1)
	l.sem.Release(1)
}

// SetLimit resizes the limit, zero for unlimited. Shrinking waits until the
// holders above the new limit have released their slots.
func (l *countLimit) SetLimit(limit uint32) {
	n := normalizeLimit(int(limit))
	l.lock.Lock()
	defer l.lock.Unlock()
	switch {
	case n > l.limit:
		l.sem.Release(n - l.limit)
	case n < l.limit:
		l.sem.Acquire(context.Background(), l.limit-n)
	}
	l.limit = n
}
