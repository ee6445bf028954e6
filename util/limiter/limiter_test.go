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
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type (
	limitReader struct {
		size int
		read int
	}
	limitWriter struct{}
)

func (r *limitReader) Read(p []byte) (n int, err error) {
	if r.read >= r.size {
		return 0, io.EOF
	}

	b := make([]byte, 1<<20)
	n = copy(p, b)
	r.read += n
	return
}

func (w *limitWriter) Write(p []byte) (n int, err error) {
	b := make([]byte, 1<<20)
	n = 0
	for len(p) > 0 {
		nn := copy(p, b)
		n += nn
		p = p[nn:]
	}
	return
}

func TestLimiter(t *testing.T) {
	cfg := LimitConfig{
		ReadConcurrency:  1,
		WriteConcurrency: 1,
		ReadMBPS:         1,
		WriteMBPS:        1,
	}
	l := NewLimiter(cfg)
	{
		ctx := context.Background()
		err := l.AcquireRead(ctx)
		require.NoError(t, err)
		tctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		err = l.AcquireRead(tctx)
		cancel()
		require.ErrorIs(t, err, context.DeadlineExceeded)
		go func() {
			time.Sleep(100 * time.Millisecond)
			l.SetReadConcurrency(2)
		}()
		// waits for the new slot instead of failing
		err = l.AcquireRead(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, l.Status().ReadRunning)
		require.Equal(t, 2, l.GetConfig().ReadConcurrency)
		l.ReleaseRead()
		l.ReleaseRead()
		require.Equal(t, 0, l.Status().ReadRunning)
	}
	{
		// ctx, _ := context.WithTimeout(context.Background(), 5*time.Second)
		ctx := context.TODO()
		now := time.Now()
		var wg sync.WaitGroup
		worker := 2
		wg.Add(worker)
		var n int64 = 0
		for i := 0; i < worker; i++ {
			go func() {
				rbuff := &limitReader{size: 1 << 20}
				r := l.Reader(ctx, rbuff)
				b := make([]byte, 1<<20)
				r.Read(b)
				atomic.AddInt64(&n, 1)
				wg.Done()
			}()
		}
		wg.Wait()
		fmt.Println(float64(n)/time.Since(now).Seconds(), "mbps")
	}
	{
		// ctx, _ := context.WithTimeout(context.Background(), 5*time.Second)
		ctx := context.TODO()
		now := time.Now()
		var wg sync.WaitGroup
		worker := 2
		wg.Add(worker)
		var n int64 = 0
		for i := 0; i < worker; i++ {
			go func() {
				wbuff := &limitWriter{}
				w := l.Writer(ctx, wbuff)
				b := make([]byte, 1<<20)
				w.Write(b)
				atomic.AddInt64(&n, 1)
				wg.Done()
			}()
		}
		wg.Wait()
		fmt.Println(float64(n)/time.Since(now).Seconds(), "mbps")
	}
}

func TestCountLimit_Wait(t *testing.T) {
	ctx := context.Background()
	l := NewCountLimit(1)
	var running, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Acquire(ctx))
			n := atomic.AddInt64(&running, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&running, -1)
			l.Release()
		}()
	}
	wg.Wait()
	require.Equal(t, int64(1), peak)
	require.Equal(t, 0, l.Running())

	// shrinking waits for the holders above the new limit
	l.SetLimit(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	done := make(chan struct{})
	go func() {
		l.SetLimit(1)
		close(done)
	}()
	l.Release()
	l.Release()
	<-done
	tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.Acquire(tctx), context.DeadlineExceeded)
	l.Release()
	require.NoError(t, l.Acquire(ctx))
	l.Release()

	// zero is unlimited
	unlimited := NewCountLimit(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, unlimited.Acquire(ctx))
	}
	require.Equal(t, 100, unlimited.Running())
}

func TestLimiter_SetMBPS(t *testing.T) {
	l := NewLimiter(LimitConfig{})
	_, ok := l.Reader(context.Background(), &limitReader{}).(*noopLimitReader)
	require.True(t, ok)
	l.SetReadMBPS(2)
	l.SetWriteMBPS(3)
	_, ok = l.Reader(context.Background(), &limitReader{}).(*reader)
	require.True(t, ok)
	st := l.Status()
	require.Equal(t, 2, st.Config.ReadMBPS)
	require.Equal(t, 3, st.Config.WriteMBPS)
	l.SetReadMBPS(0)
	_, ok = l.Reader(context.Background(), &limitReader{}).(*noopLimitReader)
	require.True(t, ok)
	require.Equal(t, 0, l.GetConfig().ReadMBPS)
}

func TestLimiter_WaitAboveBurst(t *testing.T) {
	l := NewLimiter(LimitConfig{ReadMBPS: 1, WriteMBPS: 1})
	ctx := context.Background()

	// a single record larger than the burst must still be admitted
	w := l.Writer(ctx, &limitWriter{})
	n, err := w.Write(make([]byte, (1<<20)+1))
	require.NoError(t, err)
	require.Equal(t, (1<<20)+1, n)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	r := l.Reader(cctx, &limitReader{size: 1 << 20})
	_, err = r.Read(make([]byte, 1<<20))
	require.Error(t, err)
}
