package util

import (
	"io"
	"time"
)

type (
	// TimeReader accumulates the time and bytes spent reading from R.
	TimeReader struct {
		R  io.Reader
		n  int64
		dt time.Duration
	}
	// TimeWriter accumulates the time and bytes spent writing to W.
	TimeWriter struct {
		W  io.Writer
		n  int64
		dt time.Duration
	}
)

func (tr *TimeReader) Read(p []byte) (n int, err error) {
	start := time.Now()
	n, err = tr.R.Read(p)
	tr.n += int64(n)
	if err != nil && err != io.EOF {
		return n, err
	}
	tr.dt += time.Since(start)
	return n, err
}

func (tr *TimeReader) GetCost() time.Duration {
	return tr.dt
}

func (tr *TimeReader) Bytes() int64 {
	return tr.n
}

func (tw *TimeWriter) Write(p []byte) (n int, err error) {
	start := time.Now()
	n, err = tw.W.Write(p)
	tw.n += int64(n)
	if err != nil {
		return n, err
	}
	tw.dt += time.Since(start)
	return n, err
}

func (tw *TimeWriter) GetCost() time.Duration {
	return tw.dt
}

func (tw *TimeWriter) Bytes() int64 {
	return tw.n
}
