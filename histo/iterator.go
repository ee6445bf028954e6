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

package histo

import (
	"context"
	"math"

	"github.com/cubefs/mdstore/api"
	apierrors "github.com/cubefs/mdstore/errors"
	"github.com/cubefs/mdstore/proto"
)

// CreateIterators splits the bins whose centre lies in fn (nil for all) into
// n contiguous groups. Masked bins are skipped unless api.WithMasked is given.
func (h *MDHistoWorkspace) CreateIterators(ctx context.Context, n int, fn api.ImplicitFunction, opts ...api.IteratorOption) []*Iterator {
	o := api.ApplyIteratorOptions(opts...)
	indexes := make([]int, 0, h.Size())
	center := make([]proto.Coord, h.NumDims())
	for i := 0; i < h.Size(); i++ {
		if h.masked[i] && !o.IncludeMasked {
			continue
		}
		if fn != nil && !fn.IsPointContained(h.CenterAt(i, center)) {
			continue
		}
		indexes = append(indexes, i)
	}

	n = api.ClampIterators(n, len(indexes))
	iters := make([]*Iterator, n)
	for i := range iters {
		begin, end := api.PartitionRange(len(indexes), n, i)
		iters[i] = &Iterator{ctx: ctx, ws: h, indexes: indexes[begin:end:end]}
		if end > begin {
			iters[i].checkContext()
		}
	}
	return iters
}

// Iterator walks a group of histogram bins, starting on the first one.
type Iterator struct {
	ctx     context.Context
	ws      *MDHistoWorkspace
	indexes []int
	pos     int
	err     error
	center  []proto.Coord
}

var _ api.Iterator = (*Iterator)(nil)

func (it *Iterator) checkContext() bool {
	if err := it.ctx.Err(); err != nil {
		it.err = err
		it.pos = len(it.indexes)
		return false
	}
	return true
}

func (it *Iterator) Valid() bool {
	return it.pos < len(it.indexes)
}

func (it *Iterator) Next() bool {
	if !it.Valid() {
		panic(apierrors.ErrIteratorExhausted)
	}
	it.pos++
	return it.Valid() && it.checkContext()
}

func (it *Iterator) DataSize() int {
	return len(it.indexes)
}

func (it *Iterator) Err() error {
	return it.err
}

// LinearIndex is the bin the iterator is on.
func (it *Iterator) LinearIndex() int {
	if !it.Valid() {
		panic(apierrors.ErrIteratorExhausted)
	}
	return it.indexes[it.pos]
}

// Center returns the bin centre; the slice is reused by the next call.
func (it *Iterator) Center() []proto.Coord {
	it.center = it.ws.CenterAt(it.LinearIndex(), it.center)
	return it.center
}

func (it *Iterator) Signal() float64 {
	return it.ws.SignalAt(it.LinearIndex())
}

func (it *Iterator) ErrorSquared() float64 {
	return it.ws.ErrorSquaredAt(it.LinearIndex())
}

func (it *Iterator) Error() float64 {
	return math.Sqrt(it.ErrorSquared())
}

func (it *Iterator) NumEvents() uint64 {
	return uint64(it.ws.NumEventsAt(it.LinearIndex()))
}

func (it *Iterator) IsMasked() bool {
	return it.ws.IsMaskedAt(it.LinearIndex())
}
