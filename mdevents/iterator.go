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

package mdevents

import (
	"context"
	"math"

	"github.com/cubefs/mdstore/api"
	apierrors "github.com/cubefs/mdstore/errors"
	"github.com/cubefs/mdstore/proto"
)

// MDBoxIterator walks a contiguous group of leaf boxes. It starts on the first
// box; the context is checked each time it moves to another box. Iterators
// share no mutable state and may run on separate goroutines.
type MDBoxIterator struct {
	ctx    context.Context
	boxes  []*MDBox
	pos    int
	err    error
	center []proto.Coord
}

var _ api.Iterator = (*MDBoxIterator)(nil)

func newMDBoxIterator(ctx context.Context, boxes []*MDBox) *MDBoxIterator {
	it := &MDBoxIterator{ctx: ctx, boxes: boxes}
	if len(boxes) > 0 {
		if err := ctx.Err(); err != nil {
			it.err = err
			it.pos = len(boxes)
		}
	}
	return it
}

func (it *MDBoxIterator) Valid() bool {
	return it.pos < len(it.boxes)
}

// Next moves to the following box. Calling it on an exhausted iterator panics.
func (it *MDBoxIterator) Next() bool {
	if !it.Valid() {
		panic(apierrors.ErrIteratorExhausted)
	}
	it.pos++
	if !it.Valid() {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		it.pos = len(it.boxes)
		return false
	}
	return true
}

func (it *MDBoxIterator) DataSize() int {
	return len(it.boxes)
}

func (it *MDBoxIterator) Err() error {
	return it.err
}

// Box returns the current leaf.
func (it *MDBoxIterator) Box() *MDBox {
	if !it.Valid() {
		panic(apierrors.ErrIteratorExhausted)
	}
	return it.boxes[it.pos]
}

// Center returns the centre of the current box; the slice is reused by the next call.
func (it *MDBoxIterator) Center() []proto.Coord {
	it.center = it.Box().Center(it.center)
	return it.center
}

func (it *MDBoxIterator) Signal() float64 {
	return it.Box().Signal()
}

func (it *MDBoxIterator) ErrorSquared() float64 {
	return it.Box().ErrorSquared()
}

func (it *MDBoxIterator) Error() float64 {
	return math.Sqrt(it.Box().ErrorSquared())
}

func (it *MDBoxIterator) NumEvents() uint64 {
	return it.Box().NPoints()
}

func (it *MDBoxIterator) IsMasked() bool {
	return it.Box().IsMasked()
}

// Events returns the events of the current box, loading file-backed boxes.
// A storage failure is returned and also kept as Err; the caller chooses to
// stop or to skip the box.
func (it *MDBoxIterator) Events() ([]Event, error) {
	events, err := it.Box().Events(it.ctx)
	if err != nil {
		it.err = err
		return nil, err
	}
	return events, nil
}
