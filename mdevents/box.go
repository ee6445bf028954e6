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
	"fmt"

	"github.com/cubefs/mdstore/api"
	apierrors "github.com/cubefs/mdstore/errors"
	"github.com/cubefs/mdstore/proto"
)

// Box is either a leaf *MDBox or an internal *MDGridBox.
type Box interface {
	ID() proto.BoxID
	Depth() int
	NumDims() int
	Extents() []proto.Extent
	// Center writes the box centre into out, allocating when out is short.
	Center(out []proto.Coord) []proto.Coord
	Volume() float64

	NPoints() uint64
	Signal() float64
	ErrorSquared() float64
	IsMasked() bool
	SetMasked(masked bool)

	// AddEvent does not check bounds; the caller guarantees the event lies inside.
	AddEvent(ev Event)
	AddEventChecked(ev Event) error
	RefreshCache(ctx context.Context) error
	Integrate(ctx context.Context, fn api.ImplicitFunction) (IntegrateResult, error)
	CreateIterators(ctx context.Context, n int, fn api.ImplicitFunction, opts ...api.IteratorOption) []*MDBoxIterator

	isBox()
}

type boxBase struct {
	id         proto.BoxID
	depth      int
	extents    []proto.Extent
	controller *BoxController

	npoints      uint64
	signal       float64
	errorSquared float64
	masked       bool
}

func newBoxBase(c *BoxController, id proto.BoxID, depth int, extents []proto.Extent) boxBase {
	return boxBase{id: id, depth: depth, extents: extents, controller: c}
}

func (b *boxBase) isBox() {}

func (b *boxBase) ID() proto.BoxID {
	return b.id
}

func (b *boxBase) Depth() int {
	return b.depth
}

func (b *boxBase) NumDims() int {
	return len(b.extents)
}

// Extents must not be modified by the caller.
func (b *boxBase) Extents() []proto.Extent {
	return b.extents
}

func (b *boxBase) Center(out []proto.Coord) []proto.Coord {
	return proto.ExtentsCenter(b.extents, out)
}

func (b *boxBase) Volume() float64 {
	return proto.ExtentsVolume(b.extents)
}

func (b *boxBase) NPoints() uint64 {
	return b.npoints
}

func (b *boxBase) Signal() float64 {
	return b.signal
}

func (b *boxBase) ErrorSquared() float64 {
	return b.errorSquared
}

func (b *boxBase) IsMasked() bool {
	return b.masked
}

func (b *boxBase) accumulate(ev *Event) {
	b.npoints++
	b.signal += ev.signal
	b.errorSquared += ev.errorSquared
}

func (b *boxBase) contains(ev *Event) bool {
	return proto.ExtentsContain(b.extents, ev.Coords())
}

// checkEvent rejects events of the wrong kind or outside the box.
func (b *boxBase) checkEvent(ev *Event) error {
	if err := b.controller.checkEventKind(ev); err != nil {
		return err
	}
	if !b.contains(ev) {
		return fmt.Errorf("%w: %s outside box[%d]", apierrors.ErrOutOfBounds, ev, b.id)
	}
	return nil
}

// collectLeaves appends, depth first in child linear order, the leaves of b
// that touch fn and pass the mask policy.
func collectLeaves(dst []*MDBox, b Box, fn api.ImplicitFunction, opts api.IteratorOptions) []*MDBox {
	if fn != nil && fn.BoxContact(b.Extents()) == api.NotTouching {
		return dst
	}
	switch box := b.(type) {
	case *MDBox:
		if box.IsMasked() && !opts.IncludeMasked {
			return dst
		}
		return append(dst, box)
	case *MDGridBox:
		for _, child := range box.children {
			dst = collectLeaves(dst, child, fn, opts)
		}
	}
	return dst
}

func createIterators(ctx context.Context, b Box, n int, fn api.ImplicitFunction, opts ...api.IteratorOption) []*MDBoxIterator {
	o := api.ApplyIteratorOptions(opts...)
	leaves := collectLeaves(nil, b, fn, o)
	n = api.ClampIterators(n, len(leaves))
	iters := make([]*MDBoxIterator, n)
	for i := range iters {
		begin, end := api.PartitionRange(len(leaves), n, i)
		iters[i] = newMDBoxIterator(ctx, leaves[begin:end:end])
	}
	return iters
}

// walkBoxes visits b and every box below it, parents before children.
func walkBoxes(b Box, fn func(b Box)) {
	fn(b)
	if grid, ok := b.(*MDGridBox); ok {
		for _, child := range grid.children {
			walkBoxes(child, fn)
		}
	}
}

// IntegrateResult is the signal gathered from the events inside a region.
type IntegrateResult struct {
	Signal       float64 `json:"signal"`
	ErrorSquared float64 `json:"error_squared"`
	NumEvents    uint64  `json:"num_events"`
}

func (r *IntegrateResult) add(o IntegrateResult) {
	r.Signal += o.Signal
	r.ErrorSquared += o.ErrorSquared
	r.NumEvents += o.NumEvents
}

// integrate sums whole aggregates of boxes contained in fn and falls back to
// single events for leaves that only touch it. A nil fn contains every box.
// Masked boxes are left out.
func integrate(ctx context.Context, b Box, fn api.ImplicitFunction, res *IntegrateResult) error {
	if b.IsMasked() {
		return nil
	}
	contact := api.Contained
	if fn != nil {
		contact = fn.BoxContact(b.Extents())
	}
	switch contact {
	case api.NotTouching:
		return nil
	case api.Contained:
		res.add(IntegrateResult{Signal: b.Signal(), ErrorSquared: b.ErrorSquared(), NumEvents: b.NPoints()})
		return nil
	}

	switch box := b.(type) {
	case *MDBox:
		if err := ctx.Err(); err != nil {
			return err
		}
		events, err := box.Events(ctx)
		if err != nil {
			return err
		}
		for i := range events {
			if fn.IsPointContained(events[i].Coords()) {
				res.add(IntegrateResult{Signal: events[i].signal, ErrorSquared: events[i].errorSquared, NumEvents: 1})
			}
		}
	case *MDGridBox:
		for _, child := range box.children {
			if err := integrate(ctx, child, fn, res); err != nil {
				return err
			}
		}
	}
	return nil
}
