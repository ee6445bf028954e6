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
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"gonum.org/v1/gonum/floats"

	"github.com/cubefs/mdstore/api"
	"github.com/cubefs/mdstore/proto"
)

// MDGridBox divides its extent into a regular grid of child boxes. Child i
// covers bucket (i/stride[d]) % splitInto[d] along every dimension d.
type MDGridBox struct {
	boxBase

	// edges[d] holds the splitInto[d]+1 bucket boundaries along d.
	edges    [][]proto.Coord
	children []Box
}

func newMDGridBox(c *BoxController, id proto.BoxID, depth int, extents []proto.Extent) *MDGridBox {
	g := &MDGridBox{boxBase: newBoxBase(c, id, depth, extents)}
	c.gridded.Store(true)
	nd := len(extents)

	g.edges = make([][]proto.Coord, nd)
	for d := 0; d < nd; d++ {
		k := c.SplitInto(d)
		width := extents[d].Width() / proto.Coord(k)
		edges := make([]proto.Coord, k+1)
		for i := 0; i < k; i++ {
			edges[i] = extents[d].Min + width*proto.Coord(i)
		}
		edges[k] = extents[d].Max
		g.edges[d] = edges
	}

	g.children = make([]Box, c.NumSplit())
	for i := range g.children {
		childExtents := make([]proto.Extent, nd)
		for d := 0; d < nd; d++ {
			idx := (i / c.strides[d]) % c.SplitInto(d)
			childExtents[d] = proto.Extent{Min: g.edges[d][idx], Max: g.edges[d][idx+1]}
		}
		g.children[i] = newMDBox(c, c.nextBoxID(), depth+1, childExtents)
	}
	return g
}

// bucket maps x to its bucket along d. The floor estimate is corrected
// against the stored edges so the event always lies within the child extent.
func (g *MDGridBox) bucket(d int, x proto.Coord) int {
	edges := g.edges[d]
	k := len(edges) - 1
	width := float64(g.extents[d].Width()) / float64(k)
	f := math.Floor(float64(x-edges[0]) / width)
	idx := k - 1
	if f < float64(k-1) {
		idx = int(f)
	}
	if idx < 0 {
		idx = 0
	}
	for idx > 0 && x < edges[idx] {
		idx--
	}
	for idx < k-1 && x > edges[idx+1] {
		idx++
	}
	return idx
}

// ChildIndexFor returns the linear index of the child covering coords.
func (g *MDGridBox) ChildIndexFor(coords []proto.Coord) int {
	i := 0
	for d := range g.edges {
		i += g.bucket(d, coords[d]) * g.controller.strides[d]
	}
	return i
}

func (g *MDGridBox) Child(i int) Box {
	return g.children[i]
}

// Children must not be modified by the caller.
func (g *MDGridBox) Children() []Box {
	return g.children
}

func (g *MDGridBox) NumChildren() int {
	return len(g.children)
}

func (g *MDGridBox) AddEvent(ev Event) {
	g.accumulate(&ev)
	g.children[g.ChildIndexFor(ev.Coords())].AddEvent(ev)
}

func (g *MDGridBox) AddEventChecked(ev Event) error {
	if err := g.checkEvent(&ev); err != nil {
		return err
	}
	g.AddEvent(ev)
	return nil
}

func (g *MDGridBox) SetMasked(masked bool) {
	g.masked = masked
	for _, child := range g.children {
		child.SetMasked(masked)
	}
}

// SplitAllIfNeeded splits every leaf below g holding more events than the
// split threshold, recursively. Children are disjoint subtrees and are
// processed in parallel on the controller's task pool.
func (g *MDGridBox) SplitAllIfNeeded(ctx context.Context) error {
	span := trace.SpanFromContextSafe(ctx)
	errs := make([]error, len(g.children))
	var wg sync.WaitGroup
	wg.Add(len(g.children))
	for i := range g.children {
		i := i
		g.controller.taskPool.Run(func() {
			defer wg.Done()
			errs[i] = g.splitChild(ctx, i)
		})
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			span.Errorf("split child %d of box[%d] failed: %s", i, g.id, err)
			return err
		}
	}
	return g.RefreshCache(ctx)
}

func (g *MDGridBox) splitAll(ctx context.Context) error {
	for i := range g.children {
		if err := g.splitChild(ctx, i); err != nil {
			return err
		}
	}
	return nil
}

func (g *MDGridBox) splitChild(ctx context.Context, i int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch child := g.children[i].(type) {
	case *MDBox:
		grid, err := child.SplitIfNeeded(ctx, g.controller.SplitThreshold())
		if err != nil || grid == nil {
			return err
		}
		g.children[i] = grid
		return grid.splitAll(ctx)
	case *MDGridBox:
		return child.splitAll(ctx)
	}
	return nil
}

// RefreshCache recomputes the aggregates of the whole subtree bottom up.
func (g *MDGridBox) RefreshCache(ctx context.Context) error {
	signals := make([]float64, len(g.children))
	errs := make([]float64, len(g.children))
	var npoints uint64
	for i, child := range g.children {
		if err := child.RefreshCache(ctx); err != nil {
			return err
		}
		signals[i] = child.Signal()
		errs[i] = child.ErrorSquared()
		npoints += child.NPoints()
	}
	g.signal = floats.Sum(signals)
	g.errorSquared = floats.Sum(errs)
	g.npoints = npoints
	return nil
}

func (g *MDGridBox) Integrate(ctx context.Context, fn api.ImplicitFunction) (res IntegrateResult, err error) {
	err = integrate(ctx, g, fn, &res)
	return
}

func (g *MDGridBox) CreateIterators(ctx context.Context, n int, fn api.ImplicitFunction, opts ...api.IteratorOption) []*MDBoxIterator {
	return createIterators(ctx, g, n, fn, opts...)
}
