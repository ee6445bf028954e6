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

package geometry

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/cubefs/mdstore/api"
	apierrors "github.com/cubefs/mdstore/errors"
	"github.com/cubefs/mdstore/proto"
)

// Plane keeps the half space normal·x >= normal·origin.
type Plane struct {
	normal []float64
	offset float64
}

func NewPlane(normal, origin []proto.Coord) (Plane, error) {
	if len(normal) != len(origin) || !proto.ValidDimensionality(len(normal)) {
		return Plane{}, fmt.Errorf("%w: plane normal and origin must have the same dimensionality", apierrors.ErrInvalidArgument)
	}
	n := toFloat64(normal, nil)
	if floats.Norm(n, 2) == 0 {
		return Plane{}, fmt.Errorf("%w: plane normal is zero", apierrors.ErrInvalidArgument)
	}
	return Plane{normal: n, offset: floats.Dot(n, toFloat64(origin, nil))}, nil
}

func (p Plane) isPointBounded(x []float64) bool {
	return floats.Dot(p.normal, x) >= p.offset
}

// PlaneFunction is the intersection of the half spaces of its planes.
type PlaneFunction struct {
	nd     int
	planes []Plane
}

func NewPlaneFunction(nd int, planes ...Plane) (*PlaneFunction, error) {
	if !proto.ValidDimensionality(nd) {
		return nil, apierrors.ErrInvalidDimensionality
	}
	for i := range planes {
		if len(planes[i].normal) != nd {
			return nil, fmt.Errorf("%w: plane %d has %d dimensions, want %d",
				apierrors.ErrInvalidArgument, i, len(planes[i].normal), nd)
		}
	}
	return &PlaneFunction{nd: nd, planes: planes}, nil
}

func (f *PlaneFunction) AddPlane(p Plane) error {
	if len(p.normal) != f.nd {
		return fmt.Errorf("%w: plane has %d dimensions, want %d", apierrors.ErrInvalidArgument, len(p.normal), f.nd)
	}
	f.planes = append(f.planes, p)
	return nil
}

func (f *PlaneFunction) NumPlanes() int {
	return len(f.planes)
}

func (f *PlaneFunction) IsPointContained(coords []proto.Coord) bool {
	var buf [proto.MaxDimensions]float64
	x := toFloat64(coords[:f.nd], buf[:0])
	for i := range f.planes {
		if !f.planes[i].isPointBounded(x) {
			return false
		}
	}
	return true
}

// BoxContact tests the 2^nd vertices of the box against every plane. A box with
// all vertices outside one plane cannot touch the region; one with every vertex
// inside every plane is contained. Anything else is reported as touching.
func (f *PlaneFunction) BoxContact(extents []proto.Extent) api.Contact {
	nd := f.nd
	nVertices := 1 << nd
	var buf [proto.MaxDimensions]float64
	vertex := buf[:nd]

	contained := true
	for i := range f.planes {
		inside := 0
		for v := 0; v < nVertices; v++ {
			for d := 0; d < nd; d++ {
				if v&(1<<d) == 0 {
					vertex[d] = float64(extents[d].Min)
				} else {
					vertex[d] = float64(extents[d].Max)
				}
			}
			if f.planes[i].isPointBounded(vertex) {
				inside++
			}
		}
		if inside == 0 {
			return api.NotTouching
		}
		if inside != nVertices {
			contained = false
		}
	}
	if contained {
		return api.Contained
	}
	return api.Touching
}

func toFloat64(in []proto.Coord, out []float64) []float64 {
	for _, c := range in {
		out = append(out, float64(c))
	}
	return out
}
