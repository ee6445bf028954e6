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

package transform

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	apierrors "github.com/cubefs/mdstore/errors"
	"github.com/cubefs/mdstore/proto"
)

// CoordTransform maps coordinates from an input space to an output space.
type CoordTransform interface {
	InD() int
	OutD() int
	// Apply writes the transform of in into out; out must hold OutD values.
	Apply(in, out []proto.Coord)
}

// Aligned picks, shifts and scales input axes: out[i] = (in[axes[i]] - origin[i]) * scaling[i].
type Aligned struct {
	inD     int
	axes    []int
	origin  []proto.Coord
	scaling []proto.Coord
}

func NewAligned(inD int, axes []int, origin, scaling []proto.Coord) (*Aligned, error) {
	if !proto.ValidDimensionality(inD) || !proto.ValidDimensionality(len(axes)) {
		return nil, apierrors.ErrInvalidDimensionality
	}
	if len(origin) != len(axes) || len(scaling) != len(axes) {
		return nil, fmt.Errorf("%w: origin and scaling need %d values", apierrors.ErrInvalidArgument, len(axes))
	}
	for i, a := range axes {
		if a < 0 || a >= inD {
			return nil, fmt.Errorf("%w: output axis %d reads input axis %d of %d", apierrors.ErrInvalidArgument, i, a, inD)
		}
	}
	return &Aligned{
		inD:     inD,
		axes:    append([]int(nil), axes...),
		origin:  append([]proto.Coord(nil), origin...),
		scaling: append([]proto.Coord(nil), scaling...),
	}, nil
}

// NewPermutation returns the aligned transform that only reorders axes.
func NewPermutation(inD int, axes []int) (*Aligned, error) {
	origin := make([]proto.Coord, len(axes))
	scaling := make([]proto.Coord, len(axes))
	for i := range scaling {
		scaling[i] = 1
	}
	return NewAligned(inD, axes, origin, scaling)
}

func (t *Aligned) InD() int {
	return t.inD
}

func (t *Aligned) OutD() int {
	return len(t.axes)
}

func (t *Aligned) Apply(in, out []proto.Coord) {
	for i, a := range t.axes {
		out[i] = (in[a] - t.origin[i]) * t.scaling[i]
	}
}

// Affine applies an (outD+1)x(inD+1) homogeneous matrix.
type Affine struct {
	m *mat.Dense
}

func NewAffine(m *mat.Dense) (*Affine, error) {
	r, c := m.Dims()
	if !proto.ValidDimensionality(r-1) || !proto.ValidDimensionality(c-1) {
		return nil, apierrors.ErrInvalidDimensionality
	}
	return &Affine{m: mat.DenseCopyOf(m)}, nil
}

// NewAffineFromAligned builds the matrix equivalent of an aligned transform.
func NewAffineFromAligned(t *Aligned) *Affine {
	m := mat.NewDense(t.OutD()+1, t.InD()+1, nil)
	for i, a := range t.axes {
		s := float64(t.scaling[i])
		m.Set(i, a, s)
		m.Set(i, t.inD, -float64(t.origin[i])*s)
	}
	m.Set(t.OutD(), t.InD(), 1)
	return &Affine{m: m}
}

func (t *Affine) InD() int {
	_, c := t.m.Dims()
	return c - 1
}

func (t *Affine) OutD() int {
	r, _ := t.m.Dims()
	return r - 1
}

func (t *Affine) Matrix() mat.Matrix {
	return t.m
}

func (t *Affine) Apply(in, out []proto.Coord) {
	inD := t.InD()
	x := mat.NewVecDense(inD+1, nil)
	for i := 0; i < inD; i++ {
		x.SetVec(i, float64(in[i]))
	}
	x.SetVec(inD, 1)
	var y mat.VecDense
	y.MulVec(t.m, x)
	for i := 0; i < t.OutD(); i++ {
		out[i] = proto.Coord(y.AtVec(i))
	}
}

// Compose returns the transform applying t then next.
func (t *Affine) Compose(next *Affine) (*Affine, error) {
	if next.InD() != t.OutD() {
		return nil, fmt.Errorf("%w: cannot feed %d outputs into %d inputs", apierrors.ErrInvalidArgument, t.OutD(), next.InD())
	}
	var m mat.Dense
	m.Mul(next.m, t.m)
	return &Affine{m: &m}, nil
}

// Inverse returns the inverse of a square transform.
func (t *Affine) Inverse() (*Affine, error) {
	if t.InD() != t.OutD() {
		return nil, fmt.Errorf("%w: %dx%d transform is not invertible", apierrors.ErrInvalidArgument, t.OutD(), t.InD())
	}
	var inv mat.Dense
	if err := inv.Inverse(t.m); err != nil {
		return nil, fmt.Errorf("%w: %s", apierrors.ErrInvalidArgument, err)
	}
	return &Affine{m: &inv}, nil
}
