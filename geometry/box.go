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

	"github.com/cubefs/mdstore/api"
	apierrors "github.com/cubefs/mdstore/errors"
	"github.com/cubefs/mdstore/proto"
)

// BoxFunction is the closed axis aligned region [min, max] in each dimension.
type BoxFunction struct {
	extents []proto.Extent
}

func NewBoxFunction(min, max []proto.Coord) (*BoxFunction, error) {
	if len(min) != len(max) || !proto.ValidDimensionality(len(min)) {
		return nil, fmt.Errorf("%w: box region needs matching min/max within [1,9] dimensions", apierrors.ErrInvalidArgument)
	}
	extents := make([]proto.Extent, len(min))
	for d := range min {
		if max[d] < min[d] {
			return nil, fmt.Errorf("%w: dimension %d max %g below min %g", apierrors.ErrInvalidExtent, d, max[d], min[d])
		}
		extents[d] = proto.Extent{Min: min[d], Max: max[d]}
	}
	return &BoxFunction{extents: extents}, nil
}

func (f *BoxFunction) NumDims() int {
	return len(f.extents)
}

func (f *BoxFunction) IsPointContained(coords []proto.Coord) bool {
	return proto.ExtentsContain(f.extents, coords)
}

func (f *BoxFunction) BoxContact(extents []proto.Extent) api.Contact {
	contained := true
	for d := range f.extents {
		if d >= len(extents) {
			break
		}
		r, e := f.extents[d], extents[d]
		if e.Max < r.Min || e.Min > r.Max {
			return api.NotTouching
		}
		if e.Min < r.Min || e.Max > r.Max {
			contained = false
		}
	}
	if contained {
		return api.Contained
	}
	return api.Touching
}
