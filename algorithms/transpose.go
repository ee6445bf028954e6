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

package algorithms

import (
	"context"
	"fmt"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"golang.org/x/sync/errgroup"

	"github.com/cubefs/mdstore/api"
	apierrors "github.com/cubefs/mdstore/errors"
	"github.com/cubefs/mdstore/histo"
	"github.com/cubefs/mdstore/proto"
	"github.com/cubefs/mdstore/transform"
)

// TransposeMD reorders (or drops) the axes of a histogram: output dimension i
// is input dimension axes[i]. Empty axes keep the input order. Signal, error,
// event count and mask of every bin are carried over.
func TransposeMD(ctx context.Context, in *histo.MDHistoWorkspace, axes []int, opts ...Option) (*histo.MDHistoWorkspace, error) {
	span := trace.SpanFromContextSafe(ctx)
	o := applyOptions(opts)
	nd := in.NumDims()
	if len(axes) == 0 {
		axes = make([]int, nd)
		for i := range axes {
			axes[i] = i
		}
	}
	if len(axes) > nd {
		return nil, fmt.Errorf("%w: %d axes given for a %d-dimensional workspace", apierrors.ErrInvalidArgument, len(axes), nd)
	}
	dims := make([]proto.Dimension, len(axes))
	for i, a := range axes {
		if a < 0 || a >= nd {
			return nil, fmt.Errorf("%w: axis index %d out of range [0,%d)", apierrors.ErrInvalidArgument, a, nd)
		}
		dims[i] = in.Dimension(a)
	}

	out, err := histo.NewMDHistoWorkspace(dims)
	if err != nil {
		return nil, err
	}
	t, err := transform.NewPermutation(nd, axes)
	if err != nil {
		return nil, err
	}

	// a projection maps several input bins onto one output bin
	workers := o.numWorkers
	if len(axes) < nd {
		workers = 1
	}
	iters := in.CreateIterators(ctx, workers, o.region, api.WithMasked())
	var eg errgroup.Group
	for _, it := range iters {
		it := it
		eg.Go(func() error {
			coords := make([]proto.Coord, len(axes))
			for ok := it.Valid(); ok; ok = it.Next() {
				t.Apply(it.Center(), coords)
				idx, ok := out.LinearIndexAtCoord(coords)
				if !ok {
					continue
				}
				out.SetSignalAt(idx, it.Signal())
				out.SetErrorSquaredAt(idx, it.Error()*it.Error())
				out.SetNumEventsAt(idx, float64(it.NumEvents()))
				out.SetMDMaskAt(idx, it.IsMasked())
			}
			return it.Err()
		})
	}
	if err = eg.Wait(); err != nil {
		span.Warnf("transpose interrupted: %s", err)
		return nil, err
	}

	out.CopyExperimentInfos(in)
	span.Debugf("transposed %d bins with axes %v", in.Size(), axes)
	return out, nil
}
