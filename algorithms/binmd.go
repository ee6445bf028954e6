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
	"errors"
	"fmt"
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	errorsutil "github.com/cubefs/cubefs/blobstore/util/errors"
	"golang.org/x/sync/errgroup"

	apierrors "github.com/cubefs/mdstore/errors"
	"github.com/cubefs/mdstore/histo"
	"github.com/cubefs/mdstore/mdevents"
	"github.com/cubefs/mdstore/proto"
	"github.com/cubefs/mdstore/transform"
)

// BinMD histograms the events of ws into outDims. Each event position is
// mapped through t (nil keeps the workspace axes) and counted in the bin it
// lands in; events landing outside every bin are dropped. Workers fill
// private histograms that are summed once they finish.
func BinMD(ctx context.Context, ws *mdevents.MDEventWorkspace, outDims []proto.Dimension,
	t transform.CoordTransform, opts ...Option,
) (*histo.MDHistoWorkspace, error) {
	span := trace.SpanFromContextSafe(ctx)
	o := applyOptions(opts)

	if t == nil {
		axes := make([]int, ws.NumDims())
		for i := range axes {
			axes[i] = i
		}
		var err error
		if t, err = transform.NewPermutation(ws.NumDims(), axes); err != nil {
			return nil, err
		}
	}
	if t.InD() != ws.NumDims() || t.OutD() != len(outDims) {
		return nil, fmt.Errorf("%w: transform maps %d->%d, workspace has %d dimensions and output %d",
			apierrors.ErrInvalidArgument, t.InD(), t.OutD(), ws.NumDims(), len(outDims))
	}
	out, err := histo.NewMDHistoWorkspace(outDims)
	if err != nil {
		return nil, err
	}

	eg, gctx := errgroup.WithContext(ctx)
	iters, err := ws.CreateIterators(gctx, o.numWorkers, o.region)
	if err != nil {
		return nil, err
	}

	var lock sync.Mutex
	var skipped int
	for _, it := range iters {
		it := it
		eg.Go(func() error {
			partial := out.Empty()
			coords := make([]proto.Coord, t.OutD())
			skip := 0
			for ok := it.Valid(); ok; ok = it.Next() {
				events, err := it.Events()
				if err != nil {
					if o.skipStorageErrors && errors.Is(err, apierrors.ErrStorage) {
						span.Warnf("skip box[%d]: %s", it.Box().ID(), errorsutil.Detail(err))
						skip++
						continue
					}
					return err
				}
				for i := range events {
					if o.region != nil && !o.region.IsPointContained(events[i].Coords()) {
						continue
					}
					t.Apply(events[i].Coords(), coords)
					if idx, ok := partial.LinearIndexAtCoord(coords); ok {
						partial.AddAt(idx, events[i].Signal(), events[i].ErrorSquared(), 1)
					}
				}
			}
			if err := it.Err(); err != nil && !errors.Is(err, apierrors.ErrStorage) {
				return err
			}

			lock.Lock()
			defer lock.Unlock()
			skipped += skip
			return out.Add(partial)
		})
	}
	if err = eg.Wait(); err != nil {
		return nil, err
	}

	out.CopyExperimentInfos(ws)
	span.Infof("binned %d events into %d bins with %d iterators, %d boxes skipped",
		ws.NPoints(), out.Size(), len(iters), skipped)
	return out, nil
}
