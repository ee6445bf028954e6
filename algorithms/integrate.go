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
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"golang.org/x/sync/errgroup"

	"github.com/cubefs/mdstore/api"
	"github.com/cubefs/mdstore/mdevents"
)

// IntegrateRegion sums signal, error squared and event count of the unmasked
// events of ws inside fn. Leaves fully inside fn contribute their aggregates,
// leaves crossing its border are checked event by event.
func IntegrateRegion(ctx context.Context, ws *mdevents.MDEventWorkspace, fn api.ImplicitFunction, opts ...Option) (mdevents.IntegrateResult, error) {
	o := applyOptions(opts)
	eg, gctx := errgroup.WithContext(ctx)
	iters, err := ws.CreateIterators(gctx, o.numWorkers, fn)
	if err != nil {
		return mdevents.IntegrateResult{}, err
	}

	var lock sync.Mutex
	var total mdevents.IntegrateResult
	for _, it := range iters {
		it := it
		eg.Go(func() error {
			var local mdevents.IntegrateResult
			for ok := it.Valid(); ok; ok = it.Next() {
				res, err := it.Box().Integrate(gctx, fn)
				if err != nil {
					return err
				}
				local.Signal += res.Signal
				local.ErrorSquared += res.ErrorSquared
				local.NumEvents += res.NumEvents
			}
			if err := it.Err(); err != nil {
				return err
			}
			lock.Lock()
			total.Signal += local.Signal
			total.ErrorSquared += local.ErrorSquared
			total.NumEvents += local.NumEvents
			lock.Unlock()
			return nil
		})
	}
	if err = eg.Wait(); err != nil {
		return mdevents.IntegrateResult{}, err
	}
	trace.SpanFromContextSafe(ctx).Debugf("integrated %d events over %d iterators", total.NumEvents, len(iters))
	return total, nil
}
