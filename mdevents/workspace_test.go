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
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/cubefs/mdstore/api"
	apierrors "github.com/cubefs/mdstore/errors"
	"github.com/cubefs/mdstore/geometry"
	"github.com/cubefs/mdstore/proto"
	"github.com/cubefs/mdstore/storage"
	"github.com/cubefs/mdstore/util"
)

func newTestWorkspace(t *testing.T, nd int, eventType string, opts ...Option) *MDEventWorkspace {
	ws, err := CreateMDEventWorkspace(nd, eventType, opts...)
	require.NoError(t, err)
	t.Cleanup(ws.Close)
	for d := 0; d < nd; d++ {
		name := fmt.Sprintf("Axis%d", d)
		require.NoError(t, ws.AddDimension(proto.NewDimension(name, name, "A", 0, 10, 10)))
	}
	require.NoError(t, ws.Initialize())
	return ws
}

func newTestStorage(t *testing.T) storage.Storage {
	path, err := util.GenTmpPath()
	require.NoError(t, err)
	st, err := storage.NewFileStorage(context.Background(), &storage.Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() {
		st.Close()
		os.RemoveAll(path)
	})
	return st
}

// collectSignals drains the iterators concurrently and returns the sorted
// signals of every event visited.
func collectSignals(t *testing.T, iters []*MDBoxIterator) []float64 {
	var lock sync.Mutex
	var signals []float64
	var eg errgroup.Group
	for _, it := range iters {
		it := it
		eg.Go(func() error {
			var local []float64
			for ok := it.Valid(); ok; ok = it.Next() {
				events, err := it.Events()
				if err != nil {
					return err
				}
				for i := range events {
					local = append(local, events[i].Signal())
				}
			}
			if err := it.Err(); err != nil {
				return err
			}
			lock.Lock()
			signals = append(signals, local...)
			lock.Unlock()
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	sort.Float64s(signals)
	return signals
}

func TestCreateMDEventWorkspace(t *testing.T) {
	for nd := 1; nd <= 9; nd++ {
		ws, err := CreateMDEventWorkspace(nd, "")
		require.NoError(t, err)
		require.Equal(t, nd, ws.NumDims())
		require.Equal(t, proto.LeanEventType, ws.EventType())
		ws.Close()
	}

	for _, nd := range []int{0, 10, -1} {
		_, err := CreateMDEventWorkspace(nd, proto.LeanEventType)
		require.ErrorIs(t, err, apierrors.ErrInvalidDimensionality)
		require.ErrorIs(t, err, apierrors.ErrInvalidArgument)
	}

	_, err := CreateMDEventWorkspace(2, "MDWeirdEvent")
	require.ErrorIs(t, err, apierrors.ErrInvalidArgument)

	ws, err := CreateMDEventWorkspace(2, proto.FullEventType,
		WithControllerConfig(ControllerConfig{SplitInto: 3, SplitThreshold: 7}))
	require.NoError(t, err)
	defer ws.Close()
	require.Equal(t, 9, ws.BoxController().NumSplit())
	require.Equal(t, uint64(7), ws.BoxController().SplitThreshold())
	require.True(t, ws.BoxController().fullEvents)
	require.NotEmpty(t, ws.ID())
}

func TestWorkspace_Dimensions(t *testing.T) {
	ws, err := CreateMDEventWorkspace(2, "")
	require.NoError(t, err)
	defer ws.Close()

	require.ErrorIs(t, ws.AddEvent(mustEvent(t, 1, 1, 1)), apierrors.ErrNotInitialized)
	_, err = ws.CreateIterators(context.Background(), 1, nil)
	require.ErrorIs(t, err, apierrors.ErrNotInitialized)

	require.NoError(t, ws.AddDimension(proto.NewDimension("Q_x", "qx", "1/A", -5, 5, 10)))
	require.ErrorIs(t, ws.AddDimension(proto.NewDimension("Q_x", "qx", "1/A", -5, 5, 10)), apierrors.ErrInvalidArgument)
	require.ErrorIs(t, ws.AddDimension(proto.NewDimension("bad", "bad", "", 5, 5, 10)), apierrors.ErrInvalidExtent)
	require.ErrorIs(t, ws.Initialize(), apierrors.ErrNotInitialized)

	require.NoError(t, ws.AddDimension(proto.NewDimension("DeltaE", "e", "meV", 0, 20, 4)))
	require.ErrorIs(t, ws.AddDimension(proto.NewDimension("T", "t", "K", 0, 1, 1)), apierrors.ErrInvalidArgument)
	require.NoError(t, ws.Initialize())
	require.ErrorIs(t, ws.Initialize(), apierrors.ErrAlreadyInitialized)
	require.ErrorIs(t, ws.AddDimension(proto.NewDimension("T", "t", "K", 0, 1, 1)), apierrors.ErrAlreadyInitialized)

	idx, err := ws.DimensionIndexByID("e")
	require.NoError(t, err)
	require.Equal(t, 1, idx)
	_, err = ws.DimensionIndexByID("nope")
	require.ErrorIs(t, err, apierrors.ErrDimensionNotFound)
	require.Equal(t, "Q_x", ws.Dimension(0).Name)
	require.Equal(t, []proto.Extent{{Min: -5, Max: 5}, {Min: 0, Max: 20}}, ws.Root().Extents())

	require.ErrorIs(t, ws.AddEvent(mustEvent(t, 1, 1)), apierrors.ErrInvalidArgument)
}

func TestWorkspace_EventKind(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)
	full, err := NewFullEvent(1, []proto.Coord{1}, 1, 1, 7, 42)
	require.NoError(t, err)
	lean := mustEvent(t, 1, 1)

	ws := newTestWorkspace(t, 1, proto.LeanEventType, WithStorage(st))
	require.ErrorIs(t, ws.AddEvent(full), apierrors.ErrInvalidArgument)
	require.ErrorIs(t, ws.Root().AddEventChecked(full), apierrors.ErrInvalidArgument)
	require.NoError(t, ws.AddEvent(lean))

	fullWs := newTestWorkspace(t, 1, proto.FullEventType, WithStorage(st))
	require.ErrorIs(t, fullWs.AddEvent(lean), apierrors.ErrInvalidArgument)
	require.ErrorIs(t, fullWs.Root().AddEventChecked(lean), apierrors.ErrInvalidArgument)
	require.NoError(t, fullWs.AddEvent(full))
	require.Equal(t, uint64(1), fullWs.NPoints())

	// provenance survives a file-back round trip
	released, err := fullWs.FileBack(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, released)
	events, err := fullWs.Root().(*MDBox).Events(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.True(t, events[0].HasProvenance())
	require.Equal(t, uint16(7), events[0].RunIndex())
	require.Equal(t, int32(42), events[0].DetectorID())
}

func TestWorkspace_ValidateBounds(t *testing.T) {
	ws := newTestWorkspace(t, 2, "", WithControllerConfig(ControllerConfig{ValidateBounds: true}))
	n, err := ws.AddEvents([]Event{
		mustEvent(t, 1, 1, 1),
		mustEvent(t, 1, 11, 1),
		mustEvent(t, 1, 2, 2),
	})
	require.ErrorIs(t, err, apierrors.ErrOutOfBounds)
	require.Equal(t, 1, n)
	require.Equal(t, uint64(1), ws.NPoints())
}

// 1000 events spread over a 1-D axis, threshold 100, split into 5.
func TestWorkspace_OneDimensionalSplit(t *testing.T) {
	ctx := context.Background()
	ws := newTestWorkspace(t, 1, "", WithControllerConfig(ControllerConfig{SplitInto: 5, SplitThreshold: 100}))
	for i := 0; i < 1000; i++ {
		require.NoError(t, ws.AddEvent(mustEvent(t, 1, (proto.Coord(i)+0.5)/100)))
	}
	require.Equal(t, uint64(1000), ws.NPoints())
	require.Equal(t, 1000.0, ws.Signal())

	require.NoError(t, ws.SplitBox(ctx))
	grid, ok := ws.Root().(*MDGridBox)
	require.True(t, ok)
	require.Equal(t, 5, grid.NumChildren())
	for _, child := range grid.Children() {
		require.Equal(t, uint64(200), child.NPoints())
	}

	require.NoError(t, ws.SplitAllIfNeeded(ctx))
	st := ws.Stats()
	require.Equal(t, 25, st.NumLeaves)
	require.Equal(t, 6, st.NumGrids)
	require.Equal(t, 2, st.MaxDepth)
	require.Equal(t, uint64(1000), st.NPoints)
	for _, child := range grid.Children() {
		for _, leaf := range child.(*MDGridBox).Children() {
			require.Equal(t, uint64(40), leaf.NPoints())
		}
	}
	checkTree(t, ws.Root())
}

func TestWorkspace_SplitAllIfNeededLeafRoot(t *testing.T) {
	ctx := context.Background()
	ws := newTestWorkspace(t, 2, "", WithControllerConfig(ControllerConfig{SplitThreshold: 50}))
	for _, ev := range randomEvents(t, rand.New(rand.NewSource(1)), 2, 50, 10) {
		require.NoError(t, ws.AddEvent(ev))
	}
	require.NoError(t, ws.SplitAllIfNeeded(ctx))
	_, ok := ws.Root().(*MDBox)
	require.True(t, ok)

	require.NoError(t, ws.AddEvent(mustEvent(t, 1, 5, 5)))
	require.NoError(t, ws.SplitAllIfNeeded(ctx))
	_, ok = ws.Root().(*MDGridBox)
	require.True(t, ok)
	checkTree(t, ws.Root())
}

func TestWorkspace_IteratorsCompleteAndDisjoint(t *testing.T) {
	ctx := context.Background()
	ws := newTestWorkspace(t, 3, "", WithControllerConfig(ControllerConfig{SplitInto: 3, SplitThreshold: 30}))
	const total = 3000
	_, err := ws.AddEvents(randomEvents(t, rand.New(rand.NewSource(11)), 3, total, 10))
	require.NoError(t, err)
	require.NoError(t, ws.SplitAllIfNeeded(ctx))

	want := make([]float64, total)
	for i := range want {
		want[i] = float64(i)
	}
	leaves := ws.Stats().NumLeaves
	for _, n := range []int{1, 2, 3, 7, 16, leaves, total} {
		iters, err := ws.CreateIterators(ctx, n, nil)
		require.NoError(t, err)
		require.Len(t, iters, api.ClampIterators(n, leaves))

		size := 0
		for _, it := range iters {
			size += it.DataSize()
		}
		require.Equal(t, leaves, size)
		require.Empty(t, cmp.Diff(want, collectSignals(t, iters)), "n=%d", n)
	}

	iters, err := ws.CreateIterators(ctx, 0, nil)
	require.NoError(t, err)
	require.Len(t, iters, 1)
}

func TestWorkspace_IteratorProtocol(t *testing.T) {
	ctx := context.Background()
	ws := newTestWorkspace(t, 2, "", WithControllerConfig(ControllerConfig{SplitInto: 2, SplitThreshold: 1}))
	require.NoError(t, ws.AddEvent(mustEvent(t, 2, 1, 1)))
	require.NoError(t, ws.AddEvent(mustEvent(t, 3, 9, 9)))
	require.NoError(t, ws.SplitAllIfNeeded(ctx))

	iters, err := ws.CreateIterators(ctx, 1, nil)
	require.NoError(t, err)
	it := iters[0]
	require.Equal(t, 4, it.DataSize())

	var signal float64
	var events uint64
	var centers [][]proto.Coord
	for ok := it.Valid(); ok; ok = it.Next() {
		signal += it.Signal()
		events += it.NumEvents()
		centers = append(centers, append([]proto.Coord(nil), it.Center()...))
		require.Equal(t, it.ErrorSquared(), it.Error()*it.Error())
		require.False(t, it.IsMasked())
	}
	require.NoError(t, it.Err())
	require.Equal(t, 5.0, signal)
	require.Equal(t, uint64(2), events)
	require.Equal(t, [][]proto.Coord{{2.5, 2.5}, {7.5, 2.5}, {2.5, 7.5}, {7.5, 7.5}}, centers)

	require.PanicsWithValue(t, apierrors.ErrIteratorExhausted, func() { it.Signal() })
	require.PanicsWithValue(t, apierrors.ErrIteratorExhausted, func() { it.Next() })

	// masked boxes are skipped unless asked for
	ws.Root().(*MDGridBox).Child(0).SetMasked(true)
	iters, err = ws.CreateIterators(ctx, 1, nil)
	require.NoError(t, err)
	require.Equal(t, 3, iters[0].DataSize())
	iters, err = ws.CreateIterators(ctx, 1, nil, api.WithMasked())
	require.NoError(t, err)
	require.Equal(t, 4, iters[0].DataSize())
	require.True(t, iters[0].IsMasked())

	// an implicit function restricts the leaves
	region, err := geometry.NewBoxFunction([]proto.Coord{6, 6}, []proto.Coord{10, 10})
	require.NoError(t, err)
	iters, err = ws.CreateIterators(ctx, 4, region)
	require.NoError(t, err)
	require.Len(t, iters, 1)
	require.Equal(t, 1, iters[0].DataSize())
	require.Equal(t, 3.0, iters[0].Signal())
}

func TestWorkspace_IteratorCancellation(t *testing.T) {
	ws := newTestWorkspace(t, 1, "", WithControllerConfig(ControllerConfig{SplitThreshold: 1}))
	for i := 0; i < 10; i++ {
		require.NoError(t, ws.AddEvent(mustEvent(t, 1, proto.Coord(i))))
	}
	require.NoError(t, ws.SplitAllIfNeeded(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	iters, err := ws.CreateIterators(ctx, 1, nil)
	require.NoError(t, err)
	it := iters[0]
	require.True(t, it.Valid())
	cancel()
	require.False(t, it.Next())
	require.ErrorIs(t, it.Err(), context.Canceled)

	iters, err = ws.CreateIterators(ctx, 2, nil)
	require.NoError(t, err)
	for _, it := range iters {
		require.False(t, it.Valid())
		require.ErrorIs(t, it.Err(), context.Canceled)
	}
}

func TestWorkspace_FileBacked(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)
	ws := newTestWorkspace(t, 2, proto.FullEventType,
		WithControllerConfig(ControllerConfig{SplitInto: 2, SplitThreshold: 100}), WithStorage(st))

	r := rand.New(rand.NewSource(5))
	var events []Event
	for i := 0; i < 1000; i++ {
		ev, err := NewFullEvent(2, []proto.Coord{r.Float32() * 10, r.Float32() * 10}, float64(i), 2, uint16(i%3), int32(i))
		require.NoError(t, err)
		events = append(events, ev)
	}
	_, err := ws.AddEvents(events)
	require.NoError(t, err)
	require.NoError(t, ws.SplitAllIfNeeded(ctx))
	before := ws.Stats()

	released, err := ws.FileBack(ctx)
	require.NoError(t, err)
	after := ws.Stats()
	require.Equal(t, after.FileBacked, released)
	require.Equal(t, after.NumLeaves-after.FileBacked, after.Resident)
	require.Equal(t, before.NPoints, after.NPoints)
	require.Equal(t, before.Signal, after.Signal)

	// round trip keeps every field, provenance included
	iters, err := ws.CreateIterators(ctx, 3, nil)
	require.NoError(t, err)
	var got []Event
	for _, it := range iters {
		for ok := it.Valid(); ok; ok = it.Next() {
			evs, err := it.Events()
			require.NoError(t, err)
			got = append(got, evs...)
		}
	}
	byDetector := func(evs []Event) {
		sort.Slice(evs, func(i, j int) bool { return evs[i].DetectorID() < evs[j].DetectorID() })
	}
	byDetector(got)
	require.Empty(t, cmp.Diff(events, got, cmp.AllowUnexported(Event{})))
	checkTree(t, ws.Root())

	// unchanged boxes are not rewritten, changed ones are
	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	saves := stats.Saves
	_, err = ws.FileBack(ctx)
	require.NoError(t, err)
	stats, err = st.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, saves, stats.Saves)

	extra, err := NewFullEvent(2, []proto.Coord{0.1, 0.1}, 1, 1, 9, 5000)
	require.NoError(t, err)
	require.NoError(t, ws.AddEvent(extra))
	_, err = ws.FileBack(ctx)
	require.NoError(t, err)
	stats, err = st.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, saves+1, stats.Saves)
}

func TestWorkspace_FileBackedPending(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)
	ws := newTestWorkspace(t, 1, "", WithStorage(st))
	for i := 0; i < 10; i++ {
		require.NoError(t, ws.AddEvent(mustEvent(t, float64(i), proto.Coord(i))))
	}
	released, err := ws.FileBack(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, released)

	leaf := ws.Root().(*MDBox)
	require.False(t, leaf.IsResident())
	require.True(t, leaf.IsFileBacked())
	loc, ok := leaf.Location()
	require.True(t, ok)
	require.Equal(t, uint64(10*recordSize(1, false)), loc.Length)

	// added while released: counted at once, merged on the next load
	require.NoError(t, ws.AddEvent(mustEvent(t, 10, 9.5)))
	require.Equal(t, uint64(11), ws.NPoints())
	require.False(t, leaf.IsResident())
	events, err := leaf.Events(ctx)
	require.NoError(t, err)
	require.Len(t, events, 11)
	require.False(t, leaf.ReleaseEvents())

	require.NoError(t, leaf.SaveTo(ctx))
	require.True(t, leaf.ReleaseEvents())

	// concurrent loads of the same box see one consistent event set
	var eg errgroup.Group
	for i := 0; i < 8; i++ {
		eg.Go(func() error {
			evs, err := leaf.Events(ctx)
			if err != nil {
				return err
			}
			if len(evs) != 11 {
				return fmt.Errorf("loaded %d events", len(evs))
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	// split frees the storage of the leaf it replaces
	require.NoError(t, ws.SplitBox(ctx))
	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(0), stats.Used)
	checkTree(t, ws.Root())
}

func TestWorkspace_StorageErrors(t *testing.T) {
	ctx := context.Background()
	ws := newTestWorkspace(t, 1, "")
	_, err := ws.FileBack(ctx)
	require.ErrorIs(t, err, apierrors.ErrStorageNotEnabled)
	err = ws.Root().(*MDBox).SaveTo(ctx)
	require.ErrorIs(t, err, apierrors.ErrStorage)

	st := newTestStorage(t)
	ws = newTestWorkspace(t, 1, "", WithStorage(st))
	require.NoError(t, ws.AddEvent(mustEvent(t, 1, 1)))
	_, err = ws.FileBack(ctx)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	iters, err := ws.CreateIterators(ctx, 1, nil)
	require.NoError(t, err)
	_, err = iters[0].Events()
	require.ErrorIs(t, err, apierrors.ErrStorage)
	var serr *apierrors.StorageError
	require.True(t, errors.As(err, &serr))
	require.Equal(t, "load", serr.Op)
	require.ErrorIs(t, err, storage.ErrClosed)
	require.ErrorIs(t, iters[0].Err(), apierrors.ErrStorage)
}

func TestWorkspace_ExperimentInfos(t *testing.T) {
	src := newTestWorkspace(t, 1, "")
	src.AddExperimentInfo(&proto.ExperimentInfo{RunNumber: 42, Instrument: "CNCS"})
	dst := newTestWorkspace(t, 1, "")
	dst.CopyExperimentInfos(src)
	require.Len(t, dst.ExperimentInfos(), 1)
	require.Equal(t, int64(42), dst.ExperimentInfos()[0].RunNumber)
}
