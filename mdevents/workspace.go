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
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/google/uuid"

	"github.com/cubefs/mdstore/api"
	apierrors "github.com/cubefs/mdstore/errors"
	"github.com/cubefs/mdstore/metrics"
	"github.com/cubefs/mdstore/proto"
)

// MDEventWorkspace is an n-dimensional event store indexed by a box tree.
// Dimensions are declared with AddDimension and frozen by Initialize.
//
// Mutations (AddEvent, splitting, masking, FileBack) need a single writer;
// iterators may run concurrently with each other but not with a writer.
type MDEventWorkspace struct {
	id         string
	nd         int
	eventType  string
	dims       []proto.Dimension
	controller *BoxController
	root       Box

	infoLock sync.RWMutex
	infos    []*proto.ExperimentInfo
}

var _ api.ExperimentInfoHolder = (*MDEventWorkspace)(nil)

func newMDEventWorkspace(nd int, eventType string, cfg ControllerConfig) (*MDEventWorkspace, error) {
	c, err := NewBoxController(nd, cfg)
	if err != nil {
		return nil, err
	}
	c.fullEvents = eventType == proto.FullEventType
	return &MDEventWorkspace{
		id:         uuid.NewString(),
		nd:         nd,
		eventType:  eventType,
		controller: c,
	}, nil
}

func (ws *MDEventWorkspace) ID() string {
	return ws.id
}

func (ws *MDEventWorkspace) EventType() string {
	return ws.eventType
}

func (ws *MDEventWorkspace) NumDims() int {
	return ws.nd
}

func (ws *MDEventWorkspace) BoxController() *BoxController {
	return ws.controller
}

// AddDimension appends the next dimension; allowed only before Initialize.
func (ws *MDEventWorkspace) AddDimension(dim proto.Dimension) error {
	if ws.root != nil {
		return apierrors.ErrAlreadyInitialized
	}
	if len(ws.dims) >= ws.nd {
		return fmt.Errorf("%w: workspace already has %d dimensions", apierrors.ErrInvalidArgument, ws.nd)
	}
	if err := dim.Validate(); err != nil {
		return fmt.Errorf("%w: %s", apierrors.ErrInvalidExtent, err)
	}
	if _, err := ws.DimensionIndexByID(dim.ID); err == nil {
		return fmt.Errorf("%w: duplicate dimension id %s", apierrors.ErrInvalidArgument, dim.ID)
	}
	ws.dims = append(ws.dims, dim)
	return nil
}

// Initialize builds the root box over the declared dimensions.
func (ws *MDEventWorkspace) Initialize() error {
	if ws.root != nil {
		return apierrors.ErrAlreadyInitialized
	}
	if len(ws.dims) != ws.nd {
		return fmt.Errorf("%w: %d of %d dimensions declared", apierrors.ErrNotInitialized, len(ws.dims), ws.nd)
	}
	extents := make([]proto.Extent, ws.nd)
	for d := range ws.dims {
		extents[d] = ws.dims[d].Extent()
	}
	ws.root = newMDBox(ws.controller, ws.controller.nextBoxID(), 0, extents)
	return nil
}

func (ws *MDEventWorkspace) IsInitialized() bool {
	return ws.root != nil
}

func (ws *MDEventWorkspace) Dimension(i int) proto.Dimension {
	return ws.dims[i]
}

func (ws *MDEventWorkspace) Dimensions() []proto.Dimension {
	return append([]proto.Dimension(nil), ws.dims...)
}

func (ws *MDEventWorkspace) DimensionIndexByID(id string) (int, error) {
	for i := range ws.dims {
		if ws.dims[i].ID == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", apierrors.ErrDimensionNotFound, id)
}

// Root is nil before Initialize.
func (ws *MDEventWorkspace) Root() Box {
	return ws.root
}

func (ws *MDEventWorkspace) NPoints() uint64 {
	if ws.root == nil {
		return 0
	}
	return ws.root.NPoints()
}

func (ws *MDEventWorkspace) Signal() float64 {
	if ws.root == nil {
		return 0
	}
	return ws.root.Signal()
}

func (ws *MDEventWorkspace) ErrorSquared() float64 {
	if ws.root == nil {
		return 0
	}
	return ws.root.ErrorSquared()
}

// AddEvent inserts one event. Bounds are checked only when the controller
// validates bounds; otherwise the caller guarantees the event lies inside.
func (ws *MDEventWorkspace) AddEvent(ev Event) error {
	if ws.root == nil {
		return apierrors.ErrNotInitialized
	}
	if ev.NumDims() != ws.nd {
		return fmt.Errorf("%w: %d-dimensional event for a %d-dimensional workspace",
			apierrors.ErrInvalidArgument, ev.NumDims(), ws.nd)
	}
	if err := ws.controller.checkEventKind(&ev); err != nil {
		return err
	}
	if ws.controller.ValidateBounds() {
		if err := ws.root.AddEventChecked(ev); err != nil {
			return err
		}
	} else {
		ws.root.AddEvent(ev)
	}
	metrics.EventsAdded.Inc()
	return nil
}

// AddEvents inserts events in order and stops at the first rejected one,
// returning how many were added.
func (ws *MDEventWorkspace) AddEvents(events []Event) (int, error) {
	for i := range events {
		if err := ws.AddEvent(events[i]); err != nil {
			return i, err
		}
	}
	return len(events), nil
}

// SplitBox turns a leaf root into a grid box regardless of its event count.
func (ws *MDEventWorkspace) SplitBox(ctx context.Context) error {
	if ws.root == nil {
		return apierrors.ErrNotInitialized
	}
	leaf, ok := ws.root.(*MDBox)
	if !ok {
		return nil
	}
	grid, err := leaf.Split(ctx)
	if err != nil {
		return err
	}
	ws.root = grid
	return nil
}

// SplitAllIfNeeded splits every leaf over the split threshold, the root included.
func (ws *MDEventWorkspace) SplitAllIfNeeded(ctx context.Context) error {
	if ws.root == nil {
		return apierrors.ErrNotInitialized
	}
	span := trace.SpanFromContextSafe(ctx)
	if leaf, ok := ws.root.(*MDBox); ok {
		grid, err := leaf.SplitIfNeeded(ctx, ws.controller.SplitThreshold())
		if err != nil {
			return err
		}
		if grid == nil {
			return nil
		}
		ws.root = grid
	}
	if err := ws.root.(*MDGridBox).SplitAllIfNeeded(ctx); err != nil {
		return err
	}
	span.Debugf("workspace %s split, %d boxes", ws.id, ws.controller.MaxID())
	return nil
}

func (ws *MDEventWorkspace) RefreshCache(ctx context.Context) error {
	if ws.root == nil {
		return apierrors.ErrNotInitialized
	}
	return ws.root.RefreshCache(ctx)
}

// CreateIterators partitions the leaves touching fn (nil for all) into n
// iterators. At least one iterator is always returned.
func (ws *MDEventWorkspace) CreateIterators(ctx context.Context, n int, fn api.ImplicitFunction, opts ...api.IteratorOption) ([]*MDBoxIterator, error) {
	if ws.root == nil {
		return nil, apierrors.ErrNotInitialized
	}
	return ws.root.CreateIterators(ctx, n, fn, opts...), nil
}

func (ws *MDEventWorkspace) Integrate(ctx context.Context, fn api.ImplicitFunction) (IntegrateResult, error) {
	if ws.root == nil {
		return IntegrateResult{}, apierrors.ErrNotInitialized
	}
	return ws.root.Integrate(ctx, fn)
}

// FileBack saves every leaf holding at least FileBackThreshold events and
// releases its resident events. It returns the number of leaves released.
func (ws *MDEventWorkspace) FileBack(ctx context.Context) (int, error) {
	if ws.root == nil {
		return 0, apierrors.ErrNotInitialized
	}
	if !ws.controller.IsFileBackEnabled() {
		return 0, apierrors.ErrStorageNotEnabled
	}
	threshold := ws.controller.Config().FileBackThreshold
	var leaves []*MDBox
	walkBoxes(ws.root, func(b Box) {
		if leaf, ok := b.(*MDBox); ok && leaf.NPoints() > 0 && leaf.NPoints() >= threshold {
			leaves = append(leaves, leaf)
		}
	})

	released := 0
	for _, leaf := range leaves {
		if err := ctx.Err(); err != nil {
			return released, err
		}
		if err := leaf.SaveTo(ctx); err != nil {
			return released, err
		}
		if leaf.ReleaseEvents() {
			released++
		}
	}
	trace.SpanFromContextSafe(ctx).Infof("workspace %s file backed %d leaves", ws.id, released)
	return released, nil
}

func (ws *MDEventWorkspace) ExperimentInfos() []*proto.ExperimentInfo {
	ws.infoLock.RLock()
	defer ws.infoLock.RUnlock()
	return append([]*proto.ExperimentInfo(nil), ws.infos...)
}

func (ws *MDEventWorkspace) AddExperimentInfo(info *proto.ExperimentInfo) {
	ws.infoLock.Lock()
	ws.infos = append(ws.infos, info)
	ws.infoLock.Unlock()
}

// CopyExperimentInfos shares the run provenance of src.
func (ws *MDEventWorkspace) CopyExperimentInfos(src api.ExperimentInfoHolder) {
	api.CopyExperimentInfos(ws, src)
}

// WorkspaceStats summarizes the shape of the box tree.
type WorkspaceStats struct {
	ID           string  `json:"id"`
	NumDims      int     `json:"num_dims"`
	EventType    string  `json:"event_type"`
	NPoints      uint64  `json:"npoints"`
	Signal       float64 `json:"signal"`
	ErrorSquared float64 `json:"error_squared"`
	NumBoxes     int     `json:"num_boxes"`
	NumLeaves    int     `json:"num_leaves"`
	NumGrids     int     `json:"num_grids"`
	MaxDepth     int     `json:"max_depth"`
	FileBacked   int     `json:"file_backed"`
	Resident     int     `json:"resident"`
	Masked       int     `json:"masked"`
}

func (ws *MDEventWorkspace) Stats() WorkspaceStats {
	st := WorkspaceStats{ID: ws.id, NumDims: ws.nd, EventType: ws.eventType}
	if ws.root == nil {
		return st
	}
	st.NPoints, st.Signal, st.ErrorSquared = ws.root.NPoints(), ws.root.Signal(), ws.root.ErrorSquared()
	walkBoxes(ws.root, func(b Box) {
		st.NumBoxes++
		if b.Depth() > st.MaxDepth {
			st.MaxDepth = b.Depth()
		}
		switch box := b.(type) {
		case *MDBox:
			st.NumLeaves++
			if box.IsFileBacked() {
				st.FileBacked++
			}
			if box.IsResident() {
				st.Resident++
			}
			if box.IsMasked() {
				st.Masked++
			}
		case *MDGridBox:
			st.NumGrids++
		}
	})
	return st
}

// Close stops the split workers. Storage belongs to the caller and stays open.
func (ws *MDEventWorkspace) Close() {
	ws.controller.close()
}
