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
	"sync"
	"sync/atomic"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"

	"github.com/cubefs/mdstore/api"
	apierrors "github.com/cubefs/mdstore/errors"
	"github.com/cubefs/mdstore/metrics"
	"github.com/cubefs/mdstore/proto"
	"github.com/cubefs/mdstore/storage"
	"github.com/cubefs/mdstore/util"
)

// MDBox is a leaf box holding its events directly.
//
// A leaf that was never saved is resident and its events are authoritative.
// Once saved it owns a storage location; its events may then be released and
// are loaded again on demand. Events added while released wait in pending
// until the next load.
type MDBox struct {
	boxBase

	// lock serializes the load transition, resident gives readers a lock free fast path.
	lock     sync.Mutex
	resident atomic.Bool
	events   []Event
	pending  []Event
	location *storage.Location
	// dirty marks resident events that differ from the saved copy.
	dirty bool
}

func newMDBox(c *BoxController, id proto.BoxID, depth int, extents []proto.Extent) *MDBox {
	m := &MDBox{boxBase: newBoxBase(c, id, depth, extents)}
	m.resident.Store(true)
	return m
}

func (m *MDBox) AddEvent(ev Event) {
	m.accumulate(&ev)
	if !m.resident.Load() {
		m.pending = append(m.pending, ev)
		return
	}
	m.events = append(m.events, ev)
	if m.location != nil {
		m.dirty = true
	}
}

func (m *MDBox) AddEventChecked(ev Event) error {
	if err := m.checkEvent(&ev); err != nil {
		return err
	}
	m.AddEvent(ev)
	return nil
}

// Events returns the events of the box, loading them from storage when they
// are not resident. The slice is shared and must not be modified.
func (m *MDBox) Events(ctx context.Context) ([]Event, error) {
	if m.resident.Load() {
		return m.events, nil
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	if m.resident.Load() {
		return m.events, nil
	}
	events, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	if len(m.pending) > 0 {
		events = append(events, m.pending...)
		m.pending = nil
		m.dirty = true
	}
	m.events = events
	m.resident.Store(true)
	return m.events, nil
}

func (m *MDBox) load(ctx context.Context) ([]Event, error) {
	st := m.controller.Storage()
	if st == nil {
		return nil, apierrors.NewStorageError("load", m.id, apierrors.ErrStorageNotEnabled)
	}
	data, err := st.Load(ctx, m.id, *m.location)
	if err != nil {
		return nil, apierrors.NewStorageError("load", m.id, err)
	}
	defer util.PutBuffer(data)

	nd := len(m.extents)
	events := make([]Event, 0, len(data)/recordSize(nd, m.controller.fullEvents)+len(m.pending))
	events, err = decodeEvents(events, data, nd, m.controller.fullEvents)
	if err != nil {
		return nil, apierrors.NewStorageError("load", m.id, err)
	}
	metrics.BoxLoads.Inc()
	trace.SpanFromContextSafe(ctx).Debugf("box[%d] loaded %d events from %s", m.id, len(events), m.location)
	return events, nil
}

// SaveTo writes the events of the box to the controller's storage. Saving an
// unchanged file-backed box is a no-op.
func (m *MDBox) SaveTo(ctx context.Context) error {
	st := m.controller.Storage()
	if st == nil {
		return apierrors.NewStorageError("save", m.id, apierrors.ErrStorageNotEnabled)
	}
	if m.location != nil && !m.resident.Load() && len(m.pending) == 0 {
		return nil
	}
	events, err := m.Events(ctx)
	if err != nil {
		return err
	}
	if m.location != nil && !m.dirty {
		return nil
	}
	if len(events) == 0 {
		return nil
	}

	data := encodeEvents(events, len(m.extents), m.controller.fullEvents)
	loc, err := st.Save(ctx, m.id, data)
	util.PutBuffer(data)
	if err != nil {
		return apierrors.NewStorageError("save", m.id, err)
	}
	if m.location != nil {
		m.freeLocation(ctx, st)
	}
	m.location = &loc
	m.dirty = false
	metrics.BoxSaves.Inc()
	return nil
}

func (m *MDBox) freeLocation(ctx context.Context, st storage.Storage) {
	if err := st.Free(ctx, m.id, *m.location); err != nil {
		trace.SpanFromContextSafe(ctx).Warnf("free box[%d] at %s failed: %s",
			m.id, m.location, errors.Detail(err))
	}
	m.location = nil
}

// ReleaseEvents drops the resident copy of a saved, unchanged box and reports
// whether memory was released.
func (m *MDBox) ReleaseEvents() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.location == nil || m.dirty || !m.resident.Load() {
		return false
	}
	m.resident.Store(false)
	m.events = nil
	return true
}

func (m *MDBox) IsFileBacked() bool {
	return m.location != nil
}

func (m *MDBox) IsResident() bool {
	return m.resident.Load()
}

// Location returns the storage location of a file-backed box.
func (m *MDBox) Location() (storage.Location, bool) {
	if m.location == nil {
		return storage.Location{}, false
	}
	return *m.location, true
}

func (m *MDBox) SetMasked(masked bool) {
	m.masked = masked
}

// RefreshCache recomputes the aggregates from the resident events; a released
// box keeps the aggregates recorded when it was saved.
func (m *MDBox) RefreshCache(ctx context.Context) error {
	if !m.resident.Load() {
		return nil
	}
	m.npoints, m.signal, m.errorSquared = 0, 0, 0
	for i := range m.events {
		m.accumulate(&m.events[i])
	}
	return nil
}

// SplitIfNeeded returns the grid box that replaces m when it holds more than
// threshold events and may still grow deeper, else nil.
func (m *MDBox) SplitIfNeeded(ctx context.Context, threshold uint64) (*MDGridBox, error) {
	if m.npoints <= threshold || m.depth >= m.controller.MaxDepth() {
		return nil, nil
	}
	return m.Split(ctx)
}

// Split distributes the events of m over a new grid box with the same id,
// extents and depth. The storage held by m is freed.
func (m *MDBox) Split(ctx context.Context) (*MDGridBox, error) {
	events, err := m.Events(ctx)
	if err != nil {
		return nil, err
	}
	grid := newMDGridBox(m.controller, m.id, m.depth, m.extents)
	for i := range events {
		grid.AddEvent(events[i])
	}
	if m.masked {
		grid.SetMasked(true)
	}
	if m.location != nil {
		if st := m.controller.Storage(); st != nil {
			m.freeLocation(ctx, st)
		}
	}
	m.events = nil
	metrics.BoxSplits.Inc()
	trace.SpanFromContextSafe(ctx).Debugf("box[%d] at depth %d split %d events", m.id, m.depth, len(events))
	return grid, nil
}

func (m *MDBox) Integrate(ctx context.Context, fn api.ImplicitFunction) (res IntegrateResult, err error) {
	err = integrate(ctx, m, fn, &res)
	return
}

func (m *MDBox) CreateIterators(ctx context.Context, n int, fn api.ImplicitFunction, opts ...api.IteratorOption) []*MDBoxIterator {
	return createIterators(ctx, m, n, fn, opts...)
}
