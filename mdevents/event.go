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
	"fmt"
	"math"

	apierrors "github.com/cubefs/mdstore/errors"
	"github.com/cubefs/mdstore/proto"
)

// Event is one measured point. Coordinates live inline so a slice of events
// is a single allocation regardless of dimensionality.
type Event struct {
	center       [proto.MaxDimensions]proto.Coord
	nd           uint8
	full         bool
	runIndex     uint16
	detectorID   int32
	signal       float64
	errorSquared float64
}

func NewEvent(nd int, coords []proto.Coord, signal, errorSquared float64) (Event, error) {
	if !proto.ValidDimensionality(nd) {
		return Event{}, fmt.Errorf("%w: event with %d dimensions", apierrors.ErrConstruction, nd)
	}
	if len(coords) != nd {
		return Event{}, fmt.Errorf("%w: %d coordinates for a %d-dimensional event", apierrors.ErrConstruction, len(coords), nd)
	}
	ev := Event{nd: uint8(nd), signal: signal, errorSquared: errorSquared}
	copy(ev.center[:], coords)
	return ev, nil
}

// NewFullEvent builds an event that also records the run and detector it came from.
func NewFullEvent(nd int, coords []proto.Coord, signal, errorSquared float64, runIndex uint16, detectorID int32) (Event, error) {
	ev, err := NewEvent(nd, coords, signal, errorSquared)
	if err != nil {
		return Event{}, err
	}
	ev.full = true
	ev.runIndex = runIndex
	ev.detectorID = detectorID
	return ev, nil
}

func (e *Event) NumDims() int {
	return int(e.nd)
}

func (e *Event) Center(d int) proto.Coord {
	return e.center[d]
}

// Coords returns a view of the coordinates, valid as long as e.
func (e *Event) Coords() []proto.Coord {
	return e.center[:e.nd]
}

func (e *Event) Signal() float64 {
	return e.signal
}

func (e *Event) ErrorSquared() float64 {
	return e.errorSquared
}

func (e *Event) Error() float64 {
	return math.Sqrt(e.errorSquared)
}

func (e *Event) RunIndex() uint16 {
	return e.runIndex
}

func (e *Event) DetectorID() int32 {
	return e.detectorID
}

func (e *Event) HasProvenance() bool {
	return e.full
}

func (e Event) String() string {
	return fmt.Sprintf("event%v signal:%g err2:%g", e.center[:e.nd], e.signal, e.errorSquared)
}
