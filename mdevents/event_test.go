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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	apierrors "github.com/cubefs/mdstore/errors"
	"github.com/cubefs/mdstore/proto"
	"github.com/cubefs/mdstore/util"
)

func TestNewEvent(t *testing.T) {
	ev, err := NewEvent(3, []proto.Coord{1, 2, 3}, 2.5, 4)
	require.NoError(t, err)
	require.Equal(t, 3, ev.NumDims())
	require.Equal(t, []proto.Coord{1, 2, 3}, ev.Coords())
	require.Equal(t, proto.Coord(2), ev.Center(1))
	require.Equal(t, 2.5, ev.Signal())
	require.Equal(t, 4.0, ev.ErrorSquared())
	require.Equal(t, 2.0, ev.Error())
	require.False(t, ev.HasProvenance())

	_, err = NewEvent(2, []proto.Coord{1, 2, 3}, 1, 1)
	require.ErrorIs(t, err, apierrors.ErrConstruction)
	_, err = NewEvent(0, nil, 1, 1)
	require.ErrorIs(t, err, apierrors.ErrConstruction)
	_, err = NewEvent(10, make([]proto.Coord, 10), 1, 1)
	require.ErrorIs(t, err, apierrors.ErrConstruction)

	full, err := NewFullEvent(2, []proto.Coord{0.5, -0.5}, 1, 1, 7, -42)
	require.NoError(t, err)
	require.True(t, full.HasProvenance())
	require.Equal(t, uint16(7), full.RunIndex())
	require.Equal(t, int32(-42), full.DetectorID())

	// coordinates are copied
	coords := []proto.Coord{1}
	ev, err = NewEvent(1, coords, 1, 1)
	require.NoError(t, err)
	coords[0] = 9
	require.Equal(t, proto.Coord(1), ev.Center(0))
}

func TestCodec(t *testing.T) {
	require.Equal(t, 2*4+16, recordSize(2, false))
	require.Equal(t, 2*4+16+6, recordSize(2, true))

	for _, full := range []bool{false, true} {
		var events []Event
		for i := 0; i < 10; i++ {
			var ev Event
			var err error
			coords := []proto.Coord{proto.Coord(i), proto.Coord(-i) / 3}
			if full {
				ev, err = NewFullEvent(2, coords, float64(i), float64(i)*0.5, uint16(i), int32(1000-i))
			} else {
				ev, err = NewEvent(2, coords, float64(i), float64(i)*0.5)
			}
			require.NoError(t, err)
			events = append(events, ev)
		}

		data := encodeEvents(events, 2, full)
		require.Len(t, data, recordSize(2, full)*len(events))
		decoded, err := decodeEvents(nil, data, 2, full)
		require.NoError(t, err)
		util.PutBuffer(data)
		require.Empty(t, cmp.Diff(events, decoded, cmp.AllowUnexported(Event{})))
	}

	_, err := decodeEvents(nil, make([]byte, 7), 2, false)
	require.ErrorIs(t, err, apierrors.ErrStorage)
}
