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
	"encoding/binary"
	"fmt"
	"math"

	apierrors "github.com/cubefs/mdstore/errors"
	"github.com/cubefs/mdstore/util"
)

const (
	coordSize      = 4
	leanTrailer    = 16
	provenanceSize = 6
)

// recordSize is the fixed on-disk size of one event: little endian float32
// coordinates, float64 signal and error squared, then uint16 run index and
// int32 detector id when provenance is kept.
func recordSize(nd int, full bool) int {
	n := nd*coordSize + leanTrailer
	if full {
		n += provenanceSize
	}
	return n
}

// encodeEvents packs events into a pooled buffer released with util.PutBuffer.
func encodeEvents(events []Event, nd int, full bool) []byte {
	size := recordSize(nd, full)
	buf := util.GetBuffer(size * len(events))
	off := 0
	for i := range events {
		ev := &events[i]
		for d := 0; d < nd; d++ {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(ev.center[d]))
			off += coordSize
		}
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(ev.signal))
		binary.LittleEndian.PutUint64(buf[off+8:], math.Float64bits(ev.errorSquared))
		off += leanTrailer
		if full {
			binary.LittleEndian.PutUint16(buf[off:], ev.runIndex)
			binary.LittleEndian.PutUint32(buf[off+2:], uint32(ev.detectorID))
			off += provenanceSize
		}
	}
	return buf[:off]
}

// decodeEvents appends the events held in data to dst.
func decodeEvents(dst []Event, data []byte, nd int, full bool) ([]Event, error) {
	size := recordSize(nd, full)
	if len(data)%size != 0 {
		return dst, fmt.Errorf("%w: %d bytes is not a multiple of record size %d", apierrors.ErrStorage, len(data), size)
	}
	for off := 0; off < len(data); {
		ev := Event{nd: uint8(nd), full: full}
		for d := 0; d < nd; d++ {
			ev.center[d] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += coordSize
		}
		ev.signal = math.Float64frombits(binary.LittleEndian.Uint64(data[off:]))
		ev.errorSquared = math.Float64frombits(binary.LittleEndian.Uint64(data[off+8:]))
		off += leanTrailer
		if full {
			ev.runIndex = binary.LittleEndian.Uint16(data[off:])
			ev.detectorID = int32(binary.LittleEndian.Uint32(data[off+2:]))
			off += provenanceSize
		}
		dst = append(dst, ev)
	}
	return dst, nil
}
