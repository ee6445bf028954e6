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

package proto

import "fmt"

// Extent is the closed interval [Min, Max] covered by a box along one dimension.
type Extent struct {
	Min Coord `json:"min"`
	Max Coord `json:"max"`
}

func (e Extent) Width() Coord {
	return e.Max - e.Min
}

func (e Extent) Center() Coord {
	return (e.Min + e.Max) / 2
}

func (e Extent) Contains(x Coord) bool {
	return x >= e.Min && x <= e.Max
}

// Overlaps reports whether the two intervals share more than a boundary point.
func (e Extent) Overlaps(o Extent) bool {
	return e.Min < o.Max && o.Min < e.Max
}

func (e Extent) Valid() bool {
	return e.Max > e.Min
}

func (e Extent) String() string {
	return fmt.Sprintf("[%g,%g]", e.Min, e.Max)
}

// ExtentsContain reports whether every coordinate lies within the matching extent.
func ExtentsContain(extents []Extent, coords []Coord) bool {
	if len(coords) < len(extents) {
		return false
	}
	for d := range extents {
		if !extents[d].Contains(coords[d]) {
			return false
		}
	}
	return true
}

// ExtentsVolume returns the product of the extent widths.
func ExtentsVolume(extents []Extent) float64 {
	v := 1.0
	for i := range extents {
		v *= float64(extents[i].Width())
	}
	return v
}

// ExtentsCenter writes the centre of the extents into out, allocating when out is short.
func ExtentsCenter(extents []Extent, out []Coord) []Coord {
	if len(out) < len(extents) {
		out = make([]Coord, len(extents))
	}
	for d := range extents {
		out[d] = extents[d].Center()
	}
	return out[:len(extents)]
}
