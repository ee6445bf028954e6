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

import (
	"errors"
	"fmt"
)

// Dimension describes one axis of a workspace.
type Dimension struct {
	Name  string `json:"name"`
	ID    string `json:"id"`
	Units string `json:"units"`
	Min   Coord  `json:"min"`
	Max   Coord  `json:"max"`
	NBins uint32 `json:"nbins"`
}

func NewDimension(name, id, units string, min, max Coord, nbins uint32) Dimension {
	return Dimension{Name: name, ID: id, Units: units, Min: min, Max: max, NBins: nbins}
}

func (d *Dimension) Validate() error {
	if d.ID == "" {
		return errors.New("dimension id is empty")
	}
	if !(d.Max > d.Min) {
		return fmt.Errorf("dimension %s: max %g must be greater than min %g", d.ID, d.Max, d.Min)
	}
	if d.NBins == 0 {
		return fmt.Errorf("dimension %s: nbins must be positive", d.ID)
	}
	return nil
}

func (d *Dimension) Extent() Extent {
	return Extent{Min: d.Min, Max: d.Max}
}

func (d *Dimension) BinWidth() Coord {
	return (d.Max - d.Min) / Coord(d.NBins)
}

// BinIndex returns the bin holding x, or false when x is outside [Min, Max].
// Max itself falls into the last bin, matching the closed upper face of boxes.
func (d *Dimension) BinIndex(x Coord) (int, bool) {
	if x < d.Min || x > d.Max {
		return 0, false
	}
	i := int((x - d.Min) / d.BinWidth())
	if i >= int(d.NBins) {
		i = int(d.NBins) - 1
	}
	return i, true
}

// BinCenter returns the centre coordinate of bin i.
func (d *Dimension) BinCenter(i int) Coord {
	w := d.BinWidth()
	return d.Min + w*Coord(i) + w/2
}

// ExperimentInfo carries the run provenance of a workspace.
type ExperimentInfo struct {
	RunNumber  int64             `json:"run_number"`
	Instrument string            `json:"instrument"`
	Logs       map[string]string `json:"logs"`
}
