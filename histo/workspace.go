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

package histo

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/cubefs/mdstore/api"
	apierrors "github.com/cubefs/mdstore/errors"
	"github.com/cubefs/mdstore/proto"
)

// MDHistoWorkspace is a dense n-dimensional histogram. Bin i along every
// dimension d is addressed by the linear index Σ i[d]*stride[d], stride[0] = 1.
//
// Setters are not synchronized; concurrent writers must touch disjoint bins.
type MDHistoWorkspace struct {
	dims    []proto.Dimension
	strides []int

	signal       []float64
	errorSquared []float64
	numEvents    []float64
	masked       []bool

	infoLock sync.RWMutex
	infos    []*proto.ExperimentInfo
}

var _ api.ExperimentInfoHolder = (*MDHistoWorkspace)(nil)

func NewMDHistoWorkspace(dims []proto.Dimension) (*MDHistoWorkspace, error) {
	if !proto.ValidDimensionality(len(dims)) {
		return nil, fmt.Errorf("%w: got %d", apierrors.ErrInvalidDimensionality, len(dims))
	}
	h := &MDHistoWorkspace{
		dims:    append([]proto.Dimension(nil), dims...),
		strides: make([]int, len(dims)),
	}
	size := 1
	for d := range h.dims {
		if err := h.dims[d].Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s", apierrors.ErrInvalidExtent, err)
		}
		h.strides[d] = size
		size *= int(h.dims[d].NBins)
	}
	h.signal = make([]float64, size)
	h.errorSquared = make([]float64, size)
	h.numEvents = make([]float64, size)
	h.masked = make([]bool, size)
	return h, nil
}

func (h *MDHistoWorkspace) NumDims() int {
	return len(h.dims)
}

func (h *MDHistoWorkspace) Dimension(d int) proto.Dimension {
	return h.dims[d]
}

func (h *MDHistoWorkspace) Dimensions() []proto.Dimension {
	return append([]proto.Dimension(nil), h.dims...)
}

// Size is the total number of bins.
func (h *MDHistoWorkspace) Size() int {
	return len(h.signal)
}

// LinearIndexAtCoord returns the bin holding coords, or false when any
// coordinate falls outside its dimension.
func (h *MDHistoWorkspace) LinearIndexAtCoord(coords []proto.Coord) (int, bool) {
	if len(coords) < len(h.dims) {
		return 0, false
	}
	idx := 0
	for d := range h.dims {
		b, ok := h.dims[d].BinIndex(coords[d])
		if !ok {
			return 0, false
		}
		idx += b * h.strides[d]
	}
	return idx, true
}

// CenterAt writes the centre of bin i into out, allocating when out is short.
func (h *MDHistoWorkspace) CenterAt(i int, out []proto.Coord) []proto.Coord {
	if len(out) < len(h.dims) {
		out = make([]proto.Coord, len(h.dims))
	}
	for d := range h.dims {
		b := (i / h.strides[d]) % int(h.dims[d].NBins)
		out[d] = h.dims[d].BinCenter(b)
	}
	return out[:len(h.dims)]
}

func (h *MDHistoWorkspace) SignalAt(i int) float64 {
	return h.signal[i]
}

func (h *MDHistoWorkspace) ErrorSquaredAt(i int) float64 {
	return h.errorSquared[i]
}

func (h *MDHistoWorkspace) ErrorAt(i int) float64 {
	return math.Sqrt(h.errorSquared[i])
}

func (h *MDHistoWorkspace) NumEventsAt(i int) float64 {
	return h.numEvents[i]
}

func (h *MDHistoWorkspace) IsMaskedAt(i int) bool {
	return h.masked[i]
}

func (h *MDHistoWorkspace) SetSignalAt(i int, v float64) {
	h.signal[i] = v
}

func (h *MDHistoWorkspace) SetErrorSquaredAt(i int, v float64) {
	h.errorSquared[i] = v
}

func (h *MDHistoWorkspace) SetNumEventsAt(i int, v float64) {
	h.numEvents[i] = v
}

func (h *MDHistoWorkspace) SetMDMaskAt(i int, masked bool) {
	h.masked[i] = masked
}

// Add accumulates o into h bin by bin; both must share the same shape.
func (h *MDHistoWorkspace) Add(o *MDHistoWorkspace) error {
	if o.Size() != h.Size() || o.NumDims() != h.NumDims() {
		return fmt.Errorf("%w: histogram shapes differ", apierrors.ErrInvalidArgument)
	}
	floats.Add(h.signal, o.signal)
	floats.Add(h.errorSquared, o.errorSquared)
	floats.Add(h.numEvents, o.numEvents)
	return nil
}

// Empty returns a zeroed histogram with the same dimensions.
func (h *MDHistoWorkspace) Empty() *MDHistoWorkspace {
	out, _ := NewMDHistoWorkspace(h.dims)
	return out
}

func (h *MDHistoWorkspace) TotalSignal() float64 {
	return floats.Sum(h.signal)
}

func (h *MDHistoWorkspace) TotalErrorSquared() float64 {
	return floats.Sum(h.errorSquared)
}

func (h *MDHistoWorkspace) TotalEvents() float64 {
	return floats.Sum(h.numEvents)
}

// SignalStats is the spread of the signal over the unmasked bins.
type SignalStats struct {
	Bins   int     `json:"bins"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

func (h *MDHistoWorkspace) SignalStats() SignalStats {
	values := make([]float64, 0, len(h.signal))
	for i, v := range h.signal {
		if !h.masked[i] {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return SignalStats{}
	}
	st := SignalStats{Bins: len(values), Min: floats.Min(values), Max: floats.Max(values)}
	if len(values) > 1 {
		st.Mean, st.StdDev = stat.MeanStdDev(values, nil)
	} else {
		st.Mean = values[0]
	}
	return st
}

func (h *MDHistoWorkspace) ExperimentInfos() []*proto.ExperimentInfo {
	h.infoLock.RLock()
	defer h.infoLock.RUnlock()
	return append([]*proto.ExperimentInfo(nil), h.infos...)
}

func (h *MDHistoWorkspace) AddExperimentInfo(info *proto.ExperimentInfo) {
	h.infoLock.Lock()
	h.infos = append(h.infos, info)
	h.infoLock.Unlock()
}

func (h *MDHistoWorkspace) CopyExperimentInfos(src api.ExperimentInfoHolder) {
	api.CopyExperimentInfos(h, src)
}

// AddAt accumulates one contribution into bin i.
func (h *MDHistoWorkspace) AddAt(i int, signal, errorSquared, numEvents float64) {
	h.signal[i] += signal
	h.errorSquared[i] += errorSquared
	h.numEvents[i] += numEvents
}
