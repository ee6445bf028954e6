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

package api

import (
	"github.com/cubefs/mdstore/proto"
)

// Contact is the relation of a box to an implicit function region.
type Contact int

const (
	NotTouching Contact = iota
	Touching
	Contained
)

func (c Contact) String() string {
	switch c {
	case NotTouching:
		return "not_touching"
	case Touching:
		return "touching"
	case Contained:
		return "contained"
	default:
		return "unknown"
	}
}

// ImplicitFunction is a region of the workspace space used to restrict queries.
type ImplicitFunction interface {
	// IsPointContained reports whether coords lie inside the region.
	IsPointContained(coords []proto.Coord) bool
	// BoxContact classifies an axis aligned box against the region.
	BoxContact(extents []proto.Extent) Contact
}

// Iterator walks a sequence of boxes or bins. A fresh iterator is positioned
// on its first element; callers test Valid, read, then call Next.
type Iterator interface {
	// Next advances and reports whether the iterator is on a valid element.
	Next() bool
	Valid() bool
	// DataSize is the number of elements this iterator will visit.
	DataSize() int
	Center() []proto.Coord
	Signal() float64
	Error() float64
	ErrorSquared() float64
	NumEvents() uint64
	IsMasked() bool
	// Err returns the cancellation or storage error that stopped the iteration.
	Err() error
}

// ExperimentInfoHolder is implemented by every workspace carrying run provenance.
type ExperimentInfoHolder interface {
	ExperimentInfos() []*proto.ExperimentInfo
	AddExperimentInfo(info *proto.ExperimentInfo)
}

// CopyExperimentInfos shares the provenance of src with dst.
func CopyExperimentInfos(dst, src ExperimentInfoHolder) {
	for _, info := range src.ExperimentInfos() {
		dst.AddExperimentInfo(info)
	}
}

// IteratorOptions selects which boxes or bins an iterator visits.
type IteratorOptions struct {
	// IncludeMasked visits masked elements, which are skipped by default.
	IncludeMasked bool
}

type IteratorOption func(*IteratorOptions)

func WithMasked() IteratorOption {
	return func(o *IteratorOptions) {
		o.IncludeMasked = true
	}
}

func ApplyIteratorOptions(opts ...IteratorOption) IteratorOptions {
	var o IteratorOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// PartitionRange splits total elements into n contiguous groups of total/n,
// the last absorbing the remainder, and returns the bounds of group i.
// n must already be within [1, max(total, 1)].
func PartitionRange(total, n, i int) (begin, end int) {
	per := total / n
	begin = i * per
	end = begin + per
	if i == n-1 {
		end = total
	}
	return
}

// ClampIterators bounds a requested iterator count to [1, max(total, 1)].
func ClampIterators(n, total int) int {
	if n < 1 || total == 0 {
		return 1
	}
	if n > total {
		return total
	}
	return n
}
