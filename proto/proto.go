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

const (
	MinDimensions = 1
	MaxDimensions = 9

	DefaultSplitInto      = 5
	DefaultSplitThreshold = 1000
	DefaultMaxDepth       = 20

	ReqIdKey = "req-id"
)

const (
	LeanEventType = "MDLeanEvent"
	FullEventType = "MDEvent"
)

type (
	// Coord is the coordinate scalar of every stored event.
	Coord = float32
	// BoxID identifies a box within one workspace.
	BoxID = uint64
)

// ValidDimensionality reports whether nd is within [MinDimensions, MaxDimensions].
func ValidDimensionality(nd int) bool {
	return nd >= MinDimensions && nd <= MaxDimensions
}
