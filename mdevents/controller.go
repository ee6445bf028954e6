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
	"sync"
	"sync/atomic"

	"github.com/cubefs/cubefs/blobstore/util/taskpool"

	apierrors "github.com/cubefs/mdstore/errors"
	"github.com/cubefs/mdstore/proto"
	"github.com/cubefs/mdstore/storage"
	"github.com/cubefs/mdstore/util"
)

// ControllerConfig tunes how the boxes of one workspace split and spill.
type ControllerConfig struct {
	SplitInto      int    `json:"split_into"`
	SplitThreshold uint64 `json:"split_threshold"`
	MaxDepth       int    `json:"max_depth"`
	// ValidateBounds makes workspace insertion reject events outside the root extent.
	ValidateBounds bool `json:"validate_bounds"`
	NumWorkers     int  `json:"num_workers"`
	// FileBackThreshold is the minimum number of events for a leaf to be saved by FileBack.
	FileBackThreshold uint64 `json:"file_back_threshold"`
}

func (cfg *ControllerConfig) applyDefaults() {
	if cfg.SplitInto <= 1 {
		cfg.SplitInto = proto.DefaultSplitInto
	}
	if cfg.SplitThreshold == 0 {
		cfg.SplitThreshold = proto.DefaultSplitThreshold
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = proto.DefaultMaxDepth
	}
	cfg.NumWorkers = util.NumWorkers(cfg.NumWorkers)
}

// BoxController holds the split policy and shared services of a box tree.
type BoxController struct {
	nd         int
	fullEvents bool
	cfg        ControllerConfig

	splitInto []int
	strides   []int
	numSplit  int

	nextID uint64
	// gridded is set once the first grid box is built; split counts are frozen from then on.
	gridded atomic.Bool

	lock     sync.RWMutex
	storage  storage.Storage
	taskPool taskpool.TaskPool
}

func NewBoxController(nd int, cfg ControllerConfig) (*BoxController, error) {
	if !proto.ValidDimensionality(nd) {
		return nil, apierrors.ErrInvalidDimensionality
	}
	cfg.applyDefaults()
	c := &BoxController{
		nd:       nd,
		cfg:      cfg,
		taskPool: taskpool.New(cfg.NumWorkers, cfg.NumWorkers),
	}
	splitInto := make([]int, nd)
	for d := range splitInto {
		splitInto[d] = cfg.SplitInto
	}
	if err := c.setSplitInto(splitInto); err != nil {
		return nil, err
	}
	return c, nil
}

// SetSplitInto sets a per dimension split count. It fails with
// ErrAlreadyInitialized once any box has split.
func (c *BoxController) SetSplitInto(splitInto []int) error {
	if c.gridded.Load() {
		return fmt.Errorf("%w: split counts are fixed once a box has split", apierrors.ErrAlreadyInitialized)
	}
	return c.setSplitInto(append([]int(nil), splitInto...))
}

func (c *BoxController) setSplitInto(splitInto []int) error {
	if len(splitInto) != c.nd {
		return fmt.Errorf("%w: %d split counts for %d dimensions", apierrors.ErrInvalidArgument, len(splitInto), c.nd)
	}
	strides := make([]int, c.nd)
	n := 1
	for d, k := range splitInto {
		if k < 2 {
			return fmt.Errorf("%w: dimension %d split count %d below 2", apierrors.ErrInvalidArgument, d, k)
		}
		strides[d] = n
		n *= k
	}
	c.splitInto, c.strides, c.numSplit = splitInto, strides, n
	return nil
}

func (c *BoxController) NumDims() int {
	return c.nd
}

func (c *BoxController) SplitInto(d int) int {
	return c.splitInto[d]
}

// NumSplit is the number of children of every grid box.
func (c *BoxController) NumSplit() int {
	return c.numSplit
}

func (c *BoxController) SplitThreshold() uint64 {
	return c.cfg.SplitThreshold
}

func (c *BoxController) MaxDepth() int {
	return c.cfg.MaxDepth
}

func (c *BoxController) ValidateBounds() bool {
	return c.cfg.ValidateBounds
}

func (c *BoxController) NumWorkers() int {
	return c.cfg.NumWorkers
}

func (c *BoxController) Config() ControllerConfig {
	return c.cfg
}

// WillSplit reports whether a leaf at depth holding npoints events is due to split.
func (c *BoxController) WillSplit(npoints uint64, depth int) bool {
	return npoints > c.cfg.SplitThreshold && depth < c.cfg.MaxDepth
}

// checkEventKind rejects lean events in a full event tree and the reverse,
// as pages are encoded with the tree's record layout.
func (c *BoxController) checkEventKind(ev *Event) error {
	if ev.HasProvenance() != c.fullEvents {
		return fmt.Errorf("%w: event kind does not match the workspace event type", apierrors.ErrInvalidArgument)
	}
	return nil
}

func (c *BoxController) nextBoxID() proto.BoxID {
	return atomic.AddUint64(&c.nextID, 1) - 1
}

// MaxID is one past the largest box id handed out so far.
func (c *BoxController) MaxID() proto.BoxID {
	return atomic.LoadUint64(&c.nextID)
}

func (c *BoxController) SetStorage(st storage.Storage) {
	c.lock.Lock()
	c.storage = st
	c.lock.Unlock()
}

func (c *BoxController) Storage() storage.Storage {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.storage
}

func (c *BoxController) IsFileBackEnabled() bool {
	return c.Storage() != nil
}

func (c *BoxController) close() {
	c.taskPool.Close()
}
