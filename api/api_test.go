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
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/mdstore/proto"
)

type infoHolder struct {
	lock  sync.Mutex
	infos []*proto.ExperimentInfo
}

func (h *infoHolder) ExperimentInfos() []*proto.ExperimentInfo {
	h.lock.Lock()
	defer h.lock.Unlock()
	return append([]*proto.ExperimentInfo(nil), h.infos...)
}

func (h *infoHolder) AddExperimentInfo(info *proto.ExperimentInfo) {
	h.lock.Lock()
	h.infos = append(h.infos, info)
	h.lock.Unlock()
}

func TestCopyExperimentInfos(t *testing.T) {
	src := &infoHolder{}
	src.AddExperimentInfo(&proto.ExperimentInfo{RunNumber: 1, Instrument: "SEQ"})
	src.AddExperimentInfo(&proto.ExperimentInfo{RunNumber: 2, Instrument: "SEQ"})

	dst := &infoHolder{}
	CopyExperimentInfos(dst, src)
	require.Len(t, dst.ExperimentInfos(), 2)
	// shallow copy: the same records are shared
	require.Same(t, src.ExperimentInfos()[0], dst.ExperimentInfos()[0])
}

func TestContactString(t *testing.T) {
	require.Equal(t, "not_touching", NotTouching.String())
	require.Equal(t, "touching", Touching.String())
	require.Equal(t, "contained", Contained.String())
	require.Equal(t, "unknown", Contact(9).String())
}

func TestPartition(t *testing.T) {
	require.Equal(t, 1, ClampIterators(0, 10))
	require.Equal(t, 10, ClampIterators(64, 10))
	require.Equal(t, 1, ClampIterators(4, 0))
	require.Equal(t, 3, ClampIterators(3, 10))

	// 10 elements over 3 groups: 3, 3, 4
	var seen []int
	for i := 0; i < 3; i++ {
		b, e := PartitionRange(10, 3, i)
		for j := b; j < e; j++ {
			seen = append(seen, j)
		}
		if i < 2 {
			require.Equal(t, 3, e-b)
		} else {
			require.Equal(t, 4, e-b)
		}
	}
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, seen)

	require.False(t, ApplyIteratorOptions().IncludeMasked)
	require.True(t, ApplyIteratorOptions(WithMasked()).IncludeMasked)
}
