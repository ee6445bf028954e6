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

package storage

import (
	"github.com/cubefs/cubefs/util/btree"
)

const freeMapDegree = 16

type span struct {
	offset uint64
	length uint64
}

func (s *span) Less(than btree.Item) bool {
	return s.offset < than.(*span).offset
}

func (s *span) Copy() btree.Item {
	return &span{offset: s.offset, length: s.length}
}

func (s *span) end() uint64 {
	return s.offset + s.length
}

// allocator hands out byte ranges of a flat file. Freed ranges are kept in a
// btree ordered by offset and coalesced with their neighbours; a free range
// reaching the tail shrinks the tail instead. Not safe for concurrent use.
type allocator struct {
	free     *btree.BTree
	tail     uint64
	freeSize uint64
}

func newAllocator(tail uint64) *allocator {
	return &allocator{free: btree.New(freeMapDegree), tail: tail}
}

// alloc returns the first free range able to hold size bytes, else grows the tail.
func (a *allocator) alloc(size uint64) uint64 {
	if size == 0 {
		return a.tail
	}
	var found *span
	a.free.Ascend(func(i btree.Item) bool {
		s := i.(*span)
		if s.length >= size {
			found = s
			return false
		}
		return true
	})
	if found == nil {
		off := a.tail
		a.tail += size
		return off
	}

	a.free.Delete(found)
	a.freeSize -= size
	if found.length > size {
		a.free.ReplaceOrInsert(&span{offset: found.offset + size, length: found.length - size})
	}
	return found.offset
}

func (a *allocator) release(offset, length uint64) {
	if length == 0 {
		return
	}
	s := &span{offset: offset, length: length}

	var prev *span
	a.free.DescendLessOrEqual(s, func(i btree.Item) bool {
		prev = i.(*span)
		return false
	})
	if prev != nil && prev.end() == s.offset {
		a.free.Delete(prev)
		s.offset = prev.offset
		s.length += prev.length
		a.freeSize -= prev.length
	}

	var next *span
	a.free.AscendGreaterOrEqual(&span{offset: s.end()}, func(i btree.Item) bool {
		next = i.(*span)
		return false
	})
	if next != nil && next.offset == s.end() {
		a.free.Delete(next)
		s.length += next.length
		a.freeSize -= next.length
	}

	if s.end() == a.tail {
		a.tail = s.offset
		return
	}
	a.free.ReplaceOrInsert(s)
	a.freeSize += s.length
}

func (a *allocator) spans() int {
	return a.free.Len()
}
