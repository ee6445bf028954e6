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
	"context"
	"errors"
	"fmt"

	"github.com/cubefs/mdstore/common/kvstore"
	"github.com/cubefs/mdstore/util/limiter"
)

const (
	FileType = Type("file")
	KVType   = Type("kv")
)

var (
	ErrTypeNotFound    = errors.New("storage type not found")
	ErrInvalidLocation = errors.New("invalid storage location")
	ErrClosed          = errors.New("storage is closed")
)

type (
	Type string

	// Location addresses one saved payload inside a backend.
	Location struct {
		Offset uint64 `json:"offset"`
		Length uint64 `json:"length"`
	}

	// Storage is the paged storage collaborator of file-backed boxes.
	// Buffers returned by Load come from util.GetBuffer and are released by the caller.
	Storage interface {
		Save(ctx context.Context, id uint64, data []byte) (Location, error)
		Load(ctx context.Context, id uint64, loc Location) ([]byte, error)
		Free(ctx context.Context, id uint64, loc Location) error
		Stats(ctx context.Context) (Stats, error)
		// Limiter throttles the IO of the backend and may be tuned at runtime.
		Limiter() limiter.Limiter
		Close() error
	}

	Stats struct {
		Type      Type   `json:"type"`
		Pages     int    `json:"pages"`
		Used      uint64 `json:"used"`
		Free      uint64 `json:"free"`
		Saves     uint64 `json:"saves"`
		Loads     uint64 `json:"loads"`
		FreeSpans int    `json:"free_spans"`
	}

	Config struct {
		Type     Type                `json:"type"`
		Path     string              `json:"path"`
		KVType   kvstore.LsmKVType   `json:"kv_type"`
		KVOption kvstore.Option      `json:"kv_option"`
		Limit    limiter.LimitConfig `json:"limit"`
	}
)

func (l Location) End() uint64 {
	return l.Offset + l.Length
}

func (l Location) String() string {
	return fmt.Sprintf("[%d,+%d)", l.Offset, l.Length)
}

func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	switch cfg.Type {
	case FileType, "":
		return NewFileStorage(ctx, cfg)
	case KVType:
		return NewKVStorage(ctx, cfg)
	default:
		return nil, ErrTypeNotFound
	}
}
