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

package server

import (
	"context"
	"sort"
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"

	"github.com/cubefs/mdstore/mdevents"
	"github.com/cubefs/mdstore/proto"
	"github.com/cubefs/mdstore/storage"
)

type Config struct {
	// EnableFileBack opens Storage and attaches it to every workspace.
	EnableFileBack bool           `json:"enable_file_back"`
	Storage        storage.Config `json:"storage"`
}

// WorkspaceSpec describes a workspace to create.
type WorkspaceSpec struct {
	Name       string                    `json:"name"`
	EventType  string                    `json:"event_type"`
	Dimensions []proto.Dimension         `json:"dimensions"`
	Controller mdevents.ControllerConfig `json:"controller"`
}

// Server owns the workspaces of one process and the storage they share.
type Server struct {
	storage storage.Storage

	lock       sync.RWMutex
	workspaces map[string]*mdevents.MDEventWorkspace
	names      map[string]string
}

func NewServer(ctx context.Context, cfg *Config) (*Server, error) {
	span := trace.SpanFromContextSafe(ctx)
	s := &Server{
		workspaces: make(map[string]*mdevents.MDEventWorkspace),
		names:      make(map[string]string),
	}
	if cfg.EnableFileBack {
		st, err := storage.NewStorage(ctx, &cfg.Storage)
		if err != nil {
			return nil, errors.Info(err, "open paged storage")
		}
		s.storage = st
		span.Infof("paged storage enabled, type: %s, path: %s", cfg.Storage.Type, cfg.Storage.Path)
	}
	return s, nil
}

// CreateWorkspace builds and initializes a workspace from spec and registers it.
func (s *Server) CreateWorkspace(ctx context.Context, spec *WorkspaceSpec) (*mdevents.MDEventWorkspace, error) {
	opts := []mdevents.Option{mdevents.WithControllerConfig(spec.Controller)}
	if s.storage != nil {
		opts = append(opts, mdevents.WithStorage(s.storage))
	}
	ws, err := mdevents.CreateMDEventWorkspace(len(spec.Dimensions), spec.EventType, opts...)
	if err != nil {
		return nil, err
	}
	for _, dim := range spec.Dimensions {
		if err = ws.AddDimension(dim); err != nil {
			ws.Close()
			return nil, err
		}
	}
	if err = ws.Initialize(); err != nil {
		ws.Close()
		return nil, err
	}

	s.lock.Lock()
	s.workspaces[ws.ID()] = ws
	if spec.Name != "" {
		s.names[spec.Name] = ws.ID()
	}
	s.lock.Unlock()
	trace.SpanFromContextSafe(ctx).Infof("workspace %s(%s) created with %d dimensions", spec.Name, ws.ID(), ws.NumDims())
	return ws, nil
}

// Workspace looks a workspace up by id or by name.
func (s *Server) Workspace(key string) (*mdevents.MDEventWorkspace, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if id, ok := s.names[key]; ok {
		key = id
	}
	ws, ok := s.workspaces[key]
	return ws, ok
}

func (s *Server) Workspaces() []*mdevents.MDEventWorkspace {
	s.lock.RLock()
	ret := make([]*mdevents.MDEventWorkspace, 0, len(s.workspaces))
	for _, ws := range s.workspaces {
		ret = append(ret, ws)
	}
	s.lock.RUnlock()
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID() < ret[j].ID() })
	return ret
}

func (s *Server) Storage() storage.Storage {
	return s.storage
}

type Stats struct {
	Workspaces []mdevents.WorkspaceStats `json:"workspaces"`
	Storage    *storage.Stats            `json:"storage,omitempty"`
}

func (s *Server) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	for _, ws := range s.Workspaces() {
		st.Workspaces = append(st.Workspaces, ws.Stats())
	}
	if s.storage != nil {
		storageStats, err := s.storage.Stats(ctx)
		if err != nil {
			return Stats{}, err
		}
		st.Storage = &storageStats
	}
	return st, nil
}

func (s *Server) Close() {
	for _, ws := range s.Workspaces() {
		ws.Close()
	}
	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			trace.SpanFromContextSafe(context.Background()).Warnf("close storage failed: %s", errors.Detail(err))
		}
	}
}
