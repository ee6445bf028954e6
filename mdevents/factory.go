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

	apierrors "github.com/cubefs/mdstore/errors"
	"github.com/cubefs/mdstore/proto"
	"github.com/cubefs/mdstore/storage"
)

type options struct {
	controller ControllerConfig
	storage    storage.Storage
}

type Option func(*options)

func WithControllerConfig(cfg ControllerConfig) Option {
	return func(o *options) {
		o.controller = cfg
	}
}

// WithStorage enables file backing on the created workspace.
func WithStorage(st storage.Storage) Option {
	return func(o *options) {
		o.storage = st
	}
}

// CreateMDEventWorkspace returns an uninitialized workspace of nd dimensions.
// eventType is proto.LeanEventType (or empty) for signal-only events and
// proto.FullEventType to keep run and detector provenance.
func CreateMDEventWorkspace(nd int, eventType string, opts ...Option) (*MDEventWorkspace, error) {
	if !proto.ValidDimensionality(nd) {
		return nil, fmt.Errorf("%w: got %d", apierrors.ErrInvalidDimensionality, nd)
	}
	switch eventType {
	case "":
		eventType = proto.LeanEventType
	case proto.LeanEventType, proto.FullEventType:
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", apierrors.ErrInvalidArgument, eventType)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	ws, err := newMDEventWorkspace(nd, eventType, o.controller)
	if err != nil {
		return nil, err
	}
	if o.storage != nil {
		ws.controller.SetStorage(o.storage)
	}
	return ws, nil
}
