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

package algorithms

import (
	"github.com/cubefs/mdstore/api"
	"github.com/cubefs/mdstore/util"
)

type options struct {
	numWorkers        int
	region            api.ImplicitFunction
	skipStorageErrors bool
}

type Option func(*options)

// WithNumWorkers sets the number of parallel iterators, runtime.NumCPU by default.
func WithNumWorkers(n int) Option {
	return func(o *options) {
		o.numWorkers = n
	}
}

// WithRegion restricts the input to boxes and events inside fn.
func WithRegion(fn api.ImplicitFunction) Option {
	return func(o *options) {
		o.region = fn
	}
}

// WithSkipStorageErrors logs and skips boxes that fail to load instead of aborting.
func WithSkipStorageErrors() Option {
	return func(o *options) {
		o.skipStorageErrors = true
	}
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	o.numWorkers = util.NumWorkers(o.numWorkers)
	return o
}
