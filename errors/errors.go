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

package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrInvalidDimensionality = fmt.Errorf("%w: number of dimensions must be within [1,9]", ErrInvalidArgument)
	ErrConstruction          = errors.New("invalid construction")
	ErrOutOfBounds           = errors.New("coordinates out of box bounds")
	ErrInvalidExtent         = errors.New("invalid extent")

	ErrStorage           = errors.New("paged storage failure")
	ErrStorageNotEnabled = errors.New("paged storage is not configured")

	ErrIteratorExhausted = errors.New("iterator is exhausted")

	ErrNotInitialized     = errors.New("workspace is not initialized")
	ErrAlreadyInitialized = errors.New("workspace is already initialized")
	ErrDimensionNotFound  = errors.New("dimension not found")
)

// StorageError reports a failed load or save of a file-backed box.
type StorageError struct {
	Op    string
	BoxID uint64
	Err   error
}

func NewStorageError(op string, boxID uint64, err error) *StorageError {
	return &StorageError{Op: op, BoxID: boxID, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s box[%d]: %s", e.Op, e.BoxID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}
