// Copyright 2022 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vm

import (
	"github.com/pkg/errors"
)

var (
	// ErrBadAddress is returned for accesses outside any valid region.
	ErrBadAddress = errors.New("bad address")
	// ErrOutOfMemory is returned when no frame or swap slot can be found.
	ErrOutOfMemory = errors.New("out of memory")
	// ErrInvalidFaultKind is returned for unknown fault kinds.
	ErrInvalidFaultKind = errors.New("invalid fault kind")
	// ErrSwapIO is returned when reading or writing swap fails.
	ErrSwapIO = errors.New("swap I/O error")
	// ErrInvalidArgument is returned for malformed requests.
	ErrInvalidArgument = errors.New("invalid argument")
)

// vmError wraps err with a formatted message.
func vmError(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
