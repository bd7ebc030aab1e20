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

package hottrack

import "github.com/pkg/errors"

// ErrOutOfMemory is returned, wrapped, by Slab.AllocZeroed when the
// backing allocator cannot grow. Ingress never returns it: a
// failed allocation in RecordAccess is dropped silently and recording
// resumes on the next call.
var ErrOutOfMemory = errors.New("hottrack: out of memory")

// ErrNotFound is the error value for an absent key. Index lookups do
// not return it: they report an absent key with ok=false.
var ErrNotFound = errors.New("hottrack: not found")

// ErrDisabled is returned by Disable when called on a Root that has
// not been enabled, or that has already been disabled.
var ErrDisabled = errors.New("hottrack: tracking not enabled")

// ErrAlreadyEnabled is returned by Enable when called on a Root that
// is already tracking.
var ErrAlreadyEnabled = errors.New("hottrack: already enabled")
