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

import (
	"sync"
	"unsafe"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// arenaBytes is the size of one slab arena reservation.
const arenaBytes = 1 << 20 // 1 MiB

// Slab is the typed fixed-size allocator the tracking engine treats as
// an external collaborator. It reserves its capacity in arena-sized
// chunks of anonymous mmap'd memory and hands out items against that
// capacity, recycling freed items from a free list before growing.
//
// The items themselves are ordinary Go-managed values: T may embed
// mutexes and pointers, which would not be safe for the garbage
// collector to trace if they lived inside the mmap'd region itself. The
// mmap reservation instead backs a capacity budget, giving the same
// "cheap alloc/free against a fixed-size pool" cost model spec.md
// assumes of the slab/allocator subsystem, and the same munmap-on-
// teardown lifecycle, without aliasing Go heap pointers onto raw pages.
type Slab[T any] struct {
	mu       sync.Mutex
	itemSize uintptr
	arenas   [][]byte
	capacity uintptr
	used     uintptr
	freeList []*T
}

// NewSlab returns an empty Slab for items of type T.
func NewSlab[T any]() *Slab[T] {
	var zero T
	return &Slab[T]{itemSize: unsafe.Sizeof(zero)}
}

// AllocZeroed returns a zeroed *T, growing the slab's backing capacity
// via a new mmap arena if the current one is exhausted and no freed
// item is available to recycle.
func (s *Slab[T]) AllocZeroed() (*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.freeList); n > 0 {
		item := s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
		*item = *new(T)
		return item, nil
	}

	if s.used+s.itemSize > s.capacity {
		if err := s.growLocked(); err != nil {
			return nil, errors.Wrap(ErrOutOfMemory, err.Error())
		}
	}
	s.used += s.itemSize
	return new(T), nil
}

// Free returns item to the slab's free list for reuse. It does not
// shrink the mmap'd capacity; capacity is only released on Close.
func (s *Slab[T]) Free(item *T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used >= s.itemSize {
		s.used -= s.itemSize
	}
	s.freeList = append(s.freeList, item)
}

// growLocked must be called with s.mu held.
func (s *Slab[T]) growLocked() error {
	arena, err := unix.Mmap(-1, 0, arenaBytes, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return errors.Wrap(err, "mmap slab arena")
	}
	s.arenas = append(s.arenas, arena)
	s.capacity += arenaBytes
	return nil
}

// Close releases every mmap'd arena the slab has grown. It is safe to
// call Close with items still outstanding; the Go runtime continues to
// own their memory since Close only affects the capacity budget.
func (s *Slab[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result *multierror.Error
	for _, arena := range s.arenas {
		if err := unix.Munmap(arena); err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.arenas = nil
	s.capacity = 0
	s.used = 0
	s.freeList = nil
	return result.ErrorOrNil()
}

// CapacityBytes reports the slab's current mmap'd capacity in bytes.
func (s *Slab[T]) CapacityBytes() uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}
