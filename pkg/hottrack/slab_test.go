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
	"testing"

	"github.com/stretchr/testify/require"
)

type slabPayload struct {
	A uint64
	B uint64
}

func TestSlabAllocZeroedRecyclesFreedItems(t *testing.T) {
	s := NewSlab[slabPayload]()
	defer s.Close()

	item, err := s.AllocZeroed()
	require.NoError(t, err)
	require.Equal(t, slabPayload{}, *item)

	item.A = 42
	s.Free(item)

	second, err := s.AllocZeroed()
	require.NoError(t, err)
	require.Equal(t, slabPayload{}, *second, "recycled item must come back zeroed")
}

func TestSlabGrowsCapacityAsNeeded(t *testing.T) {
	s := NewSlab[slabPayload]()
	defer s.Close()

	require.Equal(t, uintptr(0), s.CapacityBytes())

	_, err := s.AllocZeroed()
	require.NoError(t, err)
	require.Greater(t, s.CapacityBytes(), uintptr(0))
}

func TestSlabCloseUnmapsArenas(t *testing.T) {
	s := NewSlab[slabPayload]()
	_, err := s.AllocZeroed()
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.Equal(t, uintptr(0), s.CapacityBytes())
}
