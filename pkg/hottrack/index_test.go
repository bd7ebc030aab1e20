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
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// toyItem is a minimal stand-in for InodeItem/RangeItem used to
// exercise Index in isolation.
type toyItem struct {
	key uint64
	refcount
	link   heatNode[toyItem]
	allocs *int32
	frees  *int32
}

func (t *toyItem) heatLink() *heatNode[toyItem] { return &t.link }

func newToyOps(allocs, frees, unlinks *int32) ItemOps[toyItem] {
	return ItemOps[toyItem]{
		Alloc: func(key uint64) (*toyItem, error) {
			atomic.AddInt32(allocs, 1)
			item := &toyItem{key: key, allocs: allocs, frees: frees}
			item.refcount.n = 1
			return item, nil
		},
		KeyOf: func(item *toyItem) uint64 { return item.key },
		Inc:   func(item *toyItem) { item.inc() },
		Dec:   func(item *toyItem) bool { return item.dec() },
		UnlinkHeat: func(item *toyItem) {
			if unlinks != nil {
				atomic.AddInt32(unlinks, 1)
			}
		},
		Release: func(item *toyItem) {
			atomic.AddInt32(item.frees, 1)
		},
	}
}

func newToyIndex() (*Index[toyItem], *int32, *int32, *int32) {
	var allocs, frees, unlinks int32
	idx := NewIndex(newToyOps(&allocs, &frees, &unlinks), NewReclaimer(), 64, nil)
	return idx, &allocs, &frees, &unlinks
}

func TestIndexFindOrInsertCreatesOnce(t *testing.T) {
	idx, allocs, _, _ := newToyIndex()

	item1, inserted1, err := idx.FindOrInsert(7)
	require.NoError(t, err)
	require.True(t, inserted1)

	item2, inserted2, err := idx.FindOrInsert(7)
	require.NoError(t, err)
	require.False(t, inserted2)
	require.Same(t, item1, item2)

	require.EqualValues(t, 1, atomic.LoadInt32(allocs))
	require.Equal(t, int32(3), item1.load(), "index ref + two caller refs")
}

func TestIndexLookupMissing(t *testing.T) {
	idx, _, _, _ := newToyIndex()
	_, ok := idx.Lookup(123)
	require.False(t, ok)
}

func TestIndexRemoveIsIdempotent(t *testing.T) {
	idx, _, frees, unlinks := newToyIndex()

	item, _, err := idx.FindOrInsert(1)
	require.NoError(t, err)
	idx.DropRef(item) // drop the caller's own reference, leaving only the index's

	idx.Remove(1)
	require.Equal(t, int32(1), atomic.LoadInt32(frees))
	require.Equal(t, int32(1), atomic.LoadInt32(unlinks))

	idx.Remove(1) // idempotent: already gone
	require.Equal(t, int32(1), atomic.LoadInt32(frees))

	_, ok := idx.Lookup(1)
	require.False(t, ok)
}

func TestIndexDoesNotFreeWhileExternallyReferenced(t *testing.T) {
	idx, _, frees, _ := newToyIndex()

	item, _, err := idx.FindOrInsert(9)
	require.NoError(t, err)

	idx.Remove(9) // drops the index's own reference only
	require.Equal(t, int32(0), atomic.LoadInt32(frees), "external holder still has a reference")

	idx.DropRef(item)
	require.Equal(t, int32(1), atomic.LoadInt32(frees))
}

func TestIndexConcurrentFindOrInsertRace(t *testing.T) {
	idx, allocs, frees, _ := newToyIndex()

	const n = 64
	items := make([]*toyItem, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			item, _, err := idx.FindOrInsert(99)
			require.NoError(t, err)
			items[i] = item
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.Same(t, items[0], items[i], "exactly one item must win the race")
	}
	require.EqualValues(t, 1, atomic.LoadInt32(allocs)-atomic.LoadInt32(frees), "every losing candidate must be released")
}

func TestIndexRemoveAllCascades(t *testing.T) {
	idx, _, frees, _ := newToyIndex()

	for key := uint64(0); key < 5; key++ {
		item, _, err := idx.FindOrInsert(key)
		require.NoError(t, err)
		idx.DropRef(item)
	}
	require.Equal(t, 0, int(atomic.LoadInt32(frees)))

	idx.RemoveAll()
	require.Equal(t, 5, int(atomic.LoadInt32(frees)))
	require.Equal(t, 0, idx.Len())
}

func TestIndexFloorMatchesLargestKeyBelow(t *testing.T) {
	idx, _, _, _ := newToyIndex()
	for _, key := range []uint64{0, 1 << 20, 2 << 20} {
		item, _, err := idx.FindOrInsert(key)
		require.NoError(t, err)
		idx.DropRef(item)
	}

	item, ok := idx.Floor((1 << 20) + 100)
	require.True(t, ok)
	require.Equal(t, uint64(1<<20), item.key)
	idx.DropRef(item)

	_, ok = idx.Floor(5)
	require.True(t, ok, "floor of 5 should match key 0")
}
