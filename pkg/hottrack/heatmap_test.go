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

type heatItem struct {
	id   int
	link heatNode[heatItem]
}

func (h *heatItem) heatLink() *heatNode[heatItem] { return &h.link }

func TestHeatMapRebucketPlacesInCorrectBucket(t *testing.T) {
	hm := NewHeatMap[heatItem, *heatItem]()
	item := &heatItem{id: 1}

	hm.Rebucket(item, 0)
	require.Equal(t, 1, hm.BucketLen(0))

	hm.Rebucket(item, 1<<31) // top bit set -> bucket MapSize/2
	require.Equal(t, 0, hm.BucketLen(0))
	require.Equal(t, 1, hm.BucketLen(MapSize/2))
}

func TestHeatMapRebucketSameBucketIsNoop(t *testing.T) {
	hm := NewHeatMap[heatItem, *heatItem]()
	item := &heatItem{id: 1}

	hm.Rebucket(item, 5)
	hm.Rebucket(item, 5)
	require.Equal(t, 1, hm.BucketLen(bucket(5)))
}

func TestHeatMapFIFOOrderWithinBucket(t *testing.T) {
	hm := NewHeatMap[heatItem, *heatItem]()
	a := &heatItem{id: 1}
	b := &heatItem{id: 2}
	c := &heatItem{id: 3}

	hm.Rebucket(a, 0)
	hm.Rebucket(b, 0)
	hm.Rebucket(c, 0)

	var order []int
	hm.WalkBucket(0, func(item *heatItem) bool {
		order = append(order, item.id)
		return true
	})
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestHeatMapRemoveUnlinksFromMiddle(t *testing.T) {
	hm := NewHeatMap[heatItem, *heatItem]()
	a := &heatItem{id: 1}
	b := &heatItem{id: 2}
	c := &heatItem{id: 3}
	hm.Rebucket(a, 0)
	hm.Rebucket(b, 0)
	hm.Rebucket(c, 0)

	hm.Remove(b)
	require.Equal(t, 2, hm.BucketLen(0))

	var order []int
	hm.WalkBucket(0, func(item *heatItem) bool {
		order = append(order, item.id)
		return true
	})
	require.Equal(t, []int{1, 3}, order)

	hm.Remove(b) // idempotent
	require.Equal(t, 2, hm.BucketLen(0))
}

func TestHeatMapWalkVisitsColdestFirst(t *testing.T) {
	hm := NewHeatMap[heatItem, *heatItem]()
	hot := &heatItem{id: 1}
	cold := &heatItem{id: 2}

	hm.Rebucket(hot, 0xFFFFFFFF)
	hm.Rebucket(cold, 0)

	var order []int
	hm.Walk(func(item *heatItem) bool {
		order = append(order, item.id)
		return true
	})
	require.Equal(t, []int{2, 1}, order)
}

func TestHeatMapWalkStopsEarly(t *testing.T) {
	hm := NewHeatMap[heatItem, *heatItem]()
	for i := 0; i < 5; i++ {
		hm.Rebucket(&heatItem{id: i}, 0)
	}

	count := 0
	hm.Walk(func(item *heatItem) bool {
		count++
		return count < 2
	})
	require.Equal(t, 2, count)
}
