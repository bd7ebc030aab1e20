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

// fakeClock lets a test advance time deterministically instead of
// sleeping in wall time.
type fakeClock struct {
	nanos uint64
}

func (c *fakeClock) NowNanos() uint64        { return atomic.LoadUint64(&c.nanos) }
func (c *fakeClock) advanceMillis(ms uint64) { atomic.AddUint64(&c.nanos, ms*1_000_000) }

// epochNanos starts the fake clock at a wall-clock-scale magnitude
// instead of at 1, so a test's timestamps resemble what systemClock
// actually hands production code.
const epochNanos = uint64(1) << 48

func newTestRoot(t *testing.T) (*Root, *fakeClock) {
	t.Helper()
	clock := &fakeClock{nanos: epochNanos}
	r := NewRoot()
	r.Clock = clock
	require.NoError(t, r.Enable())
	t.Cleanup(func() { _ = r.Disable() })
	return r, clock
}

func itemBucket[T any, P heatLinked[T]](hm *HeatMap[T, P], item *T) int {
	return hm.node(item).bucket
}

func TestRecordAccessColdToHotMigration(t *testing.T) {
	r, clock := newTestRoot(t)

	r.RecordAccess(42, FileKindRegular, 1, 0, 1<<20, false)

	inode, ok := r.inodes.Lookup(42)
	require.True(t, ok)
	defer r.inodes.DropRef(inode)

	rg, ok := inode.ranges.Lookup(0)
	require.True(t, ok)
	defer inode.ranges.DropRef(rg)

	// Freshly created items are seeded into the coldest bucket; only
	// the aging worker moves them based on computed temperature.
	require.Equal(t, 0, itemBucket[InodeItem, *InodeItem](r.inodeHeat, inode))
	require.Equal(t, 0, itemBucket[RangeItem, *RangeItem](r.rangeHeat, rg))

	for i := 0; i < 1000; i++ {
		clock.advanceMillis(1)
		r.RecordAccess(42, FileKindRegular, 1, 0, 1<<20, false)
	}
	r.age()

	require.GreaterOrEqual(t, bucket(Temperature(inode.Freq, clock.NowNanos())), 1)
	require.GreaterOrEqual(t, bucket(Temperature(rg.Freq, clock.NowNanos())), 1)
	require.GreaterOrEqual(t, itemBucket[InodeItem, *InodeItem](r.inodeHeat, inode), 1)
	require.GreaterOrEqual(t, itemBucket[RangeItem, *RangeItem](r.rangeHeat, rg), 1)
}

func TestRecordAccessRangeAlignment(t *testing.T) {
	r, _ := newTestRoot(t)

	r.RecordAccess(7, FileKindRegular, 1, (1<<20)-1, 2, true)

	inode, ok := r.inodes.Lookup(7)
	require.True(t, ok)
	defer r.inodes.DropRef(inode)

	require.Equal(t, 2, inode.ranges.Len())

	first, ok := inode.ranges.Lookup(0)
	require.True(t, ok)
	inode.ranges.DropRef(first)

	second, ok := inode.ranges.Lookup(1 << 20)
	require.True(t, ok)
	inode.ranges.DropRef(second)
}

func TestRecordAccessConcurrentInsertionRace(t *testing.T) {
	r, _ := newTestRoot(t)

	const n = 64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			r.RecordAccess(99, FileKindRegular, 1, 0, 1, false)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, r.inodes.Len())
	inode, ok := r.inodes.Lookup(99)
	require.True(t, ok)
	defer r.inodes.DropRef(inode)

	require.LessOrEqual(t, atomic.LoadUint64(&inode.Freq.NrReads), uint64(n))
	require.GreaterOrEqual(t, atomic.LoadUint64(&inode.Freq.NrReads), uint64(1))

	// Every losing candidate must have been unlinked from the heat map
	// before it was freed back to the slab; only the winner should ever
	// be linked, and only in bucket 0 (it has not been aged yet).
	var linked []uint64
	r.inodeHeat.Walk(func(item *InodeItem) bool {
		linked = append(linked, item.FileID)
		return true
	})
	require.Equal(t, []uint64{99}, linked)
	require.Equal(t, 1, r.inodeHeat.BucketLen(0))
}

func TestScanObjectsUnderPressure(t *testing.T) {
	r, _ := newTestRoot(t)

	const n = 10_000
	for i := uint64(0); i < n; i++ {
		r.RecordAccess(i, FileKindRegular, 1, 0, 1, false)
	}
	require.Equal(t, n, r.inodes.Len())

	freed, stopped := r.ScanObjects(5000, false)
	require.False(t, stopped)
	require.GreaterOrEqual(t, freed, uint64(5000))

	freed2, stopped2 := r.ScanObjects(1, true)
	require.True(t, stopped2)
	require.Equal(t, uint64(0), freed2)
}

func TestOnUnlinkSemantics(t *testing.T) {
	r, _ := newTestRoot(t)

	r.RecordAccess(3, FileKindRegular, 1, 0, 1, false)
	r.RecordAccess(3, FileKindRegular, 1, 1<<20, 1, false)
	r.RecordAccess(3, FileKindRegular, 1, 2<<20, 1, false)
	r.RecordAccess(3, FileKindRegular, 1, 3<<20, 1, false)

	before := r.SizeAccount().Bytes()

	r.OnUnlink(3)
	r.reclaim.Barrier()

	after := r.SizeAccount().Bytes()
	require.Equal(t, before-int64ToUint64(inodeItemBytes+4*rangeItemBytes), after)

	_, ok := r.inodes.Lookup(3)
	require.False(t, ok)
}

func int64ToUint64(n int64) uint64 { return uint64(n) }

func TestDisableIsQuiescent(t *testing.T) {
	clock := &fakeClock{nanos: epochNanos}
	r := NewRoot()
	r.Clock = clock
	require.NoError(t, r.Enable())

	const n = 256
	var wg sync.WaitGroup
	wg.Add(8)
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				r.RecordAccess(uint64(g*n+i), FileKindRegular, 1, 0, 1, i%2 == 0)
			}
		}(g)
	}
	wg.Wait()

	require.NoError(t, r.Disable())
	require.Equal(t, uint64(0), r.SizeAccount().Bytes())
	require.Equal(t, uint64(0), r.SizeAccount().Count())
}
