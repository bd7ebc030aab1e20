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

import "context"

// EvictMetric selects which counter evict's budget is denominated in.
type EvictMetric int

const (
	EvictByBytes EvictMetric = iota
	EvictByCount
)

// evict walks the inode heat map from bucket 0 (coldest) upward,
// dropping the index's own reference on every inode whose refcount is
// exactly 1 (only the index holds it), until budget has been reduced
// by at least that much in the chosen metric or every bucket has been
// visited. Dropping an inode's reference cascades, via its Release
// callback, into a teardown of its entire range index, so range items
// are never evicted directly.
//
// It returns the amount actually freed, which can fall short of budget
// if every remaining item is externally referenced.
func (r *Root) evict(budget int64, metric EvictMetric) int64 {
	var freed int64
	ctx := context.Background()

	for b := 0; b < MapSize && budget > 0; b++ {
		if r.inodeHeat.BucketLen(b) == 0 {
			continue
		}

		var victims []uint64
		r.inodeHeat.WalkBucket(b, func(inode *InodeItem) bool {
			if inode.load() == 1 {
				victims = append(victims, inode.FileID)
			}
			return true
		})

		for _, fileID := range victims {
			before := r.snapshotMetric(metric)
			r.inodes.Remove(fileID)
			r.reclaim.Barrier()
			after := r.snapshotMetric(metric)
			delta := before - after
			freed += delta
			budget -= delta
			if delta > 0 && r.metrics != nil {
				r.metrics.addEviction(1)
			}
			if budget <= 0 {
				return freed
			}
		}

		if r.limiter != nil {
			_ = r.limiter.Wait(ctx)
		}
	}
	return freed
}

func (r *Root) snapshotMetric(metric EvictMetric) int64 {
	if metric == EvictByCount {
		return int64(r.account.Count())
	}
	return int64(r.account.Bytes())
}

// highWatermarkSweep runs evict if the configured high watermark is
// set and currently exceeded. Called by the aging worker before each
// rebucketing pass.
func (r *Root) highWatermarkSweep() {
	watermark := r.highWatermarkBytes()
	if watermark <= 0 {
		return
	}
	used := int64(r.account.Bytes())
	if used <= watermark {
		return
	}
	r.evict(used-watermark, EvictByBytes)
}

// Shrinker is the interface a filesystem's memory-pressure reclaim path
// drives: CountObjects reports how many reclaimable items currently
// exist, and ScanObjects attempts to free up to target of them,
// honoring avoidRecursion by declining to do any work that might
// re-enter the filesystem.
type Shrinker interface {
	CountObjects() uint64
	ScanObjects(target uint64, avoidRecursion bool) (freed uint64, stopped bool)
}

// CountObjects implements Shrinker.
func (r *Root) CountObjects() uint64 {
	return r.account.Count()
}

// ScanObjects implements Shrinker. When avoidRecursion is set it
// declines to run at all and reports stopped=true with freed=0, since
// evicting an item can trigger filesystem callbacks (e.g. writeback)
// that the caller has asked us not to re-enter.
func (r *Root) ScanObjects(target uint64, avoidRecursion bool) (freed uint64, stopped bool) {
	if avoidRecursion {
		return 0, true
	}
	if !r.IsEnabled() {
		return 0, false
	}
	n := r.evict(int64(target), EvictByCount)
	if n < 0 {
		n = 0
	}
	return uint64(n), false
}
