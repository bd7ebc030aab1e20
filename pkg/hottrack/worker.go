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

import "time"

// worker periodically rebuckets every live item by its current
// temperature and, if configured, sweeps the coldest items down to the
// high watermark. It never holds an Index's lock across a nested
// traversal of a child index: it walks a Snapshot guarded by the
// Reclaimer instead of calling Each, so a concurrent RecordAccess never
// blocks behind the aging sweep.
type worker struct {
	root *Root
	quit chan struct{}
	done chan struct{}
}

func startWorker(root *Root, interval time.Duration) *worker {
	w := &worker{
		root: root,
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.loop(interval)
	return w
}

func (w *worker) stop() {
	close(w.quit)
	<-w.done
}

func (w *worker) loop(interval time.Duration) {
	log.Debugf("hottrack: aging worker online\n")
	defer log.Debugf("hottrack: aging worker offline\n")
	defer close(w.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.quit:
			return
		case <-ticker.C:
			w.root.age()
			if next := w.root.updateInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// age runs a high-watermark sweep if configured, then rebuckets every
// live inode and range by its freshly computed temperature. The sweep
// runs first so it evicts by the buckets as they stood at the end of
// the previous pass; the traversal that follows tolerates whatever the
// sweep just removed.
func (r *Root) age() {
	r.highWatermarkSweep()

	now := r.Clock.NowNanos()

	token := r.reclaim.Enter()
	for _, inode := range r.inodes.Snapshot() {
		temp := Temperature(inode.Freq, now)
		r.inodeHeat.Rebucket(inode, temp)

		for _, rg := range inode.ranges.Snapshot() {
			rgTemp := Temperature(rg.Freq, now)
			r.rangeHeat.Rebucket(rg, rgTemp)
		}
	}
	r.reclaim.Leave(token)
}
