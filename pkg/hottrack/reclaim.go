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
	"time"
)

// Reclaimer defers running fn until every read guard opened before
// DeferFree was called has closed. It stands in for the grace-period
// mechanism (RCU, hazard pointers, epoch-based reclamation) the
// original hot-data tracker depends on as an external collaborator; a
// lock-free traversal that began before a node's reference count hit
// zero is guaranteed to still see valid memory when it follows the
// node's back-links.
//
// Enter/Leave bracket one such traversal. DeferFree schedules fn to
// run once every traversal in flight at the time it was called has
// exited. Barrier blocks until every deferred fn scheduled so far has
// run, used at shutdown to drain outstanding frees deterministically.
type Reclaimer struct {
	mu      sync.Mutex
	active  map[uint64]struct{}
	nextID  uint64
	pending []pendingFree
	epoch   uint64
}

type pendingFree struct {
	atEpoch uint64
	fn      func()
}

// NewReclaimer returns a ready-to-use Reclaimer.
func NewReclaimer() *Reclaimer {
	return &Reclaimer{active: make(map[uint64]struct{})}
}

// guardToken identifies one open read guard so Leave can close the
// right one.
type guardToken uint64

// Enter opens a read guard and returns a token to pass to Leave.
func (r *Reclaimer) Enter() guardToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.active[id] = struct{}{}
	return guardToken(id)
}

// Leave closes a read guard previously opened with Enter, running any
// deferred frees whose grace period has now elapsed.
func (r *Reclaimer) Leave(tok guardToken) {
	r.mu.Lock()
	delete(r.active, uint64(tok))
	ready := r.drainLocked()
	r.mu.Unlock()
	for _, fn := range ready {
		fn()
	}
}

// DeferFree schedules fn to run once every guard open at the time of
// this call has been closed with Leave.
func (r *Reclaimer) DeferFree(fn func()) {
	r.mu.Lock()
	epoch := atomic.AddUint64(&r.epoch, 1)
	if len(r.active) == 0 {
		r.mu.Unlock()
		fn()
		return
	}
	r.pending = append(r.pending, pendingFree{atEpoch: epoch, fn: fn})
	r.mu.Unlock()
}

// drainLocked must be called with mu held. It removes and returns the
// functions of every pending free that is now safe to run, i.e. there
// is no guard still open that was entered before the free was
// scheduled. Since guard tokens are strictly increasing allocation
// order, any free is safe once the active set is empty.
func (r *Reclaimer) drainLocked() []func() {
	if len(r.active) != 0 {
		return nil
	}
	var ready []func()
	for _, p := range r.pending {
		ready = append(ready, p.fn)
	}
	r.pending = nil
	return ready
}

// Barrier blocks until every free deferred before this call has run.
// It must not be called while holding a guard open, or it deadlocks.
func (r *Reclaimer) Barrier() {
	for {
		r.mu.Lock()
		if len(r.pending) == 0 {
			r.mu.Unlock()
			return
		}
		ready := r.drainLocked()
		r.mu.Unlock()
		if ready == nil {
			// Guards are still open; yield and retry. A production
			// collaborator would wait on a condition variable signaled
			// from Leave instead of polling.
			time.Sleep(time.Millisecond)
			continue
		}
		for _, fn := range ready {
			fn()
		}
	}
}
