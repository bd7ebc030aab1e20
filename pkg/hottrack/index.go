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

	"github.com/hottier/hotfs/pkg/hottrack/internal/rbtree"
)

// ItemOps supplies an Index with the type-specific behavior it needs
// to manage items without knowing whether it holds InodeItems or
// RangeItems.
type ItemOps[T any] struct {
	// Alloc returns a freshly zeroed item for key with its refcount
	// already at 1, representing the index's own reference. It must
	// not call back into the index; it runs outside Index's lock.
	Alloc func(key uint64) (*T, error)
	// KeyOf returns the key an item was allocated under.
	KeyOf func(item *T) uint64
	// Inc and Dec adjust item's refcount.
	Inc func(item *T)
	Dec func(item *T) bool
	// UnlinkHeat removes item from its heat map. Called synchronously
	// when the refcount reaches zero, before the free is deferred.
	UnlinkHeat func(item *T)
	// Release returns item's memory (and tears down anything it
	// exclusively owns) to the allocator. Called either immediately,
	// for a candidate that lost the find-or-insert race and was never
	// published, or after a grace period, for an item whose refcount
	// reached zero while linked.
	Release func(item *T)
}

// Index is a ref-counted ordered map keyed by a uint64, used for both
// the inode index and each inode's range index.
type Index[T any] struct {
	mu   sync.Mutex
	tree rbtree.Tree[*T]

	ops       ItemOps[T]
	reclaim   *Reclaimer
	itemBytes int64
	onAccount func(deltaBytes, deltaCount int64)
	onRaceLoss func()
}

// NewIndex returns an empty Index. itemBytes is the sizeof used for
// size accounting; onAccount is invoked with +itemBytes/+1 when an
// item is installed and -itemBytes/-1 when one is released.
func NewIndex[T any](ops ItemOps[T], reclaim *Reclaimer, itemBytes int64, onAccount func(deltaBytes, deltaCount int64)) *Index[T] {
	return &Index[T]{ops: ops, reclaim: reclaim, itemBytes: itemBytes, onAccount: onAccount}
}

// OnRaceLoss registers a callback invoked whenever FindOrInsert
// discards a freshly allocated candidate after losing the installation
// race to a concurrent caller. Used for metrics only; nil is fine.
func (idx *Index[T]) OnRaceLoss(f func()) {
	idx.onRaceLoss = f
}

// FindOrInsert returns a counted reference to the item at key,
// allocating and installing one if absent. inserted reports whether a
// new item was installed by this call.
//
// The allocate-outside-the-lock, probe-inside-the-lock pattern means a
// concurrent winner is always possible; the loser's freshly allocated
// candidate is discarded without ever being accounted or published.
func (idx *Index[T]) FindOrInsert(key uint64) (item *T, inserted bool, err error) {
	idx.mu.Lock()
	if n := idx.tree.Find(key); n != nil {
		item = n.Value
		idx.ops.Inc(item)
		idx.mu.Unlock()
		return item, false, nil
	}
	idx.mu.Unlock()

	candidate, err := idx.ops.Alloc(key)
	if err != nil {
		return nil, false, err
	}

	idx.mu.Lock()
	n, won := idx.tree.Insert(key, candidate)
	if !won {
		item = n.Value
		idx.ops.Inc(item)
		idx.mu.Unlock()
		// candidate was never published, but Alloc may already have
		// linked it into a heat map; unlink before it is freed so a
		// later reuse of its memory never leaves a stale neighbor
		// pointing at it.
		idx.ops.UnlinkHeat(candidate)
		idx.ops.Release(candidate)
		if idx.onRaceLoss != nil {
			idx.onRaceLoss()
		}
		return item, false, nil
	}
	// Take the caller's reference before releasing the lock: if we
	// unlocked first, a concurrent Remove(key) could legitimately see
	// the item at refcount 1 (the index's own) and free it before we
	// ever got to claim ours.
	idx.ops.Inc(candidate)
	if idx.onAccount != nil {
		idx.onAccount(idx.itemBytes, 1)
	}
	idx.mu.Unlock()
	return candidate, true, nil
}

// Lookup returns a counted reference to the item at key, or ok=false
// if absent.
func (idx *Index[T]) Lookup(key uint64) (item *T, ok bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	n := idx.tree.Find(key)
	if n == nil {
		return nil, false
	}
	idx.ops.Inc(n.Value)
	return n.Value, true
}

// Remove unlinks the item at key from the index, iff currently linked,
// and drops the index's own reference. It is idempotent: removing an
// absent key is a no-op.
func (idx *Index[T]) Remove(key uint64) {
	idx.mu.Lock()
	n := idx.tree.Find(key)
	if n == nil {
		idx.mu.Unlock()
		return
	}
	item := n.Value
	idx.tree.Remove(n)
	idx.mu.Unlock()
	idx.releaseRef(item)
}

// RemoveAll unlinks and drops the index's reference on every item
// currently in the index. Used to cascade an owner's teardown into its
// child index, e.g. an InodeItem's range index when the inode itself
// is freed.
func (idx *Index[T]) RemoveAll() {
	idx.mu.Lock()
	items := make([]*T, 0, idx.tree.Len())
	for n := idx.tree.First(); n != nil; n = n.Next() {
		items = append(items, n.Value)
	}
	idx.mu.Unlock()
	for _, item := range items {
		idx.Remove(idx.ops.KeyOf(item))
	}
}

// DropRef drops a reference previously obtained from FindOrInsert or
// Lookup. It is the caller's half of the contract: the index's own
// reference is dropped separately, by Remove.
func (idx *Index[T]) DropRef(item *T) {
	idx.releaseRef(item)
}

// releaseRef decrements item's refcount and, if it reached zero, runs
// the synchronous part of reclamation (heat-map unlink, accounting)
// before deferring the actual free past the current grace period.
func (idx *Index[T]) releaseRef(item *T) {
	if !idx.ops.Dec(item) {
		return
	}
	idx.ops.UnlinkHeat(item)
	if idx.onAccount != nil {
		idx.onAccount(-idx.itemBytes, -1)
	}
	idx.reclaim.DeferFree(func() {
		idx.ops.Release(item)
	})
}

// Len returns the number of items currently linked in the index.
func (idx *Index[T]) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.tree.Len()
}

// Floor returns a counted reference to the item with the largest key
// <= key, or ok=false if every key in the index is larger. Used by
// range lookups that may match any offset within a range, not just its
// aligned start.
func (idx *Index[T]) Floor(key uint64) (item *T, ok bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	n := idx.tree.Floor(key)
	if n == nil {
		return nil, false
	}
	idx.ops.Inc(n.Value)
	return n.Value, true
}

// Each calls f for every item currently linked, in key order, while
// holding the index lock for the whole traversal. f must not call back
// into the same Index. Prefer Snapshot for a traversal that must not
// hold the index lock across its own work, such as the aging worker's
// sweep over a per-inode range index.
func (idx *Index[T]) Each(f func(item *T)) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for n := idx.tree.First(); n != nil; n = n.Next() {
		f(n.Value)
	}
}

// Snapshot returns the items currently linked, in key order, copied
// under a brief hold of the index lock. The caller is expected to
// process the result inside a Reclaimer read guard: items may be
// concurrently removed after Snapshot returns, but their memory stays
// valid until the guard is left, so following their back-links remains
// safe.
func (idx *Index[T]) Snapshot() []*T {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	items := make([]*T, 0, idx.tree.Len())
	for n := idx.tree.First(); n != nil; n = n.Next() {
		items = append(items, n.Value)
	}
	return items
}
