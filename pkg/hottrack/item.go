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
	"sync/atomic"
)

// refcount is an atomic reference count, embedded in every item kind
// that participates in an Index. The index itself holds one reference
// for as long as the item is linked; find_or_insert/lookup callers hold
// one more each.
type refcount struct {
	n int32
}

func (r *refcount) inc() {
	atomic.AddInt32(&r.n, 1)
}

// dec decrements the count and reports whether it reached zero.
func (r *refcount) dec() bool {
	return atomic.AddInt32(&r.n, -1) == 0
}

func (r *refcount) load() int32 {
	return atomic.LoadInt32(&r.n)
}

// heatNode is the intrusive doubly-linked list link a HeatMap uses to
// keep an item in exactly one bucket. The design is adapted from the
// ring/Metadata split of a CLOCK-Pro style cache: a generic embedded
// link struct carries bucket membership, separated from the item's own
// payload fields, but rendered as a plain (non-circular) list instead
// of a ring since a heat bucket needs O(1) unlink-from-the-middle plus
// FIFO append, not rotation.
type heatNode[T any] struct {
	next, prev *T
	bucket     int
	linked     bool
}

// heatLinked constrains a HeatMap's item type parameter to pointer
// types that expose their embedded heatNode.
type heatLinked[T any] interface {
	*T
	heatLink() *heatNode[T]
}

// InodeItem is the per-file tracking record, one per distinct file_id
// reachable from a Root's inode index.
type InodeItem struct {
	FileID uint64
	Freq   *FreqSample

	root   *Root
	ranges *Index[RangeItem]

	refcount
	link heatNode[InodeItem]
}

func (i *InodeItem) heatLink() *heatNode[InodeItem] { return &i.link }

// RangeItem is one tracked, aligned sub-file byte range belonging to
// an InodeItem.
type RangeItem struct {
	Start uint64
	Len   uint64
	Freq  *FreqSample

	inode *InodeItem

	refcount
	link heatNode[RangeItem]
}

func (r *RangeItem) heatLink() *heatNode[RangeItem] { return &r.link }

// SizeAccount tracks live byte and item counts, split by item kind so
// a telemetry consumer can see which kind dominates memory use. Every
// field is updated with atomic instructions; there is no lock.
type SizeAccount struct {
	inodeBytes uint64
	rangeBytes uint64
	inodeCount uint64
	rangeCount uint64
}

func addUint64(p *uint64, delta int64) {
	if delta >= 0 {
		atomic.AddUint64(p, uint64(delta))
		return
	}
	atomic.AddUint64(p, ^uint64(-delta-1))
}

func (a *SizeAccount) accountInode(deltaBytes, deltaCount int64) {
	addUint64(&a.inodeBytes, deltaBytes)
	addUint64(&a.inodeCount, deltaCount)
}

func (a *SizeAccount) accountRange(deltaBytes, deltaCount int64) {
	addUint64(&a.rangeBytes, deltaBytes)
	addUint64(&a.rangeCount, deltaCount)
}

// Bytes returns the total bytes currently attributed to live items.
func (a *SizeAccount) Bytes() uint64 {
	return atomic.LoadUint64(&a.inodeBytes) + atomic.LoadUint64(&a.rangeBytes)
}

// Count returns the total number of live items.
func (a *SizeAccount) Count() uint64 {
	return atomic.LoadUint64(&a.inodeCount) + atomic.LoadUint64(&a.rangeCount)
}

// InodeBytes returns bytes attributed to live InodeItems only.
func (a *SizeAccount) InodeBytes() uint64 { return atomic.LoadUint64(&a.inodeBytes) }

// RangeBytes returns bytes attributed to live RangeItems only.
func (a *SizeAccount) RangeBytes() uint64 { return atomic.LoadUint64(&a.rangeBytes) }
